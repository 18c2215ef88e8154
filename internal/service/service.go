package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Fi44er/p2p_desk/config"
	"github.com/Fi44er/p2p_desk/internal/inbox"
	"github.com/Fi44er/p2p_desk/internal/marketplace"
	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/internal/parser"
	"github.com/Fi44er/p2p_desk/internal/payment"
	"github.com/Fi44er/p2p_desk/utils"
)

type Repository interface {
	MaterializeTrade(ctx context.Context, trade *models.Trade, advertisementID uint) error
	UpdateTrade(ctx context.Context, trade *models.Trade) error
	GetTradeByID(ctx context.Context, id uint) (*models.Trade, error)
	GetTradeByExternalOrderID(ctx context.Context, orderID string) (*models.Trade, error)
	GetTradeByPayoutID(ctx context.Context, payoutID uint) (*models.Trade, error)
	ListOpenTradesWithOrders(ctx context.Context, accountName string) ([]models.Trade, error)
	ListTradesByStatus(ctx context.Context, status string) ([]models.Trade, error)
	UpdateTradeStatus(ctx context.Context, id uint, status, reason string) error
	AdvanceChatStep(ctx context.Context, id uint, from, to int) (bool, error)

	GetAdvertisementByID(ctx context.Context, id uint) (*models.Advertisement, error)
	GetAdvertisementByExternalID(ctx context.Context, externalID string) (*models.Advertisement, error)
	DeactivateAdvertisement(ctx context.Context, id uint) error

	GetPayoutByID(ctx context.Context, id uint) (*models.Payout, error)
	CreateOrUpdatePayout(ctx context.Context, payout *models.Payout) error
	ListPendingPayoutsByAmountRUB(ctx context.Context, amount float64, from, to time.Time) ([]models.Payout, error)
	UpdatePayoutStatus(ctx context.Context, id uint, statusCode int) error

	GetReceiptByExternalID(ctx context.Context, externalID string) (*models.Receipt, error)
	CreateReceipt(ctx context.Context, receipt *models.Receipt) error
	UpdateReceipt(ctx context.Context, receipt *models.Receipt) error
	ListUnparsedReceipts(ctx context.Context) ([]models.Receipt, error)
	ListMatchableReceipts(ctx context.Context) ([]models.Receipt, error)
	LinkReceiptToPayout(ctx context.Context, receiptID uint, payoutExternalID string) (bool, error)
	GetReceiptByPayoutExternalID(ctx context.Context, payoutExternalID string) (*models.Receipt, error)
	SetReceiptParseError(ctx context.Context, id uint, message string) error

	ChatMessageExists(ctx context.Context, externalID string) (bool, error)
	CreateChatMessage(ctx context.Context, message *models.ChatMessage) error
	ListUnprocessedMessages(ctx context.Context, tradeID uint) ([]models.ChatMessage, error)
	MarkMessageProcessed(ctx context.Context, id uint) error
	HasOwnMessage(ctx context.Context, tradeID uint) (bool, error)
	HasOwnMessageContaining(ctx context.Context, tradeID uint, marker string) (bool, error)
}

// Marketplace - API маркетплейса от имени одного аккаунта.
type Marketplace interface {
	AccountName() string
	GetOrder(ctx context.Context, orderID string) (*marketplace.Order, error)
	ListActiveOrders(ctx context.Context) ([]marketplace.Order, error)
	ListChatMessages(ctx context.Context, orderID string) ([]marketplace.ChatMessage, error)
	SendChatMessage(ctx context.Context, orderID, text string) error
	CancelAdvertisement(ctx context.Context, listingID string) error
	ReleaseOrderAssets(ctx context.Context, orderID string) error
}

type InboxProvider interface {
	ListMessages(ctx context.Context, sender string) ([]inbox.Message, error)
	DownloadAttachment(ctx context.Context, messageID, destDir string) (string, error)
}

type PaymentPlatform interface {
	ListPendingPayouts(ctx context.Context) ([]payment.Payout, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (int, error)
	ApprovePayout(ctx context.Context, payoutID, receiptPath string) error
}

type Notifier interface {
	TradeUpdated(trade *models.Trade, event string)
	ReceiptLinked(receipt *models.Receipt, payoutExternalID string)
	Error(operation string, err error)
}

type RateSource interface {
	RateRUB(ctx context.Context) float64
}

type MailboxAllocator interface {
	Allocate(tradeID uint) string
	Remember(tradeID uint, address string)
}

type Service struct {
	repo      Repository
	markets   map[string]Marketplace
	inbox     InboxProvider
	parser    parser.Parser
	payments  PaymentPlatform
	rates     RateSource
	mailboxes MailboxAllocator
	notifier  Notifier
	config    *config.Config
	logger    *utils.Logger

	locks *lockTable

	pollerMu    sync.Mutex
	chatPollers map[string]struct{}
}

func NewService(
	repo Repository,
	markets map[string]Marketplace,
	inboxProvider InboxProvider,
	receiptParser parser.Parser,
	payments PaymentPlatform,
	rates RateSource,
	mailboxes MailboxAllocator,
	notifier Notifier,
	cfg *config.Config,
	logger *utils.Logger,
) *Service {
	return &Service{
		repo:        repo,
		markets:     markets,
		inbox:       inboxProvider,
		parser:      receiptParser,
		payments:    payments,
		rates:       rates,
		mailboxes:   mailboxes,
		notifier:    notifier,
		config:      cfg,
		logger:      logger,
		locks:       newLockTable(),
		chatPollers: make(map[string]struct{}),
	}
}

func (s *Service) accountNames() []string {
	names := make([]string, 0, len(s.markets))
	for name := range s.markets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) marketFor(trade *models.Trade) (Marketplace, error) {
	market, ok := s.markets[trade.AccountName]
	if !ok {
		return nil, fmt.Errorf("no marketplace client for account %q", trade.AccountName)
	}
	return market, nil
}

// runEvery - общий каркас периодической задачи: немедленный первый проход,
// затем тики; паника одного прохода не роняет процесс.
func (s *Service) runEvery(ctx context.Context, name string, interval time.Duration, cycle func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infof("%s started, interval %s", name, interval)

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorf("panic in %s: %v", name, r)
				s.notifier.Error(name, fmt.Errorf("panic: %v", r))
			}
		}()
		cycle(ctx)
	}

	run()
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("%s stopped", name)
			return
		case <-ticker.C:
			run()
		}
	}
}
