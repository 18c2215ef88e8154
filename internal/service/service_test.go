package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Fi44er/p2p_desk/config"
	"github.com/Fi44er/p2p_desk/internal/inbox"
	"github.com/Fi44er/p2p_desk/internal/mailbox"
	"github.com/Fi44er/p2p_desk/internal/marketplace"
	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/internal/parser"
	"github.com/Fi44er/p2p_desk/internal/payment"
	"github.com/Fi44er/p2p_desk/internal/repository"
	"github.com/Fi44er/p2p_desk/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const testAccount = "main"

type testEnv struct {
	svc      *Service
	repo     *repository.Repository
	db       *gorm.DB
	market   *fakeMarket
	inbox    *fakeInbox
	parser   *fakeParser
	payments *fakePayments
	notifier *fakeNotifier
	cfg      *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	// одна :memory: база на все соединения пула
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gormDB.AutoMigrate(
		&models.Advertisement{},
		&models.Payout{},
		&models.Trade{},
		&models.Receipt{},
		&models.ChatMessage{},
		&models.ExchangeRate{},
	))

	logger := utils.InitLogger()
	repo := repository.NewRepository(gormDB, logger)

	cfg := &config.Config{
		OrdersPollSeconds:  25,
		ChatPollMillis:     600000, // тики чат-поллера не должны срабатывать в тестах
		InboxPollSeconds:   30,
		ParsePollSeconds:   20,
		LinkPollSeconds:    20,
		PayoutPollSeconds:  60,
		SweepPollSeconds:   300,
		HTTPTimeoutSeconds: 5,
		InboxSender:        "noreply@bank.example",
		ReceiptDir:         t.TempDir(),
		RateCurrency:       "RUB",
		FallbackRate:       90,
	}

	market := newFakeMarket(testAccount)
	inboxClient := &fakeInbox{files: make(map[string][]byte)}
	receiptParser := &fakeParser{results: make(map[string]*parser.ParsedReceipt)}
	payments := newFakePayments()
	notifier := &fakeNotifier{}

	svc := NewService(
		repo,
		map[string]Marketplace{testAccount: market},
		inboxClient,
		receiptParser,
		payments,
		&fakeRates{rate: 95},
		mailbox.NewAllocator([]string{"checks1@desk.example", "checks2@desk.example"}),
		notifier,
		cfg,
		logger,
	)

	return &testEnv{
		svc:      svc,
		repo:     repo,
		db:       gormDB,
		market:   market,
		inbox:    inboxClient,
		parser:   receiptParser,
		payments: payments,
		notifier: notifier,
		cfg:      cfg,
	}
}

// --- фикстуры ---

func (e *testEnv) createAdvertisement(t *testing.T, externalID string, payoutID *uint) *models.Advertisement {
	t.Helper()
	ad := &models.Advertisement{
		ExternalID:  externalID,
		AccountName: testAccount,
		PayoutID:    payoutID,
		Amount:      100,
		Price:       95,
		IsActive:    true,
	}
	require.NoError(t, e.db.Create(ad).Error)
	return ad
}

func (e *testEnv) createPayout(t *testing.T, externalID, wallet string, amountRUB float64) *models.Payout {
	t.Helper()
	payout := &models.Payout{
		ExternalID:    externalID,
		Wallet:        wallet,
		RecipientName: "Иван Петров",
		BankName:      "Т-Банк",
		AmountRUB:     amountRUB,
		Amount:        amountRUB / 95,
		Currency:      "USDT",
		StatusCode:    models.PayoutStatusPending,
	}
	require.NoError(t, e.db.Create(payout).Error)
	return payout
}

func (e *testEnv) createTrade(t *testing.T, orderID string, ad *models.Advertisement, payoutID *uint) *models.Trade {
	t.Helper()
	trade := &models.Trade{
		ExternalOrderID: &orderID,
		AccountName:     testAccount,
		AdvertisementID: ad.ID,
		PayoutID:        payoutID,
		Amount:          100,
		Status:          models.TradeStatusPending,
	}
	require.NoError(t, e.db.Create(trade).Error)
	return trade
}

func (e *testEnv) createReceipt(t *testing.T, externalID string, amount float64, mutate func(*models.Receipt)) *models.Receipt {
	t.Helper()
	receipt := &models.Receipt{
		ExternalID: externalID,
		IsParsed:   true,
		Amount:     &amount,
	}
	if mutate != nil {
		mutate(receipt)
	}
	require.NoError(t, e.db.Create(receipt).Error)
	return receipt
}

func (e *testEnv) addCounterpartyMessage(t *testing.T, tradeID uint, externalID, text string) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.ChatMessage{
		TradeID:    tradeID,
		ExternalID: externalID,
		Sender:     models.SenderCounterparty,
		Content:    text,
	}).Error)
}

func (e *testEnv) reloadTrade(t *testing.T, id uint) *models.Trade {
	t.Helper()
	trade, err := e.repo.GetTradeByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, trade)
	return trade
}

func (e *testEnv) receiptFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.cfg.ReceiptDir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))
	return path
}

// --- фейки внешних систем ---

type fakeMarket struct {
	mu sync.Mutex

	name    string
	orders  map[string]marketplace.Order
	active  []marketplace.Order
	chat    map[string][]marketplace.ChatMessage
	missing map[string]bool

	outbound          map[string][]string
	cancelledListings []string
	releasedOrders    []string
}

func newFakeMarket(name string) *fakeMarket {
	return &fakeMarket{
		name:     name,
		orders:   make(map[string]marketplace.Order),
		chat:     make(map[string][]marketplace.ChatMessage),
		missing:  make(map[string]bool),
		outbound: make(map[string][]string),
	}
}

func (m *fakeMarket) AccountName() string { return m.name }

func (m *fakeMarket) GetOrder(_ context.Context, orderID string) (*marketplace.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[orderID] {
		return nil, marketplace.ErrOrderNotFound
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, marketplace.ErrOrderNotFound
	}
	return &order, nil
}

func (m *fakeMarket) ListActiveOrders(_ context.Context) ([]marketplace.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]marketplace.Order(nil), m.active...), nil
}

func (m *fakeMarket) ListChatMessages(_ context.Context, orderID string) ([]marketplace.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]marketplace.ChatMessage(nil), m.chat[orderID]...), nil
}

func (m *fakeMarket) SendChatMessage(_ context.Context, orderID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound[orderID] = append(m.outbound[orderID], text)
	return nil
}

func (m *fakeMarket) CancelAdvertisement(_ context.Context, listingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledListings = append(m.cancelledListings, listingID)
	return nil
}

func (m *fakeMarket) ReleaseOrderAssets(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releasedOrders = append(m.releasedOrders, orderID)
	return nil
}

func (m *fakeMarket) outboundCount(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound[orderID])
}

func (m *fakeMarket) outboundContaining(orderID, substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, text := range m.outbound[orderID] {
		if strings.Contains(text, substr) {
			count++
		}
	}
	return count
}

func (m *fakeMarket) addActiveOrder(order marketplace.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	m.active = append(m.active, order)
}

func (m *fakeMarket) addChatMessage(orderID string, msg marketplace.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat[orderID] = append(m.chat[orderID], msg)
}

type fakeInbox struct {
	mu       sync.Mutex
	messages []inbox.Message
	files    map[string][]byte
}

func (f *fakeInbox) ListMessages(_ context.Context, _ string) ([]inbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inbox.Message(nil), f.messages...), nil
}

func (f *fakeInbox) DownloadAttachment(_ context.Context, messageID, destDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[messageID]
	if !ok {
		return "", fmt.Errorf("no attachment for message %s", messageID)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(destDir, messageID+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeParser struct {
	mu      sync.Mutex
	results map[string]*parser.ParsedReceipt
	err     error
	calls   int
}

func (f *fakeParser) Parse(_ context.Context, filePath string) (*parser.ParsedReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	parsed, ok := f.results[filePath]
	if !ok {
		return nil, fmt.Errorf("no parse result for %s", filePath)
	}
	return parsed, nil
}

type fakePayments struct {
	mu sync.Mutex

	pending      []payment.Payout
	approveCalls int
	approveErr   error
	approved     map[string]bool
	statuses     map[string]int
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		approved: make(map[string]bool),
		statuses: make(map[string]int),
	}
}

func (f *fakePayments) ListPendingPayouts(_ context.Context) ([]payment.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payment.Payout(nil), f.pending...), nil
}

func (f *fakePayments) GetPayoutStatus(_ context.Context, payoutID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code, ok := f.statuses[payoutID]; ok {
		return code, nil
	}
	return models.PayoutStatusPending, nil
}

func (f *fakePayments) ApprovePayout(_ context.Context, payoutID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approveCalls++
	if f.approved[payoutID] {
		return payment.ErrAlreadyApproved
	}
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approved[payoutID] = true
	f.statuses[payoutID] = models.PayoutStatusApproved
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) TradeUpdated(trade *models.Trade, event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("trade %d: %s", trade.ID, event))
}

func (f *fakeNotifier) ReceiptLinked(receipt *models.Receipt, payoutExternalID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("receipt %d -> %s", receipt.ID, payoutExternalID))
}

func (f *fakeNotifier) Error(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("error %s: %v", operation, err))
}

type fakeRates struct {
	rate float64
}

func (f *fakeRates) RateRUB(_ context.Context) float64 { return f.rate }

func timePtr(t time.Time) *time.Time { return &t }
