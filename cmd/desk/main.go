package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fi44er/p2p_desk/config"
	"github.com/Fi44er/p2p_desk/db"
	"github.com/Fi44er/p2p_desk/internal/inbox"
	"github.com/Fi44er/p2p_desk/internal/mailbox"
	"github.com/Fi44er/p2p_desk/internal/marketplace"
	"github.com/Fi44er/p2p_desk/internal/notify"
	"github.com/Fi44er/p2p_desk/internal/parser"
	"github.com/Fi44er/p2p_desk/internal/payment"
	"github.com/Fi44er/p2p_desk/internal/rates"
	"github.com/Fi44er/p2p_desk/internal/repository"
	"github.com/Fi44er/p2p_desk/internal/service"
	"github.com/Fi44er/p2p_desk/utils"
)

func main() {
	logger := utils.InitLogger()
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}

	database, err := db.ConnectDb(cfg.DB_URL, logger)
	if err != nil {
		logger.Fatal(err)
	}

	if err := db.Migrate(database, true, logger); err != nil {
		logger.Fatal(err)
	}

	repo := repository.NewRepository(database, logger)

	markets := make(map[string]service.Marketplace)
	for _, account := range cfg.Accounts() {
		markets[account.Name] = marketplace.NewClient(
			cfg.MarketplaceBaseURL,
			account.Name,
			account.APIKey,
			account.APISecret,
			cfg.HTTPTimeout(),
			logger,
		)
	}
	logger.Infof("Marketplace accounts configured: %d", len(markets))

	inboxClient := inbox.NewClient(cfg.InboxBaseURL, cfg.InboxToken, cfg.HTTPTimeout(), logger)
	receiptParser := parser.NewHTTPParser(cfg.ParserBaseURL, cfg.HTTPTimeout(), logger)
	paymentClient := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentToken, cfg.HTTPTimeout(), logger)
	rateManager := rates.NewManager(repo, cfg.RateCurrency, cfg.FallbackRate, logger)
	allocator := mailbox.NewAllocator(cfg.ReceiptInboxList())
	notifier := notify.NewNotifier(cfg.TelegramBotToken, cfg.OperatorChatID, logger)

	desk := service.NewService(
		repo,
		markets,
		inboxClient,
		receiptParser,
		paymentClient,
		rateManager,
		allocator,
		notifier,
		&cfg,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go desk.RunOrderMonitor(ctx)
	go desk.RunInboxPoller(ctx)
	go desk.RunParseSweep(ctx)
	go desk.RunReceiptLinker(ctx)
	go desk.RunPayoutRefresh(ctx)
	go desk.RunCancelledSweep(ctx)

	logger.Info("🚀 p2p_desk started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("Shutdown signal received: %s", sig.String())

	cancel()
	logger.Info("p2p_desk stopped")
}
