package service

import (
	"context"

	"github.com/Fi44er/p2p_desk/internal/models"
)

// RunInboxPoller забирает банковские письма и заводит чеки.
func (s *Service) RunInboxPoller(ctx context.Context) {
	s.runEvery(ctx, "inbox poller", s.config.InboxPollInterval(), s.inboxCycle)
}

// RunParseSweep прогоняет нераспознанные чеки через парсер.
func (s *Service) RunParseSweep(ctx context.Context) {
	s.runEvery(ctx, "parse sweep", s.config.ParsePollInterval(), s.parseCycle)
}

// RunReceiptLinker сопоставляет чеки с выплатами и доводит подтверждённые
// сделки до расчёта.
func (s *Service) RunReceiptLinker(ctx context.Context) {
	s.runEvery(ctx, "receipt linker", s.config.LinkPollInterval(), func(ctx context.Context) {
		s.linkReceipts(ctx)
		s.settleConfirmedTrades(ctx)
	})
}

// RunPayoutRefresh синхронизирует локальную таблицу выплат с платформой.
func (s *Service) RunPayoutRefresh(ctx context.Context) {
	s.runEvery(ctx, "payout refresh", s.config.PayoutPollInterval(), s.payoutCycle)
}

// RunCancelledSweep - административная уборка: у отменённых и отбитых сделок
// не должно оставаться активных объявлений.
func (s *Service) RunCancelledSweep(ctx context.Context) {
	s.runEvery(ctx, "cancelled sweep", s.config.SweepPollInterval(), s.sweepCycle)
}

// inboxCycle заводит чек на каждое новое письмо с вложением.
// Ключ дедупликации - id письма у провайдера.
func (s *Service) inboxCycle(ctx context.Context) {
	messages, err := s.inbox.ListMessages(ctx, s.config.InboxSender)
	if err != nil {
		s.logger.Errorf("Failed to list inbox messages: %v", err)
		return
	}

	for _, msg := range messages {
		if !msg.HasAttachment {
			continue
		}

		existing, err := s.repo.GetReceiptByExternalID(ctx, msg.ID)
		if err != nil {
			s.logger.Errorf("Failed to check receipt for message %s: %v", msg.ID, err)
			continue
		}
		if existing != nil {
			continue
		}

		path, err := s.inbox.DownloadAttachment(ctx, msg.ID, s.config.ReceiptDir)
		if err != nil {
			s.logger.Errorf("Failed to download attachment for message %s: %v", msg.ID, err)
			continue
		}

		receipt := &models.Receipt{ExternalID: msg.ID, FilePath: path}
		if err := s.repo.CreateReceipt(ctx, receipt); err != nil {
			s.logger.Errorf("Failed to create receipt for message %s: %v", msg.ID, err)
			continue
		}
		s.logger.Infof("Receipt %d ingested from message %s", receipt.ID, msg.ID)
	}
}

// parseCycle отправляет файлы чеков парсеру. Ошибка разбора помечает чек
// и выводит его из автоматической обработки до ручного сброса.
func (s *Service) parseCycle(ctx context.Context) {
	receipts, err := s.repo.ListUnparsedReceipts(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list unparsed receipts: %v", err)
		return
	}

	for i := range receipts {
		receipt := &receipts[i]

		parsed, err := s.parser.Parse(ctx, receipt.FilePath)
		if err != nil {
			s.logger.Warnf("Failed to parse receipt %d: %v", receipt.ID, err)
			if dbErr := s.repo.SetReceiptParseError(ctx, receipt.ID, err.Error()); dbErr != nil {
				s.logger.Errorf("Failed to flag receipt %d: %v", receipt.ID, dbErr)
			}
			continue
		}

		receipt.Amount = parsed.Amount
		receipt.CounterpartName = parsed.CounterpartName
		receipt.Phone = parsed.Phone
		receipt.CardFragment = parsed.Card
		receipt.BankName = parsed.BankName
		receipt.PaidAt = parsed.PaidAt
		receipt.RawText = parsed.RawText
		receipt.IsParsed = true

		if err := s.repo.UpdateReceipt(ctx, receipt); err != nil {
			s.logger.Errorf("Failed to save parsed receipt %d: %v", receipt.ID, err)
		}
	}
}

// payoutCycle идемпотентно подтягивает ожидающие выплаты с платформы,
// чтобы движку сопоставления было с чем работать.
func (s *Service) payoutCycle(ctx context.Context) {
	payouts, err := s.payments.ListPendingPayouts(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list pending payouts: %v", err)
		return
	}

	for _, p := range payouts {
		record := &models.Payout{
			ExternalID:    p.ID,
			Wallet:        p.Wallet,
			RecipientName: p.RecipientName,
			BankName:      p.BankName,
			Metadata:      p.Metadata,
			Amount:        p.Amount,
			Currency:      p.Currency,
			AmountRUB:     p.AmountRUB,
			StatusCode:    p.StatusCode,
		}
		record.CreatedAt = p.CreatedAt

		if err := s.repo.CreateOrUpdatePayout(ctx, record); err != nil {
			s.logger.Errorf("Failed to upsert payout %s: %v", p.ID, err)
		}
	}
}

// sweepCycle добирает разбор за отменёнными сделками: освобождает активы и
// гасит объявления, если это не удалось сделать сразу.
func (s *Service) sweepCycle(ctx context.Context) {
	statuses := []string{
		models.TradeStatusCancelled,
		models.TradeStatusCancelledByCounterparty,
		models.TradeStatusStupid,
	}

	for _, status := range statuses {
		trades, err := s.repo.ListTradesByStatus(ctx, status)
		if err != nil {
			s.logger.Errorf("Failed to list %s trades: %v", status, err)
			continue
		}

		for i := range trades {
			trade := &trades[i]

			ad, err := s.repo.GetAdvertisementByID(ctx, trade.AdvertisementID)
			if err != nil {
				s.logger.Errorf("Sweep: failed to get advertisement for trade %d: %v", trade.ID, err)
				continue
			}
			if ad == nil || !ad.IsActive {
				continue
			}
			s.teardownListing(ctx, trade)
		}
	}
}
