package service

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/internal/payment"
)

// settleConfirmedTrades - периодический проход: все сделки с подтверждённым
// платежом доводятся до отпуска средств. Повторный вызов безопасен.
func (s *Service) settleConfirmedTrades(ctx context.Context) {
	trades, err := s.repo.ListTradesByStatus(ctx, models.TradeStatusPaymentConfirmed)
	if err != nil {
		s.logger.Errorf("Failed to list confirmed trades: %v", err)
		return
	}

	for i := range trades {
		trade := &trades[i]

		if trade.PayoutID == nil {
			s.logger.Warnf("Trade %d is payment_confirmed but has no payout", trade.ID)
			continue
		}
		payout, err := s.repo.GetPayoutByID(ctx, *trade.PayoutID)
		if err != nil || payout == nil {
			s.logger.Warnf("Payout %d for trade %d unavailable: %v", *trade.PayoutID, trade.ID, err)
			continue
		}
		receipt, err := s.repo.GetReceiptByPayoutExternalID(ctx, payout.ExternalID)
		if err != nil || receipt == nil {
			s.logger.Warnf("No receipt linked to payout %s for trade %d: %v", payout.ExternalID, trade.ID, err)
			continue
		}

		if err := s.settleTrade(ctx, trade, payout, receipt); err != nil {
			s.logger.Errorf("Settlement failed for trade %d (retry next cycle): %v", trade.ID, err)
		}
	}
}

// settleTrade подтверждает выплату на платёжной платформе, прикладывая чек
// как доказательство, и переводит сделку в release_money. Ответ "уже
// подтверждено" считается успехом, поэтому операцию можно повторять.
func (s *Service) settleTrade(ctx context.Context, trade *models.Trade, payout *models.Payout, receipt *models.Receipt) error {
	key := tradeLockKey(trade.ID)
	if !s.locks.TryAcquire(key) {
		return nil
	}
	defer s.locks.Release(key)

	if receipt.FilePath == "" {
		s.logger.Warnf("Receipt %d has no stored file yet, settlement deferred", receipt.ID)
		return nil
	}
	if _, err := os.Stat(receipt.FilePath); err != nil {
		// файл ещё не на месте - пропускаем цикл, не считая это фатальным
		s.logger.Warnf("Receipt file %s missing, settlement deferred: %v", receipt.FilePath, err)
		return nil
	}

	err := s.payments.ApprovePayout(ctx, payout.ExternalID, receipt.FilePath)
	if errors.Is(err, payment.ErrAlreadyApproved) {
		s.logger.Infof("Payout %s already approved", payout.ExternalID)
		err = nil
	}
	if err != nil {
		// платформа могла подтвердить выплату до сбоя ответа - перепроверяем
		code, statusErr := s.payments.GetPayoutStatus(ctx, payout.ExternalID)
		if statusErr != nil || code < models.PayoutStatusApproved {
			return err
		}
		s.logger.Infof("Payout %s approved despite error response", payout.ExternalID)
	}

	alreadyReleased := trade.Status == models.TradeStatusReleaseMoney

	now := time.Now()
	trade.Status = models.TradeStatusReleaseMoney
	trade.ApprovedAt = &now
	if err := s.repo.UpdateTrade(ctx, trade); err != nil {
		return err
	}
	if err := s.repo.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusApproved); err != nil {
		return err
	}

	if !alreadyReleased {
		// прощальное сообщение - разовый side effect расчёта
		if err := s.sendAndStore(ctx, trade, closingPromoMessage); err != nil {
			s.logger.Warnf("Failed to send closing message for trade %d: %v", trade.ID, err)
		}
		s.notifier.TradeUpdated(trade, "выплата подтверждена, средства отпущены")
	}
	return nil
}
