package service

import (
	"context"
	"strings"
	"time"

	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/utils"
)

const (
	// окно для матчинга по карте/телефону/имени
	matchWindowWide = 24 * time.Hour
	// окно для последнего правила "только сумма и время"
	matchWindowTight = 30 * time.Minute

	// значение, которое парсер подставляет, когда имя не распозналось
	placeholderRecipientName = "Получатель"
)

// linkReceipts - проход движка сопоставления: каждому разобранному чеку
// ищется его выплата. Сбой одного чека не трогает остальные.
func (s *Service) linkReceipts(ctx context.Context) {
	receipts, err := s.repo.ListMatchableReceipts(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list matchable receipts: %v", err)
		return
	}

	for i := range receipts {
		if err := s.matchReceipt(ctx, &receipts[i]); err != nil {
			s.logger.Errorf("Failed to match receipt %d: %v", receipts[i].ID, err)
		}
	}
}

func (s *Service) matchReceipt(ctx context.Context, receipt *models.Receipt) error {
	payout, err := s.findPayoutForReceipt(ctx, receipt)
	if err != nil {
		return err
	}
	if payout == nil {
		s.logger.Debugf("No payout matched receipt %d yet", receipt.ID)
		return nil
	}

	// выплата не должна быть занята другим чеком
	claimed, err := s.repo.GetReceiptByPayoutExternalID(ctx, payout.ExternalID)
	if err != nil {
		return err
	}
	if claimed != nil && claimed.ID != receipt.ID {
		s.logger.Warnf("Payout %s already claimed by receipt %d, skipping receipt %d",
			payout.ExternalID, claimed.ID, receipt.ID)
		return nil
	}

	linked, err := s.repo.LinkReceiptToPayout(ctx, receipt.ID, payout.ExternalID)
	if err != nil {
		return err
	}
	if !linked {
		return nil
	}
	receipt.PayoutID = &payout.ExternalID
	receipt.IsProcessed = true

	s.logger.Infof("Receipt %d linked to payout %s", receipt.ID, payout.ExternalID)
	s.notifier.ReceiptLinked(receipt, payout.ExternalID)

	trade, err := s.repo.GetTradeByPayoutID(ctx, payout.ID)
	if err != nil {
		return err
	}
	if trade == nil {
		s.logger.Warnf("No trade references payout %s, settlement deferred", payout.ExternalID)
		return nil
	}

	if err := s.repo.UpdateTradeStatus(ctx, trade.ID, models.TradeStatusPaymentConfirmed, ""); err != nil {
		return err
	}
	trade.Status = models.TradeStatusPaymentConfirmed

	// прямой вход в расчёт, не дожидаясь следующего периодического прохода
	if err := s.settleTrade(ctx, trade, payout, receipt); err != nil {
		s.logger.Errorf("Settlement after match failed for trade %d (retry next cycle): %v", trade.ID, err)
	}

	// чек подтверждён - объявление своё отработало
	s.retireAdvertisement(ctx, trade)
	return nil
}

// findPayoutForReceipt перебирает правила в порядке убывания строгости;
// первое непустое совпадение побеждает.
func (s *Service) findPayoutForReceipt(ctx context.Context, receipt *models.Receipt) (*models.Payout, error) {
	amount := *receipt.Amount
	at := receipt.MatchTime()

	candidates, err := s.repo.ListPendingPayoutsByAmountRUB(ctx, amount, at.Add(-matchWindowWide), at.Add(matchWindowWide))
	if err != nil {
		return nil, err
	}

	if payout := matchByCard(candidates, receipt.CardFragment); payout != nil {
		return payout, nil
	}
	if payout := matchByPhone(candidates, receipt.Phone); payout != nil {
		return payout, nil
	}
	if payout := matchByName(candidates, receipt.CounterpartName); payout != nil {
		return payout, nil
	}
	return s.matchByAmountAndTime(ctx, amount, at)
}

func matchByCard(candidates []models.Payout, maskedCard string) *models.Payout {
	if maskedCard == "" {
		return nil
	}
	prefix, suffix := utils.CardFragments(maskedCard)
	if prefix == "" && suffix == "" {
		return nil
	}

	for i := range candidates {
		wallet := utils.DigitsOnly(candidates[i].Wallet)
		if wallet == "" {
			continue
		}
		if prefix != "" && !strings.HasPrefix(wallet, prefix) {
			continue
		}
		if suffix != "" && !strings.HasSuffix(wallet, suffix) {
			continue
		}
		return &candidates[i]
	}
	return nil
}

func matchByPhone(candidates []models.Payout, phone string) *models.Payout {
	normalized := utils.NormalizePhone(phone)
	if normalized == "" {
		return nil
	}

	for i := range candidates {
		if strings.Contains(utils.DigitsOnly(candidates[i].Wallet), normalized) {
			return &candidates[i]
		}
	}
	return nil
}

func matchByName(candidates []models.Payout, name string) *models.Payout {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, placeholderRecipientName) {
		return nil
	}
	lowered := strings.ToLower(name)

	for i := range candidates {
		p := &candidates[i]
		if strings.Contains(strings.ToLower(p.RecipientName), lowered) ||
			strings.Contains(strings.ToLower(p.Wallet), lowered) ||
			strings.Contains(strings.ToLower(p.Metadata), lowered) {
			return p
		}
	}
	return nil
}

// matchByAmountAndTime - самое слабое правило: совпадение суммы в узком
// временном окне. Заведомо приблизительное (две выплаты на одну сумму в окне
// различить нельзя); выплаты, уже занятые другим чеком, отбрасываются.
func (s *Service) matchByAmountAndTime(ctx context.Context, amount float64, at time.Time) (*models.Payout, error) {
	candidates, err := s.repo.ListPendingPayoutsByAmountRUB(ctx, amount, at.Add(-matchWindowTight), at.Add(matchWindowTight))
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		claimed, err := s.repo.GetReceiptByPayoutExternalID(ctx, candidates[i].ExternalID)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			continue
		}
		return &candidates[i], nil
	}
	return nil, nil
}

// retireAdvertisement снимает объявление сделки с маркетплейса и гасит его
// локально. Повторные вызовы безопасны.
func (s *Service) retireAdvertisement(ctx context.Context, trade *models.Trade) {
	ad, err := s.repo.GetAdvertisementByID(ctx, trade.AdvertisementID)
	if err != nil {
		s.logger.Errorf("Failed to get advertisement for trade %d: %v", trade.ID, err)
		return
	}
	if ad == nil {
		s.logger.Warnf("Trade %d has no advertisement record", trade.ID)
		return
	}

	if ad.IsActive {
		market, err := s.marketFor(trade)
		if err != nil {
			s.logger.Errorf("Retire advertisement for trade %d: %v", trade.ID, err)
		} else if err := market.CancelAdvertisement(ctx, ad.ExternalID); err != nil {
			s.logger.Warnf("Failed to cancel listing %s on marketplace: %v", ad.ExternalID, err)
		}
	}

	if err := s.repo.DeactivateAdvertisement(ctx, ad.ID); err != nil {
		s.logger.Errorf("Failed to deactivate advertisement %d: %v", ad.ID, err)
	}
}
