package service

import (
	"context"
	"errors"
	"time"

	"github.com/Fi44er/p2p_desk/internal/marketplace"
	"github.com/Fi44er/p2p_desk/internal/models"
)

// RunOrderMonitor - ведущий цикл: опрос ордеров и чатов маркетплейса.
// Именно он кормит машину состояний и (через статусы) движок расчёта.
func (s *Service) RunOrderMonitor(ctx context.Context) {
	s.runEvery(ctx, "order monitor", s.config.OrdersPollInterval(), s.monitorCycle)
}

// monitorCycle обходит аккаунты по одному; сбой одного аккаунта или ордера
// не прерывает остальных.
func (s *Service) monitorCycle(ctx context.Context) {
	for _, name := range s.accountNames() {
		market := s.markets[name]

		s.checkTrackedOrders(ctx, market)
		s.discoverNewOrders(ctx, market)
		s.syncChats(ctx, market)
	}
}

// checkTrackedOrders сверяет статусы ордеров, уже привязанных к сделкам.
func (s *Service) checkTrackedOrders(ctx context.Context, market Marketplace) {
	trades, err := s.repo.ListOpenTradesWithOrders(ctx, market.AccountName())
	if err != nil {
		s.logger.Errorf("Failed to list open trades for %s: %v", market.AccountName(), err)
		return
	}

	for i := range trades {
		trade := &trades[i]
		order, err := market.GetOrder(ctx, *trade.ExternalOrderID)

		if errors.Is(err, marketplace.ErrOrderNotFound) {
			s.markTradeCancelled(ctx, trade, "ордер исчез с маркетплейса")
			continue
		}
		if err != nil {
			s.logger.Errorf("Failed to fetch order %s: %v", *trade.ExternalOrderID, err)
			continue
		}

		switch order.Status {
		case marketplace.OrderStatusCancelled:
			s.markTradeCancelled(ctx, trade, "ордер отменён контрагентом")
		case marketplace.OrderStatusDisputed:
			if err := s.repo.UpdateTradeStatus(ctx, trade.ID, models.TradeStatusAppeal, "открыт спор по ордеру"); err != nil {
				s.logger.Errorf("Failed to mark trade %d as appeal: %v", trade.ID, err)
				continue
			}
			trade.Status = models.TradeStatusAppeal
			s.notifier.TradeUpdated(trade, "открыт спор")
		case marketplace.OrderStatusCompleted:
			if trade.Status != models.TradeStatusReleaseMoney {
				continue
			}
			if err := s.repo.UpdateTradeStatus(ctx, trade.ID, models.TradeStatusCompleted, ""); err != nil {
				s.logger.Errorf("Failed to complete trade %d: %v", trade.ID, err)
				continue
			}
			trade.Status = models.TradeStatusCompleted
			s.notifier.TradeUpdated(trade, "сделка завершена")
		}
	}
}

// markTradeCancelled - терминальная отмена со стороны контрагента:
// без повторных попыток, объявление уходит на разбор.
func (s *Service) markTradeCancelled(ctx context.Context, trade *models.Trade, reason string) {
	if err := s.repo.UpdateTradeStatus(ctx, trade.ID, models.TradeStatusCancelledByCounterparty, reason); err != nil {
		s.logger.Errorf("Failed to cancel trade %d: %v", trade.ID, err)
		return
	}
	trade.Status = models.TradeStatusCancelledByCounterparty
	trade.StatusReason = reason

	s.retireAdvertisement(ctx, trade)
	s.notifier.TradeUpdated(trade, reason)
}

// discoverNewOrders - защита от пропущенного назначения ордера: активные
// ордера платформы без локальной сделки материализуются через объявление.
func (s *Service) discoverNewOrders(ctx context.Context, market Marketplace) {
	orders, err := market.ListActiveOrders(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list active orders for %s: %v", market.AccountName(), err)
		return
	}

	for i := range orders {
		order := orders[i]

		existing, err := s.repo.GetTradeByExternalOrderID(ctx, order.ID)
		if err != nil {
			s.logger.Errorf("Failed to look up trade for order %s: %v", order.ID, err)
			continue
		}
		if existing != nil {
			continue
		}

		ad, err := s.repo.GetAdvertisementByExternalID(ctx, order.ListingID)
		if err != nil {
			s.logger.Errorf("Failed to look up advertisement %s: %v", order.ListingID, err)
			continue
		}
		if ad == nil {
			s.logger.Warnf("Order %s references unknown listing %s, skipping", order.ID, order.ListingID)
			continue
		}

		trade := &models.Trade{
			ExternalOrderID: &order.ID,
			AccountName:     market.AccountName(),
			AdvertisementID: ad.ID,
			PayoutID:        ad.PayoutID,
			Amount:          order.Amount,
			Status:          models.TradeStatusPending,
		}
		// сделка и деактивация объявления - одна транзакция; уникальный
		// индекс по ордеру делает гонку двух циклов безвредной
		if err := s.repo.MaterializeTrade(ctx, trade, ad.ID); err != nil {
			s.logger.Errorf("Failed to materialize trade for order %s: %v", order.ID, err)
			continue
		}
		s.logger.Infof("Trade %d materialized for order %s (listing %s)", trade.ID, order.ID, order.ListingID)
		s.notifier.TradeUpdated(trade, "новый ордер")
	}
}

// syncChats подтягивает переписку по каждой открытой сделке и передаёт её
// машине состояний; заодно поднимает быстрый поллер чата для ордера.
func (s *Service) syncChats(ctx context.Context, market Marketplace) {
	trades, err := s.repo.ListOpenTradesWithOrders(ctx, market.AccountName())
	if err != nil {
		s.logger.Errorf("Failed to list open trades for %s: %v", market.AccountName(), err)
		return
	}

	for i := range trades {
		trade := &trades[i]

		if err := s.syncTradeChat(ctx, market, trade); err != nil {
			s.logger.Errorf("Failed to sync chat for trade %d: %v", trade.ID, err)
			continue
		}
		s.handOffTrade(ctx, trade)
		s.ensureChatPoller(ctx, market, trade.ID, *trade.ExternalOrderID)
	}
}

// syncTradeChat сохраняет новые сообщения треда. Дедупликация по внешнему
// id делает повторный опрос no-op'ом.
func (s *Service) syncTradeChat(ctx context.Context, market Marketplace, trade *models.Trade) error {
	messages, err := market.ListChatMessages(ctx, *trade.ExternalOrderID)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		exists, err := s.repo.ChatMessageExists(ctx, msg.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		stored := &models.ChatMessage{
			TradeID:    trade.ID,
			ExternalID: msg.ID,
			Content:    msg.Text,
			Sender:     models.SenderCounterparty,
		}
		if msg.FromMe {
			stored.Sender = models.SenderMe
			stored.IsProcessed = true
		}
		if err := s.repo.CreateChatMessage(ctx, stored); err != nil {
			return err
		}
	}
	return nil
}

// handOffTrade решает, что делать со сделкой после синхронизации чата.
func (s *Service) handOffTrade(ctx context.Context, trade *models.Trade) {
	if trade.IsTerminal() {
		return
	}

	hasOwn, err := s.repo.HasOwnMessage(ctx, trade.ID)
	if err != nil {
		s.logger.Errorf("Failed to check own messages for trade %d: %v", trade.ID, err)
		return
	}

	if !hasOwn {
		if err := s.StartConversation(ctx, trade); err != nil {
			s.logger.Errorf("Failed to start conversation for trade %d: %v", trade.ID, err)
		}
		return
	}

	if err := s.ProcessPending(ctx, trade); err != nil {
		s.logger.Errorf("Failed to process pending messages for trade %d: %v", trade.ID, err)
	}
}

// ensureChatPoller лениво поднимает частый опрос чата для ордера.
// На один ордер поллер поднимается не больше одного раза.
func (s *Service) ensureChatPoller(ctx context.Context, market Marketplace, tradeID uint, orderID string) {
	s.pollerMu.Lock()
	if _, running := s.chatPollers[orderID]; running {
		s.pollerMu.Unlock()
		return
	}
	s.chatPollers[orderID] = struct{}{}
	s.pollerMu.Unlock()

	go s.pollChat(ctx, market, tradeID, orderID)
}

func (s *Service) pollChat(ctx context.Context, market Marketplace, tradeID uint, orderID string) {
	defer func() {
		s.pollerMu.Lock()
		delete(s.chatPollers, orderID)
		s.pollerMu.Unlock()
	}()

	ticker := time.NewTicker(s.config.ChatPollInterval())
	defer ticker.Stop()

	s.logger.Debugf("Chat poller started for order %s", orderID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trade, err := s.repo.GetTradeByID(ctx, tradeID)
			if err != nil {
				s.logger.Errorf("Chat poller: failed to load trade %d: %v", tradeID, err)
				continue
			}
			if trade == nil || trade.IsTerminal() {
				s.logger.Debugf("Chat poller stopped for order %s", orderID)
				return
			}

			if err := s.syncTradeChat(ctx, market, trade); err != nil {
				s.logger.Errorf("Chat poller: failed to sync chat for order %s: %v", orderID, err)
				continue
			}
			s.handOffTrade(ctx, trade)
		}
	}
}
