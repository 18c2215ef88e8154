package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/utils"
)

const (
	qualificationQuestion = "Здравствуйте! Перевод придёт с банковской карты. Сможете после оплаты отправить PDF-чек из банка нам на почту? Ответьте, пожалуйста, «да» или «нет».\n\n" +
		"Hello! The payment will come from a bank card. Can you send the bank's PDF receipt to our email after paying? Please answer yes or no."

	// маркер сообщения с суммой; по нему же работает защита от повторной отправки
	detailsMarker = "Сумма к оплате"

	instructionsMessage = "Важно: переводите строго с карты, указанной в чеке, и ничего не пишите в комментарии к переводу.\n\n" +
		"Important: pay strictly from the card that will appear in the receipt and leave the transfer comment empty."

	closingPromoMessage = "Спасибо за сделку! 🤝 Работаем быстро и без лишних вопросов — будем рады видеть вас снова. Хорошего дня!"
)

// Ответы контрагента. Отрицания проверяются первыми: "не могу" содержит "могу".
var (
	negativeAnswers = []string{
		"нет", "не могу", "не смогу", "не буду", "без чека", "no", "nope", "can't", "cannot", "won't",
	}
	affirmativeAnswers = []string{
		"да", "ага", "конечно", "могу", "смогу", "хорошо", "ок", "ok", "yes", "yep", "sure",
	}
)

type answerKind int

const (
	answerUnknown answerKind = iota
	answerAffirmative
	answerNegative
)

// classifyAnswer сверяет ответ со словарями. Однословные записи матчатся
// только целым словом ("да" не должно находиться внутри "ждать"), фразы
// с пробелом - как подстрока.
func classifyAnswer(text string) answerKind {
	lowered := strings.ToLower(text)
	words := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	matches := func(vocab []string) bool {
		for _, entry := range vocab {
			if strings.ContainsRune(entry, ' ') {
				if strings.Contains(lowered, entry) {
					return true
				}
				continue
			}
			for _, word := range words {
				if word == entry {
					return true
				}
			}
		}
		return false
	}

	if matches(negativeAnswers) {
		return answerNegative
	}
	if matches(affirmativeAnswers) {
		return answerAffirmative
	}
	return answerUnknown
}

// StartConversation открывает переговоры: задаёт квалификационный вопрос
// и двигает курсор 0 -> 1. Безопасен при конкурентном вызове.
func (s *Service) StartConversation(ctx context.Context, trade *models.Trade) error {
	key := tradeLockKey(trade.ID)
	if !s.locks.TryAcquire(key) {
		return nil
	}
	defer s.locks.Release(key)

	return s.startConversationLocked(ctx, trade)
}

func (s *Service) startConversationLocked(ctx context.Context, trade *models.Trade) error {
	if trade.ExternalOrderID == nil || trade.IsTerminal() {
		return nil
	}

	// двойная защита: курсор ещё на нуле и бот ни разу не писал в чат
	if trade.ChatStep != 0 {
		return nil
	}
	hasOwn, err := s.repo.HasOwnMessage(ctx, trade.ID)
	if err != nil {
		return err
	}
	if hasOwn {
		return nil
	}

	if err := s.sendAndStore(ctx, trade, qualificationQuestion); err != nil {
		return err
	}

	moved, err := s.repo.AdvanceChatStep(ctx, trade.ID, 0, 1)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	trade.ChatStep = 1

	if err := s.repo.UpdateTradeStatus(ctx, trade.ID, models.TradeStatusChatStarted, ""); err != nil {
		return err
	}
	trade.Status = models.TradeStatusChatStarted
	s.notifier.TradeUpdated(trade, "переговоры начаты")
	return nil
}

// ProcessPending прогоняет необработанные сообщения контрагента через
// машину состояний. Ошибка одного сообщения не мешает остальным.
func (s *Service) ProcessPending(ctx context.Context, trade *models.Trade) error {
	key := tradeLockKey(trade.ID)
	if !s.locks.TryAcquire(key) {
		return nil
	}
	defer s.locks.Release(key)

	messages, err := s.repo.ListUnprocessedMessages(ctx, trade.ID)
	if err != nil {
		return err
	}

	for i := range messages {
		if err := s.processMessage(ctx, trade, &messages[i]); err != nil {
			s.logger.Errorf("Failed to process message %d for trade %d: %v", messages[i].ID, trade.ID, err)
		}
	}
	return nil
}

func (s *Service) processMessage(ctx context.Context, trade *models.Trade, message *models.ChatMessage) error {
	msgKey := messageLockKey(message.ID)
	if !s.locks.TryAcquire(msgKey) {
		return nil
	}
	defer s.locks.Release(msgKey)

	if trade.IsTerminal() {
		return s.repo.MarkMessageProcessed(ctx, message.ID)
	}

	switch trade.ChatStep {
	case 0:
		// контрагент написал раньше нас: сначала квалификационный вопрос
		if err := s.startConversationLocked(ctx, trade); err != nil {
			return err
		}
		return s.repo.MarkMessageProcessed(ctx, message.ID)

	case 1:
		switch classifyAnswer(message.Content) {
		case answerNegative:
			if err := s.rejectTrade(ctx, trade, "контрагент отказался отправить чек"); err != nil {
				return err
			}
			return s.repo.MarkMessageProcessed(ctx, message.ID)

		case answerAffirmative:
			if err := s.sendPaymentDetails(ctx, trade); err != nil {
				return err
			}
			return s.repo.MarkMessageProcessed(ctx, message.ID)

		default:
			// непонятный ответ: повторяем вопрос дословно, состояние не меняем
			if err := s.sendAndStore(ctx, trade, qualificationQuestion); err != nil {
				return err
			}
			return s.repo.MarkMessageProcessed(ctx, message.ID)
		}

	default:
		// реквизиты уже отправлены (999): автоматика больше не отвечает
		return s.repo.MarkMessageProcessed(ctx, message.ID)
	}
}

// sendPaymentDetails раскрывает реквизиты оплаты серией сообщений и
// переводит сделку в ожидание платежа. Повторный вызов ничего не шлёт.
func (s *Service) sendPaymentDetails(ctx context.Context, trade *models.Trade) error {
	if trade.ChatStep == models.ChatStepDetailsSent {
		return nil
	}
	alreadySent, err := s.repo.HasOwnMessageContaining(ctx, trade.ID, detailsMarker)
	if err != nil {
		return err
	}
	if alreadySent {
		s.logger.Warnf("Payment details already sent for trade %d, skipping", trade.ID)
		return nil
	}

	if trade.PayoutID == nil {
		s.logger.Warnf("Trade %d has no payout, cannot send payment details", trade.ID)
		return nil
	}
	payout, err := s.repo.GetPayoutByID(ctx, *trade.PayoutID)
	if err != nil {
		return err
	}
	if payout == nil {
		s.logger.Warnf("Payout %d for trade %d not found", *trade.PayoutID, trade.ID)
		return nil
	}

	inboxAddr := trade.ReceiptInbox
	if inboxAddr == "" {
		inboxAddr = s.mailboxes.Allocate(trade.ID)
	} else {
		s.mailboxes.Remember(trade.ID, inboxAddr)
	}
	rate := s.rates.RateRUB(ctx)

	messages := []string{
		fmt.Sprintf("Реквизиты для оплаты:\nБанк: %s\nПолучатель: %s\nКарта/счёт: %s",
			payout.BankName, payout.RecipientName, payout.Wallet),
		fmt.Sprintf("%s: %.2f RUB (курс %.2f). Переведите ровно эту сумму.",
			detailsMarker, utils.RoundTo(payout.AmountRUB, 2), rate),
		fmt.Sprintf("После оплаты отправьте PDF-чек из приложения банка на почту: %s", inboxAddr),
		instructionsMessage,
		"Как только чек придёт и пройдёт проверку, средства будут отпущены автоматически. / Funds are released automatically once the receipt is verified.",
	}
	for _, text := range messages {
		if err := s.sendAndStore(ctx, trade, text); err != nil {
			return err
		}
	}

	now := time.Now()
	trade.Status = models.TradeStatusWaitingPayment
	trade.PaymentSentAt = &now
	trade.ReceiptInbox = inboxAddr
	trade.AmountRUB = payout.AmountRUB
	if err := s.repo.UpdateTrade(ctx, trade); err != nil {
		return err
	}

	moved, err := s.repo.AdvanceChatStep(ctx, trade.ID, 1, models.ChatStepDetailsSent)
	if err != nil {
		return err
	}
	if moved {
		trade.ChatStep = models.ChatStepDetailsSent
	}

	s.notifier.TradeUpdated(trade, "реквизиты отправлены")
	return nil
}

// rejectTrade помечает сделку как неадекватную и разбирает объявление:
// активы освобождаются, листинг снимается, реквизиты не раскрываются.
func (s *Service) rejectTrade(ctx context.Context, trade *models.Trade, reason string) error {
	if err := s.repo.UpdateTradeStatus(ctx, trade.ID, models.TradeStatusStupid, reason); err != nil {
		return err
	}
	trade.Status = models.TradeStatusStupid
	trade.StatusReason = reason

	s.teardownListing(ctx, trade)
	s.notifier.TradeUpdated(trade, "отказ контрагента: "+reason)
	return nil
}

// teardownListing освобождает активы по ордеру и снимает объявление.
// Каждая ошибка логируется отдельно; следующий цикл доведёт разбор до конца.
func (s *Service) teardownListing(ctx context.Context, trade *models.Trade) {
	market, err := s.marketFor(trade)
	if err != nil {
		s.logger.Errorf("Teardown for trade %d: %v", trade.ID, err)
		return
	}

	if trade.ExternalOrderID != nil {
		if err := market.ReleaseOrderAssets(ctx, *trade.ExternalOrderID); err != nil {
			s.logger.Warnf("Failed to release assets for order %s: %v", *trade.ExternalOrderID, err)
		}
	}
	s.retireAdvertisement(ctx, trade)
}

func (s *Service) sendAndStore(ctx context.Context, trade *models.Trade, text string) error {
	if trade.ExternalOrderID == nil {
		return fmt.Errorf("trade %d has no order, cannot send message", trade.ID)
	}
	market, err := s.marketFor(trade)
	if err != nil {
		return err
	}

	if err := market.SendChatMessage(ctx, *trade.ExternalOrderID, text); err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}

	// собственные сообщения сразу создаются обработанными
	message := &models.ChatMessage{
		TradeID:     trade.ID,
		ExternalID:  fmt.Sprintf("own-%d-%d", trade.ID, time.Now().UnixNano()),
		Sender:      models.SenderMe,
		Content:     text,
		IsProcessed: true,
	}
	if err := s.repo.CreateChatMessage(ctx, message); err != nil {
		return fmt.Errorf("failed to store own message: %w", err)
	}
	return nil
}

func tradeLockKey(id uint) string {
	return fmt.Sprintf("trade:%d", id)
}

func messageLockKey(id uint) string {
	return fmt.Sprintf("msg:%d", id)
}
