package notify

import (
	"fmt"

	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/utils"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier шлёт оператору события в Telegram. Уведомления best-effort:
// сбой отправки логируется и не влияет на обработку.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *utils.Logger
}

// NewNotifier возвращает выключенный нотификатор при пустом токене.
func NewNotifier(token string, chatID int64, logger *utils.Logger) *Notifier {
	if token == "" || chatID == 0 {
		logger.Warn("Telegram notifications disabled")
		return &Notifier{logger: logger}
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Errorf("Failed to create bot API, notifications disabled: %v", err)
		return &Notifier{logger: logger}
	}

	return &Notifier{api: api, chatID: chatID, logger: logger}
}

func (n *Notifier) TradeUpdated(trade *models.Trade, event string) {
	orderID := "-"
	if trade.ExternalOrderID != nil {
		orderID = *trade.ExternalOrderID
	}
	text := fmt.Sprintf(
		"📦 *Сделка #%d* (%s)\n\n"+
			"Ордер: `%s`\nСтатус: `%s`\nСобытие: %s",
		trade.ID, trade.AccountName, orderID, trade.Status, event)
	n.send(text)
}

func (n *Notifier) ReceiptLinked(receipt *models.Receipt, payoutExternalID string) {
	amount := 0.0
	if receipt.Amount != nil {
		amount = *receipt.Amount
	}
	text := fmt.Sprintf(
		"🧾 *Чек привязан*\n\n"+
			"Чек: `%s`\n💰 Сумма: `%.2f` RUB\nВыплата: `%s`",
		receipt.ExternalID, utils.RoundTo(amount, 2), payoutExternalID)
	n.send(text)
}

func (n *Notifier) Error(operation string, err error) {
	n.send(fmt.Sprintf("❌ Ошибка в операции `%s`:\n%v", operation, err))
}

func (n *Notifier) send(text string) {
	if n.api == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Errorf("Failed to send notification: %v", err)
	}
}
