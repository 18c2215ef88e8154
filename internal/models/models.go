package models

import "time"

// Статусы сделки.
const (
	TradeStatusPending                 = "pending"
	TradeStatusChatStarted             = "chat_started"
	TradeStatusWaitingPayment          = "waiting_payment"
	TradeStatusPaymentConfirmed        = "payment_confirmed"
	TradeStatusReleaseMoney            = "release_money"
	TradeStatusCompleted               = "completed"
	TradeStatusCancelled               = "cancelled"
	TradeStatusFailed                  = "failed"
	TradeStatusStupid                  = "stupid"
	TradeStatusAppeal                  = "appeal"
	TradeStatusCancelledByCounterparty = "cancelled_by_counterparty"
)

// ChatStepDetailsSent - сентинел: реквизиты уже отправлены, автоматизация
// больше не пишет в чат.
const ChatStepDetailsSent = 999

// Отправители сообщений чата.
const (
	SenderMe           = "me"
	SenderCounterparty = "counterparty"
)

// Статусы выплаты на платёжной платформе (коды самой платформы).
const (
	PayoutStatusNew        = 4
	PayoutStatusPending    = 5
	PayoutStatusApproved   = 6
	PayoutStatusProcessing = 7
)

type Trade struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExternalOrderID *string `gorm:"uniqueIndex" json:"external_order_id"`
	AccountName     string  `json:"account_name"`

	AdvertisementID uint           `gorm:"index" json:"advertisement_id"`
	Advertisement   *Advertisement `gorm:"foreignKey:AdvertisementID" json:"advertisement,omitempty"`

	PayoutID *uint   `gorm:"index" json:"payout_id"`
	Payout   *Payout `gorm:"foreignKey:PayoutID" json:"payout,omitempty"`

	Amount    float64 `json:"amount"`     // сумма сделки в валюте расчёта
	AmountRUB float64 `json:"amount_rub"` // рублёвая нога, фиксируется при отправке реквизитов

	Status       string `gorm:"index;default:pending" json:"status"`
	StatusReason string `json:"status_reason"`
	ChatStep     int    `gorm:"default:0" json:"chat_step"`

	ReceiptInbox  string     `json:"receipt_inbox"`
	PaymentSentAt *time.Time `json:"payment_sent_at"`
	ApprovedAt    *time.Time `json:"approved_at"`

	Messages []ChatMessage `gorm:"foreignKey:TradeID" json:"messages,omitempty"`
}

// IsTerminal сообщает, завершена ли сделка для автоматизации:
// в терминальном статусе бот не отправляет больше ни одного сообщения.
func (t *Trade) IsTerminal() bool {
	switch t.Status {
	case TradeStatusCompleted, TradeStatusCancelled, TradeStatusFailed,
		TradeStatusStupid, TradeStatusAppeal, TradeStatusCancelledByCounterparty:
		return true
	}
	return false
}

type Advertisement struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExternalID  string `gorm:"uniqueIndex" json:"external_id"`
	AccountName string `json:"account_name"`

	PayoutID *uint `gorm:"index" json:"payout_id"`

	Amount   float64 `json:"amount"`
	Price    float64 `json:"price"`
	IsActive bool    `gorm:"default:true" json:"is_active"`
}

type Payout struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExternalID string `gorm:"uniqueIndex" json:"external_id"`

	Wallet        string `json:"wallet"` // карта или телефон получателя
	RecipientName string `json:"recipient_name"`
	BankName      string `json:"bank_name"`
	Metadata      string `gorm:"type:text" json:"metadata"`

	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	AmountRUB float64 `json:"amount_rub"` // рублёвая нога мультивалютной суммы

	StatusCode int `gorm:"index" json:"status_code"`
}

type Receipt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExternalID string `gorm:"uniqueIndex" json:"external_id"` // id письма у провайдера почты
	FilePath   string `json:"file_path"`

	Amount          *float64   `json:"amount"`
	CounterpartName string     `json:"counterpart_name"`
	Phone           string     `json:"phone"`
	CardFragment    string     `json:"card_fragment"`
	BankName        string     `json:"bank_name"`
	PaidAt          *time.Time `json:"paid_at"`
	RawText         string     `gorm:"type:text" json:"raw_text"`

	IsParsed    bool   `gorm:"default:false" json:"is_parsed"`
	ParseError  string `json:"parse_error"`
	IsProcessed bool   `gorm:"default:false" json:"is_processed"`

	// внешний id выплаты; заполняется ровно один раз при связывании
	PayoutID *string `gorm:"index" json:"payout_id"`
}

// MatchTime - точка отсчёта для временных окон матчинга.
func (r *Receipt) MatchTime() time.Time {
	if r.PaidAt != nil {
		return *r.PaidAt
	}
	return r.CreatedAt
}

type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TradeID    uint   `gorm:"index" json:"trade_id"`
	ExternalID string `gorm:"uniqueIndex" json:"external_id"`

	Sender      string `json:"sender"` // me / counterparty
	Content     string `gorm:"type:text" json:"content"`
	IsProcessed bool   `gorm:"default:false" json:"is_processed"`
}

// ExchangeRate читается ядром, но управляется снаружи (UI настроек курса).
type ExchangeRate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UpdatedAt time.Time `json:"updated_at"`

	Currency string  `gorm:"uniqueIndex" json:"currency"`
	Rate     float64 `json:"rate"`
}
