package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Fi44er/p2p_desk/internal/inbox"
	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/internal/parser"
	"github.com/Fi44er/p2p_desk/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxIngestionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.inbox.messages = []inbox.Message{
		{ID: "mail-1", From: "noreply@bank.example", HasAttachment: true},
	}
	env.inbox.files["mail-1"] = []byte("%PDF-1.4 receipt")

	env.svc.inboxCycle(ctx)
	env.svc.inboxCycle(ctx)

	var receipts []models.Receipt
	require.NoError(t, env.db.Find(&receipts).Error)
	require.Len(t, receipts, 1, "письмо заводит ровно один чек")

	assert.Equal(t, "mail-1", receipts[0].ExternalID)
	assert.False(t, receipts[0].IsParsed)
	_, err := os.Stat(receipts[0].FilePath)
	assert.NoError(t, err, "вложение сохранено на диск")
}

func TestInboxSkipsMessagesWithoutAttachment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.inbox.messages = []inbox.Message{
		{ID: "mail-1", From: "noreply@bank.example", HasAttachment: false},
	}

	env.svc.inboxCycle(ctx)

	var count int64
	require.NoError(t, env.db.Model(&models.Receipt{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestParseSweepFillsReceiptFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.receiptFile(t, "rcpt-1.pdf")
	receipt := env.createReceipt(t, "rcpt-1", 0, func(r *models.Receipt) {
		r.IsParsed = false
		r.Amount = nil
		r.FilePath = path
	})

	amount := 9500.0
	paidAt := time.Now().Add(-10 * time.Minute)
	env.parser.results[path] = &parser.ParsedReceipt{
		Amount:          &amount,
		CounterpartName: "Иван Петров",
		Phone:           "+79991234567",
		Card:            "*1234",
		BankName:        "Т-Банк",
		PaidAt:          &paidAt,
		RawText:         "Перевод 9500.00 RUB",
	}

	env.svc.parseCycle(ctx)

	reloaded, err := env.repo.GetReceiptByExternalID(ctx, receipt.ExternalID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsParsed)
	require.NotNil(t, reloaded.Amount)
	assert.Equal(t, amount, *reloaded.Amount)
	assert.Equal(t, "Иван Петров", reloaded.CounterpartName)
	assert.Equal(t, "*1234", reloaded.CardFragment)
	assert.NotNil(t, reloaded.PaidAt)
	assert.Empty(t, reloaded.ParseError)
}

// Ошибка разбора помечает чек и выводит его из цикла до ручного сброса.
func TestParseErrorFlagsReceiptOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.receiptFile(t, "rcpt-1.pdf")
	env.createReceipt(t, "rcpt-1", 0, func(r *models.Receipt) {
		r.IsParsed = false
		r.Amount = nil
		r.FilePath = path
	})
	env.parser.err = errors.New("unsupported layout")

	env.svc.parseCycle(ctx)
	env.svc.parseCycle(ctx)

	assert.Equal(t, 1, env.parser.calls, "битый чек не гоняется по кругу")

	reloaded, err := env.repo.GetReceiptByExternalID(ctx, "rcpt-1")
	require.NoError(t, err)
	assert.False(t, reloaded.IsParsed)
	assert.Equal(t, "unsupported layout", reloaded.ParseError)
	assert.Nil(t, reloaded.PayoutID)
}

func TestPayoutRefreshUpsertIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.payments.pending = []payment.Payout{{
		ID:            "payout-1",
		Wallet:        "2202206312341234",
		RecipientName: "Иван Петров",
		BankName:      "Т-Банк",
		Amount:        100,
		Currency:      "USDT",
		AmountRUB:     9500,
		StatusCode:    models.PayoutStatusPending,
		CreatedAt:     time.Now().Add(-time.Hour),
	}}

	env.svc.payoutCycle(ctx)
	env.svc.payoutCycle(ctx)

	var count int64
	require.NoError(t, env.db.Model(&models.Payout{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// платформа обновила статус - локальная запись следует за ней
	env.payments.pending[0].StatusCode = models.PayoutStatusProcessing
	env.svc.payoutCycle(ctx)

	reloaded, err := env.repo.GetPayoutByExternalID(ctx, "payout-1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusProcessing, reloaded.StatusCode)
	assert.Equal(t, 9500.0, reloaded.AmountRUB)
}

// Уборка: у терминально отменённых сделок не должно оставаться активных
// объявлений, даже если немедленный разбор не удался.
func TestCancelledSweepRetiresLeftoverAds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ad := env.createAdvertisement(t, "listing-1", nil)
	trade := env.createTrade(t, "order-1", ad, nil)
	require.NoError(t, env.db.Model(trade).Update("status", models.TradeStatusCancelled).Error)

	env.svc.sweepCycle(ctx)

	adReloaded, err := env.repo.GetAdvertisementByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.False(t, adReloaded.IsActive)
	assert.Contains(t, env.market.cancelledListings, "listing-1")
	assert.Contains(t, env.market.releasedOrders, "order-1")

	// повторный проход пропускает уже погашенное объявление
	env.svc.sweepCycle(ctx)
	assert.Len(t, env.market.cancelledListings, 1)
}
