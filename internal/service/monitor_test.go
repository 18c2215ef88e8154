package service

import (
	"context"
	"testing"

	"github.com/Fi44er/p2p_desk/internal/marketplace"
	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverMaterializesTradeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payout := env.createPayout(t, "payout-1", "2202206312341234", 9500)
	ad := env.createAdvertisement(t, "listing-1", &payout.ID)

	env.market.addActiveOrder(marketplace.Order{
		ID:        "order-1",
		ListingID: "listing-1",
		Status:    marketplace.OrderStatusPaymentProcessing,
		Amount:    100,
	})

	env.svc.discoverNewOrders(ctx, env.market)
	env.svc.discoverNewOrders(ctx, env.market)

	var count int64
	require.NoError(t, env.db.Model(&models.Trade{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "повторное обнаружение не плодит сделок")

	trade, err := env.repo.GetTradeByExternalOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, ad.ID, trade.AdvertisementID)
	require.NotNil(t, trade.PayoutID)
	assert.Equal(t, payout.ID, *trade.PayoutID, "выплата наследуется от объявления")
	assert.Equal(t, models.TradeStatusPending, trade.Status)

	adReloaded, err := env.repo.GetAdvertisementByID(ctx, ad.ID)
	require.NoError(t, err)
	assert.False(t, adReloaded.IsActive, "объявление с ордером гаснет локально")
}

func TestDiscoverSkipsUnknownListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.market.addActiveOrder(marketplace.Order{
		ID:        "order-1",
		ListingID: "ghost-listing",
		Status:    marketplace.OrderStatusPaymentProcessing,
	})

	env.svc.discoverNewOrders(ctx, env.market)

	var count int64
	require.NoError(t, env.db.Model(&models.Trade{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestVanishedOrderCancelsTrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ad := env.createAdvertisement(t, "listing-1", nil)
	trade := env.createTrade(t, "order-1", ad, nil)

	env.market.mu.Lock()
	env.market.missing["order-1"] = true
	env.market.mu.Unlock()

	env.svc.checkTrackedOrders(ctx, env.market)

	reloaded := env.reloadTrade(t, trade.ID)
	assert.Equal(t, models.TradeStatusCancelledByCounterparty, reloaded.Status)
	assert.NotEmpty(t, reloaded.StatusReason)
	assert.True(t, reloaded.IsTerminal())
	assert.Contains(t, env.market.cancelledListings, "listing-1")
}

func TestDisputedOrderMarksAppeal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ad := env.createAdvertisement(t, "listing-1", nil)
	trade := env.createTrade(t, "order-1", ad, nil)

	env.market.mu.Lock()
	env.market.orders["order-1"] = marketplace.Order{ID: "order-1", Status: marketplace.OrderStatusDisputed}
	env.market.mu.Unlock()

	env.svc.checkTrackedOrders(ctx, env.market)

	reloaded := env.reloadTrade(t, trade.ID)
	assert.Equal(t, models.TradeStatusAppeal, reloaded.Status)
	assert.True(t, reloaded.IsTerminal(), "спор отдаётся оператору, бот молчит")
}

func TestCompletedOrderFinishesOnlyReleasedTrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ad := env.createAdvertisement(t, "listing-1", nil)
	trade := env.createTrade(t, "order-1", ad, nil)

	env.market.mu.Lock()
	env.market.orders["order-1"] = marketplace.Order{ID: "order-1", Status: marketplace.OrderStatusCompleted}
	env.market.mu.Unlock()

	// до release_money завершение платформы игнорируется
	env.svc.checkTrackedOrders(ctx, env.market)
	assert.Equal(t, models.TradeStatusPending, env.reloadTrade(t, trade.ID).Status)

	require.NoError(t, env.db.Model(trade).Update("status", models.TradeStatusReleaseMoney).Error)
	env.svc.checkTrackedOrders(ctx, env.market)
	assert.Equal(t, models.TradeStatusCompleted, env.reloadTrade(t, trade.ID).Status)
}

func TestChatSyncIsIdempotentAndMarksOwnMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ad := env.createAdvertisement(t, "listing-1", nil)
	trade := env.createTrade(t, "order-1", ad, nil)

	env.market.addChatMessage("order-1", marketplace.ChatMessage{ID: "m-1", Text: "Здравствуйте!"})
	env.market.addChatMessage("order-1", marketplace.ChatMessage{ID: "m-2", FromMe: true, Text: "Добрый день"})

	require.NoError(t, env.svc.syncTradeChat(ctx, env.market, trade))
	require.NoError(t, env.svc.syncTradeChat(ctx, env.market, trade))

	var stored []models.ChatMessage
	require.NoError(t, env.db.Order("external_id").Find(&stored).Error)
	require.Len(t, stored, 2)

	assert.Equal(t, models.SenderCounterparty, stored[0].Sender)
	assert.False(t, stored[0].IsProcessed)
	assert.Equal(t, models.SenderMe, stored[1].Sender)
	assert.True(t, stored[1].IsProcessed, "свои сообщения не попадают в обработку")
}

// Полный цикл монитора: новый ордер обнаружен, чат синхронизирован,
// разговор начат первым же проходом.
func TestMonitorCycleStartsConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payout := env.createPayout(t, "payout-1", "2202206312341234", 9500)
	env.createAdvertisement(t, "listing-1", &payout.ID)
	env.market.addActiveOrder(marketplace.Order{
		ID:        "order-1",
		ListingID: "listing-1",
		Status:    marketplace.OrderStatusAwaitingTransfer,
		Amount:    100,
	})

	env.svc.monitorCycle(ctx)

	trade, err := env.repo.GetTradeByExternalOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, models.TradeStatusChatStarted, trade.Status)
	assert.Equal(t, 1, trade.ChatStep)
	assert.Equal(t, 1, env.market.outboundCount("order-1"))
}
