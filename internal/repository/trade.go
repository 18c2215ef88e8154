package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/p2p_desk/internal/models"
	"gorm.io/gorm"
)

var tradeTerminalStatuses = []string{
	models.TradeStatusCompleted,
	models.TradeStatusCancelled,
	models.TradeStatusFailed,
	models.TradeStatusStupid,
	models.TradeStatusAppeal,
	models.TradeStatusCancelledByCounterparty,
}

func (r *Repository) CreateTrade(ctx context.Context, trade *models.Trade) error {
	return r.db.WithContext(ctx).Create(trade).Error
}

// MaterializeTrade атомарно создаёт сделку и гасит её объявление: объявление
// с назначенным ордером не должно пережить откат вставки.
func (r *Repository) MaterializeTrade(ctx context.Context, trade *models.Trade, advertisementID uint) error {
	tx, err := r.BeginTransaction(ctx)
	if err != nil {
		return err
	}

	if err := r.WithTransaction(tx).Create(trade).Error; err != nil {
		r.Rollback(tx)
		return fmt.Errorf("failed to create trade: %w", err)
	}

	err = r.WithTransaction(tx).
		Model(&models.Advertisement{}).
		Where("id = ?", advertisementID).
		Update("is_active", false).
		Error
	if err != nil {
		r.Rollback(tx)
		return fmt.Errorf("failed to deactivate advertisement %d: %w", advertisementID, err)
	}

	return r.Commit(tx)
}

func (r *Repository) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	return r.db.WithContext(ctx).Save(trade).Error
}

func (r *Repository) GetTradeByID(ctx context.Context, id uint) (*models.Trade, error) {
	var trade models.Trade
	err := r.db.WithContext(ctx).First(&trade, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return &trade, nil
}

func (r *Repository) GetTradeByExternalOrderID(ctx context.Context, orderID string) (*models.Trade, error) {
	var trade models.Trade
	err := r.db.WithContext(ctx).First(&trade, "external_order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade by order %s: %w", orderID, err)
	}
	return &trade, nil
}

func (r *Repository) GetTradeByPayoutID(ctx context.Context, payoutID uint) (*models.Trade, error) {
	var trade models.Trade
	err := r.db.WithContext(ctx).First(&trade, "payout_id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade by payout %d: %w", payoutID, err)
	}
	return &trade, nil
}

// ListOpenTradesWithOrders возвращает незавершённые сделки аккаунта,
// у которых уже есть ордер на маркетплейсе.
func (r *Repository) ListOpenTradesWithOrders(ctx context.Context, accountName string) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("account_name = ? AND external_order_id IS NOT NULL AND status NOT IN ?", accountName, tradeTerminalStatuses).
		Order("created_at ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open trades: %w", err)
	}
	return trades, nil
}

func (r *Repository) ListTradesByStatus(ctx context.Context, status string) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades by status %s: %w", status, err)
	}
	return trades, nil
}

func (r *Repository) UpdateTradeStatus(ctx context.Context, id uint, status, reason string) error {
	tx := r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "status_reason": reason})

	if tx.Error != nil {
		return fmt.Errorf("failed to update trade %d status: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("trade %d not found for status update", id)
	}
	return nil
}

// AdvanceChatStep двигает курсор переговоров строго вперёд и только из
// ожидаемого значения. Возвращает false, если кто-то успел раньше.
func (r *Repository) AdvanceChatStep(ctx context.Context, id uint, from, to int) (bool, error) {
	if to <= from {
		return false, fmt.Errorf("chat step can only move forward: %d -> %d", from, to)
	}

	tx := r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ? AND chat_step = ?", id, from).
		Update("chat_step", to)

	if tx.Error != nil {
		return false, fmt.Errorf("failed to advance chat step for trade %d: %w", id, tx.Error)
	}
	return tx.RowsAffected > 0, nil
}
