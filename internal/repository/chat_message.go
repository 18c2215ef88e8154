package repository

import (
	"context"
	"fmt"

	"github.com/Fi44er/p2p_desk/internal/models"
)

func (r *Repository) ChatMessageExists(ctx context.Context, externalID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("external_id = ?", externalID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check chat message %s: %w", externalID, err)
	}
	return count > 0, nil
}

func (r *Repository) CreateChatMessage(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListUnprocessedMessages - необработанные сообщения контрагента по сделке,
// в порядке получения.
func (r *Repository) ListUnprocessedMessages(ctx context.Context, tradeID uint) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("trade_id = ? AND sender = ? AND is_processed = ?", tradeID, models.SenderCounterparty, false).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed messages for trade %d: %w", tradeID, err)
	}
	return messages, nil
}

func (r *Repository) MarkMessageProcessed(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("id = ?", id).
		Update("is_processed", true).
		Error
	if err != nil {
		return fmt.Errorf("failed to mark message %d processed: %w", id, err)
	}
	return nil
}

// HasOwnMessage сообщает, писал ли бот в чат сделки хоть раз.
func (r *Repository) HasOwnMessage(ctx context.Context, tradeID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("trade_id = ? AND sender = ?", tradeID, models.SenderMe).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check own messages for trade %d: %w", tradeID, err)
	}
	return count > 0, nil
}

// HasOwnMessageContaining - защита от повторной отправки реквизитов:
// ищет собственное сообщение с маркерной подстрокой.
func (r *Repository) HasOwnMessageContaining(ctx context.Context, tradeID uint, marker string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("trade_id = ? AND sender = ? AND content LIKE ?", tradeID, models.SenderMe, "%"+marker+"%").
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check marker message for trade %d: %w", tradeID, err)
	}
	return count > 0, nil
}
