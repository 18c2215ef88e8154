package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/p2p_desk/internal/models"
	"gorm.io/gorm"
)

func (r *Repository) GetReceiptByExternalID(ctx context.Context, externalID string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt by external id %s: %w", externalID, err)
	}
	return &receipt, nil
}

func (r *Repository) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *Repository) UpdateReceipt(ctx context.Context, receipt *models.Receipt) error {
	return r.db.WithContext(ctx).Save(receipt).Error
}

// ListUnparsedReceipts - чеки, которые ещё не прогонялись через парсер.
// Чеки с ошибкой разбора исключены до ручного сброса parse_error.
func (r *Repository) ListUnparsedReceipts(ctx context.Context) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.WithContext(ctx).
		Where("is_parsed = ? AND parse_error = ''", false).
		Order("created_at ASC").
		Find(&receipts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unparsed receipts: %w", err)
	}
	return receipts, nil
}

// ListMatchableReceipts - разобранные чеки с суммой, ещё не привязанные к выплате.
func (r *Repository) ListMatchableReceipts(ctx context.Context) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.WithContext(ctx).
		Where("is_parsed = ? AND payout_id IS NULL AND amount IS NOT NULL AND parse_error = ''", true).
		Order("created_at ASC").
		Find(&receipts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list matchable receipts: %w", err)
	}
	return receipts, nil
}

// LinkReceiptToPayout привязывает чек к выплате ровно один раз: обновление
// проходит только пока payout_id пуст. Возвращает false, если чек уже привязан.
func (r *Repository) LinkReceiptToPayout(ctx context.Context, receiptID uint, payoutExternalID string) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Receipt{}).
		Where("id = ? AND payout_id IS NULL", receiptID).
		Updates(map[string]interface{}{"payout_id": payoutExternalID, "is_processed": true})

	if tx.Error != nil {
		return false, fmt.Errorf("failed to link receipt %d to payout %s: %w", receiptID, payoutExternalID, tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// GetReceiptByPayoutExternalID - обратный поиск: каким чеком уже занята выплата.
func (r *Repository) GetReceiptByPayoutExternalID(ctx context.Context, payoutExternalID string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).Where("payout_id = ?", payoutExternalID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt by payout %s: %w", payoutExternalID, err)
	}
	return &receipt, nil
}

func (r *Repository) SetReceiptParseError(ctx context.Context, id uint, message string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Receipt{}).
		Where("id = ?", id).
		Update("parse_error", message).
		Error
	if err != nil {
		return fmt.Errorf("failed to set parse error for receipt %d: %w", id, err)
	}
	return nil
}
