package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Fi44er/p2p_desk/internal/models"
	"gorm.io/gorm"
)

var payoutPendingCodes = []int{models.PayoutStatusNew, models.PayoutStatusPending}

func (r *Repository) GetPayoutByID(ctx context.Context, id uint) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).First(&payout, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout %d: %w", id, err)
	}
	return &payout, nil
}

func (r *Repository) GetPayoutByExternalID(ctx context.Context, externalID string) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).First(&payout, "external_id = ?", externalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout by external id %s: %w", externalID, err)
	}
	return &payout, nil
}

// CreateOrUpdatePayout идемпотентно сохраняет выплату по внешнему id.
func (r *Repository) CreateOrUpdatePayout(ctx context.Context, payout *models.Payout) error {
	var existing models.Payout
	err := r.db.WithContext(ctx).Where("external_id = ?", payout.ExternalID).First(&existing).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return r.db.WithContext(ctx).Create(payout).Error
		}
		return err
	}

	payout.ID = existing.ID
	payout.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).Model(&existing).Updates(payout).Error
}

// ListPendingPayoutsByAmountRUB - кандидаты матчинга: ожидающие выплаты с
// точной рублёвой суммой, созданные внутри временного окна.
func (r *Repository) ListPendingPayoutsByAmountRUB(ctx context.Context, amount float64, from, to time.Time) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.WithContext(ctx).
		Where("status_code IN ? AND amount_rub = ? AND created_at BETWEEN ? AND ?", payoutPendingCodes, amount, from, to).
		Order("created_at ASC").
		Find(&payouts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payouts by amount: %w", err)
	}
	return payouts, nil
}

func (r *Repository) UpdatePayoutStatus(ctx context.Context, id uint, statusCode int) error {
	err := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", id).
		Update("status_code", statusCode).
		Error
	if err != nil {
		return fmt.Errorf("failed to update payout %d status: %w", id, err)
	}
	return nil
}
