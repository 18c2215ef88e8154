package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/p2p_desk/internal/models"
	"gorm.io/gorm"
)

func (r *Repository) GetAdvertisementByID(ctx context.Context, id uint) (*models.Advertisement, error) {
	var ad models.Advertisement
	err := r.db.WithContext(ctx).First(&ad, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advertisement %d: %w", id, err)
	}
	return &ad, nil
}

func (r *Repository) GetAdvertisementByExternalID(ctx context.Context, externalID string) (*models.Advertisement, error) {
	var ad models.Advertisement
	err := r.db.WithContext(ctx).First(&ad, "external_id = ?", externalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advertisement by external id %s: %w", externalID, err)
	}
	return &ad, nil
}

// DeactivateAdvertisement снимает флаг is_active. Повторный вызов безопасен.
func (r *Repository) DeactivateAdvertisement(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.Advertisement{}).
		Where("id = ?", id).
		Update("is_active", false).
		Error
	if err != nil {
		return fmt.Errorf("failed to deactivate advertisement %d: %w", id, err)
	}
	return nil
}
