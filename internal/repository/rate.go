package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fi44er/p2p_desk/internal/models"
	"gorm.io/gorm"
)

func (r *Repository) GetExchangeRate(ctx context.Context, currency string) (*models.ExchangeRate, error) {
	var rate models.ExchangeRate
	err := r.db.WithContext(ctx).Where("currency = ?", currency).First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange rate for %s: %w", currency, err)
	}
	return &rate, nil
}
