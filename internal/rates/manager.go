package rates

import (
	"context"
	"sync"

	"github.com/Fi44er/p2p_desk/internal/models"
	"github.com/Fi44er/p2p_desk/utils"
)

type RateRepository interface {
	GetExchangeRate(ctx context.Context, currency string) (*models.ExchangeRate, error)
}

// Manager отдаёт актуальный курс рубля для текстов с реквизитами.
// Курс задаётся снаружи (UI настроек) и хранится в БД; при недоступности
// БД используется последнее удачное значение, иначе - запасной курс из конфига.
type Manager struct {
	repo     RateRepository
	currency string
	fallback float64
	logger   *utils.Logger

	mu       sync.Mutex
	lastGood float64
}

func NewManager(repo RateRepository, currency string, fallback float64, logger *utils.Logger) *Manager {
	return &Manager{
		repo:     repo,
		currency: currency,
		fallback: fallback,
		logger:   logger,
	}
}

func (m *Manager) RateRUB(ctx context.Context) float64 {
	rate, err := m.repo.GetExchangeRate(ctx, m.currency)
	if err != nil {
		m.logger.Warnf("Failed to get exchange rate, using fallback: %v", err)
		return m.cached()
	}
	if rate == nil || rate.Rate <= 0 {
		m.logger.Warnf("No exchange rate configured for %s, using fallback", m.currency)
		return m.cached()
	}

	m.mu.Lock()
	m.lastGood = rate.Rate
	m.mu.Unlock()
	return rate.Rate
}

func (m *Manager) cached() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastGood > 0 {
		return m.lastGood
	}
	return m.fallback
}
