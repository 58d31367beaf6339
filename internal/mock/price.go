package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"liquidator/internal/core"
)

// MockPriceSource implements core.IPriceSource with fixed per-symbol prices.
type MockPriceSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal

	// Err fails every lookup when set, simulating a transient outage.
	Err error
}

func NewMockPriceSource() *MockPriceSource {
	return &MockPriceSource{prices: make(map[string]decimal.Decimal)}
}

func (m *MockPriceSource) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *MockPriceSource) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

var _ core.IPriceSource = (*MockPriceSource)(nil)
