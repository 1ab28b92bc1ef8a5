package broker

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// MockBroker is a scripted Broker for tests. Each field, when set, overrides
// the corresponding method; unset methods return a descriptive error so a
// test exercising an unscripted call fails loudly.
type MockBroker struct {
	SubmitLegOrderFunc         func(ctx context.Context, req LegOrderRequest) (*models.Order, error)
	SubmitSpreadOrderFunc      func(ctx context.Context, req SpreadOrderRequest) (*models.Order, error)
	CancelOrderFunc            func(ctx context.Context, orderID string) (bool, error)
	GetOrderFunc               func(ctx context.Context, orderID string) (*models.Order, error)
	GetOptionChainFunc         func(ctx context.Context, ticker, expr string) ([]ChainRow, error)
	GetOptionChainByStrikeFunc func(ctx context.Context, ticker, expr string, strike float64) ([]ChainRow, error)
	GetQuoteFunc               func(ctx context.Context, ticker string) (float64, error)
	GetMarketHoursFunc         func(ctx context.Context, isoDate string) (*MarketHours, error)
	GetExpirationsFunc         func(ctx context.Context, ticker string) ([]string, error)

	// Calls records method names in invocation order.
	Calls []string
}

var _ Broker = (*MockBroker)(nil)

func (m *MockBroker) record(name string) {
	m.Calls = append(m.Calls, name)
}

// SubmitLegOrder implements Broker.
func (m *MockBroker) SubmitLegOrder(ctx context.Context, req LegOrderRequest) (*models.Order, error) {
	m.record("SubmitLegOrder")
	if m.SubmitLegOrderFunc == nil {
		return nil, fmt.Errorf("mock: SubmitLegOrder not scripted")
	}
	return m.SubmitLegOrderFunc(ctx, req)
}

// SubmitSpreadOrder implements Broker.
func (m *MockBroker) SubmitSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*models.Order, error) {
	m.record("SubmitSpreadOrder")
	if m.SubmitSpreadOrderFunc == nil {
		return nil, fmt.Errorf("mock: SubmitSpreadOrder not scripted")
	}
	return m.SubmitSpreadOrderFunc(ctx, req)
}

// CancelOrder implements Broker.
func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	m.record("CancelOrder")
	if m.CancelOrderFunc == nil {
		return false, fmt.Errorf("mock: CancelOrder not scripted")
	}
	return m.CancelOrderFunc(ctx, orderID)
}

// GetOrder implements Broker.
func (m *MockBroker) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.record("GetOrder")
	if m.GetOrderFunc == nil {
		return nil, fmt.Errorf("mock: GetOrder not scripted")
	}
	return m.GetOrderFunc(ctx, orderID)
}

// GetOptionChain implements Broker.
func (m *MockBroker) GetOptionChain(ctx context.Context, ticker, expr string) ([]ChainRow, error) {
	m.record("GetOptionChain")
	if m.GetOptionChainFunc == nil {
		return nil, fmt.Errorf("mock: GetOptionChain not scripted")
	}
	return m.GetOptionChainFunc(ctx, ticker, expr)
}

// GetOptionChainByStrike implements Broker.
func (m *MockBroker) GetOptionChainByStrike(ctx context.Context, ticker, expr string, strike float64) ([]ChainRow, error) {
	m.record("GetOptionChainByStrike")
	if m.GetOptionChainByStrikeFunc == nil {
		return nil, fmt.Errorf("mock: GetOptionChainByStrike not scripted")
	}
	return m.GetOptionChainByStrikeFunc(ctx, ticker, expr, strike)
}

// GetQuote implements Broker.
func (m *MockBroker) GetQuote(ctx context.Context, ticker string) (float64, error) {
	m.record("GetQuote")
	if m.GetQuoteFunc == nil {
		return 0, fmt.Errorf("mock: GetQuote not scripted")
	}
	return m.GetQuoteFunc(ctx, ticker)
}

// GetMarketHours implements Broker.
func (m *MockBroker) GetMarketHours(ctx context.Context, isoDate string) (*MarketHours, error) {
	m.record("GetMarketHours")
	if m.GetMarketHoursFunc == nil {
		return nil, fmt.Errorf("mock: GetMarketHours not scripted")
	}
	return m.GetMarketHoursFunc(ctx, isoDate)
}

// GetExpirations implements Broker.
func (m *MockBroker) GetExpirations(ctx context.Context, ticker string) ([]string, error) {
	m.record("GetExpirations")
	if m.GetExpirationsFunc == nil {
		return nil, fmt.Errorf("mock: GetExpirations not scripted")
	}
	return m.GetExpirationsFunc(ctx, ticker)
}
