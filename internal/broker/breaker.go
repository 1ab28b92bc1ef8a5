package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a misbehaving brokerage API fails fast instead of stalling the pipeline.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker, logger *logrus.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, logger, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, logger *logrus.Logger, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// SubmitLegOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitLegOrder(ctx context.Context, req LegOrderRequest) (*models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Order, error) {
		return b.SubmitLegOrder(ctx, req)
	})
}

// SubmitSpreadOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Order, error) {
		return b.SubmitSpreadOrder(ctx, req)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) {
		return b.CancelOrder(ctx, orderID)
	})
}

// GetOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Order, error) {
		return b.GetOrder(ctx, orderID)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, ticker, expr string) ([]ChainRow, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]ChainRow, error) {
		return b.GetOptionChain(ctx, ticker, expr)
	})
}

// GetOptionChainByStrike wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChainByStrike(ctx context.Context, ticker, expr string, strike float64) ([]ChainRow, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]ChainRow, error) {
		return b.GetOptionChainByStrike(ctx, ticker, expr, strike)
	})
}

// GetQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, ticker string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetQuote(ctx, ticker)
	})
}

// GetMarketHours wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetMarketHours(ctx context.Context, isoDate string) (*MarketHours, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarketHours, error) {
		return b.GetMarketHours(ctx, isoDate)
	})
}

// GetExpirations wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetExpirations(ctx context.Context, ticker string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) {
		return b.GetExpirations(ctx, ticker)
	})
}
