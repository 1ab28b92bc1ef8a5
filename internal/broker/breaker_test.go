package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	mock := &MockBroker{
		GetQuoteFunc: func(ctx context.Context, ticker string) (float64, error) {
			return 123.45, nil
		},
	}
	cb := NewCircuitBreakerBroker(mock, testLogger())

	price, err := cb.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 123.45, price, 1e-9)
}

func TestCircuitBreakerPreservesNilOrderDecline(t *testing.T) {
	mock := &MockBroker{
		SubmitLegOrderFunc: func(ctx context.Context, req LegOrderRequest) (*models.Order, error) {
			return nil, nil
		},
	}
	cb := NewCircuitBreakerBroker(mock, testLogger())

	order, err := cb.SubmitLegOrder(context.Background(), LegOrderRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &MockBroker{
		GetQuoteFunc: func(ctx context.Context, ticker string) (float64, error) {
			return 0, boom
		},
	}
	cb := NewCircuitBreakerBrokerWithSettings(mock, testLogger(), CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	for i := 0; i < 3; i++ {
		_, err := cb.GetQuote(context.Background(), "AAPL")
		require.ErrorIs(t, err, boom)
	}

	// Circuit is now open: the broker stops being called.
	before := len(mock.Calls)
	_, err := cb.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.NotErrorIs(t, err, boom)
	assert.Equal(t, before, len(mock.Calls))
}
