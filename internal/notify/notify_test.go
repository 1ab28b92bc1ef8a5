package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

func TestStrangleClosedMessage(t *testing.T) {
	s := &models.Strangle{Ticker: "AAPL", Expr: "2026-09-04", Result: models.ResultEjected}
	msg := StrangleClosed(s, 4.00, 3.25)
	assert.Equal(t, "strangle ejected: AAPL 2026-09-04 paid $4.00 collected $3.25 net $-0.75", msg)
}

func TestCondorClosedMessageFlagsTotalLoss(t *testing.T) {
	c := &models.Condor{Ticker: "SPY", Expr: "2026-09-04", Credit: 1.20, Collateral: 5}

	msg := CondorClosed(c, 0.40)
	assert.Contains(t, msg, "condor closed")
	assert.Contains(t, msg, "net $+0.80")

	c.TotalLoss = true
	assert.Contains(t, CondorClosed(c, 0), "TOTAL LOSS")
}

func TestWeekResults(t *testing.T) {
	assert.Equal(t, "week 2026-09-04: no positions closed", WeekResults("2026-09-04", nil, 0))

	msg := WeekResults("2026-09-04", []string{"a", "b"}, 1.5)
	assert.Contains(t, msg, "a\nb")
	assert.Contains(t, msg, "net $+1.50")
}
