package notify

import (
	"fmt"
	"strings"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// Lifecycle message builders. Kept in one place so every channel renders
// positions identically.

// StrangleOpened announces both buy legs filled.
func StrangleOpened(s *models.Strangle, debit float64) string {
	return fmt.Sprintf("strangle opened: %s %s for $%.2f", s.Ticker, s.Expr, debit)
}

// StrangleClosed announces a closed strangle with its net outcome.
func StrangleClosed(s *models.Strangle, debit, credit float64) string {
	return fmt.Sprintf("strangle %s: %s %s paid $%.2f collected $%.2f net $%+.2f",
		s.Result, s.Ticker, s.Expr, debit, credit, credit-debit)
}

// CondorOpened announces a filled opening spread.
func CondorOpened(c *models.Condor) string {
	return fmt.Sprintf("condor opened: %s %s credit $%.2f collateral $%.2f",
		c.Ticker, c.Expr, c.Credit, c.Collateral)
}

// CondorClosed announces a closed condor; a total loss is called out.
func CondorClosed(c *models.Condor, debit float64) string {
	if c.TotalLoss {
		return fmt.Sprintf("condor TOTAL LOSS: %s %s collected $%.2f gave back collateral $%.2f",
			c.Ticker, c.Expr, c.Credit, c.Collateral)
	}
	return fmt.Sprintf("condor closed: %s %s collected $%.2f bought back $%.2f net $%+.2f",
		c.Ticker, c.Expr, c.Credit, debit, c.Credit-debit)
}

// WeekResults renders the end-of-week summary for one expiration.
func WeekResults(expr string, lines []string, net float64) string {
	if len(lines) == 0 {
		return fmt.Sprintf("week %s: no positions closed", expr)
	}
	return fmt.Sprintf("week %s results:\n%s\nnet $%+.2f", expr, strings.Join(lines, "\n"), net)
}
