// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundToCents rounds x to cent precision.
func RoundToCents(x float64) float64 {
	return math.Round(x*100) / 100
}

// Ticks describes the price increment schedule of an option contract.
// Above CutoffPrice the exchange quotes in AboveTick increments, below it
// in BelowTick increments.
type Ticks struct {
	CutoffPrice float64 `json:"cutoff_price"`
	AboveTick   float64 `json:"above_tick"`
	BelowTick   float64 `json:"below_tick"`
}

// Increment returns the tick increment that applies at the given price.
func (t Ticks) Increment(price float64) float64 {
	if price > t.CutoffPrice {
		return t.AboveTick
	}
	return t.BelowTick
}

// Snap rounds price to the tick grid that applies at that price.
func (t Ticks) Snap(price float64) float64 {
	return RoundToCents(RoundToTick(price, t.Increment(price)))
}
