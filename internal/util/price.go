// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToStep rounds price to the nearest multiple of step, halves away from
// zero. For example, with step=100, 19449 rounds to 19400 and 19450 to 19500.
func RoundToStep(price float64, step int) int {
	if step <= 0 {
		return int(math.Round(price))
	}
	s := float64(step)
	return int(math.Round(price/s) * s)
}
