// Package straddle implements the straddle scheduling and execution engine:
// the daily scheduler, the per-run execution state machine, and the
// trailing-stop evaluation used during monitoring.
package straddle

import "time"

// Trailing-stop policy constants. Candidates for per-strategy configuration,
// kept fixed for now.
const (
	trailingStopRatio    = 0.7
	peakRatchetThreshold = 0.10
	hardCapMultiple      = 2.0
)

// ExitReason identifies which exit rule fired.
type ExitReason string

const (
	// ExitStopLoss fires when the loss reaches the stop-loss threshold.
	ExitStopLoss ExitReason = "stop_loss"
	// ExitTimeLimit fires when the wall clock passes the strategy exit time.
	ExitTimeLimit ExitReason = "time_limit"
	// ExitTarget fires when the target is reached with trailing disabled.
	ExitTarget ExitReason = "target"
	// ExitTrailingStop fires when PnL falls back to the trailing stop level.
	ExitTrailingStop ExitReason = "trailing_stop"
	// ExitHardCap fires when PnL reaches twice the target.
	ExitHardCap ExitReason = "hard_cap"
	// ExitDeactivated records a run stopped because its strategy was switched
	// off mid-flight. Never produced by the tracker; the monitoring loop uses
	// it when closing out without orders.
	ExitDeactivated ExitReason = "deactivated"
)

// TrailingStopTracker decides per monitoring tick whether a run should exit.
// State belongs to exactly one run's monitoring loop and is discarded with it.
type TrailingStopTracker struct {
	target   float64
	stopLoss float64
	trailing bool

	activated bool
	peak      float64
	stop      float64
}

// NewTrailingStopTracker creates a tracker for one run.
func NewTrailingStopTracker(target, stopLoss float64, trailing bool) *TrailingStopTracker {
	return &TrailingStopTracker{
		target:   target,
		stopLoss: stopLoss,
		trailing: trailing,
	}
}

// Activated reports whether trailing has been armed.
func (t *TrailingStopTracker) Activated() bool { return t.activated }

// Peak returns the highest PnL observed since trailing activated.
func (t *TrailingStopTracker) Peak() float64 { return t.peak }

// Stop returns the current trailing stop level.
func (t *TrailingStopTracker) Stop() float64 { return t.stop }

// Evaluate applies the exit rules in order: stop-loss, time limit, then
// target/trailing. It returns whether to exit and which rule fired. The
// activation tick never exits by itself; the hard profit cap at 2x target
// exits regardless of trailing state.
func (t *TrailingStopTracker) Evaluate(pnl float64, now, exitAt time.Time) (bool, ExitReason) {
	if t.stopLoss > 0 && pnl <= -t.stopLoss {
		return true, ExitStopLoss
	}

	if now.After(exitAt) {
		return true, ExitTimeLimit
	}

	if t.target <= 0 {
		return false, ""
	}

	if !t.trailing {
		if pnl >= t.target {
			return true, ExitTarget
		}
		return false, ""
	}

	if pnl >= t.target*hardCapMultiple {
		return true, ExitHardCap
	}

	if !t.activated {
		if pnl >= t.target {
			t.activated = true
			t.peak = pnl
			t.stop = t.target * trailingStopRatio
		}
		return false, ""
	}

	if pnl >= t.peak*(1+peakRatchetThreshold) {
		t.peak = pnl
		t.stop = pnl * trailingStopRatio
	}

	if pnl <= t.stop {
		return true, ExitTrailingStop
	}
	return false, ""
}
