package models

import "time"

type BacktestState string

const (
	BacktestStatePending   BacktestState = "pending"
	BacktestStateRunning   BacktestState = "running"
	BacktestStateCompleted BacktestState = "completed"
	BacktestStateFailed    BacktestState = "failed"
)

// IsTerminal reports whether no further state transition can occur.
func (s BacktestState) IsTerminal() bool {
	return s == BacktestStateCompleted || s == BacktestStateFailed
}

func (s BacktestState) IsValid() bool {
	switch s {
	case BacktestStatePending, BacktestStateRunning, BacktestStateCompleted, BacktestStateFailed:
		return true
	}

	return false
}

// BacktestStatus is the engine's authoritative view of one backtest job. The
// client never mutates it except for Progress, which is simulated locally
// while waiting for the next real update.
type BacktestStatus struct {
	BacktestID string        `json:"backtest_id"`
	Status     BacktestState `json:"status"`
	Message    string        `json:"message"`
	CreatedAt  *time.Time    `json:"created_at,omitempty"`
	Progress   *float64      `json:"progress,omitempty"`
}
