package eventpubsub

import "github.com/google/uuid"

// UserAccountEvent is published on registration and on admin approval or
// rejection.
type UserAccountEvent struct {
	UserID uuid.UUID
	Name   string
	Email  string
}

// PasswordResetEvent carries the reset token to the mail notifier.
type PasswordResetEvent struct {
	UserID     uuid.UUID
	Name       string
	Email      string
	ResetToken string
}

// BacktestLifecycleEvent is published when a backtest reaches a terminal
// state.
type BacktestLifecycleEvent struct {
	BacktestID string
	UserID     uuid.UUID
	Name       string
	Message    string
}
