package services

import (
	"github.com/google/uuid"

	"github.com/quantlab/backtest-hub/src/models"
)

// UserStore is the persistence surface the auth service needs. The gorm
// implementation backs production; tests use the in-memory store.
type UserStore interface {
	CreateUser(user *models.User) error
	FindUserByEmail(email string) (*models.User, bool, error)
	FindUserByUsername(username string) (*models.User, bool, error)
	FindUserByID(userID uuid.UUID) (*models.User, bool, error)
	FindUserByResetToken(token string) (*models.User, bool, error)
	UpdateUser(user *models.User) error
	ListUsers() ([]models.User, error)

	CreateSession(session *models.SessionToken) error
	FindSession(token string) (*models.SessionToken, bool, error)
	DeleteSession(token string) error
}

// BacktestStore records which user owns which engine job.
type BacktestStore interface {
	CreateBacktestRecord(record *models.BacktestRecord) error
	FindBacktestRecord(backtestID string) (*models.BacktestRecord, bool, error)
	ListBacktestRecordsByUser(userID uuid.UUID) ([]models.BacktestRecord, error)
	DeleteBacktestRecord(backtestID string) error
}
