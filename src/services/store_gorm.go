package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quantlab/backtest-hub/src/models"
)

// DatabaseService implements UserStore and BacktestStore on gorm/postgres.
type DatabaseService struct {
	db *gorm.DB
}

func NewDatabaseService(db *gorm.DB) *DatabaseService {
	return &DatabaseService{
		db: db,
	}
}

func (s *DatabaseService) CreateUser(user *models.User) error {
	if err := s.db.Create(user).Error; err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}

	return nil
}

func (s *DatabaseService) findUser(query string, args ...interface{}) (*models.User, bool, error) {
	var user models.User
	if err := s.db.Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("findUser: %w", err)
	}

	return &user, true, nil
}

func (s *DatabaseService) FindUserByEmail(email string) (*models.User, bool, error) {
	return s.findUser("email = ?", email)
}

func (s *DatabaseService) FindUserByUsername(username string) (*models.User, bool, error) {
	return s.findUser("username = ?", username)
}

func (s *DatabaseService) FindUserByID(userID uuid.UUID) (*models.User, bool, error) {
	return s.findUser("user_id = ?", userID)
}

func (s *DatabaseService) FindUserByResetToken(token string) (*models.User, bool, error) {
	return s.findUser("reset_token = ?", token)
}

func (s *DatabaseService) UpdateUser(user *models.User) error {
	if err := s.db.Save(user).Error; err != nil {
		return fmt.Errorf("UpdateUser: %w", err)
	}

	return nil
}

func (s *DatabaseService) ListUsers() ([]models.User, error) {
	var users []models.User
	if err := s.db.Order("created_at desc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}

	return users, nil
}

func (s *DatabaseService) CreateSession(session *models.SessionToken) error {
	if err := s.db.Create(session).Error; err != nil {
		return fmt.Errorf("CreateSession: %w", err)
	}

	return nil
}

func (s *DatabaseService) FindSession(token string) (*models.SessionToken, bool, error) {
	var session models.SessionToken
	if err := s.db.Where("token = ?", token).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("FindSession: %w", err)
	}

	return &session, true, nil
}

func (s *DatabaseService) DeleteSession(token string) error {
	if err := s.db.Where("token = ?", token).Delete(&models.SessionToken{}).Error; err != nil {
		return fmt.Errorf("DeleteSession: %w", err)
	}

	return nil
}

func (s *DatabaseService) CreateBacktestRecord(record *models.BacktestRecord) error {
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("CreateBacktestRecord: %w", err)
	}

	return nil
}

func (s *DatabaseService) FindBacktestRecord(backtestID string) (*models.BacktestRecord, bool, error) {
	var record models.BacktestRecord
	if err := s.db.Where("backtest_id = ?", backtestID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("FindBacktestRecord: %w", err)
	}

	return &record, true, nil
}

func (s *DatabaseService) ListBacktestRecordsByUser(userID uuid.UUID) ([]models.BacktestRecord, error) {
	var records []models.BacktestRecord
	if err := s.db.Where("user_id = ?", userID).Order("created_at desc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("ListBacktestRecordsByUser: %w", err)
	}

	return records, nil
}

func (s *DatabaseService) DeleteBacktestRecord(backtestID string) error {
	if err := s.db.Where("backtest_id = ?", backtestID).Delete(&models.BacktestRecord{}).Error; err != nil {
		return fmt.Errorf("DeleteBacktestRecord: %w", err)
	}

	return nil
}
