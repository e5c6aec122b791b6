package services

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quantlab/backtest-hub/src/models"
)

// InMemoryStore implements UserStore and BacktestStore without a database.
// Used by tests and by the CLI when no postgres is available.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*models.User
	sessions map[string]*models.SessionToken
	records  map[string]*models.BacktestRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    map[uuid.UUID]*models.User{},
		sessions: map[string]*models.SessionToken{},
		records:  map[string]*models.BacktestRecord{},
	}
}

func (s *InMemoryStore) CreateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.users[user.UserID]; found {
		return fmt.Errorf("CreateUser: user already exists: %s", user.UserID)
	}

	clone := *user
	s.users[user.UserID] = &clone

	return nil
}

func (s *InMemoryStore) findUser(match func(*models.User) bool) (*models.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if match(user) {
			clone := *user
			return &clone, true, nil
		}
	}

	return nil, false, nil
}

func (s *InMemoryStore) FindUserByEmail(email string) (*models.User, bool, error) {
	return s.findUser(func(u *models.User) bool { return u.Email == email })
}

func (s *InMemoryStore) FindUserByUsername(username string) (*models.User, bool, error) {
	return s.findUser(func(u *models.User) bool { return u.Username == username })
}

func (s *InMemoryStore) FindUserByID(userID uuid.UUID) (*models.User, bool, error) {
	return s.findUser(func(u *models.User) bool { return u.UserID == userID })
}

func (s *InMemoryStore) FindUserByResetToken(token string) (*models.User, bool, error) {
	return s.findUser(func(u *models.User) bool {
		return u.ResetToken != nil && *u.ResetToken == token
	})
}

func (s *InMemoryStore) UpdateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.users[user.UserID]; !found {
		return fmt.Errorf("UpdateUser: user not found: %s", user.UserID)
	}

	clone := *user
	s.users[user.UserID] = &clone

	return nil
}

func (s *InMemoryStore) ListUsers() ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, *user)
	}

	return users, nil
}

func (s *InMemoryStore) CreateSession(session *models.SessionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.Token] = &clone

	return nil
}

func (s *InMemoryStore) FindSession(token string) (*models.SessionToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, found := s.sessions[token]
	if !found {
		return nil, false, nil
	}

	clone := *session
	return &clone, true, nil
}

func (s *InMemoryStore) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)

	return nil
}

func (s *InMemoryStore) CreateBacktestRecord(record *models.BacktestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.records[record.BacktestID]; found {
		return fmt.Errorf("CreateBacktestRecord: record already exists: %s", record.BacktestID)
	}

	clone := *record
	s.records[record.BacktestID] = &clone

	return nil
}

func (s *InMemoryStore) FindBacktestRecord(backtestID string) (*models.BacktestRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, found := s.records[backtestID]
	if !found {
		return nil, false, nil
	}

	clone := *record
	return &clone, true, nil
}

func (s *InMemoryStore) ListBacktestRecordsByUser(userID uuid.UUID) ([]models.BacktestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []models.BacktestRecord
	for _, record := range s.records {
		if record.UserID == userID {
			records = append(records, *record)
		}
	}

	return records, nil
}

func (s *InMemoryStore) DeleteBacktestRecord(backtestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, backtestID)

	return nil
}
