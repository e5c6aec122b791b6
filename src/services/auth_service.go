package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/quantlab/backtest-hub/src/eventpubsub"
	"github.com/quantlab/backtest-hub/src/models"
)

const (
	bcryptCost       = 12
	sessionTokenTTL  = 24 * time.Hour
	resetTokenTTL    = time.Hour
	tokenByteLength  = 32
	minPasswordChars = 8
)

// AuthService owns registration, login, admin approval and password reset.
// New accounts are pending until an admin approves them; pending and rejected
// accounts cannot log in.
type AuthService struct {
	store UserStore
	now   func() time.Time
}

func NewAuthService(store UserStore) *AuthService {
	return &AuthService{
		store: store,
		now:   time.Now,
	}
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *RegisterRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return models.NewValidationError("name", "name is required")
	}

	if !strings.Contains(r.Email, "@") {
		return models.NewValidationError("email", "a valid email is required")
	}

	if strings.TrimSpace(r.Username) == "" {
		return models.NewValidationError("username", "username is required")
	}

	if len(r.Password) < minPasswordChars {
		return models.NewValidationError("password", fmt.Sprintf("password must be at least %d characters", minPasswordChars))
	}

	return nil
}

// Register creates a pending account and notifies the admin mailbox. The new
// user cannot log in until approved.
func (s *AuthService) Register(req *RegisterRequest) (*models.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, found, err := s.store.FindUserByEmail(req.Email); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	} else if found {
		return nil, models.NewWebError(http.StatusConflict, "a user with this email already exists", nil)
	}

	if _, found, err := s.store.FindUserByUsername(req.Username); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	} else if found {
		return nil, models.NewWebError(http.StatusConflict, "a user with this username already exists", nil)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("Register: failed to hash password: %w", err)
	}

	user := &models.User{
		UserID:       uuid.New(),
		Name:         req.Name,
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(passwordHash),
		Role:         models.UserRoleUser,
		Status:       models.UserStatusPending,
	}

	if err := s.store.CreateUser(user); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	log.Infof("registered new user %s (%s), pending approval", user.Username, user.Email)

	eventpubsub.Publish(eventpubsub.UserRegisteredEvent, eventpubsub.UserAccountEvent{
		UserID: user.UserID,
		Name:   user.Name,
		Email:  user.Email,
	})

	return user, nil
}

// Login verifies credentials and returns a bearer session token. Only
// approved accounts may log in.
func (s *AuthService) Login(username string, password string) (string, *models.User, error) {
	user, found, err := s.store.FindUserByUsername(username)
	if err != nil {
		return "", nil, fmt.Errorf("Login: %w", err)
	}

	if !found {
		return "", nil, models.NewWebError(http.StatusUnauthorized, "invalid username or password", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, models.NewWebError(http.StatusUnauthorized, "invalid username or password", nil)
	}

	switch user.Status {
	case models.UserStatusApproved:
	case models.UserStatusPending:
		return "", nil, models.NewWebError(http.StatusForbidden, "your account is pending approval", nil)
	default:
		return "", nil, models.NewWebError(http.StatusForbidden, "your account has been rejected", nil)
	}

	token, err := generateToken(tokenByteLength)
	if err != nil {
		return "", nil, fmt.Errorf("Login: %w", err)
	}

	session := &models.SessionToken{
		Token:     token,
		UserID:    user.UserID,
		ExpiresAt: s.now().Add(sessionTokenTTL),
	}

	if err := s.store.CreateSession(session); err != nil {
		return "", nil, fmt.Errorf("Login: %w", err)
	}

	return token, user, nil
}

// Authenticate resolves a bearer token to its user, treating expired
// sessions as absent.
func (s *AuthService) Authenticate(token string) (*models.User, error) {
	session, found, err := s.store.FindSession(token)
	if err != nil {
		return nil, fmt.Errorf("Authenticate: %w", err)
	}

	if !found || session.IsExpired(s.now()) {
		return nil, models.NewWebError(http.StatusUnauthorized, "invalid or expired session", nil)
	}

	user, found, err := s.store.FindUserByID(session.UserID)
	if err != nil {
		return nil, fmt.Errorf("Authenticate: %w", err)
	}

	if !found {
		return nil, models.NewWebError(http.StatusUnauthorized, "invalid or expired session", nil)
	}

	return user, nil
}

func (s *AuthService) Logout(token string) error {
	if err := s.store.DeleteSession(token); err != nil {
		return fmt.Errorf("Logout: %w", err)
	}

	return nil
}

// UpdateUserStatus transitions a user between pending/approved/rejected and
// publishes the matching account event on an actual transition.
func (s *AuthService) UpdateUserStatus(userID uuid.UUID, status models.UserStatus) (*models.User, error) {
	if !status.IsValid() {
		return nil, models.NewWebError(http.StatusBadRequest, fmt.Sprintf("invalid status: %s", status), nil)
	}

	user, found, err := s.store.FindUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("UpdateUserStatus: %w", err)
	}

	if !found {
		return nil, models.NewWebError(http.StatusNotFound, "user not found", nil)
	}

	previous := user.Status
	user.Status = status

	if err := s.store.UpdateUser(user); err != nil {
		return nil, fmt.Errorf("UpdateUserStatus: %w", err)
	}

	event := eventpubsub.UserAccountEvent{
		UserID: user.UserID,
		Name:   user.Name,
		Email:  user.Email,
	}

	if status == models.UserStatusApproved && previous != models.UserStatusApproved {
		eventpubsub.Publish(eventpubsub.UserApprovedEvent, event)
	} else if status == models.UserStatusRejected && previous != models.UserStatusRejected {
		eventpubsub.Publish(eventpubsub.UserRejectedEvent, event)
	}

	return user, nil
}

func (s *AuthService) ListUsers() ([]models.User, error) {
	return s.store.ListUsers()
}

// RequestPasswordReset issues a one-hour reset token. It succeeds silently
// for unknown emails so the endpoint cannot be used to probe accounts.
func (s *AuthService) RequestPasswordReset(email string) error {
	user, found, err := s.store.FindUserByEmail(email)
	if err != nil {
		return fmt.Errorf("RequestPasswordReset: %w", err)
	}

	if !found {
		log.Infof("password reset requested for unknown email %s", email)
		return nil
	}

	token, err := generateToken(tokenByteLength)
	if err != nil {
		return fmt.Errorf("RequestPasswordReset: %w", err)
	}

	expiry := s.now().Add(resetTokenTTL)
	user.ResetToken = &token
	user.ResetTokenExpiry = &expiry

	if err := s.store.UpdateUser(user); err != nil {
		return fmt.Errorf("RequestPasswordReset: %w", err)
	}

	eventpubsub.Publish(eventpubsub.PasswordResetRequestedEvent, eventpubsub.PasswordResetEvent{
		UserID:     user.UserID,
		Name:       user.Name,
		Email:      user.Email,
		ResetToken: token,
	})

	return nil
}

// ResetPassword consumes a reset token. Tokens are single-use and expire
// after an hour.
func (s *AuthService) ResetPassword(token string, newPassword string) error {
	if len(newPassword) < minPasswordChars {
		return models.NewValidationError("password", fmt.Sprintf("password must be at least %d characters", minPasswordChars))
	}

	user, found, err := s.store.FindUserByResetToken(token)
	if err != nil {
		return fmt.Errorf("ResetPassword: %w", err)
	}

	if !found || user.ResetTokenExpiry == nil || s.now().After(*user.ResetTokenExpiry) {
		return models.NewWebError(http.StatusBadRequest, "invalid or expired reset token", nil)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("ResetPassword: failed to hash password: %w", err)
	}

	user.PasswordHash = string(passwordHash)
	user.ResetToken = nil
	user.ResetTokenExpiry = nil

	if err := s.store.UpdateUser(user); err != nil {
		return fmt.Errorf("ResetPassword: %w", err)
	}

	return nil
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generateToken: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
