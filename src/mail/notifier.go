package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/eventpubsub"
	"github.com/quantlab/backtest-hub/src/models"
)

// UserLookup resolves user IDs carried by events to an email address.
type UserLookup interface {
	FindUserByID(userID uuid.UUID) (*models.User, bool, error)
}

type Config struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	AdminEmail string

	// AppBaseURL is the public URL of the web front end, used to build
	// reset-password links.
	AppBaseURL string
}

func (c Config) enabled() bool {
	return c.Host != "" && c.From != ""
}

// Notifier sends account and backtest lifecycle emails over SMTP. When SMTP
// is unconfigured it logs and drops messages instead of failing callers.
type Notifier struct {
	config Config
	users  UserLookup

	// send is swappable in tests.
	send func(to string, subject string, body string) error
}

func NewNotifier(config Config, users UserLookup) *Notifier {
	n := &Notifier{
		config: config,
		users:  users,
	}

	n.send = n.sendSMTP

	return n
}

// RegisterSubscribers wires the notifier to the account and backtest topics.
func (n *Notifier) RegisterSubscribers() error {
	if err := eventpubsub.Subscribe(eventpubsub.UserRegisteredEvent, n.onUserRegistered); err != nil {
		return fmt.Errorf("RegisterSubscribers: %w", err)
	}

	if err := eventpubsub.Subscribe(eventpubsub.UserApprovedEvent, n.onUserApproved); err != nil {
		return fmt.Errorf("RegisterSubscribers: %w", err)
	}

	if err := eventpubsub.Subscribe(eventpubsub.UserRejectedEvent, n.onUserRejected); err != nil {
		return fmt.Errorf("RegisterSubscribers: %w", err)
	}

	if err := eventpubsub.Subscribe(eventpubsub.PasswordResetRequestedEvent, n.onPasswordResetRequested); err != nil {
		return fmt.Errorf("RegisterSubscribers: %w", err)
	}

	if err := eventpubsub.Subscribe(eventpubsub.BacktestCompletedEvent, n.onBacktestFinished); err != nil {
		return fmt.Errorf("RegisterSubscribers: %w", err)
	}

	if err := eventpubsub.Subscribe(eventpubsub.BacktestFailedEvent, n.onBacktestFinished); err != nil {
		return fmt.Errorf("RegisterSubscribers: %w", err)
	}

	return nil
}

func (n *Notifier) onUserRegistered(event eventpubsub.UserAccountEvent) {
	if n.config.AdminEmail == "" {
		log.Warnf("no admin email configured, skipping approval notification for %s", event.Email)
		return
	}

	subject := "New user registration pending approval"
	body := fmt.Sprintf("A new user has registered and is awaiting approval.\r\n\r\nName: %s\r\nEmail: %s\r\n", event.Name, event.Email)

	n.deliver(n.config.AdminEmail, subject, body)
}

func (n *Notifier) onUserApproved(event eventpubsub.UserAccountEvent) {
	subject := "Your account has been approved"
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour account has been approved. You can now log in and run backtests.\r\n", event.Name)

	n.deliver(event.Email, subject, body)
}

func (n *Notifier) onUserRejected(event eventpubsub.UserAccountEvent) {
	subject := "Your account registration was not approved"
	body := fmt.Sprintf("Hi %s,\r\n\r\nUnfortunately your account registration was not approved.\r\n", event.Name)

	n.deliver(event.Email, subject, body)
}

func (n *Notifier) onPasswordResetRequested(event eventpubsub.PasswordResetEvent) {
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(n.config.AppBaseURL, "/"), event.ResetToken)

	subject := "Password reset request"
	body := fmt.Sprintf("Hi %s,\r\n\r\nA password reset was requested for your account. The link below is valid for one hour:\r\n\r\n%s\r\n\r\nIf you did not request this, you can ignore this email.\r\n", event.Name, resetURL)

	n.deliver(event.Email, subject, body)
}

func (n *Notifier) onBacktestFinished(event eventpubsub.BacktestLifecycleEvent) {
	user, found, err := n.users.FindUserByID(event.UserID)
	if err != nil || !found {
		log.Warnf("onBacktestFinished: could not resolve user %s: %v", event.UserID, err)
		return
	}

	name := event.Name
	if name == "" {
		name = event.BacktestID
	}

	subject := fmt.Sprintf("Backtest %q finished", name)
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour backtest %q has finished.\r\n\r\n%s\r\n", user.Name, name, event.Message)

	n.deliver(user.Email, subject, body)
}

func (n *Notifier) deliver(to string, subject string, body string) {
	if !n.config.enabled() {
		log.Infof("mail disabled, dropping %q to %s", subject, to)
		return
	}

	if err := n.send(to, subject, body); err != nil {
		log.Errorf("failed to send %q to %s: %v", subject, to, err)
	}
}

func (n *Notifier) sendSMTP(to string, subject string, body string) error {
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", n.config.From, to, subject, body)

	addr := fmt.Sprintf("%s:%s", n.config.Host, n.config.Port)

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}

	if err := smtp.SendMail(addr, auth, n.config.From, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("sendSMTP: %w", err)
	}

	return nil
}
