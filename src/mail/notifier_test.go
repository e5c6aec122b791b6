package mail

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/backtest-hub/src/eventpubsub"
	"github.com/quantlab/backtest-hub/src/models"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

type mailRecorder struct {
	mu   sync.Mutex
	sent []sentMail
}

func (r *mailRecorder) send(to string, subject string, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (r *mailRecorder) all() []sentMail {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]sentMail, len(r.sent))
	copy(out, r.sent)
	return out
}

type staticUserLookup struct {
	users map[uuid.UUID]*models.User
}

func (l *staticUserLookup) FindUserByID(userID uuid.UUID) (*models.User, bool, error) {
	user, found := l.users[userID]
	return user, found, nil
}

func newTestNotifier(t *testing.T, users *staticUserLookup) (*Notifier, *mailRecorder) {
	t.Helper()

	eventpubsub.Init()

	notifier := NewNotifier(Config{
		Host:       "smtp.example.com",
		Port:       "587",
		From:       "noreply@example.com",
		AdminEmail: "admin@example.com",
		AppBaseURL: "https://hub.example.com/",
	}, users)

	recorder := &mailRecorder{}
	notifier.send = recorder.send

	require.NoError(t, notifier.RegisterSubscribers())

	return notifier, recorder
}

func TestNotifier(t *testing.T) {
	userID := uuid.New()
	users := &staticUserLookup{users: map[uuid.UUID]*models.User{
		userID: {UserID: userID, Name: "Ada Lovelace", Email: "ada@example.com"},
	}}

	t.Run("registration notifies the admin mailbox", func(t *testing.T) {
		_, recorder := newTestNotifier(t, users)

		eventpubsub.Publish(eventpubsub.UserRegisteredEvent, eventpubsub.UserAccountEvent{
			UserID: userID,
			Name:   "Ada Lovelace",
			Email:  "ada@example.com",
		})
		eventpubsub.WaitAsync()

		sent := recorder.all()
		require.Len(t, sent, 1)
		require.Equal(t, "admin@example.com", sent[0].to)
		require.Contains(t, sent[0].body, "ada@example.com")
	})

	t.Run("approval and rejection mail the user", func(t *testing.T) {
		_, recorder := newTestNotifier(t, users)

		event := eventpubsub.UserAccountEvent{UserID: userID, Name: "Ada Lovelace", Email: "ada@example.com"}
		eventpubsub.Publish(eventpubsub.UserApprovedEvent, event)
		eventpubsub.Publish(eventpubsub.UserRejectedEvent, event)
		eventpubsub.WaitAsync()

		sent := recorder.all()
		require.Len(t, sent, 2)
		for _, mail := range sent {
			require.Equal(t, "ada@example.com", mail.to)
		}
	})

	t.Run("reset mail carries the tokenized link", func(t *testing.T) {
		_, recorder := newTestNotifier(t, users)

		eventpubsub.Publish(eventpubsub.PasswordResetRequestedEvent, eventpubsub.PasswordResetEvent{
			UserID:     userID,
			Name:       "Ada Lovelace",
			Email:      "ada@example.com",
			ResetToken: "deadbeef",
		})
		eventpubsub.WaitAsync()

		sent := recorder.all()
		require.Len(t, sent, 1)
		require.Contains(t, sent[0].body, "https://hub.example.com/reset-password?token=deadbeef")
	})

	t.Run("finished backtests resolve the owner's address", func(t *testing.T) {
		_, recorder := newTestNotifier(t, users)

		eventpubsub.Publish(eventpubsub.BacktestCompletedEvent, eventpubsub.BacktestLifecycleEvent{
			BacktestID: "bt-1",
			UserID:     userID,
			Name:       "momentum",
			Message:    "finished in 42s",
		})
		eventpubsub.WaitAsync()

		sent := recorder.all()
		require.Len(t, sent, 1)
		require.Equal(t, "ada@example.com", sent[0].to)
		require.Contains(t, sent[0].subject, "momentum")
	})

	t.Run("unknown owners are dropped without error", func(t *testing.T) {
		_, recorder := newTestNotifier(t, users)

		eventpubsub.Publish(eventpubsub.BacktestFailedEvent, eventpubsub.BacktestLifecycleEvent{
			BacktestID: "bt-2",
			UserID:     uuid.New(),
		})
		eventpubsub.WaitAsync()

		require.Empty(t, recorder.all())
	})

	t.Run("disabled smtp drops mail instead of failing", func(t *testing.T) {
		eventpubsub.Init()

		notifier := NewNotifier(Config{}, users)
		notifier.send = func(to, subject, body string) error {
			return fmt.Errorf("send must not be called when disabled")
		}

		notifier.deliver("ada@example.com", "subject", "body")
	})
}
