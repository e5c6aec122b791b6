package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/engine"
	"github.com/quantlab/backtest-hub/src/eventpubsub"
	"github.com/quantlab/backtest-hub/src/models"
)

// EngineAPI is the full engine client surface the service depends on.
// *engine.Client satisfies it; tests substitute a fake.
type EngineAPI interface {
	SubmitBacktest(ctx context.Context, request *models.BacktestRequest) (*models.BacktestStatus, error)
	GetStatus(ctx context.Context, backtestID string) (*models.BacktestStatus, error)
	GetResults(ctx context.Context, backtestID string) (*models.BacktestResults, error)
	GetTrades(ctx context.Context, backtestID string) ([]models.Trade, error)
	GetReturns(ctx context.Context, backtestID string) ([]models.ReturnData, error)
	DeleteBacktest(ctx context.Context, backtestID string) (string, error)
	DownloadReport(ctx context.Context, backtestID string, format engine.ReportFormat) (io.ReadCloser, string, error)
	GetTickers(ctx context.Context) ([]string, error)
	GetDatabaseInfo(ctx context.Context) (*models.DatabaseInfo, error)
}

// BacktestService orchestrates the backtest lifecycle on behalf of users:
// ownership records, one status poller per submitted job, a session-scoped
// cache of hydrated results, and status fan-out to websocket subscribers.
type BacktestService struct {
	store     BacktestStore
	engineAPI EngineAPI
	policy    engine.RetryPolicy
	scheduler engine.Scheduler

	mu          sync.Mutex
	pollers     map[string]*engine.StatusPoller
	cache       map[string]*engine.HydratedResults
	subscribers map[string]map[int]chan models.BacktestStatus
	nextSubID   int
}

func NewBacktestService(store BacktestStore, engineAPI EngineAPI, policy engine.RetryPolicy, scheduler engine.Scheduler) *BacktestService {
	return &BacktestService{
		store:       store,
		engineAPI:   engineAPI,
		policy:      policy,
		scheduler:   scheduler,
		pollers:     map[string]*engine.StatusPoller{},
		cache:       map[string]*engine.HydratedResults{},
		subscribers: map[string]map[int]chan models.BacktestStatus{},
	}
}

// Run validates and submits a backtest, records ownership, and starts the
// status poller that drives progress fan-out and terminal events.
func (s *BacktestService) Run(ctx context.Context, user *models.User, request *models.BacktestRequest) (*models.BacktestStatus, error) {
	status, err := s.engineAPI.SubmitBacktest(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	record := &models.BacktestRecord{
		BacktestID: status.BacktestID,
		UserID:     user.UserID,
		Name:       request.Name,
	}

	if err := s.store.CreateBacktestRecord(record); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	s.startPolling(user, record)

	return status, nil
}

func (s *BacktestService) startPolling(user *models.User, record *models.BacktestRecord) {
	poller := engine.NewStatusPoller(s.engineAPI, s.policy, s.scheduler)

	s.mu.Lock()
	s.pollers[record.BacktestID] = poller
	s.mu.Unlock()

	// Poll lifetime is the job's, not the submitting request's.
	ctx := context.Background()

	callbacks := engine.PollCallbacks{
		OnStatus: func(status *models.BacktestStatus) {
			s.broadcast(record.BacktestID, status)
		},
		OnCompleted: func(status *models.BacktestStatus) {
			log.Infof("backtest %s completed", record.BacktestID)
			s.broadcast(record.BacktestID, status)
			s.finishPolling(record.BacktestID)

			eventpubsub.Publish(eventpubsub.BacktestCompletedEvent, eventpubsub.BacktestLifecycleEvent{
				BacktestID: record.BacktestID,
				UserID:     user.UserID,
				Name:       record.Name,
				Message:    status.Message,
			})
		},
		OnFailed: func(status *models.BacktestStatus) {
			log.Warnf("backtest %s failed: %s", record.BacktestID, status.Message)
			s.broadcast(record.BacktestID, status)
			s.finishPolling(record.BacktestID)

			eventpubsub.Publish(eventpubsub.BacktestFailedEvent, eventpubsub.BacktestLifecycleEvent{
				BacktestID: record.BacktestID,
				UserID:     user.UserID,
				Name:       record.Name,
				Message:    status.Message,
			})
		},
		OnConnectivityWarning: func(err error) {
			log.Warnf("backtest %s: %v", record.BacktestID, err)
		},
	}

	if err := poller.Start(ctx, record.BacktestID, callbacks); err != nil {
		log.Errorf("startPolling: %v", err)
	}
}

func (s *BacktestService) finishPolling(backtestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pollers, backtestID)

	for _, ch := range s.subscribers[backtestID] {
		close(ch)
	}

	delete(s.subscribers, backtestID)
}

func (s *BacktestService) broadcast(backtestID string, status *models.BacktestStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subscribers[backtestID] {
		select {
		case ch <- *status:
		default:
			// Slow consumer: drop the update, the next poll supersedes it.
		}
	}
}

// Subscribe returns a channel of status updates for one backtest. The
// channel closes when the job reaches a terminal state. Cancel must be
// called when the consumer goes away.
func (s *BacktestService) Subscribe(backtestID string) (<-chan models.BacktestStatus, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan models.BacktestStatus, 8)

	if _, polling := s.pollers[backtestID]; !polling {
		// Already terminal (or never submitted here): nothing to stream.
		close(ch)
		return ch, func() {}
	}

	if s.subscribers[backtestID] == nil {
		s.subscribers[backtestID] = map[int]chan models.BacktestStatus{}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[backtestID][id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if sub, found := s.subscribers[backtestID][id]; found {
			delete(s.subscribers[backtestID], id)
			close(sub)
		}
	}

	return ch, cancel
}

// authorize checks that user owns backtestID.
func (s *BacktestService) authorize(user *models.User, backtestID string) error {
	record, found, err := s.store.FindBacktestRecord(backtestID)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	if !found {
		return models.NewWebError(http.StatusNotFound, "backtest not found", nil)
	}

	if record.UserID != user.UserID && !user.IsAdmin() {
		return models.NewWebError(http.StatusForbidden, "backtest belongs to another user", nil)
	}

	return nil
}

func (s *BacktestService) GetStatus(ctx context.Context, user *models.User, backtestID string) (*models.BacktestStatus, error) {
	if err := s.authorize(user, backtestID); err != nil {
		return nil, err
	}

	return s.engineAPI.GetStatus(ctx, backtestID)
}

// GetHydrated returns the cached hydration for a completed backtest,
// fetching it on first access. Hydrations with failed sections are not
// cached, so a refetch can heal them.
func (s *BacktestService) GetHydrated(ctx context.Context, user *models.User, backtestID string) (*engine.HydratedResults, error) {
	if err := s.authorize(user, backtestID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached, found := s.cache[backtestID]
	s.mu.Unlock()

	if found {
		return cached, nil
	}

	hydrated := engine.NewHydrator(s.engineAPI, s.policy).Hydrate(ctx, backtestID)

	if !hydrated.Errors.Any() {
		s.mu.Lock()
		s.cache[backtestID] = hydrated
		s.mu.Unlock()
	}

	return hydrated, nil
}

func (s *BacktestService) GetResults(ctx context.Context, user *models.User, backtestID string) (*models.BacktestResults, error) {
	if err := s.authorize(user, backtestID); err != nil {
		return nil, err
	}

	return s.engineAPI.GetResults(ctx, backtestID)
}

func (s *BacktestService) GetTrades(ctx context.Context, user *models.User, backtestID string) ([]models.Trade, error) {
	if err := s.authorize(user, backtestID); err != nil {
		return nil, err
	}

	return s.engineAPI.GetTrades(ctx, backtestID)
}

func (s *BacktestService) GetReturns(ctx context.Context, user *models.User, backtestID string) ([]models.ReturnData, error) {
	if err := s.authorize(user, backtestID); err != nil {
		return nil, err
	}

	return s.engineAPI.GetReturns(ctx, backtestID)
}

// ListUserBacktests fetches live status for every backtest the user owns.
// An unreachable engine degrades to a pending status with a warning message
// rather than failing the whole listing.
func (s *BacktestService) ListUserBacktests(ctx context.Context, user *models.User) ([]models.BacktestStatus, error) {
	records, err := s.store.ListBacktestRecordsByUser(user.UserID)
	if err != nil {
		return nil, fmt.Errorf("ListUserBacktests: %w", err)
	}

	statuses := make([]models.BacktestStatus, 0, len(records))
	for _, record := range records {
		status, err := s.engineAPI.GetStatus(ctx, record.BacktestID)
		if err != nil {
			log.Warnf("ListUserBacktests: failed to fetch status for %s: %v", record.BacktestID, err)

			statuses = append(statuses, models.BacktestStatus{
				BacktestID: record.BacktestID,
				Status:     models.BacktestStatePending,
				Message:    "status unavailable: engine could not be reached",
			})

			continue
		}

		statuses = append(statuses, *status)
	}

	return statuses, nil
}

func (s *BacktestService) Delete(ctx context.Context, user *models.User, backtestID string) (string, error) {
	if err := s.authorize(user, backtestID); err != nil {
		return "", err
	}

	message, err := s.engineAPI.DeleteBacktest(ctx, backtestID)
	if err != nil {
		return "", fmt.Errorf("Delete: %w", err)
	}

	if err := s.store.DeleteBacktestRecord(backtestID); err != nil {
		return "", fmt.Errorf("Delete: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, backtestID)
	if poller, found := s.pollers[backtestID]; found {
		poller.Stop()
		delete(s.pollers, backtestID)
	}
	s.mu.Unlock()

	return message, nil
}

func (s *BacktestService) DownloadReport(ctx context.Context, user *models.User, backtestID string, format engine.ReportFormat) (io.ReadCloser, string, error) {
	if err := s.authorize(user, backtestID); err != nil {
		return nil, "", err
	}

	return s.engineAPI.DownloadReport(ctx, backtestID, format)
}

// Compare fans out result fetches for up to engine.MaxCompareBacktests
// backtests the user owns.
func (s *BacktestService) Compare(ctx context.Context, user *models.User, backtestIDs []string) (*engine.Comparison, error) {
	for _, backtestID := range backtestIDs {
		if err := s.authorize(user, backtestID); err != nil {
			return nil, err
		}
	}

	return engine.Compare(ctx, s.engineAPI, backtestIDs)
}

func (s *BacktestService) GetTickers(ctx context.Context) ([]string, error) {
	return s.engineAPI.GetTickers(ctx)
}

func (s *BacktestService) GetDatabaseInfo(ctx context.Context) (*models.DatabaseInfo, error) {
	return s.engineAPI.GetDatabaseInfo(ctx)
}

// StopAll cancels every live poller. Called on shutdown.
func (s *BacktestService) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, poller := range s.pollers {
		poller.Stop()
		delete(s.pollers, id)
	}

	for id, subs := range s.subscribers {
		for _, ch := range subs {
			close(ch)
		}

		delete(s.subscribers, id)
	}
}
