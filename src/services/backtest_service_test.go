package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/backtest-hub/src/engine"
	"github.com/quantlab/backtest-hub/src/eventpubsub"
	"github.com/quantlab/backtest-hub/src/models"
)

// fakeEngine implements EngineAPI with per-method fixtures.
type fakeEngine struct {
	mu sync.Mutex

	nextID   int
	statuses map[string]*models.BacktestStatus
	results  map[string]*models.BacktestResults
	trades   map[string][]models.Trade
	returns  map[string][]models.ReturnData

	statusErr  error
	resultsErr error

	resultCalls int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		statuses: map[string]*models.BacktestStatus{},
		results:  map[string]*models.BacktestResults{},
		trades:   map[string][]models.Trade{},
		returns:  map[string][]models.ReturnData{},
	}
}

func (f *fakeEngine) SubmitBacktest(ctx context.Context, request *models.BacktestRequest) (*models.BacktestStatus, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("bt-%d", f.nextID)

	status := &models.BacktestStatus{BacktestID: id, Status: models.BacktestStatePending}
	f.statuses[id] = status

	return status, nil
}

func (f *fakeEngine) GetStatus(ctx context.Context, backtestID string) (*models.BacktestStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.statusErr != nil {
		return nil, f.statusErr
	}

	status, found := f.statuses[backtestID]
	if !found {
		return nil, models.NewAPIError(http.StatusNotFound, "backtest not found")
	}

	clone := *status
	return &clone, nil
}

func (f *fakeEngine) GetResults(ctx context.Context, backtestID string) (*models.BacktestResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resultCalls++

	if f.resultsErr != nil {
		return nil, f.resultsErr
	}

	results, found := f.results[backtestID]
	if !found {
		return nil, models.NewAPIError(http.StatusNotFound, "results not ready")
	}

	return results, nil
}

func (f *fakeEngine) GetTrades(ctx context.Context, backtestID string) ([]models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.trades[backtestID], nil
}

func (f *fakeEngine) GetReturns(ctx context.Context, backtestID string) ([]models.ReturnData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.returns[backtestID], nil
}

func (f *fakeEngine) DeleteBacktest(ctx context.Context, backtestID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, found := f.statuses[backtestID]; !found {
		return "", models.NewAPIError(http.StatusNotFound, "backtest not found")
	}

	delete(f.statuses, backtestID)
	return fmt.Sprintf("backtest %s deleted", backtestID), nil
}

func (f *fakeEngine) DownloadReport(ctx context.Context, backtestID string, format engine.ReportFormat) (io.ReadCloser, string, error) {
	return io.NopCloser(strings.NewReader("metric,value\n")), "text/csv", nil
}

func (f *fakeEngine) GetTickers(ctx context.Context) ([]string, error) {
	return []string{"AAPL", "MSFT"}, nil
}

func (f *fakeEngine) GetDatabaseInfo(ctx context.Context) (*models.DatabaseInfo, error) {
	return &models.DatabaseInfo{}, nil
}

func (f *fakeEngine) setStatus(backtestID string, state models.BacktestState, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statuses[backtestID] = &models.BacktestStatus{BacktestID: backtestID, Status: state, Message: message}
}

// manualScheduler queues callbacks and fires them only when told to, so the
// poll loop advances deterministically.
type manualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

type manualTimer struct{}

func (manualTimer) Stop() bool { return true }

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) engine.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, f)
	return manualTimer{}
}

func (s *manualScheduler) fire(t *testing.T) {
	t.Helper()

	s.mu.Lock()
	require.NotEmpty(t, s.queue, "no scheduled poll to fire")
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	next()
}

var fastPolicy = engine.RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	Multiplier:      1.5,
	MaxRetries:      1,
}

func newTestBacktestService() (*BacktestService, *fakeEngine, *manualScheduler, *InMemoryStore) {
	eventpubsub.Init()

	store := NewInMemoryStore()
	fake := newFakeEngine()
	scheduler := &manualScheduler{}

	return NewBacktestService(store, fake, fastPolicy, scheduler), fake, scheduler, store
}

func testUser(role models.UserRole) *models.User {
	return &models.User{
		UserID:   uuid.New(),
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Username: "ada",
		Role:     role,
		Status:   models.UserStatusApproved,
	}
}

func runRequest() *models.BacktestRequest {
	return &models.BacktestRequest{
		Name:        "momentum",
		Prompt:      "Buy when the 50 day moving average crosses above the 200 day moving average.",
		Tickers:     []string{"AAPL"},
		InitialCash: 100000,
		StartDate:   "2020-01-01",
		EndDate:     "2021-01-01",
	}
}

func TestBacktestServiceRun(t *testing.T) {
	t.Run("submission records ownership and starts polling", func(t *testing.T) {
		service, _, scheduler, store := newTestBacktestService()
		user := testUser(models.UserRoleUser)

		status, err := service.Run(context.Background(), user, runRequest())
		require.NoError(t, err)
		require.Equal(t, "bt-1", status.BacktestID)

		record, found, err := store.FindBacktestRecord("bt-1")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, user.UserID, record.UserID)
		require.Equal(t, "momentum", record.Name)

		// The first poll was scheduled immediately.
		scheduler.mu.Lock()
		pending := len(scheduler.queue)
		scheduler.mu.Unlock()
		require.Equal(t, 1, pending)
	})

	t.Run("invalid requests never submit", func(t *testing.T) {
		service, _, _, store := newTestBacktestService()

		req := runRequest()
		req.InitialCash = 5000

		_, err := service.Run(context.Background(), testUser(models.UserRoleUser), req)
		require.Error(t, err)

		_, found, err := store.FindBacktestRecord("bt-1")
		require.NoError(t, err)
		require.False(t, found)
	})
}

func TestBacktestServiceAuthorization(t *testing.T) {
	service, _, _, _ := newTestBacktestService()
	owner := testUser(models.UserRoleUser)
	stranger := testUser(models.UserRoleUser)
	admin := testUser(models.UserRoleAdmin)

	_, err := service.Run(context.Background(), owner, runRequest())
	require.NoError(t, err)

	t.Run("owner can read", func(t *testing.T) {
		_, err := service.GetStatus(context.Background(), owner, "bt-1")
		require.NoError(t, err)
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		_, err := service.GetStatus(context.Background(), stranger, "bt-1")

		var webErr *models.WebError
		require.ErrorAs(t, err, &webErr)
		require.Equal(t, http.StatusForbidden, webErr.StatusCode)
	})

	t.Run("admin can read anything", func(t *testing.T) {
		_, err := service.GetStatus(context.Background(), admin, "bt-1")
		require.NoError(t, err)
	})

	t.Run("unknown backtests are not found", func(t *testing.T) {
		_, err := service.GetStatus(context.Background(), owner, "bt-404")

		var webErr *models.WebError
		require.ErrorAs(t, err, &webErr)
		require.Equal(t, http.StatusNotFound, webErr.StatusCode)
	})
}

func TestBacktestServiceSubscribe(t *testing.T) {
	t.Run("subscribers see updates and the channel closes on completion", func(t *testing.T) {
		service, fake, scheduler, _ := newTestBacktestService()
		user := testUser(models.UserRoleUser)

		status, err := service.Run(context.Background(), user, runRequest())
		require.NoError(t, err)

		updates, cancel := service.Subscribe(status.BacktestID)
		defer cancel()

		fake.setStatus(status.BacktestID, models.BacktestStateRunning, "")
		scheduler.fire(t)

		update := <-updates
		require.Equal(t, models.BacktestStateRunning, update.Status)
		require.NotNil(t, update.Progress)

		fake.setStatus(status.BacktestID, models.BacktestStateCompleted, "")
		scheduler.fire(t)

		update, open := <-updates
		require.True(t, open)
		require.Equal(t, models.BacktestStateCompleted, update.Status)
		require.Equal(t, 100.0, *update.Progress)

		_, open = <-updates
		require.False(t, open, "channel must close after the terminal update")
	})

	t.Run("subscribing to a finished backtest yields a closed channel", func(t *testing.T) {
		service, _, _, _ := newTestBacktestService()

		updates, cancel := service.Subscribe("bt-done")
		defer cancel()

		_, open := <-updates
		require.False(t, open)
	})
}

func TestBacktestServiceHydrationCache(t *testing.T) {
	t.Run("clean hydrations are cached", func(t *testing.T) {
		service, fake, _, _ := newTestBacktestService()
		user := testUser(models.UserRoleUser)

		status, err := service.Run(context.Background(), user, runRequest())
		require.NoError(t, err)

		fake.results[status.BacktestID] = &models.BacktestResults{BacktestID: status.BacktestID}
		fake.trades[status.BacktestID] = []models.Trade{{ID: 1, Pnl: 50}}

		first, err := service.GetHydrated(context.Background(), user, status.BacktestID)
		require.NoError(t, err)
		require.False(t, first.Errors.Any())

		callsAfterFirst := fake.resultCalls

		second, err := service.GetHydrated(context.Background(), user, status.BacktestID)
		require.NoError(t, err)
		require.Same(t, first, second)
		require.Equal(t, callsAfterFirst, fake.resultCalls)
	})

	t.Run("partial hydrations are refetched", func(t *testing.T) {
		service, fake, _, _ := newTestBacktestService()
		user := testUser(models.UserRoleUser)

		status, err := service.Run(context.Background(), user, runRequest())
		require.NoError(t, err)

		// Results missing: section error, nothing cached.
		first, err := service.GetHydrated(context.Background(), user, status.BacktestID)
		require.NoError(t, err)
		require.Error(t, first.Errors.Results)

		fake.mu.Lock()
		fake.results[status.BacktestID] = &models.BacktestResults{BacktestID: status.BacktestID}
		fake.mu.Unlock()

		second, err := service.GetHydrated(context.Background(), user, status.BacktestID)
		require.NoError(t, err)
		require.False(t, second.Errors.Any())
	})
}

func TestBacktestServiceListDegradation(t *testing.T) {
	service, fake, _, _ := newTestBacktestService()
	user := testUser(models.UserRoleUser)

	_, err := service.Run(context.Background(), user, runRequest())
	require.NoError(t, err)

	fake.mu.Lock()
	fake.statusErr = fmt.Errorf("connection refused")
	fake.mu.Unlock()

	statuses, err := service.ListUserBacktests(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, models.BacktestStatePending, statuses[0].Status)
	require.Contains(t, statuses[0].Message, "could not be reached")
}

func TestBacktestServiceDelete(t *testing.T) {
	service, _, _, store := newTestBacktestService()
	user := testUser(models.UserRoleUser)

	status, err := service.Run(context.Background(), user, runRequest())
	require.NoError(t, err)

	message, err := service.Delete(context.Background(), user, status.BacktestID)
	require.NoError(t, err)
	require.Contains(t, message, "deleted")

	_, found, err := store.FindBacktestRecord(status.BacktestID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestBacktestServiceCompare(t *testing.T) {
	service, fake, _, _ := newTestBacktestService()
	owner := testUser(models.UserRoleUser)
	stranger := testUser(models.UserRoleUser)

	first, err := service.Run(context.Background(), owner, runRequest())
	require.NoError(t, err)

	second, err := service.Run(context.Background(), owner, runRequest())
	require.NoError(t, err)

	fake.results[first.BacktestID] = &models.BacktestResults{BacktestID: first.BacktestID}
	fake.results[second.BacktestID] = &models.BacktestResults{BacktestID: second.BacktestID}

	t.Run("owner compares own backtests", func(t *testing.T) {
		comparison, err := service.Compare(context.Background(), owner, []string{first.BacktestID, second.BacktestID})
		require.NoError(t, err)
		require.Len(t, comparison.Entries, 2)
	})

	t.Run("every id must be owned", func(t *testing.T) {
		_, err := service.Compare(context.Background(), stranger, []string{first.BacktestID, second.BacktestID})

		var webErr *models.WebError
		require.ErrorAs(t, err, &webErr)
		require.Equal(t, http.StatusForbidden, webErr.StatusCode)
	})
}
