package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/models"
)

// StatusFetcher is the slice of Client the poller needs.
type StatusFetcher interface {
	GetStatus(ctx context.Context, backtestID string) (*models.BacktestStatus, error)
}

// PollCallbacks receive lifecycle updates for one backtest. OnCompleted and
// OnFailed are terminal: exactly one of them fires, exactly once, unless the
// poller is stopped first. No callback fires after Stop returns its effect.
type PollCallbacks struct {
	// OnStatus fires on every non-terminal update, with Progress populated
	// by the local simulation.
	OnStatus func(status *models.BacktestStatus)

	OnCompleted func(status *models.BacktestStatus)
	OnFailed    func(status *models.BacktestStatus)

	// OnConnectivityWarning fires when transient poll errors exceed the
	// retry ceiling. Polling continues: the engine job may still be running.
	OnConnectivityWarning func(err error)
}

// StatusPoller drives the poll state machine for a single backtest:
// PENDING/RUNNING -> (poll) -> {PENDING/RUNNING, COMPLETED, FAILED}.
//
// The first poll fires as soon as Start is called (the submission response
// already carries the initial state); subsequent polls back off from the
// policy's initial interval up to its cap. Polls are strictly sequential:
// the next poll is only scheduled once the previous response is handled.
type StatusPoller struct {
	fetcher   StatusFetcher
	policy    RetryPolicy
	scheduler Scheduler

	mu         sync.Mutex
	timer      Timer
	stopped    bool
	terminated bool
	interval   time.Duration
	retries    int
	progress   float64

	backtestID string
	callbacks  PollCallbacks
}

func NewStatusPoller(fetcher StatusFetcher, policy RetryPolicy, scheduler Scheduler) *StatusPoller {
	return &StatusPoller{
		fetcher:   fetcher,
		policy:    policy,
		scheduler: scheduler,
	}
}

// Start begins polling backtestID. It returns immediately; callbacks fire on
// the scheduler's goroutines.
func (p *StatusPoller) Start(ctx context.Context, backtestID string, callbacks PollCallbacks) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.backtestID != "" {
		return fmt.Errorf("StatusPoller.Start: poller already started for %s", p.backtestID)
	}

	p.backtestID = backtestID
	p.callbacks = callbacks
	p.interval = p.policy.InitialInterval

	p.timer = p.scheduler.AfterFunc(0, func() {
		p.poll(ctx)
	})

	return nil
}

// Stop cancels any pending poll timer. After Stop, no callback fires; a late
// in-flight response is dropped.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *StatusPoller) poll(ctx context.Context) {
	p.mu.Lock()
	if p.stopped || p.terminated {
		p.mu.Unlock()
		return
	}
	backtestID := p.backtestID
	p.mu.Unlock()

	status, err := p.fetcher.GetStatus(ctx, backtestID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.terminated {
		// The consumer went away while the request was in flight.
		return
	}

	if err != nil {
		p.retries++
		log.Warnf("StatusPoller: poll %s failed (retry %d): %v", backtestID, p.retries, err)

		if p.retries > p.policy.MaxRetries && p.callbacks.OnConnectivityWarning != nil {
			p.callbacks.OnConnectivityWarning(fmt.Errorf("connection error while checking backtest status (the backtest may still be running): %w", err))
		}

		p.schedule(ctx, p.interval*2)
		return
	}

	switch status.Status {
	case models.BacktestStateCompleted:
		p.terminated = true
		p.progress = 100
		status.Progress = &p.progress

		if p.callbacks.OnCompleted != nil {
			p.callbacks.OnCompleted(status)
		}
	case models.BacktestStateFailed:
		p.terminated = true

		if status.Message == "" {
			status.Message = "backtest failed"
		}

		if p.callbacks.OnFailed != nil {
			p.callbacks.OnFailed(status)
		}
	default:
		p.advanceProgress()
		status.Progress = &p.progress

		if p.callbacks.OnStatus != nil {
			p.callbacks.OnStatus(status)
		}

		next := p.interval
		p.interval = p.policy.Next(p.interval)
		p.schedule(ctx, next)
	}
}

// schedule must be called with the mutex held.
func (p *StatusPoller) schedule(ctx context.Context, delay time.Duration) {
	p.timer = p.scheduler.AfterFunc(delay, func() {
		p.poll(ctx)
	})
}

// advanceProgress simulates forward progress between real updates. It slows
// down as it climbs and never reaches 100 on its own.
func (p *StatusPoller) advanceProgress() {
	switch {
	case p.progress < 50:
		p.progress = minFloat(p.progress+8, 50)
	case p.progress < 80:
		p.progress = minFloat(p.progress+4, 80)
	default:
		p.progress = minFloat(p.progress+1, 95)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}

	return b
}
