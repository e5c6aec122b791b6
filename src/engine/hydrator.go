package engine

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/models"
)

// ResultFetcher is the slice of Client the hydrator needs.
type ResultFetcher interface {
	GetResults(ctx context.Context, backtestID string) (*models.BacktestResults, error)
	GetTrades(ctx context.Context, backtestID string) ([]models.Trade, error)
	GetReturns(ctx context.Context, backtestID string) ([]models.ReturnData, error)
}

// SectionErrors carries the per-section outcome of a hydration. A failed
// trades fetch never suppresses successfully fetched results.
type SectionErrors struct {
	Results error
	Trades  error
	Returns error
}

func (e SectionErrors) Any() bool {
	return e.Results != nil || e.Trades != nil || e.Returns != nil
}

// HydratedResults is everything the client fetches for one completed
// backtest, with whichever sections survived.
type HydratedResults struct {
	BacktestID string
	Results    *models.BacktestResults
	Trades     []models.Trade
	Returns    []models.ReturnData
	Errors     SectionErrors
}

// Hydrator fetches the three result payloads of a terminal-completed
// backtest as independent concurrent calls, each with its own bounded
// retry, and reports per-section errors instead of one aggregate failure.
type Hydrator struct {
	fetcher ResultFetcher
	policy  RetryPolicy
}

func NewHydrator(fetcher ResultFetcher, policy RetryPolicy) *Hydrator {
	return &Hydrator{
		fetcher: fetcher,
		policy:  policy,
	}
}

func (h *Hydrator) Hydrate(ctx context.Context, backtestID string) *HydratedResults {
	hydrated := &HydratedResults{
		BacktestID: backtestID,
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()

		hydrated.Errors.Results = withRetry(ctx, h.policy, "Hydrate: results", func(ctx context.Context) error {
			results, err := h.fetcher.GetResults(ctx, backtestID)
			if err != nil {
				return err
			}

			hydrated.Results = results
			return nil
		})
	}()

	go func() {
		defer wg.Done()

		hydrated.Errors.Trades = withRetry(ctx, h.policy, "Hydrate: trades", func(ctx context.Context) error {
			trades, err := h.fetcher.GetTrades(ctx, backtestID)
			if err != nil {
				return err
			}

			hydrated.Trades = trades
			return nil
		})
	}()

	go func() {
		defer wg.Done()

		hydrated.Errors.Returns = withRetry(ctx, h.policy, "Hydrate: returns", func(ctx context.Context) error {
			returns, err := h.fetcher.GetReturns(ctx, backtestID)
			if err != nil {
				return err
			}

			hydrated.Returns = returns
			return nil
		})
	}()

	wg.Wait()

	if hydrated.Errors.Any() {
		log.Warnf("Hydrate: %s hydrated with partial failures: %v", backtestID, describeSectionErrors(hydrated.Errors))
	}

	return hydrated
}

func describeSectionErrors(errs SectionErrors) string {
	out := ""
	if errs.Results != nil {
		out += fmt.Sprintf("results: %v; ", errs.Results)
	}

	if errs.Trades != nil {
		out += fmt.Sprintf("trades: %v; ", errs.Trades)
	}

	if errs.Returns != nil {
		out += fmt.Sprintf("returns: %v; ", errs.Returns)
	}

	return out
}
