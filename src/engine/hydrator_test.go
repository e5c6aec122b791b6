package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantlab/backtest-hub/src/models"
)

type fakeResultFetcher struct {
	results    *models.BacktestResults
	resultsErr error
	trades     []models.Trade
	tradesErr  error
	returns    []models.ReturnData
	returnsErr error
}

func (f *fakeResultFetcher) GetResults(ctx context.Context, backtestID string) (*models.BacktestResults, error) {
	return f.results, f.resultsErr
}

func (f *fakeResultFetcher) GetTrades(ctx context.Context, backtestID string) ([]models.Trade, error) {
	return f.trades, f.tradesErr
}

func (f *fakeResultFetcher) GetReturns(ctx context.Context, backtestID string) ([]models.ReturnData, error) {
	return f.returns, f.returnsErr
}

var fastPolicy = RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	Multiplier:      1.5,
	MaxRetries:      1,
}

func TestHydrator(t *testing.T) {
	t.Run("all sections load", func(t *testing.T) {
		fetcher := &fakeResultFetcher{
			results: &models.BacktestResults{BacktestID: "bt-1"},
			trades:  []models.Trade{{ID: 1, Ticker: "AAPL", Pnl: 120}},
			returns: []models.ReturnData{{Date: "2020-01-02", StrategyReturn: 0.4}},
		}

		hydrated := NewHydrator(fetcher, fastPolicy).Hydrate(context.Background(), "bt-1")

		require.False(t, hydrated.Errors.Any())
		require.Equal(t, "bt-1", hydrated.BacktestID)
		require.NotNil(t, hydrated.Results)
		require.Len(t, hydrated.Trades, 1)
		require.Len(t, hydrated.Returns, 1)
	})

	t.Run("a failing section does not suppress the others", func(t *testing.T) {
		fetcher := &fakeResultFetcher{
			results:   &models.BacktestResults{BacktestID: "bt-2"},
			tradesErr: models.NewAPIError(http.StatusNotFound, "no trades recorded"),
			returns:   []models.ReturnData{{Date: "2020-01-02"}},
		}

		hydrated := NewHydrator(fetcher, fastPolicy).Hydrate(context.Background(), "bt-2")

		require.True(t, hydrated.Errors.Any())
		require.NoError(t, hydrated.Errors.Results)
		require.Error(t, hydrated.Errors.Trades)
		require.NoError(t, hydrated.Errors.Returns)

		require.NotNil(t, hydrated.Results)
		require.Nil(t, hydrated.Trades)
		require.Len(t, hydrated.Returns, 1)
	})

	t.Run("every section can fail independently", func(t *testing.T) {
		fetcher := &fakeResultFetcher{
			resultsErr: models.NewAPIError(http.StatusInternalServerError, "boom"),
			tradesErr:  models.NewAPIError(http.StatusInternalServerError, "boom"),
			returnsErr: models.NewAPIError(http.StatusInternalServerError, "boom"),
		}

		hydrated := NewHydrator(fetcher, fastPolicy).Hydrate(context.Background(), "bt-3")

		require.Error(t, hydrated.Errors.Results)
		require.Error(t, hydrated.Errors.Trades)
		require.Error(t, hydrated.Errors.Returns)
	})
}
