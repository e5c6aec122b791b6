package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantlab/backtest-hub/src/models"
)

type mapResultsFetcher struct {
	results map[string]*models.BacktestResults
}

func (f *mapResultsFetcher) GetResults(ctx context.Context, backtestID string) (*models.BacktestResults, error) {
	results, found := f.results[backtestID]
	if !found {
		return nil, fmt.Errorf("no results for %s", backtestID)
	}

	return results, nil
}

func TestCompare(t *testing.T) {
	fetcher := &mapResultsFetcher{results: map[string]*models.BacktestResults{
		"bt-1": {BacktestID: "bt-1", Metrics: models.BacktestMetrics{Sharpe: 1.5, TotalReturn: 42}},
		"bt-2": {BacktestID: "bt-2", Metrics: models.BacktestMetrics{Sharpe: 0.9, TotalReturn: 12, Additional: map[string]float64{"calmar": 0.8}}},
	}}

	t.Run("entries are keyed by id and carry per-id errors", func(t *testing.T) {
		comparison, err := Compare(context.Background(), fetcher, []string{"bt-1", "bt-missing", "bt-2"})
		require.NoError(t, err)

		require.Len(t, comparison.Entries, 3)
		require.NotNil(t, comparison.Entries["bt-1"].Results)
		require.NotNil(t, comparison.Entries["bt-2"].Results)

		missing := comparison.Entries["bt-missing"]
		require.Nil(t, missing.Results)
		require.Contains(t, missing.Error, "bt-missing")
	})

	t.Run("rejects empty, oversized and duplicate id sets", func(t *testing.T) {
		_, err := Compare(context.Background(), fetcher, nil)
		require.Error(t, err)

		_, err = Compare(context.Background(), fetcher, []string{"a", "b", "c", "d", "e", "f"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "at most 5")

		_, err = Compare(context.Background(), fetcher, []string{"bt-1", "bt-1"})
		require.Error(t, err)
	})

	t.Run("metric table aligns named metrics then sorted extras", func(t *testing.T) {
		comparison, err := Compare(context.Background(), fetcher, []string{"bt-1", "bt-2"})
		require.NoError(t, err)

		rows := comparison.MetricTable()
		require.Len(t, rows, 10)

		require.Equal(t, "total_return", rows[0].Key)
		require.Equal(t, 42.0, *rows[0].Values[0])
		require.Equal(t, 12.0, *rows[0].Values[1])

		last := rows[len(rows)-1]
		require.Equal(t, "calmar", last.Key)
		require.Nil(t, last.Values[0])
		require.Equal(t, 0.8, *last.Values[1])
	})

	t.Run("csv has one column per backtest and blanks for missing values", func(t *testing.T) {
		comparison, err := Compare(context.Background(), fetcher, []string{"bt-1", "bt-2"})
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, comparison.WriteCSV(&buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Equal(t, "metric,bt-1,bt-2", lines[0])
		require.Len(t, lines, 11)

		require.True(t, strings.HasPrefix(lines[len(lines)-1], "calmar,,"))
	})
}
