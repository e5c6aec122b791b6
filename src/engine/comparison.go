package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/quantlab/backtest-hub/src/models"
)

// MaxCompareBacktests caps a comparison fan-out.
const MaxCompareBacktests = 5

// ComparisonEntry is the per-identifier outcome of a comparison fetch. A slow
// or failing identifier never blocks the others.
type ComparisonEntry struct {
	BacktestID string                  `json:"backtest_id"`
	Results    *models.BacktestResults `json:"results,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// Comparison aligns the same metric names across several backtests for
// side-by-side analysis.
type Comparison struct {
	BacktestIDs []string                    `json:"backtest_ids"`
	Entries     map[string]*ComparisonEntry `json:"entries"`
}

type comparisonResultsFetcher interface {
	GetResults(ctx context.Context, backtestID string) (*models.BacktestResults, error)
}

// Compare fetches results for up to MaxCompareBacktests identifiers
// concurrently. Entries are keyed by identifier so arrival order is
// irrelevant; each entry carries its own error state.
func Compare(ctx context.Context, fetcher comparisonResultsFetcher, backtestIDs []string) (*Comparison, error) {
	if len(backtestIDs) == 0 {
		return nil, fmt.Errorf("Compare: no backtest ids provided")
	}

	if len(backtestIDs) > MaxCompareBacktests {
		return nil, fmt.Errorf("Compare: at most %d backtests can be compared, got %d", MaxCompareBacktests, len(backtestIDs))
	}

	seen := map[string]struct{}{}
	for _, id := range backtestIDs {
		if _, found := seen[id]; found {
			return nil, fmt.Errorf("Compare: duplicate backtest id: %s", id)
		}

		seen[id] = struct{}{}
	}

	comparison := &Comparison{
		BacktestIDs: backtestIDs,
		Entries:     make(map[string]*ComparisonEntry, len(backtestIDs)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, backtestID := range backtestIDs {
		wg.Add(1)

		go func(id string) {
			defer wg.Done()

			entry := &ComparisonEntry{
				BacktestID: id,
			}

			results, err := fetcher.GetResults(ctx, id)
			if err != nil {
				entry.Error = err.Error()
			} else {
				entry.Results = results
			}

			mu.Lock()
			comparison.Entries[id] = entry
			mu.Unlock()
		}(backtestID)
	}

	wg.Wait()

	return comparison, nil
}

// MetricRow is one aligned row of the comparison table: a metric name plus
// one value per compared backtest, in BacktestIDs order. Nil marks a
// backtest whose results are missing or lack the metric.
type MetricRow struct {
	Key    string
	Values []*float64
}

// MetricTable produces rows for the nine named metrics followed by any
// additional metrics present in at least one entry, sorted by key.
func (c *Comparison) MetricTable() []MetricRow {
	keys := models.NamedMetricKeys()

	extraSet := map[string]struct{}{}
	for _, entry := range c.Entries {
		if entry.Results == nil {
			continue
		}

		for key := range entry.Results.Metrics.Additional {
			extraSet[key] = struct{}{}
		}
	}

	extras := make([]string, 0, len(extraSet))
	for key := range extraSet {
		extras = append(extras, key)
	}

	sort.Strings(extras)
	keys = append(keys, extras...)

	rows := make([]MetricRow, 0, len(keys))
	for _, key := range keys {
		row := MetricRow{
			Key:    key,
			Values: make([]*float64, 0, len(c.BacktestIDs)),
		}

		for _, id := range c.BacktestIDs {
			entry, found := c.Entries[id]
			if !found || entry.Results == nil {
				row.Values = append(row.Values, nil)
				continue
			}

			if value, ok := entry.Results.Metrics.Value(key); ok {
				v := value
				row.Values = append(row.Values, &v)
			} else {
				row.Values = append(row.Values, nil)
			}
		}

		rows = append(rows, row)
	}

	return rows
}

// WriteCSV renders the metric table with one column per backtest.
func (c *Comparison) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	header := append([]string{"metric"}, c.BacktestIDs...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("Comparison.WriteCSV: failed to write header: %w", err)
	}

	for _, row := range c.MetricTable() {
		record := []string{row.Key}
		for _, value := range row.Values {
			if value == nil {
				record = append(record, "")
			} else {
				record = append(record, fmt.Sprintf("%f", *value))
			}
		}

		if err := writer.Write(record); err != nil {
			return fmt.Errorf("Comparison.WriteCSV: failed to write row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}
