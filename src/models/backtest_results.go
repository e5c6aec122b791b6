package models

import (
	"encoding/json"
	"fmt"
)

// BacktestMetrics carries the named performance metrics the engine reports.
// The engine is free to attach additional named numeric metrics; those land
// in Additional instead of being dropped.
type BacktestMetrics struct {
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	Volatility   float64 `json:"volatility"`
	Sharpe       float64 `json:"sharpe"`
	Sortino      float64 `json:"sortino"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	Beta         float64 `json:"beta"`
	Alpha        float64 `json:"alpha"`

	Additional map[string]float64 `json:"-"`
}

var namedMetricKeys = []string{
	"total_return", "annual_return", "volatility", "sharpe",
	"sortino", "max_drawdown", "win_rate", "beta", "alpha",
}

// NamedMetricKeys returns the nine well-known metric keys in display order.
func NamedMetricKeys() []string {
	keys := make([]string, len(namedMetricKeys))
	copy(keys, namedMetricKeys)
	return keys
}

// Value looks up a metric by key, falling back to Additional for
// engine-specific metrics.
func (m *BacktestMetrics) Value(key string) (float64, bool) {
	switch key {
	case "total_return":
		return m.TotalReturn, true
	case "annual_return":
		return m.AnnualReturn, true
	case "volatility":
		return m.Volatility, true
	case "sharpe":
		return m.Sharpe, true
	case "sortino":
		return m.Sortino, true
	case "max_drawdown":
		return m.MaxDrawdown, true
	case "win_rate":
		return m.WinRate, true
	case "beta":
		return m.Beta, true
	case "alpha":
		return m.Alpha, true
	}

	v, found := m.Additional[key]
	return v, found
}

func (m *BacktestMetrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("BacktestMetrics.UnmarshalJSON: %w", err)
	}

	named := map[string]*float64{
		"total_return":  &m.TotalReturn,
		"annual_return": &m.AnnualReturn,
		"volatility":    &m.Volatility,
		"sharpe":        &m.Sharpe,
		"sortino":       &m.Sortino,
		"max_drawdown":  &m.MaxDrawdown,
		"win_rate":      &m.WinRate,
		"beta":          &m.Beta,
		"alpha":         &m.Alpha,
	}

	for key, value := range raw {
		if target, found := named[key]; found {
			if err := json.Unmarshal(value, target); err != nil {
				return fmt.Errorf("BacktestMetrics.UnmarshalJSON: metric %s: %w", key, err)
			}

			continue
		}

		// Unknown keys must be numeric to count as metrics; anything else is
		// a malformed payload and should fail fast at the boundary.
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("BacktestMetrics.UnmarshalJSON: additional metric %s is not numeric: %w", key, err)
		}

		if m.Additional == nil {
			m.Additional = map[string]float64{}
		}

		m.Additional[key] = v
	}

	return nil
}

func (m BacktestMetrics) MarshalJSON() ([]byte, error) {
	out := map[string]float64{
		"total_return":  m.TotalReturn,
		"annual_return": m.AnnualReturn,
		"volatility":    m.Volatility,
		"sharpe":        m.Sharpe,
		"sortino":       m.Sortino,
		"max_drawdown":  m.MaxDrawdown,
		"win_rate":      m.WinRate,
		"beta":          m.Beta,
		"alpha":         m.Alpha,
	}

	for key, value := range m.Additional {
		if _, reserved := out[key]; !reserved {
			out[key] = value
		}
	}

	return json.Marshal(out)
}

// BacktestResults is the terminal artifact of a completed backtest. Immutable
// once fetched; callers refetch for freshness instead of mutating.
type BacktestResults struct {
	BacktestID   string          `json:"backtest_id"`
	Metrics      BacktestMetrics `json:"metrics"`
	Insights     string          `json:"insights"`
	Improvements string          `json:"improvements"`
	StrategyCode string          `json:"strategy_code"`
	StartDate    string          `json:"start_date,omitempty"`
	EndDate      string          `json:"end_date,omitempty"`
}
