package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"

	MinPromptLength = 10
	MaxPromptLength = 5000

	// Backtests shorter than this produce statistically meaningless results
	MinBacktestDays = 60

	MinInitialCash = 10000.0
)

type BacktestRequest struct {
	Name        string   `json:"name"`
	Prompt      string   `json:"prompt"`
	Tickers     []string `json:"tickers"`
	InitialCash float64  `json:"initial_cash"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Commission  float64  `json:"commission"`
}

// Validate checks the request locally so invalid submissions never reach the engine.
func (r *BacktestRequest) Validate() error {
	if promptLen := len(strings.TrimSpace(r.Prompt)); promptLen < MinPromptLength {
		return NewValidationError("prompt", fmt.Sprintf("strategy prompt must be at least %d characters", MinPromptLength))
	} else if promptLen > MaxPromptLength {
		return NewValidationError("prompt", fmt.Sprintf("strategy prompt must be at most %d characters", MaxPromptLength))
	}

	if len(r.Tickers) == 0 {
		return NewValidationError("tickers", "at least one ticker is required")
	}

	seen := map[string]struct{}{}
	for _, ticker := range r.Tickers {
		if ticker == "" {
			return NewValidationError("tickers", "ticker symbols must be non-empty")
		}

		if _, found := seen[ticker]; found {
			return NewValidationError("tickers", fmt.Sprintf("duplicate ticker: %s", ticker))
		}

		seen[ticker] = struct{}{}
	}

	startDate, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return NewValidationError("start_date", fmt.Sprintf("start date must be in %s format", DateLayout))
	}

	endDate, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return NewValidationError("end_date", fmt.Sprintf("end date must be in %s format", DateLayout))
	}

	if !endDate.After(startDate) {
		return NewValidationError("end_date", "end date must be after start date")
	}

	if days := endDate.Sub(startDate).Hours() / 24; days < MinBacktestDays {
		return NewValidationError("end_date", fmt.Sprintf("backtest period should be at least %d days for meaningful results", MinBacktestDays))
	}

	if r.InitialCash < MinInitialCash {
		return NewValidationError("initial_cash", fmt.Sprintf("initial cash should be at least %.0f for meaningful results", MinInitialCash))
	}

	if r.Commission < 0 || r.Commission > 100 {
		return NewValidationError("commission", "commission must be between 0 and 100 percent")
	}

	return nil
}
