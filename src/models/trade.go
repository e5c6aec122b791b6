package models

// Trade is one closed position reported by the engine. Read-only.
type Trade struct {
	ID                int     `json:"id" csv:"id"`
	Ticker            string  `json:"ticker" csv:"ticker"`
	TradeType         string  `json:"trade_type" csv:"trade_type"`
	EntryDate         string  `json:"entry_date" csv:"entry_date"`
	ExitDate          string  `json:"exit_date" csv:"exit_date"`
	EntryPrice        float64 `json:"entry_price" csv:"entry_price"`
	ExitPrice         float64 `json:"exit_price" csv:"exit_price"`
	Pnl               float64 `json:"pnl" csv:"pnl"`
	ReturnsPercentage float64 `json:"returns_percentage" csv:"returns_percentage"`
}

// ReturnData is one time bucket of strategy vs benchmark returns. Read-only.
type ReturnData struct {
	Date            string  `json:"date" csv:"date"`
	StrategyReturn  float64 `json:"strategy_return" csv:"strategy_return"`
	BenchmarkReturn float64 `json:"benchmark_return" csv:"benchmark_return"`
}

// DatabaseInfo describes the engine's price database coverage.
type DatabaseInfo struct {
	DatabasePath string  `json:"database_path,omitempty"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
}
