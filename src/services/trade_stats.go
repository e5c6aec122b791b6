package services

import (
	"github.com/montanaflynn/stats"

	"github.com/quantlab/backtest-hub/src/models"
)

// TradeSummary aggregates a trade list for display alongside the report.
type TradeSummary struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnl      float64 `json:"total_pnl"`
	AvgReturn     float64 `json:"avg_return"`
	ReturnStdDev  float64 `json:"return_std_dev"`
	BestTradePnl  float64 `json:"best_trade_pnl"`
	WorstTradePnl float64 `json:"worst_trade_pnl"`
}

// SummarizeTrades computes summary statistics over closed trades. An empty
// list yields the zero summary.
func SummarizeTrades(trades []models.Trade) TradeSummary {
	summary := TradeSummary{
		TotalTrades: len(trades),
	}

	if len(trades) == 0 {
		return summary
	}

	pnls := make([]float64, 0, len(trades))
	returns := make([]float64, 0, len(trades))

	for _, trade := range trades {
		if trade.Pnl > 0 {
			summary.WinningTrades++
		} else if trade.Pnl < 0 {
			summary.LosingTrades++
		}

		summary.TotalPnl += trade.Pnl
		pnls = append(pnls, trade.Pnl)
		returns = append(returns, trade.ReturnsPercentage)
	}

	summary.WinRate = float64(summary.WinningTrades) / float64(summary.TotalTrades) * 100

	if mean, err := stats.Mean(returns); err == nil {
		summary.AvgReturn = mean
	}

	if stdDev, err := stats.StandardDeviationSample(returns); err == nil {
		summary.ReturnStdDev = stdDev
	}

	if best, err := stats.Max(pnls); err == nil {
		summary.BestTradePnl = best
	}

	if worst, err := stats.Min(pnls); err == nil {
		summary.WorstTradePnl = worst
	}

	return summary
}
