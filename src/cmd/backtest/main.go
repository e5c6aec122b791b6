package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantlab/backtest-hub/src/engine"
	"github.com/quantlab/backtest-hub/src/models"
	"github.com/quantlab/backtest-hub/src/services"
	"github.com/quantlab/backtest-hub/src/utils"
)

type RunArgs struct {
	Name        string
	Tickers     []string
	StartDate   string
	EndDate     string
	InitialCash float64
	Commission  float64
	Prompt      string
	OutDir      string
}

var runCmd = &cobra.Command{
	Use:   "go run src/cmd/backtest/main.go --tickers AAPL --start 2020-01-01 --end 2021-01-01 --cash 10000 --outDir results",
	Short: "Submit a backtest, wait for it to finish and export the results",
	Run: func(cmd *cobra.Command, args []string) {
		name, err := cmd.Flags().GetString("name")
		if err != nil {
			log.Fatalf("error getting name: %v", err)
		}

		tickers, err := cmd.Flags().GetStringSlice("tickers")
		if err != nil {
			log.Fatalf("error getting tickers: %v", err)
		}

		startDate, err := cmd.Flags().GetString("start")
		if err != nil {
			log.Fatalf("error getting start: %v", err)
		}

		endDate, err := cmd.Flags().GetString("end")
		if err != nil {
			log.Fatalf("error getting end: %v", err)
		}

		initialCash, err := cmd.Flags().GetFloat64("cash")
		if err != nil {
			log.Fatalf("error getting cash: %v", err)
		}

		commission, err := cmd.Flags().GetFloat64("commission")
		if err != nil {
			log.Fatalf("error getting commission: %v", err)
		}

		prompt, err := cmd.Flags().GetString("prompt")
		if err != nil {
			log.Fatalf("error getting prompt: %v", err)
		}

		outDir, err := cmd.Flags().GetString("outDir")
		if err != nil {
			log.Fatalf("error getting outDir: %v", err)
		}

		if err := Run(RunArgs{
			Name:        name,
			Tickers:     tickers,
			StartDate:   startDate,
			EndDate:     endDate,
			InitialCash: initialCash,
			Commission:  commission,
			Prompt:      prompt,
			OutDir:      outDir,
		}); err != nil {
			log.Fatalf("Error: %v", err)
		}

		log.Info("Done")
	},
}

func Run(args RunArgs) error {
	ctx := context.Background()
	goEnv := "development"

	projectsDir := os.Getenv("PROJECTS_DIR")
	if projectsDir == "" {
		return fmt.Errorf("missing PROJECTS_DIR environment variable")
	}

	if err := utils.InitEnvironmentVariables(projectsDir, goEnv); err != nil {
		return fmt.Errorf("failed to init environment variables: %w", err)
	}

	engineURL, err := utils.GetEnv("ENGINE_URL")
	if err != nil {
		return err
	}

	engineToken, err := utils.GetEnv("ENGINE_API_TOKEN")
	if err != nil {
		return err
	}

	client := engine.NewClient(engineURL, func() string { return engineToken })

	request := &models.BacktestRequest{
		Name:        args.Name,
		Tickers:     args.Tickers,
		StartDate:   args.StartDate,
		EndDate:     args.EndDate,
		InitialCash: args.InitialCash,
		Commission:  args.Commission,
		Prompt:      args.Prompt,
	}

	status, err := client.SubmitBacktest(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to submit backtest: %w", err)
	}

	log.Infof("submitted backtest %s", status.BacktestID)

	final, err := waitForBacktest(ctx, client, status.BacktestID)
	if err != nil {
		return err
	}

	if final.Status == models.BacktestStateFailed {
		return fmt.Errorf("backtest %s failed: %s", final.BacktestID, final.Message)
	}

	hydrated := engine.NewHydrator(client, engine.DefaultRetryPolicy).Hydrate(ctx, final.BacktestID)
	if hydrated.Errors.Results != nil {
		return fmt.Errorf("failed to fetch results: %w", hydrated.Errors.Results)
	}

	renderMetrics(os.Stdout, hydrated.Results)

	if hydrated.Errors.Trades != nil {
		log.Warnf("failed to fetch trades: %v", hydrated.Errors.Trades)
	} else if args.OutDir != "" {
		if err := exportTrades(args.OutDir, final.BacktestID, hydrated.Trades); err != nil {
			return err
		}
	}

	renderTradeSummary(os.Stdout, hydrated.Trades)

	return nil
}

// waitForBacktest blocks until the poller reports a terminal state.
func waitForBacktest(ctx context.Context, client *engine.Client, backtestID string) (*models.BacktestStatus, error) {
	poller := engine.NewStatusPoller(client, engine.DefaultRetryPolicy, engine.NewScheduler())
	done := make(chan *models.BacktestStatus, 1)

	callbacks := engine.PollCallbacks{
		OnStatus: func(status *models.BacktestStatus) {
			if status.Progress != nil {
				log.Infof("backtest %s: %s (%.0f%%)", backtestID, status.Status, *status.Progress)
			}
		},
		OnCompleted: func(status *models.BacktestStatus) {
			done <- status
		},
		OnFailed: func(status *models.BacktestStatus) {
			done <- status
		},
		OnConnectivityWarning: func(err error) {
			log.Warnf("%v", err)
		},
	}

	if err := poller.Start(ctx, backtestID, callbacks); err != nil {
		return nil, fmt.Errorf("failed to start poller: %w", err)
	}

	defer poller.Stop()

	select {
	case status := <-done:
		return status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func renderMetrics(out *os.File, results *models.BacktestResults) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, key := range models.NamedMetricKeys() {
		if value, ok := results.Metrics.Value(key); ok {
			table.Append([]string{key, fmt.Sprintf("%.4f", value)})
		}
	}

	for key, value := range results.Metrics.Additional {
		table.Append([]string{key, fmt.Sprintf("%.4f", value)})
	}

	table.Render()
}

func renderTradeSummary(out *os.File, trades []models.Trade) {
	summary := services.SummarizeTrades(trades)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Trades", "Wins", "Losses", "Win Rate", "Total PnL", "Avg Return", "Best", "Worst"})
	table.Append([]string{
		fmt.Sprintf("%d", summary.TotalTrades),
		fmt.Sprintf("%d", summary.WinningTrades),
		fmt.Sprintf("%d", summary.LosingTrades),
		fmt.Sprintf("%.1f%%", summary.WinRate),
		fmt.Sprintf("%.2f", summary.TotalPnl),
		fmt.Sprintf("%.2f%%", summary.AvgReturn),
		fmt.Sprintf("%.2f", summary.BestTradePnl),
		fmt.Sprintf("%.2f", summary.WorstTradePnl),
	})

	table.Render()
}

func exportTrades(outDir string, backtestID string, trades []models.Trade) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outPath := filepath.Join(outDir, fmt.Sprintf("trades_%s.csv", backtestID))

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}

	defer f.Close()

	if err := gocsv.MarshalFile(&trades, f); err != nil {
		return fmt.Errorf("failed to write trades csv: %w", err)
	}

	log.Infof("wrote %d trades to %s", len(trades), outPath)

	return nil
}

func main() {
	runCmd.PersistentFlags().String("name", "", "A display name for the backtest.")
	runCmd.PersistentFlags().StringSlice("tickers", nil, "The ticker symbols to backtest.")
	runCmd.PersistentFlags().String("start", "", "The backtest start date (YYYY-MM-DD).")
	runCmd.PersistentFlags().String("end", "", "The backtest end date (YYYY-MM-DD).")
	runCmd.PersistentFlags().Float64("cash", models.MinInitialCash, "The initial cash balance.")
	runCmd.PersistentFlags().Float64("commission", 0, "The commission percentage per trade.")
	runCmd.PersistentFlags().String("prompt", "", "The strategy prompt to backtest.")
	runCmd.PersistentFlags().String("outDir", "", "The directory to write the trades csv to.")

	runCmd.MarkPersistentFlagRequired("tickers")
	runCmd.MarkPersistentFlagRequired("start")
	runCmd.MarkPersistentFlagRequired("end")
	runCmd.MarkPersistentFlagRequired("prompt")

	runCmd.Execute()
}
