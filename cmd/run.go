package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runFile    string
	runSymbol  string
	runSymbols []string

	importFile   string
	importSymbol string

	backfillSymbols []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the forecast pipeline once from a CSV file or the market-data provider",
	Example: `  market-forecast run --file data/aapl.csv --symbol AAPL
  market-forecast run --symbol AAPL
  market-forecast run --symbols AAPL,MSFT,GOOG`,
	Run: func(cmd *cobra.Command, args []string) {
		withServices(func(ctx context.Context, svc *service.Service) error {
			return runPipeline(ctx, svc.Pipeline)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Stream a CSV of daily bars into the market data store",
	Run: func(cmd *cobra.Command, args []string) {
		withServices(func(ctx context.Context, svc *service.Service) error {
			res, err := svc.Pipeline.ImportCSV(ctx, importFile, importSymbol)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d of %d bars in %d batches (symbols: %s)\n",
				res.BarsStored, res.BarsRead, res.Batches, strings.Join(res.Symbols, ","))
			return nil
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Record realized return and volatility for predictions whose target date has passed",
	Run: func(cmd *cobra.Command, args []string) {
		withServices(func(ctx context.Context, svc *service.Service) error {
			for _, symbol := range backfillSymbols {
				res, err := svc.Pipeline.BackfillActuals(ctx, symbol)
				if err != nil {
					return fmt.Errorf("backfill %s: %w", symbol, err)
				}
				fmt.Printf("%s: %d pending, %d updated\n", res.Symbol, res.Pending, res.Updated)
			}
			return nil
		})
	},
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "CSV file with daily bars")
	runCmd.Flags().StringVarP(&runSymbol, "symbol", "s", "", "symbol to fetch or to assign to file rows without one")
	runCmd.Flags().StringSliceVar(&runSymbols, "symbols", nil, "symbols for a batch provider run")
	runCmd.MarkFlagsMutuallyExclusive("file", "symbols")
	runCmd.MarkFlagsMutuallyExclusive("symbol", "symbols")

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "CSV file with daily bars")
	importCmd.Flags().StringVarP(&importSymbol, "symbol", "s", "", "symbol for rows without a symbol column")
	_ = importCmd.MarkFlagRequired("file")

	backfillCmd.Flags().StringSliceVar(&backfillSymbols, "symbols", nil, "symbols to back-fill")
	_ = backfillCmd.MarkFlagRequired("symbols")
}

func runPipeline(ctx context.Context, pipeline service.Pipeline) error {
	switch {
	case runFile != "":
		res, err := pipeline.RunFromFile(ctx, runFile, runSymbol)
		if err != nil {
			return err
		}
		printPipelineResult(res)
	case len(runSymbols) > 0:
		res, err := pipeline.RunBatch(ctx, runSymbols)
		if err != nil {
			return err
		}
		for _, symErr := range res.Errors {
			fmt.Printf("%s: failed: %v\n", symErr.Symbol, symErr.Err)
		}
		for i := range res.Predictions {
			printPrediction(&res.Predictions[i])
		}
	case runSymbol != "":
		res, err := pipeline.RunFromProvider(ctx, runSymbol)
		if err != nil {
			return err
		}
		printPipelineResult(res)
	default:
		return fmt.Errorf("one of --file, --symbol or --symbols is required")
	}
	return nil
}

func printPipelineResult(res *dto.PipelineResult) {
	fmt.Printf("Run %s (%s): %d bars loaded, %d stored, %d feature rows in %s\n",
		res.RunID, res.Source, res.BarsLoaded, res.BarsStored, res.FeatureRows,
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.Report != nil {
		fmt.Printf("Model %s trained on %d rows (%d removed, %d held out)\n",
			res.Report.ModelVersion, res.Report.RowsUsed, res.Report.RowsRemoved, res.Report.HoldoutSize)
	}
	if res.Prediction != nil {
		printPrediction(res.Prediction)
	}
}

func printPrediction(p *model.Prediction) {
	fmt.Printf("%s %s: price %.4f return %+.4f%% volatility %.4f%% confidence %.2f risk-adjusted %.3f\n",
		p.Symbol, p.TargetDate.Format(time.DateOnly), p.PredictedPrice,
		p.PredictedReturn*100, p.PredictedVolatility*100, p.ConfidenceScore, p.RiskAdjustedScore)
}

// withServices wires the dependency graph, runs fn under a signal-aware context and tears down.
func withServices(fn func(ctx context.Context, svc *service.Service) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer func() {
		if err := appDep.Close(); err != nil {
			log.Printf("Failed to close app dependency: %v", err)
		}
	}()

	_, services, err := appDep.Services()
	if err != nil {
		log.Fatalf("Failed to create services: %v", err)
	}

	if err := fn(ctx, services); err != nil {
		appDep.log.Error("Command failed", zap.Error(err))
		stop()
		_ = appDep.Close()
		os.Exit(1)
	}
}
