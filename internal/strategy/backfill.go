package strategy

import (
	"context"
	"errors"

	"market-forecast/internal/dto"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/utils"
)

// ActualsBackfiller fills realized outcomes into past predictions.
type ActualsBackfiller interface {
	BackfillActuals(ctx context.Context, symbol string) (*dto.BackfillResult, error)
}

type BackfillResult struct {
	Symbol  string `json:"symbol"`
	Pending int    `json:"pending"`
	Updated int    `json:"updated"`
	Error   string `json:"error,omitempty"`
}

type BackfillActualsStrategy struct {
	log        *logger.Logger
	backfiller ActualsBackfiller
}

func NewBackfillActualsStrategy(log *logger.Logger, backfiller ActualsBackfiller) JobExecutionStrategy {
	return &BackfillActualsStrategy{
		log:        log,
		backfiller: backfiller,
	}
}

func (s *BackfillActualsStrategy) GetType() JobType {
	return JobTypeBackfillActuals
}

func (s *BackfillActualsStrategy) Execute(ctx context.Context, job Job) (JobResult, error) {
	if len(job.Symbols) == 0 {
		return JobResult{ExitCode: JOB_EXIT_CODE_SKIPPED, Output: "no symbols configured"}, nil
	}

	var (
		results []BackfillResult
		errs    []error
	)
	for _, symbol := range job.Symbols {
		if !utils.ShouldContinue(ctx, s.log) {
			return JobResult{ExitCode: JOB_EXIT_CODE_FAILED, Output: marshalOutput(results)}, ctx.Err()
		}
		res, err := s.backfiller.BackfillActuals(ctx, symbol)
		if err != nil {
			s.log.ErrorContext(ctx, "Failed to backfill actuals", logger.ErrorField(err), logger.StringField("symbol", symbol))
			results = append(results, BackfillResult{Symbol: utils.NormalizeSymbol(symbol), Error: err.Error()})
			errs = append(errs, dto.SymbolError{Symbol: symbol, Err: err})
			continue
		}
		results = append(results, BackfillResult{Symbol: res.Symbol, Pending: res.Pending, Updated: res.Updated})
	}

	output := marshalOutput(results)
	switch {
	case len(errs) == 0:
		return JobResult{ExitCode: JOB_EXIT_CODE_SUCCESS, Output: output}, nil
	case len(errs) < len(job.Symbols):
		return JobResult{ExitCode: JOB_EXIT_CODE_PARTIAL_SUCCESS, Output: output}, nil
	default:
		return JobResult{ExitCode: JOB_EXIT_CODE_FAILED, Output: output}, errors.Join(errs...)
	}
}
