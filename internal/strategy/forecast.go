package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"market-forecast/internal/dto"
	"market-forecast/pkg/logger"
)

// BatchRunner runs the provider pipeline for several symbols at once.
type BatchRunner interface {
	RunBatch(ctx context.Context, symbols []string) (*dto.BatchRunResult, error)
}

type ForecastSummary struct {
	RunID        string            `json:"run_id"`
	ModelVersion string            `json:"model_version,omitempty"`
	BarsStored   int               `json:"bars_stored"`
	FeatureRows  int               `json:"feature_rows"`
	Predicted    []string          `json:"predicted"`
	Failed       map[string]string `json:"failed,omitempty"`
}

type ForecastStrategy struct {
	log    *logger.Logger
	runner BatchRunner
}

func NewForecastStrategy(log *logger.Logger, runner BatchRunner) JobExecutionStrategy {
	return &ForecastStrategy{
		log:    log,
		runner: runner,
	}
}

func (s *ForecastStrategy) GetType() JobType {
	return JobTypeForecast
}

func (s *ForecastStrategy) Execute(ctx context.Context, job Job) (JobResult, error) {
	if len(job.Symbols) == 0 {
		s.log.InfoContext(ctx, "No symbols configured, skipping forecast", logger.StringField("job_name", job.Name))
		return JobResult{ExitCode: JOB_EXIT_CODE_SKIPPED, Output: "no symbols configured"}, nil
	}

	result, err := s.runner.RunBatch(ctx, job.Symbols)
	if err != nil {
		s.log.ErrorContext(ctx, "Forecast run failed", logger.ErrorField(err), logger.StringField("job_name", job.Name))
		return JobResult{ExitCode: JOB_EXIT_CODE_FAILED, Output: err.Error()}, fmt.Errorf("forecast run failed: %w", err)
	}

	summary := ForecastSummary{
		RunID:       result.RunID,
		BarsStored:  result.BarsStored,
		FeatureRows: result.FeatureRows,
		Predicted:   []string{},
	}
	if result.Report != nil {
		summary.ModelVersion = result.Report.ModelVersion
	}
	for _, p := range result.Predictions {
		summary.Predicted = append(summary.Predicted, p.Symbol)
	}
	for _, e := range result.Errors {
		if summary.Failed == nil {
			summary.Failed = map[string]string{}
		}
		summary.Failed[e.Symbol] = e.Err.Error()
	}

	exitCode := int32(JOB_EXIT_CODE_SUCCESS)
	if len(summary.Failed) > 0 {
		exitCode = JOB_EXIT_CODE_PARTIAL_SUCCESS
	}
	return JobResult{ExitCode: exitCode, Output: marshalOutput(summary)}, nil
}

func marshalOutput(v interface{}) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(out)
}
