package service

import (
	"context"
	"fmt"
	"time"

	"market-forecast/internal/strategy"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/metrics"
)

type TaskExecutor interface {
	Execute(ctx context.Context, job strategy.Job) (strategy.JobResult, error)
}

type taskExecutor struct {
	log                *logger.Logger
	metrics            *metrics.Recorder
	executorStrategies map[strategy.JobType]strategy.JobExecutionStrategy
}

func NewTaskExecutor(log *logger.Logger, recorder *metrics.Recorder, strategies ...strategy.JobExecutionStrategy) TaskExecutor {
	executorStrategies := make(map[strategy.JobType]strategy.JobExecutionStrategy, len(strategies))
	for _, s := range strategies {
		executorStrategies[s.GetType()] = s
	}
	return &taskExecutor{
		log:                log,
		metrics:            recorder,
		executorStrategies: executorStrategies,
	}
}

func (t *taskExecutor) Execute(ctx context.Context, job strategy.Job) (strategy.JobResult, error) {
	start := time.Now()
	defer t.metrics.ObserveSince("job_"+string(job.Type), start)

	t.log.InfoContext(ctx, "Processing job", logger.StringField("job_name", job.Name), logger.StringField("job_type", string(job.Type)))

	executor := t.executorStrategies[job.Type]
	if executor == nil {
		t.log.ErrorContext(ctx, "Job type not found", logger.StringField("job_type", string(job.Type)))
		return strategy.JobResult{ExitCode: strategy.JOB_EXIT_CODE_FAILED, Output: "job type not found"}, fmt.Errorf("job type %q not found", job.Type)
	}

	result, err := executor.Execute(ctx, job)
	if err != nil {
		t.log.ErrorContext(ctx, "Failed to execute job",
			logger.ErrorField(err),
			logger.StringField("job_name", job.Name),
			logger.IntField("exit_code", int(result.ExitCode)),
		)
		return result, err
	}

	t.log.InfoContext(ctx, "Job execution completed",
		logger.StringField("job_name", job.Name),
		logger.IntField("exit_code", int(result.ExitCode)),
		logger.StringField("output", result.Output),
		logger.DurationField("duration", time.Since(start)),
	)
	return result, nil
}
