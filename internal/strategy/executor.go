package strategy

import (
	"context"
	"time"
)

const (
	JOB_EXIT_CODE_SUCCESS         = 200
	JOB_EXIT_CODE_FAILED          = 500
	JOB_EXIT_CODE_SKIPPED         = 204
	JOB_EXIT_CODE_PARTIAL_SUCCESS = 206
)

type JobType string

const (
	JobTypeForecast        JobType = "forecast"
	JobTypeBackfillActuals JobType = "backfill_actuals"
)

// Job is one scheduled unit of work.
type Job struct {
	Name    string        `json:"name"`
	Type    JobType       `json:"type"`
	Symbols []string      `json:"symbols"`
	Cron    string        `json:"cron"`
	Timeout time.Duration `json:"timeout"`
}

type JobResult struct {
	ExitCode int32  `json:"exit_code"`
	Output   string `json:"output"`
}

// JobExecutionStrategy defines the interface for different job execution strategies.
type JobExecutionStrategy interface {
	Execute(ctx context.Context, job Job) (JobResult, error)
	GetType() JobType
}
