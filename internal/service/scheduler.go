package service

import (
	"context"
	"fmt"
	"time"

	"market-forecast/config"
	"market-forecast/internal/strategy"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/utils"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 2 * time.Hour

type SchedulerService interface {
	// Start registers the configured jobs and blocks until ctx is done.
	Start(ctx context.Context) error
	// RunJob executes one job now, bounded by the scheduler's concurrency limit.
	RunJob(ctx context.Context, job strategy.Job) (strategy.JobResult, error)
	Jobs() []strategy.Job
}

type schedulerService struct {
	log          *logger.Logger
	cronParser   cron.Parser
	taskExecutor TaskExecutor
	jobs         []strategy.Job
	semaphore    chan struct{}
}

func NewSchedulerService(cfg *config.Config, log *logger.Logger, taskExecutor TaskExecutor) SchedulerService {
	symbols := cfg.Pipeline.Symbols
	var jobs []strategy.Job
	if cfg.Pipeline.Cron != "" {
		jobs = append(jobs, strategy.Job{Name: "daily_forecast", Type: strategy.JobTypeForecast, Symbols: symbols, Cron: cfg.Pipeline.Cron, Timeout: defaultJobTimeout})
	}
	if cfg.Pipeline.BackfillCron != "" {
		jobs = append(jobs, strategy.Job{Name: "backfill_actuals", Type: strategy.JobTypeBackfillActuals, Symbols: symbols, Cron: cfg.Pipeline.BackfillCron, Timeout: defaultJobTimeout})
	}
	return &schedulerService{
		log:          log,
		cronParser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		taskExecutor: taskExecutor,
		jobs:         jobs,
		semaphore:    make(chan struct{}, max(cfg.Pipeline.MaxConcurrency, 1)),
	}
}

func (s *schedulerService) Jobs() []strategy.Job {
	return s.jobs
}

func (s *schedulerService) Start(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.cronParser), cron.WithLocation(time.UTC))
	for _, job := range s.jobs {
		schedule, err := s.cronParser.Parse(job.Cron)
		if err != nil {
			s.log.ErrorContext(ctx, "Failed to parse cron expression", logger.ErrorField(err), logger.StringField("job_name", job.Name))
			return fmt.Errorf("failed to parse cron expression for %s: %w", job.Name, err)
		}
		c.Schedule(schedule, cron.FuncJob(func() {
			utils.GoSafe(s.log, func() {
				if _, err := s.RunJob(ctx, job); err != nil {
					s.log.ErrorContext(ctx, "Scheduled job failed", logger.ErrorField(err), logger.StringField("job_name", job.Name))
				}
			})
		}))
		s.log.InfoContext(ctx, "Job scheduled",
			logger.StringField("job_name", job.Name),
			logger.StringField("cron", job.Cron),
			logger.Field("next_execution", schedule.Next(time.Now().UTC())),
		)
	}

	c.Start()
	<-ctx.Done()
	s.log.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

func (s *schedulerService) RunJob(ctx context.Context, job strategy.Job) (strategy.JobResult, error) {
	s.log.DebugContext(ctx, "Executing job",
		logger.StringField("job_name", job.Name),
		logger.StringField("job_type", string(job.Type)),
		logger.IntField("active_concurrency", len(s.semaphore)),
		logger.IntField("max_concurrency", cap(s.semaphore)),
	)

	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return strategy.JobResult{ExitCode: strategy.JOB_EXIT_CODE_SKIPPED, Output: "scheduler stopped"}, ctx.Err()
	}
	defer func() {
		<-s.semaphore
	}()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.taskExecutor.Execute(jobCtx, job)
}
