package service

import (
	"market-forecast/config"
	"market-forecast/internal/repository"
	"market-forecast/internal/strategy"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/metrics"
)

type Service struct {
	FeatureEngine    FeatureEngine
	PredictionEngine PredictionEngine
	Pipeline         Pipeline
	TaskExecutor     TaskExecutor
	SchedulerService SchedulerService
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	recorder *metrics.Recorder,
) *Service {
	featureEngine := NewFeatureEngine(log)
	predictionEngine := NewPredictionEngine(cfg, log, featureEngine, repo.ModelArtifactRepo, recorder)
	pipeline := NewPipeline(cfg, log, repo, featureEngine, predictionEngine, recorder)

	taskExecutor := NewTaskExecutor(log, recorder,
		strategy.NewForecastStrategy(log, pipeline),
		strategy.NewBackfillActualsStrategy(log, pipeline),
	)
	schedulerService := NewSchedulerService(cfg, log, taskExecutor)
	return &Service{
		FeatureEngine:    featureEngine,
		PredictionEngine: predictionEngine,
		Pipeline:         pipeline,
		TaskExecutor:     taskExecutor,
		SchedulerService: schedulerService,
	}
}
