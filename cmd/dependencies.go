package cmd

import (
	"context"

	"market-forecast/config"
	"market-forecast/internal/repository"
	"market-forecast/internal/service"
	"market-forecast/pkg/cache"
	"market-forecast/pkg/common"
	"market-forecast/pkg/database"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/metrics"
	"market-forecast/pkg/validation"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type AppDependency struct {
	db        *database.DB
	cfg       *config.Config
	log       *logger.Logger
	validator *goValidator.Validate
	echo      *echo.Echo
	cache     cache.Cache
	registry  *prometheus.Registry
	metrics   *metrics.Recorder
}

func NewAppDependency(ctx context.Context) (*AppDependency, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDB(cfg.DB, log)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return &AppDependency{
		cfg:       cfg,
		log:       log,
		validator: validation.New(),
		db:        db,
		echo:      e,
		cache:     cache.NewCache(cfg.Cache.DefaultExpiration, cfg.Cache.CleanupInterval),
		registry:  registry,
		metrics:   metrics.New(registry),
	}, nil
}

// Services builds the repository and service layers on top of the dependencies.
func (d *AppDependency) Services() (*repository.Repository, *service.Service, error) {
	if d.cfg.DB.Driver == common.DB_DRIVER_SQLITE {
		if err := repository.AutoMigrate(d.db.DB); err != nil {
			return nil, nil, err
		}
	}
	repo, err := repository.NewRepository(d.cfg, d.db.DB, d.cache, d.log, d.validator, d.metrics)
	if err != nil {
		return nil, nil, err
	}
	return repo, service.NewService(d.cfg, d.log, repo, d.metrics), nil
}

func (d *AppDependency) Close() error {
	d.log.Info("Closing app dependency")
	_ = d.log.Sync()
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
