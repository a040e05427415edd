package repository

import (
	"fmt"

	"market-forecast/config"
	"market-forecast/pkg/cache"
	"market-forecast/pkg/common"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/metrics"

	goValidator "github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

type Repository struct {
	BarRepo           BarRepository
	FeatureVectorRepo FeatureVectorRepository
	PredictionRepo    PredictionRepository
	APIRequestLogRepo APIRequestLogRepository
	ModelArtifactRepo ModelArtifactRepository
	UnitOfWork        UnitOfWork
	Store             MarketDataStore
	BarSource         BarSource
	MarketFetcher     MarketFetcher
}

func NewRepository(
	cfg *config.Config,
	db *gorm.DB,
	inmemoryCache cache.Cache,
	log *logger.Logger,
	validator *goValidator.Validate,
	recorder *metrics.Recorder,
	fetcherOpts ...FetcherOption,
) (*Repository, error) {
	repo := &Repository{
		BarRepo:           NewBarRepository(db),
		FeatureVectorRepo: NewFeatureVectorRepository(db),
		PredictionRepo:    NewPredictionRepository(db),
		APIRequestLogRepo: NewAPIRequestLogRepository(db),
		UnitOfWork:        NewUnitOfWork(db),
	}

	switch cfg.Model.ArtifactStore {
	case common.ARTIFACT_STORE_DATABASE:
		repo.ModelArtifactRepo = NewDBArtifactRepository(db)
	case common.ARTIFACT_STORE_FILE, "":
		repo.ModelArtifactRepo = NewFileArtifactRepository(cfg.Model.ArtifactPath)
	default:
		return nil, fmt.Errorf("unsupported artifact store %q", cfg.Model.ArtifactStore)
	}

	repo.Store = NewMarketDataStore(repo)
	repo.BarSource = NewCSVBarSource(log, validator, cfg.Pipeline.CSVBatchSize)
	repo.MarketFetcher = NewMarketFetcher(cfg.Provider, log, repo.Store, validator, inmemoryCache, recorder, fetcherOpts...)
	return repo, nil
}
