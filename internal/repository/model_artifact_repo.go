package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"market-forecast/internal/dto"
	"market-forecast/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ModelArtifactRepository persists trained models. Load returns
// dto.ErrArtifactNotFound when nothing has been saved yet.
type ModelArtifactRepository interface {
	Save(ctx context.Context, handle *dto.ModelHandle) error
	Load(ctx context.Context) (*dto.ModelHandle, error)
}

type fileArtifactRepository struct {
	path string
}

// NewFileArtifactRepository stores the current model as a JSON file at path.
func NewFileArtifactRepository(path string) ModelArtifactRepository {
	return &fileArtifactRepository{path: path}
}

func (r *fileArtifactRepository) Save(ctx context.Context, handle *dto.ModelHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(handle)
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to move model artifact into place: %w", err)
	}
	return nil
}

func (r *fileArtifactRepository) Load(ctx context.Context) (*dto.ModelHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, dto.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	return decodeHandle(payload)
}

type dbArtifactRepository struct {
	db *gorm.DB
}

// NewDBArtifactRepository stores every trained model in model_artifacts and loads the newest.
func NewDBArtifactRepository(db *gorm.DB) ModelArtifactRepository {
	return &dbArtifactRepository{db: db}
}

func (r *dbArtifactRepository) Save(ctx context.Context, handle *dto.ModelHandle) error {
	payload, err := json.Marshal(handle)
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}
	schema, err := json.Marshal(handle.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode feature schema: %w", err)
	}
	metrics, err := json.Marshal(handle.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode model metrics: %w", err)
	}

	artifact := model.ModelArtifact{
		Version:       handle.Version,
		FeatureSchema: datatypes.JSON(schema),
		Metrics:       datatypes.JSON(metrics),
		Payload:       payload,
		TrainedAt:     handle.TrainedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&artifact).Error
}

func (r *dbArtifactRepository) Load(ctx context.Context) (*dto.ModelHandle, error) {
	var artifact model.ModelArtifact
	err := r.db.WithContext(ctx).Order("trained_at DESC, id DESC").Take(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dto.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model artifact: %w", err)
	}
	return decodeHandle(artifact.Payload)
}

func decodeHandle(payload []byte) (*dto.ModelHandle, error) {
	var handle dto.ModelHandle
	if err := json.Unmarshal(payload, &handle); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if handle.Return == nil || handle.Volatility == nil {
		return nil, fmt.Errorf("model artifact %s is incomplete", handle.Version)
	}
	return &handle, nil
}
