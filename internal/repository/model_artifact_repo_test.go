package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"market-forecast/internal/dto"
	"market-forecast/internal/regression"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandle(version string, trainedAt time.Time) *dto.ModelHandle {
	return &dto.ModelHandle{
		Version: version,
		Schema:  []string{"a", "b"},
		Return: &regression.Ridge{
			Lambda: 1, Means: []float64{0, 1}, Scales: []float64{1, 2}, Weights: []float64{0.5, -0.25}, Intercept: 0.01,
		},
		Volatility: &regression.Ridge{
			Lambda: 1, Means: []float64{0, 1}, Scales: []float64{1, 2}, Weights: []float64{0.1, 0.2}, Intercept: 0.02,
		},
		Metrics: map[string]dto.EvaluationMetrics{
			dto.TargetReturn: {RMSE: 0.01, RSquared: 0.4},
		},
		TrainedAt: trainedAt,
	}
}

func TestArtifactRepositories_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		repo func(t *testing.T) ModelArtifactRepository
	}{
		{name: "file", repo: func(t *testing.T) ModelArtifactRepository {
			return NewFileArtifactRepository(filepath.Join(t.TempDir(), "nested", "model.json"))
		}},
		{name: "database", repo: func(t *testing.T) ModelArtifactRepository {
			return NewDBArtifactRepository(newTestDB(t))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := tt.repo(t)

			_, err := repo.Load(ctx)
			assert.ErrorIs(t, err, dto.ErrArtifactNotFound)

			first := testHandle("ridge-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			second := testHandle("ridge-2", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
			require.NoError(t, repo.Save(ctx, first))
			require.NoError(t, repo.Save(ctx, second))

			loaded, err := repo.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "ridge-2", loaded.Version)
			assert.Equal(t, second.Schema, loaded.Schema)
			assert.Equal(t, second.Return.Weights, loaded.Return.Weights)
			assert.InDelta(t, 0.4, loaded.Confidence(), 1e-12)

			x := []float64{0.3, 2}
			want, err := second.Return.Predict(x)
			require.NoError(t, err)
			got, err := loaded.Return.Predict(x)
			require.NoError(t, err)
			assert.InDelta(t, want, got, 1e-12)
		})
	}
}

func TestFileArtifactRepository_RejectsIncompleteArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"broken"}`), 0o600))

	_, err := NewFileArtifactRepository(path).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, dto.ErrArtifactNotFound)
}
