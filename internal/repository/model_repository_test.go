package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

func newModelRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestModelRepositoryInsertAssignsVersion(t *testing.T) {
	db, mock, cleanup := newModelRepoMock(t)
	defer cleanup()
	repo := NewModelRepository(db)

	mock.ExpectQuery("INSERT INTO model_artifacts").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	artifact := &models.ModelArtifact{
		Logistic:     models.LogisticParams{Weights: []float64{0.4}, Bias: -0.1, Means: []float64{2}, Stddevs: []float64{1}},
		Tree:         json.RawMessage(`{"leaf":true}`),
		Threshold:    0.45,
		Metrics:      models.TrainingMetrics{Recall: 0.78, Precision: 0.62, F1: 0.69, AUC: 0.81},
		FeatureNames: models.FeatureList(models.FeatureNames),
		TrainSamples: 96,
		TestSamples:  24,
	}
	err := repo.Insert(context.Background(), artifact)
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.Version)
	assert.NotEmpty(t, artifact.ID)
	assert.False(t, artifact.TrainedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepositoryLatest(t *testing.T) {
	db, mock, cleanup := newModelRepoMock(t)
	defer cleanup()
	repo := NewModelRepository(db)

	logistic, err := json.Marshal(models.LogisticParams{Weights: []float64{0.4}, Bias: -0.1, Means: []float64{2}, Stddevs: []float64{1}})
	require.NoError(t, err)
	metrics, err := json.Marshal(models.TrainingMetrics{Recall: 0.78})
	require.NoError(t, err)
	features, err := json.Marshal(models.FeatureNames)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "version", "logistic", "tree", "threshold", "metrics", "feature_names", "train_samples", "test_samples", "trained_at"}).
		AddRow("model-1", 3, logistic, []byte(`{"leaf":true}`), 0.45, metrics, features, 96, 24, time.Now())
	mock.ExpectQuery("FROM model_artifacts").
		WillReturnRows(rows)

	artifact, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.Version)
	assert.Equal(t, []float64{0.4}, artifact.Logistic.Weights)
	assert.InDelta(t, 0.78, artifact.Metrics.Recall, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepositoryLatestEmpty(t *testing.T) {
	db, mock, cleanup := newModelRepoMock(t)
	defer cleanup()
	repo := NewModelRepository(db)

	mock.ExpectQuery("FROM model_artifacts").
		WillReturnError(sql.ErrNoRows)

	artifact, err := repo.Latest(context.Background())
	assert.Nil(t, artifact)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}
