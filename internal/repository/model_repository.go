package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

// ModelRepository stores trained model artifacts, versioned monotonically.
type ModelRepository struct {
	db *sqlx.DB
}

// NewModelRepository constructs a ModelRepository.
func NewModelRepository(db *sqlx.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// Insert writes a new artifact with the next version number and fills the
// assigned version back into the struct.
func (r *ModelRepository) Insert(ctx context.Context, artifact *models.ModelArtifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if artifact.TrainedAt.IsZero() {
		artifact.TrainedAt = time.Now().UTC()
	}
	const query = `INSERT INTO model_artifacts
        (id, version, logistic, tree, threshold, metrics, feature_names, train_samples, test_samples, trained_at)
        VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM model_artifacts), $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING version`
	if err := r.db.GetContext(ctx, &artifact.Version, query,
		artifact.ID, artifact.Logistic, artifact.Tree, artifact.Threshold,
		artifact.Metrics, artifact.FeatureNames, artifact.TrainSamples,
		artifact.TestSamples, artifact.TrainedAt); err != nil {
		return fmt.Errorf("insert model artifact: %w", err)
	}
	return nil
}

// Latest fetches the highest-versioned artifact.
func (r *ModelRepository) Latest(ctx context.Context) (*models.ModelArtifact, error) {
	const query = `SELECT id, version, logistic, tree, threshold, metrics, feature_names, train_samples, test_samples, trained_at
        FROM model_artifacts
        ORDER BY version DESC
        LIMIT 1`
	var artifact models.ModelArtifact
	if err := r.db.GetContext(ctx, &artifact, query); err != nil {
		return nil, err
	}
	return &artifact, nil
}
