package service

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/noah-isme/sma-ews-api/internal/ml"
	"github.com/noah-isme/sma-ews-api/internal/models"
)

// ModelRuntime is a persisted artifact unpacked into executable form: the
// fitted logistic weights, the standardization constants and the decoded
// explainer tree. The holder swaps whole runtimes so a reader never sees a
// half-updated model.
type ModelRuntime struct {
	Artifact models.ModelArtifact
	Model    ml.Logistic
	Scaler   ml.Standardizer
	Tree     *ml.TreeNode
}

// NewModelRuntime decodes one artifact row into runtime form.
func NewModelRuntime(artifact models.ModelArtifact) (*ModelRuntime, error) {
	rt := &ModelRuntime{
		Artifact: artifact,
		Model:    ml.Logistic{Weights: artifact.Logistic.Weights, Bias: artifact.Logistic.Bias},
		Scaler:   ml.Standardizer{Means: artifact.Logistic.Means, Stddevs: artifact.Logistic.Stddevs},
	}
	if len(artifact.Tree) > 0 {
		var root ml.TreeNode
		if err := json.Unmarshal(artifact.Tree, &root); err != nil {
			return nil, fmt.Errorf("decode tree artifact: %w", err)
		}
		rt.Tree = &root
	}
	return rt, nil
}

// FeatureNames returns the artifact's column order, falling back to the
// compiled-in order for artifacts persisted without one.
func (rt *ModelRuntime) FeatureNames() []string {
	if len(rt.Artifact.FeatureNames) > 0 {
		return rt.Artifact.FeatureNames
	}
	return models.FeatureNames
}

// ArtifactHolder shares the active model between the trainer and the
// classifier. Training publishes through Swap only after the artifact row
// is persisted, so a failed run leaves the previous model in effect.
type ArtifactHolder struct {
	current atomic.Pointer[ModelRuntime]
}

// NewArtifactHolder builds an empty holder. Current returns nil until the
// first Swap.
func NewArtifactHolder() *ArtifactHolder {
	return &ArtifactHolder{}
}

// Current returns the active model, or nil when none has been loaded.
func (h *ArtifactHolder) Current() *ModelRuntime {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

// Swap publishes a new model atomically.
func (h *ArtifactHolder) Swap(rt *ModelRuntime) {
	if h == nil {
		return
	}
	h.current.Store(rt)
}
