package service

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ews-api/internal/models"
)

func runtimeWithVersion(t *testing.T, version int, threshold float64) *ModelRuntime {
	t.Helper()
	rt, err := NewModelRuntime(models.ModelArtifact{
		Version:   version,
		Threshold: threshold,
		Logistic:  models.LogisticParams{Weights: make([]float64, len(models.FeatureNames))},
	})
	require.NoError(t, err)
	return rt
}

func TestArtifactHolderStartsEmpty(t *testing.T) {
	holder := NewArtifactHolder()
	assert.Nil(t, holder.Current())
}

func TestArtifactHolderNilSafe(t *testing.T) {
	var holder *ArtifactHolder
	assert.Nil(t, holder.Current())
	holder.Swap(runtimeWithVersion(t, 1, 0.5))
}

func TestArtifactHolderSwapPublishesWholeRuntimes(t *testing.T) {
	holder := NewArtifactHolder()
	v1 := runtimeWithVersion(t, 1, 0.25)
	v2 := runtimeWithVersion(t, 2, 0.75)
	holder.Swap(v1)

	// Readers hammer Current while the writer flips between two versions.
	// Each version pairs with its own threshold; seeing the wrong pair would
	// mean a reader caught a half-published model.
	var torn atomic.Int64
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				rt := holder.Current()
				switch {
				case rt == nil:
					torn.Add(1)
				case rt.Artifact.Version == 1 && rt.Artifact.Threshold != 0.25:
					torn.Add(1)
				case rt.Artifact.Version == 2 && rt.Artifact.Threshold != 0.75:
					torn.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			holder.Swap(v2)
		} else {
			holder.Swap(v1)
		}
	}
	close(done)
	wg.Wait()

	assert.Zero(t, torn.Load())
}

func TestNewModelRuntimeDecodesTree(t *testing.T) {
	rt, err := NewModelRuntime(models.ModelArtifact{
		Version:   1,
		Logistic:  models.LogisticParams{Weights: []float64{1, 2}, Bias: -1},
		Tree:      []byte(`{"leaf":true,"class":1,"prob":0.8,"samples":10}`),
		Threshold: 0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, rt.Tree)
	assert.True(t, rt.Tree.Leaf)
	assert.Equal(t, -1.0, rt.Model.Bias)
}

func TestNewModelRuntimeRejectsBrokenTree(t *testing.T) {
	_, err := NewModelRuntime(models.ModelArtifact{Tree: []byte(`{nope`)})
	require.Error(t, err)
}

func TestModelRuntimeFeatureNamesFallback(t *testing.T) {
	rt := &ModelRuntime{}
	assert.Equal(t, models.FeatureNames, rt.FeatureNames())

	rt.Artifact.FeatureNames = models.FeatureList{"absent_count"}
	assert.Equal(t, []string{"absent_count"}, rt.FeatureNames())
}
