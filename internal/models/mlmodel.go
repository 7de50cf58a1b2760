package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LogisticParams are the fitted weights of the risk model together with the
// standardization constants captured at training time.
type LogisticParams struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Means   []float64 `json:"means"`
	Stddevs []float64 `json:"stddevs"`
}

// Value marshals the params to JSON for persistence.
func (p LogisticParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal logistic params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *LogisticParams) Scan(value interface{}) error {
	if value == nil {
		*p = LogisticParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for LogisticParams", value)
	}
	if len(data) == 0 {
		*p = LogisticParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal logistic params: %w", err)
	}
	return nil
}

// TrainingMetrics captures test-split quality at the tuned threshold.
type TrainingMetrics struct {
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
	F1        float64 `json:"f1"`
	AUC       float64 `json:"auc"`
}

// Value marshals the metrics to JSON for persistence.
func (m TrainingMetrics) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal training metrics: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the metrics struct.
func (m *TrainingMetrics) Scan(value interface{}) error {
	if value == nil {
		*m = TrainingMetrics{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for TrainingMetrics", value)
	}
	if len(data) == 0 {
		*m = TrainingMetrics{}
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal training metrics: %w", err)
	}
	return nil
}

// FeatureList stores the feature column order persisted as JSONB.
type FeatureList []string

// Value marshals the list to JSON for persistence.
func (l FeatureList) Value() (driver.Value, error) {
	if l == nil {
		l = FeatureList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal feature list: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the list.
func (l *FeatureList) Scan(value interface{}) error {
	if value == nil {
		*l = FeatureList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for FeatureList", value)
	}
	if len(data) == 0 {
		*l = FeatureList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal feature list: %w", err)
	}
	return nil
}

// ModelArtifact is one versioned trained model. The newest row is the
// authoritative model; older rows stay for audit.
type ModelArtifact struct {
	ID           string          `db:"id" json:"id"`
	Version      int             `db:"version" json:"version"`
	Logistic     LogisticParams  `db:"logistic" json:"logistic"`
	Tree         json.RawMessage `db:"tree" json:"tree"`
	Threshold    float64         `db:"threshold" json:"threshold"`
	Metrics      TrainingMetrics `db:"metrics" json:"metrics"`
	FeatureNames FeatureList     `db:"feature_names" json:"feature_names"`
	TrainSamples int             `db:"train_samples" json:"train_samples"`
	TestSamples  int             `db:"test_samples" json:"test_samples"`
	TrainedAt    time.Time       `db:"trained_at" json:"trained_at"`
}

// FeatureWeight pairs a feature with its signed model coefficient.
type FeatureWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// ModelInfo describes the active artifact for operators.
type ModelInfo struct {
	Version      int             `json:"version"`
	Threshold    float64         `json:"threshold"`
	Metrics      TrainingMetrics `json:"metrics"`
	FeatureNames []string        `json:"feature_names"`
	Importance   []FeatureWeight `json:"importance"`
	TrainSamples int             `json:"train_samples"`
	TestSamples  int             `json:"test_samples"`
	TrainedAt    time.Time       `json:"trained_at"`
}

// TrainResult reports one completed training run.
type TrainResult struct {
	Version      int             `json:"version"`
	Threshold    float64         `json:"threshold"`
	Metrics      TrainingMetrics `json:"metrics"`
	TrainSamples int             `json:"train_samples"`
	TestSamples  int             `json:"test_samples"`
	TrainedAt    time.Time       `json:"trained_at"`
}
