package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RiskTier buckets a risk probability for operators.
type RiskTier string

const (
	RiskTierRed    RiskTier = "RED"
	RiskTierYellow RiskTier = "YELLOW"
	RiskTierGreen  RiskTier = "GREEN"
)

// Level maps a tier onto the reporting vocabulary used in history rows.
func (t RiskTier) Level() string {
	switch t {
	case RiskTierRed:
		return "high"
	case RiskTierYellow:
		return "medium"
	default:
		return "low"
	}
}

// Description returns the operator-facing summary of a tier.
func (t RiskTier) Description() string {
	switch t {
	case RiskTierRed:
		return "High Risk - Immediate attention required"
	case RiskTierYellow:
		return "Warning - Monitor closely"
	case RiskTierGreen:
		return "Normal - No immediate concerns"
	default:
		return "Unknown"
	}
}

// Recommendations lists the follow-up actions suggested per tier.
func (t RiskTier) Recommendations() []string {
	switch t {
	case RiskTierRed:
		return []string{
			"Contact parent/guardian immediately",
			"Schedule meeting with homeroom teacher",
			"Review attendance pattern with BK counselor",
			"Create intervention plan",
		}
	case RiskTierYellow:
		return []string{
			"Monitor attendance closely for next 2 weeks",
			"Send attendance reminder to parent",
			"Check for underlying issues (health, family, etc.)",
		}
	case RiskTierGreen:
		return []string{
			"Continue regular monitoring",
			"Acknowledge good attendance if applicable",
		}
	default:
		return nil
	}
}

// PredictionMethod records which path produced an assessment.
type PredictionMethod string

const (
	PredictionMethodRule      PredictionMethod = "rule"
	PredictionMethodML        PredictionMethod = "ml"
	PredictionMethodHeuristic PredictionMethod = "heuristic"
)

// RiskFactors captures the feature values behind an assessment, persisted
// as JSONB alongside the row.
type RiskFactors map[string]float64

// Value marshals the factors to JSON for persistence.
func (f RiskFactors) Value() (driver.Value, error) {
	if f == nil {
		f = RiskFactors{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal risk factors: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the factors map.
func (f *RiskFactors) Scan(value interface{}) error {
	if value == nil {
		*f = RiskFactors{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for RiskFactors", value)
	}
	if len(data) == 0 {
		*f = RiskFactors{}
		return nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("unmarshal risk factors: %w", err)
	}
	return nil
}

// RiskAssessment is one persisted prediction. History is append only.
type RiskAssessment struct {
	ID          string           `db:"id" json:"id"`
	StudentNIS  string           `db:"student_nis" json:"student_nis"`
	Tier        RiskTier         `db:"tier" json:"tier"`
	Level       string           `db:"level" json:"level"`
	Probability float64          `db:"probability" json:"probability"`
	Method      PredictionMethod `db:"method" json:"method"`
	RuleReason  *string          `db:"rule_reason" json:"rule_reason,omitempty"`
	Factors     RiskFactors      `db:"factors" json:"factors"`
	Explanation string           `db:"explanation" json:"explanation"`
	AssessedAt  time.Time        `db:"assessed_at" json:"assessed_at"`
}

// RiskPrediction is the response shape for one prediction.
type RiskPrediction struct {
	StudentNIS      string           `json:"student_nis"`
	StudentName     string           `json:"student_name,omitempty"`
	Tier            RiskTier         `json:"tier"`
	TierDescription string           `json:"tier_description"`
	Probability     float64          `json:"probability"`
	Method          PredictionMethod `json:"method"`
	RuleReason      *string          `json:"rule_reason,omitempty"`
	Factors         RiskFactors      `json:"factors"`
	Explanation     string           `json:"explanation"`
	Recommendations []string         `json:"recommendations"`
	Features        FeatureVector    `json:"features"`
	AssessedAt      time.Time        `json:"assessed_at"`
}

// BatchPredictRequest asks for predictions over an explicit roster.
type BatchPredictRequest struct {
	StudentNIS []string `json:"student_nis" validate:"required,min=1"`
}

// BatchPredictItem is one outcome inside a batch prediction.
type BatchPredictItem struct {
	StudentNIS string          `json:"student_nis"`
	Prediction *RiskPrediction `json:"prediction,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BatchPredictResult aggregates batch prediction outcomes.
type BatchPredictResult struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Items     []BatchPredictItem `json:"items"`
}

// RecalculateRequest scopes a background recalculation sweep.
type RecalculateRequest struct {
	ClassID *string `json:"class_id"`
}

// RecalculateAck confirms a sweep was accepted. Queued is false when the
// sweep ran inline because no background queue is wired.
type RecalculateAck struct {
	Students int  `json:"students"`
	Queued   bool `json:"queued"`
}

// RecalculateResult reports a completed sweep.
type RecalculateResult struct {
	Students  int `json:"students"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
