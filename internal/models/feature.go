package models

import "time"

// FeatureNames lists the model inputs in training order. The order is part
// of the persisted artifact contract and must not change between training
// and prediction.
var FeatureNames = []string{
	"absent_count",
	"late_count",
	"present_count",
	"permission_count",
	"sick_count",
	"total_days",
	"absent_ratio",
	"late_ratio",
	"attendance_ratio",
	"trend_score",
	"is_rule_triggered",
}

// FeatureWindow bounds the observation range for feature extraction.
type FeatureWindow struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// FeatureVector holds the engineered attendance behavior of one student.
// AbsentCount already includes inferred absences: days the cohort was
// observed but the student produced no record at all.
type FeatureVector struct {
	StudentNIS      string  `json:"student_nis"`
	PresentCount    int     `json:"present_count"`
	LateCount       int     `json:"late_count"`
	SickCount       int     `json:"sick_count"`
	PermissionCount int     `json:"permission_count"`
	RecordedAbsent  int     `json:"recorded_absent"`
	InferredAbsent  int     `json:"inferred_absent"`
	AbsentCount     int     `json:"absent_count"`
	RecordedDays    int     `json:"recorded_days"`
	ExpectedDays    int     `json:"expected_days"`
	AbsentRatio     float64 `json:"absent_ratio"`
	LateRatio       float64 `json:"late_ratio"`
	AttendanceRatio float64 `json:"attendance_ratio"`
	TrendScore      float64 `json:"trend_score"`
	RuleTriggered   bool    `json:"is_rule_triggered"`
}

// Values flattens the vector into FeatureNames order.
func (f FeatureVector) Values() []float64 {
	triggered := 0.0
	if f.RuleTriggered {
		triggered = 1.0
	}
	return []float64{
		float64(f.AbsentCount),
		float64(f.LateCount),
		float64(f.PresentCount),
		float64(f.PermissionCount),
		float64(f.SickCount),
		float64(f.ExpectedDays),
		f.AbsentRatio,
		f.LateRatio,
		f.AttendanceRatio,
		f.TrendScore,
		triggered,
	}
}
