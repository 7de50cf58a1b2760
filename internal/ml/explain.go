package ml

import (
	"fmt"
	"sort"
	"strings"
)

// featureLabels maps feature columns to the Indonesian wording used in
// operator-facing explanations.
var featureLabels = map[string]string{
	"absent_count":      "Total Ketidakhadiran",
	"absent_ratio":      "Rasio Absensi",
	"late_count":        "Total Keterlambatan",
	"late_ratio":        "Rasio Keterlambatan",
	"present_count":     "Total Kehadiran",
	"permission_count":  "Total Izin",
	"sick_count":        "Total Sakit",
	"total_days":        "Total Hari Sekolah",
	"attendance_ratio":  "Rasio Kehadiran",
	"trend_score":       "Tren Kehadiran (Mingguan)",
	"is_rule_triggered": "Batas Aturan Terlampaui",
}

// FeatureLabel returns the display name for a feature column.
func FeatureLabel(feature string) string {
	if label, ok := featureLabels[feature]; ok {
		return label
	}
	return feature
}

// Contribution is one feature's pull on the risk logit for a single row.
// Score ranks by the standardized value times the fitted weight; Value keeps
// the raw feature value for display.
type Contribution struct {
	Feature string
	Value   float64
	Weight  float64
	Score   float64
}

// TopRiskContributions returns the strongest factors pushing risk up,
// largest first, at most limit entries. Negative contributions (factors
// pulling risk down) are excluded.
func TopRiskContributions(m Logistic, s Standardizer, raw []float64, names []string, limit int) []Contribution {
	scaled := s.Transform(raw)
	out := make([]Contribution, 0, len(names))
	for i, name := range names {
		if i >= len(m.Weights) || i >= len(raw) {
			break
		}
		score := scaled[i] * m.Weights[i]
		if score <= 0 {
			continue
		}
		out = append(out, Contribution{Feature: name, Value: raw[i], Weight: m.Weights[i], Score: score})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DescribeContribution renders one factor as an Indonesian sentence.
func DescribeContribution(c Contribution) string {
	label := FeatureLabel(c.Feature)
	switch c.Feature {
	case "absent_count":
		return fmt.Sprintf("%s tergolong tinggi (%d hari).", label, int(c.Value))
	case "late_count":
		return fmt.Sprintf("%s tergolong tinggi (%d kali).", label, int(c.Value))
	case "trend_score":
		if c.Value < 0 {
			return fmt.Sprintf("%s memburuk dalam 7 hari terakhir.", label)
		}
		return fmt.Sprintf("%s menunjukkan perbaikan.", label)
	case "absent_ratio", "late_ratio":
		return fmt.Sprintf("%s mencapai %.1f%%.", label, c.Value*100)
	case "attendance_ratio":
		return fmt.Sprintf("%s hanya %.1f%%.", label, c.Value*100)
	case "is_rule_triggered":
		if c.Value > 0 {
			return "Batas absensi kritis telah terlampaui."
		}
		return ""
	default:
		return fmt.Sprintf("%s: %.2f.", label, c.Value)
	}
}

// ComposeExplanation combines the weighted factors and the decision-path
// rules into the operator-facing text. Either section may be empty.
func ComposeExplanation(factors []Contribution, rules []string) string {
	var sections []string

	var lines []string
	for _, factor := range factors {
		if desc := DescribeContribution(factor); desc != "" {
			lines = append(lines, "- "+desc)
		}
	}
	if len(lines) > 0 {
		sections = append(sections, "Faktor Utama Risiko (Berdasarkan Bobot):\n"+strings.Join(lines, "\n"))
	}

	if len(rules) > 0 {
		ruleLines := make([]string, len(rules))
		for i, rule := range rules {
			ruleLines[i] = "- " + ruleLabel(rule)
		}
		sections = append(sections, "Logika Deteksi (Aturan):\n"+strings.Join(ruleLines, "\n"))
	}

	if len(sections) == 0 {
		return "Tidak ada penjelasan tersedia untuk prediksi ini."
	}
	return strings.Join(sections, "\n\n")
}

// ruleLabel swaps the feature column inside a path condition for its
// Indonesian label, leaving the comparison untouched.
func ruleLabel(rule string) string {
	for feature, label := range featureLabels {
		if strings.HasPrefix(rule, feature+" ") {
			return label + strings.TrimPrefix(rule, feature)
		}
	}
	return rule
}
