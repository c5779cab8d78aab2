package ivr

import "strings"

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	// FullTermWeeks is the gestational age at which no further calls are planned.
	FullTermWeeks = 40
	// MaxHorizonCycles caps how many weekly cycles one generation run covers.
	MaxHorizonCycles = 20
)

// IntervalDays returns the spacing in days between recurring check-ins for a
// risk category. Unknown categories get the low-risk cadence.
func IntervalDays(riskCategory string) int {
	switch strings.ToLower(strings.TrimSpace(riskCategory)) {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 5
	default:
		return 7
	}
}

// HorizonCycles returns min(max(0, 40-ga), 20).
func HorizonCycles(gestationalAgeWeeks int) int {
	remaining := max(0, FullTermWeeks-gestationalAgeWeeks)
	return min(remaining, MaxHorizonCycles)
}

// IsHighRisk reports whether the category selects high-risk monitoring calls.
func IsHighRisk(riskCategory string) bool {
	return strings.EqualFold(strings.TrimSpace(riskCategory), RiskHigh)
}
