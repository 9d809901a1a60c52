package engine

import "math"

// RiskScore rates a merchant from 0 (risky) to 100 (safe) using completion
// rate, feedback, 30-day volume and grade. Non-merchant accounts are
// penalized.
func RiskScore(m Merchant) float64 {
	score := 50.0
	score += m.CompletionRate * 20
	score += m.Rating * 15
	score += math.Min(float64(m.CompletedTrades)/100, 1) * 10
	score += float64(m.UserGrade) * 2
	if m.UserType != "merchant" {
		score -= 5
	}
	return math.Max(0, math.Min(100, score))
}

// LevelFor maps a risk score onto a RiskLevel.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskLow
	case score >= 60:
		return RiskMedium
	default:
		return RiskHigh
	}
}
