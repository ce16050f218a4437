package analysis

import (
	"fmt"
	"math"
	"strings"
)

// Direction selects which deviations of the resistance rate may alert.
type Direction string

const (
	// DirectionUp flags only rises above the baseline.
	DirectionUp Direction = "up"
	// DirectionBoth flags rises and drops.
	DirectionBoth Direction = "both"
)

// ParseDirection maps a configuration string onto a Direction. The empty string
// selects DirectionUp.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", DirectionUp:
		return DirectionUp, nil
	case DirectionBoth:
		return DirectionBoth, nil
	default:
		return "", fmt.Errorf("unknown rate direction %q", s)
	}
}

// Score is the outcome of scoring one observation against its baseline.
type Score struct {
	Z     float64
	Alert bool
}

// ZScore returns (v - mean) / std. The result is NaN when the baseline is
// undefined.
func ZScore(v float64, b Baseline) float64 {
	return (v - b.Mean) / b.Std
}

// ScoreCount scores a daily count. An alert needs z above threshold and a count
// strictly above minSupport, so tiny baselines do not alert on a handful of tests.
func ScoreCount(count float64, b Baseline, threshold float64, minSupport int) Score {
	z := ZScore(count, b)
	return Score{
		Z:     z,
		Alert: z > threshold && count > float64(minSupport),
	}
}

// ScoreRate scores a resistance rate. With DirectionUp a drop is never flagged,
// whatever its magnitude.
func ScoreRate(rate float64, b Baseline, threshold float64, dir Direction) Score {
	z := ZScore(rate, b)
	alert := z > threshold
	if dir == DirectionBoth {
		alert = math.Abs(z) > threshold
	}
	return Score{Z: z, Alert: alert}
}
