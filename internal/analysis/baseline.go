// Package analysis provides rolling-baseline anomaly detection over per-group
// resistance histories.
//
// Two signals are tracked for every (location, organism) group:
//
//	daily count:     fixed-step series over a gap-filled calendar, baseline from the
//	                 previous window_days calendar days
//	resistance rate: irregular series of lab batches, baseline from the readings in
//	                 the previous window_days of physical time
//
// A baseline never looks at the value it predicts or anything after it. Each point
// is scored as z = (v - mean) / std, and alerts fire when z exceeds the threshold
// under the signal's support rule.
//
// Use Runner to enumerate groups from a Fetcher, analyse each one with Analyzer,
// and stream or collect the date-filtered rows.
package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/amrwatch/internal/models"
)

// varianceFloor replaces a standard deviation of exactly zero so that a flat
// window still yields a finite z-score.
const varianceFloor = 1e-6

const oneDay = 24 * time.Hour

// WindowMode selects how the trailing physical-time window treats the current reading.
type WindowMode string

const (
	// WindowExclusive uses [t-w, t): the reading itself never enters its baseline.
	WindowExclusive WindowMode = "exclusive"
	// WindowInclusive uses (t-w, t]. The reading enters its own baseline, so
	// this mode only approximates the exclusive one.
	WindowInclusive WindowMode = "inclusive"
)

// ParseWindowMode maps a configuration string onto a WindowMode. The empty string
// selects WindowExclusive.
func ParseWindowMode(s string) (WindowMode, error) {
	switch WindowMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", WindowExclusive:
		return WindowExclusive, nil
	case WindowInclusive:
		return WindowInclusive, nil
	default:
		return "", fmt.Errorf("unknown window mode %q", s)
	}
}

// Baseline is the prediction for one point. Mean is NaN without any prior
// observation; Std is NaN with fewer than two.
type Baseline struct {
	Mean float64
	Std  float64
}

// estimate computes the sample mean and standard deviation of a window.
func estimate(window []float64) Baseline {
	switch len(window) {
	case 0:
		return Baseline{Mean: math.NaN(), Std: math.NaN()}
	case 1:
		return Baseline{Mean: window[0], Std: math.NaN()}
	}

	if constant(window) {
		return Baseline{Mean: window[0], Std: varianceFloor}
	}

	mean, variance := stat.MeanVariance(window, nil)
	if !(variance > 0) {
		return Baseline{Mean: mean, Std: varianceFloor}
	}
	return Baseline{Mean: mean, Std: math.Sqrt(variance)}
}

func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// Calendar expands observed daily counts into a gap-free series running from the
// first observed day through max(last observed day, until). Missing days count 0.
// until may be zero.
func Calendar(counts []models.DailyCount, until time.Time) []models.DailyCount {
	if len(counts) == 0 {
		return nil
	}

	observed := make(map[time.Time]int, len(counts))
	first, last := counts[0].Day, counts[0].Day
	for _, c := range counts {
		observed[c.Day] += c.Count
		if c.Day.Before(first) {
			first = c.Day
		}
		if c.Day.After(last) {
			last = c.Day
		}
	}
	if !until.IsZero() && until.After(last) {
		last = until
	}

	out := make([]models.DailyCount, 0, int(last.Sub(first)/oneDay)+1)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, models.DailyCount{Day: d, Count: observed[d]})
	}
	return out
}

// DailyBaseline returns, for each position i of a gap-free daily series, the
// baseline of the previous window values values[i-window:i]. The first position
// has no history.
func DailyBaseline(values []float64, window int) []Baseline {
	out := make([]Baseline, len(values))
	for i := range values {
		lo := max(0, i-window)
		out[i] = estimate(values[lo:i])
	}
	return out
}

// TimeBaseline returns, for each reading, the baseline of the readings whose
// timestamps fall within the trailing physical window. times must be sorted
// ascending. In WindowExclusive mode the window is [t-w, t); in WindowInclusive
// mode it is (t-w, t] and contains the reading itself.
func TimeBaseline(times []time.Time, values []float64, window time.Duration, mode WindowMode) []Baseline {
	out := make([]Baseline, len(values))
	lo := 0
	for i, t := range times {
		from := t.Add(-window)
		switch mode {
		case WindowInclusive:
			for lo < i && !times[lo].After(from) {
				lo++
			}
			out[i] = estimate(values[lo : i+1])
		default:
			for lo < i && times[lo].Before(from) {
				lo++
			}
			hi := i
			for hi > lo && !times[hi-1].Before(t) {
				hi--
			}
			out[i] = estimate(values[lo:hi])
		}
	}
	return out
}
