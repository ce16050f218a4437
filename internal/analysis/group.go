package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/amrwatch/internal/models"
)

// Params are the scalar knobs of one analysis run.
type Params struct {
	WindowDays      int        `json:"window_days"`
	ZThreshold      float64    `json:"z_threshold"`
	WindowMode      WindowMode `json:"window_mode"`
	CountMinSupport int        `json:"count_min_support"`
	RateDirection   Direction  `json:"rate_direction"`
}

// DefaultParams returns the stock configuration: a 7 day window, z > 2.5, at
// least 3 batches for a count alert and upward-only rate alerts.
func DefaultParams() Params {
	return Params{
		WindowDays:      7,
		ZThreshold:      2.5,
		WindowMode:      WindowExclusive,
		CountMinSupport: 2,
		RateDirection:   DirectionUp,
	}
}

// Validate normalises empty enum fields to their defaults and rejects the rest.
// Every error wraps ErrInvalidConfig.
func (p *Params) Validate() error {
	if p.WindowDays <= 0 {
		return fmt.Errorf("%w: window_days must be positive, got %d", ErrInvalidConfig, p.WindowDays)
	}
	if math.IsNaN(p.ZThreshold) || math.IsInf(p.ZThreshold, 0) || p.ZThreshold <= 0 {
		return fmt.Errorf("%w: z_threshold must be a positive number, got %v", ErrInvalidConfig, p.ZThreshold)
	}
	if p.CountMinSupport < 0 {
		return fmt.Errorf("%w: count_min_support must not be negative, got %d", ErrInvalidConfig, p.CountMinSupport)
	}

	mode, err := ParseWindowMode(string(p.WindowMode))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	p.WindowMode = mode

	dir, err := ParseDirection(string(p.RateDirection))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	p.RateDirection = dir
	return nil
}

// Analyzer scores one group's full history. It holds no per-group state, so one
// Analyzer may serve any number of groups concurrently.
type Analyzer struct {
	params Params
}

// NewAnalyzer returns an Analyzer for validated params.
func NewAnalyzer(p Params) *Analyzer {
	return &Analyzer{params: p}
}

type countRow struct {
	count     float64
	predicted float64
	std       float64
	score     Score
}

// Analyze builds both baselines over the whole history, scores every point and
// joins each resistance reading with its day's count analysis. A group without
// resistance readings yields no rows.
func (a *Analyzer) Analyze(h models.GroupHistory) models.GroupResult {
	res := models.GroupResult{Group: h.Group}
	if h.Empty() {
		return res
	}

	byDay := a.analyzeCounts(h)

	times := make([]time.Time, len(h.Points))
	rates := make([]float64, len(h.Points))
	for i, p := range h.Points {
		times[i] = p.Timestamp
		rates[i] = p.Rate
	}
	window := time.Duration(a.params.WindowDays) * oneDay
	baselines := TimeBaseline(times, rates, window, a.params.WindowMode)

	res.Rows = make([]models.ScoredRow, len(h.Points))
	for i, p := range h.Points {
		s := ScoreRate(p.Rate, baselines[i], a.params.ZThreshold, a.params.RateDirection)
		row := models.ScoredRow{
			Location:       h.Group.Location,
			Organism:       h.Group.Organism,
			Timestamp:      p.Timestamp,
			Day:            p.Day,
			Rate:           p.Rate,
			PredictedRate:  baselines[i].Mean,
			RateStd:        baselines[i].Std,
			ZRate:          s.Z,
			IsAlertRate:    s.Alert,
			DailyCount:     math.NaN(),
			PredictedCount: math.NaN(),
			CountStd:       math.NaN(),
			ZCount:         math.NaN(),
		}
		if c, ok := byDay[p.Day]; ok {
			row.HasCount = true
			row.DailyCount = c.count
			row.PredictedCount = c.predicted
			row.CountStd = c.std
			row.ZCount = c.score.Z
			row.IsAlertCount = c.score.Alert
		}
		res.Rows[i] = row
	}
	return res
}

// analyzeCounts scores the gap-filled daily calendar, which runs at least to the
// day of the last resistance reading.
func (a *Analyzer) analyzeCounts(h models.GroupHistory) map[time.Time]countRow {
	cal := Calendar(h.Counts, h.Points[len(h.Points)-1].Day)
	values := make([]float64, len(cal))
	for i, c := range cal {
		values[i] = float64(c.Count)
	}
	baselines := DailyBaseline(values, a.params.WindowDays)

	out := make(map[time.Time]countRow, len(cal))
	for i, c := range cal {
		out[c.Day] = countRow{
			count:     values[i],
			predicted: baselines[i].Mean,
			std:       baselines[i].Std,
			score:     ScoreCount(values[i], baselines[i], a.params.ZThreshold, a.params.CountMinSupport),
		}
	}
	return out
}

// filterByDay keeps rows whose day lies in [start, end]. A zero bound is open.
func filterByDay(rows []models.ScoredRow, start, end time.Time) []models.ScoredRow {
	if start.IsZero() && end.IsZero() {
		return rows
	}
	var from, to time.Time
	if !start.IsZero() {
		from = models.Day(start)
	}
	if !end.IsZero() {
		to = models.Day(end)
	}

	out := rows[:0:0]
	for _, r := range rows {
		if !from.IsZero() && r.Day.Before(from) {
			continue
		}
		if !to.IsZero() && r.Day.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}
