package models

import (
	"encoding/json"
	"math"
	"time"
)

// ScoredRow is one resistance reading joined with its day's count analysis.
// Statistics that have no trailing history are NaN: a prediction needs at least
// one prior observation, a standard deviation at least two.
type ScoredRow struct {
	Location  string    `json:"location"`
	Organism  string    `json:"organism"`
	Timestamp time.Time `json:"timestamp"`
	Day       time.Time `json:"day"`

	Rate          float64 `json:"rate"`
	PredictedRate float64 `json:"predicted_rate"`
	RateStd       float64 `json:"rate_std"`
	ZRate         float64 `json:"z_rate"`
	IsAlertRate   bool    `json:"is_alert_rate"`

	// HasCount is false when the reading's day is missing from the count
	// calendar; the count fields are then NaN and IsAlertCount is false.
	HasCount       bool    `json:"has_count"`
	DailyCount     float64 `json:"daily_count"`
	PredictedCount float64 `json:"predicted_count"`
	CountStd       float64 `json:"count_std"`
	ZCount         float64 `json:"z_count"`
	IsAlertCount   bool    `json:"is_alert_count"`
}

// Group returns the row's (location, organism) pair.
func (r ScoredRow) Group() Group {
	return Group{Location: r.Location, Organism: r.Organism}
}

// IsAlert reports whether either signal fired.
func (r ScoredRow) IsAlert() bool {
	return r.IsAlertRate || r.IsAlertCount
}

// MarshalJSON encodes undefined statistics as null.
func (r ScoredRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Location       string    `json:"location"`
		Organism       string    `json:"organism"`
		Timestamp      time.Time `json:"timestamp"`
		Day            string    `json:"day"`
		Rate           *float64  `json:"rate"`
		PredictedRate  *float64  `json:"predicted_rate"`
		RateStd        *float64  `json:"rate_std"`
		ZRate          *float64  `json:"z_rate"`
		IsAlertRate    bool      `json:"is_alert_rate"`
		HasCount       bool      `json:"has_count"`
		DailyCount     *float64  `json:"daily_count"`
		PredictedCount *float64  `json:"predicted_count"`
		CountStd       *float64  `json:"count_std"`
		ZCount         *float64  `json:"z_count"`
		IsAlertCount   bool      `json:"is_alert_count"`
	}{
		Location:       r.Location,
		Organism:       r.Organism,
		Timestamp:      r.Timestamp,
		Day:            r.Day.Format(time.DateOnly),
		Rate:           Finite(r.Rate),
		PredictedRate:  Finite(r.PredictedRate),
		RateStd:        Finite(r.RateStd),
		ZRate:          Finite(r.ZRate),
		IsAlertRate:    r.IsAlertRate,
		HasCount:       r.HasCount,
		DailyCount:     Finite(r.DailyCount),
		PredictedCount: Finite(r.PredictedCount),
		CountStd:       Finite(r.CountStd),
		ZCount:         Finite(r.ZCount),
		IsAlertCount:   r.IsAlertCount,
	})
}

// GroupResult is the analysed, date-filtered output of one group.
type GroupResult struct {
	Group Group       `json:"group"`
	Rows  []ScoredRow `json:"rows"`
}

// Alerts returns the rows with at least one flag set, in input order.
func (g GroupResult) Alerts() []ScoredRow {
	var out []ScoredRow
	for _, r := range g.Rows {
		if r.IsAlert() {
			out = append(out, r)
		}
	}
	return out
}

// Finite returns v, or nil when v is NaN or infinite. Used by encoders that
// cannot represent non-finite numbers.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
