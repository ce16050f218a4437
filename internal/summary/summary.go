// Package summary condenses analysis output into dashboard figures: headline
// counts, the latest alert of every group, per-location alert cards and the
// R/I/S composition of test results over time.
package summary

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/rewired-gh/amrwatch/internal/models"
)

// LocationCard lists the latest alert of each alerting organism at one location.
type LocationCard struct {
	Location string             `json:"location"`
	Alerts   []models.ScoredRow `json:"alerts"`
}

// ZStats describes the z-scores of rate alerts.
type ZStats struct {
	Count  int     `json:"count"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Summary is the headline view of one run.
type Summary struct {
	TotalRecords      int                `json:"total_records"`
	AlertRows         int                `json:"alert_rows"`
	ActiveAlerts      int                `json:"active_alerts"`
	TotalLocations    int                `json:"total_locations"`
	AffectedLocations int                `json:"affected_locations"`
	LatestAlerts      []models.ScoredRow `json:"latest_alerts"`
	ByLocation        []LocationCard     `json:"by_location"`
	RateAlertZ        *ZStats            `json:"rate_alert_z,omitempty"`
}

// Summarize computes the headline figures of a run's rows. LatestAlerts holds the
// most recent alerting row of each group, newest first.
func Summarize(rows []models.ScoredRow) Summary {
	s := Summary{
		TotalRecords: len(rows),
		LatestAlerts: []models.ScoredRow{},
		ByLocation:   []LocationCard{},
	}

	locations := make(map[string]bool)
	var alerts []models.ScoredRow
	var rateZ []float64
	for _, r := range rows {
		locations[r.Location] = true
		if !r.IsAlert() {
			continue
		}
		alerts = append(alerts, r)
		if r.IsAlertRate {
			rateZ = append(rateZ, r.ZRate)
		}
	}
	s.TotalLocations = len(locations)
	s.AlertRows = len(alerts)

	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if !a.Day.Equal(b.Day) {
			return a.Day.After(b.Day)
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Group().Less(b.Group())
	})

	seen := make(map[models.Group]bool)
	cards := make(map[string]*LocationCard)
	for _, r := range alerts {
		if seen[r.Group()] {
			continue
		}
		seen[r.Group()] = true
		s.LatestAlerts = append(s.LatestAlerts, r)

		card, ok := cards[r.Location]
		if !ok {
			card = &LocationCard{Location: r.Location}
			cards[r.Location] = card
		}
		card.Alerts = append(card.Alerts, r)
	}
	s.ActiveAlerts = len(s.LatestAlerts)
	s.AffectedLocations = len(cards)

	for _, c := range cards {
		s.ByLocation = append(s.ByLocation, *c)
	}
	sort.Slice(s.ByLocation, func(i, j int) bool { return s.ByLocation[i].Location < s.ByLocation[j].Location })

	if len(rateZ) > 0 {
		s.RateAlertZ = zStats(rateZ)
	}
	return s
}

func zStats(zs []float64) *ZStats {
	median, err := stats.Median(zs)
	if err != nil {
		return nil
	}
	max, err := stats.Max(zs)
	if err != nil {
		return nil
	}
	return &ZStats{Count: len(zs), Median: median, Max: max}
}
