package models

import (
	"errors"
	"math"
	"sort"
	"time"
)

// Group identifies one (location, organism) analysis unit.
type Group struct {
	Location string `json:"location"`
	Organism string `json:"organism"`
}

// Label is the human-readable name used in progress reports.
func (g Group) Label() string {
	return g.Location + " - " + g.Organism
}

// Less orders groups by location, then organism.
func (g Group) Less(o Group) bool {
	if g.Location != o.Location {
		return g.Location < o.Location
	}
	return g.Organism < o.Organism
}

// DailyCount is the number of distinct test batches (timestamps) of a group on one day.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// ResistancePoint is the resistance rate of one lab batch: all events of a group
// sharing a timestamp.
type ResistancePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Day       time.Time `json:"day"`
	Rate      float64   `json:"rate"`
	Tested    int       `json:"tested"`
	Resistant int       `json:"resistant"`
}

// Validate checks the 0..100 rate invariant.
func (p *ResistancePoint) Validate() error {
	if p.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if p.Rate < 0 || p.Rate > 100 || math.IsNaN(p.Rate) {
		return errors.New("resistance rate must be between 0 and 100")
	}
	if p.Resistant > p.Tested {
		return errors.New("resistant count must not exceed tested count")
	}
	return nil
}

// GroupHistory is the complete history of one group, never date-filtered.
type GroupHistory struct {
	Group  Group             `json:"group"`
	Points []ResistancePoint `json:"points"` // ascending by Timestamp
	Counts []DailyCount      `json:"counts"` // ascending by Day, observed days only
}

// Empty reports whether the group has no resistance readings.
func (h GroupHistory) Empty() bool {
	return len(h.Points) == 0
}

// AggregateGroup folds the events of one group into its resistance points (one
// per distinct timestamp) and daily batch counts. Events need not be sorted.
func AggregateGroup(g Group, events []TestEvent) GroupHistory {
	type batch struct {
		tested, resistant int
	}
	batches := make(map[time.Time]*batch)
	var order []time.Time

	for _, e := range events {
		ts := e.Timestamp.UTC()
		b, ok := batches[ts]
		if !ok {
			b = &batch{}
			batches[ts] = b
			order = append(order, ts)
		}
		b.tested++
		if e.Outcome == Resistant {
			b.resistant++
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	h := GroupHistory{Group: g}
	perDay := make(map[time.Time]int)
	var days []time.Time
	for _, ts := range order {
		b := batches[ts]
		day := Day(ts)
		h.Points = append(h.Points, ResistancePoint{
			Timestamp: ts,
			Day:       day,
			Rate:      round2(100 * float64(b.resistant) / float64(b.tested)),
			Tested:    b.tested,
			Resistant: b.resistant,
		})
		if _, seen := perDay[day]; !seen {
			days = append(days, day)
		}
		perDay[day]++
	}

	// order is sorted, so days is too.
	for _, d := range days {
		h.Counts = append(h.Counts, DailyCount{Day: d, Count: perDay[d]})
	}
	return h
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
