package summary

import (
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/amrwatch/internal/models"
)

// Bucket is the R/I/S composition of one organism over one period.
type Bucket struct {
	Start time.Time `json:"start"`
	R     float64   `json:"r_pct"`
	I     float64   `json:"i_pct"`
	S     float64   `json:"s_pct"`
	Total int       `json:"total"`
}

// OrganismBreakdown is the bucketed composition of one organism.
type OrganismBreakdown struct {
	Organism string   `json:"organism"`
	Buckets  []Bucket `json:"buckets"`
}

// Breakdown groups events by organism and splits each organism's history into
// buckets of period p. Fixed-length buckets are anchored at that organism's
// first event day. Percentages are rounded to one decimal; empty buckets are
// omitted.
func Breakdown(events []models.TestEvent, p Period) ([]OrganismBreakdown, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	byOrganism := make(map[string][]models.TestEvent)
	for _, e := range events {
		byOrganism[e.Organism] = append(byOrganism[e.Organism], e)
	}

	out := make([]OrganismBreakdown, 0, len(byOrganism))
	for organism, evs := range byOrganism {
		out = append(out, OrganismBreakdown{Organism: organism, Buckets: bucketize(evs, p)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Organism < out[j].Organism })
	return out, nil
}

func bucketize(events []models.TestEvent, p Period) []Bucket {
	type tally struct{ r, i, s int }

	anchor := models.Day(events[0].Timestamp)
	for _, e := range events[1:] {
		if d := models.Day(e.Timestamp); d.Before(anchor) {
			anchor = d
		}
	}

	tallies := make(map[time.Time]*tally)
	for _, e := range events {
		start := p.start(anchor, models.Day(e.Timestamp))
		t, ok := tallies[start]
		if !ok {
			t = &tally{}
			tallies[start] = t
		}
		switch e.Outcome {
		case models.Resistant:
			t.r++
		case models.Intermediate:
			t.i++
		case models.Susceptible:
			t.s++
		}
	}

	starts := make([]time.Time, 0, len(tallies))
	for start := range tallies {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	buckets := make([]Bucket, 0, len(starts))
	for _, start := range starts {
		t := tallies[start]
		total := t.r + t.i + t.s
		if total == 0 {
			continue
		}
		buckets = append(buckets, Bucket{
			Start: start,
			R:     pct(t.r, total),
			I:     pct(t.i, total),
			S:     pct(t.s, total),
			Total: total,
		})
	}
	return buckets
}

func pct(n, total int) float64 {
	return math.Round(1000*float64(n)/float64(total)) / 10
}
