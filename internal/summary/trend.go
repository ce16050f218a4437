package summary

import (
	"sort"
	"time"

	"github.com/rewired-gh/amrwatch/internal/models"
)

// Others collects the batches of every organism outside the top N.
const Others = "Others"

// TrendSeries is the batch volume of one organism in each bucket.
type TrendSeries struct {
	Organism string    `json:"organism"`
	Values   []float64 `json:"values"`
}

// LocationTrend holds one series per trend organism, in Trend.Organisms order.
type LocationTrend struct {
	Location string        `json:"location"`
	Series   []TrendSeries `json:"series"`
}

// Trend is the community composition of every location over shared buckets.
type Trend struct {
	Period    Period          `json:"period"`
	Buckets   []time.Time     `json:"buckets"`
	Organisms []string        `json:"organisms"`
	Locations []LocationTrend `json:"locations"`
}

// Community counts test batches (distinct timestamps) per location, organism
// and bucket of period p. All locations share one bucket axis starting at the
// first event day and running to the last; buckets without batches are zero.
// The topN organisms with the most batches overall keep their own series and
// the rest are summed into Others; topN <= 0 keeps every organism. With smooth
// set, each value becomes the mean of itself and its neighbours.
func Community(events []models.TestEvent, p Period, topN int, smooth bool) (*Trend, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tr := &Trend{
		Period:    p,
		Buckets:   []time.Time{},
		Organisms: []string{},
		Locations: []LocationTrend{},
	}
	if len(events) == 0 {
		return tr, nil
	}

	type batch struct {
		group models.Group
		ts    time.Time
	}
	seen := make(map[batch]bool)
	var batches []batch
	var days []time.Time
	first, last := models.Day(events[0].Timestamp), models.Day(events[0].Timestamp)
	for _, e := range events {
		b := batch{group: e.Group(), ts: e.Timestamp.UTC()}
		if seen[b] {
			continue
		}
		seen[b] = true
		day := models.Day(e.Timestamp)
		batches = append(batches, b)
		days = append(days, day)
		if day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}
	}

	totals := make(map[string]int)
	for _, b := range batches {
		totals[b.group.Organism]++
	}
	ranked := make([]string, 0, len(totals))
	for org := range totals {
		ranked = append(ranked, org)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if totals[ranked[i]] != totals[ranked[j]] {
			return totals[ranked[i]] > totals[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if topN > 0 && len(ranked) > topN {
		tr.Organisms = append(ranked[:topN:topN], Others)
	} else {
		tr.Organisms = ranked
	}
	series := make(map[string]int, len(tr.Organisms))
	for i, org := range tr.Organisms {
		series[org] = i
	}

	origin := p.start(first, first)
	bucket := make(map[time.Time]int)
	for start := origin; !start.After(last); start = p.next(start) {
		bucket[start] = len(tr.Buckets)
		tr.Buckets = append(tr.Buckets, start)
	}

	byLocation := make(map[string][][]float64)
	for i, b := range batches {
		loc := b.group.Location
		grid, ok := byLocation[loc]
		if !ok {
			grid = make([][]float64, len(tr.Organisms))
			for j := range grid {
				grid[j] = make([]float64, len(tr.Buckets))
			}
			byLocation[loc] = grid
		}
		s, ok := series[b.group.Organism]
		if !ok {
			s = series[Others]
		}
		grid[s][bucket[p.start(origin, days[i])]]++
	}

	locations := make([]string, 0, len(byLocation))
	for loc := range byLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)
	for _, loc := range locations {
		lt := LocationTrend{Location: loc, Series: make([]TrendSeries, len(tr.Organisms))}
		for i, values := range byLocation[loc] {
			if smooth {
				values = smoothed(values)
			}
			lt.Series[i] = TrendSeries{Organism: tr.Organisms[i], Values: values}
		}
		tr.Locations = append(tr.Locations, lt)
	}
	return tr, nil
}

// smoothed is a centred three-point moving average; the ends average the
// neighbours they have.
func smoothed(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		lo, hi := max(0, i-1), min(len(v), i+2)
		var sum float64
		for _, x := range v[lo:hi] {
			sum += x
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}
