package summary

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/amrwatch/internal/models"
)

var d0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func row(loc, org string, dayOffset int, rateAlert, countAlert bool, z float64) models.ScoredRow {
	day := d0.AddDate(0, 0, dayOffset)
	return models.ScoredRow{
		Location:     loc,
		Organism:     org,
		Timestamp:    day.Add(9 * time.Hour),
		Day:          day,
		ZRate:        z,
		IsAlertRate:  rateAlert,
		IsAlertCount: countAlert,
		ZCount:       math.NaN(),
	}
}

func TestSummarize(t *testing.T) {
	rows := []models.ScoredRow{
		row("North", "E. coli", 0, false, false, 0.1),
		row("North", "E. coli", 1, true, false, 4),
		row("North", "E. coli", 3, false, true, -0.5),
		row("North", "K. pneumoniae", 2, true, false, 6),
		row("South", "E. coli", 1, false, false, 0),
		row("East", "S. aureus", 5, true, true, 10),
	}

	s := Summarize(rows)

	assert.Equal(t, 6, s.TotalRecords)
	assert.Equal(t, 4, s.AlertRows)
	assert.Equal(t, 3, s.ActiveAlerts)
	assert.Equal(t, 3, s.TotalLocations)
	assert.Equal(t, 2, s.AffectedLocations)

	require.Len(t, s.LatestAlerts, 3)
	assert.Equal(t, "S. aureus", s.LatestAlerts[0].Organism)
	assert.Equal(t, d0.AddDate(0, 0, 3), s.LatestAlerts[1].Day, "latest alert of North/E. coli is the count alert on day 3")
	assert.Equal(t, "K. pneumoniae", s.LatestAlerts[2].Organism)

	require.Len(t, s.ByLocation, 2)
	assert.Equal(t, "East", s.ByLocation[0].Location)
	assert.Equal(t, "North", s.ByLocation[1].Location)
	assert.Len(t, s.ByLocation[1].Alerts, 2)

	require.NotNil(t, s.RateAlertZ)
	assert.Equal(t, 3, s.RateAlertZ.Count)
	assert.Equal(t, 6.0, s.RateAlertZ.Median)
	assert.Equal(t, 10.0, s.RateAlertZ.Max)
}

func TestSummarize_NoAlerts(t *testing.T) {
	s := Summarize([]models.ScoredRow{row("North", "E. coli", 0, false, false, 0)})

	assert.Equal(t, 1, s.TotalRecords)
	assert.Zero(t, s.ActiveAlerts)
	assert.Zero(t, s.AffectedLocations)
	assert.NotNil(t, s.LatestAlerts)
	assert.Empty(t, s.LatestAlerts)
	assert.Nil(t, s.RateAlertZ)

	empty := Summarize(nil)
	assert.Zero(t, empty.TotalRecords)
	assert.Zero(t, empty.TotalLocations)
}

func event(org string, dayOffset int, o models.Outcome) models.TestEvent {
	return models.TestEvent{
		Timestamp: d0.AddDate(0, 0, dayOffset).Add(10 * time.Hour),
		Location:  "North",
		Organism:  org,
		Outcome:   o,
	}
}

func TestBreakdown(t *testing.T) {
	events := []models.TestEvent{
		event("E. coli", 2, models.Resistant),
		event("E. coli", 0, models.Resistant),
		event("E. coli", 1, models.Susceptible),
		event("E. coli", 6, models.Intermediate),
		event("E. coli", 7, models.Susceptible),
		event("E. coli", 15, models.Resistant),
		event("A. baumannii", 3, models.Susceptible),
	}

	got, err := Breakdown(events, Days(7))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "A. baumannii", got[0].Organism)
	assert.Equal(t, []Bucket{{Start: d0.AddDate(0, 0, 3), S: 100, Total: 1}}, got[0].Buckets)

	ecoli := got[1]
	require.Len(t, ecoli.Buckets, 3)
	assert.Equal(t, Bucket{Start: d0, R: 50, I: 25, S: 25, Total: 4}, ecoli.Buckets[0])
	assert.Equal(t, Bucket{Start: d0.AddDate(0, 0, 7), S: 100, Total: 1}, ecoli.Buckets[1])
	assert.Equal(t, Bucket{Start: d0.AddDate(0, 0, 14), R: 100, Total: 1}, ecoli.Buckets[2])
}

func TestBreakdown_Rounding(t *testing.T) {
	events := []models.TestEvent{
		event("E. coli", 0, models.Resistant),
		event("E. coli", 0, models.Susceptible),
		event("E. coli", 0, models.Susceptible),
	}
	got, err := Breakdown(events, Days(30))
	require.NoError(t, err)
	require.Len(t, got[0].Buckets, 1)
	assert.Equal(t, 33.3, got[0].Buckets[0].R)
	assert.Equal(t, 66.7, got[0].Buckets[0].S)
}

func TestBreakdown_InvalidBucket(t *testing.T) {
	_, err := Breakdown(nil, Days(0))
	assert.Error(t, err)

	got, err := Breakdown(nil, Days(7))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBreakdown_CalendarPeriods(t *testing.T) {
	// d0 is Wednesday 2024-05-01.
	events := []models.TestEvent{
		event("E. coli", -1, models.Intermediate),
		event("E. coli", 0, models.Resistant),
		event("E. coli", 2, models.Susceptible),
		event("E. coli", 31, models.Susceptible),
		event("E. coli", 61, models.Resistant),
	}
	date := func(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

	got, err := Breakdown(events, Period{Calendar: Month})
	require.NoError(t, err)
	assert.Equal(t, []Bucket{
		{Start: date(time.April, 1), I: 100, Total: 1},
		{Start: date(time.May, 1), R: 50, S: 50, Total: 2},
		{Start: date(time.June, 1), S: 100, Total: 1},
		{Start: date(time.July, 1), R: 100, Total: 1},
	}, got[0].Buckets)

	got, err = Breakdown(events, Period{Calendar: Quarter})
	require.NoError(t, err)
	assert.Equal(t, []Bucket{
		{Start: date(time.April, 1), R: 25, I: 25, S: 50, Total: 4},
		{Start: date(time.July, 1), R: 100, Total: 1},
	}, got[0].Buckets)

	got, err = Breakdown(events, Period{Calendar: Week})
	require.NoError(t, err)
	require.Len(t, got[0].Buckets, 3)
	assert.Equal(t, date(time.April, 29), got[0].Buckets[0].Start)
	assert.Equal(t, 3, got[0].Buckets[0].Total)
	assert.Equal(t, date(time.May, 27), got[0].Buckets[1].Start)
	assert.Equal(t, date(time.July, 1), got[0].Buckets[2].Start)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{"7", Days(7), false},
		{"14D", Days(14), false},
		{"m", Period{Calendar: Month}, false},
		{"W", Period{Calendar: Week}, false},
		{"Q", Period{Calendar: Quarter}, false},
		{"0", Period{}, true},
		{"-3", Period{}, true},
		{"Y", Period{}, true},
		{"", Period{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeriod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommunity(t *testing.T) {
	at := func(loc, org string, dayOffset, hour int) models.TestEvent {
		return models.TestEvent{
			Timestamp: d0.AddDate(0, 0, dayOffset).Add(time.Duration(hour) * time.Hour),
			Location:  loc,
			Organism:  org,
			Outcome:   models.Susceptible,
		}
	}
	events := []models.TestEvent{
		at("North", "E. coli", 0, 8),
		at("North", "E. coli", 0, 8),
		at("North", "E. coli", 1, 8),
		at("North", "E. coli", 8, 8),
		at("North", "K. pneumoniae", 2, 9),
		at("South", "E. coli", 3, 9),
		at("South", "K. pneumoniae", 9, 9),
		at("South", "A. baumannii", 9, 10),
	}

	tr, err := Community(events, Days(7), 2, false)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d0, d0.AddDate(0, 0, 7)}, tr.Buckets)
	assert.Equal(t, []string{"E. coli", "K. pneumoniae", Others}, tr.Organisms)
	require.Len(t, tr.Locations, 2)
	assert.Equal(t, LocationTrend{Location: "North", Series: []TrendSeries{
		{Organism: "E. coli", Values: []float64{2, 1}},
		{Organism: "K. pneumoniae", Values: []float64{1, 0}},
		{Organism: Others, Values: []float64{0, 0}},
	}}, tr.Locations[0])
	assert.Equal(t, LocationTrend{Location: "South", Series: []TrendSeries{
		{Organism: "E. coli", Values: []float64{1, 0}},
		{Organism: "K. pneumoniae", Values: []float64{0, 1}},
		{Organism: Others, Values: []float64{0, 1}},
	}}, tr.Locations[1])

	tr, err = Community(events, Days(7), 0, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"E. coli", "K. pneumoniae", "A. baumannii"}, tr.Organisms)
	assert.Equal(t, []float64{1.5, 1.5}, tr.Locations[0].Series[0].Values)

	tr, err = Community(events, Period{Calendar: Month}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d0}, tr.Buckets)
	assert.Equal(t, []float64{3}, tr.Locations[0].Series[0].Values)
}

func TestCommunity_Empty(t *testing.T) {
	tr, err := Community(nil, Days(7), 10, true)
	require.NoError(t, err)
	assert.Empty(t, tr.Buckets)
	assert.NotNil(t, tr.Locations)

	_, err = Community(nil, Days(0), 10, false)
	assert.Error(t, err)
}

func TestSmoothed(t *testing.T) {
	assert.Equal(t, []float64{2, 3, 4, 4.5}, smoothed([]float64{1, 3, 5, 4}))
	assert.Equal(t, []float64{7}, smoothed([]float64{7}))
	assert.Empty(t, smoothed(nil))
}
