package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/amrwatch/internal/models"
)

const microTestDDL = `CREATE TABLE micro_test (
	id INTEGER PRIMARY KEY,
	datetime TEXT,
	inpatient_ward_name TEXT,
	micro_test_name TEXT,
	test_result_other TEXT
)`

// seedRows are (datetime, ward, organism, outcome); nil is stored as NULL.
var seedRows = [][]interface{}{
	{"2024-01-01 08:00:00", "Ward1(North)", "E. coli", "R"},
	{"2024-01-01 08:00:00", "Ward2(North)", "E. coli", "s"},
	{"2024-01-01 08:00:00", "Ward1(North)", "E. coli", "NA"},
	{"2024-01-02 09:30:00", "Ward1(North)", "E. coli", "+"},
	{"2024-01-02T14:00:00Z", "Ward3(South)", "E. coli", "S"},
	{"2024-01-03 10:00:00", "ICU", "K. pneumoniae", "I"},
	{"2024-01-03 10:00:00", nil, "K. pneumoniae", "R"},
	{"2024-01-04 10:00:00", "Ward1(North)", "", "R"},
	{"2024-01-05 11:00:00", "Ward1(North)", "E. coli", " - "},
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:", DefaultSchema(), 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.db.MustExec(microTestDDL)
	for _, r := range seedRows {
		s.db.MustExec(`INSERT INTO micro_test (datetime, inpatient_ward_name, micro_test_name, test_result_other)
			VALUES (?, ?, ?, ?)`, r...)
	}
	return s
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Schema)
		wantErr bool
	}{
		{"default", func(s *Schema) {}, false},
		{"location column replaces ward", func(s *Schema) { s.Ward = ""; s.Location = "hospital_location" }, false},
		{"missing ward", func(s *Schema) { s.Ward = "" }, true},
		{"missing table", func(s *Schema) { s.Table = "" }, true},
		{"injection in table", func(s *Schema) { s.Table = "micro_test; DROP TABLE x" }, true},
		{"quoted column", func(s *Schema) { s.Outcome = `"result"` }, true},
		{"leading digit", func(s *Schema) { s.Organism = "1name" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSchema()
			tt.modify(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Schema.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_InvalidSchema(t *testing.T) {
	sc := DefaultSchema()
	sc.Table = "bad name"
	_, err := Open("sqlite", ":memory:", sc, 1)
	assert.Error(t, err)
}

func TestStore_Groups(t *testing.T) {
	s := mustStore(t)

	groups, err := s.Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Group{
		{Location: "North", Organism: "E. coli"},
		{Location: "South", Organism: "E. coli"},
		{Location: models.UnknownLocation, Organism: "K. pneumoniae"},
	}, groups)
}

func TestStore_FetchGroup(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	h, err := s.FetchGroup(ctx, models.Group{Location: "North", Organism: "E. coli"})
	require.NoError(t, err)

	require.Len(t, h.Points, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), h.Points[0].Timestamp)
	assert.Equal(t, 50.0, h.Points[0].Rate, "invalid codes must not enter the denominator")
	assert.Equal(t, 2, h.Points[0].Tested)
	assert.Equal(t, 100.0, h.Points[1].Rate)
	assert.Equal(t, 0.0, h.Points[2].Rate)

	assert.Equal(t, []models.DailyCount{
		{Day: day(2024, 1, 1), Count: 1},
		{Day: day(2024, 1, 2), Count: 1},
		{Day: day(2024, 1, 5), Count: 1},
	}, h.Counts)

	h, err = s.FetchGroup(ctx, models.Group{Location: models.UnknownLocation, Organism: "K. pneumoniae"})
	require.NoError(t, err)
	require.Len(t, h.Points, 1)
	assert.Equal(t, 50.0, h.Points[0].Rate)
}

func TestStore_FetchGroup_Unknown(t *testing.T) {
	s := mustStore(t)

	h, err := s.FetchGroup(context.Background(), models.Group{Location: "West", Organism: "E. coli"})
	require.NoError(t, err)
	assert.True(t, h.Empty())
	assert.Empty(t, h.Counts)
}

func TestStore_Events(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	events, err := s.Events(ctx, EventFilter{
		Organisms: []string{"E. coli"},
		From:      day(2024, 1, 2),
		To:        day(2024, 1, 2),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "North", events[0].Location)
	assert.Equal(t, models.Resistant, events[0].Outcome)
	assert.Equal(t, "South", events[1].Location)

	events, err = s.Events(ctx, EventFilter{Organisms: []string{"E. coli", "K. pneumoniae"}, Locations: []string{"South"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.Susceptible, events[0].Outcome)

	events, err = s.Events(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStore_LocationColumn(t *testing.T) {
	sc := DefaultSchema()
	sc.Ward = ""
	sc.Location = "hospital_location"
	s, err := Open("sqlite", ":memory:", sc, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.db.MustExec(`CREATE TABLE micro_test (datetime TEXT, hospital_location TEXT, micro_test_name TEXT, test_result_other TEXT)`)
	for _, r := range [][]interface{}{
		{"2024-02-01 08:00:00", "East", "S. aureus", "R"},
		{"2024-02-01 08:00:00", "East", "S. aureus", "S"},
		{"2024-02-02 08:00:00", "West", "S. aureus", "R"},
		{"2024-02-03 08:00:00", nil, "S. aureus", "R"},
		{"2024-02-04 08:00:00", "", "S. aureus", "S"},
	} {
		s.db.MustExec(`INSERT INTO micro_test VALUES (?, ?, ?, ?)`, r...)
	}
	ctx := context.Background()

	groups, err := s.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Group{
		{Location: "East", Organism: "S. aureus"},
		{Location: "West", Organism: "S. aureus"},
		{Location: models.UnknownLocation, Organism: "S. aureus"},
	}, groups)

	h, err := s.FetchGroup(ctx, models.Group{Location: "East", Organism: "S. aureus"})
	require.NoError(t, err)
	require.Len(t, h.Points, 1)
	assert.Equal(t, 50.0, h.Points[0].Rate)

	h, err = s.FetchGroup(ctx, models.Group{Location: models.UnknownLocation, Organism: "S. aureus"})
	require.NoError(t, err)
	require.Len(t, h.Points, 2, "NULL and blank locations belong to the unknown group")
	assert.Equal(t, 100.0, h.Points[0].Rate)
	assert.Equal(t, 0.0, h.Points[1].Rate)

	events, err := s.Events(ctx, EventFilter{
		Organisms: []string{"S. aureus"},
		Locations: []string{"West", models.UnknownLocation},
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "West", events[0].Location)
	assert.Equal(t, models.UnknownLocation, events[2].Location)
}

func TestReadOnlyDSN(t *testing.T) {
	tests := []struct {
		driver, dsn, want string
	}{
		{"sqlite", "micro.db", "micro.db?_pragma=query_only(1)"},
		{"sqlite", "file:micro.db?cache=shared", "file:micro.db?cache=shared&_pragma=query_only(1)"},
		{"sqlite", "micro.db?_pragma=query_only(1)", "micro.db?_pragma=query_only(1)"},
		{"sqlite3", "micro.db", "micro.db?_query_only=1"},
		{"sqlite", ":memory:", ":memory:"},
		{"postgres", "postgres://reader@db/micro", "postgres://reader@db/micro"},
	}

	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, readOnlyDSN(tt.driver, tt.dsn))
		})
	}
}

func TestOpen_FileIsReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "micro.db")
	seed := sqlx.MustOpen("sqlite", path)
	seed.MustExec(microTestDDL)
	seed.MustExec(`INSERT INTO micro_test (datetime, inpatient_ward_name, micro_test_name, test_result_other)
		VALUES ('2024-01-01 08:00:00', 'Ward1(North)', 'E. coli', 'R')`)
	require.NoError(t, seed.Close())

	s, err := Open("sqlite", path, DefaultSchema(), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	groups, err := s.Groups(context.Background())
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	_, err = s.db.Exec(`DELETE FROM micro_test`)
	assert.Error(t, err)
}

func TestStore_Metadata(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	md, err := s.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"North", "South", models.UnknownLocation}, md.Locations)
	assert.Equal(t, []OrganismCount{
		{Organism: "E. coli", Count: 6},
		{Organism: "K. pneumoniae", Count: 2},
	}, md.Organisms)
	require.NotNil(t, md.FirstDay)
	require.NotNil(t, md.LastDay)
	assert.Equal(t, day(2024, 1, 1), *md.FirstDay)
	assert.Equal(t, day(2024, 1, 5), *md.LastDay)

	top, err := s.TopOrganisms(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"E. coli"}, top)

	all, err := s.TopOrganisms(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_MetadataEmptyTable(t *testing.T) {
	s, err := Open("sqlite", ":memory:", DefaultSchema(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.db.MustExec(microTestDDL)

	md, err := s.Metadata(context.Background())
	require.NoError(t, err)
	assert.Empty(t, md.Locations)
	assert.Empty(t, md.Organisms)
	assert.Nil(t, md.FirstDay)
}

func TestStore_MissingTable(t *testing.T) {
	s, err := Open("sqlite", ":memory:", DefaultSchema(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Groups(context.Background())
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	tests := []struct {
		name    string
		in      interface{}
		want    time.Time
		wantErr bool
	}{
		{"sqlite text", "2024-03-09 14:05:06", want, false},
		{"fractional seconds", "2024-03-09 14:05:06.250", want.Add(250 * time.Millisecond), false},
		{"iso T", "2024-03-09T14:05:06", want, false},
		{"rfc3339 offset", "2024-03-09T22:05:06+08:00", want, false},
		{"bytes", []byte("2024-03-09 14:05:06"), want, false},
		{"native time", want.In(time.FixedZone("CST", 8*3600)), want, false},
		{"date only", "2024-03-09", day(2024, 3, 9), false},
		{"garbage", "yesterday", time.Time{}, true},
		{"null", nil, time.Time{}, true},
		{"integer", int64(5), time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) || (err == nil && got.Location() != time.UTC) {
				t.Errorf("parseTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}
