// Package storage provides read-only access to the external table of microbiology
// test records.
//
// The store never writes. Every query is a SELECT over one configurable table;
// outcome codes are normalised and locations derived in Go, so the same queries
// run unchanged on SQLite and PostgreSQL. Timestamps are returned in UTC.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/models"
)

// Schema names the table and columns of the external store. Location is optional:
// when empty, the location is parsed from the Ward descriptor.
type Schema struct {
	Table     string
	Timestamp string
	Ward      string
	Organism  string
	Outcome   string
	Location  string
}

// DefaultSchema returns the layout of the reference micro_test table.
func DefaultSchema() Schema {
	return Schema{
		Table:     "micro_test",
		Timestamp: "datetime",
		Ward:      "inpatient_ward_name",
		Organism:  "micro_test_name",
		Outcome:   "test_result_other",
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every configured name is a plain SQL identifier, since
// they are interpolated into queries.
func (s Schema) Validate() error {
	required := []struct{ key, val string }{
		{"table", s.Table},
		{"timestamp", s.Timestamp},
		{"organism", s.Organism},
		{"outcome", s.Outcome},
	}
	if s.Location == "" {
		required = append(required, struct{ key, val string }{"ward", s.Ward})
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("store %s name must not be empty", r.key)
		}
	}
	for _, name := range []string{s.Table, s.Timestamp, s.Ward, s.Organism, s.Outcome, s.Location} {
		if name != "" && !identPattern.MatchString(name) {
			return fmt.Errorf("invalid SQL identifier %q", name)
		}
	}
	return nil
}

// placeColumn is the column whose value identifies the location.
func (s Schema) placeColumn() string {
	if s.Location != "" {
		return s.Location
	}
	return s.Ward
}

// locationOf turns a raw place value into a location.
func (s Schema) locationOf(place sql.NullString) string {
	if s.Location != "" {
		if !place.Valid || place.String == "" {
			return models.UnknownLocation
		}
		return place.String
	}
	return models.ExtractLocation(place.String)
}

// Store is a pooled, read-only view of the test-record table.
type Store struct {
	db     *sqlx.DB
	schema Schema
}

// Open connects to the store. driver is one of "sqlite" (pure Go), "sqlite3"
// (cgo) or "postgres". SQLite files are opened query-only; a PostgreSQL store
// should be reached through a read-only role.
func Open(driver, dsn string, schema Schema, maxOpenConns int) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, readOnlyDSN(driver, dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}
	// Every connection to an in-memory SQLite database is a separate database.
	if dsn == ":memory:" {
		maxOpenConns = 1
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", driver, err)
	}

	logger.Info("Connected to %s store, table %s", driver, schema.Table)
	return &Store{db: db, schema: schema}, nil
}

// readOnlyDSN appends the driver's query-only option to a SQLite DSN. An
// in-memory database belongs to this process and is left writable.
func readOnlyDSN(driver, dsn string) string {
	var opt string
	switch driver {
	case "sqlite":
		opt = "_pragma=query_only(1)"
	case "sqlite3":
		opt = "_query_only=1"
	default:
		return dsn
	}
	if dsn == ":memory:" || strings.Contains(dsn, opt) {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + opt
	}
	return dsn + "?" + opt
}

// New wraps an existing connection.
func New(db *sqlx.DB, schema Schema) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Store{db: db, schema: schema}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Groups returns the distinct (location, organism) pairs present in the table.
func (s *Store) Groups(ctx context.Context) ([]models.Group, error) {
	sc := s.schema
	query := fmt.Sprintf(`SELECT DISTINCT %s, %s FROM %s WHERE %s IS NOT NULL AND %s != ''`,
		sc.placeColumn(), sc.Organism, sc.Table, sc.Organism, sc.Organism)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	seen := make(map[models.Group]bool)
	var groups []models.Group
	for rows.Next() {
		var place sql.NullString
		var organism string
		if err := rows.Scan(&place, &organism); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g := models.Group{Location: sc.locationOf(place), Organism: organism}
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Less(groups[j]) })
	return groups, nil
}

// FetchGroup loads the complete history of one group. Records with an outcome
// code outside the fixed mapping are dropped. An unknown group yields an empty
// history.
func (s *Store) FetchGroup(ctx context.Context, g models.Group) (models.GroupHistory, error) {
	events, err := s.Events(ctx, EventFilter{
		Organisms: []string{g.Organism},
		Locations: []string{g.Location},
	})
	if err != nil {
		return models.GroupHistory{}, err
	}
	return models.AggregateGroup(g, events), nil
}

// EventFilter selects test events. Organisms is required; the other fields are
// optional. From and To bound the event day, inclusive.
type EventFilter struct {
	Organisms []string
	Locations []string
	From      time.Time
	To        time.Time
}

// Events returns the valid test events matching f, ordered by timestamp.
func (s *Store) Events(ctx context.Context, f EventFilter) ([]models.TestEvent, error) {
	if len(f.Organisms) == 0 {
		return nil, nil
	}
	sc := s.schema

	query := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s WHERE %s IN (?)`,
		sc.Timestamp, sc.placeColumn(), sc.Organism, sc.Outcome, sc.Table, sc.Organism)
	args := []interface{}{f.Organisms}
	if sc.Location != "" && len(f.Locations) > 0 {
		// NULL and blank places map to UnknownLocation, which no row stores.
		if slices.Contains(f.Locations, models.UnknownLocation) {
			query += fmt.Sprintf(` AND (%s IN (?) OR %s IS NULL OR %s = '')`, sc.Location, sc.Location, sc.Location)
		} else {
			query += fmt.Sprintf(` AND %s IN (?)`, sc.Location)
		}
		args = append(args, f.Locations)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand event query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	locations := make(map[string]bool, len(f.Locations))
	for _, l := range f.Locations {
		locations[l] = true
	}
	var from, to time.Time
	if !f.From.IsZero() {
		from = models.Day(f.From)
	}
	if !f.To.IsZero() {
		to = models.Day(f.To)
	}

	var events []models.TestEvent
	skipped := 0
	for rows.Next() {
		var (
			rawTS    interface{}
			place    sql.NullString
			organism string
			code     sql.NullString
		)
		if err := rows.Scan(&rawTS, &place, &organism, &code); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		outcome, ok := models.ParseOutcome(code.String)
		if !ok {
			skipped++
			continue
		}
		ts, err := parseTimestamp(rawTS)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", sc.Timestamp, err)
		}
		loc := sc.locationOf(place)
		if len(locations) > 0 && !locations[loc] {
			continue
		}
		day := models.Day(ts)
		if (!from.IsZero() && day.Before(from)) || (!to.IsZero() && day.After(to)) {
			continue
		}

		ev := models.TestEvent{
			Timestamp: ts,
			Location:  loc,
			Organism:  organism,
			Outcome:   outcome,
		}
		if err := ev.Validate(); err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	if skipped > 0 {
		logger.Debug("Events %v: skipped %d records with unknown outcome codes or missing fields", f.Organisms, skipped)
	}
	return events, nil
}
