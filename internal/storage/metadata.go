package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// OrganismCount is the number of records of one organism.
type OrganismCount struct {
	Organism string `db:"organism" json:"organism"`
	Count    int    `db:"total_count" json:"count"`
}

// Metadata describes what the table contains, for populating filter controls.
type Metadata struct {
	Locations []string        `json:"locations"`
	Organisms []OrganismCount `json:"organisms"` // most frequent first
	FirstDay  *time.Time      `json:"first_day,omitempty"`
	LastDay   *time.Time      `json:"last_day,omitempty"`
}

// Metadata returns the distinct locations, organism frequencies and the
// collection date range of the table.
func (s *Store) Metadata(ctx context.Context) (*Metadata, error) {
	locations, err := s.locations(ctx)
	if err != nil {
		return nil, err
	}
	organisms, err := s.organismCounts(ctx)
	if err != nil {
		return nil, err
	}

	md := &Metadata{Locations: locations, Organisms: organisms}

	sc := s.schema
	query := fmt.Sprintf(`SELECT MIN(%s), MAX(%s) FROM %s`, sc.Timestamp, sc.Timestamp, sc.Table)
	var lo, hi interface{}
	if err := s.db.QueryRowContext(ctx, query).Scan(&lo, &hi); err != nil {
		return nil, fmt.Errorf("failed to query date range: %w", err)
	}
	if lo != nil && hi != nil {
		first, err := parseTimestamp(lo)
		if err != nil {
			return nil, fmt.Errorf("failed to parse first %s: %w", sc.Timestamp, err)
		}
		last, err := parseTimestamp(hi)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last %s: %w", sc.Timestamp, err)
		}
		fd, ld := dayOf(first), dayOf(last)
		md.FirstDay, md.LastDay = &fd, &ld
	}
	return md, nil
}

// TopOrganisms returns the names of the n most frequent organisms.
func (s *Store) TopOrganisms(ctx context.Context, n int) ([]string, error) {
	counts, err := s.organismCounts(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(counts) {
		counts = counts[:n]
	}
	names := make([]string, len(counts))
	for i, c := range counts {
		names[i] = c.Organism
	}
	return names, nil
}

func (s *Store) organismCounts(ctx context.Context) ([]OrganismCount, error) {
	sc := s.schema
	query := fmt.Sprintf(`SELECT %s AS organism, COUNT(*) AS total_count
		FROM %s
		WHERE %s IS NOT NULL AND %s != ''
		GROUP BY %s
		ORDER BY total_count DESC, organism`,
		sc.Organism, sc.Table, sc.Organism, sc.Organism, sc.Organism)

	counts := []OrganismCount{}
	if err := s.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to query organism counts: %w", err)
	}
	return counts, nil
}

func (s *Store) locations(ctx context.Context) ([]string, error) {
	sc := s.schema
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s`, sc.placeColumn(), sc.Table)

	var places []sql.NullString
	if err := s.db.SelectContext(ctx, &places, query); err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}

	seen := make(map[string]bool)
	locations := []string{}
	for _, p := range places {
		loc := sc.locationOf(p)
		if !seen[loc] {
			seen[loc] = true
			locations = append(locations, loc)
		}
	}
	sort.Strings(locations)
	return locations, nil
}
