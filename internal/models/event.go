// Package models defines the record types flowing through the resistance monitor.
// Raw microbiology results enter as TestEvent values, are aggregated per
// (location, organism) group into ResistancePoint and DailyCount series, and leave
// the analysis engine as ScoredRow values.
//
// Terminology:
//   - Location: the hospital campus parsed from a free-text ward descriptor.
//   - Organism: the identified microbial species of a test record.
//   - Group: one (location, organism) pair; the unit of baseline computation.
package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Outcome is the normalised susceptibility result of a single test.
type Outcome string

const (
	Resistant    Outcome = "R"
	Intermediate Outcome = "I"
	Susceptible  Outcome = "S"
)

// UnknownLocation is assigned when a ward descriptor carries no parenthesised campus.
const UnknownLocation = "unknown location"

// outcomeCodes maps trimmed, upper-cased lab codes onto outcomes.
var outcomeCodes = map[string]Outcome{
	"R":   Resistant,
	"+":   Resistant,
	"I":   Intermediate,
	"SDD": Intermediate,
	"S":   Susceptible,
	"-":   Susceptible,
}

// ParseOutcome normalises a raw lab code. The second return is false for codes
// outside the fixed mapping; such records are excluded from every series.
func ParseOutcome(raw string) (Outcome, bool) {
	o, ok := outcomeCodes[strings.ToUpper(strings.TrimSpace(raw))]
	return o, ok
}

var locationPattern = regexp.MustCompile(`\((.*?)\)`)

// ExtractLocation returns the first parenthesised substring of a ward descriptor,
// e.g. "Ward12(City)" -> "City".
func ExtractLocation(ward string) string {
	m := locationPattern.FindStringSubmatch(ward)
	if m == nil {
		return UnknownLocation
	}
	return m[1]
}

// TestEvent is one microbiology test result read from the external store.
type TestEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location"`
	Organism  string    `json:"organism"`
	Outcome   Outcome   `json:"outcome"`
}

// Group returns the (location, organism) pair the event belongs to.
func (e TestEvent) Group() Group {
	return Group{Location: e.Location, Organism: e.Organism}
}

// Validate checks that the event can take part in aggregation.
func (e *TestEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if e.Organism == "" {
		return errors.New("organism must not be empty")
	}
	if e.Location == "" {
		return errors.New("location must not be empty")
	}
	switch e.Outcome {
	case Resistant, Intermediate, Susceptible:
	default:
		return errors.New("outcome must be one of R, I, S")
	}
	return nil
}

// Day truncates t to its calendar day. The wall clock of t's own location is
// used and the result is expressed in UTC so days compare with ==.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
