package summary

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Calendar names a calendar-aligned bucket size.
type Calendar string

const (
	Week    Calendar = "W" // Monday to Sunday
	Month   Calendar = "M"
	Quarter Calendar = "Q"
)

// Period sizes the time buckets of a breakdown or trend. A positive Days gives
// fixed buckets of that many days counted from an origin day; otherwise
// Calendar gives week, month or quarter buckets.
type Period struct {
	Days     int      `json:"days,omitempty"`
	Calendar Calendar `json:"calendar,omitempty"`
}

// Days returns a fixed period of n days.
func Days(n int) Period {
	return Period{Days: n}
}

// ParsePeriod accepts a day count ("7" or "7D") or one of "W", "M" and "Q".
func ParsePeriod(s string) (Period, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch Calendar(v) {
	case Week, Month, Quarter:
		return Period{Calendar: Calendar(v)}, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(v, "D"))
	if err != nil {
		return Period{}, fmt.Errorf("period must be a day count or one of W, M, Q, got %q", s)
	}
	p := Days(n)
	return p, p.Validate()
}

// Validate rejects empty and non-positive periods.
func (p Period) Validate() error {
	if p.Days > 0 {
		return nil
	}
	switch p.Calendar {
	case Week, Month, Quarter:
		return nil
	case "":
		return fmt.Errorf("bucket days must be at least 1, got %d", p.Days)
	default:
		return fmt.Errorf("unknown calendar period %q", p.Calendar)
	}
}

func (p Period) String() string {
	if p.Days > 0 {
		return fmt.Sprintf("%dD", p.Days)
	}
	return string(p.Calendar)
}

// start returns the first day of the bucket holding day. Fixed buckets are
// counted from origin, which must not be after day.
func (p Period) start(origin, day time.Time) time.Time {
	if p.Days > 0 {
		n := int(day.Sub(origin).Hours()/24) / p.Days
		return origin.AddDate(0, 0, n*p.Days)
	}
	y, m, d := day.Date()
	switch p.Calendar {
	case Week:
		return time.Date(y, m, d-(int(day.Weekday())+6)%7, 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, (m-1)/3*3+1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// next returns the first day of the bucket after the one starting at start.
func (p Period) next(start time.Time) time.Time {
	if p.Days > 0 {
		return start.AddDate(0, 0, p.Days)
	}
	switch p.Calendar {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 3, 0)
	}
}
