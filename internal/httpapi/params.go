package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/storage"
	"github.com/rewired-gh/amrwatch/internal/summary"
)

const (
	defaultBucketDays = 7
	defaultTopN       = 10
)

// parseRequest builds an analysis request from query parameters, starting from
// the server defaults. Every error wraps analysis.ErrInvalidConfig.
func (s *Server) parseRequest(q url.Values) (analysis.Request, error) {
	req := analysis.Request{Params: s.defaults}

	var err error
	if req.WindowDays, err = intParam(q, "window_days", req.WindowDays); err != nil {
		return req, err
	}
	if req.ZThreshold, err = floatParam(q, "z_threshold", req.ZThreshold); err != nil {
		return req, err
	}
	if req.CountMinSupport, err = intParam(q, "count_min_support", req.CountMinSupport); err != nil {
		return req, err
	}
	if v := q.Get("window_mode"); v != "" {
		req.WindowMode = analysis.WindowMode(v)
	}
	if v := q.Get("rate_direction"); v != "" {
		req.RateDirection = analysis.Direction(v)
	}

	if req.Start, err = dateParam(q, "start"); err != nil {
		return req, err
	}
	if req.End, err = dateParam(q, "end"); err != nil {
		return req, err
	}
	req.Locations = listParam(q, "location")
	req.Organisms = listParam(q, "organism")
	return req, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", analysis.ErrInvalidConfig, key, v)
	}
	return n, nil
}

func floatParam(q url.Values, key string, def float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", analysis.ErrInvalidConfig, key, v)
	}
	return f, nil
}

func dateParam(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a YYYY-MM-DD date, got %q", analysis.ErrInvalidConfig, key, v)
	}
	return t, nil
}

// listParam accepts both repeated keys and comma-separated values.
func listParam(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func boolParam(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false, got %q", analysis.ErrInvalidConfig, key, v)
	}
	return b, nil
}

// periodParam reads freq (a day count, W, M or Q) and falls back to
// bucket_days.
func periodParam(q url.Values) (summary.Period, error) {
	if v := q.Get("freq"); v != "" {
		p, err := summary.ParsePeriod(v)
		if err != nil {
			return summary.Period{}, fmt.Errorf("%w: freq: %v", analysis.ErrInvalidConfig, err)
		}
		return p, nil
	}
	n, err := intParam(q, "bucket_days", defaultBucketDays)
	if err != nil {
		return summary.Period{}, err
	}
	p := summary.Days(n)
	if err := p.Validate(); err != nil {
		return summary.Period{}, fmt.Errorf("%w: %v", analysis.ErrInvalidConfig, err)
	}
	return p, nil
}

// eventFilter reads the location, start and end filters shared by the event
// endpoints.
func eventFilter(q url.Values, organisms []string) (storage.EventFilter, error) {
	f := storage.EventFilter{Organisms: organisms, Locations: listParam(q, "location")}
	var err error
	if f.From, err = dateParam(q, "start"); err != nil {
		return f, err
	}
	if f.To, err = dateParam(q, "end"); err != nil {
		return f, err
	}
	return f, nil
}
