package analysis

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/models"
)

// Fetcher is the read-only view of the external store the runner needs.
// FetchGroup must return the group's complete history, never a date-filtered
// subset, and an empty history rather than an error for unknown groups.
type Fetcher interface {
	Groups(ctx context.Context) ([]models.Group, error)
	FetchGroup(ctx context.Context, g models.Group) (models.GroupHistory, error)
}

// ProgressFunc is called once per group, before the group is fetched. current
// is 1-based.
type ProgressFunc func(current, total int, label string)

// Request describes one analysis run.
type Request struct {
	Params

	// Start and End bound the reported rows by day, inclusive. Zero is open.
	Start time.Time
	End   time.Time

	// Locations and Organisms restrict the discovered groups. Empty means all.
	Locations []string
	Organisms []string

	Progress ProgressFunc
}

// Validate checks the request before any group is touched.
func (r *Request) Validate() error {
	if err := r.Params.Validate(); err != nil {
		return err
	}
	if !r.Start.IsZero() && !r.End.IsZero() && models.Day(r.Start).After(models.Day(r.End)) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidConfig,
			r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	}
	r.Locations = normalizeList(r.Locations)
	r.Organisms = normalizeList(r.Organisms)
	return nil
}

// RunMeta describes how a run was computed.
type RunMeta struct {
	RunID string `json:"run_id"`
	Params
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	GroupsTotal   int        `json:"groups_total"`
	GroupsEmitted int        `json:"groups_emitted"`
	Rows          int        `json:"rows"`
}

// Batch is the concatenated output of a run.
type Batch struct {
	Meta RunMeta            `json:"meta"`
	Rows []models.ScoredRow `json:"rows"`
}

// Runner enumerates groups, analyses each one over its full history and applies
// the date filter afterwards.
type Runner struct {
	fetcher     Fetcher
	concurrency int
}

// NewRunner creates a Runner. concurrency > 1 lets Run analyse that many groups
// at once; Stream is always sequential.
func NewRunner(f Fetcher, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{fetcher: f, concurrency: concurrency}
}

// Stream validates req and returns a lazy sequence of per-group results. Groups
// are computed one at a time as the consumer pulls them; breaking out of the loop
// abandons the remaining groups. Each range over the sequence is a fresh run.
// Groups with no rows after date filtering are skipped. A store failure is
// yielded once as an error and ends the sequence.
func (r *Runner) Stream(ctx context.Context, req Request) (RunMeta, iter.Seq2[models.GroupResult, error], error) {
	meta, err := r.begin(&req)
	if err != nil {
		return RunMeta{}, nil, err
	}

	seq := func(yield func(models.GroupResult, error) bool) {
		groups, err := r.discover(ctx, req)
		if err != nil {
			yield(models.GroupResult{}, err)
			return
		}

		an := NewAnalyzer(req.Params)
		for i, g := range groups {
			if err := ctx.Err(); err != nil {
				yield(models.GroupResult{}, err)
				return
			}
			if req.Progress != nil {
				req.Progress(i+1, len(groups), g.Label())
			}
			res, err := r.analyzeGroup(ctx, an, g, req)
			if err != nil {
				yield(models.GroupResult{}, err)
				return
			}
			if len(res.Rows) == 0 {
				continue
			}
			if !yield(res, nil) {
				return
			}
		}
	}
	return meta, seq, nil
}

// Run validates req, analyses every selected group and concatenates the rows in
// group order.
func (r *Runner) Run(ctx context.Context, req Request) (*Batch, error) {
	meta, err := r.begin(&req)
	if err != nil {
		return nil, err
	}

	groups, err := r.discover(ctx, req)
	if err != nil {
		return nil, err
	}
	meta.GroupsTotal = len(groups)

	var results []models.GroupResult
	if r.concurrency > 1 && len(groups) > 1 {
		results, err = r.collectParallel(ctx, groups, req)
	} else {
		results, err = r.collect(ctx, groups, req)
	}
	if err != nil {
		return nil, err
	}

	b := &Batch{Rows: []models.ScoredRow{}}
	for _, res := range results {
		if len(res.Rows) == 0 {
			continue
		}
		meta.GroupsEmitted++
		b.Rows = append(b.Rows, res.Rows...)
	}
	meta.Rows = len(b.Rows)
	meta.FinishedAt = time.Now().UTC()
	b.Meta = meta

	logger.Info("Run %s: %d groups analysed, %d emitted, %d rows in %v",
		meta.RunID, meta.GroupsTotal, meta.GroupsEmitted, meta.Rows, meta.FinishedAt.Sub(meta.StartedAt))
	return b, nil
}

func (r *Runner) begin(req *Request) (RunMeta, error) {
	if err := req.Validate(); err != nil {
		return RunMeta{}, err
	}

	meta := RunMeta{
		RunID:     uuid.New().String(),
		Params:    req.Params,
		StartedAt: time.Now().UTC(),
	}
	if !req.Start.IsZero() {
		s := models.Day(req.Start)
		meta.Start = &s
	}
	if !req.End.IsZero() {
		e := models.Day(req.End)
		meta.End = &e
	}

	if req.WindowMode == WindowInclusive {
		logger.Warn("Run %s: rate baseline uses an inclusive window; each reading is part of its own baseline",
			meta.RunID)
	}
	return meta, nil
}

// discover lists the distinct groups in the store, restricted to the request's
// allow-lists, in (location, organism) order.
func (r *Runner) discover(ctx context.Context, req Request) ([]models.Group, error) {
	all, err := r.fetcher.Groups(ctx)
	if err != nil {
		return nil, &StoreError{Op: "discover", Err: err}
	}

	locs := toSet(req.Locations)
	orgs := toSet(req.Organisms)
	seen := make(map[models.Group]bool, len(all))
	var groups []models.Group
	for _, g := range all {
		if seen[g] {
			continue
		}
		seen[g] = true
		if locs != nil && !locs[g.Location] {
			continue
		}
		if orgs != nil && !orgs[g.Organism] {
			continue
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Less(groups[j]) })

	logger.Debug("discover: %d groups in store, %d selected", len(all), len(groups))
	return groups, nil
}

func (r *Runner) analyzeGroup(ctx context.Context, an *Analyzer, g models.Group, req Request) (models.GroupResult, error) {
	h, err := r.fetcher.FetchGroup(ctx, g)
	if err != nil {
		gc := g
		return models.GroupResult{}, &StoreError{Op: "fetch", Group: &gc, Err: err}
	}
	h.Group = g
	for i := range h.Points {
		if err := h.Points[i].Validate(); err != nil {
			gc := g
			return models.GroupResult{}, &StoreError{Op: "fetch", Group: &gc,
				Err: fmt.Errorf("reading at %s: %w", h.Points[i].Timestamp.Format(time.RFC3339), err)}
		}
	}

	res := an.Analyze(h)
	res.Rows = filterByDay(res.Rows, req.Start, req.End)
	logger.Debug("group %s: %d readings, %d rows and %d alerts after date filter",
		g.Label(), len(h.Points), len(res.Rows), len(res.Alerts()))
	return res, nil
}

func (r *Runner) collect(ctx context.Context, groups []models.Group, req Request) ([]models.GroupResult, error) {
	an := NewAnalyzer(req.Params)
	results := make([]models.GroupResult, 0, len(groups))
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.Progress != nil {
			req.Progress(i+1, len(groups), g.Label())
		}
		res, err := r.analyzeGroup(ctx, an, g, req)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// collectParallel analyses groups on a bounded worker pool. Results keep group
// order; progress calls are serialised and numbered in start order.
func (r *Runner) collectParallel(ctx context.Context, groups []models.Group, req Request) ([]models.GroupResult, error) {
	an := NewAnalyzer(req.Params)
	results := make([]models.GroupResult, len(groups))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)

	var mu sync.Mutex
	started := 0
	for i, g := range groups {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if req.Progress != nil {
				mu.Lock()
				started++
				req.Progress(started, len(groups), g.Label())
				mu.Unlock()
			}
			res, err := r.analyzeGroup(egCtx, an, g, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func normalizeList(xs []string) []string {
	var out []string
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func toSet(xs []string) map[string]bool {
	if len(xs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(xs))
	for _, x := range xs {
		set[x] = true
	}
	return set
}
