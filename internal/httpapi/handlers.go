package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/export"
	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/models"
	"github.com/rewired-gh/amrwatch/internal/summary"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type analysisResponse struct {
	Meta    analysis.RunMeta   `json:"meta"`
	Summary summary.Summary    `json:"summary"`
	Rows    []models.ScoredRow `json:"rows"`
}

// streamEvent is one NDJSON line of a streaming run.
type streamEvent struct {
	Type    string             `json:"type"` // progress, group, done or error
	Current int                `json:"current,omitempty"`
	Total   int                `json:"total,omitempty"`
	Label   string             `json:"label,omitempty"`
	Group   *models.Group      `json:"group,omitempty"`
	Rows    []models.ScoredRow `json:"rows,omitempty"`
	Meta    *analysis.RunMeta  `json:"meta,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := s.store.Metadata(r.Context())
	if err != nil {
		writeError(w, &analysis.StoreError{Op: "metadata", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// handleAnalysis runs a batch analysis. format=xlsx returns the rows and the
// latest alerts as a workbook instead of JSON.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	batch, err := s.runner.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	sum := summary.Summarize(batch.Rows)

	if r.URL.Query().Get("format") == "xlsx" {
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="amrwatch-%s.xlsx"`, batch.Meta.RunID))
		if err := export.Write(w, batch.Rows, sum.LatestAlerts); err != nil {
			logger.Error("Failed to stream workbook for run %s: %v", batch.Meta.RunID, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse{Meta: batch.Meta, Summary: sum, Rows: batch.Rows})
}

// handleAnalysisStream runs an analysis group by group and writes one NDJSON
// line per event, flushing after each. Once the first line is out, failures are
// reported as an error line instead of a status code.
func (s *Server) handleAnalysisStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	emit := func(ev streamEvent) {
		if err := enc.Encode(ev); err != nil {
			logger.Debug("Stream write failed: %v", err)
			return
		}
		_ = rc.Flush()
	}

	total := 0
	req.Progress = func(current, n int, label string) {
		total = n
		emit(streamEvent{Type: "progress", Current: current, Total: n, Label: label})
	}

	meta, seq, err := s.runner.Stream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for res, err := range seq {
		if err != nil {
			logger.Error("Streaming run %s failed: %v", meta.RunID, err)
			emit(streamEvent{Type: "error", Error: err.Error()})
			return
		}
		g := res.Group
		emit(streamEvent{Type: "group", Group: &g, Rows: res.Rows})
		meta.GroupsEmitted++
		meta.Rows += len(res.Rows)
	}

	meta.GroupsTotal = total
	meta.FinishedAt = time.Now().UTC()
	emit(streamEvent{Type: "done", Meta: &meta})
}

// handleBreakdown returns the bucketed R/I/S composition of the requested
// organisms. At least one organism is required.
func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	organisms := listParam(q, "organism")
	if len(organisms) == 0 {
		writeError(w, fmt.Errorf("%w: at least one organism is required", analysis.ErrInvalidConfig))
		return
	}
	period, err := periodParam(q)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := eventFilter(q, organisms)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.store.Events(r.Context(), filter)
	if err != nil {
		writeError(w, &analysis.StoreError{Op: "events", Err: err})
		return
	}

	breakdown, err := summary.Breakdown(events, period)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", analysis.ErrInvalidConfig, err))
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// handleTrend returns the batch volume of each organism per location and
// bucket. Without an organism filter every organism in the store is counted.
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	period, err := periodParam(q)
	if err != nil {
		writeError(w, err)
		return
	}
	topN, err := intParam(q, "top_n", defaultTopN)
	if err != nil {
		writeError(w, err)
		return
	}
	smooth, err := boolParam(q, "smooth")
	if err != nil {
		writeError(w, err)
		return
	}

	organisms := listParam(q, "organism")
	if len(organisms) == 0 {
		md, err := s.store.Metadata(r.Context())
		if err != nil {
			writeError(w, &analysis.StoreError{Op: "metadata", Err: err})
			return
		}
		for _, oc := range md.Organisms {
			organisms = append(organisms, oc.Organism)
		}
	}
	filter, err := eventFilter(q, organisms)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.store.Events(r.Context(), filter)
	if err != nil {
		writeError(w, &analysis.StoreError{Op: "events", Err: err})
		return
	}

	trend, err := summary.Community(events, period, topN, smooth)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", analysis.ErrInvalidConfig, err))
		return
	}
	logger.Debug("Trend %s over %d events: %d buckets, %d locations",
		period, len(events), len(trend.Buckets), len(trend.Locations))
	writeJSON(w, http.StatusOK, trend)
}
