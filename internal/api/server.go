// Package api serves stored filter runs over HTTP: JSON listings of runs and
// their steps, and rendered charts and plots for browsing results.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/httputil"
	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/report"
	"github.com/banshee-data/terrain.report/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultListLimit caps /api/runs when no limit is given.
const DefaultListLimit = 100

type Server struct {
	runs    *db.RunStore
	steps   *db.StepStore
	metrics *serverMetrics
}

func NewServer(database *db.DB) *Server {
	return &Server{
		runs:    db.NewRunStore(database),
		steps:   db.NewStepStore(database),
		metrics: newServerMetrics(database),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// clock times requests in LoggingMiddleware.
var clock timeutil.Clock = timeutil.RealClock{}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(clock.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/runs", s.metrics.instrument("runs", s.listRuns))
	mux.Handle("/api/run", s.metrics.instrument("run", s.showRun))
	mux.Handle("/api/runs/steps", s.metrics.instrument("steps", s.listSteps))
	mux.Handle("/runs/chart", s.metrics.instrument("chart", s.runChart))
	mux.Handle("/runs/plot.png", s.metrics.instrument("plot", s.runPlot))
	mux.Handle("/runs/summary", s.metrics.instrument("summary", s.summaryChart))
	mux.Handle("/metrics", s.metrics.handler())
	return mux
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.URL.Query().Get("terrain"), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// lookupRun resolves the run_id query parameter, writing the error response
// itself when the run cannot be found.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*db.Run, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		httputil.BadRequest(w, "run_id is required")
		return nil, false
	}
	run, err := s.runs.Get(runID)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, run)
}

// StepJSON is the wire form of one stored step.
type StepJSON struct {
	Index         int        `json:"index"`
	Time          float64    `json:"time"`
	Truth         float64    `json:"gt"`
	Measurement   float64    `json:"rf"`
	Estimate      [3]float64 `json:"est"`
	EstimateVar   float64    `json:"est_var"`
	Projected     [3]float64 `json:"proj"`
	ProjectedVar  float64    `json:"proj_var"`
	Innovation    float64    `json:"innovation"`
	InnovationVar float64    `json:"innovation_var"`
}

func (s *Server) listSteps(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	steps, err := s.steps.ListByRun(run.RunID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]StepJSON, len(steps))
	for i, st := range steps {
		out[i] = StepJSON{
			Index:         st.Index,
			Time:          st.Time,
			Truth:         st.Truth,
			Measurement:   st.Measurement,
			Estimate:      st.Estimate,
			EstimateVar:   st.EstimateVar,
			Projected:     st.Projected,
			ProjectedVar:  st.ProjectedVar,
			Innovation:    st.Innovation,
			InnovationVar: st.InnovationVar,
		}
	}
	httputil.WriteJSONOK(w, out)
}

func runOptions(run *db.Run) report.Options {
	return report.Options{
		Title: fmt.Sprintf("Terrain %s", run.Terrain),
		Subtitle: fmt.Sprintf("R=%g Q=%g noise=%s update=%s seed=%d",
			run.MeasurementVar, run.ProcessVar, run.NoiseModel, run.CovarianceUpdate, run.Seed),
		ProjectionSteps: run.ProjectionSteps,
		Dt:              run.Dt,
	}
}

func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	steps, err := s.steps.ListByRun(run.RunID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := report.RenderChart(&buf, steps, runOptions(run)); err != nil {
		if errors.Is(err, report.ErrNoData) {
			httputil.NotFound(w, "run has no steps")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) runPlot(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	steps, err := s.steps.ListByRun(run.RunID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := report.WritePlot(&buf, steps, runOptions(run), "png"); err != nil {
		if errors.Is(err, report.ErrNoData) {
			httputil.NotFound(w, "run has no steps")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

func (s *Server) summaryChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	terrain := r.URL.Query().Get("terrain")
	runs, err := s.runs.List(terrain, DefaultListLimit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(runs) == 0 {
		httputil.NotFound(w, "no runs")
		return
	}

	rows := make([]report.SummaryRow, len(runs))
	for i, run := range runs {
		rows[i] = report.SummaryRow{
			Label: fmt.Sprintf("%s R=%g Q=%g (%s)", run.Terrain, run.MeasurementVar, run.ProcessVar,
				time.Unix(0, run.CreatedAt).UTC().Format("01-02 15:04:05")),
			Summary: run.Summary,
		}
	}
	title := "Recent runs"
	if terrain != "" {
		title += ": " + terrain
	}
	var buf bytes.Buffer
	if err := report.RenderSummaryChart(&buf, title, rows); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}
