package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/testutil"
)

// seedRun stores one finished ramp run with its steps and returns its ID.
func seedRun(t *testing.T, database *db.DB, name string, n int) string {
	t.Helper()

	sc := testutil.Ramp(n)
	runs := db.NewRunStore(database)
	run := &db.Run{
		Terrain: name, Dt: sc.Params.Dt, MeasurementVar: sc.MeasurementVar, ProcessVar: sc.ProcessVar, InitialVar: 50,
		ProjectionSteps: sc.ProjectionSteps, NoiseModel: "simple", CovarianceUpdate: "simple", Seed: sc.Seed,
	}
	require.NoError(t, runs.Insert(run))

	rec := db.NewRunRecorder(db.NewStepStore(database), run.RunID, 0)
	_, sum := testutil.Simulate(t, sc, rec)
	require.NoError(t, rec.Flush())
	require.NoError(t, runs.Finish(run.RunID, sum, ""))
	return run.RunID
}

func newTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewServer(database), database
}

func TestListRuns(t *testing.T) {
	s, database := newTestServer(t)
	mux := s.ServeMux()

	// empty database lists as [] rather than null
	w := testutil.Get(t, mux, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	seedRun(t, database, "ramp", 20)
	seedRun(t, database, "zeros", 10)

	w = testutil.Get(t, mux, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []db.Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	assert.Len(t, runs, 2)

	w = testutil.Get(t, mux, "/api/runs?terrain=ramp")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "ramp", runs[0].Terrain)
	assert.Equal(t, 20, runs[0].Summary.Samples)

	w = testutil.Get(t, mux, "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunEndpoints(t *testing.T) {
	s, database := newTestServer(t)
	mux := s.ServeMux()
	runID := seedRun(t, database, "ramp", 12)

	t.Run("show run", func(t *testing.T) {
		w := testutil.Get(t, mux, "/api/run?run_id="+runID)
		require.Equal(t, http.StatusOK, w.Code)
		var run db.Run
		require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
		assert.Equal(t, runID, run.RunID)
		assert.Equal(t, uint64(5), run.Seed)
	})

	t.Run("steps", func(t *testing.T) {
		w := testutil.Get(t, mux, "/api/runs/steps?run_id="+runID)
		require.Equal(t, http.StatusOK, w.Code)
		var steps []StepJSON
		require.NoError(t, json.NewDecoder(w.Body).Decode(&steps))
		require.Len(t, steps, 12)
		assert.Equal(t, 0.5, steps[0].Time)
		assert.Equal(t, 11, steps[11].Index)
	})

	t.Run("chart", func(t *testing.T) {
		w := testutil.Get(t, mux, "/runs/chart?run_id="+runID)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "Terrain ramp")
	})

	t.Run("plot", func(t *testing.T) {
		w := testutil.Get(t, mux, "/runs/plot.png?run_id="+runID)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
	})

	t.Run("summary", func(t *testing.T) {
		w := testutil.Get(t, mux, "/runs/summary")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Recent runs")

		w = testutil.Get(t, mux, "/runs/summary?terrain=sine")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRunEndpoints_Errors(t *testing.T) {
	s, database := newTestServer(t)
	mux := s.ServeMux()

	// a run that failed before producing steps
	empty := &db.Run{Terrain: "zeros", Dt: 1, NoiseModel: "simple", CovarianceUpdate: "simple"}
	require.NoError(t, db.NewRunStore(database).Insert(empty))

	tests := []struct {
		target string
		status int
	}{
		{"/api/run", http.StatusBadRequest},
		{"/api/run?run_id=missing", http.StatusNotFound},
		{"/api/runs/steps", http.StatusBadRequest},
		{"/api/runs/steps?run_id=missing", http.StatusNotFound},
		{"/runs/chart?run_id=missing", http.StatusNotFound},
		{"/runs/chart?run_id=" + empty.RunID, http.StatusNotFound},
		{"/runs/plot.png?run_id=" + empty.RunID, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := testutil.Get(t, mux, tt.target)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestMetrics(t *testing.T) {
	s, database := newTestServer(t)
	mux := s.ServeMux()
	seedRun(t, database, "ramp", 8)

	testutil.Get(t, mux, "/api/runs")
	testutil.Get(t, mux, "/api/run")

	w := testutil.Get(t, mux, "/metrics")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	assert.Contains(t, body, `terrain_api_requests_total{code="200",handler="runs",method="get"} 1`)
	assert.Contains(t, body, `terrain_api_requests_total{code="400",handler="run",method="get"} 1`)
	assert.Contains(t, body, `terrain_results_rows{table="run_steps"} 8`)
	assert.Contains(t, body, `terrain_results_rows{table="runs"} 1`)
	assert.Contains(t, body, "terrain_api_request_duration_seconds_bucket")
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, format)
	})
	t.Cleanup(func() { monitoring.SetLogger(orig) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := testutil.Get(t, h, "/api/runs?limit=1")
	assert.Equal(t, http.StatusTeapot, w.Code)
	require.Len(t, logged, 1)
	assert.True(t, strings.HasPrefix(logged[0], "[%s]"))
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "100", statusCodeColor(100))
}
