package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/monitoring"
)

// serverMetrics holds the collectors of one Server. Each Server has its own
// registry so several can coexist in one process.
type serverMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newServerMetrics(database *db.DB) *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terrain_api_requests_total",
				Help: "Requests served by the results API",
			},
			[]string{"handler", "code", "method"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terrain_api_request_duration_seconds",
				Help:    "Time to serve results API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
	}
	m.registry.MustRegister(m.requests, m.duration, newResultsCollector(database))
	return m
}

// instrument wraps h with the request counter and latency histogram under
// the given handler label.
func (m *serverMetrics) instrument(name string, h http.HandlerFunc) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(m.duration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.requests.MustCurryWith(labels), h))
}

func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// resultsCollector reports the row count of each results table at scrape
// time.
type resultsCollector struct {
	database *db.DB
	rows     *prometheus.Desc
	size     *prometheus.Desc
}

func newResultsCollector(database *db.DB) *resultsCollector {
	return &resultsCollector{
		database: database,
		rows: prometheus.NewDesc("terrain_results_rows",
			"Rows in each results database table", []string{"table"}, nil),
		size: prometheus.NewDesc("terrain_results_db_size_bytes",
			"Size of the results database file", nil, nil),
	}
}

func (c *resultsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rows
	ch <- c.size
}

func (c *resultsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.database.Stats()
	if err != nil {
		monitoring.Logf("[api] collect results stats: %v", err)
		return
	}
	for table, n := range stats.Tables {
		ch <- prometheus.MustNewConstMetric(c.rows, prometheus.GaugeValue, float64(n), table)
	}
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(stats.SizeBytes))
}
