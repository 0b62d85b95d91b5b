// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/terrain.report/internal/kalman"
	"github.com/banshee-data/terrain.report/internal/simulation"
	"github.com/banshee-data/terrain.report/internal/terrain"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Get serves a GET request for target through h.
func Get(t testing.TB, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// Scenario describes a synthetic filter run.
type Scenario struct {
	Shape           terrain.Shape
	Params          terrain.GenerateParams
	MeasurementVar  float64
	ProcessVar      float64
	ProjectionSteps int
	Seed            uint64
}

// Ramp is a short, gently sloping scenario with the default variances.
func Ramp(samples int) Scenario {
	return Scenario{
		Shape:           terrain.ShapeRamp,
		Params:          terrain.GenerateParams{Samples: samples, Dt: 0.5, Base: 12, Slope: 0.1},
		MeasurementVar:  0.01,
		ProcessVar:      0.01,
		ProjectionSteps: 4,
		Seed:            5,
	}
}

// Simulate runs the scenario through a fresh estimator, forwarding every
// step to sinks, and returns the collected steps with the run summary.
func Simulate(t testing.TB, sc Scenario, sinks ...simulation.Sink) ([]simulation.Step, simulation.Summary) {
	t.Helper()

	p, err := terrain.Generate(sc.Shape, sc.Params)
	AssertNoError(t, err)
	m, err := kalman.NewModel(p.Dt, sc.ProcessVar, sc.MeasurementVar)
	AssertNoError(t, err)

	var steps []simulation.Step
	collect := simulation.SinkFunc(func(s simulation.Step) error {
		steps = append(steps, s)
		return nil
	})
	sum, err := simulation.Run(context.Background(),
		simulation.Config{ProjectionSteps: sc.ProjectionSteps},
		kalman.NewEstimator(m),
		terrain.Samples(p, terrain.NewNoiseSource(sc.MeasurementVar, sc.Seed)),
		append([]simulation.Sink{collect}, sinks...)...)
	AssertNoError(t, err)
	return steps, sum
}
