package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/terrain.report/internal/simulation"
	"github.com/banshee-data/terrain.report/internal/terrain"
	"github.com/banshee-data/terrain.report/internal/testutil"
)

func testSteps(t *testing.T) ([]simulation.Step, simulation.Summary) {
	t.Helper()
	return testutil.Simulate(t, testutil.Scenario{
		Shape:           terrain.ShapeStep,
		Params:          terrain.GenerateParams{Samples: 60, Dt: 0.2, Base: 15, Amplitude: 3},
		MeasurementVar:  0.01,
		ProcessVar:      0.01,
		ProjectionSteps: 4,
		Seed:            11,
	})
}

func TestOptions_Projection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.8, Options{ProjectionSteps: 4, Dt: 0.2}.projectionOffset())
	assert.Zero(t, Options{ProjectionSteps: 4}.projectionOffset())
	assert.Equal(t, "projection (+4)", Options{ProjectionSteps: 4}.projectionLabel())
	assert.Equal(t, "projection", Options{}.projectionLabel())
}

func TestNewPlot(t *testing.T) {
	t.Parallel()

	steps, _ := testSteps(t)
	p, err := NewPlot(steps, Options{Title: "step", ProjectionSteps: 4, Dt: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "Depth (m)", p.Y.Label.Text)

	_, err = NewPlot(nil, Options{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSavePlot(t *testing.T) {
	t.Parallel()

	steps, _ := testSteps(t)
	path := filepath.Join(t.TempDir(), "plots", "step.png")
	require.NoError(t, SavePlot(steps, Options{Title: "step", Subtitle: "R=0.01 Q=0.01"}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected a PNG file")
}

func TestRenderChart(t *testing.T) {
	t.Parallel()

	steps, _ := testSteps(t)
	var buf bytes.Buffer
	require.NoError(t, RenderChart(&buf, steps, Options{Title: "Step terrain", ProjectionSteps: 4, Dt: 0.2}))

	html := buf.String()
	assert.True(t, strings.Contains(html, "<html"), "expected an HTML page")
	assert.Contains(t, html, "Step terrain")
	assert.Contains(t, html, "projection (+4)")
	assert.Contains(t, html, "ground truth")

	assert.ErrorIs(t, RenderChart(&buf, nil, Options{}), ErrNoData)
}

func TestRenderSummaryChart(t *testing.T) {
	t.Parallel()

	_, sum := testSteps(t)
	var buf bytes.Buffer
	rows := []SummaryRow{
		{Label: "R=0.01 Q=0.01", Summary: sum},
		{Label: "R=0.01 Q=0.1", Summary: sum},
	}
	require.NoError(t, RenderSummaryChart(&buf, "Sweep", rows))
	assert.Contains(t, buf.String(), "R=0.01 Q=0.1")
	assert.Contains(t, buf.String(), "Mean NIS")

	assert.ErrorIs(t, RenderSummaryChart(&buf, "empty", nil), ErrNoData)
}
