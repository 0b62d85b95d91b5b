// Package report draws filter runs: static PNG plots with gonum/plot and
// interactive HTML charts with go-echarts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/terrain.report/internal/simulation"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("report: no data to draw")

// Options describe a run for labelling. When ProjectionSteps and Dt are
// set, projections are drawn at the time they predict rather than the time
// they were made.
type Options struct {
	Title           string
	Subtitle        string
	ProjectionSteps int
	Dt              float64
}

func (o Options) projectionOffset() float64 {
	if o.ProjectionSteps > 0 && o.Dt > 0 {
		return float64(o.ProjectionSteps) * o.Dt
	}
	return 0
}

func (o Options) projectionLabel() string {
	if o.ProjectionSteps > 0 {
		return fmt.Sprintf("projection (+%d)", o.ProjectionSteps)
	}
	return "projection"
}

var (
	truthColor       = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	measurementColor = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	estimateColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	projectionColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// series holds the four depth traces of a run.
type series struct {
	truth, measurement, estimate, projection plotter.XYs
}

func newSeries(steps []simulation.Step, o Options) series {
	off := o.projectionOffset()
	s := series{
		truth:       make(plotter.XYs, len(steps)),
		measurement: make(plotter.XYs, len(steps)),
		estimate:    make(plotter.XYs, len(steps)),
		projection:  make(plotter.XYs, len(steps)),
	}
	for i, st := range steps {
		s.truth[i] = plotter.XY{X: st.Time, Y: st.Truth}
		s.measurement[i] = plotter.XY{X: st.Time, Y: st.Measurement}
		s.estimate[i] = plotter.XY{X: st.Time, Y: st.Estimate.Position()}
		s.projection[i] = plotter.XY{X: st.Time + off, Y: st.Projected.Position()}
	}
	return s
}

// NewPlot builds the depth-over-time plot of a run.
func NewPlot(steps []simulation.Step, o Options) (*plot.Plot, error) {
	if len(steps) == 0 {
		return nil, ErrNoData
	}
	s := newSeries(steps, o)

	p := plot.New()
	p.Title.Text = o.Title
	if o.Subtitle != "" {
		p.Title.Text += "\n" + o.Subtitle
	}
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Depth (m)"
	p.Add(plotter.NewGrid())

	meas, err := plotter.NewScatter(s.measurement)
	if err != nil {
		return nil, fmt.Errorf("measurement scatter: %w", err)
	}
	meas.GlyphStyle.Color = measurementColor
	meas.GlyphStyle.Radius = vg.Points(1.5)
	meas.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(meas)
	p.Legend.Add("rangefinder", meas)

	lines := []struct {
		name  string
		pts   plotter.XYs
		color color.Color
		dash  []vg.Length
	}{
		{"ground truth", s.truth, truthColor, nil},
		{"estimate", s.estimate, estimateColor, nil},
		{o.projectionLabel(), s.projection, projectionColor, []vg.Length{vg.Points(4), vg.Points(2)}},
	}
	for _, l := range lines {
		line, err := plotter.NewLine(l.pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", l.name, err)
		}
		line.Color = l.color
		line.Width = vg.Points(1)
		line.Dashes = l.dash
		p.Add(line)
		p.Legend.Add(l.name, line)
	}

	// Depth is positive down.
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SavePlot writes the run plot to path. The format follows the extension
// (.png, .svg, .pdf).
func SavePlot(steps []simulation.Step, o Options, path string) error {
	p, err := NewPlot(steps, o)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// WritePlot encodes the run plot to w in format ("png", "svg", "pdf", ...).
func WritePlot(w io.Writer, steps []simulation.Step, o Options, format string) error {
	p, err := NewPlot(steps, o)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("plot writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
