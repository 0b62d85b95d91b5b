package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/terrain.report/internal/simulation"
)

// AssetsHost is where rendered pages load the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// lineData pairs each step's time (plus offset) with y(step) for a value
// x axis.
func lineData(steps []simulation.Step, offset float64, y func(simulation.Step) float64) []opts.LineData {
	data := make([]opts.LineData, len(steps))
	for i, st := range steps {
		data[i] = opts.LineData{Value: []interface{}{st.Time + offset, y(st)}}
	}
	return data
}

// NewRunChart builds an interactive depth-over-time chart of a run.
func NewRunChart(steps []simulation.Step, o Options) (*charts.Line, error) {
	if len(steps) == 0 {
		return nil, ErrNoData
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Width: "100%", Height: "640px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Depth (m)", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)

	line.AddSeries("rangefinder", lineData(steps, 0, func(s simulation.Step) float64 { return s.Measurement })).
		AddSeries("ground truth", lineData(steps, 0, func(s simulation.Step) float64 { return s.Truth })).
		AddSeries("estimate", lineData(steps, 0, func(s simulation.Step) float64 { return s.Estimate.Position() })).
		AddSeries(o.projectionLabel(), lineData(steps, o.projectionOffset(), func(s simulation.Step) float64 { return s.Projected.Position() }),
			charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}),
		)
	return line, nil
}

// RenderChart writes the run chart as a standalone HTML page.
func RenderChart(w io.Writer, steps []simulation.Step, o Options) error {
	line, err := NewRunChart(steps, o)
	if err != nil {
		return err
	}
	if err := line.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// SummaryRow labels one run's summary in a comparison chart.
type SummaryRow struct {
	Label   string
	Summary simulation.Summary
}

// RenderSummaryChart writes a bar chart comparing the RMSE of the raw
// measurements, the estimate and the projection across runs, followed by a
// chart of mean NIS.
func RenderSummaryChart(w io.Writer, title string, rows []SummaryRow) error {
	if len(rows) == 0 {
		return ErrNoData
	}

	labels := make([]string, len(rows))
	meas := make([]opts.BarData, len(rows))
	est := make([]opts.BarData, len(rows))
	proj := make([]opts.BarData, len(rows))
	nis := make([]opts.BarData, len(rows))
	for i, r := range rows {
		labels[i] = r.Label
		meas[i] = opts.BarData{Value: r.Summary.MeasurementRMSE}
		est[i] = opts.BarData{Value: r.Summary.EstimateRMSE}
		proj[i] = opts.BarData{Value: r.Summary.ProjectionRMSE}
		nis[i] = opts.BarData{Value: r.Summary.MeanNIS}
	}

	rmse := charts.NewBar()
	rmse.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d runs", len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RMSE (m)"}),
	)
	rmse.SetXAxis(labels).
		AddSeries("rangefinder", meas).
		AddSeries("estimate", est).
		AddSeries("projection", proj)

	consistency := charts.NewBar()
	consistency.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Mean NIS", Subtitle: "close to 1 for a consistent filter"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	consistency.SetXAxis(labels).
		AddSeries("mean NIS", nis,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(rmse, consistency)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render summary chart: %w", err)
	}
	return nil
}
