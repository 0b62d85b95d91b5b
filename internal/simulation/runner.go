// Package simulation drives a kalman.Estimator over a sampled terrain
// profile: predict, update with the noisy reading, then project ahead. Each
// step is handed to zero or more Sinks, and the run is summarised against
// ground truth.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/terrain.report/internal/kalman"
	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/terrain"
)

// ErrNegativeProjection is returned for a negative Config.ProjectionSteps.
var ErrNegativeProjection = errors.New("simulation: projection steps must be non-negative")

// Config controls a single run.
type Config struct {
	// ProjectionSteps is how many time steps ahead the projected estimate
	// looks. Zero means no projection (the projection equals the estimate).
	ProjectionSteps int
	// Verbose logs every step through monitoring.Logf.
	Verbose bool
}

// Step is the record of one filter cycle.
type Step struct {
	Index       int
	Time        float64
	Truth       float64
	Measurement float64

	Estimate    kalman.Vec3
	EstimateVar float64 // P[0][0] after update

	Projected    kalman.Vec3
	ProjectedVar float64 // projected P[0][0]

	Innovation    float64
	InnovationVar float64
}

// Sink receives steps as they are produced. A Sink error aborts the run.
type Sink interface {
	WriteStep(Step) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Step) error

// WriteStep calls f(s).
func (f SinkFunc) WriteStep(s Step) error { return f(s) }

// Summary scores a run against ground truth.
type Summary struct {
	Samples int `json:"samples"`

	EstimateRMSE    float64 `json:"estimate_rmse"`
	MeasurementRMSE float64 `json:"measurement_rmse"`

	// ProjectionRMSE compares the projection made at step i with the truth
	// at step i+ProjectionSteps. ProjectionSamples counts the pairs used.
	ProjectionRMSE    float64 `json:"projection_rmse"`
	ProjectionSamples int     `json:"projection_samples"`

	InnovationMean   float64 `json:"innovation_mean"`
	InnovationStdDev float64 `json:"innovation_stddev"`
	// MeanNIS is the mean normalised innovation squared, y²/S. It is close
	// to 1 for a consistent filter.
	MeanNIS float64 `json:"mean_nis"`
}

// Run feeds samples through est in order, writing every step to sinks.
// The estimator is advanced in place. Run stops at the first update or sink
// error, or when ctx is done, and returns the summary of the steps completed
// so far together with the error.
func Run(ctx context.Context, cfg Config, est *kalman.Estimator, samples []terrain.Sample, sinks ...Sink) (Summary, error) {
	if cfg.ProjectionSteps < 0 {
		return Summary{}, fmt.Errorf("%w: got %d", ErrNegativeProjection, cfg.ProjectionSteps)
	}

	acc := newAccumulator(cfg.ProjectionSteps, len(samples))
	for i, smp := range samples {
		if err := ctx.Err(); err != nil {
			return acc.summary(), err
		}

		est.Predict()
		if err := est.Update(smp.Measurement); err != nil {
			return acc.summary(), fmt.Errorf("step %d (t=%g): %w", i, smp.Time, err)
		}
		proj, projP, err := est.Project(cfg.ProjectionSteps)
		if err != nil {
			return acc.summary(), fmt.Errorf("step %d (t=%g): %w", i, smp.Time, err)
		}

		x := est.State()
		p := est.Covariance()
		y, s := est.Innovation()
		step := Step{
			Index:         i,
			Time:          smp.Time,
			Truth:         smp.Truth,
			Measurement:   smp.Measurement,
			Estimate:      x,
			EstimateVar:   p[0][0],
			Projected:     proj,
			ProjectedVar:  projP[0][0],
			Innovation:    y,
			InnovationVar: s,
		}
		if cfg.Verbose {
			monitoring.Logf("[simulation] t=%.3f gt=%.4f rf=%.4f est=%.4f proj=%.4f y=%.4f S=%.4g",
				step.Time, step.Truth, step.Measurement, x.Position(), proj.Position(), y, s)
		}

		acc.add(step, samples)
		for _, sink := range sinks {
			if err := sink.WriteStep(step); err != nil {
				return acc.summary(), fmt.Errorf("step %d: write: %w", i, err)
			}
		}
	}
	return acc.summary(), nil
}

type accumulator struct {
	ahead int

	estErr  []float64
	measErr []float64
	projErr []float64
	innov   []float64
	nis     []float64
}

func newAccumulator(ahead, n int) *accumulator {
	return &accumulator{
		ahead:   ahead,
		estErr:  make([]float64, 0, n),
		measErr: make([]float64, 0, n),
		projErr: make([]float64, 0, n),
		innov:   make([]float64, 0, n),
		nis:     make([]float64, 0, n),
	}
}

func (a *accumulator) add(s Step, samples []terrain.Sample) {
	a.estErr = append(a.estErr, s.Estimate.Position()-s.Truth)
	a.measErr = append(a.measErr, s.Measurement-s.Truth)
	if j := s.Index + a.ahead; j < len(samples) {
		a.projErr = append(a.projErr, s.Projected.Position()-samples[j].Truth)
	}
	a.innov = append(a.innov, s.Innovation)
	if s.InnovationVar > 0 {
		a.nis = append(a.nis, s.Innovation*s.Innovation/s.InnovationVar)
	}
}

func (a *accumulator) summary() Summary {
	sum := Summary{
		Samples:           len(a.estErr),
		EstimateRMSE:      rmse(a.estErr),
		MeasurementRMSE:   rmse(a.measErr),
		ProjectionRMSE:    rmse(a.projErr),
		ProjectionSamples: len(a.projErr),
	}
	if len(a.innov) > 0 {
		sum.InnovationMean = stat.Mean(a.innov, nil)
	}
	if len(a.innov) > 1 {
		sum.InnovationStdDev = stat.StdDev(a.innov, nil)
	}
	if len(a.nis) > 0 {
		sum.MeanNIS = stat.Mean(a.nis, nil)
	}
	return sum
}

func rmse(errs []float64) float64 {
	if len(errs) == 0 {
		return 0
	}
	return floats.Norm(errs, 2) / math.Sqrt(float64(len(errs)))
}
