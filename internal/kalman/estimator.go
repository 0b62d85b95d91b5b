package kalman

import (
	"errors"
	"fmt"
	"math"
)

// Numerical stability constants, not user-tunable.
const (
	// DefaultInitialVariance is the diagonal of the initial covariance.
	DefaultInitialVariance = 50.0
	// InnovationRelTolerance bounds S relative to the terms it is built
	// from: S <= InnovationRelTolerance * (|H P Hᵀ| + |R|) is treated as
	// singular. Exact zero is always singular.
	InnovationRelTolerance = 1e-12
)

var (
	// ErrSingularInnovation is returned by Update when S = H P Hᵀ + R cannot
	// be inverted.
	ErrSingularInnovation = errors.New("kalman: innovation covariance is singular")
	// ErrInvalidMeasurement is returned for NaN or infinite measurements.
	ErrInvalidMeasurement = errors.New("kalman: measurement is not finite")
	// ErrInvalidSteps is returned by Project for a negative step count.
	ErrInvalidSteps = errors.New("kalman: projection steps must be non-negative")
	// ErrFilterFailed is returned once an update has failed; Reset clears it.
	ErrFilterFailed = errors.New("kalman: filter failed, reset required")
)

// CovarianceUpdate selects the covariance correction formula.
type CovarianceUpdate string

const (
	// UpdateSimple computes P = (I - K H) P.
	UpdateSimple CovarianceUpdate = "simple"
	// UpdateJoseph computes P = (I - K H) P (I - K H)ᵀ + K R Kᵀ, which
	// keeps P symmetric positive semi-definite under rounding.
	UpdateJoseph CovarianceUpdate = "joseph"
)

// ParseCovarianceUpdate maps a config/flag string to a CovarianceUpdate.
func ParseCovarianceUpdate(s string) (CovarianceUpdate, error) {
	switch CovarianceUpdate(s) {
	case "", UpdateSimple:
		return UpdateSimple, nil
	case UpdateJoseph:
		return UpdateJoseph, nil
	default:
		return "", fmt.Errorf("kalman: unknown covariance update %q", s)
	}
}

// Estimator is a linear Kalman filter over a Model. It owns the state x and
// covariance P; they change only through Predict and Update.
//
// An Estimator is not safe for concurrent use. Independent estimators share
// nothing and may run in parallel.
type Estimator struct {
	model  Model
	update CovarianceUpdate

	x Vec3
	P Mat3

	x0 Vec3
	p0 Mat3

	// last innovation and its variance, for diagnostics
	y float64
	s float64

	failed bool
}

// EstimatorOption customises NewEstimator.
type EstimatorOption func(*Estimator)

// WithInitialState overrides the zero initial state.
func WithInitialState(x Vec3) EstimatorOption {
	return func(e *Estimator) {
		e.x0 = x
	}
}

// WithInitialCovariance overrides the diag(50, 50, 50) initial covariance.
func WithInitialCovariance(p Mat3) EstimatorOption {
	return func(e *Estimator) {
		e.p0 = p
	}
}

// WithInitialVariance sets the initial covariance to diag(v, v, v).
func WithInitialVariance(v float64) EstimatorOption {
	return func(e *Estimator) {
		e.p0 = Diag3(v, v, v)
	}
}

// WithCovarianceUpdate selects the covariance correction formula.
func WithCovarianceUpdate(u CovarianceUpdate) EstimatorOption {
	return func(e *Estimator) {
		e.update = u
	}
}

// NewEstimator returns a filter at x = 0, P = diag(50, 50, 50) unless
// overridden by options.
func NewEstimator(model Model, opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		model:  model,
		update: UpdateSimple,
		p0:     Diag3(DefaultInitialVariance, DefaultInitialVariance, DefaultInitialVariance),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset()
	return e
}

// Reset restores the initial state and covariance and clears a failure.
func (e *Estimator) Reset() {
	e.x = e.x0
	e.P = e.p0
	e.y = 0
	e.s = 0
	e.failed = false
}

// Predict propagates the state one time step:
//
//	x = F x
//	P = F P Fᵀ + Q
func (e *Estimator) Predict() {
	f := e.model.f
	e.x = f.MulVec(e.x)
	e.P = f.Mul(e.P).Mul(f.T()).Add(e.model.q)
}

// Update corrects the state with measurement z. On error the state is left
// as it was and the estimator refuses further updates until Reset.
func (e *Estimator) Update(z float64) error {
	if e.failed {
		return ErrFilterFailed
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidMeasurement, z)
	}

	h := e.model.h
	y := z - h.Dot(e.x)

	// P Hᵀ is a column; S = H P Hᵀ + R is a scalar.
	var pht Vec3
	for i := 0; i < 3; i++ {
		pht[i] = e.P[i][0]*h[0] + e.P[i][1]*h[1] + e.P[i][2]*h[2]
	}
	hph := h.Dot(pht)
	s := hph + e.model.r
	if singularInnovation(s, hph, e.model.r) {
		e.failed = true
		return fmt.Errorf("%w: S=%g", ErrSingularInnovation, s)
	}

	k := pht.Scale(1 / s)
	x := e.x.Add(k.Scale(y))

	ikh := Identity3().Sub(Outer(k, h))
	var p Mat3
	switch e.update {
	case UpdateJoseph:
		krk := Outer(k, Row3(k)).Scale(e.model.r)
		p = ikh.Mul(e.P).Mul(ikh.T()).Add(krk)
	default:
		p = ikh.Mul(e.P)
	}
	p = p.Symmetrize()

	if !x.IsFinite() || !p.IsFinite() {
		e.failed = true
		return fmt.Errorf("%w: update produced non-finite state", ErrSingularInnovation)
	}

	e.x = x
	e.P = p
	e.y = y
	e.s = s
	return nil
}

// singularInnovation reports whether S = hph + r cannot be inverted: it is
// non-finite, not positive, or lost to cancellation between its terms.
// Small S is fine as long as it is small relative to its inputs.
func singularInnovation(s, hph, r float64) bool {
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return true
	}
	return s <= InnovationRelTolerance*(math.Abs(hph)+math.Abs(r))
}

// Project applies the transition steps times to copies of x and P without
// process noise, giving an optimistic look-ahead. The estimator is not
// modified. Project(0) returns the current x and P.
func (e *Estimator) Project(steps int) (Vec3, Mat3, error) {
	if steps < 0 {
		return Vec3{}, Mat3{}, fmt.Errorf("%w: got %d", ErrInvalidSteps, steps)
	}
	x, p := e.x, e.P
	f := e.model.f
	ft := f.T()
	for i := 0; i < steps; i++ {
		x = f.MulVec(x)
		p = f.Mul(p).Mul(ft)
	}
	return x, p, nil
}

// State returns a copy of the current state estimate.
func (e *Estimator) State() Vec3 { return e.x }

// Covariance returns a copy of the current covariance.
func (e *Estimator) Covariance() Mat3 { return e.P }

// Model returns the system model the estimator was built with.
func (e *Estimator) Model() Model { return e.model }

// Innovation returns the residual y and its variance S from the last
// successful update.
func (e *Estimator) Innovation() (y, s float64) { return e.y, e.s }

// Failed reports whether an update has failed since the last Reset.
func (e *Estimator) Failed() bool { return e.failed }

// Clone returns an independent copy of the estimator.
func (e *Estimator) Clone() *Estimator {
	c := *e
	return &c
}

// Validate checks the covariance invariants of the current P.
func (e *Estimator) Validate() error {
	return CheckCovariance(e.P, DefaultCovarianceTolerance)
}
