package kalman

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidTimeStep is returned when dt is not a positive finite number.
	ErrInvalidTimeStep = errors.New("kalman: time step must be positive")
	// ErrInvalidVariance is returned for negative or non-finite variances.
	ErrInvalidVariance = errors.New("kalman: variance must be non-negative")
	// ErrUnknownNoiseModel is returned by ParseNoiseModel.
	ErrUnknownNoiseModel = errors.New("kalman: unknown noise model")
)

// NoiseModel selects how the process noise matrix Q is built.
type NoiseModel string

const (
	// NoiseSimple injects sqrt(processVar)*dt into the acceleration variance
	// only. This is the default.
	NoiseSimple NoiseModel = "simple"
	// NoiseContinuousWhite is the continuous white noise acceleration model,
	// which populates all nine entries of Q.
	NoiseContinuousWhite NoiseModel = "continuous_white"
)

// ParseNoiseModel maps a config/flag string to a NoiseModel. The empty
// string selects NoiseSimple.
func ParseNoiseModel(s string) (NoiseModel, error) {
	switch NoiseModel(s) {
	case "", NoiseSimple:
		return NoiseSimple, nil
	case NoiseContinuousWhite:
		return NoiseContinuousWhite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNoiseModel, s)
	}
}

// Model holds the fixed matrices of the constant-acceleration system:
// transition F, process noise Q, measurement H and measurement noise R.
// A Model is immutable once built.
type Model struct {
	dt             float64
	processVar     float64
	measurementVar float64
	noise          NoiseModel

	f Mat3
	q Mat3
	h Row3
	r float64
}

// ModelOption customises NewModel.
type ModelOption func(*Model)

// WithNoiseModel selects the process noise construction.
func WithNoiseModel(n NoiseModel) ModelOption {
	return func(m *Model) {
		m.noise = n
	}
}

// NewModel builds the system matrices for time step dt. Zero variances are
// legal and mean "no noise".
func NewModel(dt, processVar, measurementVar float64, opts ...ModelOption) (Model, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return Model{}, fmt.Errorf("%w: got %v", ErrInvalidTimeStep, dt)
	}
	if err := checkVariance("process", processVar); err != nil {
		return Model{}, err
	}
	if err := checkVariance("measurement", measurementVar); err != nil {
		return Model{}, err
	}

	m := Model{
		dt:             dt,
		processVar:     processVar,
		measurementVar: measurementVar,
		noise:          NoiseSimple,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if _, err := ParseNoiseModel(string(m.noise)); err != nil {
		return Model{}, err
	}

	// p' = p + v*dt + a*dt²/2, v' = v + a*dt, a' = a
	m.f = Mat3{
		{1, dt, 0.5 * dt * dt},
		{0, 1, dt},
		{0, 0, 1},
	}

	spectralDensity := math.Sqrt(processVar)
	switch m.noise {
	case NoiseContinuousWhite:
		m.q = continuousWhiteNoise(dt, spectralDensity)
	default:
		m.q[2][2] = spectralDensity * dt
	}

	m.h = Row3{1, 0, 0}
	m.r = measurementVar
	return m, nil
}

func checkVariance(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s variance %v", ErrInvalidVariance, name, v)
	}
	return nil
}

// continuousWhiteNoise discretises white noise on the jerk for a
// third-order kinematic state.
func continuousWhiteNoise(dt, spectralDensity float64) Mat3 {
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	dt5 := dt4 * dt
	q := Mat3{
		{dt5 / 20, dt4 / 8, dt3 / 6},
		{dt4 / 8, dt3 / 3, dt2 / 2},
		{dt3 / 6, dt2 / 2, dt},
	}
	return q.Scale(spectralDensity)
}

func (m Model) Dt() float64                  { return m.dt }
func (m Model) ProcessVariance() float64     { return m.processVar }
func (m Model) MeasurementVariance() float64 { return m.measurementVar }
func (m Model) NoiseModel() NoiseModel       { return m.noise }

// F returns the state transition matrix.
func (m Model) F() Mat3 { return m.f }

// Q returns the process noise covariance.
func (m Model) Q() Mat3 { return m.q }

// H returns the measurement matrix.
func (m Model) H() Row3 { return m.h }

// R returns the measurement noise variance.
func (m Model) R() float64 { return m.r }

// Transition applies F to a state without any noise.
func (m Model) Transition(x Vec3) Vec3 {
	return m.f.MulVec(x)
}
