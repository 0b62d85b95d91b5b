package kalman

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustModel(t *testing.T, dt, proc, meas float64, opts ...ModelOption) Model {
	t.Helper()
	m, err := NewModel(dt, proc, meas, opts...)
	require.NoError(t, err)
	return m
}

func TestNewEstimator_InitialState(t *testing.T) {
	t.Parallel()

	e := NewEstimator(mustModel(t, 1, 0.01, 0.01))
	assert.Equal(t, Vec3{}, e.State())
	assert.Equal(t, Diag3(50, 50, 50), e.Covariance())
	assert.False(t, e.Failed())
	assert.NoError(t, e.Validate())
}

func TestPredict_NoNoiseKeepsZeroCovariance(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 0.2, 0, 0)
	x0 := Vec3{3, -1.5, 0.25}
	e := NewEstimator(m, WithInitialState(x0), WithInitialCovariance(Mat3{}))

	e.Predict()

	assert.Equal(t, m.F().MulVec(x0), e.State())
	assert.Equal(t, Mat3{}, e.Covariance())
}

func TestPredict_AddsProcessNoise(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 1, 0.04, 0.01)
	e := NewEstimator(m, WithInitialCovariance(Mat3{}))
	e.Predict()

	assert.InDelta(t, 0.2, e.Covariance()[2][2], 1e-15)
	assert.NoError(t, e.Validate())
}

func TestUpdate_ConsistentMeasurementLeavesStateAndShrinksCovariance(t *testing.T) {
	t.Parallel()

	e := NewEstimator(mustModel(t, 0.5, 0.01, 0.1), WithInitialState(Vec3{4, 1, -0.5}))
	e.Predict()

	before := e.State()
	pBefore := e.Covariance()
	z := e.Model().H().Dot(before)

	require.NoError(t, e.Update(z))

	assert.Equal(t, before, e.State())
	after := e.Covariance().Diagonal()
	for i := 0; i < 3; i++ {
		assert.LessOrEqualf(t, after[i], pBefore[i][i], "P[%d][%d] grew", i, i)
	}
	y, s := e.Innovation()
	assert.Zero(t, y)
	assert.InDelta(t, pBefore[0][0]+0.1, s, 1e-12)
}

func TestUpdate_EndToEndBaseline(t *testing.T) {
	t.Parallel()

	e := NewEstimator(mustModel(t, 1, 0, 0))

	want := []Vec3{
		{1, 2.0 / 3.0, 2.0 / 9.0},
		{2, 20.0 / 17.0, 6.0 / 17.0},
		{3, 1, 0},
	}
	for i, z := range []float64{1, 2, 3} {
		e.Predict()
		require.NoError(t, e.Update(z), "step %d", i)

		got := e.State()
		for j := 0; j < 3; j++ {
			assert.InDeltaf(t, want[i][j], got[j], 1e-9, "step %d component %d", i, j)
		}
	}

	// Three exact samples pin down a quadratic; nothing is left uncertain.
	p := e.Covariance()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDeltaf(t, 0, p[i][j], 1e-9, "P[%d][%d]", i, j)
		}
	}
}

func TestUpdate_FirstStepCovariance(t *testing.T) {
	t.Parallel()

	e := NewEstimator(mustModel(t, 1, 0, 0))
	e.Predict()

	assert.Equal(t, Mat3{
		{112.5, 75, 25},
		{75, 100, 50},
		{25, 50, 50},
	}, e.Covariance())

	require.NoError(t, e.Update(1))
	p := e.Covariance()
	assert.InDelta(t, 0, p[0][0], 1e-12)
	assert.InDelta(t, 50, p[1][1], 1e-12)
	assert.InDelta(t, 100.0/3.0, p[1][2], 1e-12)
	assert.InDelta(t, 400.0/9.0, p[2][2], 1e-12)
}

func TestUpdate_SingularInnovation(t *testing.T) {
	t.Parallel()

	e := NewEstimator(mustModel(t, 1, 0, 0),
		WithInitialState(Vec3{1, 2, 3}),
		WithInitialCovariance(Mat3{}))

	err := e.Update(5)
	require.ErrorIs(t, err, ErrSingularInnovation)
	assert.True(t, e.Failed())
	assert.Equal(t, Vec3{1, 2, 3}, e.State(), "failed update must not write NaN into the state")

	assert.ErrorIs(t, e.Update(5), ErrFilterFailed)

	e.Reset()
	assert.False(t, e.Failed())
	assert.Equal(t, Vec3{1, 2, 3}, e.State())
}

func TestUpdate_TinyMeasurementVariance(t *testing.T) {
	t.Parallel()

	// S shrinks towards R = 1e-13 but stays invertible.
	e := NewEstimator(mustModel(t, 1, 0, 1e-13))
	for i := 0; i < 60; i++ {
		e.Predict()
		require.NoError(t, e.Update(float64(i)), "step %d", i)
		_, s := e.Innovation()
		require.Greater(t, s, 0.0, "step %d", i)
	}
	assert.False(t, e.Failed())
	assert.InDelta(t, 59, e.State().Position(), 1e-3)
}

func TestSingularInnovation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		s, hph   float64
		r        float64
		singular bool
	}{
		{"zero", 0, 0, 0, true},
		{"negative", -1e-3, -1e-3, 0, true},
		{"nan", math.NaN(), math.NaN(), 0, true},
		{"inf", math.Inf(1), math.Inf(1), 0, true},
		{"tiny R only", 1e-13, 0, 1e-13, false},
		{"tiny but consistent", 8.79e-13, 7.79e-13, 1e-13, false},
		{"cancelled", 1e-20, -1, 1, true},
		{"ordinary", 50.01, 50, 0.01, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.singular, singularInnovation(tt.s, tt.hph, tt.r))
		})
	}
}

func TestUpdate_RejectsNonFiniteMeasurement(t *testing.T) {
	t.Parallel()

	e := NewEstimator(mustModel(t, 1, 0.01, 0.01))
	assert.ErrorIs(t, e.Update(math.NaN()), ErrInvalidMeasurement)
	assert.ErrorIs(t, e.Update(math.Inf(-1)), ErrInvalidMeasurement)
	assert.False(t, e.Failed())
}

func TestUpdate_JosephMatchesSimple(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 0.1, 0.01, 0.05)
	simple := NewEstimator(m)
	joseph := NewEstimator(m, WithCovarianceUpdate(UpdateJoseph))

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		z := math.Sin(float64(i)*0.05) + rng.NormFloat64()*math.Sqrt(0.05)
		simple.Predict()
		joseph.Predict()
		require.NoError(t, simple.Update(z))
		require.NoError(t, joseph.Update(z))
	}

	for i := 0; i < 3; i++ {
		assert.InDelta(t, simple.State()[i], joseph.State()[i], 1e-6)
	}
	assert.NoError(t, joseph.Validate())
	assert.NoError(t, simple.Validate())
}

func TestProject(t *testing.T) {
	t.Parallel()

	newFilter := func(t *testing.T) *Estimator {
		e := NewEstimator(mustModel(t, 0.1, 0.01, 0.01))
		for _, z := range []float64{10, 10.2, 10.5, 10.9, 11.4} {
			e.Predict()
			require.NoError(t, e.Update(z))
		}
		return e
	}

	t.Run("zero steps returns current state", func(t *testing.T) {
		e := newFilter(t)
		x, p, err := e.Project(0)
		require.NoError(t, err)
		assert.Equal(t, e.State(), x)
		assert.Equal(t, e.Covariance(), p)
	})

	t.Run("does not mutate the estimator", func(t *testing.T) {
		e := newFilter(t)
		x0, p0 := e.State(), e.Covariance()

		x1, p1, err := e.Project(8)
		require.NoError(t, err)
		x2, p2, err := e.Project(8)
		require.NoError(t, err)

		assert.Equal(t, x1, x2)
		assert.Equal(t, p1, p2)
		assert.Equal(t, x0, e.State())
		assert.Equal(t, p0, e.Covariance())
	})

	t.Run("matches repeated predict on a copy", func(t *testing.T) {
		e := newFilter(t)
		const n = 4
		x, p, err := e.Project(n)
		require.NoError(t, err)

		c := e.Clone()
		for i := 0; i < n; i++ {
			c.Predict()
		}
		assert.Equal(t, c.State(), x)

		// Project ignores Q, so its covariance never exceeds the predicted one.
		pc := c.Covariance()
		for i := 0; i < 3; i++ {
			assert.LessOrEqual(t, p[i][i], pc[i][i])
		}
	})

	t.Run("negative steps", func(t *testing.T) {
		e := newFilter(t)
		_, _, err := e.Project(-1)
		assert.ErrorIs(t, err, ErrInvalidSteps)
	})
}

func TestClone_IsIndependent(t *testing.T) {
	t.Parallel()

	e := NewEstimator(mustModel(t, 1, 0.01, 0.01))
	c := e.Clone()
	c.Predict()
	require.NoError(t, c.Update(3))

	assert.Equal(t, Vec3{}, e.State())
	assert.NotEqual(t, e.State(), c.State())
}

func TestEstimator_CovarianceStaysValidOverLongRun(t *testing.T) {
	t.Parallel()

	for _, n := range []NoiseModel{NoiseSimple, NoiseContinuousWhite} {
		e := NewEstimator(mustModel(t, 0.05, 0.01, 0.01, WithNoiseModel(n)))
		rng := rand.New(rand.NewPCG(1, 2))
		for i := 0; i < 1000; i++ {
			e.Predict()
			require.NoError(t, e.Update(5+rng.NormFloat64()*0.1))
			require.NoErrorf(t, e.Validate(), "%s step %d", n, i)
		}
	}
}

func TestParseCovarianceUpdate(t *testing.T) {
	t.Parallel()

	u, err := ParseCovarianceUpdate("joseph")
	require.NoError(t, err)
	assert.Equal(t, UpdateJoseph, u)

	u, err = ParseCovarianceUpdate("")
	require.NoError(t, err)
	assert.Equal(t, UpdateSimple, u)

	_, err = ParseCovarianceUpdate("square-root")
	assert.Error(t, err)
}
