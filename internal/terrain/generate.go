package terrain

import (
	"fmt"
	"math"
	"sort"
)

// Shape names a synthetic terrain generator.
type Shape string

const (
	ShapeZeros Shape = "zeros" // flat at Base
	ShapeRamp  Shape = "ramp"  // Base + Slope*t
	ShapeStep  Shape = "step"  // Base, then Base+Amplitude from the midpoint
	ShapeSine  Shape = "sine"  // Base + Amplitude*sin(2πt/Period)
	ShapeRidge Shape = "ridge" // Base rising to Base-Amplitude at the midpoint and back
)

// Shapes returns the known shapes in name order.
func Shapes() []Shape {
	s := []Shape{ShapeZeros, ShapeRamp, ShapeStep, ShapeSine, ShapeRidge}
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

// GenerateParams controls Generate. Zero values give a flat 0 m profile.
type GenerateParams struct {
	Samples   int
	Dt        float64
	Base      float64 // depth at t=0 (m)
	Slope     float64 // ramp rate (m/s)
	Amplitude float64 // step height, sine amplitude or ridge height (m)
	Period    float64 // sine period (s)
}

// Generate builds a synthetic ground-truth profile.
func Generate(shape Shape, params GenerateParams) (*Profile, error) {
	if !(params.Dt > 0) {
		return nil, fmt.Errorf("terrain: dt must be positive, got %v", params.Dt)
	}
	if params.Samples < 0 {
		return nil, fmt.Errorf("terrain: samples must be non-negative, got %d", params.Samples)
	}

	switch shape {
	case ShapeZeros, ShapeRamp, ShapeStep, ShapeRidge:
	case ShapeSine:
		if !(params.Period > 0) {
			return nil, fmt.Errorf("terrain: sine period must be positive, got %v", params.Period)
		}
	default:
		return nil, fmt.Errorf("terrain: unknown shape %q", shape)
	}

	p := &Profile{
		Name:   string(shape),
		Dt:     params.Dt,
		Depths: make([]float64, params.Samples),
	}
	total := float64(params.Samples) * params.Dt
	mid := total / 2

	for i := range p.Depths {
		t := p.TimeAt(i)
		var d float64
		switch shape {
		case ShapeZeros:
			d = params.Base
		case ShapeRamp:
			d = params.Base + params.Slope*t
		case ShapeStep:
			d = params.Base
			if t >= mid {
				d += params.Amplitude
			}
		case ShapeSine:
			d = params.Base + params.Amplitude*math.Sin(2*math.Pi*t/params.Period)
		case ShapeRidge:
			// Shallower (smaller depth) towards the crest.
			frac := 1 - math.Abs(t-mid)/mid
			d = params.Base - params.Amplitude*frac
		}
		p.Depths[i] = d
	}
	return p, nil
}
