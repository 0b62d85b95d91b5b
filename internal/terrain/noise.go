package terrain

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sample is one time step handed to the filter: the true depth and the
// rangefinder reading synthesised from it.
type Sample struct {
	Index       int
	Time        float64
	Truth       float64
	Measurement float64
}

// NoiseSource adds zero-mean Gaussian noise with variance measurementVar to
// ground-truth depths. A NoiseSource is not safe for concurrent use; give
// each run its own.
type NoiseSource struct {
	dist distuv.Normal
	zero bool
	seed uint64
}

// NewNoiseSource returns a source seeded with seed. Seed 0 picks a seed from
// the clock; Seed reports the one in use so runs can be reproduced.
func NewNoiseSource(measurementVar float64, seed uint64) *NoiseSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sigma := math.Sqrt(measurementVar)
	return &NoiseSource{
		dist: distuv.Normal{
			Mu:    0,
			Sigma: sigma,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
		zero: sigma == 0,
		seed: seed,
	}
}

// Seed returns the seed the source was built with.
func (n *NoiseSource) Seed() uint64 { return n.seed }

// Sigma returns the noise standard deviation.
func (n *NoiseSource) Sigma() float64 { return n.dist.Sigma }

// Measure returns truth plus one noise draw.
func (n *NoiseSource) Measure(truth float64) float64 {
	if n.zero {
		return truth
	}
	return truth + n.dist.Rand()
}

// Samples pairs every depth in p with a noisy measurement.
func Samples(p *Profile, noise *NoiseSource) []Sample {
	out := make([]Sample, len(p.Depths))
	for i, d := range p.Depths {
		out[i] = Sample{
			Index:       i,
			Time:        p.TimeAt(i),
			Truth:       d,
			Measurement: noise.Measure(d),
		}
	}
	return out
}
