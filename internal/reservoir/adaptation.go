package reservoir

import (
	"fmt"
	"math"

	"allele/internal/nn"
)

// Adaptation switches on the optional online behaviour of a reservoir. The
// zero value disables both parts.
type Adaptation struct {
	// LearningRate applies Oja's rule to the readout after every step. Each
	// readout row is kept within unit norm.
	LearningRate float64 `json:"learning_rate" toml:"learning_rate" yaml:"learning_rate"`
	// NoiseAmplitude is the standard deviation of Gaussian noise added to the
	// pre-activation of every state unit.
	NoiseAmplitude float64 `json:"noise_amplitude" toml:"noise_amplitude" yaml:"noise_amplitude"`
	// NoiseSeed seeds the noise stream. The noise applied at step k depends
	// only on NoiseSeed and k.
	NoiseSeed int64 `json:"noise_seed" toml:"noise_seed" yaml:"noise_seed"`
}

func (a Adaptation) Enabled() bool {
	return a.LearningRate > 0 || a.NoiseAmplitude > 0
}

func (a Adaptation) Validate() error {
	if !inRange(a.LearningRate, 0, 1) {
		return fmt.Errorf("%w: learning rate must be in [0, 1], got %v", ErrInvalidConfig, a.LearningRate)
	}
	if !finite(a.NoiseAmplitude) || a.NoiseAmplitude < 0 {
		return fmt.Errorf("%w: noise amplitude must be >= 0, got %v", ErrInvalidConfig, a.NoiseAmplitude)
	}
	return nil
}

// Adapt installs a. The noise stream is positioned at the current step, so
// adapting before any input and adapting after a Reset behave the same.
func (r *Reservoir) Adapt(a Adaptation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.adapt = a
	r.seekNoise()
	return nil
}

func (r *Reservoir) Adaptation() Adaptation { return r.adapt }

// Readout returns a copy of the output matrix in row-major order.
func (r *Reservoir) Readout() []float64 {
	return append([]float64(nil), r.wout.Data...)
}

// seekNoise reseeds the noise stream and skips the draws of the steps already
// taken.
func (r *Reservoir) seekNoise() {
	if r.adapt.NoiseAmplitude <= 0 {
		r.noise = nil
		return
	}
	r.noise = nn.NewRand(r.adapt.NoiseSeed)
	for i := 0; i < r.steps*r.cfg.StateDimension; i++ {
		r.noise.NormFloat64()
	}
}

func (r *Reservoir) addNoise(pre []float64) {
	if r.noise == nil {
		return
	}
	for i := range pre {
		pre[i] += r.adapt.NoiseAmplitude * r.noise.NormFloat64()
	}
}

// learn applies one Oja update to every readout row using the unscaled
// readout activity y = Wout*x:
//
//	Wout[o][j] += rate * y[o] * (x[j] - y[o]*Wout[o][j])
func (r *Reservoir) learn(y []float64) {
	rate := r.adapt.LearningRate
	if rate <= 0 {
		return
	}
	n := r.cfg.StateDimension
	for o := range y {
		row := r.wout.Data[o*n : (o+1)*n]
		norm := 0.0
		for j, x := range r.state {
			row[j] += rate * y[o] * (x - y[o]*row[j])
			norm += row[j] * row[j]
		}
		if norm > 1 {
			scale := 1 / math.Sqrt(norm)
			for j := range row {
				row[j] *= scale
			}
		}
	}
}
