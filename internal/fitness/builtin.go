package fitness

import (
	"context"
	"math"

	"allele/internal/evo"
	"allele/internal/model"
	"allele/internal/nn"
	"allele/internal/reservoir"
)

// DefaultProfile is the target personality scored by "profile".
var DefaultProfile = model.TraitVector{0.8, 0.7, 0.6, 0.9, 0.5, 0.8, 0.7, 0.8}

// Trait scores a genome by a single trait value.
func Trait(trait model.Trait) evo.FitnessFunc {
	return func(_ context.Context, genome model.Genome) (float64, error) {
		return genome.Traits.Get(trait), nil
	}
}

// Profile scores 1 minus the Euclidean distance to target, normalized by the
// largest possible distance in the unit hypercube.
func Profile(target model.TraitVector) evo.FitnessFunc {
	maxDistance := math.Sqrt(model.NumTraits)
	return func(_ context.Context, genome model.Genome) (float64, error) {
		d, err := nn.Distance(genome.Traits[:], target[:])
		if err != nil {
			return 0, err
		}
		return 1 - d/maxDistance, nil
	}
}

const (
	probeStateDimension = 32
	probeSeed           = 7
	probeSignalSeed     = 11
	probeSteps          = 200
	probeWashout        = 20
	probeMaxDelay       = 5
)

// MemoryCapacity builds the genome's reservoir with a scalar input, drives it
// with a fixed uniform signal and averages, over delays 1..5, the strongest
// absolute correlation between any output component and the delayed input.
func MemoryCapacity(ctx context.Context, genome model.Genome) (float64, error) {
	cfg := reservoir.Configure(genome.Traits)
	cfg.InputDimension = 1
	cfg.StateDimension = probeStateDimension
	r, err := reservoir.New(cfg, probeSeed)
	if err != nil {
		return 0, err
	}

	rng := nn.NewRand(probeSignalSeed)
	signal := make([]float64, probeSteps)
	inputs := make([][]float64, probeSteps)
	for i := range signal {
		signal[i] = nn.UniformCentered(rng)
		inputs[i] = []float64{signal[i]}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	outputs, err := r.Outputs(inputs)
	if err != nil {
		return 0, err
	}

	window := probeSteps - probeWashout
	component := make([]float64, window)
	delayed := make([]float64, window)
	total := 0.0
	for delay := 1; delay <= probeMaxDelay; delay++ {
		for t := 0; t < window; t++ {
			delayed[t] = signal[probeWashout+t-delay]
		}
		best := 0.0
		for c := 0; c < cfg.OutputDimension; c++ {
			for t := 0; t < window; t++ {
				component[t] = outputs[probeWashout+t][c]
			}
			corr, err := nn.Correlation(component, delayed)
			if err != nil {
				return 0, err
			}
			best = math.Max(best, math.Abs(corr))
		}
		total += best
	}
	return total / probeMaxDelay, nil
}
