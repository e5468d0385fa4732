package evo

import (
	"fmt"
	"math/rand"

	"allele/internal/genotype"
	"allele/internal/model"
	"allele/internal/nn"
)

const (
	OperationSeed      = "seed"
	OperationCrossover = "crossover"
	OperationMutate    = "mutate"
)

// Crossover produces a child from two parents. For each trait in canonical
// order a uniform u is drawn: when u < rate the child takes the arithmetic
// blend a + w*(b-a) with w uniform in [0, 1); otherwise a fair coin picks one
// parent's value. The result is clamped to [0, 1].
func Crossover(rng *rand.Rand, a, b model.Genome, rate float64, id string) (model.Genome, error) {
	if rng == nil {
		return model.Genome{}, fmt.Errorf("random source is required")
	}
	if err := validateRate("crossover rate", rate); err != nil {
		return model.Genome{}, err
	}
	if id == "" {
		return model.Genome{}, fmt.Errorf("%w: child id is required", ErrInvalidConfig)
	}

	var traits model.TraitVector
	for i := range traits {
		if rng.Float64() < rate {
			w := rng.Float64()
			traits[i] = nn.Clamp01(a.Traits[i] + w*(b.Traits[i]-a.Traits[i]))
			continue
		}
		if rng.Float64() < 0.5 {
			traits[i] = a.Traits[i]
		} else {
			traits[i] = b.Traits[i]
		}
	}

	return model.Genome{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		Traits:          traits,
		Generation:      max(a.Generation, b.Generation) + 1,
		Lineage:         []string{a.ID, b.ID},
	}, nil
}

// Mutate produces a mutation-only child of genome: each trait is perturbed
// with probability rate by Gaussian noise of scale sigma, then clamped.
func Mutate(rng *rand.Rand, genome model.Genome, rate, sigma float64, id string) (model.Genome, error) {
	if rng == nil {
		return model.Genome{}, fmt.Errorf("random source is required")
	}
	if err := validateRate("mutation rate", rate); err != nil {
		return model.Genome{}, err
	}
	if err := validateSigma(sigma); err != nil {
		return model.Genome{}, err
	}
	if id == "" {
		return model.Genome{}, fmt.Errorf("%w: child id is required", ErrInvalidConfig)
	}

	child := genotype.CloneGenome(genome)
	child.VersionedRecord = model.CurrentVersion()
	child.ID = id
	child.Generation = genome.Generation + 1
	child.Lineage = []string{genome.ID}
	child.Traits = perturbTraits(rng, genome.Traits, rate, sigma)
	return child, nil
}

// perturbTraits draws one uniform per trait and, when it falls below rate,
// one standard normal scaled by sigma.
func perturbTraits(rng *rand.Rand, traits model.TraitVector, rate, sigma float64) model.TraitVector {
	out := traits
	for i := range out {
		if rng.Float64() < rate {
			out[i] = nn.Clamp01(out[i] + rng.NormFloat64()*sigma)
		}
	}
	return out
}
