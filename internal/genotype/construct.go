package genotype

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"allele/internal/model"
)

// ErrInvalidTraits reports a trait vector that is incomplete or out of range.
var ErrInvalidTraits = errors.New("invalid traits")

// ErrInvalidGenome reports bad genome or population metadata.
var ErrInvalidGenome = errors.New("invalid genome")

// NewGenome builds a seed genome from a name→value mapping. Every trait must be
// present, finite and within [0, 1]; unknown names are rejected.
func NewGenome(id string, traits map[string]float64) (model.Genome, error) {
	if id == "" {
		return model.Genome{}, fmt.Errorf("%w: id is required", ErrInvalidGenome)
	}
	vector, err := TraitsFromMap(traits)
	if err != nil {
		return model.Genome{}, err
	}
	return model.Genome{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		Traits:          vector,
	}, nil
}

// TraitsFromMap converts and validates a name→value mapping.
func TraitsFromMap(traits map[string]float64) (model.TraitVector, error) {
	var out model.TraitVector
	names := make([]string, 0, len(traits))
	for name := range traits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := model.TraitByName(name); !ok {
			return model.TraitVector{}, fmt.Errorf("%w: unknown trait %q", ErrInvalidTraits, name)
		}
	}
	for i, name := range model.TraitNames() {
		value, ok := traits[name]
		if !ok {
			return model.TraitVector{}, fmt.Errorf("%w: missing trait %q", ErrInvalidTraits, name)
		}
		out[i] = value
	}
	if err := ValidateTraits(out); err != nil {
		return model.TraitVector{}, err
	}
	return out, nil
}

// ValidateTraits checks every trait is finite and within [0, 1].
func ValidateTraits(v model.TraitVector) error {
	for i, value := range v {
		if math.IsNaN(value) || value < 0 || value > 1 {
			return fmt.Errorf("%w: %s=%v outside [0, 1]", ErrInvalidTraits, model.Trait(i), value)
		}
	}
	return nil
}

// ValidateGenome checks identity, generation and trait bounds.
func ValidateGenome(g model.Genome) error {
	if g.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidGenome)
	}
	if g.Generation < 0 {
		return fmt.Errorf("%w: genome %s has negative generation %d", ErrInvalidGenome, g.ID, g.Generation)
	}
	if len(g.Lineage) > 2 {
		return fmt.Errorf("%w: genome %s has %d parents", ErrInvalidGenome, g.ID, len(g.Lineage))
	}
	if err := ValidateTraits(g.Traits); err != nil {
		return fmt.Errorf("genome %s: %w", g.ID, err)
	}
	return nil
}

// ValidatePopulation checks every genome and rejects duplicate ids.
func ValidatePopulation(p model.Population) error {
	if p.Generation < 0 {
		return fmt.Errorf("%w: population generation %d", ErrInvalidGenome, p.Generation)
	}
	seen := make(map[string]struct{}, len(p.Genomes))
	for _, g := range p.Genomes {
		if err := ValidateGenome(g); err != nil {
			return err
		}
		if _, ok := seen[g.ID]; ok {
			return fmt.Errorf("%w: duplicate genome id %s", ErrInvalidGenome, g.ID)
		}
		seen[g.ID] = struct{}{}
	}
	return nil
}

// RandomTraits draws each trait uniformly from [0, 1) in canonical order.
func RandomTraits(rng *rand.Rand) model.TraitVector {
	rng = ensureRNG(rng)
	var out model.TraitVector
	for i := range out {
		out[i] = rng.Float64()
	}
	return out
}

// RandomGenome builds a generation-0 seed genome with uniform random traits.
func RandomGenome(rng *rand.Rand, id string) model.Genome {
	return model.Genome{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		Traits:          RandomTraits(rng),
	}
}

// GenomeID formats the deterministic id used for the index-th genome created
// in a generation.
func GenomeID(generation, index int) string {
	return fmt.Sprintf("g%d-i%d", generation, index)
}

// PopulationID formats the id of a run's population at a generation.
func PopulationID(runID string, generation int) string {
	if runID == "" {
		return fmt.Sprintf("population-g%d", generation)
	}
	return fmt.Sprintf("%s-g%d", runID, generation)
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(1))
}
