package evo

import (
	"fmt"
	"math/rand"

	"allele/internal/model"
)

// Selector chooses k parents from an evaluated population.
type Selector interface {
	Name() string
	Select(rng *rand.Rand, population model.Population, record FitnessRecord, k int) ([]model.Genome, error)
}

// TournamentSelector samples TournamentSize distinct genomes per tournament and
// keeps the best of them. Tournaments are independent, so a genome may win
// more than once.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) Select(rng *rand.Rand, population model.Population, record FitnessRecord, k int) ([]model.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	genomes := population.Genomes
	if len(genomes) == 0 {
		return nil, fmt.Errorf("%w: cannot select from empty population", ErrInvalidConfig)
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: selection count must be >= 0, got %d", ErrInvalidConfig, k)
	}

	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = DefaultTournamentSize
	}
	if tournamentSize > len(genomes) {
		tournamentSize = len(genomes)
	}

	winners := make([]model.Genome, 0, k)
	indexes := make([]int, len(genomes))
	for i := 0; i < k; i++ {
		for j := range indexes {
			indexes[j] = j
		}
		// Partial Fisher-Yates: the first tournamentSize slots become a
		// uniform sample without replacement.
		best := -1
		for j := 0; j < tournamentSize; j++ {
			swap := j + rng.Intn(len(indexes)-j)
			indexes[j], indexes[swap] = indexes[swap], indexes[j]
			candidate := indexes[j]
			if best < 0 || better(genomes[candidate], genomes[best], record) {
				best = candidate
			}
		}
		winners = append(winners, genomes[best])
	}
	return winners, nil
}
