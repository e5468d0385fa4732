package evo

import (
	"errors"
	"fmt"
	"math"

	"allele/internal/model"
)

var (
	// ErrInvalidConfig reports a configuration or input-shape error. It is
	// returned at operation entry and never recovered or clamped.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrEvaluationFailure wraps a single genome's fitness failure. It is
	// recorded in the FitnessRecord, never returned from Evaluate.
	ErrEvaluationFailure = errors.New("evaluation failure")
)

// WorstScore is recorded for genomes whose evaluation failed or produced a
// non-finite score.
const WorstScore = -math.MaxFloat64

const (
	DefaultTournamentSize = 3
	DefaultCrossoverRate  = 0.5
	DefaultMutationRate   = 0.1
	DefaultMutationSigma  = 0.1
)

// Config holds every engine parameter. Zero values are not defaulted by the
// engine; use DefaultConfig as a starting point.
type Config struct {
	PopulationSize int
	TournamentSize int
	CrossoverRate  float64
	MutationRate   float64
	MutationSigma  float64
	Elitism        bool
	Generations    int
	Seed           int64
	// Workers bounds concurrent fitness evaluations; 0 means 1.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		PopulationSize: 20,
		TournamentSize: DefaultTournamentSize,
		CrossoverRate:  DefaultCrossoverRate,
		MutationRate:   DefaultMutationRate,
		MutationSigma:  DefaultMutationSigma,
		Elitism:        true,
		Generations:    10,
		Seed:           1,
		Workers:        1,
	}
}

// Validate checks the parameters needed for a generation transition.
func (c Config) Validate() error {
	if c.PopulationSize < 2 {
		return fmt.Errorf("%w: population size must be >= 2, got %d", ErrInvalidConfig, c.PopulationSize)
	}
	if err := validateRate("crossover rate", c.CrossoverRate); err != nil {
		return err
	}
	if err := validateRate("mutation rate", c.MutationRate); err != nil {
		return err
	}
	if err := validateSigma(c.MutationSigma); err != nil {
		return err
	}
	if c.TournamentSize < 2 {
		return fmt.Errorf("%w: tournament size must be >= 2, got %d", ErrInvalidConfig, c.TournamentSize)
	}
	if c.TournamentSize >= c.PopulationSize {
		return fmt.Errorf("%w: tournament size %d must be < population size %d", ErrInvalidConfig, c.TournamentSize, c.PopulationSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

// ValidateRun additionally requires a positive generation count.
func (c Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Generations < 1 {
		return fmt.Errorf("%w: generations must be >= 1, got %d", ErrInvalidConfig, c.Generations)
	}
	return nil
}

// Settings converts the config to its persisted form.
func (c Config) Settings() model.EvolutionSettings {
	return model.EvolutionSettings{
		PopulationSize: c.PopulationSize,
		TournamentSize: c.TournamentSize,
		CrossoverRate:  c.CrossoverRate,
		MutationRate:   c.MutationRate,
		MutationSigma:  c.MutationSigma,
		Elitism:        c.Elitism,
		Generations:    c.Generations,
		Seed:           c.Seed,
		Workers:        c.Workers,
	}
}

// ConfigFromSettings is the inverse of Config.Settings.
func ConfigFromSettings(s model.EvolutionSettings) Config {
	return Config{
		PopulationSize: s.PopulationSize,
		TournamentSize: s.TournamentSize,
		CrossoverRate:  s.CrossoverRate,
		MutationRate:   s.MutationRate,
		MutationSigma:  s.MutationSigma,
		Elitism:        s.Elitism,
		Generations:    s.Generations,
		Seed:           s.Seed,
		Workers:        s.Workers,
	}
}

func (c Config) workers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

func validateRate(name string, rate float64) error {
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return fmt.Errorf("%w: %s must be in [0, 1], got %v", ErrInvalidConfig, name, rate)
	}
	return nil
}

func validateSigma(sigma float64) error {
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) || sigma < 0 {
		return fmt.Errorf("%w: mutation sigma must be finite and >= 0, got %v", ErrInvalidConfig, sigma)
	}
	return nil
}
