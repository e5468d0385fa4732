package reservoir

import (
	"errors"
	"fmt"
	"math"

	"allele/internal/evo"
	"allele/internal/model"
)

var (
	// ErrInvalidConfig reports an unusable reservoir configuration. It chains
	// to evo.ErrInvalidConfig.
	ErrInvalidConfig = fmt.Errorf("reservoir: %w", evo.ErrInvalidConfig)
	// ErrDimensionMismatch reports an input or state vector of the wrong length.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidInput reports a non-finite input component.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	DefaultStateDimension  = 100
	DefaultInputDimension  = 64
	DefaultOutputDimension = 32

	// spectralIterations is the fixed power-method budget used to rescale the
	// recurrent matrix.
	spectralIterations = 64
)

// Config is the full wiring recipe of a reservoir. Two reservoirs built from
// equal configs and seeds are identical.
type Config struct {
	StateDimension         int     `json:"state_dimension" toml:"state_dimension" yaml:"state_dimension"`
	InputDimension         int     `json:"input_dimension" toml:"input_dimension" yaml:"input_dimension"`
	OutputDimension        int     `json:"output_dimension" toml:"output_dimension" yaml:"output_dimension"`
	LeakRate               float64 `json:"leak_rate" toml:"leak_rate" yaml:"leak_rate"`
	InputGain              float64 `json:"input_gain" toml:"input_gain" yaml:"input_gain"`
	SpectralRadius         float64 `json:"spectral_radius" toml:"spectral_radius" yaml:"spectral_radius"`
	Connectivity           float64 `json:"connectivity" toml:"connectivity" yaml:"connectivity"`
	OutputScale            float64 `json:"output_scale" toml:"output_scale" yaml:"output_scale"`
	MemoryCapacity         int     `json:"memory_capacity" toml:"memory_capacity" yaml:"memory_capacity"`
	ConsolidationThreshold float64 `json:"consolidation_threshold" toml:"consolidation_threshold" yaml:"consolidation_threshold"`
}

func DefaultConfig() Config {
	return Config{
		StateDimension:         DefaultStateDimension,
		InputDimension:         DefaultInputDimension,
		OutputDimension:        DefaultOutputDimension,
		LeakRate:               0.5,
		InputGain:              1,
		SpectralRadius:         0.9,
		Connectivity:           0.1,
		OutputScale:            1,
		MemoryCapacity:         64,
		ConsolidationThreshold: 0.95,
	}
}

// Configure maps a trait vector to a reservoir configuration:
//
//	LeakRate               = 0.1 + 0.8*adaptability
//	InputGain              = 0.5 + 1.5*engagement
//	SpectralRadius         = 0.5 + 0.45*context_awareness
//	Connectivity           = 0.05 + 0.25*creativity
//	OutputDimension        = 16 + 8*round(3*technical_knowledge)
//	OutputScale            = 0.5 + personability
//	MemoryCapacity         = 16 + round(112*empathy)
//	ConsolidationThreshold = 0.99 - 0.19*conciseness
//
// Dimensions not driven by a trait take the package defaults. The mapping is
// pure: equal traits always give bit-identical configs.
func Configure(traits model.TraitVector) Config {
	cfg := DefaultConfig()
	cfg.LeakRate = 0.1 + 0.8*traits[model.Adaptability]
	cfg.InputGain = 0.5 + 1.5*traits[model.Engagement]
	cfg.SpectralRadius = 0.5 + 0.45*traits[model.ContextAwareness]
	cfg.Connectivity = 0.05 + 0.25*traits[model.Creativity]
	cfg.OutputDimension = 16 + 8*int(math.Round(3*traits[model.TechnicalKnowledge]))
	cfg.OutputScale = 0.5 + traits[model.Personability]
	cfg.MemoryCapacity = 16 + int(math.Round(112*traits[model.Empathy]))
	cfg.ConsolidationThreshold = 0.99 - 0.19*traits[model.Conciseness]
	return cfg
}

func (c Config) Validate() error {
	if c.StateDimension < 1 {
		return fmt.Errorf("%w: state dimension must be >= 1, got %d", ErrInvalidConfig, c.StateDimension)
	}
	if c.InputDimension < 1 {
		return fmt.Errorf("%w: input dimension must be >= 1, got %d", ErrInvalidConfig, c.InputDimension)
	}
	if c.OutputDimension < 1 {
		return fmt.Errorf("%w: output dimension must be >= 1, got %d", ErrInvalidConfig, c.OutputDimension)
	}
	if !inRange(c.LeakRate, 0, 1) || c.LeakRate == 0 {
		return fmt.Errorf("%w: leak rate must be in (0, 1], got %v", ErrInvalidConfig, c.LeakRate)
	}
	if !finite(c.InputGain) || c.InputGain <= 0 {
		return fmt.Errorf("%w: input gain must be > 0, got %v", ErrInvalidConfig, c.InputGain)
	}
	if !inRange(c.SpectralRadius, 0, 1) || c.SpectralRadius == 1 {
		return fmt.Errorf("%w: spectral radius must be in [0, 1), got %v", ErrInvalidConfig, c.SpectralRadius)
	}
	if !inRange(c.Connectivity, 0, 1) || c.Connectivity == 0 {
		return fmt.Errorf("%w: connectivity must be in (0, 1], got %v", ErrInvalidConfig, c.Connectivity)
	}
	if !finite(c.OutputScale) || c.OutputScale <= 0 {
		return fmt.Errorf("%w: output scale must be > 0, got %v", ErrInvalidConfig, c.OutputScale)
	}
	if c.MemoryCapacity < 1 {
		return fmt.Errorf("%w: memory capacity must be >= 1, got %d", ErrInvalidConfig, c.MemoryCapacity)
	}
	if !inRange(c.ConsolidationThreshold, -1, 1) {
		return fmt.Errorf("%w: consolidation threshold must be in [-1, 1], got %v", ErrInvalidConfig, c.ConsolidationThreshold)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func inRange(v, lo, hi float64) bool {
	return finite(v) && v >= lo && v <= hi
}
