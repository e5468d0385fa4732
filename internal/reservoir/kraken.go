package reservoir

import (
	"fmt"

	"allele/internal/genotype"
	"allele/internal/model"
)

// Result is the outcome of Unit.Process.
type Result struct {
	Outputs [][]float64 `json:"outputs"`
	// Memory is the last output vector, or zeros of the output dimension when
	// no input was given.
	Memory []float64 `json:"memory"`
	// State is the reservoir state vector after the last step.
	State        []float64 `json:"reservoir_state"`
	StepCount    int       `json:"step_count"`
	Consolidated int       `json:"consolidated"`
}

// Unit pairs a reservoir configured from a genome's traits with a temporal
// memory of the vectors it produced.
type Unit struct {
	traits    model.TraitVector
	reservoir *Reservoir
	memory    *TemporalMemory
}

// NewUnit configures a reservoir from traits with the given input dimension.
func NewUnit(traits model.TraitVector, inputDim int, seed int64) (*Unit, error) {
	if err := genotype.ValidateTraits(traits); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg := Configure(traits)
	cfg.InputDimension = inputDim
	return newUnit(traits, cfg, seed)
}

// NewUnitWithConfig builds a unit from an explicit configuration, for callers
// that override the trait-derived dimensions.
func NewUnitWithConfig(traits model.TraitVector, cfg Config, seed int64) (*Unit, error) {
	if err := genotype.ValidateTraits(traits); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return newUnit(traits, cfg, seed)
}

func newUnit(traits model.TraitVector, cfg Config, seed int64) (*Unit, error) {
	r, err := New(cfg, seed)
	if err != nil {
		return nil, err
	}
	memory, err := NewTemporalMemory(cfg.MemoryCapacity, cfg.ConsolidationThreshold)
	if err != nil {
		return nil, err
	}
	return &Unit{traits: traits, reservoir: r, memory: memory}, nil
}

func (u *Unit) Traits() model.TraitVector { return u.traits }
func (u *Unit) Config() Config { return u.reservoir.Config() }
func (u *Unit) Reservoir() *Reservoir { return u.reservoir }
func (u *Unit) Memory() *TemporalMemory { return u.memory }

// Process runs inputs through the reservoir and remembers the final output.
// An empty input leaves both the reservoir state and the memory untouched.
// When consolidate is set, similar memories are merged afterwards.
func (u *Unit) Process(inputs [][]float64, consolidate bool) (Result, error) {
	outputs, err := u.reservoir.Outputs(inputs)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		Outputs:   outputs,
		Memory:    make([]float64, u.reservoir.OutputDimension()),
		State:     u.reservoir.State(),
		StepCount: u.reservoir.StepCount(),
	}
	if len(outputs) > 0 {
		copy(result.Memory, outputs[len(outputs)-1])
		if err := u.memory.Remember(result.Memory); err != nil {
			return Result{}, err
		}
	}
	if consolidate {
		result.Consolidated = u.memory.Consolidate()
	}
	return result, nil
}

// Adapt enables readout learning and drive noise on the unit's reservoir.
func (u *Unit) Adapt(a Adaptation) error {
	return u.reservoir.Adapt(a)
}

// Reset clears the reservoir state. Memories are kept.
func (u *Unit) Reset() {
	u.reservoir.Reset()
}
