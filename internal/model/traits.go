package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NumTraits is the fixed dimensionality of every genome.
const NumTraits = 8

// Trait indexes into a TraitVector.
type Trait int

const (
	Empathy Trait = iota
	Engagement
	TechnicalKnowledge
	Creativity
	Conciseness
	ContextAwareness
	Adaptability
	Personability
)

var traitNames = [NumTraits]string{
	"empathy",
	"engagement",
	"technical_knowledge",
	"creativity",
	"conciseness",
	"context_awareness",
	"adaptability",
	"personability",
}

// TraitNames returns the canonical trait order.
func TraitNames() []string {
	out := make([]string, NumTraits)
	copy(out, traitNames[:])
	return out
}

func (t Trait) String() string {
	if t < 0 || int(t) >= NumTraits {
		return fmt.Sprintf("trait(%d)", int(t))
	}
	return traitNames[t]
}

// TraitByName resolves a canonical trait name.
func TraitByName(name string) (Trait, bool) {
	for i, candidate := range traitNames {
		if candidate == name {
			return Trait(i), true
		}
	}
	return 0, false
}

// TraitVector holds one scalar per trait in canonical order.
type TraitVector [NumTraits]float64

func (v TraitVector) Get(t Trait) float64 {
	return v[t]
}

// Map returns the traits keyed by name.
func (v TraitVector) Map() map[string]float64 {
	out := make(map[string]float64, NumTraits)
	for i, name := range traitNames {
		out[name] = v[i]
	}
	return out
}

// Slice returns a copy of the vector as a slice.
func (v TraitVector) Slice() []float64 {
	out := make([]float64, NumTraits)
	copy(out, v[:])
	return out
}

// MarshalJSON encodes the vector as an object with keys in canonical order.
func (v TraitVector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range traitNames {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		value, err := json.Marshal(v[i])
		if err != nil {
			return nil, fmt.Errorf("encode trait %s: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON requires every trait name exactly once and rejects unknown names.
func (v *TraitVector) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out TraitVector
	for i, name := range traitNames {
		value, ok := raw[name]
		if !ok {
			return fmt.Errorf("missing trait %q", name)
		}
		out[i] = value
	}
	if len(raw) != NumTraits {
		for name := range raw {
			if _, ok := TraitByName(name); !ok {
				return fmt.Errorf("unknown trait %q", name)
			}
		}
	}
	*v = out
	return nil
}
