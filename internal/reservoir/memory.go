package reservoir

import (
	"fmt"
	"sort"

	"allele/internal/nn"
)

// MemoryEntry is one remembered vector. Weight counts how many vectors were
// merged into it by consolidation.
type MemoryEntry struct {
	Vector []float64 `json:"vector" cbor:"vector"`
	Weight int       `json:"weight" cbor:"weight"`
}

// Match is a recall hit.
type Match struct {
	MemoryEntry
	Similarity float64 `json:"similarity" cbor:"similarity"`
}

// TemporalMemory is a bounded FIFO store of memory vectors. When full, the
// oldest entry is evicted.
type TemporalMemory struct {
	capacity  int
	threshold float64
	dimension int
	entries   []MemoryEntry
}

func NewTemporalMemory(capacity int, threshold float64) (*TemporalMemory, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: memory capacity must be >= 1, got %d", ErrInvalidConfig, capacity)
	}
	if !inRange(threshold, -1, 1) {
		return nil, fmt.Errorf("%w: consolidation threshold must be in [-1, 1], got %v", ErrInvalidConfig, threshold)
	}
	return &TemporalMemory{capacity: capacity, threshold: threshold}, nil
}

func (m *TemporalMemory) Len() int { return len(m.entries) }
func (m *TemporalMemory) Capacity() int { return m.capacity }

// Entries returns copies of the stored entries, oldest first.
func (m *TemporalMemory) Entries() []MemoryEntry {
	out := make([]MemoryEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = MemoryEntry{Vector: append([]float64(nil), e.Vector...), Weight: e.Weight}
	}
	return out
}

// Remember stores a copy of v. All vectors in one memory share a dimension,
// fixed by the first vector stored.
func (m *TemporalMemory) Remember(v []float64) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty memory vector", ErrDimensionMismatch)
	}
	if m.dimension != 0 && len(v) != m.dimension {
		return fmt.Errorf("%w: memory vector has %d components, memory holds %d", ErrDimensionMismatch, len(v), m.dimension)
	}
	for i, x := range v {
		if !finite(x) {
			return fmt.Errorf("%w: memory component %d is %v", ErrInvalidInput, i, x)
		}
	}
	m.dimension = len(v)
	if len(m.entries) == m.capacity {
		copy(m.entries, m.entries[1:])
		m.entries = m.entries[:len(m.entries)-1]
	}
	m.entries = append(m.entries, MemoryEntry{Vector: append([]float64(nil), v...), Weight: 1})
	return nil
}

// Consolidate merges, oldest first, every later entry whose cosine similarity
// to an earlier one is at least the threshold into that entry's weighted
// running mean. It returns how many entries were absorbed.
func (m *TemporalMemory) Consolidate() int {
	merged := 0
	kept := m.entries[:0]
	absorbed := make([]bool, len(m.entries))
	for i := range m.entries {
		if absorbed[i] {
			continue
		}
		base := m.entries[i]
		for j := i + 1; j < len(m.entries); j++ {
			if absorbed[j] {
				continue
			}
			sim, err := nn.Cosine(base.Vector, m.entries[j].Vector)
			if err != nil || sim < m.threshold {
				continue
			}
			base = mergeEntries(base, m.entries[j])
			absorbed[j] = true
			merged++
		}
		kept = append(kept, base)
	}
	m.entries = kept
	return merged
}

func mergeEntries(a, b MemoryEntry) MemoryEntry {
	total := float64(a.Weight + b.Weight)
	out := make([]float64, len(a.Vector))
	for i := range out {
		out[i] = (a.Vector[i]*float64(a.Weight) + b.Vector[i]*float64(b.Weight)) / total
	}
	return MemoryEntry{Vector: out, Weight: a.Weight + b.Weight}
}

// Recall returns up to k entries ranked by cosine similarity to query, ties in
// insertion order.
func (m *TemporalMemory) Recall(query []float64, k int) ([]Match, error) {
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	if len(query) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d components, memory holds %d", ErrDimensionMismatch, len(query), m.dimension)
	}
	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		sim, err := nn.Cosine(query, e.Vector)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			MemoryEntry: MemoryEntry{Vector: append([]float64(nil), e.Vector...), Weight: e.Weight},
			Similarity:  sim,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Clear drops every entry.
func (m *TemporalMemory) Clear() {
	m.entries = nil
	m.dimension = 0
}
