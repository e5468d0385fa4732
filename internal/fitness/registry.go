package fitness

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"allele/internal/evo"
	"allele/internal/model"
)

var (
	ErrFitnessExists   = errors.New("fitness function already registered")
	ErrFitnessNotFound = errors.New("fitness function not found")
)

// TraitPrefix selects a single trait as the score, e.g. "trait:empathy".
const TraitPrefix = "trait:"

var registry = struct {
	mu sync.RWMutex
	m  map[string]evo.FitnessFunc
}{
	m: make(map[string]evo.FitnessFunc),
}

func init() {
	MustRegister("profile", Profile(DefaultProfile))
	MustRegister("memory_capacity", MemoryCapacity)
}

func Register(name string, fn evo.FitnessFunc) error {
	if name == "" {
		return errors.New("fitness name is required")
	}
	if strings.HasPrefix(name, TraitPrefix) {
		return fmt.Errorf("fitness name %q uses reserved prefix %q", name, TraitPrefix)
	}
	if fn == nil {
		return errors.New("fitness function is required")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrFitnessExists, name)
	}
	registry.m[name] = fn
	return nil
}

func MustRegister(name string, fn evo.FitnessFunc) {
	if err := Register(name, fn); err != nil {
		panic(err)
	}
}

// Resolve returns the fitness function registered under name, or a trait
// selector for names of the form "trait:<trait name>".
func Resolve(name string) (evo.FitnessFunc, error) {
	if traitName, ok := strings.CutPrefix(name, TraitPrefix); ok {
		trait, ok := model.TraitByName(traitName)
		if !ok {
			return nil, fmt.Errorf("%w: unknown trait %q", ErrFitnessNotFound, traitName)
		}
		return Trait(trait), nil
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	fn, ok := registry.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFitnessNotFound, name)
	}
	return fn, nil
}

// List returns the registered names plus one trait selector per trait.
func List() []string {
	registry.mu.RLock()
	names := make([]string, 0, len(registry.m)+model.NumTraits)
	for name := range registry.m {
		names = append(names, name)
	}
	registry.mu.RUnlock()
	for _, trait := range model.TraitNames() {
		names = append(names, TraitPrefix+trait)
	}
	sort.Strings(names)
	return names
}
