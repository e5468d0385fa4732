package fitness

import (
	"context"
	"errors"
	"math"
	"testing"

	"allele/internal/model"
)

func TestResolveTraitSelector(t *testing.T) {
	fn, err := Resolve("trait:creativity")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var g model.Genome
	g.Traits[model.Creativity] = 0.42
	score, err := fn(context.Background(), g)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0.42 {
		t.Fatalf("expected 0.42, got %v", score)
	}

	if _, err := Resolve("trait:humor"); !errors.Is(err, ErrFitnessNotFound) {
		t.Fatalf("expected ErrFitnessNotFound, got %v", err)
	}
	if _, err := Resolve("nope"); !errors.Is(err, ErrFitnessNotFound) {
		t.Fatalf("expected ErrFitnessNotFound, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndReservedNames(t *testing.T) {
	fn := Trait(model.Empathy)
	if err := Register("profile", fn); !errors.Is(err, ErrFitnessExists) {
		t.Fatalf("expected ErrFitnessExists, got %v", err)
	}
	if err := Register("trait:empathy", fn); err == nil {
		t.Fatal("expected reserved prefix rejection")
	}
	if err := Register("", fn); err == nil {
		t.Fatal("expected empty name rejection")
	}
}

func TestListIncludesBuiltIns(t *testing.T) {
	names := List()
	want := map[string]bool{"profile": false, "memory_capacity": false, "trait:empathy": false, "trait:personability": false}
	for _, name := range names {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("expected %s in %v", name, names)
		}
	}
}

func TestProfileScoresTargetHighest(t *testing.T) {
	fn, err := Resolve("profile")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	exact, err := fn(context.Background(), model.Genome{Traits: DefaultProfile})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if exact != 1 {
		t.Fatalf("expected 1 at target, got %v", exact)
	}

	var corner model.TraitVector
	for i := range corner {
		corner[i] = 1
	}
	farthest, _ := Profile(model.TraitVector{})(context.Background(), model.Genome{Traits: corner})
	if math.Abs(farthest) > 1e-12 {
		t.Fatalf("expected 0 at opposite corner, got %v", farthest)
	}

	off, _ := fn(context.Background(), model.Genome{Traits: model.TraitVector{}})
	if off <= 0 || off >= 1 {
		t.Fatalf("expected score in (0, 1), got %v", off)
	}
}

func TestMemoryCapacityIsBoundedAndDeterministic(t *testing.T) {
	var traits model.TraitVector
	for i := range traits {
		traits[i] = 0.5
	}
	g := model.Genome{ID: "g", Traits: traits}
	first, err := MemoryCapacity(context.Background(), g)
	if err != nil {
		t.Fatalf("memory capacity: %v", err)
	}
	second, err := MemoryCapacity(context.Background(), g)
	if err != nil {
		t.Fatalf("memory capacity: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic score, got %v and %v", first, second)
	}
	if first < 0 || first > 1 || math.IsNaN(first) {
		t.Fatalf("score %v outside [0, 1]", first)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := MemoryCapacity(ctx, g); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryCapacityLongMemoryBeatsFullLeak(t *testing.T) {
	var forgetful, retentive model.TraitVector
	for i := range forgetful {
		forgetful[i] = 0.5
		retentive[i] = 0.5
	}
	forgetful[model.Adaptability] = 1
	forgetful[model.ContextAwareness] = 0
	retentive[model.Adaptability] = 0
	retentive[model.ContextAwareness] = 1

	low, err := MemoryCapacity(context.Background(), model.Genome{Traits: forgetful})
	if err != nil {
		t.Fatalf("memory capacity: %v", err)
	}
	high, err := MemoryCapacity(context.Background(), model.Genome{Traits: retentive})
	if err != nil {
		t.Fatalf("memory capacity: %v", err)
	}
	if high <= low {
		t.Fatalf("expected slow leak to remember more: leak-heavy=%v slow=%v", low, high)
	}
}
