package evo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"allele/internal/genotype"
	"allele/internal/model"
)

func empathyFitness(_ context.Context, g model.Genome) (float64, error) {
	return g.Traits[model.Empathy], nil
}

func meanTraitFitness(_ context.Context, g model.Genome) (float64, error) {
	total := 0.0
	for _, v := range g.Traits {
		total += v
	}
	return total / model.NumTraits, nil
}

func testConfig(size, generations int, seed int64) Config {
	cfg := DefaultConfig()
	cfg.PopulationSize = size
	cfg.TournamentSize = 2
	cfg.Generations = generations
	cfg.Seed = seed
	return cfg
}

type recordingObserver struct {
	mu        sync.Mutex
	summaries []model.GenerationSummary
}

func (o *recordingObserver) ObserveGeneration(_ context.Context, summary model.GenerationSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, summary)
}

func TestAdvanceGenerationCarriesEliteUnchanged(t *testing.T) {
	cfg := testConfig(4, 1, 42)
	cfg.MutationRate = 0

	initial, err := InitializePopulation(4, 42)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	next, summary, err := AdvanceGeneration(context.Background(), initial, empathyFitness, cfg)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	var best model.Genome
	for _, g := range initial.Genomes {
		if best.ID == "" || g.Traits[model.Empathy] > best.Traits[model.Empathy] {
			best = g
		}
	}
	if summary.BestGenomeID != best.ID || summary.BestFitness != best.Traits[model.Empathy] {
		t.Fatalf("expected best %s=%v, got %s=%v", best.ID, best.Traits[model.Empathy], summary.BestGenomeID, summary.BestFitness)
	}
	if len(next.Genomes) != 4 {
		t.Fatalf("expected 4 genomes, got %d", len(next.Genomes))
	}
	elite := next.Genomes[0]
	if elite.ID != best.ID || elite.Traits != best.Traits || elite.Generation != best.Generation {
		t.Fatalf("elite changed: %+v vs %+v", elite, best)
	}
	if next.Generation != 1 {
		t.Fatalf("expected next generation 1, got %d", next.Generation)
	}
	for _, child := range next.Genomes[1:] {
		if len(child.Lineage) != 2 {
			t.Fatalf("expected two parents for %s, got %v", child.ID, child.Lineage)
		}
		if child.Generation != 1 {
			t.Fatalf("expected child generation 1, got %d", child.Generation)
		}
		if !strings.HasPrefix(child.ID, "g1-") {
			t.Fatalf("unexpected child id %s", child.ID)
		}
	}
	if err := genotype.ValidatePopulation(next); err != nil {
		t.Fatalf("next population invalid: %v", err)
	}
}

func TestAdvanceGenerationIsDeterministic(t *testing.T) {
	cfg := testConfig(8, 1, 9)
	initial, err := InitializePopulation(8, 3)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var encoded [][]byte
	for _, workers := range []int{1, 1, 4} {
		cfg.Workers = workers
		next, _, err := AdvanceGeneration(context.Background(), initial, meanTraitFitness, cfg)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		data, err := json.Marshal(next)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		encoded = append(encoded, data)
	}
	for i := 1; i < len(encoded); i++ {
		if !bytes.Equal(encoded[0], encoded[i]) {
			t.Fatalf("run %d differs:\n%s\n%s", i, encoded[0], encoded[i])
		}
	}
}

func TestAdvanceGenerationDoesNotModifyInput(t *testing.T) {
	cfg := testConfig(6, 1, 2)
	cfg.MutationRate = 1
	initial, err := InitializePopulation(6, 2)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	before, _ := json.Marshal(initial)
	if _, _, err := AdvanceGeneration(context.Background(), initial, meanTraitFitness, cfg); err != nil {
		t.Fatalf("advance: %v", err)
	}
	after, _ := json.Marshal(initial)
	if !bytes.Equal(before, after) {
		t.Fatal("input population was modified")
	}
}

func TestAdvanceGenerationRejectsInvalidInput(t *testing.T) {
	initial, err := InitializePopulation(4, 1)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cases := map[string]Config{
		"size mismatch":    testConfig(5, 1, 1),
		"rate":             func() Config { c := testConfig(4, 1, 1); c.CrossoverRate = 2; return c }(),
		"tournament":       func() Config { c := testConfig(4, 1, 1); c.TournamentSize = 4; return c }(),
		"small tournament": func() Config { c := testConfig(4, 1, 1); c.TournamentSize = 1; return c }(),
		"sigma":            func() Config { c := testConfig(4, 1, 1); c.MutationSigma = -1; return c }(),
	}
	for name, cfg := range cases {
		if _, _, err := AdvanceGeneration(context.Background(), initial, empathyFitness, cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}

	bad := genotype.ClonePopulation(initial)
	bad.Genomes[1].ID = bad.Genomes[0].ID
	if _, _, err := AdvanceGeneration(context.Background(), bad, empathyFitness, testConfig(4, 1, 1)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected duplicate id rejection, got %v", err)
	}
}

func TestAdvanceGenerationToleratesPartialFailure(t *testing.T) {
	cfg := testConfig(6, 1, 5)
	initial, err := InitializePopulation(6, 5)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	failing := initial.Genomes[2].ID
	fitness := func(ctx context.Context, g model.Genome) (float64, error) {
		if g.ID == failing {
			return 0, errors.New("evaluator crashed")
		}
		return meanTraitFitness(ctx, g)
	}

	var logs bytes.Buffer
	engine, err := NewEngine(cfg, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	next, summary, err := engine.AdvanceGeneration(context.Background(), initial, fitness)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if summary.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", summary.Failures)
	}
	if len(next.Genomes) != 6 {
		t.Fatalf("expected full population, got %d", len(next.Genomes))
	}
	if !strings.Contains(logs.String(), failing) {
		t.Fatalf("expected failure to be logged, got %q", logs.String())
	}
}

func TestInitializePopulation(t *testing.T) {
	if _, err := InitializePopulation(1, 1); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	a, err := InitializePopulation(5, 77)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	b, err := InitializePopulation(5, 77)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for i := range a.Genomes {
		if a.Genomes[i].ID != genotype.GenomeID(0, i) {
			t.Fatalf("unexpected id %s", a.Genomes[i].ID)
		}
		if a.Genomes[i].Traits != b.Genomes[i].Traits {
			t.Fatalf("genome %d differs between same-seed populations", i)
		}
	}
	if err := genotype.ValidatePopulation(a); err != nil {
		t.Fatalf("invalid population: %v", err)
	}
}

func TestRunElitismKeepsBestScoreMonotone(t *testing.T) {
	cfg := testConfig(10, 15, 13)
	cfg.MutationRate = 0.3
	initial, err := InitializePopulation(10, 13)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	observer := &recordingObserver{}
	engine, err := NewEngine(cfg, WithObserver(observer), WithRunID("run-x"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	result, err := engine.Run(context.Background(), initial, meanTraitFitness)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.History.Len() != 15 {
		t.Fatalf("expected 15 summaries, got %d", result.History.Len())
	}
	if len(observer.summaries) != 15 {
		t.Fatalf("expected 15 observed summaries, got %d", len(observer.summaries))
	}
	scores := result.History.BestScores()
	for i := 1; i < len(scores); i++ {
		if scores[i] < scores[i-1] {
			t.Fatalf("best score decreased at generation %d: %v -> %v", i, scores[i-1], scores[i])
		}
	}
	if result.BestFitness != scores[len(scores)-1] {
		t.Fatalf("expected run best %v to equal last best %v", result.BestFitness, scores[len(scores)-1])
	}
	if result.FinalPopulation.Generation != 15 || result.FinalPopulation.ID != "run-x-g15" {
		t.Fatalf("unexpected final population %s at %d", result.FinalPopulation.ID, result.FinalPopulation.Generation)
	}
	for i, summary := range result.History.All() {
		if summary.Generation != i {
			t.Fatalf("summary %d has generation %d", i, summary.Generation)
		}
		for _, g := range summary.Population.Genomes {
			if err := genotype.ValidateTraits(g.Traits); err != nil {
				t.Fatalf("generation %d: %v", i, err)
			}
		}
	}
	if len(result.Lineage) != 10+15*9 {
		t.Fatalf("expected %d lineage records, got %d", 10+15*9, len(result.Lineage))
	}
	for _, rec := range result.Lineage {
		for _, parent := range rec.ParentIDs {
			if parent == rec.GenomeID {
				t.Fatalf("genome %s lists itself as parent", rec.GenomeID)
			}
		}
	}
}

// renamed returns a copy of p whose genome ids follow the engine's own
// g<generation>-i<slot> pattern.
func renamed(p model.Population, ids ...string) model.Population {
	out := genotype.ClonePopulation(p)
	for i := range out.Genomes {
		out.Genomes[i].ID = ids[i]
	}
	return out
}

func TestAdvanceGenerationSkipsIDsAlreadyInUse(t *testing.T) {
	cfg := testConfig(4, 1, 42)
	base, err := InitializePopulation(4, 42)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	initial := renamed(base, "g1-i0", "g1-i1", "g1-i2", "g1-i3")

	next, _, err := AdvanceGeneration(context.Background(), initial, empathyFitness, cfg)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := genotype.ValidatePopulation(next); err != nil {
		t.Fatalf("next population invalid: %v", err)
	}
	want := []string{"g1-i4", "g1-i5", "g1-i6"}
	for i, child := range next.Genomes[1:] {
		if child.ID != want[i] {
			t.Fatalf("child %d: expected id %s, got %s", i, want[i], child.ID)
		}
	}
}

func TestRunKeepsEveryGenerationUnique(t *testing.T) {
	cfg := testConfig(6, 5, 8)
	base, err := InitializePopulation(6, 8)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	initial := renamed(base, "g1-i0", "g1-i1", "g2-i0", "g2-i2", "g3-i1", "g5-i0")
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	result, err := engine.Run(context.Background(), initial, meanTraitFitness)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	populations := []model.Population{result.FinalPopulation}
	for _, summary := range result.History.All() {
		populations = append(populations, summary.Population)
	}
	for _, p := range populations {
		if len(p.Genomes) != 6 {
			t.Fatalf("generation %d has %d genomes", p.Generation, len(p.Genomes))
		}
		if err := genotype.ValidatePopulation(p); err != nil {
			t.Fatalf("generation %d: %v", p.Generation, err)
		}
	}

	if len(result.Lineage) != 6+5*5 {
		t.Fatalf("expected %d lineage records, got %d", 6+5*5, len(result.Lineage))
	}
	seen := make(map[string]bool, len(result.Lineage))
	for _, rec := range result.Lineage {
		if seen[rec.GenomeID] {
			t.Fatalf("genome id %s recorded twice", rec.GenomeID)
		}
		seen[rec.GenomeID] = true
	}
	for _, p := range populations {
		for _, g := range p.Genomes {
			if !seen[g.ID] {
				t.Fatalf("genome %s has no lineage record", g.ID)
			}
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := testConfig(8, 6, 21)
	initial, err := InitializePopulation(8, 21)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	run := func(workers int) []byte {
		c := cfg
		c.Workers = workers
		engine, err := NewEngine(c)
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		result, err := engine.Run(context.Background(), initial, meanTraitFitness)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		data, err := json.Marshal(struct {
			Summaries []model.GenerationSummary
			Final     model.Population
			Best      model.Genome
		}{result.History.Summaries(), result.FinalPopulation, result.Best})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}
	first := run(1)
	if !bytes.Equal(first, run(1)) {
		t.Fatal("same-seed runs differ")
	}
	if !bytes.Equal(first, run(4)) {
		t.Fatal("worker count changed the result")
	}
}

func TestRunRequiresGenerations(t *testing.T) {
	cfg := testConfig(4, 0, 1)
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	initial, _ := InitializePopulation(4, 1)
	if _, err := engine.Run(context.Background(), initial, empathyFitness); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	engine, err := NewEngine(testConfig(4, 3, 1))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	initial, _ := InitializePopulation(4, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Run(ctx, initial, empathyFitness); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamIsRestartableAndMatchesRun(t *testing.T) {
	cfg := testConfig(6, 4, 8)
	initial, _ := InitializePopulation(6, 8)
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	result, err := engine.Run(context.Background(), initial, meanTraitFitness)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	stream := engine.Stream(context.Background(), initial, meanTraitFitness)
	for pass := 0; pass < 2; pass++ {
		count := 0
		for summary, err := range stream {
			if err != nil {
				t.Fatalf("pass %d: %v", pass, err)
			}
			want := result.History.At(count)
			if summary.BestFitness != want.BestFitness || summary.BestGenomeID != want.BestGenomeID {
				t.Fatalf("pass %d generation %d mismatch", pass, count)
			}
			count++
		}
		if count != 4 {
			t.Fatalf("pass %d: expected 4 summaries, got %d", pass, count)
		}
	}

	taken := 0
	for range stream {
		taken++
		if taken == 2 {
			break
		}
	}
	if taken != 2 {
		t.Fatalf("expected early break after 2, got %d", taken)
	}
}

func TestStreamYieldsValidationError(t *testing.T) {
	engine, err := NewEngine(testConfig(4, 2, 1))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	wrongSize, _ := InitializePopulation(3, 1)
	for _, err := range engine.Stream(context.Background(), wrongSize, empathyFitness) {
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	}
}
