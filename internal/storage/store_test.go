package storage

import (
	"context"
	"reflect"
	"testing"
	"time"

	"allele/internal/evo"
	"allele/internal/model"
)

// sampleRun evolves a small population so stored records look like real runs.
func sampleRun(t *testing.T, runID string, createdAt time.Time) (model.RunRecord, []model.LineageRecord) {
	t.Helper()

	cfg := evo.DefaultConfig()
	cfg.PopulationSize = 5
	cfg.TournamentSize = 2
	cfg.Generations = 3
	cfg.Seed = 4
	initial, err := evo.InitializePopulation(cfg.PopulationSize, cfg.Seed)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	engine, err := evo.NewEngine(cfg, evo.WithRunID(runID))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	fitness := func(_ context.Context, g model.Genome) (float64, error) {
		return g.Traits[model.Creativity], nil
	}
	result, err := engine.Run(context.Background(), initial, fitness)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return model.RunRecord{
		VersionedRecord: model.CurrentVersion(),
		RunID:           runID,
		CreatedAt:       createdAt,
		Fitness:         "trait:creativity",
		Settings:        cfg.Settings(),
		Summaries:       result.History.Summaries(),
		FinalPopulation: result.FinalPopulation,
		Best:            result.Best,
		BestFitness:     result.BestFitness,
	}, result.Lineage
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.GetGenome(ctx, "run-b", "missing"); err != nil || ok {
		t.Fatalf("expected missing genome, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.GetLineage(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing lineage, got ok=%v err=%v", ok, err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	later, laterLineage := sampleRun(t, "run-b", base.Add(time.Hour))
	earlier, _ := sampleRun(t, "run-a", base)

	for _, run := range []model.RunRecord{later, earlier} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.RunID, err)
		}
	}
	if err := store.SavePopulation(ctx, later.FinalPopulation); err != nil {
		t.Fatalf("save population: %v", err)
	}
	if err := store.SaveGenome(ctx, later.RunID, later.Best); err != nil {
		t.Fatalf("save genome: %v", err)
	}
	if err := store.SaveLineage(ctx, later.RunID, laterLineage); err != nil {
		t.Fatalf("save lineage: %v", err)
	}

	loadedRun, ok, err := store.GetRun(ctx, later.RunID)
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if !loadedRun.CreatedAt.Equal(later.CreatedAt) {
		t.Fatalf("created_at changed: %v vs %v", loadedRun.CreatedAt, later.CreatedAt)
	}
	loadedRun.CreatedAt = later.CreatedAt
	if !reflect.DeepEqual(loadedRun.FinalPopulation, later.FinalPopulation) {
		t.Fatalf("final population changed:\n%+v\n%+v", loadedRun.FinalPopulation, later.FinalPopulation)
	}
	if !reflect.DeepEqual(loadedRun.Best, later.Best) || loadedRun.BestFitness != later.BestFitness {
		t.Fatalf("best genome changed: %+v vs %+v", loadedRun.Best, later.Best)
	}
	if len(loadedRun.Summaries) != len(later.Summaries) || loadedRun.Settings != later.Settings {
		t.Fatalf("unexpected run record %+v", loadedRun)
	}

	loadedPop, ok, err := store.GetPopulation(ctx, later.FinalPopulation.ID)
	if err != nil || !ok {
		t.Fatalf("get population: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(loadedPop, later.FinalPopulation) {
		t.Fatalf("population round trip mismatch")
	}

	loadedGenome, ok, err := store.GetGenome(ctx, later.RunID, later.Best.ID)
	if err != nil || !ok {
		t.Fatalf("get genome: ok=%v err=%v", ok, err)
	}
	if loadedGenome.Traits != later.Best.Traits {
		t.Fatalf("genome traits changed: %v vs %v", loadedGenome.Traits, later.Best.Traits)
	}

	if _, ok, err := store.GetGenome(ctx, "run-a", later.Best.ID); err != nil || ok {
		t.Fatalf("genome leaked across runs: ok=%v err=%v", ok, err)
	}
	exerciseGenomeScoping(t, store)

	lineage, ok, err := store.GetLineage(ctx, later.RunID)
	if err != nil || !ok {
		t.Fatalf("get lineage: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(lineage, laterLineage) {
		t.Fatalf("lineage round trip mismatch")
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-a" || runs[1].RunID != "run-b" {
		t.Fatalf("unexpected run listing %+v", runs)
	}
	if runs[1].Generations != 3 || runs[1].BestGenomeID != later.Best.ID || runs[1].Fitness != "trait:creativity" {
		t.Fatalf("unexpected run info %+v", runs[1])
	}

	later.Fitness = "profile"
	if err := store.SaveRun(ctx, later); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	runs, err = store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[1].Fitness != "profile" {
		t.Fatalf("expected upsert, got %+v", runs)
	}
}

// exerciseGenomeScoping saves one genome id under two runs and checks that
// neither overwrites the other.
func exerciseGenomeScoping(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	first := model.Genome{VersionedRecord: model.CurrentVersion(), ID: "g0-i0"}
	first.Traits[model.Empathy] = 0.9
	second := first
	second.Traits[model.Empathy] = 0.1

	if err := store.SaveGenome(ctx, "scope-a", first); err != nil {
		t.Fatalf("save scope-a: %v", err)
	}
	if err := store.SaveGenome(ctx, "scope-b", second); err != nil {
		t.Fatalf("save scope-b: %v", err)
	}
	for runID, want := range map[string]model.Genome{"scope-a": first, "scope-b": second} {
		got, ok, err := store.GetGenome(ctx, runID, "g0-i0")
		if err != nil || !ok {
			t.Fatalf("get %s: ok=%v err=%v", runID, ok, err)
		}
		if got.Traits != want.Traits {
			t.Fatalf("%s traits overwritten: got %v want %v", runID, got.Traits, want.Traits)
		}
	}
}
