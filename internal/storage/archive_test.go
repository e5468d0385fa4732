package storage

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := NewMemoryStore()
	if err := source.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	run, lineage := sampleRun(t, "run-archive", time.Date(2026, 5, 2, 8, 30, 0, 42, time.UTC))
	if err := source.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := source.SaveLineage(ctx, run.RunID, lineage); err != nil {
		t.Fatalf("save lineage: %v", err)
	}

	var buf bytes.Buffer
	if err := ExportRun(ctx, source, run.RunID, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	target := NewMemoryStore()
	if err := target.Init(ctx); err != nil {
		t.Fatalf("init target: %v", err)
	}
	imported, err := ImportRun(ctx, target, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.RunID != run.RunID || !imported.CreatedAt.Equal(run.CreatedAt) {
		t.Fatalf("unexpected imported run %s at %v", imported.RunID, imported.CreatedAt)
	}

	population, ok, err := target.GetPopulation(ctx, run.FinalPopulation.ID)
	if err != nil || !ok {
		t.Fatalf("imported population: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(population, run.FinalPopulation) {
		t.Fatal("imported population differs")
	}
	best, ok, err := target.GetGenome(ctx, run.RunID, run.Best.ID)
	if err != nil || !ok || best.Traits != run.Best.Traits {
		t.Fatalf("imported best genome: ok=%v err=%v", ok, err)
	}
	gotLineage, ok, err := target.GetLineage(ctx, run.RunID)
	if err != nil || !ok || !reflect.DeepEqual(gotLineage, lineage) {
		t.Fatalf("imported lineage: ok=%v err=%v", ok, err)
	}
}

func TestExportRunMissing(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	var buf bytes.Buffer
	if err := ExportRun(context.Background(), store, "nope", &buf); err == nil {
		t.Fatal("expected missing run error")
	}
}

func TestReadArchiveRejectsGarbage(t *testing.T) {
	if _, err := ReadArchive(bytes.NewReader([]byte("not an archive"))); !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("expected ErrInvalidArchive, got %v", err)
	}
}

func TestArchiveIsDeterministic(t *testing.T) {
	run, lineage := sampleRun(t, "run-det", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var a, b bytes.Buffer
	if err := WriteArchive(&a, Archive{Run: run, Lineage: lineage}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteArchive(&b, Archive{Run: run, Lineage: lineage}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("expected identical archives")
	}
}
