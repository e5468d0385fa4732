package storage

import (
	"context"
	"time"

	"allele/internal/model"
)

// Store defines checkpoint persistence for genomes, populations and runs.
// Lookups return (value, found, err); a missing record is not an error.
// Genome ids are only unique within a run, so genomes are keyed by
// (runID, id); an empty runID is a namespace of its own.
type Store interface {
	Init(ctx context.Context) error
	SaveGenome(ctx context.Context, runID string, genome model.Genome) error
	GetGenome(ctx context.Context, runID, id string) (model.Genome, bool, error)
	SavePopulation(ctx context.Context, population model.Population) error
	GetPopulation(ctx context.Context, id string) (model.Population, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]RunInfo, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}

// RunInfo is the listing view of a stored run.
type RunInfo struct {
	RunID        string    `json:"run_id"`
	CreatedAt    time.Time `json:"created_at"`
	Fitness      string    `json:"fitness"`
	Generations  int       `json:"generations"`
	BestGenomeID string    `json:"best_genome_id"`
	BestFitness  float64   `json:"best_fitness"`
}

func runInfo(run model.RunRecord) RunInfo {
	return RunInfo{
		RunID:        run.RunID,
		CreatedAt:    run.CreatedAt,
		Fitness:      run.Fitness,
		Generations:  len(run.Summaries),
		BestGenomeID: run.Best.ID,
		BestFitness:  run.BestFitness,
	}
}

// runInfoLess orders runs oldest first, then by id.
func runInfoLess(a, b RunInfo) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.RunID < b.RunID
}
