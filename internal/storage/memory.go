package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"allele/internal/genotype"
	"allele/internal/model"
)

// ErrNotInitialized is returned by stores used before Init.
var ErrNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	genomes     map[genomeKey]model.Genome
	populations map[string]model.Population
	runs        map[string]model.RunRecord
	lineage     map[string][]model.LineageRecord
}

type genomeKey struct {
	runID string
	id    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.genomes = make(map[genomeKey]model.Genome)
	s.populations = make(map[string]model.Population)
	s.runs = make(map[string]model.RunRecord)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) SaveGenome(_ context.Context, runID string, genome model.Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.genomes[genomeKey{runID: runID, id: genome.ID}] = genotype.CloneGenome(genome)
	return nil
}

func (s *MemoryStore) GetGenome(_ context.Context, runID, id string) (model.Genome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Genome{}, false, ErrNotInitialized
	}
	genome, ok := s.genomes[genomeKey{runID: runID, id: id}]
	if !ok {
		return model.Genome{}, false, nil
	}
	return genotype.CloneGenome(genome), true, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.populations[population.ID] = genotype.ClonePopulation(population)
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Population{}, false, ErrNotInitialized
	}
	population, ok := s.populations[id]
	if !ok {
		return model.Population{}, false, nil
	}
	return genotype.ClonePopulation(population), true, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunRecord{}, false, ErrNotInitialized
	}
	run, ok := s.runs[runID]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]RunInfo, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, runInfo(run))
	}
	sort.Slice(out, func(i, j int) bool { return runInfoLess(out[i], out[j]) })
	return out, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.lineage[runID] = cloneLineage(lineage)
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneLineage(lineage), true, nil
}

func cloneRun(run model.RunRecord) model.RunRecord {
	out := run
	out.Summaries = make([]model.GenerationSummary, len(run.Summaries))
	for i, summary := range run.Summaries {
		summary.Population = genotype.ClonePopulation(summary.Population)
		out.Summaries[i] = summary
	}
	out.FinalPopulation = genotype.ClonePopulation(run.FinalPopulation)
	out.Best = genotype.CloneGenome(run.Best)
	return out
}

func cloneLineage(records []model.LineageRecord) []model.LineageRecord {
	out := make([]model.LineageRecord, len(records))
	for i, record := range records {
		record.ParentIDs = append([]string(nil), record.ParentIDs...)
		out[i] = record
	}
	return out
}
