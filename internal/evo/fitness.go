package evo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"allele/internal/model"
	"allele/internal/nn"
)

// FitnessFunc scores a genome; higher is better. It may fail or panic, in
// which case only that genome is penalized.
type FitnessFunc func(ctx context.Context, genome model.Genome) (float64, error)

// FitnessRecord maps genome ids to scores for one generation.
type FitnessRecord struct {
	Scores map[string]float64
	Errors map[string]error
}

func newFitnessRecord(size int) FitnessRecord {
	return FitnessRecord{
		Scores: make(map[string]float64, size),
		Errors: make(map[string]error),
	}
}

// Score returns the recorded score, or WorstScore when the id is unknown.
func (r FitnessRecord) Score(id string) float64 {
	score, ok := r.Scores[id]
	if !ok {
		return WorstScore
	}
	return score
}

func (r FitnessRecord) Len() int {
	return len(r.Scores)
}

// Failures returns how many genomes failed evaluation.
func (r FitnessRecord) Failures() int {
	return len(r.Errors)
}

// FailedIDs returns the failed genome ids in sorted order.
func (r FitnessRecord) FailedIDs() []string {
	ids := make([]string, 0, len(r.Errors))
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate scores every genome with up to workers concurrent calls. Errors,
// panics and non-finite scores are recorded as WorstScore; the returned
// record always covers the whole population.
func Evaluate(ctx context.Context, population model.Population, fitness FitnessFunc, workers int) FitnessRecord {
	type result struct {
		score float64
		err   error
	}

	genomes := population.Genomes
	results := make([]result, len(genomes))
	if workers <= 0 {
		workers = 1
	}
	if workers > len(genomes) {
		workers = len(genomes)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				score, err := evaluateGenome(ctx, fitness, genomes[idx])
				results[idx] = result{score: score, err: err}
			}
		}()
	}
	for i := range genomes {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	record := newFitnessRecord(len(genomes))
	for i, genome := range genomes {
		res := results[i]
		if res.err != nil {
			record.Scores[genome.ID] = WorstScore
			record.Errors[genome.ID] = fmt.Errorf("%w: genome %s: %w", ErrEvaluationFailure, genome.ID, res.err)
			continue
		}
		record.Scores[genome.ID] = res.score
	}
	return record
}

func evaluateGenome(ctx context.Context, fitness FitnessFunc, genome model.Genome) (score float64, err error) {
	if err := ctx.Err(); err != nil {
		return WorstScore, err
	}
	if fitness == nil {
		return WorstScore, fmt.Errorf("fitness function is required")
	}
	defer func() {
		if r := recover(); r != nil {
			score = WorstScore
			err = fmt.Errorf("fitness panic: %v", r)
		}
	}()
	score, err = fitness(ctx, genome)
	if err != nil {
		return WorstScore, err
	}
	if !nn.IsFinite(score) {
		return WorstScore, fmt.Errorf("non-finite fitness %v", score)
	}
	return score, nil
}

// better reports whether a ranks above b: higher score, ties by lower id.
func better(a, b model.Genome, record FitnessRecord) bool {
	sa, sb := record.Score(a.ID), record.Score(b.ID)
	if sa != sb {
		return sa > sb
	}
	return a.ID < b.ID
}

// Best returns the highest-scoring genome, ties broken by lower id.
func Best(population model.Population, record FitnessRecord) (model.Genome, bool) {
	if len(population.Genomes) == 0 {
		return model.Genome{}, false
	}
	best := population.Genomes[0]
	for _, g := range population.Genomes[1:] {
		if better(g, best, record) {
			best = g
		}
	}
	return best, true
}

// Summarize computes generation statistics. Mean and min cover successfully
// evaluated genomes only; when every genome failed they equal WorstScore.
func Summarize(population model.Population, record FitnessRecord) model.GenerationSummary {
	summary := model.GenerationSummary{
		Generation:  population.Generation,
		BestFitness: WorstScore,
		MeanFitness: WorstScore,
		MinFitness:  WorstScore,
		Failures:    record.Failures(),
		Population:  population,
	}
	if best, ok := Best(population, record); ok {
		summary.BestGenomeID = best.ID
		summary.BestFitness = record.Score(best.ID)
	}

	total := 0.0
	count := 0
	for _, g := range population.Genomes {
		if _, failed := record.Errors[g.ID]; failed {
			continue
		}
		score := record.Score(g.ID)
		if count == 0 || score < summary.MinFitness {
			summary.MinFitness = score
		}
		total += score
		count++
	}
	if count > 0 {
		summary.MeanFitness = total / float64(count)
	}
	return summary
}
