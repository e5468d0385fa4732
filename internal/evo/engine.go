package evo

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"allele/internal/genotype"
	"allele/internal/model"
	"allele/internal/nn"
)

// Observer receives each generation summary as soon as it is computed.
type Observer interface {
	ObserveGeneration(ctx context.Context, summary model.GenerationSummary)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an observer notified once per generation.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observers = append(e.observers, observer)
		}
	}
}

// WithRunID prefixes the ids of populations produced by the engine.
func WithRunID(runID string) Option {
	return func(e *Engine) {
		e.runID = runID
	}
}

// WithSelector replaces tournament selection.
func WithSelector(selector Selector) Option {
	return func(e *Engine) {
		if selector != nil {
			e.selector = selector
		}
	}
}

// Engine drives generational evolution. Every transition is a pure function of
// the input population, the fitness function and the config: its random
// stream is derived from (Seed, population generation).
type Engine struct {
	cfg       Config
	selector  Selector
	logger    *slog.Logger
	observers []Observer
	runID     string
}

// RunResult is the outcome of Engine.Run.
type RunResult struct {
	Best            model.Genome
	BestFitness     float64
	History         History
	FinalPopulation model.Population
	Lineage         []model.LineageRecord
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		selector: TournamentSelector{TournamentSize: cfg.TournamentSize},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// InitializePopulation draws size seed genomes with uniform random traits
// from a source seeded with seed.
func InitializePopulation(size int, seed int64) (model.Population, error) {
	if size < 2 {
		return model.Population{}, fmt.Errorf("%w: population size must be >= 2, got %d", ErrInvalidConfig, size)
	}
	rng := nn.NewRand(seed)
	genomes := make([]model.Genome, 0, size)
	for i := 0; i < size; i++ {
		genomes = append(genomes, genotype.RandomGenome(rng, genotype.GenomeID(0, i)))
	}
	return model.Population{
		VersionedRecord: model.CurrentVersion(),
		ID:              genotype.PopulationID("", 0),
		Generation:      0,
		Genomes:         genomes,
	}, nil
}

// AdvanceGeneration evaluates population and breeds the next generation
// using a throwaway engine for cfg.
func AdvanceGeneration(ctx context.Context, population model.Population, fitness FitnessFunc, cfg Config) (model.Population, model.GenerationSummary, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return model.Population{}, model.GenerationSummary{}, err
	}
	return e.AdvanceGeneration(ctx, population, fitness)
}

// AdvanceGeneration evaluates population, carries the best genome over
// unmodified when elitism is enabled, and fills the remaining slots with
// tournament-selected crossover children that are then perturbed. The output
// population has the same size as the input.
func (e *Engine) AdvanceGeneration(ctx context.Context, population model.Population, fitness FitnessFunc) (model.Population, model.GenerationSummary, error) {
	if err := e.validatePopulation(population); err != nil {
		return model.Population{}, model.GenerationSummary{}, err
	}
	step, err := e.advance(ctx, population, fitness, genomeIDs(population))
	if err != nil {
		return model.Population{}, model.GenerationSummary{}, err
	}
	if err := e.validatePopulation(step.next); err != nil {
		return model.Population{}, model.GenerationSummary{}, fmt.Errorf("breed generation %d: %w", step.next.Generation, err)
	}
	return step.next, step.summary, nil
}

// Run drives Config.Generations transitions from initial. The best genome is
// the highest-scoring genome of any evaluated generation, ties broken by the
// earlier generation and then the lower id.
func (e *Engine) Run(ctx context.Context, initial model.Population, fitness FitnessFunc) (RunResult, error) {
	if err := e.cfg.ValidateRun(); err != nil {
		return RunResult{}, err
	}
	if err := e.validatePopulation(initial); err != nil {
		return RunResult{}, err
	}

	result := RunResult{
		FinalPopulation: genotype.ClonePopulation(initial),
		BestFitness:     WorstScore,
		Lineage:         seedLineage(initial),
	}
	summaries := make([]model.GenerationSummary, 0, e.cfg.Generations)
	haveBest := false

	err := e.iterate(ctx, initial, fitness, func(step generationStep) bool {
		summaries = append(summaries, step.summary)
		result.Lineage = append(result.Lineage, step.lineage...)
		result.FinalPopulation = step.next
		best := step.best
		if !haveBest || step.summary.BestFitness > result.BestFitness {
			result.Best = best
			result.BestFitness = step.summary.BestFitness
			haveBest = true
		}
		return true
	})
	if err != nil {
		return RunResult{}, err
	}
	result.History = NewHistory(summaries)

	e.logger.Info("evolution finished",
		"run_id", e.runID,
		"generations", len(summaries),
		"best_genome", result.Best.ID,
		"best_fitness", result.BestFitness,
	)
	return result, nil
}

// Stream is the lazy form of Run. Each range over the returned sequence
// replays the run from initial, so it is restartable and always yields
// Config.Generations summaries unless an error is yielded.
func (e *Engine) Stream(ctx context.Context, initial model.Population, fitness FitnessFunc) iter.Seq2[model.GenerationSummary, error] {
	return func(yield func(model.GenerationSummary, error) bool) {
		if err := e.cfg.ValidateRun(); err != nil {
			yield(model.GenerationSummary{}, err)
			return
		}
		if err := e.validatePopulation(initial); err != nil {
			yield(model.GenerationSummary{}, err)
			return
		}
		stopped := false
		err := e.iterate(ctx, initial, fitness, func(step generationStep) bool {
			if !yield(step.summary, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(model.GenerationSummary{}, err)
		}
	}
}

type generationStep struct {
	next    model.Population
	summary model.GenerationSummary
	best    model.Genome
	lineage []model.LineageRecord
}

// iterate advances initial Config.Generations times. Every id handed out
// during the run is remembered so children never reuse an earlier genome's id.
func (e *Engine) iterate(ctx context.Context, initial model.Population, fitness FitnessFunc, visit func(generationStep) bool) error {
	population := genotype.ClonePopulation(initial)
	used := genomeIDs(initial)
	for gen := 0; gen < e.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		step, err := e.advance(ctx, population, fitness, used)
		if err != nil {
			return err
		}
		if err := e.validatePopulation(step.next); err != nil {
			return fmt.Errorf("breed generation %d: %w", step.next.Generation, err)
		}
		if !visit(step) {
			return nil
		}
		population = step.next
	}
	return nil
}

// advance breeds the successor of population. Child ids take the form
// g<generation>-i<slot>; a slot whose id is already in used is skipped, and
// every new id is added to used.
func (e *Engine) advance(ctx context.Context, population model.Population, fitness FitnessFunc, used map[string]struct{}) (generationStep, error) {
	rng := nn.NewRand(nn.DeriveSeed(e.cfg.Seed, population.Generation))

	record := Evaluate(ctx, population, fitness, e.cfg.workers())
	if err := ctx.Err(); err != nil {
		return generationStep{}, err
	}
	for _, id := range record.FailedIDs() {
		e.logger.Warn("fitness evaluation failed",
			"generation", population.Generation,
			"genome_id", id,
			"error", record.Errors[id],
		)
	}

	summary := Summarize(genotype.ClonePopulation(population), record)
	best, _ := Best(population, record)

	nextGeneration := population.Generation + 1
	next := model.Population{
		VersionedRecord: model.CurrentVersion(),
		ID:              genotype.PopulationID(e.runID, nextGeneration),
		Generation:      nextGeneration,
		Genomes:         make([]model.Genome, 0, len(population.Genomes)),
	}
	lineage := make([]model.LineageRecord, 0, len(population.Genomes))

	// The elite keeps its id and already has a lineage record.
	if e.cfg.Elitism {
		next.Genomes = append(next.Genomes, genotype.CloneGenome(best))
	}

	childIndex := 0
	for len(next.Genomes) < len(population.Genomes) {
		parents, err := e.selector.Select(rng, population, record, 2)
		if err != nil {
			return generationStep{}, err
		}
		id := genotype.GenomeID(nextGeneration, childIndex)
		for isUsed(used, id) {
			childIndex++
			id = genotype.GenomeID(nextGeneration, childIndex)
		}
		used[id] = struct{}{}
		child, err := Crossover(rng, parents[0], parents[1], e.cfg.CrossoverRate, id)
		if err != nil {
			return generationStep{}, err
		}
		child.Traits = perturbTraits(rng, child.Traits, e.cfg.MutationRate, e.cfg.MutationSigma)
		next.Genomes = append(next.Genomes, child)
		lineage = append(lineage, model.LineageRecord{
			VersionedRecord: model.CurrentVersion(),
			GenomeID:        child.ID,
			ParentIDs:       append([]string(nil), child.Lineage...),
			Generation:      nextGeneration,
			Operation:       OperationCrossover + "+" + OperationMutate,
		})
		childIndex++
	}

	e.logger.Debug("generation evaluated",
		"run_id", e.runID,
		"generation", population.Generation,
		"best_genome", summary.BestGenomeID,
		"best_fitness", summary.BestFitness,
		"mean_fitness", summary.MeanFitness,
		"failures", summary.Failures,
	)
	for _, observer := range e.observers {
		observer.ObserveGeneration(ctx, summary)
	}

	return generationStep{
		next:    next,
		summary: summary,
		best:    genotype.CloneGenome(best),
		lineage: lineage,
	}, nil
}

func (e *Engine) validatePopulation(population model.Population) error {
	if len(population.Genomes) != e.cfg.PopulationSize {
		return fmt.Errorf("%w: population has %d genomes, config wants %d", ErrInvalidConfig, len(population.Genomes), e.cfg.PopulationSize)
	}
	if err := genotype.ValidatePopulation(population); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func genomeIDs(population model.Population) map[string]struct{} {
	ids := make(map[string]struct{}, len(population.Genomes))
	for _, g := range population.Genomes {
		ids[g.ID] = struct{}{}
	}
	return ids
}

func isUsed(ids map[string]struct{}, id string) bool {
	_, ok := ids[id]
	return ok
}

func seedLineage(population model.Population) []model.LineageRecord {
	out := make([]model.LineageRecord, 0, len(population.Genomes))
	for _, g := range population.Genomes {
		op := OperationSeed
		switch len(g.Lineage) {
		case 1:
			op = OperationMutate
		case 2:
			op = OperationCrossover
		}
		out = append(out, model.LineageRecord{
			VersionedRecord: model.CurrentVersion(),
			GenomeID:        g.ID,
			ParentIDs:       append([]string(nil), g.Lineage...),
			Generation:      g.Generation,
			Operation:       op,
		})
	}
	return out
}
