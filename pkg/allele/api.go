// Package allele is the public entry point: it evolves trait genomes with a
// named fitness function, checkpoints every run to a store, writes run
// artifacts, and builds reservoir units from stored genomes.
package allele

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"allele/internal/evo"
	"allele/internal/fitness"
	"allele/internal/model"
	"allele/internal/reservoir"
	"allele/internal/stats"
	"allele/internal/storage"
	"allele/internal/telemetry"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "allele.db"
	defaultFitness      = "profile"
	topGenomesLimit     = 10
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNoRuns      = errors.New("no runs available")
	ErrRunSelector = errors.New("use either run id or latest")
)

type Options struct {
	StoreKind string
	// DBPath is the sqlite file, or the DSN when StoreKind is "postgres".
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
	Telemetry    *telemetry.Instruments
	// Store overrides StoreKind/DBPath. The client does not close it.
	Store storage.Store
}

type Client struct {
	store     storage.Store
	ownsStore bool
	logger    *slog.Logger
	inst      *telemetry.Instruments

	artifactsDir string
	exportsDir   string

	initOnce sync.Once
	initErr  error
}

type EvolveRequest struct {
	// RunID defaults to a fresh UUIDv7.
	RunID string
	// Fitness names a registered fitness function or "trait:<name>".
	Fitness string
	// FitnessFunc, when set, is used instead of Fitness. Fitness is then only
	// recorded as a label.
	FitnessFunc evo.FitnessFunc
	// Config defaults to evo.DefaultConfig.
	Config *evo.Config
	// Initial defaults to a random population drawn from Config.Seed.
	Initial *model.Population
}

type RunSummary struct {
	RunID             string
	ArtifactsDir      string
	Best              model.Genome
	BestFitness       float64
	BestByGeneration  []float64
	MeanByGeneration  []float64
	Failures          int
	FinalPopulationID string
}

type RunsRequest struct {
	Limit int
}

type LineageRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

// GenomeRequest selects a genome within one run. Genome ids are only unique
// inside a run.
type GenomeRequest struct {
	RunID  string
	Latest bool
	// GenomeID defaults to the run's best genome.
	GenomeID string
}

type ProcessRequest struct {
	GenomeRequest
	Seed   int64
	Inputs [][]float64
	// Adaptation defaults to none.
	Adaptation reservoir.Adaptation
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	c := &Client{
		store:        opts.Store,
		logger:       opts.Logger,
		inst:         opts.Telemetry,
		artifactsDir: opts.ArtifactsDir,
		exportsDir:   opts.ExportsDir,
	}
	if c.artifactsDir == "" {
		c.artifactsDir = defaultArtifactsDir
	}
	if c.exportsDir == "" {
		c.exportsDir = defaultExportsDir
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.inst == nil {
		c.inst = telemetry.Noop()
	}
	if c.store == nil {
		dbPath := opts.DBPath
		if dbPath == "" && opts.StoreKind != "postgres" {
			dbPath = defaultDBPath
		}
		store, err := storage.NewStore(opts.StoreKind, dbPath)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.ownsStore = true
	}
	return c, nil
}

func (c *Client) Close() error {
	if !c.ownsStore {
		return nil
	}
	return storage.CloseIfSupported(c.store)
}

// Init prepares the store. Every other method calls it on first use.
func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// Evolve runs the engine to completion, then persists the run record, final
// population, best genome and lineage, and writes the run artifacts.
func (c *Client) Evolve(ctx context.Context, req EvolveRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	cfg := evo.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	if req.Fitness == "" {
		req.Fitness = defaultFitness
	}
	fitnessFn := req.FitnessFunc
	if fitnessFn == nil {
		fn, err := fitness.Resolve(req.Fitness)
		if err != nil {
			return RunSummary{}, err
		}
		fitnessFn = fn
	}
	runID := req.RunID
	if runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return RunSummary{}, fmt.Errorf("generate run id: %w", err)
		}
		runID = id.String()
	}

	var initial model.Population
	if req.Initial != nil {
		initial = *req.Initial
	} else {
		pop, err := evo.InitializePopulation(cfg.PopulationSize, cfg.Seed)
		if err != nil {
			return RunSummary{}, err
		}
		initial = pop
	}

	logger := c.logger.With(slog.String("run_id", runID))
	engine, err := evo.NewEngine(cfg,
		evo.WithLogger(logger),
		evo.WithRunID(runID),
		evo.WithObserver(telemetry.NewGenerationObserver(c.inst, runID)),
	)
	if err != nil {
		return RunSummary{}, err
	}

	createdAt := time.Now().UTC()
	runCtx, finish := c.inst.StartRun(ctx, runID, req.Fitness)
	result, err := engine.Run(runCtx, initial, fitnessFn)
	finish(err)
	if err != nil {
		return RunSummary{}, err
	}

	run := model.RunRecord{
		VersionedRecord: model.CurrentVersion(),
		RunID:           runID,
		CreatedAt:       createdAt,
		Fitness:         req.Fitness,
		Settings:        cfg.Settings(),
		Summaries:       result.History.Summaries(),
		FinalPopulation: result.FinalPopulation,
		Best:            result.Best,
		BestFitness:     result.BestFitness,
	}
	if err := c.persist(ctx, run, result.Lineage); err != nil {
		return RunSummary{}, err
	}
	runDir, err := c.writeArtifacts(run, result.Lineage)
	if err != nil {
		return RunSummary{}, err
	}

	failures := 0
	for _, n := range result.History.Failures() {
		failures += n
	}
	logger.Info("run persisted",
		slog.String("fitness", req.Fitness),
		slog.Int("generations", result.History.Len()),
		slog.String("best_genome_id", result.Best.ID),
		slog.Float64("best_fitness", result.BestFitness),
		slog.Int("failures", failures),
	)

	return RunSummary{
		RunID:             runID,
		ArtifactsDir:      filepath.Clean(runDir),
		Best:              result.Best,
		BestFitness:       result.BestFitness,
		BestByGeneration:  result.History.BestScores(),
		MeanByGeneration:  result.History.MeanScores(),
		Failures:          failures,
		FinalPopulationID: result.FinalPopulation.ID,
	}, nil
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]storage.RunInfo, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]storage.RunInfo, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) Run(ctx context.Context, runID string) (model.RunRecord, error) {
	if err := c.Init(ctx); err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, nil
}

func (c *Client) Population(ctx context.Context, populationID string) (model.Population, error) {
	if err := c.Init(ctx); err != nil {
		return model.Population{}, err
	}
	population, ok, err := c.store.GetPopulation(ctx, populationID)
	if err != nil {
		return model.Population{}, err
	}
	if !ok {
		return model.Population{}, fmt.Errorf("population %s: %w", populationID, ErrNotFound)
	}
	return population, nil
}

// Genome resolves a genome of a run: the stored best genome first, then the
// run's final population and generation snapshots.
func (c *Client) Genome(ctx context.Context, req GenomeRequest) (model.Genome, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return model.Genome{}, err
	}
	if req.GenomeID != "" {
		genome, ok, err := c.store.GetGenome(ctx, runID, req.GenomeID)
		if err != nil {
			return model.Genome{}, err
		}
		if ok {
			return genome, nil
		}
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.Genome{}, err
	}
	if !ok {
		return model.Genome{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if req.GenomeID == "" {
		return run.Best, nil
	}
	if genome, ok := findGenome(run.FinalPopulation, req.GenomeID); ok {
		return genome, nil
	}
	for _, summary := range run.Summaries {
		if genome, ok := findGenome(summary.Population, req.GenomeID); ok {
			return genome, nil
		}
	}
	return model.Genome{}, fmt.Errorf("genome %s in run %s: %w", req.GenomeID, runID, ErrNotFound)
}

func findGenome(population model.Population, id string) (model.Genome, bool) {
	for _, genome := range population.Genomes {
		if genome.ID == id {
			return genome, true
		}
	}
	return model.Genome{}, false
}

func (c *Client) Lineage(ctx context.Context, req LineageRequest) ([]model.LineageRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage for run %s: %w", runID, ErrNotFound)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	return lineage, nil
}

// Export writes a compressed archive of one run to w.
func (c *Client) Export(ctx context.Context, runID string, w io.Writer) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	return storage.ExportRun(ctx, c.store, runID, w)
}

// Import loads an archive written by Export into the store and regenerates
// the run's artifacts.
func (c *Client) Import(ctx context.Context, r io.Reader) (model.RunRecord, error) {
	if err := c.Init(ctx); err != nil {
		return model.RunRecord{}, err
	}
	run, err := storage.ImportRun(ctx, c.store, r)
	if err != nil {
		return model.RunRecord{}, err
	}
	lineage, _, err := c.store.GetLineage(ctx, run.RunID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if _, err := c.writeArtifacts(run, lineage); err != nil {
		return model.RunRecord{}, err
	}
	c.logger.Info("run imported", slog.String("run_id", run.RunID))
	return run, nil
}

// ExportArtifacts copies a run's artifact directory under req.OutDir.
func (c *Client) ExportArtifacts(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	dir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}

// Reservoir builds a Kraken unit configured from a stored genome's traits.
func (c *Client) Reservoir(ctx context.Context, req GenomeRequest, inputDim int, seed int64) (*reservoir.Unit, error) {
	genome, err := c.Genome(ctx, req)
	if err != nil {
		return nil, err
	}
	return reservoir.NewUnit(genome.Traits, inputDim, seed)
}

// Process runs inputs through a fresh unit for the selected genome, sized to
// the first input, and consolidates its memory.
func (c *Client) Process(ctx context.Context, req ProcessRequest) (reservoir.Result, error) {
	if len(req.Inputs) == 0 {
		return reservoir.Result{}, fmt.Errorf("%w: no input vectors", reservoir.ErrInvalidInput)
	}
	unit, err := c.Reservoir(ctx, req.GenomeRequest, len(req.Inputs[0]), req.Seed)
	if err != nil {
		return reservoir.Result{}, err
	}
	if err := unit.Adapt(req.Adaptation); err != nil {
		return reservoir.Result{}, err
	}
	result, err := unit.Process(req.Inputs, true)
	if err != nil {
		return reservoir.Result{}, err
	}
	c.inst.RecordReservoirSteps(ctx, len(req.Inputs))
	return result, nil
}

func (c *Client) persist(ctx context.Context, run model.RunRecord, lineage []model.LineageRecord) error {
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SavePopulation(ctx, run.FinalPopulation); err != nil {
		return fmt.Errorf("save final population: %w", err)
	}
	if err := c.store.SaveGenome(ctx, run.RunID, run.Best); err != nil {
		return fmt.Errorf("save best genome: %w", err)
	}
	if err := c.store.SaveLineage(ctx, run.RunID, lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	return nil
}

func (c *Client) writeArtifacts(run model.RunRecord, lineage []model.LineageRecord) (string, error) {
	cfg := stats.RunConfig{
		RunID:     run.RunID,
		Fitness:   run.Fitness,
		Settings:  run.Settings,
		CreatedAt: stats.FormatTime(run.CreatedAt),
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config:           cfg,
		Summaries:        run.Summaries,
		FinalPopulation:  run.FinalPopulation,
		FinalBestFitness: run.BestFitness,
		TopGenomes:       stats.TopGenomes(run.Summaries, topGenomesLimit),
		Lineage:          lineage,
	})
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(cfg, run.BestFitness)); err != nil {
		return "", err
	}
	return runDir, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", ErrRunSelector
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if !latest {
		if runID == "" {
			return "", errors.New("run id or latest is required")
		}
		return runID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNoRuns
	}
	return runs[len(runs)-1].RunID, nil
}
