package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"allele/internal/config"
	"allele/internal/model"
	"allele/internal/reservoir"
	"allele/internal/telemetry"
	"allele/pkg/allele"
)

func runInit(ctx context.Context, args []string) error {
	fs := newFlagSet("init")
	flags := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withClient(ctx, flags, func(_ *allele.Client, cfg config.Config) error {
		fmt.Fprintf(stdout, "initialized store=%s\n", cfg.Storage.Kind)
		return nil
	})
}

func runEvolve(ctx context.Context, args []string) error {
	fs := newFlagSet("evolve")
	flags := addStoreFlags(fs)
	defaults := config.Default().Evolution
	runID := fs.String("run-id", "", "run id (default: generated UUIDv7)")
	fitnessName := fs.String("fitness", defaults.Fitness, "fitness function name, or trait:<name>")
	pop := fs.Int("pop", defaults.PopulationSize, "population size")
	gens := fs.Int("gens", defaults.Generations, "generations")
	tournament := fs.Int("tournament", defaults.TournamentSize, "tournament size")
	crossover := fs.Float64("crossover-rate", defaults.CrossoverRate, "per-trait blend probability")
	mutation := fs.Float64("mutation-rate", defaults.MutationRate, "per-trait mutation probability")
	sigma := fs.Float64("mutation-sigma", defaults.MutationSigma, "mutation noise standard deviation")
	elitism := fs.Bool("elitism", defaults.Elitism, "carry the best genome into the next generation")
	seed := fs.Int64("seed", defaults.Seed, "random seed")
	workers := fs.Int("workers", defaults.Workers, "concurrent fitness evaluations")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	evolution := cfg.Evolution
	overrides := []struct {
		name  string
		apply func()
	}{
		{"fitness", func() { evolution.Fitness = *fitnessName }},
		{"pop", func() { evolution.PopulationSize = *pop }},
		{"gens", func() { evolution.Generations = *gens }},
		{"tournament", func() { evolution.TournamentSize = *tournament }},
		{"crossover-rate", func() { evolution.CrossoverRate = *crossover }},
		{"mutation-rate", func() { evolution.MutationRate = *mutation }},
		{"mutation-sigma", func() { evolution.MutationSigma = *sigma }},
		{"elitism", func() { evolution.Elitism = *elitism }},
		{"seed", func() { evolution.Seed = *seed }},
		{"workers", func() { evolution.Workers = *workers }},
	}
	for _, o := range overrides {
		if fs.Changed(o.name) {
			o.apply()
		}
	}

	inst, shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	client, err := openClient(cfg, inst)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	engineCfg := evolution.Engine()
	summary, err := client.Evolve(ctx, allele.EvolveRequest{
		RunID:   *runID,
		Fitness: evolution.Fitness,
		Config:  &engineCfg,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		return writeJSON(map[string]any{
			"run_id":              summary.RunID,
			"artifacts_dir":       summary.ArtifactsDir,
			"best_genome":         summary.Best,
			"best_fitness":        summary.BestFitness,
			"best_by_generation":  summary.BestByGeneration,
			"mean_by_generation":  summary.MeanByGeneration,
			"failures":            summary.Failures,
			"final_population_id": summary.FinalPopulationID,
		})
	}
	fmt.Fprintf(stdout, "run_id=%s best_genome_id=%s best_fitness=%.6f failures=%d final_population_id=%s artifacts=%s\n",
		summary.RunID,
		summary.Best.ID,
		summary.BestFitness,
		summary.Failures,
		summary.FinalPopulationID,
		summary.ArtifactsDir,
	)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := newFlagSet("runs")
	flags := addStoreFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list (0 for all)")
	jsonOut := fs.Bool("json", false, "emit runs as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return errors.New("limit must be >= 0")
	}
	return withClient(ctx, flags, func(client *allele.Client, _ config.Config) error {
		runs, err := client.Runs(ctx, allele.RunsRequest{Limit: *limit})
		if err != nil {
			return err
		}
		if *jsonOut {
			return writeJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(stdout, "no runs found")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintf(stdout, "run_id=%s created_at=%s fitness=%s gens=%d best_genome_id=%s best_fitness=%.6f\n",
				r.RunID,
				r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				r.Fitness,
				r.Generations,
				r.BestGenomeID,
				r.BestFitness,
			)
		}
		return nil
	})
}

func runPopulation(ctx context.Context, args []string) error {
	fs := newFlagSet("population")
	flags := addStoreFlags(fs)
	id := fs.String("id", "", "population id")
	runID := fs.String("run-id", "", "show the final population of this run")
	jsonOut := fs.Bool("json", false, "emit population as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*id == "") == (*runID == "") {
		return errors.New("population requires exactly one of --id or --run-id")
	}
	return withClient(ctx, flags, func(client *allele.Client, _ config.Config) error {
		var (
			population model.Population
			err        error
		)
		if *runID != "" {
			var record model.RunRecord
			record, err = client.Run(ctx, *runID)
			population = record.FinalPopulation
		} else {
			population, err = client.Population(ctx, *id)
		}
		if err != nil {
			return err
		}
		if *jsonOut {
			return writeJSON(population)
		}
		fmt.Fprintf(stdout, "population_id=%s generation=%d size=%d\n", population.ID, population.Generation, len(population.Genomes))
		for _, g := range population.Genomes {
			fmt.Fprintf(stdout, "genome_id=%s generation=%d traits=%s\n", g.ID, g.Generation, formatTraits(g.Traits))
		}
		return nil
	})
}

func runLineage(ctx context.Context, args []string) error {
	fs := newFlagSet("lineage")
	flags := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show lineage for the most recent run")
	limit := fs.Int("limit", 50, "max lineage rows to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit lineage rows as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("lineage requires --run-id or --latest")
	}
	return withClient(ctx, flags, func(client *allele.Client, _ config.Config) error {
		lineage, err := client.Lineage(ctx, allele.LineageRequest{RunID: *runID, Latest: *latest, Limit: *limit})
		if err != nil {
			return err
		}
		if *jsonOut {
			return writeJSON(lineage)
		}
		if len(lineage) == 0 {
			fmt.Fprintln(stdout, "no lineage records")
			return nil
		}
		for _, rec := range lineage {
			fmt.Fprintf(stdout, "gen=%d genome_id=%s parents=%s op=%s\n",
				rec.Generation,
				rec.GenomeID,
				strings.Join(rec.ParentIDs, ","),
				rec.Operation,
			)
		}
		return nil
	})
}

func runExport(ctx context.Context, args []string) error {
	fs := newFlagSet("export")
	flags := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	out := fs.String("out", "", "archive file, or directory with --artifacts")
	artifacts := fs.Bool("artifacts", false, "copy the run's artifact directory instead of writing an archive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	return withClient(ctx, flags, func(client *allele.Client, _ config.Config) error {
		if *artifacts {
			summary, err := client.ExportArtifacts(ctx, allele.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *out})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
			return nil
		}

		id := *runID
		if *latest {
			runs, err := client.Runs(ctx, allele.RunsRequest{Limit: 1})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return allele.ErrNoRuns
			}
			id = runs[0].RunID
		}
		path := *out
		if path == "" {
			path = id + ".allele"
		}
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := client.Export(ctx, id, file); err != nil {
			_ = file.Close()
			_ = os.Remove(path)
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", id, path)
		return nil
	})
}

func runImport(ctx context.Context, args []string) error {
	fs := newFlagSet("import")
	flags := addStoreFlags(fs)
	in := fs.String("in", "", "archive file written by export (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("import requires --in")
	}
	return withClient(ctx, flags, func(client *allele.Client, _ config.Config) error {
		r, closeInput, err := openInput(*in)
		if err != nil {
			return err
		}
		defer closeInput()
		record, err := client.Import(ctx, r)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "imported run_id=%s generations=%d best_genome_id=%s\n", record.RunID, len(record.Summaries), record.Best.ID)
		return nil
	})
}

// runReservoir feeds newline-delimited JSON vectors through a unit built from
// a genome of a stored run and prints the resulting memory vector.
func runReservoir(ctx context.Context, args []string) error {
	fs := newFlagSet("reservoir")
	flags := addStoreFlags(fs)
	runID := fs.String("run-id", "", "run whose genome configures the reservoir")
	latest := fs.Bool("latest", false, "use the most recent run")
	genomeID := fs.String("genome-id", "", "genome within the run (default: the run's best genome)")
	in := fs.String("in", "-", "file of JSON number arrays, one per line (- for stdin)")
	seed := fs.Int64("seed", config.Default().Reservoir.Seed, "reservoir wiring seed")
	learningRate := fs.Float64("learning-rate", 0, "online readout learning rate (0 disables)")
	noise := fs.Float64("noise", 0, "standard deviation of drive noise (0 disables)")
	noiseSeed := fs.Int64("noise-seed", 0, "seed of the drive noise stream")
	jsonOut := fs.Bool("json", false, "emit the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("reservoir requires --run-id or --latest")
	}
	return withClient(ctx, flags, func(client *allele.Client, cfg config.Config) error {
		if !fs.Changed("seed") {
			*seed = cfg.Reservoir.Seed
		}
		adapt := cfg.Reservoir.Adaptation()
		if fs.Changed("learning-rate") {
			adapt.LearningRate = *learningRate
		}
		if fs.Changed("noise") {
			adapt.NoiseAmplitude = *noise
		}
		if fs.Changed("noise-seed") {
			adapt.NoiseSeed = *noiseSeed
		}
		r, closeInput, err := openInput(*in)
		if err != nil {
			return err
		}
		defer closeInput()
		inputs, err := readVectors(r)
		if err != nil {
			return err
		}
		result, err := client.Process(ctx, allele.ProcessRequest{
			GenomeRequest: allele.GenomeRequest{RunID: *runID, Latest: *latest, GenomeID: *genomeID},
			Seed:          *seed,
			Inputs:        inputs,
			Adaptation:    adapt,
		})
		if err != nil {
			return err
		}
		if *jsonOut {
			return writeJSON(result)
		}
		fmt.Fprintf(stdout, "steps=%d consolidated=%d memory=%s\n", result.StepCount, result.Consolidated, formatVector(result.Memory))
		return nil
	})
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

func readVectors(r io.Reader) ([][]float64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var vectors [][]float64
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var v []float64
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", reservoir.ErrInvalidInput, line, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, scanner.Err()
}

func formatTraits(v model.TraitVector) string {
	parts := make([]string, 0, len(v))
	for i, name := range model.TraitNames() {
		parts = append(parts, fmt.Sprintf("%s:%.3f", name, v[i]))
	}
	return strings.Join(parts, ",")
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.6f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
