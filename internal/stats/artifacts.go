package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"allele/internal/model"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	historyFile    = "history.csv"
	populationFile = "population.json"
	topGenomesFile = "top_genomes.json"
	lineageFile    = "lineage.json"
)

var historyHeader = []string{"generation", "best_fitness", "mean_fitness", "min_fitness", "failures", "best_genome_id"}

var ErrRunIDRequired = errors.New("run id is required")

type RunConfig struct {
	RunID     string                  `json:"run_id"`
	Fitness   string                  `json:"fitness"`
	Store     string                  `json:"store,omitempty"`
	Settings  model.EvolutionSettings `json:"settings"`
	CreatedAt string                  `json:"created_at_utc"`
}

type TopGenome struct {
	Rank    int          `json:"rank"`
	Fitness float64      `json:"fitness"`
	Genome  model.Genome `json:"genome"`
}

// RunArtifacts is everything written to a run directory.
type RunArtifacts struct {
	Config           RunConfig
	Summaries        []model.GenerationSummary
	FinalPopulation  model.Population
	FinalBestFitness float64
	TopGenomes       []TopGenome
	Lineage          []model.LineageRecord
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Fitness          string  `json:"fitness"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	Elitism          bool    `json:"elitism"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// HistoryRow is one line of history.csv.
type HistoryRow struct {
	Generation   int
	BestFitness  float64
	MeanFitness  float64
	MinFitness   float64
	Failures     int
	BestGenomeID string
}

// FormatTime renders timestamps the way the index and config files store them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// IndexEntry builds the run index line for a finished run.
func IndexEntry(cfg RunConfig, finalBest float64) RunIndexEntry {
	return RunIndexEntry{
		RunID:            cfg.RunID,
		Fitness:          cfg.Fitness,
		PopulationSize:   cfg.Settings.PopulationSize,
		Generations:      cfg.Settings.Generations,
		Seed:             cfg.Settings.Seed,
		Workers:          cfg.Settings.Workers,
		Elitism:          cfg.Settings.Elitism,
		FinalBestFitness: finalBest,
		CreatedAtUTC:     cfg.CreatedAt,
	}
}

// TopGenomes ranks each generation's best genome by score. A genome that was
// best in several generations (an elite) is listed once, with its first score.
func TopGenomes(summaries []model.GenerationSummary, limit int) []TopGenome {
	seen := make(map[string]struct{}, len(summaries))
	top := make([]TopGenome, 0, len(summaries))
	for _, summary := range summaries {
		if _, ok := seen[summary.BestGenomeID]; ok {
			continue
		}
		for _, genome := range summary.Population.Genomes {
			if genome.ID == summary.BestGenomeID {
				seen[genome.ID] = struct{}{}
				top = append(top, TopGenome{Fitness: summary.BestFitness, Genome: genome})
				break
			}
		}
	}
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Fitness > top[j].Fitness
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	for i := range top {
		top[i].Rank = i + 1
	}
	return top
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", ErrRunIDRequired
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := WriteHistory(runDir, artifacts.Summaries); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, populationFile), artifacts.FinalPopulation); err != nil {
		return "", err
	}
	top := artifacts.TopGenomes
	if top == nil {
		top = []TopGenome{}
	}
	if err := writeJSON(filepath.Join(runDir, topGenomesFile), top); err != nil {
		return "", err
	}
	lineage := artifacts.Lineage
	if lineage == nil {
		lineage = []model.LineageRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, lineageFile), lineage); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return ErrRunIDRequired
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first. Entries with equal
// timestamps keep the later-appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory's files to outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", ErrRunIDRequired
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, historyFile, populationFile, topGenomesFile, lineageFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ErrRunIDRequired
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = runID
	}
	if cfg.RunID != runID {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, runID)
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadTopGenomes(baseDir, runID string) ([]TopGenome, bool, error) {
	var top []TopGenome
	ok, err := readJSON(filepath.Join(baseDir, runID, topGenomesFile), &top)
	return top, ok, err
}

func ReadPopulation(baseDir, runID string) (model.Population, bool, error) {
	var population model.Population
	ok, err := readJSON(filepath.Join(baseDir, runID, populationFile), &population)
	return population, ok, err
}

// WriteHistory writes one CSV row per generation summary.
func WriteHistory(runDir string, summaries []model.GenerationSummary) error {
	file, err := os.Create(filepath.Join(runDir, historyFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(historyHeader); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := writer.Write([]string{
			strconv.Itoa(s.Generation),
			formatFloat(s.BestFitness),
			formatFloat(s.MeanFitness),
			formatFloat(s.MinFitness),
			strconv.Itoa(s.Failures),
			s.BestGenomeID,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func ReadHistory(baseDir, runID string) ([]HistoryRow, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(historyHeader)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []HistoryRow{}, true, nil
		}
		return nil, false, err
	}

	rows := make([]HistoryRow, 0, 32)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		row, err := parseHistoryRow(record)
		if err != nil {
			return nil, false, err
		}
		rows = append(rows, row)
	}
	return rows, true, nil
}

func parseHistoryRow(record []string) (HistoryRow, error) {
	var (
		row HistoryRow
		err error
	)
	if row.Generation, err = strconv.Atoi(record[0]); err != nil {
		return HistoryRow{}, fmt.Errorf("history generation: %w", err)
	}
	floats := []*float64{&row.BestFitness, &row.MeanFitness, &row.MinFitness}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(record[i+1], 64); err != nil {
			return HistoryRow{}, fmt.Errorf("history %s: %w", historyHeader[i+1], err)
		}
	}
	if row.Failures, err = strconv.Atoi(record[4]); err != nil {
		return HistoryRow{}, fmt.Errorf("history failures: %w", err)
	}
	row.BestGenomeID = record[5]
	return row, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
