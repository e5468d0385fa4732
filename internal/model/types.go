package model

import "time"

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// CurrentVersion returns the record version stamped on newly created values.
func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version" cbor:"schema_version"`
	CodecVersion  int `json:"codec_version" cbor:"codec_version"`
}

// Genome is a personality trait vector plus identity and lineage metadata.
// Genomes are treated as immutable values; operators return new genomes.
type Genome struct {
	VersionedRecord
	ID         string      `json:"id" cbor:"id"`
	Traits     TraitVector `json:"traits" cbor:"traits"`
	Generation int         `json:"generation" cbor:"generation"`
	Lineage    []string    `json:"lineage,omitempty" cbor:"lineage,omitempty"`
}

// Population is an ordered, fixed-size collection of genomes evolved together.
type Population struct {
	VersionedRecord
	ID         string   `json:"id" cbor:"id"`
	Generation int      `json:"generation" cbor:"generation"`
	Genomes    []Genome `json:"genomes" cbor:"genomes"`
}

// GenerationSummary describes one evaluated generation.
type GenerationSummary struct {
	Generation   int        `json:"generation" cbor:"generation"`
	BestFitness  float64    `json:"best_fitness" cbor:"best_fitness"`
	MeanFitness  float64    `json:"mean_fitness" cbor:"mean_fitness"`
	MinFitness   float64    `json:"min_fitness" cbor:"min_fitness"`
	BestGenomeID string     `json:"best_genome_id" cbor:"best_genome_id"`
	Failures     int        `json:"failures" cbor:"failures"`
	Population   Population `json:"population" cbor:"population"`
}

// LineageRecord is one reproduction edge set for a genome.
type LineageRecord struct {
	VersionedRecord
	GenomeID   string   `json:"genome_id" cbor:"genome_id"`
	ParentIDs  []string `json:"parent_ids,omitempty" cbor:"parent_ids,omitempty"`
	Generation int      `json:"generation" cbor:"generation"`
	Operation  string   `json:"operation" cbor:"operation"`
}

// EvolutionSettings mirrors the engine configuration persisted with a run.
type EvolutionSettings struct {
	PopulationSize int     `json:"population_size" cbor:"population_size"`
	TournamentSize int     `json:"tournament_size" cbor:"tournament_size"`
	CrossoverRate  float64 `json:"crossover_rate" cbor:"crossover_rate"`
	MutationRate   float64 `json:"mutation_rate" cbor:"mutation_rate"`
	MutationSigma  float64 `json:"mutation_sigma" cbor:"mutation_sigma"`
	Elitism        bool    `json:"elitism" cbor:"elitism"`
	Generations    int     `json:"generations" cbor:"generations"`
	Seed           int64   `json:"seed" cbor:"seed"`
	Workers        int     `json:"workers" cbor:"workers"`
}

// RunRecord is the checkpoint of a finished evolution run.
type RunRecord struct {
	VersionedRecord
	RunID           string              `json:"run_id" cbor:"run_id"`
	CreatedAt       time.Time           `json:"created_at" cbor:"created_at"`
	Fitness         string              `json:"fitness" cbor:"fitness"`
	Settings        EvolutionSettings   `json:"settings" cbor:"settings"`
	Summaries       []GenerationSummary `json:"summaries" cbor:"summaries"`
	FinalPopulation Population          `json:"final_population" cbor:"final_population"`
	Best            Genome              `json:"best" cbor:"best"`
	BestFitness     float64             `json:"best_fitness" cbor:"best_fitness"`
}
