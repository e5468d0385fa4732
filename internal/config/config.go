// Package config loads allele settings in three layers: built-in defaults, then
// an optional TOML or YAML file chosen by extension, then environment
// variables of the form ALLELE_<SECTION>__<KEY>. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"allele/internal/evo"
	"allele/internal/reservoir"
	"allele/internal/storage"
	"allele/internal/telemetry"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "ALLELE_"

// envSeparator splits section from key, e.g. ALLELE_STORAGE__KIND.
const envSeparator = "__"

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalidValue      = errors.New("invalid config value")
)

type Config struct {
	Evolution EvolutionConfig  `toml:"evolution" yaml:"evolution" json:"evolution"`
	Reservoir ReservoirConfig  `toml:"reservoir" yaml:"reservoir" json:"reservoir"`
	Storage   StorageConfig    `toml:"storage" yaml:"storage" json:"storage"`
	Log       LogConfig        `toml:"log" yaml:"log" json:"log"`
	Telemetry telemetry.Config `toml:"telemetry" yaml:"telemetry" json:"telemetry"`
}

type EvolutionConfig struct {
	Fitness        string  `toml:"fitness" yaml:"fitness" json:"fitness"`
	PopulationSize int     `toml:"population_size" yaml:"population_size" json:"population_size"`
	TournamentSize int     `toml:"tournament_size" yaml:"tournament_size" json:"tournament_size"`
	CrossoverRate  float64 `toml:"crossover_rate" yaml:"crossover_rate" json:"crossover_rate"`
	MutationRate   float64 `toml:"mutation_rate" yaml:"mutation_rate" json:"mutation_rate"`
	MutationSigma  float64 `toml:"mutation_sigma" yaml:"mutation_sigma" json:"mutation_sigma"`
	Elitism        bool    `toml:"elitism" yaml:"elitism" json:"elitism"`
	Generations    int     `toml:"generations" yaml:"generations" json:"generations"`
	Seed           int64   `toml:"seed" yaml:"seed" json:"seed"`
	Workers        int     `toml:"workers" yaml:"workers" json:"workers"`
}

// ReservoirConfig holds the defaults used when a Kraken unit is built from a
// stored genome.
type ReservoirConfig struct {
	InputDimension int     `toml:"input_dimension" yaml:"input_dimension" json:"input_dimension"`
	Seed           int64   `toml:"seed" yaml:"seed" json:"seed"`
	LearningRate   float64 `toml:"learning_rate" yaml:"learning_rate" json:"learning_rate"`
	NoiseAmplitude float64 `toml:"noise_amplitude" yaml:"noise_amplitude" json:"noise_amplitude"`
	NoiseSeed      int64   `toml:"noise_seed" yaml:"noise_seed" json:"noise_seed"`
}

func (c ReservoirConfig) Adaptation() reservoir.Adaptation {
	return reservoir.Adaptation{
		LearningRate:   c.LearningRate,
		NoiseAmplitude: c.NoiseAmplitude,
		NoiseSeed:      c.NoiseSeed,
	}
}

type StorageConfig struct {
	Kind         string `toml:"kind" yaml:"kind" json:"kind"`
	Path         string `toml:"path" yaml:"path" json:"path"`
	DSN          string `toml:"dsn" yaml:"dsn" json:"dsn"`
	ArtifactsDir string `toml:"artifacts_dir" yaml:"artifacts_dir" json:"artifacts_dir"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	engine := evo.DefaultConfig()
	return Config{
		Evolution: EvolutionConfig{
			Fitness:        "profile",
			PopulationSize: engine.PopulationSize,
			TournamentSize: engine.TournamentSize,
			CrossoverRate:  engine.CrossoverRate,
			MutationRate:   engine.MutationRate,
			MutationSigma:  engine.MutationSigma,
			Elitism:        engine.Elitism,
			Generations:    engine.Generations,
			Seed:           engine.Seed,
			Workers:        engine.Workers,
		},
		Reservoir: ReservoirConfig{
			InputDimension: reservoir.DefaultInputDimension,
			Seed:           1,
		},
		Storage: StorageConfig{
			Kind:         storage.DefaultStoreKind,
			Path:         "allele.db",
			ArtifactsDir: "runs",
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Engine converts the evolution section into an engine config.
func (c EvolutionConfig) Engine() evo.Config {
	return evo.Config{
		PopulationSize: c.PopulationSize,
		TournamentSize: c.TournamentSize,
		CrossoverRate:  c.CrossoverRate,
		MutationRate:   c.MutationRate,
		MutationSigma:  c.MutationSigma,
		Elitism:        c.Elitism,
		Generations:    c.Generations,
		Seed:           c.Seed,
		Workers:        c.Workers,
	}
}

// StoreTarget is the sqlite path or postgres DSN for the configured kind.
func (c StorageConfig) StoreTarget() string {
	if c.Kind == "postgres" {
		return c.DSN
	}
	return c.Path
}

// Load reads config: defaults -> file -> environment. An empty path skips
// the file layer; a missing named file is an error.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

// applyEnv walks every section field by its toml key and overrides it from
// ALLELE_<SECTION>__<KEY> when set.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	root := reflect.ValueOf(cfg).Elem()
	rootType := root.Type()
	for i := 0; i < root.NumField(); i++ {
		section := root.Field(i)
		sectionName := tagName(rootType.Field(i))
		sectionType := section.Type()
		for j := 0; j < section.NumField(); j++ {
			key := tagName(sectionType.Field(j))
			name := EnvPrefix + strings.ToUpper(sectionName) + envSeparator + strings.ToUpper(key)
			raw, ok := lookup(name)
			if !ok {
				continue
			}
			if err := setField(section.Field(j), raw); err != nil {
				return fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, name, raw, err)
			}
		}
	}
	return nil
}

func tagName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(field.Name)
	}
	return name
}

func setField(field reflect.Value, raw string) error {
	raw = strings.TrimSpace(raw)
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.Int, reflect.Int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(v)
	case reflect.Float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(v)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
