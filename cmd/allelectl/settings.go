package main

import (
	"context"

	"github.com/spf13/pflag"

	"allele/internal/config"
	"allele/internal/telemetry"
	"allele/pkg/allele"
)

// storeFlags are shared by every command that opens a store. Only flags the
// user actually set override the loaded configuration.
type storeFlags struct {
	fs           *pflag.FlagSet
	configPath   string
	storeKind    string
	dbPath       string
	artifactsDir string
	logLevel     string
	logFormat    string
}

func addStoreFlags(fs *pflag.FlagSet) *storeFlags {
	f := &storeFlags{fs: fs}
	defaults := config.Default()
	fs.StringVar(&f.configPath, "config", "", "TOML or YAML config file")
	fs.StringVar(&f.storeKind, "store", defaults.Storage.Kind, "store backend: memory|sqlite|sqlite+cbor|postgres")
	fs.StringVar(&f.dbPath, "db-path", defaults.Storage.Path, "sqlite database path, or postgres DSN with --store postgres")
	fs.StringVar(&f.artifactsDir, "artifacts-dir", defaults.Storage.ArtifactsDir, "run artifacts directory")
	fs.StringVar(&f.logLevel, "log-level", defaults.Log.Level, "log level: debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", defaults.Log.Format, "log format: text|json")
	return f
}

func (f *storeFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.fs.Changed("store") {
		cfg.Storage.Kind = f.storeKind
	}
	if f.fs.Changed("db-path") {
		if cfg.Storage.Kind == "postgres" {
			cfg.Storage.DSN = f.dbPath
		} else {
			cfg.Storage.Path = f.dbPath
		}
	}
	if f.fs.Changed("artifacts-dir") {
		cfg.Storage.ArtifactsDir = f.artifactsDir
	}
	if f.fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if f.fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	return cfg, nil
}

func openClient(cfg config.Config, inst *telemetry.Instruments) (*allele.Client, error) {
	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return nil, err
	}
	return allele.New(allele.Options{
		StoreKind:    cfg.Storage.Kind,
		DBPath:       cfg.Storage.StoreTarget(),
		ArtifactsDir: cfg.Storage.ArtifactsDir,
		Logger:       logger,
		Telemetry:    inst,
	})
}

// withClient loads settings, opens and initializes a client, and closes it
// after fn returns.
func withClient(ctx context.Context, f *storeFlags, fn func(*allele.Client, config.Config) error) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	client, err := openClient(cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	return fn(client, cfg)
}
