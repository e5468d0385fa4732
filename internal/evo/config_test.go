package evo

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().ValidateRun(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"population", func(c *Config) { c.PopulationSize = 1 }},
		{"population two", func(c *Config) { c.PopulationSize = 2; c.TournamentSize = 2 }},
		{"crossover nan", func(c *Config) { c.CrossoverRate = math.NaN() }},
		{"mutation negative", func(c *Config) { c.MutationRate = -0.01 }},
		{"sigma inf", func(c *Config) { c.MutationSigma = math.Inf(1) }},
		{"tournament", func(c *Config) { c.TournamentSize = c.PopulationSize }},
		{"workers", func(c *Config) { c.Workers = -1 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestConfigSettingsRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 99
	cfg.Workers = 3
	if got := ConfigFromSettings(cfg.Settings()); got != cfg {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, cfg)
	}
}
