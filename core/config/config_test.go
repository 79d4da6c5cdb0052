package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	trerrors "github.com/adalundhe/tremor/core/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sampler.Particles != 500 {
		t.Errorf("Sampler.Particles: got %d, want 500", cfg.Sampler.Particles)
	}
	if cfg.Sampler.TargetCoV != 1.0 {
		t.Errorf("Sampler.TargetCoV: got %v, want 1.0", cfg.Sampler.TargetCoV)
	}
	if cfg.Sampler.LikelihoodTimeout != 30*time.Second {
		t.Errorf("Sampler.LikelihoodTimeout: got %v, want 30s", cfg.Sampler.LikelihoodTimeout)
	}
	if cfg.Mode != ModeGeometry {
		t.Errorf("Mode: got %s, want geometry", cfg.Mode)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
name: laquila_2009
mode: geometry
seed: 7
datasets:
  - name: insar_asc
    kind: geodetic
  - name: broadband
    kind: seismic
priors:
  - name: depth
    family: uniform
    lower: 0.5
    upper: 25
  - name: strike
    family: normal
    mu: 140
    sigma: 20
sampler:
  particles: 200
  target_cov: 0.8
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Name != "laquila_2009" {
		t.Errorf("Name: got %s", cfg.Name)
	}
	if cfg.Seed != 7 {
		t.Errorf("Seed: got %d, want 7", cfg.Seed)
	}
	if cfg.Sampler.Particles != 200 {
		t.Errorf("Particles: got %d, want 200 (file should override default)", cfg.Sampler.Particles)
	}
	if cfg.Sampler.TargetAcceptance != 0.25 {
		t.Errorf("TargetAcceptance: got %v, want default 0.25", cfg.Sampler.TargetAcceptance)
	}
	if len(cfg.Datasets) != 2 || cfg.Datasets[1].Kind != KindSeismic {
		t.Errorf("Datasets not parsed: %+v", cfg.Datasets)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, trerrors.ErrConfiguration) {
		t.Errorf("missing config should be a ConfigurationError, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "spectral" }},
		{"no priors", func(c *Config) { c.Priors = nil }},
		{"duplicate prior", func(c *Config) { c.Priors = append(c.Priors, c.Priors[0]) }},
		{"bad uniform bounds", func(c *Config) { c.Priors[0].Lower, c.Priors[0].Upper = 5, 1 }},
		{"bad sigma", func(c *Config) { c.Priors[1].Sigma = 0 }},
		{"unknown family", func(c *Config) { c.Priors[0].Family = "cauchy" }},
		{"no datasets", func(c *Config) { c.Datasets = nil }},
		{"unknown kind", func(c *Config) { c.Datasets[0].Kind = "gravimetric" }},
		{"kinematic without seismic", func(c *Config) {
			c.Mode = ModeKinematicDist
			c.Datasets = c.Datasets[:1]
		}},
		{"too few particles", func(c *Config) { c.Sampler.Particles = 1 }},
		{"bad acceptance target", func(c *Config) { c.Sampler.TargetAcceptance = 1.5 }},
		{"inverted step bounds", func(c *Config) { c.Sampler.MinSteps, c.Sampler.MaxSteps = 10, 5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, trerrors.ErrConfiguration) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestValidateKinematicWithSeismicDataset(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Mode = ModeKinematicDist
	if err := cfg.Validate(); err != nil {
		t.Errorf("kinematic mode with a seismic dataset should validate, got %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TREMOR_SAMPLER_PARTICLES", "64")
	t.Setenv("TREMOR_SAMPLER_SEED", "99")
	t.Setenv("TREMOR_LIKELIHOOD_TIMEOUT", "5s")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Sampler.Particles != 64 {
		t.Errorf("Particles: got %d, want 64 from env", cfg.Sampler.Particles)
	}
	if cfg.Seed != 99 {
		t.Errorf("Seed: got %d, want 99 from env", cfg.Seed)
	}
	if cfg.Sampler.LikelihoodTimeout != 5*time.Second {
		t.Errorf("LikelihoodTimeout: got %v, want 5s from env", cfg.Sampler.LikelihoodTimeout)
	}
}

func TestHyperName(t *testing.T) {
	if got := HyperName("insar_asc"); got != "h_insar_asc" {
		t.Errorf("HyperName: got %s", got)
	}
}
