// Package config loads and validates the project configuration for an
// inversion: mode, datasets, priors, and sampler tuning. The loaded Config
// is immutable; components receive it explicitly rather than through
// process-wide state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	trerrors "github.com/adalundhe/tremor/core/errors"
)

// Mode names the source parameterization convention a project samples
// under. The priors themselves are declared per project, so the mode does
// not pick them; it is recorded with every run for provenance, and it
// constrains which dataset kinds the project must provide. kinematic_dist
// resolves rupture evolution in time, so it requires at least one seismic
// dataset.
type Mode string

const (
	ModeGeometry      Mode = "geometry"
	ModeStaticDist    Mode = "static_dist"
	ModeKinematicDist Mode = "kinematic_dist"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGeometry, ModeStaticDist, ModeKinematicDist:
		return Mode(s), nil
	}
	return "", trerrors.NewConfigurationError("mode", "unknown mode %q", s)
}

// DatasetKind tags the observation type of a dataset.
type DatasetKind string

const (
	KindGeodetic DatasetKind = "geodetic"
	KindSeismic  DatasetKind = "seismic"
)

// Config is the full project configuration.
type Config struct {
	Name      string             `yaml:"name"`
	Mode      Mode               `yaml:"mode"`
	Seed      uint64             `yaml:"seed"`
	Datasets  []DatasetConfig    `yaml:"datasets"`
	Priors    []PriorConfig      `yaml:"priors"`
	Reference map[string]float64 `yaml:"reference,omitempty"`
	Sampler   SamplerConfig      `yaml:"sampler"`
}

// DatasetConfig names one observed dataset and its Green's-function store.
type DatasetConfig struct {
	Name  string      `yaml:"name"`
	Kind  DatasetKind `yaml:"kind"`
	Store string      `yaml:"store,omitempty"` // overrides <project>/gf/<name>.json
	Data  string      `yaml:"data,omitempty"`  // overrides <project>/gf/<name>.data.json
}

// PriorConfig describes one free source parameter's prior.
type PriorConfig struct {
	Name   string  `yaml:"name"`
	Family string  `yaml:"family"` // uniform | normal | lognormal
	Lower  float64 `yaml:"lower,omitempty"`
	Upper  float64 `yaml:"upper,omitempty"`
	Mu     float64 `yaml:"mu,omitempty"`
	Sigma  float64 `yaml:"sigma,omitempty"`
	Fixed  *float64 `yaml:"fixed,omitempty"` // pins the parameter, excluding it from sampling
}

// SamplerConfig tunes the adaptive-tempering sampler. The coefficient-of-
// variation target, bisection tolerance, and step-count law are run-tuned
// heuristics, exposed here rather than hardcoded.
type SamplerConfig struct {
	Particles         int           `yaml:"particles"`
	Workers           int           `yaml:"workers"`
	TargetCoV         float64       `yaml:"target_cov"`
	TargetAcceptance  float64       `yaml:"target_acceptance"`
	MinSteps          int           `yaml:"min_steps"`
	MaxSteps          int           `yaml:"max_steps"`
	BisectTolerance   float64       `yaml:"bisect_tolerance"`
	BisectMaxIter     int           `yaml:"bisect_max_iter"`
	MaxStages         int           `yaml:"max_stages"`
	LikelihoodTimeout time.Duration `yaml:"likelihood_timeout"`
	CacheSize         int           `yaml:"cache_size"`

	// Hyperparameter-only runs: stop once the relative change of the
	// empirical proposal covariance between stages drops below this.
	HyperStabilizeTol float64 `yaml:"hyper_stabilize_tol"`
	HyperMaxStages    int     `yaml:"hyper_max_stages"`
}

// DefaultConfig returns a Config with sampler defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeGeometry,
		Seed: 1,
		Sampler: SamplerConfig{
			Particles:         500,
			Workers:           4,
			TargetCoV:         1.0,
			TargetAcceptance:  0.25,
			MinSteps:          5,
			MaxSteps:          100,
			BisectTolerance:   1e-8,
			BisectMaxIter:     64,
			MaxStages:         200,
			LikelihoodTimeout: 30 * time.Second,
			CacheSize:         4096,
			HyperStabilizeTol: 0.05,
			HyperMaxStages:    20,
		},
	}
}

// Load reads the project configuration file, layers it over defaults,
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trerrors.NewConfigurationError("config", "missing project configuration at %s", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, trerrors.NewConfigurationError("config", "malformed YAML: %v", err)
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("TREMOR_SAMPLER_PARTICLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.Particles = n
		}
	}
	if v := os.Getenv("TREMOR_SAMPLER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.Workers = n
		}
	}
	if v := os.Getenv("TREMOR_SAMPLER_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Seed = n
		}
	}
	if v := os.Getenv("TREMOR_LIKELIHOOD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sampler.LikelihoodTimeout = d
		}
	}
}

// Validate checks the configuration before any sampling starts.
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}

	if len(c.Priors) == 0 {
		return trerrors.NewConfigurationError("priors", "at least one prior is required")
	}
	seen := make(map[string]bool, len(c.Priors))
	for _, p := range c.Priors {
		if p.Name == "" {
			return trerrors.NewConfigurationError("priors", "prior with empty name")
		}
		if seen[p.Name] {
			return trerrors.NewConfigurationError("priors", "duplicate prior %q", p.Name)
		}
		seen[p.Name] = true

		switch p.Family {
		case "uniform":
			if p.Upper <= p.Lower {
				return trerrors.NewConfigurationError("priors", "prior %q: upper must exceed lower", p.Name)
			}
		case "normal", "lognormal":
			if p.Sigma <= 0 {
				return trerrors.NewConfigurationError("priors", "prior %q: sigma must be positive", p.Name)
			}
		default:
			return trerrors.NewConfigurationError("priors", "prior %q: unknown family %q", p.Name, p.Family)
		}
	}

	if len(c.Datasets) == 0 {
		return trerrors.NewConfigurationError("datasets", "at least one dataset is required")
	}
	seenDS := make(map[string]bool, len(c.Datasets))
	hasSeismic := false
	for _, d := range c.Datasets {
		if d.Name == "" {
			return trerrors.NewConfigurationError("datasets", "dataset with empty name")
		}
		if seenDS[d.Name] {
			return trerrors.NewConfigurationError("datasets", "duplicate dataset %q", d.Name)
		}
		seenDS[d.Name] = true
		if d.Kind != KindGeodetic && d.Kind != KindSeismic {
			return trerrors.NewConfigurationError("datasets", "dataset %q: unknown kind %q", d.Name, d.Kind)
		}
		if d.Kind == KindSeismic {
			hasSeismic = true
		}
	}
	if c.Mode == ModeKinematicDist && !hasSeismic {
		return trerrors.NewConfigurationError("datasets", "mode %s requires at least one seismic dataset", c.Mode)
	}

	s := c.Sampler
	if s.Particles < 2 {
		return trerrors.NewConfigurationError("sampler.particles", "need at least 2 particles, got %d", s.Particles)
	}
	if s.Workers < 1 {
		return trerrors.NewConfigurationError("sampler.workers", "need at least 1 worker, got %d", s.Workers)
	}
	if s.TargetCoV <= 0 {
		return trerrors.NewConfigurationError("sampler.target_cov", "must be positive, got %v", s.TargetCoV)
	}
	if s.TargetAcceptance <= 0 || s.TargetAcceptance >= 1 {
		return trerrors.NewConfigurationError("sampler.target_acceptance", "must be in (0,1), got %v", s.TargetAcceptance)
	}
	if s.MinSteps < 1 || s.MaxSteps < s.MinSteps {
		return trerrors.NewConfigurationError("sampler.steps", "need 1 <= min_steps <= max_steps, got [%d,%d]", s.MinSteps, s.MaxSteps)
	}
	if s.BisectMaxIter < 1 {
		return trerrors.NewConfigurationError("sampler.bisect_max_iter", "must be positive, got %d", s.BisectMaxIter)
	}

	return nil
}

// HyperName returns the canonical noise-scale hyperparameter name for a
// dataset. One hyperparameter exists per configured dataset.
func HyperName(dataset string) string {
	return "h_" + dataset
}

// String renders a short human-readable summary for logging.
func (c *Config) String() string {
	names := make([]string, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		names = append(names, d.Name)
	}
	return fmt.Sprintf("%s mode=%s datasets=%s priors=%d", c.Name, c.Mode, strings.Join(names, ","), len(c.Priors))
}
