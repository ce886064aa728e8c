// Package config loads the YAML configuration of the bandit CLI.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	bootstrapts "github.com/n0madic/go-bootstrap-bandits/bootstrap-ts"
	"github.com/n0madic/go-bootstrap-bandits/logreg"
	"gopkg.in/yaml.v3"
)

// Config holds bandit construction parameters and CLI settings.
type Config struct {
	NArms          int    `yaml:"n_arms"`
	NEstimators    int    `yaml:"n_estimators"`
	Seed           int64  `yaml:"seed"`
	Workers        int    `yaml:"workers"`
	EmptyArmPolicy string `yaml:"empty_arm_policy"`
	StorePath      string `yaml:"store_path"`
	LogLevel       string `yaml:"log_level"`

	// Learner tunes the default logistic regression base learner.
	Learner LearnerConfig `yaml:"learner"`
}

// LearnerConfig holds logistic regression hyperparameters.
type LearnerConfig struct {
	C            float64 `yaml:"c"`
	MaxIter      int     `yaml:"max_iter"`
	FitIntercept *bool   `yaml:"fit_intercept"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		NEstimators:    bootstrapts.DefaultEstimators,
		Workers:        runtime.GOMAXPROCS(0),
		EmptyArmPolicy: "zero",
		StorePath:      "bandits.db",
		LogLevel:       "info",
		Learner: LearnerConfig{
			C:       1.0,
			MaxIter: 100,
		},
	}
}

// Load reads path on top of Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges. NArms is checked only when requireArms is set,
// since commands that load a stored model take the arm count from it.
func (c Config) Validate(requireArms bool) error {
	if requireArms && c.NArms <= 0 {
		return fmt.Errorf("n_arms must be positive, got %d", c.NArms)
	}
	if c.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", c.NEstimators)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if _, err := bootstrapts.ParseEmptyArmPolicy(c.EmptyArmPolicy); err != nil {
		return err
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Learner.C <= 0 {
		return fmt.Errorf("learner.c must be positive, got %v", c.Learner.C)
	}
	if c.Learner.MaxIter <= 0 {
		return fmt.Errorf("learner.max_iter must be positive, got %d", c.Learner.MaxIter)
	}
	return nil
}

// SlogLevel maps log_level to a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
}

// LearnerFactory builds the logistic regression factory described by Learner.
func (c Config) LearnerFactory() bootstrapts.LearnerFactory {
	opts := []logreg.Option{
		logreg.WithC(c.Learner.C),
		logreg.WithMaxIter(c.Learner.MaxIter),
	}
	if c.Learner.FitIntercept != nil {
		opts = append(opts, logreg.WithFitIntercept(*c.Learner.FitIntercept))
	}
	return func() bootstrapts.Learner {
		return logreg.New(opts...)
	}
}

// BanditOptions translates the configuration into bandit options.
func (c Config) BanditOptions(logger *slog.Logger) ([]bootstrapts.Option, error) {
	policy, err := bootstrapts.ParseEmptyArmPolicy(c.EmptyArmPolicy)
	if err != nil {
		return nil, err
	}
	return []bootstrapts.Option{
		bootstrapts.WithEstimators(c.NEstimators),
		bootstrapts.WithWorkers(c.Workers),
		bootstrapts.WithRandomSeed(c.Seed),
		bootstrapts.WithEmptyArmPolicy(policy),
		bootstrapts.WithLearner(c.LearnerFactory()),
		bootstrapts.WithLogger(logger),
	}, nil
}
