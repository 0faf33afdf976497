// Package config loads iotstats settings from a YAML file, environment
// variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// EnvPrefix prefixes every environment override, e.g. IOTSTATS_STATISTICAL_SEED.
const EnvPrefix = "IOTSTATS"

// Config holds all runtime configuration for iotstats.
type Config struct {
	Statistical evaluation.StatisticalConfig `yaml:"statistical" mapstructure:"statistical"`
	Plan        evaluation.AnalysisPlan      `yaml:"plan" mapstructure:"plan"`
	Generator   flow.GeneratorConfig         `yaml:"generator" mapstructure:"generator"`
	Output      OutputConfig                 `yaml:"output" mapstructure:"output"`
	Baseline    BaselineConfig               `yaml:"baseline" mapstructure:"baseline"`
	Metrics     MetricsConfig                `yaml:"metrics" mapstructure:"metrics"`
	Sinks       SinksConfig                  `yaml:"sinks" mapstructure:"sinks"`
	Log         LogConfig                    `yaml:"log" mapstructure:"log"`
}

// OutputConfig controls where run artifacts go.
type OutputConfig struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`
	JSON bool   `yaml:"json" mapstructure:"json"` // also write results.json
}

// BaselineConfig selects the Redis-backed baseline. An empty RedisAddr
// disables baseline comparison.
type BaselineConfig struct {
	Name          string        `yaml:"name" mapstructure:"name"`
	Update        bool          `yaml:"update" mapstructure:"update"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// MetricsConfig enables the node_exporter textfile export and, with
// ListenAddr, a /metrics endpoint served while analyze runs.
type MetricsConfig struct {
	Textfile   string `yaml:"textfile" mapstructure:"textfile"`
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// SinksConfig configures optional result persistence.
type SinksConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table" mapstructure:"postgres_table"`
	HistoryPath   string `yaml:"history_path" mapstructure:"history_path"` // SQLite file
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Development bool   `yaml:"development" mapstructure:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Statistical: evaluation.DefaultStatisticalConfig(),
		Plan:        evaluation.DefaultAnalysisPlan(),
		Generator:   flow.DefaultGeneratorConfig(),
		Output:      OutputConfig{Dir: "runs", JSON: true},
		Baseline:    BaselineConfig{Name: "default"},
		Sinks:       SinksConfig{PostgresTable: "iotstats_results"},
		Log:         LogConfig{Level: "info"},
	}
}

// FrameworkConfig returns the evaluation settings of c.
func (c *Config) FrameworkConfig() *evaluation.FrameworkConfig {
	return &evaluation.FrameworkConfig{
		Statistical: c.Statistical,
		Plan:        c.Plan,
		Baseline: evaluation.BaselineOptions{
			Name:   c.Baseline.Name,
			Update: c.Baseline.Update,
		},
	}
}

// planKeys are list settings that replace, rather than merge with, the default plan.
var planKeys = []string{"plan.intervals", "plan.one_sample", "plan.two_sample", "plan.anova", "plan.regression.continuous"}

// Load reads config from path, or from iotstats.yaml in . or ~/.iotstats when
// path is empty, and falls back to defaults. Environment variables with prefix
// IOTSTATS_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := Default()

	// --- Defaults ---
	v.SetDefault("statistical.confidence_level", def.Statistical.ConfidenceLevel)
	v.SetDefault("statistical.significance_level", def.Statistical.SignificanceLevel)
	v.SetDefault("statistical.normality_max_n", def.Statistical.NormalityMaxN)
	v.SetDefault("statistical.seed", def.Statistical.Seed)
	v.SetDefault("statistical.max_iterations", def.Statistical.MaxIterations)
	v.SetDefault("statistical.tolerance", def.Statistical.Tolerance)
	v.SetDefault("generator.rows", def.Generator.Rows)
	v.SetDefault("generator.seed", def.Generator.Seed)
	v.SetDefault("generator.normal_share", def.Generator.NormalShare)
	v.SetDefault("output.dir", def.Output.Dir)
	v.SetDefault("output.json", def.Output.JSON)
	v.SetDefault("baseline.name", def.Baseline.Name)
	v.SetDefault("baseline.update", false)
	v.SetDefault("baseline.redis_addr", "")
	v.SetDefault("baseline.redis_password", "")
	v.SetDefault("baseline.redis_db", 0)
	v.SetDefault("baseline.ttl", time.Duration(0))
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("sinks.postgres_dsn", "")
	v.SetDefault("sinks.postgres_table", def.Sinks.PostgresTable)
	v.SetDefault("sinks.history_path", "")
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.development", false)

	// --- Config file ---
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("iotstats")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.iotstats")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	// --- Environment variables ---
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := def
	for _, key := range planKeys {
		if v.IsSet(key) {
			clearPlanList(&cfg.Plan, key)
		}
	}
	if v.IsSet("statistical.columns") {
		cfg.Statistical.Columns = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func clearPlanList(p *evaluation.AnalysisPlan, key string) {
	switch key {
	case "plan.intervals":
		p.Intervals = nil
	case "plan.one_sample":
		p.OneSample = nil
	case "plan.two_sample":
		p.TwoSample = nil
	case "plan.anova":
		p.ANOVA = nil
	case "plan.regression.continuous":
		p.Regression.Continuous = nil
	}
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate checks every section of c.
func (c *Config) Validate() error {
	if err := c.Statistical.Validate(); err != nil {
		return err
	}
	if err := c.Plan.Validate(); err != nil {
		return err
	}
	if c.Generator.Rows <= 0 {
		return fmt.Errorf("generator.rows must be positive, got %d", c.Generator.Rows)
	}
	if c.Generator.NormalShare <= 0 || c.Generator.NormalShare >= 1 {
		return fmt.Errorf("generator.normal_share must be in (0, 1), got %v", c.Generator.NormalShare)
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir must not be empty")
	}
	if c.Baseline.RedisAddr != "" && c.Baseline.Name == "" {
		return errors.New("baseline.name is required when baseline.redis_addr is set")
	}
	if c.Baseline.TTL < 0 {
		return fmt.Errorf("baseline.ttl must not be negative, got %s", c.Baseline.TTL)
	}
	if c.Sinks.PostgresDSN != "" && !tableName.MatchString(c.Sinks.PostgresTable) {
		return fmt.Errorf("sinks.postgres_table %q is not a valid table name", c.Sinks.PostgresTable)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// WriteDefault writes the default configuration as YAML to path. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "# iotstats configuration\n")
	fmt.Fprintf(f, "# Environment variables with prefix %s_ override these values.\n\n", EnvPrefix)
	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(Default()); err != nil {
		return fmt.Errorf("encode YAML: %w", err)
	}
	return encoder.Close()
}
