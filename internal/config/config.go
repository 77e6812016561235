// Package config loads telemetry settings from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	"research_telemetry/internal/hashing"
	"research_telemetry/internal/telemetry"
)

type Config struct {
	BaseDir    string `mapstructure:"TELEMETRY_BASE_DIR"`
	Version    string `mapstructure:"TELEMETRY_VERSION"`
	BatchSize  int    `mapstructure:"TELEMETRY_BATCH_SIZE"`
	Validation string `mapstructure:"TELEMETRY_VALIDATION"`
	Format     string `mapstructure:"TELEMETRY_FORMAT"`
	LogLevel   string `mapstructure:"TELEMETRY_LOG_LEVEL"`
	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"TELEMETRY_LOG_FORMAT"`
	// OutputDir holds the pipeline's *_articles.json files checked for join keys.
	OutputDir string `mapstructure:"TELEMETRY_OUTPUT_DIR"`
	ExportDir string `mapstructure:"TELEMETRY_EXPORT_DIR"`

	Pepper string `mapstructure:"RKL_PRIVACY_PEPPER"`
	Salt   string `mapstructure:"RKL_PSEUDO_SALT"`
	// ExportRecipients is a comma-separated list of age public keys.
	ExportRecipients string  `mapstructure:"TELEMETRY_EXPORT_RECIPIENTS"`
	LeakThreshold    int     `mapstructure:"TELEMETRY_LEAK_THRESHOLD"`
	KAnonymity       int     `mapstructure:"TELEMETRY_K_ANON"`
	DPEpsilon        float64 `mapstructure:"TELEMETRY_DP_EPSILON"`
	DPSeed           int64   `mapstructure:"TELEMETRY_DP_SEED"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // missing file is fine
	}

	v.AutomaticEnv()

	v.SetDefault("TELEMETRY_BASE_DIR", telemetry.DefaultBaseDir)
	v.SetDefault("TELEMETRY_VERSION", telemetry.DefaultVersion)
	v.SetDefault("TELEMETRY_BATCH_SIZE", telemetry.DefaultBatchSize)
	v.SetDefault("TELEMETRY_VALIDATION", string(telemetry.ValidationWarn))
	v.SetDefault("TELEMETRY_FORMAT", string(telemetry.FormatNDJSON))
	v.SetDefault("TELEMETRY_LOG_LEVEL", "info")
	v.SetDefault("TELEMETRY_LOG_FORMAT", "console")
	v.SetDefault("TELEMETRY_OUTPUT_DIR", "./content/briefs")
	v.SetDefault("TELEMETRY_EXPORT_DIR", "./data/export")
	v.SetDefault(hashing.PepperEnv, "")
	v.SetDefault(hashing.SaltEnv, "")
	v.SetDefault("TELEMETRY_EXPORT_RECIPIENTS", "")
	v.SetDefault("TELEMETRY_LEAK_THRESHOLD", 1024)
	v.SetDefault("TELEMETRY_K_ANON", 5)
	v.SetDefault("TELEMETRY_DP_EPSILON", 0.7)
	v.SetDefault("TELEMETRY_DP_SEED", 0)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.BaseDir == "" {
		return nil, errors.New("config: TELEMETRY_BASE_DIR must be set")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("config: TELEMETRY_BATCH_SIZE must be positive")
	}
	if _, err := telemetry.ParseValidation(cfg.Validation); err != nil {
		return nil, errors.New("config: TELEMETRY_VALIDATION must be off, warn or strict")
	}
	if _, err := telemetry.ParseFormat(cfg.Format); err != nil {
		return nil, errors.New("config: TELEMETRY_FORMAT must be ndjson or zstd")
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return nil, errors.New("config: TELEMETRY_LOG_FORMAT must be console or json")
	}
	if cfg.LeakThreshold <= 0 {
		return nil, errors.New("config: TELEMETRY_LEAK_THRESHOLD must be positive")
	}
	if cfg.KAnonymity <= 1 {
		cfg.KAnonymity = 2
	}
	if cfg.DPEpsilon <= 0 {
		return nil, errors.New("config: TELEMETRY_DP_EPSILON must be positive")
	}

	return &cfg, nil
}

// Recipients splits ExportRecipients.
func (c *Config) Recipients() []string {
	if c == nil || c.ExportRecipients == "" {
		return nil
	}
	parts := strings.Split(c.ExportRecipients, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoggerOptions returns the telemetry.Options the config describes. Registry,
// logger and meter are left for the caller.
func (c *Config) LoggerOptions() (telemetry.Options, error) {
	validation, err := telemetry.ParseValidation(c.Validation)
	if err != nil {
		return telemetry.Options{}, err
	}
	format, err := telemetry.ParseFormat(c.Format)
	if err != nil {
		return telemetry.Options{}, err
	}
	return telemetry.Options{
		BaseDir:    c.BaseDir,
		Version:    c.Version,
		BatchSize:  c.BatchSize,
		Validation: validation,
		Format:     format,
	}, nil
}
