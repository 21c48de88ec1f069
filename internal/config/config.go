// Package config loads application configuration from a YAML file and
// MIMOSA_-prefixed environment variables, and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Bonsai     BonsaiConfig     `yaml:"bonsai" mapstructure:"bonsai"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	ReporTree  ReporTreeConfig  `yaml:"reportree" mapstructure:"reportree"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BonsaiConfig holds Bonsai API connection settings.
type BonsaiConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// Token, when set, skips password-grant authentication.
	Token string `yaml:"token" mapstructure:"token"`
}

// SimilarityConfig parameterises the neighbor search jobs.
type SimilarityConfig struct {
	Limit            int     `yaml:"limit" mapstructure:"limit"`
	Threshold        float64 `yaml:"threshold" mapstructure:"threshold"`
	TypingMethod     string  `yaml:"typing_method" mapstructure:"typing_method"`
	ClusterMethod    string  `yaml:"cluster_method" mapstructure:"cluster_method"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// PollInterval returns the poll interval as a duration.
func (c SimilarityConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// ReporTreeConfig configures the containerised clustering tool.
type ReporTreeConfig struct {
	Image     string `yaml:"image" mapstructure:"image"`
	Analysis  string `yaml:"analysis" mapstructure:"analysis"`
	Method    string `yaml:"method" mapstructure:"method"`
	Threshold int    `yaml:"threshold" mapstructure:"threshold"`
}

// PipelineConfig holds run-level settings.
type PipelineConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	// ProfilesFile optionally overrides the built-in profile registry.
	ProfilesFile string `yaml:"profiles_file" mapstructure:"profiles_file"`
	// Actor is recorded on change log entries.
	Actor string `yaml:"actor" mapstructure:"actor"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MIMOSA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "mimosa.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("similarity.limit", 10)
	v.SetDefault("similarity.threshold", 0.5)
	v.SetDefault("similarity.typing_method", "mlst")
	v.SetDefault("similarity.cluster_method", "single")
	v.SetDefault("similarity.poll_interval_secs", 3)
	v.SetDefault("similarity.max_attempts", 10)
	v.SetDefault("similarity.concurrency", 4)
	v.SetDefault("reportree.image", "insapathogenomics/reportree:v2.5.4")
	v.SetDefault("reportree.analysis", "grapetree")
	v.SetDefault("reportree.method", "MSTreeV2")
	v.SetDefault("reportree.threshold", 9)
	v.SetDefault("pipeline.output_dir", "output")
	v.SetDefault("pipeline.actor", "mimosa-sync")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
