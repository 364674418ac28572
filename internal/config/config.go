// Package config loads application configuration from config.yaml and the
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/siteselect-cli/internal/storage"
	"github.com/sells-group/siteselect-cli/internal/task"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig    `yaml:"store" mapstructure:"store"`
	Storage storage.Config `yaml:"storage" mapstructure:"storage"`
	Data    DataConfig     `yaml:"data" mapstructure:"data"`
	Worker  WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Log     LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the task database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        *task.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// DataConfig locates the geospatial datasets and the engine scratch space.
type DataConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	ScratchDir string `yaml:"scratch_dir" mapstructure:"scratch_dir"`
}

// WorkerConfig tunes the background task worker.
type WorkerConfig struct {
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
	PollSecs     int `yaml:"poll_secs" mapstructure:"poll_secs"`
	PresignHours int `yaml:"presign_hours" mapstructure:"presign_hours"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml (optional) and SITESELECT_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SITESELECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "siteselect.db")
	v.SetDefault("storage.bucket", "siteselect-artifacts")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.scratch_dir", "output-data/engine")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_secs", 5)
	v.SetDefault("worker.presign_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
