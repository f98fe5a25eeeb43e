// Package config loads application configuration from a YAML file and the
// environment, and wires up the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/incident-sync/internal/importer"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig     `yaml:"store" mapstructure:"store"`
	Import  importer.Config `yaml:"import" mapstructure:"import"`
	Geocode GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Service ServiceConfig   `yaml:"service" mapstructure:"service"`
	Report  ReportConfig    `yaml:"report" mapstructure:"report"`
	Log     LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the target record store.
type StoreConfig struct {
	// Driver selects the backend: sqlite, postgres, or featureservice.
	Driver string `yaml:"driver" mapstructure:"driver"`

	// DatabaseURL is the SQLite path or Postgres connection string.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`

	// Table is the incident table, optionally schema-qualified for
	// Postgres.
	Table string `yaml:"table" mapstructure:"table"`

	// RowIDColumn overrides the Postgres row identity column.
	RowIDColumn string `yaml:"row_id_column" mapstructure:"row_id_column"`
}

// GeocodeConfig configures the locator client.
type GeocodeConfig struct {
	LocatorURL  string  `yaml:"locator_url" mapstructure:"locator_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`

	// CacheEnabled turns on the Postgres-backed result cache; it requires
	// the postgres store driver.
	CacheEnabled bool `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheTTLDays int  `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
}

// ServiceConfig configures the remote feature service backend.
type ServiceConfig struct {
	LayerURL  string  `yaml:"layer_url" mapstructure:"layer_url"`
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	PageSize  int     `yaml:"page_size" mapstructure:"page_size"`
}

// ReportConfig configures where run artifacts land.
type ReportConfig struct {
	// Dir receives the run log and the per-category exception CSVs.
	Dir string `yaml:"dir" mapstructure:"dir"`
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
	v.SetEnvPrefix("INCIDENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.table", "incidents")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("report.dir", ".")
	v.SetDefault("geocode.rate_limit", 10.0)
	v.SetDefault("geocode.concurrency", 10)
	v.SetDefault("geocode.cache_ttl_days", 30)
	v.SetDefault("service.page_size", 1000)
	v.SetDefault("service.rate_limit", 10.0)
	v.SetDefault("import.target", "incidents")
	v.SetDefault("import.delete_duplicates", true)
	v.SetDefault("import.reconcile.timestamp_format", "2006-01-02 15:04:05")
	v.SetDefault("import.reconcile.chunk_size", 100)

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
