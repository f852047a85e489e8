package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridian-analytics/georate/internal/crs"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Census   CensusConfig   `yaml:"census" mapstructure:"census"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	PostGIS  PostGISConfig  `yaml:"postgis" mapstructure:"postgis"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local SQLite store holding the boundary and
// estimate caches and the run history.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DataConfig configures where downloaded TIGER products land.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// CensusConfig holds Census Bureau API settings shared by the TIGER
// downloader and the ACS client.
type CensusConfig struct {
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	ACSBaseURL   string  `yaml:"acs_base_url" mapstructure:"acs_base_url"`
	Dataset      string  `yaml:"dataset" mapstructure:"dataset"`
	Variable     string  `yaml:"variable" mapstructure:"variable"`
	Year         int     `yaml:"year" mapstructure:"year"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	UseFTP       bool    `yaml:"use_ftp" mapstructure:"use_ftp"`
}

// PipelineConfig holds the default join and aggregation parameters. Most
// are overridable per invocation with flags.
type PipelineConfig struct {
	InputCRS  string  `yaml:"input_crs" mapstructure:"input_crs"`
	TargetCRS string  `yaml:"target_crs" mapstructure:"target_crs"`
	XColumn   string  `yaml:"x_column" mapstructure:"x_column"`
	YColumn   string  `yaml:"y_column" mapstructure:"y_column"`
	Scale     float64 `yaml:"scale" mapstructure:"scale"`
	Workers   int     `yaml:"workers" mapstructure:"workers"`
}

// PostGISConfig configures the optional PostGIS export target.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// ServerConfig configures the artifact server.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StorePath returns the SQLite path, resolving the default lazily so the
// data dir setting is honored.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Data.Dir, "georate.db")
}

// Validate checks the fields a given command needs. mode is the command
// name: "run", "serve", or "pgload".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run":
		if _, err := crs.Parse(c.Pipeline.InputCRS); err != nil {
			problems = append(problems, "pipeline.input_crs is not a known reference system")
		}
		if _, err := crs.Parse(c.Pipeline.TargetCRS); err != nil {
			problems = append(problems, "pipeline.target_crs is not a known reference system")
		}
		if c.Pipeline.Scale <= 0 {
			problems = append(problems, "pipeline.scale must be > 0")
		}
		if c.Pipeline.Workers < 0 {
			problems = append(problems, "pipeline.workers must be >= 0")
		}
	case "serve":
		if c.Server.Addr == "" {
			problems = append(problems, "server.addr is required")
		}
	case "pgload":
		if c.PostGIS.DatabaseURL == "" {
			problems = append(problems, "postgis.database_url is required")
		}
		if c.PostGIS.Table == "" {
			problems = append(problems, "postgis.table is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEORATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", ".georate")
	v.SetDefault("census.acs_base_url", "https://api.census.gov")
	v.SetDefault("census.dataset", "acs/acs5")
	v.SetDefault("census.variable", "B01003_001E")
	v.SetDefault("census.year", 2023)
	v.SetDefault("census.rate_limit_rps", 2.0)
	v.SetDefault("pipeline.input_crs", "EPSG:4326")
	v.SetDefault("pipeline.target_crs", "EPSG:4269")
	v.SetDefault("pipeline.x_column", "longitude")
	v.SetDefault("pipeline.y_column", "latitude")
	v.SetDefault("pipeline.scale", 1000)
	v.SetDefault("postgis.table", "tract_rates")
	v.SetDefault("server.addr", ":8080")
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
