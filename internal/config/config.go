package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PipelineConfig configures the statistics pipeline.
type PipelineConfig struct {
	Workers          int    `yaml:"workers" mapstructure:"workers"`
	GroupBy          string `yaml:"group_by" mapstructure:"group_by"`
	CategoryAttr     string `yaml:"category_attr" mapstructure:"category_attr"`
	BufferAreaColumn string `yaml:"buffer_area_column" mapstructure:"buffer_area_column"`
	Segments         int    `yaml:"segments" mapstructure:"segments"`
	PercentileCutoff int    `yaml:"percentile_cutoff" mapstructure:"percentile_cutoff"`
}

// OutputConfig configures result files.
type OutputConfig struct {
	FloatPrecision int `yaml:"float_precision" mapstructure:"float_precision"`
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
	v.SetEnvPrefix("IMPACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("pipeline.workers", 0)
	v.SetDefault("pipeline.group_by", "ultimate_parent_name")
	v.SetDefault("pipeline.category_attr", "facility_category")
	v.SetDefault("pipeline.buffer_area_column", "area")
	v.SetDefault("pipeline.segments", 64)
	v.SetDefault("pipeline.percentile_cutoff", 90)
	v.SetDefault("output.float_precision", -1)

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

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string
	if c.Pipeline.Workers < 0 {
		problems = append(problems, "pipeline.workers must be >= 0")
	}
	if c.Pipeline.GroupBy == "" {
		problems = append(problems, "pipeline.group_by is required")
	}
	if c.Pipeline.CategoryAttr == "" {
		problems = append(problems, "pipeline.category_attr is required")
	}
	if c.Pipeline.BufferAreaColumn == "" {
		problems = append(problems, "pipeline.buffer_area_column is required")
	}
	if c.Pipeline.Segments < 64 {
		problems = append(problems, "pipeline.segments must be >= 64")
	}
	if c.Pipeline.PercentileCutoff < 0 || c.Pipeline.PercentileCutoff > 100 {
		problems = append(problems, "pipeline.percentile_cutoff must be between 0 and 100")
	}
	if c.Output.FloatPrecision < -1 || c.Output.FloatPrecision > 17 {
		problems = append(problems, "output.float_precision must be between -1 and 17")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
