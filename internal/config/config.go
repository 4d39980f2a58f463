package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	pe "github.com/wanglei-coder/peinspect"
	"github.com/wanglei-coder/peinspect/internal/logging"
)

// EnvPrefix is prepended to every environment override, so limits.max_sections
// is read from PEINSPECT_LIMITS_MAX_SECTIONS.
const EnvPrefix = "PEINSPECT"

// Output formats understood by the report package.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config represents the application configuration
type Config struct {
	Log    logging.LoggerConfig `yaml:"log" mapstructure:"log"`
	Output OutputConfig         `yaml:"output" mapstructure:"output"`
	Limits LimitsConfig         `yaml:"limits" mapstructure:"limits"`
	Cache  CacheConfig          `yaml:"cache" mapstructure:"cache"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Color  bool   `yaml:"color" mapstructure:"color"`
}

// LimitsConfig mirrors pe.Limits.
type LimitsConfig struct {
	MaxSections            int     `yaml:"max_sections" mapstructure:"max_sections"`
	MaxImportDescriptors   int     `yaml:"max_import_descriptors" mapstructure:"max_import_descriptors"`
	MaxThunksPerDLL        int     `yaml:"max_thunks_per_dll" mapstructure:"max_thunks_per_dll"`
	MaxFunctionsPerDLL     int     `yaml:"max_functions_per_dll" mapstructure:"max_functions_per_dll"`
	SectionSampleSize      int     `yaml:"section_sample_size" mapstructure:"section_sample_size"`
	HeaderBufferSize       int     `yaml:"header_buffer_size" mapstructure:"header_buffer_size"`
	MaxStringMatches       int     `yaml:"max_string_matches" mapstructure:"max_string_matches"`
	EntropyBlockSize       int     `yaml:"entropy_block_size" mapstructure:"entropy_block_size"`
	MaxEntropyBlocks       int     `yaml:"max_entropy_blocks" mapstructure:"max_entropy_blocks"`
	HighEntropyThreshold   float64 `yaml:"high_entropy_threshold" mapstructure:"high_entropy_threshold"`
	PackedEntropyThreshold float64 `yaml:"packed_entropy_threshold" mapstructure:"packed_entropy_threshold"`
}

// CacheConfig controls the analysis result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Size    uint32        `yaml:"size" mapstructure:"size"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Loader handles configuration loading
type Loader struct {
	v      *viper.Viper
	logger logrus.FieldLogger
}

func NewLoader(logger logrus.FieldLogger) *Loader {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Loader{v: viper.New(), logger: logger}
}

// Load reads configuration from configFile, or from peinspect.yaml in the
// working directory or $HOME/.peinspect when configFile is empty, then
// applies environment overrides and validates the result. A missing
// default file is not an error; a missing explicit one is.
func (l *Loader) Load(configFile string) (*Config, error) {
	setDefaults(l.v)

	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if configFile != "" {
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
		l.logger.WithField("file", l.v.ConfigFileUsed()).Debug("loaded config")
	} else {
		l.v.SetConfigName("peinspect")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.peinspect")
		if err := l.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "failed to read config file")
			}
			l.logger.Debug("no config file found, using defaults and environment")
		} else {
			l.logger.WithField("file", l.v.ConfigFileUsed()).Debug("loaded config")
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Set overrides a key after defaults, file and environment. The CLI uses
// it for flags.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

func setDefaults(v *viper.Viper) {
	d := pe.DefaultLimits()

	v.SetDefault("log.level", string(logging.LogLevelWarn))
	v.SetDefault("log.format", string(logging.LogFormatText))

	v.SetDefault("output.format", FormatText)
	v.SetDefault("output.color", true)

	v.SetDefault("limits.max_sections", d.MaxSections)
	v.SetDefault("limits.max_import_descriptors", d.MaxImportDescriptors)
	v.SetDefault("limits.max_thunks_per_dll", d.MaxThunksPerDLL)
	v.SetDefault("limits.max_functions_per_dll", d.MaxFunctionsPerDLL)
	v.SetDefault("limits.section_sample_size", d.SectionSampleSize)
	v.SetDefault("limits.header_buffer_size", d.HeaderBufferSize)
	v.SetDefault("limits.max_string_matches", d.MaxStringMatches)
	v.SetDefault("limits.entropy_block_size", d.Entropy.BlockSize)
	v.SetDefault("limits.max_entropy_blocks", d.Entropy.MaxBlocks)
	v.SetDefault("limits.high_entropy_threshold", d.Entropy.HighEntropyThreshold)
	v.SetDefault("limits.packed_entropy_threshold", d.Entropy.PackedEntropyThreshold)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.ttl", "10m")
}

// normalize lowercases the enumerated string settings so consumers can
// compare them exactly.
func (c *Config) normalize() {
	c.Log.Level = logging.LogLevel(strings.ToLower(strings.TrimSpace(string(c.Log.Level))))
	c.Log.Format = logging.LogFormat(strings.ToLower(strings.TrimSpace(string(c.Log.Format))))
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
}

// Validate checks every field that has a restricted range.
func (c *Config) Validate() error {
	if _, err := logging.ParseLogLevel(string(c.Log.Level)); err != nil {
		return err
	}
	if _, err := logging.ParseLogFormat(string(c.Log.Format)); err != nil {
		return err
	}

	switch strings.ToLower(c.Output.Format) {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return errors.Errorf("invalid output format %q (valid: text, json, yaml)", c.Output.Format)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"limits.max_sections", c.Limits.MaxSections},
		{"limits.max_import_descriptors", c.Limits.MaxImportDescriptors},
		{"limits.max_thunks_per_dll", c.Limits.MaxThunksPerDLL},
		{"limits.max_functions_per_dll", c.Limits.MaxFunctionsPerDLL},
		{"limits.section_sample_size", c.Limits.SectionSampleSize},
		{"limits.header_buffer_size", c.Limits.HeaderBufferSize},
		{"limits.max_string_matches", c.Limits.MaxStringMatches},
		{"limits.entropy_block_size", c.Limits.EntropyBlockSize},
		{"limits.max_entropy_blocks", c.Limits.MaxEntropyBlocks},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	for name, v := range map[string]float64{
		"limits.high_entropy_threshold":   c.Limits.HighEntropyThreshold,
		"limits.packed_entropy_threshold": c.Limits.PackedEntropyThreshold,
	} {
		if v <= 0 || v > 8 {
			return errors.Errorf("%s must be in (0, 8], got %g", name, v)
		}
	}

	if c.Cache.Enabled && c.Cache.Size == 0 {
		return errors.New("cache.size must be positive when the cache is enabled")
	}
	return nil
}

// AnalyzerLimits converts the limits section for pe.NewAnalyzer.
func (c *Config) AnalyzerLimits() pe.Limits {
	return pe.Limits{
		MaxSections:          c.Limits.MaxSections,
		MaxImportDescriptors: c.Limits.MaxImportDescriptors,
		MaxThunksPerDLL:      c.Limits.MaxThunksPerDLL,
		MaxFunctionsPerDLL:   c.Limits.MaxFunctionsPerDLL,
		SectionSampleSize:    c.Limits.SectionSampleSize,
		HeaderBufferSize:     c.Limits.HeaderBufferSize,
		MaxStringMatches:     c.Limits.MaxStringMatches,
		Entropy: pe.EntropyOptions{
			BlockSize:              c.Limits.EntropyBlockSize,
			MaxBlocks:              c.Limits.MaxEntropyBlocks,
			HighEntropyThreshold:   c.Limits.HighEntropyThreshold,
			PackedEntropyThreshold: c.Limits.PackedEntropyThreshold,
		},
	}
}
