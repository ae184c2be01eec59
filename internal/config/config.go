// Package config loads camon's configuration from TOML files and
// environment variables using Viper, the same approach the rest of
// this stack uses for its own configuration surface.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultHotDurationSecs   = 600
	defaultHTTPPort          = 8080
	defaultSampleFPS         = 5.0
	defaultConfidenceThresh  = 0.5
	defaultPrePaddingSecs    = 5
	defaultPostPaddingSecs   = 5
	defaultRetentionMaxAge   = 7 * 24 * time.Hour
	defaultCoalesceGapSecs   = 2
)

// Config holds camon's full runtime configuration.
type Config struct {
	Buffer    BufferConfig     `mapstructure:"buffer"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Analytics AnalyticsConfig  `mapstructure:"analytics"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Cameras   []CameraConfig   `mapstructure:"cameras"`
}

// BufferConfig tunes the hot ring shared by every camera.
type BufferConfig struct {
	HotDurationSecs int `mapstructure:"hot_duration_secs"`
}

// HTTPConfig is echoed into the config surface for a collaborator HTTP
// layer; camon itself never binds a socket.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// AnalyticsConfig toggles and tunes the motion/detection pipeline.
type AnalyticsConfig struct {
	Enabled         bool                  `mapstructure:"enabled"`
	SampleFPS       float64               `mapstructure:"sample_fps"`
	MinSampleFPS    float64               `mapstructure:"min_sample_fps"`
	WindowSamples   int                   `mapstructure:"window_samples"`
	Percentile      float64               `mapstructure:"percentile"`
	MinAreaPixels   int                   `mapstructure:"min_area_pixels"`
	DOpen           Duration              `mapstructure:"d_open"`
	DClose          Duration              `mapstructure:"d_close"`
	ObjectDetection ObjectDetectionConfig `mapstructure:"object_detection"`
}

// ObjectDetectionConfig wires the object classifier stage.
type ObjectDetectionConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	ModelPath          string   `mapstructure:"model_path"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	Classes            []string `mapstructure:"classes"`
}

// StorageConfig tunes the warm tier's behavior.
type StorageConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	DataDir          string   `mapstructure:"data_dir"`
	PrePaddingSecs   int      `mapstructure:"pre_padding_secs"`
	PostPaddingSecs  int      `mapstructure:"post_padding_secs"`
	CoalesceGapSecs  int      `mapstructure:"coalesce_gap_secs"`
	RetentionMaxAge  Duration `mapstructure:"retention_max_age"`
	RetentionMaxSize ByteSize `mapstructure:"retention_max_size"`
	RetentionCron    string   `mapstructure:"retention_cron"`
}

// LoggingConfig matches the rest of the stack's logging knobs.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CameraConfig is one entry in [[cameras]].
type CameraConfig struct {
	ID            string   `mapstructure:"id"`
	URL           string   `mapstructure:"url"`
	DecoderBinary string   `mapstructure:"decoder_binary"`
	DecoderArgs   []string `mapstructure:"decoder_args"`
}

// Load reads configuration from configPath (or the default search
// path/name if empty) plus CAMON_-prefixed environment variables,
// applies defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/camon")
		v.AddConfigPath("$HOME/.camon")
	}

	v.SetEnvPrefix("CAMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// SetDefaults configures default values before a config file or
// environment variables are applied.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("buffer.hot_duration_secs", defaultHotDurationSecs)

	v.SetDefault("http.port", defaultHTTPPort)

	v.SetDefault("analytics.enabled", true)
	v.SetDefault("analytics.sample_fps", defaultSampleFPS)
	v.SetDefault("analytics.min_sample_fps", defaultSampleFPS/8)
	v.SetDefault("analytics.window_samples", 100)
	v.SetDefault("analytics.percentile", 0.9)
	v.SetDefault("analytics.min_area_pixels", 500)
	v.SetDefault("analytics.d_open", "500ms")
	v.SetDefault("analytics.d_close", "2s")
	v.SetDefault("analytics.object_detection.enabled", false)
	v.SetDefault("analytics.object_detection.confidence_threshold", defaultConfidenceThresh)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.pre_padding_secs", defaultPrePaddingSecs)
	v.SetDefault("storage.post_padding_secs", defaultPostPaddingSecs)
	v.SetDefault("storage.coalesce_gap_secs", defaultCoalesceGapSecs)
	v.SetDefault("storage.retention_max_age", "168h")
	v.SetDefault("storage.retention_cron", "*/15 * * * *")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the configuration for errors, returning every
// violation found rather than stopping at the first one so an operator
// can fix a misconfigured file in one pass.
func (c *Config) Validate() []error {
	var errs []error

	const maxPort = 65535
	if c.HTTP.Port < 1 || c.HTTP.Port > maxPort {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and %d", maxPort))
	}
	if c.Buffer.HotDurationSecs < 1 {
		errs = append(errs, fmt.Errorf("buffer.hot_duration_secs must be at least 1"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Errorf("logging.format must be one of: json, text"))
	}

	if c.Analytics.Enabled {
		if c.Analytics.SampleFPS <= 0 {
			errs = append(errs, fmt.Errorf("analytics.sample_fps must be greater than 0"))
		}
		if c.Analytics.Percentile <= 0 || c.Analytics.Percentile >= 1 {
			errs = append(errs, fmt.Errorf("analytics.percentile must be in (0,1)"))
		}
	}

	if c.Storage.Enabled && c.Storage.DataDir == "" {
		errs = append(errs, fmt.Errorf("storage.data_dir is required when storage.enabled"))
	}

	seen := make(map[string]bool)
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			errs = append(errs, fmt.Errorf("cameras[%d].id is required", i))
			continue
		}
		if seen[cam.ID] {
			errs = append(errs, fmt.Errorf("cameras[%d].id %q is duplicated", i, cam.ID))
		}
		seen[cam.ID] = true
		if cam.URL == "" {
			errs = append(errs, fmt.Errorf("cameras[%d] (%s).url is required", i, cam.ID))
		}
	}

	return errs
}
