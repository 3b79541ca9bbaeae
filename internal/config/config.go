package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the effective recorder configuration
type Config struct {
	Output  OutputConfig `mapstructure:"output" yaml:"output"`
	Audio   AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Sensors SensorConfig `mapstructure:"sensors" yaml:"sensors"`
}

type OutputConfig struct {
	Directory      string `mapstructure:"directory" yaml:"directory"`
	SyncEachRecord bool   `mapstructure:"sync_each_record" yaml:"sync_each_record"` // fsync after every sensor record
}

type AudioConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"`   // "pipewire", "alsa", "simulated", "auto"
	Device       string `mapstructure:"device" yaml:"device"`     // backend specific capture target, empty = default
	Encoding     string `mapstructure:"encoding" yaml:"encoding"` // "s16", "f32"
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels     int    `mapstructure:"channels" yaml:"channels"`
	FrameSamples int    `mapstructure:"frame_samples" yaml:"frame_samples"`
}

type SensorConfig struct {
	Backend         string        `mapstructure:"backend" yaml:"backend"` // "iio", "simulated", "auto"
	IIORoot         string        `mapstructure:"iio_root" yaml:"iio_root"`
	FastestType     int           `mapstructure:"fastest_type" yaml:"fastest_type"`
	FastestInterval time.Duration `mapstructure:"fastest_interval" yaml:"fastest_interval"`
	GameInterval    time.Duration `mapstructure:"game_interval" yaml:"game_interval"`
	UIInterval      time.Duration `mapstructure:"ui_interval" yaml:"ui_interval"`
	NormalInterval  time.Duration `mapstructure:"normal_interval" yaml:"normal_interval"`
	QueueSize       int           `mapstructure:"queue_size" yaml:"queue_size"`
}

// Default returns the built-in configuration used when no file is present
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "SensorLog"),
		},
		Audio: AudioConfig{
			Backend:      "auto",
			Encoding:     "s16",
			SampleRate:   44100,
			Channels:     1,
			FrameSamples: 1024,
		},
		Sensors: SensorConfig{
			Backend:         "auto",
			IIORoot:         "/sys/bus/iio/devices",
			FastestType:     21,
			FastestInterval: 5 * time.Millisecond,
			GameInterval:    20 * time.Millisecond,
			UIInterval:      60 * time.Millisecond,
			NormalInterval:  200 * time.Millisecond,
			QueueSize:       256,
		},
	}
}

// Load reads configFile (if it exists) on top of the defaults, then applies
// SENSORLOG_* environment overrides. A missing file is not an error unless
// required is set.
func Load(configFile string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("SENSORLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil || required {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Audio.Backend = strings.ToLower(strings.TrimSpace(cfg.Audio.Backend))
	cfg.Audio.Encoding = strings.ToLower(strings.TrimSpace(cfg.Audio.Encoding))
	cfg.Sensors.Backend = strings.ToLower(strings.TrimSpace(cfg.Sensors.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.sync_each_record", d.Output.SyncEachRecord)

	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.encoding", d.Audio.Encoding)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.frame_samples", d.Audio.FrameSamples)

	v.SetDefault("sensors.backend", d.Sensors.Backend)
	v.SetDefault("sensors.iio_root", d.Sensors.IIORoot)
	v.SetDefault("sensors.fastest_type", d.Sensors.FastestType)
	v.SetDefault("sensors.fastest_interval", d.Sensors.FastestInterval)
	v.SetDefault("sensors.game_interval", d.Sensors.GameInterval)
	v.SetDefault("sensors.ui_interval", d.Sensors.UIInterval)
	v.SetDefault("sensors.normal_interval", d.Sensors.NormalInterval)
	v.SetDefault("sensors.queue_size", d.Sensors.QueueSize)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Output.Directory) == "" {
		errs = append(errs, "output.directory must not be empty")
	}

	switch c.Audio.Backend {
	case "pipewire", "alsa", "simulated", "auto":
	default:
		errs = append(errs, fmt.Sprintf("audio.backend must be 'pipewire', 'alsa', 'simulated' or 'auto', got: %s", c.Audio.Backend))
	}
	switch c.Audio.Encoding {
	case "s16", "f32":
	default:
		errs = append(errs, fmt.Sprintf("audio.encoding must be 's16' or 'f32', got: %s", c.Audio.Encoding))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Sprintf("audio.sample_rate must be positive, got: %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels != 1 {
		errs = append(errs, fmt.Sprintf("audio.channels must be 1 (mono capture), got: %d", c.Audio.Channels))
	}
	if c.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Sprintf("audio.frame_samples must be positive, got: %d", c.Audio.FrameSamples))
	}

	switch c.Sensors.Backend {
	case "iio", "simulated", "auto":
	default:
		errs = append(errs, fmt.Sprintf("sensors.backend must be 'iio', 'simulated' or 'auto', got: %s", c.Sensors.Backend))
	}
	intervals := map[string]time.Duration{
		"sensors.fastest_interval": c.Sensors.FastestInterval,
		"sensors.game_interval":    c.Sensors.GameInterval,
		"sensors.ui_interval":      c.Sensors.UIInterval,
		"sensors.normal_interval":  c.Sensors.NormalInterval,
	}
	for _, key := range []string{"sensors.fastest_interval", "sensors.game_interval", "sensors.ui_interval", "sensors.normal_interval"} {
		if intervals[key] <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got: %s", key, intervals[key]))
		}
	}
	if c.Sensors.QueueSize <= 0 {
		errs = append(errs, fmt.Sprintf("sensors.queue_size must be positive, got: %d", c.Sensors.QueueSize))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// expandPath expands a leading ~/ to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
