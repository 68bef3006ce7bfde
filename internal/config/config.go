package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ECHOLENS_AUDIO_BACKEND
const EnvPrefix = "ECHOLENS"

type RecorderConfig struct {
	AppName string `mapstructure:"app_name" yaml:"app_name"`
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // "pipewire", "pulse", "auto"
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int    `mapstructure:"channels" yaml:"channels"`
	BitsPerSample int    `mapstructure:"bits_per_sample" yaml:"bits_per_sample"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type LimitsConfig struct {
	MaxNodes    int `mapstructure:"max_nodes" yaml:"max_nodes"`
	MaxLinks    int `mapstructure:"max_links" yaml:"max_links"`
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"` // empty disables the status server
}

type TranscribeConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Command  string `mapstructure:"command" yaml:"command"`
	Model    string `mapstructure:"model" yaml:"model"`
	Language string `mapstructure:"language" yaml:"language,omitempty"`
}

type Config struct {
	Recorder   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Limits     LimitsConfig     `mapstructure:"limits" yaml:"limits"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Transcribe TranscribeConfig `mapstructure:"transcribe" yaml:"transcribe"`
}

// RootConfig is the on-disk layout: a base configuration plus named profiles
// that are merged over it.
type RootConfig struct {
	ActiveProfile string            `mapstructure:"active_profile" yaml:"active_profile,omitempty"`
	Config        `mapstructure:",squash" yaml:",inline"`
	Profiles      map[string]Config `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Recorder: RecorderConfig{AppName: "PipeWire-Auto-Recorder-Internal"},
		Audio: AudioConfig{
			Backend:       "auto",
			SampleRate:    48000,
			Channels:      2,
			BitsPerSample: 16,
		},
		Output: OutputConfig{Directory: "."},
		Limits: LimitsConfig{MaxNodes: 100, MaxLinks: 100, MaxSessions: 10},
		Transcribe: TranscribeConfig{
			Command: "whisper",
			Model:   "turbo",
		},
	}
}

// DefaultPath returns $HOME/.config/echolens.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "echolens.yaml"
	}
	return filepath.Join(home, ".config", "echolens.yaml")
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("recorder.app_name", d.Recorder.AppName)
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.bits_per_sample", d.Audio.BitsPerSample)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("limits.max_nodes", d.Limits.MaxNodes)
	v.SetDefault("limits.max_links", d.Limits.MaxLinks)
	v.SetDefault("limits.max_sessions", d.Limits.MaxSessions)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("transcribe.enabled", d.Transcribe.Enabled)
	v.SetDefault("transcribe.command", d.Transcribe.Command)
	v.SetDefault("transcribe.model", d.Transcribe.Model)
	v.SetDefault("transcribe.language", d.Transcribe.Language)
}

// Load reads configuration from defaults, the optional YAML file at configFile and
// ECHOLENS_* environment variables, then merges the selected profile over it.
// A missing file is not an error. An empty profile selects active_profile.
func Load(configFile, profile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	cfg := root.Config

	name := profile
	if name == "" {
		name = root.ActiveProfile
	}
	if name != "" {
		p, exists := root.Profiles[name]
		if !exists {
			return nil, fmt.Errorf("configuration profile '%s' not found", name)
		}
		if err := Merge(&cfg, p); err != nil {
			return nil, fmt.Errorf("error applying profile '%s': %w", name, err)
		}
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Merge copies every non-zero field of override onto dst. Zero values in
// override (empty strings, 0, false) leave dst untouched.
func Merge(dst *Config, override Config) error {
	return mergo.Merge(dst, override, mergo.WithOverride)
}

// Validate checks the configuration for values the recorder cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Audio.Backend) {
	case "pipewire", "pulse", "auto":
	default:
		errs = append(errs, fmt.Errorf("audio.backend: unsupported backend %q (pipewire, pulse, auto)", c.Audio.Backend))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate: must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio.channels: must be between 1 and 8, got %d", c.Audio.Channels))
	}
	if c.Audio.BitsPerSample != 16 {
		errs = append(errs, fmt.Errorf("audio.bits_per_sample: only 16 is supported, got %d", c.Audio.BitsPerSample))
	}
	if strings.TrimSpace(c.Recorder.AppName) == "" {
		errs = append(errs, errors.New("recorder.app_name: must not be empty"))
	}
	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output.directory: must not be empty"))
	}
	if c.Limits.MaxNodes <= 0 || c.Limits.MaxLinks <= 0 || c.Limits.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("limits: all limits must be positive, got nodes=%d links=%d sessions=%d",
			c.Limits.MaxNodes, c.Limits.MaxLinks, c.Limits.MaxSessions))
	}
	if c.Transcribe.Enabled && c.Transcribe.Command == "" {
		errs = append(errs, errors.New("transcribe.command: required when transcription is enabled"))
	}

	return errors.Join(errs...)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
