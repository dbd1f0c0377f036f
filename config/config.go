package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Persona   PersonaConfig   `yaml:"persona"`
	Profile   ProfileConfig   `yaml:"profile"`
	Media     MediaConfig     `yaml:"media"`
	Control   ControlConfig   `yaml:"control"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Pushover  PushoverConfig  `yaml:"pushover"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Summary   SummaryConfig   `yaml:"summary"`
	Log       LogConfig       `yaml:"log"`
}

type AudioConfig struct {
	// Input is "microphone" or "file".
	Input     string `yaml:"input"`
	InputFile string `yaml:"input_file"`
	LoopFile  bool   `yaml:"loop_file"`
	// Output is "speaker" or "virtual".
	Output           string  `yaml:"output"`
	BlockSize        int     `yaml:"block_size"`
	SilenceThreshold float32 `yaml:"silence_threshold"`
}

type GeminiConfig struct {
	APIKey               string   `yaml:"api_key"`
	APIKeyEnv            []string `yaml:"api_key_env"`
	DotenvPath           string   `yaml:"dotenv_path"`
	Model                string   `yaml:"model"`
	Voice                string   `yaml:"voice"`
	LiveURL              string   `yaml:"live_url"`
	BaseURL              string   `yaml:"base_url"`
	DisableTranscription bool     `yaml:"disable_transcription"`
}

type PersonaConfig struct {
	// InstructionFile replaces the built-in system instruction template.
	InstructionFile string `yaml:"instruction_file"`
}

type ProfileConfig struct {
	Path string `yaml:"path"`
}

type MediaConfig struct {
	Command []string `yaml:"command"`
}

type ControlConfig struct {
	Addr       string `yaml:"addr"`
	AuthToken  string `yaml:"auth_token"`
	RateLimit  int    `yaml:"rate_limit"`
	RateWindow string `yaml:"rate_window"`
	AutoStart  bool   `yaml:"auto_start"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
}

type ReconnectConfig struct {
	MaxAttempts  int    `yaml:"max_attempts"`
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
}

type SummaryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Provider is "gemini" or "anthropic".
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	Timeout         string `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (c *Config) setDefaults() {
	if c.Audio.Input == "" {
		c.Audio.Input = "microphone"
	}
	if c.Audio.Output == "" {
		c.Audio.Output = "speaker"
	}
	if c.Audio.BlockSize == 0 {
		c.Audio.BlockSize = 2048
	}
	if c.Audio.SilenceThreshold == 0 {
		c.Audio.SilenceThreshold = 0.01
	}
	if len(c.Gemini.APIKeyEnv) == 0 {
		c.Gemini.APIKeyEnv = []string{"GEMINI_API_KEY", "API_KEY"}
	}
	if c.Gemini.DotenvPath == "" {
		c.Gemini.DotenvPath = ".env"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash-native-audio-preview-12-2025"
	}
	if c.Gemini.Voice == "" {
		c.Gemini.Voice = "Puck"
	}
	if c.Gemini.LiveURL == "" {
		c.Gemini.LiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = "https://generativelanguage.googleapis.com/"
	}
	if c.Profile.Path == "" {
		c.Profile.Path = "./robobuddy_operator.json"
	}
	if len(c.Media.Command) == 0 {
		c.Media.Command = []string{"xdg-open", "https://www.youtube.com/results?search_query={query}"}
	}
	if c.Control.Addr == "" {
		c.Control.Addr = ":8080"
	}
	if c.Control.RateLimit == 0 {
		c.Control.RateLimit = 30
	}
	if c.Control.RateWindow == "" {
		c.Control.RateWindow = "1m"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "robobuddy"
	}
	if c.Reconnect.InitialDelay == "" {
		c.Reconnect.InitialDelay = "2s"
	}
	if c.Reconnect.MaxDelay == "" {
		c.Reconnect.MaxDelay = "30s"
	}
	if c.Summary.Provider == "" {
		c.Summary.Provider = "gemini"
	}
	if c.Summary.Model == "" {
		c.Summary.Model = "gemini-2.5-flash"
	}
	if c.Summary.Timeout == "" {
		c.Summary.Timeout = "30s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Audio.Input {
	case "microphone":
	case "file":
		if c.Audio.InputFile == "" {
			errs = append(errs, errors.New("audio.input_file is required when audio.input is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.input: unknown value %q", c.Audio.Input))
	}
	switch c.Audio.Output {
	case "speaker", "virtual":
	default:
		errs = append(errs, fmt.Errorf("audio.output: unknown value %q", c.Audio.Output))
	}
	if c.Audio.BlockSize < 0 {
		errs = append(errs, errors.New("audio.block_size must be positive"))
	}
	if c.Audio.SilenceThreshold < 0 || c.Audio.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold: %v outside [0, 1)", c.Audio.SilenceThreshold))
	}
	switch c.Summary.Provider {
	case "gemini":
	case "anthropic":
		if c.Summary.Enabled && c.Summary.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("summary.anthropic_api_key is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("summary.provider: unknown value %q", c.Summary.Provider))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}

	for name, v := range map[string]string{
		"control.rate_window":     c.Control.RateWindow,
		"reconnect.initial_delay": c.Reconnect.InitialDelay,
		"reconnect.max_delay":     c.Reconnect.MaxDelay,
		"summary.timeout":         c.Summary.Timeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown value %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown value %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Duration parses a duration field that Validate has already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
