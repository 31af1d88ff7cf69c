package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the reference deployment: a llama3.2-vision model served by
// a local ollama on its standard port, weights cached under ./checkpoints.
const (
	DefaultAddr           = ":5000"
	DefaultModelName      = "llama3.2-vision:90b"
	DefaultModelURL       = "https://weights.replicate.delivery/default/ollama/llama3.2-vision/90b.tar"
	DefaultModelCache     = "checkpoints"
	DefaultFetchBin       = "pget"
	DefaultOllamaBin      = "ollama"
	DefaultBackendHost    = "127.0.0.1:11434"
	DefaultReadyTimeout   = 120 * time.Second
	DefaultReadyInterval  = time.Second
	DefaultConnectTimeout = 60 * time.Second
	DefaultStopGrace      = 5 * time.Second
	DefaultMaxBodyBytes   = 32 << 20
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	ModelName    string `json:"model_name" yaml:"model_name" toml:"model_name"`
	ModelURL     string `json:"model_url" yaml:"model_url" toml:"model_url"`
	ModelCache   string `json:"model_cache" yaml:"model_cache" toml:"model_cache"`
	SkipDownload bool   `json:"skip_download" yaml:"skip_download" toml:"skip_download"`

	FetchBin  string   `json:"fetch_bin" yaml:"fetch_bin" toml:"fetch_bin"`
	FetchArgs []string `json:"fetch_args" yaml:"fetch_args" toml:"fetch_args"`

	OllamaBin      string   `json:"ollama_bin" yaml:"ollama_bin" toml:"ollama_bin"`
	BackendHost    string   `json:"backend_host" yaml:"backend_host" toml:"backend_host"`
	ReadyTimeout   Duration `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout"`
	ReadyInterval  Duration `json:"ready_interval" yaml:"ready_interval" toml:"ready_interval"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	StopGrace      Duration `json:"stop_grace" yaml:"stop_grace" toml:"stop_grace"`

	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Duration is a time.Duration that reads and writes as "90s"-style text in
// every supported config format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Default returns a fully populated configuration.
func Default() Config {
	return Config{
		Addr:           DefaultAddr,
		LogLevel:       "info",
		LogFormat:      "json",
		ModelName:      DefaultModelName,
		ModelURL:       DefaultModelURL,
		ModelCache:     DefaultModelCache,
		FetchBin:       DefaultFetchBin,
		FetchArgs:      []string{"-xf"},
		OllamaBin:      DefaultOllamaBin,
		BackendHost:    DefaultBackendHost,
		ReadyTimeout:   Duration(DefaultReadyTimeout),
		ReadyInterval:  Duration(DefaultReadyInterval),
		ConnectTimeout: Duration(DefaultConnectTimeout),
		StopGrace:      Duration(DefaultStopGrace),
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// WithDefaults fills every unspecified field from Default().
func (c Config) WithDefaults() Config {
	d := Default()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.ModelName == "" {
		c.ModelName = d.ModelName
	}
	if c.ModelURL == "" {
		c.ModelURL = d.ModelURL
	}
	if c.ModelCache == "" {
		c.ModelCache = d.ModelCache
	}
	if c.FetchBin == "" {
		c.FetchBin = d.FetchBin
	}
	if c.FetchArgs == nil {
		c.FetchArgs = d.FetchArgs
	}
	if c.OllamaBin == "" {
		c.OllamaBin = d.OllamaBin
	}
	if c.BackendHost == "" {
		c.BackendHost = d.BackendHost
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.ReadyInterval == 0 {
		c.ReadyInterval = d.ReadyInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.StopGrace == 0 {
		c.StopGrace = d.StopGrace
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	return c
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("model_name is required")
	}
	if strings.TrimSpace(c.ModelCache) == "" {
		return fmt.Errorf("model_cache is required")
	}
	if !c.SkipDownload && strings.TrimSpace(c.ModelURL) == "" {
		return fmt.Errorf("model_url is required unless skip_download is set")
	}
	if strings.TrimSpace(c.BackendHost) == "" {
		return fmt.Errorf("backend_host is required")
	}
	if c.ReadyTimeout < 0 || c.ReadyInterval < 0 || c.ConnectTimeout < 0 || c.StopGrace < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("unsupported log_format: %s", c.LogFormat)
	}
	return nil
}

// BackendURL is the base URL of the supervised backend.
func (c Config) BackendURL() string {
	h := strings.TrimRight(c.BackendHost, "/")
	if strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://") {
		return h
	}
	return "http://" + h
}
