package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds piiguard configuration.
type Config struct {
	Detection DetectionConfig `yaml:"detection" toml:"detection"`
	Guardian  GuardianConfig  `yaml:"guardian" toml:"guardian"`
	Tokenizer TokenizerConfig `yaml:"tokenizer" toml:"tokenizer"`
	Consent   ConsentConfig   `yaml:"consent" toml:"consent"`
	Audit     AuditConfig     `yaml:"audit" toml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

type DetectionConfig struct {
	Language      string                  `yaml:"language" toml:"language"`             // e.g. "en"
	MinConfidence float64                 `yaml:"min_confidence" toml:"min_confidence"` // detect command default
	Entities      map[string]EntityConfig `yaml:"entities" toml:"entities"`             // keyed by entity type
}

// EntityConfig overrides one catalog rule. Unset fields keep the built-in value.
type EntityConfig struct {
	Enabled        *bool    `yaml:"enabled" toml:"enabled"`
	BaseConfidence *float64 `yaml:"base_confidence" toml:"base_confidence"`
}

type GuardianConfig struct {
	DefaultLevel string             `yaml:"default_level" toml:"default_level"` // none | basic | standard | strict
	Purpose      string             `yaml:"purpose" toml:"purpose"`             // consent purpose checked per record
	Fields       []string           `yaml:"fields" toml:"fields"`               // record fields to protect
	Thresholds   map[string]float64 `yaml:"thresholds" toml:"thresholds"`       // level -> min confidence
}

type TokenizerConfig struct {
	RetainStore bool `yaml:"retain_store" toml:"retain_store"`
}

type ConsentConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // memory | sqlite
	Path    string `yaml:"path" toml:"path"`       // sqlite database file
}

type AuditConfig struct {
	QueueSize         int               `yaml:"queue_size" toml:"queue_size"`
	Workers           int               `yaml:"workers" toml:"workers"`
	ShutdownTimeoutMs int               `yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`
	Sinks             []AuditSinkConfig `yaml:"sinks" toml:"sinks"`
}

type AuditSinkConfig struct {
	Type      string            `yaml:"type" toml:"type"` // file_jsonl | webhook
	Path      string            `yaml:"path" toml:"path"`
	URL       string            `yaml:"url" toml:"url"`
	Headers   map[string]string `yaml:"headers" toml:"headers"`
	TimeoutMs int               `yaml:"timeout_ms" toml:"timeout_ms"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	Protocol    string `yaml:"protocol" toml:"protocol"` // grpc | http
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug" toml:"debug"`
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return defaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode toml config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return defaultConfig()
}

func applyDefaults(cfg *Config) {
	if cfg.Detection.Language == "" {
		cfg.Detection.Language = "en"
	}

	if cfg.Guardian.DefaultLevel == "" {
		cfg.Guardian.DefaultLevel = "standard"
	}
	if cfg.Guardian.Purpose == "" {
		cfg.Guardian.Purpose = "analysis"
	}
	if cfg.Guardian.Thresholds == nil {
		cfg.Guardian.Thresholds = map[string]float64{}
	}
	for level, v := range map[string]float64{"basic": 0.8, "standard": 0.5, "strict": 0.3} {
		if _, ok := cfg.Guardian.Thresholds[level]; !ok {
			cfg.Guardian.Thresholds[level] = v
		}
	}

	if cfg.Consent.Backend == "" {
		cfg.Consent.Backend = "memory"
	}

	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 1000
	}
	if cfg.Audit.Workers <= 0 {
		cfg.Audit.Workers = 1
	}
	if cfg.Audit.ShutdownTimeoutMs <= 0 {
		cfg.Audit.ShutdownTimeoutMs = 2000
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "piiguard"
	}
}
