package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Options are the invocation options. Field names follow the option names
// accepted by the original build plugin.
type Options struct {
	PackageFolder string `yaml:"PackageFolder"`
	Handler       string `yaml:"Handler"`
	FileName      string `yaml:"FileName"`
	Event         string `yaml:"Event"`
	ClientContext string `yaml:"ClientContext"`
	Identity      string `yaml:"Identity"`
}

// DefaultOptions returns the option defaults.
func DefaultOptions() Options {
	return Options{
		PackageFolder: "./",
		Handler:       "handler",
		FileName:      "index.js",
		Event:         "event.json",
		ClientContext: "client_context.json",
		Identity:      "identity.json",
	}
}

// Merge returns o with every non-empty field of override applied.
func (o Options) Merge(override Options) Options {
	if override.PackageFolder != "" {
		o.PackageFolder = override.PackageFolder
	}
	if override.Handler != "" {
		o.Handler = override.Handler
	}
	if override.FileName != "" {
		o.FileName = override.FileName
	}
	if override.Event != "" {
		o.Event = override.Event
	}
	if override.ClientContext != "" {
		o.ClientContext = override.ClientContext
	}
	if override.Identity != "" {
		o.Identity = override.Identity
	}
	return o
}

// RuntimeConfig holds handler process settings
type RuntimeConfig struct {
	NodeBin         string            `yaml:"node_bin"`
	Timeout         time.Duration     `yaml:"timeout"`
	FunctionName    string            `yaml:"function_name"`
	FunctionVersion string            `yaml:"function_version"`
	MemoryMB        int               `yaml:"memory_mb"`
	Env             map[string]string `yaml:"env"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Exporter   string  `yaml:"exporter"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	File      string `yaml:"file"`
}

// AWSConfig holds settings for AWS credentials passed to the handler
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	Credentials     bool   `yaml:"credentials"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Options   Options         `yaml:"options"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	AWS       AWSConfig       `yaml:"aws"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Options: DefaultOptions(),
		Runtime: RuntimeConfig{
			NodeBin:         "node",
			FunctionVersion: "$LATEST",
			MemoryMB:        128,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Exporter:   "otlp-http",
			Endpoint:   "localhost:4318",
			SampleRate: 1.0,
		},
		Metrics: MetricsConfig{
			Namespace: "lambda_invoke",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Missing keys keep their
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LAMBDA_INVOKE_PACKAGE_FOLDER"); v != "" {
		cfg.Options.PackageFolder = v
	}
	if v := os.Getenv("LAMBDA_INVOKE_HANDLER"); v != "" {
		cfg.Options.Handler = v
	}
	if v := os.Getenv("LAMBDA_INVOKE_EVENT"); v != "" {
		cfg.Options.Event = v
	}
	if v := os.Getenv("LAMBDA_INVOKE_CLIENT_CONTEXT"); v != "" {
		cfg.Options.ClientContext = v
	}
	if v := os.Getenv("LAMBDA_INVOKE_IDENTITY"); v != "" {
		cfg.Options.Identity = v
	}
	if v := os.Getenv("LAMBDA_INVOKE_NODE_BIN"); v != "" {
		cfg.Runtime.NodeBin = v
	}
	if v := os.Getenv("LAMBDA_INVOKE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runtime.Timeout = d
		}
	}
	if v := os.Getenv("LAMBDA_INVOKE_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runtime.MemoryMB = n
		}
	}
	if v := os.Getenv("LAMBDA_INVOKE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LAMBDA_INVOKE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		cfg.AWS.Profile = v
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
