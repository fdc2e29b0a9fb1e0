package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriys/customruntime/internal/observability"
)

// RuntimeConfig holds invocation loop settings
type RuntimeConfig struct {
	APIAddr     string        `yaml:"api_addr"` // host:port or vsock://CID:PORT; empty means local mode
	Handler     string        `yaml:"handler"`
	Workers     int           `yaml:"workers"`
	PollBackoff time.Duration `yaml:"poll_backoff"`
}

// LocalConfig holds gateway emulator settings
type LocalConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RoutesFile      string        `yaml:"routes_file"`
	EnqueueTimeout  time.Duration `yaml:"enqueue_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// FunctionConfig describes the function identity exposed to handlers
type FunctionConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	MemoryMB  int    `yaml:"memory_mb"`
	LogGroup  string `yaml:"log_group"`
	LogStream string `yaml:"log_stream"`
	Region    string `yaml:"region"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"` // text, json
	RequestLogFile string `yaml:"request_log_file"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Runtime       RuntimeConfig        `yaml:"runtime"`
	Local         LocalConfig          `yaml:"local"`
	Function      FunctionConfig       `yaml:"function"`
	Logging       LoggingConfig        `yaml:"logging"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Observability observability.Config `yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Workers:     runtime.NumCPU(),
			PollBackoff: 500 * time.Millisecond,
		},
		Local: LocalConfig{
			Host:            "127.0.0.1",
			Port:            3000,
			EnqueueTimeout:  time.Second,
			ResponseTimeout: 30 * time.Second,
		},
		Function: FunctionConfig{
			Name:      "customruntime",
			Version:   "-1",
			MemoryMB:  1024,
			LogGroup:  "local",
			LogStream: "local",
			Region:    "local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "customruntime",
		},
		Observability: observability.Config{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "customruntime",
			SampleRate:  1.0,
		},
	}
}

// LoadFromFile loads configuration from a YAML (or JSON) file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("AWS_LAMBDA_RUNTIME_API"); v != "" {
		cfg.Runtime.APIAddr = v
	}
	if v := os.Getenv("_HANDLER"); v != "" {
		cfg.Runtime.Handler = v
	}
	if n, ok := envInt("RUNTIME_WORKERS"); ok && n > 0 {
		cfg.Runtime.Workers = n
	}
	if n, ok := envInt("AWS_API_GATEWAY_PORT"); ok {
		cfg.Local.Port = n
	}
	if v := os.Getenv("RUNTIME_ROUTES"); v != "" {
		cfg.Local.RoutesFile = v
	}
	if v := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); v != "" {
		cfg.Function.Name = v
	}
	if v := os.Getenv("AWS_LAMBDA_FUNCTION_VERSION"); v != "" {
		cfg.Function.Version = v
	}
	if n, ok := envInt("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"); ok {
		cfg.Function.MemoryMB = n
	}
	if v := os.Getenv("AWS_LAMBDA_LOG_GROUP_NAME"); v != "" {
		cfg.Function.LogGroup = v
	}
	if v := os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"); v != "" {
		cfg.Function.LogStream = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Function.Region = v
	}
	if v := os.Getenv("RUNTIME_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RUNTIME_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RUNTIME_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("RUNTIME_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.Enabled = true
		cfg.Observability.Endpoint = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsLocal reports whether the runtime should start the gateway emulator
// instead of talking to a real control endpoint.
func (c *Config) IsLocal() bool {
	return c.Runtime.APIAddr == ""
}

// ListenAddr is the address the gateway emulator binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Local.Host, c.Local.Port)
}

// WorkerCount is the number of invocation loop workers to run. Deployed
// mode always runs exactly one.
func (c *Config) WorkerCount() int {
	if !c.IsLocal() {
		return 1
	}
	if c.Runtime.Workers < 1 {
		return 1
	}
	return c.Runtime.Workers
}
