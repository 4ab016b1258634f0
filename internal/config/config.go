// Package config implements FlowCore's process-level configuration: the
// engine's own tunables (queue sizes, worker counts, listener binds,
// destination wiring), not the pipeline filter/rewrite DSL, which is an
// external collaborator per the core's scope.
//
// LoadConfig reads a YAML file, applyDefaults fills anything left
// zero, and applyEnvironmentOverrides lets FLOWCORE_*-prefixed
// environment variables win over both: file, then defaults, then env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// QueueConfig configures a durable queue instance backing one
// destination pipeline.
type QueueConfig struct {
	Reliable    bool   `yaml:"reliable"`
	Path        string `yaml:"path"`
	Capacity    int    `yaml:"capacity"`
	SyncFreq    int    `yaml:"sync_freq"`
	FrontCache  int    `yaml:"front_cache"`
	OverflowCap int    `yaml:"overflow_cap"`
}

func (c *QueueConfig) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.FrontCache <= 0 {
		c.FrontCache = 1000
	}
	if c.OverflowCap <= 0 {
		c.OverflowCap = c.Capacity
	}
	if c.Path == "" {
		c.Path = "/var/lib/flowcored/queue.db"
	}
}

// EngineConfig configures the worker pool and main loop's reactor.
type EngineConfig struct {
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ReactorPollTimeout time.Duration `yaml:"reactor_poll_timeout"`
}

func (c *EngineConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 0 // 0 tells engine.PoolConfig to use runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 0
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.ReactorPollTimeout == 0 {
		c.ReactorPollTimeout = 200 * time.Millisecond
	}
}

// ListenerConfig configures one auto-detect TCP source.
type ListenerConfig struct {
	Name          string `yaml:"name"`
	Bind          string `yaml:"bind"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	ProxyProtocol bool   `yaml:"proxy_protocol"`
	Pipeline      string `yaml:"pipeline"`
}

func (c *ListenerConfig) applyDefaults() {
	if c.Bind == "" {
		c.Bind = "0.0.0.0:601"
	}
}

// KafkaConfig configures the reference Kafka destination driver.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	Template        string   `yaml:"template"`
	Compression     string   `yaml:"compression"` // "none", "gzip", "snappy", "lz4", "zstd"
	SASLEnabled     bool     `yaml:"sasl_enabled"`
	SASLMechanism   string   `yaml:"sasl_mechanism"` // "SCRAM-SHA-256", "SCRAM-SHA-512"
	SASLUser        string   `yaml:"sasl_user"`
	SASLPassword    string   `yaml:"sasl_password"`
	RequiredAcks    int16    `yaml:"required_acks"`
	FlushBytes      int      `yaml:"flush_bytes"`
}

// DestinationConfig configures one destination pipeline node.
type DestinationConfig struct {
	Name     string      `yaml:"name"`
	Type     string      `yaml:"type"` // "kafka" is the only built-in reference driver
	Queue    QueueConfig `yaml:"queue"`
	Kafka    KafkaConfig `yaml:"kafka"`
	Template string      `yaml:"template"`
}

func (c *DestinationConfig) applyDefaults() {
	c.Queue.applyDefaults()
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = "snappy"
	}
	if c.Kafka.RequiredAcks == 0 {
		c.Kafka.RequiredAcks = 1
	}
	if c.Template == "" {
		c.Template = "$ISODATE $HOST $MSG\n"
	}
}

// MetricsConfig configures the Prometheus collector registry and its
// HTTP exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Path    string `yaml:"path"`
}

func (c *MetricsConfig) applyDefaults() {
	if c.Bind == "" {
		c.Bind = "0.0.0.0:9541"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"` // "jaeger", "otlp", "console"
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}

func (c *TracingConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "flowcored"
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:4318/v1/traces"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

// ResourceMonitorConfig configures the background goroutine/memory sampler.
type ResourceMonitorConfig struct {
	Enabled            bool          `yaml:"enabled"`
	CheckInterval      time.Duration `yaml:"check_interval"`
	GoroutineThreshold int           `yaml:"goroutine_threshold"`
	GrowthSamples      int           `yaml:"growth_samples"`
}

func (c *ResourceMonitorConfig) applyDefaults() {
	if c.CheckInterval == 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.GoroutineThreshold <= 0 {
		c.GoroutineThreshold = 10000
	}
	if c.GrowthSamples <= 0 {
		c.GrowthSamples = 5
	}
}

// ControlConfig configures the Unix-domain-socket control protocol server.
type ControlConfig struct {
	SocketPath string `yaml:"socket_path"`
}

func (c *ControlConfig) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = "/var/run/flowcored/flowcored.ctl"
	}
}

// HotReloadConfig configures the config-file watcher.
type HotReloadConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

func (c *HotReloadConfig) applyDefaults() {
	if c.DebounceInterval == 0 {
		c.DebounceInterval = 500 * time.Millisecond
	}
}

// Config is the top-level, process-wide configuration document.
type Config struct {
	LogLevel  string               `yaml:"log_level"`
	LogFormat string               `yaml:"log_format"`

	Engine    EngineConfig         `yaml:"engine"`
	Listeners []ListenerConfig     `yaml:"listeners"`
	Dest      []DestinationConfig  `yaml:"destinations"`
	Metrics   MetricsConfig        `yaml:"metrics"`
	Tracing   TracingConfig        `yaml:"tracing"`
	Resource  ResourceMonitorConfig `yaml:"resource_monitor"`
	Control   ControlConfig        `yaml:"control"`
	HotReload HotReloadConfig      `yaml:"hot_reload"`

	loadedFrom string
}

// LoadConfig reads and validates a YAML configuration file at
// configFile, applying defaults for unset fields and then letting
// FLOWCORE_*-prefixed environment variables override both, in
// file -> defaults -> env precedence order.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
		}
		cfg.loadedFrom = configFile
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	cfg.Engine.applyDefaults()
	cfg.Metrics.applyDefaults()
	cfg.Tracing.applyDefaults()
	cfg.Resource.applyDefaults()
	cfg.Control.applyDefaults()
	cfg.HotReload.applyDefaults()
	for i := range cfg.Listeners {
		cfg.Listeners[i].applyDefaults()
	}
	for i := range cfg.Dest {
		cfg.Dest[i].applyDefaults()
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	cfg.LogLevel = getEnvString("FLOWCORE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvString("FLOWCORE_LOG_FORMAT", cfg.LogFormat)

	cfg.Engine.Workers = getEnvInt("FLOWCORE_ENGINE_WORKERS", cfg.Engine.Workers)
	cfg.Engine.QueueSize = getEnvInt("FLOWCORE_ENGINE_QUEUE_SIZE", cfg.Engine.QueueSize)

	cfg.Metrics.Enabled = getEnvBool("FLOWCORE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Bind = getEnvString("FLOWCORE_METRICS_BIND", cfg.Metrics.Bind)

	cfg.Tracing.Enabled = getEnvBool("FLOWCORE_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnvString("FLOWCORE_TRACING_ENDPOINT", cfg.Tracing.Endpoint)

	cfg.Control.SocketPath = getEnvString("FLOWCORE_CONTROL_SOCKET", cfg.Control.SocketPath)

	if brokers := getEnvString("FLOWCORE_KAFKA_BROKERS", ""); brokers != "" && len(cfg.Dest) > 0 {
		cfg.Dest[0].Kafka.Brokers = strings.Split(brokers, ",")
	}
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ValidateConfig checks a loaded, defaulted Config for internal
// consistency: required fields, mutually exclusive options, and known
// values (kafka compression codec). A listener's pipeline name is not
// checked against the configured destinations.
func ValidateConfig(cfg *Config) error {
	var errs []string

	if cfg.Engine.Workers < 0 {
		errs = append(errs, "engine.workers must not be negative")
	}
	for i, l := range cfg.Listeners {
		if l.Bind == "" {
			errs = append(errs, fmt.Sprintf("listeners[%d]: bind is required", i))
		}
		if (l.TLSCertFile == "") != (l.TLSKeyFile == "") {
			errs = append(errs, fmt.Sprintf("listeners[%d]: tls_cert_file and tls_key_file must both be set or both empty", i))
		}
	}
	for i, d := range cfg.Dest {
		if d.Type == "kafka" {
			if len(d.Kafka.Brokers) == 0 {
				errs = append(errs, fmt.Sprintf("destinations[%d]: kafka.brokers is required", i))
			}
			if d.Kafka.Topic == "" {
				errs = append(errs, fmt.Sprintf("destinations[%d]: kafka.topic is required", i))
			}
			switch d.Kafka.Compression {
			case "", "none", "gzip", "snappy", "lz4", "zstd":
			default:
				errs = append(errs, fmt.Sprintf("destinations[%d]: unknown kafka.compression %q", i, d.Kafka.Compression))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadedFrom returns the file path this Config was loaded from, or ""
// if it was constructed purely from defaults/environment.
func (c *Config) LoadedFrom() string { return c.loadedFrom }
