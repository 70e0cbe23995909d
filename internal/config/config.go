package config

import (
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv  = "PATCH_DISCOVERY_CONFIG"
	baseURLEnv     = "DISCOVERY_BASE_URL"
	apiTokenEnv    = "DISCOVERY_API_TOKEN"
	patchEnv       = "DISCOVERY_PATCH"
	databaseDSNEnv = "DATABASE_DSN"
	logLevelEnv    = "LOG_LEVEL"
	httpAddrEnv    = "HTTP_ADDR"
	webhookURLEnv  = "DIGEST_WEBHOOK_URL"
)

// Metric sources.
const (
	MetricsSourceHTTP     = "http"
	MetricsSourcePostgres = "postgres"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Backend  BackendConfig  `yaml:"backend"`
	Patch    string         `yaml:"patch"`
	Batch    BatchConfig    `yaml:"batch"`
	Stream   StreamConfig   `yaml:"stream"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// LoggingConfig selects level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BackendConfig locates the discovery backend.
type BackendConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	APIToken string `yaml:"apiToken"`
	// Transport names the stream transport: sse or longpoll.
	Transport  string  `yaml:"transport"`
	Timeout    string  `yaml:"timeout"`
	ControlRPS float64 `yaml:"controlRps"`
	timeout    time.Duration
}

// RequestTimeout is the parsed Timeout.
func (b BackendConfig) RequestTimeout() time.Duration { return b.timeout }

// BatchConfig bounds how many items one batch may accept.
type BatchConfig struct {
	BatchSize           *int   `yaml:"batchSize"`
	AutoLoop            *bool  `yaml:"autoLoop"`
	DelayBetweenBatches string `yaml:"delayBetweenBatches"`
	delay               time.Duration
}

// Size is the batch size; zero disables batching.
func (b BatchConfig) Size() int {
	if b.BatchSize == nil {
		return 0
	}
	return *b.BatchSize
}

// Auto reports whether batches continue automatically.
func (b BatchConfig) Auto() bool { return b.AutoLoop != nil && *b.AutoLoop }

// Delay is the parsed DelayBetweenBatches.
func (b BatchConfig) Delay() time.Duration { return b.delay }

// StreamConfig bounds stream reconnection.
type StreamConfig struct {
	MaxRetries     *int   `yaml:"maxRetries"`
	InitialBackoff string `yaml:"initialBackoff"`
	MaxBackoff     string `yaml:"maxBackoff"`
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Retries is the number of reconnect attempts before a run fails.
func (s StreamConfig) Retries() int {
	if s.MaxRetries == nil {
		return 0
	}
	return *s.MaxRetries
}

// Backoff returns the parsed initial and maximum reconnect delays.
func (s StreamConfig) Backoff() (initial, ceiling time.Duration) {
	return s.initialBackoff, s.maxBackoff
}

// MetricsConfig describes authoritative polling.
type MetricsConfig struct {
	Source       string `yaml:"source"`
	Table        string `yaml:"table"`
	FastInterval string `yaml:"fastInterval"`
	SlowInterval string `yaml:"slowInterval"`
	MaxBackoff   string `yaml:"maxBackoff"`
	fast         time.Duration
	slow         time.Duration
	maxBackoff   time.Duration
}

// Intervals returns the parsed fast and slow poll cadences.
func (m MetricsConfig) Intervals() (fast, slow time.Duration) { return m.fast, m.slow }

// Backoff is the parsed MaxBackoff.
func (m MetricsConfig) Backoff() time.Duration { return m.maxBackoff }

// DatabaseConfig describes Postgres connection details.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// HTTPConfig configures the presentation server.
type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	Heartbeat string `yaml:"heartbeat"`
	heartbeat time.Duration
}

// NotifyConfig points digests at an incoming webhook. Empty disables publishing.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhookUrl"`
}

// HeartbeatInterval is the parsed Heartbeat.
func (h HTTPConfig) HeartbeatInterval() time.Duration { return h.heartbeat }

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindDurations()
	cfg.normalize()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(baseURLEnv); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv(apiTokenEnv); v != "" {
		c.Backend.APIToken = v
	}
	if v := os.Getenv(patchEnv); v != "" {
		c.Patch = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(webhookURLEnv); v != "" {
		c.Notify.WebhookURL = v
	}
}

// bindDurations parses every duration string; invalid values keep the default.
func (c *Config) bindDurations() {
	def := defaultConfig()
	c.Backend.timeout = parseDuration("backend.timeout", c.Backend.Timeout, def.Backend.Timeout)
	c.Batch.delay = parseDuration("batch.delayBetweenBatches", c.Batch.DelayBetweenBatches, def.Batch.DelayBetweenBatches)
	c.Stream.initialBackoff = parseDuration("stream.initialBackoff", c.Stream.InitialBackoff, def.Stream.InitialBackoff)
	c.Stream.maxBackoff = parseDuration("stream.maxBackoff", c.Stream.MaxBackoff, def.Stream.MaxBackoff)
	c.Metrics.fast = parseDuration("metrics.fastInterval", c.Metrics.FastInterval, def.Metrics.FastInterval)
	c.Metrics.slow = parseDuration("metrics.slowInterval", c.Metrics.SlowInterval, def.Metrics.SlowInterval)
	c.Metrics.maxBackoff = parseDuration("metrics.maxBackoff", c.Metrics.MaxBackoff, def.Metrics.MaxBackoff)
	c.HTTP.heartbeat = parseDuration("http.heartbeat", c.HTTP.Heartbeat, def.HTTP.Heartbeat)
}

func parseDuration(name, value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	log.Printf("config: invalid duration %s=%q, reverting to %s", name, value, fallback)
	d, _ := time.ParseDuration(fallback)
	return d
}

func (c *Config) normalize() {
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	c.Backend.Transport = strings.ToLower(strings.TrimSpace(c.Backend.Transport))
	c.Metrics.Source = strings.ToLower(strings.TrimSpace(c.Metrics.Source))
	if c.Metrics.Source != MetricsSourceHTTP && c.Metrics.Source != MetricsSourcePostgres {
		log.Printf("config: unknown metrics source %q, reverting to %s", c.Metrics.Source, MetricsSourceHTTP)
		c.Metrics.Source = MetricsSourceHTTP
	}
	if c.Batch.BatchSize != nil && *c.Batch.BatchSize < 0 {
		c.Batch.BatchSize = intPtr(0)
	}
	if c.Stream.MaxRetries != nil && *c.Stream.MaxRetries < 0 {
		c.Stream.MaxRetries = intPtr(0)
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Backend.BaseURL != "" {
		base.Backend.BaseURL = override.Backend.BaseURL
	}
	if override.Backend.APIToken != "" {
		base.Backend.APIToken = override.Backend.APIToken
	}
	if override.Backend.Transport != "" {
		base.Backend.Transport = override.Backend.Transport
	}
	if override.Backend.Timeout != "" {
		base.Backend.Timeout = override.Backend.Timeout
	}
	if override.Backend.ControlRPS > 0 {
		base.Backend.ControlRPS = override.Backend.ControlRPS
	}

	if override.Patch != "" {
		base.Patch = override.Patch
	}

	if override.Batch.BatchSize != nil {
		base.Batch.BatchSize = override.Batch.BatchSize
	}
	if override.Batch.AutoLoop != nil {
		base.Batch.AutoLoop = override.Batch.AutoLoop
	}
	if override.Batch.DelayBetweenBatches != "" {
		base.Batch.DelayBetweenBatches = override.Batch.DelayBetweenBatches
	}

	if override.Stream.MaxRetries != nil {
		base.Stream.MaxRetries = override.Stream.MaxRetries
	}
	if override.Stream.InitialBackoff != "" {
		base.Stream.InitialBackoff = override.Stream.InitialBackoff
	}
	if override.Stream.MaxBackoff != "" {
		base.Stream.MaxBackoff = override.Stream.MaxBackoff
	}

	if override.Metrics.Source != "" {
		base.Metrics.Source = override.Metrics.Source
	}
	if override.Metrics.Table != "" {
		base.Metrics.Table = override.Metrics.Table
	}
	if override.Metrics.FastInterval != "" {
		base.Metrics.FastInterval = override.Metrics.FastInterval
	}
	if override.Metrics.SlowInterval != "" {
		base.Metrics.SlowInterval = override.Metrics.SlowInterval
	}
	if override.Metrics.MaxBackoff != "" {
		base.Metrics.MaxBackoff = override.Metrics.MaxBackoff
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}
	if override.HTTP.Heartbeat != "" {
		base.HTTP.Heartbeat = override.HTTP.Heartbeat
	}

	if override.Notify.WebhookURL != "" {
		base.Notify.WebhookURL = override.Notify.WebhookURL
	}

	return base
}

func defaultConfig() Config {
	autoLoop := false
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Backend: BackendConfig{
			BaseURL:    "http://localhost:3000",
			Transport:  "sse",
			Timeout:    "15s",
			ControlRPS: 2,
		},
		Patch: "default",
		Batch: BatchConfig{
			BatchSize:           intPtr(0),
			AutoLoop:            &autoLoop,
			DelayBetweenBatches: "30s",
		},
		Stream: StreamConfig{
			MaxRetries:     intPtr(5),
			InitialBackoff: "500ms",
			MaxBackoff:     "30s",
		},
		Metrics: MetricsConfig{
			Source:       MetricsSourceHTTP,
			Table:        "discovered_items",
			FastInterval: "2s",
			SlowInterval: "15s",
			MaxBackoff:   "1m",
		},
		Database: DatabaseConfig{DSN: ""},
		HTTP:     HTTPConfig{Addr: ":8080", Heartbeat: "15s"},
	}
}

func intPtr(v int) *int { return &v }
