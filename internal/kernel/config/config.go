// Package config loads and validates the kernel's runtime configuration.
//
// Settings are read from environment variables, optionally seeded from a
// .env file via github.com/joho/godotenv (the same loading step
// cmd/tarsy/main.go performs before starting its own server), and the
// resulting values are validated against a JSON schema with
// github.com/santhosh-tekuri/jsonschema/v6 — the same library the kernel's
// capability package uses to validate plugin payloads against their
// declared schemas.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Config holds every tunable the kernel reads at startup. Zero values are
// never used directly: Load always applies a default before validation.
type Config struct {
	// MailboxCapacity bounds the orchestrator's event mailbox.
	MailboxCapacity int `json:"mailbox_capacity"`
	// CommandQueueCapacity bounds the orchestrator's external command channel.
	CommandQueueCapacity int `json:"command_queue_capacity"`

	// SchedulerPolicy selects admission ordering: "fifo" or "priority".
	SchedulerPolicy string `json:"scheduler_policy"`
	// SchedulerCeiling bounds concurrent admitted work.
	SchedulerCeiling int `json:"scheduler_ceiling"`

	// RateLimitRPS and RateLimitBurst configure the pipeline's per-subject
	// RateLimitStage that cmd/kerneld installs.
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`

	// EventLogCapacity bounds the in-memory ring the event log keeps
	// alongside its durable sink.
	EventLogCapacity int `json:"event_log_capacity"`

	// RedisAddr is the Redis address for a durable RedisSink or a
	// replicated manifeststore.Store. Load reads it, but nothing in this
	// module connects to it: cmd/kerneld always runs an ephemeral event log.
	RedisAddr string `json:"redis_addr"`
	// MongoURI is the MongoDB URI for a durable sessionstore. Load reads
	// it, but nothing in this module connects to it.
	MongoURI string `json:"mongo_uri"`

	// OTelEndpoint is the OTLP endpoint for telemetry export. Load reads
	// it, but nothing in this module sets up an exporter from it.
	OTelEndpoint string `json:"otel_endpoint"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `json:"log_level"`

	// PluginInvokeTimeout is read by Load, but nothing passes it to the
	// plugin host: a manifest without its own timeout gets
	// pluginhost.DefaultInvokeTimeout.
	PluginInvokeTimeout time.Duration `json:"-"`
}

// Load reads .env from envPath (a missing file is not an error — the
// process environment is used as-is, mirroring godotenv.Load's own
// semantics), applies defaults for every unset variable, and validates the
// result.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		// A missing .env file is expected in production, where
		// configuration arrives entirely through the environment.
		_ = godotenv.Load(envPath)
	}

	cfg := &Config{
		MailboxCapacity:      getEnvInt("KERNEL_MAILBOX_CAPACITY", 256),
		CommandQueueCapacity: getEnvInt("KERNEL_COMMAND_QUEUE_CAPACITY", 64),
		SchedulerPolicy:      getEnvString("KERNEL_SCHEDULER_POLICY", "fifo"),
		SchedulerCeiling:     getEnvInt("KERNEL_SCHEDULER_CEILING", 16),
		RateLimitRPS:         getEnvFloat("KERNEL_RATE_LIMIT_RPS", 50),
		RateLimitBurst:       getEnvInt("KERNEL_RATE_LIMIT_BURST", 100),
		EventLogCapacity:     getEnvInt("KERNEL_EVENT_LOG_CAPACITY", 4096),
		RedisAddr:            getEnvString("KERNEL_REDIS_ADDR", ""),
		MongoURI:             getEnvString("KERNEL_MONGO_URI", ""),
		OTelEndpoint:         getEnvString("KERNEL_OTEL_ENDPOINT", ""),
		LogLevel:             getEnvString("KERNEL_LOG_LEVEL", "info"),
		PluginInvokeTimeout:  getEnvDuration("KERNEL_PLUGIN_INVOKE_TIMEOUT", 30*time.Second),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the kernel's configuration schema.
func Validate(cfg *Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("config: unmarshal for validation: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

var configSchemaDoc = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"mailbox_capacity":       map[string]any{"type": "integer", "minimum": 1},
		"command_queue_capacity": map[string]any{"type": "integer", "minimum": 1},
		"scheduler_policy":       map[string]any{"type": "string", "enum": []any{"fifo", "priority"}},
		"scheduler_ceiling":      map[string]any{"type": "integer", "minimum": 1},
		"rate_limit_rps":         map[string]any{"type": "number", "exclusiveMinimum": 0},
		"rate_limit_burst":       map[string]any{"type": "integer", "minimum": 1},
		"event_log_capacity":     map[string]any{"type": "integer", "minimum": 1},
		"log_level":              map[string]any{"type": "string", "enum": []any{"debug", "info", "warn", "error"}},
	},
	"required": []any{"mailbox_capacity", "command_queue_capacity", "scheduler_policy", "scheduler_ceiling"},
}

func compiledSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("kernel-config.json", configSchemaDoc); err != nil {
		return nil, fmt.Errorf("config: add schema resource: %w", err)
	}
	schema, err := c.Compile("kernel-config.json")
	if err != nil {
		return nil, fmt.Errorf("config: compile schema: %w", err)
	}
	return schema, nil
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
