package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearKernelEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"KERNEL_MAILBOX_CAPACITY", "KERNEL_COMMAND_QUEUE_CAPACITY",
		"KERNEL_SCHEDULER_POLICY", "KERNEL_SCHEDULER_CEILING",
		"KERNEL_RATE_LIMIT_RPS", "KERNEL_RATE_LIMIT_BURST",
		"KERNEL_EVENT_LOG_CAPACITY", "KERNEL_REDIS_ADDR", "KERNEL_MONGO_URI",
		"KERNEL_OTEL_ENDPOINT", "KERNEL_LOG_LEVEL", "KERNEL_PLUGIN_INVOKE_TIMEOUT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadAppliesDefaultsWithNoEnvOrFile(t *testing.T) {
	clearKernelEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.MailboxCapacity)
	assert.Equal(t, 64, cfg.CommandQueueCapacity)
	assert.Equal(t, "fifo", cfg.SchedulerPolicy)
	assert.Equal(t, 16, cfg.SchedulerCeiling)
	assert.Equal(t, 50.0, cfg.RateLimitRPS)
	assert.Equal(t, 30*time.Second, cfg.PluginInvokeTimeout)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	clearKernelEnv(t)
	t.Setenv("KERNEL_SCHEDULER_POLICY", "priority")
	t.Setenv("KERNEL_SCHEDULER_CEILING", "8")
	t.Setenv("KERNEL_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "priority", cfg.SchedulerPolicy)
	assert.Equal(t, 8, cfg.SchedulerCeiling)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	clearKernelEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("KERNEL_SCHEDULER_CEILING=4\nKERNEL_LOG_LEVEL=warn\n"), 0o600))

	cfg, err := Load(envPath)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.SchedulerCeiling)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadMissingDotEnvFileIsNotAnError(t *testing.T) {
	clearKernelEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	assert.Equal(t, "fifo", cfg.SchedulerPolicy)
}

func TestValidateRejectsUnknownSchedulerPolicy(t *testing.T) {
	cfg := &Config{
		MailboxCapacity:      256,
		CommandQueueCapacity: 64,
		SchedulerPolicy:      "round-robin",
		SchedulerCeiling:     16,
		RateLimitRPS:         10,
		RateLimitBurst:       20,
		EventLogCapacity:     1024,
		LogLevel:             "info",
	}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsZeroSchedulerCeiling(t *testing.T) {
	cfg := &Config{
		MailboxCapacity:      256,
		CommandQueueCapacity: 64,
		SchedulerPolicy:      "fifo",
		SchedulerCeiling:     0,
		RateLimitRPS:         10,
		RateLimitBurst:       20,
		EventLogCapacity:     1024,
		LogLevel:             "info",
	}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		MailboxCapacity:      256,
		CommandQueueCapacity: 64,
		SchedulerPolicy:      "fifo",
		SchedulerCeiling:     16,
		RateLimitRPS:         10,
		RateLimitBurst:       20,
		EventLogCapacity:     1024,
		LogLevel:             "info",
	}
	assert.NoError(t, Validate(cfg))
}
