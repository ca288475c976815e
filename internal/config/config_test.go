package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "OUTPUT_DIR", "EXPORT_WORKERS", "DISPATCHER", "API_KEYS", "SHUTDOWN_TIMEOUT_SECONDS"} {
		t.Setenv(k, "")
	}
	cfg := Parse()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, DispatcherMemory, cfg.Dispatcher)
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestParseFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EXPORT_WORKERS", "8")
	t.Setenv("QUEUE_MAX_SIZE", "not-a-number")
	t.Setenv("DISPATCHER", "Redis")
	t.Setenv("API_KEYS", " k1, ,k2 ")

	cfg := Parse()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueMaxSize)
	assert.Equal(t, DispatcherRedis, cfg.Dispatcher)
	assert.Len(t, cfg.APIKeys, 2)
	assert.Contains(t, cfg.APIKeys, "k1")
	assert.Contains(t, cfg.APIKeys, "k2")
}
