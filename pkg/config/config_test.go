package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEventService_Defaults(t *testing.T) {
	cfg, err := LoadEventService()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Adapter)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 1024, cfg.StreamMaxQueueSize)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
}

func TestLoadEventService_RejectsUnknownAdapter(t *testing.T) {
	t.Setenv("ADAPTER", "kafka")
	_, err := LoadEventService()
	assert.Error(t, err)
}

func TestLoadEventService_NATS(t *testing.T) {
	t.Setenv("ADAPTER", "nats")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("STREAM_MAX_QUEUE_SIZE", "16")

	cfg, err := LoadEventService()
	require.NoError(t, err)
	assert.Equal(t, "nats", cfg.Adapter)
	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, 16, cfg.StreamMaxQueueSize)
}

func TestLoadEventService_ValidationNeedsRegistry(t *testing.T) {
	t.Setenv("VALIDATE_PAYLOADS", "true")
	_, err := LoadEventService()
	assert.Error(t, err)

	t.Setenv("REGISTRY_URL", "http://localhost:8081")
	cfg, err := LoadEventService()
	require.NoError(t, err)
	assert.True(t, cfg.ValidatePayloads)
}

func TestLoadRegistry(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/soorma")
	t.Setenv("AGENT_TTL_SECONDS", "3")
	t.Setenv("AGENT_CLEANUP_INTERVAL_SECONDS", "1")

	cfg, err := LoadRegistry()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.AgentTTL())
	assert.Equal(t, time.Second, cfg.CleanupInterval())
}

func TestLoadRegistry_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := LoadRegistry()
	assert.Error(t, err)
}

func TestLoadMemory(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/soorma")
	t.Setenv("EMBEDDING_MODEL_DIM", "768")

	cfg, err := LoadMemory()
	require.NoError(t, err)
	assert.Equal(t, 768, cfg.EmbeddingModelDim)
	assert.Equal(t, "8082", cfg.Port)
}
