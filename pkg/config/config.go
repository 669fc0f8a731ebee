// Package config loads per-service configuration from the environment.
// Each service has a closed option set; unknown knobs do not exist.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotenv loads a .env file if present. Missing files are fine — the
// process environment wins either way.
func LoadDotenv(path string) {
	if err := godotenv.Load(path); err != nil {
		slog.Debug("No .env file loaded, using process environment", "path", path)
		return
	}
	slog.Info("Loaded environment", "path", path)
}

// EventService holds the Event Service options.
type EventService struct {
	// Adapter selects the bus backend: "memory" or "nats".
	Adapter string `env:"ADAPTER" envDefault:"memory"`
	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Port    string `env:"PORT" envDefault:"8080"`

	// StreamMaxQueueSize caps each SSE connection's pending-envelope queue.
	StreamMaxQueueSize int `env:"STREAM_MAX_QUEUE_SIZE" envDefault:"1024"`
	// StreamHeartbeatIntervalS is the SSE heartbeat period in seconds.
	StreamHeartbeatIntervalS int `env:"STREAM_HEARTBEAT_INTERVAL_S" envDefault:"30"`

	// ValidatePayloads turns on publish-side payload validation against
	// schemas registered at RegistryURL.
	ValidatePayloads bool   `env:"VALIDATE_PAYLOADS" envDefault:"false"`
	RegistryURL      string `env:"REGISTRY_URL"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	IsProd      bool     `env:"IS_PROD" envDefault:"false"`
}

// HeartbeatInterval returns the SSE heartbeat period as a duration.
func (c *EventService) HeartbeatInterval() time.Duration {
	return time.Duration(c.StreamHeartbeatIntervalS) * time.Second
}

// Registry holds the Registry Service options.
type Registry struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        string `env:"PORT" envDefault:"8081"`

	AgentTTLSeconds             int `env:"AGENT_TTL_SECONDS" envDefault:"300"`
	AgentCleanupIntervalSeconds int `env:"AGENT_CLEANUP_INTERVAL_SECONDS" envDefault:"60"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	IsProd      bool     `env:"IS_PROD" envDefault:"false"`
}

// AgentTTL returns the liveness window for registered agents.
func (c *Registry) AgentTTL() time.Duration {
	return time.Duration(c.AgentTTLSeconds) * time.Second
}

// CleanupInterval returns the reaper wake-up period.
func (c *Registry) CleanupInterval() time.Duration {
	return time.Duration(c.AgentCleanupIntervalSeconds) * time.Second
}

// Memory holds the Memory Service options.
type Memory struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        string `env:"PORT" envDefault:"8082"`

	// EmbeddingModelDim is the fixed dimension every stored vector must have.
	EmbeddingModelDim int `env:"EMBEDDING_MODEL_DIM" envDefault:"384"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	IsProd      bool     `env:"IS_PROD" envDefault:"false"`
}

// LoadEventService parses Event Service configuration from the environment.
func LoadEventService() (*EventService, error) {
	var cfg EventService
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Adapter != "memory" && cfg.Adapter != "nats" {
		return nil, fmt.Errorf("config: ADAPTER must be \"memory\" or \"nats\", got %q", cfg.Adapter)
	}
	if cfg.StreamMaxQueueSize < 1 {
		return nil, fmt.Errorf("config: STREAM_MAX_QUEUE_SIZE must be positive")
	}
	if cfg.ValidatePayloads && cfg.RegistryURL == "" {
		return nil, fmt.Errorf("config: VALIDATE_PAYLOADS requires REGISTRY_URL")
	}
	return &cfg, nil
}

// LoadRegistry parses Registry Service configuration from the environment.
func LoadRegistry() (*Registry, error) {
	var cfg Registry
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.AgentTTLSeconds < 1 {
		return nil, fmt.Errorf("config: AGENT_TTL_SECONDS must be positive")
	}
	if cfg.AgentCleanupIntervalSeconds < 1 {
		return nil, fmt.Errorf("config: AGENT_CLEANUP_INTERVAL_SECONDS must be positive")
	}
	return &cfg, nil
}

// LoadMemory parses Memory Service configuration from the environment.
func LoadMemory() (*Memory, error) {
	var cfg Memory
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.EmbeddingModelDim < 1 {
		return nil, fmt.Errorf("config: EMBEDDING_MODEL_DIM must be positive")
	}
	return &cfg, nil
}
