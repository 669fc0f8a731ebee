package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/soorma-ai/soorma/pkg/envelope"
)

// subjectPrefix namespaces every platform topic on the NATS side so a
// shared NATS cluster can host other traffic. Stripped before handlers
// see the topic.
const subjectPrefix = "soorma.events."

// NATSAdapter is the cluster bus. It maps topics to prefixed NATS
// subjects and queue groups directly to NATS queue groups, which gives
// the same exactly-one-per-group delivery as the in-memory adapter.
// Reconnection is delegated to the NATS client; reconnect events are
// logged but not surfaced to callers.
type NATSAdapter struct {
	url string

	mu   sync.Mutex
	conn *nats.Conn
	subs map[string][]*nats.Subscription
}

// NewNATSAdapter creates a disconnected NATS adapter for the given URL.
func NewNATSAdapter(url string) *NATSAdapter {
	return &NATSAdapter{
		url:  url,
		subs: make(map[string][]*nats.Subscription),
	}
}

func (a *NATSAdapter) Name() string { return "nats" }

func (a *NATSAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil && !a.conn.IsClosed() {
		return nil
	}

	conn, err := nats.Connect(a.url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	a.conn = conn
	slog.Info("NATS connected", "url", a.url)
	return nil
}

// Disconnect drains the connection so in-flight deliveries finish before
// the sockets close. Falls back to Close if Drain errors.
func (a *NATSAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
	}
	a.conn = nil
	a.subs = make(map[string][]*nats.Subscription)
	return nil
}

func (a *NATSAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil && a.conn.IsConnected()
}

func (a *NATSAdapter) Publish(_ context.Context, topic string, env *envelope.Envelope) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("bus: NATS adapter not connected")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	if err := conn.Publish(subjectPrefix+topic, data); err != nil {
		return fmt.Errorf("bus: NATS publish: %w", err)
	}
	return nil
}

func (a *NATSAdapter) Subscribe(_ context.Context, patterns []string, h Handler, subID, queueGroup string) (string, error) {
	if len(patterns) == 0 {
		return "", fmt.Errorf("bus: at least one pattern is required")
	}
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return "", err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return "", fmt.Errorf("bus: NATS adapter not connected")
	}
	if _, exists := a.subs[subID]; exists {
		return "", fmt.Errorf("bus: subscription %q already exists", subID)
	}

	msgHandler := func(msg *nats.Msg) {
		topic := strings.TrimPrefix(msg.Subject, subjectPrefix)
		var env envelope.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			slog.Error("NATS adapter: dropping malformed envelope",
				"subscription_id", subID, "topic", topic, "error", err)
			return
		}
		if err := h(topic, &env); err != nil {
			slog.Error("NATS adapter: handler error",
				"subscription_id", subID, "topic", topic, "error", err)
		}
	}

	// Our pattern tokens ('*', trailing '>') are NATS subject wildcards,
	// so patterns map to subjects by prefixing alone.
	created := make([]*nats.Subscription, 0, len(patterns))
	for _, pattern := range patterns {
		subject := subjectPrefix + pattern
		var (
			sub *nats.Subscription
			err error
		)
		if queueGroup != "" {
			sub, err = a.conn.QueueSubscribe(subject, queueGroup, msgHandler)
		} else {
			sub, err = a.conn.Subscribe(subject, msgHandler)
		}
		if err != nil {
			for _, s := range created {
				_ = s.Unsubscribe()
			}
			return "", fmt.Errorf("bus: NATS subscribe %q: %w", subject, err)
		}
		created = append(created, sub)
	}

	a.subs[subID] = created
	return subID, nil
}

func (a *NATSAdapter) Unsubscribe(_ context.Context, subID string) error {
	a.mu.Lock()
	subs, ok := a.subs[subID]
	if ok {
		delete(a.subs, subID)
	}
	a.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			slog.Warn("NATS adapter: unsubscribe failed", "subscription_id", subID, "error", err)
		}
	}
	return nil
}
