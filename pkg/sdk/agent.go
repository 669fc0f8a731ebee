package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soorma-ai/soorma/pkg/bus"
	"github.com/soorma-ai/soorma/pkg/envelope"
	"github.com/soorma-ai/soorma/pkg/registry"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultRequestTimeout    = 10 * time.Second
	heartbeatMaxBackoff      = 5 * time.Minute
)

// HandlerFunc processes one envelope. Errors are logged, never propagated
// to the bus.
type HandlerFunc func(ctx context.Context, env *envelope.Envelope) error

// Config configures an Agent.
type Config struct {
	AgentID         string
	Name            string
	Description     string
	AgentType       string
	EventServiceURL string
	RegistryURL     string

	Capabilities   []registry.Capability
	ProducedEvents []string

	// HeartbeatInterval defaults to 30 s, RequestTimeout to 10 s.
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
}

type handlerKey struct {
	topic     string
	eventType string
}

// Agent is one worker process's connection to the platform. Handlers are
// registered before Run; the table is read-only afterwards.
type Agent struct {
	cfg    Config
	client *Client

	// streamClient has no timeout: SSE reads are unbounded.
	streamClient *http.Client

	handlers map[handlerKey]HandlerFunc
	topics   map[string]bool
	consumed map[string]bool

	mu      sync.Mutex
	pending map[string]chan *envelope.Envelope
	running bool
}

// NewAgent creates an agent. Register handlers with OnEvent, then call Run.
func NewAgent(cfg Config) (*Agent, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("sdk: AgentID is required")
	}
	if cfg.EventServiceURL == "" {
		return nil, fmt.Errorf("sdk: EventServiceURL is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Agent{
		cfg:          cfg,
		client:       NewClient(cfg.EventServiceURL, cfg.RegistryURL),
		streamClient: &http.Client{Timeout: 0},
		handlers:     make(map[handlerKey]HandlerFunc),
		topics:       make(map[string]bool),
		consumed:     make(map[string]bool),
		pending:      make(map[string]chan *envelope.Envelope),
	}, nil
}

// OnEvent registers a handler for an event type on a topic pattern.
// Wildcard patterns subscribe but are not reported as consumed events on
// the registry — wildcards are implementation, not contract. Must be
// called before Run.
func (a *Agent) OnEvent(eventType string, topic string, h HandlerFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("sdk: OnEvent after Run")
	}
	if err := bus.ValidatePattern(topic); err != nil {
		return fmt.Errorf("sdk: %w", err)
	}
	key := handlerKey{topic: topic, eventType: eventType}
	if _, dup := a.handlers[key]; dup {
		return fmt.Errorf("sdk: duplicate handler for %s on %s", eventType, topic)
	}
	a.handlers[key] = h
	a.topics[topic] = true
	if !strings.ContainsAny(topic, "*>") {
		a.consumed[eventType] = true
	}
	return nil
}

// Run connects the agent: registry registration (failure leaves the agent
// in offline mode, it never exits), heartbeat loop, and the SSE dispatch
// loop. Blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("sdk: already running")
	}
	a.running = true
	a.mu.Unlock()

	if a.cfg.RegistryURL != "" {
		if err := a.register(ctx); err != nil {
			slog.Warn("Registration failed, continuing offline", "agent_id", a.cfg.AgentID, "error", err)
		}
		go a.heartbeatLoop(ctx)
	}

	streamLoop(ctx, a.streamClient, a.streamURL(), func(event, data string) {
		a.onFrame(ctx, event, data)
	})
	return ctx.Err()
}

// Publish sends one envelope through the Event Service.
func (a *Agent) Publish(ctx context.Context, env *envelope.Envelope) error {
	if env.Source == "" {
		env.Source = a.sourceName()
	}
	return a.client.Publish(ctx, env)
}

// Request publishes a request envelope and waits for the response whose
// correlation id matches. Returns ErrTimeout when the deadline passes;
// nothing is published on timeout beyond the original request.
func (a *Agent) Request(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	env.Normalize()

	ch := make(chan *envelope.Envelope, 1)
	a.mu.Lock()
	a.pending[env.CorrelationID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, env.CorrelationID)
		a.mu.Unlock()
	}()

	if err := a.Publish(ctx, env); err != nil {
		return nil, err
	}

	timer := time.NewTimer(a.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond derives and publishes the response the request asked for.
func (a *Agent) Respond(ctx context.Context, req *envelope.Envelope, data map[string]any) error {
	resp := req.Response(a.sourceName(), data)
	return a.client.Publish(ctx, resp)
}

func (a *Agent) sourceName() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return a.cfg.AgentID
}

// subscribedTopics is the deduplicated union of handler topics plus the
// response channel Request replies arrive on.
func (a *Agent) subscribedTopics() []string {
	set := map[string]bool{string(envelope.TopicActionResults): true}
	for t := range a.topics {
		set[t] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (a *Agent) streamURL() string {
	q := url.Values{}
	q.Set("agent_id", a.cfg.AgentID)
	if a.cfg.Name != "" {
		q.Set("agent_name", a.cfg.Name)
	}
	q.Set("topics", strings.Join(a.subscribedTopics(), ","))
	return a.client.eventServiceURL + "/v1/events/stream?" + q.Encode()
}

func (a *Agent) register(ctx context.Context) error {
	consumed := make([]string, 0, len(a.consumed))
	for e := range a.consumed {
		consumed = append(consumed, e)
	}
	sort.Strings(consumed)

	produced := a.cfg.ProducedEvents
	if produced == nil {
		produced = []string{}
	}
	return a.client.Register(ctx, &Registration{
		AgentID:        a.cfg.AgentID,
		Name:           a.cfg.Name,
		Description:    a.cfg.Description,
		AgentType:      a.cfg.AgentType,
		Capabilities:   a.cfg.Capabilities,
		ConsumedEvents: consumed,
		ProducedEvents: produced,
	})
}

// heartbeatLoop stamps liveness every interval. A failed heartbeat
// triggers one re-registration attempt; repeated failure backs off (capped)
// but the loop never exits.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := a.cfg.HeartbeatInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		err := a.client.Heartbeat(ctx, a.cfg.AgentID)
		if err == nil {
			backoff = interval
			continue
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Heartbeat failed, attempting re-registration", "agent_id", a.cfg.AgentID, "error", err)

		if regErr := a.register(ctx); regErr == nil {
			backoff = interval
			continue
		}

		backoff *= 2
		if backoff > heartbeatMaxBackoff {
			backoff = heartbeatMaxBackoff
		}
		slog.Warn("Re-registration failed, backing off", "agent_id", a.cfg.AgentID, "backoff", backoff)
	}
}

func (a *Agent) onFrame(ctx context.Context, event, data string) {
	switch event {
	case "connected":
		slog.Info("Event stream connected", "agent_id", a.cfg.AgentID)
	case "message":
		var env envelope.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			slog.Warn("Dropping malformed envelope", "error", err)
			return
		}
		if err := env.Validate(); err != nil {
			slog.Warn("Dropping invalid envelope", "event_id", env.ID, "error", err)
			return
		}
		a.dispatch(ctx, &env)
	case "heartbeat":
		// Liveness only.
	case "disconnected":
		slog.Info("Event stream closed by server", "agent_id", a.cfg.AgentID)
	}
}

// dispatch routes one envelope: pending request responses first, then the
// handler table keyed by (topic, event type), wildcard patterns included.
func (a *Agent) dispatch(ctx context.Context, env *envelope.Envelope) {
	a.mu.Lock()
	ch, waiting := a.pending[env.CorrelationID]
	if waiting {
		delete(a.pending, env.CorrelationID)
	}
	a.mu.Unlock()
	if waiting {
		ch <- env
		return
	}

	h := a.lookupHandler(string(env.Topic), env.Type)
	if h == nil {
		slog.Debug("No handler for envelope", "topic", env.Topic, "type", env.Type, "event_id", env.ID)
		return
	}
	if err := h(ctx, env); err != nil {
		slog.Error("Handler failed", "topic", env.Topic, "type", env.Type, "event_id", env.ID, "error", err)
	}
}

func (a *Agent) lookupHandler(topic, eventType string) HandlerFunc {
	if h, ok := a.handlers[handlerKey{topic: topic, eventType: eventType}]; ok {
		return h
	}
	for key, h := range a.handlers {
		if key.eventType != eventType {
			continue
		}
		if bus.MatchTopic(key.topic, topic) {
			return h
		}
	}
	return nil
}
