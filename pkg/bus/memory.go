package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/soorma-ai/soorma/pkg/envelope"
)

// subChanSize is the per-subscription delivery buffer. Publishes never
// block on slow handlers; when a subscription's buffer is full the oldest
// buffered delivery is evicted to make room, so later envelopes win.
const subChanSize = 256

type memorySub struct {
	id         string
	patterns   []string
	handler    Handler
	queueGroup string

	// Delivery runs on a dedicated goroutine per subscription so envelopes
	// arrive at the handler in publish order.
	ch   chan delivery
	done chan struct{}
}

type delivery struct {
	topic string
	env   *envelope.Envelope
}

// MemoryAdapter is the in-process bus. Subscriptions are indexed in a
// single table; matching is O(#patterns) per publish, acceptable for the
// small fan-out this service sees.
type MemoryAdapter struct {
	mu        sync.RWMutex
	subs      map[string]*memorySub
	cursors   map[string]int // queue group → round-robin cursor
	connected bool
}

// NewMemoryAdapter creates a disconnected in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		subs:    make(map[string]*memorySub),
		cursors: make(map[string]int),
	}
}

func (a *MemoryAdapter) Name() string { return "memory" }

func (a *MemoryAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *MemoryAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	subs := make([]*memorySub, 0, len(a.subs))
	for _, s := range a.subs {
		subs = append(subs, s)
	}
	a.subs = make(map[string]*memorySub)
	a.cursors = make(map[string]int)
	a.connected = false
	a.mu.Unlock()

	for _, s := range subs {
		close(s.ch)
		<-s.done
	}
	return nil
}

func (a *MemoryAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *MemoryAdapter) Subscribe(_ context.Context, patterns []string, h Handler, subID, queueGroup string) (string, error) {
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
	if !a.connected {
		return "", fmt.Errorf("bus: memory adapter not connected")
	}
	if _, exists := a.subs[subID]; exists {
		return "", fmt.Errorf("bus: subscription %q already exists", subID)
	}

	sub := &memorySub{
		id:         subID,
		patterns:   patterns,
		handler:    h,
		queueGroup: queueGroup,
		ch:         make(chan delivery, subChanSize),
		done:       make(chan struct{}),
	}
	a.subs[subID] = sub
	go sub.run()
	return subID, nil
}

func (a *MemoryAdapter) Unsubscribe(_ context.Context, subID string) error {
	a.mu.Lock()
	sub, ok := a.subs[subID]
	if ok {
		delete(a.subs, subID)
	}
	a.mu.Unlock()

	if ok {
		close(sub.ch)
		<-sub.done
	}
	return nil
}

// Publish fans an envelope out to matching subscriptions: every matching
// group-less subscription receives it, and each queue group with at least
// one matching member delivers to exactly one member chosen by a per-group
// round-robin cursor. Never blocks on slow consumers.
func (a *MemoryAdapter) Publish(_ context.Context, topic string, env *envelope.Envelope) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("bus: memory adapter not connected")
	}

	var targets []*memorySub
	groups := make(map[string][]*memorySub)
	for _, sub := range a.subs {
		if !matchAny(sub.patterns, topic) {
			continue
		}
		if sub.queueGroup == "" {
			targets = append(targets, sub)
		} else {
			groups[sub.queueGroup] = append(groups[sub.queueGroup], sub)
		}
	}

	// Deterministic round-robin: members ordered by subscription id, one
	// cursor per group, independent of other groups.
	for group, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })
		cursor := a.cursors[group]
		targets = append(targets, members[cursor%len(members)])
		a.cursors[group] = cursor + 1
	}
	a.mu.Unlock()

	for _, sub := range targets {
		sub.enqueue(delivery{topic: topic, env: env})
	}
	return nil
}

// enqueue places a delivery on the buffer, evicting the oldest pending
// delivery when full. Runs on the publisher — must never block.
func (s *memorySub) enqueue(d delivery) {
	for {
		select {
		case s.ch <- d:
			return
		default:
		}
		// Full: evict the head and retry. The delivery goroutine may race
		// us for the head; either way the new delivery lands on the next
		// pass.
		select {
		case dropped := <-s.ch:
			slog.Warn("Memory adapter: subscription buffer full, dropped oldest message",
				"subscription_id", s.id, "topic", dropped.topic, "event_id", dropped.env.ID)
		default:
		}
	}
}

// run delivers envelopes in order and shields the adapter from handler
// failures: errors are logged, panics recovered.
func (s *memorySub) run() {
	defer close(s.done)
	for d := range s.ch {
		s.dispatch(d)
	}
}

func (s *memorySub) dispatch(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Memory adapter: handler panicked",
				"subscription_id", s.id, "topic", d.topic, "panic", r)
		}
	}()
	if err := s.handler(d.topic, d.env); err != nil {
		slog.Error("Memory adapter: handler error",
			"subscription_id", s.id, "topic", d.topic, "error", err)
	}
}
