// Package eventservice is the HTTP/SSE gateway in front of the bus: agents
// POST envelopes to publish and hold a Server-Sent-Events stream to receive.
// Each stream owns a bounded queue with drop-oldest overflow so a slow
// consumer can never back-pressure the bus.
package eventservice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soorma-ai/soorma/pkg/bus"
	"github.com/soorma-ai/soorma/pkg/envelope"
)

// Connection is a single live SSE stream and its pending-envelope queue.
//
// The queue is single-producer (the adapter's delivery goroutine) and
// single-consumer (the SSE write loop). enqueue never blocks: when the
// queue is full the oldest pending envelope is dropped to make room.
type Connection struct {
	ID         string
	AgentID    string
	AgentName  string
	Topics     []string
	QueueGroup string

	ConnectedAt time.Time

	queue   chan *envelope.Envelope
	dropped atomic.Int64
}

// Queue returns the receive side of the connection's envelope queue.
func (c *Connection) Queue() <-chan *envelope.Envelope { return c.queue }

// Dropped returns how many envelopes this connection has dropped.
func (c *Connection) Dropped() int64 { return c.dropped.Load() }

// enqueue places an envelope on the queue, dropping the oldest pending
// envelope when full. Runs on the adapter callback — must never block.
func (c *Connection) enqueue(env *envelope.Envelope) {
	for {
		select {
		case c.queue <- env:
			return
		default:
		}
		// Full: evict the head and retry. The consumer may race us for
		// the head; either way the new envelope lands on the next pass.
		select {
		case <-c.queue:
			c.dropped.Add(1)
		default:
		}
	}
}

// ConnectionInfo is the admin-facing snapshot of one connection.
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	AgentID      string    `json:"agent_id"`
	AgentName    string    `json:"agent_name,omitempty"`
	Topics       []string  `json:"topics"`
	QueueGroup   string    `json:"queue_group"`
	Queued       int       `json:"queued"`
	Dropped      int64     `json:"dropped"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// StreamManager owns all live SSE connections for this process and wires
// each one to a bus subscription.
type StreamManager struct {
	adapter   bus.Adapter
	queueSize int

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewStreamManager creates a manager delivering through the given adapter.
func NewStreamManager(adapter bus.Adapter, queueSize int) *StreamManager {
	return &StreamManager{
		adapter:   adapter,
		queueSize: queueSize,
		conns:     make(map[string]*Connection),
	}
}

// Open registers a new stream: allocates the bounded queue and subscribes
// it on the bus. agentName, when present, is the queue group — N instances
// of the same logical agent then share one delivery per message. Otherwise
// agentID is used, which keeps distinct agents on broadcast semantics.
func (m *StreamManager) Open(ctx context.Context, agentID, agentName string, topics []string) (*Connection, error) {
	queueGroup := agentName
	if queueGroup == "" {
		queueGroup = agentID
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		AgentName:   agentName,
		Topics:      topics,
		QueueGroup:  queueGroup,
		ConnectedAt: time.Now().UTC(),
		queue:       make(chan *envelope.Envelope, m.queueSize),
	}

	_, err := m.adapter.Subscribe(ctx, topics, func(_ string, env *envelope.Envelope) error {
		conn.enqueue(env)
		return nil
	}, conn.ID, queueGroup)
	if err != nil {
		return nil, fmt.Errorf("subscribe stream: %w", err)
	}

	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.mu.Unlock()
	return conn, nil
}

// Close unsubscribes the connection and removes it from the table.
func (m *StreamManager) Close(ctx context.Context, conn *Connection) {
	m.mu.Lock()
	delete(m.conns, conn.ID)
	m.mu.Unlock()
	_ = m.adapter.Unsubscribe(ctx, conn.ID)
}

// Count returns the number of live connections.
func (m *StreamManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Snapshot returns admin metadata for every live connection.
func (m *StreamManager) Snapshot() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(m.conns))
	for _, c := range m.conns {
		infos = append(infos, ConnectionInfo{
			ConnectionID: c.ID,
			AgentID:      c.AgentID,
			AgentName:    c.AgentName,
			Topics:       c.Topics,
			QueueGroup:   c.QueueGroup,
			Queued:       len(c.queue),
			Dropped:      c.Dropped(),
			ConnectedAt:  c.ConnectedAt,
		})
	}
	return infos
}
