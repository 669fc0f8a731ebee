// Package bus provides the pluggable message-bus capability the Event
// Service is built on: publish, pattern subscriptions, and load-balancing
// queue groups. Two adapters exist — an in-process one for single-node
// deployments and tests, and a NATS-backed one for clusters. The Event
// Service treats them identically.
package bus

import (
	"context"
	"fmt"

	"github.com/soorma-ai/soorma/pkg/envelope"
)

// Handler receives a matched envelope. The topic argument is the concrete
// topic the envelope was published on (not the pattern that matched it).
// A returned error is logged by the adapter, never propagated to the
// publisher.
type Handler func(topic string, env *envelope.Envelope) error

// Adapter is the capability set the Event Service consumes. Implementations
// must be safe for concurrent use.
type Adapter interface {
	// Connect establishes the backend connection. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection and all subscriptions.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the adapter can currently publish.
	IsConnected() bool

	// Publish sends an envelope to a topic. The envelope is serialized as
	// JSON on the wire.
	Publish(ctx context.Context, topic string, env *envelope.Envelope) error

	// Subscribe registers a handler for one or more topic patterns.
	// Pattern tokens are '.'-separated; '*' matches exactly one token and
	// '>' matches one or more trailing tokens (final position only).
	//
	// A non-empty queueGroup makes delivery load-balanced: each matching
	// message goes to exactly one subscription in the group, selected by
	// deterministic round-robin. An empty queueGroup means broadcast.
	//
	// subID identifies the subscription for Unsubscribe; it is returned
	// unchanged on success.
	Subscribe(ctx context.Context, patterns []string, h Handler, subID, queueGroup string) (string, error)

	// Unsubscribe removes a subscription. Unknown ids are a no-op.
	Unsubscribe(ctx context.Context, subID string) error

	// Name identifies the adapter variant ("memory" or "nats").
	Name() string
}

// Kind selects the adapter variant at startup.
type Kind string

const (
	KindMemory Kind = "memory"
	KindNATS   Kind = "nats"
)

// New constructs an adapter for the given kind. natsURL is only used by
// the NATS variant.
func New(kind Kind, natsURL string) (Adapter, error) {
	switch kind {
	case KindMemory:
		return NewMemoryAdapter(), nil
	case KindNATS:
		return NewNATSAdapter(natsURL), nil
	default:
		return nil, fmt.Errorf("bus: unknown adapter kind %q", kind)
	}
}
