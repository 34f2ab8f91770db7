package transport

import (
	"context"

	"github.com/stratafs/strata/internal/model"
)

// MessageKind tags what an envelope carries
type MessageKind string

const (
	// KindEntry delivers one journal entry to a peer
	KindEntry MessageKind = "entry"
	// KindClockAnnounce carries a periodic clock summary
	KindClockAnnounce MessageKind = "clock_announce"
)

// Envelope is the unit handed to the peer transport. The wire encoding
// is the transport implementation's concern.
type Envelope struct {
	Origin string              `json:"origin"`
	Kind   MessageKind         `json:"kind"`
	Entry  *model.JournalEntry `json:"entry,omitempty"`
	Clock  model.VectorClock   `json:"clock"`
}

// Ack is a peer's acknowledgement of one delivery
type Ack struct {
	PeerID string `json:"peer_id"`
	// Applied is false when the receiver classified the update as
	// stale or duplicate; the delivery still counts as acknowledged
	Applied bool `json:"applied"`
	// Clock is the receiver's merged clock after handling the envelope
	Clock model.VectorClock `json:"clock"`
}

// PeerTransport delivers envelopes to peers. Implementations live
// outside the metadata core; InMem ships for tests and single-process
// clusters. Send returns the peer's ack or an error (timeout included)
// that callers count as an unreachable delivery.
type PeerTransport interface {
	Send(ctx context.Context, peerID string, env Envelope) (Ack, error)
	Broadcast(ctx context.Context, env Envelope) error
}

// Handler is the receiving side a node exposes to its transport
type Handler interface {
	HandleEnvelope(ctx context.Context, env Envelope) (Ack, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, env Envelope) (Ack, error)

// HandleEnvelope implements Handler
func (f HandlerFunc) HandleEnvelope(ctx context.Context, env Envelope) (Ack, error) {
	return f(ctx, env)
}
