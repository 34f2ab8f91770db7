package transport

import (
	"context"
	"fmt"
	"sync"
)

// InMem is an in-process transport bus. Every node registers its
// handler under its node ID; Send routes directly. Handlers run in
// their own goroutine so a slow receiver is bounded by the caller's
// context, the same isolation a network transport gives.
type InMem struct {
	mu    sync.RWMutex
	nodes map[string]Handler
	down  map[string]bool
}

// NewInMem creates an empty bus
func NewInMem() *InMem {
	return &InMem{
		nodes: make(map[string]Handler),
		down:  make(map[string]bool),
	}
}

// Register attaches a node's handler to the bus
func (t *InMem) Register(nodeID string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[nodeID] = h
}

// Deregister detaches a node
func (t *InMem) Deregister(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, nodeID)
	delete(t.down, nodeID)
}

// SetDown simulates a partition: deliveries to a down node fail
func (t *InMem) SetDown(nodeID string, down bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.down[nodeID] = down
}

type ackResult struct {
	ack Ack
	err error
}

// Send delivers one envelope and waits for the ack or ctx expiry
func (t *InMem) Send(ctx context.Context, peerID string, env Envelope) (Ack, error) {
	t.mu.RLock()
	h, ok := t.nodes[peerID]
	isDown := t.down[peerID]
	t.mu.RUnlock()

	if !ok {
		return Ack{}, fmt.Errorf("no route to peer %s", peerID)
	}
	if isDown {
		return Ack{}, fmt.Errorf("peer %s is down", peerID)
	}

	resCh := make(chan ackResult, 1)
	go func() {
		ack, err := h.HandleEnvelope(ctx, env)
		resCh <- ackResult{ack: ack, err: err}
	}()

	select {
	case res := <-resCh:
		return res.ack, res.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// Broadcast delivers to every registered node except the origin.
// Failures are collected but do not stop the fan-out.
func (t *InMem) Broadcast(ctx context.Context, env Envelope) error {
	t.mu.RLock()
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		if id != env.Origin {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if _, err := t.Send(ctx, id, env); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("broadcast to %s: %w", id, err)
		}
	}
	return firstErr
}
