package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
)

// PeerRegistry tracks every registered replication peer and its
// liveness. Liveness is a state machine fed by delivery outcomes and,
// when gossip is enabled, membership probes:
//
//	UNKNOWN -> REACHABLE    first successful delivery or probe
//	any     -> UNREACHABLE  consecutive failures past the threshold
//	UNREACHABLE -> REACHABLE any success
//	UNREACHABLE -> DEREGISTERED swept after the configured window
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*model.PeerNode
	// order preserves registration order for target selection
	order []string

	failureThreshold int
	deregisterAfter  time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewPeerRegistry creates an empty registry
func NewPeerRegistry(failureThreshold int, deregisterAfter time.Duration, logger *zap.Logger, m *metrics.Metrics) *PeerRegistry {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	return &PeerRegistry{
		peers:            make(map[string]*model.PeerNode),
		failureThreshold: failureThreshold,
		deregisterAfter:  deregisterAfter,
		logger:           logger,
		metrics:          m,
		stopChan:         make(chan struct{}),
	}
}

// Start launches the prolonged-unreachability sweep when configured
func (r *PeerRegistry) Start() {
	if r.deregisterAfter <= 0 {
		return
	}
	go r.sweepLoop()
}

// Stop terminates the sweep loop
func (r *PeerRegistry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// Register adds a peer or refreshes an existing registration. A
// re-register never duplicates and never loses the original
// registration slot.
func (r *PeerRegistry) Register(nodeID string, role model.PeerRole) error {
	if nodeID == "" {
		return errors.InvalidArgument("peer node ID must not be empty", nil)
	}
	if role != model.RoleMaster && role != model.RoleWorker {
		return errors.InvalidArgument("peer role must be master or worker", nil).
			WithDetail("role", string(role))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.peers[nodeID]; ok {
		existing.Role = role
		r.logger.Info("Peer registration refreshed",
			zap.String("node_id", nodeID),
			zap.String("role", string(role)))
		return nil
	}

	r.peers[nodeID] = &model.PeerNode{
		NodeID:         nodeID,
		Role:           role,
		RegisteredAt:   now,
		State:          model.PeerUnknown,
		StateChangedAt: now,
	}
	r.order = append(r.order, nodeID)

	r.logger.Info("Peer registered",
		zap.String("node_id", nodeID),
		zap.String("role", string(role)))
	r.updateStateGauges()
	return nil
}

// Deregister removes a peer permanently
func (r *PeerRegistry) Deregister(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[nodeID]; !ok {
		return errors.PeerNotFound(nodeID)
	}

	delete(r.peers, nodeID)
	for i, id := range r.order {
		if id == nodeID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("Peer deregistered", zap.String("node_id", nodeID))
	r.updateStateGauges()
	return nil
}

// Get returns a copy of one peer
func (r *PeerRegistry) Get(nodeID string) (*model.PeerNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[nodeID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Count returns the number of registered peers
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// List returns copies of all peers in registration order
func (r *PeerRegistry) List() []*model.PeerNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.PeerNode, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.peers[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// Candidates returns peers eligible for replication deliveries:
// masters first, then workers, each group in registration order.
// Unreachable peers are excluded.
func (r *PeerRegistry) Candidates() []*model.PeerNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	masters := make([]*model.PeerNode, 0, len(r.order))
	workers := make([]*model.PeerNode, 0, len(r.order))
	for _, id := range r.order {
		p, ok := r.peers[id]
		if !ok || !p.Available() {
			continue
		}
		cp := *p
		if p.Role == model.RoleMaster {
			masters = append(masters, &cp)
		} else {
			workers = append(workers, &cp)
		}
	}
	return append(masters, workers...)
}

// RecordSuccess marks a successful delivery or probe
func (r *PeerRegistry) RecordSuccess(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[nodeID]
	if !ok {
		return
	}

	p.Failures = 0
	p.LastSeen = time.Now().UTC()
	if p.State != model.PeerReachable {
		r.transition(p, model.PeerReachable)
	}
}

// RecordFailure marks a failed delivery; enough consecutive failures
// flip the peer to UNREACHABLE
func (r *PeerRegistry) RecordFailure(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[nodeID]
	if !ok {
		return
	}

	p.Failures++
	if p.Failures >= r.failureThreshold && p.State != model.PeerUnreachable {
		r.transition(p, model.PeerUnreachable)
	}
}

// MarkReachable is the gossip join/alive hook
func (r *PeerRegistry) MarkReachable(nodeID string) {
	r.RecordSuccess(nodeID)
}

// MarkUnreachable is the gossip leave/failure hook; it flips the state
// immediately rather than waiting out the failure threshold
func (r *PeerRegistry) MarkUnreachable(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[nodeID]
	if !ok {
		return
	}
	if p.State != model.PeerUnreachable {
		r.transition(p, model.PeerUnreachable)
	}
}

// transition flips liveness state; callers hold the write lock
func (r *PeerRegistry) transition(p *model.PeerNode, to model.PeerState) {
	from := p.State
	p.State = to
	p.StateChangedAt = time.Now().UTC()

	r.logger.Info("Peer liveness transition",
		zap.String("node_id", p.NodeID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("failures", p.Failures))
	r.updateStateGauges()
}

// sweepLoop deregisters peers that stayed unreachable too long
func (r *PeerRegistry) sweepLoop() {
	interval := r.deregisterAfter / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *PeerRegistry) sweep() {
	cutoff := time.Now().UTC().Add(-r.deregisterAfter)

	r.mu.Lock()
	var expired []string
	for id, p := range r.peers {
		if p.State == model.PeerUnreachable && p.StateChangedAt.Before(cutoff) {
			r.transition(p, model.PeerDeregistered)
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Warn("Sweeping peer after prolonged unreachability",
			zap.String("node_id", id),
			zap.Duration("window", r.deregisterAfter))
		if err := r.Deregister(id); err != nil {
			r.logger.Warn("Failed to sweep peer", zap.String("node_id", id), zap.Error(err))
		}
	}
}

// updateStateGauges refreshes per-state peer counts; callers hold at
// least the read lock
func (r *PeerRegistry) updateStateGauges() {
	if r.metrics == nil {
		return
	}

	counts := map[model.PeerState]int{
		model.PeerUnknown:      0,
		model.PeerReachable:    0,
		model.PeerUnreachable:  0,
		model.PeerDeregistered: 0,
	}
	for _, p := range r.peers {
		counts[p.State]++
	}
	for state, n := range counts {
		r.metrics.SetPeersByState(string(state), n)
	}
}
