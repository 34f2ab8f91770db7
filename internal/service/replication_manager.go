package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stratafs/strata/internal/algorithm"
	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/store"
	"github.com/stratafs/strata/internal/transport"
)

// ReplicationManager fans journal entries out to peers and classifies
// the result. The local durable copy always counts as one success;
// each acked delivery adds one. Quorum is a hard floor: a cluster too
// small to reach it produces FAILED records rather than a quietly
// lowered bar.
type ReplicationManager struct {
	nodeID    string
	jm        *JournalManager
	sync      *ClusterSyncService
	registry  *PeerRegistry
	transport transport.PeerTransport
	records   store.RecordStore
	placement *algorithm.PlacementCalculator

	quorumSize      int
	targetFactor    int
	maxFactor       int
	deliveryTimeout time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// ReplicationConfig holds replication manager configuration
type ReplicationConfig struct {
	QuorumSize      int
	TargetFactor    int
	MaxFactor       int
	DeliveryTimeout time.Duration
}

// NewReplicationManager creates a replication manager
func NewReplicationManager(cfg ReplicationConfig, jm *JournalManager, syncSvc *ClusterSyncService, registry *PeerRegistry, tr transport.PeerTransport, records store.RecordStore, logger *zap.Logger, m *metrics.Metrics) *ReplicationManager {
	return &ReplicationManager{
		nodeID:          jm.nodeID,
		jm:              jm,
		sync:            syncSvc,
		registry:        registry,
		transport:       tr,
		records:         records,
		placement:       algorithm.NewPlacementCalculator(),
		quorumSize:      cfg.QuorumSize,
		targetFactor:    cfg.TargetFactor,
		maxFactor:       cfg.MaxFactor,
		deliveryTimeout: cfg.DeliveryTimeout,
		logger:          logger,
		metrics:         m,
	}
}

// RegisterPeer adds a peer to the replication set
func (r *ReplicationManager) RegisterPeer(nodeID string, role model.PeerRole) error {
	if nodeID == r.nodeID {
		return errors.InvalidArgument("a node cannot register itself as a peer", nil).
			WithDetail("node_id", nodeID)
	}
	return r.registry.Register(nodeID, role)
}

// DeregisterPeer removes a peer from the replication set
func (r *ReplicationManager) DeregisterPeer(nodeID string) error {
	return r.registry.Deregister(nodeID)
}

// Write journals a local mutation and replicates it. The entry is
// durable locally before any delivery starts; a durability failure
// aborts the write with no record written.
func (r *ReplicationManager) Write(ctx context.Context, opType model.OpType, path string, payload model.EntryPayload, requestedLevel int) (*model.JournalEntry, *model.ReplicationRecord, error) {
	entry, err := r.jm.Append(ctx, opType, path, payload)
	if err != nil {
		return nil, nil, err
	}

	record, err := r.ReplicateEntry(ctx, entry, requestedLevel)
	if err != nil {
		return entry, nil, err
	}
	return entry, record, nil
}

// ReplicateEntry fans one committed entry out to the planned peers and
// persists the outcome. requestedLevel overrides the configured target
// factor when positive; zero means use the configuration. Deliveries
// run concurrently and in isolation: one slow or dead peer costs its
// own timeout, never the others' results.
func (r *ReplicationManager) ReplicateEntry(ctx context.Context, entry *model.JournalEntry, requestedLevel int) (*model.ReplicationRecord, error) {
	if entry == nil {
		return nil, errors.InvalidArgument("cannot replicate a nil entry", nil)
	}
	if requestedLevel < 0 {
		return nil, errors.InvalidArgument("requested level must not be negative", nil).
			WithDetail("requested_level", requestedLevel)
	}

	started := time.Now()
	candidates := r.registry.Candidates()
	plan := r.placement.Plan(r.targetFactor, r.maxFactor, requestedLevel, r.registry.Count(), candidates)

	r.logger.Info("Replicating entry",
		zap.String("entry_id", entry.EntryID),
		zap.Uint64("offset", entry.Offset),
		zap.Int("total_nodes", plan.TotalNodes),
		zap.Int("effective_target", plan.EffectiveTarget),
		zap.Int("quorum_size", r.quorumSize),
		zap.Strings("target_nodes", plan.TargetNodes))

	record := &model.ReplicationRecord{
		EntryID:        entry.EntryID,
		RequestedLevel: requestedLevel,
		TargetFactor:   plan.EffectiveTarget,
		MaxFactor:      r.maxFactor,
		QuorumSize:     r.quorumSize,
		TargetNodes:    plan.TargetNodes,
		Outcomes:       make(map[string]model.NodeOutcome, len(plan.TargetNodes)),
		Status:         model.ReplicationPending,
		// The local journal append already succeeded
		SuccessCount: 1,
		HasAnyCopy:   true,
		CreatedAt:    started.UTC(),
	}

	outcomes := r.fanOut(ctx, entry, plan.TargetNodes)
	for nodeID, outcome := range outcomes {
		record.Outcomes[nodeID] = outcome
		if outcome.Success {
			record.SuccessCount++
		}
	}

	record.Status, record.SuccessLevel = r.placement.Classify(record.SuccessCount, r.quorumSize, plan.EffectiveTarget)
	record.Success = r.placement.IsQuorumReached(record.SuccessCount, r.quorumSize)
	record.CompletedAt = time.Now().UTC()

	if record.Success {
		entry.Status = model.EntryReplicated
	}

	if err := r.records.Put(ctx, record); err != nil {
		r.logger.Warn("Failed to persist replication record",
			zap.String("entry_id", entry.EntryID),
			zap.Error(err))
	}

	if r.metrics != nil {
		r.metrics.RecordReplication(string(record.SuccessLevel), time.Since(started).Seconds())
	}
	r.logger.Info("Replication completed",
		zap.String("entry_id", entry.EntryID),
		zap.Int("success_count", record.SuccessCount),
		zap.String("status", string(record.Status)),
		zap.String("success_level", string(record.SuccessLevel)))

	return record, nil
}

// fanOut delivers the entry to every target concurrently. Failures are
// collected, never propagated; a peer's outcome is independent of the
// others.
func (r *ReplicationManager) fanOut(ctx context.Context, entry *model.JournalEntry, targets []string) map[string]model.NodeOutcome {
	outcomes := make(map[string]model.NodeOutcome, len(targets))
	if len(targets) == 0 {
		return outcomes
	}

	env := transport.Envelope{
		Origin: r.nodeID,
		Kind:   transport.KindEntry,
		Entry:  entry,
		Clock:  entry.Clock,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, nodeID := range targets {
		nodeID := nodeID
		g.Go(func() error {
			outcome := r.deliver(gctx, nodeID, env)
			mu.Lock()
			outcomes[nodeID] = outcome
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

// deliver sends one envelope under its own timeout and feeds the
// result into liveness and clock bookkeeping
func (r *ReplicationManager) deliver(ctx context.Context, nodeID string, env transport.Envelope) model.NodeOutcome {
	sendCtx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	defer cancel()

	started := time.Now()
	ack, err := r.transport.Send(sendCtx, nodeID, env)
	latency := time.Since(started)

	if err != nil {
		r.registry.RecordFailure(nodeID)
		if r.metrics != nil {
			r.metrics.RecordPeerDelivery(nodeID, "failure")
		}
		r.logger.Warn("Delivery failed",
			zap.String("node_id", nodeID),
			zap.String("entry_id", env.Entry.EntryID),
			zap.Duration("latency", latency),
			zap.Error(err))
		return model.NodeOutcome{
			NodeID:      nodeID,
			Success:     false,
			Error:       err.Error(),
			Latency:     latency,
			DeliveredAt: time.Now().UTC(),
		}
	}

	r.registry.RecordSuccess(nodeID)
	r.sync.AckPeer(nodeID, ack.Clock)
	if r.metrics != nil {
		r.metrics.RecordPeerDelivery(nodeID, "success")
	}

	return model.NodeOutcome{
		NodeID:      nodeID,
		Success:     true,
		Latency:     latency,
		AckedOffset: env.Entry.Offset,
		DeliveredAt: time.Now().UTC(),
	}
}

// GetReplicationStatus returns the persisted record for one entry
func (r *ReplicationManager) GetReplicationStatus(ctx context.Context, entryID string) (*model.ReplicationRecord, error) {
	if entryID == "" {
		return nil, errors.InvalidArgument("entry ID must not be empty", nil)
	}

	record, err := r.records.Get(ctx, entryID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errors.RecordNotFound(entryID)
		}
		return nil, errors.InternalError("failed to load replication record", err)
	}
	return record, nil
}

// Peers returns the current peer list with liveness state
func (r *ReplicationManager) Peers() []*model.PeerNode {
	return r.registry.List()
}
