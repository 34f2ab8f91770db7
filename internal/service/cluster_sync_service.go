package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/algorithm"
	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/storage/fstree"
	"github.com/stratafs/strata/internal/transport"
)

// ClusterSyncService is the receiving half of replication. It decides
// what to do with each remote entry by comparing vector clocks per
// path, keeps per-peer clock bookkeeping for lag detection, and
// answers every delivery with an ack carrying the merged local clock.
//
// The decision table for an incoming entry against the path's local
// version:
//
//	no local version      apply
//	local BEFORE remote   apply, remote is causally newer
//	local AFTER remote    ignore, stale redelivery
//	EQUAL                 ignore, duplicate
//	CONCURRENT            conflict resolver picks the winner
type ClusterSyncService struct {
	nodeID   string
	jm       *JournalManager
	tree     *fstree.Tree
	clock    *VectorClockService
	resolver ConflictResolver
	vcOps    *algorithm.VectorClockOps

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu sync.RWMutex
	// peerClocks holds the last clock seen from each peer, fed by
	// incoming envelopes and by acks the replication manager relays
	peerClocks map[string]model.VectorClock
}

// NewClusterSyncService creates the sync service. A nil resolver
// defaults to last-writer-wins.
func NewClusterSyncService(jm *JournalManager, tree *fstree.Tree, clock *VectorClockService, resolver ConflictResolver, logger *zap.Logger, m *metrics.Metrics) *ClusterSyncService {
	if resolver == nil {
		resolver = NewLastWriterWins()
	}
	return &ClusterSyncService{
		nodeID:     clock.NodeID(),
		jm:         jm,
		tree:       tree,
		clock:      clock,
		resolver:   resolver,
		vcOps:      algorithm.NewVectorClockOps(),
		logger:     logger,
		metrics:    m,
		peerClocks: make(map[string]model.VectorClock),
	}
}

// HandleEnvelope implements transport.Handler
func (s *ClusterSyncService) HandleEnvelope(ctx context.Context, env transport.Envelope) (transport.Ack, error) {
	switch env.Kind {
	case transport.KindEntry:
		applied, err := s.OnRemoteUpdate(ctx, env.Entry)
		if err != nil {
			return transport.Ack{}, err
		}
		s.recordPeerClock(env.Origin, env.Clock)
		return transport.Ack{
			PeerID:  s.nodeID,
			Applied: applied,
			Clock:   s.clock.Current(),
		}, nil

	case transport.KindClockAnnounce:
		s.recordPeerClock(env.Origin, env.Clock)
		return transport.Ack{
			PeerID: s.nodeID,
			Clock:  s.clock.Current(),
		}, nil

	default:
		s.logger.Warn("Dropping envelope of unknown kind",
			zap.String("kind", string(env.Kind)),
			zap.String("origin", env.Origin))
		return transport.Ack{PeerID: s.nodeID, Clock: s.clock.Current()}, nil
	}
}

// OnRemoteUpdate classifies a replicated entry against the local state
// of its path and applies it when it wins. The returned bool reports
// whether the entry was applied. Handling is idempotent: once applied,
// a redelivery classifies EQUAL or AFTER and is ignored.
func (s *ClusterSyncService) OnRemoteUpdate(ctx context.Context, entry *model.JournalEntry) (bool, error) {
	if entry == nil {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	local, hasLocal := s.tree.Get(entry.Path)

	var relation model.ClockRelation
	if !hasLocal {
		relation = model.ClockBefore
	} else {
		relation = s.vcOps.Compare(local.Clock, entry.Clock)
	}
	if s.metrics != nil {
		s.metrics.RecordRemoteUpdate(relation.String())
	}

	switch relation {
	case model.ClockBefore:
		// Remote causally follows local state on this path
		if _, err := s.jm.ApplyReplicated(entry); err != nil {
			return false, err
		}
		s.clock.Observe(entry.Clock)
		s.logger.Debug("Remote entry applied",
			zap.String("entry_id", entry.EntryID),
			zap.String("path", entry.Path),
			zap.String("origin", entry.Origin))
		return true, nil

	case model.ClockAfter, model.ClockEqual:
		// Stale or duplicate; the clock is still merged so the sender
		// sees this node as caught up
		s.clock.Observe(entry.Clock)
		s.logger.Debug("Remote entry ignored",
			zap.String("entry_id", entry.EntryID),
			zap.String("path", entry.Path),
			zap.String("relation", relation.String()))
		return false, nil

	case model.ClockConcurrent:
		return s.resolveConflict(local, entry)
	}

	return false, nil
}

// resolveConflict hands a concurrent pair to the resolver and logs an
// audit record of both versions and the decision
func (s *ClusterSyncService) resolveConflict(local *model.FileMetadata, remote *model.JournalEntry) (bool, error) {
	resolution := s.resolver.Resolve(local, remote)
	if s.metrics != nil {
		s.metrics.RecordConflict(string(resolution))
	}

	auditFields := []zap.Field{
		zap.String("path", remote.Path),
		zap.String("strategy", s.resolver.Name()),
		zap.String("resolution", string(resolution)),
		zap.String("remote_entry_id", remote.EntryID),
		zap.String("remote_origin", remote.Origin),
		zap.Time("remote_timestamp", remote.Timestamp),
		zap.Any("remote_clock", remote.Clock),
	}
	if local != nil {
		auditFields = append(auditFields,
			zap.String("local_origin", local.Origin),
			zap.Time("local_modified_at", local.ModifiedAt),
			zap.Any("local_clock", local.Clock))
	}
	s.logger.Warn("Concurrent update resolved", auditFields...)

	if resolution == ResolutionApplyRemote {
		if _, err := s.jm.ApplyReplicated(remote); err != nil {
			return false, err
		}
		s.clock.Observe(remote.Clock)
		return true, nil
	}

	// Losing entries are not journaled: the journal holds exactly what
	// was applied, so replay converges to the live state. The clock is
	// merged so the event itself is not forgotten.
	s.clock.Observe(remote.Clock)
	return false, nil
}

// AckPeer records the clock a peer reported in its ack
func (s *ClusterSyncService) AckPeer(peerID string, clock model.VectorClock) {
	s.recordPeerClock(peerID, clock)
}

// PeerClock returns the last clock seen from a peer
func (s *ClusterSyncService) PeerClock(peerID string) (model.VectorClock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.peerClocks[peerID]
	return c, ok
}

// PeerLag compares a peer's last known clock to the local clock. A
// peer whose clock is BEFORE the local one has not seen everything
// this node has.
func (s *ClusterSyncService) PeerLag(peerID string) model.ClockRelation {
	s.mu.RLock()
	peerClock, ok := s.peerClocks[peerID]
	s.mu.RUnlock()

	if !ok {
		return model.ClockBefore
	}
	return s.vcOps.Compare(peerClock, s.clock.Current())
}

// AnnounceClock broadcasts the local clock so peers can refresh their
// lag bookkeeping without waiting for a write
func (s *ClusterSyncService) AnnounceClock(ctx context.Context, tr transport.PeerTransport) error {
	return tr.Broadcast(ctx, transport.Envelope{
		Origin: s.nodeID,
		Kind:   transport.KindClockAnnounce,
		Clock:  s.clock.Current(),
	})
}

func (s *ClusterSyncService) recordPeerClock(peerID string, clock model.VectorClock) {
	if peerID == "" || peerID == s.nodeID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Merge rather than overwrite; acks and announcements can arrive
	// out of order
	s.peerClocks[peerID] = s.vcOps.Merge(s.peerClocks[peerID], clock)
}
