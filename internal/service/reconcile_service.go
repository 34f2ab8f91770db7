package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/transport"
	"github.com/stratafs/strata/internal/util/workerpool"
)

// ReconcileService is the anti-entropy loop. Each tick it announces
// the local clock, then re-delivers journal entries to reachable peers
// whose last acked clock lags the local one. Re-deliveries are safe to
// repeat: receivers gate on per-path clocks and ignore what they
// already have.
//
// Per peer the service keeps a watermark, the highest local offset it
// has pushed through. A reconcile pass replays the journal past the
// watermark and advances it only through contiguously acked entries,
// so an interrupted pass resumes where it stopped.
type ReconcileService struct {
	nodeID    string
	jm        *JournalManager
	sync      *ClusterSyncService
	registry  *PeerRegistry
	transport transport.PeerTransport
	pool      *workerpool.Pool

	interval        time.Duration
	batchSize       int
	deliveryTimeout time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	watermarks map[string]uint64
	inFlight   map[string]bool

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// ReconcileConfig holds reconcile service configuration
type ReconcileConfig struct {
	Interval        time.Duration
	BatchSize       int
	DeliveryTimeout time.Duration
	Workers         int
}

// NewReconcileService creates the reconcile service and its worker
// pool
func NewReconcileService(cfg ReconcileConfig, jm *JournalManager, syncSvc *ClusterSyncService, registry *PeerRegistry, tr transport.PeerTransport, logger *zap.Logger, m *metrics.Metrics) *ReconcileService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	pool := workerpool.New(workerpool.Config{
		Name:      "reconcile",
		Workers:   cfg.Workers,
		QueueSize: cfg.Workers * 4,
		Logger:    logger,
	})

	return &ReconcileService{
		nodeID:          jm.nodeID,
		jm:              jm,
		sync:            syncSvc,
		registry:        registry,
		transport:       tr,
		pool:            pool,
		interval:        cfg.Interval,
		batchSize:       cfg.BatchSize,
		deliveryTimeout: cfg.DeliveryTimeout,
		logger:          logger,
		metrics:         m,
		watermarks:      make(map[string]uint64),
		inFlight:        make(map[string]bool),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start launches the reconcile loop
func (s *ReconcileService) Start() {
	go s.run()
}

// Stop terminates the loop and drains the worker pool
func (s *ReconcileService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.doneChan
	if err := s.pool.Stop(10 * time.Second); err != nil {
		s.logger.Warn("Reconcile pool did not drain", zap.Error(err))
	}
}

func (s *ReconcileService) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs one reconcile round: announce the clock, find lagging
// peers, and schedule a catch-up pass for each
func (s *ReconcileService) Tick(ctx context.Context) {
	if err := s.sync.AnnounceClock(ctx, s.transport); err != nil {
		s.logger.Debug("Clock announce failed", zap.Error(err))
	}

	for _, peer := range s.registry.Candidates() {
		peer := peer
		if !s.needsReconcile(peer.NodeID) {
			continue
		}
		if !s.claim(peer.NodeID) {
			continue
		}

		task := workerpool.Task{
			ID:  fmt.Sprintf("reconcile-%s", peer.NodeID),
			Ctx: ctx,
			Fn: func(taskCtx context.Context) error {
				defer s.release(peer.NodeID)
				return s.reconcilePeer(taskCtx, peer.NodeID)
			},
		}
		if err := s.pool.Submit(task); err != nil {
			s.release(peer.NodeID)
			s.logger.Debug("Reconcile deferred, pool busy",
				zap.String("node_id", peer.NodeID))
		}
	}
}

// needsReconcile reports whether the peer's last known clock is missing
// anything this node has
func (s *ReconcileService) needsReconcile(nodeID string) bool {
	switch s.sync.PeerLag(nodeID) {
	case model.ClockBefore, model.ClockConcurrent:
		return true
	}
	return false
}

// claim marks a peer as having a pass in flight so overlapping ticks
// never double-send
func (s *ReconcileService) claim(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[nodeID] {
		return false
	}
	s.inFlight[nodeID] = true
	return true
}

func (s *ReconcileService) release(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, nodeID)
}

// reconcilePeer replays up to one batch of journal entries past the
// peer's watermark, sending each serially. The pass stops at the first
// failed delivery; the watermark then points at the last acked entry.
func (s *ReconcileService) reconcilePeer(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	from := s.watermarks[nodeID]
	s.mu.Unlock()

	sent := 0
	acked := from
	var deliveryErr error

	err := s.jm.Replay(from, func(entry *model.JournalEntry) error {
		if sent >= s.batchSize {
			return errReconcileBatchFull
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
		ack, err := s.transport.Send(sendCtx, nodeID, transport.Envelope{
			Origin: s.nodeID,
			Kind:   transport.KindEntry,
			Entry:  entry,
			Clock:  entry.Clock,
		})
		cancel()
		sent++

		if err != nil {
			s.registry.RecordFailure(nodeID)
			if s.metrics != nil {
				s.metrics.RecordReconcileReplay(nodeID, "failure")
			}
			deliveryErr = err
			return errReconcileAborted
		}

		s.registry.RecordSuccess(nodeID)
		s.sync.AckPeer(nodeID, ack.Clock)
		if s.metrics != nil {
			s.metrics.RecordReconcileReplay(nodeID, "success")
		}
		acked = entry.Offset
		return nil
	})

	s.mu.Lock()
	if acked > s.watermarks[nodeID] {
		s.watermarks[nodeID] = acked
	}
	s.mu.Unlock()

	switch err {
	case nil, errReconcileBatchFull:
	case errReconcileAborted:
		s.logger.Info("Reconcile pass interrupted",
			zap.String("node_id", nodeID),
			zap.Uint64("watermark", acked),
			zap.Error(deliveryErr))
		return nil
	default:
		return err
	}

	if sent > 0 {
		s.logger.Info("Reconcile pass completed",
			zap.String("node_id", nodeID),
			zap.Int("entries_sent", sent),
			zap.Uint64("watermark", acked))
	}
	return nil
}

// Watermark returns the reconcile watermark for one peer
func (s *ReconcileService) Watermark(nodeID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[nodeID]
}

var (
	errReconcileBatchFull = errors.New("reconcile batch full")
	errReconcileAborted   = errors.New("reconcile pass aborted")
)
