package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/storage/checkpoint"
	"github.com/stratafs/strata/internal/storage/fstree"
)

// CheckpointService periodically snapshots the materialized filesystem
// tree into durable checkpoint files. A failed checkpoint is logged and
// retried on the next tick; it never blocks or fails journal appends.
type CheckpointService struct {
	store   *checkpoint.Store
	tree    *fstree.Tree
	journal *JournalService
	clock   *VectorClockService

	interval   time.Duration
	pruneAfter bool

	logger  *zap.Logger
	metrics *metrics.Metrics

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// CheckpointServiceConfig holds checkpoint service configuration
type CheckpointServiceConfig struct {
	Dir        string
	Interval   time.Duration
	Retain     int
	PruneAfter bool
}

// NewCheckpointService creates the checkpoint store and service
func NewCheckpointService(cfg CheckpointServiceConfig, tree *fstree.Tree, journal *JournalService, clock *VectorClockService, logger *zap.Logger, m *metrics.Metrics) (*CheckpointService, error) {
	store, err := checkpoint.NewStore(cfg.Dir, cfg.Retain, logger)
	if err != nil {
		return nil, err
	}

	return &CheckpointService{
		store:      store,
		tree:       tree,
		journal:    journal,
		clock:      clock,
		interval:   cfg.Interval,
		pruneAfter: cfg.PruneAfter,
		logger:     logger,
		metrics:    m,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start launches the periodic checkpoint loop
func (c *CheckpointService) Start() {
	go c.run()
}

// Stop terminates the loop and waits for an in-flight checkpoint to
// finish
func (c *CheckpointService) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	<-c.doneChan
}

func (c *CheckpointService) run() {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if _, err := c.CreateCheckpoint(); err != nil {
				c.logger.Error("Checkpoint failed, will retry next interval", zap.Error(err))
			}
		}
	}
}

// CreateCheckpoint snapshots the tree and persists it. The snapshot
// holds the tree's read lock only while copying; appends proceed
// against the live tree throughout.
func (c *CheckpointService) CreateCheckpoint() (*model.Checkpoint, error) {
	started := time.Now()

	cp := c.tree.Snapshot()
	if cp.Offset == 0 && len(cp.Files) == 0 {
		c.logger.Debug("Skipping checkpoint of empty state")
		return cp, nil
	}
	cp.Clock = c.clock.Current()

	if err := c.store.Save(cp); err != nil {
		if c.metrics != nil {
			c.metrics.RecordCheckpoint("failure", time.Since(started).Seconds())
		}
		return nil, errors.CheckpointFailed("failed to persist checkpoint", err).
			WithDetail("offset", cp.Offset)
	}

	if c.metrics != nil {
		c.metrics.RecordCheckpoint("success", time.Since(started).Seconds())
	}
	c.logger.Info("Checkpoint created",
		zap.Uint64("offset", cp.Offset),
		zap.Int("files", len(cp.Files)),
		zap.Duration("took", time.Since(started)))

	if c.pruneAfter {
		removed, err := c.journal.Prune(cp.Offset)
		if err != nil {
			c.logger.Warn("Failed to prune journal after checkpoint", zap.Error(err))
		} else if removed > 0 {
			c.logger.Info("Pruned journal segments",
				zap.Int("removed", removed),
				zap.Uint64("before_offset", cp.Offset))
		}
	}

	return cp, nil
}

// LoadLatest returns the most recent readable checkpoint, or nil when
// none exists
func (c *CheckpointService) LoadLatest() (*model.Checkpoint, error) {
	return c.store.LoadLatest()
}
