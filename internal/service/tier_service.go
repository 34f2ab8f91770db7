package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/contentstore"
	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/util/workerpool"
)

// TierService places content across storage tiers. The tier order is
// policy configuration; the service walks it for initial placement and
// runs migrations on a worker pool. A migration whose target tier is
// unavailable is deferred and retried on an interval rather than
// failed: tier outages are expected, data loss is not.
type TierService struct {
	tiers map[model.TierID]contentstore.Store
	order []model.TierID
	pool  *workerpool.Pool

	retryInterval time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	placements map[string]*model.TierPlacement
	deferred   map[string]model.TierID

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// TierServiceConfig holds tier service configuration
type TierServiceConfig struct {
	// Order is the policy tier order, most preferred first
	Order            []model.TierID
	MigrationWorkers int
	QueueSize        int
	RetryInterval    time.Duration
}

// NewTierService creates the tier service. Every tier named in the
// order must have a backend; tiers can still become unavailable at
// runtime.
func NewTierService(cfg TierServiceConfig, tiers map[model.TierID]contentstore.Store, logger *zap.Logger, m *metrics.Metrics) (*TierService, error) {
	if len(cfg.Order) == 0 {
		return nil, errors.InvalidArgument("tier order must not be empty", nil)
	}
	for _, id := range cfg.Order {
		if _, ok := tiers[id]; !ok {
			return nil, errors.InvalidArgument("tier in policy order has no backend", nil).
				WithDetail("tier", string(id))
		}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	pool := workerpool.New(workerpool.Config{
		Name:      "tier-migrations",
		Workers:   cfg.MigrationWorkers,
		QueueSize: cfg.QueueSize,
		Logger:    logger,
	})

	return &TierService{
		tiers:         tiers,
		order:         append([]model.TierID(nil), cfg.Order...),
		pool:          pool,
		retryInterval: cfg.RetryInterval,
		logger:        logger,
		metrics:       m,
		placements:    make(map[string]*model.TierPlacement),
		deferred:      make(map[string]model.TierID),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}, nil
}

// Start launches the deferred migration retry loop
func (t *TierService) Start() {
	go t.retryLoop()
}

// Stop terminates the retry loop and drains in-flight migrations
func (t *TierService) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
	<-t.doneChan
	if err := t.pool.Stop(10 * time.Second); err != nil {
		t.logger.Warn("Migration pool did not drain", zap.Error(err))
	}
}

// StoreContent stores data on the hinted tier, walking the policy
// order from the hint when the preferred tier is unavailable. The
// returned content ID addresses the bytes on whatever tier accepted
// them.
func (t *TierService) StoreContent(ctx context.Context, data []byte, tierHint model.TierID) (string, error) {
	if len(data) == 0 {
		return "", errors.InvalidArgument("content must not be empty", nil)
	}

	var lastErr error
	for _, tierID := range t.placementOrder(tierHint) {
		backend := t.tiers[tierID]
		contentID, err := backend.Put(ctx, data)
		if err != nil {
			lastErr = errors.TierUnavailable(string(tierID), err)
			t.logger.Warn("Tier rejected content, trying next",
				zap.String("tier", string(tierID)),
				zap.Error(err))
			continue
		}

		t.recordPlacement(contentID, tierID)
		t.logger.Debug("Content stored",
			zap.String("content_id", contentID),
			zap.String("tier", string(tierID)),
			zap.Int("size", len(data)))
		return contentID, nil
	}

	return "", errors.InternalError("no tier accepted the content", lastErr)
}

// GetContent reads content from its current tier, probing the policy
// order when the placement is unknown
func (t *TierService) GetContent(ctx context.Context, contentID string) ([]byte, error) {
	if err := contentstore.ValidateID(contentID); err != nil {
		return nil, err
	}

	if placement, ok := t.Placement(contentID); ok {
		data, err := t.tiers[placement.CurrentTier].Get(ctx, contentID)
		if err == nil {
			return data, nil
		}
		t.logger.Warn("Read from placed tier failed, probing others",
			zap.String("content_id", contentID),
			zap.String("tier", string(placement.CurrentTier)),
			zap.Error(err))
	}

	for _, tierID := range t.order {
		exists, err := t.tiers[tierID].Exists(ctx, contentID)
		if err != nil || !exists {
			continue
		}
		data, err := t.tiers[tierID].Get(ctx, contentID)
		if err != nil {
			continue
		}
		t.recordPlacement(contentID, tierID)
		return data, nil
	}

	return nil, errors.ContentNotFound(contentID)
}

// MoveContentToTier migrates content to the target tier and returns
// the placement handle as of the call. The move is idempotent: content
// already on the target is a no-op, and a move already in flight for
// the same content returns the existing handle instead of starting a
// second migration. An unavailable target defers the migration for
// retry instead of failing it.
func (t *TierService) MoveContentToTier(ctx context.Context, contentID string, target model.TierID) (model.TierPlacement, error) {
	if err := contentstore.ValidateID(contentID); err != nil {
		return model.TierPlacement{}, err
	}
	if _, ok := t.tiers[target]; !ok {
		return model.TierPlacement{}, errors.InvalidArgument("unknown target tier", nil).
			WithDetail("tier", string(target))
	}

	if _, ok := t.Placement(contentID); !ok {
		source, err := t.locate(ctx, contentID)
		if err != nil {
			return model.TierPlacement{}, err
		}
		t.recordPlacement(contentID, source)
	}

	t.mu.Lock()
	placement := t.placements[contentID]
	if placement.OnTier(target) {
		handle := *placement
		t.mu.Unlock()
		return handle, nil
	}
	if placement.Migrating {
		handle := *placement
		t.mu.Unlock()
		t.logger.Debug("Migration already in flight",
			zap.String("content_id", contentID))
		return handle, nil
	}
	placement.Migrating = true
	source := placement.CurrentTier
	handle := *placement
	t.mu.Unlock()

	return handle, t.submitMigration(contentID, source, target)
}

// submitMigration enqueues the copy work. Migrations outlive the
// request that asked for them, so tasks run under a background
// context; an unavailable target at execution time re-defers rather
// than failing.
func (t *TierService) submitMigration(contentID string, source, target model.TierID) error {
	task := workerpool.Task{
		ID:  fmt.Sprintf("migrate-%s-%s", contentID[:8], target),
		Ctx: context.Background(),
		Fn: func(taskCtx context.Context) error {
			return t.migrate(taskCtx, contentID, source, target)
		},
	}

	if err := t.pool.Submit(task); err != nil {
		t.clearMigrating(contentID)
		t.markDeferred(contentID, target)
		t.logger.Warn("Migration queue full, deferred",
			zap.String("content_id", contentID),
			zap.String("target", string(target)))
	}
	return nil
}

// migrate copies content between tiers and reclaims the source copy
// when the backend supports deletion
func (t *TierService) migrate(ctx context.Context, contentID string, source, target model.TierID) error {
	data, err := t.tiers[source].Get(ctx, contentID)
	if err != nil {
		t.clearMigrating(contentID)
		t.markDeferred(contentID, target)
		if t.metrics != nil {
			t.metrics.RecordTierMigration(string(source), string(target), "deferred")
		}
		t.logger.Warn("Source tier unavailable, migration deferred",
			zap.String("content_id", contentID),
			zap.String("source", string(source)),
			zap.Error(err))
		return nil
	}

	if _, err := t.tiers[target].Put(ctx, data); err != nil {
		t.clearMigrating(contentID)
		t.markDeferred(contentID, target)
		if t.metrics != nil {
			t.metrics.RecordTierMigration(string(source), string(target), "deferred")
		}
		t.logger.Warn("Target tier unavailable, migration deferred",
			zap.String("content_id", contentID),
			zap.String("target", string(target)),
			zap.Error(err))
		return nil
	}

	t.mu.Lock()
	if placement, ok := t.placements[contentID]; ok {
		placement.CurrentTier = target
		placement.Migrating = false
		placement.UpdatedAt = time.Now().UTC()
	}
	delete(t.deferred, contentID)
	deferredCount := len(t.deferred)
	t.mu.Unlock()

	if del, ok := t.tiers[source].(contentstore.Deleter); ok {
		if err := del.Delete(ctx, contentID); err != nil {
			t.logger.Warn("Failed to reclaim source copy",
				zap.String("content_id", contentID),
				zap.String("tier", string(source)),
				zap.Error(err))
		}
	}

	if t.metrics != nil {
		t.metrics.RecordTierMigration(string(source), string(target), "success")
		t.metrics.SetDeferredMigrations(deferredCount)
	}
	t.logger.Info("Content migrated",
		zap.String("content_id", contentID),
		zap.String("from", string(source)),
		zap.String("to", string(target)))
	return nil
}

// retryLoop re-submits deferred migrations on the retry interval
func (t *TierService) retryLoop() {
	defer close(t.doneChan)

	ticker := time.NewTicker(t.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.RetryDeferred(context.Background())
		}
	}
}

// RetryDeferred re-attempts every deferred migration once. Content
// that vanished entirely is dropped from the queue; everything else
// stays deferred until its tier comes back.
func (t *TierService) RetryDeferred(ctx context.Context) {
	t.mu.Lock()
	pending := make(map[string]model.TierID, len(t.deferred))
	for contentID, target := range t.deferred {
		pending[contentID] = target
	}
	t.mu.Unlock()

	for contentID, target := range pending {
		t.logger.Info("Retrying deferred migration",
			zap.String("content_id", contentID),
			zap.String("target", string(target)))
		_, err := t.MoveContentToTier(ctx, contentID, target)
		if err == nil {
			continue
		}
		if errors.HasCode(err, errors.ErrCodeContentNotFound) {
			t.dropDeferred(contentID)
		}
		t.logger.Warn("Deferred migration retry failed",
			zap.String("content_id", contentID),
			zap.Error(err))
	}
}

// Placement returns a copy of the placement for one content ID
func (t *TierService) Placement(contentID string) (*model.TierPlacement, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.placements[contentID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// DeferredCount returns how many migrations wait on an unavailable
// tier
func (t *TierService) DeferredCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deferred)
}

// placementOrder returns the policy order rotated to start at the
// hint; an empty or unknown hint keeps the configured order
func (t *TierService) placementOrder(hint model.TierID) []model.TierID {
	if hint == "" {
		return t.order
	}
	for i, id := range t.order {
		if id == hint {
			rotated := make([]model.TierID, 0, len(t.order))
			rotated = append(rotated, t.order[i:]...)
			rotated = append(rotated, t.order[:i]...)
			return rotated
		}
	}
	return t.order
}

// locate probes tiers in policy order for existing content
func (t *TierService) locate(ctx context.Context, contentID string) (model.TierID, error) {
	for _, tierID := range t.order {
		exists, err := t.tiers[tierID].Exists(ctx, contentID)
		if err == nil && exists {
			return tierID, nil
		}
	}
	return "", errors.ContentNotFound(contentID)
}

// recordPlacement upserts the placement map, preserving an in-flight
// migration flag
func (t *TierService) recordPlacement(contentID string, tierID model.TierID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.placements[contentID]; ok {
		p.CurrentTier = tierID
		p.UpdatedAt = time.Now().UTC()
		return
	}
	t.placements[contentID] = &model.TierPlacement{
		ContentID:   contentID,
		CurrentTier: tierID,
		Candidates:  t.order,
		UpdatedAt:   time.Now().UTC(),
	}
}

// clearMigrating resets the single-flight flag after a migration ends
// or fails to start
func (t *TierService) clearMigrating(contentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.placements[contentID]; ok {
		p.Migrating = false
	}
}

// markDeferred queues a migration for the retry loop
func (t *TierService) markDeferred(contentID string, target model.TierID) {
	t.mu.Lock()
	t.deferred[contentID] = target
	count := len(t.deferred)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.SetDeferredMigrations(count)
	}
}

// dropDeferred abandons a deferred migration
func (t *TierService) dropDeferred(contentID string) {
	t.mu.Lock()
	delete(t.deferred, contentID)
	count := len(t.deferred)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.SetDeferredMigrations(count)
	}
}
