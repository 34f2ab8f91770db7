package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratafs/strata/internal/config"
	"github.com/stratafs/strata/internal/contentstore"
	"github.com/stratafs/strata/internal/health"
	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/service"
	"github.com/stratafs/strata/internal/store"
	"github.com/stratafs/strata/internal/storage/fstree"
	"github.com/stratafs/strata/internal/transport"
)

func main() {
	// Bootstrap logger; replaced once configuration is loaded
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting strata metadata node")

	// Load configuration
	configPath := os.Getenv("STRATA_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, err = buildLogger(cfg.Logging)
	if err != nil {
		logger.Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Node.NodeID),
		zap.String("role", cfg.Node.Role),
		zap.String("data_dir", cfg.Node.DataDir),
		zap.Int("quorum_size", cfg.Replication.QuorumSize),
		zap.Int("target_factor", cfg.Replication.TargetFactor),
		zap.Int("max_factor", cfg.Replication.MaxFactor))

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	// Initialize metrics
	m := metrics.NewMetrics(nil)
	logger.Info("Metrics initialized")

	// Initialize record store (badger)
	recordStore, err := store.NewBadgerRecordStore(store.BadgerRecordStoreConfig{
		Dir:       cfg.Replication.RecordDir,
		RecordTTL: cfg.Replication.RecordTTL,
		CacheTTL:  cfg.Replication.RecordCacheTTL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize record store", zap.Error(err))
	}
	logger.Info("Record store initialized", zap.String("dir", cfg.Replication.RecordDir))

	// Initialize the journal stack
	tree := fstree.New()
	clockSvc := service.NewVectorClockService(cfg.Node.NodeID)

	journalSvc, err := service.NewJournalService(service.JournalConfig{
		Dir:         cfg.Journal.Dir,
		SegmentSize: cfg.Journal.SegmentSize,
		SyncWrites:  cfg.Journal.SyncWrites,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize journal", zap.Error(err))
	}
	defer journalSvc.Close()

	checkpointSvc, err := service.NewCheckpointService(service.CheckpointServiceConfig{
		Dir:        cfg.Journal.CheckpointDir,
		Interval:   cfg.Journal.CheckpointInterval,
		Retain:     cfg.Journal.CheckpointRetain,
		PruneAfter: cfg.Journal.PruneAfterCheckpoint,
	}, tree, journalSvc, clockSvc, logger, m)
	if err != nil {
		logger.Fatal("Failed to initialize checkpoint service", zap.Error(err))
	}

	journalManager := service.NewJournalManager(journalSvc, tree, clockSvc, checkpointSvc, logger, m)

	// Recover materialized state before anything touches it
	logger.Info("Starting recovery")
	if err := journalManager.Recover(); err != nil {
		logger.Fatal("Recovery failed", zap.Error(err))
	}

	// Initialize tiered content storage. Every configured tier gets a
	// local disk backend here; real network or archival backends plug
	// in through the contentstore.Store interface.
	tiers := make(map[model.TierID]contentstore.Store, len(cfg.Tiers.Order))
	tierOrder := make([]model.TierID, 0, len(cfg.Tiers.Order))
	for _, name := range cfg.Tiers.Order {
		tierID := model.TierID(name)
		backend, err := contentstore.NewDisk(filepath.Join(cfg.Tiers.ContentDir, name))
		if err != nil {
			logger.Fatal("Failed to initialize tier backend",
				zap.String("tier", name),
				zap.Error(err))
		}
		tiers[tierID] = backend
		tierOrder = append(tierOrder, tierID)
	}

	tierSvc, err := service.NewTierService(service.TierServiceConfig{
		Order:            tierOrder,
		MigrationWorkers: cfg.Tiers.MigrationWorkers,
		QueueSize:        cfg.Tiers.MigrationQueueSize,
		RetryInterval:    cfg.Tiers.RetryInterval,
	}, tiers, logger, m)
	if err != nil {
		logger.Fatal("Failed to initialize tier service", zap.Error(err))
	}
	tierSvc.Start()
	logger.Info("Tier service initialized", zap.Strings("order", cfg.Tiers.Order))

	// Initialize replication
	registry := service.NewPeerRegistry(cfg.Replication.FailureThreshold, cfg.Replication.DeregisterAfter, logger, m)
	registry.Start()

	// The in-process bus serves single-process clusters and tests; a
	// networked PeerTransport implementation replaces it in multi-host
	// deployments.
	bus := transport.NewInMem()
	logger.Warn("Using in-process peer transport; deliveries stay inside this process")

	syncSvc := service.NewClusterSyncService(journalManager, tree, clockSvc, nil, logger, m)
	bus.Register(cfg.Node.NodeID, syncSvc)

	replicationManager := service.NewReplicationManager(service.ReplicationConfig{
		QuorumSize:      cfg.Replication.QuorumSize,
		TargetFactor:    cfg.Replication.TargetFactor,
		MaxFactor:       cfg.Replication.MaxFactor,
		DeliveryTimeout: cfg.Replication.DeliveryTimeout,
	}, journalManager, syncSvc, registry, bus, recordStore, logger, m)

	// Statically configured peers; gossip discovery adds to these
	for _, p := range cfg.Replication.Peers {
		if err := replicationManager.RegisterPeer(p.NodeID, model.PeerRole(p.Role)); err != nil {
			logger.Warn("Failed to register configured peer",
				zap.String("node_id", p.NodeID),
				zap.Error(err))
		}
	}

	reconcileSvc := service.NewReconcileService(service.ReconcileConfig{
		Interval:        cfg.Replication.ReconcileInterval,
		BatchSize:       cfg.Replication.ReconcileBatchSize,
		DeliveryTimeout: cfg.Replication.DeliveryTimeout,
	}, journalManager, syncSvc, registry, bus, logger, m)
	reconcileSvc.Start()

	logger.Info("Replication services initialized")

	// Initialize gossip membership if enabled
	var gossipSvc *service.GossipService
	if cfg.Gossip.Enabled {
		gossipSvc, err = service.NewGossipService(service.GossipConfig{
			Enabled:  cfg.Gossip.Enabled,
			BindAddr: cfg.Gossip.BindAddr,
			BindPort: cfg.Gossip.BindPort,
			Seeds:    cfg.Gossip.Seeds,
		}, cfg.Node.NodeID, model.PeerRole(cfg.Node.Role), registry, journalManager, logger)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
		} else {
			logger.Info("Gossip service initialized", zap.Int("port", cfg.Gossip.BindPort))
		}
	}

	// Start checkpointing after recovery
	checkpointSvc.Start()

	// Start metrics server
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("Starting metrics server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Start health check server
	healthChecker := health.NewHealthChecker(recordStore, cfg.Journal.Dir, logger)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- health.StartHealthServer(healthChecker, cfg.Health.Port, logger)
	}()

	logger.Info("Strata metadata node started", zap.String("node_id", cfg.Node.NodeID))

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	reconcileSvc.Stop()
	checkpointSvc.Stop()

	// One final checkpoint so restart replays as little as possible
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		if _, err := checkpointSvc.CreateCheckpoint(); err != nil {
			logger.Warn("Final checkpoint failed", zap.Error(err))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Final checkpoint timed out")
	}

	tierSvc.Stop()
	registry.Stop()

	if gossipSvc != nil {
		if err := gossipSvc.Shutdown(); err != nil {
			logger.Warn("Gossip shutdown failed", zap.Error(err))
		}
	}

	if err := journalSvc.Close(); err != nil {
		logger.Warn("Journal close failed", zap.Error(err))
	}
	if err := recordStore.Close(); err != nil {
		logger.Warn("Record store close failed", zap.Error(err))
	}

	logger.Info("Strata metadata node stopped")
}

// buildLogger constructs the configured zap logger
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
