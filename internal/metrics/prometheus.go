package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Journal metrics
	JournalAppendsTotal   *prometheus.CounterVec
	JournalAppendDuration *prometheus.HistogramVec
	JournalOffset         prometheus.Gauge

	// Checkpoint metrics
	CheckpointsTotal   *prometheus.CounterVec
	CheckpointDuration prometheus.Histogram

	// Replication metrics
	ReplicationsTotal   *prometheus.CounterVec
	ReplicationDuration *prometheus.HistogramVec
	PeerDeliveriesTotal *prometheus.CounterVec
	PeersByState        *prometheus.GaugeVec

	// Sync metrics
	RemoteUpdatesTotal    *prometheus.CounterVec
	ConflictsTotal        *prometheus.CounterVec
	ReconcileReplaysTotal *prometheus.CounterVec

	// Tier metrics
	TierMigrationsTotal *prometheus.CounterVec
	DeferredMigrations  prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics. Passing nil
// registers on the default registry; tests pass their own.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JournalAppendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_journal_appends_total",
				Help: "Total number of journal append attempts",
			},
			[]string{"op_type", "status"},
		),

		JournalAppendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strata_journal_append_duration_seconds",
				Help:    "Duration of durable journal appends",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op_type"},
		),

		JournalOffset: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "strata_journal_offset",
				Help: "Offset of the last journaled entry",
			},
		),

		CheckpointsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_checkpoints_total",
				Help: "Total number of checkpoint attempts",
			},
			[]string{"status"},
		),

		CheckpointDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strata_checkpoint_duration_seconds",
				Help:    "Duration of checkpoint creation",
				Buckets: prometheus.DefBuckets,
			},
		),

		ReplicationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_replications_total",
				Help: "Total number of replication attempts by outcome",
			},
			[]string{"success_level"},
		),

		ReplicationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strata_replication_duration_seconds",
				Help:    "Duration of replication fan-out",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"success_level"},
		),

		PeerDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_peer_deliveries_total",
				Help: "Total number of per-peer delivery attempts",
			},
			[]string{"node_id", "status"},
		),

		PeersByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "strata_peers_by_state",
				Help: "Registered peers by liveness state",
			},
			[]string{"state"},
		),

		RemoteUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_remote_updates_total",
				Help: "Total number of remote updates by clock relation",
			},
			[]string{"relation"},
		),

		ConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_conflicts_total",
				Help: "Total number of concurrent updates resolved",
			},
			[]string{"resolution"},
		),

		ReconcileReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_reconcile_replays_total",
				Help: "Total number of reconciliation re-deliveries",
			},
			[]string{"node_id", "status"},
		),

		TierMigrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_tier_migrations_total",
				Help: "Total number of tier migrations",
			},
			[]string{"from", "to", "status"},
		),

		DeferredMigrations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "strata_deferred_migrations",
				Help: "Migrations waiting on an unavailable tier",
			},
		),
	}
}

// RecordAppend records a journal append attempt
func (m *Metrics) RecordAppend(opType, status string, seconds float64) {
	m.JournalAppendsTotal.WithLabelValues(opType, status).Inc()
	m.JournalAppendDuration.WithLabelValues(opType).Observe(seconds)
}

// SetJournalOffset updates the last-offset gauge
func (m *Metrics) SetJournalOffset(offset uint64) {
	m.JournalOffset.Set(float64(offset))
}

// RecordCheckpoint records a checkpoint attempt
func (m *Metrics) RecordCheckpoint(status string, seconds float64) {
	m.CheckpointsTotal.WithLabelValues(status).Inc()
	m.CheckpointDuration.Observe(seconds)
}

// RecordReplication records one finished replication attempt
func (m *Metrics) RecordReplication(level string, seconds float64) {
	m.ReplicationsTotal.WithLabelValues(level).Inc()
	m.ReplicationDuration.WithLabelValues(level).Observe(seconds)
}

// RecordPeerDelivery records a per-peer delivery outcome
func (m *Metrics) RecordPeerDelivery(nodeID, status string) {
	m.PeerDeliveriesTotal.WithLabelValues(nodeID, status).Inc()
}

// SetPeersByState updates the liveness gauge for one state
func (m *Metrics) SetPeersByState(state string, count int) {
	m.PeersByState.WithLabelValues(state).Set(float64(count))
}

// RecordRemoteUpdate records an incoming update by clock relation
func (m *Metrics) RecordRemoteUpdate(relation string) {
	m.RemoteUpdatesTotal.WithLabelValues(relation).Inc()
}

// RecordConflict records a resolved concurrent update
func (m *Metrics) RecordConflict(resolution string) {
	m.ConflictsTotal.WithLabelValues(resolution).Inc()
}

// RecordReconcileReplay records a reconciliation re-delivery
func (m *Metrics) RecordReconcileReplay(nodeID, status string) {
	m.ReconcileReplaysTotal.WithLabelValues(nodeID, status).Inc()
}

// RecordTierMigration records a tier migration outcome
func (m *Metrics) RecordTierMigration(from, to, status string) {
	m.TierMigrationsTotal.WithLabelValues(from, to, status).Inc()
}

// SetDeferredMigrations updates the deferred migration gauge
func (m *Metrics) SetDeferredMigrations(count int) {
	m.DeferredMigrations.Set(float64(count))
}
