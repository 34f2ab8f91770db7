package config

import (
	"errors"
	"path/filepath"
	"time"
)

// Config represents the metadata node configuration
type Config struct {
	Node        NodeConfig        `mapstructure:"node"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Replication ReplicationConfig `mapstructure:"replication"`
	Tiers       TiersConfig       `mapstructure:"tiers"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Health      HealthConfig      `mapstructure:"health"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// NodeConfig identifies this node
type NodeConfig struct {
	NodeID  string `mapstructure:"node_id"`
	Role    string `mapstructure:"role"`
	DataDir string `mapstructure:"data_dir"`
}

// JournalConfig represents journal and checkpoint configuration
type JournalConfig struct {
	// Dir defaults to <data_dir>/journal
	Dir         string `mapstructure:"dir"`
	SegmentSize int64  `mapstructure:"segment_size"`
	SyncWrites  bool   `mapstructure:"sync_writes"`
	// CheckpointDir defaults to <data_dir>/checkpoints
	CheckpointDir        string        `mapstructure:"checkpoint_dir"`
	CheckpointInterval   time.Duration `mapstructure:"checkpoint_interval"`
	CheckpointRetain     int           `mapstructure:"checkpoint_retain"`
	PruneAfterCheckpoint bool          `mapstructure:"prune_after_checkpoint"`
}

// ReplicationConfig represents quorum and fan-out configuration
type ReplicationConfig struct {
	QuorumSize         int           `mapstructure:"quorum_size"`
	TargetFactor       int           `mapstructure:"target_factor"`
	MaxFactor          int           `mapstructure:"max_factor"`
	DeliveryTimeout    time.Duration `mapstructure:"delivery_timeout"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchSize int           `mapstructure:"reconcile_batch_size"`
	// RecordDir defaults to <data_dir>/records
	RecordDir      string        `mapstructure:"record_dir"`
	RecordTTL      time.Duration `mapstructure:"record_ttl"`
	RecordCacheTTL time.Duration `mapstructure:"record_cache_ttl"`
	// FailureThreshold is how many consecutive delivery failures mark
	// a peer unreachable
	FailureThreshold int `mapstructure:"failure_threshold"`
	// DeregisterAfter sweeps peers that stayed unreachable this long
	DeregisterAfter time.Duration `mapstructure:"deregister_after"`
	// Peers statically registers replication peers at startup; gossip
	// discovery adds to these when enabled
	Peers []PeerConfig `mapstructure:"peers"`
}

// PeerConfig statically describes one replication peer
type PeerConfig struct {
	NodeID string `mapstructure:"node_id"`
	Role   string `mapstructure:"role"`
}

// TiersConfig represents tiered storage configuration
type TiersConfig struct {
	// Order is the placement preference, first entry is the default tier
	Order []string `mapstructure:"order"`
	// ContentDir is the local tier root, defaults to <data_dir>/content
	ContentDir         string        `mapstructure:"content_dir"`
	MigrationWorkers   int           `mapstructure:"migration_workers"`
	MigrationQueueSize int           `mapstructure:"migration_queue_size"`
	RetryInterval      time.Duration `mapstructure:"retry_interval"`
}

// GossipConfig represents memberlist liveness probing configuration
type GossipConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BindAddr string   `mapstructure:"bind_addr"`
	BindPort int      `mapstructure:"bind_port"`
	Seeds    []string `mapstructure:"seeds"`
}

// HealthConfig represents health endpoint configuration
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration and fills derived defaults
func (c *Config) Validate() error {
	if c.Node.NodeID == "" {
		return errors.New("node.node_id is required")
	}
	if c.Node.Role != "master" && c.Node.Role != "worker" {
		return errors.New("node.role must be one of: master, worker")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir is required")
	}

	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.Node.DataDir, "journal")
	}
	if c.Journal.CheckpointDir == "" {
		c.Journal.CheckpointDir = filepath.Join(c.Node.DataDir, "checkpoints")
	}
	if c.Journal.SegmentSize <= 0 {
		return errors.New("journal.segment_size must be positive")
	}
	if c.Journal.CheckpointInterval <= 0 {
		return errors.New("journal.checkpoint_interval must be positive")
	}
	if c.Journal.CheckpointRetain < 1 {
		return errors.New("journal.checkpoint_retain must be at least 1")
	}

	if c.Replication.QuorumSize < 1 {
		return errors.New("replication.quorum_size must be at least 1")
	}
	if c.Replication.TargetFactor < 1 {
		return errors.New("replication.target_factor must be at least 1")
	}
	if c.Replication.MaxFactor < c.Replication.TargetFactor {
		return errors.New("replication.max_factor must be at least target_factor")
	}
	if c.Replication.DeliveryTimeout <= 0 {
		return errors.New("replication.delivery_timeout must be positive")
	}
	if c.Replication.RecordDir == "" {
		c.Replication.RecordDir = filepath.Join(c.Node.DataDir, "records")
	}
	if c.Replication.FailureThreshold < 1 {
		c.Replication.FailureThreshold = 3
	}
	for _, p := range c.Replication.Peers {
		if p.NodeID == "" {
			return errors.New("replication.peers entries require node_id")
		}
		if p.Role != "master" && p.Role != "worker" {
			return errors.New("replication.peers roles must be one of: master, worker")
		}
	}

	if len(c.Tiers.Order) == 0 {
		return errors.New("tiers.order must name at least one tier")
	}
	seen := make(map[string]bool, len(c.Tiers.Order))
	for _, t := range c.Tiers.Order {
		if t == "" {
			return errors.New("tiers.order must not contain empty names")
		}
		if seen[t] {
			return errors.New("tiers.order must not repeat tiers")
		}
		seen[t] = true
	}
	if c.Tiers.ContentDir == "" {
		c.Tiers.ContentDir = filepath.Join(c.Node.DataDir, "content")
	}

	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		return errors.New("health.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			NodeID:  "",
			Role:    "master",
			DataDir: "/var/lib/strata",
		},
		Journal: JournalConfig{
			SegmentSize:          64 << 20,
			SyncWrites:           true,
			CheckpointInterval:   5 * time.Minute,
			CheckpointRetain:     3,
			PruneAfterCheckpoint: true,
		},
		Replication: ReplicationConfig{
			QuorumSize:         3,
			TargetFactor:       3,
			MaxFactor:          5,
			DeliveryTimeout:    2 * time.Second,
			ReconcileInterval:  30 * time.Second,
			ReconcileBatchSize: 100,
			RecordTTL:          24 * time.Hour,
			RecordCacheTTL:     5 * time.Minute,
			FailureThreshold:   3,
			DeregisterAfter:    10 * time.Minute,
		},
		Tiers: TiersConfig{
			Order:              []string{"local", "network", "archive"},
			MigrationWorkers:   4,
			MigrationQueueSize: 256,
			RetryInterval:      time.Minute,
		},
		Gossip: GossipConfig{
			Enabled:  false,
			BindAddr: "0.0.0.0",
			BindPort: 7946,
		},
		Health: HealthConfig{
			Port: 8081,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
