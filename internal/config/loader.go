package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// The config file is optional; environment variables can carry a
	// minimal setup on their own
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not read config file %s: %v, using defaults and environment\n", configPath, err)
	} else {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides;
// these take precedence over the file
func applyEnvironmentOverrides(cfg *Config) {
	if nodeID := os.Getenv("STRATA_NODE_ID"); nodeID != "" {
		cfg.Node.NodeID = nodeID
	}
	if role := os.Getenv("STRATA_ROLE"); role != "" {
		cfg.Node.Role = role
	}
	if dataDir := os.Getenv("STRATA_DATA_DIR"); dataDir != "" {
		cfg.Node.DataDir = dataDir
	}

	if quorum := os.Getenv("STRATA_QUORUM_SIZE"); quorum != "" {
		if q, err := strconv.Atoi(quorum); err == nil {
			cfg.Replication.QuorumSize = q
		}
	}
	if target := os.Getenv("STRATA_TARGET_FACTOR"); target != "" {
		if t, err := strconv.Atoi(target); err == nil {
			cfg.Replication.TargetFactor = t
		}
	}
	if max := os.Getenv("STRATA_MAX_FACTOR"); max != "" {
		if m, err := strconv.Atoi(max); err == nil {
			cfg.Replication.MaxFactor = m
		}
	}

	if port := os.Getenv("STRATA_HEALTH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Health.Port = p
		}
	}
	if port := os.Getenv("STRATA_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Metrics.Port = p
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
