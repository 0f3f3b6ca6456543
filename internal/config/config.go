// Package config loads and validates this node's YAML configuration: the
// coordinator (etcd) client settings, the shard lock lease, the replay
// strategy, and the flush/metrics knobs. Validation happens once at load
// time, never deferred to first use, the same discipline internal/lock
// applies to its own Config type in NewManager.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClusterType gates whether this node accepts offloaded-compaction
// operations. Only HoraeDB is exercised by this module's RPC surface; the
// compaction-server variant is recognized but currently unimplemented.
type ClusterType string

const (
	ClusterTypeHoraeDB          ClusterType = "HoraeDB"
	ClusterTypeCompactionServer ClusterType = "CompactionServer"
)

// ReplayMode selects C4's replay strategy.
type ReplayMode string

const (
	ReplayModeTableBased  ReplayMode = "TableBased"
	ReplayModeRegionBased ReplayMode = "RegionBased"
)

// RegionLockScope controls how long region-based replay holds a table's
// serial executor; see SPEC_FULL.md's open-question resolution.
type RegionLockScope string

const (
	RegionLockScopeFullReplay RegionLockScope = "FullReplay"
	RegionLockScopePerBatch   RegionLockScope = "PerBatch"
)

const minShardLockLeaseTTLSec = 15

// TLSConfig configures the coordinator client's optional TLS transport.
type TLSConfig struct {
	Enable         bool   `yaml:"enable"`
	CACertPath     string `yaml:"ca_cert_path"`
	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	DomainName     string `yaml:"domain_name"`
}

// EtcdClientConfig configures the coordinator (etcd-compatible KV store)
// client shared by the shard lock manager (C7) and the collapsed meta-RPC
// channel.
type EtcdClientConfig struct {
	ServerAddrs                  []string      `yaml:"server_addrs"`
	RootPath                     string        `yaml:"root_path"`
	ConnectTimeout               time.Duration `yaml:"connect_timeout"`
	ShardLockLeaseTTLSec         int64         `yaml:"shard_lock_lease_ttl_sec"`
	ShardLockLeaseCheckInterval  time.Duration `yaml:"shard_lock_lease_check_interval"`
	EnableShardLockFastReacquire bool          `yaml:"enable_shard_lock_fast_reacquire"`
	TLS                          TLSConfig     `yaml:"tls"`
}

// MetaClientConfig configures the heartbeat rhythm.
type MetaClientConfig struct {
	LeaseMillis int64 `yaml:"lease"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// WALConfig points at this node's WAL directory.
type WALConfig struct {
	Dir string `yaml:"dir"`
}

// Config is the complete node configuration, loaded from a single YAML
// file.
type Config struct {
	ClusterType ClusterType `yaml:"cluster_type"`
	ClusterName string      `yaml:"cluster_name"`
	NodeID      string      `yaml:"node_id"`

	EtcdClient EtcdClientConfig `yaml:"etcd_client"`
	MetaClient MetaClientConfig `yaml:"meta_client"`
	WAL        WALConfig        `yaml:"wal"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	ReplayMode         ReplayMode      `yaml:"replay_mode"`
	WALReplayBatchSize int             `yaml:"wal_replay_batch_size"`
	MaxRetryFlushLimit int             `yaml:"max_retry_flush_limit"`
	RegionLockScope    RegionLockScope `yaml:"region_lock_scope"`
	FlushThreshold     uint64          `yaml:"flush_threshold"`
}

// applyDefaults fills in the same defaults original_source/config.rs
// documents for the fields this codebase's YAML idiom treats as optional.
func (c *Config) applyDefaults() {
	if c.ClusterType == "" {
		c.ClusterType = ClusterTypeHoraeDB
	}
	if c.EtcdClient.RootPath == "" {
		c.EtcdClient.RootPath = "/horaedb"
	}
	if c.EtcdClient.ShardLockLeaseTTLSec == 0 {
		c.EtcdClient.ShardLockLeaseTTLSec = 30
	}
	if c.EtcdClient.ShardLockLeaseCheckInterval == 0 {
		c.EtcdClient.ShardLockLeaseCheckInterval = 200 * time.Millisecond
	}
	if c.EtcdClient.ConnectTimeout == 0 {
		c.EtcdClient.ConnectTimeout = 5 * time.Second
	}
	if c.MetaClient.LeaseMillis == 0 {
		c.MetaClient.LeaseMillis = 10_000
	}
	if c.ReplayMode == "" {
		c.ReplayMode = ReplayModeTableBased
	}
	if c.WALReplayBatchSize == 0 {
		c.WALReplayBatchSize = 500
	}
	if c.RegionLockScope == "" {
		c.RegionLockScope = RegionLockScopeFullReplay
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
}

// Validate rejects a Config that would fail at runtime, so the node never
// starts in a half-configured state.
func (c *Config) Validate() error {
	if c.ClusterType != ClusterTypeHoraeDB && c.ClusterType != ClusterTypeCompactionServer {
		return fmt.Errorf("config: invalid cluster_type %q", c.ClusterType)
	}
	if c.ClusterName == "" {
		return fmt.Errorf("config: cluster_name must not be empty")
	}
	if !strings.HasPrefix(c.EtcdClient.RootPath, "/") {
		return fmt.Errorf("config: etcd_client.root_path must start with '/', got %q", c.EtcdClient.RootPath)
	}
	if c.EtcdClient.ShardLockLeaseTTLSec < minShardLockLeaseTTLSec {
		return fmt.Errorf("config: etcd_client.shard_lock_lease_ttl_sec must be >= %d, got %d",
			minShardLockLeaseTTLSec, c.EtcdClient.ShardLockLeaseTTLSec)
	}
	ttl := time.Duration(c.EtcdClient.ShardLockLeaseTTLSec) * time.Second
	if c.EtcdClient.ShardLockLeaseCheckInterval <= 0 || c.EtcdClient.ShardLockLeaseCheckInterval >= ttl {
		return fmt.Errorf("config: etcd_client.shard_lock_lease_check_interval must be > 0 and < ttl (%s), got %s",
			ttl, c.EtcdClient.ShardLockLeaseCheckInterval)
	}
	if len(c.EtcdClient.ServerAddrs) == 0 {
		return fmt.Errorf("config: etcd_client.server_addrs must not be empty")
	}
	if c.ReplayMode != ReplayModeTableBased && c.ReplayMode != ReplayModeRegionBased {
		return fmt.Errorf("config: invalid replay_mode %q", c.ReplayMode)
	}
	if c.RegionLockScope != RegionLockScopeFullReplay && c.RegionLockScope != RegionLockScopePerBatch {
		return fmt.Errorf("config: invalid region_lock_scope %q", c.RegionLockScope)
	}
	if c.WALReplayBatchSize <= 0 {
		return fmt.Errorf("config: wal_replay_batch_size must be > 0")
	}
	return nil
}

// Load reads, parses, defaults, and validates the Config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}
