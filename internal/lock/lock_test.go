package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

func TestFormatShardLockKeyPrefix(t *testing.T) {
	cases := []struct {
		name        string
		rootPath    string
		clusterName string
		want        string
		wantErr     bool
	}{
		{name: "valid", rootPath: "/horaedb", clusterName: "defaultCluster", want: "/horaedb/defaultCluster/shards"},
		{name: "empty root", rootPath: "", clusterName: "defaultCluster", wantErr: true},
		{name: "root missing leading slash", rootPath: "vvv", clusterName: "defaultCluster", wantErr: true},
		{name: "empty cluster name", rootPath: "/x", clusterName: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatShardLockKeyPrefix(tc.rootPath, tc.clusterName)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func validConfig() Config {
	return Config{
		NodeName:           "node-1",
		RootPath:           "/horaedb",
		ClusterName:        "defaultCluster",
		LeaseTTLSec:        30,
		LeaseCheckInterval: 200 * time.Millisecond,
	}
}

func TestConfigValidateRejectsShortTTL(t *testing.T) {
	cfg := validConfig()
	cfg.LeaseTTLSec = minLeaseTTLSec - 1
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}

func TestConfigValidateRejectsCheckIntervalAtOrAboveTTL(t *testing.T) {
	cfg := validConfig()
	cfg.LeaseCheckInterval = time.Duration(cfg.LeaseTTLSec) * time.Second
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}

func TestConfigValidateRejectsBadKeyPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.RootPath = "vvv"
	require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}

func TestConfigValidateAcceptsSpecMinimum(t *testing.T) {
	cfg := validConfig()
	cfg.LeaseTTLSec = minLeaseTTLSec
	cfg.LeaseCheckInterval = (minLeaseTTLSec - 1) * time.Second
	require.NoError(t, cfg.validate())
}

func TestRPCTimeoutIsTTLDividedBySix(t *testing.T) {
	cfg := validConfig()
	cfg.LeaseTTLSec = 30
	require.Equal(t, 5*time.Second, cfg.RPCTimeout())
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.LeaseTTLSec = 1
	_, err := NewManager(nil, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIsHeldReflectsOnlyLocalState(t *testing.T) {
	m := &Manager{locks: make(map[types.ShardID]*shardLock)}
	require.False(t, m.IsHeld(types.ShardID(1)))

	m.locks[types.ShardID(1)] = &shardLock{}
	require.True(t, m.IsHeld(types.ShardID(1)))
}

func TestKeyFormatsWithShardID(t *testing.T) {
	m := &Manager{prefix: "/horaedb/defaultCluster/shards"}
	require.Equal(t, "/horaedb/defaultCluster/shards/7", m.key(types.ShardID(7)))
}
