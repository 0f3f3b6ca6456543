package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
	"github.com/ChuLiYu/shardkeeper/pkg/wal"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd)
	assert.Equal(t, "shardkeeper", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commands := cmd.Commands()
	names := make(map[string]bool)
	for _, c := range commands {
		names[c.Use] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["status"])
	assert.True(t, names["replay"])

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()
	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()
	assert.Equal(t, "status", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildReplayCommandRequiresWalDirAndTableName(t *testing.T) {
	cmd := buildReplayCommand()
	assert.Equal(t, "replay", cmd.Use)

	walDirFlag := cmd.Flags().Lookup("wal-dir")
	require.NotNil(t, walDirFlag)
	tableNameFlag := cmd.Flags().Lookup("table-name")
	require.NotNil(t, tableNameFlag)
}

func TestShowStatusPrintsLoadedConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	body := `
cluster_name: defaultCluster
node_id: node-1
etcd_client:
  server_addrs: ["127.0.0.1:2379"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	configFile = path
	err := showStatus()
	assert.NoError(t, err)
}

func TestShowStatusFailsOnMissingConfig(t *testing.T) {
	configFile = "/nonexistent/config.yaml"
	err := showStatus()
	assert.Error(t, err)
}

func TestRunReplayDebugReplaysWalAndPrintsSequence(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := wal.Open(filepath.Join(tmpDir, replayWALFileName), types.ShardID(0), wal.Options{})
	require.NoError(t, err)

	payload := types.Payload{
		Kind:     types.PayloadWrite,
		RowGroup: types.RowGroup{Rows: []map[string]any{{"k": "v1"}}},
	}
	_, err = w.Append(types.TableID(7), payload)
	require.NoError(t, err)
	_, err = w.Append(types.TableID(7), payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = runReplayDebug(tmpDir, "events", types.TableID(7), types.Sequence(0), 500)
	assert.NoError(t, err)
}
