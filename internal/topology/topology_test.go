package topology

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

func TestNodesReportsNotOKBeforeFirstUpdate(t *testing.T) {
	c := NewCache()
	_, ok := c.Nodes()
	require.False(t, ok)
}

func TestMaybeUpdateAcceptsStrictlyNewerVersion(t *testing.T) {
	c := NewCache()
	require.True(t, c.MaybeUpdate([]types.NodeShardsInfo{{NodeID: "a"}}, 1))

	got, ok := c.Nodes()
	require.True(t, ok)
	require.Equal(t, uint64(1), got.Version)
}

func TestMaybeUpdateRejectsEqualOrOlderVersion(t *testing.T) {
	c := NewCache()
	require.True(t, c.MaybeUpdate([]types.NodeShardsInfo{{NodeID: "a"}}, 5))

	require.False(t, c.MaybeUpdate([]types.NodeShardsInfo{{NodeID: "b"}}, 5))
	require.False(t, c.MaybeUpdate([]types.NodeShardsInfo{{NodeID: "c"}}, 4))

	got, _ := c.Nodes()
	require.Equal(t, uint64(5), got.Version)
	require.Equal(t, types.NodeID("a"), got.Nodes[0].NodeID)
}

func TestMaybeUpdateUnderConcurrencyNeverRegresses(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for v := uint64(1); v <= 50; v++ {
		wg.Add(1)
		go func(version uint64) {
			defer wg.Done()
			c.MaybeUpdate([]types.NodeShardsInfo{{NodeID: types.NodeID("n")}}, version)
		}(v)
	}
	wg.Wait()

	got, ok := c.Nodes()
	require.True(t, ok)
	require.Equal(t, uint64(50), got.Version)
}
