package replay

import (
	"context"

	"github.com/ChuLiYu/shardkeeper/pkg/table"
	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// Strategy is the shared contract both Table-Based and Region-Based replay
// implement. The two are represented as a tagged choice at the
// configuration boundary (see Mode below) rather than through inheritance;
// they share their core logic via the apply free function, not a base type.
type Strategy interface {
	Run(ctx context.Context, shardID types.ShardID, tables []*table.Table) (map[types.TableID]error, error)
}

// Mode selects which Strategy a shard replays with.
type Mode int

const (
	TableBased Mode = iota
	RegionBased
)

var (
	_ Strategy = (*TableBasedStrategy)(nil)
	_ Strategy = (*RegionBasedStrategy)(nil)
)
