// Package lock implements the Shard Lock Manager (C7): exclusive,
// leased ownership of shards via etcd. Acquiring a shard's lock grants the
// caller the exclusive right to open and replay it; the lease keeps that
// grant alive only as long as this process keeps proving it is live.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

const (
	lockKeySegment    = "shards"
	minLeaseTTLSec    = 15
	defaultRPCDivisor = 6
)

// ErrInvalidConfig is returned by NewManager when Config fails validation.
var ErrInvalidConfig = errors.New("lock: invalid configuration")

// ErrAlreadyHeld is returned by Acquire when the key already exists and is
// held by a live lease (someone else got there first).
var ErrAlreadyHeld = errors.New("lock: shard already held by another owner")

// ErrNotHeld is returned by Release when the shard has no lock entry.
var ErrNotHeld = errors.New("lock: shard not held by this manager")

// Config configures a Manager. RootPath and ClusterName compose the key
// prefix under which every shard's lock key lives.
type Config struct {
	NodeName             string
	RootPath             string
	ClusterName          string
	LeaseTTLSec          int64
	LeaseCheckInterval   time.Duration
	EnableFastReacquire  bool
	// OnExpired is invoked, with the shard whose lease was lost, when
	// either the keepalive channel closes unexpectedly or the watchdog
	// observes a revoked/expired lease. It runs on the owning goroutine;
	// callers that need to touch shared state should dispatch async.
	OnExpired func(types.ShardID)
}

func (c Config) validate() error {
	if c.LeaseTTLSec < minLeaseTTLSec {
		return fmt.Errorf("%w: shard_lock_lease_ttl_sec must be >= %d, got %d", ErrInvalidConfig, minLeaseTTLSec, c.LeaseTTLSec)
	}
	if c.LeaseCheckInterval <= 0 || c.LeaseCheckInterval >= time.Duration(c.LeaseTTLSec)*time.Second {
		return fmt.Errorf("%w: shard_lock_lease_check_interval must be > 0 and < ttl(%ds)", ErrInvalidConfig, c.LeaseTTLSec)
	}
	if _, err := FormatShardLockKeyPrefix(c.RootPath, c.ClusterName); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return nil
}

// RPCTimeout is the timeout applied to every etcd RPC this package issues:
// lease_ttl_sec / 6, so a stuck call never outlives more than a fraction of
// the lease it is trying to protect.
func (c Config) RPCTimeout() time.Duration {
	return time.Duration(c.LeaseTTLSec) * time.Second / defaultRPCDivisor
}

// FormatShardLockKeyPrefix builds "<root_path>/<cluster_name>/shards".
// root_path must start with "/"; cluster_name must be non-empty.
func FormatShardLockKeyPrefix(rootPath, clusterName string) (string, error) {
	if !strings.HasPrefix(rootPath, "/") {
		return "", fmt.Errorf("root_path is required to start with /, got %q", rootPath)
	}
	if clusterName == "" {
		return "", errors.New("cluster_name is required non-empty")
	}
	return fmt.Sprintf("%s/%s/%s", rootPath, clusterName, lockKeySegment), nil
}

// shardLock tracks one held lease and the tasks keeping it alive.
type shardLock struct {
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the leases this node currently holds, one per shard.
type Manager struct {
	client *clientv3.Client
	cfg    Config
	prefix string

	mu    sync.Mutex
	locks map[types.ShardID]*shardLock
}

// NewManager validates cfg and returns a Manager bound to client. The
// client's connection lifecycle (dial, TLS, endpoint discovery) is the
// caller's responsibility; this package only issues RPCs on it.
func NewManager(client *clientv3.Client, cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	prefix, err := FormatShardLockKeyPrefix(cfg.RootPath, cfg.ClusterName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return &Manager{
		client: client,
		cfg:    cfg,
		prefix: prefix,
		locks:  make(map[types.ShardID]*shardLock),
	}, nil
}

func (m *Manager) key(shardID types.ShardID) string {
	return fmt.Sprintf("%s/%d", m.prefix, shardID)
}

// Acquire grants a lease with TTL cfg.LeaseTTLSec, then CAS-puts the
// shard's key bound to that lease, failing if the key already exists. On
// success it spawns a keepalive task (refreshing the lease via etcd's
// native keepalive stream) and a watchdog task (polling TimeToLive every
// cfg.LeaseCheckInterval as a defense-in-depth check); either one
// observing the lease is gone invokes cfg.OnExpired.
func (m *Manager) Acquire(ctx context.Context, shardID types.ShardID) error {
	m.mu.Lock()
	if _, held := m.locks[shardID]; held {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout())
	defer cancel()

	grant, err := m.client.Grant(rpcCtx, m.cfg.LeaseTTLSec)
	if err != nil {
		return fmt.Errorf("lock: grant lease for shard %d: %w", shardID, err)
	}

	key := m.key(shardID)
	txn := m.client.Txn(rpcCtx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, m.cfg.NodeName, clientv3.WithLease(grant.ID))).
		Else(clientv3.OpGet(key))
	resp, err := txn.Commit()
	if err != nil {
		_, _ = m.client.Revoke(rpcCtx, grant.ID)
		return fmt.Errorf("lock: acquire shard %d: %w", shardID, err)
	}
	if !resp.Succeeded {
		_, _ = m.client.Revoke(rpcCtx, grant.ID)
		return fmt.Errorf("lock: acquire shard %d: %w", shardID, ErrAlreadyHeld)
	}

	keepCh, err := m.client.KeepAlive(context.Background(), grant.ID)
	if err != nil {
		_, _ = m.client.Revoke(rpcCtx, grant.ID)
		return fmt.Errorf("lock: start keepalive for shard %d: %w", shardID, err)
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())
	sl := &shardLock{leaseID: grant.ID, cancel: taskCancel, done: make(chan struct{})}

	go m.runKeepaliveAndWatchdog(taskCtx, shardID, sl, keepCh)

	m.mu.Lock()
	m.locks[shardID] = sl
	m.mu.Unlock()

	return nil
}

func (m *Manager) runKeepaliveAndWatchdog(ctx context.Context, shardID types.ShardID, sl *shardLock, keepCh <-chan *clientv3.LeaseKeepAliveResponse) {
	defer close(sl.done)

	watchdog := time.NewTicker(m.cfg.LeaseCheckInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-keepCh:
			if !ok {
				m.expire(shardID)
				return
			}
			_ = resp
		case <-watchdog.C:
			if m.leaseExpired(ctx, sl.leaseID) {
				m.expire(shardID)
				return
			}
		}
	}
}

func (m *Manager) leaseExpired(ctx context.Context, leaseID clientv3.LeaseID) bool {
	rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout())
	defer cancel()

	resp, err := m.client.TimeToLive(rpcCtx, leaseID)
	if err != nil {
		return true
	}
	return resp.TTL <= 0
}

func (m *Manager) expire(shardID types.ShardID) {
	m.mu.Lock()
	delete(m.locks, shardID)
	m.mu.Unlock()

	if m.cfg.OnExpired != nil {
		m.cfg.OnExpired(shardID)
	}
}

// Release gives up ownership of shardID. If EnableFastReacquire is set, it
// deletes the key before revoking the lease, so a subsequent Acquire on the
// same node does not have to wait out the lease's natural grace window.
// Otherwise it simply revokes the lease, which deletes the key as a side
// effect.
func (m *Manager) Release(ctx context.Context, shardID types.ShardID) error {
	m.mu.Lock()
	sl, held := m.locks[shardID]
	if held {
		delete(m.locks, shardID)
	}
	m.mu.Unlock()

	if !held {
		return ErrNotHeld
	}

	sl.cancel()
	<-sl.done

	rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout())
	defer cancel()

	if m.cfg.EnableFastReacquire {
		if _, err := m.client.Delete(rpcCtx, m.key(shardID)); err != nil {
			return fmt.Errorf("lock: delete key for shard %d: %w", shardID, err)
		}
	}

	if _, err := m.client.Revoke(rpcCtx, sl.leaseID); err != nil {
		return fmt.Errorf("lock: revoke lease for shard %d: %w", shardID, err)
	}
	return nil
}

// IsHeld reports whether this Manager currently believes it holds shardID's
// lock. It does not make an RPC; it reflects local state only.
func (m *Manager) IsHeld(shardID types.ShardID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[shardID]
	return held
}

// Close releases every shard this Manager holds.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	shardIDs := make([]types.ShardID, 0, len(m.locks))
	for id := range m.locks {
		shardIDs = append(shardIDs, id)
	}
	m.mu.Unlock()

	for _, id := range shardIDs {
		_ = m.Release(ctx, id)
	}
}
