package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

const (
	lockKeyPrefix = "browser-orchestrator:profile-lock:"
	lockTTL       = 6 * time.Hour // well beyond any single session's expected lifetime
)

// profileLocker is the capability Manager needs to enforce profile
// exclusivity. The default implementation is the in-process map guarded by
// Manager's own mutex; distributedLock swaps in a Redis-backed
// implementation so the same advisory lock holds across multiple
// orchestratord replicas sharing one profiles_root over a network
// filesystem (spec.md §5 "advisory lock keyed by user-data-dir path",
// generalized to a multi-replica deployment per SPEC_FULL.md's domain
// stack).
type profileLocker interface {
	acquire(ctx context.Context, userDataDir, sessionID string) error
	release(ctx context.Context, userDataDir string)
}

// localLocker is the single-process in-memory lock table, Manager's
// default when no redis_addr is configured.
type localLocker struct {
	mgr *Manager
}

func (l localLocker) acquire(_ context.Context, userDataDir, sessionID string) error {
	return l.mgr.acquireProfileLock(userDataDir, sessionID)
}

func (l localLocker) release(_ context.Context, userDataDir string) {
	l.mgr.releaseProfileLock(userDataDir)
}

// distributedLock acquires the advisory lock as a Redis key via SET NX,
// with a TTL so a crashed replica's lock eventually self-heals rather than
// permanently wedging a profile.
type distributedLock struct {
	client *redis.Client
}

// NewDistributedLocker dials addr and returns a profileLocker backed by
// Redis. The caller (process entrypoint) only constructs this when
// config.Config.RedisAddr is non-empty.
func NewDistributedLocker(addr string) *distributedLock {
	return &distributedLock{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (d *distributedLock) acquire(ctx context.Context, userDataDir, sessionID string) error {
	ok, err := d.client.SetNX(ctx, lockKeyPrefix+userDataDir, sessionID, lockTTL).Result()
	if err != nil {
		return model.NewError(model.ErrInternal, "session.distributedLock.acquire", "redis lock acquire failed", err)
	}
	if !ok {
		holder, _ := d.client.Get(ctx, lockKeyPrefix+userDataDir).Result()
		return model.NewError(model.ErrProfileBusy, "session.Open", "user-data dir is already in use by session "+holder, nil)
	}
	return nil
}

func (d *distributedLock) release(ctx context.Context, userDataDir string) {
	d.client.Del(ctx, lockKeyPrefix+userDataDir)
}

func (d *distributedLock) Close() error {
	return d.client.Close()
}
