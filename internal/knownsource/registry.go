package knownsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"
)

// Registry caches the known-source set for one process. Writes go through
// the Store's Add, and reads see the last persisted state this process has
// observed.
type Registry struct {
	store  Store
	logger log.Logger

	mu  sync.RWMutex
	set Set
}

// Open loads the persisted set. Load failures never block startup: they are
// logged and the registry starts empty.
func Open(ctx context.Context, store Store, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	set, err := store.Load(ctx)
	if err != nil {
		logger.Warn(ctx, "known sources unavailable, starting with an empty set", "error", err)
		set = NewSet()
	}
	if set == nil {
		set = NewSet()
	}
	logger.Info(ctx, "known sources loaded", "count", set.Len())
	return &Registry{store: store, logger: logger, set: set}
}

// Contains reports whether ip is trusted.
func (r *Registry) Contains(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Contains(ip)
}

// Snapshot returns a copy of the current set.
func (r *Registry) Snapshot() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Clone()
}

// Len returns the number of trusted IPs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Len()
}

// Add trusts ip. Adding an already trusted IP is a no-op and reports false.
// A new IP is persisted before it becomes visible; if the write fails the set
// is left unchanged and the error is returned. On success the cached set is
// replaced by the persisted one, which picks up IPs trusted by other
// processes since Open.
func (r *Registry) Add(ctx context.Context, ip string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.set.Contains(ip) {
		return false, nil
	}

	persisted, added, err := r.store.Add(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("persist known source %s: %w", ip, err)
	}
	if persisted == nil {
		persisted = r.set.Clone()
	}
	persisted.Add(ip)
	r.set = persisted

	r.logger.Info(ctx, "known source added", "ip", ip, "added", added, "count", persisted.Len())
	return added, nil
}
