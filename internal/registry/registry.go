// Package registry implements the process-wide document registry:
// lazy open-or-create, idle eviction, and a per-document snapshot
// publisher backed by an external store.
package registry

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolabpad/kolabpad/internal/engine"
	"github.com/kolabpad/kolabpad/internal/store"
	"github.com/kolabpad/kolabpad/pkg/logger"
)

const (
	evictionScanInterval = 1 * time.Hour
	defaultExpiryDays    = 1
	persistInterval      = 3 * time.Second
	persistJitter        = 1 * time.Second
)

type entry struct {
	engine       *engine.Engine
	lastAccessed atomic.Int64
}

// Registry is the process-wide map from document id to its engine.
// A nil SnapshotStore disables persistence entirely: documents are
// purely in-memory and lost on eviction or restart.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	store      store.SnapshotStore
	expiryDays int

	sessionCounter atomic.Uint64
}

// New creates a registry. store may be nil to disable persistence.
func New(snapStore store.SnapshotStore, expiryDays int) *Registry {
	if expiryDays <= 0 {
		expiryDays = defaultExpiryDays
	}
	return &Registry{
		entries:    make(map[string]*entry),
		store:      snapStore,
		expiryDays: expiryDays,
	}
}

// NextSessionID returns a process-unique, monotonically increasing
// session id shared across every document this registry serves.
func (r *Registry) NextSessionID() uint64 {
	return r.sessionCounter.Add(1) - 1
}

// Open returns the engine for id, creating it — optionally seeded
// from the snapshot store — if this is the first access, and
// starting its snapshot publisher. Touches last_accessed.
func (r *Registry) Open(ctx context.Context, id string) *engine.Engine {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.lastAccessed.Store(time.Now().Unix())
		r.mu.Unlock()
		return e.engine
	}
	r.mu.Unlock()

	eng := r.loadOrCreate(ctx, id)

	r.mu.Lock()
	if existing, ok := r.entries[id]; ok {
		// Lost a race with a concurrent Open; discard the engine we
		// just built and use the one that won.
		existing.lastAccessed.Store(time.Now().Unix())
		r.mu.Unlock()
		eng.Kill()
		return existing.engine
	}
	e := &entry{engine: eng}
	e.lastAccessed.Store(time.Now().Unix())
	r.entries[id] = e
	r.mu.Unlock()

	if r.store != nil {
		go r.publishSnapshots(id, eng)
	}
	return eng
}

// PeekText returns id's current text without opening a live,
// persister-backed entry for it: if the document is already open, its
// live text is returned; otherwise the snapshot store (if any) is
// consulted directly, and "" is returned for a document that has
// never existed.
func (r *Registry) PeekText(ctx context.Context, id string) string {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if ok {
		return e.engine.Text()
	}

	if r.store == nil {
		return ""
	}
	snap, err := r.store.Load(ctx, id)
	if err != nil {
		logger.Error("registry: peek %s: %v", id, err)
		return ""
	}
	if snap == nil {
		return ""
	}
	return snap.Text
}

func (r *Registry) loadOrCreate(ctx context.Context, id string) *engine.Engine {
	if r.store != nil {
		if snap, err := r.store.Load(ctx, id); err != nil {
			logger.Error("registry: load %s from store: %v", id, err)
		} else if snap != nil {
			logger.Info("registry: loaded %s from store at revision %d", id, snap.Revision)
			return engine.FromSnapshot(snap.Text, snap.Language)
		}
	}
	return engine.New()
}

// RunEvictor blocks, scanning every evictionScanInterval and killing
// the engines of documents idle longer than expiryDays, until ctx is
// canceled.
func (r *Registry) RunEvictor(ctx context.Context) {
	ticker := time.NewTicker(evictionScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	expiry := time.Duration(r.expiryDays) * 24 * time.Hour
	now := time.Now()

	var deadIDs []string
	var deadEngines []*engine.Engine
	r.mu.Lock()
	for id, e := range r.entries {
		if now.Sub(time.Unix(e.lastAccessed.Load(), 0)) > expiry {
			deadIDs = append(deadIDs, id)
			deadEngines = append(deadEngines, e.engine)
		}
	}
	for _, id := range deadIDs {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if len(deadIDs) > 0 {
		logger.Info("registry: evicting idle documents: %v", deadIDs)
	}
	for _, eng := range deadEngines {
		eng.Kill()
	}
}

// Shutdown kills every live engine, terminating all sessions cleanly.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.engine.Kill()
	}
}

// Count returns the number of currently open (in-memory) documents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StoreCount returns the number of snapshots persisted in the backing
// store, or 0 if persistence is disabled.
func (r *Registry) StoreCount(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	return r.store.Count(ctx)
}

// publishSnapshots periodically writes id's snapshot through the
// store when its revision has advanced since the last write. Exits
// once the engine is killed.
func (r *Registry) publishSnapshots(id string, eng *engine.Engine) {
	lastRevision := uint32(0)
	for {
		jitter := time.Duration(rand.Int63n(int64(persistJitter)))
		select {
		case <-time.After(persistInterval + jitter):
		}

		if eng.Killed() {
			return
		}

		snap := eng.Snapshot()
		if snap.Revision <= lastRevision {
			continue
		}

		err := r.store.Store(context.Background(), &store.Snapshot{
			ID:       id,
			Text:     snap.Text,
			Language: snap.Language,
			Revision: snap.Revision,
		})
		if err != nil {
			logger.Error("registry: persist %s: %v", id, err)
			continue
		}
		lastRevision = snap.Revision
	}
}
