package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kolabpad/kolabpad/internal/store"
	"github.com/kolabpad/kolabpad/pkg/ot"
)

func insertOp(baseLen int, text string) *ot.OperationSeq {
	op := ot.NewOperationSeq()
	if baseLen > 0 {
		op.Retain(uint64(baseLen))
	}
	op.Insert(text)
	return op
}

// fakeStore is an in-memory SnapshotStore for tests that don't need a
// real database.
type fakeStore struct {
	mu   sync.Mutex
	data map[string]store.Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]store.Snapshot)}
}

func (f *fakeStore) Load(ctx context.Context, id string) (*store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.data[id]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (f *fakeStore) Store(ctx context.Context, snap *store.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[snap.ID] = *snap
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data), nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func TestOpenCreatesNewDocument(t *testing.T) {
	r := New(nil, 1)
	eng := r.Open(context.Background(), "doc1")
	require.NotNil(t, eng)
	require.Equal(t, "", eng.Text())
	require.Equal(t, 1, r.Count())
}

func TestOpenReturnsSameEngineOnSecondCall(t *testing.T) {
	r := New(nil, 1)
	ctx := context.Background()
	e1 := r.Open(ctx, "doc1")
	e2 := r.Open(ctx, "doc1")
	require.Same(t, e1, e2)
	require.Equal(t, 1, r.Count())
}

func TestOpenLoadsExistingSnapshot(t *testing.T) {
	fs := newFakeStore()
	fs.data["doc1"] = store.Snapshot{ID: "doc1", Text: "preexisting", Language: "python"}

	r := New(fs, 1)
	eng := r.Open(context.Background(), "doc1")
	require.Equal(t, "preexisting", eng.Text())
	require.Equal(t, "python", eng.Snapshot().Language)
}

func TestNextSessionIDIsMonotonicAndUnique(t *testing.T) {
	r := New(nil, 1)
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id := r.NextSessionID()
		require.False(t, seen[id], "duplicate session id %d", id)
		seen[id] = true
	}
}

func TestNextSessionIDSharedAcrossDocuments(t *testing.T) {
	r := New(nil, 1)
	a := r.NextSessionID()
	b := r.NextSessionID()
	require.NotEqual(t, a, b)
}

func TestPeekTextReturnsLiveEngineText(t *testing.T) {
	r := New(nil, 1)
	ctx := context.Background()
	eng := r.Open(ctx, "doc1")
	_, err := eng.Edit(1, 0, insertOp(0, "hello"))
	require.NoError(t, err)

	require.Equal(t, "hello", r.PeekText(ctx, "doc1"))
}

func TestPeekTextFallsBackToStoreWithoutOpening(t *testing.T) {
	fs := newFakeStore()
	fs.data["doc1"] = store.Snapshot{ID: "doc1", Text: "from store"}

	r := New(fs, 1)
	require.Equal(t, "from store", r.PeekText(context.Background(), "doc1"))
	require.Equal(t, 0, r.Count(), "PeekText must not create a live entry")
}

func TestPeekTextReturnsEmptyForUnknownDocument(t *testing.T) {
	r := New(nil, 1)
	require.Equal(t, "", r.PeekText(context.Background(), "never-existed"))
}

func TestShutdownKillsEveryEngine(t *testing.T) {
	r := New(nil, 1)
	ctx := context.Background()
	e1 := r.Open(ctx, "doc1")
	e2 := r.Open(ctx, "doc2")

	r.Shutdown()

	require.True(t, e1.Killed())
	require.True(t, e2.Killed())
}

func TestEvictExpiredRemovesIdleDocuments(t *testing.T) {
	r := New(nil, 1)
	eng := r.Open(context.Background(), "doc1")

	// Force the entry to look idle far beyond the expiry window.
	r.mu.Lock()
	r.entries["doc1"].lastAccessed.Store(time.Now().Add(-48 * time.Hour).Unix())
	r.mu.Unlock()

	r.evictExpired()

	require.Equal(t, 0, r.Count())
	require.True(t, eng.Killed())
}

func TestEvictExpiredKeepsRecentDocuments(t *testing.T) {
	r := New(nil, 1)
	r.Open(context.Background(), "doc1")

	r.evictExpired()

	require.Equal(t, 1, r.Count())
}

