package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/fraud-shield/internal/ports"
)

type fakeStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	metas    map[string]ports.ArtifactMeta
	fetches  int32
	fetchErr error
	delay    time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string][]byte{}, metas: map[string]ports.ArtifactMeta{}}
}

func (f *fakeStore) set(key string, value []byte, meta ports.ArtifactMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.metas[key] = meta
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, ports.ArtifactMeta, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, ports.ArtifactMeta{}, f.fetchErr
	}
	v, ok := f.values[key]
	if !ok {
		return nil, ports.ArtifactMeta{}, assertNotFound{key}
	}
	return v, f.metas[key], nil
}

type assertNotFound struct{ key string }

func (e assertNotFound) Error() string { return "not found: " + e.key }

func TestCache_Config_ParsesAndCaches(t *testing.T) {
	store := newFakeStore()
	store.set(string(KindConfig), []byte(`{"riskThresholds":{"warn":0.3,"block":0.35}}`), ports.ArtifactMeta{Version: "v1"})

	c := New(store, zerolog.Nop())
	cfg, err := c.Config(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.RiskThresholds.Warn, 1e-9)

	_, err = c.Config(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, store.fetches)
}

func TestCache_Forest_RejectsChecksumMismatch(t *testing.T) {
	store := newFakeStore()
	store.set(string(KindForest), []byte(`{"meta":{"version":"v1"},"forest":[]}`), ports.ArtifactMeta{Version: "v1", Checksum: "deadbeef"})

	c := New(store, zerolog.Nop())
	_, err := c.Forest(context.Background())
	assert.Error(t, err)
}

func TestCache_Forest_AcceptsValidChecksum(t *testing.T) {
	raw := []byte(`{"meta":{"version":"v1"},"forest":[{"t":"l","v":0.1}]}`)
	sum := sha256.Sum256(raw)

	store := newFakeStore()
	store.set(string(KindForest), raw, ports.ArtifactMeta{Version: "v1", Checksum: hex.EncodeToString(sum[:])})

	c := New(store, zerolog.Nop())
	rf, err := c.Forest(context.Background())
	require.NoError(t, err)
	require.Len(t, rf.Forest, 1)
	assert.True(t, rf.Forest[0].IsLeaf)
}

func TestCache_StaleWhileRevalidate_OnFetchFailure(t *testing.T) {
	store := newFakeStore()
	store.set(string(KindHeuristics), []byte(`{"version":"v1","rules":[]}`), ports.ArtifactMeta{Version: "v1"})

	c := New(store, zerolog.Nop())
	first, err := c.Heuristics(context.Background())
	require.NoError(t, err)

	c.ttl[KindHeuristics] = 0 // force next Get to treat the entry as stale
	store.fetchErr = assertNotFound{"boom"}

	second, err := c.Heuristics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCache_Invalidate_ForcesRefetch(t *testing.T) {
	store := newFakeStore()
	store.set(string(KindWhitelist), []byte(`{"version":"v1","entries":[]}`), ports.ArtifactMeta{Version: "v1"})

	c := New(store, zerolog.Nop())
	_, err := c.Whitelist(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(KindWhitelist))
	_, err = c.Whitelist(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.fetches)
}

func TestCache_Singleflight_DeduplicatesConcurrentFetches(t *testing.T) {
	store := newFakeStore()
	store.delay = 20 * time.Millisecond
	store.set(string(KindDisposable), []byte(`["tempmail.com"]`), ports.ArtifactMeta{Version: "v1"})

	c := New(store, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Disposable(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, store.fetches)
}
