package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stoik/fraud-shield/internal/domain"
	"github.com/stoik/fraud-shield/internal/ports"
)

type parseFunc func(raw []byte) (any, error)

var parsers = map[Kind]parseFunc{
	KindConfig:       parseConfig,
	KindHeuristics:   parseHeuristics,
	KindWhitelist:    parseWhitelist,
	KindForest:       parseForest,
	KindMarkovLegit2: parseMarkovModel,
	KindMarkovFraud2: parseMarkovModel,
	KindMarkovLegit3: parseMarkovModel,
	KindMarkovFraud3: parseMarkovModel,
	KindDisposable:   parseDisposable,
	KindTLDProfiles:  parseTLDProfiles,
}

type entry struct {
	value     any
	version   string
	fetchedAt time.Time
}

// Cache is the ArtifactCache of §4.7: one atomic snapshot per Kind, refreshed
// independently on its own TTL, with singleflight de-duplication across
// concurrent callers and stale-while-revalidate fallback on fetch failure.
// No per-request lock is held on the read path — Get loads an atomic pointer.
type Cache struct {
	store   ports.ArtifactStore
	log     zerolog.Logger
	sf      singleflight.Group
	ttl     map[Kind]time.Duration
	entries map[Kind]*atomic.Pointer[entry]

	onStale func(kind Kind, err error)
}

// New builds a Cache backed by store. All kinds start empty; the first Get
// for a kind triggers a synchronous fetch.
func New(store ports.ArtifactStore, log zerolog.Logger) *Cache {
	c := &Cache{
		store:   store,
		log:     log.With().Str("component", "artifact_cache").Logger(),
		ttl:     defaultTTLs,
		entries: make(map[Kind]*atomic.Pointer[entry], len(allKinds)),
	}
	for _, k := range allKinds {
		c.entries[k] = &atomic.Pointer[entry]{}
	}
	return c
}

// OnStale registers a callback invoked whenever a refresh attempt fails and
// the cache falls back to a stale (or absent) snapshot. Used by the metrics
// adapter to count kv_fetch_failed_total; nil is safe (no-op).
func (c *Cache) OnStale(fn func(kind Kind, err error)) {
	c.onStale = fn
}

// get is the generic path shared by every typed accessor: return the current
// snapshot if fresh, otherwise refresh (de-duplicated via singleflight) and
// fall back to the previous snapshot on failure.
func (c *Cache) get(ctx context.Context, kind Kind) (any, error) {
	ptr, ok := c.entries[kind]
	if !ok {
		return nil, fmt.Errorf("cache: unknown artifact kind %q", kind)
	}

	cur := ptr.Load()
	if cur != nil && time.Since(cur.fetchedAt) < c.ttl[kind] {
		return cur.value, nil
	}

	v, err, _ := c.sf.Do(string(kind), func() (any, error) {
		fresh, ferr := c.fetch(ctx, kind)
		if ferr != nil {
			if c.onStale != nil {
				c.onStale(kind, ferr)
			}
			c.log.Warn().Err(ferr).Str("kind", string(kind)).Msg("artifact refresh failed, serving stale snapshot")
			if existing := ptr.Load(); existing != nil {
				return existing.value, nil
			}
			return nil, ferr
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Cache) fetch(ctx context.Context, kind Kind) (any, error) {
	raw, meta, err := c.store.Get(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}

	if checksummedKinds[kind] && meta.Checksum != "" {
		sum := sha256.Sum256(raw)
		if hex.EncodeToString(sum[:]) != meta.Checksum {
			return nil, fmt.Errorf("fetch %s: checksum mismatch", kind)
		}
	}

	parse, ok := parsers[kind]
	if !ok {
		return nil, fmt.Errorf("fetch %s: no parser registered", kind)
	}
	value, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}

	c.entries[kind].Store(&entry{value: value, version: meta.Version, fetchedAt: time.Now()})
	return value, nil
}

// Invalidate forces the next Get for kind (or every kind, for KindAll) to
// refetch regardless of TTL. This is the admin invalidation capability of
// SPEC_FULL.md's supplemented features: it clears the stored fetchedAt so
// the freshness check fails, it does not evict the value itself, so a
// reader whose refetch fails still gets the previous snapshot rather than
// an error.
func (c *Cache) Invalidate(kind Kind) error {
	if kind == KindAll {
		for _, k := range allKinds {
			c.expire(k)
		}
		return nil
	}
	ptr, ok := c.entries[kind]
	if !ok {
		return fmt.Errorf("cache: unknown artifact kind %q", kind)
	}
	if cur := ptr.Load(); cur != nil {
		expired := *cur
		expired.fetchedAt = time.Time{}
		ptr.Store(&expired)
	}
	return nil
}

func (c *Cache) expire(kind Kind) {
	ptr := c.entries[kind]
	if cur := ptr.Load(); cur != nil {
		expired := *cur
		expired.fetchedAt = time.Time{}
		ptr.Store(&expired)
	}
}

// Config returns the current scoring configuration snapshot.
func (c *Cache) Config(ctx context.Context) (domain.Config, error) {
	v, err := c.get(ctx, KindConfig)
	if err != nil {
		return domain.Config{}, err
	}
	return v.(domain.Config), nil
}

// Heuristics returns the current additive-bump rule set.
func (c *Cache) Heuristics(ctx context.Context) (domain.Heuristics, error) {
	v, err := c.get(ctx, KindHeuristics)
	if err != nil {
		return domain.Heuristics{}, err
	}
	return v.(domain.Heuristics), nil
}

// Whitelist returns the current whitelist entry set.
func (c *Cache) Whitelist(ctx context.Context) (domain.Whitelist, error) {
	v, err := c.get(ctx, KindWhitelist)
	if err != nil {
		return domain.Whitelist{}, err
	}
	return v.(domain.Whitelist), nil
}

// Forest returns the current calibrated random forest.
func (c *Cache) Forest(ctx context.Context) (*domain.RandomForest, error) {
	v, err := c.get(ctx, KindForest)
	if err != nil {
		return nil, err
	}
	return v.(*domain.RandomForest), nil
}

// Markov returns one of the four trained Markov models. kind must be one of
// KindMarkovLegit2/Fraud2/Legit3/Fraud3's string value; accepting a plain
// string here (rather than the unexported-flavor Kind type) lets
// ports.ArtifactSource describe this method without importing this package.
func (c *Cache) Markov(ctx context.Context, kind string) (*domain.MarkovModel, error) {
	v, err := c.get(ctx, Kind(kind))
	if err != nil {
		return nil, err
	}
	return v.(*domain.MarkovModel), nil
}

// Disposable returns the current disposable-domain set as a membership map.
func (c *Cache) Disposable(ctx context.Context) (map[string]struct{}, error) {
	v, err := c.get(ctx, KindDisposable)
	if err != nil {
		return nil, err
	}
	return v.(map[string]struct{}), nil
}

// TLDProfiles returns the current TLD-to-risk map.
func (c *Cache) TLDProfiles(ctx context.Context) (map[string]float64, error) {
	v, err := c.get(ctx, KindTLDProfiles)
	if err != nil {
		return nil, err
	}
	return v.(map[string]float64), nil
}
