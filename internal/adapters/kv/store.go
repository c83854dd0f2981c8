// Package kv implements ports.ArtifactStore against Redis, and the
// publish/subscribe channel that backs the admin invalidation capability.
package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stoik/fraud-shield/internal/ports"
)

// InvalidationChannel is the pub/sub channel admins publish a Kind name (or
// "all") to in order to force an immediate artifact refresh, instead of
// waiting out the TTL (§4.7 supplement).
const InvalidationChannel = "fraud-shield:artifact-invalidate"

// metaSuffix is appended to an artifact key to find its version/checksum
// side record, stored as a small JSON document alongside the raw value.
const metaSuffix = ":meta"

// Store is a Redis-backed ports.ArtifactStore. Each artifact is two keys:
// the raw value and a "<key>:meta" JSON document carrying version and an
// optional SHA-256 checksum.
type Store struct {
	client *redis.Client
	log    zerolog.Logger
}

// New wraps an existing Redis client. The caller owns the client's lifecycle
// (pool sizing, TLS, auth) — Store only issues GET, SUBSCRIBE and PUBLISH
// commands on it and never closes it.
func New(client *redis.Client, log zerolog.Logger) *Store {
	return &Store{client: client, log: log.With().Str("component", "kv_store").Logger()}
}

// Get implements ports.ArtifactStore.
func (s *Store) Get(ctx context.Context, key string) ([]byte, ports.ArtifactMeta, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, ports.ArtifactMeta{}, fmt.Errorf("kv get %s: %w", key, err)
	}

	rawMeta, err := s.client.Get(ctx, key+metaSuffix).Bytes()
	if err != nil {
		if err == redis.Nil {
			return value, ports.ArtifactMeta{}, nil
		}
		return nil, ports.ArtifactMeta{}, fmt.Errorf("kv get meta %s: %w", key, err)
	}

	var meta ports.ArtifactMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("artifact meta record malformed, continuing without it")
		return value, ports.ArtifactMeta{}, nil
	}
	return value, meta, nil
}

// Subscribe opens the invalidation pub/sub channel and invokes onMessage
// with each published Kind/"all" payload until ctx is canceled. Intended to
// be run in its own goroutine by the application wiring.
func (s *Store) Subscribe(ctx context.Context, onMessage func(kind string)) error {
	sub := s.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			onMessage(msg.Payload)
		}
	}
}

// Publish broadcasts an invalidation request for kind (or "all") to every
// subscribed process. Used by the admin surface.
func (s *Store) Publish(ctx context.Context, kind string) error {
	return s.client.Publish(ctx, InvalidationChannel, kind).Err()
}
