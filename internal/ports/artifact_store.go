package ports

import "context"

// ArtifactStore defines the contract for fetching raw artifact bytes from
// the KV backend named in §6.3 (config.json, random_forest.json,
// MM_legit_2gram, risk-heuristics.json, whitelist_config.json, and the
// disposable-domain/TLD-profile namespaces). ArtifactCache is the only
// caller; it owns TTL, singleflight, and checksum verification on top of
// this raw fetch.
type ArtifactStore interface {
	// Get fetches the raw JSON value and its metadata record (which carries
	// version and, where applicable, a SHA-256 checksum) for key.
	Get(ctx context.Context, key string) (value []byte, meta ArtifactMeta, err error)
}

// ArtifactMeta is the metadata record stored alongside an artifact value.
type ArtifactMeta struct {
	Version  string
	Checksum string // hex-encoded SHA-256, empty if not applicable
}
