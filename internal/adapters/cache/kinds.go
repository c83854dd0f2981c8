// Package cache implements the TTL-scoped, checksum-verified, singleflight
// ArtifactCache of §4.7: one snapshot per artifact kind, atomic pointer
// swap on refresh, and exactly one fetch in flight per kind at a time. Once
// a snapshot expires, every reader of that kind waits on the single refresh;
// the previous snapshot is served only when that refresh fails, not while
// it is still in flight.
package cache

import "time"

// Kind identifies one of the KV namespace keys of §6.3.
type Kind string

const (
	KindConfig       Kind = "config.json"
	KindHeuristics   Kind = "risk-heuristics.json"
	KindWhitelist    Kind = "whitelist_config.json"
	KindForest       Kind = "random_forest.json"
	KindMarkovLegit2 Kind = "MM_legit_2gram"
	KindMarkovFraud2 Kind = "MM_fraud_2gram"
	KindMarkovLegit3 Kind = "MM_legit_3gram"
	KindMarkovFraud3 Kind = "MM_fraud_3gram"
	KindDisposable   Kind = "disposable_domains"
	KindTLDProfiles  Kind = "tld_profiles"
	KindAll          Kind = "all"
)

// defaultTTLs are the documented per-kind refresh intervals (§4.7).
var defaultTTLs = map[Kind]time.Duration{
	KindConfig:       60 * time.Second,
	KindHeuristics:   60 * time.Second,
	KindWhitelist:    60 * time.Second,
	KindForest:       300 * time.Second,
	KindMarkovLegit2: 300 * time.Second,
	KindMarkovFraud2: 300 * time.Second,
	KindMarkovLegit3: 300 * time.Second,
	KindMarkovFraud3: 300 * time.Second,
	KindDisposable:   600 * time.Second,
	KindTLDProfiles:  600 * time.Second,
}

// checksummedKinds are the artifact kinds whose metadata record carries a
// SHA-256 checksum that must validate before a new snapshot is swapped in
// (§3.3, §4.7).
var checksummedKinds = map[Kind]bool{
	KindForest:       true,
	KindMarkovLegit2: true,
	KindMarkovFraud2: true,
	KindMarkovLegit3: true,
	KindMarkovFraud3: true,
}

// allKinds lists every kind the cache manages, used by Invalidate("all").
var allKinds = []Kind{
	KindConfig, KindHeuristics, KindWhitelist, KindForest,
	KindMarkovLegit2, KindMarkovFraud2, KindMarkovLegit3, KindMarkovFraud3,
	KindDisposable, KindTLDProfiles,
}
