package ports

import (
	"context"

	"github.com/stoik/fraud-shield/internal/domain"
)

// Markov artifact kind names, mirrored from the cache adapter's internal
// Kind constants (§6.3 KV namespace) so application code can request a
// specific model without importing the adapter package.
const (
	MarkovLegit2 = "MM_legit_2gram"
	MarkovFraud2 = "MM_fraud_2gram"
	MarkovLegit3 = "MM_legit_3gram"
	MarkovFraud3 = "MM_fraud_3gram"
)

// ArtifactSource is the typed view the application layer depends on for
// hot-reloadable scoring artifacts. The cache adapter satisfies this
// structurally; application code never imports the cache package directly,
// matching the teacher's port/adapter separation.
type ArtifactSource interface {
	Config(ctx context.Context) (domain.Config, error)
	Heuristics(ctx context.Context) (domain.Heuristics, error)
	Whitelist(ctx context.Context) (domain.Whitelist, error)
	Forest(ctx context.Context) (*domain.RandomForest, error)
	Markov(ctx context.Context, kind string) (*domain.MarkovModel, error)
	Disposable(ctx context.Context) (map[string]struct{}, error)
	TLDProfiles(ctx context.Context) (map[string]float64, error)
}
