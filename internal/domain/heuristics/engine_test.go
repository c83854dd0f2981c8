package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stoik/fraud-shield/internal/domain"
)

func TestEvaluate_TriggersMatchingRules(t *testing.T) {
	fv := domain.FeatureVector{
		"tld_risk":               0.6,
		"provider_is_disposable": 1,
		"digit_ratio":            0.2,
	}
	bumps := Evaluate(fv, DefaultRules())
	signals := map[string]bool{}
	for _, b := range bumps {
		signals[b.Signal] = true
	}
	assert.True(t, signals["tld_high_risk"])
	assert.True(t, signals["domain_disposable"])
	assert.False(t, signals["digit_ratio_high"])
}

func TestEvaluate_MissingFeatureNeverMatches(t *testing.T) {
	bumps := Evaluate(domain.FeatureVector{}, DefaultRules())
	assert.Empty(t, bumps)
}

func TestTotal_CapsAtOne(t *testing.T) {
	bumps := []Bump{{Amount: 0.6}, {Amount: 0.6}}
	assert.Equal(t, 1.0, Total(bumps))
}

func TestTotal_SumsBelowCap(t *testing.T) {
	bumps := []Bump{{Amount: 0.1}, {Amount: 0.2}}
	assert.InDelta(t, 0.3, Total(bumps), 1e-9)
}
