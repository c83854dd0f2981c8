package markov

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stoik/fraud-shield/internal/domain"
)

func buildModel(order domain.MarkovOrder, transitions map[string]map[byte]uint32) *domain.MarkovModel {
	states := map[string]*domain.MarkovState{}
	for ctx, counts := range transitions {
		total := uint32(0)
		for _, c := range counts {
			total += c
		}
		states[ctx] = &domain.MarkovState{Counts: counts, Total: total}
	}
	return &domain.MarkovModel{Order: order, States: states}
}

func TestCrossEntropy_KnownTransitions(t *testing.T) {
	// Model where "jo" always transitions to 'h' with no noise: cross-entropy
	// of "joh" should be low and finite.
	m := buildModel(domain.MarkovOrder2, map[string]map[byte]uint32{
		"jo": {'h': 100},
	})
	h := CrossEntropy("joh", m)
	assert.False(t, math.IsInf(h, 0))
	assert.Greater(t, h, 0.0)
}

func TestCrossEntropy_EmptyModelYieldsHighEntropy(t *testing.T) {
	m := buildModel(domain.MarkovOrder2, map[string]map[byte]uint32{})
	h := CrossEntropy("xyzzy", m)
	assert.False(t, math.IsInf(h, 0))
	assert.Greater(t, h, 5.0) // smoothing floor -> near worst-case entropy
}

func TestCrossEntropy_TooShortIsInfinite(t *testing.T) {
	m := buildModel(domain.MarkovOrder2, map[string]map[byte]uint32{"jo": {'h': 1}})
	assert.True(t, math.IsInf(CrossEntropy("j", m), 1))
}

func TestEvaluate_2gramOnlyWhenNo3gram(t *testing.T) {
	legit := buildModel(domain.MarkovOrder2, map[string]map[byte]uint32{"jo": {'h': 100}})
	fraud := buildModel(domain.MarkovOrder2, map[string]map[byte]uint32{"xq": {'z': 100}})
	res := Evaluate("john", Models{Order2Legit: legit, Order2Fraud: fraud}, domain.DefaultConfig().EnsembleThresholds)
	assert.True(t, res.Valid)
	assert.Equal(t, "2gram_only", res.Reason)
}

func TestEvaluate_InvalidEntropyFallback(t *testing.T) {
	legit := buildModel(domain.MarkovOrder2, map[string]map[byte]uint32{})
	fraud := buildModel(domain.MarkovOrder2, map[string]map[byte]uint32{})
	res := Evaluate("x", Models{Order2Legit: legit, Order2Fraud: fraud}, domain.DefaultConfig().EnsembleThresholds)
	assert.False(t, res.Valid)
	assert.Equal(t, "invalid_entropy_fallback", res.Reason)
}

func TestAbnormality_PiecewiseMapping(t *testing.T) {
	cfg := domain.DefaultConfig().OOD

	_, riskBelow := Abnormality(1.0, 1.0, cfg)
	assert.Equal(t, 0.0, riskBelow)

	_, riskAbove := Abnormality(6.0, 6.0, cfg)
	assert.Equal(t, cfg.MaxRisk, riskAbove)

	mid := (cfg.WarnThreshold + cfg.BlockThreshold) / 2
	_, riskMid := Abnormality(mid, mid, cfg)
	assert.Greater(t, riskMid, cfg.WarnZoneMin-0.01)
	assert.Less(t, riskMid, cfg.MaxRisk+0.01)
}

func TestZoneFor(t *testing.T) {
	cfg := domain.DefaultConfig().OOD
	assert.Equal(t, domain.OODZoneNone, ZoneFor(1.0, cfg))
	assert.Equal(t, domain.OODZoneWarn, ZoneFor(4.0, cfg))
	assert.Equal(t, domain.OODZoneBlock, ZoneFor(6.0, cfg))
}
