// Package markov implements the Markov-chain ensemble evaluation described
// in §4.2: per-order cross-entropy scoring, deterministic priority
// arbitration between the 2-gram and 3-gram orders, and the out-of-
// distribution abnormality mapping.
package markov

import (
	"math"
	"strings"

	"github.com/stoik/fraud-shield/internal/domain"
)

const (
	vocabularySize = 46
	smoothingFloor = 0.001
)

// normalize strips everything except alphanumerics and "._+-" before
// cross-entropy evaluation (§4.2).
func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '+', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CrossEntropy computes H(x,M) = -(1/n) * sum(log2 P(x_i | context)) for
// string x under model m, with Laplace smoothing over a vocabulary of size
// 46 and a floor of 0.001 for unseen contexts (§4.2). Returns +Inf when the
// normalized string is no longer than the model order (no transitions to
// score) so callers can route it through the invalid_entropy_fallback path
// (§4.2 step 1).
func CrossEntropy(x string, m *domain.MarkovModel) float64 {
	s := normalize(x)
	order := int(m.Order)
	if len(s) <= order {
		return math.Inf(1)
	}

	var total float64
	n := 0
	for i := order; i < len(s); i++ {
		context := s[i-order : i]
		next := s[i]
		p := transitionProbability(m, context, next)
		total += -math.Log2(p)
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return total / float64(n)
}

func transitionProbability(m *domain.MarkovModel, context string, next byte) float64 {
	state, ok := m.States[context]
	if !ok || state.Total == 0 {
		return smoothingFloor
	}
	count := state.Counts[next]
	p := (float64(count) + 1) / (float64(state.Total) + float64(vocabularySize))
	if p < smoothingFloor {
		return smoothingFloor
	}
	return p
}

// OrderResult is the per-order (2-gram or 3-gram) evaluation outcome.
type OrderResult struct {
	HLegit     float64
	HFraud     float64
	PredictsFraud bool
	Confidence float64
}

// EvaluateOrder scores x against the legit/fraud model pair for a single
// n-gram order (§4.2).
func EvaluateOrder(x string, legit, fraud *domain.MarkovModel) OrderResult {
	hLegit := CrossEntropy(x, legit)
	hFraud := CrossEntropy(x, fraud)

	predictsFraud := hFraud < hLegit
	maxH := math.Max(hLegit, hFraud)
	var confidence float64
	if maxH > 0 && !math.IsInf(maxH, 0) {
		confidence = math.Min(2*math.Abs(hLegit-hFraud)/maxH, 1.0)
	}
	return OrderResult{HLegit: hLegit, HFraud: hFraud, PredictsFraud: predictsFraud, Confidence: confidence}
}

// Models bundles the optional 2-gram and 3-gram legit/fraud model pairs an
// evaluation may use. Order3Legit/Order3Fraud may be nil if the 3-gram
// artifact is unavailable, in which case arbitration falls back to 2-gram
// only (§4.2 step 2).
type Models struct {
	Order2Legit, Order2Fraud *domain.MarkovModel
	Order3Legit, Order3Fraud *domain.MarkovModel
}

// EnsembleResult is the arbitrated outcome across both orders.
type EnsembleResult struct {
	PredictsFraud bool
	Confidence    float64
	HLegit        float64
	HFraud        float64
	Reason        string
	Valid         bool // false triggers invalid_entropy_fallback (§4.2 step 1)
}

// Evaluate runs the deterministic priority arbitration of §4.2 over the
// given models and thresholds.
func Evaluate(x string, m Models, th domain.EnsembleThresholds) EnsembleResult {
	r2 := EvaluateOrder(x, m.Order2Legit, m.Order2Fraud)
	if nonFinite(r2.HLegit) || nonFinite(r2.HFraud) {
		return EnsembleResult{Reason: "invalid_entropy_fallback", Valid: false}
	}

	if m.Order3Legit == nil || m.Order3Fraud == nil {
		return EnsembleResult{
			PredictsFraud: r2.PredictsFraud,
			Confidence:    r2.Confidence,
			HLegit:        r2.HLegit,
			HFraud:        r2.HFraud,
			Reason:        "2gram_only",
			Valid:         true,
		}
	}

	r3 := EvaluateOrder(x, m.Order3Legit, m.Order3Fraud)
	if nonFinite(r3.HLegit) || nonFinite(r3.HFraud) {
		return EnsembleResult{Reason: "invalid_entropy_fallback", Valid: false}
	}

	agree := r2.PredictsFraud == r3.PredictsFraud
	minConf := math.Min(r2.Confidence, r3.Confidence)

	switch {
	case agree && minConf > th.AgreeMin:
		if r3.Confidence >= r2.Confidence {
			return finalize(r3, math.Max(r2.Confidence, r3.Confidence), "agree")
		}
		return finalize(r2, math.Max(r2.Confidence, r3.Confidence), "agree")

	case r3.Confidence > th.Override3Min && r3.Confidence > th.OverrideRatio*r2.Confidence:
		return finalize(r3, r3.Confidence, "3gram_override")

	case r2.PredictsFraud && r2.Confidence > th.Gibberish2Min && r2.HFraud > th.GibberishEntropy:
		return finalize(r2, r2.Confidence, "gibberish_2gram")

	case !agree:
		return finalize(r2, r2.Confidence, "disagree_default_2gram")

	default:
		if r3.Confidence > r2.Confidence {
			return finalize(r3, r3.Confidence, "higher_confidence_order")
		}
		return finalize(r2, r2.Confidence, "higher_confidence_order")
	}
}

func finalize(r OrderResult, confidence float64, reason string) EnsembleResult {
	return EnsembleResult{
		PredictsFraud: r.PredictsFraud,
		Confidence:    confidence,
		HLegit:        r.HLegit,
		HFraud:        r.HFraud,
		Reason:        reason,
		Valid:         true,
	}
}

func nonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// Abnormality computes the OOD abnormality risk from the final entropies
// (§4.2) using the piecewise mapping parameterized by cfg.
func Abnormality(hLegit, hFraud float64, cfg domain.OODConfig) (minEntropy, risk float64) {
	minEntropy = math.Min(hLegit, hFraud)
	switch {
	case minEntropy < cfg.WarnThreshold:
		return minEntropy, 0
	case minEntropy < cfg.BlockThreshold:
		span := cfg.BlockThreshold - cfg.WarnThreshold
		if span <= 0 {
			return minEntropy, cfg.MaxRisk
		}
		frac := (minEntropy - cfg.WarnThreshold) / span
		return minEntropy, cfg.WarnZoneMin + frac*(cfg.MaxRisk-cfg.WarnZoneMin)
	default:
		return minEntropy, cfg.MaxRisk
	}
}

// ZoneFor buckets the minimum cross-entropy into the OODZone persisted alongside
// the raw score (§4.9).
func ZoneFor(minEntropy float64, cfg domain.OODConfig) domain.OODZone {
	switch {
	case minEntropy >= cfg.BlockThreshold:
		return domain.OODZoneBlock
	case minEntropy >= cfg.WarnThreshold:
		return domain.OODZoneWarn
	default:
		return domain.OODZoneNone
	}
}
