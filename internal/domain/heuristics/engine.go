// Package heuristics implements the config-driven additive risk bumps of
// §4.4: a small ordered rule list evaluated against a FeatureVector, each
// rule contributing at most once.
package heuristics

import (
	"github.com/stoik/fraud-shield/internal/domain"
)

// Bump is one triggered rule, carried through to the Scorer and Recorder.
type Bump struct {
	Signal string
	Reason string
	Amount float64
}

// Evaluate walks rules in order and returns every triggered bump. Each
// signal contributes at most once: once a rule for a signal has matched,
// later rules carrying the same signal are skipped.
func Evaluate(fv domain.FeatureVector, rules domain.Heuristics) []Bump {
	bumps := make([]Bump, 0, len(rules.Rules))
	fired := make(map[string]struct{}, len(rules.Rules))
	for _, rule := range rules.Rules {
		if _, done := fired[rule.Signal]; done {
			continue
		}
		if matches(fv, rule.Condition) {
			fired[rule.Signal] = struct{}{}
			bumps = append(bumps, Bump{Signal: rule.Signal, Reason: rule.Reason, Amount: rule.Bump})
		}
	}
	return bumps
}

func matches(fv domain.FeatureVector, cond domain.HeuristicCondition) bool {
	if cond.Comparator == "present" {
		_, ok := fv.Get(cond.Feature)
		return ok
	}
	v, ok := fv.Get(cond.Feature)
	if !ok {
		return false
	}
	switch cond.Comparator {
	case "gte":
		return v >= cond.Threshold
	case "gt":
		return v > cond.Threshold
	case "lte":
		return v <= cond.Threshold
	case "lt":
		return v < cond.Threshold
	case "eq":
		return v == cond.Threshold
	default:
		return false
	}
}

// Total sums bump amounts, capped at 1 (§4.4/§4.6).
func Total(bumps []Bump) float64 {
	var sum float64
	for _, b := range bumps {
		sum += b.Amount
	}
	if sum > 1 {
		return 1
	}
	return sum
}

// DefaultRules returns the documented example rule set from §4.2's
// HeuristicEngine row and §4.4, used as a fallback when the KV-stored
// heuristics artifact is unavailable.
func DefaultRules() domain.Heuristics {
	return domain.Heuristics{
		Version: "default",
		Rules: []domain.HeuristicRule{
			{
				Signal:    "tld_high_risk",
				Condition: domain.HeuristicCondition{Feature: "tld_risk", Comparator: "gte", Threshold: 0.5},
				Bump:      0.10,
				Reason:    "tld_high_risk",
			},
			{
				Signal:    "domain_disposable",
				Condition: domain.HeuristicCondition{Feature: "provider_is_disposable", Comparator: "eq", Threshold: 1},
				Bump:      0.20,
				Reason:    "domain_disposable",
			},
			{
				Signal:    "sequential_confidence",
				Condition: domain.HeuristicCondition{Feature: "sequential_confidence", Comparator: "gte", Threshold: 0.7},
				Bump:      0.08,
				Reason:    "sequential_confidence>=0.7",
			},
			{
				Signal:    "plus_abuse",
				Condition: domain.HeuristicCondition{Feature: "plus_risk", Comparator: "gte", Threshold: 1},
				Bump:      0.05,
				Reason:    "plus_abuse",
			},
			{
				Signal:    "bot_score_high",
				Condition: domain.HeuristicCondition{Feature: "bot_score", Comparator: "gte", Threshold: 30},
				Bump:      0.15,
				Reason:    "bot_score>=30",
			},
			{
				Signal:    "digit_ratio_high",
				Condition: domain.HeuristicCondition{Feature: "digit_ratio", Comparator: "gte", Threshold: 0.5},
				Bump:      0.05,
				Reason:    "digit_ratio>=0.5",
			},
		},
	}
}
