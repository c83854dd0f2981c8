// Package scoring composes the independent risk lanes of §4.6 into a final
// decision. Each lane is modeled as a tagged variant implementing a small
// score(features) -> (risk, reason) contract (§9 design note), so the
// Scorer's combine step is a pure function over plain values rather than
// dynamic dispatch.
package scoring

import (
	"github.com/stoik/fraud-shield/internal/domain"
)

// Lane names, carried in each LaneResult of an Outcome's per-lane breakdown.
const (
	LaneClassification = "classification"
	LaneAbnormality    = "abnormality"
	LaneForest         = "forest"
	LaneHeuristic      = "heuristic"
	LaneDomain         = "domain"
)

// LaneResult is the uniform output every lane produces.
type LaneResult struct {
	Lane   string
	Risk   float64
	Reason domain.BlockReason
}

// ClassificationLane implements §4.6's classificationRisk: markovConfidence
// if Markov predicts fraud, else 0; boosted (never suppressed) by a
// calibrated forest/ensemble probability when calibration is present.
func ClassificationLane(markovPredictsFraud bool, markovConfidence float64, calibratedProbability *float64) LaneResult {
	var risk float64
	if markovPredictsFraud {
		risk = markovConfidence
	}
	if calibratedProbability != nil {
		boosted := *calibratedProbability
		if boosted > risk {
			risk = boosted
		}
	}
	reason := domain.ReasonNone
	if risk > 0 {
		reason = domain.ReasonClassification
	}
	return LaneResult{Lane: LaneClassification, Risk: risk, Reason: reason}
}

// AbnormalityLane wraps the OOD abnormality risk, applying the short-local
// guardrail of §4.6/§8 invariant 3: localPartLen<=4 forces risk to 0;
// 5<=len<12 scales it by (len-4)/8, bounded to [0,1].
func AbnormalityLane(rawRisk float64, localPartLen int) LaneResult {
	risk := rawRisk
	switch {
	case localPartLen <= 4:
		risk = 0
	case localPartLen < 12:
		scale := clamp01(float64(localPartLen-4) / 8.0)
		risk *= scale
	}
	reason := domain.ReasonNone
	if risk > 0 {
		reason = domain.ReasonAbnormality
	}
	return LaneResult{Lane: LaneAbnormality, Risk: risk, Reason: reason}
}

// ForestLane treats an independently-active random forest score as
// equivalent to classificationRisk (§4.6).
func ForestLane(active bool, score float64) LaneResult {
	if !active {
		return LaneResult{Lane: LaneForest, Risk: 0, Reason: domain.ReasonNone}
	}
	reason := domain.ReasonNone
	if score > 0 {
		reason = domain.ReasonForest
	}
	return LaneResult{Lane: LaneForest, Risk: score, Reason: reason}
}

// HeuristicLane wraps the pre-capped heuristic bump total (§4.4).
func HeuristicLane(total float64) LaneResult {
	reason := domain.ReasonNone
	if total > 0 {
		reason = domain.ReasonHeuristic
	}
	return LaneResult{Lane: LaneHeuristic, Risk: clamp01(total), Reason: reason}
}

// DomainLane implements domainRisk = tld_risk + (disposable ? 0.20 : 0),
// capped at 0.4 (§4.6).
func DomainLane(tldRisk float64, disposable bool) LaneResult {
	risk := tldRisk
	if disposable {
		risk += 0.20
	}
	if risk > 0.4 {
		risk = 0.4
	}
	reason := domain.ReasonNone
	if disposable {
		reason = domain.ReasonDisposable
	} else if risk > 0 {
		reason = domain.ReasonDomain
	}
	return LaneResult{Lane: LaneDomain, Risk: risk, Reason: reason}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
