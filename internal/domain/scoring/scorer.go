package scoring

import (
	"github.com/stoik/fraud-shield/internal/domain"
)

// Inputs bundles everything the Scorer needs to combine lanes into a
// decision. Upstream components (FeatureExtractor, MarkovEnsemble,
// ForestEvaluator, HeuristicEngine, WhitelistEngine) produce these values;
// the Scorer performs no I/O and no artifact lookups of its own.
type Inputs struct {
	LocalPartLen int

	MarkovPredictsFraud bool
	MarkovConfidence    float64
	MarkovValid         bool // false when Markov failed to load/evaluate (§4.6 degraded floor)

	CalibratedProbability *float64

	AbnormalityRiskRaw float64

	ForestActive bool
	ForestScore  float64

	HeuristicTotal float64

	TLDRisk    float64
	Disposable bool

	WhitelistReduction float64

	Thresholds domain.RiskThresholds
}

// Outcome is the Scorer's result: the final risk score, decision, reason,
// and the per-lane breakdown for persistence/debugging.
type Outcome struct {
	RiskScore   float64
	PreWhitelist float64
	Decision    domain.Decision
	BlockReason domain.BlockReason
	Lanes       []LaneResult
	Degraded    bool
}

// Evaluate combines lanes per §4.6: preWhitelist = min(1, max(classification,
// abnormality, forest) + domain + heuristic); riskScore = max(0, preWhitelist
// - whitelistReduction). The degraded-model floor (§4.6/§8 invariant 5)
// short-circuits this combination entirely when Markov is unavailable.
func Evaluate(in Inputs) Outcome {
	if !in.MarkovValid {
		floor := degradedFloor(in.Thresholds)
		return Outcome{
			RiskScore:    floor,
			PreWhitelist: floor,
			Decision:     domain.DecisionFor(floor, in.Thresholds.Warn, in.Thresholds.Block),
			BlockReason:  domain.ReasonDegradedModel,
			Degraded:     true,
		}
	}

	classification := ClassificationLane(in.MarkovPredictsFraud, in.MarkovConfidence, in.CalibratedProbability)
	abnormality := AbnormalityLane(in.AbnormalityRiskRaw, in.LocalPartLen)
	forestLane := ForestLane(in.ForestActive, in.ForestScore)
	heuristicLane := HeuristicLane(in.HeuristicTotal)
	domainLane := DomainLane(in.TLDRisk, in.Disposable)

	maxCore := classification.Risk
	topReason := classification.Reason
	if abnormality.Risk > maxCore {
		maxCore = abnormality.Risk
		topReason = abnormality.Reason
	}
	if forestLane.Risk > maxCore {
		maxCore = forestLane.Risk
		topReason = forestLane.Reason
	}

	preWhitelist := maxCore + domainLane.Risk + heuristicLane.Risk
	if preWhitelist > 1 {
		preWhitelist = 1
	}

	riskScore := preWhitelist - in.WhitelistReduction
	if riskScore < 0 {
		riskScore = 0
	}

	reason := domain.HighestPrecedenceReason(
		domainLane.Reason, // disposable, if set, outranks classification/abnormality/forest
		topReason,
		heuristicLane.Reason,
	)

	return Outcome{
		RiskScore:    riskScore,
		PreWhitelist: preWhitelist,
		Decision:     domain.DecisionFor(riskScore, in.Thresholds.Warn, in.Thresholds.Block),
		BlockReason:  reason,
		Lanes:        []LaneResult{classification, abnormality, forestLane, heuristicLane, domainLane},
	}
}

// degradedFloor implements riskScore = max(warnThreshold+0.01,
// 0.8*blockThreshold) (§4.6, §8 invariant 5).
func degradedFloor(th domain.RiskThresholds) float64 {
	a := th.Warn + 0.01
	b := 0.8 * th.Block
	if a > b {
		return a
	}
	return b
}
