package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stoik/fraud-shield/internal/domain"
)

func defaultThresholds() domain.RiskThresholds {
	return domain.DefaultConfig().RiskThresholds
}

func TestEvaluate_RiskScoreBoundedAndDecisionConsistent(t *testing.T) {
	th := defaultThresholds()
	cases := []Inputs{
		{MarkovValid: true, LocalPartLen: 8},
		{MarkovValid: true, LocalPartLen: 8, MarkovPredictsFraud: true, MarkovConfidence: 0.9},
		{MarkovValid: true, LocalPartLen: 8, HeuristicTotal: 1.5, TLDRisk: 1, Disposable: true},
		{MarkovValid: false},
	}
	for _, in := range cases {
		in.Thresholds = th
		out := Evaluate(in)
		assert.GreaterOrEqual(t, out.RiskScore, 0.0)
		assert.LessOrEqual(t, out.RiskScore, 1.0)
		switch out.Decision {
		case domain.DecisionBlock:
			assert.GreaterOrEqual(t, out.RiskScore, th.Block)
		case domain.DecisionWarn:
			assert.GreaterOrEqual(t, out.RiskScore, th.Warn)
			assert.Less(t, out.RiskScore, th.Block)
		case domain.DecisionAllow:
			assert.Less(t, out.RiskScore, th.Warn)
		}
	}
}

func TestEvaluate_BoostOnlyCalibration(t *testing.T) {
	th := defaultThresholds()
	boosted := 0.95
	in := Inputs{
		Thresholds:            th,
		MarkovValid:           true,
		LocalPartLen:          8,
		MarkovPredictsFraud:   true,
		MarkovConfidence:      0.4,
		CalibratedProbability: &boosted,
	}
	out := Evaluate(in)
	// classification lane must be >= markovConfidence whenever Markov predicts fraud (§8 invariant 2)
	assert.GreaterOrEqual(t, out.Lanes[0].Risk, in.MarkovConfidence)

	lowCalibration := 0.01
	in2 := in
	in2.CalibratedProbability = &lowCalibration
	out2 := Evaluate(in2)
	assert.GreaterOrEqual(t, out2.Lanes[0].Risk, in2.MarkovConfidence, "calibration must never suppress the markov floor")
}

func TestEvaluate_ClassificationRiskNotFlooredWhenMarkovPredictsLegit(t *testing.T) {
	th := defaultThresholds()
	lowCalibration := 0.01
	// Markov confidently predicts legit: PredictsFraud is false, but
	// Confidence (direction-agnostic: 2*|HFraud-HLegit|/max(H), capped at 1)
	// is high.
	// classificationRisk must stay at the low calibrated value, not get
	// floored up to that Confidence (§8 invariant 2, spec.md:114).
	in := Inputs{
		Thresholds:            th,
		MarkovValid:           true,
		LocalPartLen:          8,
		MarkovPredictsFraud:   false,
		MarkovConfidence:      0.9,
		CalibratedProbability: &lowCalibration,
	}
	out := Evaluate(in)
	assert.InDelta(t, lowCalibration, out.Lanes[0].Risk, 1e-9)
}

func TestEvaluate_ShortLocalGuardrail(t *testing.T) {
	th := defaultThresholds()
	for _, n := range []int{1, 2, 3, 4} {
		in := Inputs{Thresholds: th, MarkovValid: true, LocalPartLen: n, AbnormalityRiskRaw: 0.9}
		out := Evaluate(in)
		assert.Equal(t, 0.0, out.Lanes[1].Risk, "length %d must force abnormalityRisk to 0", n)
	}
}

func TestEvaluate_ShortLocalScalingRange(t *testing.T) {
	th := defaultThresholds()
	in := Inputs{Thresholds: th, MarkovValid: true, LocalPartLen: 8, AbnormalityRiskRaw: 0.8}
	out := Evaluate(in)
	// (8-4)/8 = 0.5 -> 0.4
	assert.InDelta(t, 0.4, out.Lanes[1].Risk, 1e-9)
}

func TestEvaluate_WhitelistBound(t *testing.T) {
	th := defaultThresholds()
	base := Inputs{Thresholds: th, MarkovValid: true, LocalPartLen: 8, MarkovPredictsFraud: true, MarkovConfidence: 0.9}
	without := Evaluate(base)

	withReduction := base
	withReduction.WhitelistReduction = 0.3
	with := Evaluate(withReduction)

	assert.LessOrEqual(t, with.RiskScore, without.RiskScore)
	delta := without.RiskScore - with.RiskScore
	assert.LessOrEqual(t, delta, 0.3+1e-9)
}

func TestEvaluate_DegradedModelFloor(t *testing.T) {
	th := defaultThresholds()
	out := Evaluate(Inputs{Thresholds: th, MarkovValid: false})
	expected := degradedFloor(th)
	assert.Equal(t, expected, out.RiskScore)
	assert.GreaterOrEqual(t, out.RiskScore, th.Warn+0.01)
	assert.GreaterOrEqual(t, out.RiskScore, 0.8*th.Block)
	assert.Equal(t, domain.ReasonDegradedModel, out.BlockReason)
}

func TestEvaluate_Determinism(t *testing.T) {
	th := defaultThresholds()
	in := Inputs{Thresholds: th, MarkovValid: true, LocalPartLen: 8, MarkovPredictsFraud: true, MarkovConfidence: 0.6, HeuristicTotal: 0.1}
	a := Evaluate(in)
	b := Evaluate(in)
	assert.Equal(t, a, b)
}

func TestEvaluate_BlockReasonPrecedence(t *testing.T) {
	th := defaultThresholds()
	in := Inputs{
		Thresholds:          th,
		MarkovValid:         true,
		LocalPartLen:        8,
		MarkovPredictsFraud: true,
		MarkovConfidence:     0.9,
		Disposable:           true,
		TLDRisk:              0.3,
	}
	out := Evaluate(in)
	assert.Equal(t, domain.ReasonDisposable, out.BlockReason, "disposable outranks classification")
}
