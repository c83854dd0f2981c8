package application

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/fraud-shield/internal/domain"
	"github.com/stoik/fraud-shield/internal/domain/heuristics"
	"github.com/stoik/fraud-shield/internal/ports"
)

type fakeArtifacts struct {
	cfg        domain.Config
	rules      domain.Heuristics
	list       domain.Whitelist
	rf         *domain.RandomForest
	markov     map[string]*domain.MarkovModel
	disposable map[string]struct{}
	tldRisk    map[string]float64
	forestErr  error
	markovErr  error
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{
		cfg:    domain.DefaultConfig(),
		rules:  heuristics.DefaultRules(),
		markov: map[string]*domain.MarkovModel{},
	}
}

func (f *fakeArtifacts) Config(ctx context.Context) (domain.Config, error) { return f.cfg, nil }
func (f *fakeArtifacts) Heuristics(ctx context.Context) (domain.Heuristics, error) {
	return f.rules, nil
}
func (f *fakeArtifacts) Whitelist(ctx context.Context) (domain.Whitelist, error) { return f.list, nil }
func (f *fakeArtifacts) Forest(ctx context.Context) (*domain.RandomForest, error) {
	if f.forestErr != nil {
		return nil, f.forestErr
	}
	return f.rf, nil
}
func (f *fakeArtifacts) Markov(ctx context.Context, kind string) (*domain.MarkovModel, error) {
	if f.markovErr != nil {
		return nil, f.markovErr
	}
	m, ok := f.markov[kind]
	if !ok {
		return nil, nil
	}
	return m, nil
}
func (f *fakeArtifacts) Disposable(ctx context.Context) (map[string]struct{}, error) {
	return f.disposable, nil
}
func (f *fakeArtifacts) TLDProfiles(ctx context.Context) (map[string]float64, error) {
	return f.tldRisk, nil
}

func buildMarkov(order domain.MarkovOrder, transitions map[string]map[byte]uint32) *domain.MarkovModel {
	states := map[string]*domain.MarkovState{}
	for ctx, counts := range transitions {
		var total uint32
		for _, c := range counts {
			total += c
		}
		states[ctx] = &domain.MarkovState{Counts: counts, Total: total}
	}
	return &domain.MarkovModel{Order: order, States: states}
}

type recordingRecorder struct {
	records []ports.ValidationRecord
}

func (r *recordingRecorder) Record(ctx context.Context, rec ports.ValidationRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type recordingAlerter struct {
	alerts []ports.ValidationRecord
}

func (a *recordingAlerter) Alert(ctx context.Context, rec ports.ValidationRecord) error {
	a.alerts = append(a.alerts, rec)
	return nil
}

func TestEvaluate_InvalidEmailBlocksImmediately(t *testing.T) {
	ev := New(newFakeArtifacts(), nil, nil, nil, zerolog.Nop(), nil)
	result, err := ev.Evaluate(context.Background(), domain.Request{Email: "not-an-email"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.DecisionBlock, result.Decision)
	assert.Equal(t, domain.ReasonFormatInvalid, result.BlockReason)
}

func TestEvaluate_DegradedWhenMarkovUnavailable(t *testing.T) {
	artifacts := newFakeArtifacts()
	artifacts.markovErr = assertErr{"no markov"}

	recorder := &recordingRecorder{}
	alerter := &recordingAlerter{}
	ev := New(artifacts, nil, recorder, alerter, zerolog.Nop(), nil)

	result, err := ev.Evaluate(context.Background(), domain.Request{Email: "user@example.com"})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	floor := artifacts.cfg.RiskThresholds.Warn + 0.01
	assert.GreaterOrEqual(t, result.RiskScore, floor)
	assert.Equal(t, domain.ReasonDegradedModel, result.BlockReason)

	require.Len(t, recorder.records, 1)
	require.Len(t, alerter.alerts, 1)
}

func TestEvaluate_LowRiskAllowsAndPersists(t *testing.T) {
	artifacts := newFakeArtifacts()
	artifacts.markov[ports.MarkovLegit2] = buildMarkov(domain.MarkovOrder2, map[string]map[byte]uint32{
		"jo": {'h': 100}, "oh": {'n': 100}, "hn": {'.': 100}, "n.": {'s': 100},
		".s": {'m': 100}, "sm": {'i': 100}, "mi": {'t': 100}, "it": {'h': 100},
	})
	artifacts.markov[ports.MarkovFraud2] = buildMarkov(domain.MarkovOrder2, map[string]map[byte]uint32{
		"qz": {'x': 100},
	})

	recorder := &recordingRecorder{}
	ev := New(artifacts, nil, recorder, nil, zerolog.Nop(), nil)

	result, err := ev.Evaluate(context.Background(), domain.Request{Email: "john.smith@gmail.com"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, domain.DecisionAllow, result.Decision)
	require.Len(t, recorder.records, 1)
	assert.Equal(t, "gmail.com", recorder.records[0].Domain)
}

func TestEvaluate_CalibrationBoostNeverFiresWhenMarkovPredictsLegit(t *testing.T) {
	artifacts := newFakeArtifacts()
	// Decisive legit prediction: HLegit stays near zero, HFraud is large, so
	// ensemble.Confidence (2*|HFraud-HLegit|/max(H), capped at 1) is high
	// while PredictsFraud is false.
	artifacts.markov[ports.MarkovLegit2] = buildMarkov(domain.MarkovOrder2, map[string]map[byte]uint32{
		"jo": {'h': 100}, "oh": {'n': 100}, "hn": {'.': 100}, "n.": {'s': 100},
		".s": {'m': 100}, "sm": {'i': 100}, "mi": {'t': 100}, "it": {'h': 100},
	})
	artifacts.markov[ports.MarkovFraud2] = buildMarkov(domain.MarkovOrder2, map[string]map[byte]uint32{
		"qz": {'x': 100},
	})
	// Forest+calibration artifact that, on its own, scores this local part as
	// clearly legit (a low calibrated probability).
	artifacts.rf = &domain.RandomForest{
		Meta: domain.ForestMeta{
			Version: "test-forest-1",
			Calibration: &domain.Calibration{
				Version:   "test-cal-1",
				Intercept: -5,
				Coef:      1,
			},
		},
		Forest: []*domain.ForestTree{{IsLeaf: true, LeafValue: 0.02}},
	}

	recorder := &recordingRecorder{}
	ev := New(artifacts, nil, recorder, nil, zerolog.Nop(), nil)

	result, err := ev.Evaluate(context.Background(), domain.Request{Email: "john.smith@gmail.com"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, domain.DecisionAllow, result.Decision)

	// The calibrated probability (sigmoid(-5 + 1*0.02) ~= 0.007) must not get
	// floored up to the Markov ensemble's (direction-agnostic) confidence:
	// no boost should have fired, and the overall risk score must stay low.
	assert.False(t, result.Calibration.CalibrationBoosted)
	assert.Equal(t, 0.0, result.Calibration.BoostAmount)
	assert.Less(t, result.RiskScore, 0.1)
}

func TestEvaluate_ShortLocalPartNeverFlaggedByAbnormality(t *testing.T) {
	artifacts := newFakeArtifacts()
	artifacts.markov[ports.MarkovLegit2] = buildMarkov(domain.MarkovOrder2, map[string]map[byte]uint32{"ti": {'m': 50}})
	artifacts.markov[ports.MarkovFraud2] = buildMarkov(domain.MarkovOrder2, map[string]map[byte]uint32{"qz": {'x': 50}})

	ev := New(artifacts, nil, nil, nil, zerolog.Nop(), nil)
	result, err := ev.Evaluate(context.Background(), domain.Request{Email: "tim@acme.corp"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAllow, result.Decision)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
