// Package application orchestrates the signup-scoring pipeline: feature
// extraction, MX resolution, the Markov/forest/heuristic/whitelist lanes,
// final scoring, and best-effort persistence/alerting. Nothing here performs
// its own I/O against a concrete database or cache — everything is wired
// through the ports package, following the teacher's dependency-injected
// service construction.
package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stoik/fraud-shield/internal/domain"
	"github.com/stoik/fraud-shield/internal/domain/features"
	"github.com/stoik/fraud-shield/internal/domain/forest"
	"github.com/stoik/fraud-shield/internal/domain/heuristics"
	"github.com/stoik/fraud-shield/internal/domain/markov"
	"github.com/stoik/fraud-shield/internal/domain/scoring"
	"github.com/stoik/fraud-shield/internal/domain/whitelist"
	"github.com/stoik/fraud-shield/internal/ports"
)

// Metrics is the subset of observability counters the Evaluator increments
// directly; the metrics adapter implements this with Prometheus counters. A
// nil Metrics is valid — every call site guards on it.
type Metrics interface {
	IncKVFetchFailed(kind string)
	IncMXTimeout()
	IncPersistenceFailed()
	IncDegradedModel()
	ObserveDecision(decision string, riskScore float64)
}

// Evaluator is the signup fraud-scoring orchestration service.
type Evaluator struct {
	artifacts ports.ArtifactSource
	mx        ports.MXResolver
	recorder  ports.Recorder
	alerter   ports.Alerter
	forest    *forest.Evaluator
	log       zerolog.Logger
	metrics   Metrics
}

// New wires an Evaluator with dependency injection, mirroring the teacher's
// NewFraudDetectionService constructor shape. mx, recorder, alerter, and
// metrics may be nil — the pipeline degrades gracefully (§7) rather than
// requiring every adapter to be present.
func New(
	artifacts ports.ArtifactSource,
	mx ports.MXResolver,
	recorder ports.Recorder,
	alerter ports.Alerter,
	log zerolog.Logger,
	metrics Metrics,
) *Evaluator {
	return &Evaluator{
		artifacts: artifacts,
		mx:        mx,
		recorder:  recorder,
		alerter:   alerter,
		forest:    forest.New(),
		log:       log.With().Str("component", "evaluator").Logger(),
		metrics:   metrics,
	}
}

// Evaluate runs the full pipeline for one request: extraction, MX lookup,
// the five scoring lanes, final arbitration, and detached persistence. It
// never returns an error for a well-formed call — invalid email shape is
// reported as a blocked Result, not an error (§7).
func (e *Evaluator) Evaluate(ctx context.Context, req domain.Request) (domain.Result, error) {
	start := time.Now()

	extracted := features.Extract(req.Email, req.Context)
	if !extracted.Valid {
		result := domain.Result{
			Valid:       false,
			Decision:    domain.DecisionBlock,
			RiskScore:   1,
			Signals:     extracted.Features,
			BlockReason: domain.ReasonFormatInvalid,
			LatencyMs:   msSince(start),
		}
		e.observe(result)
		return result, nil
	}

	cfg := e.loadConfig(ctx)
	rules := e.loadHeuristics(ctx)
	list := e.loadWhitelist(ctx)

	fv := extracted.Features
	e.fillDomainSignals(ctx, fv, extracted.Domain, cfg)
	e.fillMXSignals(ctx, fv, extracted.Domain, cfg)
	e.fillPatternSignals(fv, extracted.LocalPart)

	patternFamily := features.ClassifyPatternFamily(extracted.LocalPart)

	ensemble, markovValid := e.evaluateMarkov(ctx, extracted.LocalPart, cfg)

	var abnormalityRaw, minEntropy float64
	var oodZone domain.OODZone = domain.OODZoneNone
	var calibMeta domain.CalibrationMeta
	var calibratedProbability *float64
	var forestActive bool
	var forestScore float64

	if markovValid {
		minEntropy, abnormalityRaw = markov.Abnormality(ensemble.HLegit, ensemble.HFraud, cfg.OOD)
		oodZone = markov.ZoneFor(minEntropy, cfg.OOD)
		fv.Set("ood_min_entropy", minEntropy)
		fv.Set("ensemble_confidence", ensemble.Confidence)
	}

	if rf, err := e.artifacts.Forest(ctx); err == nil && rf != nil {
		forestActive = true
		score := e.forest.Score(rf, fv, func(feature string) {
			e.log.Warn().Str("feature", feature).Msg("forest references feature missing from vector")
		})
		forestScore = score
		if rf.Meta.Calibration != nil {
			calibrated, used := forest.Calibrate(score, rf.Meta.Calibration)
			calibMeta = domain.CalibrationMeta{
				Version:         rf.Meta.Calibration.Version,
				CreatedAt:       rf.Meta.Calibration.CreatedAt,
				CalibrationUsed: used,
				Metrics:         rf.Meta.Calibration.Metrics,
			}
			if used {
				boosted := calibrated
				// Calibration is boost-only: it can raise classificationRisk
				// toward markovConfidence, but never suppress it, and only
				// when Markov actually predicts fraud (§8 invariant 2,
				// spec.md:114). ensemble.Confidence is direction-agnostic —
				// a confident legit prediction must not raise the floor.
				floor := 0.0
				if markovValid && ensemble.PredictsFraud {
					floor = ensemble.Confidence
				}
				if boosted < floor {
					boosted = floor
					calibMeta.CalibrationBoosted = true
					calibMeta.BoostAmount = floor - calibrated
				}
				calibratedProbability = &boosted
			}
		}
	}

	bumps := heuristics.Evaluate(fv, rules)
	heuristicTotal := heuristics.Total(bumps)

	matcher := whitelist.NewMatcher(list)
	whitelistReduction, matches := matcher.Evaluate(req.Email, extracted.LocalPart, extracted.Domain, time.Now())

	disposable, _ := fv.Get("provider_is_disposable")

	outcome := scoring.Evaluate(scoring.Inputs{
		LocalPartLen:          len(extracted.LocalPart),
		MarkovPredictsFraud:   ensemble.PredictsFraud,
		MarkovConfidence:      ensemble.Confidence,
		MarkovValid:           markovValid,
		CalibratedProbability: calibratedProbability,
		AbnormalityRiskRaw:    abnormalityRaw,
		ForestActive:          forestActive,
		ForestScore:           forestScore,
		HeuristicTotal:        heuristicTotal,
		TLDRisk:               fv.GetOr("tld_risk", 0),
		Disposable:            disposable == 1,
		WhitelistReduction:    whitelistReduction,
		Thresholds:            cfg.RiskThresholds,
	})

	fp := fingerprint(req)

	var modelVersion string
	if cfg.Calibration != nil {
		modelVersion = cfg.Calibration.Version
	}

	result := domain.Result{
		Valid:        true,
		Decision:     outcome.Decision,
		RiskScore:    outcome.RiskScore,
		Signals:      fv,
		BlockReason:  outcome.BlockReason,
		Fingerprint:  fp,
		Calibration:  calibMeta,
		ModelVersion: modelVersion,
		LatencyMs:    msSince(start),
	}
	e.observe(result)

	record := e.toRecord(req, extracted, fv, patternFamily, ensemble, oodZone, minEntropy, abnormalityRaw, result, matches)
	e.persistAndAlert(context.WithoutCancel(ctx), record, outcome.Degraded)

	return result, nil
}

func (e *Evaluator) observe(result domain.Result) {
	if e.metrics != nil {
		e.metrics.ObserveDecision(string(result.Decision), result.RiskScore)
	}
}

func (e *Evaluator) loadConfig(ctx context.Context) domain.Config {
	cfg, err := e.artifacts.Config(ctx)
	if err != nil {
		e.logFetchFailed("config.json", err)
		return domain.DefaultConfig()
	}
	return cfg
}

func (e *Evaluator) loadHeuristics(ctx context.Context) domain.Heuristics {
	rules, err := e.artifacts.Heuristics(ctx)
	if err != nil {
		e.logFetchFailed("risk-heuristics.json", err)
		return heuristics.DefaultRules()
	}
	return rules
}

func (e *Evaluator) loadWhitelist(ctx context.Context) domain.Whitelist {
	list, err := e.artifacts.Whitelist(ctx)
	if err != nil {
		e.logFetchFailed("whitelist_config.json", err)
		return domain.Whitelist{}
	}
	return list
}

func (e *Evaluator) logFetchFailed(kind string, err error) {
	e.log.Warn().Err(err).Str("kind", kind).Msg("artifact fetch failed, using fallback")
	if e.metrics != nil {
		e.metrics.IncKVFetchFailed(kind)
	}
}

func (e *Evaluator) fillDomainSignals(ctx context.Context, fv domain.FeatureVector, dom string, cfg domain.Config) {
	var disposable map[string]struct{}
	var tldRisk map[string]float64

	if cfg.FeatureFlags.DisposableCheck {
		if m, err := e.artifacts.Disposable(ctx); err == nil {
			disposable = m
		} else {
			e.logFetchFailed("disposable_domains", err)
		}
	}
	if cfg.FeatureFlags.TLDRiskProfiling {
		if m, err := e.artifacts.TLDProfiles(ctx); err == nil {
			tldRisk = m
		} else {
			e.logFetchFailed("tld_profiles", err)
		}
	}

	features.FillDomainSignals(fv, dom, features.DomainSignalInputs{Disposable: disposable, TLDRisk: tldRisk})
}

func (e *Evaluator) fillMXSignals(ctx context.Context, fv domain.FeatureVector, dom string, cfg domain.Config) {
	if !cfg.FeatureFlags.MXCheck || e.mx == nil {
		return
	}
	res, ok := e.mx.Resolve(ctx, dom)
	if !ok {
		if e.metrics != nil {
			e.metrics.IncMXTimeout()
		}
		return
	}
	if res.HasRecords {
		fv.Set("mx_has_records", 1)
		fv.Set("mx_provider_bucket", float64(res.Bucket))
	} else {
		fv.Set("mx_has_records", 0)
	}
}

func (e *Evaluator) fillPatternSignals(fv domain.FeatureVector, canonicalLocal string) {
	refYear := features.CurrentReferenceYear()
	seq := features.DetectSequentialPattern(canonicalLocal, refYear)
	if seq.Found && !seq.IsBirthYear {
		fv.Set("sequential_confidence", seq.Confidence)
	}

	dated := features.DetectDatedPattern(canonicalLocal, refYear, false)
	if dated.Found {
		fv.Set("dated_risk", dated.Risk)
	}
}

func (e *Evaluator) evaluateMarkov(ctx context.Context, localPart string, cfg domain.Config) (markov.EnsembleResult, bool) {
	if !cfg.FeatureFlags.MarkovChain {
		return markov.EnsembleResult{}, false
	}

	legit2, err1 := e.artifacts.Markov(ctx, ports.MarkovLegit2)
	fraud2, err2 := e.artifacts.Markov(ctx, ports.MarkovFraud2)
	if err1 != nil || err2 != nil || legit2 == nil || fraud2 == nil {
		e.logFetchFailed("MM_2gram", firstErr(err1, err2))
		return markov.EnsembleResult{}, false
	}

	legit3, _ := e.artifacts.Markov(ctx, ports.MarkovLegit3)
	fraud3, _ := e.artifacts.Markov(ctx, ports.MarkovFraud3)

	result := markov.Evaluate(localPart, markov.Models{
		Order2Legit: legit2, Order2Fraud: fraud2,
		Order3Legit: legit3, Order3Fraud: fraud3,
	}, cfg.EnsembleThresholds)

	if !result.Valid {
		return result, false
	}
	return result, true
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) toRecord(
	req domain.Request,
	extracted features.Extracted,
	fv domain.FeatureVector,
	patternFamily features.PatternFamily,
	ensemble markov.EnsembleResult,
	oodZone domain.OODZone,
	minEntropy, abnormalityRaw float64,
	result domain.Result,
	matches []whitelist.Match,
) ports.ValidationRecord {
	rec := ports.ValidationRecord{
		ID:              uuid.New().String(),
		Decision:        result.Decision,
		RiskScore:       result.RiskScore,
		BlockReason:     result.BlockReason,
		EmailLocalPart:  extracted.LocalPart,
		Domain:          extracted.Domain,
		TLD:             features.TLD(extracted.Domain),
		FingerprintHash: result.Fingerprint.Hash,
		PatternFamily:   string(patternFamily),
		EnsembleReason:  ensemble.Reason,
		OODZone:         oodZone,
		ModelVersion:    result.ModelVersion,
		LatencyMs:       result.LatencyMs,
	}
	if v, ok := fv.Get("entropy"); ok {
		rec.Entropy = &v
	}
	if v, ok := fv.Get("bigram_entropy"); ok {
		rec.BigramEntropy = &v
	}
	if v, ok := fv.Get("tld_risk"); ok {
		rec.TLDRisk = &v
	}
	if len(matches) > 0 {
		rec.DomainReputation = &matches[0].Confidence
	}
	if ensemble.Valid {
		rec.CELegit2 = floatPtr(ensemble.HLegit)
		rec.CEFraud2 = floatPtr(ensemble.HFraud)
	}
	if abnormalityRaw != 0 || oodZone != domain.OODZoneNone {
		rec.OODMinEntropy = floatPtr(minEntropy)
		rec.AbnormalityScore = floatPtr(minEntropy)
		rec.AbnormalityRisk = floatPtr(abnormalityRaw)
	}
	if req.Context != nil {
		rec.ClientIP = req.Context.ClientIP
		rec.UserAgent = req.Context.UserAgent
		rec.Country = req.Context.Country
		rec.Region = req.Context.Region
		rec.City = req.Context.City
		rec.Colo = req.Context.Colo
		rec.TLSJA4 = req.Context.TLSJA4
		rec.VerifiedBot = req.Context.VerifiedBot
		rec.ExperimentID = req.Context.ExperimentID
		if req.Context.ASN != 0 {
			asn := req.Context.ASN
			rec.ASN = &asn
		}
		rec.BotScore = req.Context.BotScore
	}
	rec.ConsumerTag = req.Consumer
	rec.FlowTag = req.Flow
	return rec
}

func floatPtr(f float64) *float64 { return &f }

// persistAndAlert runs Recorder.Record and, when the decision warrants it,
// Alerter.Alert. Both are best-effort: a failure is logged and counted, and
// never propagates back to the caller (§7 persistence_failed).
func (e *Evaluator) persistAndAlert(ctx context.Context, rec ports.ValidationRecord, degraded bool) {
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, rec); err != nil {
			e.log.Error().Err(err).Msg("persistence failed")
			if e.metrics != nil {
				e.metrics.IncPersistenceFailed()
			}
		}
	}

	if degraded && e.metrics != nil {
		e.metrics.IncDegradedModel()
	}

	if e.alerter == nil {
		return
	}
	if degraded || rec.Decision == domain.DecisionBlock {
		if err := e.alerter.Alert(ctx, rec); err != nil {
			e.log.Warn().Err(err).Msg("webhook alert failed, not retried")
		}
	}
}

// fingerprint derives a stable, non-reversible identity correlator from
// request-level signals without storing raw PII (§4.9).
func fingerprint(req domain.Request) *domain.Fingerprint {
	if req.Context == nil {
		sum := sha256.Sum256([]byte(req.Email))
		return &domain.Fingerprint{Hash: hex.EncodeToString(sum[:])}
	}
	material := fmt.Sprintf("%s|%s|%d|%s", req.Context.ClientIP, req.Context.TLSJA4, req.Context.ASN, req.Context.UserAgent)
	sum := sha256.Sum256([]byte(material))
	return &domain.Fingerprint{
		Hash:    hex.EncodeToString(sum[:]),
		Country: req.Context.Country,
		ASN:     req.Context.ASN,
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
