package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stoik/fraud-shield/internal/domain"
)

// The types in this file mirror the KV-stored JSON wire formats of §6.4 and
// are translated into the domain package's in-memory artifact types. Kept
// separate from domain so a wire-format change never ripples into the
// scoring packages.

type wireMarkovState struct {
	Context          string     `json:"context"`
	NextChars        [][2]any   `json:"nextChars"` // [char, count] pairs
	TotalTransitions uint32     `json:"totalTransitions"`
}

type wireMarkovModel struct {
	Order              int               `json:"order"`
	States             []wireMarkovState `json:"states"`
	TrainingCount      uint64            `json:"trainingCount"`
	CrossEntropyHistory []float64        `json:"crossEntropyHistory"`
}

func parseMarkovModel(raw []byte) (any, error) {
	var w wireMarkovModel
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode markov model: %w", err)
	}
	m := &domain.MarkovModel{
		Order:         domain.MarkovOrder(w.Order),
		States:        make(map[string]*domain.MarkovState, len(w.States)),
		TrainingCount: w.TrainingCount,
		CEHistory:     append([]float64(nil), w.CrossEntropyHistory...),
	}
	for _, s := range w.States {
		counts := make(map[byte]uint32, len(s.NextChars))
		for _, pair := range s.NextChars {
			ch, ok := pair[0].(string)
			if !ok || len(ch) == 0 {
				continue
			}
			cnt, ok := pair[1].(float64)
			if !ok {
				continue
			}
			counts[ch[0]] = uint32(cnt)
		}
		m.States[s.Context] = &domain.MarkovState{Counts: counts, Total: s.TotalTransitions}
	}
	return m, nil
}

type wireForestNode struct {
	T string          `json:"t"` // "l" or "n"
	V json.RawMessage `json:"v"` // leaf probability (number) or threshold (number)
	F string          `json:"f"`
	L *wireForestNode `json:"l"`
	R *wireForestNode `json:"r"`
}

func (w *wireForestNode) toDomain() (*domain.ForestTree, error) {
	if w == nil {
		return nil, nil
	}
	switch w.T {
	case "l":
		var v float64
		if err := json.Unmarshal(w.V, &v); err != nil {
			return nil, fmt.Errorf("decode leaf value: %w", err)
		}
		return &domain.ForestTree{IsLeaf: true, LeafValue: v}, nil
	case "n":
		var v float64
		if err := json.Unmarshal(w.V, &v); err != nil {
			return nil, fmt.Errorf("decode threshold: %w", err)
		}
		left, err := w.L.toDomain()
		if err != nil {
			return nil, err
		}
		right, err := w.R.toDomain()
		if err != nil {
			return nil, err
		}
		return &domain.ForestTree{Feature: w.F, Threshold: v, Left: left, Right: right}, nil
	default:
		return nil, fmt.Errorf("unknown forest node type %q", w.T)
	}
}

type wireCalibration struct {
	Version      string   `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	Intercept    float64  `json:"intercept"`
	Coef         float64  `json:"coef"`
	FeatureOrder []string `json:"featureOrder"`
	Metrics      *struct {
		Accuracy  float64 `json:"accuracy"`
		Precision float64 `json:"precision"`
		Recall    float64 `json:"recall"`
		F1        float64 `json:"f1"`
	} `json:"metrics"`
	Samples int `json:"samples"`
}

type wireForestMeta struct {
	Version     string           `json:"version"`
	Features    []string         `json:"features"`
	TreeCount   int              `json:"tree_count"`
	Calibration *wireCalibration `json:"calibration"`
	Config      *struct {
		MaxDepth int `json:"max_depth"`
	} `json:"config"`
}

type wireForest struct {
	Meta   wireForestMeta    `json:"meta"`
	Forest []*wireForestNode `json:"forest"`
}

func parseForest(raw []byte) (any, error) {
	var w wireForest
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}
	rf := &domain.RandomForest{
		Meta: domain.ForestMeta{
			Version:   w.Meta.Version,
			Features:  w.Meta.Features,
			TreeCount: w.Meta.TreeCount,
		},
	}
	if w.Meta.Config != nil {
		rf.Meta.MaxDepth = w.Meta.Config.MaxDepth
	}
	if w.Meta.Calibration != nil {
		cal := toDomainCalibration(w.Meta.Calibration)
		if !cal.Valid() {
			return nil, fmt.Errorf("calibration_invalid: coef must be > 0, got %f", cal.Coef)
		}
		rf.Meta.Calibration = cal
	}
	for _, node := range w.Forest {
		tree, err := node.toDomain()
		if err != nil {
			return nil, err
		}
		rf.Forest = append(rf.Forest, tree)
	}
	return rf, nil
}

func toDomainCalibration(w *wireCalibration) *domain.Calibration {
	cal := &domain.Calibration{
		Version:      w.Version,
		CreatedAt:    w.CreatedAt,
		Intercept:    w.Intercept,
		Coef:         w.Coef,
		FeatureOrder: w.FeatureOrder,
		Samples:      w.Samples,
	}
	if w.Metrics != nil {
		cal.Metrics = &domain.CalibrationMetrics{
			Accuracy:  w.Metrics.Accuracy,
			Precision: w.Metrics.Precision,
			Recall:    w.Metrics.Recall,
			F1:        w.Metrics.F1,
		}
	}
	return cal
}

type wireConfig struct {
	RiskThresholds struct {
		Warn  float64 `json:"warn"`
		Block float64 `json:"block"`
	} `json:"riskThresholds"`
	OOD struct {
		WarnZoneMin    float64 `json:"warnZoneMin"`
		MaxRisk        float64 `json:"maxRisk"`
		WarnThreshold  float64 `json:"warnThreshold"`
		BlockThreshold float64 `json:"blockThreshold"`
	} `json:"ood"`
	EnsembleThresholds struct {
		Agree            float64 `json:"agree"`
		Override3        float64 `json:"override3"`
		OverrideRatio    float64 `json:"overrideRatio"`
		GibberishEntropy float64 `json:"gibberishEntropy"`
		Gibberish2Min    float64 `json:"gibberish2Min"`
	} `json:"ensembleThresholds"`
	FeatureFlags struct {
		MXCheck          bool `json:"mxCheck"`
		DisposableCheck  bool `json:"disposableCheck"`
		PatternCheck     bool `json:"patternCheck"`
		NgramAnalysis    bool `json:"ngramAnalysis"`
		TLDRiskProfiling bool `json:"tldRiskProfiling"`
		BenfordLaw       bool `json:"benfordLaw"`
		MarkovChain      bool `json:"markovChain"`
	} `json:"featureFlags"`
	Calibration *wireCalibration `json:"calibration"`
}

func parseConfig(raw []byte) (any, error) {
	var w wireConfig
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg := domain.Config{
		RiskThresholds: domain.RiskThresholds{Warn: w.RiskThresholds.Warn, Block: w.RiskThresholds.Block},
		OOD: domain.OODConfig{
			WarnZoneMin:    w.OOD.WarnZoneMin,
			MaxRisk:        w.OOD.MaxRisk,
			WarnThreshold:  w.OOD.WarnThreshold,
			BlockThreshold: w.OOD.BlockThreshold,
		},
		EnsembleThresholds: domain.EnsembleThresholds{
			AgreeMin:         w.EnsembleThresholds.Agree,
			Override3Min:     w.EnsembleThresholds.Override3,
			OverrideRatio:    w.EnsembleThresholds.OverrideRatio,
			GibberishEntropy: w.EnsembleThresholds.GibberishEntropy,
			Gibberish2Min:    w.EnsembleThresholds.Gibberish2Min,
		},
		FeatureFlags: domain.FeatureFlags{
			MXCheck:          w.FeatureFlags.MXCheck,
			DisposableCheck:  w.FeatureFlags.DisposableCheck,
			PatternCheck:     w.FeatureFlags.PatternCheck,
			NgramAnalysis:    w.FeatureFlags.NgramAnalysis,
			TLDRiskProfiling: w.FeatureFlags.TLDRiskProfiling,
			BenfordLaw:       w.FeatureFlags.BenfordLaw,
			MarkovChain:      w.FeatureFlags.MarkovChain,
		},
	}
	if w.Calibration != nil {
		c := toDomainCalibration(w.Calibration)
		cfg.Calibration = &domain.CalibrationConfig{
			Version:      c.Version,
			CreatedAt:    c.CreatedAt,
			Intercept:    c.Intercept,
			Coef:         c.Coef,
			FeatureOrder: c.FeatureOrder,
		}
	}
	return cfg, nil
}

type wireHeuristicRule struct {
	Signal    string  `json:"signal"`
	Condition struct {
		Feature    string  `json:"feature"`
		Comparator string  `json:"comparator"`
		Threshold  float64 `json:"threshold"`
	} `json:"condition"`
	Bump   float64 `json:"bump"`
	Reason string  `json:"reason"`
}

type wireHeuristics struct {
	Version string              `json:"version"`
	Rules   []wireHeuristicRule `json:"rules"`
}

func parseHeuristics(raw []byte) (any, error) {
	var w wireHeuristics
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode heuristics: %w", err)
	}
	h := domain.Heuristics{Version: w.Version}
	for _, r := range w.Rules {
		h.Rules = append(h.Rules, domain.HeuristicRule{
			Signal: r.Signal,
			Condition: domain.HeuristicCondition{
				Feature:    r.Condition.Feature,
				Comparator: r.Condition.Comparator,
				Threshold:  r.Condition.Threshold,
			},
			Bump:   r.Bump,
			Reason: r.Reason,
		})
	}
	return h, nil
}

type wireWhitelistEntry struct {
	Type       string     `json:"type"`
	Pattern    string     `json:"pattern"`
	Confidence float64    `json:"confidence"`
	Enabled    bool       `json:"enabled"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

type wireWhitelist struct {
	Version  string               `json:"version"`
	Entries  []wireWhitelistEntry `json:"entries"`
	Settings struct {
		MaxReduction float64 `json:"maxReduction"`
	} `json:"globalSettings"`
}

func parseWhitelist(raw []byte) (any, error) {
	var w wireWhitelist
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode whitelist: %w", err)
	}
	list := domain.Whitelist{
		Version:  w.Version,
		Settings: domain.WhitelistSettings{MaxReduction: w.Settings.MaxReduction},
	}
	for _, e := range w.Entries {
		list.Entries = append(list.Entries, domain.WhitelistEntry{
			Type:       domain.WhitelistEntryType(e.Type),
			Pattern:    e.Pattern,
			Confidence: e.Confidence,
			Enabled:    e.Enabled,
			ExpiresAt:  e.ExpiresAt,
		})
	}
	return list, nil
}

func parseDisposable(raw []byte) (any, error) {
	var domains []string
	if err := json.Unmarshal(raw, &domains); err != nil {
		return nil, fmt.Errorf("decode disposable domains: %w", err)
	}
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	return set, nil
}

func parseTLDProfiles(raw []byte) (any, error) {
	var profiles []domain.TLDProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("decode tld profiles: %w", err)
	}
	m := make(map[string]float64, len(profiles))
	for _, p := range profiles {
		m[p.TLD] = p.Risk
	}
	return m, nil
}
