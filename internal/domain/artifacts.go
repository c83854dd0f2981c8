package domain

import "time"

// MarkovOrder is the n-gram order of a Markov model (§3.3).
type MarkovOrder int

const (
	MarkovOrder1 MarkovOrder = 1
	MarkovOrder2 MarkovOrder = 2
	MarkovOrder3 MarkovOrder = 3
)

// MarkovState holds the observed next-character counts for one context
// string (the preceding order-1 characters).
type MarkovState struct {
	Counts map[byte]uint32
	Total  uint32
}

// MarkovModel is a single legit-or-fraud, 2-gram-or-3-gram character model.
// Legit and fraud models are distinct artifacts; this type describes either.
type MarkovModel struct {
	Order         MarkovOrder
	States        map[string]*MarkovState
	TrainingCount uint64
	// CEHistory is a bounded ring buffer (length <= 1000) of recent
	// cross-entropy observations, retained for drift analysis.
	CEHistory []float64
}

// RecordCrossEntropy appends to the bounded CEHistory ring, dropping the
// oldest sample once length 1000 is reached.
func (m *MarkovModel) RecordCrossEntropy(h float64) {
	const maxHistory = 1000
	m.CEHistory = append(m.CEHistory, h)
	if len(m.CEHistory) > maxHistory {
		m.CEHistory = m.CEHistory[len(m.CEHistory)-maxHistory:]
	}
}

// ForestTree is either a leaf ({t:"l", v:probability}) or an internal node
// ({t:"n", f:featureName, v:threshold, l:Node, r:Node}) (§6.4).
type ForestTree struct {
	IsLeaf    bool
	LeafValue float64 // valid when IsLeaf

	Feature   string // valid when !IsLeaf
	Threshold float64
	Left      *ForestTree
	Right     *ForestTree
}

// Calibration is the Platt-scaling artifact: sigmoid(intercept + coef*score).
type Calibration struct {
	Version      string
	CreatedAt    time.Time
	Intercept    float64
	Coef         float64
	FeatureOrder []string
	Metrics      *CalibrationMetrics
	Samples      int
}

// Valid rejects calibration with coef <= 0 (inverted direction, §4.3/§7).
func (c *Calibration) Valid() bool {
	return c != nil && c.Coef > 0
}

// ForestMeta describes a serialized random forest artifact.
type ForestMeta struct {
	Version     string
	Features    []string
	TreeCount   int
	Calibration *Calibration
	MaxDepth    int
}

// RandomForest is the full serialized forest artifact (§3.3).
type RandomForest struct {
	Meta   ForestMeta
	Forest []*ForestTree
}

// RiskThresholds are the two decision-boundary thresholds (§3.3).
type RiskThresholds struct {
	Warn  float64
	Block float64
}

// OODConfig parameterizes the abnormality-risk piecewise mapping (§4.2).
type OODConfig struct {
	WarnZoneMin    float64
	MaxRisk        float64
	WarnThreshold  float64
	BlockThreshold float64
}

// EnsembleThresholds parameterizes MarkovEnsemble arbitration (§4.2).
type EnsembleThresholds struct {
	AgreeMin         float64
	Override3Min     float64
	OverrideRatio    float64
	GibberishEntropy float64
	Gibberish2Min    float64
}

// FeatureFlags enumerates the degradation/feature-flag surface (§6.6).
type FeatureFlags struct {
	MXCheck          bool
	DisposableCheck  bool
	PatternCheck     bool
	NgramAnalysis    bool
	TLDRiskProfiling bool
	BenfordLaw       bool
	MarkovChain      bool
}

// CalibrationConfig is the calibration block embedded in Config (§3.3); it is
// distinct from the Calibration artifact attached to a RandomForest, since a
// deployment may calibrate the Markov ensemble independently of the forest.
type CalibrationConfig struct {
	Version      string
	CreatedAt    time.Time
	Intercept    float64
	Coef         float64
	FeatureOrder []string
}

// Config is the top-level tunable configuration artifact (§3.3).
type Config struct {
	Version            string
	RiskThresholds     RiskThresholds
	OOD                OODConfig
	EnsembleThresholds EnsembleThresholds
	FeatureFlags       FeatureFlags
	Calibration        *CalibrationConfig
}

// DefaultConfig returns the documented defaults (§4.2, §8) used before the
// first successful ArtifactCache fetch, and as a fallback when a fetch fails
// and no prior snapshot exists.
func DefaultConfig() Config {
	return Config{
		Version: "default",
		RiskThresholds: RiskThresholds{
			Warn:  0.30,
			Block: 0.35,
		},
		OOD: OODConfig{
			WarnZoneMin:    0.35,
			MaxRisk:        0.65,
			WarnThreshold:  3.8,
			BlockThreshold: 5.5,
		},
		EnsembleThresholds: EnsembleThresholds{
			AgreeMin:         0.3,
			Override3Min:     0.5,
			OverrideRatio:    1.5,
			GibberishEntropy: 6.0,
			Gibberish2Min:    0.2,
		},
		FeatureFlags: FeatureFlags{
			MXCheck:          true,
			DisposableCheck:  true,
			PatternCheck:     true,
			NgramAnalysis:    true,
			TLDRiskProfiling: true,
			BenfordLaw:       false,
			MarkovChain:      true,
		},
	}
}

// HeuristicCondition is evaluated against a FeatureVector by the
// HeuristicEngine. Expressed as data (signal name, comparator, threshold)
// rather than code so it can be hot-reloaded from the KV store.
type HeuristicCondition struct {
	Feature    string
	Comparator string // one of "gte", "lte", "eq", "gt", "lt", "present"
	Threshold  float64
}

// HeuristicRule is one config-driven additive bump (§4.4).
type HeuristicRule struct {
	Signal    string
	Condition HeuristicCondition
	Bump      float64
	Reason    string
}

// Heuristics is the ordered rule list artifact.
type Heuristics struct {
	Version string
	Rules   []HeuristicRule
}

// WhitelistEntryType enumerates the match strategies a whitelist entry can
// use (§4.5).
type WhitelistEntryType string

const (
	WhitelistExactEmail      WhitelistEntryType = "exact_email"
	WhitelistExactDomain     WhitelistEntryType = "exact_domain"
	WhitelistLocalPartRegex  WhitelistEntryType = "local_part_regex"
	WhitelistFullEmailRegex  WhitelistEntryType = "full_email_regex"
	WhitelistPatternFamily   WhitelistEntryType = "pattern_family"
)

// WhitelistEntry is a single known-legitimate pattern (§3.3).
type WhitelistEntry struct {
	Type       WhitelistEntryType
	Pattern    string
	Confidence float64
	Enabled    bool
	ExpiresAt  *time.Time
}

// Expired reports whether the entry's expiresAt has passed relative to now.
func (e WhitelistEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// WhitelistSettings are global knobs shared across all whitelist entries.
type WhitelistSettings struct {
	MaxReduction float64
}

// Whitelist is the full whitelist artifact.
type Whitelist struct {
	Version  string
	Entries  []WhitelistEntry
	Settings WhitelistSettings
}

// MXProviderBucket classifies an MX hostname into a coarse provider family
// (§4.1), persisted as mx_provider_bucket.
type MXProviderBucket int

const (
	MXProviderUnknown MXProviderBucket = iota
	MXProviderGoogle
	MXProviderMicrosoft
	MXProviderProton
	MXProviderFastmail
	MXProviderAmazonSES
	MXProviderSelfHosted
	MXProviderOther
)

// TLDProfile captures the risk weighting assigned to a TLD (§3.3).
type TLDProfile struct {
	TLD  string
	Risk float64
}
