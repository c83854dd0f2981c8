package ports

import (
	"context"

	"github.com/stoik/fraud-shield/internal/domain"
)

// ValidationRecord is one row of the relational schema described in §4.9/§6.5.
type ValidationRecord struct {
	ID                uuidString
	Decision          domain.Decision
	RiskScore         float64
	BlockReason       domain.BlockReason
	EmailLocalPart    string // canonical
	Domain            string
	TLD               string
	FingerprintHash   string
	PatternFamily     string
	PatternConfidence *float64
	Entropy           *float64
	BigramEntropy     *float64
	TLDRisk           *float64
	DomainReputation  *float64
	CELegit2          *float64
	CEFraud2          *float64
	CELegit3          *float64
	CEFraud3          *float64
	EnsembleReason    string
	OODMinEntropy     *float64
	AbnormalityScore  *float64
	AbnormalityRisk   *float64
	OODZone           domain.OODZone
	CalibrationVersion string
	ModelVersion       string
	ExperimentID       string
	ConsumerTag        string
	FlowTag            string
	ClientIP           string
	UserAgent          string
	ASN                *int
	Country            string
	Region             string
	City               string
	Colo               string
	TLSJA4             string
	BotScore           *float64
	TrustScore         *float64
	VerifiedBot        bool
	LatencyMs          float64
}

// uuidString avoids importing google/uuid into the port definition itself;
// adapters are free to generate a uuid.UUID and call .String().
type uuidString = string

// Recorder defines the contract for persisting validation records and
// fanning out alerts (§4.9). Writes are best-effort: a Recorder failure must
// never fail the caller's evaluate response (§7 persistence_failed).
type Recorder interface {
	Record(ctx context.Context, rec ValidationRecord) error
}

// Alerter fans out webhook notifications for block-above-threshold and
// degraded-model events (§4.9).
type Alerter interface {
	Alert(ctx context.Context, rec ValidationRecord) error
}
