package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/stoik/fraud-shield/internal/ports"
)

// PostgresStore implements ports.Recorder against the relational schema of
// §4.9/§6.5: one row per evaluated request, indexed for the operational
// queries the fraud team actually runs (recent blocks, a domain's history,
// an experiment cohort).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against connStr and verifies it
// with a ping before returning.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Conservative defaults; production would size this from the
	// deployment's request-rate budget.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InitSchema creates the validations table if it doesn't exist.
// In production, use proper migration tools.
func (s *PostgresStore) InitSchema() error {
	schema := `
	-- ============================================================================
	-- VALIDATIONS TABLE
	-- ============================================================================
	-- One row per signup evaluation. Flattened rather than normalized across
	-- lane-specific sub-tables: every signal a given request produced is read
	-- together for auditing and model-tuning, and the fan-out write dominates
	-- over ad hoc joins.
	--
	-- Booleans are stored as SMALLINT 0/1 (verified_bot) per §6.5; nullable
	-- lane outputs stay NULL rather than a magic-number sentinel when the
	-- corresponding lane didn't run (e.g. MX disabled, forest absent).
	CREATE TABLE IF NOT EXISTS validations (
		id                  UUID PRIMARY KEY,
		ts                  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		decision            VARCHAR(10) NOT NULL,
		risk_score          DOUBLE PRECISION NOT NULL,
		block_reason        VARCHAR(20) NOT NULL,
		email_local_part    VARCHAR(128) NOT NULL,
		domain              VARCHAR(253) NOT NULL,
		tld                 VARCHAR(24) NOT NULL,
		fingerprint_hash    VARCHAR(64) NOT NULL,
		pattern_family      VARCHAR(16),
		pattern_confidence  DOUBLE PRECISION,
		entropy             DOUBLE PRECISION,
		bigram_entropy      DOUBLE PRECISION,
		tld_risk            DOUBLE PRECISION,
		domain_reputation   DOUBLE PRECISION,
		ce_legit_2          DOUBLE PRECISION,
		ce_fraud_2          DOUBLE PRECISION,
		ce_legit_3          DOUBLE PRECISION,
		ce_fraud_3          DOUBLE PRECISION,
		ensemble_reason     VARCHAR(32),
		ood_min_entropy     DOUBLE PRECISION,
		abnormality_score   DOUBLE PRECISION,
		abnormality_risk    DOUBLE PRECISION,
		ood_zone            VARCHAR(10),
		calibration_version VARCHAR(32),
		model_version       VARCHAR(32),
		experiment_id       VARCHAR(64),
		consumer_tag        VARCHAR(64),
		flow_tag            VARCHAR(64),
		client_ip           VARCHAR(45),
		user_agent          TEXT,
		asn                 INTEGER,
		country             VARCHAR(2),
		region              VARCHAR(64),
		city                VARCHAR(64),
		colo                VARCHAR(8),
		tls_ja4             VARCHAR(64),
		bot_score           DOUBLE PRECISION,
		trust_score         DOUBLE PRECISION,
		verified_bot        SMALLINT NOT NULL DEFAULT 0,
		latency_ms          DOUBLE PRECISION NOT NULL
	);

	-- Recent-activity dashboards scan newest-first.
	CREATE INDEX IF NOT EXISTS idx_validations_ts ON validations(ts DESC);
	-- "Show all blocks this hour" / decision-mix dashboards.
	CREATE INDEX IF NOT EXISTS idx_validations_decision ON validations(decision, ts DESC);
	-- Dedup / repeat-signup investigation keys on the stable fingerprint.
	CREATE INDEX IF NOT EXISTS idx_validations_fingerprint ON validations(fingerprint_hash);
	-- "All signups against this domain" for abuse-ring investigation.
	CREATE INDEX IF NOT EXISTS idx_validations_domain ON validations(domain, ts DESC);
	-- A/B cohort analysis joins on experiment_id.
	CREATE INDEX IF NOT EXISTS idx_validations_experiment ON validations(experiment_id) WHERE experiment_id <> '';
	-- Abnormality-zone sweeps for OOD model health checks.
	CREATE INDEX IF NOT EXISTS idx_validations_ood_zone ON validations(ood_zone, ts DESC);
	-- Per-integration/per-flow breakdowns.
	CREATE INDEX IF NOT EXISTS idx_validations_consumer_flow ON validations(consumer_tag, flow_tag, ts DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record implements ports.Recorder. A zero-value ID is replaced with a fresh
// uuid so callers aren't required to generate one before calling Record.
func (s *PostgresStore) Record(ctx context.Context, rec ports.ValidationRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	var verifiedBot int
	if rec.VerifiedBot {
		verifiedBot = 1
	}

	query := `
		INSERT INTO validations (
			id, decision, risk_score, block_reason, email_local_part, domain, tld,
			fingerprint_hash, pattern_family, pattern_confidence, entropy, bigram_entropy,
			tld_risk, domain_reputation, ce_legit_2, ce_fraud_2, ce_legit_3, ce_fraud_3,
			ensemble_reason, ood_min_entropy, abnormality_score, abnormality_risk, ood_zone,
			calibration_version, model_version, experiment_id, consumer_tag, flow_tag,
			client_ip, user_agent, asn, country, region, city, colo, tls_ja4,
			bot_score, trust_score, verified_bot, latency_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32,
			$33, $34, $35, $36, $37, $38, $39, $40
		)
	`
	_, err := s.db.ExecContext(ctx, query,
		id, string(rec.Decision), rec.RiskScore, string(rec.BlockReason), rec.EmailLocalPart,
		rec.Domain, rec.TLD, rec.FingerprintHash, nullableString(rec.PatternFamily), rec.PatternConfidence,
		rec.Entropy, rec.BigramEntropy, rec.TLDRisk, rec.DomainReputation, rec.CELegit2, rec.CEFraud2,
		rec.CELegit3, rec.CEFraud3, nullableString(rec.EnsembleReason), rec.OODMinEntropy,
		rec.AbnormalityScore, rec.AbnormalityRisk, nullableString(string(rec.OODZone)),
		nullableString(rec.CalibrationVersion), nullableString(rec.ModelVersion), rec.ExperimentID,
		rec.ConsumerTag, rec.FlowTag, rec.ClientIP, rec.UserAgent, rec.ASN, rec.Country, rec.Region,
		rec.City, rec.Colo, rec.TLSJA4, rec.BotScore, rec.TrustScore, verifiedBot, rec.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	return nil
}

// nullableString maps an empty string to SQL NULL, since several columns
// (pattern_family, ensemble_reason, ood_zone, calibration/model version) are
// legitimately absent when the corresponding lane or artifact didn't run.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
