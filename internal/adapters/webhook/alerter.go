// Package webhook implements ports.Alerter as a best-effort JSON POST
// fan-out: block-above-threshold and degraded-model events are notified,
// never retried synchronously, and a failure never fails the caller (§4.9).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stoik/fraud-shield/internal/ports"
)

const defaultTimeout = 2 * time.Second

// Alerter posts a JSON payload to a configured URL for each alert-worthy
// validation record.
type Alerter struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// New builds an Alerter posting to url with a bounded per-call timeout.
func New(url string, log zerolog.Logger) *Alerter {
	return &Alerter{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With().Str("component", "webhook_alerter").Logger(),
	}
}

// payload is the wire shape posted to the configured webhook URL. Field
// names are stable across versions; add, don't rename.
type payload struct {
	IdempotencyKey string  `json:"idempotency_key"`
	Decision       string  `json:"decision"`
	RiskScore      float64 `json:"risk_score"`
	BlockReason    string  `json:"block_reason"`
	Domain         string  `json:"domain"`
	FingerprintHash string `json:"fingerprint_hash"`
	ExperimentID   string  `json:"experiment_id,omitempty"`
	ConsumerTag    string  `json:"consumer_tag,omitempty"`
	FlowTag        string  `json:"flow_tag,omitempty"`
}

// Alert implements ports.Alerter. The idempotency key is composed from the
// record's fingerprint and a minute-granularity timestamp bucket, so the
// same address re-triggering the same alert within the window dedupes on
// the receiver's side without this adapter needing to track state itself.
func (a *Alerter) Alert(ctx context.Context, rec ports.ValidationRecord) error {
	if a.url == "" {
		return nil
	}

	bucket := time.Now().UTC().Truncate(time.Minute).Format(time.RFC3339)
	key := uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.FingerprintHash+"|"+bucket)).String()

	body, err := json.Marshal(payload{
		IdempotencyKey:  key,
		Decision:        string(rec.Decision),
		RiskScore:       rec.RiskScore,
		BlockReason:     string(rec.BlockReason),
		Domain:          rec.Domain,
		FingerprintHash: rec.FingerprintHash,
		ExperimentID:    rec.ExperimentID,
		ConsumerTag:     rec.ConsumerTag,
		FlowTag:         rec.FlowTag,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Str("domain", rec.Domain).Msg("webhook delivery failed, not retried")
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.log.Warn().Int("status", resp.StatusCode).Str("domain", rec.Domain).Msg("webhook rejected, not retried")
		return fmt.Errorf("webhook delivery: status %d", resp.StatusCode)
	}
	return nil
}
