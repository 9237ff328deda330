// Package webhook delivers job completion callbacks: payload shaping,
// HTTP sending with HMAC signing, and an async dispatcher with retries
// and per-host circuit breaking.
package webhook

import (
	"fmt"
	"time"

	"advsandbox/internal/attack"
)

// previewLimit caps the input excerpts embedded in a payload.
const previewLimit = 100

// Payload is the JSON body POSTed to a callback URL when an attack
// reaches a terminal status.
type Payload struct {
	EventType                 string `json:"event_type"`
	AttackID                  string `json:"attack_id"`
	Timestamp                 string `json:"timestamp"`
	Status                    string `json:"status"`
	ModelID                   string `json:"model_id"`
	AttackMethodID            string `json:"attack_method_id"`
	AttackSuccess             bool   `json:"attack_success"`
	OriginalInputPreview      string `json:"original_input_preview"`
	AdversarialExamplePreview string `json:"adversarial_example_preview"`
	ResultURL                 string `json:"result_url"`
}

// NewPayload builds the callback payload for a terminal record.
// resultBaseURL is the externally reachable base of this service.
func NewPayload(rec *attack.Record, resultBaseURL string) *Payload {
	return &Payload{
		EventType:                 "attack_" + rec.Status,
		AttackID:                  rec.ID,
		Timestamp:                 time.Now().UTC().Format(time.RFC3339),
		Status:                    rec.Status,
		ModelID:                   rec.ModelID,
		AttackMethodID:            rec.AttackMethodID,
		AttackSuccess:             rec.AttackSuccess,
		OriginalInputPreview:      preview(rec.OriginalInput),
		AdversarialExamplePreview: preview(rec.AdversarialExample),
		ResultURL:                 fmt.Sprintf("%s/v1/jobs/%s/results", resultBaseURL, rec.ID),
	}
}

// preview truncates long inputs so callback bodies stay small. The
// limit counts characters, not bytes, so multi-byte runes survive.
func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit]) + "..."
}
