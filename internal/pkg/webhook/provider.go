package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Payment-provider event types the pipeline dispatches on. Anything else is
// logged and ignored.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// Event is the verified provider envelope. Data.Object stays raw until the
// processor decodes it against the type-specific shape.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// Provider verifies a raw webhook body against its signature header and
// returns the decoded envelope.
type Provider interface {
	VerifyWebhook(rawBody []byte, signature string) (*Event, error)
}

// HMACProvider verifies webhooks signed with HMAC-SHA256 over the exact raw
// request bytes, hex-encoded in the signature header.
type HMACProvider struct {
	secret []byte
}

func NewHMACProvider(secret string) *HMACProvider {
	return &HMACProvider{secret: []byte(strings.TrimSpace(secret))}
}

func (p *HMACProvider) VerifyWebhook(rawBody []byte, signature string) (*Event, error) {
	sig := strings.TrimSpace(signature)
	if sig == "" || len(p.secret) == 0 {
		return nil, NewValidationError("missing signature or webhook secret")
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return nil, NewValidationError("signature is not valid hex")
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write(rawBody)
	if !hmac.Equal(mac.Sum(nil), decodedSig) {
		return nil, NewValidationError("invalid webhook signature")
	}

	var evt Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, NewValidationError("payload is not valid JSON")
	}
	if strings.TrimSpace(evt.ID) == "" || strings.TrimSpace(evt.Type) == "" {
		return nil, NewValidationError("event id and type are required")
	}
	return &evt, nil
}

// SignPayload computes the hex HMAC-SHA256 signature for a payload. Used by
// tests and by the local provider simulator.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
