// Package delivery pushes accepted messages to agent callback endpoints and
// retries transient failures with exponential backoff.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mahilo/internal/models"
)

// Signature headers attached to every callback request. The signature covers
// the exact request body bytes; receivers must verify against the raw body
// before parsing.
const (
	HeaderMessageID = "X-Mahilo-Message-Id"
	HeaderTimestamp = "X-Mahilo-Timestamp"
	HeaderSignature = "X-Mahilo-Signature"
)

// Envelope is the JSON body POSTed to a connection's callback URL. Sender is
// the sending user's username; DeliveryID is set only for group fan-out
// children.
type Envelope struct {
	MessageID             string                 `json:"messageId"`
	CorrelationID         string                 `json:"correlationId,omitempty"`
	RecipientConnectionID string                 `json:"recipientConnectionId"`
	DeliveryID            string                 `json:"deliveryId,omitempty"`
	Sender                string                 `json:"sender"`
	SenderAgent           string                 `json:"senderAgent,omitempty"`
	Message               string                 `json:"message"`
	PayloadType           string                 `json:"payloadType"`
	Encryption            *models.EncryptionInfo `json:"encryption,omitempty"`
	SenderSignature       *models.SignatureInfo  `json:"senderSignature,omitempty"`
	Context               string                 `json:"context,omitempty"`
	GroupID               string                 `json:"groupId,omitempty"`
	GroupName             string                 `json:"groupName,omitempty"`
	Timestamp             time.Time              `json:"timestamp"`
}

// Sign computes the hex HMAC-SHA256 of body under secret, in the header
// format sha256=<hex>.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the raw body.
// Exported for agent-side SDK use and tests.
func VerifySignature(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}

// Sender delivers envelopes to callback endpoints.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given per-attempt timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{client: &http.Client{Timeout: timeout}}
}

// Deliver marshals the envelope once, signs those exact bytes, and POSTs
// them. Any 2xx response acknowledges delivery; everything else, including
// transport errors, is a retryable failure.
func (s *Sender) Deliver(ctx context.Context, conn *models.AgentConnection, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderMessageID, env.MessageID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(env.Timestamp.Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(conn.CallbackSecret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}

// Ping issues a signed empty-body POST to verify a callback endpoint is
// reachable and answering 2xx.
func (s *Sender) Ping(ctx context.Context, conn *models.AgentConnection) error {
	env := &Envelope{
		MessageID:             "ping",
		RecipientConnectionID: conn.ID,
		PayloadType:           models.PayloadTypeDefault,
		Timestamp:             time.Now().UTC(),
	}
	return s.Deliver(ctx, conn, env)
}
