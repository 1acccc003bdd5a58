package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerWebhookID        = "svix-id"
	headerWebhookTimestamp = "svix-timestamp"
	headerWebhookSignature = "svix-signature"

	secretPrefix     = "whsec_"
	signatureVersion = "v1"
)

// Verifier authenticates webhook deliveries signed with the provider's
// shared secret and turns them into typed events.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier for a "whsec_" prefixed base64 secret.
// Secrets without the prefix are used as raw key bytes.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}

	key := []byte(secret)
	if strings.HasPrefix(secret, secretPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode webhook secret: %w", err)
		}
		key = decoded
	}

	return &Verifier{
		key:       key,
		tolerance: tolerance,
		now:       time.Now,
	}, nil
}

// Verify checks the signature headers against the body and parses the event
func (v *Verifier) Verify(header http.Header, body []byte) (Event, error) {
	msgID := header.Get(headerWebhookID)
	timestamp := header.Get(headerWebhookTimestamp)
	signatures := header.Get(headerWebhookSignature)

	if msgID == "" || timestamp == "" || signatures == "" {
		return nil, verificationError("missing signature headers", nil)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, verificationError("invalid timestamp", err)
	}

	sent := time.Unix(ts, 0)
	now := v.now()
	if v.tolerance > 0 && (now.Sub(sent) > v.tolerance || sent.Sub(now) > v.tolerance) {
		return nil, verificationError("timestamp outside tolerance", nil)
	}

	expected := v.sign(msgID, timestamp, body)

	for _, versioned := range strings.Fields(signatures) {
		version, signature, found := strings.Cut(versioned, ",")
		if !found || version != signatureVersion {
			continue
		}
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return ParseEvent(body)
		}
	}

	return nil, verificationError("no matching signature", nil)
}

// Sign produces a signature header value for a delivery. Used by tests
// and for replaying captured payloads locally.
func (v *Verifier) Sign(msgID string, timestamp time.Time, body []byte) string {
	return signatureVersion + "," + v.sign(msgID, strconv.FormatInt(timestamp.Unix(), 10), body)
}

func (v *Verifier) sign(msgID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(msgID + "." + timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
