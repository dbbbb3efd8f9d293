// Package signing implements the HMAC-SHA256 webhook signature scheme shared by
// outbound deliveries and inbound callbacks:
//
//	X-Signature: sha256=<hex(hmac(secret, "{timestamp}.{body}"))>
//	X-Timestamp: <unix seconds>
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature      = "X-Signature"
	HeaderTimestamp      = "X-Timestamp"
	HeaderIdempotencyKey = "X-Idempotency-Key"

	signaturePrefix = "sha256="
)

var (
	ErrNotConfigured     = errors.New("signing secret not configured")
	ErrMissingSignature  = errors.New("missing signature headers")
	ErrMalformed         = errors.New("malformed signature headers")
	ErrTimestampExpired  = errors.New("timestamp outside allowed window")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Sign returns the X-Signature header value for body at timestamp.
func Sign(secret string, timestamp int64, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac(secret, timestamp, body))
}

func mac(secret string, timestamp int64, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// Headers builds the signature headers for an outbound request.
func Headers(secret string, now time.Time, body []byte) map[string]string {
	ts := now.Unix()
	return map[string]string{
		HeaderSignature: Sign(secret, ts, body),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
	}
}

// Verifier checks inbound signatures against a shared secret and a replay window.
type Verifier struct {
	Secret string
	Window time.Duration
	Now    func() time.Time
}

// Verify validates the header pair for body. The returned timestamp is the parsed X-Timestamp.
func (v Verifier) Verify(signatureHeader, timestampHeader string, body []byte) (int64, error) {
	if v.Secret == "" {
		return 0, ErrNotConfigured
	}
	signatureHeader = strings.TrimSpace(signatureHeader)
	timestampHeader = strings.TrimSpace(timestampHeader)
	if signatureHeader == "" || timestampHeader == "" {
		return 0, ErrMissingSignature
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return 0, ErrMalformed
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, signaturePrefix))
	if err != nil {
		return 0, ErrMalformed
	}
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	window := v.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	skew := now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(window/time.Second) {
		return 0, ErrTimestampExpired
	}

	if !hmac.Equal(provided, mac(v.Secret, ts, body)) {
		return 0, ErrSignatureMismatch
	}
	return ts, nil
}

// CanonicalJSON re-encodes a JSON document with object keys sorted and no HTML
// escaping, so the signed bytes do not depend on how the payload was stored.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
