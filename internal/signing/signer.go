// Package signing produces tamper-evident, replay-resistant signatures for
// outbound provider requests.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/deckward/deckward/internal/errors"
)

// MaxSignatureAge bounds replay exposure: signatures older than this are
// rejected on verification even when otherwise valid.
const MaxSignatureAge = 300 * time.Second

// Signer signs and verifies request payloads with a caller-supplied API key.
type Signer struct {
	Clock func() time.Time
}

// New returns a signer using the wall clock.
func New() *Signer {
	return &Signer{}
}

// Sign returns base64(timestamp ":" hex(HMAC-SHA256(SHA256(key),
// timestamp ":" service ":" canonical(payload)))).
func (s *Signer) Sign(service string, payload map[string]any, key string) (string, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", err
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	mac := computeMAC(key, timestamp, service, canonical)

	token := timestamp + ":" + hex.EncodeToString(mac)
	return base64.StdEncoding.EncodeToString([]byte(token)), nil
}

// Verify reports whether Check accepts the signature.
func (s *Signer) Verify(service string, payload map[string]any, signature, key string) bool {
	return s.Check(service, payload, signature, key) == nil
}

// Check recomputes the signature for the embedded timestamp and compares in
// constant time, returning a signature-invalid envelope naming the failing
// step. Signatures older than MaxSignatureAge fail regardless.
func (s *Signer) Check(service string, payload map[string]any, signature, key string) error {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return apperrors.NewSignatureInvalid("signature is not valid base64")
	}

	timestamp, providedHex, ok := strings.Cut(string(raw), ":")
	if !ok {
		return apperrors.NewSignatureInvalid("signature is missing its timestamp")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperrors.NewSignatureInvalid("signature timestamp is not numeric")
	}
	age := s.now().Sub(time.Unix(unix, 0))
	if age > MaxSignatureAge || age < -MaxSignatureAge {
		return apperrors.NewSignatureInvalid("signature timestamp is outside the replay window")
	}

	canonical, err := canonicalize(payload)
	if err != nil {
		return apperrors.NewSignatureInvalid(err.Error())
	}

	expected := hex.EncodeToString(computeMAC(key, timestamp, service, canonical))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(providedHex)) != 1 {
		return apperrors.NewSignatureInvalid("signature digest does not match the payload")
	}
	return nil
}

// computeMAC keys the HMAC with SHA256(key) so raw API keys of any length
// produce uniform keying material.
func computeMAC(key, timestamp, service, canonical string) []byte {
	derived := sha256.Sum256([]byte(key))
	mac := hmac.New(sha256.New, derived[:])
	mac.Write([]byte(timestamp + ":" + service + ":" + canonical))
	return mac.Sum(nil)
}

// canonicalize renders a payload as sorted "key=value" pairs joined by "&".
// Nested structures are JSON-serialized so their rendering is deterministic.
func canonicalize(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		value, err := renderValue(payload[key])
		if err != nil {
			return "", fmt.Errorf("canonicalize %q: %w", key, err)
		}
		pairs = append(pairs, key+"="+value)
	}
	return strings.Join(pairs, "&"), nil
}

func renderValue(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

func (s *Signer) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
