package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for digests.
// Version suffix enables future algorithm migration.
const (
	DomainRecord      = "draftkeep/record/v1"
	DomainFingerprint = "draftkeep/fingerprint/v1"
)

// DefaultVolatileFields are excluded from fingerprints unless the caller
// configures its own list.
var DefaultVolatileFields = []string{"updatedAt", "updated_at", "lastModified"}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordHash computes the integrity digest of a stored payload.
// The payload is only compacted, never canonicalized: any change to a
// string or number literal changes the digest, while whitespace does not.
func RecordHash(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", fmt.Errorf("RecordHash: %w", err)
	}
	return hashWithDomain(DomainRecord, buf.Bytes()), nil
}

// Fingerprint computes a stable content hash of doc with every object member
// named in volatile removed at any depth. Two documents that differ only in
// volatile fields have the same fingerprint.
//
// doc may be any JSON-encodable value, including json.RawMessage.
func Fingerprint(doc any, volatile []string) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: encode: %w", err)
	}
	v, err := Decode(raw)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: %w", err)
	}

	skip := make(map[string]struct{}, len(volatile))
	for _, f := range volatile {
		skip[f] = struct{}{}
	}

	c, err := marshalValue(stripFields(v, skip))
	if err != nil {
		return "", fmt.Errorf("Fingerprint: %w", err)
	}
	return hashWithDomain(DomainFingerprint, c), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(doc any, volatile []string) string {
	fp, err := Fingerprint(doc, volatile)
	if err != nil {
		panic(err)
	}
	return fp
}

func stripFields(v any, skip map[string]struct{}) any {
	if len(skip) == 0 {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if _, ok := skip[k]; ok {
				continue
			}
			out[k] = stripFields(elem, skip)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = stripFields(elem, skip)
		}
		return out
	default:
		return v
	}
}
