package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashing.
// Version suffix enables future algorithm migration.
const (
	DomainReceipt = "scribe/receipt/v1"
	DomainConfig  = "scribe/config/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashReceipt computes the content hash of a receipt body.
// The body must not contain the receipt_hash field itself; the hash is a
// pure function of every other field via canonical serialization.
func HashReceipt(body map[string]any) (string, error) {
	canonical, err := MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("HashReceipt: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainReceipt, canonical), nil
}

// HashConfig computes the content hash of a job config snapshot.
// Stored on the job row so identical configs are recognizable without
// comparing full JSON blobs.
func HashConfig(cfg map[string]any) (string, error) {
	canonical, err := MarshalCanonical(cfg)
	if err != nil {
		return "", fmt.Errorf("HashConfig: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainConfig, canonical), nil
}

// MustHashReceipt is like HashReceipt but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashReceipt(body map[string]any) string {
	h, err := HashReceipt(body)
	if err != nil {
		panic(err)
	}
	return h
}
