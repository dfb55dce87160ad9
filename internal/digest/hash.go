package digest

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainIntent = "postbox/intent/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash computes the domain-separated hash of v's canonical JSON.
func Hash(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// IntentID identifies one session's intended move of a message between
// collections. A session recording the same move twice yields the same id,
// so retries de-duplicate; concurrent sessions never share an id.
func IntentID(messageID, from, to, sessionID string) (string, error) {
	return Hash(DomainIntent, map[string]any{
		"message_id": messageID,
		"from":       from,
		"to":         to,
		"session_id": sessionID,
	})
}

// BlobSHA returns the git blob SHA-1 of data: SHA1("blob <len>\x00" + data).
// This matches the sha the GitHub contents API reports for a file.
func BlobSHA(data []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(data))))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
