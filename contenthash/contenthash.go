// Package contenthash produces the SHA-256 digests stored on-chain for
// governance records.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Hash returns the lowercase hex SHA-256 of content. Strings and byte
// slices are hashed as-is. Anything else, including json.RawMessage, is
// hashed over its RFC 8785 canonical JSON form, so map key order never
// changes the digest.
func Hash(content any) (string, error) {
	switch v := content.(type) {
	case string:
		return HashString(v), nil
	case json.RawMessage:
		return hashJSON(v)
	case []byte:
		return sum(v), nil
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content: %w", err)
	}
	return hashJSON(raw)
}

// HashString hashes the UTF-8 bytes of s
func HashString(s string) string {
	return sum([]byte(s))
}

// Canonical returns the RFC 8785 form of a JSON document
func Canonical(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize JSON: %w", err)
	}
	return out, nil
}

func hashJSON(raw []byte) (string, error) {
	canonical, err := Canonical(raw)
	if err != nil {
		return "", err
	}
	return sum(canonical), nil
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
