// Package identity provides opaque durable entity identifiers and slug
// derivation. Identifiers address storage partitions and never change;
// slugs are human-facing lookup keys and are never used as storage keys.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ID is an opaque 32-character lowercase hex entity identifier.
type ID string

// String returns the hex form of the identifier.
func (id ID) String() string { return string(id) }

// NewID mints a fresh random entity identifier.
func NewID() ID {
	raw := uuid.New()
	return ID(hex.EncodeToString(raw[:]))
}

// ParseID validates an identifier received from outside the process.
func ParseID(value string) (ID, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if len(value) != 32 {
		return "", fmt.Errorf("identity: id must be 32 hex characters, got %d", len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return "", fmt.Errorf("identity: id is not hex: %w", err)
	}
	return ID(value), nil
}

// FromName derives a stable identifier from an external name, such as a
// catalog account ID. The same name always maps to the same partition.
func FromName(name string) ID {
	sum := sha256.Sum256([]byte(name))
	return ID(hex.EncodeToString(sum[:16]))
}

// Slugify normalizes a free-form title into a URL-safe slug: diacritics
// folded, lowercased, runs of non-alphanumerics collapsed to single hyphens.
func Slugify(value string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, value)
	if err != nil {
		folded = value
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastHyphen := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
