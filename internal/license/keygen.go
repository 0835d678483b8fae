package license

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// keyAlphabet matches the issuing side of the original scheme:
	// uppercase letters and digits only, so keys survive being read
	// over the phone or retyped from an email.
	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// KeyGroupSize and KeyGroups describe the XXXX-XXXX-XXXX-XXXX shape.
	KeyGroupSize = 4
	KeyGroups    = 4

	// KeyLength is the number of significant characters, separators
	// stripped.
	KeyLength = KeyGroupSize * KeyGroups
)

// GenerateKey produces a license key as four hyphen-joined groups of
// four characters drawn from a cryptographically secure source. The
// 36^16 keyspace makes collisions negligible; uniqueness is still
// enforced at insertion time by the lifecycle engine, which retries
// with a fresh key on conflict.
func GenerateKey() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	var b strings.Builder
	b.Grow(KeyLength + KeyGroups - 1)
	for i, c := range buf {
		if i > 0 && i%KeyGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}

// NormalizeKey strips separator characters and upper-cases the key so
// that lookups tolerate however the customer typed it.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, " ", "")
	return strings.ToUpper(key)
}

// ValidKeyFormat reports whether the key, stripped of separators, is
// exactly KeyLength alphanumeric characters. Format validation runs
// before any store lookup.
func ValidKeyFormat(key string) bool {
	clean := NormalizeKey(key)
	if len(clean) != KeyLength {
		return false
	}
	for _, r := range clean {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// CanonicalKey returns the dashed display form of a key that already
// passed ValidKeyFormat.
func CanonicalKey(key string) string {
	clean := NormalizeKey(key)
	groups := make([]string, 0, KeyGroups)
	for i := 0; i < len(clean); i += KeyGroupSize {
		groups = append(groups, clean[i:i+KeyGroupSize])
	}
	return strings.Join(groups, "-")
}
