package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum allowed length for the push webhook secret.
	MinSecretLength = 48

	// MinEntropy is the minimum Shannon entropy threshold for secrets.
	MinEntropy = 3.5
)

// placeholderWords mark secrets copied from documentation or examples.
var placeholderWords = []string{
	"replace",
	"changeme",
	"topsecret",
	"password",
	"your-webhook-secret",
	"example",
}

// ValidateSecret ensures the webhook secret shared with GitHub is strong enough.
// Checks:
// - Minimum length (48 characters)
// - Not a placeholder value
// - Sufficient Shannon entropy (minimum 3.5)
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d); generate one with 'hzinstall secret'", MinSecretLength, len(secret))
	}

	lower := strings.ToLower(secret)
	for _, word := range placeholderWords {
		if strings.Contains(lower, word) {
			return fmt.Errorf("secret appears to be a placeholder value")
		}
	}

	entropy := calculateEntropy(secret)
	if entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret creates a cryptographically secure random secret.
// Returns a 48-character base64-encoded string.
func GenerateSecret() (string, error) {
	// 36 bytes encode to 48 characters in base64
	buf := make([]byte, 36)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// calculateEntropy computes the Shannon entropy of a string.
// Returns a value between 0 (completely predictable) and ~8 (maximum entropy for byte strings).
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}
