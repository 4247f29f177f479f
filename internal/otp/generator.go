package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultCodeLength is the number of digits used when no length is configured.
const DefaultCodeLength = 6

// Supported code lengths. Anything shorter is trivially guessable and
// anything longer is impractical to retype from an email.
const (
	MinCodeLength = 4
	MaxCodeLength = 10
)

// GenerateCode returns a numeric code with the given number of digits, drawn
// uniformly from a cryptographically secure source. The first digit is never
// zero, so every code is exactly length digits. Codes are not predictable
// from any previously observed sequence.
func GenerateCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("unsupported code length %d: must be between %d and %d", length, MinCodeLength, MaxCodeLength)
	}

	// Codes of length L are drawn from [10^(L-1), 10^L - 1].
	min := int64(1)
	for i := 1; i < length; i++ {
		min *= 10
	}
	n, err := rand.Int(rand.Reader, big.NewInt(9*min))
	if err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+min), nil
}
