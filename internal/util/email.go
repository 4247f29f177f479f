package util

import (
	"fmt"
	"net/mail"
	"strings"
)

// NormalizeEmail trims surrounding whitespace and lower-cases an email address.
// Every OTP and identity operation keys on the normalized form, so request and
// verify agree on the requester regardless of how the caller typed it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail normalizes and syntactically validates an email address,
// returning the normalized form.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", fmt.Errorf("invalid email address")
	}
	return normalized, nil
}
