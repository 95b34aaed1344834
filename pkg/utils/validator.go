package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	stepKeyRegex    = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)
	controlCharsRex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// ValidateStepKey checks a template step key: lowercase letters, digits, '_' and '-'
func ValidateStepKey(key string) error {
	if !stepKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid step key: %q", key)
	}
	return nil
}

// ValidateActorID rejects empty or whitespace-padded actor identifiers
func ValidateActorID(id string) error {
	if id == "" {
		return fmt.Errorf("actor id is required")
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("actor id has surrounding whitespace: %q", id)
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlCharsRex.ReplaceAllString(s, "")
}
