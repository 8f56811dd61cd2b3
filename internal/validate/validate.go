// Package validate checks user input locally so malformed values never
// reach the network layer.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validation errors returned before any remote call is attempted.
var (
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrPasswordTooShort  = errors.New("password must be at least 8 characters")
	ErrPasswordNoLetter  = errors.New("password must contain at least one letter")
	ErrPasswordNoNumber  = errors.New("password must contain at least one number")
	ErrPasswordsMismatch = errors.New("passwords do not match")
)

const minPasswordLen = 8

// Email reports whether s looks like an email address.
func Email(s string) error {
	if !emailRe.MatchString(s) {
		return ErrInvalidEmail
	}
	return nil
}

// Password enforces the minimum credential policy: length, one letter,
// one digit.
func Password(s string) error {
	if len(s) < minPasswordLen {
		return ErrPasswordTooShort
	}
	hasLetter, hasDigit := false, false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasLetter {
		return ErrPasswordNoLetter
	}
	if !hasDigit {
		return ErrPasswordNoNumber
	}
	return nil
}

// PasswordMatch compares a password with its confirmation.
func PasswordMatch(password, confirm string) error {
	if password != confirm {
		return ErrPasswordsMismatch
	}
	return nil
}

// Sanitize trims whitespace and strips angle brackets from free-text input.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}
