package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy rejections. Callers match them with errors.Is.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
)

// Validate checks the credential policy in runes, not bytes.
func (c Config) Validate(credential string) error {
	n := utf8.RuneCountInString(credential)

	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(credential):
		return ErrWeakPassword
	}
	return nil
}

var trivialCredentials = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {},
	"12345678": {}, "123456789": {}, "qwerty": {}, "qwerty123": {},
	"11111111": {}, "letmein": {}, "admin123": {},
}

// looksVeryWeak is a minimal screen, not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialCredentials[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	allSame, onlyDigits := true, true
	for _, r := range s {
		if r != first {
			allSame = false
		}
		if !unicode.IsDigit(r) {
			onlyDigits = false
		}
	}
	return allSame || (onlyDigits && utf8.RuneCountInString(s) < 12)
}
