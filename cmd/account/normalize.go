package account

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxUsernameLen bounds usernames in runes.
const MaxUsernameLen = 150

// NormalizeUsername performs case-insensitive canonicalization (trim + lower-case).
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidUsername reports whether a normalized username is acceptable for a new account.
// Letters, digits and . _ - @ + are allowed.
func ValidUsername(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > MaxUsernameLen {
		return false
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
		case r == '.', r == '_', r == '-', r == '@', r == '+':
		default:
			return false
		}
	}
	return true
}
