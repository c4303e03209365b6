// Package sanitize cleans values that arrive from the telephony provider and the admin API.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var nonDialable = regexp.MustCompile(`[^\d]`)

// PhoneNumber reduces a caller number to its digits, keeping a leading '+'.
// Values with no digits, such as "anonymous", come back empty.
func PhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	digits := nonDialable.ReplaceAllString(phone, "")
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		return "+" + digits
	}
	return digits
}

// Text removes control characters, keeping newlines and tabs, and trims surrounding space
func Text(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// ValidateStringLength checks the rune count of input is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(input)
	return n >= minLen && n <= maxLen
}
