package core

import "strings"

// CategoryOther is the catch-all category used for placeholders.
const CategoryOther = "Other"

// Categories is the fixed set offered by the UI. Free text is also accepted.
var Categories = []string{
	"Food",
	"Transportation",
	"Shopping",
	"Entertainment",
	"Bills",
	"Healthcare",
	"Education",
	"Travel",
	CategoryOther,
}

// NormalizeCategory trims s and maps a case-insensitive match of a known
// category to its canonical spelling. Unknown text is returned trimmed.
func NormalizeCategory(s string) string {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(c, s) {
			return c
		}
	}
	return s
}

// IsKnownCategory reports whether s is one of the fixed categories.
func IsKnownCategory(s string) bool {
	for _, c := range Categories {
		if c == s {
			return true
		}
	}
	return false
}
