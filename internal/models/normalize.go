package models

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeISBN strips separators and upper-cases a trailing check character.
// Values that are not 10 or 13 characters long afterwards are treated as absent.
func NormalizeISBN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ':
		default:
			return ""
		}
	}
	isbn := b.String()
	switch len(isbn) {
	case 10:
		if strings.Contains(isbn[:9], "X") {
			return ""
		}
		return isbn
	case 13:
		if strings.Contains(isbn, "X") {
			return ""
		}
		return isbn
	default:
		return ""
	}
}

// NormalizeKey folds case and collapses whitespace so that titles and author
// names compare equal regardless of capitalization or spacing.
func NormalizeKey(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// NormalizeSet trims, drops empties and duplicates, and sorts.
func NormalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
