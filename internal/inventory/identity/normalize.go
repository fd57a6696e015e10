// Package identity decides when two free-text item names mean the same
// physical item.
package identity

import (
	"strings"
	"unicode"
)

var dashes = strings.NewReplacer("–", "-", "—", "-", "−", "-")

// Normalize lower-cases name, unifies dash variants to "-" and collapses
// runs of whitespace to one space.
func Normalize(name string) string {
	s := strings.ToLower(dashes.Replace(name))
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalKey is Normalize with every rune outside the item name glyph set
// removed, so "HTC" and "H T C" share a key. Letters and combining marks of
// any script are kept; Thai vowel signs are marks.
func CanonicalKey(name string) string {
	s := Normalize(name)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keepRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keepRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case '-', '.', '%', '+', '/':
		return true
	}
	return false
}

// DisplayName is the whitespace-normalized form of name with case kept.
func DisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
