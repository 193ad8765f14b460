// Package text holds rune-aware string helpers shared by the collaborator
// clients that send article text to external models.
package text

import "unicode/utf8"

// CountRunes returns the number of Unicode code points in s.
func CountRunes(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate returns the first limit runes of s. A limit <= 0 disables
// truncation. The result never splits a multi-byte character.
//
// Example:
//
//	Truncate("ニュース記事", 2) // "ニュ"
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
