// Package textnorm holds the text normalisation shared by embedding and
// keyword scoring, so both sides agree on what a term is.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize collapses runs of whitespace to a single space, trims and lowercases s.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Truncate cuts s to at most n runes. n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Terms splits s into lowercase word tokens. Letters, digits and inner
// apostrophes form words; everything else separates them.
func Terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// UniqueTerms returns the distinct terms of s in first-seen order.
func UniqueTerms(s string) []string {
	terms := Terms(s)
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TermSet returns the set of terms in s.
func TermSet(s string) map[string]struct{} {
	terms := Terms(s)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}
