// Package tokenizer turns raw HTML document text into the set of normalised
// terms stored in the index. The same function normalises query strings, so a
// query term always matches the form it was indexed under.
//
// Markup is removed by dropping everything between '<' and '>'. No separator
// is inserted in its place, so words on either side of a tag are joined:
// "end</p><p>start" yields the single term "endstart". An unterminated '<'
// drops the rest of the input.
//
// Text is expected to be UTF-8, but bytes that do not form valid UTF-8 (for
// example Latin-1 accented letters) are kept unchanged and each counts as one
// character. They are never treated as punctuation.
package tokenizer

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinTermLength is the shortest term, in characters, kept after punctuation
// has been stripped.
const MinTermLength = 3

// Set is a set of normalised terms.
type Set map[string]struct{}

// Has reports whether term is in the set.
func (s Set) Has(term string) bool {
	_, ok := s[term]
	return ok
}

// Sorted returns the terms in ascending order.
func (s Set) Sorted() []string {
	terms := make([]string, 0, len(s))
	for term := range s {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// Tokenize strips markup from text and returns its distinct terms, each
// lowercased, without punctuation, and at least MinTermLength long.
func Tokenize(text string) Set {
	terms := make(Set)
	for _, field := range strings.Fields(stripTags(text)) {
		term := Normalize(field)
		if term != "" {
			terms[term] = struct{}{}
		}
	}
	return terms
}

// Normalize lowercases a single whitespace-free word and removes punctuation.
// It returns "" when the result is shorter than MinTermLength.
func Normalize(word string) string {
	var b strings.Builder
	b.Grow(len(word))
	chars := 0
	for i := 0; i < len(word); {
		r, size := utf8.DecodeRuneInString(word[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte(word[i])
			chars++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
		default:
			b.WriteRune(unicode.ToLower(r))
			chars++
		}
		i += size
	}
	if chars < MinTermLength {
		return ""
	}
	return b.String()
}

func stripTags(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inTag := false
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c == '<':
			inTag = true
		case c == '>':
			inTag = false
		case !inTag:
			b.WriteByte(c)
		}
	}
	return b.String()
}
