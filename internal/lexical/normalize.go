// Package lexical turns free text into the normalized word sequence shared by
// the TF-IDF index and its queries.
package lexical

import (
	"strings"
	"unicode"

	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultLang is used when the caller does not name a language.
const DefaultLang = "en"

var tokenizer = bleveunicode.NewUnicodeTokenizer()

// Normalize splits text into word-like segments (UAX #29), strips
// punctuation from each, trims it and lower-cases it with the casing rules
// of lang. Segments that end up empty are dropped.
func Normalize(text, lang string) []string {
	if text == "" {
		return nil
	}
	lower := Lowerer(lang)

	stream := tokenizer.Tokenize([]byte(text))
	words := make([]string, 0, len(stream))
	for _, tok := range stream {
		w := strings.TrimSpace(stripPunctuation(string(tok.Term)))
		if w == "" {
			continue
		}
		words = append(words, lower(w))
	}
	return words
}

// Lowerer returns a lower-casing function for lang. An unparseable tag
// falls back to language-neutral rules. The returned function must not be
// shared between goroutines.
func Lowerer(lang string) func(string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}
	caser := cases.Lower(tag)
	// cases.Caser is stateful; String resets it on every call.
	return caser.String
}

func stripPunctuation(s string) string {
	if strings.IndexFunc(s, isPunct) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isPunct(r) {
			return -1
		}
		return r
	}, s)
}

// isPunct covers Unicode punctuation plus the ASCII and fullwidth symbols
// that are treated as separators rather than word content.
func isPunct(r rune) bool {
	switch r {
	case '$', '￥', '^', '+', '=', '`', '~', '<', '>', '|':
		return true
	}
	return unicode.IsPunct(r) || r == '\u3000'
}
