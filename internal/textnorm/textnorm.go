// Package textnorm provides the text canonicalization and matching rules
// shared by the library store, the Discogs service, and the lookup pipeline.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSearchResults is the cap applied to results returned from search operations.
const MaxSearchResults = 5

// Stopwords are excluded when extracting significant keywords from queries.
var Stopwords = map[string]bool{
	"the":       true,
	"a":         true,
	"an":        true,
	"and":       true,
	"of":        true,
	"with":      true,
	"from":      true,
	"that":      true,
	"this":      true,
	"play":      true,
	"song":      true,
	"remix":     true,
	"story":     true,
	"records":   true,
	"feat":      true,
	"featuring": true,
}

// compilationKeywords mark an artist string as a compilation/soundtrack release.
var compilationKeywords = []string{"various", "soundtrack", "compilation", "v/a", "v.a."}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StripDiacritics removes combining marks while preserving base characters,
// e.g. "Björk" -> "Bjork", "Zoé" -> "Zoe".
func StripDiacritics(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize canonicalizes a string for comparison: diacritics stripped,
// lowercased, whitespace runs collapsed. Normalize is idempotent.
func Normalize(s string) string {
	s = StripDiacritics(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize splits a normalized string on whitespace and punctuation and drops
// stopwords and tokens shorter than two characters.
func Tokenize(s string) []string {
	normalized := Normalize(s)
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || Stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// IsCompilationArtist reports whether an artist name indicates a
// compilation or soundtrack release.
func IsCompilationArtist(artist string) bool {
	if artist == "" {
		return false
	}
	lower := strings.ToLower(artist)
	for _, kw := range compilationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DetectAmbiguousFormat splits a message of the form "X - Y" (or "X. Y") into
// its two sides. These formats are ambiguous because either side could be the
// artist. Returns ok=false when the message does not match, or when either
// side is empty or contains only stopwords.
func DetectAmbiguousFormat(raw string) (part1, part2 string, ok bool) {
	for _, sep := range []string{" - ", " – ", " — ", "- ", " -"} {
		if idx := strings.Index(raw, sep); idx > 0 {
			p1 := strings.TrimSpace(raw[:idx])
			p2 := strings.TrimSpace(raw[idx+len(sep):])
			if hasSignificantToken(p1) && hasSignificantToken(p2) {
				return p1, p2, true
			}
		}
	}

	if before, after, found := strings.Cut(raw, ". "); found {
		p1 := strings.TrimSpace(before)
		p2 := strings.TrimSpace(after)
		if hasSignificantToken(p1) && hasSignificantToken(p2) {
			return p1, p2, true
		}
	}

	return "", "", false
}

func hasSignificantToken(s string) bool {
	return len(Tokenize(s)) > 0
}

// Confidence scores how well a search result matches the requesting
// artist/album pair. Exact field matches score 0.4 each, substring matches
// 0.3, with a 0.2 bonus when both fields match well. Any result scores at
// least 0.2 so borderline matches stay visible downstream.
func Confidence(reqArtist, reqAlbum, resArtist, resAlbum string) float64 {
	score := 0.0

	ra := Normalize(reqArtist)
	rb := Normalize(reqAlbum)
	sa := Normalize(resArtist)
	sb := Normalize(resAlbum)

	if ra != "" && sa != "" {
		switch {
		case ra == sa:
			score += 0.4
		case strings.Contains(sa, ra) || strings.Contains(ra, sa):
			score += 0.3
		}
	}

	if rb != "" && sb != "" {
		switch {
		case rb == sb:
			score += 0.4
		case strings.Contains(sb, rb) || strings.Contains(rb, sb):
			score += 0.3
		}
	}

	if score >= 0.6 {
		score += 0.2
	}
	if score == 0 {
		score = 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
