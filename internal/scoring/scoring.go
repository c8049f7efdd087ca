// Package scoring provides the fuzzy string similarity scores used for
// artist correction, library fallback search, and tracklist validation.
package scoring

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"librarylookup/internal/textnorm"
)

// Thresholds used by callers.
const (
	ArtistCorrectionThreshold = 85
	FuzzySearchThreshold      = 70
	TrackMatchThreshold       = 80
)

// Ratio returns the plain edit-distance similarity of two strings in [0,100]
// after normalization.
func Ratio(a, b string) int {
	na := textnorm.Normalize(a)
	nb := textnorm.Normalize(b)
	if na == "" && nb == "" {
		return 100
	}
	lev := metrics.NewLevenshtein()
	return int(strutil.Similarity(na, nb, lev) * 100)
}

// TokenSetRatio returns a similarity score in [0,100] that is invariant to
// token order and duplicates. Both inputs are normalized and tokenized; the
// score is the best edit-distance similarity among the sorted intersection
// and the intersection joined with each side's remainder.
func TokenSetRatio(a, b string) int {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 100
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for tok := range setA {
		if setB[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(common, " ")
	combinedA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	lev := metrics.NewLevenshtein()
	best := strutil.Similarity(combinedA, combinedB, lev)
	if base != "" {
		if s := strutil.Similarity(base, combinedA, lev); s > best {
			best = s
		}
		if s := strutil.Similarity(base, combinedB, lev); s > best {
			best = s
		}
	}

	return int(best * 100)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range textnorm.Tokenize(s) {
		set[tok] = true
	}
	return set
}
