package library

import "fmt"

// Item is a single release from the station's library catalog.
type Item struct {
	ID                int    `json:"id"`
	Artist            string `json:"artist,omitempty"`
	Title             string `json:"title,omitempty"`
	CallLetters       string `json:"call_letters,omitempty"`
	ArtistCallNumber  int    `json:"artist_call_number,omitempty"`
	ReleaseCallNumber int    `json:"release_call_number,omitempty"`
	Genre             string `json:"genre,omitempty"`
	Format            string `json:"format,omitempty"`
}

// CallNumber renders the full shelf call number:
// <Genre> <Format> <Letters> <ArtistNum>/<ReleaseNum>.
func (i Item) CallNumber() string {
	out := ""
	for _, part := range []string{i.Genre, i.Format, i.CallLetters} {
		if part == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += part
	}
	if i.ArtistCallNumber != 0 {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%d", i.ArtistCallNumber)
		if i.ReleaseCallNumber != 0 {
			out += fmt.Sprintf("/%d", i.ReleaseCallNumber)
		}
	}
	return out
}

// SearchOptions control the search cascade.
type SearchOptions struct {
	// FallbackToLike enables the token-AND substring level when full-text
	// search fails or returns nothing.
	FallbackToLike bool

	// FallbackToFuzzy enables the fuzzy scoring level when the substring
	// level also returns nothing.
	FallbackToFuzzy bool

	// Limit caps the number of results. Zero means DefaultLimit.
	Limit int

	// ArtistFilter, when set, keeps only items whose artist starts with
	// the given name after normalization.
	ArtistFilter string
}

// DefaultSearchOptions enables the full cascade.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{FallbackToLike: true, FallbackToFuzzy: true}
}
