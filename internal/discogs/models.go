// Package discogs talks to the Discogs release API through a three-tier
// cache: per-request memory, shared PostgreSQL, then rate-limited HTTP.
package discogs

import "fmt"

// Track is a single track on a release.
type Track struct {
	Position string   `json:"position"`
	Title    string   `json:"title"`
	Duration string   `json:"duration,omitempty"`
	Artists  []string `json:"artists,omitempty"` // per-track artists, set on compilations
}

// ReleaseRef summarizes one release containing a searched track.
type ReleaseRef struct {
	Album         string `json:"album"`
	Artist        string `json:"artist"`
	ReleaseID     int    `json:"release_id"`
	ReleaseURL    string `json:"release_url"`
	IsCompilation bool   `json:"is_compilation"`
}

// Release is full release metadata.
type Release struct {
	ReleaseID  int      `json:"release_id"`
	Title      string   `json:"title"`
	Artist     string   `json:"artist"`
	Year       int      `json:"year,omitempty"`
	Label      string   `json:"label,omitempty"`
	ArtistID   int      `json:"artist_id,omitempty"`
	LabelID    int      `json:"label_id,omitempty"`
	Genres     []string `json:"genres,omitempty"`
	Styles     []string `json:"styles,omitempty"`
	Tracklist  []Track  `json:"tracklist,omitempty"`
	ArtworkURL string   `json:"artwork_url,omitempty"`
	ReleaseURL string   `json:"release_url"`
	Cached     bool     `json:"cached"`
}

// TrackReleases is the result of a track-to-release search.
type TrackReleases struct {
	Track    string       `json:"track"`
	Artist   string       `json:"artist,omitempty"`
	Releases []ReleaseRef `json:"releases"`
	Total    int          `json:"total"`
	Cached   bool         `json:"cached"`
}

// SearchRequest carries the fields for a general release search.
type SearchRequest struct {
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Track  string `json:"track,omitempty"`
}

// SearchResult is a single ranked result from a general search. Confidence
// reflects how well artist and title match the request, in [0.2, 1.0].
type SearchResult struct {
	Album      string  `json:"album,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	ReleaseID  int     `json:"release_id"`
	ReleaseURL string  `json:"release_url"`
	ArtworkURL string  `json:"artwork_url,omitempty"`
	Confidence float64 `json:"confidence"`
}

// SearchResponse is the ranked result set of a general search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Cached  bool           `json:"cached"`
}

// ReleaseURLFor builds the public page URL for a release id.
func ReleaseURLFor(releaseID int) string {
	return fmt.Sprintf("https://www.discogs.com/release/%d", releaseID)
}
