// Package lookup resolves music requests against the station library,
// correcting spelling, interpreting ambiguous phrasing, and cross-referencing
// Discogs release data.
package lookup

import (
	"context"
	"errors"
	"strings"

	"librarylookup/internal/discogs"
	"librarylookup/internal/library"
	"librarylookup/internal/telemetry"
)

// ErrInvalidInput is returned when a request carries no searchable fields.
var ErrInvalidInput = errors.New("request needs at least one of artist, song, or album")

// Request is the body of a lookup call. At least one of Artist, Song, or
// Album must be set.
type Request struct {
	Artist     string `json:"artist,omitempty"`
	Song       string `json:"song,omitempty"`
	Album      string `json:"album,omitempty"`
	RawMessage string `json:"raw_message,omitempty"`
	SkipCache  bool   `json:"skip_cache,omitempty"`
}

// Validate checks that the request has something to search for.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Artist) == "" &&
		strings.TrimSpace(r.Song) == "" &&
		strings.TrimSpace(r.Album) == "" {
		return ErrInvalidInput
	}
	return nil
}

// ResultItem pairs a library item with its artwork, when found.
type ResultItem struct {
	LibraryItem library.Item          `json:"library_item"`
	Artwork     *discogs.SearchResult `json:"artwork,omitempty"`
}

// Response is the outcome of a lookup.
type Response struct {
	Results            []ResultItem        `json:"results"`
	SearchType         SearchType          `json:"search_type"`
	SongNotFound       bool                `json:"song_not_found"`
	FoundOnCompilation bool                `json:"found_on_compilation"`
	ContextMessage     string              `json:"context_message,omitempty"`
	CorrectedArtist    string              `json:"corrected_artist,omitempty"`
	CacheStats         *telemetry.Snapshot `json:"cache_stats,omitempty"`
	Steps              []telemetry.Step    `json:"steps,omitempty"`
}

// SearchType describes which interpretation of the request produced results.
type SearchType string

const (
	SearchTypeDirect       SearchType = "direct"
	SearchTypeSwapped      SearchType = "swapped"
	SearchTypeCompilation  SearchType = "compilation"
	SearchTypeSongAsArtist SearchType = "song_as_artist"
	SearchTypeNone         SearchType = "none"
)

// Library is the catalog surface the orchestrator needs.
type Library interface {
	Search(ctx context.Context, query string, opts library.SearchOptions) ([]library.Item, error)
	FindSimilarArtist(ctx context.Context, artist string) (string, error)
}

// Metadata is the Discogs surface the orchestrator needs. A nil Metadata is
// tolerated everywhere: external enrichment is skipped.
type Metadata interface {
	SearchReleasesByTrack(ctx context.Context, track, artist string, limit int) (*discogs.TrackReleases, error)
	GetRelease(ctx context.Context, releaseID int) (*discogs.Release, error)
	Search(ctx context.Context, req discogs.SearchRequest, limit int) (*discogs.SearchResponse, error)
	ValidateTrackOnRelease(ctx context.Context, releaseID int, track, artist string) bool
	GetArtistImage(ctx context.Context, artistID int) string
	GetLabelImage(ctx context.Context, labelID int) string
}
