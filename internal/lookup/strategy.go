package lookup

import (
	"context"
	"errors"
	"log/slog"

	"librarylookup/internal/library"
	"librarylookup/internal/textnorm"
)

// StrategyName identifies a search strategy in telemetry and logs.
type StrategyName string

const (
	StrategyArtistPlusAlbum       StrategyName = "artist_plus_album"
	StrategySwappedInterpretation StrategyName = "swapped_interpretation"
	StrategyTrackOnCompilation    StrategyName = "track_on_compilation"
	StrategySongAsArtist          StrategyName = "song_as_artist"
)

// SearchState accumulates results and flags across strategy execution.
// Strategies read it in their conditions and mutate it in their executors.
type SearchState struct {
	Results            []library.Item
	SongNotFound       bool
	FoundOnCompilation bool
	StrategiesTried    []StrategyName

	// ExternalTitles maps library item id to the canonical Discogs release
	// title, used by artwork lookup when the catalog title diverges.
	ExternalTitles map[int]string

	// ResolvedAlbums holds album names discovered from track lookup.
	ResolvedAlbums []string

	CorrectedArtist string

	resultsFrom StrategyName
}

// NewSearchState creates a state seeded with resolved album names.
func NewSearchState(resolvedAlbums []string) *SearchState {
	return &SearchState{
		ExternalTitles: make(map[int]string),
		ResolvedAlbums: resolvedAlbums,
	}
}

// SetResults records non-empty results and which strategy produced them.
// Empty slices are ignored so a failed later strategy cannot clobber
// earlier results.
func (s *SearchState) SetResults(items []library.Item, from StrategyName) {
	if len(items) == 0 {
		return
	}
	s.Results = items
	s.resultsFrom = from
}

// Strategy is one declarative search approach. Condition is pure; Execute
// may perform I/O and mutates the state.
type Strategy struct {
	Name      StrategyName
	Condition func(req Request, state *SearchState) bool
	Execute   func(ctx context.Context, req Request, state *SearchState) error
}

// Strategy conditions. Kept as named functions so they can be tested
// without running the executors.

func hasArtistAlbumOrSong(req Request, state *SearchState) bool {
	return req.Artist != "" || req.Album != "" || req.Song != "" || len(state.ResolvedAlbums) > 0
}

func noResultsAndAmbiguousFormat(req Request, state *SearchState) bool {
	if len(state.Results) > 0 {
		return false
	}
	_, _, ok := textnorm.DetectAmbiguousFormat(req.RawMessage)
	return ok
}

func trackMayBeOnCompilation(req Request, state *SearchState) bool {
	return req.Artist != "" && req.Song != "" &&
		(len(state.Results) == 0 || state.SongNotFound)
}

func noResultsAndSongButNoArtist(req Request, state *SearchState) bool {
	return len(state.Results) == 0 && req.Song != "" && req.Artist == ""
}

// ExecutePipeline runs strategies in declaration order. A strategy whose
// condition holds is recorded and executed; the pipeline stops at the first
// strategy that produced results without the artist-only fallback. Results
// found via fallback keep the pipeline going so the compilation strategy can
// upgrade them. Executor errors are logged and treated as no results, except
// a missing catalog which aborts the whole lookup.
func ExecutePipeline(ctx context.Context, req Request, state *SearchState, strategies []Strategy) error {
	for _, strategy := range strategies {
		if !strategy.Condition(req, state) {
			continue
		}
		state.StrategiesTried = append(state.StrategiesTried, strategy.Name)

		if err := strategy.Execute(ctx, req, state); err != nil {
			if errors.Is(err, library.ErrStoreUnavailable) {
				return err
			}
			slog.Warn("Search strategy failed", "strategy", strategy.Name, "error", err)
			continue
		}

		if len(state.Results) > 0 && !state.SongNotFound {
			break
		}
	}
	return nil
}

// SearchTypeFromState derives the reported search type from the completed
// state.
func SearchTypeFromState(state *SearchState) SearchType {
	if len(state.Results) == 0 {
		return SearchTypeNone
	}
	if state.FoundOnCompilation {
		return SearchTypeCompilation
	}
	switch state.resultsFrom {
	case StrategyArtistPlusAlbum:
		return SearchTypeDirect
	case StrategySwappedInterpretation:
		return SearchTypeSwapped
	case StrategyTrackOnCompilation:
		return SearchTypeCompilation
	case StrategySongAsArtist:
		return SearchTypeSongAsArtist
	}
	return SearchTypeDirect
}
