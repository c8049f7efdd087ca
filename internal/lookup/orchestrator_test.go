package lookup

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarylookup/internal/discogs"
	"librarylookup/internal/library"
	"librarylookup/internal/telemetry"
	"librarylookup/internal/textnorm"
)

type mockLibrary struct {
	searchFn      func(ctx context.Context, query string, opts library.SearchOptions) ([]library.Item, error)
	findSimilarFn func(ctx context.Context, artist string) (string, error)
}

func (m *mockLibrary) Search(ctx context.Context, query string, opts library.SearchOptions) ([]library.Item, error) {
	if m.searchFn == nil {
		return nil, nil
	}
	return m.searchFn(ctx, query, opts)
}

func (m *mockLibrary) FindSimilarArtist(ctx context.Context, artist string) (string, error) {
	if m.findSimilarFn == nil {
		return "", nil
	}
	return m.findSimilarFn(ctx, artist)
}

type mockMetadata struct {
	trackReleasesFn func(ctx context.Context, track, artist string, limit int) (*discogs.TrackReleases, error)
	getReleaseFn    func(ctx context.Context, releaseID int) (*discogs.Release, error)
	searchFn        func(ctx context.Context, req discogs.SearchRequest, limit int) (*discogs.SearchResponse, error)
	validateFn      func(ctx context.Context, releaseID int, track, artist string) bool
	artistImageFn   func(ctx context.Context, artistID int) string
	labelImageFn    func(ctx context.Context, labelID int) string
}

func (m *mockMetadata) SearchReleasesByTrack(ctx context.Context, track, artist string, limit int) (*discogs.TrackReleases, error) {
	if m.trackReleasesFn == nil {
		return &discogs.TrackReleases{}, nil
	}
	return m.trackReleasesFn(ctx, track, artist, limit)
}

func (m *mockMetadata) GetRelease(ctx context.Context, releaseID int) (*discogs.Release, error) {
	if m.getReleaseFn == nil {
		return nil, nil
	}
	return m.getReleaseFn(ctx, releaseID)
}

func (m *mockMetadata) Search(ctx context.Context, req discogs.SearchRequest, limit int) (*discogs.SearchResponse, error) {
	if m.searchFn == nil {
		return &discogs.SearchResponse{}, nil
	}
	return m.searchFn(ctx, req, limit)
}

func (m *mockMetadata) ValidateTrackOnRelease(ctx context.Context, releaseID int, track, artist string) bool {
	if m.validateFn == nil {
		return false
	}
	return m.validateFn(ctx, releaseID, track, artist)
}

func (m *mockMetadata) GetArtistImage(ctx context.Context, artistID int) string {
	if m.artistImageFn == nil {
		return ""
	}
	return m.artistImageFn(ctx, artistID)
}

func (m *mockMetadata) GetLabelImage(ctx context.Context, labelID int) string {
	if m.labelImageFn == nil {
		return ""
	}
	return m.labelImageFn(ctx, labelID)
}

// catalogSearch emulates the store's token-AND level over a fixed catalog,
// including the artist filter.
func catalogSearch(items []library.Item) func(ctx context.Context, query string, opts library.SearchOptions) ([]library.Item, error) {
	return func(_ context.Context, query string, opts library.SearchOptions) ([]library.Item, error) {
		tokens := textnorm.Tokenize(query)
		if len(tokens) == 0 {
			return nil, nil
		}
		var out []library.Item
		for _, item := range items {
			haystack := textnorm.Normalize(item.Artist + " " + item.Title)
			matched := true
			for _, tok := range tokens {
				if !strings.Contains(haystack, tok) {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			if opts.ArtistFilter != "" &&
				!strings.HasPrefix(textnorm.Normalize(item.Artist), textnorm.Normalize(opts.ArtistFilter)) {
				continue
			}
			out = append(out, item)
		}
		return out, nil
	}
}

func TestOrchestrator_DirectWithResolvedAlbum(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 2, Artist: "Stereolab", Title: "Switched On", Format: "CD"},
		}),
	}
	meta := &mockMetadata{
		trackReleasesFn: func(_ context.Context, track, artist string, _ int) (*discogs.TrackReleases, error) {
			assert.Equal(t, "Percolator", track)
			assert.Equal(t, "Stereolab", artist)
			return &discogs.TrackReleases{Releases: []discogs.ReleaseRef{
				{Album: "Switched On", Artist: "Stereolab", ReleaseID: 11},
			}}, nil
		},
		validateFn: func(_ context.Context, releaseID int, _, _ string) bool {
			return releaseID == 11
		},
		searchFn: func(_ context.Context, req discogs.SearchRequest, _ int) (*discogs.SearchResponse, error) {
			return &discogs.SearchResponse{Results: []discogs.SearchResult{
				{Album: req.Album, Artist: req.Artist, ReleaseID: 11, ArtworkURL: "https://img.discogs.com/switched.jpg", Confidence: 1.0},
			}}, nil
		},
	}

	o := NewOrchestrator(lib, meta, 2)
	_, stats := telemetry.NewContext(context.Background(), false)
	resp, err := o.Perform(context.Background(), Request{Artist: "Stereolab", Song: "Percolator"}, stats)
	require.NoError(t, err)

	assert.Equal(t, SearchTypeDirect, resp.SearchType)
	assert.False(t, resp.SongNotFound)
	assert.Empty(t, resp.CorrectedArtist)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Switched On", resp.Results[0].LibraryItem.Title)
	require.NotNil(t, resp.Results[0].Artwork)
	assert.Equal(t, "https://img.discogs.com/switched.jpg", resp.Results[0].Artwork.ArtworkURL)

	names := make([]string, 0)
	for _, step := range stats.Steps() {
		names = append(names, step.Name)
	}
	assert.Equal(t, []string{"album_lookup", "library_search", "artwork_fetch"}, names)
}

func TestOrchestrator_CorrectsMisspelledArtist(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 3, Artist: "Lucinda Williams", Title: "Car Wheels on a Gravel Road"},
		}),
		findSimilarFn: func(_ context.Context, artist string) (string, error) {
			assert.Equal(t, "lucinda willias", artist)
			return "Lucinda Williams", nil
		},
	}

	o := NewOrchestrator(lib, nil, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "lucinda willias", Album: "Car Wheels on a Gravel Road"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Lucinda Williams", resp.CorrectedArtist)
	assert.Equal(t, SearchTypeDirect, resp.SearchType)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Car Wheels on a Gravel Road", resp.Results[0].LibraryItem.Title)
}

func TestOrchestrator_ArtistCorrectionErrorDegrades(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 3, Artist: "Lucinda Williams", Title: "Car Wheels on a Gravel Road"},
		}),
		findSimilarFn: func(context.Context, string) (string, error) {
			return "", context.DeadlineExceeded
		},
	}

	// A correction timeout degrades to the artist as given; the search
	// still runs.
	o := NewOrchestrator(lib, nil, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "Lucinda Williams", Album: "Car Wheels on a Gravel Road"}, nil)
	require.NoError(t, err)

	assert.Empty(t, resp.CorrectedArtist)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Car Wheels on a Gravel Road", resp.Results[0].LibraryItem.Title)
}

func TestOrchestrator_SwappedInterpretation(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 5, Artist: "Guerilla Toss", Title: "Famously Alive"},
		}),
	}

	// The user put the album in the artist slot and vice versa.
	req := Request{
		Artist:     "Famously Alive",
		Album:      "Guerilla Toss",
		RawMessage: "Famously Alive - Guerilla Toss",
	}

	o := NewOrchestrator(lib, nil, 2)
	resp, err := o.Perform(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, SearchTypeSwapped, resp.SearchType)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Guerilla Toss", resp.Results[0].LibraryItem.Artist)
	assert.Equal(t, "Famously Alive", resp.Results[0].LibraryItem.Title)
}

func TestOrchestrator_TrackOnCompilation(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 8, Artist: "Various", Title: "Soul Slabs Vol. 1", Format: "LP"},
		}),
	}
	meta := &mockMetadata{
		trackReleasesFn: func(_ context.Context, track, artist string, _ int) (*discogs.TrackReleases, error) {
			return &discogs.TrackReleases{Releases: []discogs.ReleaseRef{
				{Album: "Soul Slabs Vol. 1", Artist: "Various", ReleaseID: 100, IsCompilation: true},
			}}, nil
		},
		validateFn: func(_ context.Context, releaseID int, track, artist string) bool {
			return releaseID == 100 && track == "Brown Sugar"
		},
		searchFn: func(_ context.Context, req discogs.SearchRequest, _ int) (*discogs.SearchResponse, error) {
			// Compilation artwork is looked up as "Various".
			assert.Equal(t, "Various", req.Artist)
			return &discogs.SearchResponse{Results: []discogs.SearchResult{
				{Album: req.Album, Artist: "Various", ReleaseID: 100, ArtworkURL: "https://img.discogs.com/soulslabs.jpg"},
			}}, nil
		},
	}

	o := NewOrchestrator(lib, meta, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "The Harlem Gospel Travelers", Song: "Brown Sugar"}, nil)
	require.NoError(t, err)

	assert.Equal(t, SearchTypeCompilation, resp.SearchType)
	assert.True(t, resp.FoundOnCompilation)
	assert.False(t, resp.SongNotFound)
	assert.Equal(t, `Found "Brown Sugar" by The Harlem Gospel Travelers on:`, resp.ContextMessage)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Soul Slabs Vol. 1", resp.Results[0].LibraryItem.Title)
	require.NotNil(t, resp.Results[0].Artwork)
	assert.Equal(t, "https://img.discogs.com/soulslabs.jpg", resp.Results[0].Artwork.ArtworkURL)
}

func TestOrchestrator_SongAsArtist(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 6, Artist: "Deee-Lite", Title: "World Clique"},
		}),
	}

	o := NewOrchestrator(lib, nil, 2)
	resp, err := o.Perform(context.Background(), Request{Song: "Deee-Lite"}, nil)
	require.NoError(t, err)

	assert.Equal(t, SearchTypeSongAsArtist, resp.SearchType)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Deee-Lite", resp.Results[0].LibraryItem.Artist)
}

func TestOrchestrator_DiacriticsMatchDirectly(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 4, Artist: "Jørgen Plaetner", Title: "Intim Musik"},
		}),
		findSimilarFn: func(_ context.Context, artist string) (string, error) {
			return "Jørgen Plaetner", nil
		},
	}

	o := NewOrchestrator(lib, nil, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "Jorgen Plaetner", Album: "Intim Musik"}, nil)
	require.NoError(t, err)

	// The accent-only difference is not reported as a correction.
	assert.Empty(t, resp.CorrectedArtist)
	assert.Equal(t, SearchTypeDirect, resp.SearchType)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Jørgen Plaetner", resp.Results[0].LibraryItem.Artist)
}

func TestOrchestrator_TrackValidationUpgradesFallback(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 1, Artist: "Stereolab", Title: "Dots and Loops"},
		}),
	}
	meta := &mockMetadata{
		searchFn: func(_ context.Context, req discogs.SearchRequest, _ int) (*discogs.SearchResponse, error) {
			return &discogs.SearchResponse{Results: []discogs.SearchResult{
				{Album: req.Album, Artist: "Stereolab", ReleaseID: 9302161},
			}}, nil
		},
		validateFn: func(_ context.Context, releaseID int, track, artist string) bool {
			return releaseID == 9302161 && track == "Miss Modular" && artist == "Stereolab"
		},
	}

	o := NewOrchestrator(lib, meta, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "Stereolab", Song: "Miss Modular"}, nil)
	require.NoError(t, err)

	// The artist-only fallback result was confirmed to carry the song, so
	// song_not_found clears.
	assert.False(t, resp.SongNotFound)
	assert.Equal(t, SearchTypeDirect, resp.SearchType)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Dots and Loops", resp.Results[0].LibraryItem.Title)
	assert.Empty(t, resp.ContextMessage)
}

func TestOrchestrator_FallbackWithoutValidation(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 1, Artist: "Stereolab", Title: "Dots and Loops"},
		}),
	}

	// No metadata service: fallback results stay flagged.
	o := NewOrchestrator(lib, nil, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "Stereolab", Song: "Unreleased Demo"}, nil)
	require.NoError(t, err)

	assert.True(t, resp.SongNotFound)
	assert.Equal(t, SearchTypeDirect, resp.SearchType)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, `"Unreleased Demo" is not on any album in the library, but here are some albums by Stereolab:`,
		resp.ContextMessage)
}

func TestOrchestrator_NoResults(t *testing.T) {
	lib := &mockLibrary{searchFn: catalogSearch(nil)}

	o := NewOrchestrator(lib, nil, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "Aphex Twin", Song: "Windowlicker"}, nil)
	require.NoError(t, err)

	assert.Equal(t, SearchTypeNone, resp.SearchType)
	assert.True(t, resp.SongNotFound)
	assert.Empty(t, resp.Results)
	assert.Equal(t, `"Windowlicker" by Aphex Twin not found in library.`, resp.ContextMessage)
}

func TestOrchestrator_ArtworkFallbackImages(t *testing.T) {
	lib := &mockLibrary{
		searchFn: catalogSearch([]library.Item{
			{ID: 1, Artist: "Stereolab", Title: "Dots and Loops"},
		}),
	}
	meta := &mockMetadata{
		searchFn: func(_ context.Context, req discogs.SearchRequest, _ int) (*discogs.SearchResponse, error) {
			// No cover art on the best match.
			return &discogs.SearchResponse{Results: []discogs.SearchResult{
				{Album: req.Album, Artist: "Stereolab", ReleaseID: 55},
			}}, nil
		},
		getReleaseFn: func(_ context.Context, releaseID int) (*discogs.Release, error) {
			return &discogs.Release{ReleaseID: releaseID, ArtistID: 388}, nil
		},
		artistImageFn: func(_ context.Context, artistID int) string {
			assert.Equal(t, 388, artistID)
			return "https://img.discogs.com/artist.jpg"
		},
	}

	o := NewOrchestrator(lib, meta, 2)
	resp, err := o.Perform(context.Background(), Request{Artist: "Stereolab", Album: "Dots and Loops"}, nil)
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Artwork)
	assert.Equal(t, "https://img.discogs.com/artist.jpg", resp.Results[0].Artwork.ArtworkURL)
}

func TestOrchestrator_InvalidRequest(t *testing.T) {
	o := NewOrchestrator(&mockLibrary{}, nil, 2)
	_, err := o.Perform(context.Background(), Request{RawMessage: "play something good"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrchestrator_StoreUnavailable(t *testing.T) {
	lib := &mockLibrary{
		searchFn: func(context.Context, string, library.SearchOptions) ([]library.Item, error) {
			return nil, library.ErrStoreUnavailable
		},
		findSimilarFn: func(context.Context, string) (string, error) {
			return "", library.ErrStoreUnavailable
		},
	}

	o := NewOrchestrator(lib, nil, 2)
	_, err := o.Perform(context.Background(), Request{Artist: "Stereolab"}, nil)
	assert.ErrorIs(t, err, library.ErrStoreUnavailable)
}
