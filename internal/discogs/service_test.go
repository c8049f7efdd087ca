package discogs

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarylookup/internal/telemetry"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	client, _ := newTestClient(t, handler, 0)
	return NewService(client, nil, DefaultCacheSizes())
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func TestService_SearchReleasesByTrack(t *testing.T) {
	var strictCalls, keywordCalls int
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/database/search", r.URL.Path)
		q := r.URL.Query()
		if q.Get("q") != "" {
			keywordCalls++
			writeJSON(w, `{"results": []}`)
			return
		}
		strictCalls++
		assert.Equal(t, "release", q.Get("type"))
		assert.Equal(t, "Percolator", q.Get("track"))
		assert.Equal(t, "Stereolab", q.Get("artist"))
		writeJSON(w, `{"results": [
			{"id": 1, "title": "Stereolab - Transient Random-Noise Bursts"},
			{"id": 2, "title": "Stereolab - Switched On Volume 2"},
			{"id": 3, "title": "Stereolab - TRANSIENT RANDOM-NOISE BURSTS"},
			{"id": 4, "title": "Various - Too Pure Sampler"}
		]}`)
	})

	resp, err := service.SearchReleasesByTrack(context.Background(), "Percolator", "Stereolab", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, strictCalls)
	assert.Equal(t, 0, keywordCalls, "three deduped results should skip the keyword supplement")

	// Case-insensitive album dedupe drops the third result.
	require.Len(t, resp.Releases, 3)
	assert.Equal(t, "Transient Random-Noise Bursts", resp.Releases[0].Album)
	assert.Equal(t, "Stereolab", resp.Releases[0].Artist)
	assert.Equal(t, 1, resp.Releases[0].ReleaseID)
	assert.Equal(t, "https://www.discogs.com/release/1", resp.Releases[0].ReleaseURL)
	assert.False(t, resp.Releases[0].IsCompilation)
	assert.True(t, resp.Releases[2].IsCompilation)
	assert.False(t, resp.Cached)
}

func TestService_SearchReleasesByTrack_KeywordSupplement(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "" {
			assert.Equal(t, "Groove Is in the Heart Deee-Lite", q.Get("q"))
			writeJSON(w, `{"results": [
				{"id": 20, "title": "Deee-Lite - World Clique"},
				{"id": 21, "title": "Various - Club Classics"}
			]}`)
			return
		}
		writeJSON(w, `{"results": [{"id": 20, "title": "Deee-Lite - World Clique"}]}`)
	})

	resp, err := service.SearchReleasesByTrack(context.Background(), "Groove Is in the Heart", "Deee-Lite", 10)
	require.NoError(t, err)

	// The strict hit plus the one new supplement result; the duplicate
	// album from the supplement is dropped.
	require.Len(t, resp.Releases, 2)
	assert.Equal(t, "World Clique", resp.Releases[0].Album)
	assert.Equal(t, "Club Classics", resp.Releases[1].Album)
}

func TestService_SearchReleasesByTrack_MemoryCache(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"results": [
			{"id": 1, "title": "Stereolab - Dots And Loops"},
			{"id": 2, "title": "Stereolab - Sound-Dust"},
			{"id": 3, "title": "Stereolab - Cobra And Phases"}
		]}`)
	})

	ctx, stats := telemetry.NewContext(context.Background(), false)
	first, err := service.SearchReleasesByTrack(ctx, "Rainbo Conversation", "Stereolab", 10)
	require.NoError(t, err)
	apiCalls := stats.Snapshot().APICalls

	second, err := service.SearchReleasesByTrack(ctx, "rainbo  conversation", "STEREOLAB", 10)
	require.NoError(t, err)
	assert.Equal(t, apiCalls, stats.Snapshot().APICalls, "second lookup should come from memory")
	assert.Equal(t, 1, stats.Snapshot().MemoryHits)
	assert.Equal(t, first, second)
}

func TestService_GetRelease(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/releases/9302161", r.URL.Path)
		writeJSON(w, `{
			"title": "Dots And Loops",
			"year": 1997,
			"artists": [{"name": "Stereolab", "id": 388}],
			"labels": [{"name": "Duophonic UHF Disks", "id": 1866}],
			"genres": ["Electronic", "Rock"],
			"styles": ["Post Rock"],
			"tracklist": [
				{"position": "1", "title": "Brakhage", "duration": "4:32"},
				{"position": "2", "title": "Miss Modular", "artists": [{"name": "Stereolab"}]}
			],
			"images": [{"uri": "https://img.discogs.com/dots.jpg"}]
		}`)
	})

	ctx, stats := telemetry.NewContext(context.Background(), false)
	release, err := service.GetRelease(ctx, 9302161)
	require.NoError(t, err)

	assert.Equal(t, 9302161, release.ReleaseID)
	assert.Equal(t, "Dots And Loops", release.Title)
	assert.Equal(t, "Stereolab", release.Artist)
	assert.Equal(t, 388, release.ArtistID)
	assert.Equal(t, "Duophonic UHF Disks", release.Label)
	assert.Equal(t, 1866, release.LabelID)
	assert.Equal(t, 1997, release.Year)
	assert.Equal(t, "https://img.discogs.com/dots.jpg", release.ArtworkURL)
	assert.Equal(t, "https://www.discogs.com/release/9302161", release.ReleaseURL)
	require.Len(t, release.Tracklist, 2)
	assert.Equal(t, "Brakhage", release.Tracklist[0].Title)
	assert.Equal(t, []string{"Stereolab"}, release.Tracklist[1].Artists)

	// Second fetch is served from memory.
	_, err = service.GetRelease(ctx, 9302161)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Snapshot().APICalls)
	assert.Equal(t, 1, stats.Snapshot().MemoryHits)
}

func TestService_Search_RanksByConfidence(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "Stereolab", q.Get("artist"))
		assert.Equal(t, "Dots and Loops", q.Get("release_title"))
		writeJSON(w, `{"results": [
			{"id": 2, "title": "Various - A Tribute Compilation", "thumb": "https://img.discogs.com/spacer.gif"},
			{"id": 1, "title": "Stereolab - Dots And Loops", "thumb": "https://img.discogs.com/dots-thumb.jpg"}
		]}`)
	})

	resp, err := service.Search(context.Background(), SearchRequest{Artist: "Stereolab", Album: "Dots and Loops"}, 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// The exact match outranks the unrelated compilation.
	assert.Equal(t, 1, resp.Results[0].ReleaseID)
	assert.InDelta(t, 1.0, resp.Results[0].Confidence, 0.001)
	assert.Equal(t, "https://img.discogs.com/dots-thumb.jpg", resp.Results[0].ArtworkURL)

	// Placeholder thumbs are dropped.
	assert.Empty(t, resp.Results[1].ArtworkURL)
	assert.InDelta(t, 0.2, resp.Results[1].Confidence, 0.001)
}

func TestService_Search_FreeTextFallback(t *testing.T) {
	var strictCalls, freeTextCalls int
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "" {
			freeTextCalls++
			assert.Equal(t, "Guerilla Toss Famously Alive", q.Get("q"))
			writeJSON(w, `{"results": [{"id": 30, "title": "Guerilla Toss - Famously Alive"}]}`)
			return
		}
		strictCalls++
		writeJSON(w, `{"results": []}`)
	})

	resp, err := service.Search(context.Background(), SearchRequest{Artist: "Guerilla Toss", Album: "Famously Alive"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, strictCalls)
	assert.Equal(t, 1, freeTextCalls)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 30, resp.Results[0].ReleaseID)
}

func TestService_Search_NoSearchableFields(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected for an empty request")
	})

	resp, err := service.Search(context.Background(), SearchRequest{}, 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestService_Search_TrackAsTitleFallback(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "Percolator", q.Get("release_title"))
		writeJSON(w, `{"results": [{"id": 40, "title": "Stereolab - Percolator"}]}`)
	})

	// With no album, the track fills the release_title parameter.
	resp, err := service.Search(context.Background(), SearchRequest{Artist: "Stereolab", Track: "Percolator"}, 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestService_ValidateTrackOnRelease(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{
			"title": "Soul Slabs Vol. 1",
			"artists": [{"name": "Various"}],
			"tracklist": [
				{"position": "A1", "title": "Brown Sugar", "artists": [{"name": "The Harlem Gospel Travelers (2)"}]},
				{"position": "A2", "title": "Polly Maybe", "artists": [{"name": "Ghost Funk Orchestra"}]}
			]
		}`)
	})

	ctx := context.Background()

	// Per-track artist wins on compilations; the "(2)" suffix is ignored.
	assert.True(t, service.ValidateTrackOnRelease(ctx, 100, "Brown Sugar", "The Harlem Gospel Travelers"))

	// Right track, wrong artist.
	assert.False(t, service.ValidateTrackOnRelease(ctx, 100, "Brown Sugar", "Stereolab"))

	// Track not on the release at all.
	assert.False(t, service.ValidateTrackOnRelease(ctx, 100, "Percolator", "Stereolab"))
}

func TestService_ValidateTrackOnRelease_ReleaseArtist(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{
			"title": "Dots And Loops",
			"artists": [{"name": "Stereolab"}],
			"tracklist": [
				{"position": "1", "title": "Brakhage"},
				{"position": "2", "title": "Miss Modular"}
			]
		}`)
	})

	ctx := context.Background()
	assert.True(t, service.ValidateTrackOnRelease(ctx, 200, "Miss Modular", "Stereolab"))

	// Partial title works in both directions.
	assert.True(t, service.ValidateTrackOnRelease(ctx, 200, "Miss Modular (Album Version)", "Stereolab"))
	assert.False(t, service.ValidateTrackOnRelease(ctx, 200, "Miss Modular", "Broadcast"))

	// Misspelled title clears the fuzzy threshold.
	assert.True(t, service.ValidateTrackOnRelease(ctx, 200, "Mis Modular", "Stereolab"))
}

func TestService_Images(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/artists/388":
			writeJSON(w, `{"images": [{"uri": "https://img.discogs.com/artist.jpg"}]}`)
		case "/labels/1866":
			writeJSON(w, `{"images": []}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	assert.Equal(t, "https://img.discogs.com/artist.jpg", service.GetArtistImage(ctx, 388))
	assert.Empty(t, service.GetLabelImage(ctx, 1866))
	// Upstream errors degrade to an empty image, never an error.
	assert.Empty(t, service.GetArtistImage(ctx, 999))
}

func TestService_HasCache(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{}`)
	})
	assert.False(t, service.HasCache())
	assert.False(t, service.CacheAvailable(context.Background()))
}

func TestParseTitle(t *testing.T) {
	artist, album := parseTitle("Stereolab - Dots And Loops")
	assert.Equal(t, "Stereolab", artist)
	assert.Equal(t, "Dots And Loops", album)

	// No separator means the whole title is the album.
	artist, album = parseTitle("Dots And Loops")
	assert.Empty(t, artist)
	assert.Equal(t, "Dots And Loops", album)
}

func TestReleaseURLFor(t *testing.T) {
	assert.Equal(t, "https://www.discogs.com/release/42", ReleaseURLFor(42))
}
