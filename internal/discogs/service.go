package discogs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"librarylookup/internal/cache"
	"librarylookup/internal/scoring"
	"librarylookup/internal/telemetry"
	"librarylookup/internal/textnorm"
)

// keywordSupplementThreshold triggers the free-text supplement phase when the
// strict track search returns fewer results than this.
const keywordSupplementThreshold = 3

// CacheSizes configures the in-memory tier of the service.
type CacheSizes struct {
	TrackItems   int
	TrackTTL     time.Duration
	ReleaseItems int
	ReleaseTTL   time.Duration
	SearchItems  int
	SearchTTL    time.Duration
	ImageItems   int
	ImageTTL     time.Duration
}

// DefaultCacheSizes matches the production cache tuning.
func DefaultCacheSizes() CacheSizes {
	return CacheSizes{
		TrackItems:   1000,
		TrackTTL:     time.Hour,
		ReleaseItems: 500,
		ReleaseTTL:   4 * time.Hour,
		SearchItems:  1000,
		SearchTTL:    time.Hour,
		ImageItems:   500,
		ImageTTL:     24 * time.Hour,
	}
}

// Service composes the three metadata tiers: per-process memory cache,
// shared PostgreSQL cache, then the rate-limited Discogs API. The
// PostgreSQL tier is optional; when absent or failing the service goes
// straight to the API.
type Service struct {
	client *Client
	pg     *PGCache

	trackCache   *cache.Memory
	releaseCache *cache.Memory
	searchCache  *cache.Memory
	artistCache  *cache.Memory
	labelCache   *cache.Memory
}

// NewService wires a service from its client and optional persistent cache.
func NewService(client *Client, pg *PGCache, sizes CacheSizes) *Service {
	return &Service{
		client:       client,
		pg:           pg,
		trackCache:   cache.NewMemory(sizes.TrackItems, sizes.TrackTTL),
		releaseCache: cache.NewMemory(sizes.ReleaseItems, sizes.ReleaseTTL),
		searchCache:  cache.NewMemory(sizes.SearchItems, sizes.SearchTTL),
		artistCache:  cache.NewMemory(sizes.ImageItems, sizes.ImageTTL),
		labelCache:   cache.NewMemory(sizes.ImageItems, sizes.ImageTTL),
	}
}

// CheckAPI reports Discogs API connectivity.
func (s *Service) CheckAPI(ctx context.Context) bool {
	return s.client.CheckAPI(ctx)
}

// HasCache reports whether a persistent cache tier is configured.
func (s *Service) HasCache() bool {
	return s.pg != nil
}

// CacheAvailable reports whether the persistent cache answers queries.
// False when no persistent cache is configured.
func (s *Service) CacheAvailable(ctx context.Context) bool {
	return s.pg != nil && s.pg.Available(ctx)
}

// searchAPIResult is one raw result from /database/search. Title comes back
// as "Artist - Album".
type searchAPIResult struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Thumb string `json:"thumb"`
}

type searchAPIResponse struct {
	Results []searchAPIResult `json:"results"`
}

// releaseAPIResponse is the raw shape of /releases/{id}.
type releaseAPIResponse struct {
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Artists []struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	} `json:"artists"`
	Labels []struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	} `json:"labels"`
	Genres    []string `json:"genres"`
	Styles    []string `json:"styles"`
	Tracklist []struct {
		Position string `json:"position"`
		Title    string `json:"title"`
		Duration string `json:"duration"`
		Artists  []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"tracklist"`
	Images []struct {
		URI string `json:"uri"`
	} `json:"images"`
}

type imageAPIResponse struct {
	Images []struct {
		URI string `json:"uri"`
	} `json:"images"`
}

// parseTitle splits the Discogs "Artist - Album" title format.
func parseTitle(title string) (artist, album string) {
	if before, after, found := strings.Cut(title, " - "); found {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	return "", title
}

// SearchReleasesByTrack finds releases containing a track, optionally filtered
// by artist. The strict track search is supplemented with a free-text search
// when it yields too few results.
func (s *Service) SearchReleasesByTrack(ctx context.Context, track, artist string, limit int) (*TrackReleases, error) {
	key := cache.Key("track_releases", track, artist, strconv.Itoa(limit))
	if v, ok := s.trackCache.Get(ctx, key); ok {
		return v.(*TrackReleases), nil
	}

	if refs, ok := s.trackReleasesFromPG(ctx, track, artist, limit); ok {
		resp := &TrackReleases{
			Track:    track,
			Artist:   artist,
			Releases: refs,
			Total:    len(refs),
			Cached:   true,
		}
		s.trackCache.Set(ctx, key, resp)
		return resp, nil
	}

	var refs []ReleaseRef
	seen := make(map[string]bool)

	params := map[string]string{
		"type":     "release",
		"track":    track,
		"per_page": strconv.Itoa(limit),
	}
	if artist != "" {
		params["artist"] = artist
	}

	slog.Info("Searching Discogs for releases with track", "track", track, "artist", artist)

	var result searchAPIResponse
	if err := s.client.get(ctx, "track_search", "/database/search", params, &result); err != nil {
		return nil, err
	}
	for _, raw := range result.Results {
		if ref, ok := toReleaseRef(raw, seen); ok {
			refs = append(refs, ref)
		}
	}

	if len(refs) < keywordSupplementThreshold {
		query := track
		if artist != "" {
			query += " " + artist
		}
		slog.Info("Supplementing with keyword search", "q", query)

		var supplement searchAPIResponse
		err := s.client.get(ctx, "track_search", "/database/search", map[string]string{
			"type":     "release",
			"q":        query,
			"per_page": strconv.Itoa(limit),
		}, &supplement)
		if err != nil {
			slog.Warn("Keyword supplement search failed", "error", err)
		} else {
			for _, raw := range supplement.Results {
				if ref, ok := toReleaseRef(raw, seen); ok {
					refs = append(refs, ref)
				}
			}
		}
	}

	if len(refs) > limit {
		refs = refs[:limit]
	}
	resp := &TrackReleases{
		Track:    track,
		Artist:   artist,
		Releases: refs,
		Total:    len(refs),
		Cached:   false,
	}
	s.trackCache.Set(ctx, key, resp)
	return resp, nil
}

func (s *Service) trackReleasesFromPG(ctx context.Context, track, artist string, limit int) ([]ReleaseRef, bool) {
	if s.pg == nil || telemetry.SkipCache(ctx) {
		return nil, false
	}

	start := time.Now()
	refs, err := s.pg.SearchReleasesByTrack(ctx, track, artist, limit)
	telemetry.RecordPgTime(ctx, time.Since(start))

	if err != nil {
		slog.Warn("Cache lookup failed, falling back to API", "error", err)
		return nil, false
	}
	if len(refs) == 0 {
		telemetry.RecordPgMiss(ctx)
		return nil, false
	}
	telemetry.RecordPgHit(ctx)
	slog.Info("Cache hit for track search", "track", track, "count", len(refs))
	return refs, true
}

func toReleaseRef(raw searchAPIResult, seen map[string]bool) (ReleaseRef, bool) {
	artist, album := parseTitle(raw.Title)
	if album == "" || raw.ID == 0 {
		return ReleaseRef{}, false
	}
	albumKey := strings.ToLower(album)
	if seen[albumKey] {
		return ReleaseRef{}, false
	}
	seen[albumKey] = true

	return ReleaseRef{
		Album:         album,
		Artist:        artist,
		ReleaseID:     raw.ID,
		ReleaseURL:    ReleaseURLFor(raw.ID),
		IsCompilation: textnorm.IsCompilationArtist(artist),
	}, true
}

// GetRelease fetches full release metadata, probing memory then the
// persistent cache, then the API. API results are written back to both
// cache tiers.
func (s *Service) GetRelease(ctx context.Context, releaseID int) (*Release, error) {
	key := cache.Key("release", strconv.Itoa(releaseID))
	if v, ok := s.releaseCache.Get(ctx, key); ok {
		return v.(*Release), nil
	}

	if s.pg != nil && !telemetry.SkipCache(ctx) {
		start := time.Now()
		release, err := s.pg.GetRelease(ctx, releaseID)
		telemetry.RecordPgTime(ctx, time.Since(start))

		switch {
		case err != nil:
			slog.Warn("Cache lookup failed, falling back to API", "error", err)
		case release != nil:
			telemetry.RecordPgHit(ctx)
			s.releaseCache.Set(ctx, key, release)
			return release, nil
		default:
			telemetry.RecordPgMiss(ctx)
		}
	}

	var raw releaseAPIResponse
	err := s.client.get(ctx, "get_release", fmt.Sprintf("/releases/%d", releaseID), nil, &raw)
	if err != nil {
		return nil, err
	}

	release := &Release{
		ReleaseID:  releaseID,
		Title:      raw.Title,
		Year:       raw.Year,
		Genres:     raw.Genres,
		Styles:     raw.Styles,
		ReleaseURL: ReleaseURLFor(releaseID),
	}
	if len(raw.Artists) > 0 {
		release.Artist = raw.Artists[0].Name
		release.ArtistID = raw.Artists[0].ID
	}
	if len(raw.Labels) > 0 {
		release.Label = raw.Labels[0].Name
		release.LabelID = raw.Labels[0].ID
	}
	if len(raw.Images) > 0 {
		release.ArtworkURL = raw.Images[0].URI
	}
	for _, t := range raw.Tracklist {
		track := Track{Position: t.Position, Title: t.Title, Duration: t.Duration}
		for _, a := range t.Artists {
			track.Artists = append(track.Artists, a.Name)
		}
		release.Tracklist = append(release.Tracklist, track)
	}

	if s.pg != nil && !telemetry.SkipCache(ctx) {
		if err := s.pg.WriteRelease(ctx, release); err != nil {
			slog.Warn("Failed to cache release", "release_id", releaseID, "error", err)
		}
	}
	s.releaseCache.Set(ctx, key, release)
	return release, nil
}

// Search is the general release search used for artwork discovery. Strict
// field-scoped parameters are tried first; an empty result falls back to a
// free-text query. Results are ranked by confidence.
func (s *Service) Search(ctx context.Context, req SearchRequest, limit int) (*SearchResponse, error) {
	params := buildSearchParams(req, limit)
	if params == nil {
		slog.Warn("No searchable fields in request")
		return &SearchResponse{}, nil
	}

	key := cache.Key("search", req.Artist, req.Album, req.Track, strconv.Itoa(limit))
	if v, ok := s.searchCache.Get(ctx, key); ok {
		return v.(*SearchResponse), nil
	}

	if resp, ok := s.searchFromPG(ctx, req, limit); ok {
		s.searchCache.Set(ctx, key, resp)
		return resp, nil
	}

	var raw searchAPIResponse
	if err := s.client.get(ctx, "search", "/database/search", params, &raw); err != nil {
		return nil, err
	}

	if len(raw.Results) == 0 && (req.Artist != "" || req.Album != "") {
		query := strings.TrimSpace(req.Artist + " " + req.Album)
		slog.Info("Strict search empty, trying fuzzy query", "q", query)

		err := s.client.get(ctx, "search", "/database/search", map[string]string{
			"type":     "release",
			"q":        query,
			"per_page": strconv.Itoa(limit),
		}, &raw)
		if err != nil {
			return nil, err
		}
	}

	results := make([]SearchResult, 0, len(raw.Results))
	for _, item := range raw.Results {
		artworkURL := item.Thumb
		if strings.Contains(artworkURL, "spacer.gif") {
			artworkURL = ""
		}
		artist, album := parseTitle(item.Title)

		results = append(results, SearchResult{
			Album:      album,
			Artist:     artist,
			ReleaseID:  item.ID,
			ReleaseURL: ReleaseURLFor(item.ID),
			ArtworkURL: artworkURL,
			Confidence: textnorm.Confidence(req.Artist, req.Album, artist, album),
		})
	}
	sortByConfidence(results)

	resp := &SearchResponse{Results: results, Total: len(results), Cached: false}
	s.searchCache.Set(ctx, key, resp)
	return resp, nil
}

func (s *Service) searchFromPG(ctx context.Context, req SearchRequest, limit int) (*SearchResponse, bool) {
	if s.pg == nil || telemetry.SkipCache(ctx) {
		return nil, false
	}

	album := req.Album
	if album == "" {
		album = req.Track
	}

	start := time.Now()
	releases, err := s.pg.SearchReleases(ctx, req.Artist, album, limit)
	telemetry.RecordPgTime(ctx, time.Since(start))

	if err != nil {
		slog.Warn("Cache search failed, falling back to API", "error", err)
		return nil, false
	}
	if len(releases) == 0 {
		telemetry.RecordPgMiss(ctx)
		return nil, false
	}
	telemetry.RecordPgHit(ctx)

	results := make([]SearchResult, 0, len(releases))
	for _, release := range releases {
		results = append(results, SearchResult{
			Album:      release.Title,
			Artist:     release.Artist,
			ReleaseID:  release.ReleaseID,
			ReleaseURL: ReleaseURLFor(release.ReleaseID),
			ArtworkURL: release.ArtworkURL,
			Confidence: textnorm.Confidence(req.Artist, req.Album, release.Artist, release.Title),
		})
	}
	sortByConfidence(results)
	return &SearchResponse{Results: results, Total: len(results), Cached: true}, true
}

func buildSearchParams(req SearchRequest, limit int) map[string]string {
	params := map[string]string{
		"type":     "release",
		"per_page": strconv.Itoa(limit),
	}
	if req.Artist != "" {
		params["artist"] = req.Artist
	}
	if req.Album != "" {
		params["release_title"] = req.Album
	} else if req.Track != "" {
		params["release_title"] = req.Track
	}
	if len(params) == 2 {
		return nil
	}
	return params
}

func sortByConfidence(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
}

// ValidateTrackOnRelease reports whether a track by an artist appears on a
// release. The persistent cache answers definitively when it holds the
// release; otherwise the release is fetched from the API.
func (s *Service) ValidateTrackOnRelease(ctx context.Context, releaseID int, track, artist string) bool {
	if s.pg != nil && !telemetry.SkipCache(ctx) {
		start := time.Now()
		verdict, err := s.pg.ValidateTrackOnRelease(ctx, releaseID, track, artist)
		telemetry.RecordPgTime(ctx, time.Since(start))

		switch {
		case err != nil:
			slog.Warn("Cache validation failed, falling back to API", "error", err)
		case verdict != nil:
			telemetry.RecordPgHit(ctx)
			return *verdict
		default:
			telemetry.RecordPgMiss(ctx)
		}
	}

	release, err := s.GetRelease(ctx, releaseID)
	if err != nil {
		slog.Warn("Failed to fetch release for validation", "release_id", releaseID, "error", err)
		return false
	}
	found := releaseHasTrack(release, track, artist)
	if found {
		slog.Info("Validated track on release", "track", track, "artist", artist, "release_id", releaseID)
	} else {
		slog.Info("Track not found on release", "track", track, "artist", artist, "release_id", releaseID)
	}
	return found
}

// releaseHasTrack checks a tracklist for a track by an artist. Titles match
// on containment or a fuzzy score at or above the track threshold, so minor
// misspellings still validate. Per-track artists take precedence on
// compilations; otherwise the release artist is checked. Discogs
// disambiguation suffixes like "(2)" are stripped.
func releaseHasTrack(release *Release, track, artist string) bool {
	wantTrack := textnorm.Normalize(track)
	artistLower := strings.ToLower(artist)

	for _, item := range release.Tracklist {
		if !titleMatches(wantTrack, textnorm.Normalize(item.Title)) {
			continue
		}

		if len(item.Artists) > 0 {
			for _, trackArtist := range item.Artists {
				candidate := stripNumbering(strings.ToLower(trackArtist))
				if strings.Contains(candidate, artistLower) || strings.Contains(artistLower, candidate) {
					return true
				}
			}
		} else {
			candidate := stripNumbering(strings.ToLower(release.Artist))
			if strings.Contains(candidate, artistLower) || strings.Contains(artistLower, candidate) {
				return true
			}
		}
	}
	return false
}

func titleMatches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	if strings.Contains(got, want) || strings.Contains(want, got) {
		return true
	}
	return scoring.TokenSetRatio(want, got) >= scoring.TrackMatchThreshold
}

func stripNumbering(artist string) string {
	if before, _, found := strings.Cut(artist, "("); found {
		return strings.TrimSpace(before)
	}
	return strings.TrimSpace(artist)
}

// GetArtistImage fetches the primary image for a Discogs artist, empty when
// unavailable.
func (s *Service) GetArtistImage(ctx context.Context, artistID int) string {
	key := cache.Key("artist_image", strconv.Itoa(artistID))
	if v, ok := s.artistCache.Get(ctx, key); ok {
		return v.(string)
	}

	var raw imageAPIResponse
	err := s.client.get(ctx, "get_artist_image", fmt.Sprintf("/artists/%d", artistID), nil, &raw)
	if err != nil {
		slog.Warn("Failed to fetch artist image", "artist_id", artistID, "error", err)
		return ""
	}
	if len(raw.Images) == 0 {
		return ""
	}
	uri := raw.Images[0].URI
	s.artistCache.Set(ctx, key, uri)
	return uri
}

// GetLabelImage fetches the primary image for a Discogs label, empty when
// unavailable.
func (s *Service) GetLabelImage(ctx context.Context, labelID int) string {
	key := cache.Key("label_image", strconv.Itoa(labelID))
	if v, ok := s.labelCache.Get(ctx, key); ok {
		return v.(string)
	}

	var raw imageAPIResponse
	err := s.client.get(ctx, "get_label_image", fmt.Sprintf("/labels/%d", labelID), nil, &raw)
	if err != nil {
		slog.Warn("Failed to fetch label image", "label_id", labelID, "error", err)
		return ""
	}
	if len(raw.Images) == 0 {
		return ""
	}
	uri := raw.Images[0].URI
	s.labelCache.Set(ctx, key, uri)
	return uri
}
