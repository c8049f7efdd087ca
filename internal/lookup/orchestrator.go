package lookup

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"librarylookup/internal/discogs"
	"librarylookup/internal/library"
	"librarylookup/internal/scoring"
	"librarylookup/internal/telemetry"
	"librarylookup/internal/textnorm"
)

// trackReleaseLimit bounds how many releases are considered when resolving
// albums or compilations for a track.
const trackReleaseLimit = 10

// versionSuffix matches parenthesized remix/version qualifiers in the raw
// message, e.g. "(Extended Remix)".
var versionSuffix = regexp.MustCompile(`(?i)\((.*?(?:remix|mix|version|edit).*?)\)`)

// Orchestrator coordinates the full lookup pipeline: artist correction,
// album resolution, the strategy pipeline, track validation, and artwork.
type Orchestrator struct {
	library     Library
	metadata    Metadata
	maxParallel int
}

// NewOrchestrator wires an orchestrator. metadata may be nil when no Discogs
// token is configured; external enrichment is then skipped.
func NewOrchestrator(lib Library, metadata Metadata, maxParallel int) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = 5
	}
	return &Orchestrator{library: lib, metadata: metadata, maxParallel: maxParallel}
}

// Perform runs the six-step lookup pipeline. stats, when non-nil, receives
// per-step timings; cache counters accumulate on the Stats already attached
// to ctx.
func (o *Orchestrator) Perform(ctx context.Context, req Request, stats *telemetry.Stats) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	trackStep := func(name string, fn func() error) error {
		if stats != nil {
			return stats.TrackStep(name, fn)
		}
		return fn()
	}

	// Step 1: correct artist spelling against the catalog. Only a missing
	// store aborts; anything else degrades to the artist as given.
	var correctedArtist string
	if req.Artist != "" {
		corrected, err := o.library.FindSimilarArtist(ctx, req.Artist)
		switch {
		case errors.Is(err, library.ErrStoreUnavailable):
			return nil, err
		case err != nil:
			slog.Warn("Artist correction failed, using artist as given",
				"artist", req.Artist, "error", err)
		case corrected != "" && textnorm.Normalize(corrected) != textnorm.Normalize(req.Artist):
			correctedArtist = corrected
			req.Artist = corrected
		}
	}

	// Step 2: resolve album names from track lookup.
	var (
		resolvedAlbums []string
		songNotFound   bool
	)
	_ = trackStep("album_lookup", func() error {
		resolvedAlbums, songNotFound = o.resolveAlbumsForTrack(ctx, req)
		return nil
	})

	// Step 3: strategy pipeline.
	state := NewSearchState(resolvedAlbums)
	state.SongNotFound = songNotFound
	state.CorrectedArtist = correctedArtist

	err := trackStep("library_search", func() error {
		return ExecutePipeline(ctx, req, state, o.strategies())
	})
	if err != nil {
		return nil, err
	}

	results := limitResults(state.Results)
	songNotFound = state.SongNotFound

	// Step 4: validate fallback results against release tracklists.
	if songNotFound && len(results) > 0 && req.Song != "" && req.Artist != "" && o.metadata != nil {
		_ = trackStep("track_validation", func() error {
			if validated := o.validateTracks(ctx, results, req.Song, req.Artist); len(validated) > 0 {
				results = validated
				songNotFound = false
			}
			return nil
		})
	}

	// Step 5: artwork fetch.
	var items []ResultItem
	_ = trackStep("artwork_fetch", func() error {
		items = o.fetchArtwork(ctx, results, state.ExternalTitles)
		return nil
	})

	// Step 6: context message.
	resp := &Response{
		Results:            items,
		SearchType:         SearchTypeFromState(state),
		SongNotFound:       songNotFound,
		FoundOnCompilation: state.FoundOnCompilation,
		ContextMessage:     buildContextMessage(req, state.FoundOnCompilation, songNotFound, len(results) > 0),
		CorrectedArtist:    correctedArtist,
	}
	if len(results) == 0 {
		resp.SearchType = SearchTypeNone
	}
	return resp, nil
}

// strategies declares the pipeline in execution order.
func (o *Orchestrator) strategies() []Strategy {
	return []Strategy{
		{
			Name:      StrategyArtistPlusAlbum,
			Condition: hasArtistAlbumOrSong,
			Execute: func(ctx context.Context, req Request, state *SearchState) error {
				albums := state.ResolvedAlbums
				if len(albums) == 0 && req.Album != "" {
					albums = []string{req.Album}
				}
				results, fallbackUsed, err := o.searchLibraryWithFallback(ctx, req, albums)
				if err != nil {
					return err
				}
				state.SetResults(results, StrategyArtistPlusAlbum)
				if fallbackUsed {
					state.SongNotFound = true
				}
				return nil
			},
		},
		{
			Name:      StrategySwappedInterpretation,
			Condition: noResultsAndAmbiguousFormat,
			Execute: func(ctx context.Context, req Request, state *SearchState) error {
				part1, part2, ok := textnorm.DetectAmbiguousFormat(req.RawMessage)
				if !ok {
					return nil
				}
				results, err := o.searchSwapped(ctx, part1, part2)
				if err != nil {
					return err
				}
				if len(results) > 0 {
					state.SetResults(results, StrategySwappedInterpretation)
					state.SongNotFound = false
				}
				return nil
			},
		},
		{
			Name:      StrategyTrackOnCompilation,
			Condition: trackMayBeOnCompilation,
			Execute: func(ctx context.Context, req Request, state *SearchState) error {
				results, externalTitles, err := o.searchCompilationsForTrack(ctx, req)
				if err != nil {
					return err
				}
				if len(results) > 0 {
					state.SetResults(results, StrategyTrackOnCompilation)
					state.FoundOnCompilation = true
					state.SongNotFound = false
					for id, title := range externalTitles {
						state.ExternalTitles[id] = title
					}
				}
				return nil
			},
		},
		{
			Name:      StrategySongAsArtist,
			Condition: noResultsAndSongButNoArtist,
			Execute: func(ctx context.Context, req Request, state *SearchState) error {
				results, err := o.searchSongAsArtist(ctx, req.Song)
				if err != nil {
					return err
				}
				if len(results) > 0 {
					state.SetResults(results, StrategySongAsArtist)
					state.SongNotFound = false
				}
				return nil
			},
		},
	}
}

// resolveAlbumsForTrack finds which albums contain the requested song. Runs
// when the request names a song and artist but no album, or when the "album"
// looks like the artist name repeated. The second return value flags that no
// release could be found.
func (o *Orchestrator) resolveAlbumsForTrack(ctx context.Context, req Request) ([]string, bool) {
	albumMissing := req.Album == ""
	albumIsArtist := req.Album != "" && req.Artist != "" &&
		textnorm.Normalize(req.Album) == textnorm.Normalize(req.Artist)

	if req.Song == "" || req.Artist == "" || (!albumMissing && !albumIsArtist) {
		if req.Album != "" {
			return []string{req.Album}, false
		}
		return nil, false
	}
	if albumIsArtist {
		slog.Info("Album appears to be artist name, looking up albums", "album", req.Album)
	}

	releases := o.lookupReleasesByTrack(ctx, req.Song, req.Artist, trackReleaseLimit)
	if len(releases) == 0 {
		slog.Info("Could not find albums for song", "song", req.Song)
		return nil, true
	}

	artistNorm := textnorm.Normalize(req.Artist)
	var albums []string
	seen := make(map[string]bool)
	for _, ref := range releases {
		if !strings.HasPrefix(textnorm.Normalize(ref.Artist), artistNorm) {
			continue
		}
		if !seen[ref.Album] {
			seen[ref.Album] = true
			albums = append(albums, ref.Album)
		}
	}
	if len(albums) == 0 {
		return nil, true
	}
	slog.Info("Resolved albums for song", "song", req.Song, "albums", albums)
	return albums, false
}

// lookupReleasesByTrack queries the metadata service for releases containing
// the track, dropping releases where the track/artist pair cannot be
// validated against the tracklist.
func (o *Orchestrator) lookupReleasesByTrack(ctx context.Context, track, artist string, limit int) []discogs.ReleaseRef {
	if o.metadata == nil {
		return nil
	}

	resp, err := o.metadata.SearchReleasesByTrack(ctx, track, artist, limit)
	if err != nil {
		slog.Warn("Track lookup failed", "track", track, "error", err)
		return nil
	}

	var valid []discogs.ReleaseRef
	for _, ref := range resp.Releases {
		if artist != "" && ref.ReleaseID != 0 {
			if !o.metadata.ValidateTrackOnRelease(ctx, ref.ReleaseID, track, artist) {
				slog.Info("Skipping release, track not validated", "album", ref.Album)
				continue
			}
		}
		valid = append(valid, ref)
	}
	return valid
}

// searchLibraryWithFallback searches by artist+album(s), falling back to
// artist+song and then artist only. The second return value reports whether
// the artist-only fallback produced the results.
func (o *Orchestrator) searchLibraryWithFallback(ctx context.Context, req Request, albums []string) ([]library.Item, bool, error) {
	if req.Artist != "" && len(albums) > 0 {
		var all []library.Item
		seen := make(map[int]bool)
		for _, album := range albums {
			results, err := o.searchLibrary(ctx, req.Artist+" "+album, req.Artist)
			if err != nil {
				return nil, false, err
			}
			for _, item := range filterByAlbumWords(results, album) {
				if !seen[item.ID] {
					seen[item.ID] = true
					all = append(all, item)
				}
			}
		}
		if len(all) > 0 {
			sortByTitleContaining(all, albums[0])
			return all, false, nil
		}
	}

	if req.Artist != "" && req.Song != "" {
		results, err := o.searchLibrary(ctx, req.Artist+" "+req.Song, req.Artist)
		if err != nil {
			return nil, false, err
		}
		if len(results) > 0 {
			sortByTitleContaining(results, req.Song)
			return results, true, nil
		}
	}

	if req.Artist != "" {
		slog.Info("No album results, trying artist only", "artist", req.Artist)
		results, err := o.searchLibrary(ctx, req.Artist, req.Artist)
		if err != nil {
			return nil, false, err
		}
		if len(results) > 0 {
			return results, true, nil
		}
	}

	return nil, false, nil
}

// searchSwapped tries both artist/title orderings of an ambiguous "X - Y"
// message and keeps whichever interpretation matches, combining when both do.
func (o *Orchestrator) searchSwapped(ctx context.Context, part1, part2 string) ([]library.Item, error) {
	results1, err := o.searchLibrary(ctx, part1+" "+part2, part1)
	if err != nil {
		return nil, err
	}
	results2, err := o.searchLibrary(ctx, part2+" "+part1, part2)
	if err != nil {
		return nil, err
	}

	switch {
	case len(results1) > 0 && len(results2) == 0:
		slog.Info("Swapped search matched", "artist", part1)
		return results1, nil
	case len(results2) > 0 && len(results1) == 0:
		slog.Info("Swapped search matched", "artist", part2)
		return results2, nil
	case len(results1) > 0 && len(results2) > 0:
		slog.Info("Swapped search matched both interpretations, combining")
		seen := make(map[int]bool)
		var combined []library.Item
		for _, item := range append(results1, results2...) {
			if !seen[item.ID] {
				seen[item.ID] = true
				combined = append(combined, item)
			}
		}
		return limitResults(combined), nil
	}
	return nil, nil
}

// searchSongAsArtist handles requests where the song field actually holds an
// artist name. Falls back to a Discogs discography cross-reference when the
// direct catalog search misses.
func (o *Orchestrator) searchSongAsArtist(ctx context.Context, songAsArtist string) ([]library.Item, error) {
	slog.Info("Trying song as artist name", "name", songAsArtist)

	results, err := o.searchLibrary(ctx, songAsArtist, songAsArtist)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}
	if o.metadata == nil {
		return nil, nil
	}

	slog.Info("No direct matches, searching Discogs for releases", "artist", songAsArtist)
	resp, err := o.metadata.Search(ctx, discogs.SearchRequest{Artist: songAsArtist}, trackReleaseLimit)
	if err != nil {
		slog.Warn("Discogs artist search failed", "error", err)
		return nil, nil
	}

	seen := make(map[int]bool)
	for _, rel := range resp.Results {
		if rel.Album == "" {
			continue
		}
		albumResults, err := o.library.Search(ctx, rel.Album, searchOpts(""))
		if err != nil {
			return nil, err
		}
		for _, item := range albumResults {
			if seen[item.ID] {
				continue
			}
			if artistMatchesItem(item, songAsArtist) || textnorm.IsCompilationArtist(item.Artist) {
				seen[item.ID] = true
				results = append(results, item)
				slog.Info("Found via Discogs cross-reference", "artist", item.Artist, "title", item.Title)
			}
		}
		if len(results) >= textnorm.MaxSearchResults {
			break
		}
	}
	return limitResults(results), nil
}

// searchCompilationsForTrack looks for the requested song on compilations and
// other releases, cross-referencing Discogs release titles against the
// catalog. Returns matched items and their canonical release titles.
func (o *Orchestrator) searchCompilationsForTrack(ctx context.Context, req Request) ([]library.Item, map[int]string, error) {
	if req.Song == "" || req.Artist == "" {
		return nil, nil, nil
	}
	slog.Info("Searching for track on other releases", "song", req.Song)

	keywordMatches, err := o.keywordSearch(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var results []library.Item
	seen := make(map[int]bool)
	externalTitles := make(map[int]string)

	songSearch := req.Song
	if m := versionSuffix.FindStringSubmatch(req.RawMessage); m != nil &&
		strings.Contains(strings.ToLower(req.RawMessage), strings.ToLower(req.Song)) {
		songSearch = req.Song + " (" + m[1] + ")"
		slog.Info("Using full track name with version info", "track", songSearch)
	}

	releases := o.lookupReleasesByTrack(ctx, songSearch, req.Artist, trackReleaseLimit)
	slog.Info("Found releases with track on Discogs", "track", songSearch, "count", len(releases))

	for _, ref := range releases {
		if strings.EqualFold(strings.TrimSpace(ref.Album), strings.TrimSpace(req.Artist)) {
			continue
		}
		if len(strings.TrimSpace(ref.Album)) < 3 {
			continue
		}

		matches, err := o.searchAlbumFuzzy(ctx, ref.Album)
		if err != nil {
			return nil, nil, err
		}

		filtered := matches[:0:0]
		for _, match := range matches {
			if artistMatchesItem(match, req.Artist) {
				filtered = append(filtered, match)
			} else if ref.IsCompilation && textnorm.IsCompilationArtist(match.Artist) {
				filtered = append(filtered, match)
			}
		}

		if len(filtered) > 0 {
			slog.Info("Found track in library", "song", req.Song, "title", filtered[0].Title,
				"discogs_album", ref.Album)
			for _, match := range filtered {
				if !seen[match.ID] {
					seen[match.ID] = true
					results = append(results, match)
					externalTitles[match.ID] = ref.Album
				}
			}
			if len(results) >= textnorm.MaxSearchResults {
				break
			}
		}
	}

	if len(results) == 0 && len(keywordMatches) > 0 {
		slog.Info("Discogs search found nothing, using keyword match as fallback")
		results = keywordMatches[:1]
	}

	sortByTitleContaining(results, req.Song)
	return limitResults(results), externalTitles, nil
}

// keywordSearch runs a direct catalog search on the significant words of the
// artist and song, keeping items by the artist or by compilation artists.
func (o *Orchestrator) keywordSearch(ctx context.Context, req Request) ([]library.Item, error) {
	query := strings.Join(append(significantWords(req.Artist, 2), significantWords(req.Song, 2)...), " ")
	if query == "" {
		return nil, nil
	}
	slog.Info("Trying direct keyword search", "query", query)

	results, err := o.library.Search(ctx, query, searchOpts(""))
	if err != nil {
		return nil, err
	}

	var filtered []library.Item
	for _, item := range results {
		if artistMatchesItem(item, req.Artist) || textnorm.IsCompilationArtist(item.Artist) {
			filtered = append(filtered, item)
		}
	}
	if len(filtered) > 0 {
		slog.Info("Found matches via keyword search", "count", len(filtered))
	}
	return filtered, nil
}

// searchAlbumFuzzy searches the catalog for an album title, retrying with
// significant words and a similarity filter when the exact title misses.
func (o *Orchestrator) searchAlbumFuzzy(ctx context.Context, albumTitle string) ([]library.Item, error) {
	results, err := o.library.Search(ctx, albumTitle, searchOpts(""))
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	words := significantWords(albumTitle, 4)
	if len(words) == 0 {
		return nil, nil
	}
	fuzzyQuery := strings.Join(words, " ")
	slog.Info("Exact album match failed, trying fuzzy", "album", albumTitle, "query", fuzzyQuery)

	results, err = o.library.Search(ctx, fuzzyQuery, searchOpts(""))
	if err != nil {
		return nil, err
	}

	var filtered []library.Item
	for _, item := range results {
		titleLower := strings.ToLower(item.Title)
		keywordHits := 0
		for _, word := range words {
			if strings.Contains(titleLower, word) {
				keywordHits++
			}
		}
		similarity := scoring.TokenSetRatio(albumTitle, item.Title)
		if keywordHits >= 2 && similarity >= 60 {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// validateTracks keeps only items whose best-matching release actually
// contains the requested song by the requested artist. Runs the per-item
// checks in bounded parallel, gathering results in input order.
func (o *Orchestrator) validateTracks(ctx context.Context, items []library.Item, song, artist string) []library.Item {
	verdicts := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			resp, err := o.metadata.Search(gctx, discogs.SearchRequest{Album: item.Title, Artist: artist}, textnorm.MaxSearchResults)
			if err != nil || len(resp.Results) == 0 {
				if err != nil {
					slog.Warn("Track validation search failed", "title", item.Title, "error", err)
				}
				return nil
			}
			best := resp.Results[0]
			if best.ReleaseID != 0 && o.metadata.ValidateTrackOnRelease(gctx, best.ReleaseID, song, artist) {
				slog.Info("Track validation confirmed", "song", song, "title", item.Title,
					"release_id", best.ReleaseID)
				verdicts[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var validated []library.Item
	for i, ok := range verdicts {
		if ok {
			validated = append(validated, items[i])
		}
	}
	if len(validated) > 0 {
		slog.Info("Track validation filtered albums", "from", len(items), "to", len(validated), "song", song)
	} else {
		slog.Info("Track validation could not confirm song on any album", "song", song)
	}
	return validated
}

// fetchArtwork looks up artwork for every item in bounded parallel. A failed
// lookup leaves the item without artwork; it is never dropped.
func (o *Orchestrator) fetchArtwork(ctx context.Context, items []library.Item, externalTitles map[int]string) []ResultItem {
	out := make([]ResultItem, len(items))
	for i, item := range items {
		out[i] = ResultItem{LibraryItem: item}
	}
	if o.metadata == nil || len(items) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			album := item.Title
			if title, ok := externalTitles[item.ID]; ok {
				album = title
			}
			artist := item.Artist
			if textnorm.IsCompilationArtist(artist) {
				artist = "Various"
			}

			resp, err := o.metadata.Search(gctx, discogs.SearchRequest{Album: album, Artist: artist}, textnorm.MaxSearchResults)
			if err != nil || len(resp.Results) == 0 {
				if err != nil {
					slog.Warn("Artwork lookup failed", "title", item.Title, "error", err)
				}
				return nil
			}

			artwork := resp.Results[0]
			if artwork.ArtworkURL == "" {
				if fallback := o.resolveFallbackArtwork(gctx, artwork.ReleaseID); fallback != "" {
					artwork.ArtworkURL = fallback
				}
			}
			out[i].Artwork = &artwork
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// resolveFallbackArtwork tries the artist image, then the label image, for a
// release with no cover art.
func (o *Orchestrator) resolveFallbackArtwork(ctx context.Context, releaseID int) string {
	release, err := o.metadata.GetRelease(ctx, releaseID)
	if err != nil || release == nil {
		return ""
	}
	if release.ArtistID != 0 {
		if image := o.metadata.GetArtistImage(ctx, release.ArtistID); image != "" {
			slog.Info("Using artist image fallback", "release_id", releaseID)
			return image
		}
	}
	if release.LabelID != 0 {
		if image := o.metadata.GetLabelImage(ctx, release.LabelID); image != "" {
			slog.Info("Using label image fallback", "release_id", releaseID)
			return image
		}
	}
	return ""
}

func (o *Orchestrator) searchLibrary(ctx context.Context, query, artistFilter string) ([]library.Item, error) {
	return o.library.Search(ctx, query, searchOpts(artistFilter))
}

func searchOpts(artistFilter string) library.SearchOptions {
	opts := library.DefaultSearchOptions()
	opts.Limit = textnorm.MaxSearchResults
	opts.ArtistFilter = artistFilter
	return opts
}

func limitResults(items []library.Item) []library.Item {
	if len(items) > textnorm.MaxSearchResults {
		return items[:textnorm.MaxSearchResults]
	}
	return items
}

// artistMatchesItem reports whether the item's artist starts with the given
// name after normalization.
func artistMatchesItem(item library.Item, artist string) bool {
	if artist == "" {
		return false
	}
	return strings.HasPrefix(textnorm.Normalize(item.Artist), textnorm.Normalize(artist))
}

// filterByAlbumWords keeps items whose titles share enough significant words
// with the requested album. Short titles pass when the album starts with
// them, so "Car Wheels" still matches "Car Wheels on a Gravel Road".
func filterByAlbumWords(items []library.Item, album string) []library.Item {
	albumNorm := textnorm.Normalize(album)
	albumWords := wordSet(album)

	var filtered []library.Item
	for _, item := range items {
		itemNorm := textnorm.Normalize(item.Title)
		itemWords := wordSet(item.Title)

		common := 0
		for w := range itemWords {
			if albumWords[w] {
				common++
			}
		}

		if len(itemWords) <= 2 {
			if strings.HasPrefix(albumNorm, itemNorm) || strings.HasPrefix(itemNorm, albumNorm) {
				filtered = append(filtered, item)
			}
		} else if common >= 2 {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(textnorm.Normalize(s)) {
		if len(w) > 2 && !textnorm.Stopwords[w] {
			set[w] = true
		}
	}
	return set
}

// significantWords returns up to max words longer than three characters,
// excluding stopwords.
func significantWords(s string, max int) []string {
	var words []string
	for _, w := range strings.Fields(textnorm.Normalize(s)) {
		if len(w) > 3 && !textnorm.Stopwords[w] {
			words = append(words, w)
			if len(words) == max {
				break
			}
		}
	}
	return words
}

// sortByTitleContaining stably moves items whose title contains the needle to
// the front.
func sortByTitleContaining(items []library.Item, needle string) {
	needleLower := strings.ToLower(needle)
	sort.SliceStable(items, func(i, j int) bool {
		return strings.Contains(strings.ToLower(items[i].Title), needleLower) &&
			!strings.Contains(strings.ToLower(items[j].Title), needleLower)
	})
}

// buildContextMessage synthesizes the human-readable summary of the outcome.
func buildContextMessage(req Request, foundOnCompilation, songNotFound, hasResults bool) string {
	switch {
	case foundOnCompilation:
		return `Found "` + req.Song + `" by ` + req.Artist + " on:"
	case songNotFound && hasResults && req.Song != "" && req.Album != "":
		return `"` + req.Album + `" not found in the library, but here are other albums by ` + req.Artist + ":"
	case songNotFound && hasResults && req.Song != "":
		return `"` + req.Song + `" is not on any album in the library, but here are some albums by ` + req.Artist + ":"
	case songNotFound && !hasResults && req.Song != "" && req.Artist != "":
		return `"` + req.Song + `" by ` + req.Artist + " not found in library."
	}
	return ""
}
