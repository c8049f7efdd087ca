package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"librarylookup/internal/textnorm"
)

// CacheError is a failure against the PostgreSQL release cache. Callers
// treat it as a tier miss; it never fails a request.
type CacheError struct {
	Operation string
	Err       error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("release cache %s failed: %v", e.Operation, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

const pgQueryTimeout = 3 * time.Second

// PGCache is the shared persistent cache of previously observed releases.
// It uses pg_trgm similarity for fuzzy matching on artist names and track
// titles, and survives process restarts.
type PGCache struct {
	pool *pgxpool.Pool
}

// NewPGCache connects a cache to the given PostgreSQL URL.
func NewPGCache(ctx context.Context, url string) (*PGCache, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, &CacheError{Operation: "connect", Err: err}
	}
	return &PGCache{pool: pool}, nil
}

// Close releases the connection pool.
func (c *PGCache) Close() {
	c.pool.Close()
}

// Available reports whether the cache database answers queries.
func (c *PGCache) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()
	var one int
	return c.pool.QueryRow(ctx, "SELECT 1").Scan(&one) == nil
}

// GetRelease returns a cached release by id, or nil when not cached.
func (c *PGCache) GetRelease(ctx context.Context, releaseID int) (*Release, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var data []byte
	err := c.pool.QueryRow(ctx,
		"SELECT data FROM releases WHERE release_id = $1", releaseID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheError{Operation: "get_release", Err: err}
	}

	var release Release
	if err := json.Unmarshal(data, &release); err != nil {
		return nil, &CacheError{Operation: "get_release", Err: err}
	}
	release.Cached = true
	return &release, nil
}

// WriteRelease upserts a release and its track index, keyed by release id.
func (c *PGCache) WriteRelease(ctx context.Context, release *Release) error {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	data, err := json.Marshal(release)
	if err != nil {
		return &CacheError{Operation: "write_release", Err: err}
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return &CacheError{Operation: "write_release", Err: err}
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO releases (release_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (release_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = now()`, release.ReleaseID, data)
	if err != nil {
		return &CacheError{Operation: "write_release", Err: err}
	}

	_, err = tx.Exec(ctx,
		"DELETE FROM release_tracks WHERE release_id = $1", release.ReleaseID)
	if err != nil {
		return &CacheError{Operation: "write_release", Err: err}
	}

	for _, track := range release.Tracklist {
		_, err = tx.Exec(ctx, `
			INSERT INTO release_tracks (release_id, track_title, normalized_track_title)
			VALUES ($1, $2, $3)`,
			release.ReleaseID, track.Title, textnorm.Normalize(track.Title))
		if err != nil {
			return &CacheError{Operation: "write_release", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &CacheError{Operation: "write_release", Err: err}
	}
	return nil
}

// SearchReleasesByTrack finds cached releases whose track index fuzzy-matches
// the given track title, optionally narrowed by artist. Results come back in
// trigram similarity order.
func (c *PGCache) SearchReleasesByTrack(ctx context.Context, track, artist string, limit int) ([]ReleaseRef, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, `
		WITH matching_tracks AS (
			SELECT DISTINCT rt.release_id,
			       similarity(rt.normalized_track_title, $1) AS sim
			FROM release_tracks rt
			WHERE rt.normalized_track_title % $1
			ORDER BY sim DESC
			LIMIT $2
		)
		SELECT r.release_id, r.data
		FROM matching_tracks mt
		JOIN releases r ON r.release_id = mt.release_id
		WHERE $3 = '' OR lower(r.data->>'artist') % $3
		ORDER BY mt.sim DESC`,
		textnorm.Normalize(track), limit*2, textnorm.Normalize(artist))
	if err != nil {
		return nil, &CacheError{Operation: "search_releases_by_track", Err: err}
	}
	defer rows.Close()

	var refs []ReleaseRef
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			releaseID int
			data      []byte
		)
		if err := rows.Scan(&releaseID, &data); err != nil {
			return nil, &CacheError{Operation: "search_releases_by_track", Err: err}
		}
		var release Release
		if err := json.Unmarshal(data, &release); err != nil {
			continue
		}

		albumKey := strings.ToLower(release.Title)
		if seen[albumKey] {
			continue
		}
		seen[albumKey] = true

		refs = append(refs, ReleaseRef{
			Album:         release.Title,
			Artist:        release.Artist,
			ReleaseID:     releaseID,
			ReleaseURL:    ReleaseURLFor(releaseID),
			IsCompilation: textnorm.IsCompilationArtist(release.Artist),
		})
		if len(refs) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &CacheError{Operation: "search_releases_by_track", Err: err}
	}
	return refs, nil
}

// ValidateTrackOnRelease checks the cached release for a track by an artist.
// Returns nil when the release is not cached, otherwise a pointer to whether
// the track appears on it.
func (c *PGCache) ValidateTrackOnRelease(ctx context.Context, releaseID int, track, artist string) (*bool, error) {
	release, err := c.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return nil, nil
	}
	found := releaseHasTrack(release, track, artist)
	return &found, nil
}

// SearchReleases finds cached releases fuzzy-matching an artist and/or album
// title, in similarity order.
func (c *PGCache) SearchReleases(ctx context.Context, artist, album string, limit int) ([]*Release, error) {
	if artist == "" && album == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, `
		SELECT r.release_id, r.data,
		       GREATEST(
		           CASE WHEN $1 <> '' THEN similarity(lower(r.data->>'title'), $1) ELSE 0 END,
		           CASE WHEN $2 <> '' THEN similarity(lower(r.data->>'artist'), $2) ELSE 0 END
		       ) AS score
		FROM releases r
		WHERE ($1 <> '' AND lower(r.data->>'title') % $1)
		   OR ($2 <> '' AND lower(r.data->>'artist') % $2)
		ORDER BY score DESC
		LIMIT $3`,
		textnorm.Normalize(album), textnorm.Normalize(artist), limit*2)
	if err != nil {
		return nil, &CacheError{Operation: "search_releases", Err: err}
	}
	defer rows.Close()

	var releases []*Release
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			releaseID int
			data      []byte
			score     float64
		)
		if err := rows.Scan(&releaseID, &data, &score); err != nil {
			return nil, &CacheError{Operation: "search_releases", Err: err}
		}
		var release Release
		if err := json.Unmarshal(data, &release); err != nil {
			continue
		}

		titleKey := strings.ToLower(release.Title)
		if seen[titleKey] {
			continue
		}
		seen[titleKey] = true

		release.Cached = true
		releases = append(releases, &release)
		if len(releases) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &CacheError{Operation: "search_releases", Err: err}
	}
	return releases, nil
}
