package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"librarylookup/internal/scoring"
	"librarylookup/internal/textnorm"
)

// ErrStoreUnavailable is returned when the catalog database file is missing
// or unreadable.
var ErrStoreUnavailable = errors.New("library store unavailable")

const (
	// DefaultLimit is applied when SearchOptions.Limit is zero.
	DefaultLimit = 10

	// fuzzyCandidateLimit bounds the candidate fetch for the fuzzy level
	// and for artist correction.
	fuzzyCandidateLimit = 500

	queryTimeout = 5 * time.Second

	itemColumns = "id, artist, title, call_letters, artist_call_number, release_call_number, genre, format"
)

var registerDriverOnce sync.Once

// registerDriver installs a sqlite3 driver variant exposing fold(), which
// lowercases and strips diacritics so LIKE comparisons are accent-insensitive.
func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3_fold", &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("fold", textnorm.Normalize, true)
			},
		})
	})
}

// Store runs catalog searches against the SQLite library database.
// The backing file can be replaced at runtime via Reload.
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewStore creates a store for the given database path. The connection is
// opened lazily so a missing file surfaces as ErrStoreUnavailable per query
// rather than failing startup.
func NewStore(path string) *Store {
	registerDriver()
	return &Store{path: path}
}

// Open connects to the database file.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *Store) openLocked() error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, s.path)
	}
	db, err := sql.Open("sqlite3_fold", s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.db = db
	slog.Info("Connected to library database", "path", s.path)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Reload closes and reopens the connection so a replaced database file takes
// effect.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return s.openLocked()
}

// Available reports whether the catalog can currently serve queries.
func (s *Store) Available(ctx context.Context) bool {
	db := s.conn()
	if db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}

func (s *Store) conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Search runs the three-level cascade: full-text, token-AND substring, fuzzy.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]Item, error) {
	db := s.conn()
	if db == nil {
		return nil, ErrStoreUnavailable
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items, err := s.searchFTS(ctx, db, query, limit)
	if err != nil {
		// FTS syntax errors (special characters in the query) fall
		// through to the LIKE level.
		if !opts.FallbackToLike {
			return nil, err
		}
		slog.Info("FTS search failed, trying LIKE fallback", "query", query, "error", err)
		items = nil
	}

	if len(items) == 0 && opts.FallbackToLike {
		items, err = s.searchLike(ctx, db, query, limit)
		if err != nil {
			return nil, err
		}
	}

	if len(items) == 0 && opts.FallbackToFuzzy {
		items, err = s.searchFuzzy(ctx, db, query, limit)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			slog.Info("Fuzzy search found results", "query", query, "count", len(items))
		}
	}

	return filterByArtist(items, opts.ArtistFilter), nil
}

func (s *Store) searchFTS(ctx context.Context, db *sql.DB, query string, limit int) ([]Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT l.`+strings.ReplaceAll(itemColumns, ", ", ", l.")+`
		FROM library l
		JOIN library_fts fts ON l.id = fts.rowid
		WHERE library_fts MATCH ?
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *Store) searchLike(ctx context.Context, db *sql.DB, query string, limit int) ([]Item, error) {
	tokens := textnorm.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var conds []string
	var params []any
	for _, tok := range tokens {
		conds = append(conds, "(fold(title) LIKE ? OR fold(artist) LIKE ?)")
		pattern := "%" + tok + "%"
		params = append(params, pattern, pattern)
	}
	params = append(params, limit)

	rows, err := db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM library
		WHERE `+strings.Join(conds, " AND ")+`
		LIMIT ?`, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *Store) searchFuzzy(ctx context.Context, db *sql.DB, query string, limit int) ([]Item, error) {
	tokens := textnorm.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	longest := tokens[0]
	for _, tok := range tokens[1:] {
		if len(tok) > len(longest) {
			longest = tok
		}
	}
	prefix := longest
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM library
		WHERE fold(artist) LIKE ? OR fold(title) LIKE ?
		LIMIT ?`, prefix+"%", prefix+"%", fuzzyCandidateLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		score int
		item  Item
	}
	var matches []scored
	for _, item := range candidates {
		combined := item.Artist + " " + item.Title
		score := scoring.TokenSetRatio(query, combined)
		if score >= scoring.FuzzySearchThreshold {
			matches = append(matches, scored{score, item})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].item.ID < matches[j].item.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	items := make([]Item, len(matches))
	for i, m := range matches {
		items[i] = m.item
	}
	return items, nil
}

// Items pages through the catalog in id order, used by batch tooling.
func (s *Store) Items(ctx context.Context, offset, limit int) ([]Item, error) {
	db := s.conn()
	if db == nil {
		return nil, ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM library
		ORDER BY id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// FindSimilarArtist fuzzy-matches an artist name against catalog artists and
// returns the best match scoring at or above the correction threshold.
// Returns empty string when no candidate qualifies.
func (s *Store) FindSimilarArtist(ctx context.Context, artist string) (string, error) {
	db := s.conn()
	if db == nil {
		return "", ErrStoreUnavailable
	}

	var prefix string
	for _, word := range textnorm.Tokenize(artist) {
		if len(word) >= 3 {
			prefix = word[:3]
			break
		}
	}
	if prefix == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT artist FROM library
		WHERE fold(artist) LIKE ?
		LIMIT ?`, prefix+"%", fuzzyCandidateLimit)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	best := ""
	bestScore := 0
	for rows.Next() {
		var candidate sql.NullString
		if err := rows.Scan(&candidate); err != nil {
			return "", err
		}
		if candidate.String == "" {
			continue
		}
		score := scoring.TokenSetRatio(artist, candidate.String)
		if score >= scoring.ArtistCorrectionThreshold && score > bestScore {
			best = candidate.String
			bestScore = score
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if best != "" && textnorm.Normalize(best) != textnorm.Normalize(artist) {
		slog.Info("Corrected artist", "from", artist, "to", best, "score", bestScore)
	}
	return best, nil
}

func filterByArtist(items []Item, artist string) []Item {
	if artist == "" {
		return items
	}
	want := textnorm.Normalize(artist)
	filtered := make([]Item, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(textnorm.Normalize(item.Artist), want) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var (
			item                          Item
			artist, title, letters        sql.NullString
			genre, format                 sql.NullString
			artistCallNum, releaseCallNum sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &artist, &title, &letters,
			&artistCallNum, &releaseCallNum, &genre, &format); err != nil {
			return nil, err
		}
		item.Artist = artist.String
		item.Title = title.String
		item.CallLetters = letters.String
		item.ArtistCallNumber = int(artistCallNum.Int64)
		item.ReleaseCallNumber = int(releaseCallNum.Int64)
		item.Genre = genre.String
		item.Format = format.String
		items = append(items, item)
	}
	return items, rows.Err()
}
