package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"librarylookup/internal/config"
	"librarylookup/internal/discogs"
	"librarylookup/internal/library"
	"librarylookup/internal/lookup"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type catalogRow struct {
	Artist string
	Title  string
}

// writeCatalog creates a minimal library database at path.
func writeCatalog(t *testing.T, path string, rows []catalogRow) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE library (
		id INTEGER PRIMARY KEY,
		artist TEXT,
		title TEXT,
		call_letters TEXT,
		artist_call_number INTEGER,
		release_call_number INTEGER,
		genre TEXT,
		format TEXT)`)
	require.NoError(t, err)

	for i, row := range rows {
		_, err = db.Exec(`INSERT INTO library (id, artist, title) VALUES (?, ?, ?)`,
			i+1, row.Artist, row.Title)
		require.NoError(t, err)
	}
}

// newTestRouter wires a full router over a temp catalog. rows == nil leaves
// the catalog file absent so the store is unavailable.
func newTestRouter(t *testing.T, rows []catalogRow, service *discogs.Service, adminToken string) (*gin.Engine, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		LibraryDBPath: filepath.Join(t.TempDir(), "library.db"),
		AdminToken:    adminToken,
	}
	if rows != nil {
		writeCatalog(t, cfg.LibraryDBPath, rows)
	}

	store := library.NewStore(cfg.LibraryDBPath)
	_ = store.Open()
	t.Cleanup(func() { store.Close() })

	var metadata lookup.Metadata
	if service != nil {
		metadata = service
	}
	orchestrator := lookup.NewOrchestrator(store, metadata, 2)

	return NewRouter(cfg, store, service, orchestrator), cfg
}

// newStubService builds a Discogs service pointed at a local stub server.
func newStubService(t *testing.T, handler http.HandlerFunc) *discogs.Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := discogs.NewClient(discogs.ClientConfig{
		Token:             "test-token",
		RequestsPerMinute: 6000,
		MaxConcurrent:     2,
		BaseURL:           server.URL,
	})
	return discogs.NewService(client, nil, discogs.DefaultCacheSizes())
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	decoded := make(map[string]any)
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}
