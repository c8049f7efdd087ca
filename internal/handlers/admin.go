package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"librarylookup/internal/library"
)

// AdminHandler handles administrative requests
type AdminHandler struct {
	store  *library.Store
	dbPath string
	token  string
}

// NewAdminHandler creates a new admin handler. An empty token disables the
// endpoint.
func NewAdminHandler(store *library.Store, dbPath, token string) *AdminHandler {
	return &AdminHandler{store: store, dbPath: dbPath, token: token}
}

func (h *AdminHandler) authorized(c *gin.Context) bool {
	if h.token == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin endpoint disabled (no ADMIN_TOKEN set)"})
		return false
	}

	authorization := c.GetHeader("Authorization")
	if authorization == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization"})
		return false
	}

	scheme, credentials, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || credentials != h.token {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid token"})
		return false
	}
	return true
}

// UploadLibraryDB handles POST /api/v1/admin/upload-library-db. The upload
// is validated as a SQLite database with a library table, then atomically
// replaces the current catalog file and reopens the store.
func (h *AdminHandler) UploadLibraryDB(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart field 'file' is required"})
		return
	}

	tmpPath := filepath.Join(filepath.Dir(h.dbPath), filepath.Base(h.dbPath)+".tmp")
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		slog.Error("Failed to write uploaded file", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write file"})
		return
	}

	rowCount, err := validateLibraryDB(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid SQLite database",
			"details": err.Error(),
		})
		return
	}

	if err := os.Rename(tmpPath, h.dbPath); err != nil {
		os.Remove(tmpPath)
		slog.Error("Failed to replace library database", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replace database"})
		return
	}

	if err := h.store.Reload(); err != nil {
		slog.Error("Failed to reopen library database", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reopen database"})
		return
	}

	slog.Info("Library database replaced", "path", h.dbPath, "rows", rowCount)
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"row_count": rowCount,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// validateLibraryDB opens the candidate file and counts library rows.
func validateLibraryDB(path string) (int, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT count(*) FROM library").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
