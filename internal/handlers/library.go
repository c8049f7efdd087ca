package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"librarylookup/internal/library"
)

// LibraryHandler handles direct catalog search requests
type LibraryHandler struct {
	store *library.Store
}

// NewLibraryHandler creates a new library handler
func NewLibraryHandler(store *library.Store) *LibraryHandler {
	return &LibraryHandler{store: store}
}

// Search handles GET /api/v1/library/search
func (h *LibraryHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' is required"})
		return
	}

	limit := library.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Parameter 'limit' must be between 1 and 100"})
			return
		}
		limit = parsed
	}

	opts := library.DefaultSearchOptions()
	opts.Limit = limit

	items, err := h.store.Search(c.Request.Context(), query, opts)
	if err != nil {
		if errors.Is(err, library.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Library database unavailable"})
			return
		}
		slog.Error("Library search failed", "query", query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	if items == nil {
		items = []library.Item{}
	}
	c.JSON(http.StatusOK, gin.H{
		"results": items,
		"total":   len(items),
	})
}
