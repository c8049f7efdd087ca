// Package handlers exposes the HTTP surface: lookup, catalog search, Discogs
// passthrough, health, and admin endpoints.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"librarylookup/internal/library"
	"librarylookup/internal/lookup"
	"librarylookup/internal/telemetry"
)

// LookupHandler handles music request lookups
type LookupHandler struct {
	orchestrator *lookup.Orchestrator
}

// NewLookupHandler creates a new lookup handler
func NewLookupHandler(orchestrator *lookup.Orchestrator) *LookupHandler {
	return &LookupHandler{orchestrator: orchestrator}
}

// Lookup handles POST /api/v1/lookup
func (h *LookupHandler) Lookup(c *gin.Context) {
	var req lookup.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	skipCache := req.SkipCache || c.Query("skip_cache") == "true"
	ctx, stats := telemetry.NewContext(c.Request.Context(), skipCache)

	resp, err := h.orchestrator.Perform(ctx, req, stats)
	if err != nil {
		switch {
		case errors.Is(err, lookup.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, library.ErrStoreUnavailable):
			slog.Error("Library store unavailable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Library database unavailable"})
		default:
			slog.Error("Lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		}
		return
	}

	snapshot := stats.Snapshot()
	resp.CacheStats = &snapshot
	resp.Steps = stats.Steps()

	c.JSON(http.StatusOK, resp)
}
