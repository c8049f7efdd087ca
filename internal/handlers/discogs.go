package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"librarylookup/internal/discogs"
	"librarylookup/internal/telemetry"
)

const defaultTrackReleaseLimit = 20

// DiscogsHandler exposes the metadata service directly
type DiscogsHandler struct {
	service *discogs.Service
}

// NewDiscogsHandler creates a new Discogs handler. service may be nil when no
// API token is configured; every endpoint then answers 503.
func NewDiscogsHandler(service *discogs.Service) *DiscogsHandler {
	return &DiscogsHandler{service: service}
}

func (h *DiscogsHandler) unconfigured(c *gin.Context) bool {
	if h.service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Discogs integration not configured"})
		return true
	}
	return false
}

func respondUpstreamError(c *gin.Context, err error) {
	var upstream *discogs.UpstreamError
	if errors.As(err, &upstream) {
		slog.Error("Discogs request failed", "operation", upstream.Operation, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Discogs request failed"})
		return
	}
	slog.Error("Discogs request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Request failed"})
}

// Search handles POST /api/v1/discogs/search
func (h *DiscogsHandler) Search(c *gin.Context) {
	if h.unconfigured(c) {
		return
	}

	var req discogs.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Artist == "" && req.Album == "" && req.Track == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one of artist, album, or track is required"})
		return
	}

	ctx, _ := telemetry.NewContext(c.Request.Context(), c.Query("skip_cache") == "true")
	resp, err := h.service.Search(ctx, req, 5)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// TrackReleases handles GET /api/v1/discogs/track-releases
func (h *DiscogsHandler) TrackReleases(c *gin.Context) {
	if h.unconfigured(c) {
		return
	}

	track := strings.TrimSpace(c.Query("track"))
	if track == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'track' is required"})
		return
	}
	artist := strings.TrimSpace(c.Query("artist"))

	limit := defaultTrackReleaseLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Parameter 'limit' must be between 1 and 100"})
			return
		}
		limit = parsed
	}

	ctx, _ := telemetry.NewContext(c.Request.Context(), c.Query("skip_cache") == "true")
	resp, err := h.service.SearchReleasesByTrack(ctx, track, artist, limit)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Release handles GET /api/v1/discogs/release/:id
func (h *DiscogsHandler) Release(c *gin.Context) {
	if h.unconfigured(c) {
		return
	}

	releaseID, err := strconv.Atoi(c.Param("id"))
	if err != nil || releaseID < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Release id must be a positive integer"})
		return
	}

	ctx, _ := telemetry.NewContext(c.Request.Context(), c.Query("skip_cache") == "true")
	release, err := h.service.GetRelease(ctx, releaseID)
	if err != nil {
		var upstream *discogs.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Release not found"})
			return
		}
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, release)
}
