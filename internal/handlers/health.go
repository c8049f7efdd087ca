package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"librarylookup/internal/discogs"
	"librarylookup/internal/library"
)

const probeTimeout = 3 * time.Second

// HealthHandler reports dependency connectivity
type HealthHandler struct {
	store   *library.Store
	service *discogs.Service
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store *library.Store, service *discogs.Service, version string) *HealthHandler {
	return &HealthHandler{store: store, service: service, version: version}
}

// probe runs one check with the shared timeout.
func probe(ctx context.Context, check func(context.Context) bool) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- check(ctx) }()

	select {
	case ok := <-done:
		if ok {
			return "ok"
		}
		return "error"
	case <-ctx.Done():
		return "timeout"
	}
}

// Health handles GET /health. The catalog is the core dependency: if it is
// down the service is unhealthy (503). Discogs API or cache problems only
// degrade.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		wg                         sync.WaitGroup
		database, api, cacheStatus string
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		database = probe(ctx, h.store.Available)
	}()

	if h.service == nil {
		api = "unavailable"
		cacheStatus = "unavailable"
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			api = probe(ctx, h.service.CheckAPI)
		}()
		if h.service.HasCache() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cacheStatus = probe(ctx, h.service.CacheAvailable)
			}()
		} else {
			cacheStatus = "unavailable"
		}
	}
	wg.Wait()

	services := gin.H{
		"database":      database,
		"discogs_api":   api,
		"discogs_cache": cacheStatus,
	}

	status := "healthy"
	code := http.StatusOK
	switch {
	case database != "ok":
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case api == "error" || api == "timeout" || cacheStatus == "error" || cacheStatus == "timeout":
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"version":  h.version,
		"services": services,
	})
}
