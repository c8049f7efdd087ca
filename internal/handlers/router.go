package handlers

import (
	"github.com/gin-gonic/gin"

	"librarylookup/internal/config"
	"librarylookup/internal/discogs"
	"librarylookup/internal/library"
	"librarylookup/internal/lookup"
)

// Version is the reported service version.
const Version = "1.0.0"

// NewRouter builds the gin engine with all routes wired. service may be nil
// when Discogs is not configured.
func NewRouter(cfg *config.Config, store *library.Store, service *discogs.Service, orchestrator *lookup.Orchestrator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := NewHealthHandler(store, service, Version)
	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	{
		lookupHandler := NewLookupHandler(orchestrator)
		v1.POST("/lookup", lookupHandler.Lookup)

		libraryHandler := NewLibraryHandler(store)
		v1.GET("/library/search", libraryHandler.Search)

		discogsHandler := NewDiscogsHandler(service)
		v1.POST("/discogs/search", discogsHandler.Search)
		v1.GET("/discogs/track-releases", discogsHandler.TrackReleases)
		v1.GET("/discogs/release/:id", discogsHandler.Release)

		adminHandler := NewAdminHandler(store, cfg.LibraryDBPath, cfg.AdminToken)
		v1.POST("/admin/upload-library-db", adminHandler.UploadLibraryDB)
	}

	return router
}
