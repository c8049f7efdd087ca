package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"librarylookup/internal/config"
	"librarylookup/internal/discogs"
	"librarylookup/internal/handlers"
	"librarylookup/internal/library"
	"librarylookup/internal/lookup"
)

func main() {
	// Load .env file for local development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	gin.SetMode(cfg.GinMode)

	// Open the library catalog. A missing file is tolerated: searches return
	// store-unavailable until a database is uploaded.
	store := library.NewStore(cfg.LibraryDBPath)
	if err := store.Open(); err != nil {
		slog.Warn("Library database not available at startup", "path", cfg.LibraryDBPath, "error", err)
	}
	defer store.Close()

	// Wire the Discogs metadata service when a token is configured.
	var service *discogs.Service
	if cfg.DiscogsEnabled() {
		var pg *discogs.PGCache
		if cfg.DatabaseURLDiscogs != "" {
			pg, err = discogs.NewPGCache(context.Background(), cfg.DatabaseURLDiscogs)
			if err != nil {
				slog.Warn("Discogs cache database unavailable, continuing without it", "error", err)
				pg = nil
			} else {
				defer pg.Close()
			}
		}

		client := discogs.NewClient(discogs.ClientConfig{
			Token:             cfg.DiscogsToken,
			RequestsPerMinute: cfg.DiscogsRequestsPerMinute,
			MaxConcurrent:     cfg.DiscogsMaxConcurrent,
			MaxRetries:        cfg.DiscogsMaxRetries,
			BaseURL:           cfg.DiscogsBaseURL,
		})
		service = discogs.NewService(client, pg, discogs.CacheSizes{
			TrackItems:   cfg.TrackCacheSize,
			TrackTTL:     cfg.TrackCacheTTL,
			ReleaseItems: cfg.ReleaseCacheSize,
			ReleaseTTL:   cfg.ReleaseCacheTTL,
			SearchItems:  cfg.SearchCacheSize,
			SearchTTL:    cfg.SearchCacheTTL,
			ImageItems:   cfg.ImageCacheSize,
			ImageTTL:     cfg.ImageCacheTTL,
		})
	} else {
		slog.Warn("DISCOGS_TOKEN not set, external metadata enrichment disabled")
	}

	// The orchestrator takes the metadata service as an interface; keep it
	// truly nil when unconfigured.
	var metadata lookup.Metadata
	if service != nil {
		metadata = service
	}
	orchestrator := lookup.NewOrchestrator(store, metadata, cfg.DiscogsMaxConcurrent)

	router := handlers.NewRouter(cfg, store, service, orchestrator)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}
