// Command warm-discogs-cache walks the library catalog and fills the
// persistent Discogs cache with release metadata, so lookups hit the cache
// instead of the rate-limited API. Safe to re-run; already cached releases
// are skipped by the cache tiers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"librarylookup/internal/config"
	"librarylookup/internal/discogs"
	"librarylookup/internal/library"
	"librarylookup/internal/textnorm"
)

const pageSize = 200

func main() {
	// Load .env file for local development
	_ = godotenv.Load()

	limit := flag.Int("limit", 0, "stop after this many catalog items (0 = all)")
	flag.Parse()

	// Initialize structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if !cfg.DiscogsEnabled() {
		slog.Error("DISCOGS_TOKEN is required for cache warming")
		os.Exit(1)
	}
	if cfg.DatabaseURLDiscogs == "" {
		slog.Error("DATABASE_URL_DISCOGS is required for cache warming")
		os.Exit(1)
	}

	ctx := context.Background()

	store := library.NewStore(cfg.LibraryDBPath)
	if err := store.Open(); err != nil {
		slog.Error("Failed to open library database", "path", cfg.LibraryDBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	pg, err := discogs.NewPGCache(ctx, cfg.DatabaseURLDiscogs)
	if err != nil {
		slog.Error("Failed to connect to Discogs cache database", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	client := discogs.NewClient(discogs.ClientConfig{
		Token:             cfg.DiscogsToken,
		RequestsPerMinute: cfg.DiscogsRequestsPerMinute,
		MaxConcurrent:     cfg.DiscogsMaxConcurrent,
		MaxRetries:        cfg.DiscogsMaxRetries,
		BaseURL:           cfg.DiscogsBaseURL,
	})
	service := discogs.NewService(client, pg, discogs.DefaultCacheSizes())

	slog.Info("Starting Discogs cache warm-up", "path", cfg.LibraryDBPath)

	processed := 0
	warmed := 0
	misses := 0

catalog:
	for offset := 0; ; offset += pageSize {
		items, err := store.Items(ctx, offset, pageSize)
		if err != nil {
			slog.Error("Failed to page catalog", "offset", offset, "error", err)
			os.Exit(1)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if *limit > 0 && processed >= *limit {
				break catalog
			}
			processed++

			if warmItem(ctx, service, item) {
				warmed++
			} else {
				misses++
			}
			if processed%100 == 0 {
				slog.Info("Warm-up progress", "processed", processed, "warmed", warmed, "misses", misses)
			}
		}
	}

	slog.Info("Discogs cache warm-up completed",
		"processed", processed,
		"warmed", warmed,
		"misses", misses)

	fmt.Printf("Processed: %d items\n", processed)
	fmt.Printf("Warmed: %d releases\n", warmed)
	fmt.Printf("No match: %d items\n", misses)
}

// warmItem resolves one catalog item to a Discogs release and pulls the full
// release through the service, which writes it into the persistent cache.
func warmItem(ctx context.Context, service *discogs.Service, item library.Item) bool {
	artist := item.Artist
	if textnorm.IsCompilationArtist(artist) {
		artist = "Various"
	}

	resp, err := service.Search(ctx, discogs.SearchRequest{Artist: artist, Album: item.Title}, 1)
	if err != nil {
		slog.Warn("Search failed", "artist", item.Artist, "title", item.Title, "error", err)
		return false
	}
	if len(resp.Results) == 0 || resp.Results[0].ReleaseID == 0 {
		return false
	}

	release, err := service.GetRelease(ctx, resp.Results[0].ReleaseID)
	if err != nil {
		slog.Warn("Release fetch failed", "release_id", resp.Results[0].ReleaseID, "error", err)
		return false
	}

	slog.Debug("Cached release", "artist", release.Artist, "title", release.Title,
		"release_id", release.ReleaseID)
	return true
}
