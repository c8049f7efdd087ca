package discogs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"librarylookup/internal/telemetry"
)

const apiBaseURL = "https://api.discogs.com"

// UpstreamError is a non-retriable failure from the Discogs API.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discogs %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("discogs %s failed: status %d", e.Operation, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ClientConfig controls the client's rate limiting and retry behavior.
type ClientConfig struct {
	Token             string
	RequestsPerMinute int
	MaxConcurrent     int
	MaxRetries        int

	// BaseURL overrides the Discogs API endpoint, empty means production.
	BaseURL string
}

// Client is the rate-limited HTTP client for the Discogs API. One instance
// is shared by all requests; the throughput and concurrency gates are
// process-global.
type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	sem        chan struct{}
	maxRetries int
}

// NewClient creates a client authenticated with the given token.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = apiBaseURL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 5
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Authorization", "Discogs token="+cfg.Token).
		SetHeader("User-Agent", "LibraryMetadataLookup/1.0")

	return &Client{
		http:       httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		sem:        make(chan struct{}, concurrent),
		maxRetries: cfg.MaxRetries,
	}
}

// get performs a GET with rate limiting and retry on 429 and 5xx. Each
// attempt acquires the throughput gate then the concurrency gate, and
// releases them in reverse once the response is complete. Retries back off
// 2^attempt seconds.
func (c *Client) get(ctx context.Context, operation, path string, params map[string]string, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &UpstreamError{Operation: operation, Err: err}
		}
		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return &UpstreamError{Operation: operation, Err: ctx.Err()}
		}

		start := time.Now()
		req := c.http.R().SetContext(ctx).SetQueryParams(params)
		if out != nil {
			req.SetResult(out)
		}
		resp, err := req.Get(path)
		<-c.sem

		telemetry.RecordAPITime(ctx, time.Since(start))
		telemetry.RecordAPICall(ctx)

		if err != nil {
			return &UpstreamError{Operation: operation, Err: err}
		}

		if remaining := resp.Header().Get("X-Discogs-Ratelimit-Remaining"); remaining != "" {
			slog.Debug("Discogs rate limit remaining", "remaining", remaining)
		}

		status := resp.StatusCode()
		switch {
		case status == http.StatusTooManyRequests || status >= 500:
			if attempt >= c.maxRetries {
				slog.Error("Discogs retries exhausted", "operation", operation, "status", status)
				return &UpstreamError{Operation: operation, StatusCode: status}
			}
			delay := time.Duration(1<<attempt) * time.Second
			slog.Warn("Discogs request throttled, retrying",
				"operation", operation, "status", status, "delay", delay,
				"attempt", attempt+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &UpstreamError{Operation: operation, Err: ctx.Err()}
			}
		case status >= 300:
			return &UpstreamError{Operation: operation, StatusCode: status}
		default:
			return nil
		}
	}
}

// CheckAPI verifies connectivity with the Discogs identity endpoint. The
// probe goes through both gates so it counts against the request budget, but
// a failure is never retried.
func (c *Client) CheckAPI(ctx context.Context) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		return false
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-c.sem }()

	resp, err := c.http.R().SetContext(ctx).Get("/oauth/identity")
	return err == nil && resp.StatusCode() == http.StatusOK
}
