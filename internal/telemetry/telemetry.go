// Package telemetry tracks per-request cache accounting and step timings.
//
// A Stats value is attached to the request context at the start of a lookup
// and threaded through every cache and API call. Each concurrent request has
// its own Stats; counter updates use atomics because a request may fan out
// to bounded parallel work.
package telemetry

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type ctxKey struct{}

// Stats accumulates cache and API counters for a single request.
type Stats struct {
	memoryHits int64
	pgHits     int64
	pgMisses   int64
	apiCalls   int64
	pgTimeUs   int64
	apiTimeUs  int64

	skipCache bool

	mu    sync.Mutex
	steps []Step
}

// Step records the duration of one named pipeline step.
type Step struct {
	Name       string  `json:"name"`
	DurationMs float64 `json:"duration_ms"`
}

// Snapshot is the JSON shape of the per-request counters.
type Snapshot struct {
	MemoryHits int     `json:"memory_hits"`
	PgHits     int     `json:"pg_hits"`
	PgMisses   int     `json:"pg_misses"`
	APICalls   int     `json:"api_calls"`
	PgTimeMs   float64 `json:"pg_time_ms"`
	APITimeMs  float64 `json:"api_time_ms"`
}

// NewContext returns a child context carrying a fresh Stats.
func NewContext(ctx context.Context, skipCache bool) (context.Context, *Stats) {
	s := &Stats{skipCache: skipCache}
	return context.WithValue(ctx, ctxKey{}, s), s
}

// FromContext returns the Stats attached to ctx, or nil.
func FromContext(ctx context.Context) *Stats {
	s, _ := ctx.Value(ctxKey{}).(*Stats)
	return s
}

// SkipCache reports whether the current request asked to bypass all caches.
func SkipCache(ctx context.Context) bool {
	if s := FromContext(ctx); s != nil {
		return s.skipCache
	}
	return false
}

// RecordMemoryHit increments the in-memory cache hit counter.
func RecordMemoryHit(ctx context.Context) {
	if s := FromContext(ctx); s != nil {
		atomic.AddInt64(&s.memoryHits, 1)
	}
}

// RecordPgHit increments the persistent cache hit counter.
func RecordPgHit(ctx context.Context) {
	if s := FromContext(ctx); s != nil {
		atomic.AddInt64(&s.pgHits, 1)
	}
}

// RecordPgMiss increments the persistent cache miss counter.
func RecordPgMiss(ctx context.Context) {
	if s := FromContext(ctx); s != nil {
		atomic.AddInt64(&s.pgMisses, 1)
	}
}

// RecordAPICall increments the upstream API call counter.
func RecordAPICall(ctx context.Context) {
	if s := FromContext(ctx); s != nil {
		atomic.AddInt64(&s.apiCalls, 1)
	}
}

// RecordPgTime accumulates persistent cache query time.
func RecordPgTime(ctx context.Context, d time.Duration) {
	if s := FromContext(ctx); s != nil {
		atomic.AddInt64(&s.pgTimeUs, d.Microseconds())
	}
}

// RecordAPITime accumulates upstream API call time.
func RecordAPITime(ctx context.Context, d time.Duration) {
	if s := FromContext(ctx); s != nil {
		atomic.AddInt64(&s.apiTimeUs, d.Microseconds())
	}
}

// TrackStep times fn and records it as a named step.
func (s *Stats) TrackStep(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	s.mu.Lock()
	s.steps = append(s.steps, Step{Name: name, DurationMs: roundMs(elapsed)})
	s.mu.Unlock()
	return err
}

// Steps returns the recorded step timings in execution order.
func (s *Stats) Steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Snapshot returns a copy of the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		MemoryHits: int(atomic.LoadInt64(&s.memoryHits)),
		PgHits:     int(atomic.LoadInt64(&s.pgHits)),
		PgMisses:   int(atomic.LoadInt64(&s.pgMisses)),
		APICalls:   int(atomic.LoadInt64(&s.apiCalls)),
		PgTimeMs:   roundMs(time.Duration(atomic.LoadInt64(&s.pgTimeUs)) * time.Microsecond),
		APITimeMs:  roundMs(time.Duration(atomic.LoadInt64(&s.apiTimeUs)) * time.Microsecond),
	}
}

func roundMs(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/1000*100) / 100
}
