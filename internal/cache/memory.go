// Package cache implements the in-memory TTL caches that form the first
// tier in front of the persistent cache and the Discogs API.
package cache

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"librarylookup/internal/telemetry"
	"librarylookup/internal/textnorm"
)

// Memory is a keyed cache with per-entry TTL and a capacity bound.
// When full, the least recently inserted entry is evicted. Safe for
// concurrent use.
type Memory struct {
	maxItems int
	ttl      time.Duration

	mu    sync.RWMutex
	items map[string]*list.Element
	order *list.List
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// NewMemory creates a cache holding at most maxItems entries for ttl each.
func NewMemory(maxItems int, ttl time.Duration) *Memory {
	return &Memory{
		maxItems: maxItems,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key. Expired entries are removed on
// access. A hit increments the request's memory_hits counter; the per-request
// skip_cache flag bypasses the read entirely.
func (m *Memory) Get(ctx context.Context, key string) (any, bool) {
	if telemetry.SkipCache(ctx) {
		return nil, false
	}

	m.mu.RLock()
	elem, found := m.items[key]
	var (
		value   any
		expired bool
	)
	if found {
		e := elem.Value.(*entry)
		value = e.value
		expired = time.Now().After(e.expiresAt)
	}
	m.mu.RUnlock()

	if !found {
		return nil, false
	}

	if expired {
		m.mu.Lock()
		// A concurrent Set may have refreshed the entry between the read
		// and write locks; recheck identity and expiry before removing.
		if m.items[key] == elem {
			if e := elem.Value.(*entry); time.Now().After(e.expiresAt) {
				m.removeElement(elem)
			}
		}
		m.mu.Unlock()
		return nil, false
	}

	telemetry.RecordMemoryHit(ctx)
	return value, true
}

// Set stores value under key. Nil values are suppressed so negative results
// are never cached. The per-request skip_cache flag suppresses writes too.
func (m *Memory) Set(ctx context.Context, key string, value any) {
	if value == nil || telemetry.SkipCache(ctx) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := time.Now().Add(m.ttl)

	if elem, found := m.items[key]; found {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return
	}

	elem := m.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	m.items[key] = elem

	for m.order.Len() > m.maxItems {
		if oldest := m.order.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}
}

// Clear removes all entries.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.order = list.New()
}

// Size returns the current number of entries.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// removeElement removes an element from both the map and the list.
// Caller must hold the write lock.
func (m *Memory) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(m.items, e.key)
	m.order.Remove(elem)
}

// Key derives a stable cache key from an operation name and its arguments.
// Arguments are canonicalized so equivalent requests share an entry.
func Key(operation string, args ...string) string {
	var b strings.Builder
	b.WriteString(operation)
	for _, arg := range args {
		b.WriteByte('\x00')
		b.WriteString(textnorm.Normalize(arg))
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
