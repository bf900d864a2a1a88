package cache

import (
	"context"
	"sync"
	"time"
)

// SignedURL is a time-limited access URL for one asset's blob.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s SignedURL) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// URLCache maps asset id -> signed URL. An expired entry is treated as
// absent; consumers must tolerate a miss and re-resolve. Reads are monotonic
// per id: a fresh URL is never replaced by a staler one.
type URLCache interface {
	Get(ctx context.Context, assetID string) (SignedURL, bool)
	Put(ctx context.Context, assetID string, url SignedURL)
	Invalidate(ctx context.Context, assetID string)
}

// Memory is an in-process URLCache. Expired entries linger until read or
// swept; Sweep is wired to the maintenance scheduler.
type Memory struct {
	mu      sync.Mutex
	entries map[string]SignedURL
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]SignedURL),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, assetID string) (SignedURL, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[assetID]
	if !ok {
		return SignedURL{}, false
	}
	if entry.expired(m.now()) {
		delete(m.entries, assetID)
		return SignedURL{}, false
	}
	return entry, true
}

func (m *Memory) Put(_ context.Context, assetID string, url SignedURL) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[assetID]; ok && existing.ExpiresAt.After(url.ExpiresAt) {
		return
	}
	m.entries[assetID] = url
}

func (m *Memory) Invalidate(_ context.Context, assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, assetID)
}

// Sweep drops expired entries and reports how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
