package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persister stores one owner's workspace id list across reloads. Scoped per
// authenticated owner; Clear also stamps a new session start so ids saved
// before the clear are discarded on the next Load.
type Persister interface {
	Load(ctx context.Context, ownerID string) ([]string, error)
	Save(ctx context.Context, ownerID string, ids []string) error
	Clear(ctx context.Context, ownerID string) error
}

func filterKey(ownerID string) string {
	return "workspaceFilter_" + ownerID
}

func sessionKey(ownerID string) string {
	return "workspaceSession_" + ownerID
}

type persistedSet struct {
	IDs     []string  `json:"ids"`
	SavedAt time.Time `json:"savedAt"`
}

// RedisPersister keeps the id list and session stamp in redis.
type RedisPersister struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisPersister(client *redis.Client) *RedisPersister {
	return &RedisPersister{
		client: client,
		now:    time.Now,
	}
}

func (p *RedisPersister) Load(ctx context.Context, ownerID string) ([]string, error) {
	raw, err := p.client.Get(ctx, filterKey(ownerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	var set persistedSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}

	stamp, err := p.client.Get(ctx, sessionKey(ownerID)).Result()
	if err == nil {
		sessionStart, parseErr := time.Parse(time.RFC3339Nano, stamp)
		if parseErr == nil && set.SavedAt.Before(sessionStart) {
			return nil, nil
		}
	} else if err != redis.Nil {
		return nil, fmt.Errorf("load session stamp: %w", err)
	}

	return set.IDs, nil
}

func (p *RedisPersister) Save(ctx context.Context, ownerID string, ids []string) error {
	raw, err := json.Marshal(persistedSet{IDs: ids, SavedAt: p.now()})
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	if err := p.client.Set(ctx, filterKey(ownerID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

func (p *RedisPersister) Clear(ctx context.Context, ownerID string) error {
	if err := p.client.Del(ctx, filterKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	stamp := p.now().Format(time.RFC3339Nano)
	if err := p.client.Set(ctx, sessionKey(ownerID), stamp, 0).Err(); err != nil {
		return fmt.Errorf("stamp session: %w", err)
	}
	return nil
}

// MemoryPersister backs tests and single-process deployments.
type MemoryPersister struct {
	mu       sync.Mutex
	sets     map[string]persistedSet
	sessions map[string]time.Time
	now      func() time.Time
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{
		sets:     make(map[string]persistedSet),
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (p *MemoryPersister) Load(_ context.Context, ownerID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.sets[ownerID]
	if !ok {
		return nil, nil
	}
	if start, ok := p.sessions[ownerID]; ok && set.SavedAt.Before(start) {
		return nil, nil
	}
	return append([]string(nil), set.IDs...), nil
}

func (p *MemoryPersister) Save(_ context.Context, ownerID string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[ownerID] = persistedSet{IDs: append([]string(nil), ids...), SavedAt: p.now()}
	return nil
}

func (p *MemoryPersister) Clear(_ context.Context, ownerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sets, ownerID)
	p.sessions[ownerID] = p.now()
	return nil
}
