package workspace

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Item is one workspace member: an asset id plus the creation timestamp used
// for snapshot ordering.
type Item struct {
	ID        string
	CreatedAt time.Time
}

// Store is the authoritative set of asset ids in one owner's workspace.
// Reveals are atomic: a consumer never observes part of a batch. Persistence
// is best-effort; a failed save is logged and never fails the mutation.
type Store struct {
	ownerID   string
	persister Persister
	log       zerolog.Logger

	mu      sync.Mutex
	entries map[string]Item
}

func NewStore(ownerID string, persister Persister, log zerolog.Logger) *Store {
	return &Store{
		ownerID:   ownerID,
		persister: persister,
		log:       log,
		entries:   make(map[string]Item),
	}
}

// Reveal adds a complete batch in one state transition.
func (s *Store) Reveal(ctx context.Context, items []Item) {
	s.mu.Lock()
	for _, item := range items {
		if _, exists := s.entries[item.ID]; exists {
			continue
		}
		s.entries[item.ID] = item
	}
	ids := s.idsLocked()
	s.mu.Unlock()

	s.persist(ctx, ids)
}

// Add inserts items one by one; re-adding an existing id is a no-op.
func (s *Store) Add(ctx context.Context, items []Item) {
	s.Reveal(ctx, items)
}

// Remove takes an id out of the workspace and returns the removed item so an
// optimistic removal can be rolled back if the collaborator rejects it.
func (s *Store) Remove(ctx context.Context, id string) (Item, bool) {
	s.mu.Lock()
	item, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Item{}, false
	}
	delete(s.entries, id)
	ids := s.idsLocked()
	s.mu.Unlock()

	s.persist(ctx, ids)
	return item, true
}

// Clear empties the workspace and the persisted copy, and stamps a new
// session start so stale persisted ids from before the clear never
// resurrect.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.entries = make(map[string]Item)
	s.mu.Unlock()

	if err := s.persister.Clear(ctx, s.ownerID); err != nil {
		s.log.Warn().Err(err).Str("owner_id", s.ownerID).Msg("clear persisted workspace failed")
	}
}

// Restore merges the persisted set into the in-memory one, if any. Entries
// added since the load began win over their persisted copies, so a restore
// never erases a concurrent mutation. hydrate maps persisted ids back to
// items; ids it cannot resolve are dropped. Absence of a persisted value is
// not an error.
func (s *Store) Restore(ctx context.Context, hydrate func(ctx context.Context, ids []string) []Item) {
	ids, err := s.persister.Load(ctx, s.ownerID)
	if err != nil {
		s.log.Warn().Err(err).Str("owner_id", s.ownerID).Msg("load persisted workspace failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	items := hydrate(ctx, ids)

	s.mu.Lock()
	for _, item := range items {
		if _, exists := s.entries[item.ID]; exists {
			continue
		}
		s.entries[item.ID] = item
	}
	s.mu.Unlock()
}

func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns the current contents, most recent first.
func (s *Store) Snapshot() []Item {
	s.mu.Lock()
	items := make([]Item, 0, len(s.entries))
	for _, item := range s.entries {
		items = append(items, item)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items
}

func (s *Store) idsLocked() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) persist(ctx context.Context, ids []string) {
	if err := s.persister.Save(ctx, s.ownerID, ids); err != nil {
		s.log.Warn().Err(err).Str("owner_id", s.ownerID).Msg("persist workspace failed")
	}
}
