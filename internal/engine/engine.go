package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"genboard/engine/internal/bucket"
	"genboard/engine/internal/cache"
	"genboard/engine/internal/coordinator"
	"genboard/engine/internal/models"
	"genboard/engine/internal/resolver"
	"genboard/engine/internal/visibility"
	"genboard/engine/internal/workspace"
)

// ErrDeleteFailed means the storage collaborator rejected a removal; the
// optimistic workspace removal has been rolled back.
var ErrDeleteFailed = errors.New("delete failed")

// AssetSource is the asset-record backing store.
type AssetSource interface {
	Upsert(ctx context.Context, asset models.Asset) error
	GetByID(ctx context.Context, id string) (models.Asset, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Asset, error)
	Delete(ctx context.Context, id string) error
}

// Resolver turns asset ids into signed URLs; see resolver.Pool.
type Resolver interface {
	Resolve(ctx context.Context, ids []string) map[string]resolver.Result
}

// BlobRemover deletes the stored blob for a removed asset.
type BlobRemover interface {
	Remove(ctx context.Context, bucketName, objectKey string) error
}

type Options struct {
	Assets            AssetSource
	Resolver          Resolver
	Cache             cache.URLCache
	Remover           BlobRemover
	Persister         workspace.Persister
	Visibility        visibility.Config
	NotificationLimit int
	Logger            zerolog.Logger
}

// Engine ties the coordinator, workspace stores, visibility oracle and
// resolver together behind the API the rendering layer consumes. Workspace
// stores are per owner and created lazily; the coordinator and oracle are
// shared since asset and job ids are globally unique.
type Engine struct {
	assets    AssetSource
	pool      Resolver
	urlCache  cache.URLCache
	remover   BlobRemover
	persister workspace.Persister
	notifier  *Notifier
	coord     *coordinator.Coordinator
	oracle    *visibility.Oracle
	log       zerolog.Logger

	mu          sync.Mutex
	stores      map[string]*workspace.Store
	storeFlight singleflight.Group

	stateMu sync.Mutex
	states  map[string]models.ResolutionState
}

func New(opts Options) *Engine {
	e := &Engine{
		assets:    opts.Assets,
		pool:      opts.Resolver,
		urlCache:  opts.Cache,
		remover:   opts.Remover,
		persister: opts.Persister,
		notifier:  NewNotifier(opts.NotificationLimit, opts.Logger),
		log:       opts.Logger,
		stores:    make(map[string]*workspace.Store),
		states:    make(map[string]models.ResolutionState),
	}
	e.coord = coordinator.New(e.revealJob, opts.Logger)
	e.oracle = visibility.New(opts.Visibility, e.resolveBatch, opts.Logger)
	return e
}

func (e *Engine) Start() {
	e.oracle.Start()
}

func (e *Engine) Stop() {
	e.oracle.Stop()
}

// Coordinator exposes the batch coordinator for maintenance sweeps.
func (e *Engine) Coordinator() *coordinator.Coordinator {
	return e.coord
}

// HandleEvent routes one push notification from the job backend.
func (e *Engine) HandleEvent(ctx context.Context, event models.AssetEvent) error {
	if event.EventType == models.EventTypeDelete {
		return e.handleRemoteDelete(ctx, event)
	}

	switch event.Status {
	case models.AssetStatusCompleted:
		return e.handleCompletion(ctx, event)
	case models.AssetStatusFailed:
		e.log.Info().Str("job_id", event.JobID).Str("owner_id", event.OwnerID).Msg("job failed")
		e.notifier.Publish(event.OwnerID, event.JobID, NotificationJobFailed, "generation failed")
		return nil
	default:
		// queued/processing transitions keep the record warm but never touch
		// the workspace.
		if event.AssetID == "" {
			return nil
		}
		if err := e.assets.Upsert(ctx, event.Asset()); err != nil {
			return fmt.Errorf("upsert asset %s: %w", event.AssetID, err)
		}
		return nil
	}
}

func (e *Engine) handleCompletion(ctx context.Context, event models.AssetEvent) error {
	if err := e.assets.Upsert(ctx, event.Asset()); err != nil {
		return fmt.Errorf("upsert asset %s: %w", event.AssetID, err)
	}
	e.coord.OnCompletion(event.JobID, event.AssetID, event.DeclaredOutputCount)
	return nil
}

// handleRemoteDelete reflects a deletion confirmed by the backend: local
// state only, the blob is already gone.
func (e *Engine) handleRemoteDelete(ctx context.Context, event models.AssetEvent) error {
	store := e.storeFor(ctx, event.OwnerID)
	if _, ok := store.Remove(ctx, event.AssetID); ok {
		e.dropState(event.AssetID)
		e.oracle.Unregister(event.AssetID)
		e.urlCache.Invalidate(ctx, event.AssetID)
		e.urlCache.Invalidate(ctx, resolver.ThumbKey(event.AssetID))
	}
	return nil
}

// revealJob is the coordinator's reveal sink: a job's complete output set
// enters the owning workspace in one atomic transition.
func (e *Engine) revealJob(jobID string, assetIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assets, err := e.assets.ListByIDs(ctx, assetIDs)
	if err != nil {
		e.log.Error().Err(err).Str("job_id", jobID).Msg("load revealed assets failed")
		return
	}

	byOwner := make(map[string][]workspace.Item)
	for _, asset := range assets {
		createdAt := asset.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		byOwner[asset.OwnerID] = append(byOwner[asset.OwnerID], workspace.Item{ID: asset.ID, CreatedAt: createdAt})
	}

	for ownerID, items := range byOwner {
		store := e.storeFor(ctx, ownerID)
		store.Reveal(ctx, items)
		for _, item := range items {
			e.setState(item.ID, models.ResolutionPending)
			e.oracle.Register(item.ID)
		}
		e.notifier.Publish(ownerID, jobID, NotificationBatchCompleted, fmt.Sprintf("%d output(s) ready", len(items)))
		e.log.Info().
			Str("job_id", jobID).
			Str("owner_id", ownerID).
			Int("count", len(items)).
			Msg("batch revealed")
	}
}

// resolveBatch is the visibility oracle's dispatch sink. Results warm the
// cache; tiles pick URLs up on the next snapshot.
func (e *Engine) resolveBatch(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range ids {
		e.advanceState(id, models.ResolutionResolving)
	}

	results := e.pool.Resolve(ctx, ids)
	for id, res := range results {
		if res.Err != nil {
			e.advanceState(id, models.ResolutionFailed)
			e.log.Debug().Err(res.Err).Str("asset_id", id).Msg("tile resolution failed")
			continue
		}
		e.advanceState(id, models.ResolutionResolved)
	}
}

// SnapshotTiles projects the owner's workspace into render-ready tiles,
// most recent first. URLs come from the cache only; a tile whose URL is not
// resolved yet (or whose resolution failed) carries nil and the render layer
// shows its fallback.
func (e *Engine) SnapshotTiles(ctx context.Context, ownerID string) ([]models.Tile, error) {
	store := e.storeFor(ctx, ownerID)
	items := store.Snapshot()
	if len(items) == 0 {
		return []models.Tile{}, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	assets, err := e.assets.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	byID := make(map[string]models.Asset, len(assets))
	for _, asset := range assets {
		byID[asset.ID] = asset
	}

	tiles := make([]models.Tile, 0, len(items))
	for _, item := range items {
		asset, ok := byID[item.ID]
		if !ok {
			continue
		}
		tile := models.Tile{
			ID:        asset.ID,
			Type:      asset.Type,
			State:     e.stateOf(asset.ID),
			Prompt:    asset.Prompt,
			Quality:   asset.Quality,
			CreatedAt: item.CreatedAt,
		}
		if entry, ok := e.urlCache.Get(ctx, asset.ID); ok {
			url := entry.URL
			tile.URL = &url
			tile.State = models.ResolutionResolved
		}
		if entry, ok := e.urlCache.Get(ctx, resolver.ThumbKey(asset.ID)); ok {
			thumb := entry.URL
			tile.ThumbnailURL = &thumb
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}

// ReportVisible feeds enter/exit transitions from the render layer into the
// oracle. Ids outside the owner's workspace are ignored.
func (e *Engine) ReportVisible(ctx context.Context, ownerID string, visible, hidden []string) {
	store := e.storeFor(ctx, ownerID)
	for _, id := range visible {
		if store.Contains(id) {
			e.oracle.Observe(id, true)
		}
	}
	for _, id := range hidden {
		e.oracle.Observe(id, false)
	}
}

// Import adds externally-supplied asset ids to the workspace.
func (e *Engine) Import(ctx context.Context, ownerID string, assetIDs []string) error {
	assets, err := e.assets.ListByIDs(ctx, assetIDs)
	if err != nil {
		return fmt.Errorf("load imported assets: %w", err)
	}

	store := e.storeFor(ctx, ownerID)
	items := make([]workspace.Item, 0, len(assets))
	for _, asset := range assets {
		if asset.OwnerID != ownerID {
			continue
		}
		createdAt := asset.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		items = append(items, workspace.Item{ID: asset.ID, CreatedAt: createdAt})
	}
	store.Add(ctx, items)
	for _, item := range items {
		e.setState(item.ID, models.ResolutionPending)
		e.oracle.Register(item.ID)
	}
	return nil
}

// Remove takes an asset out of the workspace and asks the collaborator to
// delete its blob. The local removal is optimistic: if the collaborator
// rejects, the id is restored and ErrDeleteFailed returned.
func (e *Engine) Remove(ctx context.Context, ownerID, assetID string) error {
	store := e.storeFor(ctx, ownerID)

	removed, ok := store.Remove(ctx, assetID)
	if !ok {
		return nil
	}

	asset, err := e.assets.GetByID(ctx, assetID)
	if err == nil && asset.StorageRef != "" {
		bkt := bucket.Infer(asset.ModelMeta, asset.Type, asset.Quality)
		if err := e.remover.Remove(ctx, bkt, asset.StorageRef); err != nil {
			store.Add(ctx, []workspace.Item{removed})
			e.notifier.Publish(ownerID, asset.JobID, NotificationDeleteFailed, "could not delete asset")
			return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
		}
	}

	e.dropState(assetID)
	e.oracle.Unregister(assetID)
	e.urlCache.Invalidate(ctx, assetID)
	e.urlCache.Invalidate(ctx, resolver.ThumbKey(assetID))
	if err := e.assets.Delete(ctx, assetID); err != nil {
		e.log.Warn().Err(err).Str("asset_id", assetID).Msg("asset record delete failed")
	}
	return nil
}

// ClearWorkspace empties the owner's workspace and its persisted copy.
func (e *Engine) ClearWorkspace(ctx context.Context, ownerID string) {
	store := e.storeFor(ctx, ownerID)
	for _, item := range store.Snapshot() {
		e.dropState(item.ID)
		e.oracle.Unregister(item.ID)
		e.urlCache.Invalidate(ctx, item.ID)
		e.urlCache.Invalidate(ctx, resolver.ThumbKey(item.ID))
	}
	store.Clear(ctx)
}

// Notifications drains the owner's pending toast messages.
func (e *Engine) Notifications(ownerID string) []Notification {
	return e.notifier.Drain(ownerID)
}

// setState advances one asset's resolution state machine. The engine is the
// only component allowed to trigger transitions.
func (e *Engine) setState(id string, state models.ResolutionState) {
	e.stateMu.Lock()
	e.states[id] = state
	e.stateMu.Unlock()
}

// advanceState moves an id's state only while the asset is still tracked; a
// removal mid-flight must not resurrect the entry.
func (e *Engine) advanceState(id string, state models.ResolutionState) {
	e.stateMu.Lock()
	if _, ok := e.states[id]; ok {
		e.states[id] = state
	}
	e.stateMu.Unlock()
}

func (e *Engine) dropState(id string) {
	e.stateMu.Lock()
	delete(e.states, id)
	e.stateMu.Unlock()
}

func (e *Engine) stateOf(id string) models.ResolutionState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if state, ok := e.states[id]; ok {
		return state
	}
	return models.ResolutionPending
}

// storeFor returns the owner's workspace store, creating and restoring it on
// first use. The restore completes before the store is published, so a reveal
// landing on first touch waits behind the flight instead of being replaced by
// the persisted set.
func (e *Engine) storeFor(ctx context.Context, ownerID string) *workspace.Store {
	e.mu.Lock()
	if store, ok := e.stores[ownerID]; ok {
		e.mu.Unlock()
		return store
	}
	e.mu.Unlock()

	v, _, _ := e.storeFlight.Do(ownerID, func() (any, error) {
		store := workspace.NewStore(ownerID, e.persister, e.log)
		store.Restore(context.WithoutCancel(ctx), func(ctx context.Context, ids []string) []workspace.Item {
			assets, err := e.assets.ListByIDs(ctx, ids)
			if err != nil {
				e.log.Warn().Err(err).Str("owner_id", ownerID).Msg("hydrate persisted workspace failed")
				return nil
			}
			items := make([]workspace.Item, 0, len(assets))
			for _, asset := range assets {
				if asset.OwnerID != ownerID {
					continue
				}
				items = append(items, workspace.Item{ID: asset.ID, CreatedAt: asset.CreatedAt})
			}
			return items
		})
		for _, item := range store.Snapshot() {
			e.setState(item.ID, models.ResolutionPending)
			e.oracle.Register(item.ID)
		}
		e.mu.Lock()
		e.stores[ownerID] = store
		e.mu.Unlock()
		return store, nil
	})
	return v.(*workspace.Store)
}
