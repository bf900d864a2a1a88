package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"genboard/engine/internal/bucket"
	"genboard/engine/internal/cache"
	"genboard/engine/internal/models"
	"genboard/engine/internal/repository"
	"genboard/engine/internal/storage"
)

var (
	// ErrNotFound means the asset is unknown or carries no storage reference.
	ErrNotFound = errors.New("asset has no storage reference")
	// ErrSigningFailed wraps a storage collaborator error.
	ErrSigningFailed = errors.New("signing failed")
	// ErrTimeout means the request neither succeeded nor failed in time.
	ErrTimeout = errors.New("signing timed out")
)

// Result is the per-asset outcome of a Resolve call. Exactly one of URL and
// Err is meaningful.
type Result struct {
	URL string
	Err error
}

// MetadataSource supplies asset records for bucket inference and signing.
// GetByID reports an absent record via repository.ErrAssetNotFound.
type MetadataSource interface {
	GetByID(ctx context.Context, id string) (models.Asset, error)
}

type Config struct {
	PoolSize       int
	RequestTimeout time.Duration
	ImageURLTTL    time.Duration
	VideoURLTTL    time.Duration
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 12 * time.Second
	}
	if c.ImageURLTTL <= 0 {
		c.ImageURLTTL = time.Hour
	}
	if c.VideoURLTTL <= 0 {
		c.VideoURLTTL = 2 * time.Hour
	}
}

// Pool turns batches of asset ids into signed URLs under a bounded
// concurrency limit. It is the sole writer of the signed-reference cache.
// Constructed explicitly and injected; there is no package-level instance.
type Pool struct {
	signer storage.URLSigner
	cache  cache.URLCache
	meta   MetadataSource
	cfg    Config
	log    zerolog.Logger
	sem    *semaphore.Weighted
	flight singleflight.Group
}

func New(signer storage.URLSigner, urlCache cache.URLCache, meta MetadataSource, cfg Config, log zerolog.Logger) *Pool {
	cfg.applyDefaults()
	return &Pool{
		signer: signer,
		cache:  urlCache,
		meta:   meta,
		cfg:    cfg,
		log:    log,
		sem:    semaphore.NewWeighted(int64(cfg.PoolSize)),
	}
}

// ThumbKey is the cache key for an asset's resolved thumbnail URL.
func ThumbKey(assetID string) string {
	return assetID + "/thumb"
}

// Resolve returns a per-id result for every distinct id in the batch.
// Cached entries short-circuit without a signer call; misses are deduplicated
// against in-flight requests and admitted FIFO as pool slots free. One id
// failing never affects its siblings.
func (p *Pool) Resolve(ctx context.Context, ids []string) map[string]Result {
	results := make(map[string]Result, len(ids))
	seen := make(map[string]struct{}, len(ids))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if entry, ok := p.cache.Get(ctx, id); ok {
			results[id] = Result{URL: entry.URL}
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res := p.resolveOne(ctx, id)
			mu.Lock()
			results[id] = res
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return results
}

func (p *Pool) resolveOne(ctx context.Context, id string) Result {
	// The flight outlives any single caller: a second caller attaching to an
	// in-progress resolution must not be failed by the first one cancelling.
	v, err, shared := p.flight.Do(id, func() (any, error) {
		return p.sign(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		p.log.Debug().Err(err).Str("asset_id", id).Bool("shared", shared).Msg("resolution failed")
		return Result{Err: err}
	}
	return Result{URL: v.(string)}
}

func (p *Pool) sign(ctx context.Context, id string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	if err := p.sem.Acquire(reqCtx, 1); err != nil {
		return "", ErrTimeout
	}
	defer p.sem.Release(1)

	asset, err := p.meta.GetByID(reqCtx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return "", fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if reqCtx.Err() != nil {
			return "", ErrTimeout
		}
		// A transient lookup failure is retriable, not a missing record.
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if asset.StorageRef == "" {
		return "", ErrNotFound
	}

	bkt := bucket.Infer(asset.ModelMeta, asset.Type, asset.Quality)
	ttl := p.cfg.ImageURLTTL
	if asset.Type == models.AssetTypeVideo {
		ttl = p.cfg.VideoURLTTL
	}

	url, err := p.signer.SignURL(reqCtx, bkt, asset.StorageRef, ttl)
	if err != nil {
		if reqCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	// Cache is written only on success so a failed attempt never blocks a
	// retry behind a false hit.
	p.cache.Put(ctx, id, cache.SignedURL{URL: url, ExpiresAt: time.Now().Add(ttl)})

	if asset.ThumbRef != "" {
		p.signThumb(reqCtx, asset, bkt, ttl)
	}

	return url, nil
}

// signThumb resolves the thumbnail within the same pool slot. Best effort:
// tiles fall back to the full URL when it fails.
func (p *Pool) signThumb(ctx context.Context, asset models.Asset, bkt string, ttl time.Duration) {
	url, err := p.signer.SignURL(ctx, bkt, asset.ThumbRef, ttl)
	if err != nil {
		p.log.Debug().Err(err).Str("asset_id", asset.ID).Msg("thumbnail signing failed")
		return
	}
	p.cache.Put(ctx, ThumbKey(asset.ID), cache.SignedURL{URL: url, ExpiresAt: time.Now().Add(ttl)})
}
