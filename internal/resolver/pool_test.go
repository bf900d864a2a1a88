package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genboard/engine/internal/cache"
	"genboard/engine/internal/models"
	"genboard/engine/internal/repository"
)

type fakeSigner struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	delay       time.Duration
	block       chan struct{}
	waitForCtx  bool
	fail        map[string]error
}

func (f *fakeSigner) SignURL(ctx context.Context, bucketName, objectKey string, _ time.Duration) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	block := f.block
	failErr := f.fail[objectKey]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.waitForCtx {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if block != nil {
		<-block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if failErr != nil {
		return "", failErr
	}
	return "https://signed/" + bucketName + "/" + objectKey, nil
}

func (f *fakeSigner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMeta struct {
	assets map[string]models.Asset
	err    error
}

func (f fakeMeta) GetByID(_ context.Context, id string) (models.Asset, error) {
	if f.err != nil {
		return models.Asset{}, f.err
	}
	asset, ok := f.assets[id]
	if !ok {
		return models.Asset{}, repository.ErrAssetNotFound
	}
	return asset, nil
}

func imageAsset(id string) models.Asset {
	return models.Asset{
		ID:         id,
		Type:       models.AssetTypeImage,
		Quality:    models.QualityFast,
		StorageRef: id + ".png",
	}
}

func newTestPool(signer *fakeSigner, meta fakeMeta, cfg Config) (*Pool, *cache.Memory) {
	mem := cache.NewMemory()
	return New(signer, mem, meta, cfg, zerolog.Nop()), mem
}

func TestResolveCacheHitSkipsSigner(t *testing.T) {
	signer := &fakeSigner{}
	pool, mem := newTestPool(signer, fakeMeta{assets: map[string]models.Asset{"a1": imageAsset("a1")}}, Config{})

	ctx := context.Background()
	mem.Put(ctx, "a1", cache.SignedURL{URL: "https://cached/a1", ExpiresAt: time.Now().Add(time.Hour)})

	results := pool.Resolve(ctx, []string{"a1"})
	if got := results["a1"]; got.Err != nil || got.URL != "https://cached/a1" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if signer.callCount() != 0 {
		t.Errorf("signer called %d times for a cache hit", signer.callCount())
	}
}

func TestResolveExpiredEntryResigned(t *testing.T) {
	signer := &fakeSigner{}
	pool, mem := newTestPool(signer, fakeMeta{assets: map[string]models.Asset{"a1": imageAsset("a1")}}, Config{})

	ctx := context.Background()
	mem.Put(ctx, "a1", cache.SignedURL{URL: "https://stale/a1", ExpiresAt: time.Now().Add(time.Millisecond)})
	time.Sleep(5 * time.Millisecond)

	results := pool.Resolve(ctx, []string{"a1"})
	if got := results["a1"]; got.Err != nil || got.URL == "https://stale/a1" {
		t.Fatalf("expired entry served: %+v", got)
	}
	if signer.callCount() != 1 {
		t.Errorf("signer calls = %d, want 1", signer.callCount())
	}
}

func TestResolveDeduplicatesInFlight(t *testing.T) {
	signer := &fakeSigner{block: make(chan struct{})}
	pool, _ := newTestPool(signer, fakeMeta{assets: map[string]models.Asset{"a1": imageAsset("a1")}}, Config{})

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]map[string]Result, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = pool.Resolve(ctx, []string{"a1"})
	}()

	// Wait until the first request is inside the signer, then attach a second.
	deadline := time.Now().Add(time.Second)
	for signer.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first request never reached the signer")
		}
		time.Sleep(time.Millisecond)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = pool.Resolve(ctx, []string{"a1"})
	}()

	time.Sleep(20 * time.Millisecond)
	close(signer.block)
	wg.Wait()

	if signer.callCount() != 1 {
		t.Errorf("signer calls = %d, want 1", signer.callCount())
	}
	for i, res := range results {
		if got := res["a1"]; got.Err != nil || got.URL == "" {
			t.Errorf("caller %d got %+v", i, got)
		}
	}
}

func TestResolveBoundsConcurrency(t *testing.T) {
	signer := &fakeSigner{delay: 20 * time.Millisecond}
	assets := make(map[string]models.Asset)
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("a%d", i)
		assets[id] = imageAsset(id)
		ids = append(ids, id)
	}
	pool, _ := newTestPool(signer, fakeMeta{assets: assets}, Config{PoolSize: 3})

	results := pool.Resolve(context.Background(), ids)
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	if signer.maxInFlight > 3 {
		t.Errorf("max in-flight signer calls = %d, want <= 3", signer.maxInFlight)
	}
}

func TestResolvePartialFailure(t *testing.T) {
	signer := &fakeSigner{fail: map[string]error{"a2.png": errors.New("backend unavailable")}}
	assets := map[string]models.Asset{
		"a1": imageAsset("a1"),
		"a2": imageAsset("a2"),
		"a3": imageAsset("a3"),
	}
	pool, mem := newTestPool(signer, fakeMeta{assets: assets}, Config{})

	results := pool.Resolve(context.Background(), []string{"a1", "a2", "a3"})

	if got := results["a1"]; got.Err != nil {
		t.Errorf("a1 failed: %v", got.Err)
	}
	if got := results["a3"]; got.Err != nil {
		t.Errorf("a3 failed: %v", got.Err)
	}
	if got := results["a2"]; !errors.Is(got.Err, ErrSigningFailed) {
		t.Errorf("a2 error = %v, want ErrSigningFailed", got.Err)
	}

	// Failures never write cache entries, so retry is not blocked.
	if _, ok := mem.Get(context.Background(), "a2"); ok {
		t.Error("failed resolution wrote a cache entry")
	}
}

func TestResolveFailureRetriable(t *testing.T) {
	signer := &fakeSigner{fail: map[string]error{"a1.png": errors.New("flaky")}}
	pool, _ := newTestPool(signer, fakeMeta{assets: map[string]models.Asset{"a1": imageAsset("a1")}}, Config{})

	ctx := context.Background()
	if got := pool.Resolve(ctx, []string{"a1"})["a1"]; !errors.Is(got.Err, ErrSigningFailed) {
		t.Fatalf("first attempt = %+v, want signing failure", got)
	}

	signer.mu.Lock()
	signer.fail = nil
	signer.mu.Unlock()

	if got := pool.Resolve(ctx, []string{"a1"})["a1"]; got.Err != nil || got.URL == "" {
		t.Fatalf("retry = %+v, want success", got)
	}
	if signer.callCount() != 2 {
		t.Errorf("signer calls = %d, want 2", signer.callCount())
	}
}

func TestResolveMissingStorageRef(t *testing.T) {
	signer := &fakeSigner{}
	asset := imageAsset("a1")
	asset.StorageRef = ""
	pool, _ := newTestPool(signer, fakeMeta{assets: map[string]models.Asset{"a1": asset}}, Config{})

	got := pool.Resolve(context.Background(), []string{"a1"})["a1"]
	if !errors.Is(got.Err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", got.Err)
	}
	if signer.callCount() != 0 {
		t.Errorf("signer called for asset without storage reference")
	}
}

func TestResolveUnknownAsset(t *testing.T) {
	pool, _ := newTestPool(&fakeSigner{}, fakeMeta{}, Config{})

	got := pool.Resolve(context.Background(), []string{"ghost"})["ghost"]
	if !errors.Is(got.Err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", got.Err)
	}
}

func TestResolveMetadataOutageIsRetriable(t *testing.T) {
	signer := &fakeSigner{}
	pool, mem := newTestPool(signer, fakeMeta{err: errors.New("connection refused")}, Config{})

	ctx := context.Background()
	got := pool.Resolve(ctx, []string{"a1"})["a1"]
	if errors.Is(got.Err, ErrNotFound) {
		t.Fatalf("lookup outage classified as missing record: %v", got.Err)
	}
	if !errors.Is(got.Err, ErrSigningFailed) {
		t.Errorf("error = %v, want ErrSigningFailed", got.Err)
	}
	if _, ok := mem.Get(ctx, "a1"); ok {
		t.Error("failed lookup wrote a cache entry")
	}
}

func TestResolveTimeout(t *testing.T) {
	signer := &fakeSigner{waitForCtx: true}
	pool, _ := newTestPool(signer, fakeMeta{assets: map[string]models.Asset{"a1": imageAsset("a1")}},
		Config{RequestTimeout: 30 * time.Millisecond})

	got := pool.Resolve(context.Background(), []string{"a1"})["a1"]
	if !errors.Is(got.Err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", got.Err)
	}
}

func TestResolveCachesThumbnail(t *testing.T) {
	signer := &fakeSigner{}
	asset := imageAsset("a1")
	asset.ThumbRef = "thumbs/a1.png"
	pool, mem := newTestPool(signer, fakeMeta{assets: map[string]models.Asset{"a1": asset}}, Config{})

	ctx := context.Background()
	if got := pool.Resolve(ctx, []string{"a1"})["a1"]; got.Err != nil {
		t.Fatalf("resolve failed: %v", got.Err)
	}
	if _, ok := mem.Get(ctx, ThumbKey("a1")); !ok {
		t.Error("thumbnail URL not cached")
	}
	if signer.callCount() != 2 {
		t.Errorf("signer calls = %d, want 2 (primary + thumb)", signer.callCount())
	}
}

func TestResolveVideoUsesVideoTTL(t *testing.T) {
	var gotTTL time.Duration
	signer := &ttlCapturingSigner{ttl: &gotTTL}
	asset := models.Asset{
		ID:         "v1",
		Type:       models.AssetTypeVideo,
		Quality:    models.QualityHigh,
		StorageRef: "v1.mp4",
	}
	mem := cache.NewMemory()
	pool := New(signer, mem, fakeMeta{assets: map[string]models.Asset{"v1": asset}}, Config{}, zerolog.Nop())

	if got := pool.Resolve(context.Background(), []string{"v1"})["v1"]; got.Err != nil {
		t.Fatalf("resolve failed: %v", got.Err)
	}
	if gotTTL != 2*time.Hour {
		t.Errorf("video TTL = %v, want 2h", gotTTL)
	}
}

type ttlCapturingSigner struct {
	ttl *time.Duration
}

func (s *ttlCapturingSigner) SignURL(_ context.Context, bucketName, objectKey string, ttl time.Duration) (string, error) {
	*s.ttl = ttl
	return "https://signed/" + bucketName + "/" + objectKey, nil
}
