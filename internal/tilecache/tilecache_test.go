package tilecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

func newTestCache(t *testing.T, handler http.HandlerFunc) (*Cache, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(t.TempDir())
	cfg.TileURLTemplate = srv.URL + "/{z}/{x}/{y}.png"
	cfg.RetryBase = time.Millisecond
	cfg.RetryCap = 5 * time.Millisecond
	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, &hits
}

func TestFetchOne_WritesAtomicallyAndIndexes(t *testing.T) {
	c, hits := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("tiledata"))
	})
	key := domain.TileKey{Z: 1, X: 2, Y: 3}
	if err := c.fetchOne(context.Background(), key); err != nil {
		t.Fatalf("fetchOne: %v", err)
	}
	if !c.Has(key) {
		t.Fatal("tile not indexed after fetch")
	}
	blob, ok := c.Stat(key)
	if !ok || blob.ByteSize != int64(len("tiledata")) {
		t.Fatalf("Stat = %+v, %v", blob, ok)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("hits = %d, want 1", *hits)
	}

	// Re-fetch must be a no-op: no additional network request.
	if err := c.fetchOne(context.Background(), key); err != nil {
		t.Fatalf("second fetchOne: %v", err)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("hits after re-fetch = %d, want 1 (cache hit)", *hits)
	}
}

func TestFetchOne_4xxIsPermanentSkip(t *testing.T) {
	c, hits := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	key := domain.TileKey{Z: 1, X: 0, Y: 0}
	if err := c.fetchOne(context.Background(), key); err != nil {
		t.Fatalf("fetchOne on 404 should not error: %v", err)
	}
	if c.Has(key) {
		t.Fatal("404 tile should not be indexed")
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("hits = %d, want 1 (no retry on 4xx)", *hits)
	}
}

func TestFetchOne_5xxRetriesThenFails(t *testing.T) {
	c, hits := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	key := domain.TileKey{Z: 1, X: 0, Y: 0}
	if err := c.fetchOne(context.Background(), key); err == nil {
		t.Fatal("expected error after exhausting retries on persistent 5xx")
	}
	if got := atomic.LoadInt32(hits); got != int32(c.cfg.MaxRetries+1) {
		t.Fatalf("hits = %d, want %d (1 + MaxRetries)", got, c.cfg.MaxRetries+1)
	}
}

func TestPrefetchRegion_DedupesOnSecondRun(t *testing.T) {
	c, hits := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("x"))
	})
	bbox := BBox{MinLat: 0, MaxLat: 0.1, MinLon: 0, MaxLon: 0.1}

	var progressCalls int32
	if err := c.PrefetchRegion(context.Background(), bbox, 10, func(Progress) { atomic.AddInt32(&progressCalls, 1) }); err != nil {
		t.Fatalf("PrefetchRegion: %v", err)
	}
	first := atomic.LoadInt32(hits)
	if first == 0 {
		t.Fatal("expected at least one fetch")
	}

	if err := c.PrefetchRegion(context.Background(), bbox, 10, nil); err != nil {
		t.Fatalf("second PrefetchRegion: %v", err)
	}
	if atomic.LoadInt32(hits) != first {
		t.Fatalf("second prefetch issued new requests: hits %d -> %d", first, atomic.LoadInt32(hits))
	}
}

func TestPurgeOld_RemovesStaleTiles(t *testing.T) {
	c, _ := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("x"))
	})
	key := domain.TileKey{Z: 1, X: 0, Y: 0}
	if err := c.fetchOne(context.Background(), key); err != nil {
		t.Fatalf("fetchOne: %v", err)
	}
	// backdate the file's mtime so it is seen as stale
	blob, _ := c.Stat(key)
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(blob.Path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	c.touch(key, blob.Path, blob.ByteSize, old)

	removed, err := c.PurgeOld(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOld: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if c.Has(key) {
		t.Fatal("stale tile still indexed after PurgeOld")
	}
	if _, err := os.Stat(blob.Path); !os.IsNotExist(err) {
		t.Fatal("stale tile file still present on disk")
	}
}

func TestEnforceLimit_EvictsAscendingMTimeUntilUnderLimit(t *testing.T) {
	c, _ := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("0123456789")) // 10 bytes per tile
	})
	for i := 0; i < 5; i++ {
		key := domain.TileKey{Z: 1, X: i, Y: 0}
		if err := c.fetchOne(context.Background(), key); err != nil {
			t.Fatalf("fetchOne %d: %v", i, err)
		}
		blob, _ := c.Stat(key)
		mtime := time.Now().Add(time.Duration(i) * time.Minute)
		os.Chtimes(blob.Path, mtime, mtime)
		c.touch(key, blob.Path, blob.ByteSize, mtime)
	}
	if c.TotalBytes() != 50 {
		t.Fatalf("TotalBytes = %d, want 50", c.TotalBytes())
	}

	if _, err := c.EnforceLimit(20); err != nil {
		t.Fatalf("EnforceLimit: %v", err)
	}
	if c.TotalBytes() > 20 {
		t.Fatalf("TotalBytes = %d after EnforceLimit(20), want <= 20", c.TotalBytes())
	}
	// the oldest keys (x=0, x=1, x=2) should have been evicted first
	if c.Has(domain.TileKey{Z: 1, X: 0, Y: 0}) {
		t.Fatal("oldest tile should have been evicted first")
	}
	if !c.Has(domain.TileKey{Z: 1, X: 4, Y: 0}) {
		t.Fatal("newest tile should survive eviction")
	}
}

func TestRoutePrefetch_ProjectsAheadOfTrack(t *testing.T) {
	c, hits := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("x"))
	})
	track := []domain.GpsTrackPoint{
		{Lat: 0.0, Lon: 0.0},
		{Lat: 0.01, Lon: 0.0},
		{Lat: 0.02, Lon: 0.0},
	}
	if err := c.RoutePrefetch(context.Background(), track, 3, 0.01, 10, nil); err != nil {
		t.Fatalf("RoutePrefetch: %v", err)
	}
	if atomic.LoadInt32(hits) == 0 {
		t.Fatal("expected tiles fetched ahead of track")
	}
}

func TestRoutePrefetch_NoopOnShortTrack(t *testing.T) {
	c, hits := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := c.RoutePrefetch(context.Background(), []domain.GpsTrackPoint{{Lat: 0, Lon: 0}}, 3, 0.01, 10, nil); err != nil {
		t.Fatalf("RoutePrefetch: %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Fatal("single-point track should not fetch anything")
	}
}

func TestTilePath_RoundTripsThroughParse(t *testing.T) {
	dir := t.TempDir()
	key := domain.TileKey{Z: 7, X: 42, Y: 99}
	path := tilePath(dir, key)
	want := filepath.Join(dir, "7", "42", "99.png")
	if path != want {
		t.Fatalf("tilePath = %q, want %q", path, want)
	}
	got, ok := parseTilePath(dir, path)
	if !ok || got != key {
		t.Fatalf("parseTilePath = %+v, %v, want %+v, true", got, ok, key)
	}
}

func TestOpen_RebuildsIndexFromExistingTree(t *testing.T) {
	dir := t.TempDir()
	key := domain.TileKey{Z: 2, X: 1, Y: 1}
	path := tilePath(dir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Open(Config{Dir: dir, MaxConcurrent: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !c.Has(key) {
		t.Fatal("Open did not rebuild index from existing tree")
	}
	if c.TotalBytes() != int64(len("existing")) {
		t.Fatalf("TotalBytes = %d, want %d", c.TotalBytes(), len("existing"))
	}
}
