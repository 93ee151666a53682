// Package tilecache implements the Tile Cache & Route Prefetcher of
// spec.md §4.5: a bounded on-disk map-tile store keyed by (z, x, y),
// with region and route look-ahead prefetch, age-based purge, and
// size-based eviction. The in-memory LRU index (hash map + container/list)
// is adapted from the teacher's model pool in internal/infra/engine/pool.go;
// fetch-with-retry is adapted from the teacher's download.go.
package tilecache

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/infra/metrics"
)

// BBox is a lat/lon bounding box, south-west to north-east.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Config configures the Cache.
type Config struct {
	Dir             string // root of the tile tree, e.g. $PW_HOME/tiles
	MaxBytes        int64
	MaxAge          time.Duration
	TileURLTemplate string // "{z}", "{x}", "{y}" placeholders
	FetchTimeout    time.Duration
	MaxConcurrent   int
	RetryBase       time.Duration
	RetryCap        time.Duration
	MaxRetries      int
	HeadingSamples  int // K last track points used to extrapolate heading
}

// DefaultConfig returns production tile-cache defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		MaxBytes:       512 * 1024 * 1024,
		MaxAge:         30 * 24 * time.Hour,
		FetchTimeout:   8 * time.Second,
		MaxConcurrent:  8,
		RetryBase:      250 * time.Millisecond,
		RetryCap:       4 * time.Second,
		MaxRetries:     3,
		HeadingSamples: 5,
	}
}

type indexEntry struct {
	key      domain.TileKey
	path     string
	byteSize int64
	mtime    time.Time
	element  *list.Element
}

// Cache is a bounded on-disk tile store with an in-memory LRU-by-mtime
// index. Tiles are not held open across requests, so the index carries no
// reference counts — eviction only ever needs the mtime ordering.
type Cache struct {
	cfg    Config
	client *http.Client

	mu         sync.Mutex
	index      map[domain.TileKey]*indexEntry
	lru        *list.List // front = most recently written/fetched
	totalBytes int64

	locks keyedMutex
}

// Open builds a Cache rooted at cfg.Dir, scanning the existing tile tree to
// rebuild the in-memory index. The directory is created if absent.
func Open(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("tilecache: Dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("tilecache: create dir: %w", err)
	}
	c := &Cache{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		index:  make(map[domain.TileKey]*indexEntry),
		lru:    list.New(),
		locks:  newKeyedMutex(),
	}
	if err := c.rebuildIndex(); err != nil {
		return nil, err
	}
	metrics.TileCacheBytes.Set(float64(c.totalBytes))
	return c, nil
}

func (c *Cache) rebuildIndex() error {
	return filepath.WalkDir(c.cfg.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		key, ok := parseTilePath(c.cfg.Dir, path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entry := &indexEntry{key: key, path: path, byteSize: info.Size(), mtime: info.ModTime()}
		entry.element = c.lru.PushBack(entry)
		c.index[key] = entry
		c.totalBytes += entry.byteSize
		return nil
	})
}

// tilePath derives the on-disk path for a key: Dir/z/x/y.png.
func tilePath(dir string, key domain.TileKey) string {
	return filepath.Join(dir, strconv.Itoa(key.Z), strconv.Itoa(key.X), fmt.Sprintf("%d.png", key.Y))
}

// parseTilePath is the inverse of tilePath, used to rebuild the index from
// an existing tree on disk.
func parseTilePath(dir, path string) (domain.TileKey, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return domain.TileKey{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return domain.TileKey{}, false
	}
	z, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.Atoi(parts[1])
	yName := strings.TrimSuffix(parts[2], filepath.Ext(parts[2]))
	y, err3 := strconv.Atoi(yName)
	if err1 != nil || err2 != nil || err3 != nil {
		return domain.TileKey{}, false
	}
	return domain.TileKey{Z: z, X: x, Y: y}, true
}

// Has reports whether a tile is already present in the cache.
func (c *Cache) Has(key domain.TileKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[key]
	return ok
}

// Stat returns the cached tile's metadata, if present.
func (c *Cache) Stat(key domain.TileKey) (domain.TileBlob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[key]
	if !ok {
		return domain.TileBlob{}, false
	}
	return domain.TileBlob{Key: e.key, Path: e.path, ByteSize: e.byteSize, MTime: e.mtime}, true
}

// touch moves an entry to the front of the LRU and refreshes totals.
func (c *Cache) touch(key domain.TileKey, path string, size int64, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.index[key]; ok {
		c.totalBytes -= e.byteSize
		c.lru.Remove(e.element)
	}
	e := &indexEntry{key: key, path: path, byteSize: size, mtime: mtime}
	e.element = c.lru.PushFront(e)
	c.index[key] = e
	c.totalBytes += size
	metrics.TileCacheBytes.Set(float64(c.totalBytes))
}

// fetchOne downloads and atomically writes one tile if not already
// present. Remote 4xx responses are permanent (the tile is skipped, no
// error returned); 5xx and network/timeout failures are retried up to
// cfg.MaxRetries with jittered exponential backoff.
func (c *Cache) fetchOne(ctx context.Context, key domain.TileKey) error {
	if c.Has(key) {
		return nil
	}
	unlock := c.locks.lock(key)
	defer unlock()
	if c.Has(key) { // re-check under the per-key lock
		return nil
	}

	url := tileURL(c.cfg.TileURLTemplate, key)
	var body []byte
	var permanentSkip bool

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		b, status, err := c.download(ctx, url)
		if err == nil && status >= 200 && status < 300 {
			body = b
			break
		}
		if err == nil && status >= 400 && status < 500 {
			permanentSkip = true
			metrics.TilesFetched.WithLabelValues("skipped_4xx").Inc()
			break
		}
		if attempt == c.cfg.MaxRetries {
			metrics.TilesFetched.WithLabelValues("failed").Inc()
			if err != nil {
				return fmt.Errorf("tilecache: fetch %v: %w", key, err)
			}
			return fmt.Errorf("tilecache: fetch %v: HTTP %d", key, status)
		}
		delay := retryDelay(c.cfg.RetryBase, c.cfg.RetryCap, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if permanentSkip {
		return nil
	}

	path := tilePath(c.cfg.Dir, key)
	if err := writeAtomic(path, body); err != nil {
		return fmt.Errorf("tilecache: write %v: %w", key, err)
	}
	metrics.TilesFetched.WithLabelValues("fetched").Inc()
	c.touch(key, path, int64(len(body)), time.Now())
	return nil
}

func (c *Cache) download(ctx context.Context, url string) (body []byte, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return b, resp.StatusCode, nil
}

// retryDelay is jittered exponential backoff: base*2^n capped, scaled by
// a jitter factor in [0.5, 1) drawn from the clock and the attempt
// number, so concurrent fetches retrying the same attempt number don't
// lock-step.
func retryDelay(base, capDelay time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(capDelay) {
		d = float64(capDelay)
	}
	jitter := 0.5 + 0.5*pseudoRand(attempt)
	return time.Duration(d * jitter)
}

// pseudoRand returns a value in [0,1) derived from attempt and the
// current time, avoiding a shared math/rand.Source under concurrent
// fetches without needing a mutex.
func pseudoRand(attempt int) float64 {
	n := time.Now().UnixNano() ^ int64(attempt)*2654435761
	if n < 0 {
		n = -n
	}
	return float64(n%1000) / 1000.0
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func tileURL(template string, key domain.TileKey) string {
	url := template
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(key.Z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(key.X))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(key.Y))
	return url
}

// Progress reports prefetch completion counts.
type Progress struct {
	Done  int
	Total int
}

// PrefetchRegion fetches every tile overlapping bbox at the given zoom,
// bounded to cfg.MaxConcurrent in-flight requests. progress, if non-nil,
// is called after each tile resolves (fetched, skipped, or already
// cached). Re-running over the same region incurs no network requests
// for tiles already present.
func (c *Cache) PrefetchRegion(ctx context.Context, bbox BBox, zoom int, progress func(Progress)) error {
	keys := tileKeysInBBox(bbox, zoom)
	return c.prefetchKeys(ctx, keys, progress)
}

func (c *Cache) prefetchKeys(ctx context.Context, keys []domain.TileKey, progress func(Progress)) error {
	total := len(keys)
	if total == 0 {
		return nil
	}
	concurrency := c.cfg.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 8
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var done int
	var firstErr error

	for _, key := range keys {
		key := key
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := c.fetchOne(ctx, key)
			mu.Lock()
			done++
			if err != nil && firstErr == nil {
				firstErr = err
			}
			d := done
			mu.Unlock()
			if progress != nil {
				progress(Progress{Done: d, Total: total})
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// tileKeysInBBox enumerates every (z,x,y) overlapping bbox, inclusive of
// the edge tiles.
func tileKeysInBBox(bbox BBox, zoom int) []domain.TileKey {
	minX, maxY := lonLatToTile(bbox.MinLon, bbox.MinLat, zoom)
	maxX, minY := lonLatToTile(bbox.MaxLon, bbox.MaxLat, zoom)
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	n := 1 << uint(zoom)
	keys := make([]domain.TileKey, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		if x < 0 || x >= n {
			continue
		}
		for y := minY; y <= maxY; y++ {
			if y < 0 || y >= n {
				continue
			}
			keys = append(keys, domain.TileKey{Z: zoom, X: x, Y: y})
		}
	}
	return keys
}

// lonLatToTile converts a lon/lat pair to slippy-map tile coordinates at
// the given zoom (standard Web Mercator tiling).
func lonLatToTile(lon, lat float64, zoom int) (x, y int) {
	n := math.Exp2(float64(zoom))
	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))
	return x, y
}

// RoutePrefetch extrapolates heading from the last HeadingSamples points
// of track, then fetches a tube of the given radius (degrees) around
// lookahead future steps spaced at the track's average sample distance.
// Idempotent: tiles already present are never re-fetched.
func (c *Cache) RoutePrefetch(ctx context.Context, track []domain.GpsTrackPoint, lookahead int, radius float64, zoom int, progress func(Progress)) error {
	if len(track) < 2 || lookahead <= 0 {
		return nil
	}
	k := c.cfg.HeadingSamples
	if k <= 0 || k > len(track) {
		k = len(track)
	}
	samples := track[len(track)-k:]
	heading, stepLat, stepLon := extrapolateHeading(samples)
	_ = heading

	last := track[len(track)-1]
	seen := make(map[domain.TileKey]struct{})
	var keys []domain.TileKey
	lat, lon := last.Lat, last.Lon
	for step := 1; step <= lookahead; step++ {
		lat += stepLat
		lon += stepLon
		bbox := BBox{MinLat: lat - radius, MaxLat: lat + radius, MinLon: lon - radius, MaxLon: lon + radius}
		for _, key := range tileKeysInBBox(bbox, zoom) {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return c.prefetchKeys(ctx, keys, progress)
}

// extrapolateHeading returns the bearing (radians, unused beyond
// diagnostics) and the average per-step lat/lon delta across consecutive
// samples, used to project future track positions.
func extrapolateHeading(samples []domain.GpsTrackPoint) (headingRad, dLat, dLon float64) {
	if len(samples) < 2 {
		return 0, 0, 0
	}
	var sumLat, sumLon float64
	n := 0
	for i := 1; i < len(samples); i++ {
		sumLat += samples[i].Lat - samples[i-1].Lat
		sumLon += samples[i].Lon - samples[i-1].Lon
		n++
	}
	dLat = sumLat / float64(n)
	dLon = sumLon / float64(n)
	headingRad = math.Atan2(dLon, dLat)
	return headingRad, dLat, dLon
}

// PurgeOld deletes every tile with mtime older than maxAge and returns the
// number of files removed.
func (c *Cache) PurgeOld(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	var stale []*indexEntry
	for _, e := range c.index {
		if e.mtime.Before(cutoff) {
			stale = append(stale, e)
		}
	}
	c.mu.Unlock()

	removed := 0
	for _, e := range stale {
		if c.removeEntry(e) {
			removed++
		}
	}
	return removed, nil
}

// EnforceLimit deletes tiles in ascending-mtime order until the total
// on-disk size is at or below maxBytes. Tiles currently being written
// (held by a per-key lock) are skipped rather than deleted.
func (c *Cache) EnforceLimit(maxBytes int64) (int, error) {
	c.mu.Lock()
	entries := make([]*indexEntry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	total := c.totalBytes
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })

	removed := 0
	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		if !c.locks.tryLock(e.key) {
			continue // being written; never delete in-flight tiles
		}
		size := e.byteSize
		ok := c.removeEntry(e)
		c.locks.unlock(e.key)
		if ok {
			removed++
			total -= size
		}
	}
	return removed, nil
}

func (c *Cache) removeEntry(e *indexEntry) bool {
	c.mu.Lock()
	cur, ok := c.index[e.key]
	if !ok || cur != e {
		c.mu.Unlock()
		return false
	}
	delete(c.index, e.key)
	c.lru.Remove(e.element)
	c.totalBytes -= e.byteSize
	metrics.TileCacheBytes.Set(float64(c.totalBytes))
	c.mu.Unlock()

	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return false
	}
	return true
}

// TotalBytes returns the current cache size.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// Count returns the number of tiles currently indexed.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}
