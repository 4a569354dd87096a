// Package tiles resolves (zoom,x,y) tile keys to raster image bytes through
// a two-tier memory + disk cache with deduplicated, concurrency-capped
// background downloads.
package tiles

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound means the tile is in neither cache tier. It is expected
// control flow, not a failure: issue DownloadTileAsync and retry later.
var ErrNotFound = errors.New("tiles: tile not in cache")

const (
	defaultURL          = "https://tile.openstreetmap.org"
	defaultUserAgent    = "gpsmon/1.0 (GPS monitor daemon)"
	defaultMaxMemory    = 100
	defaultMaxDownloads = 4
	defaultFetchDelay   = 100 * time.Millisecond
	defaultTimeout      = 10 * time.Second

	// maxPreloadRadius bounds preload fan-out to (2r+1)^2 requests.
	maxPreloadRadius = 2
)

type Config struct {
	// Dir is the disk cache root; tiles live at <Dir>/<zoom>/<x>/<y>.png.
	Dir string
	// URL is the tile endpoint base serving /{zoom}/{x}/{y}.png.
	URL       string
	UserAgent string

	MaxMemoryTiles         int
	MaxConcurrentDownloads int
	// FetchDelay is incurred by each actual network fetch to respect the
	// tile server's rate-limit policy.
	FetchDelay time.Duration
	Timeout    time.Duration
}

// Cache is a two-tier tile cache. GetTile never touches the network;
// downloads happen only on fire-and-forget background goroutines.
type Cache struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	memory map[Key][]byte
	order  []Key // insertion order, oldest first

	dlMu        sync.Mutex
	downloading map[Key]struct{}
}

func New(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("tiles: cache dir is required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxMemoryTiles <= 0 {
		cfg.MaxMemoryTiles = defaultMaxMemory
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = defaultMaxDownloads
	}
	if cfg.FetchDelay == 0 {
		cfg.FetchDelay = defaultFetchDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("tiles: create cache dir: %w", err)
	}

	return &Cache{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		memory:      make(map[Key][]byte),
		downloading: make(map[Key]struct{}),
	}, nil
}

// GetTile returns the tile bytes from the memory cache or, failing that,
// from the disk cache (promoting the tile to memory). It never performs
// network I/O.
func (c *Cache) GetTile(key Key) ([]byte, error) {
	c.mu.Lock()
	if b, ok := c.memory[key]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	b, err := os.ReadFile(c.tilePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tiles: read cached tile: %w", err)
	}

	c.addToMemory(key, b)
	return b, nil
}

// DownloadTileAsync starts a background fetch for the tile. The call is a
// no-op when the key is already in flight or the in-flight count is at the
// concurrency cap; dropped requests are not queued and the caller must
// retry later.
func (c *Cache) DownloadTileAsync(key Key) {
	c.dlMu.Lock()
	if len(c.downloading) >= c.cfg.MaxConcurrentDownloads {
		c.dlMu.Unlock()
		return
	}
	if _, inFlight := c.downloading[key]; inFlight {
		c.dlMu.Unlock()
		return
	}
	c.downloading[key] = struct{}{}
	c.dlMu.Unlock()

	go c.fetchTile(key)
}

func (c *Cache) fetchTile(key Key) {
	// The key leaves the downloading-set whatever the outcome.
	defer func() {
		c.dlMu.Lock()
		delete(c.downloading, key)
		c.dlMu.Unlock()
	}()

	b, err := c.downloadTile(key)
	if err != nil {
		// Failures are absorbed here; the tile simply stays absent.
		log.Printf("tiles: download failed zoom=%d x=%d y=%d: %v", key.Zoom, key.X, key.Y, err)
		return
	}

	// Disk write is best-effort; the memory tier is still populated.
	path := c.tilePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if err := os.WriteFile(path, b, 0o644); err != nil {
			log.Printf("tiles: disk cache write failed: %v", err)
		}
	}

	c.addToMemory(key, b)
}

func (c *Cache) downloadTile(key Key) ([]byte, error) {
	url := fmt.Sprintf("%s/%d/%d/%d.png", strings.TrimRight(c.cfg.URL, "/"), key.Zoom, key.X, key.Y)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %s", resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Tile server usage policy: pace successive fetches.
	time.Sleep(c.cfg.FetchDelay)

	return b, nil
}

func (c *Cache) addToMemory(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.memory[key]; ok {
		c.memory[key] = b
		return
	}
	for len(c.memory) >= c.cfg.MaxMemoryTiles && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.memory, oldest)
	}
	c.memory[key] = b
	c.order = append(c.order, key)
}

// PreloadArea issues background downloads for the tiles surrounding a
// coordinate. The radius is clamped to keep the request fan-out bounded.
func (c *Cache) PreloadArea(lat, lon float64, zoom, radius int) {
	if radius < 0 {
		radius = 0
	}
	if radius > maxPreloadRadius {
		radius = maxPreloadRadius
	}

	centerX, centerY := LatLonToTile(lat, lon, zoom)
	for dx := 0; dx <= radius; dx++ {
		for dy := 0; dy <= radius; dy++ {
			c.downloadIfValid(zoom, centerX+dx, centerY+dy)
			if dx > 0 {
				c.downloadIfValid(zoom, centerX-dx, centerY+dy)
			}
			if dy > 0 {
				c.downloadIfValid(zoom, centerX+dx, centerY-dy)
			}
			if dx > 0 && dy > 0 {
				c.downloadIfValid(zoom, centerX-dx, centerY-dy)
			}
		}
	}
}

func (c *Cache) downloadIfValid(zoom, x, y int) {
	max := 1 << uint(zoom)
	if x < 0 || y < 0 || x >= max || y >= max {
		return
	}
	c.DownloadTileAsync(Key{Zoom: zoom, X: x, Y: y})
}

// Dir returns the disk cache root.
func (c *Cache) Dir() string {
	return c.cfg.Dir
}

// InFlight returns the current size of the downloading-set.
func (c *Cache) InFlight() int {
	c.dlMu.Lock()
	defer c.dlMu.Unlock()
	return len(c.downloading)
}

// Stats describes cache occupancy.
type Stats struct {
	MemoryTiles   int     `json:"memory_tiles"`
	DiskTiles     int     `json:"disk_tiles"`
	DiskSizeBytes int64   `json:"disk_size_bytes"`
	DiskSizeMB    float64 `json:"disk_size_mb"`
	InFlight      int     `json:"in_flight"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	memCount := len(c.memory)
	c.mu.Unlock()

	var diskCount int
	var diskBytes int64
	_ = filepath.WalkDir(c.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		diskCount++
		if info, ierr := d.Info(); ierr == nil {
			diskBytes += info.Size()
		}
		return nil
	})

	return Stats{
		MemoryTiles:   memCount,
		DiskTiles:     diskCount,
		DiskSizeBytes: diskBytes,
		DiskSizeMB:    float64(diskBytes) / 1_048_576.0,
		InFlight:      c.InFlight(),
	}
}

// ClearMemory drops every tile from the memory tier.
func (c *Cache) ClearMemory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory = make(map[Key][]byte)
	c.order = nil
}

// ClearDisk removes the disk cache tree and recreates the root.
func (c *Cache) ClearDisk() error {
	if err := os.RemoveAll(c.cfg.Dir); err != nil {
		return fmt.Errorf("tiles: clear disk cache: %w", err)
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("tiles: recreate cache dir: %w", err)
	}
	return nil
}

func (c *Cache) tilePath(key Key) string {
	return filepath.Join(c.cfg.Dir,
		strconv.Itoa(key.Zoom), strconv.Itoa(key.X), strconv.Itoa(key.Y)+".png")
}
