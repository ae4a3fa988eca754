package celestrak

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/art-injener/satscan-go/internal/tracker"
)

const (
	cacheMetaFilename = "cache_meta.json"
	tleCacheExtension = ".tle"

	// DefaultCacheDir директория для файлового кеша TLE.
	DefaultCacheDir = "data/tle_cache"

	// DefaultMaxAge максимальный возраст записи кеша.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// ErrCacheMiss запись в кеше отсутствует.
var ErrCacheMiss = errors.New("TLE not in cache")

// CacheMeta метаданные файлового кеша.
type CacheMeta struct {
	Entries map[string]CacheEntryMeta `json:"entries"`
}

// CacheEntryMeta метаданные одной записи кеша.
type CacheEntryMeta struct {
	UpdatedAt time.Time `json:"updated_at"`
	Epoch     time.Time `json:"epoch"`
	Name      string    `json:"name,omitempty"`
}

// Cache файловый кеш TLE по каталожному номеру.
type Cache struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
	mu     sync.Mutex
}

// NewCache создаёт кеш в директории dir.
func NewCache(dir string, maxAge time.Duration) *Cache {
	if dir == "" {
		dir = DefaultCacheDir
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	return &Cache{dir: dir, maxAge: maxAge, now: time.Now}
}

// Load читает TLE из кеша. Возвращает также время сохранения.
func (c *Cache) Load(noradID int) (*tracker.TLE, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.loadMeta()
	if err != nil {
		return nil, time.Time{}, err
	}

	entry, ok := meta.Entries[strconv.Itoa(noradID)]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: NORAD ID %d", ErrCacheMiss, noradID)
	}

	data, err := os.ReadFile(c.path(noradID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: NORAD ID %d", ErrCacheMiss, noradID)
		}
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}

	tles, err := tracker.ParseTLEBatch(string(data))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parsing cached TLE: %w", err)
	}
	if len(tles) != 1 || tles[0].NoradID != noradID {
		return nil, time.Time{}, fmt.Errorf("%w: cache file for NORAD ID %d is inconsistent", ErrCacheMiss, noradID)
	}

	return tles[0], entry.UpdatedAt, nil
}

// IsFresh проверяет, моложе ли запись maxAge.
func (c *Cache) IsFresh(updatedAt time.Time) bool {
	return c.now().Sub(updatedAt) < c.maxAge
}

// Save сохраняет TLE в кеш.
func (c *Cache) Save(tle *tracker.TLE) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Создаём директорию кеша если не существует
	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	if err := os.WriteFile(c.path(tle.NoradID), []byte(tle.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}

	meta, err := c.loadMeta()
	if err != nil {
		meta = &CacheMeta{Entries: make(map[string]CacheEntryMeta)}
	}

	meta.Entries[strconv.Itoa(tle.NoradID)] = CacheEntryMeta{
		UpdatedAt: c.now().UTC(),
		Epoch:     tle.Epoch,
		Name:      tle.Name,
	}

	return c.saveMeta(meta)
}

func (c *Cache) path(noradID int) string {
	return filepath.Join(c.dir, strconv.Itoa(noradID)+tleCacheExtension)
}

// loadMeta загружает метаданные кеша.
func (c *Cache) loadMeta() (*CacheMeta, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, cacheMetaFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &CacheMeta{Entries: make(map[string]CacheEntryMeta)}, nil
		}
		return nil, fmt.Errorf("reading cache meta: %w", err)
	}

	var meta CacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing cache meta: %w", err)
	}
	if meta.Entries == nil {
		meta.Entries = make(map[string]CacheEntryMeta)
	}

	return &meta, nil
}

// saveMeta сохраняет метаданные кеша.
func (c *Cache) saveMeta(meta *CacheMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(c.dir, cacheMetaFilename), data, 0600); err != nil {
		return fmt.Errorf("writing cache meta: %w", err)
	}

	return nil
}
