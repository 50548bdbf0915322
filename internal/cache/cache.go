package cache

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const entryExt = ".json"

// Entry is one cached analyzer response.
type Entry struct {
	Key       string    `json:"key"`
	Stage     string    `json:"stage,omitempty"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"createdAt"`
}

// Options configures a Cache.
type Options struct {
	// Dir holds the entries. It is created on first use.
	Dir string
	// TTL of zero keeps entries forever.
	TTL    time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

// Cache is a file-backed response cache. A nil *Cache is a valid,
// always-missing cache.
type Cache struct {
	dir    string
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// New creates the cache directory and returns a Cache.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	c := &Cache{dir: opts.Dir, ttl: opts.TTL, clock: opts.Clock, logger: opts.Logger}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Key hashes the given parts into a cache key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the response stored under key.
func (c *Cache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	path := c.path(key)
	entry, err := readEntry(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("unreadable cache entry", zap.String("path", path), zap.Error(err))
		}
		return "", false
	}
	if c.expired(entry) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("removing expired cache entry", zap.String("path", path), zap.Error(err))
		}
		return "", false
	}
	return entry.Response, true
}

// Put stores response under key. The write goes through a temp file so a
// concurrent reader never sees a partial entry.
func (c *Cache) Put(key, stage, response string) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(Entry{Key: key, Stage: stage, Response: response, CreatedAt: c.clock().UTC()})
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// Stats describes the cache contents.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	Expired    int    `json:"expired"`
	TotalBytes int64  `json:"totalBytes"`
}

// Stats walks the cache directory.
func (c *Cache) Stats() (Stats, error) {
	if c == nil {
		return Stats{}, nil
	}
	st := Stats{Dir: c.dir}
	err := c.each(func(path string, info fs.FileInfo) error {
		st.Entries++
		st.TotalBytes += info.Size()
		if e, err := readEntry(path); err == nil && c.expired(e) {
			st.Expired++
		}
		return nil
	})
	return st, err
}

// Prune removes expired and unreadable entries and returns how many were removed.
func (c *Cache) Prune() (int, error) {
	if c == nil {
		return 0, nil
	}
	removed := 0
	err := c.each(func(path string, _ fs.FileInfo) error {
		e, err := readEntry(path)
		if err == nil && !c.expired(e) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		removed++
		return nil
	})
	return removed, err
}

// Clear removes every entry and returns how many were removed.
func (c *Cache) Clear() (int, error) {
	if c == nil {
		return 0, nil
	}
	removed := 0
	err := c.each(func(path string, _ fs.FileInfo) error {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		removed++
		return nil
	})
	return removed, err
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *Cache) each(fn func(path string, info fs.FileInfo) error) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entryExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if err := fn(filepath.Join(c.dir, e.Name()), info); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) expired(e Entry) bool {
	return c.ttl > 0 && c.clock().Sub(e.CreatedAt) > c.ttl
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, Key(key)+entryExt)
}

func readEntry(path string) (Entry, error) {
	var e Entry
	data, err := os.ReadFile(path)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decoding cache entry: %w", err)
	}
	return e, nil
}
