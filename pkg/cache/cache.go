// Package cache provides a keyed TTL cache for portal pages, API results and
// media artifacts, backed by a directory or by memory.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"course-portal-go/pkg/logging"
)

// Cache stores byte values under string keys. Entries expire ttl after they
// were written. Concurrent computations of the same key are collapsed.
type Cache struct {
	dir   string
	group singleflight.Group
	now   func() time.Time
	log   *logging.Logger

	mu  sync.RWMutex
	mem map[string]memEntry
}

type memEntry struct {
	data    []byte
	written time.Time
}

// New returns a cache rooted at dir. An empty dir keeps entries in memory.
func New(dir string, log *logging.Logger) (*Cache, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Cache{
		dir: dir,
		now: time.Now,
		log: log.WithComponent("cache"),
		mem: make(map[string]memEntry),
	}, nil
}

// Bytes returns the cached value for key if it is younger than ttl, and
// otherwise calls produce and stores its result. A non-positive ttl bypasses
// the cache entirely. Errors from produce are not cached.
func (c *Cache) Bytes(ctx context.Context, key string, ttl time.Duration, produce func(context.Context) ([]byte, error)) ([]byte, error) {
	if ttl <= 0 {
		return produce(ctx)
	}
	if data, ok := c.load(key, ttl); ok {
		return data, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if data, ok := c.load(key, ttl); ok {
			return data, nil
		}
		data, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store(key, data); err != nil {
			c.log.Warn("cache write failed", "key", key, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetOrCompute is Bytes for JSON-encodable values.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, produce func(context.Context) (T, error)) (T, error) {
	var zero T
	data, err := c.Bytes(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.Delete(key)
		return zero, fmt.Errorf("decode cached %q: %w", key, err)
	}
	return v, nil
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	if c.dir == "" {
		c.mu.Lock()
		delete(c.mem, key)
		c.mu.Unlock()
		return
	}
	os.Remove(c.path(key))
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	if c.dir == "" {
		c.mu.Lock()
		c.mem = make(map[string]memEntry)
		c.mu.Unlock()
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Size returns the total number of bytes stored.
func (c *Cache) Size() (int64, error) {
	if c.dir == "" {
		c.mu.RLock()
		defer c.mu.RUnlock()
		var total int64
		for _, e := range c.mem {
			total += int64(len(e.data))
		}
		return total, nil
	}
	var total int64
	err := filepath.WalkDir(c.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func (c *Cache) load(key string, ttl time.Duration) ([]byte, bool) {
	if c.dir == "" {
		c.mu.RLock()
		e, ok := c.mem[key]
		c.mu.RUnlock()
		if !ok || c.now().Sub(e.written) >= ttl {
			return nil, false
		}
		return e.data, true
	}

	p := c.path(key)
	info, err := os.Stat(p)
	if err != nil || c.now().Sub(info.ModTime()) >= ttl {
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *Cache) store(key string, data []byte) error {
	if c.dir == "" {
		c.mu.Lock()
		c.mem[key] = memEntry{data: data, written: c.now()}
		c.mu.Unlock()
		return nil
	}

	p := c.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	now := c.now()
	return os.Chtimes(p, now, now)
}

// path shards entries by the first byte of the key hash.
func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(c.dir, name[:2], name)
}
