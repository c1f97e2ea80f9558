// SPDX-License-Identifier: AGPL-3.0-only

// Package cache implements the result cache (spec.md §4.7): a content
// addressed store keyed by the full signed path (so cache_buster naturally
// changes the key), with memory, disk, and promote-on-hit hybrid backends,
// and single-flight coalescing of concurrent identical requests.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru"
	"github.com/peterbourgon/diskv"
	"golang.org/x/sync/singleflight"
)

// Backend is a content-addressed byte store.
type Backend interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte)
}

// Key derives the stable cache key from the full request path, including
// the signature token (spec.md §4.7): signed and unsafe variants of the
// same path are therefore cached separately. Callers pass the raw request
// path (signature token + normalized path), not just the normalized part.
func Key(fullPath string) string {
	sum := sha256.Sum256([]byte(fullPath))
	return hex.EncodeToString(sum[:])
}

// MemoryBackend is an in-process LRU, grounded in the teacher's use of
// hashicorp/golang-lru for bounded in-memory caches.
type MemoryBackend struct {
	lru *lru.Cache
}

// NewMemoryBackend builds a memory cache holding at most maxEntries items.
func NewMemoryBackend(maxEntries int) (*MemoryBackend, error) {
	c, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{lru: c}, nil
}

func (m *MemoryBackend) Get(key string) ([]byte, bool) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (m *MemoryBackend) Put(key string, value []byte) {
	m.lru.Add(key, value)
}

// DiskBackend persists entries under a directory via diskv, sharding by key
// prefix so a single directory never holds an unbounded number of files. An
// in-memory LRU over the key set bounds the entry count; evicted keys are
// erased from disk best-effort.
type DiskBackend struct {
	d     *diskv.Diskv
	index *lru.Cache
}

// NewDiskBackend builds a disk cache rooted at baseDir holding at most
// maxEntries items. Keys already on disk from a previous run are re-indexed
// so the bound holds across restarts.
func NewDiskBackend(baseDir string, maxEntries int) (*DiskBackend, error) {
	d := diskv.New(diskv.Options{
		BasePath:     baseDir,
		Transform:    func(key string) []string { return []string{key[0:2], key[2:4]} },
		CacheSizeMax: 0,
	})
	index, err := lru.NewWithEvict(maxEntries, func(key, _ interface{}) {
		_ = d.Erase(key.(string))
	})
	if err != nil {
		return nil, err
	}
	b := &DiskBackend{d: d, index: index}
	for key := range d.Keys(nil) {
		b.index.Add(key, struct{}{})
	}
	return b, nil
}

func (d *DiskBackend) Get(key string) ([]byte, bool) {
	v, err := d.d.Read(key)
	if err != nil {
		return nil, false
	}
	// Touch the index so a read refreshes the entry's eviction rank; an
	// entry written by a previous process that predates the index rebuild
	// is re-added rather than dropped.
	if _, ok := d.index.Get(key); !ok {
		d.index.Add(key, struct{}{})
	}
	return v, true
}

func (d *DiskBackend) Put(key string, value []byte) {
	// A failed write never fails the response (spec.md I2): the value was
	// already produced and is about to be served regardless.
	if err := d.d.Write(key, value); err == nil {
		d.index.Add(key, struct{}{})
	}
}

// HybridBackend is a two-tier cache: memory in front of disk, promoting a
// disk hit back into memory so repeated requests for the same entry settle
// into the faster tier.
type HybridBackend struct {
	mem  *MemoryBackend
	disk *DiskBackend
}

// NewHybridBackend composes a memory and a disk backend.
func NewHybridBackend(mem *MemoryBackend, disk *DiskBackend) *HybridBackend {
	return &HybridBackend{mem: mem, disk: disk}
}

func (h *HybridBackend) Get(key string) ([]byte, bool) {
	if v, ok := h.mem.Get(key); ok {
		return v, true
	}
	if v, ok := h.disk.Get(key); ok {
		h.mem.Put(key, v)
		return v, true
	}
	return nil, false
}

func (h *HybridBackend) Put(key string, value []byte) {
	h.mem.Put(key, value)
	h.disk.Put(key, value)
}

// Cache wraps a Backend with single-flight coalescing (spec.md property P5):
// concurrent requests for the same key share one populate call instead of
// stampeding the origin and the processing pipeline.
type Cache struct {
	backend Backend
	group   singleflight.Group
}

// New wraps backend with request coalescing. A nil backend disables caching
// entirely; Get always misses and GetOrPopulate always recomputes.
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Get returns a cached value for key, if present.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c.backend == nil {
		return nil, false
	}
	return c.backend.Get(key)
}

// GetOrPopulate returns the cached value for key, or calls populate exactly
// once across all concurrent callers sharing that key, caching and
// returning its result.
func (c *Cache) GetOrPopulate(ctx context.Context, key string, populate func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, perr := populate(ctx)
		if perr != nil {
			return nil, perr
		}
		if c.backend != nil {
			c.backend.Put(key, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
