// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the fixed-capacity LRU value cache shared by the
// lazy lists (spec.md §4.5): a Cache keyed by (list identity, element index,
// generation) whose slots carry MANAGED/NON_MANAGED ownership.
package cache

import (
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Ownership describes whether a cache slot's value is freed on eviction
// (Managed) or retained by the caller (NonManaged). See spec.md §9's
// CacheSlot = Owned(Box<ChunkData>) | Borrowed(&ChunkData) design note.
type Ownership int

const (
	// Managed means the cache owns the value and frees it on eviction.
	Managed Ownership = iota
	// NonManaged means the caller retains ownership; eviction is a no-op.
	NonManaged
)

// Key identifies a cached slot by its owning list, the element's index
// within that list, and a generation counter that invalidates stale entries
// after a list element is replaced in place.
type Key struct {
	ListID     uint64
	Index      int
	Generation uint64
}

type slot struct {
	value     any
	ownership Ownership
}

var errCache = fmt.Errorf("cache")

// ErrResourceExhausted is returned when the cache cannot be constructed with
// the requested capacity.
var ErrResourceExhausted = fmt.Errorf("%w: resource exhausted", errCache)

// Cache is a fixed-capacity LRU cache of arbitrary values, used both for
// chunk-group lists (typical capacity 8) and chunk-element lists (typical
// capacity 8), per spec.md §4.5.
type Cache struct {
	lru      *lru.Cache[Key, slot]
	capacity int
}

// New creates a Cache with the given capacity. Eviction of a Managed slot
// closes the value if it implements io.Closer; this mirrors the teacher's
// temp-file cleanup pattern in writer.go's Close, generalized to arbitrary
// cached values.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrResourceExhausted, capacity)
	}
	c := &Cache{}
	evict := func(_ Key, s slot) {
		if s.ownership != Managed {
			return
		}
		if closer, ok := s.value.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	l, err := lru.NewWithEvict(capacity, evict)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	c.lru = l
	c.capacity = capacity
	return c, nil
}

// Get returns the cached value for key, if present. The bool result
// mirrors the comma-ok idiom of a map lookup.
func (c *Cache) Get(key Key) (any, bool) {
	s, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return s.value, true
}

// Add inserts value under key with the given ownership, evicting the LRU
// entry if the cache is at capacity.
func (c *Cache) Add(key Key, value any, ownership Ownership) {
	c.lru.Add(key, slot{value: value, ownership: ownership})
}

// Remove evicts key immediately, running the same eviction logic as a
// capacity-triggered eviction.
func (c *Cache) Remove(key Key) {
	c.lru.Remove(key)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge evicts every entry, freeing all Managed values.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Clone returns a new Cache with the same capacity but none of the
// entries of c. Per spec.md §5 and §9, cloned chunk tables duplicate their
// mutable caches rather than sharing them, so that concurrent clones do not
// contend on cache state.
func (c *Cache) Clone() (*Cache, error) {
	return New(c.capacity)
}
