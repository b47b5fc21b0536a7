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

// Package lazylist implements the generic lazy-loaded element lists used
// throughout the engine (spec.md §4.5): DataList, an offset-indexed list of
// descriptors whose values are materialized on demand through a cache, and
// RangeList, a disjoint sorted (start, length) -> value map.
package lazylist

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ianlewis/ewfchunk/internal/cache"
)

var nextListID uint64

func allocListID() uint64 {
	return atomic.AddUint64(&nextListID, 1)
}

var errLazyList = fmt.Errorf("lazylist")

// ErrNotFound is returned when an offset falls outside the list's range.
var ErrNotFound = fmt.Errorf("%w: not found", errLazyList)

// Descriptor is one element's location and metadata within a DataList.
type Descriptor struct {
	DataOffset int64
	DataSize   int64
	RangeFlags uint16
}

// Loader materializes the value for a Descriptor on a cache miss. It must
// return the value along with the ownership the cache should record for it,
// matching spec.md §4.5's read-element callback contract.
type Loader[T any] func(index int, desc Descriptor) (T, cache.Ownership, error)

// DataList is a lazily-loaded, offset-indexed list of elements of type T,
// backed by a shared Cache (spec.md §4.5). Elements are loaded via Loader on
// a cache miss and cached under (listID, index, generation).
type DataList[T any] struct {
	listID      uint64
	descriptors []Descriptor
	cache       *cache.Cache
	load        Loader[T]
	generations []uint64
}

// NewDataList creates a DataList over descriptors, which must be sorted and
// non-overlapping by DataOffset (spec.md §4.3's ordering invariant). c is
// the shared cache used to materialize elements; load is invoked on a miss.
func NewDataList[T any](descriptors []Descriptor, c *cache.Cache, load Loader[T]) *DataList[T] {
	return &DataList[T]{
		listID:      allocListID(),
		descriptors: descriptors,
		cache:       c,
		load:        load,
		generations: make([]uint64, len(descriptors)),
	}
}

// Len returns the number of descriptors in the list.
func (l *DataList[T]) Len() int { return len(l.descriptors) }

// Descriptor returns the descriptor at index.
func (l *DataList[T]) Descriptor(index int) Descriptor { return l.descriptors[index] }

// indexForOffset binary-searches the descriptors by cumulative DataOffset.
func (l *DataList[T]) indexForOffset(offset int64) (int, bool) {
	n := len(l.descriptors)
	i := sort.Search(n, func(i int) bool {
		d := l.descriptors[i]
		return d.DataOffset+d.DataSize > offset
	})
	if i >= n || offset < l.descriptors[i].DataOffset {
		return 0, false
	}
	return i, true
}

// GetElementValueAtOffset resolves offset to an element, returning its list
// index, the offset within that element, and the materialized value. On a
// cache miss it invokes the configured Loader and inserts the result into
// the cache (spec.md §4.5).
func (l *DataList[T]) GetElementValueAtOffset(offset int64) (index int, offsetInElement int64, value T, err error) {
	idx, ok := l.indexForOffset(offset)
	if !ok {
		var zero T
		return 0, 0, zero, ErrNotFound
	}
	v, err := l.GetElementValue(idx)
	if err != nil {
		var zero T
		return 0, 0, zero, err
	}
	return idx, offset - l.descriptors[idx].DataOffset, v, nil
}

// GetElementValue returns the materialized value at index, loading and
// caching it if necessary.
func (l *DataList[T]) GetElementValue(index int) (T, error) {
	key := cache.Key{ListID: l.listID, Index: index, Generation: l.generations[index]}
	if v, ok := l.cache.Get(key); ok {
		return v.(T), nil
	}
	v, ownership, err := l.load(index, l.descriptors[index])
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: loading element %d: %w", errLazyList, index, err)
	}
	l.cache.Add(key, v, ownership)
	return v, nil
}

// SetElementValue overwrites the value at index directly, bypassing the
// Loader, and bumps the element's generation so any previously cached value
// under the old generation is orphaned rather than returned to a caller
// still holding its key. Used for initial acquisition (spec.md §4.4's
// set_chunk_data_by_offset primary-chunk path).
func (l *DataList[T]) SetElementValue(index int, value T, ownership cache.Ownership) {
	l.generations[index]++
	key := cache.Key{ListID: l.listID, Index: index, Generation: l.generations[index]}
	l.cache.Add(key, value, ownership)
}
