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

package lazylist

import "sort"

// Range is a half-open [Start, Start+Length) span.
type Range struct {
	Start  int64
	Length int64
}

// End returns the exclusive end of the range.
func (r Range) End() int64 { return r.Start + r.Length }

type rangeEntry[V any] struct {
	Range
	value    V
	hasValue bool
}

// RangeList is a disjoint, sorted (start, length) -> value map (spec.md
// §4.5). Inserting an overlapping range either merges spans (when no value
// is given, as for the checksum-error list) or replaces spans (when a value
// is given and owned, as for the delta-chunks list).
type RangeList[V any] struct {
	entries []rangeEntry[V]
	free    func(V)
}

// NewRangeList creates an empty RangeList. free, if non-nil, is invoked on
// the value of any entry that Insert replaces or Clear removes, modeling the
// MANAGED-value free callback from spec.md §9.
func NewRangeList[V any](free func(V)) *RangeList[V] {
	return &RangeList[V]{free: free}
}

// Len returns the number of disjoint ranges currently stored.
func (l *RangeList[V]) Len() int { return len(l.entries) }

// At returns the i'th range and its value in ascending start-sector order
// (spec.md §4.4's checksum-error iteration order).
func (l *RangeList[V]) At(i int) (Range, V, bool) {
	e := l.entries[i]
	return e.Range, e.value, e.hasValue
}

// Query returns the value stored for the range containing offset, if any.
func (l *RangeList[V]) Query(offset int64) (V, bool) {
	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].End() > offset
	})
	if i >= len(l.entries) || offset < l.entries[i].Start {
		var zero V
		return zero, false
	}
	return l.entries[i].value, l.entries[i].hasValue
}

// InsertMerge inserts r with no associated value, merging with any
// overlapping or adjacent existing ranges (spec.md §4.4's checksum-error
// append_error and testable property 5).
func (l *RangeList[V]) InsertMerge(r Range) {
	start, end := r.Start, r.End()

	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].End() >= start
	})
	j := i
	for j < len(l.entries) && l.entries[j].Start <= end {
		if l.entries[j].Start < start {
			start = l.entries[j].Start
		}
		if l.entries[j].End() > end {
			end = l.entries[j].End()
		}
		j++
	}

	merged := rangeEntry[V]{Range: Range{Start: start, Length: end - start}}
	l.entries = append(l.entries[:i], append([]rangeEntry[V]{merged}, l.entries[j:]...)...)
}

// InsertReplace inserts r with value, replacing (and freeing) any existing
// entries it overlaps. Used by the delta-chunks list, where a rewritten
// chunk supersedes whatever primary or prior-delta state occupied its byte
// range (spec.md §4.4's set_chunk_data_by_offset delta path).
func (l *RangeList[V]) InsertReplace(r Range, value V) {
	start, end := r.Start, r.End()

	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].End() > start
	})
	j := i
	for j < len(l.entries) && l.entries[j].Start < end {
		if l.free != nil && l.entries[j].hasValue {
			l.free(l.entries[j].value)
		}
		j++
	}

	inserted := rangeEntry[V]{Range: r, value: value, hasValue: true}
	l.entries = append(l.entries[:i], append([]rangeEntry[V]{inserted}, l.entries[j:]...)...)
}

// Clear removes every entry, freeing any owned values.
func (l *RangeList[V]) Clear() {
	if l.free != nil {
		for _, e := range l.entries {
			if e.hasValue {
				l.free(e.value)
			}
		}
	}
	l.entries = nil
}

// Clone returns a copy of l sharing no entry slice storage with the
// original, so inserts into either list leave the other unchanged; values are
// copied as is, so pointer values are shared (spec.md §5's clone semantics: the checksum-error list and, in
// this generalization, any RangeList is duplicated rather than shared
// across chunk-table clones).
func (l *RangeList[V]) Clone() *RangeList[V] {
	clone := &RangeList[V]{free: l.free}
	clone.entries = append([]rangeEntry[V](nil), l.entries...)
	return clone
}
