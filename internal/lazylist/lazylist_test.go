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

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ianlewis/ewfchunk/internal/cache"
)

func TestDataListGetElementValueAtOffset(t *testing.T) {
	t.Parallel()

	c, err := cache.New(8)
	if err != nil {
		t.Fatalf("cache.New() err = %v", err)
	}

	descs := []Descriptor{
		{DataOffset: 0, DataSize: 100},
		{DataOffset: 100, DataSize: 50},
		{DataOffset: 150, DataSize: 200},
	}
	var loadCount int
	dl := NewDataList(descs, c, func(index int, d Descriptor) (string, cache.Ownership, error) {
		loadCount++
		return "element", cache.Managed, nil
	})

	idx, off, val, err := dl.GetElementValueAtOffset(120)
	if err != nil {
		t.Fatalf("GetElementValueAtOffset() err = %v", err)
	}
	if idx != 1 || off != 20 || val != "element" {
		t.Errorf("got (%d, %d, %q), want (1, 20, element)", idx, off, val)
	}

	// Second lookup within the same element should not reload.
	if _, _, _, err := dl.GetElementValueAtOffset(130); err != nil {
		t.Fatalf("GetElementValueAtOffset() err = %v", err)
	}
	if loadCount != 1 {
		t.Errorf("loadCount = %d, want 1 (cache hit expected)", loadCount)
	}

	if _, _, _, err := dl.GetElementValueAtOffset(1000); err != ErrNotFound {
		t.Errorf("GetElementValueAtOffset(1000) err = %v, want ErrNotFound", err)
	}
}

func TestDataListSetElementValue(t *testing.T) {
	t.Parallel()

	c, err := cache.New(8)
	if err != nil {
		t.Fatalf("cache.New() err = %v", err)
	}
	descs := []Descriptor{{DataOffset: 0, DataSize: 10}}
	dl := NewDataList(descs, c, func(index int, d Descriptor) (string, cache.Ownership, error) {
		return "loaded", cache.Managed, nil
	})

	dl.SetElementValue(0, "overridden", cache.Managed)
	_, _, v, err := dl.GetElementValueAtOffset(5)
	if err != nil {
		t.Fatalf("GetElementValueAtOffset() err = %v", err)
	}
	if v != "overridden" {
		t.Errorf("value = %q, want overridden", v)
	}
}

func TestRangeListInsertMerge(t *testing.T) {
	t.Parallel()

	l := NewRangeList[struct{}](nil)
	l.InsertMerge(Range{Start: 0, Length: 10})
	l.InsertMerge(Range{Start: 20, Length: 10})
	l.InsertMerge(Range{Start: 10, Length: 10}) // adjacent to both -> merges into one

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	r, _, _ := l.At(0)
	if r.Start != 0 || r.Length != 30 {
		t.Errorf("merged range = %+v, want {0 30}", r)
	}
}

func TestRangeListInsertMergeOverlapping(t *testing.T) {
	t.Parallel()

	l := NewRangeList[struct{}](nil)
	l.InsertMerge(Range{Start: 0, Length: 10})
	l.InsertMerge(Range{Start: 5, Length: 10}) // overlaps [0,10) -> [0,15)

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	r, _, _ := l.At(0)
	if r.Start != 0 || r.Length != 15 {
		t.Errorf("merged range = %+v, want {0 15}", r)
	}
}

func TestRangeListInsertMergeDisjoint(t *testing.T) {
	t.Parallel()

	l := NewRangeList[struct{}](nil)
	l.InsertMerge(Range{Start: 0, Length: 10})
	l.InsertMerge(Range{Start: 100, Length: 10})

	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	r0, _, _ := l.At(0)
	r1, _, _ := l.At(1)
	if diff := cmp.Diff([]Range{{0, 10}, {100, 10}}, []Range{r0, r1}, cmpopts.EquateComparable()); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestRangeListInsertReplace(t *testing.T) {
	t.Parallel()

	var freed []string
	l := NewRangeList(func(v string) { freed = append(freed, v) })

	l.InsertReplace(Range{Start: 0, Length: 10}, "first")
	l.InsertReplace(Range{Start: 0, Length: 10}, "second")

	v, ok := l.Query(5)
	if !ok || v != "second" {
		t.Fatalf("Query(5) = (%q, %v), want (second, true)", v, ok)
	}
	if len(freed) != 1 || freed[0] != "first" {
		t.Errorf("freed = %v, want [first]", freed)
	}
}

func TestRangeListDeltaPrecedence(t *testing.T) {
	t.Parallel()

	l := NewRangeList[string](nil)
	l.InsertReplace(Range{Start: 65536, Length: 32768}, "delta")

	if _, ok := l.Query(0); ok {
		t.Errorf("Query(0) found a value in a region with no delta entry")
	}
	v, ok := l.Query(65536)
	if !ok || v != "delta" {
		t.Errorf("Query(65536) = (%q, %v), want (delta, true)", v, ok)
	}
	v, ok = l.Query(98303)
	if !ok || v != "delta" {
		t.Errorf("Query(98303) = (%q, %v), want (delta, true)", v, ok)
	}
	if _, ok := l.Query(98304); ok {
		t.Errorf("Query(98304) found a value past the delta range")
	}
}

func TestRangeListClone(t *testing.T) {
	t.Parallel()

	l := NewRangeList[string](nil)
	l.InsertReplace(Range{Start: 0, Length: 10}, "v")

	clone := l.Clone()
	clone.InsertReplace(Range{Start: 100, Length: 10}, "w")

	if l.Len() != 1 {
		t.Errorf("original Len() = %d, want 1 (clone mutation leaked)", l.Len())
	}
	if clone.Len() != 2 {
		t.Errorf("clone Len() = %d, want 2", clone.Len())
	}
}
