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

package ewfchunk

import (
	"errors"
	"fmt"

	"github.com/ianlewis/ewfchunk/internal/cache"
	"github.com/ianlewis/ewfchunk/internal/chunkdata"
	"github.com/ianlewis/ewfchunk/internal/lazylist"
	"github.com/ianlewis/ewfchunk/internal/segment"
)

const (
	defaultGroupCacheCapacity = 8
	defaultChunkCacheCapacity = 8
	defaultMaxOpenSegments    = 8
)

// SegmentTableBuilder constructs the segment.Table backing a ChunkTable,
// binding its chunk groups to groupsCache and chunksCache. Container
// framing (locating table/table2/sectors sections within each segment
// file) is out of scope for this package; callers supply it here.
type SegmentTableBuilder func(groupsCache, chunksCache *cache.Cache) *segment.Table

// ChunkTable is the top-level chunk I/O engine (spec.md §4.4): it resolves
// a logical image offset to chunk data across segment files, overlays a
// delta range list for chunks rewritten after acquisition, and tracks
// checksum errors encountered while reading.
type ChunkTable struct {
	media MediaValues
	opts  OpenOptions

	buildTable SegmentTableBuilder
	pool       *segment.FilePool
	segments   *segment.Table

	delta          *lazylist.RangeList[*chunkdata.ChunkData]
	checksumErrors *lazylist.RangeList[struct{}]
}

// NewChunkTable constructs a ChunkTable for an image described by media,
// using buildTable to assemble the segment.Table and pool to multiplex
// segment file descriptors.
func NewChunkTable(media MediaValues, opts OpenOptions, buildTable SegmentTableBuilder, pool *segment.FilePool) (*ChunkTable, error) {
	if err := media.Validate(); err != nil {
		return nil, err
	}

	groupCap := opts.GroupCacheCapacity
	if groupCap <= 0 {
		groupCap = defaultGroupCacheCapacity
	}
	chunkCap := opts.ChunkCacheCapacity
	if chunkCap <= 0 {
		chunkCap = defaultChunkCacheCapacity
	}

	groupsCache, err := cache.New(groupCap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	chunksCache, err := cache.New(chunkCap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}

	return &ChunkTable{
		media:          media,
		opts:           opts,
		buildTable:     buildTable,
		pool:           pool,
		segments:       buildTable(groupsCache, chunksCache),
		delta:          lazylist.NewRangeList[*chunkdata.ChunkData](nil),
		checksumErrors: lazylist.NewRangeList[struct{}](nil),
	}, nil
}

// chunkStart aligns offset down to its owning chunk's first byte.
func (t *ChunkTable) chunkStart(offset int64) int64 {
	return offset - offset%t.media.ChunkSize
}

// tailSize returns the expected unpacked size of the chunk starting at
// chunkStart: the nominal chunk size, or the media's final partial-chunk
// remainder if chunkStart begins the last chunk.
func (t *ChunkTable) tailSize(chunkStart int64) int64 {
	lastStart := (t.media.NumberOfChunks() - 1) * t.media.ChunkSize
	if chunkStart != lastStart {
		return t.media.ChunkSize
	}
	if rem := t.media.MediaSize() % t.media.ChunkSize; rem != 0 {
		return rem
	}
	return t.media.ChunkSize
}

// startSector returns the first sector covered by the chunk starting at
// chunkStart (spec.md §3: start_sector = chunk_index * sectors_per_chunk).
func (t *ChunkTable) startSector(chunkStart int64) int64 {
	chunkIndex := chunkStart / t.media.ChunkSize
	return chunkIndex * t.media.SectorsPerChunk
}

// sectorCount returns the number of sectors covered by the chunk starting
// at startSector, clamped to the media's remaining sectors for a short
// final chunk (spec.md §3: nsec = min(sectors_per_chunk, number_of_sectors
// - start_sector)).
func (t *ChunkTable) sectorCount(startSector int64) int64 {
	if remaining := t.media.NumberOfSectors - startSector; remaining < t.media.SectorsPerChunk {
		return remaining
	}
	return t.media.SectorsPerChunk
}

// recordChecksumError notes that the chunk at chunkStart failed
// verification, merging its sector range into the checksum-error range list
// (spec.md §4.4's append_error, testable property 5; §6 reports errors as
// (start_sector, nsec), not byte ranges).
func (t *ChunkTable) recordChecksumError(chunkStart int64) {
	sector := t.startSector(chunkStart)
	t.checksumErrors.InsertMerge(lazylist.Range{Start: sector, Length: t.sectorCount(sector)})
}

func (t *ChunkTable) zeroed(chunkStart int64) *chunkdata.ChunkData {
	return chunkdata.Zero(int(t.tailSize(chunkStart)))
}

// GetChunkDataByOffset returns the unpacked ChunkData covering offset and
// the logical offset of that chunk's first byte, implementing spec.md
// §4.4's get_chunk_data_by_offset:
//
//  1. the delta list is checked first, so a rewritten chunk always takes
//     precedence over the segment table's primary data;
//  2. otherwise the segment table resolves offset to a segment file, chunk
//     group, and chunk element;
//  3. a hole in the chunk table (no group, or no chunk element within the
//     group, covers offset) yields a synthesized zeroed, corrupted chunk
//     rather than an error;
//  4. the element is unpacked, and a checksum or decompression failure is
//     recorded in the checksum-error list and, if ZeroOnError is set,
//     replaced with zeroed data rather than surfaced as an error.
func (t *ChunkTable) GetChunkDataByOffset(offset int64) (*chunkdata.ChunkData, int64, error) {
	if offset < 0 || offset >= t.media.MediaSize() {
		return nil, 0, ErrNotFound
	}
	start := t.chunkStart(offset)

	if cd, ok := t.delta.Query(start); ok {
		return cd, start, nil
	}

	_, listOffset, list, err := t.segments.GetChunksListByOffset(offset)
	if err != nil {
		switch {
		case errors.Is(err, segment.ErrNotFound):
			// A hole in the chunk table (no group covers offset) always
			// synthesizes a zeroed, corrupted chunk, regardless of
			// ZeroOnError: spec.md §4.4 step 3 treats this as the chunk
			// table's own representation of missing data, not a read
			// failure subject to the zero-on-error policy.
			t.recordChecksumError(start)
			return t.zeroed(start), start, nil
		case errors.Is(err, segment.ErrCorruption):
			if t.opts.ZeroOnError {
				t.recordChecksumError(start)
				return t.zeroed(start), start, nil
			}
			return nil, 0, fmt.Errorf("%w: %w", ErrCorruption, err)
		default:
			return nil, 0, fmt.Errorf("%w: %w", ErrIO, err)
		}
	}

	_, _, cd, err := list.GetElementValueAtOffset(listOffset)
	if err != nil {
		if errors.Is(err, lazylist.ErrNotFound) {
			// A group with no recorded chunk at offset is the same kind of
			// hole as a missing group.
			t.recordChecksumError(start)
			return t.zeroed(start), start, nil
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrIO, err)
	}

	if err := chunkdata.Unpack(cd, int(t.media.ChunkSize), t.media.CompressionMethod, int(t.tailSize(start))); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if cd.RangeFlags.Has(chunkdata.FlagIsCorrupted) {
		t.recordChecksumError(start)
		if t.opts.ZeroOnError {
			cd.Data = make([]byte, t.tailSize(start))
			cd.DataSize = len(cd.Data)
		}
	}
	return cd, start, nil
}

// SetChunkDataByOffset overwrites the chunk covering offset with data,
// recording it in the delta list (spec.md §4.4's set_chunk_data_by_offset):
// a rewritten chunk is never written back into a segment file's primary
// table, so it must take precedence over that table on every subsequent
// read. offset must be chunk-aligned.
func (t *ChunkTable) SetChunkDataByOffset(offset int64, data []byte) error {
	if offset < 0 || offset >= t.media.MediaSize() {
		return ErrNotFound
	}
	if offset%t.media.ChunkSize != 0 {
		return fmt.Errorf("%w: offset %d is not chunk-aligned", ErrInvalidArgument, offset)
	}

	want := int(t.tailSize(offset))
	if len(data) != want {
		return fmt.Errorf("%w: data length %d, want %d", ErrInvalidArgument, len(data), want)
	}

	cd := &chunkdata.ChunkData{
		Data:       append([]byte(nil), data...),
		DataSize:   len(data),
		RangeFlags: chunkdata.FlagUnpacked | chunkdata.FlagIsDelta,
	}
	t.delta.InsertReplace(lazylist.Range{Start: offset, Length: t.media.ChunkSize}, cd)
	return nil
}

// NumberOfChecksumErrors returns the number of disjoint sector ranges
// recorded as failing checksum verification.
func (t *ChunkTable) NumberOfChecksumErrors() int {
	return t.checksumErrors.Len()
}

// ChecksumError returns the i'th checksum-error range as (start_sector,
// nsec), in ascending sector order (spec.md §4.4, §6).
func (t *ChunkTable) ChecksumError(i int) (startSector, numberOfSectors int64) {
	r, _, _ := t.checksumErrors.At(i)
	return r.Start, r.Length
}

// AppendChecksumError records startSector..startSector+numberOfSectors as a
// checksum error, merging with any adjacent or overlapping recorded range.
// Exposed for callers (such as an acquisition verifier) that detect
// corruption outside of GetChunkDataByOffset's own unpack path.
func (t *ChunkTable) AppendChecksumError(startSector, numberOfSectors int64) {
	t.checksumErrors.InsertMerge(lazylist.Range{Start: startSector, Length: numberOfSectors})
}

// Clone returns an independent ChunkTable over the same media and segment
// descriptors, with its own chunk-group and chunk-element caches (spec.md
// §5 and §9: clones must not contend on cache state) and its own copy of
// the delta and checksum-error lists; the *ChunkData values already in the
// delta list are shared with t, not duplicated. The underlying FilePool, and the
// read-only segment descriptors it multiplexes, are shared: they hold no
// mutable per-reader state.
func (t *ChunkTable) Clone() (*ChunkTable, error) {
	clone, err := NewChunkTable(t.media, t.opts, t.buildTable, t.pool)
	if err != nil {
		return nil, err
	}
	clone.delta = t.delta.Clone()
	clone.checksumErrors = t.checksumErrors.Clone()
	return clone, nil
}

// Close releases the segment file descriptor pool shared by this
// ChunkTable and any clones derived from it. Callers that create multiple
// clones should call Close exactly once, after the last clone is done.
func (t *ChunkTable) Close() error {
	t.pool.Close()
	return nil
}
