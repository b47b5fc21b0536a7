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

// Package segment implements the segment-file resolver (spec.md §4.3): it
// locates the segment file and chunk-group descriptor owning a logical
// image offset, parses the on-disk table/table2 sections (spec.md §6), and
// multiplexes file descriptors across segment files (spec.md §4.6).
//
// The random-access-over-a-range-indexed-store shape here is grounded on
// jonjohnsonjr-targz's ranger package: resolve an absolute offset down to an
// owning range, then a position within it, via binary search over
// cumulative sizes. Chunk groups and chunk elements are both materialized
// lazily through shared LRU caches, per spec.md §4.5.
package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ianlewis/ewfchunk/internal/cache"
	"github.com/ianlewis/ewfchunk/internal/chunkdata"
	"github.com/ianlewis/ewfchunk/internal/codec"
	"github.com/ianlewis/ewfchunk/internal/lazylist"
)

var errSegment = fmt.Errorf("segment")

// ErrNotFound is returned when an offset is at or past the media size.
var ErrNotFound = fmt.Errorf("%w: not found", errSegment)

// ErrCorruption is returned when both table and table2 fail to parse for a
// chunk group (spec.md §7's table/table2 failover policy).
var ErrCorruption = fmt.Errorf("%w: corruption", errSegment)

// tableHeaderSize is the fixed size of a table/table2 section header:
// number_of_offsets(4) + pad(4) + base_offset(8) + pad(4) + checksum(4).
const tableHeaderSize = 24

// compressedBit marks a table offset entry as referring to a compressed
// chunk (spec.md §6).
const compressedBit = uint32(0x80000000)

// TableEntry is one parsed offset-table record.
type TableEntry struct {
	// Offset is the absolute byte offset of the chunk within the segment
	// file (base_offset + the entry's 31-bit offset).
	Offset int64
	// Compressed is true if the entry's high bit was set.
	Compressed bool
}

// ParseTableSection parses a table or table2 section's raw bytes (header,
// offset entries, and trailing Adler-32 checksum) per spec.md §6. It
// verifies the checksum and returns ErrCorruption if it mismatches.
func ParseTableSection(raw []byte) ([]TableEntry, error) {
	if len(raw) < tableHeaderSize {
		return nil, fmt.Errorf("%w: table header truncated", ErrCorruption)
	}
	numOffsets := binary.LittleEndian.Uint32(raw[0:4])
	baseOffset := binary.LittleEndian.Uint64(raw[8:16])

	entriesStart := tableHeaderSize
	entriesEnd := entriesStart + int(numOffsets)*4
	if len(raw) < entriesEnd+4 {
		return nil, fmt.Errorf("%w: table entries truncated", ErrCorruption)
	}
	entryBytes := raw[entriesStart:entriesEnd]
	wantChecksum := binary.LittleEndian.Uint32(raw[entriesEnd : entriesEnd+4])
	if got := codec.Adler32(entryBytes); got != wantChecksum {
		return nil, fmt.Errorf("%w: table checksum mismatch: got %#x want %#x", ErrCorruption, got, wantChecksum)
	}

	entries := make([]TableEntry, numOffsets)
	for i := range entries {
		raw := binary.LittleEndian.Uint32(entryBytes[i*4 : i*4+4])
		entries[i] = TableEntry{
			Offset:     int64(baseOffset) + int64(raw&^compressedBit),
			Compressed: raw&compressedBit != 0,
		}
	}
	return entries, nil
}

// ChunkGroup is a contiguous run of chunks described by one table/table2
// pair inside a segment file (spec.md §3/§4.3).
type ChunkGroup struct {
	// Offset is the segment-relative logical offset of the group's first chunk.
	Offset int64
	// Size is the logical byte length covered by the group.
	Size int64

	list *lazylist.DataList[*chunkdata.ChunkData]
}

// List returns the group's lazily-loaded chunk element list.
func (g *ChunkGroup) List() *lazylist.DataList[*chunkdata.ChunkData] { return g.list }

// ChunkReader reads the stored bytes for one table entry from a segment
// file and wraps them as a packed, not-yet-unpacked ChunkData.
type ChunkReader func(entry TableEntry, storedSize int64) (*chunkdata.ChunkData, error)

// BuildChunkGroup constructs a ChunkGroup from parsed table entries and the
// media chunk size. sectorsEnd is the absolute end offset of the segment
// file's sectors section for this group, used to size the final entry
// (spec.md §6: a compressed chunk's length is "determined by next chunk's
// offset"). groupOffset is the segment-relative logical offset of the
// group's first chunk. chunksCache is the shared chunk-element cache; read
// loads the stored bytes for a given entry.
func BuildChunkGroup(entries []TableEntry, groupOffset, chunkSize, sectorsEnd int64, chunksCache *cache.Cache, read ChunkReader) *ChunkGroup {
	descs := make([]lazylist.Descriptor, len(entries))
	storedSizes := make([]int64, len(entries))
	for i, e := range entries {
		if i+1 < len(entries) {
			storedSizes[i] = entries[i+1].Offset - e.Offset
		} else {
			storedSizes[i] = sectorsEnd - e.Offset
		}
		descs[i] = lazylist.Descriptor{
			DataOffset: groupOffset + int64(i)*chunkSize,
			DataSize:   chunkSize,
		}
		if e.Compressed {
			descs[i].RangeFlags = uint16(chunkdata.FlagCompressed)
		}
	}

	list := lazylist.NewDataList(descs, chunksCache, func(index int, d lazylist.Descriptor) (*chunkdata.ChunkData, cache.Ownership, error) {
		cd, err := read(entries[index], storedSizes[index])
		if err != nil {
			return nil, cache.Managed, err
		}
		return cd, cache.Managed, nil
	})

	size := chunkSize * int64(len(entries))
	return &ChunkGroup{Offset: groupOffset, Size: size, list: list}
}

// GroupDescriptor locates one chunk group's table/table2 sections within a
// segment file, ahead of parsing them (spec.md §3).
type GroupDescriptor struct {
	// Offset is the segment-relative logical offset of the group's first chunk.
	Offset int64
	// Size is the logical byte length covered by the group.
	Size int64
	// TableOffset and TableLength locate the primary table section's bytes.
	TableOffset, TableLength int64
	// Table2Offset and Table2Length locate the redundant table2 section's
	// bytes, used on primary-table failure (spec.md §7).
	Table2Offset, Table2Length int64
	// SectorsEnd is the absolute offset where this group's sectors end,
	// used to size the group's final chunk.
	SectorsEnd int64
}

// SectionReader reads length bytes at offset from a segment file.
type SectionReader func(offset, length int64) ([]byte, error)

// ChunkGroupLoader builds the ChunkReader used for one segment file's
// groups, given a SectionReader bound to that segment file.
type ChunkGroupLoader func(readSection SectionReader) ChunkReader

// NewSegmentFile constructs a SegmentFile whose chunk groups are lazily
// parsed and cached (spec.md §4.5's groups cache, typical capacity 8).
// readSection reads raw bytes from this segment file; chunkSize is the
// media's nominal chunk size; newChunkReader builds the per-chunk loader
// used once a group's table has been parsed.
func NewSegmentFile(number int, startOffset, size, chunkSize int64, descs []GroupDescriptor, readSection SectionReader, groupsCache, chunksCache *cache.Cache, newChunkReader ChunkGroupLoader) *SegmentFile {
	sf := &SegmentFile{
		Number:      number,
		StartOffset: startOffset,
		Size:        size,
		ChunkSize:   chunkSize,
		descs:       descs,
	}

	groupDescs := make([]lazylist.Descriptor, len(descs))
	for i, d := range descs {
		groupDescs[i] = lazylist.Descriptor{DataOffset: d.Offset, DataSize: d.Size}
	}

	sf.groups = lazylist.NewDataList(groupDescs, groupsCache, func(index int, _ lazylist.Descriptor) (*ChunkGroup, cache.Ownership, error) {
		d := descs[index]
		parse := func(raw []byte) ([]TableEntry, error) {
			entries, err := ParseTableSection(raw)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.Offset >= d.SectorsEnd {
					return nil, fmt.Errorf("%w: chunk offset %d past sectors end %d", ErrCorruption, e.Offset, d.SectorsEnd)
				}
			}
			return entries, nil
		}
		tableBytes, err := readSection(d.TableOffset, d.TableLength)
		var entries []TableEntry
		if err == nil {
			entries, err = parse(tableBytes)
		}
		if err != nil {
			table2Bytes, err2 := readSection(d.Table2Offset, d.Table2Length)
			if err2 != nil {
				return nil, cache.Managed, fmt.Errorf("%w: segment %d group %d: table: %w; table2: %w", ErrCorruption, number, index, err, err2)
			}
			entries, err2 = parse(table2Bytes)
			if err2 != nil {
				return nil, cache.Managed, fmt.Errorf("%w: segment %d group %d: table: %w; table2: %w", ErrCorruption, number, index, err, err2)
			}
		}

		group := BuildChunkGroup(entries, d.Offset, chunkSize, d.SectorsEnd, chunksCache, newChunkReader(readSection))
		return group, cache.Managed, nil
	})

	return sf
}

// SegmentFile is one .E0n container's extent within the logical image and
// its ordered, non-overlapping chunk groups (spec.md §3).
type SegmentFile struct {
	Number      int
	StartOffset int64
	Size        int64
	ChunkSize   int64

	descs  []GroupDescriptor
	groups *lazylist.DataList[*ChunkGroup]
}

// ResolveGroup returns the ChunkGroup owning segOffset (an offset relative
// to this segment file's start) via binary search on cumulative group size,
// per spec.md §4.3's ordering invariant, materializing the group through
// the groups cache if it is not already cached.
func (sf *SegmentFile) ResolveGroup(segOffset int64) (*ChunkGroup, error) {
	n := len(sf.descs)
	i := sort.Search(n, func(i int) bool {
		d := sf.descs[i]
		return d.Offset+d.Size > segOffset
	})
	if i >= n || segOffset < sf.descs[i].Offset {
		return nil, ErrNotFound
	}
	g, err := sf.groups.GetElementValue(i)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Table is the ordered sequence of segment-file descriptors keyed by
// segment number (spec.md §3).
type Table struct {
	Segments []*SegmentFile
	// lastIndex caches the most recently resolved segment index: Resolve
	// checks whether that segment file still contains the requested offset
	// before falling back to a fresh binary search. SegmentFile.ResolveGroup
	// has no such fast path and always binary-searches its groups.
	lastIndex int
}

// MediaSize returns the logical image size covered by the table: the sum of
// every segment file's Size.
func (t *Table) MediaSize() int64 {
	var total int64
	for _, s := range t.Segments {
		total += s.Size
	}
	return total
}

// Resolve returns the segment file owning offset and the offset relative to
// that segment file's start. It returns ErrNotFound if offset is at or past
// the media size, per spec.md §4.3.
func (t *Table) Resolve(offset int64) (*SegmentFile, int64, error) {
	if offset < 0 || offset >= t.MediaSize() {
		return nil, 0, ErrNotFound
	}

	if t.lastIndex < len(t.Segments) {
		s := t.Segments[t.lastIndex]
		if offset >= s.StartOffset && offset < s.StartOffset+s.Size {
			return s, offset - s.StartOffset, nil
		}
	}

	n := len(t.Segments)
	i := sort.Search(n, func(i int) bool {
		s := t.Segments[i]
		return s.StartOffset+s.Size > offset
	})
	if i >= n || offset < t.Segments[i].StartOffset {
		return nil, 0, ErrNotFound
	}
	t.lastIndex = i
	return t.Segments[i], offset - t.Segments[i].StartOffset, nil
}

// GetChunksListByOffset implements spec.md §4.3's
// get_chunks_list_by_offset: given a logical offset, it resolves the owning
// segment file and chunk group and returns the group's element list along
// with listOffset, the same offset re-expressed in the list's own
// (segment-relative) coordinate space for use with
// lazylist.DataList.GetElementValueAtOffset.
func (t *Table) GetChunksListByOffset(offset int64) (segmentNumber int, listOffset int64, list *lazylist.DataList[*chunkdata.ChunkData], err error) {
	sf, segOffset, err := t.Resolve(offset)
	if err != nil {
		return 0, 0, nil, err
	}
	group, err := sf.ResolveGroup(segOffset)
	if err != nil {
		return 0, 0, nil, err
	}
	return sf.Number, segOffset, group.list, nil
}

// filePoolEntry pairs a random-access reader with its closer, satisfying
// io.Closer so Cache can free it automatically on eviction.
type filePoolEntry struct {
	reader io.ReaderAt
	closer io.Closer
}

func (e *filePoolEntry) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// OpenFunc lazily opens the segment file numbered segmentNumber for
// absolute-positioned reads.
type OpenFunc func(segmentNumber int) (io.ReaderAt, io.Closer, error)

// FilePool multiplexes file descriptors across segment files (spec.md
// §4.6). Opens are lazy and idempotent; reads are pread-style via
// io.ReaderAt so concurrent readers on distinct pool entries never contend
// on a shared seek pointer. The pool is bounded by an LRU cache of open
// descriptors so a 1,000-segment image does not exhaust OS handles.
type FilePool struct {
	open  OpenFunc
	cache *cache.Cache
}

// NewFilePool creates a FilePool that opens segment files lazily via open,
// keeping at most maxOpen file descriptors open at once.
func NewFilePool(open OpenFunc, maxOpen int) (*FilePool, error) {
	c, err := cache.New(maxOpen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSegment, err)
	}
	return &FilePool{open: open, cache: c}, nil
}

// ReadAt reads len(buf) bytes at offset from the segment file numbered
// segmentNumber, opening it first if it is not already held open.
func (p *FilePool) ReadAt(segmentNumber int, buf []byte, offset int64) (int, error) {
	key := cache.Key{Index: segmentNumber}
	var entry *filePoolEntry
	if v, ok := p.cache.Get(key); ok {
		entry = v.(*filePoolEntry)
	} else {
		r, closer, err := p.open(segmentNumber)
		if err != nil {
			return 0, fmt.Errorf("%w: opening segment %d: %w", errSegment, segmentNumber, err)
		}
		entry = &filePoolEntry{reader: r, closer: closer}
		p.cache.Add(key, entry, cache.Managed)
	}

	n, err := entry.reader.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: reading segment %d at %d: %w", errSegment, segmentNumber, offset, err)
	}
	if n < len(buf) {
		return n, fmt.Errorf("%w: short read on segment %d at %d: got %d want %d", errSegment, segmentNumber, offset, n, len(buf))
	}
	return n, nil
}

// Section returns a SectionReader bound to segmentNumber, for use with
// NewSegmentFile.
func (p *FilePool) Section(segmentNumber int) SectionReader {
	return func(offset, length int64) ([]byte, error) {
		buf := make([]byte, length)
		if _, err := p.ReadAt(segmentNumber, buf, offset); err != nil {
			return nil, err
		}
		return buf, nil
	}
}

// Close releases every open file descriptor held by the pool.
func (p *FilePool) Close() {
	p.cache.Purge()
}
