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

// Package ewfchunk implements the chunk I/O engine for Expert Witness
// Compression Format (EWF / E01) forensic disk images: resolving a logical
// image offset to a physical chunk across segment files, packing and
// unpacking chunk payloads (empty-block detection, 64-bit pattern fill,
// deflate/bzip2 compression, Adler-32 checksums), and overlaying a delta
// range list for chunks rewritten after initial acquisition.
//
// Command-line tooling, acquisition, whole-image hashing, metadata/logical
// file parsing, and segment-file container framing beyond the table and
// sectors sections are out of scope; see cmd/ewfchunk for a CLI built on
// top of this package.
package ewfchunk

import (
	"fmt"

	"github.com/ianlewis/ewfchunk/internal/chunkdata"
	"github.com/ianlewis/ewfchunk/internal/codec"
)

// CompressionMethod selects the algorithm used to compress chunk payloads.
type CompressionMethod = codec.Method

// Recognized compression methods (spec.md §6).
const (
	CompressionNone    = codec.MethodNone
	CompressionDeflate = codec.MethodDeflate
	CompressionBzip2   = codec.MethodBzip2
)

// CompressionLevel selects the compression effort.
type CompressionLevel = codec.Level

// Recognized compression levels (spec.md §6).
const (
	LevelNone = codec.LevelNone
	LevelFast = codec.LevelFast
	LevelBest = codec.LevelBest
)

// CompressionFlags is a bitset of optional compression behaviors.
type CompressionFlags uint8

const (
	// UseEmptyBlockCompression marks an image whose all-zero chunks are
	// stored as one canonical precomputed blob (see PrecomputeEmptyBlockBlob).
	UseEmptyBlockCompression CompressionFlags = 1 << iota
	// UsePatternFillCompression marks an image that uses the 16-byte
	// pattern-fill encoding for chunks that are an integer repetition of an
	// 8-byte pattern.
	UsePatternFillCompression
)

var errEWF = fmt.Errorf("ewfchunk")

// Error kinds surfaced by the core (spec.md §7).
var (
	// ErrInvalidArgument indicates a caller supplied an invalid parameter.
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", errEWF)
	// ErrIO indicates an underlying file I/O failure, which always propagates.
	ErrIO = fmt.Errorf("%w: I/O failure", errEWF)
	// ErrCorruption indicates the chunk table itself (not a chunk payload)
	// could not be parsed from either table or table2.
	ErrCorruption = fmt.Errorf("%w: corruption", errEWF)
	// ErrNotSupported indicates an unrecognized compression method.
	ErrNotSupported = fmt.Errorf("%w: not supported", errEWF)
	// ErrResourceExhausted indicates a cache or pool allocation failed.
	ErrResourceExhausted = fmt.Errorf("%w: resource exhausted", errEWF)
	// ErrNotFound indicates a caller probed an offset at or past media_size.
	ErrNotFound = fmt.Errorf("%w: not found", errEWF)
)

// MediaValues is the immutable-after-open configuration of a forensic image
// (spec.md §3).
type MediaValues struct {
	// ChunkSize is the nominal chunk size in bytes; a power of two (e.g.
	// 32768).
	ChunkSize int64
	// SectorsPerChunk is the number of bytes_per_sector-sized sectors per
	// chunk.
	SectorsPerChunk int64
	// BytesPerSector is the sector size in bytes, typically 512.
	BytesPerSector int64
	// NumberOfSectors is the total number of sectors in the media.
	NumberOfSectors int64

	// CompressionMethod is the codec used for compressed chunks.
	CompressionMethod CompressionMethod
	// CompressionLevel is the effort level used when compressing.
	CompressionLevel CompressionLevel
	// CompressionFlags records the image's empty-block and pattern-fill
	// options. ChunkTable does not read it.
	CompressionFlags CompressionFlags
}

// MediaSize returns number_of_sectors * bytes_per_sector.
func (m MediaValues) MediaSize() int64 {
	return m.NumberOfSectors * m.BytesPerSector
}

// NumberOfChunks returns the number of chunks needed to cover MediaSize,
// rounding up for a partial tail chunk.
func (m MediaValues) NumberOfChunks() int64 {
	size := m.MediaSize()
	n := size / m.ChunkSize
	if size%m.ChunkSize != 0 {
		n++
	}
	return n
}

// Validate checks MediaValues for internal consistency.
func (m MediaValues) Validate() error {
	if m.ChunkSize <= 0 || m.ChunkSize&(m.ChunkSize-1) != 0 {
		return fmt.Errorf("%w: chunk_size %d is not a positive power of two", ErrInvalidArgument, m.ChunkSize)
	}
	if m.SectorsPerChunk <= 0 {
		return fmt.Errorf("%w: sectors_per_chunk %d must be positive", ErrInvalidArgument, m.SectorsPerChunk)
	}
	if m.BytesPerSector <= 0 {
		return fmt.Errorf("%w: bytes_per_sector %d must be positive", ErrInvalidArgument, m.BytesPerSector)
	}
	if m.SectorsPerChunk*m.BytesPerSector != m.ChunkSize {
		return fmt.Errorf("%w: sectors_per_chunk * bytes_per_sector (%d) != chunk_size (%d)",
			ErrInvalidArgument, m.SectorsPerChunk*m.BytesPerSector, m.ChunkSize)
	}
	return nil
}

// OpenOptions configures a ChunkTable's handle-open behavior (spec.md §6).
type OpenOptions struct {
	// ZeroOnError, if true, overwrites a corrupted chunk's payload with
	// zeros before returning it to the caller.
	ZeroOnError bool
	// EmptyBlockBlob is the precomputed compressed representation of an
	// all-zero chunk of MediaValues.ChunkSize bytes, as produced by
	// PrecomputeEmptyBlockBlob. ChunkTable does not read it:
	// SetChunkDataByOffset stores delta chunks unpacked and never calls Pack.
	EmptyBlockBlob []byte
	// PackFlags holds pack flags for the handle. ChunkTable does not read
	// it, and SetChunkDataByOffset takes no per-write pack flags.
	PackFlags PackFlags
	// MaxOpenSegmentFiles is not read by NewChunkTable: the FilePool passed
	// to it carries its own bound (segment.NewFilePool's maxOpen).
	MaxOpenSegmentFiles int
	// GroupCacheCapacity and ChunkCacheCapacity set the LRU capacities of
	// the chunk-groups and chunk-elements caches (spec.md §4.5 suggests 8
	// for each). Zero selects the suggested default.
	GroupCacheCapacity int
	ChunkCacheCapacity int
}

// PackFlags controls pack's compression and padding decisions (spec.md §6).
type PackFlags = chunkdata.PackFlags

// Recognized pack flags (spec.md §6).
const (
	ForceCompression        = chunkdata.FlagForceCompression
	UseCompressionIfSmaller = chunkdata.FlagUseCompressionIfSmaller
	UsePatternFill          = chunkdata.FlagUsePatternFill
	Pad                     = chunkdata.FlagPad
)

// PrecomputeEmptyBlockBlob compresses a chunkSize all-zero chunk with method
// at level, for use as OpenOptions.EmptyBlockBlob.
func PrecomputeEmptyBlockBlob(chunkSize int64, method CompressionMethod, level CompressionLevel) ([]byte, error) {
	zeros := make([]byte, chunkSize)
	blob, err := codec.Compress(method, level, zeros)
	if err != nil {
		return nil, fmt.Errorf("%w: precomputing empty-block blob: %w", errEWF, err)
	}
	return blob, nil
}
