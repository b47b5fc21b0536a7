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

// Package chunkdata implements the ChunkData record and its pack/unpack
// state machine: the in-memory representation of a single EWF chunk, in
// both its on-disk (packed) and logical (unpacked) forms.
package chunkdata

import (
	"encoding/binary"
	"fmt"

	"github.com/ianlewis/ewfchunk/internal/codec"
)

// RangeFlags is a bitset describing a chunk's on-disk and validity state.
type RangeFlags uint16

const (
	// FlagCompressed indicates CompressedData holds the authoritative bytes.
	FlagCompressed RangeFlags = 1 << iota
	// FlagPacked indicates the chunk is in its on-disk form.
	FlagPacked
	// FlagUnpacked indicates the chunk is in its logical (decoded) form.
	FlagUnpacked
	// FlagIsCorrupted indicates checksum verification or decompression failed.
	FlagIsCorrupted
	// FlagIsDelta indicates the chunk was rewritten after initial acquisition.
	FlagIsDelta
	// FlagIsSparse indicates the chunk is a hole with no stored data.
	FlagIsSparse
	// FlagUsesPatternFill indicates the chunk is stored as (pattern, count).
	FlagUsesPatternFill
	// FlagTainted indicates the chunk was flagged as bad by the acquisition tool.
	FlagTainted
)

// Has reports whether all bits in mask are set.
func (f RangeFlags) Has(mask RangeFlags) bool { return f&mask == mask }

// PackFlags controls pack's compression and padding decisions.
type PackFlags uint8

const (
	// FlagForceCompression always compresses, even if the result is larger.
	FlagForceCompression PackFlags = 1 << iota
	// FlagUseCompressionIfSmaller keeps the compressed form only if smaller.
	FlagUseCompressionIfSmaller
	// FlagUsePatternFill enables the 16-byte pattern-fill encoding.
	FlagUsePatternFill
	// FlagPad pads the packed chunk to an alignment boundary.
	FlagPad
)

const patternFillRecordSize = 16

var errChunkData = fmt.Errorf("chunkdata")

// ErrCorrupted describes a corrupted chunk. Unpack does not return it: a
// failed verification or decompression sets FlagIsCorrupted in
// ChunkData.RangeFlags instead, per the engine's corruption-absorption policy.
var ErrCorrupted = fmt.Errorf("%w: corrupted chunk", errChunkData)

// ChunkData is the in-memory record for one chunk, in either its packed
// (on-disk) or unpacked (logical) form.
type ChunkData struct {
	// Data holds the logical (unpacked) bytes when UNPACKED.
	Data []byte
	// DataSize is the valid length of Data.
	DataSize int

	// CompressedData holds the packed representation when COMPRESSED or
	// USES_PATTERN_FILL is set, or the raw+trailer packed bytes otherwise.
	CompressedData []byte
	// CompressedDataSize is the valid length of CompressedData.
	CompressedDataSize int
	// CompressedDataOffset is the payload start inside CompressedData.
	CompressedDataOffset int

	// PaddingSize is the number of alignment padding bytes appended on pack.
	PaddingSize int

	// RangeFlags records the chunk's on-disk/validity state.
	RangeFlags RangeFlags

	// Checksum is the Adler-32 trailer of the uncompressed payload.
	Checksum uint32
}

// Alignment boundary used for FlagPad, matching typical sector alignment.
const padAlignment = 8

// Pack transforms an UNPACKED ChunkData into its on-disk form, following the
// decision order in spec.md §4.2. chunkSize is the nominal chunk size of the
// image; emptyBlockBlob, if non-nil, is the precomputed compressed
// representation of an all-zero chunk of length chunkSize.
func Pack(cd *ChunkData, chunkSize int, method codec.Method, level codec.Level, emptyBlockBlob []byte, packFlags PackFlags) error {
	data := cd.Data[:cd.DataSize]

	// 1. Empty-block precomputed blob.
	if packFlags&FlagForceCompression == 0 && emptyBlockBlob != nil && codec.IsEmptyBlock(data) {
		cd.CompressedData = emptyBlockBlob
		cd.CompressedDataSize = len(emptyBlockBlob)
		cd.CompressedDataOffset = 0
		cd.RangeFlags |= FlagCompressed | FlagUsesPatternFill
		cd.RangeFlags &^= FlagUnpacked
		cd.RangeFlags |= FlagPacked
		return nil
	}

	// 2. 64-bit pattern fill.
	if packFlags&FlagUsePatternFill != 0 {
		if pattern, ok := codec.CheckPatternFill(data); ok {
			rec := make([]byte, patternFillRecordSize)
			binary.LittleEndian.PutUint64(rec[0:8], pattern)
			binary.LittleEndian.PutUint64(rec[8:16], uint64(len(data)/8))
			cd.CompressedData = rec
			cd.CompressedDataSize = len(rec)
			cd.CompressedDataOffset = 0
			cd.RangeFlags |= FlagUsesPatternFill
			cd.RangeFlags &^= FlagCompressed | FlagUnpacked
			cd.RangeFlags |= FlagPacked
			return nil
		}
	}

	// 3. Compression.
	if method != codec.MethodNone {
		compressed, err := codec.Compress(method, level, data)
		if err != nil {
			return fmt.Errorf("%w: compress: %w", errChunkData, err)
		}
		const overhead = 4 // matches the uncompressed trailer's cost
		if packFlags&FlagForceCompression != 0 || len(compressed)+overhead < len(data) {
			cd.CompressedData = compressed
			cd.CompressedDataSize = len(compressed)
			cd.CompressedDataOffset = 0
			cd.RangeFlags |= FlagCompressed
			cd.RangeFlags &^= FlagUsesPatternFill | FlagUnpacked
			cd.RangeFlags |= FlagPacked
			return nil
		}
	}

	// 4. Uncompressed path: raw bytes + Adler-32 trailer, optional padding.
	cd.Checksum = codec.Adler32(data)
	packed := make([]byte, 0, len(data)+4+padAlignment)
	packed = append(packed, data...)
	trailer := make([]byte, 4)
	binary.LittleEndian.PutUint32(trailer, cd.Checksum)
	packed = append(packed, trailer...)

	cd.PaddingSize = 0
	if packFlags&FlagPad != 0 {
		if rem := len(packed) % padAlignment; rem != 0 {
			cd.PaddingSize = padAlignment - rem
			packed = append(packed, make([]byte, cd.PaddingSize)...)
		}
	}

	cd.CompressedData = packed
	cd.CompressedDataSize = len(packed)
	cd.CompressedDataOffset = 0
	cd.RangeFlags &^= FlagCompressed | FlagUsesPatternFill | FlagUnpacked
	cd.RangeFlags |= FlagPacked
	return nil
}

// Unpack transforms a PACKED ChunkData into its logical form, following
// spec.md §4.2. chunkSize is the nominal chunk size; tailSize, if >= 0,
// overrides the expected unpacked size for the final (possibly short) chunk
// of the image.
func Unpack(cd *ChunkData, chunkSize int, method codec.Method, tailSize int) error {
	if cd.RangeFlags.Has(FlagUnpacked) {
		// Idempotent: already unpacked.
		return nil
	}

	expected := chunkSize
	if tailSize >= 0 {
		expected = tailSize
	}

	packed := cd.CompressedData[cd.CompressedDataOffset:cd.CompressedDataSize]

	switch {
	case cd.RangeFlags.Has(FlagUsesPatternFill) && !cd.RangeFlags.Has(FlagCompressed):
		if len(packed) != patternFillRecordSize {
			cd.RangeFlags |= FlagIsCorrupted
			cd.RangeFlags &^= FlagCompressed
			cd.RangeFlags &^= FlagPacked
			cd.RangeFlags |= FlagUnpacked
			return nil
		}
		pattern := binary.LittleEndian.Uint64(packed[0:8])
		count := binary.LittleEndian.Uint64(packed[8:16])
		out := make([]byte, 0, expected)
		word := make([]byte, 8)
		binary.LittleEndian.PutUint64(word, pattern)
		for i := uint64(0); i < count && len(out) < expected; i++ {
			out = append(out, word...)
		}
		if len(out) > expected {
			out = out[:expected]
		}
		cd.Data = out
		cd.DataSize = len(out)
		cd.RangeFlags &^= FlagCompressed
		cd.RangeFlags &^= FlagPacked
		cd.RangeFlags |= FlagUnpacked
		return nil

	case cd.RangeFlags.Has(FlagCompressed):
		out, err := codec.Decompress(method, packed, expected)
		if err != nil {
			cd.RangeFlags |= FlagIsCorrupted
			cd.Data = append([]byte(nil), out...)
			cd.DataSize = len(out)
			cd.RangeFlags &^= FlagPacked
			cd.RangeFlags |= FlagUnpacked
			return nil
		}
		cd.Data = out
		cd.DataSize = len(out)
		cd.RangeFlags &^= FlagPacked
		cd.RangeFlags |= FlagUnpacked
		return nil

	default:
		// Uncompressed: raw bytes + 4-byte Adler-32 trailer.
		if len(packed) < expected+4 {
			cd.RangeFlags |= FlagIsCorrupted
			cd.Data = append([]byte(nil), packed...)
			cd.DataSize = len(packed)
			cd.RangeFlags &^= FlagPacked
			cd.RangeFlags |= FlagUnpacked
			return nil
		}
		data := packed[:expected]
		trailer := packed[expected : expected+4]
		checksum := binary.LittleEndian.Uint32(trailer)
		cd.Checksum = checksum
		if codec.Adler32(data) != checksum {
			cd.RangeFlags |= FlagIsCorrupted
		}
		cd.Data = append([]byte(nil), data...)
		cd.DataSize = len(data)
		cd.RangeFlags &^= FlagPacked
		cd.RangeFlags |= FlagUnpacked
		return nil
	}
}

// Zero returns a synthesized, corrupted ChunkData of the given size,
// representing a hole in the chunk table (spec.md §4.4 step 3).
func Zero(size int) *ChunkData {
	return &ChunkData{
		Data:       make([]byte, size),
		DataSize:   size,
		RangeFlags: FlagUnpacked | FlagIsCorrupted | FlagIsSparse,
	}
}
