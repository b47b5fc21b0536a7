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

// Package codec implements the chunk codec primitives used by the ewfchunk
// engine: empty-block and 64-bit pattern-fill detection, the Adler-32
// checksum trailer, and the deflate/bzip2 compress-decompress dispatch.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
)

// Method identifies the compression algorithm used for a segment file's
// chunk stream.
type Method int

const (
	// MethodNone stores chunks uncompressed.
	MethodNone Method = iota
	// MethodDeflate compresses chunks with zlib-wrapped deflate.
	MethodDeflate
	// MethodBzip2 compresses chunks with bzip2.
	MethodBzip2
)

// Level selects the compression effort, mirroring libewf's fast/best split.
type Level int

const (
	// LevelNone selects each codec's default effort (deflate's default
	// level, bzip2's best); it does not turn compression off, which only
	// MethodNone does.
	LevelNone Level = iota
	// LevelFast favors speed over ratio.
	LevelFast
	// LevelBest favors ratio over speed.
	LevelBest
)

var errCodec = fmt.Errorf("codec")

// ErrNotSupported is returned for an unrecognized compression method.
var ErrNotSupported = fmt.Errorf("%w: not supported", errCodec)

// ErrCorruption is returned when decompression fails or produces an
// unexpected size.
var ErrCorruption = fmt.Errorf("%w: corruption", errCodec)

// IsEmptyBlock returns true iff every byte in b equals the first byte and
// that byte is zero. It short-circuits on the first mismatch.
func IsEmptyBlock(b []byte) bool {
	if len(b) == 0 || b[0] != 0x00 {
		return false
	}
	for _, v := range b[1:] {
		if v != 0x00 {
			return false
		}
	}
	return true
}

// CheckPatternFill reports whether b is an integer repetition of an 8-byte
// little-endian pattern. b's length must be a multiple of 8 and at least 16;
// otherwise CheckPatternFill reports false.
func CheckPatternFill(b []byte) (pattern uint64, ok bool) {
	if len(b) < 16 || len(b)%8 != 0 {
		return 0, false
	}
	pattern = binary.LittleEndian.Uint64(b[:8])
	for i := 8; i < len(b); i += 8 {
		if binary.LittleEndian.Uint64(b[i:i+8]) != pattern {
			return 0, false
		}
	}
	return pattern, true
}

// Adler32 returns the RFC 1950 Adler-32 checksum of b.
func Adler32(b []byte) uint32 {
	return adler32.Checksum(b)
}

// Compress compresses src using method at the given level. It returns
// ErrNotSupported for an unrecognized method.
func Compress(method Method, level Level, src []byte) ([]byte, error) {
	switch method {
	case MethodDeflate:
		return compressDeflate(level, src)
	case MethodBzip2:
		return compressBzip2(level, src)
	case MethodNone:
		return append([]byte(nil), src...), nil
	default:
		return nil, fmt.Errorf("%w: method %d", ErrNotSupported, method)
	}
}

// Decompress decompresses src, previously produced by Compress with method,
// into a buffer of exactly expectedSize bytes. It returns ErrCorruption if
// decompression fails or the decompressed size does not match expectedSize.
func Decompress(method Method, src []byte, expectedSize int) ([]byte, error) {
	var out []byte
	var err error
	switch method {
	case MethodDeflate:
		out, err = decompressDeflate(src)
	case MethodBzip2:
		out, err = decompressBzip2(src)
	case MethodNone:
		out = append([]byte(nil), src...)
	default:
		return nil, fmt.Errorf("%w: method %d", ErrNotSupported, method)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruption, err)
	}
	if expectedSize >= 0 && len(out) != expectedSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", ErrCorruption, len(out), expectedSize)
	}
	return out, nil
}

func zlibLevel(level Level) int {
	switch level {
	case LevelFast:
		return zlib.BestSpeed
	case LevelBest:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}

func compressDeflate(level Level, src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlibLevel(level))
	if err != nil {
		return nil, fmt.Errorf("%w: new deflate writer: %w", errCodec, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: deflate write: %w", errCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: deflate close: %w", errCodec, err)
	}
	return buf.Bytes(), nil
}

func decompressDeflate(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("new deflate reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("deflate read: %w", err)
	}
	return out, nil
}

func bzip2Level(level Level) int {
	if level == LevelFast {
		return bzip2.BestSpeed
	}
	return bzip2.BestCompression
}

func compressBzip2(level Level, src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2Level(level)})
	if err != nil {
		return nil, fmt.Errorf("%w: new bzip2 writer: %w", errCodec, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: bzip2 write: %w", errCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: bzip2 close: %w", errCodec, err)
	}
	return buf.Bytes(), nil
}

func decompressBzip2(src []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, fmt.Errorf("new bzip2 reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bzip2 read: %w", err)
	}
	return out, nil
}
