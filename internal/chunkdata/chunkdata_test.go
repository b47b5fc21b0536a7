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

package chunkdata

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ianlewis/ewfchunk/internal/codec"
)

const testChunkSize = 32768

func newUnpacked(data []byte) *ChunkData {
	return &ChunkData{
		Data:       data,
		DataSize:   len(data),
		RangeFlags: FlagUnpacked,
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		data      []byte
		method    codec.Method
		level     codec.Level
		packFlags PackFlags
	}{
		{name: "none/small", data: []byte("hello world"), method: codec.MethodNone, packFlags: FlagPad},
		{name: "deflate/text", data: bytes.Repeat([]byte("hello world "), 4000), method: codec.MethodDeflate, level: codec.LevelBest},
		{name: "bzip2/text", data: bytes.Repeat([]byte("hello world "), 4000), method: codec.MethodBzip2, level: codec.LevelFast},
		{name: "deflate/repeating", data: bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 8192), method: codec.MethodDeflate, level: codec.LevelFast, packFlags: FlagUseCompressionIfSmaller},
		{name: "none/full chunk", data: bytes.Repeat([]byte{0xAB}, testChunkSize), method: codec.MethodNone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cd := newUnpacked(append([]byte(nil), tc.data...))
			if err := Pack(cd, testChunkSize, tc.method, tc.level, nil, tc.packFlags); err != nil {
				t.Fatalf("Pack() err = %v", err)
			}
			if !cd.RangeFlags.Has(FlagPacked) {
				t.Fatalf("Pack() did not set FlagPacked")
			}

			tailSize := -1
			if len(tc.data) != testChunkSize {
				tailSize = len(tc.data)
			}
			if err := Unpack(cd, testChunkSize, tc.method, tailSize); err != nil {
				t.Fatalf("Unpack() err = %v", err)
			}
			if cd.RangeFlags.Has(FlagIsCorrupted) {
				t.Fatalf("Unpack() reported corruption unexpectedly")
			}
			if diff := cmp.Diff(tc.data, cd.Data[:cd.DataSize]); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPatternFillCanonicity(t *testing.T) {
	t.Parallel()

	pattern := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE}
	data := bytes.Repeat(pattern, 4096)

	cd := newUnpacked(append([]byte(nil), data...))
	if err := Pack(cd, len(data), codec.MethodNone, codec.LevelNone, nil, FlagUsePatternFill); err != nil {
		t.Fatalf("Pack() err = %v", err)
	}
	if cd.CompressedDataSize != 16 {
		t.Fatalf("CompressedDataSize = %d, want 16", cd.CompressedDataSize)
	}
	gotPattern := binary.LittleEndian.Uint64(cd.CompressedData[0:8])
	gotCount := binary.LittleEndian.Uint64(cd.CompressedData[8:16])
	wantPattern := uint64(0xBEBAFECAEFBEADDE)
	if gotPattern != wantPattern || gotCount != 4096 {
		t.Errorf("pattern = %#x count = %d, want pattern %#x count 4096", gotPattern, gotCount, wantPattern)
	}

	if err := Unpack(cd, len(data), codec.MethodNone, len(data)); err != nil {
		t.Fatalf("Unpack() err = %v", err)
	}
	if diff := cmp.Diff(data, cd.Data[:cd.DataSize]); diff != "" {
		t.Errorf("Unpack() mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyBlockCanonicity(t *testing.T) {
	t.Parallel()

	data := make([]byte, testChunkSize)
	blob, err := codec.Compress(codec.MethodDeflate, codec.LevelBest, data)
	if err != nil {
		t.Fatalf("Compress() err = %v", err)
	}

	cd := newUnpacked(append([]byte(nil), data...))
	if err := Pack(cd, testChunkSize, codec.MethodDeflate, codec.LevelBest, blob, 0); err != nil {
		t.Fatalf("Pack() err = %v", err)
	}
	if diff := cmp.Diff(blob, cd.CompressedData); diff != "" {
		t.Errorf("empty-block blob mismatch (-want +got):\n%s", diff)
	}
	if !cd.RangeFlags.Has(FlagCompressed | FlagUsesPatternFill) {
		t.Errorf("RangeFlags = %v, want COMPRESSED|USES_PATTERN_FILL set", cd.RangeFlags)
	}

	// Release Data as a real caller would between pack and unpack, so the
	// round-trip below exercises Unpack's decompression rather than
	// accidentally reusing the pre-pack zeros.
	cd.Data = nil
	cd.DataSize = 0

	if err := Unpack(cd, testChunkSize, codec.MethodDeflate, testChunkSize); err != nil {
		t.Fatalf("Unpack() err = %v", err)
	}
	if cd.RangeFlags.Has(FlagIsCorrupted) {
		t.Errorf("RangeFlags = %v, want IS_CORRUPTED unset", cd.RangeFlags)
	}
	if diff := cmp.Diff(data, cd.Data[:cd.DataSize]); diff != "" {
		t.Errorf("Unpack() mismatch (-want +got):\n%s", diff)
	}
}

func TestChecksumMismatchIsCorrupted(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x42}, 100)
	cd := newUnpacked(append([]byte(nil), data...))
	if err := Pack(cd, len(data), codec.MethodNone, codec.LevelNone, nil, 0); err != nil {
		t.Fatalf("Pack() err = %v", err)
	}

	// Corrupt the trailer's checksum.
	trailerOff := len(data)
	cd.CompressedData[trailerOff] ^= 0x01

	if err := Unpack(cd, len(data), codec.MethodNone, len(data)); err != nil {
		t.Fatalf("Unpack() err = %v", err)
	}
	if !cd.RangeFlags.Has(FlagIsCorrupted) {
		t.Fatalf("RangeFlags = %v, want FlagIsCorrupted set", cd.RangeFlags)
	}
}

func TestUnpackIdempotent(t *testing.T) {
	t.Parallel()

	data := []byte("idempotent test data")
	cd := newUnpacked(append([]byte(nil), data...))
	if err := Pack(cd, len(data), codec.MethodNone, codec.LevelNone, nil, 0); err != nil {
		t.Fatalf("Pack() err = %v", err)
	}
	if err := Unpack(cd, len(data), codec.MethodNone, len(data)); err != nil {
		t.Fatalf("Unpack() err = %v", err)
	}
	first := append([]byte(nil), cd.Data...)
	if err := Unpack(cd, len(data), codec.MethodNone, len(data)); err != nil {
		t.Fatalf("second Unpack() err = %v", err)
	}
	if diff := cmp.Diff(first, cd.Data); diff != "" {
		t.Errorf("second Unpack() changed data (-want +got):\n%s", diff)
	}
}

func TestZero(t *testing.T) {
	t.Parallel()

	cd := Zero(512)
	if cd.DataSize != 512 {
		t.Errorf("DataSize = %d, want 512", cd.DataSize)
	}
	if !cd.RangeFlags.Has(FlagIsCorrupted | FlagIsSparse) {
		t.Errorf("RangeFlags = %v, want IS_CORRUPTED|IS_SPARSE", cd.RangeFlags)
	}
	for i, b := range cd.Data {
		if b != 0 {
			t.Fatalf("Data[%d] = %d, want 0", i, b)
		}
	}
}
