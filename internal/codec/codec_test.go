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

package codec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsEmptyBlock(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "empty slice", data: nil, want: false},
		{name: "all zero", data: make([]byte, 32768), want: true},
		{name: "all zero short", data: []byte{0, 0, 0, 0}, want: true},
		{name: "non-zero first byte", data: []byte{1, 0, 0, 0}, want: false},
		{name: "mismatch at end", data: append(make([]byte, 31), 1), want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := IsEmptyBlock(tc.data)
			if got != tc.want {
				t.Errorf("IsEmptyBlock() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheckPatternFill(t *testing.T) {
	t.Parallel()

	pattern := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE}
	data := bytes.Repeat(pattern, 4096)

	gotPattern, ok := CheckPatternFill(data)
	if !ok {
		t.Fatalf("CheckPatternFill() ok = false, want true")
	}
	wantPattern := uint64(0xBEBAFECAEFBEADDE)
	if gotPattern != wantPattern {
		t.Errorf("CheckPatternFill() pattern = %#x, want %#x", gotPattern, wantPattern)
	}

	testCases := []struct {
		name string
		data []byte
		ok   bool
	}{
		{name: "too short", data: make([]byte, 8), ok: false},
		{name: "not multiple of 8", data: make([]byte, 17), ok: false},
		{name: "not repeating", data: append(append([]byte(nil), pattern...), 0, 0, 0, 0, 0, 0, 0, 0xFF), ok: false},
		{name: "exact 16 bytes", data: bytes.Repeat(pattern, 2), ok: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, ok := CheckPatternFill(tc.data)
			if ok != tc.ok {
				t.Errorf("CheckPatternFill() ok = %v, want %v", ok, tc.ok)
			}
		})
	}
}

func TestAdler32(t *testing.T) {
	t.Parallel()
	// RFC 1950 example: "Wikipedia" -> 0x11E60398
	got := Adler32([]byte("Wikipedia"))
	want := uint32(0x11E60398)
	if got != want {
		t.Errorf("Adler32() = %#x, want %#x", got, want)
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 200)

	testCases := []struct {
		name   string
		method Method
		level  Level
	}{
		{name: "none", method: MethodNone, level: LevelNone},
		{name: "deflate fast", method: MethodDeflate, level: LevelFast},
		{name: "deflate best", method: MethodDeflate, level: LevelBest},
		{name: "bzip2 fast", method: MethodBzip2, level: LevelFast},
		{name: "bzip2 best", method: MethodBzip2, level: LevelBest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			compressed, err := Compress(tc.method, tc.level, data)
			if err != nil {
				t.Fatalf("Compress() err = %v", err)
			}
			got, err := Decompress(tc.method, compressed, len(data))
			if err != nil {
				t.Fatalf("Decompress() err = %v", err)
			}
			if diff := cmp.Diff(data, got); diff != "" {
				t.Errorf("Decompress() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xAB}, 4096)
	compressed, err := Compress(MethodDeflate, LevelFast, data)
	if err != nil {
		t.Fatalf("Compress() err = %v", err)
	}
	if _, err := Decompress(MethodDeflate, compressed, len(data)+1); err == nil {
		t.Fatalf("Decompress() err = nil, want ErrCorruption")
	}
}

func TestUnsupportedMethod(t *testing.T) {
	t.Parallel()
	if _, err := Compress(Method(99), LevelNone, []byte("x")); err == nil {
		t.Fatalf("Compress() err = nil, want ErrNotSupported")
	}
	if _, err := Decompress(Method(99), []byte("x"), 1); err == nil {
		t.Fatalf("Decompress() err = nil, want ErrNotSupported")
	}
}
