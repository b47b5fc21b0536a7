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

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ianlewis/ewfchunk"
	"github.com/ianlewis/ewfchunk/internal/cache"
	"github.com/ianlewis/ewfchunk/internal/chunkdata"
	"github.com/ianlewis/ewfchunk/internal/segment"
)

// mediaFromContext builds a MediaValues from the shared media flags
// (chunk-size, sectors-per-chunk, bytes-per-sector, number-of-sectors,
// compression).
func mediaFromContext(c *cli.Context) (ewfchunk.MediaValues, error) {
	method, err := parseCompression(c.String("compression"))
	if err != nil {
		return ewfchunk.MediaValues{}, err
	}
	m := ewfchunk.MediaValues{
		ChunkSize:         c.Int64("chunk-size"),
		SectorsPerChunk:   c.Int64("sectors-per-chunk"),
		BytesPerSector:    c.Int64("bytes-per-sector"),
		NumberOfSectors:   c.Int64("number-of-sectors"),
		CompressionMethod: method,
	}
	if err := m.Validate(); err != nil {
		return ewfchunk.MediaValues{}, fmt.Errorf("%w: %w", errCmd, err)
	}
	return m, nil
}

func parseCompression(name string) (ewfchunk.CompressionMethod, error) {
	switch name {
	case "none":
		return ewfchunk.CompressionNone, nil
	case "deflate":
		return ewfchunk.CompressionDeflate, nil
	case "bzip2":
		return ewfchunk.CompressionBzip2, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized compression method %q", errCmd, name)
	}
}

// openChunkTable opens path as a single-segment image: the file is a raw
// table section (a 4-byte little-endian length prefix followed by the
// section's bytes, per internal/segment.ParseTableSection) immediately
// followed by its sectors section, with no outer EWF section framing.
// Container framing beyond the table and sectors sections is out of scope
// for this engine; the CLI demonstrates it against this minimal layout
// rather than a full .E01 reader.
func openChunkTable(path string, media ewfchunk.MediaValues, opts ewfchunk.OpenOptions) (*ewfchunk.ChunkTable, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening %q: %w", errCmd, path, err)
	}

	var lenPrefix [4]byte
	if _, err := f.ReadAt(lenPrefix[:], 0); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: reading table length prefix: %w", errCmd, err)
	}
	tableLength := int64(binary.LittleEndian.Uint32(lenPrefix[:]))

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: stat %q: %w", errCmd, path, err)
	}

	pool, err := segment.NewFilePool(func(int) (io.ReaderAt, io.Closer, error) {
		return f, nil, nil
	}, 1)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %w", errCmd, err)
	}

	buildTable := func(groupsCache, chunksCache *cache.Cache) *segment.Table {
		descs := []segment.GroupDescriptor{
			{
				Offset:      0,
				Size:        media.MediaSize(),
				TableOffset: 4,
				TableLength: tableLength,
				SectorsEnd:  fi.Size(),
			},
		}
		newChunkReader := func(readSection segment.SectionReader) segment.ChunkReader {
			return func(e segment.TableEntry, storedSize int64) (*chunkdata.ChunkData, error) {
				raw, err := readSection(e.Offset, storedSize)
				if err != nil {
					return nil, err
				}
				cd := &chunkdata.ChunkData{
					CompressedData:     raw,
					CompressedDataSize: len(raw),
					RangeFlags:         chunkdata.FlagPacked,
				}
				if e.Compressed {
					cd.RangeFlags |= chunkdata.FlagCompressed
				}
				return cd, nil
			}
		}
		sf := segment.NewSegmentFile(1, 0, media.MediaSize(), media.ChunkSize, descs, pool.Section(1), groupsCache, chunksCache, newChunkReader)
		return &segment.Table{Segments: []*segment.SegmentFile{sf}}
	}

	ct, err := ewfchunk.NewChunkTable(media, opts, buildTable, pool)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %w", errCmd, err)
	}

	closeFn := func() error {
		ct.Close()
		return f.Close()
	}
	return ct, closeFn, nil
}
