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
	"fmt"
	"strings"

	"github.com/rodaine/table"
	"github.com/urfave/cli/v2"

	"github.com/ianlewis/ewfchunk"
	"github.com/ianlewis/ewfchunk/internal/chunkdata"
)

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list the chunks of a segment file",
		ArgsUsage: "PATH",
		Flags:     mediaFlags,
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("%w: list takes exactly one PATH argument", ErrFlagParse)
			}
			return runList(c, c.Args().First())
		},
	}
}

func runList(c *cli.Context, path string) error {
	media, err := mediaFromContext(c)
	if err != nil {
		return err
	}
	ct, closeFn, err := openChunkTable(path, media, ewfchunk.OpenOptions{ZeroOnError: c.Bool("zero-on-error")})
	if err != nil {
		return err
	}
	defer closeFn()

	tbl := table.New("chunk", "offset", "flags")
	for i := int64(0); i < media.NumberOfChunks(); i++ {
		offset := i * media.ChunkSize
		cd, start, err := ct.GetChunkDataByOffset(offset)
		if err != nil {
			return fmt.Errorf("%w: chunk %d: %w", errCmd, i, err)
		}
		tbl.AddRow(i, start, chunkFlagsString(cd.RangeFlags))
	}
	tbl.Print()

	if n := ct.NumberOfChecksumErrors(); n > 0 {
		fmt.Fprintf(c.App.Writer, "\n%d checksum error range(s):\n", n)
		errTbl := table.New("start_sector", "nsec")
		for i := 0; i < n; i++ {
			startSector, numberOfSectors := ct.ChecksumError(i)
			errTbl.AddRow(startSector, numberOfSectors)
		}
		errTbl.Print()
	}

	return nil
}

func chunkFlagsString(flags chunkdata.RangeFlags) string {
	var names []string
	for _, f := range []struct {
		bit  chunkdata.RangeFlags
		name string
	}{
		{chunkdata.FlagCompressed, "compressed"},
		{chunkdata.FlagUsesPatternFill, "pattern-fill"},
		{chunkdata.FlagIsDelta, "delta"},
		{chunkdata.FlagIsSparse, "sparse"},
		{chunkdata.FlagIsCorrupted, "corrupted"},
		{chunkdata.FlagTainted, "tainted"},
	} {
		if flags.Has(f.bit) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
