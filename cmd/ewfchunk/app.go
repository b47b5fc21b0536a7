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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

const (
	// ExitCodeSuccess is successful error code.
	ExitCodeSuccess int = iota

	// ExitCodeFlagParseError is the exit code for a flag parsing error.
	ExitCodeFlagParseError

	// ExitCodeUnknownError is the exit code for an unknown error.
	ExitCodeUnknownError
)

// ErrFlagParse is a flag parsing error.
var ErrFlagParse = errors.New("parsing flags")

// errCmd is the base error for this command, matching the teacher's
// dictzip(1)'s own per-binary base-error pattern.
var errCmd = errors.New("ewfchunk")

func init() {
	// Set the HelpFlag to a random name so that it isn't used, the same
	// workaround the teacher's dictzip(1) applies: `ewfchunk --help list`
	// would otherwise try to parse "list" as a command argument to --help.
	// See: github.com/urfave/cli/issues/1809
	cli.HelpFlag = &cli.BoolFlag{
		Name:               "d41d8cd98f00b204e980",
		DisableDefaultText: true,
	}
}

// check checks the error and panics if not nil.
func check(err error) {
	if err != nil {
		panic(err)
	}
}

// must checks the error and panics if not nil.
func must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}

var mediaFlags = []cli.Flag{
	&cli.Int64Flag{
		Name:  "chunk-size",
		Usage: "nominal chunk size in bytes",
		Value: 32768,
	},
	&cli.Int64Flag{
		Name:  "sectors-per-chunk",
		Usage: "sectors per chunk",
		Value: 64,
	},
	&cli.Int64Flag{
		Name:  "bytes-per-sector",
		Usage: "bytes per sector",
		Value: 512,
	},
	&cli.Int64Flag{
		Name:  "number-of-sectors",
		Usage: "total number of sectors in the media",
	},
	&cli.StringFlag{
		Name:  "compression",
		Usage: "compression method used by the image: none, deflate, or bzip2",
		Value: "deflate",
	},
	&cli.BoolFlag{
		Name:               "zero-on-error",
		Usage:              "replace a chunk's data with zeros when it fails checksum verification",
		DisableDefaultText: true,
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "Inspect Expert Witness Compression Format chunk data.",
		Description: strings.Join([]string{
			"ewfchunk(1) walks the chunk table of a raw table+sectors segment file.",
			"http://github.com/ianlewis/ewfchunk",
		}, "\n"),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:               "help",
				Usage:              "print this help text and exit",
				Aliases:            []string{"h"},
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "version",
				Usage:              "print version information and exit",
				Aliases:            []string{"v"},
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "license",
				Usage:              "print license information and exit",
				DisableDefaultText: true,
			},
		},
		Commands: []*cli.Command{
			newListCommand(),
			newVerifyCommand(),
		},
		ArgsUsage:       "[PATH]",
		Copyright:       "Google LLC",
		HideHelp:        true,
		HideHelpCommand: true,
		Action: func(c *cli.Context) error {
			if c.Bool("help") {
				check(cli.ShowAppHelp(c))
				return nil
			}
			if c.Bool("version") {
				return printVersion(c)
			}
			if c.Bool("license") {
				return printLicense(c)
			}
			return cli.ShowAppHelp(c)
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			_ = must(fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", c.App.Name, err))
			if errors.Is(err, ErrFlagParse) {
				cli.OsExiter(ExitCodeFlagParseError)
				return
			}
			cli.OsExiter(ExitCodeUnknownError)
		},
	}
}
