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

// Command ewfchunk inspects and verifies the chunk table of an Expert
// Witness Compression Format segment file.
package main

import "os"

func main() {
	app := newApp()
	// ExitErrHandler already reports the error and calls cli.OsExiter; this
	// return value only matters for the Run call chain itself.
	_ = app.Run(os.Args)
	os.Exit(ExitCodeSuccess)
}
