// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version lets one tag built binaries with version metadata.
//
// Currently two pieces of metadata tracked/provided:
//   - Version: version number, by convention one provided by 'git describe'
//   - Build:   build id, by convention the git SHA1 the binary has been built from.
//
// To enable automatic versioning metadata for a binary, add linker flags
// overriding the package variables, for instance:
//
//	-ldflags "-X=github.com/intel/go-numa-runtime/pkg/version.Version=<version> \
//	          -X=github.com/intel/go-numa-runtime/pkg/version.Build=<build-id>"
package version

import (
	"fmt"
	"os"
	"path/filepath"
)

// Default values of variables overridden during linking.
var (
	Version = "unknown"
	Build   = "unknown"
)

// PrintVersionInfo prints version information about this binary.
func PrintVersionInfo() {
	fmt.Printf("%s version information:\n", filepath.Base(os.Args[0]))
	fmt.Printf("  - version: %s\n", Version)
	fmt.Printf("  - build:   %s\n", Build)
}
