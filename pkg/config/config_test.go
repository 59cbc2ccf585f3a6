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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetWithoutEnvVarReturnsZeroValue(t *testing.T) {
	Reset()
	t.Setenv(fileEnvVar, "")

	f := Get()
	require.NotNil(t, f)
	require.Equal(t, "", f.Nodes)
	require.Equal(t, 0, f.Threads)
}

func TestGetParsesYAMLFile(t *testing.T) {
	Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "nodes: \"0,1\"\nthreads: 4\narenaSize: 134217728\nmmapThreshold: 65536\n")
	t.Setenv(fileEnvVar, path)

	f := Get()
	require.Equal(t, "0,1", f.Nodes)
	require.Equal(t, 4, f.Threads)
	require.Equal(t, int64(134217728), f.ArenaSize)
	require.Equal(t, 65536, f.MmapThreshold)
}

func TestGetCachesAcrossCalls(t *testing.T) {
	Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "threads: 2\n")
	t.Setenv(fileEnvVar, path)

	first := Get()
	require.Equal(t, 2, first.Threads)

	writeFile(t, path, "threads: 9\n")
	second := Get()
	require.Same(t, first, second, "Get must not reload without Reset")
	require.Equal(t, 2, second.Threads)
}

func TestGetOnMissingFileReturnsZeroValue(t *testing.T) {
	Reset()
	t.Setenv(fileEnvVar, filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	f := Get()
	require.NotNil(t, f)
	require.Equal(t, "", f.Nodes)
}

func TestGetOnMalformedFileReturnsZeroValue(t *testing.T) {
	Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, "nodes: [this, is, not, a, string\n")
	t.Setenv(fileEnvVar, path)

	f := Get()
	require.NotNil(t, f)
	require.Equal(t, "", f.Nodes)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
