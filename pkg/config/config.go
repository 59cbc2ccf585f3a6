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

// Package config loads an optional static YAML override file naming the
// same node/thread selection spec.md §4.1/§6 already parse out of
// NUMA_NODES/NUMA_THREADS, plus MemSource's arena size and mmap
// threshold. It is supplemental, not a replacement: environment
// variables are checked first everywhere, and only fall back to this
// file when unset, the same "env is authoritative" rule the teacher's
// pkg/log/config.go applies to LOGGER_DEBUG.
package config

import (
	"os"
	"sync"

	"sigs.k8s.io/yaml"

	logger "github.com/intel/go-numa-runtime/pkg/log"
)

var log = logger.Get("config")

// fileEnvVar names the environment variable pointing at the override file.
const fileEnvVar = "NUMA_CONFIG_FILE"

// File is the shape of the optional override file.
type File struct {
	// Nodes is an a,b,c-d node list, the same syntax as NUMA_NODES.
	Nodes string `json:"nodes,omitempty"`
	// Threads caps hw threads per node, the same as NUMA_THREADS.
	Threads int `json:"threads,omitempty"`
	// ArenaSize overrides msource.DefaultArenaSize, in bytes.
	ArenaSize int64 `json:"arenaSize,omitempty"`
	// MmapThreshold overrides msource.DefaultMmapThreshold, in bytes.
	MmapThreshold int `json:"mmapThreshold,omitempty"`
}

var (
	once   sync.Once
	loaded *File
)

// Get returns the parsed override file, or a zero-value File if
// NUMA_CONFIG_FILE is unset or fails to parse. Parsed once per process;
// tests that need to inject a different file should call Reset first.
func Get() *File {
	once.Do(func() {
		loaded = load()
	})
	return loaded
}

// Reset clears the cached override file so the next Get reloads it.
// Exists for tests only.
func Reset() {
	once = sync.Once{}
	loaded = nil
}

func load() *File {
	path := os.Getenv(fileEnvVar)
	if path == "" {
		return &File{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("failed to read %s=%q: %v", fileEnvVar, path, err)
		return &File{}
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		log.Warn("failed to parse %s=%q: %v", fileEnvVar, path, err)
		return &File{}
	}
	log.Info("loaded configuration overrides from %s", path)
	return &f
}
