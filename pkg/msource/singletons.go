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

package msource

import "sync"

const defaultNodeSourceSize = 16 << 20

var (
	globalOnce   sync.Once
	globalSource *MemSource

	perNodeMu sync.Mutex
	perNode   = map[int]*MemSource{}
)

// Global returns the process-wide MemSource, lazily created on first
// use and never destroyed until program exit (spec.md §4.3).
func Global() *MemSource {
	globalOnce.Do(func() {
		s, err := Create(0, 0, "global", -1)
		if err != nil {
			logger.Error("failed to create global msource: %v", err)
			return
		}
		s.Ref() // held for the lifetime of the process
		globalSource = s
	})
	return globalSource
}

// ForNode returns the per-physical-node MemSource for phys, lazily
// creating a 16 MiB one on first use (spec.md §4.3).
func ForNode(phys int) *MemSource {
	perNodeMu.Lock()
	defer perNodeMu.Unlock()

	if s, ok := perNode[phys]; ok {
		return s
	}
	s, err := Create(phys, defaultNodeSourceSize, "node", -1)
	if err != nil {
		logger.Error("failed to create msource for node %d: %v", phys, err)
		return nil
	}
	s.Ref()
	perNode[phys] = s
	return s
}
