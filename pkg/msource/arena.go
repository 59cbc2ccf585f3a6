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

// Package msource implements the node-partitioned memory sources spec.md
// §3-§4.3 describe: Arena allocators bound to a physical NUMA node,
// chained under a reference-counted MemSource that also owns a
// large-object (mmap) list and the policy for growing new arenas.
package msource

import (
	"sync"

	"github.com/intel/go-numa-runtime/pkg/log"
)

var logger = log.Get("msource")

// footerOverhead is the bookkeeping cost charged against every
// allocator reservation, standing in for the physical ChunkFooter bytes
// spec.md §3 prepends to each block; it keeps UsableSize and capacity
// accounting consistent with a design that does reserve that space.
const footerOverhead = 16

const pageSize = 4096

// Arena is spec.md §3's Arena: a bounded, contiguous region bound to one
// physical node, served by a first-fit allocator behind a mutex.
type Arena struct {
	source *MemSource
	mem    []byte
	alloc  *firstFit

	isNative bool
	mu       sync.Mutex

	prev, next *Arena
}

// newArena wraps mem (already bound to the desired node) in an Arena
// owned by source.
func newArena(source *MemSource, mem []byte, native bool) *Arena {
	return &Arena{
		source:   source,
		mem:      mem,
		alloc:    newFirstFit(len(mem)),
		isNative: native,
	}
}

// Alloc reserves sz bytes plus footer overhead through the arena's
// allocator under its mutex, records a footer for the returned
// slice, and updates the arena's high-water mark. Returns nil, false on
// exhaustion (spec.md §4.2).
func (a *Arena) Alloc(sz int) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, ok := a.alloc.Alloc(sz + footerOverhead)
	if !ok {
		return nil, false
	}
	start := off + footerOverhead
	block := a.mem[start : start+sz : start+sz]
	registerFooter(block, &footer{source: a.source, arena: a, offset: off})
	return block, true
}

// Free releases the block at offset off, deregistering its footer.
func (a *Arena) Free(off int, block []byte) {
	a.mu.Lock()
	a.alloc.Free(off)
	a.mu.Unlock()
	unregisterFooter(block)
}

// UsableSize returns the caller-visible size of the block reserved at
// off (the allocator's bookkeeping size minus footer overhead).
func (a *Arena) UsableSize(off int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := a.alloc.UsableSize(off); n > 0 {
		return n - footerOverhead
	}
	return 0
}

// TopChunkExtent returns the arena allocator's high-water mark, used by
// Migrate to decide which tail pages are still untouched.
func (a *Arena) TopChunkExtent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc.TopChunkExtent()
}

// Prefault touches the first min(bytes, len(mem)) bytes of the arena a
// page at a time so the kernel page-faults them onto the bound node
// before first real use (spec.md §4.2), returning the number of bytes
// actually touched.
func (a *Arena) Prefault(bytes int) int {
	if bytes > len(a.mem) {
		bytes = len(a.mem)
	}
	for off := 0; off < bytes; off += pageSize {
		a.mem[off] = 0
	}
	return bytes
}
