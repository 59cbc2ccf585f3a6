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

import (
	"sync"
	"unsafe"
)

// footer is spec.md §3's ChunkFooter, adapted from "bytes immediately
// preceding the user pointer" to a side table keyed by the user
// pointer's address. C interposition shims need the physical adjacency
// to recover a footer from a bare pointer with no other bookkeeping;
// Go allocations are never bare pointers (Arena.Alloc/MemSource.Alloc
// return slices, and free/usable_size/migrate all go through this
// package's own API), so the adjacency trick buys nothing here and
// forcing it would mean hand-rolling pointer arithmetic on mmap'd
// memory. The table preserves every invariant §3 states: O(1) lookup,
// a fake-footer's link resolves to the real footer in exactly one hop,
// and a footer outlives the source only until block_count drops out
// from under it (never, since a live footer always corresponds to an
// outstanding block).
type footer struct {
	source *MemSource
	arena  *Arena // set if this block came from an arena
	mmap   *mmapBlock // set if this block came from the mmap list
	offset int        // allocator-level offset within arena, if arena != nil

	fake bool           // true if this is a forwarding entry for an aligned alloc
	real unsafe.Pointer // the real footer's key, if fake
}

var (
	footersMu sync.Mutex
	footers   = map[unsafe.Pointer]*footer{}
)

func keyOf(p []byte) unsafe.Pointer {
	if len(p) == 0 {
		return nil
	}
	return unsafe.Pointer(&p[0])
}

// addrOf returns p's starting address as an integer, for alignment math
// in MemSource.AllocAligned.
func addrOf(p []byte) uintptr {
	return uintptr(keyOf(p))
}

func registerFooter(p []byte, f *footer) {
	footersMu.Lock()
	footers[keyOf(p)] = f
	footersMu.Unlock()
}

// unregisterFooter removes p's footer entry. If it was a forwarding
// entry for an aligned allocation, the real footer entry it points to
// is removed too, so a padded AllocAligned+Free cycle never leaks a
// map entry.
func unregisterFooter(p []byte) {
	footersMu.Lock()
	defer footersMu.Unlock()
	key := keyOf(p)
	f, ok := footers[key]
	delete(footers, key)
	if ok && f.fake {
		delete(footers, f.real)
	}
}

// lookupFooter resolves p's footer, following a fake footer's forwarding
// link to the real one in at most one hop (spec.md §3's invariant).
func lookupFooter(p []byte) (*footer, bool) {
	footersMu.Lock()
	defer footersMu.Unlock()
	f, ok := footers[keyOf(p)]
	if !ok {
		return nil, false
	}
	if f.fake {
		real, ok := footers[f.real]
		return real, ok
	}
	return f, true
}
