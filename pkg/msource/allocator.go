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

import "sort"

// SequentialAllocator is the narrow boundary spec.md §4.2 requires from
// the vendored sequential allocator: alloc/free/usable_size and a
// top-chunk extent, all addressed by byte offset within one Arena's
// backing region rather than by raw pointer (Arena.Alloc turns offsets
// into slices of the arena's backing memory for callers). Its
// correctness is assumed; only this interface is contractually
// required, per spec.md §1's "any mature sequential allocator suffices."
type SequentialAllocator interface {
	// Alloc reserves size bytes, returning their offset. ok is false on
	// exhaustion.
	Alloc(size int) (offset int, ok bool)
	// Free releases the block at offset, coalescing with neighbors.
	Free(offset int)
	// UsableSize returns the allocated size of the block at offset.
	UsableSize(offset int) int
	// TopChunkExtent returns the highest offset+size ever handed out by
	// Alloc, the monotonic high-water mark used to size migration page
	// lists (spec.md §4.2) and decide which tail pages are still unused.
	TopChunkExtent() int
}

// freeBlock is one run of contiguous free bytes, kept sorted by offset.
type freeBlock struct {
	offset, size int
}

// firstFit is a first-fit allocator over a fixed-size byte region,
// keeping its bookkeeping outside the region (no in-band boundary tags). It is the "any mature sequential allocator" spec.md §1
// says suffices, grounded on the free-list/offset-bucket shape common
// to the arena allocators in the retrieval pack (xgzlucario-GigaCache's
// level-bucketed arena, bnclabs-gostore's mem_arena): a sorted free
// list, first-fit search, adjacent-run coalescing on free.
type firstFit struct {
	size      int
	free      []freeBlock // sorted ascending by offset, non-adjacent
	allocated map[int]int // offset -> size, for UsableSize/Free
	top       int
}

var _ SequentialAllocator = (*firstFit)(nil)

func newFirstFit(size int) *firstFit {
	return &firstFit{
		size:      size,
		free:      []freeBlock{{offset: 0, size: size}},
		allocated: make(map[int]int),
	}
}

func (a *firstFit) Alloc(size int) (int, bool) {
	if size <= 0 {
		size = 1
	}
	for i, b := range a.free {
		if b.size < size {
			continue
		}
		offset := b.offset
		if b.size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = freeBlock{offset: offset + size, size: b.size - size}
		}
		a.allocated[offset] = size
		if end := offset + size; end > a.top {
			a.top = end
		}
		return offset, true
	}
	return 0, false
}

func (a *firstFit) Free(offset int) {
	size, ok := a.allocated[offset]
	if !ok {
		return
	}
	delete(a.allocated, offset)
	a.insertFree(freeBlock{offset: offset, size: size})
}

func (a *firstFit) insertFree(b freeBlock) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].offset >= b.offset })
	a.free = append(a.free, freeBlock{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = b

	// coalesce with the following block
	if i+1 < len(a.free) && a.free[i].offset+a.free[i].size == a.free[i+1].offset {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	// coalesce with the preceding block
	if i > 0 && a.free[i-1].offset+a.free[i-1].size == a.free[i].offset {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

func (a *firstFit) UsableSize(offset int) int {
	return a.allocated[offset]
}

func (a *firstFit) TopChunkExtent() int {
	return a.top
}
