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
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/intel/go-numa-runtime/pkg/config"
)

const (
	// DefaultArenaSize is the fixed size of every arena obtained after
	// the native one, spec.md §4.2's "default 64 MiB".
	DefaultArenaSize = 64 << 20
	// DefaultMmapThreshold is the size at or above which an allocation
	// bypasses arenas for a dedicated OS mapping, spec.md §4.3.
	DefaultMmapThreshold = 1 << 20

	blocksBits = 40
	blocksMask = uint64(1)<<blocksBits - 1
	refUnit    = uint64(1) << blocksBits
)

// mmapBlock is spec.md §3's MmapChunkFooter list node: a large
// allocation served directly by an OS mapping rather than an arena.
type mmapBlock struct {
	size       int
	mem        []byte
	prev, next *mmapBlock
}

// MemSource is spec.md §3's MemSource: a reference-counted collection of
// arenas plus a large-object list, all bound to one physical node.
type MemSource struct {
	description   string
	physicalNode  atomic.Int32
	homeNode      int32
	mmapThreshold int
	totalSize     atomic.Int64

	arenaMu     sync.Mutex
	nativeArena *Arena
	activeArena *Arena

	mmapMu   sync.Mutex
	mmapHead *mmapBlock

	// blockCount packs (blocks:40, refs:24) into one atomic word,
	// spec.md §4.3: destruction fires exactly once, whichever side
	// (block release or unref) brings the whole word to zero.
	blockCount atomic.Uint64

	// opLock lets Migrate exclude concurrent allocations for its
	// duration (spec.md §4.3): Alloc takes it shared, Migrate
	// exclusively. Free and Stats do not take it.
	opLock sync.RWMutex

	destroyed atomic.Bool
}

var (
	registryMu sync.Mutex
	registry   []*MemSource
)

// defaultArenaSize returns the configured arena size (NUMA_CONFIG_FILE's
// arenaSize), falling back to DefaultArenaSize when unset.
func defaultArenaSize() int64 {
	if sz := config.Get().ArenaSize; sz > 0 {
		return sz
	}
	return DefaultArenaSize
}

// defaultMmapThreshold returns the configured mmap threshold
// (NUMA_CONFIG_FILE's mmapThreshold), falling back to
// DefaultMmapThreshold when unset or below the page size.
func defaultMmapThreshold() int {
	if th := config.Get().MmapThreshold; th >= pageSize {
		return th
	}
	return DefaultMmapThreshold
}

// Create obtains size bytes of OS mapping bound to physNode, builds the
// MemSource's native arena directly in it, and registers the source in
// the process-wide diagnostics list (spec.md §4.3). homeNode < 0 means
// the source's own bookkeeping is considered co-located with physNode;
// only arena contents are ever actually bound by mapOnNode, since a Go
// MemSource is an ordinary heap object with no NUMA-controllable
// placement of its own.
func Create(physNode int, size int64, name string, homeNode int) (*MemSource, error) {
	if size <= 0 {
		size = defaultArenaSize()
	}
	runtime.LockOSThread()
	mem, err := mapOnNode(physNode, int(size))
	runtime.UnlockOSThread()
	if err != nil {
		return nil, errors.Wrapf(err, "msource %q: mapping native arena on node %d", name, physNode)
	}

	m := &MemSource{
		description:   name,
		homeNode:      int32(homeNode),
		mmapThreshold: defaultMmapThreshold(),
	}
	m.physicalNode.Store(int32(physNode))
	m.totalSize.Store(size)
	m.blockCount.Store(refUnit) // one implicit reference for the caller

	m.nativeArena = newArena(m, mem, true)
	m.activeArena = m.nativeArena

	registryMu.Lock()
	registry = append(registry, m)
	registryMu.Unlock()

	return m, nil
}

// Description returns the human-readable name given at Create.
func (m *MemSource) Description() string { return m.description }

// PhysicalNode returns the node this source's arena contents are
// currently bound to.
func (m *MemSource) PhysicalNode() int { return int(m.physicalNode.Load()) }

// Ref adds one reference (spec.md §4.3's add_ref).
func (m *MemSource) Ref() {
	m.blockCount.Add(refUnit)
}

// Unref releases one reference, destroying the source if the whole
// packed word reaches zero (spec.md §4.3's release_ref).
func (m *MemSource) Unref() {
	if m.blockCount.Add(^refUnit+1) == 0 {
		m.destroy()
	}
}

func (m *MemSource) addBlock() {
	m.blockCount.Add(1)
}

func (m *MemSource) releaseBlock() {
	if m.blockCount.Add(^uint64(0)) == 0 { // -1
		m.destroy()
	}
}

// Blocks returns the number of outstanding user allocations.
func (m *MemSource) Blocks() uint64 { return m.blockCount.Load() & blocksMask }

// Refs returns the number of outstanding references.
func (m *MemSource) Refs() uint64 { return m.blockCount.Load() >> blocksBits }

func (m *MemSource) destroy() {
	if !m.destroyed.CompareAndSwap(false, true) {
		return
	}

	m.arenaMu.Lock()
	for a := m.activeArena; a != nil; {
		next := a.next
		if err := unmap(a.mem); err != nil {
			logger.Warn("msource %q: unmap arena failed: %v", m.description, err)
		}
		a = next
	}
	m.arenaMu.Unlock()

	m.mmapMu.Lock()
	for b := m.mmapHead; b != nil; {
		next := b.next
		if err := unmap(b.mem); err != nil {
			logger.Warn("msource %q: unmap large block failed: %v", m.description, err)
		}
		b = next
	}
	m.mmapMu.Unlock()

	registryMu.Lock()
	for i, s := range registry {
		if s == m {
			registry = append(registry[:i], registry[i+1:]...)
			break
		}
	}
	registryMu.Unlock()

	logger.Debug("msource %q destroyed", m.description)
}

// newArenaLocked creates and links a new 64 MiB arena as the new active
// arena. Caller must hold arenaMu.
func (m *MemSource) newArenaLocked() error {
	node := int(m.physicalNode.Load())
	size := defaultArenaSize()
	runtime.LockOSThread()
	mem, err := mapOnNode(node, int(size))
	runtime.UnlockOSThread()
	if err != nil {
		return errors.Wrapf(err, "msource %q: growing arena on node %d", m.description, node)
	}
	a := newArena(m, mem, false)
	a.next = m.activeArena
	if m.activeArena != nil {
		m.activeArena.prev = a
	}
	m.activeArena = a
	m.totalSize.Add(size)
	return nil
}

// Alloc reserves n bytes, routing through the mmap list if n is at or
// above the mmap threshold, otherwise through the arena chain, growing
// it on exhaustion (spec.md §4.3). Returns nil if the OS refuses a
// mapping.
func (m *MemSource) Alloc(n int) []byte {
	m.opLock.RLock()
	defer m.opLock.RUnlock()

	if n >= m.mmapThreshold {
		return m.allocLarge(n)
	}

	m.arenaMu.Lock()
	defer m.arenaMu.Unlock()

	for a := m.activeArena; a != nil; a = a.next {
		if block, ok := a.Alloc(n); ok {
			m.addBlock()
			return block
		}
	}
	if err := m.newArenaLocked(); err != nil {
		logger.Error("msource %q: %v", m.description, err)
		return nil
	}
	if block, ok := m.activeArena.Alloc(n); ok {
		m.addBlock()
		return block
	}
	return nil
}

// AllocAligned reserves n bytes aligned to align (a power of two),
// installing a fake footer in front of the returned block that forwards
// to the real one, per spec.md §3's aligned-allocation design.
func (m *MemSource) AllocAligned(n int, align int) []byte {
	if align <= 0 {
		align = 1
	}
	raw := m.Alloc(n + align - 1)
	if raw == nil {
		return nil
	}
	if _, ok := lookupFooter(raw); !ok {
		return nil
	}

	base := addrOf(raw)
	pad := int((uintptr(align) - base%uintptr(align)) % uintptr(align))
	aligned := raw[pad : pad+n : pad+n]
	if pad == 0 {
		return aligned
	}

	registerFooter(aligned, &footer{fake: true, real: keyOf(raw)})
	return aligned
}

func (m *MemSource) allocLarge(n int) []byte {
	node := int(m.physicalNode.Load())
	runtime.LockOSThread()
	mem, err := mapOnNode(node, n)
	runtime.UnlockOSThread()
	if err != nil {
		logger.Error("msource %q: large alloc of %d bytes failed: %v", m.description, n, err)
		return nil
	}
	b := &mmapBlock{size: n, mem: mem}

	m.mmapMu.Lock()
	b.next = m.mmapHead
	if m.mmapHead != nil {
		m.mmapHead.prev = b
	}
	m.mmapHead = b
	m.mmapMu.Unlock()

	m.totalSize.Add(int64(n))
	m.addBlock()

	registerFooter(mem, &footer{source: m, mmap: b})
	return mem
}

// Free returns p's block to the arena or mmap list it came from,
// following a fake footer's forward link if needed, and decrements the
// source's block count (spec.md §4.3).
func (m *MemSource) Free(p []byte) {
	f, ok := lookupFooter(p)
	if !ok {
		logger.Warn("msource: free of unknown pointer")
		return
	}
	switch {
	case f.mmap != nil:
		m.freeLarge(f.mmap)
	case f.arena != nil:
		f.arena.Free(f.offset, p)
	}
	unregisterFooter(p)
	m.releaseBlock()
}

func (m *MemSource) freeLarge(b *mmapBlock) {
	m.mmapMu.Lock()
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		m.mmapHead = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	m.mmapMu.Unlock()

	if err := unmap(b.mem); err != nil {
		logger.Warn("msource %q: unmap of freed large block failed: %v", m.description, err)
	}
	m.totalSize.Add(-int64(b.size))
}

// UsableSize returns the caller-visible capacity of the block p was
// allocated from.
func UsableSize(p []byte) int {
	f, ok := lookupFooter(p)
	if !ok {
		return 0
	}
	if f.mmap != nil {
		return f.mmap.size
	}
	if f.arena != nil {
		return f.arena.UsableSize(f.offset)
	}
	return 0
}

// SourceOf returns the MemSource that owns p, or nil if p is unknown.
func SourceOf(p []byte) *MemSource {
	f, ok := lookupFooter(p)
	if !ok {
		return nil
	}
	return f.source
}

// Stats is a snapshot of a MemSource's accounting, for cmd/numaruntimectl
// and pkg/metrics.
type Stats struct {
	Description  string
	PhysicalNode int
	TotalSize    int64
	Blocks       uint64
	Refs         uint64
	ArenaCount   int
}

// Stats returns a point-in-time snapshot of this source's accounting.
func (m *MemSource) Stats() Stats {
	m.arenaMu.Lock()
	n := 0
	for a := m.activeArena; a != nil; a = a.next {
		n++
	}
	m.arenaMu.Unlock()

	return Stats{
		Description:  m.description,
		PhysicalNode: m.PhysicalNode(),
		TotalSize:    m.totalSize.Load(),
		Blocks:       m.Blocks(),
		Refs:         m.Refs(),
		ArenaCount:   n,
	}
}

// Prefault touches up to bytes of every arena in this source, page by
// page, so the OS commits them onto the bound node ahead of first use.
// It returns the smallest number of bytes touched in any single arena,
// e.g. because that arena is smaller than bytes; a source with no
// arenas yet returns 0.
func (m *MemSource) Prefault(bytes int) int {
	m.arenaMu.Lock()
	defer m.arenaMu.Unlock()
	min := -1
	for a := m.activeArena; a != nil; a = a.next {
		pf := a.Prefault(bytes)
		if min < 0 || pf < min {
			min = pf
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// AllSources returns a snapshot of the process-wide diagnostics list
// (spec.md §4.3's "registers itself in a process-wide sources list").
func AllSources() []*MemSource {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]*MemSource, len(registry))
	copy(out, registry)
	return out
}
