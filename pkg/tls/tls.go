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

// Package tls implements the per-thread place-stack record spec.md
// §4.4 describes: a LIFO of allocation places whose top selects which
// MemSource serves the next allocation, plus the per-thread MemSource
// allocations fall back to when the stack is empty.
//
// Go has no pthread-key-style thread-local storage. This package keys
// its records by the calling OS thread id (golang.org/x/sys/unix.Gettid)
// instead, which is only a stable identity for a goroutine that has
// called runtime.LockOSThread — every caller that pushes a Place and
// expects it to still be visible to a later Current() call on the "same
// thread" must hold that lock for the intervening stretch, exactly as a
// pthread-TLS caller would need to stay on one OS thread. pkg/task's
// runBody arranges this for task bodies (spec.md §4.6); ordinary callers using
// tls.Push/Pop directly are expected to do the same.
package tls

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/intel/go-numa-runtime/pkg/log"
	"github.com/intel/go-numa-runtime/pkg/msource"
	"github.com/intel/go-numa-runtime/pkg/place"
	"github.com/intel/go-numa-runtime/pkg/topology"
)

var logger = log.Get("tls")

type initState int32

const (
	stateUninit initState = iota
	stateInitializing
	stateDone
)

// TLS is spec.md §3's ThreadLocalStorage record.
type TLS struct {
	tid          int
	node         topology.Node
	threadSource *msource.MemSource

	mu    sync.Mutex
	stack []place.Place
	cache *msource.MemSource

	state atomic.Int32
}

const threadSourceSize = 16 << 20

var (
	registryMu sync.Mutex
	byTid      = map[int]*TLS{}
)

// Current returns this OS thread's TLS record, creating it (and its
// thread_msource) lazily on first use (spec.md §4.4).
func Current() *TLS {
	tid := unix.Gettid()

	registryMu.Lock()
	t, ok := byTid[tid]
	if !ok {
		t = &TLS{tid: tid}
		byTid[tid] = t
	}
	registryMu.Unlock()

	if initState(t.state.Load()) == stateUninit && t.state.CompareAndSwap(int32(stateUninit), int32(stateInitializing)) {
		t.node = topology.Current().CurrentNode()
		phys := t.node.Physical
		if phys < 0 {
			phys = 0
		}
		src, err := msource.Create(phys, threadSourceSize, "thread", -1)
		if err != nil {
			logger.Warn("tls: failed to create thread msource on node %d, using global: %v", phys, err)
			src = msource.Global()
			src.Ref()
		}
		t.threadSource = src
		t.state.Store(int32(stateDone))
	}
	return t
}

// Release drops this thread's TLS record and returns its thread_msource
// to the global allocator, matching spec.md §4.4's "destructor frees the
// per-thread msource back to the global allocator." Call it from a
// thread that is about to terminate or stop using this package.
func Release() {
	tid := unix.Gettid()
	registryMu.Lock()
	t, ok := byTid[tid]
	if ok {
		delete(byTid, tid)
	}
	registryMu.Unlock()
	if ok && t.threadSource != nil {
		t.threadSource.Unref()
	}
}

// isInitializing reports whether this record is still bootstrapping,
// per spec.md §4.4's re-entrancy guard.
func (t *TLS) isInitializing() bool {
	return initState(t.state.Load()) == stateInitializing
}

// Push appends p to the stack and updates the cached current source.
// Requires p to be valid.
func (t *TLS) Push(p place.Place) {
	if !p.Valid() {
		logger.Error("tls: refusing to push an empty place")
		return
	}
	t.mu.Lock()
	t.stack = append(t.stack, p)
	t.cache = p.Source()
	t.mu.Unlock()
}

// Pop removes and returns the top of the stack, updating the cache to
// the new top (or nil, falling back to thread_msource). Returns the
// zero Place and false if the stack was empty.
func (t *TLS) Pop() (place.Place, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.stack) == 0 {
		return place.Place{}, false
	}
	top := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	t.refreshCacheLocked()
	return top, true
}

func (t *TLS) refreshCacheLocked() {
	if n := len(t.stack); n > 0 {
		t.cache = t.stack[n-1].Source()
		return
	}
	t.cache = nil
}

// PushAll replaces the stack wholesale with stack, per spec.md §4.4's
// use by the task machinery to restore a saved allocation context
// across a fiber suspension.
func (t *TLS) PushAll(stack []place.Place) {
	t.mu.Lock()
	t.stack = append([]place.Place(nil), stack...)
	t.refreshCacheLocked()
	t.mu.Unlock()
}

// PopAll empties the stack and returns everything it held, per spec.md
// §4.4's use by the task machinery to snapshot allocation context before
// a fiber suspends.
func (t *TLS) PopAll() []place.Place {
	t.mu.Lock()
	defer t.mu.Unlock()
	saved := t.stack
	t.stack = nil
	t.refreshCacheLocked()
	return saved
}

// CurrMSource returns the MemSource that should serve the next
// allocation: the cached top-of-stack source, or thread_msource if the
// stack is empty. During bootstrap it returns the global MemSource
// instead, so that an allocation made while creating thread_msource
// itself does not recurse (spec.md §4.4's init-reentrancy guard).
func (t *TLS) CurrMSource() *msource.MemSource {
	if t.isInitializing() {
		return msource.Global()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache != nil {
		return t.cache
	}
	return t.threadSource
}

// Node returns the node this TLS record was initialized on.
func (t *TLS) Node() topology.Node { return t.node }
