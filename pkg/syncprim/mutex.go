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

// Package syncprim implements spec.md §5/§6's synchronization
// primitives: a fiber-aware Mutex that blocks the owning Task rather
// than the OS thread, and the OS-thread-level SpinLock/RWLock the
// runtime's own internal state (arena lists, deques, priority slots)
// is built on.
package syncprim

import (
	"sync"
	"sync/atomic"

	"github.com/intel/go-numa-runtime/pkg/task"
	"github.com/intel/go-numa-runtime/pkg/trigger"
)

// Mutex is spec.md §6's fiber-aware Mutex: the CAS fast path is
// identical to a normal spinlock-free mutex, but a contended Lock parks
// the calling Task (via ctx.Wait on a one-shot trigger) instead of
// blocking the OS thread it happens to be running on — that thread goes
// on to dispatch other tasks while this one waits.
type Mutex struct {
	state atomic.Bool

	mu      sync.Mutex
	waiters []*trigger.TwoPhase
}

// TryLock attempts the CAS fast path without blocking.
func (m *Mutex) TryLock() bool {
	return m.state.CompareAndSwap(false, true)
}

// Lock acquires the mutex, parking ctx's task if it is already held.
func (m *Mutex) Lock(ctx *task.Context) {
	for {
		if m.TryLock() {
			return
		}
		ready := &trigger.TwoPhase{}
		m.mu.Lock()
		m.waiters = append(m.waiters, ready)
		m.mu.Unlock()
		ctx.Wait(ready)
		// Woken because Unlock handed the token to ready, or because
		// some other Signal fired it; either way retry the CAS: a
		// racing newcomer may have grabbed it first.
	}
}

// Unlock releases the mutex and wakes the oldest waiting task, if any.
func (m *Mutex) Unlock() {
	m.state.Store(false)

	m.mu.Lock()
	var w *trigger.TwoPhase
	if len(m.waiters) > 0 {
		w = m.waiters[0]
		m.waiters = m.waiters[1:]
	}
	m.mu.Unlock()

	if w != nil {
		w.SetSignaled()
	}
}
