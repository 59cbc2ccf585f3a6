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

package scheduler

import "sync"

// DispatchSlot stands in for spec.md §4.9's Context object (stack
// memory, stack size, register snapshot). A goroutine already owns its
// stack and the Go runtime already owns its register state, so there is
// nothing left to snapshot; what survives the translation is the reuse
// discipline itself, so WorkerThread pulls one of these out of the pool
// on every dispatch iteration instead of allocating a fresh one.
type DispatchSlot struct {
	threadID int
	cpu      int
}

// ContextCache is spec.md §4.9's context_cache: a LIFO of reusable
// dispatch slots, one per Scheduler.
type ContextCache struct {
	mu   sync.Mutex
	free []*DispatchSlot
}

// NewContextCache returns an empty cache.
func NewContextCache() *ContextCache {
	return &ContextCache{}
}

// Get pops a slot off the free list, allocating a new one if empty.
func (c *ContextCache) Get() *DispatchSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.free)
	if n == 0 {
		return &DispatchSlot{}
	}
	s := c.free[n-1]
	c.free = c.free[:n-1]
	return s
}

// Put pushes a slot back onto the free list.
func (c *ContextCache) Put(s *DispatchSlot) {
	c.mu.Lock()
	c.free = append(c.free, s)
	c.mu.Unlock()
}
