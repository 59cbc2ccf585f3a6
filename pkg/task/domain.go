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

package task

import (
	"sync"
	"sync/atomic"
)

// Domain is spec.md §4.8's SchedulingDomain: one Collection per
// priority, lazily created, plus a top_priority_hint so TryGetTask
// doesn't have to scan every priority when only low ones are occupied.
type Domain struct {
	slotsMu sync.RWMutex // spec.md §5's "priority slot init" lock, guarding slots wholesale
	slots   [NumPriorities]*Collection
	counts  [NumPriorities]atomic.Int64
	topHint atomic.Int32

	threadsMu sync.Mutex // "active-thread lock", spec.md §4.8
	threadIDs []int
}

// NewDomain returns an empty Domain with top_priority_hint at the
// lowest priority index.
func NewDomain() *Domain {
	return &Domain{}
}

// collection returns (lazily creating, and registering every known
// worker thread on) the Collection for the given priority index.
func (d *Domain) collection(idx int) *Collection {
	d.slotsMu.RLock()
	c := d.slots[idx]
	d.slotsMu.RUnlock()
	if c != nil {
		return c
	}

	d.slotsMu.Lock()
	defer d.slotsMu.Unlock()
	if d.slots[idx] == nil {
		nc := NewCollection()
		d.threadsMu.Lock()
		for _, id := range d.threadIDs {
			nc.Register(id)
		}
		d.threadsMu.Unlock()
		d.slots[idx] = nc
	}
	return d.slots[idx]
}

// PutTask is spec.md §4.8's put_task: enqueue into the priority's
// Collection and advance top_priority_hint if this priority is higher.
func (d *Domain) PutTask(t *Task, threadID int) {
	idx := t.PriorityIndex()
	d.collection(idx).Put(t, threadID)
	d.counts[idx].Add(1)

	for {
		cur := d.topHint.Load()
		if int(cur) >= idx {
			return
		}
		if d.topHint.CompareAndSwap(cur, int32(idx)) {
			return
		}
	}
}

// TryGetTask is spec.md §4.8's try_get_task: scan from top_priority_hint
// down to 0, skipping empty priorities.
func (d *Domain) TryGetTask(threadID int) *Task {
	top := int(d.topHint.Load())
	for idx := top; idx >= 0; idx-- {
		if d.counts[idx].Load() == 0 {
			continue
		}
		d.slotsMu.RLock()
		c := d.slots[idx]
		d.slotsMu.RUnlock()
		if c == nil {
			continue
		}
		if t := c.TryGet(threadID); t != nil {
			d.counts[idx].Add(-1)
			return t
		}
	}
	return nil
}

// AddThread registers threadID with every existing priority's
// Collection (spec.md §4.8: "every live priority's TaskCollection has
// that thread registered").
func (d *Domain) AddThread(threadID int) {
	d.threadsMu.Lock()
	d.threadIDs = append(d.threadIDs, threadID)
	d.threadsMu.Unlock()

	d.slotsMu.RLock()
	defer d.slotsMu.RUnlock()
	for _, slot := range d.slots {
		if slot != nil {
			slot.Register(threadID)
		}
	}
}

// RemoveThread deregisters threadID from every existing priority's
// Collection.
func (d *Domain) RemoveThread(threadID int) {
	d.threadsMu.Lock()
	for i, id := range d.threadIDs {
		if id == threadID {
			d.threadIDs = append(d.threadIDs[:i], d.threadIDs[i+1:]...)
			break
		}
	}
	d.threadsMu.Unlock()

	d.slotsMu.RLock()
	defer d.slotsMu.RUnlock()
	for _, slot := range d.slots {
		if slot != nil {
			slot.Deregister(threadID)
		}
	}
}
