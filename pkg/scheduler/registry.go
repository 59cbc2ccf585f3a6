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

import (
	"sync"

	"github.com/intel/go-numa-runtime/pkg/task"
	"github.com/intel/go-numa-runtime/pkg/topology"
)

// globalOwner requeues a global-domain task back into the shared global
// domain and wakes every node's scheduler, matching SpawnTask's nil-sched
// path (spec.md §4.9).
type globalOwner struct{}

func (globalOwner) Requeue(t *task.Task, threadID int) {
	globalDomain().PutTask(t, threadID)
	wakeAll()
}

var (
	globalDomainOnce sync.Once
	globalTaskDomain *task.Domain

	registryMu sync.Mutex
	byNode     = map[int]*Scheduler{} // keyed by physical node id
)

// globalDomain returns the process-wide global SchedulingDomain, lazily
// created once (spec.md §2: "one process-wide global SchedulingDomain").
func globalDomain() *task.Domain {
	globalDomainOnce.Do(func() {
		globalTaskDomain = task.NewDomain()
	})
	return globalTaskDomain
}

// ForNode returns node's Scheduler, lazily creating it — the
// process-wide "NodeReplicated<Scheduler>" spec.md §4.9 describes.
func ForNode(node topology.Node) *Scheduler {
	registryMu.Lock()
	defer registryMu.Unlock()
	if s, ok := byNode[node.Physical]; ok {
		return s
	}
	s := newScheduler(node, globalDomain())
	byNode[node.Physical] = s
	return s
}

// AllSchedulers returns every Scheduler created so far via ForNode.
func AllSchedulers() []*Scheduler {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]*Scheduler, 0, len(byNode))
	for _, s := range byNode {
		out = append(out, s)
	}
	return out
}

// wakeAll posts TaskAvailable to every scheduler, used when a task is
// spawned into the global domain (spec.md §4.9: "wake one worker on
// every node").
func wakeAll() {
	for _, s := range AllSchedulers() {
		s.TaskAvailable()
	}
}
