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

// Package scheduler implements spec.md §4.9/§4.10's per-node Scheduler
// and WorkerThread: one Scheduler per NUMA node, each owning a local
// SchedulingDomain and a set of WorkerThreads pinned one-per-CPU, all
// draining a shared process-wide global SchedulingDomain as a fallback.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/intel/go-numa-runtime/pkg/log"
	"github.com/intel/go-numa-runtime/pkg/task"
	"github.com/intel/go-numa-runtime/pkg/tls"
	"github.com/intel/go-numa-runtime/pkg/topology"
	"github.com/intel/go-numa-runtime/pkg/tracing"
)

var logger = log.Get("scheduler")

const wakeBacklog = 4096

// Scheduler is spec.md §4.9's Scheduler: one per node, plus a shared
// global SchedulingDomain every Scheduler drains from.
type Scheduler struct {
	node   topology.Node
	global *task.Domain

	localDomain *task.Domain
	ctxCache    *ContextCache

	workersMu sync.Mutex // spec.md §5's "recursive mutex" — grow/shrink never re-enters itself, a plain Mutex meets the same requirement here
	workers   []*WorkerThread

	wakeCh   chan struct{}
	sleeping atomic.Int64
}

func newScheduler(node topology.Node, global *task.Domain) *Scheduler {
	return &Scheduler{
		node:        node,
		global:      global,
		localDomain: task.NewDomain(),
		ctxCache:    NewContextCache(),
		wakeCh:      make(chan struct{}, wakeBacklog),
	}
}

// Node returns the NUMA node this scheduler serves.
func (s *Scheduler) Node() topology.Node { return s.node }

// TryGetTask is spec.md §4.9's try_get_task: local domain first, then
// the global one, so node-affinity tasks are preferred over stealable
// globals.
func (s *Scheduler) TryGetTask(threadID int) *task.Task {
	if t := s.localDomain.TryGetTask(threadID); t != nil {
		return t
	}
	return s.global.TryGetTask(threadID)
}

// Requeue implements task.Owner: a yielding or newly-unblocked task
// owned by this scheduler goes back into its local domain.
func (s *Scheduler) Requeue(t *task.Task, threadID int) {
	s.localDomain.PutTask(t, threadID)
	s.TaskAvailable()
}

// WaitForTask is spec.md §4.9's waitForTask(usec): register as a
// sleeper and block until TaskAvailable wakes it or timeout elapses.
func (s *Scheduler) WaitForTask(timeout time.Duration) {
	s.sleeping.Add(1)
	select {
	case <-s.wakeCh:
	case <-time.After(timeout):
	}
	s.sleeping.Add(-1)
}

// TaskAvailable is spec.md §4.9's taskAvailable(): swap the sleeper
// count to zero and post the wake channel that many times, waking every
// currently-parked worker (spurious wakes just re-park).
func (s *Scheduler) TaskAvailable() {
	n := s.sleeping.Swap(0)
	for i := int64(0); i < n; i++ {
		select {
		case s.wakeCh <- struct{}{}:
		default:
			return
		}
	}
}

// SetThreadCount is spec.md §4.9's set_thread_count(n): grow or shrink
// workers[] toward n, one WorkerThread at a time, bounded by the node's
// CPU count.
func (s *Scheduler) SetThreadCount(n int) {
	cpus := topology.Current().CoresOnNode(s.node)
	if n < 0 {
		n = 0
	}
	if n > len(cpus) {
		n = len(cpus)
	}

	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	for len(s.workers) < n {
		cpu := cpus[len(s.workers)]
		w := newWorkerThread(s, cpu)
		w.start()
		s.localDomain.AddThread(w.ThreadID())
		s.workers = append(s.workers, w)
	}
	for len(s.workers) > n {
		last := len(s.workers) - 1
		w := s.workers[last]
		w.shutdown()
		s.localDomain.RemoveThread(w.ThreadID())
		s.workers = s.workers[:last]
	}
}

// ThreadCount returns the number of live worker threads.
func (s *Scheduler) ThreadCount() int {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	return len(s.workers)
}

// Workers returns a snapshot of the currently live worker threads,
// spec.md §6's for_each_thread iterating a Scheduler's worker_ids().
func (s *Scheduler) Workers() []*WorkerThread {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	out := make([]*WorkerThread, len(s.workers))
	copy(out, s.workers)
	return out
}

// Sleeping returns the number of worker threads currently parked in
// WaitForTask, for diagnostics and metrics.
func (s *Scheduler) Sleeping() int64 {
	return s.sleeping.Load()
}

// currentThreadID returns the calling OS thread's id if it is pinned to
// this scheduler's node, or -1 ("untied") otherwise (spec.md §4.9's
// spawn_task affinity rule).
func (s *Scheduler) currentThreadID() int {
	if tls.Current().Node().Physical == s.node.Physical {
		return unix.Gettid()
	}
	return -1
}

// SpawnTask is spec.md §4.9's spawn_task(sched, task): sched == nil
// routes to the process-wide global domain and wakes every node; a
// non-nil sched enqueues locally, using the calling thread's id for
// affinity when it already belongs to sched's node.
func SpawnTask(sched *Scheduler, t *task.Task) {
	_, endSpan := tracing.Span(context.Background(), "scheduler.spawn_task")
	defer endSpan()

	if sched == nil {
		t.SetOwner(globalOwner{})
		globalDomain().PutTask(t, -1)
		wakeAll()
		return
	}
	t.SetOwner(sched)
	threadID := sched.currentThreadID()
	sched.localDomain.PutTask(t, threadID)
	sched.TaskAvailable()
}

// spawnOnThread enqueues t directly into sched's local domain at
// threadID, unlike SpawnTask it targets a specific worker regardless
// of which thread the caller happens to be running on — ForEachThread
// uses this to put one task on every worker's own queue (spec.md §6's
// for_each_thread).
func spawnOnThread(sched *Scheduler, t *task.Task, threadID int) {
	t.SetOwner(sched)
	sched.localDomain.PutTask(t, threadID)
	sched.TaskAvailable()
}
