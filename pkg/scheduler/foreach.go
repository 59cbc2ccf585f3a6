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
	"sync/atomic"

	"github.com/intel/go-numa-runtime/pkg/task"
	"github.com/intel/go-numa-runtime/pkg/topology"
	"github.com/intel/go-numa-runtime/pkg/trigger"
)

// forEachWorker spawns bodyFor(w) directly onto w's own queue, for
// every worker thread across nodes, and returns each spawned task's
// completion handle. ForEachThread and PrefaultWorkerThreadStorages
// both fan out this way; PrefaultWorkerThreadStorages needs a distinct
// closure per worker (one bound to that worker's own MemSource), which
// a single shared fn can't express, hence the indirection through
// bodyFor instead of a plain fn.
func forEachWorker(nodes []topology.Node, bodyFor func(w *WorkerThread) func(), priority int) []trigger.Ref {
	refs := make([]trigger.Ref, 0)
	for _, node := range nodes {
		sched := ForNode(node)
		for _, w := range sched.Workers() {
			body := bodyFor(w)
			t := task.New(func(*task.Context) { body() }, priority, 0)
			spawnOnThread(sched, t, w.ThreadID())
			refs = append(refs, t)
		}
	}
	return refs
}

// ForEachThread is spec.md §6's for_each_thread(nodes, fn, priority):
// it spawns one copy of fn directly onto every worker thread's own
// queue across the given nodes, at priority, and returns each spawned
// task's completion handle for the caller to wait on. Like put_task
// itself, this targets a worker's queue but does not prevent another
// idle worker from stealing the task first — the same best-effort
// affinity the rest of the scheduler gives any task.
func ForEachThread(nodes []topology.Node, fn func(), priority int) []trigger.Ref {
	return forEachWorker(nodes, func(*WorkerThread) func() { return fn }, priority)
}

// PrefaultWorkerThreadStorages is spec.md §6's
// prefault_worker_thread_storages(bytes): touch up to bytes of every
// worker thread's own MemSource, on every node, ahead of first use. It
// blocks the calling goroutine until every worker has finished, so call
// it from outside a task body — a task wanting the same thing should
// use its Context.Wait on ForEachThread's own result instead.
//
// Each dispatched closure touches w.MSource() — the MemSource bound to
// that worker's own long-lived dispatch-loop OS thread — rather than
// tls.Current() from inside the task body: a task body runs on its own
// dedicated goroutine/OS thread (pkg/task's package doc), so
// tls.Current() there would resolve to that goroutine's own short-lived
// MemSource, not the worker's.
//
// Every spawned task waits at a barrier until all of the others have
// also prefaulted, then records the minimum prefaulted size across all
// of them, so a short read on any single thread is visible to the
// caller as a whole rather than only logged locally.
func PrefaultWorkerThreadStorages(bytes int) {
	nodes := topology.Current().LogicalNodesWithCPUs()

	count := 0
	for _, node := range nodes {
		count += len(ForNode(node).Workers())
	}
	if count == 0 {
		return
	}

	var (
		barrier sync.WaitGroup
		mu      sync.Mutex
		counter atomic.Int64
		min     = -1
	)
	barrier.Add(1)

	refs := forEachWorker(nodes, func(w *WorkerThread) func() {
		return func() {
			prefaulted := w.MSource().Prefault(bytes)

			if counter.Add(1) == int64(count) {
				barrier.Done()
			}
			barrier.Wait()

			mu.Lock()
			if min < 0 || prefaulted < min {
				min = prefaulted
			}
			mu.Unlock()
		}
	}, task.MinPriority)

	trigger.Wait(refs...)

	if min == bytes {
		logger.Debug("prefaulted %d bytes on %d thread msources", bytes, count)
	} else if min >= 0 {
		logger.Warn("prefaulted only %d of %d requested bytes on at least one of %d thread msources", min, bytes, count)
	}
}
