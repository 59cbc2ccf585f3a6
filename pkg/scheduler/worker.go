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
	"context"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/intel/go-numa-runtime/pkg/cpupin"
	"github.com/intel/go-numa-runtime/pkg/msource"
	"github.com/intel/go-numa-runtime/pkg/tls"
)

const (
	minBackoff  = 50 * time.Microsecond
	maxBackoff  = 4 * time.Millisecond
	parkTimeout = 50 * time.Millisecond

	// idleLogEvery bounds how often a worker logs "still idle" at
	// debug level, so a long-idle node doesn't flood the log.
	idleLogEvery = time.Second
)

// WorkerThread is spec.md §4.10's WorkerThread: an OS thread pinned to
// one CPU running the fiber dispatch loop. Where the spec's loop swaps
// between a "neutral" and a task's native context to resume a suspended
// fiber, this translation resumes a suspended Task by unblocking its
// own dedicated goroutine (see pkg/task's package doc) instead of
// restoring saved registers — WorkerThread's own goroutine never runs a
// task body inline, it only dispatches.
type WorkerThread struct {
	sched *Scheduler
	cpu   int

	threadID int
	msrc     *msource.MemSource
	started  chan struct{}

	shutdownCh chan struct{}
	doneCh     chan struct{}

	idleLog *rate.Limiter
}

func newWorkerThread(sched *Scheduler, cpu int) *WorkerThread {
	return &WorkerThread{
		sched:      sched,
		cpu:        cpu,
		started:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		idleLog:    rate.NewLimiter(rate.Every(idleLogEvery), 1),
	}
}

// ThreadID returns the worker's pinned OS thread id, valid only after
// start() returns.
func (w *WorkerThread) ThreadID() int { return w.threadID }

// MSource returns this worker's own persistent thread_msource — the
// MemSource bound to the dispatch loop's own OS thread for its whole
// life, as opposed to the fresh one a dispatched task body's own
// goroutine gets from tls.Current() (see pkg/task's package doc: a task
// body runs on its own goroutine/OS thread, never the dispatch loop's).
// PrefaultWorkerThreadStorages uses this to touch the worker's real
// storage instead of a dispatched task's own throwaway one.
func (w *WorkerThread) MSource() *msource.MemSource { return w.msrc }

// start pins a fresh goroutine to w.cpu and blocks until it has locked
// its OS thread and recorded its thread id.
func (w *WorkerThread) start() {
	go w.run()
	<-w.started
}

// shutdown is spec.md §4.10's shutdown(): signal the dispatch loop to
// exit on its next poll, then wait for it.
func (w *WorkerThread) shutdown() {
	close(w.shutdownCh)
	<-w.doneCh
}

// run is the dispatch loop itself (spec.md §4.10), expressed as an
// explicit poll loop instead of the original's context-switch state
// machine: entry pins the thread and CPU, then repeatedly asks the
// scheduler for a task, runs it until it next suspends or completes,
// and backs off (exponentially, capped, then a scheduler park) when
// none is available.
func (w *WorkerThread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := cpupin.Pin(w.cpu); err != nil {
		logger.Warn("worker: failed to pin to cpu %d: %v", w.cpu, err)
	}
	w.threadID = unix.Gettid()
	w.msrc = tls.Current().CurrMSource()
	close(w.started)

	backoff := minBackoff
	for {
		select {
		case <-w.shutdownCh:
			close(w.doneCh)
			return
		default:
		}

		t := w.sched.TryGetTask(w.threadID)
		if t == nil {
			if backoff < maxBackoff {
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			if w.idleLog.Allow() {
				logger.Debug("worker: cpu %d idle, parking", w.cpu)
			}
			w.sched.WaitForTask(parkTimeout)
			backoff = minBackoff
			continue
		}
		backoff = minBackoff

		slot := w.sched.ctxCache.Get()
		slot.threadID = w.threadID
		slot.cpu = w.cpu

		t.Run(context.Background(), slot.threadID, slot.cpu)

		w.sched.ctxCache.Put(slot)
	}
}
