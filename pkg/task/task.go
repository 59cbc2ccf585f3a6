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

// Package task implements the task state machine spec.md §4.6
// describes. A Task's body runs on a dedicated goroutine so that
// yield/wait can suspend in the middle of an arbitrary call stack and
// later resume exactly there — the property real fiber context
// switches give the original design and the only Go construct that
// gives it back without hand-rolled assembly. See task.go's package
// doc and DESIGN.md for the full translation rationale.
package task

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/intel/go-numa-runtime/pkg/cpupin"
	"github.com/intel/go-numa-runtime/pkg/log"
	"github.com/intel/go-numa-runtime/pkg/place"
	"github.com/intel/go-numa-runtime/pkg/tls"
	"github.com/intel/go-numa-runtime/pkg/tracing"
	"github.com/intel/go-numa-runtime/pkg/trigger"
)

var logger = log.Get("task")

// State is one of spec.md §4.6's task states.
type State int

const (
	StateReady State = iota
	StateRunning
	StateWaiting
	StateSuspended
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Flag holds the per-task option bits spec.md §4.6 references.
type Flag int

const (
	// FlagKeepThread makes schedule panic when the task is rescheduled
	// onto the same thread ID that last ran it; without this flag
	// schedule asserts nothing about the thread (see DESIGN.md's
	// "schedule same-thread assertion" decision).
	FlagKeepThread Flag = 1 << iota
	// FlagKeepScheduler pins the task to its originating Scheduler,
	// preventing the global domain from stealing it cross-node.
	FlagKeepScheduler
	// FlagHasStarted is set the first time Run executes the task body.
	FlagHasStarted
)

// MinPriority and MaxPriority bound spec.md §4.6's priority range.
const (
	MinPriority = -16
	MaxPriority = 16
	// NumPriorities is the number of priority slots (value - Min).
	NumPriorities = MaxPriority - MinPriority + 1
)

// Owner is what a Task calls back into when it needs to be re-enqueued
// by whatever scheduler currently owns it (spec.md §4.6's yield/notify
// re-spawn). pkg/scheduler implements this; the interface exists so
// pkg/task does not import pkg/scheduler.
type Owner interface {
	Requeue(t *Task, threadID int)
}

// Body is a task's user function. It receives a Context through which
// it calls Yield/Wait — the explicit stand-ins for the suspension
// points a fiber would hit transparently.
type Body func(ctx *Context)

// Task is spec.md §4.6's Task: a state machine plus an embedded
// TwoPhaseTriggerable (so others can wait for its completion) and an
// owned Synchronizer (so it can wait on other Triggerables).
type Task struct {
	trigger.TwoPhase

	mu       sync.Mutex
	state    State
	flags    Flag
	priority int

	body Body

	owner        Owner
	homeThreadID int

	sync       trigger.Synchronizer
	savedStack []place.Place

	resumeCh chan resumeArgs
	started  chan struct{}
}

// resumeArgs carries what Run needs to hand a parked task's goroutine
// on resumption: which thread it was dispatched from and which CPU that
// thread is pinned to, so the goroutine can re-pin itself there (a park
// spanning a yield/wait can resume on a different worker than the one
// that first ran it).
type resumeArgs struct {
	threadID int
	cpu      int
}

// New creates a task with the given priority (clamped to
// [MinPriority,MaxPriority]) and flags. Result starts in StateReady.
func New(body Body, priority int, flags Flag) *Task {
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	t := &Task{
		body:         body,
		priority:     priority,
		flags:        flags,
		homeThreadID: -1,
		resumeCh:     make(chan resumeArgs),
		started:      make(chan struct{}),
	}
	t.sync.Notify = t.notify
	return t
}

// Priority returns the task's priority.
func (t *Task) Priority() int { return t.priority }

// PriorityIndex is the task's priority's index into a 0-based array of
// NumPriorities slots.
func (t *Task) PriorityIndex() int { return t.priority - MinPriority }

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HasStarted reports whether Run has ever executed the task body.
func (t *Task) HasStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags&FlagHasStarted != 0
}

// SetOwner attaches the scheduler that will receive Requeue calls when
// this task yields or its wait dependencies clear. Must be called
// before the task is ever scheduled.
func (t *Task) SetOwner(o Owner) {
	t.mu.Lock()
	t.owner = o
	t.mu.Unlock()
}

// schedule is spec.md §4.6's schedule(thread): asserts the same-thread
// policy, records home_thread, sets state RUNNING, and restores the
// place stack saved at the last suspension. Called from the task's own
// goroutine, so tls.Current() resolves to that goroutine's own record.
func (t *Task) schedule(threadID int) {
	t.mu.Lock()
	if t.flags&FlagKeepThread != 0 && t.homeThreadID >= 0 && threadID == t.homeThreadID {
		t.mu.Unlock()
		panic(fmt.Sprintf("task: KEEP_THREAD task rescheduled onto its own thread %d", threadID))
	}
	t.homeThreadID = threadID
	t.state = StateRunning
	saved := t.savedStack
	t.savedStack = nil
	t.mu.Unlock()

	tls.Current().PushAll(saved)
}

// Run is spec.md §4.6's run(ctx): starts the task body on a dedicated
// goroutine the first time, or resumes it via resumeCh on later calls.
// cpu is the CPU the calling worker thread is pinned to; the task body
// pins its own goroutine there too, so the computation itself — not
// just the dispatch loop around it — runs on the worker's CPU (spec.md
// §4.10/§1). Run blocks until the task next suspends (yield/wait) or
// completes.
func (t *Task) Run(ctx context.Context, threadID, cpu int) {
	t.mu.Lock()
	firstRun := t.flags&FlagHasStarted == 0
	t.flags |= FlagHasStarted
	t.mu.Unlock()

	if firstRun {
		go t.runBody(ctx, threadID, cpu)
		<-t.started
		return
	}
	t.resumeCh <- resumeArgs{threadID: threadID, cpu: cpu}
	<-t.started
}

func (t *Task) runBody(ctx context.Context, threadID, cpu int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer tls.Release()

	if err := cpupin.Pin(cpu); err != nil {
		logger.Warn("task: failed to pin to cpu %d: %v", cpu, err)
	}

	ctx, endSpan := tracing.Span(ctx, "task.run")
	defer endSpan()

	t.schedule(threadID)
	tc := &Context{task: t, ctx: ctx}
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task panicked: %v", r)
			}
		}()
		t.body(tc)
	}()
	t.done()
	t.started <- struct{}{}
}

// park suspends the calling (task) goroutine until Run sends a resume
// signal, then re-pins to the CPU and re-establishes RUNNING state and
// the place stack on whatever thread ID it was resumed on. It signals
// t.started exactly once, the instant it actually parks — Run()'s
// caller blocks on that to know the task has stopped running again,
// whether by parking here or by completing (runBody signals it directly
// in that case).
func (t *Task) park() {
	t.started <- struct{}{}
	args := <-t.resumeCh
	if err := cpupin.Pin(args.cpu); err != nil {
		logger.Warn("task: failed to pin to cpu %d: %v", args.cpu, err)
	}
	t.schedule(args.threadID)
}

// yield is spec.md §4.6's yield(thread_id): suspend, stash the place
// stack, and re-enqueue via the owner at the given thread index.
func (t *Task) yield(threadID int) {
	t.mu.Lock()
	t.state = StateSuspended
	t.savedStack = tls.Current().PopAll()
	owner := t.owner
	t.mu.Unlock()

	if owner != nil {
		owner.Requeue(t, threadID)
	}
	t.park()
}

// wait is spec.md §4.6's wait(refs): synchronize on refs; suspend into
// WAITING only if a dependency remains outstanding.
func (t *Task) wait(refs ...trigger.Ref) {
	t.mu.Lock()
	pending := t.sync.Synchronize(refs...)
	if !pending {
		t.mu.Unlock()
		return
	}
	t.state = StateWaiting
	t.savedStack = tls.Current().PopAll()
	t.mu.Unlock()

	t.park()
}

// notify is the Synchronizer callback invoked once every dependency
// t.wait registered on has fired (spec.md §4.6).
func (t *Task) notify() {
	t.mu.Lock()
	if t.state != StateWaiting {
		t.mu.Unlock()
		panic("task: notify while not WAITING")
	}
	t.state = StateSuspended
	threadID := t.homeThreadID
	owner := t.owner
	t.mu.Unlock()

	if owner != nil {
		owner.Requeue(t, threadID)
	}
}

// done is spec.md §4.6's done(): discard the place stack, mark
// COMPLETED, and fire the embedded TwoPhaseTriggerable to wake waiters.
func (t *Task) done() {
	t.mu.Lock()
	t.state = StateCompleted
	t.savedStack = nil
	t.mu.Unlock()
	t.SetSignaled()
}
