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

// Package trigger implements the wait/notify primitives spec.md §4.5
// describes: a Triggerable that transitions once from unsignaled to
// signaled and wakes registered waiters, and a Synchronizer that waits
// on a set of Triggerables and fires a callback once all have signaled.
package trigger

import "sync"

// Waiter is what a Triggerable calls back when it fires: any
// Synchronizer that registered a wait on it.
type Waiter interface {
	// Signal is invoked by the Triggerable this waiter registered with,
	// under no lock of the waiter's own; ref identifies which
	// Triggerable fired, for waiters depending on more than one.
	Signal(ref Ref)
}

// Ref is an opaque handle to a Triggerable, used so a Synchronizer can
// track which of its dependencies has fired without importing the
// concrete Triggerable type (Task embeds both, spec.md §4.6).
type Ref interface {
	// MustWait registers w as a waiter if this Triggerable is not yet
	// satisfied, returning true in that case; returns false (without
	// registering) if it is already satisfied.
	MustWait(w Waiter) bool
}

// Base is the embeddable Triggerable core: a lock and a waiter list.
// Base itself is not one-shot; TwoPhase adds the "fires exactly once"
// semantics spec.md §3 requires.
type Base struct {
	mu      sync.Mutex
	waiters []Waiter
}

// Lock/Unlock let a subtype (TwoPhase, or a hand-rolled Triggerable)
// extend the critical section MustWait/fire run under, matching
// spec.md §4.5's "register_wait... under the lock, consults the
// predicate."
func (b *Base) Lock()   { b.mu.Lock() }
func (b *Base) Unlock() { b.mu.Unlock() }

// enqueue appends w to the waiter list. Caller must hold the lock.
func (b *Base) enqueue(w Waiter) {
	b.waiters = append(b.waiters, w)
}

// TriggerOne pops and signals a single waiter. Caller must hold the lock.
func (b *Base) TriggerOne(ref Ref) {
	if len(b.waiters) == 0 {
		return
	}
	w := b.waiters[0]
	b.waiters = b.waiters[1:]
	w.Signal(ref)
}

// TriggerAll pops and signals every waiter. Caller must hold the lock.
func (b *Base) TriggerAll(ref Ref) {
	waiters := b.waiters
	b.waiters = nil
	for _, w := range waiters {
		w.Signal(ref)
	}
}

// Empty reports whether there are no registered waiters. Caller must
// hold the lock; used by destructors asserting spec.md §3's invariant
// that "on destruction waiters must be empty."
func (b *Base) Empty() bool {
	return len(b.waiters) == 0
}

// TwoPhase is a Triggerable that transitions exactly once from
// unsignaled to signaled (spec.md §3's TwoPhaseTriggerable).
type TwoPhase struct {
	Base
	signaled bool
}

var _ Ref = (*TwoPhase)(nil)

// MustWait implements Ref: registers w if not yet signaled.
func (t *TwoPhase) MustWait(w Waiter) bool {
	t.Lock()
	defer t.Unlock()
	if t.signaled {
		return false
	}
	t.enqueue(w)
	return true
}

// Signaled reports whether SetSignaled has already fired.
func (t *TwoPhase) Signaled() bool {
	t.Lock()
	defer t.Unlock()
	return t.signaled
}

// SetSignaled transitions to signaled and wakes every registered
// waiter. Panics if called twice, matching spec.md §3's "may transition
// exactly once."
func (t *TwoPhase) SetSignaled() {
	t.Lock()
	defer t.Unlock()
	if t.signaled {
		panic("trigger: TwoPhase signaled twice")
	}
	t.signaled = true
	t.TriggerAll(t)
}

// Synchronizer waits on a set of Triggerables and invokes Notify once
// every dependency has fired (spec.md §4.5).
type Synchronizer struct {
	mu     sync.Mutex
	deps   []Ref
	Notify func()
}

var _ Waiter = (*Synchronizer)(nil)

// Synchronize registers s as a waiter on every ref in refs that is not
// already satisfied, adding those to s's dependency list. It returns
// true iff at least one dependency remains outstanding after this call
// (spec.md: "returns true iff any dependency remains").
func (s *Synchronizer) Synchronize(refs ...Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		if ref.MustWait(s) {
			s.deps = append(s.deps, ref)
		}
	}
	return len(s.deps) > 0
}

// Signal is called by a Triggerable that just fired. It removes ref
// from the dependency list and, if that empties it, invokes Notify.
func (s *Synchronizer) Signal(ref Ref) {
	s.mu.Lock()
	fire := false
	for i, d := range s.deps {
		if d == ref {
			s.deps = append(s.deps[:i], s.deps[i+1:]...)
			break
		}
	}
	if len(s.deps) == 0 {
		fire = true
	}
	notify := s.Notify
	s.mu.Unlock()

	if fire && notify != nil {
		notify()
	}
}

// Pending returns the number of outstanding dependencies.
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deps)
}

// Wait blocks the calling goroutine until every ref in refs has
// signaled. It is for callers outside a task body — a Task's own body
// must suspend through its Context.Wait instead so the underlying
// worker thread is freed to run other tasks meanwhile, rather than
// blocking on this.
func Wait(refs ...Ref) {
	done := make(chan struct{})
	s := &Synchronizer{Notify: func() { close(done) }}
	if s.Synchronize(refs...) {
		<-done
	}
}
