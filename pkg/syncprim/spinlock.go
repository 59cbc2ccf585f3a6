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

package syncprim

import (
	"sync/atomic"
	"time"
)

const (
	spinMinBackoff = time.Nanosecond
	spinMaxBackoff = 2 * time.Microsecond
)

// SpinLock is spec.md §5's OS-thread-level spinlock: CAS-based, with
// exponential backoff capped at a small bound rather than a PAUSE
// instruction (unavailable without asm/cgo), matching "portable across
// platforms."
type SpinLock struct {
	state atomic.Bool
}

// Lock spins until the lock is free.
func (s *SpinLock) Lock() {
	if s.state.CompareAndSwap(false, true) {
		return
	}
	backoff := spinMinBackoff
	for !s.state.CompareAndSwap(false, true) {
		time.Sleep(backoff)
		if backoff < spinMaxBackoff {
			backoff *= 2
		}
	}
}

// TryLock attempts the CAS without spinning.
func (s *SpinLock) TryLock() bool {
	return s.state.CompareAndSwap(false, true)
}

// Unlock releases the lock.
func (s *SpinLock) Unlock() {
	s.state.Store(false)
}
