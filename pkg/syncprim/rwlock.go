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

// writeFlag is the high bit of the RWLock word; the remaining bits are
// the reader count (spec.md §5).
const writeFlag uint32 = 1 << 31

// RWLock is spec.md §5's bit-flagged atomic-word reader/writer lock:
// readers spin while the write flag is set, writers set the flag then
// spin until the reader count reaches zero.
type RWLock struct {
	word atomic.Uint32
}

// RLock acquires a read lock.
func (l *RWLock) RLock() {
	backoff := spinMinBackoff
	for {
		w := l.word.Load()
		if w&writeFlag != 0 {
			time.Sleep(backoff)
			if backoff < spinMaxBackoff {
				backoff *= 2
			}
			continue
		}
		if l.word.CompareAndSwap(w, w+1) {
			return
		}
	}
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() {
	l.word.Add(^uint32(0)) // -1
}

// Lock acquires the write lock: set the flag, then wait for readers to drain.
func (l *RWLock) Lock() {
	backoff := spinMinBackoff
	for {
		w := l.word.Load()
		if w&writeFlag == 0 && l.word.CompareAndSwap(w, w|writeFlag) {
			break
		}
		time.Sleep(backoff)
		if backoff < spinMaxBackoff {
			backoff *= 2
		}
	}
	backoff = spinMinBackoff
	for l.word.Load()&^writeFlag != 0 {
		time.Sleep(backoff)
		if backoff < spinMaxBackoff {
			backoff *= 2
		}
	}
}

// Unlock releases the write lock.
func (l *RWLock) Unlock() {
	l.word.Store(0)
}
