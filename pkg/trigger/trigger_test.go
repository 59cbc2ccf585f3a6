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

package trigger

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTwoPhaseSignalsOnce(t *testing.T) {
	tp := &TwoPhase{}
	require.False(t, tp.Signaled())
	tp.SetSignaled()
	require.True(t, tp.Signaled())
	require.Panics(t, func() { tp.SetSignaled() })
}

func TestMustWaitAfterSignalReturnsFalse(t *testing.T) {
	tp := &TwoPhase{}
	tp.SetSignaled()
	require.False(t, tp.MustWait(&Synchronizer{}))
}

func TestSynchronizerFiresOnLastDependency(t *testing.T) {
	a, b := &TwoPhase{}, &TwoPhase{}
	var fired int32
	s := &Synchronizer{Notify: func() { atomic.AddInt32(&fired, 1) }}

	require.True(t, s.Synchronize(a, b))
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))

	a.SetSignaled()
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
	require.Equal(t, 1, s.Pending())

	b.SetSignaled()
	require.Equal(t, int32(1), atomic.LoadInt32(&fired))
	require.Equal(t, 0, s.Pending())
}

func TestSynchronizeWithNoDependenciesReturnsFalse(t *testing.T) {
	s := &Synchronizer{}
	require.False(t, s.Synchronize())
}

func TestSynchronizeSkipsAlreadySignaled(t *testing.T) {
	a := &TwoPhase{}
	a.SetSignaled()
	s := &Synchronizer{}
	require.False(t, s.Synchronize(a))
}

// TestNoLostWakeup exercises spec.md §4.5's ordering guarantee: a
// concurrent SetSignaled racing register_wait either enqueues-then-fires
// or observes already-signaled — never neither.
func TestNoLostWakeup(t *testing.T) {
	for i := 0; i < 500; i++ {
		tp := &TwoPhase{}
		var fired int32
		s := &Synchronizer{Notify: func() { atomic.AddInt32(&fired, 1) }}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); s.Synchronize(tp) }()
		go func() { defer wg.Done(); tp.SetSignaled() }()
		wg.Wait()

		require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, time.Millisecond)
	}
}
