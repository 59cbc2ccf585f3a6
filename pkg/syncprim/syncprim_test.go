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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/go-numa-runtime/pkg/scheduler"
	"github.com/intel/go-numa-runtime/pkg/task"
	"github.com/intel/go-numa-runtime/pkg/topology"
)

func TestMutexTryLock(t *testing.T) {
	var m Mutex
	require.True(t, m.TryLock())
	require.False(t, m.TryLock())
	m.Unlock()
	require.True(t, m.TryLock())
}

func TestSpinLockMutualExclusion(t *testing.T) {
	var lock SpinLock
	var inCritical atomic.Bool
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Lock()
			defer lock.Unlock()
			if !inCritical.CompareAndSwap(false, true) {
				t.Error("overlapping critical sections")
			}
			counter++
			inCritical.Store(false)
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestRWLockExcludesWriterFromReaders(t *testing.T) {
	var lock RWLock
	lock.RLock()

	acquired := make(chan struct{})
	go func() {
		lock.Lock()
		close(acquired)
		lock.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired the lock while a reader held it")
	case <-time.After(20 * time.Millisecond):
	}
	lock.RUnlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock after the reader released it")
	}
}

func TestRWLockAllowsConcurrentReaders(t *testing.T) {
	var lock RWLock
	lock.RLock()
	defer lock.RUnlock()

	done := make(chan struct{})
	go func() {
		lock.RLock()
		lock.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind the first")
	}
}

// TestMutexExcludesConcurrentTasks is spec.md §8 scenario 3: spawn a
// batch of tasks across several workers, each taking the same
// fiber-aware Mutex, incrementing a shared counter, and releasing.
// Expected: the final counter matches the task count and an atomic
// sentinel never observes two tasks inside the critical section at
// once.
func TestMutexExcludesConcurrentTasks(t *testing.T) {
	node := topology.Current().LogicalNodes()[0]
	cpus := topology.Current().CoresOnNode(node)
	workers := len(cpus)
	if workers > 4 {
		workers = 4
	}

	sched := scheduler.ForNode(node)
	sched.SetThreadCount(workers)
	defer sched.SetThreadCount(0)

	const numTasks = 100
	var mu Mutex
	var counter int
	var inCritical atomic.Bool
	var overlapped atomic.Bool
	var wg sync.WaitGroup
	wg.Add(numTasks)

	for i := 0; i < numTasks; i++ {
		tk := task.New(func(ctx *task.Context) {
			defer wg.Done()
			mu.Lock(ctx)
			defer mu.Unlock()
			if !inCritical.CompareAndSwap(false, true) {
				overlapped.Store(true)
			}
			counter++
			inCritical.Store(false)
		}, 0, 0)
		scheduler.SpawnTask(sched, tk)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all tasks completed")
	}

	require.Equal(t, numTasks, counter)
	require.False(t, overlapped.Load())
}
