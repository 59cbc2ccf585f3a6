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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/go-numa-runtime/pkg/topology"
	"github.com/intel/go-numa-runtime/pkg/trigger"
)

func TestForEachThreadRunsOnceOnEveryWorker(t *testing.T) {
	node := topology.Current().LogicalNodesWithCPUs()[0]
	s := ForNode(node)
	s.SetThreadCount(1)
	defer s.SetThreadCount(0)

	var count atomic.Int32
	refs := ForEachThread([]topology.Node{node}, func() {
		count.Add(1)
	}, 0)

	require.Len(t, refs, s.ThreadCount())

	done := make(chan struct{})
	go func() { trigger.Wait(refs...); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ForEachThread tasks never completed")
	}

	require.EqualValues(t, s.ThreadCount(), count.Load())
}

func TestForEachThreadWithNoNodesReturnsNoRefs(t *testing.T) {
	require.Empty(t, ForEachThread(nil, func() {}, 0))
}

func TestPrefaultWorkerThreadStoragesRunsWithoutPanicking(t *testing.T) {
	node := topology.Current().LogicalNodesWithCPUs()[0]
	s := ForNode(node)
	s.SetThreadCount(1)
	defer s.SetThreadCount(0)

	done := make(chan struct{})
	go func() { PrefaultWorkerThreadStorages(4096); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PrefaultWorkerThreadStorages never returned")
	}
}
