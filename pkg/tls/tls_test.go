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

package tls

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/go-numa-runtime/pkg/msource"
	"github.com/intel/go-numa-runtime/pkg/place"
	"github.com/intel/go-numa-runtime/pkg/topology"
)

func TestMain(m *testing.M) {
	runtime.LockOSThread()
	m.Run()
}

func TestCurrMSourceFallsBackToThreadSource(t *testing.T) {
	tl := Current()
	require.NotNil(t, tl.CurrMSource())
	require.Empty(t, tl.PopAll())
}

func TestPushPopUpdatesCache(t *testing.T) {
	tl := Current()
	src, err := msource.Create(0, 1<<20, "pushed", -1)
	require.NoError(t, err)

	tl.Push(place.FromSource(src))
	require.Same(t, src, tl.CurrMSource())

	p, ok := tl.Pop()
	require.True(t, ok)
	require.Same(t, src, p.MSource)
	require.NotSame(t, src, tl.CurrMSource())
}

func TestPushAllPopAllRoundTrips(t *testing.T) {
	tl := Current()
	src, err := msource.Create(0, 1<<20, "saved", -1)
	require.NoError(t, err)

	tl.Push(place.FromSource(src))
	saved := tl.PopAll()
	require.Len(t, saved, 1)
	require.NotSame(t, src, tl.CurrMSource()) // back to thread source, not the pushed one

	tl.PushAll(saved)
	require.Same(t, src, tl.CurrMSource())
	tl.PopAll()
}

func TestGuardPushesAndPops(t *testing.T) {
	tl := Current()
	before := tl.CurrMSource()

	src, err := msource.Create(0, 1<<20, "guarded", -1)
	require.NoError(t, err)
	g := GuardSource(src)
	require.Same(t, src, tl.CurrMSource())

	require.NoError(t, g.Close())
	require.Same(t, before, tl.CurrMSource())
	require.NoError(t, g.Close()) // idempotent
}

func TestPushInvalidPlaceIsRejected(t *testing.T) {
	tl := Current()
	before := tl.CurrMSource()
	tl.Push(place.Place{})
	require.Same(t, before, tl.CurrMSource())
}

func TestNodeIsPopulated(t *testing.T) {
	tl := Current()
	require.True(t, tl.Node().Valid() || tl.Node() == topology.Invalid)
}

func TestReleaseRemovesRecordAndUnrefsSource(t *testing.T) {
	tl := Current()
	src := tl.threadSource
	require.NotNil(t, src)
	require.EqualValues(t, 1, src.Refs())

	tid := tl.tid
	Release()

	registryMu.Lock()
	_, stillRegistered := byTid[tid]
	registryMu.Unlock()
	require.False(t, stillRegistered, "Release left the TLS record in byTid")
	require.Zero(t, src.Refs(), "Release did not unref the thread_msource")

	// Current() must still work afterwards, lazily rebuilding a fresh
	// record on the same OS thread.
	require.NotNil(t, Current().CurrMSource())
}
