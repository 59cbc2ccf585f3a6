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

package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTask() *Task {
	return New(func(ctx *Context) {}, 0, 0)
}

func TestPutOwnThreadThenTryGet(t *testing.T) {
	c := NewCollection()
	c.Register(1)
	tk := newTestTask()
	c.Put(tk, 1)
	require.Same(t, tk, c.TryGet(1))
	require.Nil(t, c.TryGet(1))
}

func TestPutUnknownThreadGoesGlobal(t *testing.T) {
	c := NewCollection()
	tk := newTestTask()
	c.Put(tk, 99)
	require.Same(t, tk, c.TryGet(0))
}

func TestTryGetStealsFromOtherThread(t *testing.T) {
	c := NewCollection()
	c.Register(1)
	c.Register(2)
	tk := newTestTask()
	c.Put(tk, 1)
	require.Same(t, tk, c.TryGet(2))
}

func TestDeregisterDrainsToGlobal(t *testing.T) {
	c := NewCollection()
	c.Register(1)
	tk := newTestTask()
	c.Put(tk, 1)
	c.Deregister(1)
	require.Same(t, tk, c.TryGet(0))
}

func TestDomainPrefersHigherPriority(t *testing.T) {
	d := NewDomain()
	low := New(func(ctx *Context) {}, -5, 0)
	high := New(func(ctx *Context) {}, 10, 0)
	d.PutTask(low, -1)
	d.PutTask(high, -1)

	require.Same(t, high, d.TryGetTask(-1))
	require.Same(t, low, d.TryGetTask(-1))
	require.Nil(t, d.TryGetTask(-1))
}

func TestDomainAddThreadRegistersOnExistingSlots(t *testing.T) {
	d := NewDomain()
	tk := New(func(ctx *Context) {}, 3, 0)
	d.PutTask(tk, -1) // creates the slot for priority 3 before thread 7 is known
	d.AddThread(7)

	other := New(func(ctx *Context) {}, 3, 0)
	d.PutTask(other, 7)
	require.Same(t, other, d.TryGetTask(7))
}
