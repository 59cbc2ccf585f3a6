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
	"context"
	"time"

	"github.com/intel/go-numa-runtime/pkg/trigger"
)

// Context is what a running task body uses to reach the two
// suspension points spec.md §5 allows: Yield and Wait. It also carries
// the caller's context.Context for cancellation-aware I/O the body
// itself performs.
type Context struct {
	task *Task
	ctx  context.Context
}

// Deadline, Done, Err, Value delegate to the underlying context.Context,
// so a Context can be passed anywhere a context.Context is expected.
func (c *Context) Deadline() (time.Time, bool)        { return c.ctx.Deadline() }
func (c *Context) Done() <-chan struct{}              { return c.ctx.Done() }
func (c *Context) Err() error                         { return c.ctx.Err() }
func (c *Context) Value(key interface{}) interface{}  { return c.ctx.Value(key) }

// Yield suspends the task, re-enqueuing it in the scheduler's
// collection at threadID (spec.md §4.6's yield(thread_id)).
func (c *Context) Yield(threadID int) {
	c.task.yield(threadID)
}

// Wait suspends the task until every ref in refs has signaled, unless
// they all already have (spec.md §4.6's wait(refs)).
func (c *Context) Wait(refs ...trigger.Ref) {
	c.task.wait(refs...)
}

// Task returns the Context's owning Task.
func (c *Context) Task() *Task { return c.task }
