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

//go:build linux

// Package cpupin restricts the calling OS thread's CPU affinity mask to
// a single CPU. It is a leaf package so that both pkg/scheduler (pinning
// its dispatch loops) and pkg/task (pinning a task body's own goroutine,
// spec.md §4.10/§1's requirement that task computation itself runs on
// the worker's pinned CPU, not just the dispatch loop around it) can use
// it without pkg/task importing pkg/scheduler.
package cpupin

import "golang.org/x/sys/unix"

// Pin restricts the calling OS thread's affinity mask to cpu. Caller
// must have called runtime.LockOSThread first.
func Pin(cpu int) error {
	var set unix.CPUSet
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
