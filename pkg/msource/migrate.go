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

package msource

import (
	"context"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/go-numa-runtime/pkg/mempolicy"
	"github.com/intel/go-numa-runtime/pkg/tracing"
)

const maxMigrateRetries = 10

// Migrate moves every backing page of this source's arenas and mmap
// blocks to dstPhys, per spec.md §4.3: takes opLock exclusively
// (blocking concurrent Alloc for the duration) and then the arena-list
// and mmap-list locks, collects pages up to each arena's top-chunk
// extent, issues one bulk move_pages call, retries EBUSY pages up to 10
// times, logs every other per-page failure, and updates the source's
// physical node whether or not some pages failed to move.
func (m *MemSource) Migrate(dstPhys int) error {
	_, endSpan := tracing.Span(context.Background(), "msource.migrate")
	defer endSpan()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	m.arenaMu.Lock()
	defer m.arenaMu.Unlock()
	m.mmapMu.Lock()
	defer m.mmapMu.Unlock()

	var pages []uintptr
	for a := m.activeArena; a != nil; a = a.next {
		extent := a.TopChunkExtent()
		if extent == 0 {
			continue
		}
		pages = append(pages, pagesOf(a.mem[:extent])...)
	}
	for b := m.mmapHead; b != nil; b = b.next {
		pages = append(pages, pagesOf(b.mem)...)
	}
	if len(pages) == 0 {
		m.physicalNode.Store(int32(dstPhys))
		return nil
	}

	var errs error
	for attempt := 0; attempt <= maxMigrateRetries && len(pages) > 0; attempt++ {
		status, err := mempolicy.MovePages(pages, dstPhys)
		if err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		var retry []uintptr
		for i, s := range status {
			if s < 0 && syscall.Errno(-s) == syscall.EBUSY {
				retry = append(retry, pages[i])
			} else if s < 0 {
				perr := errorForStatus(pages[i], s)
				logger.Warn("msource %q: %v", m.description, perr)
				errs = multierror.Append(errs, perr)
			}
		}
		if len(retry) > 0 {
			logger.Debug("msource %q: %d pages busy after attempt %d", m.description, len(retry), attempt+1)
		}
		pages = retry
	}
	if len(pages) > 0 {
		errs = multierror.Append(errs, errBusyExhausted(len(pages)))
	}

	m.physicalNode.Store(int32(dstPhys))
	return errs
}

func pagesOf(mem []byte) []uintptr {
	if len(mem) == 0 {
		return nil
	}
	base := addrOf(mem)
	n := (len(mem) + pageSize - 1) / pageSize
	pages := make([]uintptr, n)
	for i := 0; i < n; i++ {
		pages[i] = base + uintptr(i*pageSize)
	}
	return pages
}

type migrateError struct {
	page   uintptr
	status int32
}

func (e migrateError) Error() string {
	return "move_pages: page failed with status " + syscall.Errno(-e.status).Error()
}

func errorForStatus(page uintptr, status int32) error {
	return migrateError{page: page, status: status}
}

type busyExhaustedError struct{ remaining int }

func (e busyExhaustedError) Error() string {
	return "move_pages: gave up on pages still busy after retries"
}

func errBusyExhausted(remaining int) error {
	return busyExhaustedError{remaining: remaining}
}
