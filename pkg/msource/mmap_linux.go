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

package msource

import (
	"golang.org/x/sys/unix"

	"github.com/intel/go-numa-runtime/pkg/mempolicy"
)

// mapOnNode obtains an anonymous private mapping of size bytes bound to
// physNode, following the same set_mempolicy-then-mmap sequence libnuma's
// numa_alloc_onnode uses: temporarily force MPOL_BIND to physNode for
// the calling thread, map, then restore whatever policy was in effect.
// runtime.LockOSThread is the caller's responsibility for the duration.
func mapOnNode(physNode, size int) ([]byte, error) {
	prevMode, prevNodes, gerr := mempolicy.GetMempolicy()

	if err := mempolicy.SetMempolicy(mempolicy.MPOL_BIND, []int{physNode}); err != nil {
		logger.Warn("set_mempolicy(MPOL_BIND, %d) failed, mapping without node binding: %v", physNode, err)
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)

	if gerr == nil {
		if rerr := mempolicy.SetMempolicy(prevMode, prevNodes); rerr != nil {
			logger.Warn("failed to restore mempolicy after mapping: %v", rerr)
		}
	}

	if err != nil {
		return nil, err
	}
	return mem, nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}
