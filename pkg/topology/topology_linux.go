// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package topology

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const sysNodeDir = "/sys/devices/system/node"

// discoverPlatform walks sysNodeDir (rooted at root, if non-empty) the
// way the teacher's pkg/sysfs enumerates devices: read the directory,
// filter by name prefix, parse the numeric suffix, and read the small
// per-node files underneath.
func discoverPlatform(root string) (*Topology, error) {
	t := newTopology()

	base := filepath.Join(root, sysNodeDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("no NUMA sysfs at %s, treating as single-node", base)
			return singleNodeFallback(t), nil
		}
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "node") {
			continue
		}
		physical, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "node"))
		if err != nil {
			continue
		}
		cpus, err := readCPUList(filepath.Join(base, e.Name(), "cpulist"))
		if err != nil {
			logger.Warn("node %d: %v", physical, err)
		}
		t.addNode(physical, cpus)
	}

	if len(t.byPhysical) == 0 {
		logger.Warn("no NUMA nodes discovered under %s, treating as single-node", base)
		return singleNodeFallback(t), nil
	}

	for physical := range t.byPhysical {
		distances, err := readDistances(filepath.Join(base, "node"+strconv.Itoa(physical), "distance"))
		if err != nil {
			logger.Warn("node %d: missing distance information: %v", physical, err)
			continue
		}
		ids := t.physicalIDs()
		for i, d := range distances {
			if i < len(ids) {
				t.setDistance(physical, ids[i], d)
			}
		}
	}

	return t, nil
}

func singleNodeFallback(t *Topology) *Topology {
	t.addNode(0, allCPUs())
	return t
}

func allCPUs() []int {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

func readCPUList(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseCPURangeList(strings.TrimSpace(string(data)))
}

// parseCPURangeList parses the same "a,b,c-d" syntax as NUMA_NODES; the
// kernel exposes CPU/node lists in this format under sysfs.
func parseCPURangeList(s string) ([]int, error) {
	ids, err := parseNodeList(s)
	if err != nil && s != "" {
		return nil, err
	}
	return ids, nil
}

func readDistances(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(data))
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		d, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// curCPU returns the CPU the calling OS thread is currently running on,
// via the raw getcpu(2) syscall (not wrapped by golang.org/x/sys/unix).
func curCPU() (int, error) {
	var cpu, node uint32
	_, _, errno := syscall.RawSyscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(cpu), nil
}
