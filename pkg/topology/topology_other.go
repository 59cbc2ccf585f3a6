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

//go:build !linux

package topology

import (
	"fmt"
	"runtime"
)

// discoverPlatform on non-Linux platforms falls back to a single node
// covering every logical CPU: this runtime's NUMA-awareness is a Linux
// feature, matching the teacher's own topology_other.go stub.
func discoverPlatform(_ string) (*Topology, error) {
	t := newTopology()
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	t.addNode(0, cpus)
	return t, nil
}

func curCPU() (int, error) {
	return -1, fmt.Errorf("topology: current CPU unavailable on %s", runtime.GOOS)
}
