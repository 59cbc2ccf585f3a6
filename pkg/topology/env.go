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

package topology

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	envNumaNodes   = "NUMA_NODES"
	envNumaThreads = "NUMA_THREADS"
)

// overrideEnv lets tests inject values without touching the real
// process environment.
var overrideEnv map[string]string

func lookupEnv(name string) (string, bool) {
	if overrideEnv != nil {
		if v, ok := overrideEnv[name]; ok {
			return v, true
		}
	}
	return os.LookupEnv(name)
}

// parseNodeList parses the "a,b,c-d" syntax spec.md §4.1 and §6 define
// for NUMA_NODES, preserving the order given (later logical IDs follow
// the order entries appear in, ranges expand ascending).
func parseNodeList(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty node list")
	}

	var order []int
	seen := map[int]bool{}
	add := func(id int) error {
		if id < 0 {
			return fmt.Errorf("negative node id %d", id)
		}
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
		return nil
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if idx := strings.IndexByte(entry, '-'); idx > 0 {
			lo, err := strconv.Atoi(strings.TrimSpace(entry[:idx]))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", entry, err)
			}
			hi, err := strconv.Atoi(strings.TrimSpace(entry[idx+1:]))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", entry, err)
			}
			if hi < lo {
				return nil, fmt.Errorf("invalid range %q: end before start", entry)
			}
			for id := lo; id <= hi; id++ {
				if err := add(id); err != nil {
					return nil, err
				}
			}
			continue
		}
		id, err := strconv.Atoi(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid node id %q: %w", entry, err)
		}
		if err := add(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
