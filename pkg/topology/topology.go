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

// Package topology discovers physical NUMA nodes, the CPUs on each, and
// the pairwise inter-node distances, and derives the application-visible
// logical node numbering spec.md §4.1 describes (a dense prefix of
// 0..k-1, controlled by the NUMA_NODES environment variable).
package topology

import (
	"sort"
	"strconv"
	"strings"

	"github.com/intel/go-numa-runtime/pkg/config"
	"github.com/intel/go-numa-runtime/pkg/log"
)

var logger = log.Get("topology")

// to mock in tests
var sysRoot = ""

// SetSysRoot sets the sysfs root directory to use, mainly for tests.
func SetSysRoot(root string) {
	sysRoot = strings.TrimSuffix(root, "/")
}

// Node is a pair of a physical (OS-assigned, possibly sparse) node ID
// and a logical (dense, application-visible) node ID, per spec.md §3.
type Node struct {
	Physical int
	Logical  int
}

// Valid reports whether both IDs are non-negative.
func (n Node) Valid() bool {
	return n.Physical >= 0 && n.Logical >= 0
}

// Equal reports whether both nodes have matching physical and logical IDs.
func (n Node) Equal(o Node) bool {
	return n.Physical == o.Physical && n.Logical == o.Logical
}

// Invalid is the sentinel returned when a lookup fails.
var Invalid = Node{Physical: -1, Logical: -1}

// nodeInfo is the internal record kept per discovered physical node.
type nodeInfo struct {
	node      Node
	cpus      []int // sorted ascending
	distances map[int]int
}

// Topology holds the full discovered/derived topology state.
type Topology struct {
	byPhysical      map[int]*nodeInfo
	cpuToPhysical   map[int]int
	logical         []Node // sorted by Logical
	logicalWithCPUs []Node
	threadCap       int // NUMA_THREADS cap, 0 == unlimited
}

var current *Topology

// Discover probes the system (or sysRoot, if set) and builds the
// process-wide Topology, applying NUMA_NODES/NUMA_THREADS from the
// environment. It is safe to call more than once; the last call wins.
func Discover() (*Topology, error) {
	t, err := discoverPlatform(sysRoot)
	if err != nil {
		return nil, err
	}
	if err := t.applyEnv(); err != nil {
		return nil, err
	}
	current = t
	return t, nil
}

// Current returns the process-wide Topology, discovering it on first use.
func Current() *Topology {
	if current == nil {
		if _, err := Discover(); err != nil {
			logger.Error("topology discovery failed: %v", err)
			current = newTopology()
			current.applyEnv()
		}
	}
	return current
}

// newTopology builds an empty Topology, used by both the platform
// prober and tests that construct fake topologies directly.
func newTopology() *Topology {
	return &Topology{
		byPhysical:    map[int]*nodeInfo{},
		cpuToPhysical: map[int]int{},
	}
}

// addNode registers a discovered physical node and its CPU list.
func (t *Topology) addNode(physical int, cpus []int) {
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)
	t.byPhysical[physical] = &nodeInfo{
		node:      Node{Physical: physical, Logical: -1},
		cpus:      sorted,
		distances: map[int]int{},
	}
	for _, cpu := range sorted {
		t.cpuToPhysical[cpu] = physical
	}
}

// setDistance records the distance from physical node a to physical node b.
func (t *Topology) setDistance(a, b, dist int) {
	if info, ok := t.byPhysical[a]; ok {
		info.distances[b] = dist
	}
}

// physicalIDs returns every discovered physical node ID, ascending.
func (t *Topology) physicalIDs() []int {
	ids := make([]int, 0, len(t.byPhysical))
	for id := range t.byPhysical {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// finalizeLogical assigns Logical IDs to the given ordered list of
// physical IDs (0..k-1 in the order given) and rebuilds derived
// indices. Physical IDs not present in the topology are skipped with a
// warning.
func (t *Topology) finalizeLogical(order []int) {
	t.logical = t.logical[:0]
	t.logicalWithCPUs = t.logicalWithCPUs[:0]

	logicalID := 0
	for _, phys := range order {
		info, ok := t.byPhysical[phys]
		if !ok {
			logger.Warn("NUMA_NODES names unknown physical node %d, skipping", phys)
			continue
		}
		info.node.Logical = logicalID
		t.logical = append(t.logical, info.node)
		if len(info.cpus) > 0 {
			t.logicalWithCPUs = append(t.logicalWithCPUs, info.node)
		}
		logicalID++
	}
}

// applyEnv applies NUMA_NODES and NUMA_THREADS from the environment.
func (t *Topology) applyEnv() error {
	order := t.physicalIDs()

	nodesSpec, haveNodesSpec := lookupEnv(envNumaNodes)
	if !haveNodesSpec {
		if fromFile := config.Get().Nodes; fromFile != "" {
			nodesSpec, haveNodesSpec = fromFile, true
		}
	}
	if haveNodesSpec {
		parsed, err := parseNodeList(nodesSpec)
		if err != nil {
			logger.Warn("invalid %s=%q (%v), using all nodes", envNumaNodes, nodesSpec, err)
		} else if len(parsed) == 0 {
			logger.Warn("%s=%q selects no nodes, using all nodes", envNumaNodes, nodesSpec)
		} else {
			order = parsed
		}
	}
	t.finalizeLogical(order)

	t.threadCap = 0
	if spec, ok := lookupEnv(envNumaThreads); ok {
		n, err := strconv.Atoi(strings.TrimSpace(spec))
		if err != nil || n <= 0 {
			logger.Warn("invalid %s=%q, using all hw threads", envNumaThreads, spec)
		} else {
			t.threadCap = n
		}
	} else if n := config.Get().Threads; n > 0 {
		t.threadCap = n
	}
	return nil
}

// LogicalNodes returns every logical node, sorted by Logical ID (spec.md
// §8: "logical IDs are a contiguous prefix of the non-negative integers").
func (t *Topology) LogicalNodes() []Node {
	out := make([]Node, len(t.logical))
	copy(out, t.logical)
	return out
}

// LogicalNodesWithCPUs excludes memory-only nodes.
func (t *Topology) LogicalNodesWithCPUs() []Node {
	out := make([]Node, len(t.logicalWithCPUs))
	copy(out, t.logicalWithCPUs)
	return out
}

// LogicalNodeCount returns len(LogicalNodes()).
func (t *Topology) LogicalNodeCount() int {
	return len(t.logical)
}

// PhysicalToLogical returns the logical ID for a physical node, or -1 if
// that physical node is not part of the active (NUMA_NODES-filtered) set.
func (t *Topology) PhysicalToLogical(physical int) int {
	for _, n := range t.logical {
		if n.Physical == physical {
			return n.Logical
		}
	}
	return -1
}

// NodeByLogical returns the Node with the given logical ID, or Invalid.
func (t *Topology) NodeByLogical(logical int) Node {
	for _, n := range t.logical {
		if n.Logical == logical {
			return n
		}
	}
	return Invalid
}

// NodeForCPU returns the (logical) Node owning the given CPU, or Invalid
// if the CPU is unknown or its node was excluded by NUMA_NODES.
func (t *Topology) NodeForCPU(cpu int) Node {
	phys, ok := t.cpuToPhysical[cpu]
	if !ok {
		return Invalid
	}
	logical := t.PhysicalToLogical(phys)
	if logical < 0 {
		return Invalid
	}
	return Node{Physical: phys, Logical: logical}
}

// CoresOnNode returns the CPU list of the given logical node, capped by
// NUMA_THREADS (spec.md §4.1: min(hw_threads(node), NUMA_THREADS)).
func (t *Topology) CoresOnNode(n Node) []int {
	info, ok := t.byPhysical[n.Physical]
	if !ok {
		return nil
	}
	cpus := info.cpus
	if t.threadCap > 0 && len(cpus) > t.threadCap {
		cpus = cpus[:t.threadCap]
	}
	out := make([]int, len(cpus))
	copy(out, cpus)
	return out
}

// NodeIDs returns every discovered physical node ID, sorted ascending
// (possibly sparse), independent of the NUMA_NODES filter.
func (t *Topology) NodeIDs() []int {
	return t.physicalIDs()
}

// CurrentCPU returns the CPU the calling OS thread is currently running on.
func (t *Topology) CurrentCPU() (int, error) {
	return curCPU()
}

// CurrentNode returns the Node of the calling OS thread's current CPU,
// or Invalid if that cannot be determined (spec.md §6: Node::current()).
func (t *Topology) CurrentNode() Node {
	cpu, err := curCPU()
	if err != nil {
		logger.Warn("could not determine current CPU: %v", err)
		return Invalid
	}
	return t.NodeForCPU(cpu)
}

// ForCPU is an alias of NodeForCPU matching spec.md §6's Node::for_cpu.
func (t *Topology) ForCPU(cpu int) Node {
	return t.NodeForCPU(cpu)
}

// Neighbor pairs a logical node with its distance from a reference node.
type Neighbor struct {
	Distance int
	Node     Node
}

// NearestNeighbors returns up to max nodes ordered by ascending distance
// from n (ties broken by ascending logical ID), optionally restricted to
// nodes that have CPUs. A max <= 0 means unbounded. Missing distance
// entries sort last (spec.md §4.1: "neighbor ordering becomes undefined
// for missing entries"); this implementation treats a missing distance
// as +Inf so it never displaces a known-distance neighbor, without
// claiming any specific tie order among the missing entries themselves.
func (t *Topology) NearestNeighbors(n Node, max int, withCPUsOnly bool) []Neighbor {
	pool := t.logical
	if withCPUsOnly {
		pool = t.logicalWithCPUs
	}
	info, ok := t.byPhysical[n.Physical]

	neighbors := make([]Neighbor, 0, len(pool))
	for _, candidate := range pool {
		if candidate.Equal(n) {
			continue
		}
		dist := int(^uint(0) >> 1) // "infinite" == missing
		if ok {
			if d, have := info.distances[candidate.Physical]; have {
				dist = d
			} else {
				logger.Warn("no distance from node %d to node %d", n.Physical, candidate.Physical)
			}
		}
		neighbors = append(neighbors, Neighbor{Distance: dist, Node: candidate})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Node.Logical < neighbors[j].Node.Logical
	})

	if max > 0 && len(neighbors) > max {
		neighbors = neighbors[:max]
	}
	return neighbors
}
