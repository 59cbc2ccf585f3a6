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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func fourNodeTopology() *Topology {
	t := newTopology()
	t.addNode(0, []int{0, 1})
	t.addNode(1, []int{2, 3})
	t.addNode(2, []int{4, 5})
	t.addNode(3, []int{})
	t.setDistance(0, 1, 21)
	t.setDistance(0, 2, 31)
	t.setDistance(0, 3, 41)
	t.setDistance(1, 0, 21)
	t.setDistance(1, 2, 21)
	t.setDistance(1, 3, 31)
	return t
}

func TestParseNodeList(t *testing.T) {
	cases := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"0,2-4", []int{0, 2, 3, 4}, false},
		{"3,1,0", []int{3, 1, 0}, false},
		{"0-0", []int{0}, false},
		{"", nil, true},
		{"a,b", nil, true},
		{"2-1", nil, true},
	}
	for _, c := range cases {
		got, err := parseNodeList(c.in)
		if c.wantErr {
			require.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("%s: parseNodeList mismatch (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestNumaNodesEnvSelectsSubset(t *testing.T) {
	overrideEnv = map[string]string{"NUMA_NODES": "0,2"}
	defer func() { overrideEnv = nil }()

	topo := fourNodeTopology()
	require.NoError(t, topo.applyEnv())

	require.Equal(t, 2, topo.LogicalNodeCount())
	nodes := topo.LogicalNodes()
	require.Equal(t, 0, nodes[0].Physical)
	require.Equal(t, 2, nodes[1].Physical)
	require.Equal(t, -1, topo.PhysicalToLogical(1))
}

func TestNumaNodesEnvInvalidFallsBackToAll(t *testing.T) {
	overrideEnv = map[string]string{"NUMA_NODES": "not-a-list"}
	defer func() { overrideEnv = nil }()

	topo := fourNodeTopology()
	require.NoError(t, topo.applyEnv())
	require.Equal(t, 4, topo.LogicalNodeCount())
}

func TestLogicalNodesWithCPUsExcludesMemoryOnly(t *testing.T) {
	topo := fourNodeTopology()
	require.NoError(t, topo.applyEnv())
	require.Equal(t, 3, len(topo.LogicalNodesWithCPUs()))
}

func TestNumaThreadsCapsCores(t *testing.T) {
	overrideEnv = map[string]string{"NUMA_THREADS": "1"}
	defer func() { overrideEnv = nil }()

	topo := fourNodeTopology()
	require.NoError(t, topo.applyEnv())

	n := topo.NodeByLogical(0)
	require.Len(t, topo.CoresOnNode(n), 1)
}

func TestNearestNeighborsOrderedByDistance(t *testing.T) {
	topo := fourNodeTopology()
	require.NoError(t, topo.applyEnv())

	n0 := topo.NodeByLogical(0)
	neighbors := topo.NearestNeighbors(n0, 0, false)
	require.Len(t, neighbors, 3)
	require.Equal(t, 1, neighbors[0].Node.Physical)
	require.Equal(t, 21, neighbors[0].Distance)
	require.Equal(t, 2, neighbors[1].Node.Physical)
	// node 3 is the farthest from 0 (distance 41), so it sorts last.
	require.Equal(t, 3, neighbors[2].Node.Physical)
}

func TestNodeForCPU(t *testing.T) {
	topo := fourNodeTopology()
	require.NoError(t, topo.applyEnv())

	n := topo.NodeForCPU(3)
	require.Equal(t, 1, n.Physical)

	require.False(t, topo.NodeForCPU(99).Valid())
}
