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

// Package place defines the allocation context spec.md §3 calls a
// Place: a MemSource and/or a Node, at least one of which is set. It has
// no dependency on the thread-local stack that routes allocations
// through one (pkg/tls) so the two packages don't import each other.
package place

import (
	"github.com/intel/go-numa-runtime/pkg/msource"
	"github.com/intel/go-numa-runtime/pkg/topology"
)

// Place is spec.md §3's allocation context: a MemSource and/or a Node.
type Place struct {
	MSource *msource.MemSource
	Node    *topology.Node
}

// FromNode builds a Place that selects a node, resolved to that node's
// shared per-node MemSource when it routes an allocation.
func FromNode(n topology.Node) Place {
	return Place{Node: &n}
}

// FromSource builds a Place that selects an explicit MemSource directly.
func FromSource(m *msource.MemSource) Place {
	return Place{MSource: m}
}

// Valid reports whether at least one of MSource/Node is set.
func (p Place) Valid() bool {
	return p.MSource != nil || p.Node != nil
}

// GetNode returns p's node: MSource's physical node if set, else Node.
func (p Place) GetNode() topology.Node {
	if p.MSource != nil {
		return topology.Node{Physical: p.MSource.PhysicalNode(), Logical: -1}
	}
	if p.Node != nil {
		return *p.Node
	}
	return topology.Invalid
}

// Source resolves p to the MemSource that should serve the next
// allocation: MSource directly if set, otherwise the shared per-node
// source for Node.
func (p Place) Source() *msource.MemSource {
	if p.MSource != nil {
		return p.MSource
	}
	if p.Node != nil {
		return msource.ForNode(p.Node.Physical)
	}
	return nil
}
