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

package tls

import (
	"github.com/intel/go-numa-runtime/pkg/msource"
	"github.com/intel/go-numa-runtime/pkg/place"
	"github.com/intel/go-numa-runtime/pkg/topology"
)

// Guard pushes a Place on construction and pops it on Close, the
// scoping mechanism spec.md §7 names as "the intended mechanism for
// scoping allocation context" ("PlaceGuard(n) pushes on construction,
// pops on destruction").
type Guard struct {
	popped bool
}

// GuardNode pushes a Place selecting node n.
func GuardNode(n topology.Node) *Guard {
	return guard(place.FromNode(n))
}

// GuardSource pushes a Place selecting MemSource m directly.
func GuardSource(m *msource.MemSource) *Guard {
	return guard(place.FromSource(m))
}

// GuardPlace pushes p as-is.
func GuardPlace(p place.Place) *Guard {
	return guard(p)
}

func guard(p place.Place) *Guard {
	Current().Push(p)
	return &Guard{}
}

// Close pops the place this guard pushed. Safe to call more than once.
func (g *Guard) Close() error {
	if g.popped {
		return nil
	}
	g.popped = true
	Current().Pop()
	return nil
}
