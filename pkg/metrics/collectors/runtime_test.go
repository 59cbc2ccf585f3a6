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

package collectors

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/intel/go-numa-runtime/pkg/msource"
)

func TestRuntimeCollectorDescribeIsComplete(t *testing.T) {
	c := NewRuntimeCollector()
	if lint, err := testutil.CollectAndLint(c); err != nil {
		t.Fatalf("CollectAndLint failed: %v", err)
	} else if len(lint) != 0 {
		t.Fatalf("lint problems: %v", lint)
	}
}

// TestRuntimeCollectorReflectsMemSources creates a MemSource and checks
// that its accounting shows up as a labeled series on the next Collect.
func TestRuntimeCollectorReflectsMemSources(t *testing.T) {
	src, err := msource.Create(0, 1<<20, "collector-test-source", -1)
	if err != nil {
		t.Fatalf("msource.Create failed: %v", err)
	}
	defer src.Unref()

	c := NewRuntimeCollector()
	count := testutil.CollectAndCount(c, "msource_blocks", "msource_refs", "msource_arenas", "msource_total_bytes")
	if count == 0 {
		t.Fatal("expected at least one msource series after creating a source")
	}
}
