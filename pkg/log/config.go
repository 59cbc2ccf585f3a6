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

package log

import (
	"os"
	"strings"

	"github.com/intel/go-numa-runtime/pkg/log/klogcontrol"
)

// klog verbosity control, bridged to NUMA_DEBUG.
var klogctl = klogcontrol.Get()

// Configure applies a NUMA_DEBUG-style level string and reconfigures the
// klog verbosity bridge to match. Called at init from the environment,
// and callable again by an embedder that wants to change the level at
// runtime.
func Configure(levelStr string) error {
	lvl, err := ParseLevel(strings.TrimSpace(levelStr))
	if err != nil {
		return err
	}
	SetLevel(lvl)
	return klogctl.SetLevel(lvl)
}

func init() {
	if v, ok := os.LookupEnv(numaDebugEnvVar); ok {
		if err := Configure(v); err != nil {
			Default().Warn("failed to apply %s=%q: %v", numaDebugEnvVar, v, err)
		}
	}
}
