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

//go:build !linux

package msource

// mapOnNode falls back to a plain heap allocation on platforms without
// NUMA-aware mapping; node binding becomes a no-op.
func mapOnNode(physNode, size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmap(mem []byte) error {
	return nil
}
