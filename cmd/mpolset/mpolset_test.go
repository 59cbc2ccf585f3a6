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

package main

import (
	"reflect"
	"testing"
)

// These only check that parseNodeList/formatNodeList wire through to
// cpuset.Parse/cpuset.New correctly; cpuset's own range/dedup parsing is
// k8s.io/utils's concern, not this package's.
func TestParseNodeList(t *testing.T) {
	got, err := parseNodeList("0,2-4,7")
	if err != nil {
		t.Fatalf("parseNodeList failed: %v", err)
	}
	want := []int{0, 2, 3, 4, 7}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseNodeList = %v, want %v", got, want)
	}
}

func TestParseNodeListInvalid(t *testing.T) {
	if _, err := parseNodeList("not-a-node-list!!"); err == nil {
		t.Error("parseNodeList of garbage input: want error, got nil")
	}
}

func TestFormatNodeList(t *testing.T) {
	got := formatNodeList([]int{5, 1, 2, 0})
	want := "0-2,5"
	if got != want {
		t.Errorf("formatNodeList = %q, want %q", got, want)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	in := "0,2-4,7"
	nodes, err := parseNodeList(in)
	if err != nil {
		t.Fatalf("parseNodeList(%q) failed: %v", in, err)
	}
	if got := formatNodeList(nodes); got != in {
		t.Errorf("round trip of %q = %q, want %q", in, got, in)
	}
}
