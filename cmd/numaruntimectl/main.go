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

// numaruntimectl is a one-shot diagnostic tool: it prints the discovered
// NUMA topology and, once a runtime has spun up schedulers and memory
// sources in this process's lifetime, their live stats.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/intel/go-numa-runtime/pkg/log"
	"github.com/intel/go-numa-runtime/pkg/msource"
	"github.com/intel/go-numa-runtime/pkg/scheduler"
	"github.com/intel/go-numa-runtime/pkg/topology"
	"github.com/intel/go-numa-runtime/pkg/version"
)

func printTopology() {
	topo := topology.Current()
	fmt.Printf("logical nodes: %d\n", topo.LogicalNodeCount())
	for _, n := range topo.LogicalNodes() {
		cpus := topo.CoresOnNode(n)
		fmt.Printf("  node %d (physical %d): %d cpus %v\n", n.Logical, n.Physical, len(cpus), cpus)
	}
}

func printSchedulers() {
	scheds := scheduler.AllSchedulers()
	if len(scheds) == 0 {
		fmt.Println("schedulers: none started in this process")
		return
	}
	fmt.Println("schedulers:")
	for _, s := range scheds {
		fmt.Printf("  node %d: %d worker threads, %d sleeping\n", s.Node().Physical, s.ThreadCount(), s.Sleeping())
	}
}

func printMemSources() {
	sources := msource.AllSources()
	if len(sources) == 0 {
		fmt.Println("memory sources: none created in this process")
		return
	}
	fmt.Println("memory sources:")
	for _, src := range sources {
		st := src.Stats()
		fmt.Printf("  %-16s node %d  size %d  blocks %d  refs %d  arenas %d\n",
			st.Description, st.PhysicalNode, st.TotalSize, st.Blocks, st.Refs, st.ArenaCount)
	}
}

func main() {
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	verboseFlag := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	if *versionFlag {
		version.PrintVersionInfo()
		os.Exit(0)
	}
	if *verboseFlag {
		_ = log.Configure("debug")
	}

	printTopology()
	printSchedulers()
	printMemSources()
}
