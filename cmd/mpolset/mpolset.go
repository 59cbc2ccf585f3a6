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

// mpolset is an executable that sets the memory policy for a process
// and then executes the specified command.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"k8s.io/utils/cpuset"

	"github.com/intel/go-numa-runtime/pkg/log"
	"github.com/intel/go-numa-runtime/pkg/mempolicy"
)

var logger = log.Get("mpolset")

func modeToString(mode uint) string {
	flagsStr := ""
	for name, value := range mempolicy.Flags {
		if mode&value != 0 {
			flagsStr += "|"
			flagsStr += name
			mode &= ^value
		}
	}
	modeStr := mempolicy.ModeNames[mode]
	if modeStr == "" {
		modeStr = fmt.Sprintf("unknown mode %d)", mode)
	}
	return modeStr + flagsStr
}

// parseNodeList parses a comma-separated list of node numbers and
// dash-ranges, e.g. "0,1-3", the same syntax and library k8s.io/utils
// exposes as cpuset.Parse (a node mask has no order to preserve, unlike
// pkg/topology's NUMA_NODES, so the sorted-set semantics of a CPUSet fit
// here directly).
func parseNodeList(s string) ([]int, error) {
	cset, err := cpuset.Parse(s)
	if err != nil {
		return nil, err
	}
	return cset.List(), nil
}

// formatNodeList renders a node slice back as "0,1-3" style ranges.
func formatNodeList(nodes []int) string {
	return cpuset.New(nodes...).String()
}

func main() {
	var err error

	modeFlag := flag.String("mode", "", "Memory policy mode. Valid values are mode numbers and names, e.g. 3 or MPOL_INTERLEAVE. List available modes with -mode help")
	flagsFlag := flag.String("flags", "", "Comma-separated list of memory policy flags,e.g. MPOL_F_STATIC_NODES. List available flags with -flags help")
	nodesFlag := flag.String("nodes", "", "Comma-separated list of nodes, e.g. 0,1-3")
	ignoreErrorsFlag := flag.Bool("ignore-errors", false, "Ignore errors when setting memory policy")
	verboseFlag := flag.Bool("v", false, "Enable verbose logging")
	veryVerboseFlag := flag.Bool("vv", false, "Enable very verbose logging")
	flag.Parse()

	if *veryVerboseFlag || *verboseFlag {
		_ = log.Configure("debug")
	}

	execCmd := flag.Args()

	mode := uint(0)
	switch {
	case *modeFlag == "help":
		fmt.Printf("Valid memory policy modes:\n")
		for mode := 0; mode < len(mempolicy.ModeNames); mode++ {
			fmt.Printf("  %s (%d)\n", mempolicy.ModeNames[uint(mode)], mode)
		}
		os.Exit(0)
	case *modeFlag != "" && (*modeFlag)[0] >= '0' && (*modeFlag)[0] <= '9':
		imode, err := strconv.Atoi(*modeFlag)
		if err != nil {
			logger.Fatal("invalid -mode: %v", err)
		}
		mode = uint(imode)
	case *modeFlag != "":
		ok := false
		mode, ok = mempolicy.Modes[*modeFlag]
		if !ok {
			logger.Fatal("invalid -mode: %v", *modeFlag)
		}
	case len(execCmd) > 0:
		logger.Fatal("missing -mode")
	}

	nodes := []int{}
	if *nodesFlag != "" {
		nodes, err = parseNodeList(*nodesFlag)
		if err != nil {
			logger.Fatal("invalid -nodes: %v", err)
		}
	}

	if *flagsFlag != "" {
		if strings.Contains(*flagsFlag, "help") {
			fmt.Printf("Valid memory policy flags:\n")
			for flag := range mempolicy.Flags {
				fmt.Printf("  %s\n", flag)
			}
			os.Exit(0)
		}
		flags := strings.Split(*flagsFlag, ",")
		for _, flag := range flags {
			flagBit, ok := mempolicy.Flags[flag]
			if !ok {
				logger.Fatal("invalid -flags: %v", flag)
			}
			mode |= flagBit
		}
	}

	if len(execCmd) == 0 {
		mode, nodes, err := mempolicy.GetMempolicy()
		if err != nil {
			logger.Fatal("GetMempolicy failed: %v", err)
		}
		fmt.Printf("Current memory policy: %s (%d), nodes: %s\n", modeToString(mode), mode, formatNodeList(nodes))
		os.Exit(0)
	}

	logger.Debug("setting memory policy: %s (%d), nodes: %s", modeToString(mode), mode, formatNodeList(nodes))
	if err := mempolicy.SetMempolicy(mode, nodes); err != nil {
		logger.Error("SetMempolicy failed: %v", err)
		if ignoreErrorsFlag == nil || !*ignoreErrorsFlag {
			os.Exit(1)
		}
	}

	logger.Debug("executing: %v", execCmd)
	executable, err := exec.LookPath(execCmd[0])
	if err != nil {
		logger.Fatal("Looking for executable %q failed: %v", execCmd[0], err)
	}
	err = syscall.Exec(executable, execCmd, os.Environ())
	if err != nil {
		logger.Fatal("Executing %q failed: %v", executable, err)
	}
}
