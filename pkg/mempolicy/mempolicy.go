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

// mempolicy package provides low-level functions to set and get default
// memory policy for a process using the Linux kernel's set_mempolicy,
// get_mempolicy and move_pages syscalls.
package mempolicy

import (
	"fmt"
	"syscall"
	"unsafe"
)

const (
	MPOL_DEFAULT = iota
	MPOL_PREFERRED
	MPOL_BIND
	MPOL_INTERLEAVE
	MPOL_LOCAL
	MPOL_PREFERRED_MANY
	MPOL_WEIGHTED_INTERLEAVE

	MPOL_F_STATIC_NODES   uint = (1 << 15)
	MPOL_F_RELATIVE_NODES uint = (1 << 14)
	MPOL_F_NUMA_BALANCING uint = (1 << 13)

	SYS_SET_MEMPOLICY = 238
	SYS_GET_MEMPOLICY = 239
	SYS_MOVE_PAGES    = 279

	MAX_NUMA_NODES = 1024

	// MPOL_MF_MOVE requests that move_pages actually move pages that are
	// not already on the requested node, instead of only reporting them.
	MPOL_MF_MOVE = 1 << 1
)

var Modes = map[string]uint{
	"MPOL_DEFAULT":             MPOL_DEFAULT,
	"MPOL_PREFERRED":           MPOL_PREFERRED,
	"MPOL_BIND":                MPOL_BIND,
	"MPOL_INTERLEAVE":          MPOL_INTERLEAVE,
	"MPOL_LOCAL":               MPOL_LOCAL,
	"MPOL_PREFERRED_MANY":      MPOL_PREFERRED_MANY,
	"MPOL_WEIGHTED_INTERLEAVE": MPOL_WEIGHTED_INTERLEAVE,
}

var Flags = map[string]uint{
	"MPOL_F_STATIC_NODES":   MPOL_F_STATIC_NODES,
	"MPOL_F_RELATIVE_NODES": MPOL_F_RELATIVE_NODES,
	"MPOL_F_NUMA_BALANCING": MPOL_F_NUMA_BALANCING,
}

var ModeNames map[uint]string

var FlagNames map[uint]string

func nodesToMask(nodes []int) ([]uint64, error) {
	maxNode := 0
	for _, node := range nodes {
		if node > maxNode {
			maxNode = node
		}
		if node < 0 {
			return nil, fmt.Errorf("node %d out of range", node)
		}
	}
	if maxNode >= MAX_NUMA_NODES {
		return nil, fmt.Errorf("node %d out of range", maxNode)
	}
	mask := make([]uint64, (maxNode/64)+1)
	for _, node := range nodes {
		mask[node/64] |= (1 << (node % 64))
	}
	return mask, nil
}

func maskToNodes(mask []uint64) []int {
	nodes := make([]int, 0)
	for i := 0; i < MAX_NUMA_NODES; i++ {
		if (mask[i/64] & (1 << (i % 64))) != 0 {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

// SetMempolicy calls set_mempolicy syscall
func SetMempolicy(mpol uint, nodes []int) error {
	nodeMask, err := nodesToMask(nodes)
	if err != nil {
		return err
	}
	nodeMaskPtr := unsafe.Pointer(&nodeMask[0])
	_, _, errno := syscall.Syscall(SYS_SET_MEMPOLICY, uintptr(mpol), uintptr(nodeMaskPtr), uintptr(len(nodeMask)*64))
	if errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}

// GetMempolicy calls get_mempolicy syscall
func GetMempolicy() (uint, []int, error) {
	var mpol uint
	maxNode := uint64(MAX_NUMA_NODES)
	nodeMask := make([]uint64, maxNode/64)
	nodeMaskPtr := unsafe.Pointer(&nodeMask[0])
	_, _, errno := syscall.Syscall(SYS_GET_MEMPOLICY, uintptr(unsafe.Pointer(&mpol)), uintptr(nodeMaskPtr), uintptr(maxNode))
	if errno != 0 {
		return 0, []int{}, syscall.Errno(errno)
	}
	return mpol, maskToNodes(nodeMask), nil
}

// MovePages calls the move_pages(2) syscall for the calling process,
// requesting that each address in pages be migrated to dstNode. status
// receives the per-page kernel result (0 on success, a negative errno
// otherwise, mirroring move_pages(2)'s own per-page status codes) and
// has the same length as pages on return.
//
// MemSource.Migrate (spec.md §4.3) uses this to move every backing page
// of a source's arenas and mmap blocks in one bulk call.
func MovePages(pages []uintptr, dstNode int) (status []int32, err error) {
	if len(pages) == 0 {
		return nil, nil
	}
	count := len(pages)
	nodes := make([]int32, count)
	status = make([]int32, count)
	for i := range nodes {
		nodes[i] = int32(dstNode)
	}
	_, _, errno := syscall.Syscall6(
		SYS_MOVE_PAGES,
		0, // pid 0 == calling process
		uintptr(count),
		uintptr(unsafe.Pointer(&pages[0])),
		uintptr(unsafe.Pointer(&nodes[0])),
		uintptr(unsafe.Pointer(&status[0])),
		uintptr(MPOL_MF_MOVE),
	)
	if errno != 0 {
		return status, syscall.Errno(errno)
	}
	return status, nil
}

func init() {
	ModeNames = make(map[uint]string)
	for k, v := range Modes {
		ModeNames[v] = k
	}
	FlagNames = make(map[uint]string)
	for k, v := range Flags {
		FlagNames[v] = k
	}
}
