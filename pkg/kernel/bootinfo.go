// Copyright 2026 The gVisor Authors.
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

package kernel

import (
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/binary"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/physmem"
)

// SlotRegion is a half-open range of root CNode slots.
type SlotRegion struct {
	Start uint64 `json:"start" yaml:"start"`
	End   uint64 `json:"end" yaml:"end"`
}

// Len returns the number of slots in the range.
func (r SlotRegion) Len() uint64 {
	return r.End - r.Start
}

// UntypedDesc describes one untyped capability.
type UntypedDesc struct {
	Paddr    uint64   `json:"paddr" yaml:"paddr"`
	SizeBits uint8    `json:"size_bits" yaml:"size_bits"`
	IsDevice uint8    `json:"is_device" yaml:"is_device"`
	Padding  [6]uint8 `json:"-" yaml:"-"`
}

// BootInfo is the layout of the boot-info frame handed to the initial
// thread.
type BootInfo struct {
	ExtraLen                uint64                              `json:"extra_len" yaml:"extra_len"`
	NodeID                  uint64                              `json:"node_id" yaml:"node_id"`
	NumNodes                uint64                              `json:"num_nodes" yaml:"num_nodes"`
	NumIOPTLevels           uint64                              `json:"num_io_pt_levels" yaml:"num_io_pt_levels"`
	IPCBuffer               uint64                              `json:"ipc_buffer" yaml:"ipc_buffer"`
	Empty                   SlotRegion                          `json:"empty" yaml:"empty"`
	InitThreadCNodeSizeBits uint64                              `json:"init_thread_cnode_size_bits" yaml:"init_thread_cnode_size_bits"`
	Untyped                 SlotRegion                          `json:"untyped" yaml:"untyped"`
	UntypedList             [MaxBootInfoUntypedCaps]UntypedDesc `json:"-" yaml:"-"`
}

// BootInfoSize is the size of the encoded boot-info structure.
var BootInfoSize = uint64(binary.Size(BootInfo{}))

func init() {
	if BootInfoSize > 1<<cap.BIFrameSizeBits {
		panic(fmt.Sprintf("boot info is %d bytes, frame holds %d", BootInfoSize, 1<<cap.BIFrameSizeBits))
	}
}

// Descriptors returns the first described entries of UntypedList. The frame
// does not record how many entries were written, so described comes from
// the kernel; it is clamped to the untyped slot range and the list capacity.
func (bi *BootInfo) Descriptors(described int) []UntypedDesc {
	n := min(uint64(max(described, 0)), bi.Untyped.Len(), MaxBootInfoUntypedCaps)
	return bi.UntypedList[:n]
}

// ReadBootInfo decodes the boot-info frame at p.
func ReadBootInfo(mem *physmem.Memory, p addr.Paddr) BootInfo {
	var bi BootInfo
	binary.Decode(mem.Slice(p, BootInfoSize), &bi)
	return bi
}

// populateBIFrame clears the boot-info frame and fills in the fields known
// before any capability is created.
func (k *Kernel) populateBIFrame(nodeID, numNodes uint64, ipcBuf addr.Vaddr) {
	p := k.state.RootServer.BootInfo
	k.mem.Zero(p, 1<<cap.BIFrameSizeBits)
	k.bi = BootInfo{
		NodeID:                  nodeID,
		NumNodes:                numNodes,
		IPCBuffer:               uint64(ipcBuf),
		InitThreadCNodeSizeBits: uint64(k.conf.RootCNodeSizeBits),
	}
	k.state.BootInfoFrame = p
	k.writeBootInfo()
}

// finalizeBootInfo records the free slot range and writes the frame out.
func (k *Kernel) finalizeBootInfo() {
	k.bi.Empty = SlotRegion{Start: k.state.SlotPosCur, End: 1 << k.conf.RootCNodeSizeBits}
	k.writeBootInfo()
}

func (k *Kernel) writeBootInfo() {
	binary.Encode(k.mem.Slice(k.state.BootInfoFrame, BootInfoSize), &k.bi)
}

// BootInfo returns the boot-info frame as written to memory.
func (k *Kernel) BootInfo() (BootInfo, error) {
	if k.state.BootInfoFrame == 0 {
		return BootInfo{}, ErrNotBooted
	}
	return ReadBootInfo(k.mem, k.state.BootInfoFrame), nil
}

// UntypedDescriptors returns the descriptors written to the boot-info frame.
func (k *Kernel) UntypedDescriptors() ([]UntypedDesc, error) {
	bi, err := k.BootInfo()
	if err != nil {
		return nil, err
	}
	return append([]UntypedDesc(nil), bi.Descriptors(k.state.NumUntypedDescriptors)...), nil
}
