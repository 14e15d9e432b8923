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
	"github.com/mohae/deepcopy"

	"gvisor.dev/rvsel4/pkg/addr"
)

// RootServer holds the physical addresses of the objects the initial thread
// is built from. All of them are carved out of Block.
type RootServer struct {
	Block    addr.Pregion `json:"block" yaml:"block"`
	CNode    addr.Paddr   `json:"cnode" yaml:"cnode"`
	VSpace   addr.Paddr   `json:"vspace" yaml:"vspace"`
	ASIDPool addr.Paddr   `json:"asid_pool" yaml:"asid_pool"`
	IPCBuf   addr.Paddr   `json:"ipc_buf" yaml:"ipc_buf"`
	BootInfo addr.Paddr   `json:"boot_info" yaml:"boot_info"`
	Paging   addr.Pregion `json:"paging" yaml:"paging"`
	TCB      addr.Paddr   `json:"tcb" yaml:"tcb"`
}

// BootState is the bookkeeping of a boot run. It is mutated only by the
// boot pipeline and is read-only once the initial thread has been switched
// to.
type BootState struct {
	// SlotPosCur is the next free slot of the root CNode.
	SlotPosCur uint64 `json:"slot_pos_cur" yaml:"slot_pos_cur"`

	// Reserved is the merged list of reserved regions.
	Reserved []addr.Pregion `json:"reserved" yaml:"reserved"`

	// Freemem is the free list left after the rootserver was placed. It
	// may contain empty regions.
	Freemem []addr.Pregion `json:"freemem" yaml:"freemem"`

	// BootInfoFrame is the physical address of the boot-info frame.
	BootInfoFrame addr.Paddr `json:"boot_info_frame" yaml:"boot_info_frame"`

	// NumUntypedDescriptors counts the descriptors written to boot info.
	NumUntypedDescriptors int `json:"num_untyped_descriptors" yaml:"num_untyped_descriptors"`

	// DroppedUntypedDescriptors counts untypeds that got a slot but no
	// descriptor because the boot-info list was full.
	DroppedUntypedDescriptors int `json:"dropped_untyped_descriptors" yaml:"dropped_untyped_descriptors"`

	RootServer RootServer `json:"root_server" yaml:"root_server"`

	// ITVReg is the initial thread's virtual region: the user image, the
	// IPC buffer and the boot-info frame.
	ITVReg addr.Vregion `json:"it_v_reg" yaml:"it_v_reg"`

	// UIVReg is the virtual extent of the user image.
	UIVReg addr.Vregion `json:"ui_v_reg" yaml:"ui_v_reg"`

	IPCBufferVPtr addr.Vaddr `json:"ipc_buffer_vptr" yaml:"ipc_buffer_vptr"`
	BIFrameVPtr   addr.Vaddr `json:"bi_frame_vptr" yaml:"bi_frame_vptr"`

	// PagingNext is the next unused page of RootServer.Paging.
	PagingNext addr.Paddr `json:"paging_next" yaml:"paging_next"`

	// DTB is the device tree blob handed over by the loader. It is not
	// reserved.
	DTB addr.Pregion `json:"dtb" yaml:"dtb"`
}

// Snapshot returns a deep copy of the boot state.
func (k *Kernel) Snapshot() BootState {
	return deepcopy.Copy(k.state).(BootState)
}
