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
	"io"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/physmem"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// Platform constants.
const (
	// KernelELFBase is where the kernel image is linked and loaded.
	KernelELFBase = addr.Paddr(0x84000000)

	// UserTop is the first virtual address user mappings may not reach.
	UserTop = addr.Vaddr(0x3ffffff000)

	// DeviceTop bounds the physical space covered by device untypeds.
	DeviceTop = addr.Paddr(0x8000000000)

	// RootCNodeSizeBits is the default radix of the initial thread's CNode.
	RootCNodeSizeBits = 13

	// MinRootCNodeSizeBits makes the root CNode at least as large as the
	// VSpace root so that both sit naturally aligned at the front of the
	// rootserver block.
	MinRootCNodeSizeBits = cap.VSpaceBits - cap.SlotBits

	// MaxBootInfoUntypedCaps is the capacity of the boot-info untyped list.
	MaxBootInfoUntypedCaps = 230

	// MaxPriority is the highest thread priority.
	MaxPriority = 255

	// NumPriorities is the number of thread priorities.
	NumPriorities = MaxPriority + 1
)

// Config describes the machine and the kernel image.
type Config struct {
	// Avail is the RAM region the kernel may hand out.
	Avail addr.Pregion

	// KernelImage is the physical extent of the kernel image.
	KernelImage addr.Pregion

	// KernelBootEnd ends the prefix of KernelImage holding boot-only code
	// and data. [KernelImage.Start, KernelBootEnd) is returned to user
	// space as untyped memory once boot is done.
	KernelBootEnd addr.Paddr

	// KernelStatics is the kernel's zero-initialized data (its bss). The
	// kernel root page table and the idle thread live here.
	KernelStatics addr.Pregion

	// DeviceTop bounds the physical space covered by device untypeds.
	DeviceTop addr.Paddr

	// UserTop bounds the initial thread's virtual image.
	UserTop addr.Vaddr

	// RootCNodeSizeBits is the radix of the initial thread's CNode.
	RootCNodeSizeBits uint

	// MaxUntypedDescriptors caps the untyped descriptors recorded in the
	// boot-info frame. It may not exceed MaxBootInfoUntypedCaps.
	MaxUntypedDescriptors int

	// ExtraBISizeBits sizes the extra boot-info region. Only 0 is
	// supported.
	ExtraBISizeBits uint
}

// DefaultConfig returns the configuration of the reference machine.
func DefaultConfig() Config {
	return Config{
		Avail:                 addr.Pregion{Start: 0x80200000, End: 0x90000000},
		KernelImage:           addr.Pregion{Start: KernelELFBase, End: KernelELFBase + 0x100000},
		KernelBootEnd:         KernelELFBase + 0x10000,
		KernelStatics:         addr.Pregion{Start: KernelELFBase + 0xf8000, End: KernelELFBase + 0x100000},
		DeviceTop:             DeviceTop,
		UserTop:               UserTop,
		RootCNodeSizeBits:     RootCNodeSizeBits,
		MaxUntypedDescriptors: MaxBootInfoUntypedCaps,
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	page := func(p addr.Paddr) bool { return p.IsAligned(riscv.PageBits) }
	switch {
	case c.Avail.IsEmpty() || c.Avail.Start > c.Avail.End:
		return fmt.Errorf("%w: available region %v is empty", ErrBadConfig, c.Avail)
	case !page(c.Avail.Start):
		return fmt.Errorf("%w: available region %v does not start on a page", ErrBadConfig, c.Avail)
	case c.KernelImage.Start > c.KernelImage.End || !c.Avail.ContainsRegion(c.KernelImage):
		return fmt.Errorf("%w: kernel image %v is not inside %v", ErrBadConfig, c.KernelImage, c.Avail)
	case c.KernelBootEnd < c.KernelImage.Start || c.KernelBootEnd > c.KernelStatics.Start:
		return fmt.Errorf("%w: boot end %v is not between the image start and the statics", ErrBadConfig, c.KernelBootEnd)
	case !c.KernelImage.ContainsRegion(c.KernelStatics) || !page(c.KernelStatics.Start):
		return fmt.Errorf("%w: kernel statics %v are not a page-aligned part of the image", ErrBadConfig, c.KernelStatics)
	case c.KernelStatics.Size() < riscv.PageSize+(1<<cap.TCBBits):
		return fmt.Errorf("%w: kernel statics %v too small for the root table and idle thread", ErrBadConfig, c.KernelStatics)
	case c.DeviceTop < c.Avail.End:
		return fmt.Errorf("%w: device top %v below available memory", ErrBadConfig, c.DeviceTop)
	case c.RootCNodeSizeBits < MinRootCNodeSizeBits || c.RootCNodeSizeBits > 24:
		return fmt.Errorf("%w: root CNode radix %d out of range [%d, 24]", ErrBadConfig, c.RootCNodeSizeBits, MinRootCNodeSizeBits)
	case c.MaxUntypedDescriptors < 0 || c.MaxUntypedDescriptors > MaxBootInfoUntypedCaps:
		return fmt.Errorf("%w: untyped descriptor capacity %d out of range [0, %d]", ErrBadConfig, c.MaxUntypedDescriptors, MaxBootInfoUntypedCaps)
	case c.ExtraBISizeBits != 0:
		return fmt.Errorf("%w: extra boot info (%d bits)", ErrNotSupported, c.ExtraBISizeBits)
	}
	return nil
}

// Machine is what the kernel runs on.
type Machine struct {
	// Mem is the physical memory window. It must cover Config.Avail.
	Mem *physmem.Memory

	// CPU is the boot hart.
	CPU *riscv.CPU

	// Console receives debug output from user space.
	Console io.Writer
}

// BootArgs is what the loader hands the kernel on entry.
type BootArgs struct {
	// UserImage is the physical extent of the loaded initial thread.
	UserImage addr.Pregion

	// PVOffset is the physical minus virtual offset of UserImage.
	PVOffset uint64

	// Entry is the initial thread's virtual entry point.
	Entry addr.Vaddr

	// DTB and DTBSize locate the device tree blob, if any.
	DTB     addr.Paddr
	DTBSize uint64
}
