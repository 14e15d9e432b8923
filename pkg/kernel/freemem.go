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
	"errors"
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/pagetables"
	"gvisor.dev/rvsel4/pkg/physmem"
	"gvisor.dev/rvsel4/pkg/region"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// RootServerMaxSizeBits is the alignment of the rootserver block: the size
// class of its largest object.
func RootServerMaxSizeBits(cnodeSizeBits, extraBISizeBits uint) uint {
	bits := cnodeSizeBits + cap.SlotBits
	for _, b := range []uint{cap.VSpaceBits, extraBISizeBits} {
		if b > bits {
			bits = b
		}
	}
	return bits
}

// RootServerSize is the number of bytes needed for all rootserver objects
// of an initial thread covering itVReg.
func RootServerSize(itVReg addr.Vregion, cnodeSizeBits, extraBISizeBits uint) uint64 {
	size := uint64(1) << (cnodeSizeBits + cap.SlotBits)
	size += 1 << cap.TCBBits
	size += 1 << riscv.PageBits // IPC buffer.
	size += 1 << cap.BIFrameSizeBits
	size += 1 << cap.ASIDPoolBits
	if extraBISizeBits > 0 {
		size += 1 << extraBISizeBits
	}
	size += 1 << cap.VSpaceBits
	size += pagetables.NumPaging(itVReg) << cap.PageTableBits
	return size
}

// Freemem is the result of InitFreemem.
type Freemem struct {
	RootServer RootServer

	// Reserved is the merged reserved list.
	Reserved []addr.Pregion

	// Free is what is left of the available region. The regions around
	// the rootserver block stay in the list even when empty.
	Free []addr.Pregion
}

// InitFreemem partitions avail into reserved and free memory and places the
// rootserver objects as high as possible in the highest free region that can
// hold them. The objects are zeroed in mem.
//
// reserved must be sorted, non-overlapping and inside avail.
func InitFreemem(mem *physmem.Memory, reserved []addr.Pregion, avail addr.Pregion, itVReg addr.Vregion, cnodeSizeBits, extraBISizeBits uint) (Freemem, error) {
	if extraBISizeBits != 0 {
		return Freemem{}, fmt.Errorf("%w: extra boot info (%d bits)", ErrNotSupported, extraBISizeBits)
	}
	log.Debugf("available phys memory region: %v", avail)
	for i, r := range reserved {
		log.Debugf("reserved region %d: %v", i, r)
	}
	if err := region.Validate(reserved); err != nil {
		return Freemem{}, fmt.Errorf("%w: %v", ErrReservedOrder, err)
	}
	merged := region.Merge(reserved)
	free, err := region.Subtract(avail, merged)
	if err != nil {
		return Freemem{}, fmt.Errorf("%w: %v", ErrReservedOrder, err)
	}

	size := RootServerSize(itVReg, cnodeSizeBits, extraBISizeBits)
	maxBits := RootServerMaxSizeBits(cnodeSizeBits, extraBISizeBits)
	p, err := region.Fit(free, size, maxBits)
	if errors.Is(err, region.ErrNoFit) {
		return Freemem{}, fmt.Errorf("%w: need size %#x with alignment 2^%d", ErrNoRegionFits, size, maxBits)
	} else if err != nil {
		return Freemem{}, err
	}

	rs := createRootServerObjects(mem, p.Block, itVReg, cnodeSizeBits)
	free[p.Index] = p.Before
	free = append(free, p.After)
	log.Debugf("final freemem: %v", free)
	return Freemem{RootServer: rs, Reserved: merged, Free: free}, nil
}

// createRootServerObjects hands out block to the rootserver objects in
// decreasing size order so that each one is naturally aligned.
func createRootServerObjects(mem *physmem.Memory, block addr.Pregion, itVReg addr.Vregion, cnodeSizeBits uint) RootServer {
	cur := block
	alloc := func(sizeBits uint, n uint64) addr.Paddr {
		p := cur.Start
		if !p.IsAligned(sizeBits) {
			panic(fmt.Sprintf("rootserver object at %v not aligned to 2^%d", p, sizeBits))
		}
		size := n << sizeBits
		if p.Add(size) > cur.End {
			panic(fmt.Sprintf("rootserver block %v overrun by %#x bytes at %v", block, size, p))
		}
		mem.Zero(p, size)
		cur.Start = p.Add(size)
		return p
	}

	rs := RootServer{Block: block}
	rs.CNode = alloc(cnodeSizeBits+cap.SlotBits, 1)
	rs.VSpace = alloc(cap.VSpaceBits, 1)
	rs.ASIDPool = alloc(cap.ASIDPoolBits, 1)
	rs.IPCBuf = alloc(riscv.PageBits, 1)
	rs.BootInfo = alloc(cap.BIFrameSizeBits, 1)
	n := pagetables.NumPaging(itVReg)
	rs.Paging.Start = alloc(cap.PageTableBits, n)
	rs.Paging.End = cur.Start
	rs.TCB = alloc(cap.TCBBits, 1)

	if cur.Start != block.End {
		panic(fmt.Sprintf("rootserver objects end at %v, block ends at %v", cur.Start, block.End))
	}
	return rs
}
