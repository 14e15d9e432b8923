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
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/pagetables"
	"gvisor.dev/rvsel4/pkg/riscv"
)

const (
	// asidHighBits is the number of ASID bits selecting a pool.
	asidHighBits = 7

	// numASIDPools is the size of the ASID table.
	numASIDPools = 1 << asidHighBits
)

// userFrameFlags are the permissions of frames mapped into the initial
// thread's address space.
const userFrameFlags = pagetables.Read | pagetables.Write | pagetables.User | pagetables.Accessed | pagetables.Dirty

// itAllocPaging hands out the next page of the rootserver paging region.
func (k *Kernel) itAllocPaging() addr.Paddr {
	p := k.state.PagingNext
	k.state.PagingNext = p.Add(1 << cap.PageTableBits)
	if k.state.PagingNext > k.state.RootServer.Paging.End {
		panic(fmt.Sprintf("rootserver paging region %v exhausted", k.state.RootServer.Paging))
	}
	return p
}

// createITAddressSpace builds the initial thread's page tables: the root
// capability goes into the fixed VSpace slot, and one capability for each
// table below the root is provided from the slot cursor, level by level
// from the top.
func (k *Kernel) createITAddressSpace(root cap.Table) (cap.Capability, error) {
	rs := &k.state.RootServer
	vspace := cap.MustEncode(cap.PageTable{
		ASID:       cap.ITASID,
		BasePtr:    rs.VSpace,
		Mapped:     true,
		MappedAddr: addr.Vaddr(rs.VSpace),
	})
	root.WriteSlotAt(cap.SlotInitThreadVSpace, vspace)

	k.state.PagingNext = rs.Paging.Start
	itV := k.state.ITVReg
	for _, b := range []uint{riscv.GigaPageBits, riscv.MegaPageBits} {
		for v := itV.Start.RoundDown(b); v < itV.End; v = v.Add(1 << b) {
			c, err := k.createITPTCap(vspace, k.itAllocPaging(), v)
			if err != nil {
				return cap.NullCap, err
			}
			if err := k.provideCap(root, c); err != nil {
				return cap.NullCap, err
			}
		}
	}
	if k.state.PagingNext != rs.Paging.End {
		panic(fmt.Sprintf("paging region %v used up to %v", rs.Paging, k.state.PagingNext))
	}
	return vspace, nil
}

// createITPTCap returns a capability to the table at pt and links it into
// vspace at vptr.
func (k *Kernel) createITPTCap(vspace cap.Capability, pt addr.Paddr, vptr addr.Vaddr) (cap.Capability, error) {
	c, err := cap.Encode(cap.PageTable{
		ASID:       cap.ITASID,
		BasePtr:    pt,
		Mapped:     true,
		MappedAddr: vptr,
	})
	if err != nil {
		return cap.NullCap, err
	}
	root, err := cap.As[cap.PageTable](vspace)
	if err != nil {
		return cap.NullCap, err
	}
	k.pt.MapPageTable(root.BasePtr, vptr, pt)
	return c, nil
}

// createMappedITFrameCap returns a read-write capability to the page at
// frame and maps it at vptr in vspace.
func (k *Kernel) createMappedITFrameCap(vspace cap.Capability, frame addr.Paddr, vptr addr.Vaddr, executable bool) (cap.Capability, error) {
	c, err := cap.Encode(cap.Frame{
		ASID:       cap.ITASID,
		BasePtr:    frame,
		Size:       cap.Frame4K,
		Rights:     cap.VMReadWrite,
		MappedAddr: vptr,
	})
	if err != nil {
		return cap.NullCap, err
	}
	root, err := cap.As[cap.PageTable](vspace)
	if err != nil {
		return cap.NullCap, err
	}
	flags := userFrameFlags
	if executable {
		flags |= pagetables.Execute
	}
	k.pt.MapFrame(root.BasePtr, vptr, frame, flags)
	return c, nil
}

// createUnmappedITFrameCap returns a capability to the page at frame with no
// mapping and no rights.
func createUnmappedITFrameCap(frame addr.Paddr) (cap.Capability, error) {
	return cap.Encode(cap.UnmappedFrame(frame))
}

// createFramesOfRegion provides a frame capability for every page of reg and
// returns the slots they landed in. With doMap, page p is mapped executable
// at p - pvOffset; otherwise the capabilities are unmapped.
func (k *Kernel) createFramesOfRegion(root cap.Table, vspace cap.Capability, reg addr.Pregion, doMap bool, pvOffset uint64) (SlotRegion, error) {
	slots := SlotRegion{Start: k.state.SlotPosCur}
	for p := reg.Start; p < reg.End; p = p.Add(riscv.PageSize) {
		var (
			c   cap.Capability
			err error
		)
		if doMap {
			c, err = k.createMappedITFrameCap(vspace, p, p.ToVaddr(pvOffset), true)
		} else {
			c, err = createUnmappedITFrameCap(p)
		}
		if err != nil {
			return SlotRegion{}, fmt.Errorf("frame %v: %w", p, err)
		}
		if err := k.provideCap(root, c); err != nil {
			return SlotRegion{}, err
		}
	}
	slots.End = k.state.SlotPosCur
	return slots, nil
}

// createITASIDPool creates the initial ASID pool and the ASID control
// capability, and makes the pool the first entry of the ASID table.
func (k *Kernel) createITASIDPool(root cap.Table) cap.Capability {
	pool := k.state.RootServer.ASIDPool
	c := cap.MustEncode(cap.ASIDPool{ASIDBase: cap.ITASID >> cap.ASIDLowBits, Pool: pool})
	root.WriteSlotAt(cap.SlotInitThreadASIDPool, c)
	root.WriteSlotAt(cap.SlotASIDControl, cap.MustEncode(cap.ASIDControl{}))
	k.asidTable[cap.ITASID>>cap.ASIDLowBits] = pool
	return c
}

// writeITASIDPool records the initial thread's VSpace in its ASID pool.
func (k *Kernel) writeITASIDPool(poolCap, vspace cap.Capability) {
	pool, err := cap.As[cap.ASIDPool](poolCap)
	if err != nil {
		panic(fmt.Sprintf("initial ASID pool: %v", err))
	}
	root, err := cap.As[cap.PageTable](vspace)
	if err != nil {
		panic(fmt.Sprintf("initial VSpace: %v", err))
	}
	k.mem.SetWord(asidPoolEntry(pool.Pool, cap.ITASID), uint64(root.BasePtr))
}

func asidPoolEntry(pool addr.Paddr, asid uint64) addr.Paddr {
	return pool.Add((asid & (1<<cap.ASIDLowBits - 1)) * 8)
}

// findVSpaceForASID returns the VSpace root registered for asid.
func (k *Kernel) findVSpaceForASID(asid uint64) (addr.Paddr, bool) {
	high := asid >> cap.ASIDLowBits
	if high >= numASIDPools {
		return 0, false
	}
	pool := k.asidTable[high]
	if pool == 0 {
		return 0, false
	}
	root := addr.Paddr(k.mem.Word(asidPoolEntry(pool, asid)))
	return root, root != 0
}
