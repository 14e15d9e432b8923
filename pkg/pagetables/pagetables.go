// Copyright 2018 The gVisor Authors.
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

// Package pagetables provides the Sv39 page table walk and the mapping
// primitives used to build the initial address spaces.
//
// Tables live in physical memory and are reached through a physmem.Memory
// window. Every store to a live entry is followed by an address translation
// fence on the hart.
package pagetables

import (
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/physmem"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// pteSize is the size of one entry in bytes.
const pteSize = 8

// Tables reads and writes page tables through a physical memory window.
type Tables struct {
	mem *physmem.Memory
	cpu *riscv.CPU
}

// New returns Tables operating on mem and fencing on cpu.
func New(mem *physmem.Memory, cpu *riscv.CPU) *Tables {
	return &Tables{mem: mem, cpu: cpu}
}

// Slot is the result of a walk: the physical address of the entry the walk
// stopped at, and the number of virtual address bits that entry translates.
type Slot struct {
	Addr     addr.Paddr
	BitsLeft uint
}

// Entry returns the physical address of entry index in table.
func Entry(table addr.Paddr, index uint64) addr.Paddr {
	return table.Add(index * pteSize)
}

// Get loads the entry at slot.
func (t *Tables) Get(slot addr.Paddr) PTE {
	return PTE(t.mem.Word(slot))
}

// Install stores pte at slot and fences.
func (t *Tables) Install(slot addr.Paddr, pte PTE) {
	t.mem.SetWord(slot, uint64(pte))
	t.cpu.SfenceVMA()
}

// LookupSlot walks from root towards vptr. It descends while the current
// entry points at a next-level table and more than a page of address bits
// remains, and returns the entry it stopped at.
func (t *Tables) LookupSlot(root addr.Paddr, vptr addr.Vaddr) Slot {
	level := riscv.PTLevels - 1
	bitsLeft := uint(riscv.PTIndexBits*level + riscv.PageBits)
	slot := Entry(root, vptr.PTIndex(level))
	for {
		pte := t.Get(slot)
		if !pte.IsPageTable() || bitsLeft <= riscv.PageBits {
			return Slot{Addr: slot, BitsLeft: bitsLeft}
		}
		level--
		bitsLeft -= riscv.PTIndexBits
		slot = Entry(pte.Address(), vptr.PTIndex(level))
	}
}

// MapPageTable links the table at pt into the walk for vptr, at whatever
// level the walk currently stops. An existing entry is overwritten.
func (t *Tables) MapPageTable(root addr.Paddr, vptr addr.Vaddr, pt addr.Paddr) {
	if !pt.IsAligned(riscv.PageBits) {
		panic(fmt.Sprintf("pagetables.MapPageTable: unaligned table %v", pt))
	}
	slot := t.LookupSlot(root, vptr)
	t.Install(slot.Addr, NewPTE(pt, Valid))
}

// MapFrame installs a 4 KiB leaf for vptr. The covering tables must already
// exist. An existing entry is overwritten.
func (t *Tables) MapFrame(root addr.Paddr, vptr addr.Vaddr, frame addr.Paddr, flags PTE) {
	if !frame.IsAligned(riscv.PageBits) || !vptr.IsAligned(riscv.PageBits) {
		panic(fmt.Sprintf("pagetables.MapFrame: unaligned mapping %v -> %v", vptr, frame))
	}
	slot := t.LookupSlot(root, vptr)
	if slot.BitsLeft != riscv.PageBits {
		panic(fmt.Sprintf("pagetables.MapFrame: no leaf table for %v (walk stopped with %d bits left)", vptr, slot.BitsLeft))
	}
	t.Install(slot.Addr, NewPTE(frame, flags|Valid))
}

// Translate returns the physical address vptr maps to and the leaf entry.
func (t *Tables) Translate(root addr.Paddr, vptr addr.Vaddr) (addr.Paddr, PTE, bool) {
	slot := t.LookupSlot(root, vptr)
	pte := t.Get(slot.Addr)
	if !pte.IsLeaf() {
		return 0, pte, false
	}
	offset := uint64(vptr) & (1<<slot.BitsLeft - 1)
	return pte.Address().Add(offset), pte, true
}

// Activate switches the hart to the address space rooted at root.
func (t *Tables) Activate(root addr.Paddr, asid uint64) {
	t.cpu.WriteSatp(Satp(root, asid))
	t.cpu.SfenceVMA()
}

// Satp returns the satp value selecting root in Sv39 mode.
func Satp(root addr.Paddr, asid uint64) uint64 {
	return riscv.MakeSatp(riscv.SatpModeSv39, asid, uint64(root)>>riscv.PageBits)
}

// Visitor is called for each leaf found by ForEachMapping, with the virtual
// base of the mapping and its size.
type Visitor func(vaddr addr.Vaddr, size uint64, pte PTE)

// ForEachMapping visits every valid leaf reachable from root in ascending
// virtual address order.
func (t *Tables) ForEachMapping(root addr.Paddr, fn Visitor) {
	t.iterate(root, riscv.PTLevels-1, 0, fn)
}

func (t *Tables) iterate(table addr.Paddr, level int, base uint64, fn Visitor) {
	shift := uint(riscv.PageBits + riscv.PTIndexBits*level)
	for i := uint64(0); i < riscv.PTEntries; i++ {
		pte := t.Get(Entry(table, i))
		if !pte.Valid() {
			continue
		}
		v := base | i<<shift
		if pte.IsPageTable() && level > 0 {
			t.iterate(pte.Address(), level-1, v, fn)
			continue
		}
		fn(canonical(v), 1<<shift, pte)
	}
}

// canonical sign-extends bit 38 of an Sv39 address.
func canonical(v uint64) addr.Vaddr {
	const vaBits = riscv.PageBits + riscv.PTIndexBits*riscv.PTLevels
	if v&(1<<(vaBits-1)) != 0 {
		v |= ^(uint64(1)<<vaBits - 1)
	}
	return addr.Vaddr(v)
}

// NumPaging returns the number of intermediate and leaf tables needed below
// a root to cover vreg with 4 KiB pages.
func NumPaging(vreg addr.Vregion) uint64 {
	var n uint64
	for _, b := range []uint{riscv.GigaPageBits, riscv.MegaPageBits} {
		n += (uint64(vreg.End.RoundUp(b)) - uint64(vreg.Start.RoundDown(b))) >> b
	}
	return n
}
