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

package cap

import (
	"errors"
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/physmem"
)

// Slot is a handle on one 32-byte slot in physical memory: the capability
// in the first two words and its MDB node in the last two.
type Slot struct {
	mem  *physmem.Memory
	addr addr.Paddr
}

// SlotAt returns slot index of the slot array at base.
func SlotAt(mem *physmem.Memory, base addr.Paddr, index uint64) Slot {
	return Slot{mem: mem, addr: base.Add(index << SlotBits)}
}

// Addr returns the physical address of the slot.
func (s Slot) Addr() addr.Paddr {
	return s.addr
}

// Cap loads the capability.
func (s Slot) Cap() Capability {
	return Capability{Words: [2]uint64{s.mem.Word(s.addr), s.mem.Word(s.addr + 8)}}
}

// SetCap stores c, leaving the MDB node alone.
func (s Slot) SetCap(c Capability) {
	s.mem.SetWord(s.addr, c.Words[0])
	s.mem.SetWord(s.addr+8, c.Words[1])
}

// MDB loads the MDB node.
func (s Slot) MDB() MDBNode {
	return MDBNode{Words: [2]uint64{s.mem.Word(s.addr + 16), s.mem.Word(s.addr + 24)}}
}

// SetMDB stores m.
func (s Slot) SetMDB(m MDBNode) {
	s.mem.SetWord(s.addr+16, m.Words[0])
	s.mem.SetWord(s.addr+24, m.Words[1])
}

// Write stores c together with a fresh revocable, first-badged MDB node.
// This is how boot populates slots; no derivation links are recorded.
func (s Slot) Write(c Capability) {
	s.SetCap(c)
	s.SetMDB(NewMDBNode(true, true))
}

// IsEmpty returns true if the slot holds the null capability and an empty
// MDB node.
func (s Slot) IsEmpty() bool {
	return s.Cap().IsNull() && s.MDB().IsEmpty()
}

// ErrSlotRange is returned for an index beyond the end of a CNode.
var ErrSlotRange = errors.New("slot index out of range")

// Table is a CNode viewed as an array of slots.
type Table struct {
	mem   *physmem.Memory
	base  addr.Paddr
	radix uint
}

// NewTable returns the slot array named by the CNode capability c.
func NewTable(mem *physmem.Memory, c Capability) (Table, error) {
	n, err := As[CNode](c)
	if err != nil {
		return Table{}, err
	}
	return Table{mem: mem, base: n.Ptr, radix: n.Radix}, nil
}

// Base returns the physical address of slot 0.
func (t Table) Base() addr.Paddr {
	return t.base
}

// Radix returns log2 of the number of slots.
func (t Table) Radix() uint {
	return t.radix
}

// Len returns the number of slots.
func (t Table) Len() uint64 {
	return 1 << t.radix
}

// Slot returns slot i.
func (t Table) Slot(i uint64) (Slot, error) {
	if i >= t.Len() {
		return Slot{}, fmt.Errorf("%w: %d >= %d", ErrSlotRange, i, t.Len())
	}
	return SlotAt(t.mem, t.base, i), nil
}

// MustSlot returns slot i, panicking if it is out of range.
func (t Table) MustSlot(i uint64) Slot {
	s, err := t.Slot(i)
	if err != nil {
		panic(fmt.Sprintf("cap.Table at %v: %v", t.base, err))
	}
	return s
}

// WriteSlotAt writes c into slot i with a fresh MDB node.
func (t Table) WriteSlotAt(i uint64, c Capability) {
	t.MustSlot(i).Write(c)
}

// ForEach calls fn for every slot holding a non-null capability, in index
// order.
func (t Table) ForEach(fn func(i uint64, s Slot)) {
	for i := uint64(0); i < t.Len(); i++ {
		s := SlotAt(t.mem, t.base, i)
		if !s.Cap().IsNull() {
			fn(i, s)
		}
	}
}
