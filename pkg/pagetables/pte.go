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

package pagetables

import (
	"fmt"
	"strings"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// PTE is an Sv39 page table entry.
type PTE uint64

// Entry flags.
const (
	Valid PTE = 1 << iota
	Read
	Write
	Execute
	User
	Global
	Accessed
	Dirty
)

const (
	flagMask = 0xff
	ppnBits  = 44
)

// NewPTE builds an entry pointing at pa.
func NewPTE(pa addr.Paddr, flags PTE) PTE {
	return PTE(uint64(pa)>>riscv.PageBits<<riscv.PTEFlagBits) | flags&flagMask
}

// Address returns the physical address the entry points at.
func (p PTE) Address() addr.Paddr {
	ppn := (uint64(p) >> riscv.PTEFlagBits) & (1<<ppnBits - 1)
	return addr.Paddr(ppn << riscv.PageBits)
}

// Flags returns the flag bits of the entry.
func (p PTE) Flags() PTE {
	return p & flagMask
}

// Valid returns true if the V bit is set.
func (p PTE) Valid() bool {
	return p&Valid != 0
}

// IsPageTable returns true if the entry points at a next-level table: it is
// valid and grants none of R, W or X.
func (p PTE) IsPageTable() bool {
	return p.Valid() && p&(Read|Write|Execute) == 0
}

// IsLeaf returns true if the entry maps memory.
func (p PTE) IsLeaf() bool {
	return p.Valid() && !p.IsPageTable()
}

var flagNames = []struct {
	flag PTE
	name byte
}{
	{Dirty, 'D'}, {Accessed, 'A'}, {Global, 'G'}, {User, 'U'},
	{Execute, 'X'}, {Write, 'W'}, {Read, 'R'}, {Valid, 'V'},
}

// String implements fmt.Stringer.
func (p PTE) String() string {
	var b strings.Builder
	for _, f := range flagNames {
		if p&f.flag != 0 {
			b.WriteByte(f.name)
		} else {
			b.WriteByte('-')
		}
	}
	return fmt.Sprintf("%v %s", p.Address(), b.String())
}
