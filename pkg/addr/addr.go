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

// Package addr provides physical and virtual address types and half-open
// address regions.
package addr

import (
	"fmt"

	"gvisor.dev/rvsel4/pkg/bits"
)

// Paddr is a physical address.
type Paddr uint64

// Vaddr is a virtual address.
type Vaddr uint64

// Add returns p+n.
func (p Paddr) Add(n uint64) Paddr { return p + Paddr(n) }

// IsAligned returns true if p is a multiple of 2^b.
func (p Paddr) IsAligned(b uint) bool { return bits.IsAligned64(uint64(p), b) }

// RoundDown rounds p down to a multiple of 2^b.
func (p Paddr) RoundDown(b uint) Paddr { return Paddr(bits.AlignDown64(uint64(p), b)) }

// RoundUp rounds p up to a multiple of 2^b.
func (p Paddr) RoundUp(b uint) Paddr { return Paddr(bits.AlignUp64(uint64(p), b)) }

// ToVaddr translates p through the physical-to-virtual offset of a loaded
// image: v = p - offset.
func (p Paddr) ToVaddr(offset uint64) Vaddr { return Vaddr(uint64(p) - offset) }

// String implements fmt.Stringer.
func (p Paddr) String() string { return fmt.Sprintf("%#x", uint64(p)) }

// Add returns v+n.
func (v Vaddr) Add(n uint64) Vaddr { return v + Vaddr(n) }

// IsAligned returns true if v is a multiple of 2^b.
func (v Vaddr) IsAligned(b uint) bool { return bits.IsAligned64(uint64(v), b) }

// RoundDown rounds v down to a multiple of 2^b.
func (v Vaddr) RoundDown(b uint) Vaddr { return Vaddr(bits.AlignDown64(uint64(v), b)) }

// RoundUp rounds v up to a multiple of 2^b.
func (v Vaddr) RoundUp(b uint) Vaddr { return Vaddr(bits.AlignUp64(uint64(v), b)) }

// ToPaddr is the inverse of Paddr.ToVaddr.
func (v Vaddr) ToPaddr(offset uint64) Paddr { return Paddr(uint64(v) + offset) }

// PTIndex returns the 9-bit Sv39 page table index of v at the given level,
// where level 2 indexes the root table and level 0 the leaf table.
func (v Vaddr) PTIndex(level int) uint64 {
	return (uint64(v) >> (12 + 9*uint(level))) & 0x1ff
}

// String implements fmt.Stringer.
func (v Vaddr) String() string { return fmt.Sprintf("%#x", uint64(v)) }

// Pregion is a half-open physical range [Start, End).
type Pregion struct {
	Start Paddr `json:"start" yaml:"start"`
	End   Paddr `json:"end" yaml:"end"`
}

// Size returns the length of the region.
func (r Pregion) Size() uint64 { return uint64(r.End - r.Start) }

// IsEmpty returns true if the region covers no bytes.
func (r Pregion) IsEmpty() bool { return r.Start == r.End }

// Contains returns true if p lies inside r.
func (r Pregion) Contains(p Paddr) bool { return r.Start <= p && p < r.End }

// ContainsRegion returns true if o lies entirely inside r.
func (r Pregion) ContainsRegion(o Pregion) bool { return r.Start <= o.Start && o.End <= r.End }

// Overlaps returns true if r and o share at least one byte.
func (r Pregion) Overlaps(o Pregion) bool { return r.Start < o.End && o.Start < r.End }

// ToVregion translates r through a physical-to-virtual offset.
func (r Pregion) ToVregion(offset uint64) Vregion {
	return Vregion{Start: r.Start.ToVaddr(offset), End: r.End.ToVaddr(offset)}
}

// String implements fmt.Stringer.
func (r Pregion) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

// Vregion is a half-open virtual range [Start, End).
type Vregion struct {
	Start Vaddr `json:"start" yaml:"start"`
	End   Vaddr `json:"end" yaml:"end"`
}

// Size returns the length of the region.
func (r Vregion) Size() uint64 { return uint64(r.End - r.Start) }

// IsEmpty returns true if the region covers no bytes.
func (r Vregion) IsEmpty() bool { return r.Start == r.End }

// String implements fmt.Stringer.
func (r Vregion) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
