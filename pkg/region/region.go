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

// Package region implements the algebra over physical regions used to turn
// the machine's memory description into free memory: validation of reserved
// lists, merging, subtraction and placement of aligned blocks.
package region

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
	"gvisor.dev/rvsel4/pkg/addr"
)

var (
	// ErrInverted is returned for a region whose start lies above its end.
	ErrInverted = errors.New("region start above end")

	// ErrOrder is returned for a reserved list that is unsorted or
	// overlapping.
	ErrOrder = errors.New("reserved regions out of order or overlapping")

	// ErrOutside is returned when a reserved region is not inside the
	// available region.
	ErrOutside = errors.New("reserved region outside available memory")

	// ErrNoFit is returned when no region can hold a block.
	ErrNoFit = errors.New("no region fits")
)

// Validate checks that each region has start <= end, and that the list is
// sorted by start with no region beginning before its predecessor ends.
func Validate(regs []addr.Pregion) error {
	for i, r := range regs {
		if r.Start > r.End {
			return fmt.Errorf("%w: region %d %#x..%#x", ErrInverted, i, uint64(r.Start), uint64(r.End))
		}
		if i > 0 && regs[i-1].End > r.Start {
			return fmt.Errorf("%w: region %d %v follows %v", ErrOrder, i, r, regs[i-1])
		}
	}
	return nil
}

// Merge coalesces touching or overlapping neighbours of a sorted list.
func Merge(regs []addr.Pregion) []addr.Pregion {
	var out []addr.Pregion
	for _, r := range regs {
		if n := len(out); n > 0 && out[n-1].End >= r.Start {
			if r.End > out[n-1].End {
				out[n-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// RemoveEmpty drops zero-length regions, preserving order.
func RemoveEmpty(regs []addr.Pregion) []addr.Pregion {
	return slices.DeleteFunc(regs, func(r addr.Pregion) bool { return r.IsEmpty() })
}

// Subtract removes the sorted, disjoint reserved regions from avail. Every
// reserved region must lie inside avail. Empty pieces are dropped.
func Subtract(avail addr.Pregion, reserved []addr.Pregion) ([]addr.Pregion, error) {
	var free []addr.Pregion
	cur := avail
	for _, r := range reserved {
		if !avail.ContainsRegion(r) {
			return nil, fmt.Errorf("%w: %v not in %v", ErrOutside, r, avail)
		}
		free = append(free, addr.Pregion{Start: cur.Start, End: r.Start})
		cur.Start = r.End
	}
	free = append(free, cur)
	return RemoveEmpty(free), nil
}

// Placement is the result of Fit.
type Placement struct {
	// Index is the region the block was carved from.
	Index int

	// Block is the placed block.
	Block addr.Pregion

	// Before and After are what remains of the region on either side.
	Before, After addr.Pregion
}

// Fit places a block of size bytes aligned to 2^alignBits in the highest
// region that can hold it, at the highest aligned address in that region.
// Regions are scanned from the last to the first.
func Fit(regs []addr.Pregion, size uint64, alignBits uint) (Placement, error) {
	for i := len(regs) - 1; i >= 0; i-- {
		r := regs[i]
		if uint64(r.End) < size {
			continue
		}
		start := (r.End - addr.Paddr(size)).RoundDown(alignBits)
		if start < r.Start {
			continue
		}
		block := addr.Pregion{Start: start, End: start.Add(size)}
		return Placement{
			Index:  i,
			Block:  block,
			Before: addr.Pregion{Start: r.Start, End: block.Start},
			After:  addr.Pregion{Start: block.End, End: r.End},
		}, nil
	}
	return Placement{}, fmt.Errorf("%w: %#x bytes aligned to 2^%d", ErrNoFit, size, alignBits)
}

// Sort orders regions by start address.
func Sort(regs []addr.Pregion) {
	slices.SortFunc(regs, func(a, b addr.Pregion) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
}
