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

package region

import (
	"github.com/google/btree"
	"gvisor.dev/rvsel4/pkg/addr"
)

const setDegree = 8

// Set is an ordered set of disjoint, non-touching, non-empty regions.
// Inserting a region coalesces it with everything it touches.
//
// The zero value is not usable; call NewSet.
type Set struct {
	tree *btree.BTreeG[addr.Pregion]
}

func lessByStart(a, b addr.Pregion) bool {
	return a.Start < b.Start
}

// NewSet returns a set holding regs.
func NewSet(regs ...addr.Pregion) *Set {
	s := &Set{tree: btree.NewG(setDegree, lessByStart)}
	for _, r := range regs {
		s.Insert(r)
	}
	return s
}

// Insert adds r, merging it with any member it overlaps or touches.
func (s *Set) Insert(r addr.Pregion) {
	if r.IsEmpty() {
		return
	}
	var absorbed []addr.Pregion
	// The predecessor may reach into r.
	s.tree.DescendLessOrEqual(r, func(p addr.Pregion) bool {
		if p.End >= r.Start {
			absorbed = append(absorbed, p)
		}
		return false
	})
	s.tree.AscendGreaterOrEqual(addr.Pregion{Start: r.Start}, func(n addr.Pregion) bool {
		if n.Start > r.End {
			return false
		}
		absorbed = append(absorbed, n)
		return true
	})
	for _, a := range absorbed {
		s.tree.Delete(a)
		if a.Start < r.Start {
			r.Start = a.Start
		}
		if a.End > r.End {
			r.End = a.End
		}
	}
	s.tree.ReplaceOrInsert(r)
}

// Len returns the number of members.
func (s *Set) Len() int {
	return s.tree.Len()
}

// Regions returns the members in address order.
func (s *Set) Regions() []addr.Pregion {
	out := make([]addr.Pregion, 0, s.tree.Len())
	s.tree.Ascend(func(r addr.Pregion) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Contains returns true if p lies inside a member.
func (s *Set) Contains(p addr.Paddr) bool {
	found := false
	s.tree.DescendLessOrEqual(addr.Pregion{Start: p, End: p}, func(r addr.Pregion) bool {
		found = r.Contains(p)
		return false
	})
	return found
}

// Overlaps returns true if r shares a byte with any member.
func (s *Set) Overlaps(r addr.Pregion) bool {
	if r.IsEmpty() {
		return false
	}
	found := false
	s.tree.DescendLessOrEqual(addr.Pregion{Start: r.End - 1}, func(m addr.Pregion) bool {
		found = m.Overlaps(r)
		return false
	})
	return found
}

// Gaps returns the parts of [lo, hi) not covered by any member, in address
// order.
func (s *Set) Gaps(lo, hi addr.Paddr) []addr.Pregion {
	var gaps []addr.Pregion
	cur := lo
	s.tree.Ascend(func(r addr.Pregion) bool {
		if r.Start >= hi {
			return false
		}
		if r.Start > cur {
			gaps = append(gaps, addr.Pregion{Start: cur, End: r.Start})
		}
		if r.End > cur {
			cur = r.End
		}
		return true
	})
	if cur < hi {
		gaps = append(gaps, addr.Pregion{Start: cur, End: hi})
	}
	return gaps
}
