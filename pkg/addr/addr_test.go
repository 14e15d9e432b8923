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

package addr

import (
	"testing"
)

func TestPTIndex(t *testing.T) {
	for _, tc := range []struct {
		v    Vaddr
		want [3]uint64
	}{
		{0, [3]uint64{0, 0, 0}},
		{0x1000, [3]uint64{1, 0, 0}},
		{0x200000, [3]uint64{0, 1, 0}},
		{0x84000000, [3]uint64{0, 0x20, 2}},
		{0x3ffffff000, [3]uint64{0x1ff, 0x1ff, 0xff}},
	} {
		for level := 0; level < 3; level++ {
			if got := tc.v.PTIndex(level); got != tc.want[level] {
				t.Errorf("%v.PTIndex(%d) = %#x, want %#x", tc.v, level, got, tc.want[level])
			}
		}
	}
}

func TestRegions(t *testing.T) {
	r := Pregion{Start: 0x80000000, End: 0x80200000}
	if got, want := r.Size(), uint64(0x200000); got != want {
		t.Errorf("Size = %#x, want %#x", got, want)
	}
	if !r.Contains(0x80000000) || r.Contains(0x80200000) {
		t.Errorf("Contains does not treat %v as half-open", r)
	}
	if r.Overlaps(Pregion{Start: 0x80200000, End: 0x80300000}) {
		t.Errorf("adjacent regions reported as overlapping")
	}
	if !r.Overlaps(Pregion{Start: 0x801ff000, End: 0x80300000}) {
		t.Errorf("overlapping regions not reported")
	}
	if !(Pregion{Start: 5, End: 5}).IsEmpty() {
		t.Errorf("[5, 5) is not empty")
	}
	v := r.ToVregion(0x80000000 - 0x10000)
	if v.Start != 0x10000 || v.End != 0x210000 {
		t.Errorf("ToVregion = %v, want [0x10000, 0x210000)", v)
	}
	if got := v.Start.ToPaddr(0x80000000 - 0x10000); got != r.Start {
		t.Errorf("ToPaddr = %v, want %v", got, r.Start)
	}
}
