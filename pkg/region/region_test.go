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
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gvisor.dev/rvsel4/pkg/addr"
)

func pr(start, end uint64) addr.Pregion {
	return addr.Pregion{Start: addr.Paddr(start), End: addr.Paddr(end)}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		regs []addr.Pregion
		want error
	}{
		{"empty list", nil, nil},
		{"sorted", []addr.Pregion{pr(0, 0x1000), pr(0x1000, 0x2000), pr(0x3000, 0x3000)}, nil},
		{"inverted", []addr.Pregion{pr(0x2000, 0x1000)}, ErrInverted},
		{"overlap", []addr.Pregion{pr(0, 0x2000), pr(0x1000, 0x3000)}, ErrOrder},
		{"unsorted", []addr.Pregion{pr(0x4000, 0x5000), pr(0x1000, 0x2000)}, ErrOrder},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.regs); !errors.Is(err, tc.want) {
				t.Errorf("Validate = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	got := Merge([]addr.Pregion{
		pr(0x80000000, 0x80100000),
		pr(0x80100000, 0x80200000),
		pr(0x80300000, 0x80400000),
		pr(0x80350000, 0x80380000),
	})
	want := []addr.Pregion{pr(0x80000000, 0x80200000), pr(0x80300000, 0x80400000)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestSubtract(t *testing.T) {
	for _, tc := range []struct {
		name     string
		avail    addr.Pregion
		reserved []addr.Pregion
		want     []addr.Pregion
		err      error
	}{
		{
			name:     "kernel at bottom",
			avail:    pr(0x80000000, 0x90000000),
			reserved: []addr.Pregion{pr(0x80000000, 0x80200000)},
			want:     []addr.Pregion{pr(0x80200000, 0x90000000)},
		},
		{
			name:     "hole in the middle",
			avail:    pr(0x80000000, 0x90000000),
			reserved: []addr.Pregion{pr(0x84000000, 0x84100000)},
			want:     []addr.Pregion{pr(0x80000000, 0x84000000), pr(0x84100000, 0x90000000)},
		},
		{
			name:     "everything reserved",
			avail:    pr(0x80000000, 0x80100000),
			reserved: []addr.Pregion{pr(0x80000000, 0x80100000)},
		},
		{
			name:  "nothing reserved",
			avail: pr(0x1000, 0x2000),
			want:  []addr.Pregion{pr(0x1000, 0x2000)},
		},
		{
			name:     "reserved outside",
			avail:    pr(0x80000000, 0x90000000),
			reserved: []addr.Pregion{pr(0x7ff00000, 0x80100000)},
			err:      ErrOutside,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Subtract(tc.avail, tc.reserved)
			if !errors.Is(err, tc.err) {
				t.Fatalf("Subtract error = %v, want %v", err, tc.err)
			}
			if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Subtract mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestSubtractPartitions checks on random inputs that free and reserved
// memory are disjoint and together cover the available region exactly.
func TestSubtractPartitions(t *testing.T) {
	rng := rand.New(rand.NewSource(0x5e14))
	for iter := 0; iter < 200; iter++ {
		avail := pr(0x80000000, 0x80000000+uint64(rng.Intn(1<<20)+1)<<12)
		var reserved []addr.Pregion
		cur := uint64(avail.Start)
		for cur < uint64(avail.End) && rng.Intn(4) != 0 {
			start := cur + uint64(rng.Intn(1<<8))<<12
			end := start + uint64(rng.Intn(1<<8))<<12
			if end > uint64(avail.End) {
				break
			}
			reserved = append(reserved, pr(start, end))
			cur = end
		}
		if err := Validate(reserved); err != nil {
			t.Fatalf("generated invalid reserved list: %v", err)
		}
		merged := Merge(reserved)
		free, err := Subtract(avail, merged)
		if err != nil {
			t.Fatalf("Subtract(%v, %v): %v", avail, merged, err)
		}

		all := NewSet()
		var total uint64
		for _, f := range free {
			if f.IsEmpty() {
				t.Errorf("empty free region %v", f)
			}
			for _, r := range merged {
				if f.Overlaps(r) {
					t.Errorf("free %v overlaps reserved %v", f, r)
				}
			}
			all.Insert(f)
			total += f.Size()
		}
		for _, r := range merged {
			all.Insert(r)
			total += r.Size()
		}
		if total != avail.Size() {
			t.Errorf("free+reserved covers %#x bytes, want %#x", total, avail.Size())
		}
		if avail.Size() > 0 {
			if diff := cmp.Diff([]addr.Pregion{avail}, all.Regions()); diff != "" {
				t.Errorf("union is not the available region (-want +got):\n%s", diff)
			}
		}
	}
}

func TestFit(t *testing.T) {
	for _, tc := range []struct {
		name  string
		regs  []addr.Pregion
		size  uint64
		align uint
		want  Placement
		err   error
	}{
		{
			name:  "top of single region",
			regs:  []addr.Pregion{pr(0x80200000, 0x90000000)},
			size:  0x45000,
			align: 18,
			want: Placement{
				Index:  0,
				Block:  pr(0x8ff80000, 0x8ffc5000),
				Before: pr(0x80200000, 0x8ff80000),
				After:  pr(0x8ffc5000, 0x90000000),
			},
		},
		{
			name:  "highest region wins",
			regs:  []addr.Pregion{pr(0x80000000, 0x81000000), pr(0x82000000, 0x83000000)},
			size:  0x1000,
			align: 12,
			want: Placement{
				Index:  1,
				Block:  pr(0x82fff000, 0x83000000),
				Before: pr(0x82000000, 0x82fff000),
				After:  pr(0x83000000, 0x83000000),
			},
		},
		{
			name:  "falls back to lower region",
			regs:  []addr.Pregion{pr(0x80000000, 0x81000000), pr(0x82000000, 0x82001000)},
			size:  0x2000,
			align: 12,
			want: Placement{
				Index:  0,
				Block:  pr(0x80ffe000, 0x81000000),
				Before: pr(0x80000000, 0x80ffe000),
				After:  pr(0x81000000, 0x81000000),
			},
		},
		{
			name:  "exact fit",
			regs:  []addr.Pregion{pr(0x80040000, 0x80085000)},
			size:  0x45000,
			align: 18,
			want: Placement{
				Block:  pr(0x80040000, 0x80085000),
				Before: pr(0x80040000, 0x80040000),
				After:  pr(0x80085000, 0x80085000),
			},
		},
		{
			name:  "alignment pushes below start",
			regs:  []addr.Pregion{pr(0x80041000, 0x800c0000)},
			size:  0x45000,
			align: 18,
			err:   ErrNoFit,
		},
		{
			name:  "underflow",
			regs:  []addr.Pregion{pr(0, 0x1000)},
			size:  0x2000,
			align: 12,
			err:   ErrNoFit,
		},
		{
			name:  "no regions",
			size:  0x1000,
			align: 12,
			err:   ErrNoFit,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Fit(tc.regs, tc.size, tc.align)
			if !errors.Is(err, tc.err) {
				t.Fatalf("Fit error = %v, want %v", err, tc.err)
			}
			if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Fit mismatch (-want +got):\n%s", diff)
			}
			if err == nil && !got.Block.Start.IsAligned(tc.align) {
				t.Errorf("block %v not aligned to 2^%d", got.Block, tc.align)
			}
		})
	}
}

func TestSort(t *testing.T) {
	regs := []addr.Pregion{pr(0x3000, 0x4000), pr(0x1000, 0x2000), pr(0x2000, 0x3000)}
	Sort(regs)
	if err := Validate(regs); err != nil {
		t.Errorf("sorted list does not validate: %v", err)
	}
}

func TestSet(t *testing.T) {
	s := NewSet(pr(0x1000, 0x2000), pr(0x5000, 0x6000))
	s.Insert(pr(0x2000, 0x3000)) // Touches the first member.
	s.Insert(pr(0x0, 0x0))       // Empty.
	s.Insert(pr(0x8000, 0x9000))
	want := []addr.Pregion{pr(0x1000, 0x3000), pr(0x5000, 0x6000), pr(0x8000, 0x9000)}
	if diff := cmp.Diff(want, s.Regions()); diff != "" {
		t.Errorf("Regions mismatch (-want +got):\n%s", diff)
	}

	s.Insert(pr(0x2800, 0x8800)) // Spans several members.
	want = []addr.Pregion{pr(0x1000, 0x9000)}
	if diff := cmp.Diff(want, s.Regions()); diff != "" {
		t.Errorf("Regions after spanning insert mismatch (-want +got):\n%s", diff)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestSetQueries(t *testing.T) {
	s := NewSet(pr(0x80000000, 0x80200000), pr(0x80200000, 0x90000000), pr(0x10000000, 0x10001000))
	for _, tc := range []struct {
		p    addr.Paddr
		want bool
	}{
		{0x80000000, true},
		{0x8fffffff, true},
		{0x90000000, false},
		{0x10000fff, true},
		{0x0, false},
	} {
		if got := s.Contains(tc.p); got != tc.want {
			t.Errorf("Contains(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
	if !s.Overlaps(pr(0x8ffff000, 0x90001000)) || s.Overlaps(pr(0x90000000, 0x90001000)) {
		t.Errorf("Overlaps is wrong at the top edge")
	}
	if s.Overlaps(pr(0x10001000, 0x80000000)) {
		t.Errorf("gap reported as overlapping")
	}

	gaps := s.Gaps(0, 0x8000000000)
	want := []addr.Pregion{
		pr(0, 0x10000000),
		pr(0x10001000, 0x80000000),
		pr(0x90000000, 0x8000000000),
	}
	if diff := cmp.Diff(want, gaps, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Gaps mismatch (-want +got):\n%s", diff)
	}
}
