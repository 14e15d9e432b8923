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

package physmem

import (
	"testing"

	"gvisor.dev/rvsel4/pkg/addr"
)

func newMemory(t *testing.T, r addr.Pregion) *Memory {
	t.Helper()
	m, err := New(r)
	if err != nil {
		t.Fatalf("New(%v): %v", r, err)
	}
	t.Cleanup(func() {
		if err := m.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
	})
	return m
}

func TestWords(t *testing.T) {
	m := newMemory(t, addr.Pregion{Start: 0x80000000, End: 0x80010000})
	m.SetWord(0x80000008, 0xdeadbeef)
	if got := m.Word(0x80000008); got != 0xdeadbeef {
		t.Errorf("Word = %#x, want 0xdeadbeef", got)
	}
	if got := m.Slice(0x80000008, 1)[0]; got != 0xef {
		t.Errorf("low byte = %#x, want 0xef (little endian)", got)
	}
	m.SetWord(0x8000fff8, 1)
	m.Zero(0x80000000, 0x10000)
	if m.Word(0x80000008) != 0 || m.Word(0x8000fff8) != 0 {
		t.Errorf("Zero left data behind")
	}
}

func TestContains(t *testing.T) {
	m := newMemory(t, addr.Pregion{Start: 0x1000, End: 0x3000})
	for _, tc := range []struct {
		p    addr.Paddr
		n    uint64
		want bool
	}{
		{0x1000, 0x2000, true},
		{0x2ff8, 8, true},
		{0x2ff9, 8, false},
		{0x0ff8, 8, false},
		{0x3000, 0, true},
		{0x3000, 1, false},
		{0x1000, ^uint64(0), false},
	} {
		if got := m.Contains(tc.p, tc.n); got != tc.want {
			t.Errorf("Contains(%v, %#x) = %v, want %v", tc.p, tc.n, got, tc.want)
		}
	}
}

func TestOutOfWindowPanics(t *testing.T) {
	m := newMemory(t, addr.Pregion{Start: 0x1000, End: 0x2000})
	defer func() {
		if recover() == nil {
			t.Errorf("access outside the window did not panic")
		}
	}()
	m.Word(0x2000)
}

func TestNewRejectsUnaligned(t *testing.T) {
	if _, err := New(addr.Pregion{Start: 0x1001, End: 0x2000}); err == nil {
		t.Errorf("New accepted an unaligned region")
	}
	if _, err := New(addr.Pregion{Start: 0x1000, End: 0x1000}); err == nil {
		t.Errorf("New accepted an empty region")
	}
}
