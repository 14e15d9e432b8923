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

// Package physmem provides the window through which the kernel touches
// physical memory.
//
// The window is an anonymous private mapping the size of the machine's RAM
// region. It is mapped with MAP_NORESERVE so untouched pages cost nothing;
// only the pages the kernel actually writes (page tables, CNode slots, the
// boot-info frame) are ever backed.
package physmem

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/rvsel4/pkg/addr"
)

// Memory is a bounds-checked window onto a physical address range.
type Memory struct {
	region addr.Pregion
	data   []byte
}

// New maps a window covering r.
func New(r addr.Pregion) (*Memory, error) {
	if r.IsEmpty() {
		return nil, fmt.Errorf("empty physical memory region %v", r)
	}
	if !r.Start.IsAligned(12) || !r.End.IsAligned(12) {
		return nil, fmt.Errorf("physical memory region %v is not page aligned", r)
	}
	data, err := unix.Mmap(-1, 0, int(r.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x bytes for %v: %w", r.Size(), r, err)
	}
	return &Memory{region: r, data: data}, nil
}

// Release unmaps the window. The Memory must not be used afterwards.
func (m *Memory) Release() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Region returns the physical range the window covers.
func (m *Memory) Region() addr.Pregion {
	return m.region
}

// Contains returns true if [p, p+n) lies inside the window.
func (m *Memory) Contains(p addr.Paddr, n uint64) bool {
	if p < m.region.Start || p > m.region.End {
		return false
	}
	return n <= uint64(m.region.End-p)
}

// Slice returns the bytes backing [p, p+n). It panics if the range falls
// outside the window.
func (m *Memory) Slice(p addr.Paddr, n uint64) []byte {
	if !m.Contains(p, n) {
		panic(fmt.Sprintf("physmem: access to [%#x, %#x) outside %v", uint64(p), uint64(p)+n, m.region))
	}
	off := uint64(p - m.region.Start)
	return m.data[off : off+n : off+n]
}

// Word loads the 64-bit word at p.
func (m *Memory) Word(p addr.Paddr) uint64 {
	return binary.LittleEndian.Uint64(m.Slice(p, 8))
}

// SetWord stores the 64-bit word v at p.
func (m *Memory) SetWord(p addr.Paddr, v uint64) {
	binary.LittleEndian.PutUint64(m.Slice(p, 8), v)
}

// Zero clears [p, p+n).
func (m *Memory) Zero(p addr.Paddr, n uint64) {
	clear(m.Slice(p, n))
}

// Copy writes b at p.
func (m *Memory) Copy(p addr.Paddr, b []byte) {
	copy(m.Slice(p, uint64(len(b))), b)
}
