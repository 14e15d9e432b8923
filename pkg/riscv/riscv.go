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

// Package riscv describes the RV64 supervisor-mode hart the kernel runs on.
package riscv

// Sv39 paging geometry.
const (
	// WordBits is the width of a machine word.
	WordBits = 64

	// PageBits is log2 of the base page size.
	PageBits = 12

	// PageSize is the base page size.
	PageSize = 1 << PageBits

	// PTIndexBits is the number of virtual address bits consumed per level.
	PTIndexBits = 9

	// PTEntries is the number of entries in one page table.
	PTEntries = 1 << PTIndexBits

	// PTLevels is the depth of an Sv39 walk.
	PTLevels = 3

	// PTEFlagBits is the number of low PTE bits holding flags.
	PTEFlagBits = 10

	// MegaPageBits and GigaPageBits are the leaf sizes of levels 1 and 2.
	MegaPageBits = PageBits + PTIndexBits
	GigaPageBits = PageBits + 2*PTIndexBits
)

// sstatus bits.
const (
	SstatusSIE  = 1 << 1
	SstatusSPIE = 1 << 5
	SstatusSPP  = 1 << 8
)

// sie bits.
const (
	SIESoftware = 1 << 1
	SIETimer    = 1 << 5
	SIEExternal = 1 << 9
)

// satp fields.
const (
	SatpModeBare = 0
	SatpModeSv39 = 8

	satpModeShift = 60
	satpASIDShift = 44
	satpASIDMask  = 0xffff
	satpPPNMask   = 1<<44 - 1
)

// MakeSatp composes a satp value.
func MakeSatp(mode, asid, ppn uint64) uint64 {
	return mode<<satpModeShift | (asid&satpASIDMask)<<satpASIDShift | ppn&satpPPNMask
}

// SatpFields splits a satp value into mode, ASID and root page number.
func SatpFields(satp uint64) (mode, asid, ppn uint64) {
	return satp >> satpModeShift, (satp >> satpASIDShift) & satpASIDMask, satp & satpPPNMask
}
