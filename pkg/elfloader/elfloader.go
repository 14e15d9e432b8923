// Copyright 2024 The gVisor Authors.
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

// Package elfloader places a statically linked RISC-V ELF image in physical
// memory and describes it in the form the kernel's entry point expects.
package elfloader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"math"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/kernel"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/physmem"
	"gvisor.dev/rvsel4/pkg/riscv"
)

var (
	// ErrNotRISCV64 is returned for images built for another machine.
	ErrNotRISCV64 = errors.New("not a 64-bit RISC-V image")

	// ErrNoLoadSegments is returned for images with nothing to load.
	ErrNoLoadSegments = errors.New("no PT_LOAD segments")

	// ErrBadSegment is returned for malformed PT_LOAD segments.
	ErrBadSegment = errors.New("bad PT_LOAD segment")

	// ErrUnaligned is returned when the destination is not page aligned.
	ErrUnaligned = errors.New("destination not page aligned")

	// ErrNoRoom is returned when the image does not fit in memory.
	ErrNoRoom = errors.New("image does not fit in physical memory")
)

// ImageInfo describes where an image was loaded.
type ImageInfo struct {
	// PhysRegion is the physical extent of the image, rounded up to a page.
	PhysRegion addr.Pregion `json:"phys_region" yaml:"phys_region"`

	// VirtRegion is the virtual extent the image was linked for.
	VirtRegion addr.Vregion `json:"virt_region" yaml:"virt_region"`

	// Entry is the virtual entry point.
	Entry addr.Vaddr `json:"entry" yaml:"entry"`

	// PhysVirtOffset is PhysRegion.Start minus VirtRegion.Start, modulo 2^64.
	PhysVirtOffset uint64 `json:"phys_virt_offset" yaml:"phys_virt_offset"`
}

// BootArgs returns the kernel entry arguments for a user image described by
// info.
func (info ImageInfo) BootArgs() kernel.BootArgs {
	return kernel.BootArgs{
		UserImage: info.PhysRegion,
		PVOffset:  info.PhysVirtOffset,
		Entry:     info.Entry,
	}
}

// MemoryBounds returns the lowest and highest addresses covered by the
// PT_LOAD segments of f, using physical addresses if phys is set and virtual
// ones otherwise.
func MemoryBounds(f *elf.File, phys bool) (lo, hi uint64, err error) {
	lo = math.MaxUint64
	found := false
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		start := p.Vaddr
		if phys {
			start = p.Paddr
		}
		end := start + p.Memsz
		if end < start {
			return 0, 0, fmt.Errorf("%w: segment %d at %#x size %#x overflows", ErrBadSegment, i, start, p.Memsz)
		}
		lo = min(lo, start)
		hi = max(hi, end)
		found = true
	}
	if !found {
		return 0, 0, ErrNoLoadSegments
	}
	return lo, hi, nil
}

// Load unpacks the ELF image into mem so that its lowest virtual address
// lands at dest. Memory not backed by file contents is zeroed.
func Load(mem *physmem.Memory, name string, image []byte, dest addr.Paddr) (ImageInfo, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("image %q: %w", name, err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return ImageInfo{}, fmt.Errorf("image %q: %w (%v, %v)", name, ErrNotRISCV64, f.Class, f.Machine)
	}
	if !dest.IsAligned(riscv.PageBits) {
		return ImageInfo{}, fmt.Errorf("image %q: %w: %v", name, ErrUnaligned, dest)
	}

	lo, hi, err := MemoryBounds(f, false)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("image %q: %w", name, err)
	}
	vreg := addr.Vregion{Start: addr.Vaddr(lo), End: addr.Vaddr(hi).RoundUp(riscv.PageBits)}
	if vreg.End < vreg.Start {
		return ImageInfo{}, fmt.Errorf("image %q: %w: ends past the address space", name, ErrBadSegment)
	}
	size := vreg.Size()
	if !mem.Contains(dest, size) {
		return ImageInfo{}, fmt.Errorf("image %q: %w: %#x bytes at %v, memory is %v", name, ErrNoRoom, size, dest, mem.Region())
	}

	log.Infof("ELF-loading image %q to %v", name, dest)
	log.Infof("  paddr=[%v..%#x]", dest, uint64(dest)+size-1)
	log.Infof("  vaddr=[%v..%#x]", vreg.Start, uint64(vreg.End)-1)
	log.Infof("  virt_entry=%#x", f.Entry)

	for i, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Filesz > p.Memsz {
			return ImageInfo{}, fmt.Errorf("image %q: %w: segment %d file size %#x exceeds memory size %#x", name, ErrBadSegment, i, p.Filesz, p.Memsz)
		}
	}

	mem.Zero(dest, size)
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		seg := dest.Add(p.Vaddr - lo)
		if _, err := io.ReadFull(p.Open(), mem.Slice(seg, p.Filesz)); err != nil {
			return ImageInfo{}, fmt.Errorf("image %q: %w: segment %d: %v", name, ErrBadSegment, i, err)
		}
	}

	return ImageInfo{
		PhysRegion:     addr.Pregion{Start: dest, End: dest.Add(size)},
		VirtRegion:     vreg,
		Entry:          addr.Vaddr(f.Entry),
		PhysVirtOffset: uint64(dest) - lo,
	}, nil
}
