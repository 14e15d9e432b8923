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

package cap

import (
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/bits"
)

// Field layouts. Word 0 always carries the type tag in bits 59..63.
var (
	// Addresses are 39-bit Sv39 physical or virtual addresses.
	ptrField  = bits.Field{Shift: 0, Width: 39}
	asidField = bits.Field{Shift: 48, Width: 16}
	baseField = bits.Field{Shift: 9, Width: 39}

	frameSize   = bits.Field{Shift: 57, Width: 2}
	frameRights = bits.Field{Shift: 55, Width: 2}
	frameDevice = bits.Flag(54)

	ptMapped = bits.Flag(39)

	utFreeIndex = bits.Field{Shift: 25, Width: 39}
	utDevice    = bits.Flag(6)
	utSizeBits  = bits.Field{Shift: 0, Width: 6}

	cnodeGuardSize = bits.Field{Shift: 53, Width: 6}
	cnodeRadix     = bits.Field{Shift: 47, Width: 6}
	cnodePtr       = bits.Field{Shift: 0, Width: 38}
	cnodeGuard     = bits.Field{Shift: 0, Width: 64}

	threadTCB = ptrField

	poolBase = bits.Field{Shift: 43, Width: 16}
	poolPtr  = bits.Field{Shift: 0, Width: 37}
)

func paddrOf(v uint64) addr.Paddr { return addr.Paddr(v) }

// FrameSize is the size class of a frame.
type FrameSize uint64

// Frame size classes.
const (
	Frame4K FrameSize = iota
	Frame2M
	Frame1G
)

// Bits returns log2 of the frame size.
func (s FrameSize) Bits() uint {
	return PageBits + 9*uint(s)
}

// VMRights are the access rights of a frame mapping.
type VMRights uint64

// Frame rights. Unmapped frame capabilities carry VMNoRights.
const (
	VMNoRights   VMRights = 0
	VMKernelOnly VMRights = 1
	VMReadOnly   VMRights = 2
	VMReadWrite  VMRights = 3
)

// String implements fmt.Stringer.
func (r VMRights) String() string {
	switch r {
	case VMNoRights:
		return "none"
	case VMKernelOnly:
		return "kernel_only"
	case VMReadOnly:
		return "read_only"
	case VMReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("VMRights(%d)", uint64(r))
	}
}

// Mask reduces r by a user rights word.
func (r VMRights) Mask(user Rights) VMRights {
	switch {
	case r == VMReadOnly && user&AllowRead != 0:
		return VMReadOnly
	case r == VMReadWrite && user&AllowRead != 0:
		if user&AllowWrite == 0 {
			return VMReadOnly
		}
		return VMReadWrite
	default:
		return VMKernelOnly
	}
}

// Null is the empty capability.
type Null struct{}

// Type implements Info.Type.
func (Null) Type() Type { return TypeNull }

func (Null) pack() (Capability, error) { return NullCap, nil }

// Frame names a page of memory.
type Frame struct {
	ASID       uint64     `json:"asid" yaml:"asid"`
	BasePtr    addr.Paddr `json:"base_ptr" yaml:"base_ptr"`
	Size       FrameSize  `json:"size" yaml:"size"`
	Rights     VMRights   `json:"rights" yaml:"rights"`
	Device     bool       `json:"device" yaml:"device"`
	MappedAddr addr.Vaddr `json:"mapped_addr" yaml:"mapped_addr"`
}

// UnmappedFrame returns a capability to the 4 KiB page at base that is not
// mapped into any address space.
func UnmappedFrame(base addr.Paddr) Frame {
	return Frame{ASID: ASIDInvalid, BasePtr: base, Size: Frame4K, Rights: VMNoRights}
}

// Type implements Info.Type.
func (Frame) Type() Type { return TypeFrame }

// Unmapped returns true if f carries no mapping.
func (f Frame) Unmapped() bool {
	return f.Rights == VMNoRights && f.ASID == ASIDInvalid && f.MappedAddr == 0
}

func (f Frame) pack() (Capability, error) {
	b := newBuilder(TypeFrame)
	if f.Size > Frame1G {
		b.err = &FieldError{Type: TypeFrame, Field: "size", Err: fmt.Errorf("invalid size class %d", f.Size)}
	}
	if f.Rights > VMReadWrite {
		b.err = &FieldError{Type: TypeFrame, Field: "rights", Err: fmt.Errorf("invalid rights %d", f.Rights)}
	}
	b.set(0, frameSize, "size", uint64(f.Size))
	b.set(0, frameRights, "rights", uint64(f.Rights))
	b.set(0, frameDevice, "device", bits.FromBool(f.Device))
	b.set(0, ptrField, "mapped_addr", uint64(f.MappedAddr))
	b.set(1, asidField, "asid", f.ASID)
	b.set(1, baseField, "base_ptr", uint64(f.BasePtr))
	return b.done()
}

func decodeFrame(c Capability) (Info, error) {
	w0, w1 := c.Words[0], c.Words[1]
	f := Frame{
		ASID:       asidField.Get(w1),
		BasePtr:    paddrOf(baseField.Get(w1)),
		Size:       FrameSize(frameSize.Get(w0)),
		Rights:     VMRights(frameRights.Get(w0)),
		Device:     bits.Bool(frameDevice.Get(w0)),
		MappedAddr: addr.Vaddr(ptrField.Get(w0)),
	}
	if f.Size > Frame1G {
		return nil, fmt.Errorf("frame capability has invalid size class %d", f.Size)
	}
	return f, nil
}

// Untyped names a power-of-two block of unallocated memory.
type Untyped struct {
	FreeIndex uint64     `json:"free_index" yaml:"free_index"`
	Device    bool       `json:"device" yaml:"device"`
	SizeBits  uint       `json:"size_bits" yaml:"size_bits"`
	Ptr       addr.Paddr `json:"ptr" yaml:"ptr"`
}

// MaxFreeIndex is the free index of an untyped of the given size that has
// not yet been reset.
func MaxFreeIndex(sizeBits uint) uint64 {
	return 1 << (sizeBits - MinUntypedBits)
}

// Type implements Info.Type.
func (Untyped) Type() Type { return TypeUntyped }

func (u Untyped) pack() (Capability, error) {
	b := newBuilder(TypeUntyped)
	b.set(0, ptrField, "ptr", uint64(u.Ptr))
	b.set(1, utFreeIndex, "free_index", u.FreeIndex)
	b.set(1, utDevice, "device", bits.FromBool(u.Device))
	b.set(1, utSizeBits, "size_bits", uint64(u.SizeBits))
	return b.done()
}

func decodeUntyped(c Capability) Info {
	w0, w1 := c.Words[0], c.Words[1]
	return Untyped{
		FreeIndex: utFreeIndex.Get(w1),
		Device:    bits.Bool(utDevice.Get(w1)),
		SizeBits:  uint(utSizeBits.Get(w1)),
		Ptr:       paddrOf(ptrField.Get(w0)),
	}
}

// PageTable names one Sv39 page table.
type PageTable struct {
	ASID       uint64     `json:"asid" yaml:"asid"`
	BasePtr    addr.Paddr `json:"base_ptr" yaml:"base_ptr"`
	Mapped     bool       `json:"mapped" yaml:"mapped"`
	MappedAddr addr.Vaddr `json:"mapped_addr" yaml:"mapped_addr"`
}

// Type implements Info.Type.
func (PageTable) Type() Type { return TypePageTable }

func (p PageTable) pack() (Capability, error) {
	b := newBuilder(TypePageTable)
	b.set(0, ptMapped, "mapped", bits.FromBool(p.Mapped))
	b.set(0, ptrField, "mapped_addr", uint64(p.MappedAddr))
	b.set(1, asidField, "asid", p.ASID)
	b.set(1, baseField, "base_ptr", uint64(p.BasePtr))
	return b.done()
}

func decodePageTable(c Capability) Info {
	w0, w1 := c.Words[0], c.Words[1]
	return PageTable{
		ASID:       asidField.Get(w1),
		BasePtr:    paddrOf(baseField.Get(w1)),
		Mapped:     bits.Bool(ptMapped.Get(w0)),
		MappedAddr: addr.Vaddr(ptrField.Get(w0)),
	}
}

// CNode names an array of 2^Radix slots.
type CNode struct {
	Radix     uint       `json:"radix" yaml:"radix"`
	GuardSize uint       `json:"guard_size" yaml:"guard_size"`
	Guard     uint64     `json:"guard" yaml:"guard"`
	Ptr       addr.Paddr `json:"ptr" yaml:"ptr"`
}

// Type implements Info.Type.
func (CNode) Type() Type { return TypeCNode }

func (n CNode) pack() (Capability, error) {
	b := newBuilder(TypeCNode)
	b.set(0, cnodeGuardSize, "guard_size", uint64(n.GuardSize))
	b.set(0, cnodeRadix, "radix", uint64(n.Radix))
	b.setShifted(0, cnodePtr, "ptr", uint64(n.Ptr), 1)
	b.set(1, cnodeGuard, "guard", n.Guard)
	return b.done()
}

func decodeCNode(c Capability) Info {
	w0, w1 := c.Words[0], c.Words[1]
	return CNode{
		Radix:     uint(cnodeRadix.Get(w0)),
		GuardSize: uint(cnodeGuardSize.Get(w0)),
		Guard:     cnodeGuard.Get(w1),
		Ptr:       paddrOf(cnodePtr.Get(w0) << 1),
	}
}

// Thread names a thread control block.
type Thread struct {
	TCB addr.Paddr `json:"tcb" yaml:"tcb"`
}

// Type implements Info.Type.
func (Thread) Type() Type { return TypeThread }

func (t Thread) pack() (Capability, error) {
	b := newBuilder(TypeThread)
	b.set(0, threadTCB, "tcb", uint64(t.TCB))
	return b.done()
}

// ASIDControl is the authority to create ASID pools.
type ASIDControl struct{}

// Type implements Info.Type.
func (ASIDControl) Type() Type { return TypeASIDControl }

func (ASIDControl) pack() (Capability, error) { return newBuilder(TypeASIDControl).done() }

// ASIDPool names a pool of 2^ASIDLowBits address space identifiers.
type ASIDPool struct {
	ASIDBase uint64     `json:"asid_base" yaml:"asid_base"`
	Pool     addr.Paddr `json:"pool" yaml:"pool"`
}

// Type implements Info.Type.
func (ASIDPool) Type() Type { return TypeASIDPool }

func (p ASIDPool) pack() (Capability, error) {
	b := newBuilder(TypeASIDPool)
	b.set(0, poolBase, "asid_base", p.ASIDBase)
	b.setShifted(0, poolPtr, "pool", uint64(p.Pool), 2)
	return b.done()
}

func decodeASIDPool(c Capability) Info {
	w0 := c.Words[0]
	return ASIDPool{
		ASIDBase: poolBase.Get(w0),
		Pool:     paddrOf(poolPtr.Get(w0) << 2),
	}
}

// IRQControl is the authority to create IRQ handlers.
type IRQControl struct{}

// Type implements Info.Type.
func (IRQControl) Type() Type { return TypeIRQControl }

func (IRQControl) pack() (Capability, error) { return newBuilder(TypeIRQControl).done() }

// Domain is the authority to set scheduling domains.
type Domain struct{}

// Type implements Info.Type.
func (Domain) Type() Type { return TypeDomain }

func (Domain) pack() (Capability, error) { return newBuilder(TypeDomain).done() }
