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

package kernel

import (
	"bytes"
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/binary"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/physmem"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// TCBOffset is the offset of the thread fields inside a TCB block. The
// TCB's own slots occupy the bytes below it.
const TCBOffset = 1 << (cap.TCBBits - 1)

// ThreadState is the scheduling state of a thread.
type ThreadState uint64

// Thread states.
const (
	ThreadInactive ThreadState = iota
	ThreadRunning
	ThreadRestart
	ThreadBlockedOnReceive
	ThreadBlockedOnSend
	ThreadBlockedOnReply
	ThreadBlockedOnNotification
	ThreadIdle
)

var threadStateNames = [...]string{
	ThreadInactive:              "inactive",
	ThreadRunning:               "running",
	ThreadRestart:               "restart",
	ThreadBlockedOnReceive:      "blocked_on_receive",
	ThreadBlockedOnSend:         "blocked_on_send",
	ThreadBlockedOnReply:        "blocked_on_reply",
	ThreadBlockedOnNotification: "blocked_on_notification",
	ThreadIdle:                  "idle",
}

// String implements fmt.Stringer.
func (s ThreadState) String() string {
	if int(s) < len(threadStateNames) {
		return threadStateNames[s]
	}
	return fmt.Sprintf("ThreadState(%d)", uint64(s))
}

// Runnable returns true for states the scheduler may pick.
func (s ThreadState) Runnable() bool {
	return s == ThreadRunning || s == ThreadRestart
}

// TCBNameLen is the size of the name field.
const TCBNameLen = 32

// TCBInner is the in-memory layout of the thread fields.
type TCBInner struct {
	Registers [riscv.NumContextRegisters]uint64
	State     ThreadState
	Priority  uint64
	MCP       uint64
	Domain    uint64
	IPCBuffer addr.Vaddr
	Name      [TCBNameLen]byte
}

var tcbInnerSize = uint64(binary.Size(TCBInner{}))

func init() {
	if tcbInnerSize > (1<<cap.TCBBits)-TCBOffset {
		panic(fmt.Sprintf("TCB fields need %d bytes, only %d available", tcbInnerSize, (1<<cap.TCBBits)-TCBOffset))
	}
	if cap.TCBCNodeEntries<<cap.SlotBits > TCBOffset {
		panic("TCB slots overlap the thread fields")
	}
}

// TCB is a handle on a thread control block in physical memory. Its address
// is that of the thread fields, TCBOffset bytes into the block; this is the
// address thread capabilities carry.
type TCB struct {
	mem *physmem.Memory
	ptr addr.Paddr
}

// TCBAt returns the TCB whose thread fields are at ptr.
func TCBAt(mem *physmem.Memory, ptr addr.Paddr) TCB {
	if ptr.RoundDown(cap.TCBBits).Add(TCBOffset) != ptr {
		panic(fmt.Sprintf("TCB pointer %v is not at offset %#x of a TCB block", ptr, TCBOffset))
	}
	return TCB{mem: mem, ptr: ptr}
}

// newTCB zeroes the block at block and returns its TCB.
func newTCB(mem *physmem.Memory, block addr.Paddr) TCB {
	if !block.IsAligned(cap.TCBBits) {
		panic(fmt.Sprintf("TCB block %v not aligned", block))
	}
	mem.Zero(block, 1<<cap.TCBBits)
	return TCBAt(mem, block.Add(TCBOffset))
}

// Ptr returns the address of the thread fields.
func (t TCB) Ptr() addr.Paddr {
	return t.ptr
}

// Block returns the address of the whole TCB block.
func (t TCB) Block() addr.Paddr {
	return t.ptr.RoundDown(cap.TCBBits)
}

// Slot returns one of the TCB's own slots (cap.TCBCTable etc).
func (t TCB) Slot(i uint64) cap.Slot {
	if i >= cap.TCBCNodeEntries {
		panic(fmt.Sprintf("TCB slot %d out of range", i))
	}
	return cap.SlotAt(t.mem, t.Block(), i)
}

// Inner loads the thread fields.
func (t TCB) Inner() TCBInner {
	var in TCBInner
	binary.Decode(t.mem.Slice(t.ptr, tcbInnerSize), &in)
	return in
}

// SetInner stores the thread fields.
func (t TCB) SetInner(in *TCBInner) {
	binary.Encode(t.mem.Slice(t.ptr, tcbInnerSize), in)
}

// Update applies fn to the thread fields.
func (t TCB) Update(fn func(in *TCBInner)) {
	in := t.Inner()
	fn(&in)
	t.SetInner(&in)
}

// Register returns a saved register.
func (t TCB) Register(r riscv.Reg) uint64 {
	return t.Inner().Registers[r]
}

// SetRegister sets a saved register.
func (t TCB) SetRegister(r riscv.Reg, v uint64) {
	t.Update(func(in *TCBInner) { in.Registers[r] = v })
}

// State returns the thread state.
func (t TCB) State() ThreadState {
	return t.Inner().State
}

// SetState sets the thread state.
func (t TCB) SetState(s ThreadState) {
	t.Update(func(in *TCBInner) { in.State = s })
}

// Name returns the thread name.
func (t TCB) Name() string {
	in := t.Inner()
	name, _, _ := bytes.Cut(in.Name[:], []byte{0})
	return string(name)
}

// setName stores name, truncated so that it stays NUL terminated.
func (in *TCBInner) setName(name string) {
	in.Name = [TCBNameLen]byte{}
	copy(in.Name[:TCBNameLen-1], name)
}

// initContext sets up the register file of a new user thread.
func (in *TCBInner) initContext() {
	in.Registers = [riscv.NumContextRegisters]uint64{}
	in.Registers[riscv.SSTATUS] = riscv.SstatusSPIE
}
