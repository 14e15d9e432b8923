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
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/binary"
	"gvisor.dev/rvsel4/pkg/bits"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/riscv"
	"gvisor.dev/rvsel4/pkg/syserr"
)

// Syscall numbers. The basic syscalls occupy [SysNBRecv, SysCall].
const (
	SysCall               = -1
	SysReplyRecv          = -2
	SysSend               = -3
	SysNBSend             = -4
	SysRecv               = -5
	SysReply              = -6
	SysYield              = -7
	SysNBRecv             = -8
	SysDebugPutChar       = -9
	SysDebugDumpScheduler = -10
	SysDebugHalt          = -11

	basicSyscallMin = SysNBRecv
	basicSyscallMax = SysCall
)

// Invocation labels.
const (
	InvalidInvocation = 0
	CNodeCopy         = 19
)

// cnodeCopyArgs is the message length of a CNode copy.
const cnodeCopyArgs = 5

var (
	msgLabel         = bits.Field{Shift: 12, Width: 52}
	msgCapsUnwrapped = bits.Field{Shift: 9, Width: 3}
	msgExtraCaps     = bits.Field{Shift: 7, Width: 2}
	msgLength        = bits.Field{Shift: 0, Width: 7}
)

// MsgMaxLength is the number of message words an IPC buffer holds.
const MsgMaxLength = 120

// MsgMaxExtraCaps is the number of capabilities a message may carry.
const MsgMaxExtraCaps = 3

// MessageInfo is the tag word of a message.
type MessageInfo struct {
	Label         uint64
	CapsUnwrapped uint64
	ExtraCaps     uint64
	Length        uint64
}

// MessageInfoFromWord unpacks w. Lengths beyond the IPC buffer are clamped.
func MessageInfoFromWord(w uint64) MessageInfo {
	mi := MessageInfo{
		Label:         msgLabel.Get(w),
		CapsUnwrapped: msgCapsUnwrapped.Get(w),
		ExtraCaps:     msgExtraCaps.Get(w),
		Length:        msgLength.Get(w),
	}
	if mi.Length > MsgMaxLength {
		mi.Length = MsgMaxLength
	}
	return mi
}

// Word packs mi. Fields wider than their slot are truncated.
func (mi MessageInfo) Word() uint64 {
	put := func(f bits.Field, v uint64) uint64 { return v << f.Shift & f.Mask() }
	return put(msgLabel, mi.Label) |
		put(msgCapsUnwrapped, mi.CapsUnwrapped) |
		put(msgExtraCaps, mi.ExtraCaps) |
		put(msgLength, mi.Length)
}

// IPCBuffer is the layout of a thread's IPC buffer.
type IPCBuffer struct {
	Tag          uint64
	Msg          [MsgMaxLength]uint64
	UserData     uint64
	CapsOrBadges [MsgMaxExtraCaps]uint64
	ReceiveCNode uint64
	ReceiveIndex uint64
	ReceiveDepth uint64
}

// IPCBufferSize is the size of an IPC buffer.
var IPCBufferSize = uint64(binary.Size(IPCBuffer{}))

// lookupIPCBuffer returns the physical address of thread's IPC buffer, as
// reachable through its buffer capability.
func (k *Kernel) lookupIPCBuffer(isReceiver bool, thread TCB) (addr.Paddr, bool) {
	f, err := cap.As[cap.Frame](thread.Slot(cap.TCBBuffer).Cap())
	if err != nil || f.Device {
		return 0, false
	}
	if f.Rights != cap.VMReadWrite && (f.Rights != cap.VMReadOnly || isReceiver) {
		return 0, false
	}
	v := thread.Inner().IPCBuffer
	off := uint64(v) & bits.LowMask64(f.Size.Bits())
	if off+IPCBufferSize > 1<<f.Size.Bits() {
		return 0, false
	}
	return f.BasePtr.Add(off), true
}

// readIPCBuffer loads the IPC buffer at p.
func (k *Kernel) readIPCBuffer(p addr.Paddr) *IPCBuffer {
	var b IPCBuffer
	binary.Decode(k.mem.Slice(p, IPCBufferSize), &b)
	return &b
}

// WriteIPCBuffer stores b as thread's IPC buffer.
func (k *Kernel) WriteIPCBuffer(thread TCB, b *IPCBuffer) error {
	p, ok := k.lookupIPCBuffer(false, thread)
	if !ok {
		return fmt.Errorf("thread %v has no IPC buffer", thread.Ptr())
	}
	binary.Encode(k.mem.Slice(p, IPCBufferSize), b)
	return nil
}

// syscallArg returns message word i of the current invocation.
func syscallArg(i int, thread TCB, buf *IPCBuffer) uint64 {
	if i < len(riscv.MsgRegisters) {
		return thread.Register(riscv.MsgRegisters[i])
	}
	if buf == nil {
		return 0
	}
	return buf.Msg[i]
}

// lookupExtraCaps resolves the capabilities named in the IPC buffer.
func (k *Kernel) lookupExtraCaps(thread TCB, buf *IPCBuffer, info MessageInfo) ([]cap.Slot, *syserr.Error) {
	if buf == nil || info.ExtraCaps == 0 {
		return nil, nil
	}
	slots := make([]cap.Slot, 0, info.ExtraCaps)
	for i := uint64(0); i < info.ExtraCaps; i++ {
		s, serr := k.lookupSlot(thread, buf.CapsOrBadges[i])
		if serr != nil {
			return nil, serr
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// HandleSyscall runs syscall for the current thread. Invocation errors are
// delivered to the caller in its registers; the returned error reports
// syscalls the kernel cannot handle.
func (k *Kernel) HandleSyscall(cptr, msgInfo uint64, syscall int64) error {
	cur, ok := k.Current()
	if !ok {
		return ErrNotBooted
	}
	if syscall >= basicSyscallMin && syscall <= basicSyscallMax {
		return k.handleBasicSyscall(cur, cptr, msgInfo, syscall)
	}
	return k.handleUnknownSyscall(cptr, syscall)
}

// SyscallTrap handles an ecall by the current thread: the arguments are
// taken from its registers and it resumes after the ecall.
func (k *Kernel) SyscallTrap() error {
	cur, ok := k.Current()
	if !ok {
		return ErrNotBooted
	}
	var cptr, info, nr uint64
	cur.Update(func(in *TCBInner) {
		cptr = in.Registers[riscv.CapRegister]
		info = in.Registers[riscv.MsgInfoRegister]
		nr = in.Registers[riscv.SyscallRegister]
		in.Registers[riscv.FaultIP] = in.Registers[riscv.NextIP]
		in.Registers[riscv.NextIP] += 4
	})
	if err := k.HandleSyscall(cptr, info, int64(nr)); err != nil {
		return err
	}
	if err := k.Schedule(); err != nil {
		return err
	}
	return k.ActivateThread()
}

func (k *Kernel) handleBasicSyscall(cur TCB, cptr, msgInfo uint64, syscall int64) error {
	switch syscall {
	case SysCall:
		k.handleInvocation(cur, cptr, msgInfo)
		return nil
	default:
		return fmt.Errorf("%w: basic syscall %d", ErrNotSupported, syscall)
	}
}

func (k *Kernel) handleUnknownSyscall(cptr uint64, syscall int64) error {
	switch syscall {
	case SysDebugPutChar:
		if k.console == nil {
			return nil
		}
		_, err := k.console.Write([]byte{byte(cptr)})
		return err
	default:
		return fmt.Errorf("%w: unknown syscall %d", ErrNotSupported, syscall)
	}
}

// handleInvocation decodes and performs an invocation of the capability at
// cptr, then replies to the caller.
func (k *Kernel) handleInvocation(cur TCB, cptr, msgInfo uint64) {
	info := MessageInfoFromWord(msgInfo)
	serr := k.invoke(cur, cptr, info)
	if serr != nil {
		log.Debugf("invocation of %#x (label %d) failed: %v", cptr, info.Label, serr)
	}
	k.replyFromKernel(cur, serr)
}

func (k *Kernel) invoke(cur TCB, cptr uint64, info MessageInfo) *syserr.Error {
	slot, serr := k.lookupSlot(cur, cptr)
	if serr != nil {
		log.Debugf("invocation of %#x: lookup failed", cptr)
		return syserr.InvalidCapability
	}
	var buf *IPCBuffer
	if p, ok := k.lookupIPCBuffer(false, cur); ok {
		buf = k.readIPCBuffer(p)
	}
	extra, serr := k.lookupExtraCaps(cur, buf, info)
	if serr != nil {
		return serr
	}
	if buf == nil && info.Length > uint64(len(riscv.MsgRegisters)) {
		info.Length = uint64(len(riscv.MsgRegisters))
	}
	return k.decodeInvocation(cur, info, cptr, slot, extra, buf)
}

func (k *Kernel) decodeInvocation(cur TCB, info MessageInfo, cptr uint64, slot cap.Slot, extra []cap.Slot, buf *IPCBuffer) *syserr.Error {
	c := slot.Cap()
	switch c.Type() {
	case cap.TypeNull:
		log.Debugf("attempted to invoke a null cap %#x", cptr)
		return syserr.InvalidCapability
	case cap.TypeCNode:
		return k.decodeCNodeInvocation(cur, info, c, extra, buf)
	default:
		log.Debugf("invocation of %v cap %#x not supported", c.Type(), cptr)
		return syserr.IllegalOperation
	}
}

// decodeCNodeInvocation performs a CNode copy: the capability at
// (srcIndex, srcDepth) under the first extra capability is copied, with
// its rights masked, to (destIndex, destDepth) under the invoked CNode.
func (k *Kernel) decodeCNodeInvocation(cur TCB, info MessageInfo, cnode cap.Capability, extra []cap.Slot, buf *IPCBuffer) *syserr.Error {
	if info.Label != CNodeCopy {
		log.Debugf("CNode invocation: illegal operation %d", info.Label)
		return syserr.IllegalOperation
	}
	if info.Length < cnodeCopyArgs || len(extra) < 1 {
		log.Debugf("CNode copy: truncated message (%d words, %d caps)", info.Length, len(extra))
		return syserr.TruncatedMessage
	}
	destIndex := syscallArg(0, cur, buf)
	destDepth := syscallArg(1, cur, buf)
	srcIndex := syscallArg(2, cur, buf)
	srcDepth := syscallArg(3, cur, buf)
	rights := cap.Rights(syscallArg(4, cur, buf))

	dest, serr := k.lookupTargetSlot(cnode, destIndex, destDepth)
	if serr != nil {
		return serr
	}
	if !dest.Cap().IsNull() {
		log.Debugf("CNode copy: destination %#x not empty", destIndex)
		return syserr.DeleteFirst
	}
	srcRoot := extra[0].Cap()
	src, serr := k.lookupTargetSlot(srcRoot, srcIndex, srcDepth)
	if serr != nil {
		return serr
	}
	srcCap := src.Cap()
	if srcCap.IsNull() {
		log.Debugf("CNode copy: source %#x is empty", srcIndex)
		return syserr.FailedLookup
	}
	newCap, serr := deriveCap(maskCapRights(rights, srcCap))
	if serr != nil {
		return serr
	}
	if newCap.IsNull() {
		log.Debugf("CNode copy: %v cap %#x cannot be copied", srcCap.Type(), srcIndex)
		return syserr.IllegalOperation
	}
	cteInsert(newCap, src, dest)
	return nil
}

// replyFromKernel writes the result of an invocation into the caller's
// registers. An error is reported as the message label.
func (k *Kernel) replyFromKernel(cur TCB, serr *syserr.Error) {
	cur.Update(func(in *TCBInner) {
		in.Registers[riscv.BadgeRegister] = 0
		in.Registers[riscv.MsgInfoRegister] = MessageInfo{Label: uint64(serr.Code())}.Word()
	})
}
