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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/pagetables"
	"gvisor.dev/rvsel4/pkg/riscv"
	"gvisor.dev/rvsel4/pkg/syserr"
)

// copyArgs are the message words of a CNode copy.
type copyArgs struct {
	destIndex, destDepth uint64
	srcIndex, srcDepth   uint64
	rights               cap.Rights
}

// trap loads the registers of an ecall into the current thread and takes
// the trap.
func trap(t *testing.T, k *Kernel, cptr, info uint64, nr int64) error {
	t.Helper()
	cur, ok := k.Current()
	if !ok {
		t.Fatalf("no current thread")
	}
	cur.SetRegister(riscv.CapRegister, cptr)
	cur.SetRegister(riscv.MsgInfoRegister, info)
	cur.SetRegister(riscv.SyscallRegister, uint64(nr))
	return k.SyscallTrap()
}

// invokeCNode asks the root CNode, at cptr, to perform a CNode operation
// with the given label. The root CNode itself is passed as the extra
// capability.
func invokeCNode(t *testing.T, k *Kernel, cptr uint64, info MessageInfo, args copyArgs) *syserr.Error {
	t.Helper()
	cur, _ := k.Current()
	for i, v := range []uint64{args.destIndex, args.destDepth, args.srcIndex, args.srcDepth} {
		cur.SetRegister(riscv.MsgRegisters[i], v)
	}
	buf := &IPCBuffer{}
	buf.Msg[4] = uint64(args.rights)
	buf.CapsOrBadges[0] = cap.SlotInitThreadCNode
	if err := k.WriteIPCBuffer(cur, buf); err != nil {
		t.Fatalf("WriteIPCBuffer: %v", err)
	}
	if err := trap(t, k, cptr, info.Word(), SysCall); err != nil {
		t.Fatalf("SyscallTrap: %v", err)
	}
	if got := cur.Register(riscv.BadgeRegister); got != 0 {
		t.Errorf("badge register = %#x after reply", got)
	}
	reply := MessageInfoFromWord(cur.Register(riscv.MsgInfoRegister))
	return syserr.FromCode(syserr.Code(reply.Label))
}

func copyInfo() MessageInfo {
	return MessageInfo{Label: CNodeCopy, ExtraCaps: 1, Length: cnodeCopyArgs}
}

func TestCNodeCopy(t *testing.T) {
	k, _ := bootKernel(t, testConfig(0x90000000))
	bi, err := k.BootInfo()
	if err != nil {
		t.Fatalf("BootInfo: %v", err)
	}
	dest := bi.Empty.Start
	args := copyArgs{
		destIndex: dest,
		destDepth: riscv.WordBits,
		srcIndex:  cap.SlotInitThreadTCB,
		srcDepth:  riscv.WordBits,
		rights:    cap.AllRights,
	}
	if serr := invokeCNode(t, k, cap.SlotInitThreadCNode, copyInfo(), args); serr != nil {
		t.Fatalf("CNode copy failed: %v", serr)
	}
	if got, want := rootSlot(t, k, dest), rootSlot(t, k, cap.SlotInitThreadTCB); got != want {
		t.Errorf("copied cap = %v, want %v", got, want)
	}

	// The same copy again finds the destination occupied.
	if serr := invokeCNode(t, k, cap.SlotInitThreadCNode, copyInfo(), args); serr != syserr.DeleteFirst {
		t.Errorf("second copy = %v, want %v", serr, syserr.DeleteFirst)
	}
}

func TestCNodeCopyFrameRights(t *testing.T) {
	k, _ := bootKernel(t, testConfig(0x90000000))
	st := k.Snapshot()
	dest := uint64(1<<k.conf.RootCNodeSizeBits - 1)
	args := copyArgs{
		destIndex: dest,
		destDepth: riscv.WordBits,
		srcIndex:  cap.SlotInitThreadIPCBuffer,
		srcDepth:  riscv.WordBits,
		rights:    cap.AllowRead | cap.AllowGrant,
	}
	if serr := invokeCNode(t, k, cap.SlotInitThreadCNode, copyInfo(), args); serr != nil {
		t.Fatalf("CNode copy failed: %v", serr)
	}
	got, err := cap.As[cap.Frame](rootSlot(t, k, dest))
	if err != nil {
		t.Fatalf("copied cap: %v", err)
	}
	want := cap.Frame{BasePtr: st.RootServer.IPCBuf, Size: cap.Frame4K, Rights: cap.VMReadOnly}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("copied frame mismatch (-want +got):\n%s", diff)
	}
	// The original is untouched.
	orig, err := cap.As[cap.Frame](rootSlot(t, k, cap.SlotInitThreadIPCBuffer))
	if err != nil {
		t.Fatalf("original cap: %v", err)
	}
	if orig.Rights != cap.VMReadWrite || orig.MappedAddr != st.IPCBufferVPtr {
		t.Errorf("original frame changed: %+v", orig)
	}
}

func TestCNodeCopyErrors(t *testing.T) {
	good := copyArgs{
		destIndex: 1<<RootCNodeSizeBits - 1,
		destDepth: riscv.WordBits,
		srcIndex:  cap.SlotInitThreadTCB,
		srcDepth:  riscv.WordBits,
		rights:    cap.AllRights,
	}
	for _, tc := range []struct {
		name string
		cptr uint64
		info func(*MessageInfo)
		args func(*copyArgs)
		want *syserr.Error
	}{
		{
			name: "unknown label",
			cptr: cap.SlotInitThreadCNode,
			info: func(mi *MessageInfo) { mi.Label = CNodeCopy + 1 },
			want: syserr.IllegalOperation,
		},
		{
			name: "short message",
			cptr: cap.SlotInitThreadCNode,
			info: func(mi *MessageInfo) { mi.Length = cnodeCopyArgs - 1 },
			want: syserr.TruncatedMessage,
		},
		{
			name: "no source CNode",
			cptr: cap.SlotInitThreadCNode,
			info: func(mi *MessageInfo) { mi.ExtraCaps = 0 },
			want: syserr.TruncatedMessage,
		},
		{
			name: "occupied destination",
			cptr: cap.SlotInitThreadCNode,
			args: func(a *copyArgs) { a.destIndex = cap.SlotDomain },
			want: syserr.DeleteFirst,
		},
		{
			name: "empty source",
			cptr: cap.SlotInitThreadCNode,
			args: func(a *copyArgs) { a.srcIndex = cap.SlotIOSpace },
			want: syserr.FailedLookup,
		},
		{
			name: "zero depth",
			cptr: cap.SlotInitThreadCNode,
			args: func(a *copyArgs) { a.destDepth = 0 },
			want: syserr.RangeError,
		},
		{
			name: "depth past word size",
			cptr: cap.SlotInitThreadCNode,
			args: func(a *copyArgs) { a.srcDepth = riscv.WordBits + 1 },
			want: syserr.RangeError,
		},
		{
			name: "guard mismatch",
			cptr: cap.SlotInitThreadCNode,
			args: func(a *copyArgs) { a.srcIndex = 1 << 40 },
			want: syserr.FailedLookup,
		},
		{
			name: "uncopyable source",
			cptr: cap.SlotInitThreadCNode,
			args: func(a *copyArgs) { a.srcIndex = cap.SlotIRQControl },
			want: syserr.IllegalOperation,
		},
		{
			name: "null capability",
			cptr: cap.SlotNull,
			want: syserr.InvalidCapability,
		},
		{
			name: "not a CNode",
			cptr: cap.SlotInitThreadTCB,
			want: syserr.IllegalOperation,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, _ := bootKernel(t, testConfig(0x90000000))
			info := copyInfo()
			if tc.info != nil {
				tc.info(&info)
			}
			args := good
			if tc.args != nil {
				tc.args(&args)
			}
			if got := invokeCNode(t, k, tc.cptr, info, args); got != tc.want {
				t.Errorf("invocation = %v, want %v", got, tc.want)
			}
			if !rootSlot(t, k, good.destIndex).IsNull() {
				t.Errorf("failed invocation wrote slot %d", good.destIndex)
			}
		})
	}
}

func TestSyscallTrap(t *testing.T) {
	k, m := bootKernel(t, testConfig(0x90000000))
	cur, _ := k.Current()

	for _, c := range []byte("hi\n") {
		if err := trap(t, k, uint64(c), 0, SysDebugPutChar); err != nil {
			t.Fatalf("DebugPutChar: %v", err)
		}
	}
	if got := m.console.String(); got != "hi\n" {
		t.Errorf("console = %q, want %q", got, "hi\n")
	}
	if got, want := cur.Register(riscv.NextIP), uint64(0x80100000+3*4); got != want {
		t.Errorf("NextIP = %#x, want %#x", got, want)
	}
	if got, want := cur.Register(riscv.FaultIP), uint64(0x80100000+2*4); got != want {
		t.Errorf("FaultIP = %#x, want %#x", got, want)
	}

	for _, nr := range []int64{SysYield, SysRecv, SysDebugHalt, 7} {
		if err := trap(t, k, 0, 0, nr); !errors.Is(err, ErrNotSupported) {
			t.Errorf("syscall %d = %v, want %v", nr, err, ErrNotSupported)
		}
	}
}

func TestMessageInfo(t *testing.T) {
	for _, tc := range []struct {
		word uint64
		want MessageInfo
	}{
		{0, MessageInfo{}},
		{19<<12 | 1<<7 | 5, MessageInfo{Label: 19, ExtraCaps: 1, Length: 5}},
		{7<<12 | 2<<9 | 3<<7 | 4, MessageInfo{Label: 7, CapsUnwrapped: 2, ExtraCaps: 3, Length: 4}},
		{127, MessageInfo{Length: MsgMaxLength}},
	} {
		got := MessageInfoFromWord(tc.word)
		if got != tc.want {
			t.Errorf("MessageInfoFromWord(%#x) = %+v, want %+v", tc.word, got, tc.want)
		}
		if tc.word != 127 && got.Word() != tc.word {
			t.Errorf("%+v.Word() = %#x, want %#x", got, got.Word(), tc.word)
		}
	}
	if IPCBufferSize != 1024 {
		t.Errorf("IPCBufferSize = %d, want 1024", IPCBufferSize)
	}
}

func TestSchedule(t *testing.T) {
	k, m := bootKernel(t, testConfig(0x90000000))
	cur, _ := k.Current()
	idle, _ := k.Idle()

	k.SetAction(Action{Kind: ChooseNewThread})
	if err := k.Schedule(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Schedule(choose new) = %v, want %v", err, ErrNotSupported)
	}

	// Switching to the idle thread moves to the kernel address space.
	k.SetAction(Action{Kind: SwitchToThread, Target: idle.Ptr()})
	if err := k.Schedule(); err != nil {
		t.Fatalf("Schedule(idle): %v", err)
	}
	if got, _ := k.Current(); got.Ptr() != idle.Ptr() {
		t.Errorf("current = %v, want idle %v", got.Ptr(), idle.Ptr())
	}
	kroot, _ := k.KernelRoot()
	if got, want := m.CPU.Satp(), uint64(0); got == want {
		t.Errorf("satp cleared")
	} else if _, _, ppn := riscv.SatpFields(got); ppn != uint64(kroot)>>riscv.PageBits {
		t.Errorf("satp = %#x, want kernel root %v", got, kroot)
	}

	// A blocked thread cannot be switched to from idle.
	cur.SetState(ThreadBlockedOnReceive)
	k.SetAction(Action{Kind: SwitchToThread, Target: cur.Ptr()})
	if err := k.Schedule(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Schedule(blocked) = %v, want %v", err, ErrNotSupported)
	}

	cur.SetState(ThreadRestart)
	cur.SetRegister(riscv.FaultIP, 0x80100040)
	k.SetAction(Action{Kind: SwitchToThread, Target: cur.Ptr()})
	if err := k.Schedule(); err != nil {
		t.Fatalf("Schedule(restart): %v", err)
	}
	if err := k.ActivateThread(); err != nil {
		t.Fatalf("ActivateThread: %v", err)
	}
	if cur.State() != ThreadRunning || cur.Register(riscv.NextIP) != 0x80100040 {
		t.Errorf("restarted thread in %v at %#x", cur.State(), cur.Register(riscv.NextIP))
	}
	if got, want := m.CPU.Satp(), pagetables.Satp(k.Snapshot().RootServer.VSpace, cap.ITASID); got != want {
		t.Errorf("satp = %#x, want %#x", got, want)
	}

	cur.SetState(ThreadBlockedOnSend)
	if err := k.ActivateThread(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ActivateThread(blocked) = %v, want %v", err, ErrNotSupported)
	}
}
