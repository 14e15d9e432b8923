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

// Package kernel boots a capability microkernel on a RISC-V Sv39 machine.
//
// Boot takes the available physical memory, the kernel image and a loaded
// user image and builds the initial thread from it: its CNode with the
// well-known capabilities, its page tables, boot-info and IPC buffer
// frames, its ASID pool and TCB, and untyped capabilities for all memory
// left over. Control is then handed to the scheduler.
//
// All kernel objects live in a physmem.Memory window and are only reached
// through it. A Kernel boots once.
package kernel

import (
	"fmt"
	"io"
	"time"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/pagetables"
	"gvisor.dev/rvsel4/pkg/physmem"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// Kernel is the state of one kernel instance.
type Kernel struct {
	conf    Config
	mem     *physmem.Memory
	cpu     *riscv.CPU
	console io.Writer

	// pt is the page table walker over mem; kpt is the kernel's own root.
	pt  *pagetables.Tables
	kpt *pagetables.KernelTable

	// heap is the bump allocator over the kernel statics.
	heap addr.Pregion

	booted    bool
	state     BootState
	bi        BootInfo
	sched     scheduler
	asidTable [numASIDPools]addr.Paddr

	overflowLog *log.LimitedLogger
}

// New returns a kernel for machine. conf is validated here; the memory
// window must cover the available region.
func New(conf Config, m Machine) (*Kernel, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if m.Mem == nil || m.CPU == nil {
		return nil, fmt.Errorf("%w: machine without memory or CPU", ErrBadConfig)
	}
	if !m.Mem.Contains(conf.Avail.Start, conf.Avail.Size()) {
		return nil, fmt.Errorf("%w: memory window %v does not cover %v", ErrBadConfig, m.Mem.Region(), conf.Avail)
	}
	return &Kernel{
		conf:        conf,
		mem:         m.Mem,
		cpu:         m.CPU,
		console:     m.Console,
		pt:          pagetables.New(m.Mem, m.CPU),
		overflowLog: log.BasicRateLimitedLogger(time.Second),
	}, nil
}

// Config returns the kernel configuration.
func (k *Kernel) Config() Config {
	return k.conf
}

// Memory returns the physical memory window.
func (k *Kernel) Memory() *physmem.Memory {
	return k.mem
}

// PageTables returns the page table walker.
func (k *Kernel) PageTables() *pagetables.Tables {
	return k.pt
}

// KernelRoot returns the kernel's root page table.
func (k *Kernel) KernelRoot() (addr.Paddr, error) {
	if k.kpt == nil {
		return 0, ErrNotBooted
	}
	return k.kpt.Root(), nil
}

// clearBSS zeroes the kernel statics and resets the bump heap over them.
func (k *Kernel) clearBSS() {
	k.mem.Zero(k.conf.KernelStatics.Start, k.conf.KernelStatics.Size())
	k.heap = k.conf.KernelStatics
}

// allocStatic returns 2^sizeBits naturally aligned bytes of kernel statics.
func (k *Kernel) allocStatic(sizeBits uint) (addr.Paddr, error) {
	p := k.heap.Start.RoundUp(sizeBits)
	end := p.Add(1 << sizeBits)
	if p < k.heap.Start || end > k.heap.End {
		return 0, fmt.Errorf("%w: 2^%d bytes wanted, %v left", ErrStaticsExhausted, sizeBits, k.heap)
	}
	k.heap.Start = end
	return p, nil
}

// mapKernelWindow builds the kernel page table.
func (k *Kernel) mapKernelWindow() error {
	root, err := k.allocStatic(riscv.PageBits)
	if err != nil {
		return fmt.Errorf("kernel root page table: %w", err)
	}
	k.kpt = pagetables.NewKernelTable(k.pt, root)
	k.kpt.MapKernelWindow(k.conf.KernelImage.Start)
	return nil
}

// initCPU switches to the kernel address space and enables the timer and
// external interrupts.
func (k *Kernel) initCPU() {
	k.kpt.Activate()
	k.cpu.SetSIE(riscv.SIETimer | riscv.SIEExternal)
}

// InitKernel boots the kernel. A boot failure leaves no usable kernel
// behind, so it is fatal.
func (k *Kernel) InitKernel(args BootArgs) {
	if err := k.TryInitKernel(args); err != nil {
		log.Warningf("ERROR: %v", err)
		panic(fmt.Sprintf("kernel init failed: %v", err))
	}
}

// TryInitKernel runs the boot pipeline. On return the initial thread is
// the current thread.
func (k *Kernel) TryInitKernel(args BootArgs) error {
	if k.booted {
		return ErrAlreadyBooted
	}
	k.booted = true

	k.clearBSS()
	if err := k.mapKernelWindow(); err != nil {
		return err
	}
	k.initCPU()
	log.Infof("Bootstrapping kernel")

	uiReg := args.UserImage
	if uiReg.Start > uiReg.End || !uiReg.Start.IsAligned(riscv.PageBits) || !uiReg.End.IsAligned(riscv.PageBits) {
		return fmt.Errorf("%w: %v is not a page-aligned region", ErrUserImage, uiReg)
	}
	uiV, itV := InitialThreadRegions(args)
	ipcBuf := uiV.End
	biFrame := ipcBuf.Add(riscv.PageSize)
	if itV.End >= k.conf.UserTop {
		return fmt.Errorf("%w: %v reaches %v", ErrUserImageTooHigh, itV, k.conf.UserTop)
	}
	k.state.UIVReg = uiV
	k.state.ITVReg = itV
	k.state.IPCBufferVPtr = ipcBuf
	k.state.BIFrameVPtr = biFrame
	if args.DTBSize != 0 {
		k.state.DTB = addr.Pregion{Start: args.DTB, End: args.DTB.Add(args.DTBSize)}
	}

	reserved := []addr.Pregion{k.conf.KernelImage, uiReg}
	fm, err := InitFreemem(k.mem, reserved, k.conf.Avail, itV, k.conf.RootCNodeSizeBits, k.conf.ExtraBISizeBits)
	if err != nil {
		return err
	}
	k.state.RootServer = fm.RootServer
	k.state.Reserved = fm.Reserved
	k.state.Freemem = fm.Free
	log.Debugf("rootserver: %+v", fm.RootServer)

	root, err := k.createRootCNode()
	if err != nil {
		return err
	}
	root.WriteSlotAt(cap.SlotDomain, cap.MustEncode(cap.Domain{}))
	root.WriteSlotAt(cap.SlotIRQControl, cap.MustEncode(cap.IRQControl{}))

	k.populateBIFrame(0, 1, ipcBuf)
	k.state.SlotPosCur = cap.NumInitialCaps

	vspace, err := k.createITAddressSpace(root)
	if err != nil {
		return err
	}
	biCap, err := k.createMappedITFrameCap(vspace, k.state.RootServer.BootInfo, biFrame, false)
	if err != nil {
		return fmt.Errorf("boot info frame: %w", err)
	}
	root.WriteSlotAt(cap.SlotBootInfoFrame, biCap)
	k.mem.Zero(k.state.RootServer.IPCBuf, riscv.PageSize)
	ipcCap, err := k.createMappedITFrameCap(vspace, k.state.RootServer.IPCBuf, ipcBuf, false)
	if err != nil {
		return fmt.Errorf("IPC buffer frame: %w", err)
	}
	root.WriteSlotAt(cap.SlotInitThreadIPCBuffer, ipcCap)
	frames, err := k.createFramesOfRegion(root, vspace, uiReg, true, args.PVOffset)
	if err != nil {
		return fmt.Errorf("user image: %w", err)
	}
	log.Debugf("user image frames in slots [%d, %d)", frames.Start, frames.End)

	pool := k.createITASIDPool(root)
	k.writeITASIDPool(pool, vspace)

	if err := k.createIdleThread(); err != nil {
		return err
	}
	initial, err := k.createInitialThread(root, vspace, ipcCap, args.Entry, biFrame, ipcBuf)
	if err != nil {
		return err
	}

	if err := k.createUntypeds(root); err != nil {
		return err
	}
	k.finalizeBootInfo()
	log.Infof("Booting all finished, dropped to user space")

	k.sched.action = Action{Kind: SwitchToThread, Target: initial.Ptr()}
	if err := k.Schedule(); err != nil {
		return err
	}
	return k.ActivateThread()
}

// InitialThreadRegions returns the virtual extent of the user image and of
// the whole initial thread: the image followed by its IPC buffer and
// boot-info frame.
func InitialThreadRegions(args BootArgs) (uiV, itV addr.Vregion) {
	uiV = args.UserImage.ToVregion(args.PVOffset)
	biFrame := uiV.End.Add(riscv.PageSize)
	return uiV, addr.Vregion{Start: uiV.Start, End: biFrame.Add(1 << cap.BIFrameSizeBits)}
}

// createIdleThread sets up the idle thread in the kernel statics and makes
// it the current thread.
func (k *Kernel) createIdleThread() error {
	block, err := k.allocStatic(cap.TCBBits)
	if err != nil {
		return fmt.Errorf("idle thread: %w", err)
	}
	idle := newTCB(k.mem, block)
	idle.Update(func(in *TCBInner) {
		in.Registers[riscv.NextIP] = uint64(k.conf.KernelImage.Start)
		in.Registers[riscv.SSTATUS] = riscv.SstatusSPP | riscv.SstatusSPIE
		in.State = ThreadIdle
		in.setName("idle_thread")
	})
	k.sched.idle = idle.Ptr()
	k.sched.cur = idle.Ptr()
	return nil
}

// createInitialThread builds the initial thread's TCB and provides its
// capability.
func (k *Kernel) createInitialThread(root cap.Table, vspace, ipcCap cap.Capability, entry addr.Vaddr, biFrame, ipcBuf addr.Vaddr) (TCB, error) {
	tcb := newTCB(k.mem, k.state.RootServer.TCB)

	dc, serr := deriveCap(ipcCap)
	if serr != nil {
		return TCB{}, fmt.Errorf("deriving the IPC buffer capability: %v", serr)
	}
	cteInsert(root.MustSlot(cap.SlotInitThreadCNode).Cap(), root.MustSlot(cap.SlotInitThreadCNode), tcb.Slot(cap.TCBCTable))
	cteInsert(vspace, root.MustSlot(cap.SlotInitThreadVSpace), tcb.Slot(cap.TCBVTable))
	cteInsert(dc, root.MustSlot(cap.SlotInitThreadIPCBuffer), tcb.Slot(cap.TCBBuffer))

	tcb.Update(func(in *TCBInner) {
		in.initContext()
		in.IPCBuffer = ipcBuf
		in.Registers[riscv.A0] = uint64(biFrame)
		in.Registers[riscv.NextIP] = uint64(entry)
		in.Priority = MaxPriority
		in.MCP = MaxPriority
		in.State = ThreadRunning
		in.setName("rootserver")
	})

	c, err := cap.Encode(cap.Thread{TCB: tcb.Ptr()})
	if err != nil {
		return TCB{}, err
	}
	root.WriteSlotAt(cap.SlotInitThreadTCB, c)
	return tcb, nil
}
