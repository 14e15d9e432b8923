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
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// ActionKind is the kind of a pending scheduler action.
type ActionKind int

// Scheduler actions.
const (
	// ResumeCurrentThread keeps running the current thread.
	ResumeCurrentThread ActionKind = iota

	// ChooseNewThread picks the best runnable thread.
	ChooseNewThread

	// SwitchToThread switches to Action.Target.
	SwitchToThread
)

// String implements fmt.Stringer.
func (a ActionKind) String() string {
	switch a {
	case ResumeCurrentThread:
		return "resume_current_thread"
	case ChooseNewThread:
		return "choose_new_thread"
	case SwitchToThread:
		return "switch_to_thread"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(a))
	}
}

// Action is the scheduler decision taken on the next Schedule.
type Action struct {
	Kind   ActionKind
	Target addr.Paddr
}

// scheduler holds the current and idle threads and the pending action.
type scheduler struct {
	cur    addr.Paddr
	idle   addr.Paddr
	action Action
}

// Current returns the running thread, or false before boot has created one.
func (k *Kernel) Current() (TCB, bool) {
	if k.sched.cur == 0 {
		return TCB{}, false
	}
	return TCBAt(k.mem, k.sched.cur), true
}

// Idle returns the idle thread.
func (k *Kernel) Idle() (TCB, bool) {
	if k.sched.idle == 0 {
		return TCB{}, false
	}
	return TCBAt(k.mem, k.sched.idle), true
}

// Action returns the pending scheduler action.
func (k *Kernel) Action() Action {
	return k.sched.action
}

// SetAction sets the pending scheduler action.
func (k *Kernel) SetAction(a Action) {
	k.sched.action = a
}

// Schedule carries out the pending action and resets it to
// ResumeCurrentThread. Only switching to a given thread is supported; the
// run queues do not exist.
func (k *Kernel) Schedule() error {
	a := k.sched.action
	switch a.Kind {
	case ResumeCurrentThread:
	case SwitchToThread:
		target := TCBAt(k.mem, a.Target)
		cur, ok := k.Current()
		if ok && cur.ptr == k.sched.idle && !target.State().Runnable() {
			return fmt.Errorf("%w: switch from idle to %s thread %v", ErrNotSupported, target.State(), target.ptr)
		}
		if err := k.switchToThread(target); err != nil {
			return err
		}
	case ChooseNewThread:
		return fmt.Errorf("%w: choosing a new thread", ErrNotSupported)
	default:
		panic(fmt.Sprintf("unknown scheduler action %v", a.Kind))
	}
	k.sched.action = Action{Kind: ResumeCurrentThread}
	return nil
}

func (k *Kernel) switchToThread(t TCB) error {
	log.Debugf("switching to thread %v (%s)", t.ptr, t.Name())
	if err := k.setVMRoot(t); err != nil {
		return err
	}
	k.sched.cur = t.ptr
	return nil
}

// ActivateThread prepares the current thread for the return to user mode.
func (k *Kernel) ActivateThread() error {
	cur, ok := k.Current()
	if !ok {
		return ErrNotBooted
	}
	switch s := cur.State(); s {
	case ThreadRunning, ThreadIdle:
		return nil
	case ThreadRestart:
		cur.Update(func(in *TCBInner) {
			in.Registers[riscv.NextIP] = in.Registers[riscv.FaultIP]
			in.State = ThreadRunning
		})
		return nil
	default:
		return fmt.Errorf("%w: activating a %s thread", ErrNotSupported, s)
	}
}

// setVMRoot installs the address space of t. A thread without a valid
// VSpace runs in the kernel address space.
func (k *Kernel) setVMRoot(t TCB) error {
	vt := t.Slot(cap.TCBVTable).Cap()
	pt, err := cap.As[cap.PageTable](vt)
	if err != nil || !pt.Mapped {
		k.kpt.Activate()
		return nil
	}
	root, ok := k.findVSpaceForASID(pt.ASID)
	if !ok || root != pt.BasePtr {
		log.Warningf("thread %v has a stale VSpace %v for ASID %d", t.ptr, pt.BasePtr, pt.ASID)
		k.kpt.Activate()
		return nil
	}
	k.pt.Activate(root, pt.ASID)
	return nil
}
