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
	"io"
	"text/tabwriter"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// SlotDump describes one non-null slot of the root CNode.
type SlotDump struct {
	Index uint64    `json:"index" yaml:"index"`
	Type  string    `json:"type" yaml:"type"`
	Words [2]string `json:"words" yaml:"words"`
	Info  cap.Info  `json:"info,omitempty" yaml:"info,omitempty"`
}

// ThreadDump describes a thread.
type ThreadDump struct {
	TCB      addr.Paddr `json:"tcb" yaml:"tcb"`
	Name     string     `json:"name" yaml:"name"`
	State    string     `json:"state" yaml:"state"`
	Priority uint64     `json:"priority" yaml:"priority"`
	NextIP   addr.Vaddr `json:"next_ip" yaml:"next_ip"`
	Current  bool       `json:"current" yaml:"current"`
}

// Dump is a structured view of a booted kernel.
type Dump struct {
	State    BootState     `json:"state" yaml:"state"`
	BootInfo BootInfo      `json:"boot_info" yaml:"boot_info"`
	Untypeds []UntypedDesc `json:"untypeds" yaml:"untypeds"`
	Threads  []ThreadDump  `json:"threads" yaml:"threads"`
	Slots    []SlotDump    `json:"slots" yaml:"slots"`
}

// Dump returns a structured view of the boot result.
func (k *Kernel) Dump() (*Dump, error) {
	bi, err := k.BootInfo()
	if err != nil {
		return nil, err
	}
	root, err := k.RootCNode()
	if err != nil {
		return nil, err
	}
	d := &Dump{
		State:    k.Snapshot(),
		BootInfo: bi,
		Untypeds: append([]UntypedDesc(nil), bi.Descriptors(k.state.NumUntypedDescriptors)...),
	}
	for _, p := range []addr.Paddr{k.sched.idle, k.state.RootServer.TCB.Add(TCBOffset)} {
		t := TCBAt(k.mem, p)
		in := t.Inner()
		d.Threads = append(d.Threads, ThreadDump{
			TCB:      p,
			Name:     t.Name(),
			State:    in.State.String(),
			Priority: in.Priority,
			NextIP:   addr.Vaddr(in.Registers[riscv.NextIP]),
			Current:  p == k.sched.cur,
		})
	}
	root.ForEach(func(i uint64, s cap.Slot) {
		c := s.Cap()
		sd := SlotDump{
			Index: i,
			Type:  c.Type().String(),
			Words: [2]string{fmt.Sprintf("%#016x", c.Words[0]), fmt.Sprintf("%#016x", c.Words[1])},
		}
		if info, err := c.Decode(); err == nil {
			sd.Info = info
		}
		d.Slots = append(d.Slots, sd)
	})
	return d, nil
}

// DebugDump writes a human-readable description of the boot-info frame
// and every non-null slot of the root CNode to w.
func (k *Kernel) DebugDump(w io.Writer) error {
	d, err := k.Dump()
	if err != nil {
		return err
	}
	bi := &d.BootInfo
	fmt.Fprintf(w, "boot info at %v:\n", k.state.BootInfoFrame)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  extra_len\t%d\n", bi.ExtraLen)
	fmt.Fprintf(tw, "  node_id\t%d\n", bi.NodeID)
	fmt.Fprintf(tw, "  num_nodes\t%d\n", bi.NumNodes)
	fmt.Fprintf(tw, "  num_io_pt_levels\t%d\n", bi.NumIOPTLevels)
	fmt.Fprintf(tw, "  ipc_buffer\t%#x\n", bi.IPCBuffer)
	fmt.Fprintf(tw, "  empty\t[%d, %d)\n", bi.Empty.Start, bi.Empty.End)
	fmt.Fprintf(tw, "  init_thread_cnode_size_bits\t%d\n", bi.InitThreadCNodeSizeBits)
	fmt.Fprintf(tw, "  untyped\t[%d, %d)\n", bi.Untyped.Start, bi.Untyped.End)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "untyped descriptors (%d, %d dropped):\n", len(d.Untypeds), k.state.DroppedUntypedDescriptors)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "  SLOT\tPADDR\tSIZE_BITS\tDEVICE\n")
	for i, u := range d.Untypeds {
		fmt.Fprintf(tw, "  %d\t%#x\t%d\t%t\n", bi.Untyped.Start+uint64(i), u.Paddr, u.SizeBits, u.IsDevice != 0)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprint(w, "threads:\n")
	for _, t := range d.Threads {
		cur := ""
		if t.Current {
			cur = " (current)"
		}
		fmt.Fprintf(w, "  %v %s: %s, priority %d, pc %v%s\n", t.TCB, t.Name, t.State, t.Priority, t.NextIP, cur)
	}

	fmt.Fprintf(w, "root CNode at %v (%d slots):\n", k.state.RootServer.CNode, uint64(1)<<k.conf.RootCNodeSizeBits)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range d.Slots {
		fmt.Fprintf(tw, "  %d\t%s\t%s %s\t%s\n", s.Index, s.Type, s.Words[0], s.Words[1], describe(s.Info))
	}
	return tw.Flush()
}

func describe(info cap.Info) string {
	if info == nil {
		return "<undecodable>"
	}
	return fmt.Sprintf("%+v", info)
}
