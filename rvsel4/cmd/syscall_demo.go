// Copyright 2025 The gVisor Authors.
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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/kernel"
	"gvisor.dev/rvsel4/pkg/riscv"
	"gvisor.dev/rvsel4/pkg/syserr"
	"gvisor.dev/rvsel4/rvsel4/config"
)

// SyscallDemo implements subcommands.Command for the "syscall-demo" command.
type SyscallDemo struct {
	message string
	format  string
}

// CopyResult is the outcome of the demo's CNode copy.
type CopyResult struct {
	Src   uint64 `json:"src" yaml:"src"`
	Dest  uint64 `json:"dest" yaml:"dest"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	Cap   string `json:"cap" yaml:"cap"`
}

// Name implements subcommands.Command.Name.
func (*SyscallDemo) Name() string {
	return "syscall-demo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*SyscallDemo) Synopsis() string {
	return "boot, then issue the initial thread's first system calls"
}

// Usage implements subcommands.Command.Usage.
func (*SyscallDemo) Usage() string {
	return `syscall-demo [flags] - boot and act as the initial thread: print a
message with debug putchar, then copy the thread's own TCB capability into the
first empty slot of its CNode.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *SyscallDemo) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.message, "message", "hello from the rootserver\n", "text written to the console with debug putchar.")
	f.StringVar(&s.format, "format", "text", "output format (text, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (s *SyscallDemo) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	res, err := s.run(conf, os.Stdout)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := writeOutput(os.Stdout, s.format, res, res.writeText); err != nil {
		Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *SyscallDemo) run(conf *config.Config, console io.Writer) (*CopyResult, error) {
	k, release, err := bootMachine(conf, "", 1, console)
	if err != nil {
		return nil, err
	}
	defer release()

	for _, c := range []byte(s.message) {
		if err := ecall(k, uint64(c), 0, kernel.SysDebugPutChar); err != nil {
			return nil, err
		}
	}

	bi, err := k.BootInfo()
	if err != nil {
		return nil, err
	}
	res := &CopyResult{Src: cap.SlotInitThreadTCB, Dest: bi.Empty.Start}
	cur, _ := k.Current()
	for i, v := range []uint64{res.Dest, riscv.WordBits, res.Src, riscv.WordBits} {
		cur.SetRegister(riscv.MsgRegisters[i], v)
	}
	buf := &kernel.IPCBuffer{}
	buf.Msg[4] = uint64(cap.AllRights)
	buf.CapsOrBadges[0] = cap.SlotInitThreadCNode
	if err := k.WriteIPCBuffer(cur, buf); err != nil {
		return nil, err
	}
	info := kernel.MessageInfo{Label: kernel.CNodeCopy, ExtraCaps: 1, Length: 5}
	if err := ecall(k, cap.SlotInitThreadCNode, info.Word(), kernel.SysCall); err != nil {
		return nil, err
	}
	reply := kernel.MessageInfoFromWord(cur.Register(riscv.MsgInfoRegister))
	if serr := syserr.FromCode(syserr.Code(reply.Label)); serr != nil {
		res.Error = serr.Error()
	}

	root, err := k.RootCNode()
	if err != nil {
		return nil, err
	}
	res.Cap = root.MustSlot(res.Dest).Cap().String()
	return res, nil
}

// ecall traps into the kernel from the current thread with the given
// argument registers.
func ecall(k *kernel.Kernel, a0, a1 uint64, nr int64) error {
	cur, ok := k.Current()
	if !ok {
		return kernel.ErrNotBooted
	}
	cur.SetRegister(riscv.CapRegister, a0)
	cur.SetRegister(riscv.MsgInfoRegister, a1)
	cur.SetRegister(riscv.SyscallRegister, uint64(nr))
	return k.SyscallTrap()
}

func (r *CopyResult) writeText(w io.Writer) error {
	status := "ok"
	if r.Error != "" {
		status = r.Error
	}
	_, err := fmt.Fprintf(w, "CNode copy of slot %d into slot %d: %s\n  %s\n", r.Src, r.Dest, status, r.Cap)
	return err
}
