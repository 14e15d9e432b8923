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
	"text/tabwriter"

	"github.com/google/subcommands"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/kernel"
	"gvisor.dev/rvsel4/rvsel4/config"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	app       string
	userPages uint64
	format    string
}

// LayoutInfo is the memory layout chosen at boot.
type LayoutInfo struct {
	Avail      addr.Pregion      `json:"avail" yaml:"avail"`
	UserImage  addr.Pregion      `json:"user_image" yaml:"user_image"`
	ITVReg     addr.Vregion      `json:"it_v_reg" yaml:"it_v_reg"`
	Size       uint64            `json:"rootserver_size" yaml:"rootserver_size"`
	RootServer kernel.RootServer `json:"rootserver" yaml:"rootserver"`
	Reserved   []addr.Pregion    `json:"reserved" yaml:"reserved"`
	Free       []addr.Pregion    `json:"free" yaml:"free"`
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print where the rootserver objects and free memory would go"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - partition memory as boot would, without booting.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.app, "app", "", "statically linked RISC-V ELF image to run as the initial thread.")
	f.Uint64Var(&l.userPages, "user-pages", 1, "size in pages of the empty initial thread used without --app.")
	f.StringVar(&l.format, "format", "text", "output format (text, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	info, err := l.layout(conf)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := writeOutput(os.Stdout, l.format, info, info.writeText); err != nil {
		Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func (l *Layout) layout(conf *config.Config) (*LayoutInfo, error) {
	kc, err := conf.Machine.KernelConfig()
	if err != nil {
		return nil, err
	}
	mem, err := newMemory(kc)
	if err != nil {
		return nil, err
	}
	defer mem.Release()
	args, err := loadUserImage(mem, kc, l.app, l.userPages)
	if err != nil {
		return nil, err
	}
	_, itV := kernel.InitialThreadRegions(args)
	reserved := []addr.Pregion{kc.KernelImage, args.UserImage}
	fm, err := kernel.InitFreemem(mem, reserved, kc.Avail, itV, kc.RootCNodeSizeBits, kc.ExtraBISizeBits)
	if err != nil {
		return nil, err
	}
	return &LayoutInfo{
		Avail:      kc.Avail,
		UserImage:  args.UserImage,
		ITVReg:     itV,
		Size:       kernel.RootServerSize(itV, kc.RootCNodeSizeBits, kc.ExtraBISizeBits),
		RootServer: fm.RootServer,
		Reserved:   fm.Reserved,
		Free:       fm.Free,
	}, nil
}

func (info *LayoutInfo) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rs := &info.RootServer
	fmt.Fprintf(tw, "available\t%v\n", info.Avail)
	fmt.Fprintf(tw, "user image\t%v\n", info.UserImage)
	fmt.Fprintf(tw, "initial thread\t%v\n", info.ITVReg)
	fmt.Fprintf(tw, "rootserver\t%v\t%#x bytes\n", rs.Block, info.Size)
	fmt.Fprintf(tw, "  cnode\t%v\n", rs.CNode)
	fmt.Fprintf(tw, "  vspace\t%v\n", rs.VSpace)
	fmt.Fprintf(tw, "  asid pool\t%v\n", rs.ASIDPool)
	fmt.Fprintf(tw, "  ipc buffer\t%v\n", rs.IPCBuf)
	fmt.Fprintf(tw, "  boot info\t%v\n", rs.BootInfo)
	fmt.Fprintf(tw, "  paging\t%v\n", rs.Paging)
	fmt.Fprintf(tw, "  tcb\t%v\n", rs.TCB)
	for i, r := range info.Reserved {
		fmt.Fprintf(tw, "reserved %d\t%v\n", i, r)
	}
	for i, r := range info.Free {
		fmt.Fprintf(tw, "free %d\t%v\n", i, r)
	}
	return tw.Flush()
}
