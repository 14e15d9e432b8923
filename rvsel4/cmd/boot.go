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
	"io"
	"os"

	"github.com/google/subcommands"

	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/rvsel4/config"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	app       string
	userPages uint64
	format    string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and print the initial thread's capability space"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot the kernel on the configured machine.

The initial thread is either the ELF image given by --app, loaded right after
the kernel image, or --user-pages empty pages.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.app, "app", "", "statically linked RISC-V ELF image to run as the initial thread.")
	f.Uint64Var(&b.userPages, "user-pages", 1, "size in pages of the empty initial thread used without --app.")
	f.StringVar(&b.format, "format", "text", "output format (text, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := b.run(conf, os.Stdout); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (b *Boot) run(conf *config.Config, w io.Writer) error {
	k, release, err := bootMachine(conf, b.app, b.userPages, w)
	if err != nil {
		return err
	}
	defer release()
	log.Infof("Boot finished, initial thread is current")

	d, err := k.Dump()
	if err != nil {
		return err
	}
	return writeOutput(w, b.format, d, k.DebugDump)
}
