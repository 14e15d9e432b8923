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

// Package cmd holds implementations of the rvsel4 commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/elfloader"
	"gvisor.dev/rvsel4/pkg/kernel"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/physmem"
	"gvisor.dev/rvsel4/pkg/riscv"
	"gvisor.dev/rvsel4/rvsel4/config"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by whoever runs rvsel4.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs the same message to the log and to ErrorLogger, then exits.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(ErrorLogger, format+"\n", args...)
	os.Exit(128)
}

// writeOutput writes v to w in the given format. text renders the text
// format.
func writeOutput(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "text":
		return text(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q, must be text, json or yaml", format)
	}
}

// newMemory maps the physical memory of the machine conf describes.
func newMemory(conf kernel.Config) (*physmem.Memory, error) {
	return physmem.New(addr.Pregion{
		Start: conf.Avail.Start,
		End:   conf.Avail.End.RoundUp(riscv.PageBits),
	})
}

// loadUserImage places the initial thread's image right after the kernel.
// With no app, the image is userPages zeroed pages, identity mapped.
func loadUserImage(mem *physmem.Memory, conf kernel.Config, app string, userPages uint64) (kernel.BootArgs, error) {
	dest := conf.KernelImage.End.RoundUp(riscv.PageBits)
	if app == "" {
		size := userPages << riscv.PageBits
		if !mem.Contains(dest, size) {
			return kernel.BootArgs{}, fmt.Errorf("%d user pages at %v do not fit in %v", userPages, dest, mem.Region())
		}
		mem.Zero(dest, size)
		return kernel.BootArgs{
			UserImage: addr.Pregion{Start: dest, End: dest.Add(size)},
			Entry:     addr.Vaddr(dest),
		}, nil
	}
	image, err := os.ReadFile(app)
	if err != nil {
		return kernel.BootArgs{}, err
	}
	info, err := elfloader.Load(mem, filepath.Base(app), image, dest)
	if err != nil {
		return kernel.BootArgs{}, err
	}
	return info.BootArgs(), nil
}

// bootMachine boots the machine in conf with the given initial thread. The
// returned function releases the machine's memory.
func bootMachine(conf *config.Config, app string, userPages uint64, console io.Writer) (*kernel.Kernel, func(), error) {
	kc, err := conf.Machine.KernelConfig()
	if err != nil {
		return nil, nil, err
	}
	mem, err := newMemory(kc)
	if err != nil {
		return nil, nil, err
	}
	release := func() { mem.Release() }
	args, err := loadUserImage(mem, kc, app, userPages)
	if err != nil {
		release()
		return nil, nil, err
	}
	k, err := kernel.New(kc, kernel.Machine{Mem: mem, CPU: &riscv.CPU{}, Console: console})
	if err != nil {
		release()
		return nil, nil, err
	}
	if err := k.TryInitKernel(args); err != nil {
		release()
		return nil, nil, fmt.Errorf("booting: %w", err)
	}
	return k, release, nil
}
