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

// Package config provides basic infrastructure to set configuration settings
// for rvsel4. Each setting that can be changed from the command line must
// have a corresponding flag name, registered in flags.go. The machine being
// booted is described by a TOML file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/kernel"
	"gvisor.dev/rvsel4/pkg/log"
)

// Config holds configuration that is not part of the machine description.
type Config struct {
	// ConfigFile is the TOML machine description. Empty means the default
	// machine.
	ConfigFile string `flag:"config"`

	// LogFilename is the filename to log to, if not empty. %COMMAND% is
	// replaced by the subcommand name.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Machine is the machine to boot. It is not settable by flags.
	Machine Machine
}

// Machine describes the memory map of the machine and the kernel's place
// in it. Addresses are physical.
type Machine struct {
	AvailStart    uint64 `toml:"avail_start"`
	AvailEnd      uint64 `toml:"avail_end"`
	KernelStart   uint64 `toml:"kernel_start"`
	KernelEnd     uint64 `toml:"kernel_end"`
	KernelBootEnd uint64 `toml:"kernel_boot_end"`
	StaticsStart  uint64 `toml:"statics_start"`
	StaticsEnd    uint64 `toml:"statics_end"`
	DeviceTop     uint64 `toml:"device_top"`
	UserTop       uint64 `toml:"user_top"`

	RootCNodeSizeBits     uint `toml:"root_cnode_size_bits"`
	MaxUntypedDescriptors int  `toml:"max_untyped_descriptors"`
}

// DefaultMachine returns the machine kernel.DefaultConfig describes.
func DefaultMachine() Machine {
	return MachineFrom(kernel.DefaultConfig())
}

// MachineFrom converts a kernel configuration into a machine description.
func MachineFrom(c kernel.Config) Machine {
	return Machine{
		AvailStart:            uint64(c.Avail.Start),
		AvailEnd:              uint64(c.Avail.End),
		KernelStart:           uint64(c.KernelImage.Start),
		KernelEnd:             uint64(c.KernelImage.End),
		KernelBootEnd:         uint64(c.KernelBootEnd),
		StaticsStart:          uint64(c.KernelStatics.Start),
		StaticsEnd:            uint64(c.KernelStatics.End),
		DeviceTop:             uint64(c.DeviceTop),
		UserTop:               uint64(c.UserTop),
		RootCNodeSizeBits:     c.RootCNodeSizeBits,
		MaxUntypedDescriptors: c.MaxUntypedDescriptors,
	}
}

// KernelConfig converts m into a validated kernel configuration.
func (m *Machine) KernelConfig() (kernel.Config, error) {
	c := kernel.DefaultConfig()
	c.Avail = addr.Pregion{Start: addr.Paddr(m.AvailStart), End: addr.Paddr(m.AvailEnd)}
	c.KernelImage = addr.Pregion{Start: addr.Paddr(m.KernelStart), End: addr.Paddr(m.KernelEnd)}
	c.KernelBootEnd = addr.Paddr(m.KernelBootEnd)
	c.KernelStatics = addr.Pregion{Start: addr.Paddr(m.StaticsStart), End: addr.Paddr(m.StaticsEnd)}
	c.DeviceTop = addr.Paddr(m.DeviceTop)
	c.UserTop = addr.Vaddr(m.UserTop)
	c.RootCNodeSizeBits = m.RootCNodeSizeBits
	c.MaxUntypedDescriptors = m.MaxUntypedDescriptors
	if err := c.Validate(); err != nil {
		return kernel.Config{}, err
	}
	return c, nil
}

// LoadMachine reads a machine description from path. Keys missing from the
// file keep their default values.
func LoadMachine(path string) (Machine, error) {
	m := DefaultMachine()
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Machine{}, fmt.Errorf("reading machine description %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Machine{}, fmt.Errorf("machine description %q: unknown keys %v", path, undecoded)
	}
	return m, nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.ConfigFile: %q", c.ConfigFile)
	log.Infof("Config.LogFilename: %q", c.LogFilename)
	log.Infof("Config.LogFormat: %s", c.LogFormat)
	log.Infof("Config.Debug: %t", c.Debug)
	m := &c.Machine
	log.Infof("Machine.Avail: [%#x, %#x)", m.AvailStart, m.AvailEnd)
	log.Infof("Machine.Kernel: [%#x, %#x), boot code ends at %#x", m.KernelStart, m.KernelEnd, m.KernelBootEnd)
	log.Infof("Machine.Statics: [%#x, %#x)", m.StaticsStart, m.StaticsEnd)
	log.Infof("Machine.DeviceTop: %#x, UserTop: %#x", m.DeviceTop, m.UserTop)
	log.Infof("Machine.RootCNodeSizeBits: %d, MaxUntypedDescriptors: %d", m.RootCNodeSizeBits, m.MaxUntypedDescriptors)
}
