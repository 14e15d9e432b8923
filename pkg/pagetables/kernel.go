// Copyright 2018 The gVisor Authors.
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

package pagetables

import (
	"fmt"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/riscv"
)

// KernelWindowFlags are the permissions of the kernel's identity window.
const KernelWindowFlags = Read | Write | Execute | Global | Accessed | Dirty | Valid

// KernelTable is the kernel's own root page table.
type KernelTable struct {
	*Tables
	root addr.Paddr
}

// NewKernelTable clears the page at root and returns it as a root table.
func NewKernelTable(t *Tables, root addr.Paddr) *KernelTable {
	if !root.IsAligned(riscv.PageBits) {
		panic(fmt.Sprintf("pagetables.NewKernelTable: unaligned root %v", root))
	}
	t.mem.Zero(root, riscv.PageSize)
	return &KernelTable{Tables: t, root: root}
}

// Root returns the physical address of the root table.
func (k *KernelTable) Root() addr.Paddr {
	return k.root
}

// MapKernelWindow installs a single 1 GiB identity leaf covering base.
func (k *KernelTable) MapKernelWindow(base addr.Paddr) {
	giga := base.RoundDown(riscv.GigaPageBits)
	index := addr.Vaddr(giga).PTIndex(riscv.PTLevels - 1)
	k.Install(Entry(k.root, index), NewPTE(giga, KernelWindowFlags))
}

// Activate switches the hart to the kernel address space.
func (k *KernelTable) Activate() {
	k.Tables.Activate(k.root, 0)
}
