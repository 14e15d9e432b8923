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

	"gvisor.dev/rvsel4/pkg/bits"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/riscv"
	"gvisor.dev/rvsel4/pkg/syserr"
)

// createRootCNode writes the initial thread's CNode capability into its own
// slot. The guard covers every address bit above the radix, so a CPtr
// resolves in a single level.
func (k *Kernel) createRootCNode() (cap.Table, error) {
	radix := k.conf.RootCNodeSizeBits
	c, err := cap.Encode(cap.CNode{
		Radix:     radix,
		GuardSize: riscv.WordBits - radix,
		Guard:     0,
		Ptr:       k.state.RootServer.CNode,
	})
	if err != nil {
		return cap.Table{}, fmt.Errorf("root CNode: %w", err)
	}
	root, err := cap.NewTable(k.mem, c)
	if err != nil {
		return cap.Table{}, err
	}
	root.WriteSlotAt(cap.SlotInitThreadCNode, c)
	return root, nil
}

// provideCap writes c into the next free root slot.
func (k *Kernel) provideCap(root cap.Table, c cap.Capability) error {
	if k.state.SlotPosCur >= root.Len() {
		return fmt.Errorf("%w: can't add another cap, all %d slots used", ErrSlotsExhausted, root.Len())
	}
	root.WriteSlotAt(k.state.SlotPosCur, c)
	k.state.SlotPosCur++
	return nil
}

// cteInsert installs c, derived from the capability in src, into dest.
// dest must be empty; anything else means boot or a decoder is about to
// destroy a live capability.
//
// Derivation links are not recorded.
func cteInsert(c cap.Capability, src, dest cap.Slot) {
	if d := dest.Cap(); !d.IsNull() {
		panic(fmt.Sprintf("cteInsert from %v: destination %v holds %v", src.Addr(), dest.Addr(), d))
	}
	if !dest.MDB().IsEmpty() {
		panic(fmt.Sprintf("cteInsert from %v: destination %v has a live MDB node", src.Addr(), dest.Addr()))
	}
	dest.SetCap(c)
}

// deriveCap returns the capability a copy of c should hold.
func deriveCap(c cap.Capability) (cap.Capability, *syserr.Error) {
	info, err := c.Decode()
	if err != nil {
		return cap.NullCap, syserr.InvalidCapability
	}
	switch v := info.(type) {
	case cap.Frame:
		// Copies start out unmapped.
		v.MappedAddr = 0
		v.ASID = 0
		return cap.MustEncode(v), nil
	case cap.PageTable:
		if !v.Mapped {
			return cap.NullCap, syserr.IllegalOperation
		}
		return c, nil
	case cap.IRQControl:
		// There is only one.
		return cap.NullCap, nil
	default:
		return c, nil
	}
}

// maskCapRights reduces c by a user rights word.
func maskCapRights(rights cap.Rights, c cap.Capability) cap.Capability {
	f, err := cap.As[cap.Frame](c)
	if err != nil {
		return c
	}
	f.Rights = f.Rights.Mask(rights)
	return cap.MustEncode(f)
}

// resolveAddressBits walks a CSpace from node, consuming nBits of cptr from
// the top. It returns the slot reached and the number of bits left
// unresolved, which is non-zero when a non-CNode capability is reached
// early.
func (k *Kernel) resolveAddressBits(node cap.Capability, cptr uint64, nBits uint) (cap.Slot, uint, *syserr.Error) {
	for {
		cn, err := cap.As[cap.CNode](node)
		if err != nil {
			log.Debugf("resolving %#x: %v", cptr, err)
			return cap.Slot{}, 0, syserr.FailedLookup
		}
		levelBits := cn.Radix + cn.GuardSize
		if levelBits == 0 || levelBits > nBits {
			log.Debugf("resolving %#x: depth %d too small for a %d bit level", cptr, nBits, levelBits)
			return cap.Slot{}, 0, syserr.FailedLookup
		}
		guard := (cptr >> (nBits - cn.GuardSize)) & bits.LowMask64(cn.GuardSize)
		if cn.GuardSize > 0 && guard != cn.Guard {
			log.Debugf("resolving %#x: guard %#x, want %#x", cptr, guard, cn.Guard)
			return cap.Slot{}, 0, syserr.FailedLookup
		}
		index := (cptr >> (nBits - levelBits)) & bits.LowMask64(cn.Radix)
		slot := cap.SlotAt(k.mem, cn.Ptr, index)
		nBits -= levelBits
		if nBits == 0 {
			return slot, 0, nil
		}
		next := slot.Cap()
		if next.Type() != cap.TypeCNode {
			return slot, nBits, nil
		}
		node = next
	}
}

// lookupSlot finds the slot cptr names in thread's CSpace.
func (k *Kernel) lookupSlot(thread TCB, cptr uint64) (cap.Slot, *syserr.Error) {
	root := thread.Slot(cap.TCBCTable).Cap()
	slot, _, serr := k.resolveAddressBits(root, cptr, riscv.WordBits)
	return slot, serr
}

// lookupTargetSlot resolves exactly depth bits of index below root.
func (k *Kernel) lookupTargetSlot(root cap.Capability, index uint64, depth uint64) (cap.Slot, *syserr.Error) {
	if depth < 1 || depth > riscv.WordBits {
		log.Debugf("CNode operation: depth %d out of range", depth)
		return cap.Slot{}, syserr.RangeError
	}
	slot, left, serr := k.resolveAddressBits(root, index, uint(depth))
	if serr != nil {
		return cap.Slot{}, serr
	}
	if left != 0 {
		log.Debugf("CNode operation: %d bits of %#x left unresolved", left, index)
		return cap.Slot{}, syserr.FailedLookup
	}
	return slot, nil
}

// RootCNode returns the initial thread's CNode.
func (k *Kernel) RootCNode() (cap.Table, error) {
	if k.state.RootServer.CNode == 0 {
		return cap.Table{}, ErrNotBooted
	}
	return k.rootTable()
}

func (k *Kernel) rootTable() (cap.Table, error) {
	return cap.NewTable(k.mem, cap.SlotAt(k.mem, k.state.RootServer.CNode, cap.SlotInitThreadCNode).Cap())
}
