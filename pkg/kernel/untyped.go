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
	"gvisor.dev/rvsel4/pkg/bits"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/log"
	"gvisor.dev/rvsel4/pkg/region"
)

// untypedSizeBits returns the size class of the next chunk of [start, end):
// the largest power of two that fits and keeps the chunk naturally aligned.
func untypedSizeBits(start, end addr.Paddr) uint {
	size := uint(bits.MostSignificantOne64(uint64(end - start)))
	if size > cap.MaxUntypedBits {
		size = cap.MaxUntypedBits
	}
	if a := uint(bits.TrailingZeros64(uint64(start))); a < size {
		size = a
	}
	return size
}

// createUntypedsForRegion covers reg with naturally aligned untypeds.
// Chunks below cap.MinUntypedBits are skipped.
func (k *Kernel) createUntypedsForRegion(root cap.Table, device bool, reg addr.Pregion) error {
	for reg.Start < reg.End {
		size := untypedSizeBits(reg.Start, reg.End)
		if size >= cap.MinUntypedBits {
			if err := k.provideUntypedCap(root, reg.Start, size, device); err != nil {
				return fmt.Errorf("untyped %v/%d: %w", reg.Start, size, err)
			}
		}
		reg.Start = reg.Start.Add(1 << size)
	}
	return nil
}

// provideUntypedCap provides a fully free untyped capability and describes
// it in boot info. Once the descriptor list is full the capability still
// takes its slot but goes undescribed.
func (k *Kernel) provideUntypedCap(root cap.Table, p addr.Paddr, sizeBits uint, device bool) error {
	c, err := cap.Encode(cap.Untyped{
		FreeIndex: cap.MaxFreeIndex(sizeBits),
		Device:    device,
		SizeBits:  sizeBits,
		Ptr:       p,
	})
	if err != nil {
		return err
	}
	if n := k.state.NumUntypedDescriptors; n < k.conf.MaxUntypedDescriptors {
		k.bi.UntypedList[n] = UntypedDesc{
			Paddr:    uint64(p),
			SizeBits: uint8(sizeBits),
			IsDevice: uint8(bits.FromBool(device)),
		}
		k.state.NumUntypedDescriptors++
	} else {
		k.state.DroppedUntypedDescriptors++
		k.overflowLog.Warningf("boot info untyped list full (%d entries), dropping descriptor for %v/%d", n, p, sizeBits)
	}
	return k.provideCap(root, c)
}

// createUntypeds carves device memory, the boot-only part of the kernel
// image and the remaining free memory into untypeds, in that order.
func (k *Kernel) createUntypeds(root cap.Table) error {
	first := k.state.SlotPosCur

	// Device memory is whatever lies in [0, DeviceTop) outside RAM and the
	// reserved regions.
	ram := regionSet(k.conf.Avail, k.state.Reserved)
	for _, gap := range ram.Gaps(0, k.conf.DeviceTop) {
		if err := k.createUntypedsForRegion(root, true, gap); err != nil {
			return err
		}
	}

	reuse := addr.Pregion{Start: k.conf.KernelImage.Start, End: k.conf.KernelBootEnd}
	if err := k.createUntypedsForRegion(root, false, reuse); err != nil {
		return err
	}

	for _, r := range k.state.Freemem {
		if err := k.createUntypedsForRegion(root, false, r); err != nil {
			return err
		}
	}
	k.bi.Untyped = SlotRegion{Start: first, End: k.state.SlotPosCur}
	if n := k.overflowLog.Suppressed(); n > 0 {
		log.Warningf("%d more untyped descriptors dropped", n)
	}
	log.Infof("created %d untypeds (%d described, %d dropped)", k.state.SlotPosCur-first, k.state.NumUntypedDescriptors, k.state.DroppedUntypedDescriptors)
	return nil
}

// regionSet returns the union of avail and reserved.
func regionSet(avail addr.Pregion, reserved []addr.Pregion) *region.Set {
	s := region.NewSet(reserved...)
	s.Insert(avail)
	return s
}
