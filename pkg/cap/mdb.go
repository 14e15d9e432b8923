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

package cap

import (
	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/bits"
)

var (
	mdbNext        = bits.Field{Shift: 0, Width: 39}
	mdbPrev        = bits.Field{Shift: 2, Width: 37}
	mdbRevocable   = bits.Flag(1)
	mdbFirstBadged = bits.Flag(0)
)

// MDBNode is the derivation-tree bookkeeping stored next to a capability.
//
// Only the revocable and first-badged flags are maintained; the sibling
// links are carried but never threaded.
type MDBNode struct {
	Words [2]uint64
}

// NewMDBNode returns an unlinked node with the given flags.
func NewMDBNode(revocable, firstBadged bool) MDBNode {
	var m MDBNode
	m.Words[1] = mdbRevocable.MustSet(m.Words[1], bits.FromBool(revocable))
	m.Words[1] = mdbFirstBadged.MustSet(m.Words[1], bits.FromBool(firstBadged))
	return m
}

// IsEmpty returns true for an all-zero node.
func (m MDBNode) IsEmpty() bool {
	return m.Words == [2]uint64{}
}

// Revocable returns the revocable flag.
func (m MDBNode) Revocable() bool {
	return bits.Bool(mdbRevocable.Get(m.Words[1]))
}

// FirstBadged returns the first-badged flag.
func (m MDBNode) FirstBadged() bool {
	return bits.Bool(mdbFirstBadged.Get(m.Words[1]))
}

// Next returns the slot address of the next node.
func (m MDBNode) Next() addr.Paddr {
	return addr.Paddr(mdbNext.Get(m.Words[0]))
}

// Prev returns the slot address of the previous node.
func (m MDBNode) Prev() addr.Paddr {
	return addr.Paddr(mdbPrev.Get(m.Words[1]) << 2)
}
