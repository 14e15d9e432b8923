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

// Object sizes, as log2 of bytes.
const (
	SlotBits        = 5
	TCBBits         = 10
	ASIDPoolBits    = 12
	VSpaceBits      = 12
	PageTableBits   = 12
	PageBits        = 12
	BIFrameSizeBits = 12
	MinUntypedBits  = 4
	MaxUntypedBits  = 38
	ASIDLowBits     = 9
)

// SlotSize is the size of one CNode slot in bytes.
const SlotSize = 1 << SlotBits

// Well-known slots of the initial thread's root CNode.
const (
	SlotNull                = 0
	SlotInitThreadTCB       = 1
	SlotInitThreadCNode     = 2
	SlotInitThreadVSpace    = 3
	SlotIRQControl          = 4
	SlotASIDControl         = 5
	SlotInitThreadASIDPool  = 6
	SlotIOPortControl       = 7
	SlotIOSpace             = 8
	SlotBootInfoFrame       = 9
	SlotInitThreadIPCBuffer = 10
	SlotDomain              = 11
	SlotSMMUSIDControl      = 12
	SlotSMMUCBControl       = 13

	// NumInitialCaps is the first slot free for boot-time allocation.
	NumInitialCaps = 14
)

// Slots inside a TCB's own slot block.
const (
	TCBCTable = iota
	TCBVTable
	TCBReply
	TCBCaller
	TCBBuffer

	// TCBCNodeEntries is the number of slots a TCB carries.
	TCBCNodeEntries
)

// Address space identifiers.
const (
	// ASIDInvalid marks a capability that is not bound to an address space.
	ASIDInvalid = 0

	// ITASID is the address space identifier of the initial thread.
	ITASID = 1
)

// Rights is a capability rights word as passed by user space.
type Rights uint64

// Rights bits.
const (
	AllowWrite Rights = 1 << iota
	AllowRead
	AllowGrant
	AllowGrantReply

	AllRights = AllowWrite | AllowRead | AllowGrant | AllowGrantReply
)
