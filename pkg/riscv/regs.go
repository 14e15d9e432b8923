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

package riscv

import "fmt"

// Reg indexes the saved user context of a thread.
type Reg int

// Saved context layout. x0 is not saved, so RA is slot 0.
const (
	RA Reg = iota
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
	SCAUSE
	SSTATUS
	FaultIP
	NextIP

	// NumContextRegisters is the size of the saved context.
	NumContextRegisters
)

// Syscall ABI registers.
const (
	CapRegister     = A0
	BadgeRegister   = A0
	MsgInfoRegister = A1
	SyscallRegister = A7
)

// MsgRegisters carry the first message words of an IPC.
var MsgRegisters = [...]Reg{A2, A3, A4, A5}

var regNames = [...]string{
	"ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1",
	"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
	"t3", "t4", "t5", "t6",
	"scause", "sstatus", "faultip", "nextip",
}

// String implements fmt.Stringer.
func (r Reg) String() string {
	if r >= 0 && int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("Reg(%d)", int(r))
}
