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

// CPU holds the supervisor CSRs the kernel programs during boot.
//
// The kernel is single-hart and boot is strictly sequential, so CPU carries
// no locking.
type CPU struct {
	satp   uint64
	sie    uint64
	fences int
}

// WriteSatp loads a new translation root.
func (c *CPU) WriteSatp(v uint64) {
	c.satp = v
}

// Satp returns the current translation root.
func (c *CPU) Satp() uint64 {
	return c.satp
}

// SfenceVMA flushes the hart's address translation caches.
func (c *CPU) SfenceVMA() {
	c.fences++
}

// Fences returns the number of sfence.vma instructions executed.
func (c *CPU) Fences() int {
	return c.fences
}

// SetSIE sets bits in the sie register.
func (c *CPU) SetSIE(bits uint64) {
	c.sie |= bits
}

// SIE returns the sie register.
func (c *CPU) SIE() uint64 {
	return c.sie
}
