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

package bits

import (
	"fmt"
)

// Field describes a contiguous run of bits inside a 64-bit word.
type Field struct {
	Shift uint
	Width uint
}

// Mask returns the in-place mask of the field.
func (f Field) Mask() uint64 {
	return LowMask64(f.Width) << f.Shift
}

// Get extracts the field from word.
func (f Field) Get(word uint64) uint64 {
	return (word >> f.Shift) & LowMask64(f.Width)
}

// Fits returns an error if v cannot be represented in the field.
func (f Field) Fits(v uint64) error {
	if v&^LowMask64(f.Width) != 0 {
		return fmt.Errorf("value %#x exceeds %d bits", v, f.Width)
	}
	return nil
}

// Set returns word with the field replaced by v. It fails if v does not fit.
func (f Field) Set(word, v uint64) (uint64, error) {
	if err := f.Fits(v); err != nil {
		return word, err
	}
	return (word &^ f.Mask()) | (v << f.Shift), nil
}

// MustSet is Set for values already known to fit.
func (f Field) MustSet(word, v uint64) uint64 {
	w, err := f.Set(word, v)
	if err != nil {
		panic(fmt.Sprintf("bits.Field{%d,%d}: %v", f.Shift, f.Width, err))
	}
	return w
}

// Flag is a single-bit field.
func Flag(shift uint) Field {
	return Field{Shift: shift, Width: 1}
}

// Bool converts a single-bit value.
func Bool(v uint64) bool {
	return v != 0
}

// FromBool converts a boolean to a single-bit value.
func FromBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
