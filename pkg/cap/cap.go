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

// Package cap implements capabilities: two-word bit-packed values naming a
// kernel object and the authority held over it, the slots that store them,
// and CNodes, the arrays of slots that form a capability space.
//
// A Capability is the raw two-word form, exactly as stored in a slot. Decode
// turns it into one of the Info variants after validating the type tag, and
// Encode goes back, rejecting fields that do not fit their bit width.
package cap

import (
	"errors"
	"fmt"

	"gvisor.dev/rvsel4/pkg/bits"
)

// Type is the 5-bit type tag of a capability.
type Type uint64

// Capability types.
const (
	TypeNull         Type = 0
	TypeFrame        Type = 1
	TypeUntyped      Type = 2
	TypePageTable    Type = 3
	TypeEndpoint     Type = 4
	TypeNotification Type = 6
	TypeReply        Type = 8
	TypeCNode        Type = 10
	TypeASIDControl  Type = 11
	TypeThread       Type = 12
	TypeASIDPool     Type = 13
	TypeIRQControl   Type = 14
	TypeIRQHandler   Type = 16
	TypeZombie       Type = 18
	TypeDomain       Type = 20
)

var typeNames = map[Type]string{
	TypeNull:         "null",
	TypeFrame:        "frame",
	TypeUntyped:      "untyped",
	TypePageTable:    "page_table",
	TypeEndpoint:     "endpoint",
	TypeNotification: "notification",
	TypeReply:        "reply",
	TypeCNode:        "cnode",
	TypeASIDControl:  "asid_control",
	TypeThread:       "thread",
	TypeASIDPool:     "asid_pool",
	TypeIRQControl:   "irq_control",
	TypeIRQHandler:   "irq_handler",
	TypeZombie:       "zombie",
	TypeDomain:       "domain",
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", uint64(t))
}

var typeField = bits.Field{Shift: 59, Width: 5}

// Capability is the raw two-word form of a capability.
type Capability struct {
	Words [2]uint64
}

// NullCap is the capability stored in an empty slot.
var NullCap = Capability{}

// Type returns the type tag.
func (c Capability) Type() Type {
	return Type(typeField.Get(c.Words[0]))
}

// IsNull returns true for the null capability.
func (c Capability) IsNull() bool {
	return c.Type() == TypeNull
}

// String implements fmt.Stringer.
func (c Capability) String() string {
	info, err := c.Decode()
	if err != nil {
		return fmt.Sprintf("<%#016x %#016x: %v>", c.Words[0], c.Words[1], err)
	}
	return fmt.Sprintf("%s%+v", info.Type(), info)
}

// Info is a decoded capability.
type Info interface {
	// Type returns the tag the variant encodes with.
	Type() Type

	pack() (Capability, error)
}

// ErrNoDecoder is returned when decoding a tag that is valid but that the
// kernel never constructs.
var ErrNoDecoder = errors.New("no decoder for capability type")

// TagError is returned when decoding a word whose tag names no type.
type TagError struct {
	Tag uint64
}

// Error implements error.
func (e *TagError) Error() string {
	return fmt.Sprintf("invalid capability type tag %d", e.Tag)
}

// TypeError is returned by As when the capability has a different type.
type TypeError struct {
	Want, Got Type
}

// Error implements error.
func (e *TypeError) Error() string {
	return fmt.Sprintf("capability is %v, want %v", e.Got, e.Want)
}

// FieldError is returned by Encode when a field does not fit.
type FieldError struct {
	Type  Type
	Field string
	Err   error
}

// Error implements error.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%v capability field %s: %v", e.Type, e.Field, e.Err)
}

// Unwrap returns the underlying width error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// Encode packs info into its raw form.
func Encode(info Info) (Capability, error) {
	return info.pack()
}

// MustEncode is Encode for callers that construct capabilities from values
// they control. A field that does not fit is a kernel bug and panics.
func MustEncode(info Info) Capability {
	c, err := info.pack()
	if err != nil {
		panic(fmt.Sprintf("cap.MustEncode: %v", err))
	}
	return c
}

// Decode validates the tag and unpacks the fields.
func (c Capability) Decode() (Info, error) {
	t := c.Type()
	if _, ok := typeNames[t]; !ok {
		return nil, &TagError{Tag: uint64(t)}
	}
	switch t {
	case TypeNull:
		return Null{}, nil
	case TypeFrame:
		return decodeFrame(c)
	case TypeUntyped:
		return decodeUntyped(c), nil
	case TypePageTable:
		return decodePageTable(c), nil
	case TypeCNode:
		return decodeCNode(c), nil
	case TypeThread:
		return Thread{TCB: paddrOf(threadTCB.Get(c.Words[0]))}, nil
	case TypeASIDControl:
		return ASIDControl{}, nil
	case TypeASIDPool:
		return decodeASIDPool(c), nil
	case TypeIRQControl:
		return IRQControl{}, nil
	case TypeDomain:
		return Domain{}, nil
	default:
		return nil, fmt.Errorf("%w %v", ErrNoDecoder, t)
	}
}

// As decodes c and checks that it is a T.
func As[T Info](c Capability) (T, error) {
	var zero T
	info, err := c.Decode()
	if err != nil {
		return zero, err
	}
	v, ok := info.(T)
	if !ok {
		return zero, &TypeError{Want: zero.Type(), Got: info.Type()}
	}
	return v, nil
}

// builder accumulates fields for one capability and remembers the first
// field that did not fit.
type builder struct {
	t     Type
	words [2]uint64
	err   error
}

func newBuilder(t Type) *builder {
	b := &builder{t: t}
	b.words[0] = typeField.MustSet(0, uint64(t))
	return b
}

func (b *builder) set(word int, f bits.Field, name string, v uint64) {
	if b.err != nil {
		return
	}
	w, err := f.Set(b.words[word], v)
	if err != nil {
		b.err = &FieldError{Type: b.t, Field: name, Err: err}
		return
	}
	b.words[word] = w
}

// setShifted stores v>>shift, requiring the dropped low bits to be clear.
func (b *builder) setShifted(word int, f bits.Field, name string, v uint64, shift uint) {
	if b.err == nil && v&bits.LowMask64(shift) != 0 {
		b.err = &FieldError{Type: b.t, Field: name, Err: fmt.Errorf("value %#x is not %d-byte aligned", v, uint64(1)<<shift)}
		return
	}
	b.set(word, f, name, v>>shift)
}

func (b *builder) done() (Capability, error) {
	if b.err != nil {
		return Capability{}, b.err
	}
	return Capability{Words: b.words}, nil
}
