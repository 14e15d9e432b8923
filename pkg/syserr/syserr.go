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

// Package syserr contains the errors an invocation returns to user space.
// They travel back to the caller as a numeric code in its registers; inside
// the kernel they are ordinary Go errors.
package syserr

import (
	"fmt"
)

// Code is the numeric form of an Error as seen by user space.
type Code uint64

// Error represents an invocation error.
type Error struct {
	// message is the human readable form of this Error.
	message string

	// code is what the caller receives.
	code Code
}

// codes maps each registered Code back to its Error.
var codes = map[Code]*Error{}

// New creates a new Error and registers its code.
//
// New must only be called at init.
func New(message string, code Code) *Error {
	if _, ok := codes[code]; ok {
		panic(fmt.Sprintf("duplicate error code %d", code))
	}
	err := &Error{message: message, code: code}
	codes[code] = err
	return err
}

// Error implements error.Error.
func (e *Error) Error() string {
	return e.message
}

// String implements fmt.Stringer.String.
func (e *Error) String() string {
	if e == nil {
		return "<nil>"
	}
	return e.message
}

// Code returns the code user space receives for e. A nil Error is
// NoError.
func (e *Error) Code() Code {
	if e == nil {
		return 0
	}
	return e.code
}

// FromCode returns the Error registered for c, or nil for code 0 or an
// unknown code.
func FromCode(c Code) *Error {
	return codes[c]
}

// Invocation errors.
var (
	InvalidArgument   = New("invalid argument", 1)
	InvalidCapability = New("invalid capability", 2)
	IllegalOperation  = New("illegal operation", 3)
	RangeError        = New("argument out of range", 4)
	AlignmentError    = New("alignment error", 5)
	FailedLookup      = New("capability lookup failed", 6)
	TruncatedMessage  = New("message truncated", 7)
	DeleteFirst       = New("destination slot occupied", 8)
	RevokeFirst       = New("capability has children", 9)
	NotEnoughMemory   = New("not enough memory", 10)
)
