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

import "errors"

// Boot failures. Boot steps wrap these with the details of what went wrong.
var (
	ErrBadConfig        = errors.New("invalid kernel configuration")
	ErrNotSupported     = errors.New("not supported")
	ErrAlreadyBooted    = errors.New("kernel already booted")
	ErrReservedOrder    = errors.New("reserved memory out of order")
	ErrNoRegionFits     = errors.New("no free memory region is big enough for the rootserver")
	ErrUserImageTooHigh = errors.New("user image extends beyond user top")
	ErrUserImage        = errors.New("bad user image")
	ErrSlotsExhausted   = errors.New("root CNode slots exhausted")
	ErrStaticsExhausted = errors.New("kernel statics exhausted")
	ErrNotBooted        = errors.New("kernel not booted")
)
