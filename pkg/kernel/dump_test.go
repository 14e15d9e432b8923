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
	"bytes"
	"errors"
	"strings"
	"testing"

	"gvisor.dev/rvsel4/pkg/cap"
)

func TestDump(t *testing.T) {
	k, _ := bootKernel(t, testConfig(0x90000000))
	d, err := k.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	// Every slot below the cursor except the five unused fixed ones.
	if got, want := len(d.Slots), 304-5; got != want {
		t.Errorf("%d slots dumped, want %d", got, want)
	}
	if got := len(d.Untypeds); got != 31 {
		t.Errorf("%d untypeds dumped, want 31", got)
	}
	if len(d.Threads) != 2 || d.Threads[0].Name != "idle_thread" || !d.Threads[1].Current {
		t.Errorf("threads = %+v", d.Threads)
	}
	for _, s := range d.Slots {
		if s.Index == cap.SlotInitThreadCNode {
			if cn, ok := s.Info.(cap.CNode); !ok || cn.Radix != RootCNodeSizeBits || cn.GuardSize != 64-RootCNodeSizeBits {
				t.Errorf("root CNode slot = %+v", s)
			}
		}
	}

	var buf bytes.Buffer
	if err := k.DebugDump(&buf); err != nil {
		t.Fatalf("DebugDump: %v", err)
	}
	for _, want := range []string{"empty", "[304, 8192)", "rootserver", "(current)", "untyped descriptors (31, 0 dropped)"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("DebugDump output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestDumpBeforeBoot(t *testing.T) {
	k, _ := newKernel(t, testConfig(0x90000000))
	if _, err := k.Dump(); !errors.Is(err, ErrNotBooted) {
		t.Errorf("Dump = %v, want %v", err, ErrNotBooted)
	}
}
