// Copyright 2025 The gVisor Authors.
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

package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/cap"
	"gvisor.dev/rvsel4/pkg/kernel"
	"gvisor.dev/rvsel4/rvsel4/config"
)

func defaultConfig() *config.Config {
	return &config.Config{LogFormat: "text", Machine: config.DefaultMachine()}
}

func pr(start, end uint64) addr.Pregion {
	return addr.Pregion{Start: addr.Paddr(start), End: addr.Paddr(end)}
}

func TestLayout(t *testing.T) {
	l := &Layout{userPages: 1, format: "text"}
	info, err := l.layout(defaultConfig())
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	want := &LayoutInfo{
		Avail:     pr(0x80200000, 0x90000000),
		UserImage: pr(0x84100000, 0x84101000),
		ITVReg:    addr.Vregion{Start: 0x84100000, End: 0x84103000},
		Size:      0x46400,
		RootServer: kernel.RootServer{
			Block:    pr(0x8ff80000, 0x8ffc6400),
			CNode:    0x8ff80000,
			VSpace:   0x8ffc0000,
			ASIDPool: 0x8ffc1000,
			IPCBuf:   0x8ffc2000,
			BootInfo: 0x8ffc3000,
			Paging:   pr(0x8ffc4000, 0x8ffc6000),
			TCB:      0x8ffc6000,
		},
		Reserved: []addr.Pregion{pr(0x84000000, 0x84101000)},
		Free:     []addr.Pregion{pr(0x80200000, 0x84000000), pr(0x84101000, 0x8ff80000), pr(0x8ffc6400, 0x90000000)},
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	if err := info.writeText(&buf); err != nil {
		t.Fatalf("writeText: %v", err)
	}
	if !strings.Contains(buf.String(), "0x8ff80000") {
		t.Errorf("text layout does not show the rootserver block:\n%s", buf.String())
	}
}

func TestBootOutput(t *testing.T) {
	type dump struct {
		BootInfo struct {
			Empty   kernel.SlotRegion `json:"empty" yaml:"empty"`
			Untyped kernel.SlotRegion `json:"untyped" yaml:"untyped"`
		} `json:"boot_info" yaml:"boot_info"`
		Threads []kernel.ThreadDump `json:"threads" yaml:"threads"`
	}
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			b := &Boot{userPages: 1, format: format}
			if err := b.run(defaultConfig(), &buf); err != nil {
				t.Fatalf("run: %v", err)
			}
			var d dump
			var err error
			if format == "json" {
				err = json.Unmarshal(buf.Bytes(), &d)
			} else {
				err = yaml.Unmarshal(buf.Bytes(), &d)
			}
			if err != nil {
				t.Fatalf("decoding %s output: %v\n%s", format, err, buf.String())
			}
			if d.BootInfo.Empty.End != 1<<kernel.RootCNodeSizeBits || d.BootInfo.Empty.Start != d.BootInfo.Untyped.End {
				t.Errorf("boot info = %+v", d.BootInfo)
			}
			if len(d.Threads) != 2 || d.Threads[1].Name != "rootserver" || d.Threads[1].NextIP != 0x84100000 {
				t.Errorf("threads = %+v", d.Threads)
			}
		})
	}

	var buf bytes.Buffer
	if err := (&Boot{userPages: 1, format: "xml"}).run(defaultConfig(), &buf); err == nil {
		t.Errorf("xml output succeeded")
	}
}

func TestBootTooLarge(t *testing.T) {
	b := &Boot{userPages: 1 << 20, format: "text"}
	if err := b.run(defaultConfig(), &bytes.Buffer{}); err == nil {
		t.Errorf("booting a 4 GiB user image succeeded")
	}
}

func TestSyscallDemo(t *testing.T) {
	var console bytes.Buffer
	s := &SyscallDemo{message: "hi\n", format: "text"}
	res, err := s.run(defaultConfig(), &console)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := console.String(); got != "hi\n" {
		t.Errorf("console = %q, want %q", got, "hi\n")
	}
	if res.Error != "" || res.Src != cap.SlotInitThreadTCB || !strings.HasPrefix(res.Cap, cap.TypeThread.String()) {
		t.Errorf("result = %+v", res)
	}
	var buf bytes.Buffer
	if err := res.writeText(&buf); err != nil {
		t.Fatalf("writeText: %v", err)
	}
	if !strings.Contains(buf.String(), ": ok") {
		t.Errorf("text result = %q", buf.String())
	}
}
