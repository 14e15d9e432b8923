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

package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/rvsel4/pkg/addr"
	"gvisor.dev/rvsel4/pkg/kernel"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	got, err := c.Machine.KernelConfig()
	if err != nil {
		t.Fatalf("KernelConfig: %v", err)
	}
	if diff := cmp.Diff(kernel.DefaultConfig(), got); diff != "" {
		t.Errorf("default machine mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	path := writeFile(t, "avail_end = 0xa0000000\nroot_cnode_size_bits = 12\n")
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, val := range map[string]string{
		"config":     path,
		"debug":      "true",
		"log-format": "json",
	} {
		if err := testFlags.Lookup(name).Value.Set(val); err != nil {
			t.Errorf("Flag set %q: %v", name, err)
		}
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Debug || c.LogFormat != "json" || c.ConfigFile != path {
		t.Errorf("flags not applied: %+v", c)
	}
	kc, err := c.Machine.KernelConfig()
	if err != nil {
		t.Fatalf("KernelConfig: %v", err)
	}
	if want := (addr.Pregion{Start: 0x80200000, End: 0xa0000000}); kc.Avail != want {
		t.Errorf("Avail = %v, want %v", kc.Avail, want)
	}
	if kc.RootCNodeSizeBits != 12 {
		t.Errorf("RootCNodeSizeBits = %d, want 12", kc.RootCNodeSizeBits)
	}

	want := []string{"--config=" + path, "--log-format=json", "--debug=true"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestBadConfig(t *testing.T) {
	for _, tc := range []struct {
		name     string
		flags    map[string]string
		contents string
		wantErr  error
	}{
		{
			name:  "log format",
			flags: map[string]string{"log-format": "xml"},
		},
		{
			name:     "unknown key",
			contents: "avail_start = 0x80000000\nram_size = 4096\n",
		},
		{
			name:     "syntax",
			contents: "avail_start = \n",
		},
		{
			name:     "kernel outside memory",
			contents: "kernel_start = 0x70000000\n",
			wantErr:  kernel.ErrBadConfig,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if tc.contents != "" {
				if err := testFlags.Set("config", writeFile(t, tc.contents)); err != nil {
					t.Fatal(err)
				}
			}
			for name, val := range tc.flags {
				if err := testFlags.Set(name, val); err != nil {
					t.Fatal(err)
				}
			}
			_, err := NewFromFlags(testFlags)
			if err == nil {
				t.Fatalf("NewFromFlags succeeded")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("NewFromFlags = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestMachineRoundTrip(t *testing.T) {
	conf := kernel.DefaultConfig()
	conf.Avail = addr.Pregion{Start: 0x80000000, End: 0x88000000}
	conf.KernelImage = addr.Pregion{Start: 0x80000000, End: 0x80100000}
	conf.KernelBootEnd = 0x80010000
	conf.KernelStatics = addr.Pregion{Start: 0x800f8000, End: 0x80100000}
	m := MachineFrom(conf)
	got, err := m.KernelConfig()
	if err != nil {
		t.Fatalf("KernelConfig: %v", err)
	}
	if diff := cmp.Diff(conf, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
