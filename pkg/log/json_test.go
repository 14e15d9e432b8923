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

package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: `"warning"`, want: Warning},
		{in: `"info"`, want: Info},
		{in: `"debug"`, want: Debug},
		{in: `0`, want: Warning},
		{in: `1`, want: Info},
		{in: `2`, want: Debug},
		{in: `3`, wantErr: true},
		{in: `"verbose"`, wantErr: true},
		{in: `{}`, wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			var got Level
			err := json.Unmarshal([]byte(tc.in), &got)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) = %v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("Marshal(Level(7)) succeeded")
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
	e.Emit(0, Info, ts, "root cnode at %#x", 0x8ff80000)

	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(tw.lines), tw.lines)
	}
	if !strings.HasSuffix(tw.lines[0], "}\n") {
		t.Errorf("entry %q is not newline terminated", tw.lines[0])
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("Unmarshal(%q): %v", tw.lines[0], err)
	}
	if !strings.HasPrefix(got.Source, "json_test.go:") {
		t.Errorf("source = %q, want json_test.go:<line>", got.Source)
	}
	got.Source = ""
	want := jsonLog{Msg: "root cnode at 0x8ff80000", Level: Info, Time: ts}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("log entry mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	vars := FileVars{"COMMAND": "boot", "TIMESTAMP": "20260304-050607"}
	pattern := filepath.Join(dir, "%COMMAND%", "rvsel4.%TIMESTAMP%.%UNKNOWN%.log")

	f, err := OpenFile(pattern, os.O_WRONLY|os.O_CREATE, vars)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	want := filepath.Join(dir, "boot", "rvsel4.20260304-050607.%UNKNOWN%.log")
	if got := f.Name(); got != want {
		t.Errorf("file name = %q, want %q", got, want)
	}

	if f, err := OpenFile("", os.O_RDONLY, vars); f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = %v, %v, want nil, nil", f, err)
	}
}
