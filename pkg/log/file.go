// Copyright 2024 The gVisor Authors.
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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileVars are the variables substituted into a log file pattern. A key K
// replaces every occurrence of %K% in the pattern.
type FileVars map[string]string

// Expand returns pattern with every known variable replaced.
func (v FileVars) Expand(pattern string) string {
	var oldnew []string
	for k, val := range v {
		oldnew = append(oldnew, "%"+k+"%", val)
	}
	return strings.NewReplacer(oldnew...).Replace(pattern)
}

// OpenFile expands pattern and opens the resulting file with flags, creating
// its parent directory if needed. An empty pattern returns a nil file.
func OpenFile(pattern string, flags int, vars FileVars) (*os.File, error) {
	if len(pattern) == 0 {
		return nil, nil
	}
	path := vars.Expand(pattern)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}
	f, err := os.OpenFile(path, flags, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", path, err)
	}
	return f, nil
}
