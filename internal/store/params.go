// Copyright (c) 2017 Huawei Technologies Duesseldorf GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the two on-disk artifacts the gateway persists:
// the ordered parameter list and the opaque VCL blob.
package store

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Param is one (name, value) pair in the persisted parameter list.
type Param struct {
	Name  string
	Value string
}

// ParamList is the ordered, deduplicated-by-name parameter list described
// in spec §3: at most one entry per name, last write wins, order reflects
// insertion order of the surviving entries.
type ParamList struct {
	order []Param
}

var paramLineRe = regexp.MustCompile(`^(\S+?)=(.*)$`)

// NewParamList returns an empty parameter list.
func NewParamList() *ParamList {
	return &ParamList{}
}

// Add removes any existing entry named name and appends (name, value) at
// the end, so it is always the most recently written entry.
func (p *ParamList) Add(name, value string) {
	p.order = p.removed(name)
	p.order = append(p.order, Param{Name: name, Value: value})
}

func (p *ParamList) removed(name string) []Param {
	out := make([]Param, 0, len(p.order))
	for _, e := range p.order {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

// All returns the surviving entries in insertion order. The caller must not
// mutate the returned slice.
func (p *ParamList) All() []Param {
	return p.order
}

// Len reports the number of surviving entries.
func (p *ParamList) Len() int {
	return len(p.order)
}

// ParseParamLine parses one line of the parameter file format. Blank and
// non-matching lines are reported via ok=false, not an error: callers
// ignore them on read, per spec §6.
func ParseParamLine(line string) (name, value string, ok bool) {
	if strings.TrimSpace(line) == "" {
		return "", "", false
	}
	m := paramLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// FormatParamLine renders one parameter file line.
func FormatParamLine(name, value string) string {
	return fmt.Sprintf("%s=%s\n", name, value)
}

// ParamStore reads and rewrites the parameter file.
type ParamStore struct {
	path string
}

// NewParamStore returns a store backed by path.
func NewParamStore(path string) *ParamStore {
	return &ParamStore{path: path}
}

// Load reads path into a ParamList. A missing file is treated as an empty
// list, per spec §7 ("On read, treated as empty").
func (s *ParamStore) Load() (*ParamList, error) {
	list := NewParamList()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return list, nil
		}
		return list, fmt.Errorf("couldn't read parameter file %s: %v", s.path, err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	for scan.Scan() {
		name, value, ok := ParseParamLine(scan.Text())
		if !ok {
			continue
		}
		list.Add(name, value)
	}
	if err := scan.Err(); err != nil {
		return list, fmt.Errorf("couldn't read parameter file %s: %v", s.path, err)
	}

	return list, nil
}

// Save rewrites the parameter file with every surviving entry of list, one
// name=value line per entry in list order. The write is made through a
// temp file and rename so a crash mid-write cannot leave a half-written
// file behind.
func (s *ParamStore) Save(list *ParamList) error {
	var b strings.Builder
	for _, e := range list.All() {
		b.WriteString(FormatParamLine(e.Name, e.Value))
	}

	return atomicWriteFile(s.path, []byte(b.String()), 0640)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("couldn't create temp file for %s: %v", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("couldn't write %s: %v", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("couldn't chmod %s: %v", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("couldn't close temp file for %s: %v", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("couldn't store %s: %v", path, err)
	}

	return nil
}

// SHA1Hex returns the hexadecimal SHA-1 fingerprint of body.
func SHA1Hex(body string) string {
	sum := sha1.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}
