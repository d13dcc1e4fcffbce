// Copyright 2019 Michael J. Fromberger. All Rights Reserved.
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

package dh

import (
	"fmt"
	"os"
	"time"

	"github.com/creachadair/atomicfile"
)

// Create creates a new DH file rooted at path, a directory that must not
// already contain a primary subfile. It validates p (see [CreateParams]),
// then writes an initialized primary header and p.MinModulus empty DATA
// groups to ~0, and an empty header to ~1.
func Create(path string, p CreateParams) error {
	p, err := p.validate()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return resourceErr(subfilePrimary, err)
	}
	primaryPath := subfilePath(path, subfilePrimary)
	if _, err := os.Stat(primaryPath); err == nil {
		return policyErr("dh: %s already exists", primaryPath)
	} else if !os.IsNotExist(err) {
		return resourceErr(subfilePrimary, err)
	}

	order := orderFor(p.BigEndian)
	groupBytes := p.GroupSize * BaseBlockBytes

	var flags uint32
	if p.NoCase {
		flags |= FlagNoCase
	}
	modValue := int64(1)
	for modValue < p.MinModulus {
		modValue <<= 1
	}
	ph := &primaryHeader{
		Magic:             MagicPrimary,
		FileVersion:       uint16(FileVersion),
		GroupSize:         uint16(p.GroupSize),
		Modulus:           uint32(p.MinModulus),
		MinModulus:        uint32(p.MinModulus),
		BigRecSize:        uint32(p.BigRecSize),
		SplitLoad:         uint16(p.SplitLoad),
		MergeLoad:         uint16(p.MergeLoad),
		ModValue:          uint32(modValue),
		CreationTimestamp: uint64(time.Now().Unix()),
		Flags:             flags,
	}
	hbuf, err := encodePrimaryHeader(ph, order)
	if err != nil {
		return policyErr("%v", err)
	}
	if int64(len(hbuf)) != int64(headerSlotBytes(p.GroupSize)) {
		return policyErr("dh: encoded header %d bytes, want %d", len(hbuf), headerSlotBytes(p.GroupSize))
	}

	// Append the min-modulus empty groups directly after the header so a
	// single WriteData call produces the whole initial primary subfile;
	// this keeps file creation crash-atomic.
	full := make([]byte, 0, len(hbuf)+int(p.MinModulus)*groupBytes)
	full = append(full, hbuf...)
	empty := newDataBlock(groupBytes, order)
	for i := int64(0); i < p.MinModulus; i++ {
		full = append(full, empty...)
	}
	if err := atomicfile.WriteData(primaryPath, full, 0644); err != nil {
		return resourceErr(subfilePrimary, err)
	}

	oh := &overflowHeader{Magic: MagicOverflow, GroupSize: uint16(p.GroupSize)}
	obuf := encodeOverflowHeader(oh, order)
	if err := atomicfile.WriteData(subfilePath(path, subfileOverflow), obuf, 0644); err != nil {
		os.Remove(primaryPath)
		return resourceErr(subfileOverflow, err)
	}
	return nil
}

// removeAll destroys a DH file and all of its subfiles. It is not part of
// the core read/write API, and no cmd/dhtool subcommand calls it.
func removeAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("dh: remove %s: %w", path, err)
	}
	return nil
}
