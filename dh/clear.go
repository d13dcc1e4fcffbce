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
	"github.com/creachadair/atomicfile"

	"github.com/creachadair/dhstore/internal/blockio"
	"github.com/creachadair/dhstore/internal/filetable"
)

// Clear truncates the file back to min_modulus empty groups and an empty
// overflow subfile. It marks a clear in progress for the
// duration so concurrent readers and writers on this process spin rather
// than observe a half-truncated file.
func (h *Handle) Clear() error {
	if err := h.entry.BeginClear(); err != nil {
		return resourceErr(subfilePrimary, err)
	}
	defer h.entry.EndClear()

	p := h.entry.Snapshot()
	groupBytes := h.groupBytes()

	ph := &primaryHeader{
		Magic:       MagicPrimary,
		FileVersion: uint16(p.Version),
		GroupSize:   uint16(p.GroupSize),
		Modulus:     uint32(p.MinModulus),
		MinModulus:  uint32(p.MinModulus),
		BigRecSize:  uint32(p.BigRecSize),
		SplitLoad:   uint16(p.SplitLoad),
		MergeLoad:   uint16(p.MergeLoad),
		ModValue:    uint32(minModValueFor(p.MinModulus)),
		Flags:       h.flags,
		AKMap:       h.akMap,
		UserHash:    h.userHash,
		AKPath:      h.akPath,
		// CreationTimestamp is deliberately preserved across a clear: the
		// file identity (and its AK/VOC association) survives, only its
		// contents are wiped.
		CreationTimestamp: h.creationTimestamp,
	}
	hbuf, err := encodePrimaryHeader(ph, h.order)
	if err != nil {
		return policyErr("%v", err)
	}
	empty := newDataBlock(groupBytes, h.order)
	full := make([]byte, 0, len(hbuf)+int(p.MinModulus)*groupBytes)
	full = append(full, hbuf...)
	for i := int64(0); i < p.MinModulus; i++ {
		full = append(full, empty...)
	}
	if err := atomicfile.WriteData(h.primary.Name(), full, 0644); err != nil {
		return resourceErr(subfilePrimary, err)
	}

	oh := &overflowHeader{Magic: MagicOverflow, GroupSize: uint16(p.GroupSize)}
	obuf := encodeOverflowHeader(oh, h.order)
	if err := atomicfile.WriteData(h.oflow.Name(), obuf, 0644); err != nil {
		return resourceErr(subfileOverflow, err)
	}

	// atomicfile.WriteData replaces each path by rename, which detaches any
	// already-open descriptor from the new inode; reopen both subfiles so
	// subsequent ReadBlock/WriteBlock calls through h see the cleared file.
	if err := h.reopenSubfiles(groupBytes); err != nil {
		return err
	}

	h.entry.WithLock(func(rp *filetable.Params) {
		rp.Modulus = p.MinModulus
		rp.ModValue = minModValueFor(p.MinModulus)
		rp.LoadBytes = 0
		rp.FreeChain = 0
		rp.RecordCount = 0
		rp.LongestID = 0
		rp.ExtendedLoad = 0
	})
	return nil
}

// reopenSubfiles closes and reopens h's primary and overflow descriptors,
// used after an atomicfile rename-replace (Clear) changes the inode a path
// points to.
func (h *Handle) reopenSubfiles(groupBytes int) error {
	primaryPath := h.primary.Name()
	oflowPath := h.oflow.Name()
	headerSize := h.headerSize()

	h.primary.Close()
	h.oflow.Close()

	pf, err := blockio.Open(primaryPath, headerSize, groupBytes, false)
	if err != nil {
		return resourceErr(subfilePrimary, err)
	}
	of, err := blockio.Open(oflowPath, headerSize, groupBytes, false)
	if err != nil {
		pf.Close()
		return resourceErr(subfileOverflow, err)
	}
	h.primary = pf
	h.oflow = of
	return nil
}

func minModValueFor(minModulus int64) int64 {
	v := int64(1)
	for v < minModulus {
		v <<= 1
	}
	return v
}
