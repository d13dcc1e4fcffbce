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

import "github.com/creachadair/dhstore/internal/filetable"

// getOverflow returns a fresh overflow block number:
// pop the free chain's head if non-empty, otherwise extend the overflow
// subfile by one block. Callers must already be inside whatever lock
// protects the chain they are about to link the block into; getOverflow
// itself acquires the header (group 0) lock to serialize free-chain
// mutation across concurrent writers and processes.
func (h *Handle) getOverflow() (int64, error) {
	var block int64
	err := h.withGroupLock(headerGroup, true, func() error {
		params := h.entry.Snapshot()
		if params.FreeChain != 0 {
			buf := make([]byte, h.groupBytes())
			if err := h.oflow.ReadBlock(params.FreeChain, buf); err != nil {
				return resourceErr(subfileOverflow, err)
			}
			bh := readBlockHeader(buf, h.order)
			block = params.FreeChain
			h.entry.WithLock(func(p *filetable.Params) { p.FreeChain = int64(bh.Next) })
			return h.flushHeader()
		}
		n, err := h.oflow.Extend()
		if err != nil {
			return resourceErr(subfileOverflow, err)
		}
		block = n
		return nil
	})
	return block, err
}

// freeOverflow returns block to the free chain, zeroing its payload and
// linking it at the new head.
func (h *Handle) freeOverflow(block int64) error {
	return h.withGroupLock(headerGroup, true, func() error {
		params := h.entry.Snapshot()
		buf := newDataBlock(h.groupBytes(), h.order)
		bh := readBlockHeader(buf, h.order)
		bh.Next = uint32(params.FreeChain)
		bh.put(buf, h.order)
		if err := h.oflow.WriteBlock(block, buf); err != nil {
			return resourceErr(subfileOverflow, err)
		}
		h.entry.WithLock(func(p *filetable.Params) { p.FreeChain = block })
		return h.flushHeader()
	})
}

// flushHeader re-encodes the file's current runtime parameters and writes
// them to the primary subfile's header slot in place.
//
// atomicfile.WriteData fits a write when the whole blob is small and known
// up front, since its replace-and-rename only works on a file's entire
// content. Here the header is a fixed-size prefix of a subfile
// that also holds the group data, so a routine field update instead uses a
// direct pwrite (blockio.File.WriteHeader) at a fixed offset, the same
// approach original_source/dh_write.c takes for its `~0` header flush.
// atomicfile is still used for Create and Clear, where the written content
// genuinely is the complete subfile.
func (h *Handle) flushHeader() error {
	p := h.entry.Snapshot()
	ph := &primaryHeader{
		Magic:             MagicPrimary,
		FileVersion:       uint16(p.Version),
		GroupSize:         uint16(p.GroupSize),
		Modulus:           uint32(p.Modulus),
		MinModulus:        uint32(p.MinModulus),
		BigRecSize:        uint32(p.BigRecSize),
		SplitLoad:         uint16(p.SplitLoad),
		MergeLoad:         uint16(p.MergeLoad),
		ModValue:          uint32(p.ModValue),
		LongestID:         uint16(p.LongestID),
		FreeChain:         uint32(p.FreeChain),
		LoadBytes:         uint64(p.LoadBytes),
		ExtendedLoadBytes: uint64(p.ExtendedLoad),
		Flags:             h.flags,
		AKMap:             h.akMap,
		CreationTimestamp: h.creationTimestamp,
		RecordCount:       uint64(p.RecordCount),
		UserHash:          h.userHash,
		AKPath:            h.akPath,
	}
	buf, err := encodePrimaryHeader(ph, h.order)
	if err != nil {
		return policyErr("%v", err)
	}
	if err := h.primary.WriteHeader(buf); err != nil {
		return resourceErr(subfilePrimary, err)
	}
	return nil
}
