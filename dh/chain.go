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
	"encoding/binary"

	"github.com/creachadair/mds/mapset"
)

// blockRef names one block of a group chain: the head block lives in the
// primary subfile at the group number itself; every subsequent block lives
// in the overflow subfile, addressed by the previous block's Next field.
type blockRef struct {
	primary bool
	num     int64
}

func (r blockRef) subfile() int {
	if r.primary {
		return subfilePrimary
	}
	return subfileOverflow
}

func (h *Handle) readBlockRef(r blockRef, buf []byte) error {
	if r.primary {
		return h.primary.ReadBlock(r.num, buf)
	}
	return h.oflow.ReadBlock(r.num, buf)
}

func (h *Handle) writeBlockRef(r blockRef, buf []byte) error {
	if r.primary {
		return h.primary.WriteBlock(r.num, buf)
	}
	return h.oflow.WriteBlock(r.num, buf)
}

// loadChain reads every block of group g's chain into memory, in order,
// validating each block's header as it goes and rejecting a chain that
// loops back on an overflow block it has already visited.
func (h *Handle) loadChain(g int64) ([]blockRef, [][]byte, error) {
	var refs []blockRef
	var bufs [][]byte
	seen := mapset.New[int64]()
	ref := blockRef{primary: true, num: g}
	groupBytes := h.groupBytes()
	for {
		buf := make([]byte, groupBytes)
		if err := h.readBlockRef(ref, buf); err != nil {
			return nil, nil, resourceErr(ref.subfile(), err)
		}
		bh, err := validateBlock(buf, h.order, ref.subfile(), g)
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, ref)
		bufs = append(bufs, buf)
		if bh.Next == 0 {
			break
		}
		if !seen.Add(int64(bh.Next)) {
			return nil, nil, structuralErr(ref.subfile(), g, "overflow chain loops back to block %d", bh.Next)
		}
		ref = blockRef{primary: false, num: int64(bh.Next)}
	}
	return refs, bufs, nil
}

// foundRecord locates a decoded record within a loaded chain.
type foundRecord struct {
	chainIdx int
	offset   int
	rec      *record
}

// findInChain scans every block of a loaded chain for a record whose id
// equals folded (already case-folded by the caller if NOCASE applies).
func findInChain(bufs [][]byte, folded string, order binary.ByteOrder) (*foundRecord, error) {
	for ci, buf := range bufs {
		bh := readBlockHeader(buf, order)
		off := BlockHeaderSize
		for off < int(bh.UsedBytes) {
			rec, err := decodeRecord(buf[off:bh.UsedBytes], order)
			if err != nil {
				return nil, err
			}
			if rec.ID == folded {
				return &foundRecord{chainIdx: ci, offset: off, rec: rec}, nil
			}
			off += int(rec.Next)
		}
	}
	return nil, nil
}

// removeRecordAt deletes the recLen bytes at buf[off:off+recLen] by shifting
// every following byte down, zeroing the newly-freed tail, and adjusting
// used_bytes.
func removeRecordAt(buf []byte, off, recLen int, order binary.ByteOrder) {
	bh := readBlockHeader(buf, order)
	used := int(bh.UsedBytes)
	tailStart := off + recLen
	n := copy(buf[off:used], buf[tailStart:used])
	for i := off + n; i < used; i++ {
		buf[i] = 0
	}
	bh.UsedBytes = uint16(used - recLen)
	bh.put(buf, order)
}

// appendRecord appends rec to the tail block of a loaded chain, allocating
// and linking a fresh overflow block if it does not fit. bufs[last] is
// rewritten in place; callers must still flush the blocks that changed
// (appendRecord returns their refs).
func (h *Handle) appendRecord(refs []blockRef, bufs [][]byte, rec []byte) ([]blockRef, [][]byte, error) {
	last := len(bufs) - 1
	bh := readBlockHeader(bufs[last], h.order)
	if int(bh.UsedBytes)+len(rec) <= len(bufs[last]) {
		copy(bufs[last][bh.UsedBytes:], rec)
		bh.UsedBytes += uint16(len(rec))
		bh.put(bufs[last], h.order)
		return refs[last:], bufs[last:], nil
	}

	blockNum, err := h.getOverflow()
	if err != nil {
		return nil, nil, err
	}
	newBuf := newDataBlock(len(bufs[last]), h.order)
	nbh := readBlockHeader(newBuf, h.order)
	copy(newBuf[nbh.UsedBytes:], rec)
	nbh.UsedBytes += uint16(len(rec))
	nbh.put(newBuf, h.order)

	bh.Next = uint32(blockNum)
	bh.put(bufs[last], h.order)

	newRef := blockRef{primary: false, num: blockNum}
	return []blockRef{refs[last], newRef}, [][]byte{bufs[last], newBuf}, nil
}

// flushAll writes every (ref, buf) pair back to its subfile.
func (h *Handle) flushAll(refs []blockRef, bufs [][]byte) error {
	for i, ref := range refs {
		if err := h.writeBlockRef(ref, bufs[i]); err != nil {
			return resourceErr(ref.subfile(), err)
		}
	}
	return nil
}
