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

	"github.com/creachadair/dhstore/internal/filetable"
)

// groupFor computes the group number id hashes to under the file's current
// modulus/mod_value, and returns the case-folded id used for
// both hashing and comparison.
func (h *Handle) groupFor(id string) (int64, string, filetable.Params) {
	p := h.entry.Snapshot()
	folded := foldID(id, p.NoCase)
	return hashGroup(folded, false, p.Modulus, p.ModValue), folded, p
}

// Exists reports whether id is present.
func (h *Handle) Exists(id string) (bool, error) {
	g, folded, _ := h.groupFor(id)
	var found bool
	err := h.withGroupLock(g, false, func() error {
		_, bufs, err := h.loadChain(g)
		if err != nil {
			return err
		}
		fr, err := findInChain(bufs, folded, h.order)
		if err != nil {
			return err
		}
		found = fr != nil
		return nil
	})
	return found, err
}

// Read returns the data stored under id, or [ErrNotFound] if absent.
func (h *Handle) Read(id string) ([]byte, error) {
	g, folded, _ := h.groupFor(id)
	var out []byte
	err := h.withGroupLock(g, false, func() error {
		_, bufs, err := h.loadChain(g)
		if err != nil {
			return err
		}
		fr, err := findInChain(bufs, folded, h.order)
		if err != nil {
			return err
		}
		if fr == nil {
			return ErrNotFound
		}
		if fr.rec.isBig() {
			data, err := h.readBigRecord(fr.rec.BigGroup)
			if err != nil {
				return err
			}
			out = data
			return nil
		}
		out = append([]byte(nil), fr.rec.Data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores data under id, creating it if absent or overwriting it if
// present. It may trigger the AK hook and a split or merge.
func (h *Handle) Write(id string, data []byte) error {
	if id == "" {
		return policyErr("id must be non-empty")
	}
	g, folded, params := h.groupFor(id)

	inlineSize := RecordFixedHeaderSize + len(folded) + 4 + len(data)
	big := inlineSize >= params.BigRecSize

	var bigGroup uint32
	if big {
		bg, err := h.writeBigRecord(data)
		if err != nil {
			return err
		}
		bigGroup = bg
	}

	var (
		oldData    []byte
		oldBigHead uint32
		mode       = AKAdd
		isNewID    bool
		deltaLoad  int64
	)

	err := h.withGroupLock(g, true, func() error {
		refs, bufs, err := h.loadChain(g)
		if err != nil {
			return err
		}
		fr, err := findInChain(bufs, folded, h.order)
		if err != nil {
			return err
		}

		newRec := encodeRecord(folded, data, big, bigGroup, h.order)

		if fr == nil {
			isNewID = true
			deltaLoad = int64(len(newRec))
			wrefs, wbufs, err := h.appendRecord(refs, bufs, newRec)
			if err != nil {
				return err
			}
			return h.flushAll(wrefs, wbufs)
		}

		mode = AKModify
		if fr.rec.isBig() {
			oldBigHead = fr.rec.BigGroup
		} else {
			oldData = fr.rec.Data
		}
		oldLen := int(fr.rec.Next)

		if oldLen == len(newRec) {
			deltaLoad = 0
			copy(bufs[fr.chainIdx][fr.offset:fr.offset+oldLen], newRec)
			return h.flushAll(refs[fr.chainIdx:fr.chainIdx+1], bufs[fr.chainIdx:fr.chainIdx+1])
		}

		deltaLoad = int64(len(newRec) - oldLen)
		removeRecordAt(bufs[fr.chainIdx], fr.offset, oldLen, h.order)
		if err := h.flushAll(refs[fr.chainIdx:fr.chainIdx+1], bufs[fr.chainIdx:fr.chainIdx+1]); err != nil {
			return err
		}
		wrefs, wbufs, err := h.appendRecord(refs, bufs, newRec)
		if err != nil {
			return err
		}
		return h.flushAll(wrefs, wbufs)
	})
	if err != nil {
		if big {
			h.freeBigRecord(bigGroup)
		}
		return err
	}

	if oldBigHead != 0 {
		if err := h.freeBigRecord(oldBigHead); err != nil {
			return err
		}
	}

	if err := h.accountMutation(deltaLoad, len(id), isNewID); err != nil {
		return err
	}

	if err := callAKHook(h.AK, mode, id, oldData, data); err != nil {
		return err
	}
	h.maybeResize(g)
	return nil
}

// Delete removes the record stored under id, if present.
// Deleting an absent id is not an error.
func (h *Handle) Delete(id string) error {
	g, folded, _ := h.groupFor(id)

	var (
		oldData    []byte
		oldBigHead uint32
		deleted    bool
		deltaLoad  int64
	)

	err := h.withGroupLock(g, true, func() error {
		refs, bufs, err := h.loadChain(g)
		if err != nil {
			return err
		}
		fr, err := findInChain(bufs, folded, h.order)
		if err != nil {
			return err
		}
		if fr == nil {
			return nil
		}
		deleted = true
		if fr.rec.isBig() {
			oldBigHead = fr.rec.BigGroup
		} else {
			oldData = fr.rec.Data
		}
		deltaLoad = -int64(fr.rec.Next)

		removeRecordAt(bufs[fr.chainIdx], fr.offset, int(fr.rec.Next), h.order)
		return h.compactChain(refs, bufs, fr.chainIdx)
	})
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	if oldBigHead != 0 {
		if err := h.freeBigRecord(oldBigHead); err != nil {
			return err
		}
	}
	if err := h.withGroupLock(headerGroup, true, func() error {
		h.entry.WithLock(func(p *filetable.Params) {
			p.LoadBytes += deltaLoad
			p.RecordCount--
		})
		return h.flushHeader()
	}); err != nil {
		return err
	}
	if err := callAKHook(h.AK, AKDelete, id, oldData, nil); err != nil {
		return err
	}
	h.maybeResize(g)
	return nil
}

// compactChain implements post-delete compaction: if the
// block that lost a record is now empty and is an overflow block, unlink
// and free it; otherwise pull records forward from later blocks in the
// chain to fill the gap, freeing any block that becomes empty.
func (h *Handle) compactChain(refs []blockRef, bufs [][]byte, emptiedIdx int) error {
	bh := readBlockHeader(bufs[emptiedIdx], h.order)
	if int(bh.UsedBytes) == BlockHeaderSize && !refs[emptiedIdx].primary {
		var prevIdx = emptiedIdx - 1
		pbh := readBlockHeader(bufs[prevIdx], h.order)
		pbh.Next = bh.Next
		pbh.put(bufs[prevIdx], h.order)
		if err := h.flushAll(refs[prevIdx:prevIdx+1], bufs[prevIdx:prevIdx+1]); err != nil {
			return err
		}
		return h.freeOverflow(refs[emptiedIdx].num)
	}

	target := emptiedIdx
	for target+1 < len(bufs) {
		src := target + 1
		moved := pullRecordsForward(bufs[target], bufs[src], h.order)
		if !moved {
			break
		}
		sbh := readBlockHeader(bufs[src], h.order)
		if int(sbh.UsedBytes) == BlockHeaderSize {
			tbh := readBlockHeader(bufs[target], h.order)
			tbh.Next = sbh.Next
			tbh.put(bufs[target], h.order)
			if err := h.flushAll(refs[target:target+1], bufs[target:target+1]); err != nil {
				return err
			}
			if err := h.freeOverflow(refs[src].num); err != nil {
				return err
			}
			// The freed block has left the chain; keep filling target from
			// the block that now follows it.
			refs = append(refs[:src:src], refs[src+1:]...)
			bufs = append(bufs[:src:src], bufs[src+1:]...)
			continue
		}
		// src still holds records: write target and src back so the moved
		// records are not left on disk in both blocks.
		if err := h.flushAll(refs[target:src+1], bufs[target:src+1]); err != nil {
			return err
		}
		break
	}
	return h.flushAll(refs[emptiedIdx:emptiedIdx+1], bufs[emptiedIdx:emptiedIdx+1])
}

// pullRecordsForward moves as many whole records as fit from src into dst,
// reporting whether it moved anything.
func pullRecordsForward(dst, src []byte, order binary.ByteOrder) bool {
	dbh := readBlockHeader(dst, order)
	moved := false
	for {
		sbh := readBlockHeader(src, order)
		if int(sbh.UsedBytes) <= BlockHeaderSize {
			break
		}
		rec, err := decodeRecord(src[BlockHeaderSize:sbh.UsedBytes], order)
		if err != nil {
			break
		}
		recLen := int(rec.Next)
		if int(dbh.UsedBytes)+recLen > len(dst) {
			break
		}
		copy(dst[dbh.UsedBytes:], src[BlockHeaderSize:BlockHeaderSize+recLen])
		dbh.UsedBytes += uint16(recLen)
		removeRecordAt(src, BlockHeaderSize, recLen, order)
		moved = true
	}
	dbh.put(dst, order)
	return moved
}

// accountMutation applies a load_bytes/longest_id delta under the header
// lock and persists the header
func (h *Handle) accountMutation(deltaLoad int64, idLen int, isNewID bool) error {
	return h.withGroupLock(headerGroup, true, func() error {
		h.entry.WithLock(func(p *filetable.Params) {
			p.LoadBytes += deltaLoad
			if idLen > p.LongestID {
				p.LongestID = idLen
			}
			if isNewID {
				p.RecordCount++
			}
		})
		return h.flushHeader()
	})
}
