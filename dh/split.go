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

// DHLoad computes the percent load used to decide whether to split or
// merge: loadBytes as a percentage of the file's total addressable
// capacity at the given modulus.
func DHLoad(loadBytes int64, groupSizeBytes int, modulus int64) int {
	if modulus <= 0 || groupSizeBytes <= 0 {
		return 0
	}
	return int(loadBytes * 100 / (int64(groupSizeBytes) * modulus))
}

// maybeResize evaluates split/merge after a write or delete touching
// justWrote Only one split or merge runs
// at a time per file, enforced by the entry's inhibit count.
func (h *Handle) maybeResize(justWrote int64) {
	if h.entry.Inhibited() {
		return
	}
	p := h.entry.Snapshot()
	load := DHLoad(p.LoadBytes, h.groupBytes(), p.Modulus)
	switch {
	case load > p.SplitLoad || p.Modulus < p.MinModulus:
		h.split()
	case load < p.MergeLoad && p.Modulus > p.MinModulus:
		h.merge()
	}
}

// split performs one incremental linear-hash split.
// Failure is not surfaced to Write/Delete's caller: a missed split only
// delays load relief to the next mutation, which re-evaluates the same
// condition.
func (h *Handle) split() {
	var newGroup, sourceGroup int64
	var newModulus, newModValue int64
	ok := false

	h.entry.Inhibit()
	defer h.entry.Uninhibit()

	_ = h.withGroupLock(headerGroup, true, func() error {
		p := h.entry.Snapshot()
		load := DHLoad(p.LoadBytes, h.groupBytes(), p.Modulus)
		if load <= p.SplitLoad && p.Modulus >= p.MinModulus {
			return nil // lost the race to another split
		}
		newModulus = p.Modulus + 1
		newModValue = p.ModValue
		if newModulus > newModValue {
			newModValue <<= 1
		}
		newGroup = newModulus
		sourceGroup = newGroup - newModValue/2
		if sourceGroup < 1 {
			return nil // degenerate single-group file; nothing to split
		}
		ok = true
		return nil
	})
	if !ok {
		return
	}

	// Grow the primary subfile to hold the new group before any lock on it
	// is taken, and record the modulus change, still inside the inhibit
	// window so no other split/merge interleaves.
	if err := h.growPrimaryTo(newGroup); err != nil {
		return
	}
	h.entry.WithLock(func(p *filetable.Params) {
		p.Modulus = newModulus
		p.ModValue = newModValue
	})
	h.withGroupLock(headerGroup, true, func() error { return h.flushHeader() })

	// Hold both the source and the new group's write locks for the
	// redistribute: a reader that computes newGroup under the
	// already-bumped modulus must never observe a partially written group.
	// Lock in increasing group-number order (sourceGroup < newGroup here),
	// matching merge's target-then-source ordering, to avoid deadlocking
	// against a concurrent merge.
	h.withGroupLock(sourceGroup, true, func() error {
		return h.withGroupLock(newGroup, true, func() error {
			return h.redistribute(sourceGroup, newGroup)
		})
	})
}

// merge performs one incremental linear-hash merge.
func (h *Handle) merge() {
	h.entry.Inhibit()
	defer h.entry.Uninhibit()

	var sourceGroup, targetGroup int64
	var newModulus, newModValue int64
	ok := false
	_ = h.withGroupLock(headerGroup, true, func() error {
		p := h.entry.Snapshot()
		load := DHLoad(p.LoadBytes, h.groupBytes(), p.Modulus)
		if load >= p.MergeLoad || p.Modulus <= p.MinModulus {
			return nil
		}
		sourceGroup = p.Modulus
		newModulus = p.Modulus - 1
		newModValue = p.ModValue
		if newModulus <= newModValue/2 {
			newModValue >>= 1
		}
		targetGroup = sourceGroup - p.ModValue/2
		if targetGroup < 1 {
			return nil
		}
		ok = true
		return nil
	})
	if !ok {
		return
	}

	// Order target-then-source for merge; adjust modulus
	// before releasing either lock so a concurrent reader cannot compute a
	// stale group.
	h.withGroupLock(targetGroup, true, func() error {
		return h.withGroupLock(sourceGroup, true, func() error {
			h.entry.WithLock(func(p *filetable.Params) {
				p.Modulus = newModulus
				p.ModValue = newModValue
			})
			if err := h.withGroupLock(headerGroup, true, func() error { return h.flushHeader() }); err != nil {
				return err
			}
			return h.appendChainInto(sourceGroup, targetGroup)
		})
	})
}

// growPrimaryTo ensures the primary subfile has at least n groups
// allocated, writing fresh empty DATA blocks for any new ones.
func (h *Handle) growPrimaryTo(n int64) error {
	cur, err := h.primary.NumBlocks()
	if err != nil {
		return resourceErr(subfilePrimary, err)
	}
	if cur >= n {
		return nil
	}
	empty := newDataBlock(h.groupBytes(), h.order)
	for g := cur + 1; g <= n; g++ {
		if err := h.primary.WriteBlock(g, empty); err != nil {
			return resourceErr(subfilePrimary, err)
		}
	}
	return nil
}

// redistribute rehashes every record in sourceGroup's chain under the new
// modulus, writing records that still hash to sourceGroup back into it and
// records that now hash to newGroup into newGroup, then releases any
// source overflow blocks left over.
func (h *Handle) redistribute(sourceGroup, newGroup int64) error {
	p := h.entry.Snapshot()
	refs, bufs, err := h.loadChain(sourceGroup)
	if err != nil {
		return err
	}

	var stay, move [][]byte
	groupBytes := h.groupBytes()
	stayHead := newDataBlock(groupBytes, h.order)
	moveHead := newDataBlock(groupBytes, h.order)
	stay = append(stay, stayHead)
	move = append(move, moveHead)

	appendInto := func(bufsSlice [][]byte, rec []byte) [][]byte {
		last := len(bufsSlice) - 1
		bh := readBlockHeader(bufsSlice[last], h.order)
		if int(bh.UsedBytes)+len(rec) > groupBytes {
			fresh := newDataBlock(groupBytes, h.order)
			bufsSlice = append(bufsSlice, fresh)
			last++
			bh = readBlockHeader(bufsSlice[last], h.order)
		}
		copy(bufsSlice[last][bh.UsedBytes:], rec)
		bh.UsedBytes += uint16(len(rec))
		bh.put(bufsSlice[last], h.order)
		return bufsSlice
	}

	for _, buf := range bufs {
		bh := readBlockHeader(buf, h.order)
		off := BlockHeaderSize
		for off < int(bh.UsedBytes) {
			rec, err := decodeRecord(buf[off:bh.UsedBytes], h.order)
			if err != nil {
				return err
			}
			off += int(rec.Next)
			g := hashGroup(rec.ID, false, p.Modulus, p.ModValue)
			raw := encodeRecord(rec.ID, rec.Data, rec.isBig(), rec.BigGroup, h.order)
			if g == newGroup {
				move = appendInto(move, raw)
			} else {
				stay = appendInto(stay, raw)
			}
		}
	}

	// Write the move chain into newGroup before touching sourceGroup at all:
	// newGroup's primary slot was freshly grown and holds no live records
	// yet, so if this flush's getOverflow allocation fails, nothing is
	// lost and sourceGroup's original combined chain is still completely
	// intact and readable. Only once move is safely on disk do we overwrite
	// sourceGroup with the stay chain; if that second flush's allocation
	// fails instead, sourceGroup's original combined chain is still
	// untouched (move's records are simply, harmlessly, also reachable
	// from newGroup at that point). Either way a getOverflow failure never
	// leaves a record unreachable from both groups.
	if err := h.flushRebuiltChain(newGroup, move); err != nil {
		return err
	}
	if err := h.flushRebuiltChain(sourceGroup, stay); err != nil {
		return err
	}

	for _, ref := range refs {
		if !ref.primary {
			if err := h.freeOverflow(ref.num); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushRebuiltChain writes a freshly assembled in-memory chain (built by
// redistribute) to group, allocating overflow blocks for every block
// beyond the first.
func (h *Handle) flushRebuiltChain(group int64, bufs [][]byte) error {
	return h.flushChainBlocks(group, bufs)
}

// flushChainBlocks is the actual writer: it allocates overflow blocks for
// every block after the first and writes the whole chain in one forward
// pass, linking each block to the next as it goes.
func (h *Handle) flushChainBlocks(group int64, bufs [][]byte) error {
	nums := make([]int64, len(bufs))
	nums[0] = group
	for i := 1; i < len(bufs); i++ {
		n, err := h.getOverflow()
		if err != nil {
			return err
		}
		nums[i] = n
	}
	for i, buf := range bufs {
		bh := readBlockHeader(buf, h.order)
		if i+1 < len(bufs) {
			bh.Next = uint32(nums[i+1])
		} else {
			bh.Next = 0
		}
		bh.put(buf, h.order)
		if i == 0 {
			if err := h.primary.WriteBlock(group, buf); err != nil {
				return resourceErr(subfilePrimary, err)
			}
		} else if err := h.oflow.WriteBlock(nums[i], buf); err != nil {
			return resourceErr(subfileOverflow, err)
		}
	}
	return nil
}

// appendChainInto appends every record of sourceGroup's chain onto the
// tail of targetGroup's chain, then zeroes the
// now-released source primary slot.
func (h *Handle) appendChainInto(sourceGroup, targetGroup int64) error {
	srefs, sbufs, err := h.loadChain(sourceGroup)
	if err != nil {
		return err
	}
	trefs, tbufs, err := h.loadChain(targetGroup)
	if err != nil {
		return err
	}

	for _, buf := range sbufs {
		bh := readBlockHeader(buf, h.order)
		off := BlockHeaderSize
		for off < int(bh.UsedBytes) {
			rec, err := decodeRecord(buf[off:bh.UsedBytes], h.order)
			if err != nil {
				return err
			}
			off += int(rec.Next)
			raw := encodeRecord(rec.ID, rec.Data, rec.isBig(), rec.BigGroup, h.order)
			wrefs, wbufs, err := h.appendRecord(trefs, tbufs, raw)
			if err != nil {
				return err
			}
			if err := h.flushAll(wrefs, wbufs); err != nil {
				return err
			}
			if len(wbufs) > 1 {
				trefs = append(trefs, wrefs[1])
				tbufs = append(tbufs, wbufs[1])
			} else {
				tbufs[len(tbufs)-1] = wbufs[0]
			}
		}
	}

	for _, ref := range srefs {
		if !ref.primary {
			if err := h.freeOverflow(ref.num); err != nil {
				return err
			}
		}
	}
	empty := newDataBlock(h.groupBytes(), h.order)
	if err := h.primary.WriteBlock(sourceGroup, empty); err != nil {
		return resourceErr(subfilePrimary, err)
	}
	return nil
}
