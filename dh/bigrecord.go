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

// writeBigRecord writes data as a large-record chain in the overflow
// subfile. This runs before any group lock is taken, under only the
// header lock inside each getOverflow call. It returns the chain's head
// block number.
func (h *Handle) writeBigRecord(data []byte) (uint32, error) {
	groupBytes := h.groupBytes()
	headCap := groupBytes - BigRecHeaderSize
	contCap := groupBytes - BlockHeaderSize

	headBlock, err := h.getOverflow()
	if err != nil {
		return 0, err
	}
	headBuf := newDataBlock(groupBytes, h.order)
	bh := readBlockHeader(headBuf, h.order)
	bh.BlockType = BlockBigRec
	n := len(data)
	if n > headCap {
		n = headCap
	}
	copy(headBuf[BigRecHeaderSize:], data[:n])
	bh.UsedBytes = uint16(BigRecHeaderSize + n)
	bh.put(headBuf, h.order)
	putBigRecDataLen(headBuf, h.order, uint32(len(data)))
	rest := data[n:]

	prevBuf := headBuf
	prevBlock := headBlock
	for len(rest) > 0 {
		blockNum, err := h.getOverflow()
		if err != nil {
			h.unlinkChainFrom(headBlock, headBuf, prevBuf, prevBlock)
			return 0, err
		}
		buf := newDataBlock(groupBytes, h.order)
		cbh := readBlockHeader(buf, h.order)
		cbh.BlockType = BlockBigRec
		m := len(rest)
		if m > contCap {
			m = contCap
		}
		copy(buf[BlockHeaderSize:], rest[:m])
		cbh.UsedBytes = uint16(BlockHeaderSize + m)
		cbh.put(buf, h.order)

		pbh := readBlockHeader(prevBuf, h.order)
		pbh.Next = uint32(blockNum)
		pbh.put(prevBuf, h.order)
		if err := h.writeOverflowBlock(prevBlock, prevBuf); err != nil {
			return 0, err
		}

		rest = rest[m:]
		prevBuf = buf
		prevBlock = blockNum
	}
	if err := h.writeOverflowBlock(prevBlock, prevBuf); err != nil {
		return 0, err
	}
	return uint32(headBlock), nil
}

// writeOverflowBlock is a small convenience wrapper so bigrecord.go reads
// symmetrically with chain.go's blockRef-based helpers.
func (h *Handle) writeOverflowBlock(block int64, buf []byte) error {
	if err := h.oflow.WriteBlock(block, buf); err != nil {
		return resourceErr(subfileOverflow, err)
	}
	return nil
}

// unlinkChainFrom is a best-effort cleanup when a mid-chain allocation
// fails: it frees whatever blocks were already allocated, since the head
// has not yet been linked into any record and so is otherwise unreachable
// (and would silently leak). lastBuf/lastBlock name the most recently
// allocated block, which writeBigRecord has not yet flushed to disk; its
// on-disk content is still whatever getOverflow handed back (zeroed, or a
// stale free-chain pointer), so freeBigRecord must not walk past it until
// it has been terminated and written.
func (h *Handle) unlinkChainFrom(headBlock int64, headBuf, lastBuf []byte, lastBlock int64) {
	lbh := readBlockHeader(lastBuf, h.order)
	lbh.Next = 0
	lbh.put(lastBuf, h.order)
	if err := h.writeOverflowBlock(lastBlock, lastBuf); err != nil {
		return
	}
	h.freeBigRecord(uint32(headBlock))
}

// readBigRecord reconstructs the full payload of the large-record chain
// headed at headBlock.
func (h *Handle) readBigRecord(headBlock uint32) ([]byte, error) {
	groupBytes := h.groupBytes()
	buf := make([]byte, groupBytes)
	if err := h.oflow.ReadBlock(int64(headBlock), buf); err != nil {
		return nil, resourceErr(subfileOverflow, err)
	}
	bh, err := validateBlock(buf, h.order, subfileOverflow, int64(headBlock))
	if err != nil {
		return nil, err
	}
	total := bigRecDataLen(buf, h.order)
	out := make([]byte, 0, total)
	out = append(out, buf[BigRecHeaderSize:bh.UsedBytes]...)
	next := bh.Next
	for next != 0 && uint32(len(out)) < total {
		cbuf := make([]byte, groupBytes)
		if err := h.oflow.ReadBlock(int64(next), cbuf); err != nil {
			return nil, resourceErr(subfileOverflow, err)
		}
		cbh, err := validateBlock(cbuf, h.order, subfileOverflow, int64(next))
		if err != nil {
			return nil, err
		}
		out = append(out, cbuf[BlockHeaderSize:cbh.UsedBytes]...)
		next = cbh.Next
	}
	if uint32(len(out)) > total {
		out = out[:total]
	}
	return out, nil
}

// freeBigRecord releases every block of the chain headed at headBlock back
// to the free list.
//
// original_source/dh_del.c splices a drained chain onto the free list in
// one header update; this walks the chain and calls freeOverflow per
// block instead, trading one extra header flush per block for much
// simpler bookkeeping: every block still ends up reachable from
// free_chain, which is all that correctness requires.
func (h *Handle) freeBigRecord(headBlock uint32) error {
	groupBytes := h.groupBytes()
	block := int64(headBlock)
	for block != 0 {
		buf := make([]byte, groupBytes)
		if err := h.oflow.ReadBlock(block, buf); err != nil {
			return resourceErr(subfileOverflow, err)
		}
		bh := readBlockHeader(buf, h.order)
		next := int64(bh.Next)
		if err := h.freeOverflow(block); err != nil {
			return err
		}
		block = next
	}
	return nil
}
