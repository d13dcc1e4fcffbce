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

import "encoding/binary"

// This file exports the minimum surface the endian package needs to
// byte-swap a DH file's header, block headers, and record length fields
// without reaching into package dh's unexported on-disk struct layout.

// DetectOrder reports which byte order a primary subfile's header is
// encoded in, given its first 4 bytes, or ErrConverting if the file was
// left mid-conversion.
func DetectOrder(magic4 []byte) (binary.ByteOrder, error) { return detectOrder(magic4) }

// HeaderSlotBytes reports the on-disk size reserved for the primary
// header at the given group size.
func HeaderSlotBytes(groupSize int) int { return headerSlotBytes(groupSize) }

// OverflowHeaderBytes reports the on-disk size reserved for the overflow
// subfile's header at the given group size (the overflow header is small,
// but like the primary header it is padded out to one full group).
func OverflowHeaderBytes(groupSize int) int { return headerSlotBytes(groupSize) }

// GroupSizeFromHeader reads the group-size field out of a raw primary
// header buffer (encoded in order), without fully decoding the header.
func GroupSizeFromHeader(buf []byte, order binary.ByteOrder) int {
	return int(order.Uint16(buf[6:8]))
}

// RewriteHeaderOrder decodes a primary header buffer encoded in from and
// re-encodes it in to, also applying swap to the magic (so callers can
// pass MagicConverting mid-conversion and the real magic once swapping is
// complete).
func RewriteHeaderOrder(buf []byte, from, to binary.ByteOrder, magic uint32) ([]byte, error) {
	ph, err := decodePrimaryHeader(buf, from)
	if err != nil {
		return nil, err
	}
	ph.Magic = magic
	return encodePrimaryHeader(ph, to)
}

// RewriteOverflowHeaderOrder is RewriteHeaderOrder's analogue for the
// overflow subfile's (much smaller) header.
func RewriteOverflowHeaderOrder(buf []byte, from, to binary.ByteOrder, magic uint32) ([]byte, error) {
	oh, err := decodeOverflowHeader(buf, from)
	if err != nil {
		return nil, err
	}
	oh.Magic = magic
	return encodeOverflowHeader(oh, to), nil
}

// NextFromHeader reads a block's chain-continuation pointer without
// decoding the rest of its header.
func NextFromHeader(buf []byte, order binary.ByteOrder) uint32 {
	return readBlockHeader(buf, order).Next
}

// SwapBlockHeader rewrites a block's fixed header (used_bytes, block_type,
// next, and, for a BIG_REC head block, the trailing data_len) from one byte
// order to another in place, returning the block's type and used_bytes so
// the caller can continue swapping the record/payload bytes that follow.
func SwapBlockHeader(buf []byte, from, to binary.ByteOrder) (blockType uint8, usedBytes uint16) {
	bh := readBlockHeader(buf, from)
	bh.put(buf, to)
	if bh.BlockType == BlockBigRec {
		n := bigRecDataLen(buf, from)
		putBigRecDataLen(buf, to, n)
	}
	return bh.BlockType, bh.UsedBytes
}

// SwapRecords walks every record in buf[BlockHeaderSize:usedBytes] (a DATA
// block already header-swapped by SwapBlockHeader) and rewrites each
// record's next/flags/id_len/data_len-or-big_rec fields from one byte
// order to another, leaving the opaque id and data bytes untouched.
func SwapRecords(buf []byte, usedBytes int, from, to binary.ByteOrder) error {
	off := BlockHeaderSize
	for off < usedBytes {
		rec, err := decodeRecord(buf[off:usedBytes], from)
		if err != nil {
			return structuralErr(-1, 0, "endian convert: %v", err)
		}
		to.PutUint16(buf[off:], rec.Next)
		// buf[off+2] (flags) and buf[off+3] (id_len) are single bytes and
		// need no swap; the id bytes at buf[off+4:] are opaque.
		tail := buf[off+4+len(rec.ID):]
		if rec.isBig() {
			to.PutUint32(tail[0:], rec.BigGroup)
		} else {
			to.PutUint32(tail[0:], uint32(len(rec.Data)))
		}
		off += int(rec.Next)
	}
	return nil
}
