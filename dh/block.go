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

// blockHeader is the fixed prefix of every DATA or BIG_REC block:
// used_bytes:u16, block_type:u8, padding:u8, next:u32. BIG_REC head blocks
// additionally carry a data_len:u32 immediately following (bigRecDataLen).
type blockHeader struct {
	UsedBytes uint16
	BlockType uint8
	Next      uint32
}

func readBlockHeader(buf []byte, order binary.ByteOrder) blockHeader {
	return blockHeader{
		UsedBytes: order.Uint16(buf[0:]),
		BlockType: buf[2],
		Next:      order.Uint32(buf[4:]),
	}
}

func (bh blockHeader) put(buf []byte, order binary.ByteOrder) {
	order.PutUint16(buf[0:], bh.UsedBytes)
	buf[2] = bh.BlockType
	buf[3] = 0
	order.PutUint32(buf[4:], bh.Next)
}

// bigRecDataLen reads the total-payload-length field that follows the
// common block header in a BIG_REC head block.
func bigRecDataLen(buf []byte, order binary.ByteOrder) uint32 {
	return order.Uint32(buf[BlockHeaderSize:])
}

func putBigRecDataLen(buf []byte, order binary.ByteOrder, n uint32) {
	order.PutUint32(buf[BlockHeaderSize:], n)
}

// newDataBlock returns a zero-filled block of the given size initialized as
// an empty DATA block (used_bytes == BlockHeaderSize, next == 0).
func newDataBlock(size int, order binary.ByteOrder) []byte {
	buf := make([]byte, size)
	blockHeader{UsedBytes: BlockHeaderSize, BlockType: BlockData}.put(buf, order)
	return buf
}

// validateBlock checks the structural invariant that holds for every block:
// BlockHeaderSize ≤ used_bytes ≤ len(buf).
func validateBlock(buf []byte, order binary.ByteOrder, subfile int, group int64) (blockHeader, error) {
	bh := readBlockHeader(buf, order)
	if int(bh.UsedBytes) < BlockHeaderSize || int(bh.UsedBytes) > len(buf) {
		return bh, structuralErr(subfile, group, "invalid used_bytes %d (block size %d)", bh.UsedBytes, len(buf))
	}
	if bh.BlockType != BlockData && bh.BlockType != BlockBigRec {
		return bh, structuralErr(subfile, group, "unknown block type %d", bh.BlockType)
	}
	return bh, nil
}
