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
	"fmt"
)

// Physical layout constants.
const (
	// BaseBlockBytes is the unit a file's GroupSize is expressed in: a group
	// or overflow block occupies GroupSize*BaseBlockBytes bytes.
	BaseBlockBytes = 2048

	// MaxGroupSize is the largest number of base blocks permitted in a
	// single group.
	MaxGroupSize = 32

	// BlockHeaderSize is the fixed prefix of every DATA or BIG_REC block:
	// used_bytes:u16, block_type:u8, padding:u8, next:u32.
	BlockHeaderSize = 8

	// BigRecHeaderSize is BlockHeaderSize plus the head-block's data_len:u32.
	BigRecHeaderSize = BlockHeaderSize + 4

	// RecordFixedHeaderSize is next:u16, flags:u8, id_len:u8 (the id and the
	// inline-data-length-or-overflow-group-number fields follow).
	RecordFixedHeaderSize = 4

	// FileVersion is the only file_version this implementation writes or
	// accepts; Create always writes it and Open rejects any other version.
	FileVersion = 1

	// Version1MaxSize is the 2 GiB ceiling on version-1 files.
	Version1MaxSize = 1 << 31
)

// Block types.
const (
	BlockData   uint8 = 1
	BlockBigRec uint8 = 2
)

// Record flags.
const (
	RecBigRec uint8 = 1 << 0
)

// Creation flags.
const (
	// FlagNoCase marks a file whose ids are folded to upper case before
	// hashing and comparing.
	FlagNoCase uint32 = 1 << 0
)

// Magic values. The primary header's magic is read in both big- and
// little-endian interpretation to detect the file's encoding;
// MagicConverting marks a file mid conversion and is rejected by every
// other entry point.
const (
	MagicPrimary    uint32 = 0x44483101 // "DH" version 1, primary subfile
	MagicOverflow   uint32 = 0x44483102 // "DH" version 1, overflow subfile
	MagicConverting uint32 = 0x444831FF
)

const akPathBytes = 256

// primaryHeaderBytes is the fixed-size encoded length of [primaryHeader],
// before padding out to one full group.
const primaryHeaderBytes = 4 + 2 + 2 + // magic, fileVersion, groupSize
	4 + 4 + 4 + 2 + 2 + 4 + 2 + 4 + 8 + 8 + // modulus..extendedLoadBytes
	4 + 4 + 8 + 8 + 4 + // flags, akMap, creationTimestamp, recordCount, userHash
	2 + akPathBytes // akPathLen, akPath

// overflowHeaderBytes is the fixed-size encoded length of the overflow
// subfile's header, before padding.
const overflowHeaderBytes = 4 + 2 // magic, groupSize

// primaryHeader is the in-memory, host-native-endian representation of the
// primary subfile's header.
type primaryHeader struct {
	Magic             uint32
	FileVersion       uint16
	GroupSize         uint16 // in units of BaseBlockBytes
	Modulus           uint32
	MinModulus        uint32
	BigRecSize        uint32
	SplitLoad         uint16
	MergeLoad         uint16
	ModValue          uint32
	LongestID         uint16
	FreeChain         uint32
	LoadBytes         uint64
	ExtendedLoadBytes uint64
	Flags             uint32
	AKMap             uint32
	CreationTimestamp uint64
	RecordCount       uint64
	UserHash          uint32
	AKPath            string // ≤ akPathBytes, opaque
}

// groupSizeBytes returns the byte size of one group or overflow block.
func (h *primaryHeader) groupSizeBytes() int { return int(h.GroupSize) * BaseBlockBytes }

// headerSlotBytes reports the on-disk size reserved for the header,
// padded out to one full group.
func headerSlotBytes(groupSize int) int { return groupSize * BaseBlockBytes }

func encodePrimaryHeader(h *primaryHeader, order binary.ByteOrder) ([]byte, error) {
	if len(h.AKPath) > akPathBytes {
		return nil, fmt.Errorf("dh: ak path too long (%d > %d)", len(h.AKPath), akPathBytes)
	}
	slot := headerSlotBytes(int(h.GroupSize))
	if slot < primaryHeaderBytes {
		return nil, fmt.Errorf("dh: group size too small to hold the primary header")
	}
	buf := make([]byte, slot)
	order.PutUint32(buf[0:], h.Magic)
	order.PutUint16(buf[4:], h.FileVersion)
	order.PutUint16(buf[6:], h.GroupSize)
	order.PutUint32(buf[8:], h.Modulus)
	order.PutUint32(buf[12:], h.MinModulus)
	order.PutUint32(buf[16:], h.BigRecSize)
	order.PutUint16(buf[20:], h.SplitLoad)
	order.PutUint16(buf[22:], h.MergeLoad)
	order.PutUint32(buf[24:], h.ModValue)
	order.PutUint16(buf[28:], h.LongestID)
	order.PutUint32(buf[30:], h.FreeChain)
	order.PutUint64(buf[34:], h.LoadBytes)
	order.PutUint64(buf[42:], h.ExtendedLoadBytes)
	order.PutUint32(buf[50:], h.Flags)
	order.PutUint32(buf[54:], h.AKMap)
	order.PutUint64(buf[58:], h.CreationTimestamp)
	order.PutUint64(buf[66:], h.RecordCount)
	order.PutUint32(buf[74:], h.UserHash)
	order.PutUint16(buf[78:], uint16(len(h.AKPath)))
	copy(buf[80:80+akPathBytes], h.AKPath)
	return buf, nil
}

func decodePrimaryHeader(buf []byte, order binary.ByteOrder) (*primaryHeader, error) {
	if len(buf) < primaryHeaderBytes {
		return nil, fmt.Errorf("dh: primary header short read (%d bytes)", len(buf))
	}
	h := &primaryHeader{
		Magic:             order.Uint32(buf[0:]),
		FileVersion:       order.Uint16(buf[4:]),
		GroupSize:         order.Uint16(buf[6:]),
		Modulus:           order.Uint32(buf[8:]),
		MinModulus:        order.Uint32(buf[12:]),
		BigRecSize:        order.Uint32(buf[16:]),
		SplitLoad:         order.Uint16(buf[20:]),
		MergeLoad:         order.Uint16(buf[22:]),
		ModValue:          order.Uint32(buf[24:]),
		LongestID:         order.Uint16(buf[28:]),
		FreeChain:         order.Uint32(buf[30:]),
		LoadBytes:         order.Uint64(buf[34:]),
		ExtendedLoadBytes: order.Uint64(buf[42:]),
		Flags:             order.Uint32(buf[50:]),
		AKMap:             order.Uint32(buf[54:]),
		CreationTimestamp: order.Uint64(buf[58:]),
		RecordCount:       order.Uint64(buf[66:]),
		UserHash:          order.Uint32(buf[74:]),
	}
	akLen := int(order.Uint16(buf[78:]))
	if akLen > akPathBytes {
		return nil, fmt.Errorf("dh: corrupt ak path length %d", akLen)
	}
	h.AKPath = string(buf[80 : 80+akLen])
	return h, nil
}

// overflowHeader is the in-memory representation of the overflow subfile's
// header.
type overflowHeader struct {
	Magic     uint32
	GroupSize uint16
}

func encodeOverflowHeader(h *overflowHeader, order binary.ByteOrder) []byte {
	slot := headerSlotBytes(int(h.GroupSize))
	buf := make([]byte, slot)
	order.PutUint32(buf[0:], h.Magic)
	order.PutUint16(buf[4:], h.GroupSize)
	return buf
}

func decodeOverflowHeader(buf []byte, order binary.ByteOrder) (*overflowHeader, error) {
	if len(buf) < overflowHeaderBytes {
		return nil, fmt.Errorf("dh: overflow header short read (%d bytes)", len(buf))
	}
	return &overflowHeader{
		Magic:     order.Uint32(buf[0:]),
		GroupSize: order.Uint16(buf[4:]),
	}, nil
}

// detectOrder inspects the first 4 bytes of a primary header and reports
// which byte order the file was written in, or ErrConverting if the file
// was left mid-conversion by an interrupted endian.Convert run.
func detectOrder(buf []byte) (binary.ByteOrder, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("dh: short header (%d bytes)", len(buf))
	}
	if binary.BigEndian.Uint32(buf) == MagicPrimary {
		return binary.BigEndian, nil
	}
	if binary.LittleEndian.Uint32(buf) == MagicPrimary {
		return binary.LittleEndian, nil
	}
	if binary.BigEndian.Uint32(buf) == MagicConverting || binary.LittleEndian.Uint32(buf) == MagicConverting {
		return nil, ErrConverting
	}
	return nil, &Error{Kind: KindStructural, Err: fmt.Errorf("dh: bad primary magic")}
}
