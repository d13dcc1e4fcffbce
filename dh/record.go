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

// record is the decoded in-group layout of one record: next:u16,
// flags:u8, id_len:u8, id[id_len], then either
// data_len:u32+data[data_len] (inline) or a single overflow group number
// big_rec:u32 pointing to the head of a large-record chain.
type record struct {
	Next     uint16 // total encoded length of this record, rounded up to 4
	Flags    uint8
	ID       string
	Data     []byte // inline payload; nil when BigRec is set
	BigGroup uint32 // large-record chain head; 0 when inline
}

func (r *record) isBig() bool { return r.Flags&RecBigRec != 0 }

// baseSize computes the record's encoded length before rounding to a 4-byte
// boundary: header + id_len + (inline data len or 0 for a
// big record, where only the chain head group number is stored inline).
func baseSize(idLen, dataLen int, big bool) int {
	n := RecordFixedHeaderSize + idLen + 4 // +4 for data_len/big_rec field
	if !big {
		n += dataLen
	}
	return n
}

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	return (n + 3) &^ 3
}

// encodeRecord serializes a record for id (holding data inline, or bigGroup
// as its large-record chain head when big is set) into a freshly allocated
// slice whose length, also stored in its next field, is baseSize rounded up
// to a 4-byte boundary.
func encodeRecord(id string, data []byte, big bool, bigGroup uint32, order binary.ByteOrder) []byte {
	base := baseSize(len(id), len(data), big)
	total := align4(base)
	buf := make([]byte, total)
	order.PutUint16(buf[0:], uint16(total))
	flags := uint8(0)
	if big {
		flags |= RecBigRec
	}
	buf[2] = flags
	buf[3] = uint8(len(id))
	copy(buf[4:4+len(id)], id)
	tail := buf[4+len(id):]
	if big {
		order.PutUint32(tail[0:], bigGroup)
	} else {
		order.PutUint32(tail[0:], uint32(len(data)))
		copy(tail[4:], data)
	}
	return buf
}

// decodeRecord decodes one record starting at buf[0]. buf must extend at
// least to the end of the record (callers slice from the record's offset to
// the end of the block before calling this).
func decodeRecord(buf []byte, order binary.ByteOrder) (*record, error) {
	if len(buf) < RecordFixedHeaderSize {
		return nil, structuralErr(-1, 0, "record header truncated")
	}
	next := order.Uint16(buf[0:])
	flags := buf[2]
	idLen := int(buf[3])
	if int(next) < RecordFixedHeaderSize+idLen+4 || int(next) > len(buf) {
		return nil, structuralErr(-1, 0, "invalid record length %d (id_len %d, available %d)", next, idLen, len(buf))
	}
	id := string(buf[4 : 4+idLen])
	tail := buf[4+idLen:]
	r := &record{Next: next, Flags: flags, ID: id}
	if flags&RecBigRec != 0 {
		r.BigGroup = order.Uint32(tail[0:])
	} else {
		dataLen := order.Uint32(tail[0:])
		if int(dataLen) > len(tail)-4 {
			return nil, structuralErr(-1, 0, "record data_len %d exceeds available %d", dataLen, len(tail)-4)
		}
		r.Data = append([]byte(nil), tail[4:4+dataLen]...)
	}
	return r, nil
}

// foldID applies the case-folding rule for NOCASE files.
func foldID(id string, noCase bool) string {
	if !noCase {
		return id
	}
	b := []byte(id)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
