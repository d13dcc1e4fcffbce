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
	"context"
	"strconv"
	"strings"
)

// Stats is the result of [Handle.Analyse]. The first twenty-one fields
// through NonNumericIDs mirror original_source/analyse.c's dh_analyse in
// both name and field order, since those are exactly the fields
// [Stats.Format] renders as the 31-field CSV report. The remaining fields
// describe the handle itself and are not part of that CSV.
type Stats struct {
	Modulus               int64
	EmptyGroups           int64
	OverflowedGroups      int64 // groups with exactly one overflow block
	BadlyOverflowedGroups int64 // groups with more than one overflow block
	MinBytesPerGroup      int64
	MaxBytesPerGroup      int64
	SmallestGroupBlocks   int64
	LargestGroupBlocks    int64
	TotalBlocks           int64
	MinRecsPerGroup       int64
	MaxRecsPerGroup       int64
	RecordCount           int64 // non-large records only
	LargeRecordCount      int64
	SmallestRecord        int64
	LargestRecord         int64
	TotalRecordBytes      int64
	SmallestLrgRecord     int64
	LargestLrgRecord      int64
	TotalLrgRecordBytes   int64

	// Histogram[i] counts records (large or not) whose encoded length is
	// ≤ 16<<i bytes for i in [0, 9]; Histogram[10] counts the rest.
	Histogram [11]int64

	NonNumericIDs int64

	// The remaining fields describe the handle the scan ran against; they
	// are not part of the 31-field CSV.
	Path         string
	GroupSize    int
	MinModulus   int64
	ModValue     int64
	LoadBytes    int64
	LoadPercent  int
	BigRecSize   int64
	SplitLoad    int
	MergeLoad    int
	FreeChainLen int64
	FileVersion  int
	NoCase       bool
	AKPath       string
	UserHash     uint32
}

// fields returns the 31-field CSV analyse.c produces, in its field order.
func (s Stats) fields() []string {
	out := make([]string, 0, 31)
	i64 := func(v int64) string { return strconv.FormatInt(v, 10) }
	out = append(out,
		i64(s.Modulus),
		i64(s.EmptyGroups),
		i64(s.OverflowedGroups),
		i64(s.BadlyOverflowedGroups),
		i64(s.MinBytesPerGroup),
		i64(s.MaxBytesPerGroup),
		i64(s.SmallestGroupBlocks),
		i64(s.LargestGroupBlocks),
		i64(s.TotalBlocks),
		i64(s.MinRecsPerGroup),
		i64(s.MaxRecsPerGroup),
		i64(s.RecordCount),
		i64(s.LargeRecordCount),
		i64(s.SmallestRecord),
		i64(s.LargestRecord),
		i64(s.TotalRecordBytes),
		i64(s.SmallestLrgRecord),
		i64(s.LargestLrgRecord),
		i64(s.TotalLrgRecordBytes),
	)
	for _, h := range s.Histogram {
		out = append(out, i64(h))
	}
	out = append(out, i64(s.NonNumericIDs))
	return out
}

// Format renders s as the single-line, 31-field CSV record Analyse's
// callers parse.
func (s Stats) Format() string {
	return strings.Join(s.fields(), ",")
}

// nonNumericID reports whether id contains any byte that is not an ASCII
// digit, matching analyse.c's per-character IsDigit scan.
func nonNumericID(id string) bool {
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return true
		}
	}
	return false
}

// histogramBucket returns the index into Stats.Histogram that recordLen
// falls into: bucket i covers lengths up to 16<<i for i in [0, 9], and
// bucket 10 catches everything larger.
func histogramBucket(recordLen int64) int {
	for i := 0; i < 10; i++ {
		if recordLen <= int64(16)<<uint(i) {
			return i
		}
	}
	return 10
}

// Analyse performs a full group-by-group scan, reporting aggregate
// statistics without mutating the file. It suppresses concurrent
// splits/merges for its duration via the entry's inhibit count, and polls
// ctx at each group boundary so a long scan can be cancelled.
func (h *Handle) Analyse(ctx context.Context) (Stats, error) {
	h.entry.Inhibit()
	defer h.entry.Uninhibit()

	p := h.entry.Snapshot()
	groupBytes := h.groupBytes()

	st := Stats{
		Path:        h.path,
		GroupSize:   p.GroupSize,
		Modulus:     p.Modulus,
		MinModulus:  p.MinModulus,
		ModValue:    p.ModValue,
		LoadBytes:   p.LoadBytes,
		LoadPercent: DHLoad(p.LoadBytes, groupBytes, p.Modulus),
		BigRecSize:  int64(p.BigRecSize),
		SplitLoad:   p.SplitLoad,
		MergeLoad:   p.MergeLoad,
		FileVersion: p.Version,
		NoCase:      p.NoCase,
		AKPath:      h.akPath,
		UserHash:    h.userHash,
	}

	const sentinel = int64(1) << 62
	minBytesPerGroup, maxBytesPerGroup := sentinel, int64(0)
	minRecsPerGroup, maxRecsPerGroup := sentinel, int64(0)
	smallestGroupBlocks, largestGroupBlocks := sentinel, int64(0)
	smallestRecord, largestRecord := sentinel, int64(0)
	smallestLrgRecord, largestLrgRecord := sentinel, int64(0)

	for g := int64(1); g <= p.Modulus; g++ {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		default:
		}

		var blocksInGroup, recsInGroup, usedBytesInGroup int64
		err := h.withGroupLock(g, false, func() error {
			_, bufs, err := h.loadChain(g)
			if err != nil {
				return err
			}
			blocksInGroup = int64(len(bufs))

			for _, buf := range bufs {
				bh := readBlockHeader(buf, h.order)
				usedBytesInGroup += int64(bh.UsedBytes)

				off := BlockHeaderSize
				for off < int(bh.UsedBytes) {
					rec, err := decodeRecord(buf[off:bh.UsedBytes], h.order)
					if err != nil {
						return err
					}
					off += int(rec.Next)
					recsInGroup++

					if nonNumericID(rec.ID) {
						st.NonNumericIDs++
					}

					recBytes := int64(rec.Next)
					var recordLen int64
					if rec.isBig() {
						headBuf := make([]byte, groupBytes)
						if err := h.oflow.ReadBlock(int64(rec.BigGroup), headBuf); err != nil {
							return resourceErr(subfileOverflow, err)
						}
						recordLen = recBytes + int64(bigRecDataLen(headBuf, h.order))
						st.LargeRecordCount++
						if recordLen < smallestLrgRecord {
							smallestLrgRecord = recordLen
						}
						if recordLen > largestLrgRecord {
							largestLrgRecord = recordLen
						}
						st.TotalLrgRecordBytes += recordLen
					} else {
						recordLen = recBytes
						st.RecordCount++
						if recBytes < smallestRecord {
							smallestRecord = recBytes
						}
						if recBytes > largestRecord {
							largestRecord = recBytes
						}
						st.TotalRecordBytes += recBytes
					}

					st.Histogram[histogramBucket(recordLen)]++
				}
			}
			return nil
		})
		if err != nil {
			return st, err
		}

		// blocksInGroup is always ≥ 1 (the primary block always exists), so
		// the empty_groups case below is never reached; it is kept for
		// field-position compatibility with analyse.c's switch.
		switch blocksInGroup {
		case 0:
			st.EmptyGroups++
		case 1:
		case 2:
			st.OverflowedGroups++
		default:
			st.BadlyOverflowedGroups++
		}

		if recsInGroup > maxRecsPerGroup {
			maxRecsPerGroup = recsInGroup
		}
		if recsInGroup < minRecsPerGroup {
			minRecsPerGroup = recsInGroup
		}
		if blocksInGroup > largestGroupBlocks {
			largestGroupBlocks = blocksInGroup
		}
		if blocksInGroup < smallestGroupBlocks {
			smallestGroupBlocks = blocksInGroup
		}
		if usedBytesInGroup > maxBytesPerGroup {
			maxBytesPerGroup = usedBytesInGroup
		}
		if usedBytesInGroup < minBytesPerGroup {
			minBytesPerGroup = usedBytesInGroup
		}
		st.TotalBlocks += blocksInGroup
	}

	if largestGroupBlocks == 0 {
		smallestGroupBlocks = 0
	}
	if maxRecsPerGroup == 0 {
		minRecsPerGroup = 0
	}
	if maxBytesPerGroup == 0 {
		minBytesPerGroup = 0
	}
	if largestRecord == 0 {
		smallestRecord = 0
	}
	if largestLrgRecord == 0 {
		smallestLrgRecord = 0
	}

	st.MinBytesPerGroup = minBytesPerGroup
	st.MaxBytesPerGroup = maxBytesPerGroup
	st.MinRecsPerGroup = minRecsPerGroup
	st.MaxRecsPerGroup = maxRecsPerGroup
	st.SmallestGroupBlocks = smallestGroupBlocks
	st.LargestGroupBlocks = largestGroupBlocks
	st.SmallestRecord = smallestRecord
	st.LargestRecord = largestRecord
	st.SmallestLrgRecord = smallestLrgRecord
	st.LargestLrgRecord = largestLrgRecord

	var chainLen int64
	block := p.FreeChain
	for block != 0 {
		buf := make([]byte, groupBytes)
		if err := h.oflow.ReadBlock(block, buf); err != nil {
			return st, resourceErr(subfileOverflow, err)
		}
		bh := readBlockHeader(buf, h.order)
		block = int64(bh.Next)
		chainLen++
	}
	st.FreeChainLen = chainLen

	return st, nil
}
