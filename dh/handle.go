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

// Package dh implements an on-disk linear-hash keyed record store: a
// directory of numbered subfiles (a primary subfile of fixed-size groups, an
// overflow subfile of chained blocks, and opaque alternate-index subfiles)
// addressed by group number, where the group for a given id is computed by
// linear hashing and grows or shrinks as records are written and deleted.
package dh

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/creachadair/dhstore/internal/blockio"
	"github.com/creachadair/dhstore/internal/filetable"
	"github.com/creachadair/dhstore/internal/grouplock"
)

// A Handle is an open reference to a DH file. The zero Handle is not valid;
// construct one with [Open]. A Handle is safe for concurrent use by
// multiple goroutines.
type Handle struct {
	path    string
	order   binary.ByteOrder
	fileID  uint64
	primary *blockio.File
	oflow   *blockio.File
	entry   *filetable.Entry

	// Header fields that are opaque to this package but must round-trip
	// through every flushHeader call: the AK map/path, the creation
	// timestamp, and the caller-defined user hash. Interpreting AK/VOC
	// data is explicitly out of scope for this package.
	flags             uint32
	akMap             uint32
	userHash          uint32
	akPath            string
	creationTimestamp uint64

	// AK, if non-nil, is invoked after every successful Write or Delete.
	// It is exported so callers can attach it after Open, since the core
	// has no concept of where an AK subfile's interpretation lives.
	AK AKHook
}

// Open opens an existing DH file rooted at path. Within one process, the
// file's runtime parameters (modulus, load, free chain, and so on) are
// shared by every Handle on the same path through the process-wide file
// table (internal/filetable); see that package's doc comment for the scope
// of that sharing.
func Open(path string) (*Handle, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, resourceErr(subfilePrimary, err)
	}
	primaryPath := subfilePath(absPath, subfilePrimary)

	raw, err := os.Open(primaryPath)
	if err != nil {
		return nil, resourceErr(subfilePrimary, err)
	}
	defer raw.Close()

	probe := make([]byte, 8)
	if _, err := raw.ReadAt(probe, 0); err != nil {
		return nil, resourceErr(subfilePrimary, err)
	}
	order, err := detectOrder(probe[:4])
	if err != nil {
		return nil, err
	}
	groupSize := int(order.Uint16(probe[6:8]))
	if groupSize < 1 || groupSize > MaxGroupSize {
		return nil, structuralErr(subfilePrimary, 0, "invalid group size %d in header", groupSize)
	}
	headerSize := headerSlotBytes(groupSize)
	hbuf := make([]byte, headerSize)
	if _, err := raw.ReadAt(hbuf, 0); err != nil {
		return nil, resourceErr(subfilePrimary, err)
	}
	ph, err := decodePrimaryHeader(hbuf, order)
	if err != nil {
		return nil, structuralErr(subfilePrimary, 0, "%v", err)
	}
	if ph.FileVersion != FileVersion {
		return nil, policyErr("unsupported file version %d", ph.FileVersion)
	}

	entry, err := filetable.Global().Open(absPath, func() (filetable.Params, error) {
		return filetable.Params{
			GroupSize:    int(ph.GroupSize),
			MinModulus:   int64(ph.MinModulus),
			BigRecSize:   int(ph.BigRecSize),
			SplitLoad:    int(ph.SplitLoad),
			MergeLoad:    int(ph.MergeLoad),
			Version:      int(ph.FileVersion),
			NoCase:       ph.Flags&FlagNoCase != 0,
			Modulus:      int64(ph.Modulus),
			ModValue:     int64(ph.ModValue),
			LoadBytes:    int64(ph.LoadBytes),
			FreeChain:    int64(ph.FreeChain),
			RecordCount:  int64(ph.RecordCount),
			LongestID:    int(ph.LongestID),
			ExtendedLoad: int64(ph.ExtendedLoadBytes),
		}, nil
	})
	if err != nil {
		return nil, resourceErr(subfilePrimary, err)
	}

	groupBytes := groupSize * BaseBlockBytes
	pf, err := blockio.Open(primaryPath, headerSize, groupBytes, false)
	if err != nil {
		filetable.Global().Close(entry)
		return nil, resourceErr(subfilePrimary, err)
	}
	of, err := blockio.Open(subfilePath(absPath, subfileOverflow), headerSize, groupBytes, false)
	if err != nil {
		pf.Close()
		filetable.Global().Close(entry)
		return nil, resourceErr(subfileOverflow, err)
	}

	return &Handle{
		path:              absPath,
		order:             order,
		fileID:            xxhash.Sum64String(absPath),
		primary:           pf,
		oflow:             of,
		entry:             entry,
		flags:             ph.Flags,
		akMap:             ph.AKMap,
		userHash:          ph.UserHash,
		akPath:            ph.AKPath,
		creationTimestamp: ph.CreationTimestamp,
	}, nil
}

// Close releases h's resources. After Close, h must not be used.
func (h *Handle) Close() error {
	perr := h.primary.Close()
	oerr := h.oflow.Close()
	filetable.Global().Close(h.entry)
	if perr != nil {
		return resourceErr(subfilePrimary, perr)
	}
	if oerr != nil {
		return resourceErr(subfileOverflow, oerr)
	}
	return nil
}

// groupBytes reports the size in bytes of one group or overflow block.
func (h *Handle) groupBytes() int {
	return h.entry.Snapshot().GroupSize * BaseBlockBytes
}

// headerSize reports the byte size of the primary header slot.
func (h *Handle) headerSize() int {
	return headerSlotBytes(h.entry.Snapshot().GroupSize)
}

// lockKey builds the grouplock.Key for group g of this file.
func (h *Handle) lockKey(g int64) grouplock.Key {
	return grouplock.Key{FileID: h.fileID, Group: g}
}
