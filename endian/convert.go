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

// Package endian implements an offline byte-order converter: it rewrites
// an existing, closed DH file from one byte order to another, group by
// group (up to 16 group chains concurrently), marking the file unusable
// for the duration with the
// DH_CONVERTING magic so a half-converted file is never mistaken for a
// healthy one.
package endian

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creachadair/taskgroup"

	"github.com/creachadair/dhstore/dh"
	"github.com/creachadair/dhstore/internal/blockio"
)

// Convert rewrites the DH file rooted at path into the requested byte
// order. It must not be called while any process has the file open; the
// core's Open/Create intentionally never calls this package, since
// conversion is strictly an offline, operator-invoked maintenance step.
//
// Convert is idempotent: if the file is already in the requested order, it
// returns nil without modifying anything. If the file was left mid
// conversion by a previous, interrupted run, Convert reports that error
// without attempting to proceed (original_source/qmconv.c's behavior).
func Convert(ctx context.Context, path string, bigEndian bool) error {
	primaryPath := filepath.Join(path, "~0")
	overflowPath := filepath.Join(path, "~1")

	probe, err := readProbe(primaryPath)
	if err != nil {
		return err
	}
	from, err := dh.DetectOrder(probe[:4])
	if err != nil {
		return fmt.Errorf("endian: %s: %w", path, err)
	}
	to := orderFor(bigEndian)
	if sameOrder(from, to) {
		return nil
	}

	groupSize := dh.GroupSizeFromHeader(probe, from)
	headerSize := dh.HeaderSlotBytes(groupSize)
	groupBytes := groupSize * dh.BaseBlockBytes

	hdrBuf := make([]byte, headerSize)
	if err := readAt(primaryPath, hdrBuf, 0); err != nil {
		return err
	}
	if err := markConverting(primaryPath, from); err != nil {
		return err
	}

	pf, err := blockio.Open(primaryPath, headerSize, groupBytes, false)
	if err != nil {
		return fmt.Errorf("endian: open primary: %w", err)
	}
	defer pf.Close()
	of, err := blockio.Open(overflowPath, headerSize, groupBytes, false)
	if err != nil {
		return fmt.Errorf("endian: open overflow: %w", err)
	}
	defer of.Close()

	nGroups, err := pf.NumBlocks()
	if err != nil {
		return fmt.Errorf("endian: %w", err)
	}

	// Convert every group's chain concurrently; each group's chain is
	// independent of every other, so a bounded worker pool (the same
	// taskgroup.New(nil).Limit(n) pattern storage/wbstore uses for its
	// background writer) parallelizes the scan without any shared
	// mutable state beyond the two file handles, which blockio already
	// documents as safe for concurrent ReadBlock/WriteBlock calls.
	g, run := taskgroup.New(nil).Limit(16)
groupLoop:
	for group := int64(1); group <= nGroups; group++ {
		group := group
		select {
		case <-ctx.Done():
			break groupLoop
		default:
		}
		run(func() error {
			return convertChain(pf, of, group, from, to, groupBytes)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("endian: converting groups: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	oHdrBuf := make([]byte, headerSize)
	if err := of.ReadHeader(oHdrBuf); err != nil {
		return fmt.Errorf("endian: read overflow header: %w", err)
	}
	newOHdr, err := dh.RewriteOverflowHeaderOrder(oHdrBuf, from, to, dh.MagicOverflow)
	if err != nil {
		return fmt.Errorf("endian: rewrite overflow header: %w", err)
	}
	if err := of.WriteHeader(newOHdr); err != nil {
		return fmt.Errorf("endian: write overflow header: %w", err)
	}

	newHdr, err := dh.RewriteHeaderOrder(hdrBuf, from, to, dh.MagicPrimary)
	if err != nil {
		return fmt.Errorf("endian: rewrite primary header: %w", err)
	}
	if err := pf.WriteHeader(newHdr); err != nil {
		return fmt.Errorf("endian: write primary header: %w", err)
	}
	return nil
}

// convertChain walks one group's chain (primary head block, then overflow
// continuation blocks), swapping each block's header and, for DATA blocks,
// every packed record's length fields, leaving id and payload bytes
// untouched.
func convertChain(pf, of *blockio.File, group int64, from, to binary.ByteOrder, groupBytes int) error {
	primary := true
	num := group
	for {
		buf := make([]byte, groupBytes)
		var err error
		if primary {
			err = pf.ReadBlock(num, buf)
		} else {
			err = of.ReadBlock(num, buf)
		}
		if err != nil {
			return fmt.Errorf("group %d: read: %w", group, err)
		}
		next := dh.NextFromHeader(buf, from)
		blockType, usedBytes := dh.SwapBlockHeader(buf, from, to)
		if blockType == dh.BlockData {
			if err := dh.SwapRecords(buf, int(usedBytes), from, to); err != nil {
				return fmt.Errorf("group %d: %w", group, err)
			}
		}
		if primary {
			err = pf.WriteBlock(num, buf)
		} else {
			err = of.WriteBlock(num, buf)
		}
		if err != nil {
			return fmt.Errorf("group %d: write: %w", group, err)
		}
		if next == 0 {
			return nil
		}
		primary = false
		num = int64(next)
	}
}

func readProbe(path string) ([]byte, error) {
	buf := make([]byte, 8)
	if err := readAt(path, buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func readAt(path string, buf []byte, off int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("endian: %w", err)
	}
	defer f.Close()
	if _, err := f.ReadAt(buf, off); err != nil {
		return fmt.Errorf("endian: %w", err)
	}
	return nil
}

func markConverting(path string, order binary.ByteOrder) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("endian: %w", err)
	}
	defer f.Close()
	buf := make([]byte, 4)
	order.PutUint32(buf, dh.MagicConverting)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("endian: %w", err)
	}
	return nil
}

// orderFor maps the CLI's big-endian flag to a binary.ByteOrder.
func orderFor(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// sameOrder reports whether a and b are the same concrete byte order.
func sameOrder(a, b binary.ByteOrder) bool {
	probe := []byte{0x01, 0x02, 0x03, 0x04}
	return a.Uint32(probe) == b.Uint32(probe)
}
