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

// Package blockio implements fixed-size block I/O against a subfile: a
// single on-disk file addressed by block number rather than by byte offset.
//
// A subfile is laid out as a fixed-size header followed by a sequence of
// fixed-size blocks. Callers address blocks by a 1-based group or block
// number; blockio computes the byte offset and performs a full read or
// write at that offset.
package blockio

import (
	"fmt"
	"os"
)

// A File is a subfile opened for block-addressed I/O.
//
// A File is safe for concurrent use by multiple goroutines; callers needing
// higher-level mutual exclusion (e.g., serializing writes to one group) must
// arrange that themselves: blockio only guarantees that individual
// ReadBlock/WriteBlock calls do not tear each other's bytes.
type File struct {
	f          *os.File
	headerSize int64
	blockSize  int64
}

// Open opens the subfile at path for block I/O. header and block give the
// header size and block size in bytes; header must be non-negative and
// block must be positive.
// If the file does not exist and create is true, it is created.
func Open(path string, header, block int, create bool) (*File, error) {
	if header < 0 {
		return nil, fmt.Errorf("blockio: negative header size %d", header)
	}
	if block <= 0 {
		return nil, fmt.Errorf("blockio: non-positive block size %d", block)
	}
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	return &File{f: f, headerSize: int64(header), blockSize: int64(block)}, nil
}

// Close closes the underlying file handle.
func (bf *File) Close() error { return bf.f.Close() }

// Sync flushes the underlying file to stable storage.
func (bf *File) Sync() error { return bf.f.Sync() }

// Name reports the path the file was opened from.
func (bf *File) Name() string { return bf.f.Name() }

// OSFile returns the underlying *os.File, for callers (internal/grouplock)
// that need the raw descriptor for an OS-level advisory lock.
func (bf *File) OSFile() *os.File { return bf.f }

// BlockSize reports the fixed block size of bf, in bytes.
func (bf *File) BlockSize() int { return int(bf.blockSize) }

// offset computes the byte offset of block n (1-based, n ≥ 1 for data
// blocks; n == 0 addresses the header itself).
func (bf *File) offset(n int64) int64 {
	if n == 0 {
		return 0
	}
	return bf.headerSize + (n-1)*bf.blockSize
}

// ReadHeader reads the fixed header prefix into buf, which must have length
// equal to the header size.
func (bf *File) ReadHeader(buf []byte) error {
	if int64(len(buf)) != bf.headerSize {
		return fmt.Errorf("blockio: header buffer is %d bytes, want %d", len(buf), bf.headerSize)
	}
	_, err := bf.f.ReadAt(buf, 0)
	return err
}

// WriteHeader writes the fixed header prefix from buf, which must have
// length equal to the header size.
func (bf *File) WriteHeader(buf []byte) error {
	if int64(len(buf)) != bf.headerSize {
		return fmt.Errorf("blockio: header buffer is %d bytes, want %d", len(buf), bf.headerSize)
	}
	_, err := bf.f.WriteAt(buf, 0)
	return err
}

// ReadBlock reads block number n (1-based) into buf, which must have length
// equal to the block size. Reading past the current end of file reports
// io.EOF via the short-read error from ReadAt; callers that need blocks
// beyond the current extent must call Grow first.
func (bf *File) ReadBlock(n int64, buf []byte) error {
	if int64(len(buf)) != bf.blockSize {
		return fmt.Errorf("blockio: block buffer is %d bytes, want %d", len(buf), bf.blockSize)
	}
	if n < 1 {
		return fmt.Errorf("blockio: invalid block number %d", n)
	}
	_, err := bf.f.ReadAt(buf, bf.offset(n))
	return err
}

// WriteBlock writes buf as block number n (1-based). buf must have length
// equal to the block size.
func (bf *File) WriteBlock(n int64, buf []byte) error {
	if int64(len(buf)) != bf.blockSize {
		return fmt.Errorf("blockio: block buffer is %d bytes, want %d", len(buf), bf.blockSize)
	}
	if n < 1 {
		return fmt.Errorf("blockio: invalid block number %d", n)
	}
	_, err := bf.f.WriteAt(buf, bf.offset(n))
	return err
}

// NumBlocks reports the number of whole blocks currently stored after the
// header, based on the file's current size.
func (bf *File) NumBlocks() (int64, error) {
	fi, err := bf.f.Stat()
	if err != nil {
		return 0, err
	}
	size := fi.Size() - bf.headerSize
	if size <= 0 {
		return 0, nil
	}
	return size / bf.blockSize, nil
}

// Grow extends the subfile, if necessary, so that it holds at least n whole
// blocks after the header.
func (bf *File) Grow(n int64) error {
	cur, err := bf.NumBlocks()
	if err != nil {
		return err
	}
	if cur >= n {
		return nil
	}
	return bf.f.Truncate(bf.headerSize + n*bf.blockSize)
}

// SetSize truncates (or extends) the subfile to hold exactly n whole blocks
// after the header.
func (bf *File) SetSize(n int64) error {
	return bf.f.Truncate(bf.headerSize + n*bf.blockSize)
}

// Extend appends one new block to the subfile, zero-filled, and returns its
// 1-based block number.
func (bf *File) Extend() (int64, error) {
	n, err := bf.NumBlocks()
	if err != nil {
		return 0, err
	}
	next := n + 1
	if err := bf.Grow(next); err != nil {
		return 0, err
	}
	return next, nil
}
