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

package blockio_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/creachadair/dhstore/internal/blockio"
)

func mustOpen(t *testing.T, header, block int) *blockio.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub")
	bf, err := blockio.Open(path, header, block, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { bf.Close() })
	return bf
}

func TestHeaderRoundTrip(t *testing.T) {
	bf := mustOpen(t, 16, 32)
	want := bytes.Repeat([]byte{0xAB}, 16)
	if err := bf.WriteHeader(want); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	got := make([]byte, 16)
	if err := bf.ReadHeader(got); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadHeader = %x, want %x", got, want)
	}
}

func TestHeaderSizeMismatch(t *testing.T) {
	bf := mustOpen(t, 16, 32)
	if err := bf.WriteHeader(make([]byte, 8)); err == nil {
		t.Error("WriteHeader with wrong size: got nil error, want non-nil")
	}
	if err := bf.ReadHeader(make([]byte, 8)); err == nil {
		t.Error("ReadHeader with wrong size: got nil error, want non-nil")
	}
}

func TestBlockRoundTrip(t *testing.T) {
	bf := mustOpen(t, 16, 32)
	if err := bf.Grow(3); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		want := bytes.Repeat([]byte{byte(i)}, 32)
		if err := bf.WriteBlock(i, want); err != nil {
			t.Fatalf("WriteBlock(%d): %v", i, err)
		}
	}
	for i := int64(1); i <= 3; i++ {
		got := make([]byte, 32)
		if err := bf.ReadBlock(i, got); err != nil {
			t.Fatalf("ReadBlock(%d): %v", i, err)
		}
		want := bytes.Repeat([]byte{byte(i)}, 32)
		if !bytes.Equal(got, want) {
			t.Errorf("ReadBlock(%d) = %x, want %x", i, got, want)
		}
	}
}

func TestBlockInvalidNumber(t *testing.T) {
	bf := mustOpen(t, 16, 32)
	buf := make([]byte, 32)
	if err := bf.ReadBlock(0, buf); err == nil {
		t.Error("ReadBlock(0): got nil error, want non-nil")
	}
	if err := bf.WriteBlock(-1, buf); err == nil {
		t.Error("WriteBlock(-1): got nil error, want non-nil")
	}
}

func TestNumBlocksAndExtend(t *testing.T) {
	bf := mustOpen(t, 16, 32)
	if n, err := bf.NumBlocks(); err != nil || n != 0 {
		t.Fatalf("NumBlocks on fresh file = (%d, %v), want (0, nil)", n, err)
	}
	n1, err := bf.Extend()
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if n1 != 1 {
		t.Errorf("Extend = %d, want 1", n1)
	}
	n2, err := bf.Extend()
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if n2 != 2 {
		t.Errorf("Extend = %d, want 2", n2)
	}
	if n, err := bf.NumBlocks(); err != nil || n != 2 {
		t.Fatalf("NumBlocks = (%d, %v), want (2, nil)", n, err)
	}
}

func TestSetSizeShrinks(t *testing.T) {
	bf := mustOpen(t, 16, 32)
	if err := bf.Grow(5); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if err := bf.SetSize(2); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	if n, err := bf.NumBlocks(); err != nil || n != 2 {
		t.Fatalf("NumBlocks after shrink = (%d, %v), want (2, nil)", n, err)
	}
}

func TestOSFileSharesDescriptor(t *testing.T) {
	bf := mustOpen(t, 16, 32)
	if bf.OSFile().Name() != bf.Name() {
		t.Errorf("OSFile().Name() = %q, want %q", bf.OSFile().Name(), bf.Name())
	}
}
