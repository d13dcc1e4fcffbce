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

package endian_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/creachadair/dhstore/dh"
	"github.com/creachadair/dhstore/endian"
)

func writeSample(t *testing.T, h *dh.Handle, n int) map[string][]byte {
	t.Helper()
	want := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("rec-%03d", i)
		val := bytes.Repeat([]byte{byte(i)}, 40+i)
		if err := h.Write(id, val); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
		want[id] = val
	}
	return want
}

func verifySample(t *testing.T, h *dh.Handle, want map[string][]byte) {
	t.Helper()
	for id, val := range want {
		got, err := h.Read(id)
		if err != nil {
			t.Errorf("Read(%s): %v", id, err)
			continue
		}
		if !bytes.Equal(got, val) {
			t.Errorf("Read(%s) = %x, want %x", id, got, val)
		}
	}
}

func TestConvertRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := dh.Create(path, dh.CreateParams{GroupSize: 1, BigEndian: false}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	h, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := writeSample(t, h, 25)
	if err := h.Close(); err != nil {
		t.Fatalf("Close before conversion: %v", err)
	}

	ctx := context.Background()
	if err := endian.Convert(ctx, path, true); err != nil {
		t.Fatalf("Convert to big-endian: %v", err)
	}

	h2, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open after conversion: %v", err)
	}
	verifySample(t, h2, want)
	if err := h2.Close(); err != nil {
		t.Fatalf("Close after conversion: %v", err)
	}

	if err := endian.Convert(ctx, path, false); err != nil {
		t.Fatalf("Convert back to little-endian: %v", err)
	}
	h3, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open after converting back: %v", err)
	}
	defer h3.Close()
	verifySample(t, h3, want)
}

func TestConvertIsIdempotentWhenAlreadyInTargetOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := dh.Create(path, dh.CreateParams{GroupSize: 1, BigEndian: false}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := writeSample(t, h, 5)
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := context.Background()
	if err := endian.Convert(ctx, path, false); err != nil {
		t.Fatalf("Convert to the order it's already in: %v", err)
	}

	h2, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open after no-op convert: %v", err)
	}
	defer h2.Close()
	verifySample(t, h2, want)
}

func TestConvertWithBigRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := dh.Create(path, dh.CreateParams{GroupSize: 1, BigRecSize: 64}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	big := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 200)
	if err := h.Write("huge", big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := endian.Convert(context.Background(), path, true); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	h2, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open after conversion: %v", err)
	}
	defer h2.Close()
	got, err := h2.Read("huge")
	if err != nil {
		t.Fatalf("Read big record after conversion: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("Read big record after conversion mismatch: got %d bytes, want %d bytes", len(got), len(big))
	}
}
