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

package dh_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/creachadair/dhstore/dh"
)

func mustCreate(t *testing.T, p dh.CreateParams) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	if err := dh.Create(path, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return path
}

func mustOpen(t *testing.T, path string) *dh.Handle {
	t.Helper()
	h, err := dh.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestCreateRejectsExisting(t *testing.T) {
	path := mustCreate(t, dh.CreateParams{})
	if err := dh.Create(path, dh.CreateParams{}); err == nil {
		t.Fatal("second Create on the same path: got nil error, want non-nil")
	} else if !dh.IsPolicy(err) {
		t.Errorf("second Create error = %v, want a policy error", err)
	}
}

func TestCreateRejectsBadLoadThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	err := dh.Create(path, dh.CreateParams{SplitLoad: 10, MergeLoad: 50})
	if err == nil || !dh.IsPolicy(err) {
		t.Fatalf("Create with merge >= split: got %v, want a policy error", err)
	}
}

func TestWriteReadDelete(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))

	if err := h.Write("alpha", []byte("first value")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := h.Read("alpha")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff([]byte("first value"), got); diff != "" {
		t.Errorf("Read (-want, +got):\n%s", diff)
	}

	ok, err := h.Exists("alpha")
	if err != nil || !ok {
		t.Fatalf("Exists = (%v, %v), want (true, nil)", ok, err)
	}

	if err := h.Delete("alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, err := h.Exists("alpha"); err != nil || ok {
		t.Fatalf("Exists after delete = (%v, %v), want (false, nil)", ok, err)
	}
	if _, err := h.Read("alpha"); !dh.IsNotFound(err) {
		t.Errorf("Read after delete: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAbsentIDIsNotAnError(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))
	if err := h.Delete("never-written"); err != nil {
		t.Errorf("Delete of an absent id: got %v, want nil", err)
	}
}

func TestWriteEmptyIDIsRejected(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))
	if err := h.Write("", []byte("x")); err == nil || !dh.IsPolicy(err) {
		t.Errorf("Write empty id: got %v, want a policy error", err)
	}
}

func TestOverwriteSameAndDifferentSize(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))

	if err := h.Write("k", []byte("1234")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Write("k", []byte("5678")); err != nil { // same size
		t.Fatalf("Write (same size): %v", err)
	}
	got, err := h.Read("k")
	if err != nil || string(got) != "5678" {
		t.Fatalf("Read = (%q, %v), want (%q, nil)", got, err, "5678")
	}

	if err := h.Write("k", []byte("a much longer replacement value")); err != nil {
		t.Fatalf("Write (longer): %v", err)
	}
	got, err = h.Read("k")
	if err != nil || string(got) != "a much longer replacement value" {
		t.Fatalf("Read = (%q, %v), want the longer value", got, err)
	}

	if err := h.Write("k", []byte("x")); err != nil {
		t.Fatalf("Write (shorter): %v", err)
	}
	got, err = h.Read("k")
	if err != nil || string(got) != "x" {
		t.Fatalf("Read = (%q, %v), want (%q, nil)", got, err, "x")
	}
}

func TestNoCaseFolding(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{NoCase: true}))
	if err := h.Write("Foo", []byte("bar")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := h.Read("FOO")
	if err != nil {
		t.Fatalf("Read with differently-cased id: %v", err)
	}
	if string(got) != "bar" {
		t.Errorf("Read = %q, want %q", got, "bar")
	}
	if err := h.Write("foo", []byte("baz")); err != nil {
		t.Fatalf("Write under another casing: %v", err)
	}
	got, err = h.Read("fOO")
	if err != nil || string(got) != "baz" {
		t.Fatalf("Read after case-insensitive overwrite = (%q, %v), want (%q, nil)", got, err, "baz")
	}
}

func TestBigRecordRoundTrip(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{BigRecSize: 64}))
	payload := bytes.Repeat([]byte("0123456789abcdef"), 1000) // 16000 bytes, spans several overflow blocks
	if err := h.Write("huge", payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := h.Read("huge")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Read big record mismatch: got %d bytes, want %d bytes", len(got), len(payload))
	}
	if err := h.Delete("huge"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.Read("huge"); !dh.IsNotFound(err) {
		t.Errorf("Read after deleting a big record: err = %v, want ErrNotFound", err)
	}
}

func TestBigRecordOverwriteFreesOldChain(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{BigRecSize: 64}))
	first := bytes.Repeat([]byte("A"), 5000)
	second := bytes.Repeat([]byte("B"), 9000)
	if err := h.Write("big", first); err != nil {
		t.Fatalf("Write first: %v", err)
	}
	if err := h.Write("big", second); err != nil {
		t.Fatalf("Write second: %v", err)
	}
	got, err := h.Read("big")
	if err != nil || !bytes.Equal(got, second) {
		t.Fatalf("Read after overwrite: got %d bytes (err %v), want %d bytes of B", len(got), err, len(second))
	}
}

func TestClearResetsFile(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("id-%d", i)
		if err := h.Write(id, []byte(id)); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
	}
	if err := h.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("id-%d", i)
		if ok, err := h.Exists(id); err != nil || ok {
			t.Errorf("Exists(%s) after Clear = (%v, %v), want (false, nil)", id, ok, err)
		}
	}
	st, err := h.Analyse(context.Background())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if st.RecordCount != 0 {
		t.Errorf("RecordCount after Clear = %d, want 0", st.RecordCount)
	}

	// The handle's own descriptors must still work against the cleared file.
	if err := h.Write("fresh", []byte("value")); err != nil {
		t.Fatalf("Write after Clear: %v", err)
	}
	if got, err := h.Read("fresh"); err != nil || string(got) != "value" {
		t.Fatalf("Read after Clear+Write = (%q, %v), want (%q, nil)", got, err, "value")
	}
}

func TestAnalyseFormatHas31Fields(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))
	if err := h.Write("a", []byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st, err := h.Analyse(context.Background())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	fields := strings.Split(st.Format(), ",")
	if len(fields) != 31 {
		t.Errorf("Format() has %d fields, want 31: %q", len(fields), st.Format())
	}
	if fields[11] != strconv.FormatInt(st.RecordCount, 10) {
		t.Errorf("field 12 (record count) = %q, want %q", fields[11], strconv.FormatInt(st.RecordCount, 10))
	}
	if fields[30] != strconv.FormatInt(st.NonNumericIDs, 10) {
		t.Errorf("field 31 (non-numeric ids) = %q, want %q", fields[30], strconv.FormatInt(st.NonNumericIDs, 10))
	}
}

func TestAnalyseCancelledContext(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{MinModulus: 16}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Analyse(ctx); err == nil {
		t.Error("Analyse with an already-cancelled context: got nil error, want non-nil")
	}
}

func TestSplitAndMergeUnderLoad(t *testing.T) {
	// A minimal group forces a split well within a small number of writes,
	// and a low merge threshold forces the modulus back down again once
	// most records are deleted.
	h := mustOpen(t, mustCreate(t, dh.CreateParams{
		GroupSize: 1,
		SplitLoad: 10,
		MergeLoad: 5,
	}))

	const n = 400
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("key-%04d", i)
		if err := h.Write(id, bytes.Repeat([]byte{byte(i)}, 32)); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
	}

	st, err := h.Analyse(context.Background())
	if err != nil {
		t.Fatalf("Analyse after writes: %v", err)
	}
	if st.Modulus <= st.MinModulus {
		t.Errorf("Modulus = %d after %d writes, want it to have split above MinModulus %d", st.Modulus, n, st.MinModulus)
	}
	if st.RecordCount != n {
		t.Errorf("RecordCount = %d, want %d", st.RecordCount, n)
	}

	// Every record must still be reachable after however many splits ran.
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("key-%04d", i)
		got, err := h.Read(id)
		if err != nil {
			t.Fatalf("Read(%s) after splitting: %v", id, err)
		}
		if !bytes.Equal(got, bytes.Repeat([]byte{byte(i)}, 32)) {
			t.Errorf("Read(%s) after splitting: payload mismatch", id)
		}
	}

	// Delete all but a handful of records; the modulus should come back
	// down toward MinModulus.
	for i := 0; i < n-5; i++ {
		id := fmt.Sprintf("key-%04d", i)
		if err := h.Delete(id); err != nil {
			t.Fatalf("Delete(%s): %v", id, err)
		}
	}
	st2, err := h.Analyse(context.Background())
	if err != nil {
		t.Fatalf("Analyse after deletes: %v", err)
	}
	if st2.Modulus >= st.Modulus {
		t.Errorf("Modulus after deletes = %d, want it to have merged back down from %d", st2.Modulus, st.Modulus)
	}
	if st2.RecordCount != 5 {
		t.Errorf("RecordCount after deletes = %d, want 5", st2.RecordCount)
	}

	for i := n - 5; i < n; i++ {
		id := fmt.Sprintf("key-%04d", i)
		got, err := h.Read(id)
		if err != nil {
			t.Fatalf("Read(%s) after merging: %v", id, err)
		}
		if !bytes.Equal(got, bytes.Repeat([]byte{byte(i)}, 32)) {
			t.Errorf("Read(%s) after merging: payload mismatch", id)
		}
	}
}

type fakeAKHook struct {
	calls []string
}

func (f *fakeAKHook) Update(mode dh.AKMode, id string, old, new []byte) error {
	f.calls = append(f.calls, fmt.Sprintf("%s:%s", mode, id))
	return nil
}

func TestAKHookInvokedOnWriteAndDelete(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))
	hook := &fakeAKHook{}
	h.AK = hook

	if err := h.Write("rec", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Write("rec", []byte("v2")); err != nil {
		t.Fatalf("Write (modify): %v", err)
	}
	if err := h.Delete("rec"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []string{"add:rec", "modify:rec", "delete:rec"}
	if len(hook.calls) != len(want) {
		t.Fatalf("AK hook calls = %v, want %v", hook.calls, want)
	}
	for i, w := range want {
		if hook.calls[i] != w {
			t.Errorf("AK hook call[%d] = %q, want %q", i, hook.calls[i], w)
		}
	}
}

func TestAKPathRoundTrip(t *testing.T) {
	h := mustOpen(t, mustCreate(t, dh.CreateParams{}))
	if got := h.AKPath(); got != "" {
		t.Fatalf("AKPath on a fresh file = %q, want empty", got)
	}
	if err := h.SetAKPath("/var/lib/dh/indices"); err != nil {
		t.Fatalf("SetAKPath: %v", err)
	}
	if got := h.AKPath(); got != "/var/lib/dh/indices" {
		t.Errorf("AKPath = %q, want %q", got, "/var/lib/dh/indices")
	}
}

func TestOpenSharesStateAcrossHandles(t *testing.T) {
	path := mustCreate(t, dh.CreateParams{})
	h1 := mustOpen(t, path)
	h2 := mustOpen(t, path)

	if err := h1.Write("shared", []byte("value")); err != nil {
		t.Fatalf("Write via h1: %v", err)
	}
	got, err := h2.Read("shared")
	if err != nil {
		t.Fatalf("Read via h2: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Read via h2 = %q, want %q", got, "value")
	}
}
