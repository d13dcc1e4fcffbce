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

package grouplock_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/dhstore/internal/grouplock"
)

func mustFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "primary")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	tab := grouplock.New(0, time.Second)
	f := mustFile(t)
	key := grouplock.Key{FileID: 1, Group: 1}

	lk, err := tab.Acquire(context.Background(), key, true, f, 64, 256)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tab.Len() != 1 {
		t.Errorf("Len = %d, want 1", tab.Len())
	}
	lk.Release()
	if tab.Len() != 0 {
		t.Errorf("Len after release = %d, want 0", tab.Len())
	}
}

func TestWriteLockExcludesReaders(t *testing.T) {
	tab := grouplock.New(0, 2*time.Second)
	f := mustFile(t)
	key := grouplock.Key{FileID: 1, Group: 1}

	wl, err := tab.Acquire(context.Background(), key, true, f, 64, 256)
	if err != nil {
		t.Fatalf("Acquire write: %v", err)
	}

	got := make(chan struct{})
	go func() {
		rl, err := tab.Acquire(context.Background(), key, false, f, 64, 256)
		if err != nil {
			t.Errorf("Acquire read: %v", err)
			return
		}
		rl.Release()
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("reader acquired the lock while the writer still held it")
	case <-time.After(50 * time.Millisecond):
	}

	wl.Release()
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never acquired the lock after the writer released it")
	}
}

func TestMultipleReadersConcurrent(t *testing.T) {
	tab := grouplock.New(0, 2*time.Second)
	f := mustFile(t)
	key := grouplock.Key{FileID: 1, Group: 1}

	r1, err := tab.Acquire(context.Background(), key, false, f, 64, 256)
	if err != nil {
		t.Fatalf("Acquire reader 1: %v", err)
	}
	defer r1.Release()

	done := make(chan struct{})
	go func() {
		r2, err := tab.Acquire(context.Background(), key, false, f, 64, 256)
		if err != nil {
			t.Errorf("Acquire reader 2: %v", err)
			return
		}
		r2.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader never acquired the lock alongside the first")
	}
}

func TestTableFull(t *testing.T) {
	tab := grouplock.New(1, time.Second)
	f := mustFile(t)

	l1, err := tab.Acquire(context.Background(), grouplock.Key{FileID: 1, Group: 1}, true, f, 64, 256)
	if err != nil {
		t.Fatalf("Acquire first key: %v", err)
	}
	defer l1.Release()

	if _, err := tab.Acquire(context.Background(), grouplock.Key{FileID: 1, Group: 2}, true, f, 64, 256); err != grouplock.ErrTableFull {
		t.Errorf("Acquire second key: got %v, want ErrTableFull", err)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	tab := grouplock.New(0, 2*time.Second)
	f := mustFile(t)
	key := grouplock.Key{FileID: 1, Group: 1}

	wl, err := tab.Acquire(context.Background(), key, true, f, 64, 256)
	if err != nil {
		t.Fatalf("Acquire write: %v", err)
	}
	defer wl.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tab.Acquire(ctx, key, true, f, 64, 256); err == nil {
		t.Error("Acquire under a contended, cancelled context: got nil error, want non-nil")
	}
}

func TestDistinctGroupsDoNotContend(t *testing.T) {
	tab := grouplock.New(0, time.Second)
	f := mustFile(t)

	l1, err := tab.Acquire(context.Background(), grouplock.Key{FileID: 1, Group: 1}, true, f, 64, 256)
	if err != nil {
		t.Fatalf("Acquire group 1: %v", err)
	}
	defer l1.Release()

	l2, err := tab.Acquire(context.Background(), grouplock.Key{FileID: 1, Group: 2}, true, f, 64, 256)
	if err != nil {
		t.Fatalf("Acquire group 2: %v", err)
	}
	l2.Release()
}
