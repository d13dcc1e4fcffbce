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

package filetable_test

import (
	"testing"
	"time"

	"github.com/creachadair/dhstore/internal/filetable"
)

func newParams() (filetable.Params, error) {
	return filetable.Params{GroupSize: 1, MinModulus: 1, Modulus: 1, ModValue: 1}, nil
}

func TestOpenSharesEntryWithinProcess(t *testing.T) {
	tab := filetable.New()
	e1, err := tab.Open("/tmp/x", newParams)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e2, err := tab.Open("/tmp/x", newParams)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if e1 != e2 {
		t.Error("second Open on the same path returned a distinct Entry")
	}
	if tab.Len() != 1 {
		t.Errorf("Len = %d, want 1", tab.Len())
	}
}

func TestCloseReleasesEntryAtZeroRefs(t *testing.T) {
	tab := filetable.New()
	e1, err := tab.Open("/tmp/y", newParams)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := tab.Open("/tmp/y", newParams); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tab.Close(e1) {
		t.Error("Close reported closed after only one of two references released")
	}
	if !tab.Close(e1) {
		t.Error("Close reported not-closed after the last reference released")
	}
	if tab.Len() != 0 {
		t.Errorf("Len after final Close = %d, want 0", tab.Len())
	}
}

func TestWithLockAndSnapshot(t *testing.T) {
	tab := filetable.New()
	e, err := tab.Open("/tmp/z", newParams)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e.WithLock(func(p *filetable.Params) { p.LoadBytes = 42 })
	got := e.Snapshot()
	if got.LoadBytes != 42 {
		t.Errorf("Snapshot().LoadBytes = %d, want 42", got.LoadBytes)
	}
}

func TestClearInProgressBlocksSecondBegin(t *testing.T) {
	tab := filetable.New()
	e, err := tab.Open("/tmp/clear", newParams)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.BeginClear(); err != nil {
		t.Fatalf("BeginClear: %v", err)
	}
	if !e.ClearInProgress() {
		t.Error("ClearInProgress = false, want true")
	}
	if err := e.BeginClear(); err == nil {
		t.Error("second BeginClear: got nil error, want non-nil")
	}

	done := make(chan struct{})
	go func() {
		<-e.WaitForClear()
		close(done)
	}()

	e.EndClear()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForClear never signalled after EndClear")
	}
	if e.ClearInProgress() {
		t.Error("ClearInProgress = true after EndClear, want false")
	}
}

func TestInhibitUninhibit(t *testing.T) {
	tab := filetable.New()
	e, err := tab.Open("/tmp/inhibit", newParams)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if e.Inhibited() {
		t.Fatal("Inhibited = true before any Inhibit call")
	}
	e.Inhibit()
	e.Inhibit()
	if !e.Inhibited() {
		t.Error("Inhibited = false with two outstanding Inhibit calls")
	}

	done := make(chan struct{})
	go func() {
		<-e.WaitForUninhibit()
		close(done)
	}()

	e.Uninhibit()
	select {
	case <-done:
		t.Fatal("WaitForUninhibit signalled before the inhibit count reached zero")
	case <-time.After(20 * time.Millisecond):
	}

	e.Uninhibit()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForUninhibit never signalled once the inhibit count reached zero")
	}
	if e.Inhibited() {
		t.Error("Inhibited = true after matching Uninhibit calls")
	}
}
