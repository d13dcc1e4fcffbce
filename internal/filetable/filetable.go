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

// Package filetable implements the process-wide shared file table: one
// [Entry] per distinct open DH file, holding its runtime parameters,
// reference count, and the inhibit-count that suppresses splits and merges
// during a scan.
//
// The historical implementation of this scheme keeps the equivalent table
// in an OS shared-memory segment so that unrelated processes sharing a
// machine observe the same modulus and load figures. That cross-process
// sharing is out of scope for this package (see DESIGN.md's Open Question
// on this point): [Table] is a process-wide singleton, visible only
// within one process. Cross-process mutual exclusion for the data itself
// is still provided by internal/grouplock's OS advisory locks on the
// primary subfile, so two processes cannot corrupt each other's writes;
// they simply each keep their own (eventually consistent,
// reloaded-from-disk-on-open) view of the modulus and load counters.
package filetable

import (
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/dhstore/internal/grouplock"
)

// maxLockEntries bounds the number of distinct (file, group) locks a single
// file's Entry will hold concurrently, matching grouplock's bounded table.
const maxLockEntries = 4096

// lockDeadlock is the per-acquire deadlock timeout handed to grouplock.New.
const lockDeadlock = 30 * time.Second

// Params holds a file's immutable creation parameters and mutable runtime
// parameters, mirroring 
type Params struct {
	// Immutable for the lifetime of the file.
	GroupSize  int
	MinModulus int64
	BigRecSize int
	SplitLoad  int
	MergeLoad  int
	Version    int
	NoCase     bool

	// Mutable, guarded by the owning Entry's table lock.
	Modulus       int64
	ModValue      int64
	LoadBytes     int64
	FreeChain     int64
	RecordCount   int64
	LongestID     int
	ExtendedLoad  int64
}

// Entry is one file's row in the shared file table.
type Entry struct {
	Path string

	// Locks is the group lock table shared by every handle this process has
	// open on Path. It is created once, alongside the Entry, and lives for
	// as long as any handle references the file.
	Locks *grouplock.Table

	tab *Table

	mu     sync.Mutex // guards everything below (the "FILE_TABLE_LOCK" for this entry)
	params Params
	refCt  int // number of open handles across this process referencing the file

	// lock < 0 means a clear is in progress; readers/writers must spin
	// until it returns to zero.
	lock int32

	// inhibitCount > 0 holds off splits/merges (Analyse, scans).
	inhibitCount int32

	clearDone  *edgeCond
	inhibitRel *edgeCond
}

// A Table is the process-wide registry of open file entries, keyed by
// cleaned directory path. The zero value is not usable; use [New].
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates an empty file table.
func New() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// global is the default process-wide table used by package dh.
var global = New()

// Global returns the default process-wide file table.
func Global() *Table { return global }

// Open returns the Entry for path, creating it (via newParams) if this is
// the first open in this process, and increments its reference count.
// newParams is only called and only consulted when the entry does not
// already exist, matching the source's "first opener populates the header
// cache" behavior.
func (t *Table) Open(path string, newParams func() (Params, error)) (*Entry, error) {
	t.mu.Lock()
	ent, ok := t.entries[path]
	if !ok {
		t.mu.Unlock()
		p, err := newParams()
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		// Re-check: another goroutine may have raced us to create it.
		if ent, ok = t.entries[path]; !ok {
			ent = &Entry{
				Path:       path,
				Locks:      grouplock.New(maxLockEntries, lockDeadlock),
				tab:        t,
				params:     p,
				clearDone:  newEdgeCond(),
				inhibitRel: newEdgeCond(),
			}
			t.entries[path] = ent
		}
	}
	ent.refCt++
	t.mu.Unlock()
	return ent, nil
}

// Close decrements ent's reference count, removing it from the table (and
// reporting true) when the count reaches zero.
func (t *Table) Close(ent *Entry) (closed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ent.mu.Lock()
	ent.refCt--
	done := ent.refCt <= 0
	ent.mu.Unlock()
	if done {
		delete(t.entries, ent.Path)
	}
	return done
}

// Len reports the number of distinct files currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// WithLock runs f while holding the entry's table lock, the Go analogue of
// "acquire FILE_TABLE_LOCK". f receives a pointer to the live parameters and
// may mutate them; the mutation is visible to subsequent WithLock calls.
func (e *Entry) WithLock(f func(p *Params)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.params)
}

// Snapshot returns a copy of the current parameters without mutation.
func (e *Entry) Snapshot() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// BeginClear marks a clear as in progress (lock < 0), blocking new readers
// and writers until EndClear is called. It returns an error if a clear is
// already in progress.
func (e *Entry) BeginClear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lock < 0 {
		return fmt.Errorf("filetable: clear already in progress for %q", e.Path)
	}
	e.lock = -1
	return nil
}

// EndClear clears the in-progress marker and wakes any readers/writers
// spinning in WaitForClear.
func (e *Entry) EndClear() {
	e.mu.Lock()
	e.lock = 0
	e.mu.Unlock()
	e.clearDone.Signal()
}

// ClearInProgress reports whether a clear is currently marked in progress.
func (e *Entry) ClearInProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lock < 0
}

// WaitForClear returns a channel that is closed the next time a clear
// finishes, for use in a select alongside a short-sleep spin (:
// "readers and writers spin with a short sleep until it returns to zero").
func (e *Entry) WaitForClear() <-chan struct{} { return e.clearDone.Ready() }

// Inhibit increments the inhibit count, suppressing splits/merges.
func (e *Entry) Inhibit() {
	e.mu.Lock()
	e.inhibitCount++
	e.mu.Unlock()
}

// Uninhibit decrements the inhibit count and wakes anything waiting on
// WaitForUninhibit once it reaches zero.
func (e *Entry) Uninhibit() {
	e.mu.Lock()
	e.inhibitCount--
	zero := e.inhibitCount <= 0
	e.mu.Unlock()
	if zero {
		e.inhibitRel.Signal()
	}
}

// Inhibited reports whether splits/merges are currently suppressed.
func (e *Entry) Inhibited() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inhibitCount > 0
}

// WaitForUninhibit returns a channel closed the next time the inhibit count
// reaches zero.
func (e *Entry) WaitForUninhibit() <-chan struct{} { return e.inhibitRel.Ready() }
