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

// Package grouplock implements the bounded table of per-group reader/writer
// locks used to serialize access to a DH file's groups.
//
// Group 0 is reserved for the header/free-chain lock. A lock is identified
// by a (file id, group number) pair. Two layers of mutual exclusion are
// composed for each lock:
//
//   - an in-process [sync.RWMutex], for fast-path coordination between
//     goroutines that share one open *dh.Handle or one process's open file
//     descriptors;
//   - an OS-level byte-range advisory lock (via unix.FcntlFlock) on the
//     primary subfile, taken at the byte offset of the group's header, so
//     that concurrent processes with the same directory open are also
//     serialized.
//
// The table itself follows the familiar mutex-guarded-map-plus-wake-channel
// shape used elsewhere for write-behind coordination, applied here to
// reader/writer locking instead.
package grouplock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTableFull is reported when the bounded lock table has no room for a new
// (file, group) entry.
var ErrTableFull = fmt.Errorf("grouplock: lock table is full")

// ErrDeadlock is reported when a lock wait is abandoned because it has
// exceeded the configured deadlock-detection timeout.
var ErrDeadlock = fmt.Errorf("grouplock: wait exceeded deadlock timeout")

const defaultDeadlockTimeout = 30 * time.Second

// Key identifies a single group lock.
type Key struct {
	FileID uint64 // stable identifier of the open file (not the OS fd)
	Group  int64  // 0 is the header/free-chain lock
}

// A Table is a bounded collection of group locks shared by every handle on
// a file within this process, plus (through the associated *os.File) across
// processes.
type Table struct {
	maxEntries int
	deadlock   time.Duration

	mu      sync.Mutex
	entries map[Key]*entry
}

type entry struct {
	mu       sync.RWMutex
	refs     int // number of live lock handles referencing this entry
	fileLock *os.File
	offset   int64
}

// New creates a lock table bounded to hold at most maxEntries distinct
// (file, group) locks at once. If maxEntries <= 0, the table is unbounded.
// If deadlockTimeout <= 0, a 30 second default is used.
func New(maxEntries int, deadlockTimeout time.Duration) *Table {
	if deadlockTimeout <= 0 {
		deadlockTimeout = defaultDeadlockTimeout
	}
	return &Table{
		maxEntries: maxEntries,
		deadlock:   deadlockTimeout,
		entries:    make(map[Key]*entry),
	}
}

// A Lock is a held group lock. Release must be called exactly once to
// release it.
type Lock struct {
	tab   *Table
	key   Key
	ent   *entry
	write bool
}

// groupOffset computes the byte offset used for the advisory lock
// associated with group g in the primary subfile, given the file's header
// and group size. Group 0 (the header lock) locks the header region itself.
func groupOffset(headerSize, groupSize int, g int64) int64 {
	if g == 0 {
		return 0
	}
	return int64(headerSize) + (g-1)*int64(groupSize)
}

// Acquire blocks until the lock identified by key can be granted in the
// requested mode, or ctx ends, or the deadlock-detection timeout elapses.
// primary is the open primary subfile used for the cross-process advisory
// lock; headerSize and groupSize locate the byte range for key.Group.
func (t *Table) Acquire(ctx context.Context, key Key, write bool, primary *os.File, headerSize, groupSize int) (*Lock, error) {
	ent, err := t.ref(key, primary, groupOffset(headerSize, groupSize, key.Group))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var locked bool
	go func() {
		if write {
			ent.mu.Lock()
		} else {
			ent.mu.RLock()
		}
		locked = true
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.unref(key)
		// The goroutine above may still be blocked on the in-process
		// mutex; once it acquires it we must release it to avoid leaking
		// the hold, since the caller is walking away.
		go func() {
			<-done
			if write {
				ent.mu.Unlock()
			} else {
				ent.mu.RUnlock()
			}
		}()
		return nil, ctx.Err()
	case <-time.After(t.deadlock):
		t.unref(key)
		go func() {
			<-done
			if write {
				ent.mu.Unlock()
			} else {
				ent.mu.RUnlock()
			}
		}()
		return nil, ErrDeadlock
	}
	_ = locked

	if err := lockFileRange(ent.fileLock, ent.offset, write); err != nil {
		if write {
			ent.mu.Unlock()
		} else {
			ent.mu.RUnlock()
		}
		t.unref(key)
		return nil, err
	}
	return &Lock{tab: t, key: key, ent: ent, write: write}, nil
}

// Release releases a held lock.
func (l *Lock) Release() {
	if l == nil || l.ent == nil {
		return
	}
	unlockFileRange(l.ent.fileLock, l.ent.offset)
	if l.write {
		l.ent.mu.Unlock()
	} else {
		l.ent.mu.RUnlock()
	}
	l.tab.unref(l.key)
	l.ent = nil
}

func (t *Table) ref(key Key, primary *os.File, offset int64) (*entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ent, ok := t.entries[key]
	if !ok {
		if t.maxEntries > 0 && len(t.entries) >= t.maxEntries {
			return nil, ErrTableFull
		}
		ent = &entry{fileLock: primary, offset: offset}
		t.entries[key] = ent
	}
	ent.refs++
	return ent, nil
}

func (t *Table) unref(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ent, ok := t.entries[key]
	if !ok {
		return
	}
	ent.refs--
	if ent.refs <= 0 {
		delete(t.entries, key)
	}
}

// Len reports the number of distinct (file, group) locks currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func lockFileRange(f *os.File, offset int64, write bool) error {
	if f == nil {
		return nil // no cross-process backing (e.g. in tests with no real file)
	}
	typ := int16(unix.F_RDLCK)
	if write {
		typ = unix.F_WRLCK
	}
	lk := unix.Flock_t{
		Type:   typ,
		Whence: int16(os.SEEK_SET),
		Start:  offset,
		Len:    1,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &lk)
}

func unlockFileRange(f *os.File, offset int64) error {
	if f == nil {
		return nil
	}
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(os.SEEK_SET),
		Start:  offset,
		Len:    1,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
}
