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

package dh

import (
	"context"
	"time"

	"github.com/creachadair/dhstore/internal/grouplock"
)

// headerGroup is the reserved group number for the header/free-chain lock.
const headerGroup int64 = 0

// lockGroup acquires a reader or writer lock on group g: an in-process
// RWMutex layered under an OS byte-range advisory lock on the primary
// subfile. There is no caller-facing cancellation for this wait; the only
// bound is grouplock's deadlock-detection timeout.
func (h *Handle) lockGroup(g int64, write bool) (*grouplock.Lock, error) {
	return h.entry.Locks.Acquire(context.Background(), h.lockKey(g), write, h.primary.OSFile(), h.headerSize(), h.groupBytes())
}

// waitForClear blocks, spinning on a short sleep, until no
// clear is in progress on h's file.
func (h *Handle) waitForClear() {
	for h.entry.ClearInProgress() {
		select {
		case <-h.entry.WaitForClear():
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// withGroupLock runs f while holding group g's lock in the requested mode,
// first spinning out any in-progress clear.
func (h *Handle) withGroupLock(g int64, write bool, f func() error) error {
	h.waitForClear()
	lk, err := h.lockGroup(g, write)
	if err != nil {
		return resourceErr(subfilePrimary, err)
	}
	defer lk.Release()
	return f()
}
