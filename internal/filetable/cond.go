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

package filetable

import "github.com/creachadair/msync"

// edgeCond is an edge-triggered condition: waiters block on Ready until the
// next call to Signal, after which they must call Ready again to wait for
// the following occurrence. Used to wake goroutines spinning on
// inhibit_count or on the clear-in-progress marker without busy-waiting on
// every tick. This wraps msync.Flag, the same primitive storage/wbstore
// uses to wake its write-behind flush loop on a "queue not empty" edge.
type edgeCond struct {
	flag *msync.Flag[any]
}

func newEdgeCond() *edgeCond { return &edgeCond{flag: msync.NewFlag[any]()} }

// Signal wakes all pending waiters and resets the condition.
func (c *edgeCond) Signal() { c.flag.Set(nil) }

// Ready returns a channel that is closed the next time Signal is called.
func (c *edgeCond) Ready() <-chan struct{} { return c.flag.Ready() }
