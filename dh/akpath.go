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

// AKPath reports the path recorded in the header for this file's alternate
// index subfiles, or "" if none is set. The core never reads or writes
// anything at this path itself; it only carries the path through Open,
// flushHeader, and Clear so a tool like cmd/dhidx can relocate the indices
// without the data path needing to change.
func (h *Handle) AKPath() string { return h.akPath }

// SetAKPath records path as the location of this file's alternate index
// subfiles and flushes the header, under the header lock. It does not move,
// create, or validate anything at path; that is cmd/dhidx's job.
func (h *Handle) SetAKPath(path string) error {
	return h.withGroupLock(headerGroup, true, func() error {
		h.akPath = path
		return h.flushHeader()
	})
}
