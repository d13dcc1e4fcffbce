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
	"encoding/binary"
	"fmt"
	"path/filepath"
)

// Subfile numbers: ~0 is the primary, ~1 the overflow, ~2..~33 are opaque
// alternate-index subfiles addressed only by number.
const (
	subfilePrimary  = 0
	subfileOverflow = 1
)

// subfilePath returns the path of subfile n within the file's directory.
func subfilePath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("~%d", n))
}

// orderFor returns the byte order a new file should be written in.
func orderFor(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
