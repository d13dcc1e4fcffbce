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
	"errors"
	"fmt"
)

// Kind classifies a *[Error] error taxonomy.
type Kind int

const (
	// KindNotFound reports that an id was not present; not itself an
	// error condition, but reported through the error interface so callers
	// can distinguish it from a structural failure with errors.Is.
	KindNotFound Kind = iota + 1

	// KindStructural reports on-disk corruption: bad magic, invalid
	// used_bytes, unknown block type, a chain loop.
	KindStructural

	// KindResource reports local resource exhaustion: out of memory for a
	// block buffer, a full lock or file table, a failed subfile extension.
	KindResource

	// KindPolicy reports an illegal argument to Create, or an operation
	// forbidden by the file's immutable parameters (e.g. version > DH_VERSION).
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindStructural:
		return "structural"
	case KindResource:
		return "resource"
	case KindPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every operation in this
// package that can fail for a reason a caller may want to branch on. It is
// a structured replacement for the source's per-process
// dh_err/os_error globals.
type Error struct {
	Kind    Kind
	Subfile int   // 0 = primary, 1 = overflow, ≥2 = index subfile; -1 if not applicable
	Group   int64 // group or block number implicated, if any; 0 if not applicable
	Offset  int64 // byte offset within the subfile, if any
	Err     error // underlying cause (os.PathError, etc.), may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Subfile >= 0 {
		msg = fmt.Sprintf("%s: subfile ~%d", msg, e.Subfile)
	}
	if e.Group != 0 {
		msg = fmt.Sprintf("%s group %d", msg, e.Group)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, &Error{Kind: KindNotFound}) works without matching the
// other fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	// ErrNotFound is reported by Read and internal lookups when an id is
	// absent (Delete of an absent id returns nil, and Exists reports false).
	// The concrete type is *Error with Kind == KindNotFound.
	ErrNotFound = &Error{Kind: KindNotFound, Subfile: -1}

	// ErrIDExists is reported in contexts where an id is required to be
	// absent (none of the public API currently requires this, but AK hooks
	// and tests use it to assert uniqueness).
	ErrIDExists = &Error{Kind: KindPolicy, Subfile: -1, Err: errors.New("id already exists")}

	// ErrConverting is reported by Open (and by endian.Convert, when run on
	// such a file) when a file's primary magic is MagicConverting,
	// meaning a previous qmconv-equivalent run did not complete.
	ErrConverting = &Error{Kind: KindStructural, Subfile: 0, Err: errors.New("file left in mid-conversion state")}
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsStructural reports whether err is or wraps a structural *Error.
func IsStructural(err error) bool { return errors.Is(err, &Error{Kind: KindStructural, Subfile: -1}) }

// IsResource reports whether err is or wraps a resource *Error.
func IsResource(err error) bool { return errors.Is(err, &Error{Kind: KindResource, Subfile: -1}) }

// IsPolicy reports whether err is or wraps a policy *Error.
func IsPolicy(err error) bool { return errors.Is(err, &Error{Kind: KindPolicy, Subfile: -1}) }

func structuralErr(subfile int, group int64, format string, args ...any) *Error {
	return &Error{Kind: KindStructural, Subfile: subfile, Group: group, Err: fmt.Errorf(format, args...)}
}

func resourceErr(subfile int, err error) *Error {
	return &Error{Kind: KindResource, Subfile: subfile, Err: err}
}

func policyErr(format string, args ...any) *Error {
	return &Error{Kind: KindPolicy, Subfile: -1, Err: fmt.Errorf(format, args...)}
}
