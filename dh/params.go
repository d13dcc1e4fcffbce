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

import "github.com/creachadair/dhstore/internal/filetable"

// CreateParams collects the immutable creation parameters for a new DH
// file. The zero value is not valid; Create fills in
// defaults for GroupSize, MinModulus, SplitLoad, MergeLoad, and BigRecSize
// when they are left at zero.
type CreateParams struct {
	// GroupSize is the number of BaseBlockBytes-sized base blocks in one
	// group or overflow block. Must be in [1, MaxGroupSize]. Defaults to 1.
	GroupSize int

	// MinModulus is the smallest modulus a merge will ever reduce the file
	// to, and the modulus a Clear resets it to. Must be ≥ 1. Defaults to 1.
	MinModulus int64

	// BigRecSize is the inline/out-of-line threshold in bytes: a record
	// whose encoded size (header + id + data) would reach or exceed this
	// many bytes is instead written as a large-record chain. Must be in
	// (0, groupSizeBytes - BlockHeaderSize]. Defaults to 80% of one group.
	BigRecSize int

	// SplitLoad is the percent load (per DHLoad) above which a write
	// triggers a split. Must satisfy 0 ≤ MergeLoad < SplitLoad ≤ 99.
	// Defaults to 80.
	SplitLoad int

	// MergeLoad is the percent load below which a delete triggers a merge.
	// Defaults to 40 when left at zero, unless SplitLoad is 40, in which
	// case it stays 0.
	MergeLoad int

	// NoCase, if set, folds every id to upper case before hashing and
	// comparing.
	NoCase bool

	// BigEndian selects the byte order a new file is written in. The zero
	// value (false) writes little-endian, matching the host order of the
	// overwhelming majority of deployment targets; set true to create a
	// file that endian.Convert would otherwise be needed to produce.
	BigEndian bool
}

const (
	defaultGroupSize  = 1
	defaultMinModulus = 1
	defaultSplitLoad  = 80
	defaultMergeLoad  = 40
)

// validate fills in defaults and checks CreateParams' constraints,
// returning the fully-populated parameters or a *Error with Kind ==
// KindPolicy.
func (p CreateParams) validate() (CreateParams, error) {
	if p.GroupSize == 0 {
		p.GroupSize = defaultGroupSize
	}
	if p.MinModulus == 0 {
		p.MinModulus = defaultMinModulus
	}
	if p.SplitLoad == 0 {
		p.SplitLoad = defaultSplitLoad
	}
	if p.MergeLoad == 0 && p.SplitLoad != defaultMergeLoad {
		p.MergeLoad = defaultMergeLoad
	}

	if p.GroupSize < 1 || p.GroupSize > MaxGroupSize {
		return p, policyErr("group size %d out of range [1, %d]", p.GroupSize, MaxGroupSize)
	}
	if p.MinModulus < 1 {
		return p, policyErr("min modulus %d must be ≥ 1", p.MinModulus)
	}
	if p.MergeLoad < 0 || p.MergeLoad >= p.SplitLoad || p.SplitLoad > 99 {
		return p, policyErr("invalid load thresholds merge=%d split=%d (need 0 ≤ merge < split ≤ 99)", p.MergeLoad, p.SplitLoad)
	}

	groupBytes := p.GroupSize * BaseBlockBytes
	maxBigRec := groupBytes - BlockHeaderSize
	if p.BigRecSize == 0 {
		p.BigRecSize = (groupBytes * 8) / 10
	}
	if p.BigRecSize <= 0 || p.BigRecSize > maxBigRec {
		return p, policyErr("big record size %d out of range (0, %d]", p.BigRecSize, maxBigRec)
	}
	return p, nil
}

// runtimeParams builds the initial filetable.Params for a freshly created
// or freshly cleared file at modulus == min modulus.
func (p CreateParams) runtimeParams() filetable.Params {
	modValue := int64(1)
	for modValue < p.MinModulus {
		modValue <<= 1
	}
	version := FileVersion
	return filetable.Params{
		GroupSize:    p.GroupSize,
		MinModulus:   p.MinModulus,
		BigRecSize:   p.BigRecSize,
		SplitLoad:    p.SplitLoad,
		MergeLoad:    p.MergeLoad,
		Version:      version,
		NoCase:       p.NoCase,
		Modulus:      p.MinModulus,
		ModValue:     modValue,
		LoadBytes:    0,
		FreeChain:    0,
		RecordCount:  0,
		LongestID:    0,
		ExtendedLoad: 0,
	}
}
