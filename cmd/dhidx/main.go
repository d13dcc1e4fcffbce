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

// Program dhidx reports or relocates the alternate-index path recorded in
// a DH file's header, the way original_source/qmidx.c does:
//
//	dhidx -d <path>           forget the recorded index path
//	dhidx -m <path> <akpath>  move: record akpath, without touching data on disk
//	dhidx -p <path> <akpath>  set: record akpath as-is (alias of -m here,
//	                          since this package never copies index bytes;
//	                          see the package doc comment)
//	dhidx -q <path>           report the recorded index path (default action)
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/creachadair/ctrl"

	"github.com/creachadair/dhstore/dh"
)

var (
	doDelete = flag.Bool("d", false, "Delete the recorded index path")
	doMove   = flag.Bool("m", false, "Move indices to a new recorded path")
	doSet    = flag.Bool("p", false, "Set the recorded index path")
	doQuery  = flag.Bool("q", false, "Report the recorded index path (default)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage:
  %[1]s -d <path>
  %[1]s -m <path> <akpath>
  %[1]s -p <path> <akpath>
  %[1]s -q <path>

Options:
`, os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	ctrl.Run(func() error {
		nflags := 0
		for _, b := range []bool{*doDelete, *doMove, *doSet, *doQuery} {
			if b {
				nflags++
			}
		}
		if nflags > 1 {
			ctrl.Exitf(1, "only one of -d, -m, -p, -q may be given")
		}

		args := flag.Args()
		if len(args) == 0 {
			ctrl.Exitf(1, "missing required <path>")
		}
		path := args[0]

		h, err := dh.Open(path)
		if err != nil {
			ctrl.Exitf(1, "opening %s: %v", path, err)
		}
		defer h.Close()

		switch {
		case *doDelete:
			return h.SetAKPath("")
		case *doMove, *doSet:
			if len(args) != 2 {
				ctrl.Exitf(1, "-m and -p require an <akpath> argument")
			}
			return h.SetAKPath(args[1])
		default: // -q, or no flag given
			fmt.Println(h.AKPath())
			return nil
		}
	})
}
