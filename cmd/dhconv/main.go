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

// Program dhconv converts one or more DH files between byte orders
// offline, the way original_source/qmconv.c does: each named path is
// rewritten in place to the requested order, with no host process
// permitted to have it open at the same time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/creachadair/ctrl"

	"github.com/creachadair/dhstore/endian"
)

var (
	toBig    = flag.Bool("B", false, "Convert to big-endian format")
	toLittle = flag.Bool("L", false, "Convert to little-endian format")
	debug    = flag.Bool("D", false, "Print detailed progress information")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s {-B | -L} pathname...

Rewrite each named DH file in place to the requested byte order.
Exactly one of -B (big-endian) or -L (little-endian) must be given.

Options:
`, os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	ctrl.Run(func() error {
		if *toBig == *toLittle {
			ctrl.Exitf(1, "exactly one of -B or -L must be given")
		}
		args := flag.Args()
		if len(args) == 0 {
			ctrl.Exitf(1, "no pathnames given")
		}

		ctx := context.Background()
		var failed bool
		for _, path := range args {
			if *debug {
				log.Printf("converting %s", path)
			}
			if err := endian.Convert(ctx, path, *toBig); err != nil {
				log.Printf("%s: %v", path, err)
				failed = true
				continue
			}
			if *debug {
				log.Printf("%s: done", path)
			}
		}
		if failed {
			ctrl.Exitf(1, "one or more files failed to convert")
		}
		return nil
	})
}
