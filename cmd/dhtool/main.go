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

// Program dhtool operates on DH files from the command line: create, read,
// write, delete, exists, clear, and analyse.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/creachadair/command"

	"github.com/creachadair/dhstore/dh"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Usage: `<command> [arguments]
help [<command>]`,
		Help: `A command-line tool to create and inspect DH files.`,

		Commands: []*command.C{
			createCommand,
			readCommand,
			writeCommand,
			deleteCommand,
			existsCommand,
			clearCommand,
			analyseCommand,
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil), os.Args[1:])
}

var createFlags struct {
	GroupSize  int
	MinModulus int64
	BigRecSize int
	SplitLoad  int
	MergeLoad  int
	NoCase     bool
	BigEndian  bool
}

var createCommand = &command.C{
	Name: "create",
	Usage: `<path>`,
	Help:  `Create a new, empty DH file at path.`,

	SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
		fs.IntVar(&createFlags.GroupSize, "group-size", 0, "Group size, in base blocks (default 1)")
		fs.Int64Var(&createFlags.MinModulus, "min-modulus", 0, "Minimum modulus (default 1)")
		fs.IntVar(&createFlags.BigRecSize, "big-rec-size", 0, "Large-record threshold in bytes (default 80% of one group)")
		fs.IntVar(&createFlags.SplitLoad, "split-load", 0, "Split load percent (default 80)")
		fs.IntVar(&createFlags.MergeLoad, "merge-load", 0, "Merge load percent (default 40)")
		fs.BoolVar(&createFlags.NoCase, "nocase", false, "Fold ids to upper case")
		fs.BoolVar(&createFlags.BigEndian, "big-endian", false, "Write the file in big-endian byte order")
	},
	Run: func(env *command.Env, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: create <path>")
		}
		return dh.Create(args[0], dh.CreateParams{
			GroupSize:  createFlags.GroupSize,
			MinModulus: createFlags.MinModulus,
			BigRecSize: createFlags.BigRecSize,
			SplitLoad:  createFlags.SplitLoad,
			MergeLoad:  createFlags.MergeLoad,
			NoCase:     createFlags.NoCase,
			BigEndian:  createFlags.BigEndian,
		})
	},
}

var readCommand = &command.C{
	Name: "read",
	Usage: `<path> <id>`,
	Help:  `Read a record by id and write its payload to stdout.`,

	Run: func(env *command.Env, args []string) error {
		if len(args) != 2 {
			return errors.New("usage: read <path> <id>")
		}
		h, err := dh.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()
		data, err := h.Read(args[1])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var writeFlags struct {
	From string
}

var writeCommand = &command.C{
	Name: "write",
	Usage: `<path> <id> [<file>]`,
	Help:  `Write stdin (or <file>, if given) as the payload for id.`,

	Run: func(env *command.Env, args []string) error {
		if len(args) < 2 || len(args) > 3 {
			return errors.New("usage: write <path> <id> [<file>]")
		}
		var data []byte
		var err error
		if len(args) == 3 {
			data, err = os.ReadFile(args[2])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
		h, err := dh.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()
		return h.Write(args[1], data)
	},
}

var deleteCommand = &command.C{
	Name: "delete",
	Usage: `<path> <id>`,
	Help:  `Delete a record by id.`,

	Run: func(env *command.Env, args []string) error {
		if len(args) != 2 {
			return errors.New("usage: delete <path> <id>")
		}
		h, err := dh.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()
		return h.Delete(args[1])
	},
}

var existsCommand = &command.C{
	Name: "exists",
	Usage: `<path> <id>`,
	Help:  `Report whether id is present, via exit status (0 present, 1 absent).`,

	Run: func(env *command.Env, args []string) error {
		if len(args) != 2 {
			return errors.New("usage: exists <path> <id>")
		}
		h, err := dh.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()
		ok, err := h.Exists(args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: not found", args[1])
		}
		return nil
	},
}

var clearCommand = &command.C{
	Name: "clear",
	Usage: `<path>`,
	Help:  `Remove all records from a DH file, resetting it to its minimum modulus.`,

	Run: func(env *command.Env, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: clear <path>")
		}
		h, err := dh.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()
		return h.Clear()
	},
}

var analyseCommand = &command.C{
	Name: "analyse",
	Usage: `<path>`,
	Help:  `Print a one-line CSV statistics report for a DH file.`,

	Run: func(env *command.Env, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: analyse <path>")
		}
		h, err := dh.Open(args[0])
		if err != nil {
			return err
		}
		defer h.Close()
		st, err := h.Analyse(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(st.Format())
		return nil
	},
}
