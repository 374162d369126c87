// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package command implements the debugger's line-oriented command
// dispatcher: a data table of names, minimum argument counts, and
// handlers, matched by non-empty prefix in table order, the way the
// reference implementation's if/else is_prefix cascade does.
package command

import (
	"fmt"
	"strings"
)

// Handler runs one command invocation. args excludes the command
// name itself.
type Handler func(args []string) error

// Command is one row of the dispatch table.
type Command struct {
	Name    string
	MinArgs int
	Help    string
	Run     Handler
}

// Table is an ordered, named set of commands, matched by prefix.
type Table struct {
	commands []Command
}

// NewTable builds a dispatch table from cmds, in the order given; that
// order also breaks ties when more than one command name shares a
// prefix.
func NewTable(cmds []Command) *Table {
	return &Table{commands: cmds}
}

// Dispatch splits line into a command word and arguments, resolves
// the command word against the table by exact name or, failing that,
// the first command whose name has it as a non-empty prefix, checks
// the minimum argument count, and runs its handler. An empty line is
// silently ignored, matching the reference debugger's "press enter to
// repeat nothing" behavior at this layer (repeating the last command
// is the REPL's job, not the dispatcher's).
func (t *Table) Dispatch(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]

	cmd, err := t.resolve(name)
	if err != nil {
		return err
	}
	if len(args) < cmd.MinArgs {
		return fmt.Errorf("%s: expected at least %d argument(s), got %d", cmd.Name, cmd.MinArgs, len(args))
	}
	return cmd.Run(args)
}

// resolve matches name against the table, first by exact name, then
// by non-empty prefix. Ambiguity among prefix matches is resolved by
// the table's own enumerated order — the first match wins, same as
// the original's if/else is_prefix cascade.
func (t *Table) resolve(name string) (Command, error) {
	for _, c := range t.commands {
		if c.Name == name {
			return c, nil
		}
	}
	for _, c := range t.commands {
		if strings.HasPrefix(c.Name, name) {
			return c, nil
		}
	}
	return Command{}, fmt.Errorf("No command found!!")
}

// Names returns every command name in table order, for building a
// help listing.
func (t *Table) Names() []string {
	names := make([]string, len(t.commands))
	for i, c := range t.commands {
		names[i] = c.Name
	}
	return names
}
