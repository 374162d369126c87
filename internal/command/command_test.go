// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package command

import "testing"

func testTable(calls *[]string) *Table {
	record := func(name string) Handler {
		return func(args []string) error {
			*calls = append(*calls, name)
			return nil
		}
	}
	return NewTable([]Command{
		{Name: "continue", MinArgs: 0, Run: record("continue")},
		{Name: "break", MinArgs: 1, Run: record("break")},
		{Name: "backtrace", MinArgs: 0, Run: record("backtrace")},
	})
}

func TestDispatchExactName(t *testing.T) {
	var calls []string
	tbl := testTable(&calls)
	if err := tbl.Dispatch("continue"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(calls) != 1 || calls[0] != "continue" {
		t.Fatalf("got %v, want [continue]", calls)
	}
}

func TestDispatchUnambiguousPrefix(t *testing.T) {
	var calls []string
	tbl := testTable(&calls)
	if err := tbl.Dispatch("bre 0x1000"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(calls) != 1 || calls[0] != "break" {
		t.Fatalf("got %v, want [break]", calls)
	}
}

// TestDispatchAmbiguousPrefixPicksTableOrder pins down spec.md §8
// property 7: a prefix matching more than one command name resolves
// to whichever of them comes first in the table, not an error. "b"
// here matches both "break" and "backtrace"; "break" is declared
// first in testTable.
func TestDispatchAmbiguousPrefixPicksTableOrder(t *testing.T) {
	var calls []string
	tbl := testTable(&calls)
	if err := tbl.Dispatch("b 0x1000"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(calls) != 1 || calls[0] != "break" {
		t.Fatalf("got %v, want [break] (the first table entry matching the prefix)", calls)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	var calls []string
	tbl := testTable(&calls)
	err := tbl.Dispatch("frobnicate")
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if got := err.Error(); got != "No command found!!" {
		t.Fatalf("error = %q, want %q", got, "No command found!!")
	}
}

func TestDispatchEmptyLineIsNoop(t *testing.T) {
	var calls []string
	tbl := testTable(&calls)
	if err := tbl.Dispatch("   "); err != nil {
		t.Fatalf("Dispatch on blank line: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("blank line ran a handler: %v", calls)
	}
}

func TestDispatchMissingRequiredArgs(t *testing.T) {
	var calls []string
	tbl := testTable(&calls)
	if err := tbl.Dispatch("break"); err == nil {
		t.Fatal("expected an error for a missing required argument")
	}
	if len(calls) != 0 {
		t.Fatalf("handler ran despite missing argument: %v", calls)
	}
}
