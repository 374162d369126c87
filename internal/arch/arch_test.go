// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arch

import "testing"

func TestRegisterNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range table {
		if seen[d.name] {
			t.Fatalf("duplicate register name %q", d.name)
		}
		seen[d.name] = true
	}
}

func TestDwarfNumbersUniqueWherePresent(t *testing.T) {
	seen := map[int]string{}
	for _, d := range table {
		if d.dwarfNum < 0 {
			continue
		}
		if other, ok := seen[d.dwarfNum]; ok {
			t.Fatalf("DWARF register %d used by both %q and %q", d.dwarfNum, other, d.name)
		}
		seen[d.dwarfNum] = d.name
	}
}

func TestByNameRoundTrip(t *testing.T) {
	for _, d := range table {
		r, ok := ByName(d.name)
		if !ok {
			t.Fatalf("ByName(%q) not found", d.name)
		}
		if r != d.reg {
			t.Fatalf("ByName(%q) = %v, want %v", d.name, r, d.reg)
		}
		if Name(r) != d.name {
			t.Fatalf("Name(%v) = %q, want %q", r, Name(r), d.name)
		}
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, ok := ByName("not-a-register"); ok {
		t.Fatal("ByName found a register for a bogus name")
	}
}

func TestByDwarfMissingIsAbsent(t *testing.T) {
	// rip and orig_rax are documented as having no DWARF register
	// number; the program counter's debug-info mapping is handled
	// separately (see addr.Translator / dwarfinfo location evaluator).
	if _, ok := byDwarf(16); ok {
		t.Fatalf("byDwarf(16) unexpectedly resolved; rip has no DWARF number in this table")
	}
}

func TestAllReturnsWholeTable(t *testing.T) {
	all := All()
	if len(all) != len(table) {
		t.Fatalf("All() returned %d registers, want %d", len(all), len(table))
	}
}
