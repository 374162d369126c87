// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dwarfinfo resolves machine addresses to source locations,
// functions, and symbols using an executable's debug information. It
// treats the standard library's debug/elf and debug/dwarf readers as
// opaque collaborators: it only ever calls into them, never
// reimplements their parsing.
package dwarfinfo

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"

	"nativedbg/internal/addr"
)

// ErrNotFound is returned by the lookup operations below when no
// entry matches the query.
var ErrNotFound = errors.New("dwarfinfo: not found")

// Info is a read-only view over a single executable's ELF and DWARF
// data, built once at startup.
type Info struct {
	elf   *elf.File
	dwarf *dwarf.Data
	// Dynamic is true for PIE/shared-object executables, which need a
	// nonzero load address recorded at the first stop.
	Dynamic bool
}

// Load parses the ELF and DWARF data for the executable at path.
// Failure here is fatal per spec.md §7: the caller should exit.
func Load(path string) (*Info, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dwarfinfo: opening %s: %w", path, err)
	}
	d, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("dwarfinfo: reading DWARF from %s: %w", path, err)
	}
	return &Info{
		elf:     f,
		dwarf:   d,
		Dynamic: f.Type == elf.ET_DYN,
	}, nil
}

// Function describes a subprogram entry: name and pc range.
type Function struct {
	Name        string
	LowPC       addr.Debug
	HighPC      addr.Debug
	entryOffset dwarf.Offset
}

// LineEntry is a row of a compilation unit's line table.
type LineEntry struct {
	Address addr.Debug
	File    string
	Line    int
	IsStmt  bool
}

// SymbolKind classifies a symbol-table entry.
type SymbolKind int

const (
	SymNoType SymbolKind = iota
	SymSection
	SymFunction
	SymFile
	SymObject
)

// Symbol is a single symbol-table entry.
type Symbol struct {
	Name  string
	Kind  SymbolKind
	Value addr.Debug
}

func rangesContain(ranges [][2]uint64, pc uint64) bool {
	for _, r := range ranges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

// compileUnitContaining returns the root entry of the compilation
// unit whose pc range contains pc.
func (in *Info) compileUnitContaining(pc uint64) (*dwarf.Entry, error) {
	r := in.dwarf.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		ranges, err := in.dwarf.Ranges(entry)
		if err == nil && rangesContain(ranges, pc) {
			return entry, nil
		}
		r.SkipChildren()
	}
	return nil, ErrNotFound
}

// FunctionAt scans compilation units for the one whose pc range
// contains pc, then scans its children for a subprogram whose own pc
// range contains pc. Returns the first match.
func (in *Info) FunctionAt(pc addr.Debug) (Function, error) {
	r := in.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return Function{}, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}
		cuRanges, err := in.dwarf.Ranges(cu)
		if err != nil || !rangesContain(cuRanges, uint64(pc)) {
			r.SkipChildren()
			continue
		}
		for {
			child, err := r.Next()
			if err != nil {
				return Function{}, err
			}
			if child == nil || child.Tag == 0 {
				break
			}
			if child.Tag != dwarf.TagSubprogram {
				r.SkipChildren()
				continue
			}
			ranges, err := in.dwarf.Ranges(child)
			if err != nil || len(ranges) == 0 || !rangesContain(ranges, uint64(pc)) {
				r.SkipChildren()
				continue
			}
			name, _ := child.Val(dwarf.AttrName).(string)
			return Function{
				Name:        name,
				LowPC:       addr.Debug(ranges[0][0]),
				HighPC:      addr.Debug(ranges[len(ranges)-1][1]),
				entryOffset: child.Offset,
			}, nil
		}
	}
	return Function{}, fmt.Errorf("%w: function at %s", ErrNotFound, pc)
}

// FunctionNamed returns the first subprogram entry anywhere in the
// debug info with the given name.
func (in *Info) FunctionNamed(name string) (Function, error) {
	r := in.dwarf.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return Function{}, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		n, _ := entry.Val(dwarf.AttrName).(string)
		if n != name {
			continue
		}
		ranges, err := in.dwarf.Ranges(entry)
		if err != nil || len(ranges) == 0 {
			continue
		}
		return Function{
			Name:        name,
			LowPC:       addr.Debug(ranges[0][0]),
			HighPC:      addr.Debug(ranges[len(ranges)-1][1]),
			entryOffset: entry.Offset,
		}, nil
	}
	return Function{}, fmt.Errorf("%w: function named %q", ErrNotFound, name)
}

// FunctionsNamed returns every subprogram entry with the given name,
// in section-scan order, to support instrumenting overloaded or
// duplicate-named functions all at once.
func (in *Info) FunctionsNamed(name string) ([]Function, error) {
	var out []Function
	r := in.dwarf.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		n, _ := entry.Val(dwarf.AttrName).(string)
		if n != name {
			continue
		}
		ranges, err := in.dwarf.Ranges(entry)
		if err != nil || len(ranges) == 0 {
			continue
		}
		out = append(out, Function{
			Name:        name,
			LowPC:       addr.Debug(ranges[0][0]),
			HighPC:      addr.Debug(ranges[len(ranges)-1][1]),
			entryOffset: entry.Offset,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: function named %q", ErrNotFound, name)
	}
	return out, nil
}

// LineEntryAt finds the enclosing compilation unit's line table and
// returns the row that covers pc — the row with the greatest address
// not exceeding pc. Returns ErrNotFound at end-of-table.
func (in *Info) LineEntryAt(pc addr.Debug) (LineEntry, error) {
	cu, err := in.compileUnitContaining(uint64(pc))
	if err != nil {
		return LineEntry{}, err
	}
	lr, err := in.dwarf.LineReader(cu)
	if err != nil {
		return LineEntry{}, err
	}
	var le dwarf.LineEntry
	if err := lr.SeekPC(uint64(pc), &le); err != nil {
		return LineEntry{}, fmt.Errorf("%w: line entry at %s: %v", ErrNotFound, pc, err)
	}
	file := ""
	if le.File != nil {
		file = le.File.Name
	}
	return LineEntry{Address: addr.Debug(le.Address), File: file, Line: le.Line, IsStmt: le.IsStmt}, nil
}

// LineEntriesInFunction returns every statement-marked line-table
// entry covering [fn.LowPC, fn.HighPC), in address order, for the
// step-over engine.
func (in *Info) LineEntriesInFunction(fn Function) ([]LineEntry, error) {
	cu, err := in.compileUnitContaining(uint64(fn.LowPC))
	if err != nil {
		return nil, err
	}
	lr, err := in.dwarf.LineReader(cu)
	if err != nil {
		return nil, err
	}
	var entries []LineEntry
	var le dwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			break
		}
		if le.Address < uint64(fn.LowPC) || le.Address >= uint64(fn.HighPC) {
			continue
		}
		if !le.IsStmt {
			continue
		}
		file := ""
		if le.File != nil {
			file = le.File.Name
		}
		entries = append(entries, LineEntry{Address: addr.Debug(le.Address), File: file, Line: le.Line, IsStmt: le.IsStmt})
	}
	return entries, nil
}

// LineEntryInFile scans every compilation unit's line table for the
// first statement-marked row whose file name ends with fileSuffix and
// whose line number equals line. fileSuffix need not be the whole path: callers
// typically pass just a base name, matching how source is named on
// the command line.
func (in *Info) LineEntryInFile(fileSuffix string, line int) (LineEntry, error) {
	r := in.dwarf.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return LineEntry{}, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}
		r.SkipChildren()
		lr, err := in.dwarf.LineReader(cu)
		if err != nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			if err := lr.Next(&le); err != nil {
				break
			}
			if le.Line != line || le.File == nil {
				continue
			}
			if !le.IsStmt {
				continue
			}
			if !hasSuffix(le.File.Name, fileSuffix) {
				continue
			}
			return LineEntry{Address: addr.Debug(le.Address), File: le.File.Name, Line: le.Line, IsStmt: le.IsStmt}, nil
		}
	}
	return LineEntry{}, fmt.Errorf("%w: line %d in file ...%s", ErrNotFound, line, fileSuffix)
}

func hasSuffix(s, suffix string) bool {
	if len(suffix) > len(s) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

// SymbolsNamed scans the symbol table and dynamic symbol table for
// entries whose name matches exactly, in section-scan order with no
// deduplication.
func (in *Info) SymbolsNamed(name string) ([]Symbol, error) {
	var out []Symbol
	for _, src := range []func() ([]elf.Symbol, error){in.elf.Symbols, in.elf.DynamicSymbols} {
		syms, err := src()
		if err != nil {
			continue // section absent; not fatal
		}
		for _, s := range syms {
			if s.Name != name {
				continue
			}
			out = append(out, Symbol{Name: s.Name, Kind: symbolKind(s), Value: addr.Debug(s.Value)})
		}
	}
	return out, nil
}

func symbolKind(s elf.Symbol) SymbolKind {
	switch elf.ST_TYPE(s.Info) {
	case elf.STT_FUNC:
		return SymFunction
	case elf.STT_SECTION:
		return SymSection
	case elf.STT_FILE:
		return SymFile
	case elf.STT_OBJECT:
		return SymObject
	default:
		return SymNoType
	}
}

// SubprogramVariables returns the location description bytes for
// every formal-parameter and variable child of fn, with the variable
// name attached.
func (in *Info) SubprogramVariables(fn Function) ([]NamedLocation, error) {
	r := in.dwarf.Reader()
	r.Seek(fn.entryOffset)
	if _, err := r.Next(); err != nil { // re-read the subprogram entry itself
		return nil, err
	}
	var out []NamedLocation
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.Tag == 0 {
			break
		}
		if entry.Tag != dwarf.TagVariable && entry.Tag != dwarf.TagFormalParameter {
			continue
		}
		name, _ := entry.Val(dwarf.AttrName).(string)
		loc, ok := entry.Val(dwarf.AttrLocation).([]byte)
		if !ok {
			continue
		}
		out = append(out, NamedLocation{Name: name, Expr: loc})
	}
	return out, nil
}

// NamedLocation pairs a variable's name with its raw location
// expression, ready for Evaluate.
type NamedLocation struct {
	Name string
	Expr []byte
}
