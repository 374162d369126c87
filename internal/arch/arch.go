// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific register definitions.
package arch

import (
	"fmt"

	"nativedbg/internal/tracer"
)

// Register is a closed enumeration of the x86-64 general-purpose and
// segment registers exposed through PTRACE_GETREGS/PTRACE_SETREGS.
type Register int

const (
	R15 Register = iota
	R14
	R13
	R12
	Rbp
	Rbx
	R11
	R10
	R9
	R8
	Rax
	Rcx
	Rdx
	Rsi
	Rdi
	OrigRax
	Rip
	Cs
	Eflags
	Rsp
	Ss
	FsBase
	GsBase
	Ds
	Es
	Fs
	Gs
)

// noDwarf marks a register that has no DWARF register number, e.g.
// the program counter in the debug-info register mapping.
const noDwarf = -1

// descriptor is one row of the static register table. Its order
// matches the kernel-defined layout of unix.PtraceRegs, so that bulk
// fetch/store can be indexed positionally.
type descriptor struct {
	reg      Register
	dwarfNum int
	name     string
}

// table is the static, ordered register table. Names are unique;
// DWARF numbers are unique where present (noDwarf, -1, marks
// "absent").
var table = [...]descriptor{
	{R15, 15, "r15"},
	{R14, 14, "r14"},
	{R13, 13, "r13"},
	{R12, 12, "r12"},
	{Rbp, 6, "rbp"},
	{Rbx, 3, "rbx"},
	{R11, 11, "r11"},
	{R10, 10, "r10"},
	{R9, 9, "r9"},
	{R8, 8, "r8"},
	{Rax, 0, "rax"},
	{Rcx, 2, "rcx"},
	{Rdx, 1, "rdx"},
	{Rsi, 4, "rsi"},
	{Rdi, 5, "rdi"},
	{OrigRax, noDwarf, "orig_rax"},
	{Rip, noDwarf, "rip"},
	{Cs, 51, "cs"},
	{Eflags, 49, "eflags"},
	{Rsp, 7, "rsp"},
	{Ss, 52, "ss"},
	{FsBase, 58, "fs_base"},
	{GsBase, 59, "gs_base"},
	{Ds, 53, "ds"},
	{Es, 50, "es"},
	{Fs, 54, "fs"},
	{Gs, 55, "gs"},
}

// ByName looks up a register by its human-readable name.
func ByName(name string) (Register, bool) {
	for _, d := range table {
		if d.name == name {
			return d.reg, true
		}
	}
	return 0, false
}

// Name returns the human-readable name of r.
func Name(r Register) string {
	for _, d := range table {
		if d.reg == r {
			return d.name
		}
	}
	return ""
}

// byDwarf looks up the register with the given DWARF register number.
func byDwarf(num uint32) (Register, bool) {
	for _, d := range table {
		if d.dwarfNum >= 0 && uint32(d.dwarfNum) == num {
			return d.reg, true
		}
	}
	return 0, false
}

// ByDwarfNum is the exported form of byDwarf, for callers outside this
// package that resolve a variable's register location (see
// dwarfinfo.Location).
func ByDwarfNum(num uint32) (Register, bool) {
	return byDwarf(num)
}

// All returns the register table in its static order, for commands
// like "register dump" that enumerate every register.
func All() []Register {
	regs := make([]Register, len(table))
	for i, d := range table {
		regs[i] = d.reg
	}
	return regs
}

// Accessor is a typed view over a tracee's register bank. Every
// operation is a fresh kernel round-trip: there is no caching between
// calls, so values are always current after any tracee stop.
type Accessor struct {
	t *tracer.Tracer
}

// NewAccessor builds a register accessor for t.
func NewAccessor(t *tracer.Tracer) *Accessor {
	return &Accessor{t: t}
}

// Read returns the current value of r.
func (a *Accessor) Read(r Register) (uint64, error) {
	regs, err := a.t.GetRegs()
	if err != nil {
		return 0, err
	}
	return field(&regs, r), nil
}

// Write stores value into register r.
func (a *Accessor) Write(r Register, value uint64) error {
	regs, err := a.t.GetRegs()
	if err != nil {
		return err
	}
	*fieldPtr(&regs, r) = value
	return a.t.SetRegs(regs)
}

// ReadDwarf returns the current value of the register with the given
// DWARF register number.
func (a *Accessor) ReadDwarf(num uint32) (uint64, error) {
	r, ok := byDwarf(num)
	if !ok {
		return 0, fmt.Errorf("arch: no register for DWARF number %d", num)
	}
	return a.Read(r)
}

// PC returns the current program counter (rip).
func (a *Accessor) PC() (uint64, error) {
	return a.Read(Rip)
}

// SetPC sets the program counter.
func (a *Accessor) SetPC(value uint64) error {
	return a.Write(Rip, value)
}
