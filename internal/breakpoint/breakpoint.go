// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package breakpoint implements software breakpoints: a word-sized
// peek/poke dance that plants the architectural trap opcode over the
// first byte of an instruction and restores it on disable.
package breakpoint

import "nativedbg/internal/addr"

// trapOpcode is the x86-64 single-byte software trap (INT3).
const trapOpcode = 0xcc

// Memory is the word-granularity access a breakpoint needs. The
// tracee must be stopped when these are called; that's enforced by
// the caller (the debugger engine), not here.
type Memory interface {
	ReadWord(a addr.Runtime) (uint64, error)
	WriteWord(a addr.Runtime, value uint64) error
}

// Breakpoint is a single software breakpoint at a runtime address.
// It is always in one of two states: disabled, or enabled with a
// valid shadow byte. Enable on an already-enabled breakpoint is a
// deliberate no-op — the type never lets a live trap opcode be
// mistaken for the instruction it replaced.
type Breakpoint struct {
	mem     Memory
	address addr.Runtime
	enabled bool
	shadow  byte // the original byte, valid only while enabled
}

// New creates a disabled breakpoint at address, backed by mem.
func New(mem Memory, address addr.Runtime) *Breakpoint {
	return &Breakpoint{mem: mem, address: address}
}

// Address returns the runtime address this breakpoint is planted at.
func (b *Breakpoint) Address() addr.Runtime { return b.address }

// Enabled reports whether the trap opcode is currently live in the
// tracee's memory.
func (b *Breakpoint) Enabled() bool { return b.enabled }

// Enable plants the trap opcode, saving the byte it displaces. Calling
// Enable on an already-enabled breakpoint does nothing: re-reading the
// tracee's memory at this point would capture the trap opcode itself
// as the "original" byte, corrupting the eventual Disable.
func (b *Breakpoint) Enable() error {
	if b.enabled {
		return nil
	}
	word, err := b.mem.ReadWord(b.address)
	if err != nil {
		return err
	}
	shadow := byte(word)
	updated := (word &^ 0xff) | trapOpcode
	if err := b.mem.WriteWord(b.address, updated); err != nil {
		return err
	}
	b.shadow = shadow
	b.enabled = true
	return nil
}

// Disable restores the displaced byte. Calling Disable on an already-
// disabled breakpoint does nothing.
func (b *Breakpoint) Disable() error {
	if !b.enabled {
		return nil
	}
	word, err := b.mem.ReadWord(b.address)
	if err != nil {
		return err
	}
	restored := (word &^ 0xff) | uint64(b.shadow)
	if err := b.mem.WriteWord(b.address, restored); err != nil {
		return err
	}
	b.enabled = false
	return nil
}

// Table is the debugger's set of active breakpoints, keyed by runtime
// address. The debugger owns every breakpoint in the table; the
// tracee's memory image is a shared resource coordinated only through
// it.
type Table struct {
	mem    Memory
	byAddr map[addr.Runtime]*entry
}

type entry struct {
	bp        *Breakpoint
	transient bool // installed by the stepping engine, cleaned up after one stop
}

// NewTable creates an empty breakpoint table backed by mem.
func NewTable(mem Memory) *Table {
	return &Table{mem: mem, byAddr: make(map[addr.Runtime]*entry)}
}

// Set installs (and enables) a permanent, user-visible breakpoint at
// address. Installing at an address that already has a breakpoint is
// a no-op and returns the existing breakpoint.
func (t *Table) Set(address addr.Runtime) (*Breakpoint, error) {
	return t.set(address, false)
}

// SetTransient installs a breakpoint used internally by the stepping
// engine (step-over, step-out); RemoveAllTransient clears every such
// breakpoint this call family installed.
func (t *Table) SetTransient(address addr.Runtime) (*Breakpoint, error) {
	return t.set(address, true)
}

func (t *Table) set(address addr.Runtime, transient bool) (*Breakpoint, error) {
	if e, ok := t.byAddr[address]; ok {
		return e.bp, nil
	}
	bp := New(t.mem, address)
	if err := bp.Enable(); err != nil {
		return nil, err
	}
	t.byAddr[address] = &entry{bp: bp, transient: transient}
	return bp, nil
}

// At returns the breakpoint installed at address, if any.
func (t *Table) At(address addr.Runtime) (*Breakpoint, bool) {
	e, ok := t.byAddr[address]
	if !ok {
		return nil, false
	}
	return e.bp, true
}

// Remove disables and deletes the breakpoint at address.
func (t *Table) Remove(address addr.Runtime) error {
	e, ok := t.byAddr[address]
	if !ok {
		return nil
	}
	if err := e.bp.Disable(); err != nil {
		return err
	}
	delete(t.byAddr, address)
	return nil
}

// RemoveAllTransient disables and removes every breakpoint installed
// via SetTransient, leaving user breakpoints untouched. It is called
// once a stepping operation's continue has stopped, regardless of
// which of the installed transients (if any) was the one that fired —
// "the first wins and the rest are removed in the cleanup pass".
func (t *Table) RemoveAllTransient() error {
	for address, e := range t.byAddr {
		if !e.transient {
			continue
		}
		if err := e.bp.Disable(); err != nil {
			return err
		}
		delete(t.byAddr, address)
	}
	return nil
}

// All returns every installed breakpoint address, in no particular
// order.
func (t *Table) All() []addr.Runtime {
	addrs := make([]addr.Runtime, 0, len(t.byAddr))
	for a := range t.byAddr {
		addrs = append(addrs, a)
	}
	return addrs
}
