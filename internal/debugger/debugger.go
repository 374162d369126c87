// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugger is the supervisor that ties the process tracer,
// the breakpoint table, address translation, and debug-info
// resolution into the stepping and backtrace operations a front end
// calls directly.
package debugger

import (
	"encoding/binary"
	"fmt"

	"nativedbg/internal/addr"
	"nativedbg/internal/arch"
	"nativedbg/internal/breakpoint"
	"nativedbg/internal/dwarfinfo"
	"nativedbg/internal/tracer"
)

// StopReason describes why control returned to the front end after a
// Continue or a step.
type StopReason int

const (
	StopBreakpoint StopReason = iota
	StopStep
	StopSignal
	StopExited
)

// Stop is the result of any operation that resumes the tracee.
type Stop struct {
	Reason   StopReason
	ExitCode int
}

// memoryAdapter satisfies breakpoint.Memory atop a Tracer's byte-level
// peek/poke, and is also used directly for the "read/write memory"
// commands.
type memoryAdapter struct {
	t *tracer.Tracer
}

func (m memoryAdapter) ReadWord(a addr.Runtime) (uint64, error) {
	var buf [8]byte
	if err := m.t.PeekText(uintptr(a), buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m memoryAdapter) WriteWord(a addr.Runtime, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return m.t.PokeText(uintptr(a), buf[:])
}

// Debugger owns one tracee for its entire lifetime: one tracer, one
// breakpoint table, one address translator, one debug-info view.
type Debugger struct {
	t        *tracer.Tracer
	mem      memoryAdapter
	regs     *arch.Accessor
	bps      *breakpoint.Table
	tr       addr.Translator
	info     *dwarfinfo.Info
	exited   bool
	exitCode int
}

// Launch starts path under ptrace supervision, stopped at its first
// instruction, with debug info loaded and the load address recorded
// for PIE/shared-object executables.
func Launch(path string, args []string) (*Debugger, error) {
	info, err := dwarfinfo.Load(path)
	if err != nil {
		return nil, err
	}
	t, err := tracer.New(path, args)
	if err != nil {
		return nil, err
	}
	d := &Debugger{
		t:    t,
		mem:  memoryAdapter{t},
		regs: arch.NewAccessor(t),
		info: info,
	}
	d.bps = breakpoint.NewTable(d.mem)
	if err := d.tr.Initialize(t.Pid(), info.Dynamic); err != nil {
		return nil, fmt.Errorf("debugger: %w", err)
	}
	return d, nil
}

// Pid returns the tracee's process id.
func (d *Debugger) Pid() int { return d.t.Pid() }

// Registers exposes the register accessor for the command layer's
// register read/write operations.
func (d *Debugger) Registers() *arch.Accessor { return d.regs }

// Memory exposes word-granularity access for the command layer's
// memory read/write operations.
func (d *Debugger) Memory() interface {
	ReadWord(addr.Runtime) (uint64, error)
	WriteWord(addr.Runtime, uint64) error
} {
	return d.mem
}

// Info exposes the debug-info resolver for the command layer's
// symbol and source-location operations.
func (d *Debugger) Info() *dwarfinfo.Info { return d.info }

// Translator exposes the load-address translator.
func (d *Debugger) Translator() *addr.Translator { return &d.tr }

// PC returns the current program counter in debug-info space.
func (d *Debugger) PC() (addr.Debug, error) {
	rt, err := d.regs.PC()
	if err != nil {
		return 0, err
	}
	return d.tr.ToDebug(addr.Runtime(rt)), nil
}

// SetBreakpointAtAddress installs a user breakpoint at a debug-info
// address, translating it to runtime space first.
func (d *Debugger) SetBreakpointAtAddress(a addr.Debug) (addr.Runtime, error) {
	rt := d.tr.ToRuntime(a)
	if _, err := d.bps.Set(rt); err != nil {
		return 0, err
	}
	return rt, nil
}

// SetBreakpointAtFunction resolves every subprogram named name —
// overloaded or duplicate-named functions across compilation units
// all count — skips each one's prologue by using its second
// statement-marked line-table row when one exists (the first row is
// the opening brace), and installs a breakpoint at each.
func (d *Debugger) SetBreakpointAtFunction(name string) ([]addr.Runtime, error) {
	fns, err := d.info.FunctionsNamed(name)
	if err != nil {
		return nil, err
	}
	out := make([]addr.Runtime, 0, len(fns))
	for _, fn := range fns {
		rt, err := d.setBreakpointAtFunctionEntry(fn)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

func (d *Debugger) setBreakpointAtFunctionEntry(fn dwarfinfo.Function) (addr.Runtime, error) {
	entries, err := d.info.LineEntriesInFunction(fn)
	if err != nil || len(entries) == 0 {
		return d.SetBreakpointAtAddress(fn.LowPC)
	}
	target := entries[0].Address
	if len(entries) > 1 {
		target = entries[1].Address
	}
	return d.SetBreakpointAtAddress(target)
}

// SetBreakpointAtSourceLine finds the line-table row in any
// compilation unit whose file name ends with fileSuffix and whose
// line number equals line, and installs a breakpoint there.
func (d *Debugger) SetBreakpointAtSourceLine(fileSuffix string, line int) (addr.Runtime, error) {
	entry, err := d.info.LineEntryInFile(fileSuffix, line)
	if err != nil {
		return 0, err
	}
	return d.SetBreakpointAtAddress(entry.Address)
}

// RemoveBreakpoint deletes the user breakpoint at a runtime address.
func (d *Debugger) RemoveBreakpoint(a addr.Runtime) error {
	return d.bps.Remove(a)
}

// Breakpoints lists every installed user breakpoint's runtime
// address.
func (d *Debugger) Breakpoints() []addr.Runtime {
	return d.bps.All()
}

// wait blocks until the tracee stops or exits. On a breakpoint trap it
// rewinds the PC past the trap opcode just executed, leaving the instruction
// stream exactly as it would have read had the trap not been there.
// The breakpoint itself is left armed; stepping off it is a separate,
// explicit call (stepOffBreakpoint), never folded into wait.
func (d *Debugger) wait() (Stop, error) {
	res, err := d.t.Wait()
	if err != nil {
		return Stop{}, err
	}
	switch res.Cause {
	case tracer.StopExited:
		d.exited = true
		d.exitCode = res.ExitCode
		return Stop{Reason: StopExited, ExitCode: res.ExitCode}, nil
	case tracer.StopBreakpoint:
		pc, err := d.regs.PC()
		if err != nil {
			return Stop{}, err
		}
		if err := d.regs.SetPC(pc - 1); err != nil {
			return Stop{}, err
		}
		return Stop{Reason: StopBreakpoint}, nil
	case tracer.StopSingleStep, tracer.StopUnknownTrap:
		return Stop{Reason: StopStep}, nil
	default:
		return Stop{Reason: StopSignal}, nil
	}
}

// stepOffBreakpoint disables any breakpoint planted at the current
// PC, single-steps past it, and re-enables it — the only sequence
// that lets execution cross an armed address without either losing
// the breakpoint or tripping it again immediately.
func (d *Debugger) stepOffBreakpoint() error {
	pcRuntime, err := d.regs.PC()
	if err != nil {
		return err
	}
	bp, ok := d.bps.At(addr.Runtime(pcRuntime))
	if !ok || !bp.Enabled() {
		return nil
	}
	if err := bp.Disable(); err != nil {
		return err
	}
	if err := d.t.SingleStep(); err != nil {
		return err
	}
	if _, err := d.t.Wait(); err != nil {
		return err
	}
	return bp.Enable()
}

// Continue resumes the tracee, stepping off a breakpoint at the
// current PC first if necessary, and runs until the next trap,
// signal, or exit.
func (d *Debugger) Continue() (Stop, error) {
	if err := d.stepOffBreakpoint(); err != nil {
		return Stop{}, err
	}
	if d.exited {
		return Stop{Reason: StopExited, ExitCode: d.exitCode}, nil
	}
	if err := d.t.Cont(0); err != nil {
		return Stop{}, err
	}
	return d.wait()
}

// StepInstruction executes exactly one machine instruction.
func (d *Debugger) StepInstruction() (Stop, error) {
	pcRuntime, err := d.regs.PC()
	if err != nil {
		return Stop{}, err
	}
	if bp, ok := d.bps.At(addr.Runtime(pcRuntime)); ok && bp.Enabled() {
		if err := d.stepOffBreakpoint(); err != nil {
			return Stop{}, err
		}
		return Stop{Reason: StopStep}, nil
	}
	if err := d.t.SingleStep(); err != nil {
		return Stop{}, err
	}
	return d.wait()
}

// StepIn single-steps until the source line changes, entering any
// call along the way.
func (d *Debugger) StepIn() (Stop, error) {
	startLine, startFile, err := d.currentLine()
	if err != nil {
		return Stop{}, err
	}
	for {
		stop, err := d.StepInstruction()
		if err != nil || stop.Reason != StopStep {
			return stop, err
		}
		line, file, err := d.currentLine()
		if err != nil {
			continue // mid-prologue or in a function without line info
		}
		if line != startLine || file != startFile {
			return stop, nil
		}
	}
}

func (d *Debugger) currentLine() (int, string, error) {
	pc, err := d.PC()
	if err != nil {
		return 0, "", err
	}
	le, err := d.info.LineEntryAt(pc)
	if err != nil {
		return 0, "", err
	}
	return le.Line, le.File, nil
}

// StepOver runs the current function to its next source line without
// descending into calls: transient breakpoints are planted at every
// other statement in the function plus the return address, so
// whichever is hit first ends the step; the rest are cleared
// afterward.
func (d *Debugger) StepOver() (Stop, error) {
	pc, err := d.PC()
	if err != nil {
		return Stop{}, err
	}
	fn, err := d.info.FunctionAt(pc)
	if err != nil {
		return d.StepIn() // no debug info for this frame; fall back
	}
	entries, err := d.info.LineEntriesInFunction(fn)
	if err != nil {
		return Stop{}, err
	}
	installed := make([]addr.Runtime, 0, len(entries)+1)
	for _, le := range entries {
		if le.Address == pc {
			continue
		}
		rt := d.tr.ToRuntime(le.Address)
		if _, err := d.bps.SetTransient(rt); err != nil {
			return Stop{}, err
		}
		installed = append(installed, rt)
	}
	if retAddr, err := d.returnAddress(); err == nil {
		if _, err := d.bps.SetTransient(retAddr); err == nil {
			installed = append(installed, retAddr)
		}
	}
	defer d.bps.RemoveAllTransient()

	stop, err := d.Continue()
	if err != nil {
		return Stop{}, err
	}
	return stop, nil
}

// StepOut runs until the current function returns, by planting a
// single transient breakpoint at the return address read from the
// frame-pointer chain.
func (d *Debugger) StepOut() (Stop, error) {
	retAddr, err := d.returnAddress()
	if err != nil {
		return Stop{}, err
	}
	if _, err := d.bps.SetTransient(retAddr); err != nil {
		return Stop{}, err
	}
	defer d.bps.RemoveAllTransient()
	return d.Continue()
}

// returnAddress reads the saved return address from the current
// frame, assuming a standard frame-pointer prologue: it is the word
// at rbp+8.
func (d *Debugger) returnAddress() (addr.Runtime, error) {
	rbp, err := d.regs.Read(arch.Rbp)
	if err != nil {
		return 0, err
	}
	word, err := d.mem.ReadWord(addr.Runtime(rbp + 8))
	if err != nil {
		return 0, err
	}
	return addr.Runtime(word), nil
}

// Frame is one level of a backtrace.
type Frame struct {
	Index    int
	PC       addr.Debug
	Function string
}

// Backtrace walks the frame-pointer chain from the current frame
// until it reaches a frame whose function is named "main", or the
// chain runs out.
func (d *Debugger) Backtrace() ([]Frame, error) {
	pc, err := d.PC()
	if err != nil {
		return nil, err
	}
	rbpRuntime, err := d.regs.Read(arch.Rbp)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	fp := rbpRuntime
	for i := 0; i < 1024; i++ {
		name := "??"
		if fn, err := d.info.FunctionAt(pc); err == nil {
			name = fn.Name
		}
		frames = append(frames, Frame{Index: i, PC: pc, Function: name})
		if name == "main" || fp == 0 {
			break
		}
		retWord, err := d.mem.ReadWord(addr.Runtime(fp + 8))
		if err != nil {
			break
		}
		savedFP, err := d.mem.ReadWord(addr.Runtime(fp))
		if err != nil {
			break
		}
		pc = d.tr.ToDebug(addr.Runtime(retWord))
		fp = uint64(savedFP)
	}
	return frames, nil
}

// frameContext adapts a Debugger's live register state to
// dwarfinfo.EvalContext for the variable-printing command.
type frameContext struct {
	d *Debugger
}

func (c frameContext) FrameBase() (addr.Runtime, error) {
	rbp, err := c.d.regs.Read(arch.Rbp)
	if err != nil {
		return 0, err
	}
	return addr.Runtime(rbp), nil
}

func (c frameContext) RegisterByDwarf(num uint32) (uint64, error) {
	return c.d.regs.ReadDwarf(num)
}

func (c frameContext) ToRuntime(a addr.Debug) addr.Runtime {
	return c.d.tr.ToRuntime(a)
}

// Variable is a resolved local or parameter, ready to print.
type Variable struct {
	Name     string
	Location dwarfinfo.Location
	Value    uint64 // meaningful only when Location.Kind != LocationUnhandled
}

// Variables resolves every local and parameter of the function
// enclosing the current PC against the live frame.
func (d *Debugger) Variables() ([]Variable, error) {
	pc, err := d.PC()
	if err != nil {
		return nil, err
	}
	fn, err := d.info.FunctionAt(pc)
	if err != nil {
		return nil, err
	}
	named, err := d.info.SubprogramVariables(fn)
	if err != nil {
		return nil, err
	}
	ctx := frameContext{d}
	out := make([]Variable, 0, len(named))
	for _, nl := range named {
		loc, err := dwarfinfo.Evaluate(nl.Expr, ctx)
		if err != nil {
			return nil, err
		}
		v := Variable{Name: nl.Name, Location: loc}
		switch loc.Kind {
		case dwarfinfo.LocationAddress:
			if word, err := d.mem.ReadWord(loc.Address); err == nil {
				v.Value = word
			}
		case dwarfinfo.LocationRegister:
			if reg, ok := arch.ByDwarfNum(loc.Register); ok {
				if val, err := d.regs.Read(reg); err == nil {
					v.Value = val
				}
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// Exited reports whether the tracee has terminated.
func (d *Debugger) Exited() (bool, int) { return d.exited, d.exitCode }
