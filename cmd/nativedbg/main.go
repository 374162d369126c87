// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nativedbg is an interactive source-level debugger for
// native Linux executables: it launches a target under ptrace, then
// accepts commands on stdin to set breakpoints, step, and inspect
// registers, memory, and variables.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"nativedbg/internal/addr"
	"nativedbg/internal/arch"
	"nativedbg/internal/command"
	"nativedbg/internal/debugger"
	"nativedbg/internal/dwarfinfo"
)

func main() {
	root := &cobra.Command{
		Use:   "nativedbg <executable> [-- args...]",
		Short: "An interactive source-level debugger for native Linux executables",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	root.SilenceUsage = true
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	path := args[0]
	targetArgs := args[1:]

	d, err := debugger.Launch(path, targetArgs)
	if err != nil {
		return fmt.Errorf("launching %s: %w", path, err)
	}
	fmt.Printf("nativedbg started process %d\n", d.Pid())

	rl, err := readline.New("nativedbg> ")
	if err != nil {
		return fmt.Errorf("starting input: %w", err)
	}
	defer rl.Close()

	tbl := newCommandTable(d)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tbl.Dispatch(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if exited, code := d.Exited(); exited {
			fmt.Printf("process exited with status %d\n", code)
			return nil
		}
	}
}

func newCommandTable(d *debugger.Debugger) *command.Table {
	return command.NewTable([]command.Command{
		{Name: "continue", MinArgs: 0, Help: "resume the tracee", Run: func(args []string) error {
			return reportStop(d, d.Continue())
		}},
		{Name: "break", MinArgs: 1, Help: "break <addr|function|file:line>", Run: func(args []string) error {
			return cmdBreak(d, args[0])
		}},
		{Name: "stepinst", MinArgs: 0, Help: "execute one machine instruction", Run: func(args []string) error {
			return reportStop(d, d.StepInstruction())
		}},
		{Name: "step", MinArgs: 0, Help: "step into the next source line", Run: func(args []string) error {
			return reportStop(d, d.StepIn())
		}},
		{Name: "next", MinArgs: 0, Help: "step over the next source line", Run: func(args []string) error {
			return reportStop(d, d.StepOver())
		}},
		{Name: "finish", MinArgs: 0, Help: "run until the current function returns", Run: func(args []string) error {
			return reportStop(d, d.StepOut())
		}},
		{Name: "register", MinArgs: 1, Help: "register dump | register read <name> | register write <name> <value>", Run: func(args []string) error {
			return cmdRegister(d, args)
		}},
		{Name: "memory", MinArgs: 2, Help: "memory read <addr> | memory write <addr> <value>", Run: func(args []string) error {
			return cmdMemory(d, args)
		}},
		{Name: "symbol", MinArgs: 1, Help: "symbol <name>", Run: func(args []string) error {
			return cmdSymbol(d, args[0])
		}},
		{Name: "backtrace", MinArgs: 0, Help: "print the call stack", Run: func(args []string) error {
			return cmdBacktrace(d)
		}},
		{Name: "variables", MinArgs: 0, Help: "print locals and parameters in the current frame", Run: func(args []string) error {
			return cmdVariables(d)
		}},
		{Name: "quit", MinArgs: 0, Help: "exit nativedbg", Run: func(args []string) error {
			os.Exit(0)
			return nil
		}},
	})
}

func reportStop(d *debugger.Debugger, stop debugger.Stop, err error) error {
	if err != nil {
		return err
	}
	switch stop.Reason {
	case debugger.StopExited:
		fmt.Printf("process exited with status %d\n", stop.ExitCode)
	case debugger.StopBreakpoint, debugger.StopStep:
		pc, err := d.PC()
		if err != nil {
			return err
		}
		le, err := d.Info().LineEntryAt(pc)
		if err != nil {
			fmt.Printf("stopped at %s\n", pc)
			break
		}
		fmt.Printf("stopped at %s:%d (%s)\n", le.File, le.Line, pc)
		printSource(le.File, le.Line, 2)
	case debugger.StopSignal:
		fmt.Println("stopped on signal")
	}
	return nil
}

// printSource prints the source window [max(1, line-ctx), line+ctx],
// marking the target line with a leading '>'. Resolves the §9 Open
// Question about the original's asymmetric, off-by-one window: the
// window here is symmetric around line unless clamped at line 1.
func printSource(path string, line, ctx int) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	start := line - ctx
	if start < 1 {
		start = 1
	}
	end := line + ctx

	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		if n < start {
			continue
		}
		if n > end {
			break
		}
		marker := " "
		if n == line {
			marker = ">"
		}
		fmt.Printf("%s%4d  %s\n", marker, n, scanner.Text())
	}
}

func cmdBreak(d *debugger.Debugger, spec string) error {
	if strings.HasPrefix(spec, "0x") {
		n, err := strconv.ParseUint(spec[2:], 16, 64)
		if err != nil {
			return fmt.Errorf("break: %w", err)
		}
		rt, err := d.SetBreakpointAtAddress(addr.Debug(n))
		if err != nil {
			return err
		}
		fmt.Printf("breakpoint set at %s\n", rt)
		return nil
	}
	if i := strings.LastIndexByte(spec, ':'); i >= 0 {
		line, err := strconv.Atoi(spec[i+1:])
		if err != nil {
			return fmt.Errorf("break: %w", err)
		}
		rt, err := d.SetBreakpointAtSourceLine(spec[:i], line)
		if err != nil {
			return err
		}
		fmt.Printf("breakpoint set at %s\n", rt)
		return nil
	}
	rts, err := d.SetBreakpointAtFunction(spec)
	if err != nil {
		return err
	}
	for _, rt := range rts {
		fmt.Printf("breakpoint set at %s\n", rt)
	}
	return nil
}

func cmdRegister(d *debugger.Debugger, args []string) error {
	switch args[0] {
	case "dump":
		for _, r := range arch.All() {
			v, err := d.Registers().Read(r)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %#016x\n", arch.Name(r), v)
		}
		return nil
	case "read":
		if len(args) < 2 {
			return fmt.Errorf("register read: expected a register name")
		}
		r, ok := arch.ByName(args[1])
		if !ok {
			return fmt.Errorf("register read: unknown register %q", args[1])
		}
		v, err := d.Registers().Read(r)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %#016x\n", args[1], v)
		return nil
	case "write":
		if len(args) < 3 {
			return fmt.Errorf("register write: expected a register name and a value")
		}
		r, ok := arch.ByName(args[1])
		if !ok {
			return fmt.Errorf("register write: unknown register %q", args[1])
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(args[2], "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("register write: %w", err)
		}
		return d.Registers().Write(r, v)
	default:
		return fmt.Errorf("register: unknown subcommand %q", args[0])
	}
}

func cmdMemory(d *debugger.Debugger, args []string) error {
	a, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	switch args[0] {
	case "read":
		v, err := d.Memory().ReadWord(addr.Runtime(a))
		if err != nil {
			return err
		}
		fmt.Printf("%#016x\n", v)
		return nil
	case "write":
		if len(args) < 3 {
			return fmt.Errorf("memory write: expected an address and a value")
		}
		val, err := strconv.ParseUint(strings.TrimPrefix(args[2], "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("memory write: %w", err)
		}
		return d.Memory().WriteWord(addr.Runtime(a), val)
	default:
		return fmt.Errorf("memory: unknown subcommand %q", args[0])
	}
}

func cmdSymbol(d *debugger.Debugger, name string) error {
	syms, err := d.Info().SymbolsNamed(name)
	if err != nil {
		return err
	}
	if len(syms) == 0 {
		fmt.Printf("%s: no symbol found\n", name)
		return nil
	}
	for _, s := range syms {
		fmt.Printf("%s %s\n", s.Name, s.Value)
	}
	return nil
}

func cmdBacktrace(d *debugger.Debugger) error {
	frames, err := d.Backtrace()
	if err != nil {
		return err
	}
	for _, f := range frames {
		fmt.Printf("#%-2d %s in %s\n", f.Index, f.PC, f.Function)
	}
	return nil
}

func cmdVariables(d *debugger.Debugger) error {
	vars, err := d.Variables()
	if err != nil {
		return err
	}
	for _, v := range vars {
		switch v.Location.Kind {
		case dwarfinfo.LocationAddress:
			fmt.Printf("%s = %d (at %s)\n", v.Name, v.Value, v.Location.Address)
		case dwarfinfo.LocationRegister:
			fmt.Printf("%s = %d (in register %d)\n", v.Name, v.Value, v.Location.Register)
		default:
			fmt.Printf("%s = <unhandled location>\n", v.Name)
		}
	}
	return nil
}
