// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"os"
	"os/exec"
	"testing"

	"nativedbg/internal/addr"
	"nativedbg/internal/arch"
)

// traceeSource is a tiny, hand-written fixture built fresh for every test
// run (mirroring how the teacher's own ogler_test.go builds its
// tracee binary via "go build" in TestMain) rather than checked in as
// a binary.
const traceeSource = `
#include <stdio.h>

int add(int a, int b) {
	int sum = a + b;
	return sum;
}

int main(void) {
	int x = 21;
	int y = add(x, x);
	printf("%d\n", y);
	return 0;
}
`

const traceeBinary = "./nativedbg_test_tracee"

func TestMain(m *testing.M) {
	os.Exit(buildAndRunTests(m))
}

func buildAndRunTests(m *testing.M) int {
	if _, err := exec.LookPath("cc"); err != nil {
		// No C compiler available in this environment; the tests that
		// need a real tracee skip themselves individually, but there is
		// nothing to build.
		return m.Run()
	}
	src := traceeBinary + ".c"
	if err := os.WriteFile(src, []byte(traceeSource), 0o644); err != nil {
		panic(err)
	}
	defer os.Remove(src)
	cmd := exec.Command("cc", "-g", "-O0", "-fno-omit-frame-pointer", "-static", "-o", traceeBinary, src)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		panic(err)
	}
	defer os.Remove(traceeBinary)
	return m.Run()
}

func requireTracee(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(traceeBinary); err != nil {
		t.Skip("no compiled tracee binary available in this environment")
	}
}

func TestLaunchStopsAtEntry(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if d.Pid() <= 0 {
		t.Fatalf("Pid() = %d, want a positive pid", d.Pid())
	}
	pc, err := d.Registers().Read(arch.Rip)
	if err != nil {
		t.Fatalf("reading rip: %v", err)
	}
	if pc == 0 {
		t.Fatal("rip is zero at entry; expected the tracee's real entry point")
	}
}

func TestBreakpointAtFunctionStopsThere(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := d.SetBreakpointAtFunction("add"); err != nil {
		t.Fatalf("SetBreakpointAtFunction: %v", err)
	}
	stop, err := d.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if stop.Reason != StopBreakpoint {
		t.Fatalf("stop reason = %v, want StopBreakpoint", stop.Reason)
	}
	pc, err := d.PC()
	if err != nil {
		t.Fatalf("PC: %v", err)
	}
	fn, err := d.Info().FunctionAt(pc)
	if err != nil {
		t.Fatalf("FunctionAt: %v", err)
	}
	if fn.Name != "add" {
		t.Fatalf("stopped in function %q, want %q", fn.Name, "add")
	}
}

func TestStepInDescendsIntoCalls(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := d.SetBreakpointAtFunction("main"); err != nil {
		t.Fatalf("SetBreakpointAtFunction: %v", err)
	}
	if stop, err := d.Continue(); err != nil || stop.Reason != StopBreakpoint {
		t.Fatalf("Continue to main: stop=%+v err=%v", stop, err)
	}

	for i := 0; i < 64; i++ {
		stop, err := d.StepIn()
		if err != nil {
			t.Fatalf("StepIn: %v", err)
		}
		if stop.Reason == StopExited {
			return
		}
		pc, err := d.PC()
		if err != nil {
			t.Fatalf("PC: %v", err)
		}
		fn, err := d.Info().FunctionAt(pc)
		if err == nil && fn.Name == "add" {
			return
		}
	}
	t.Fatal("StepIn never descended into add after 64 steps from main")
}

func TestBacktraceFromInsideAddShowsMainAsCaller(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := d.SetBreakpointAtFunction("add"); err != nil {
		t.Fatalf("SetBreakpointAtFunction: %v", err)
	}
	if stop, err := d.Continue(); err != nil || stop.Reason != StopBreakpoint {
		t.Fatalf("Continue to add: stop=%+v err=%v", stop, err)
	}
	frames, err := d.Backtrace()
	if err != nil {
		t.Fatalf("Backtrace: %v", err)
	}
	if len(frames) < 2 {
		t.Fatalf("got %d frames, want at least [add, main]", len(frames))
	}
	if frames[0].Function != "add" {
		t.Fatalf("innermost frame = %q, want %q", frames[0].Function, "add")
	}
	if frames[len(frames)-1].Function != "main" {
		t.Fatalf("outermost frame = %q, want %q", frames[len(frames)-1].Function, "main")
	}
}

func TestVariablesResolvesParametersInAdd(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := d.SetBreakpointAtFunction("add"); err != nil {
		t.Fatalf("SetBreakpointAtFunction: %v", err)
	}
	if stop, err := d.Continue(); err != nil || stop.Reason != StopBreakpoint {
		t.Fatalf("Continue to add: stop=%+v err=%v", stop, err)
	}
	vars, err := d.Variables()
	if err != nil {
		t.Fatalf("Variables: %v", err)
	}
	names := map[string]bool{}
	for _, v := range vars {
		names[v.Name] = true
	}
	for _, want := range []string{"a", "b"} {
		if !names[want] {
			t.Fatalf("Variables() missing parameter %q; got %v", want, vars)
		}
	}
}

func TestSymbolsNamedFindsMain(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	syms, err := d.Info().SymbolsNamed("main")
	if err != nil {
		t.Fatalf("SymbolsNamed: %v", err)
	}
	if len(syms) == 0 {
		t.Fatal("SymbolsNamed(\"main\") found nothing")
	}
}

func TestRegisterAndMemoryRoundTrip(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	const probe = 0x1122334455667788
	if err := d.Registers().Write(arch.Rbx, probe); err != nil {
		t.Fatalf("Write(rbx): %v", err)
	}
	got, err := d.Registers().Read(arch.Rbx)
	if err != nil {
		t.Fatalf("Read(rbx): %v", err)
	}
	if got != probe {
		t.Fatalf("rbx round-trip = %#x, want %#x", got, probe)
	}

	sp, err := d.Registers().Read(arch.Rsp)
	if err != nil {
		t.Fatalf("Read(rsp): %v", err)
	}
	const word = 0xdeadbeefcafed00d
	target := addr.Runtime(sp - 256) // well below the live stack frame
	if err := d.Memory().WriteWord(target, word); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	back, err := d.Memory().ReadWord(target)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if back != word {
		t.Fatalf("memory round-trip = %#x, want %#x", back, word)
	}
}

func TestStepOverDoesNotDescendIntoCalls(t *testing.T) {
	requireTracee(t)
	d, err := Launch(traceeBinary, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := d.SetBreakpointAtFunction("main"); err != nil {
		t.Fatalf("SetBreakpointAtFunction: %v", err)
	}
	if stop, err := d.Continue(); err != nil || stop.Reason != StopBreakpoint {
		t.Fatalf("Continue to main: stop=%+v err=%v", stop, err)
	}
	pcBefore, err := d.PC()
	if err != nil {
		t.Fatalf("PC: %v", err)
	}
	fnBefore, err := d.Info().FunctionAt(pcBefore)
	if err != nil {
		t.Fatalf("FunctionAt: %v", err)
	}

	for i := 0; i < 8; i++ {
		stop, err := d.StepOver()
		if err != nil {
			t.Fatalf("StepOver: %v", err)
		}
		if stop.Reason == StopExited {
			return
		}
		pc, err := d.PC()
		if err != nil {
			t.Fatalf("PC: %v", err)
		}
		fn, err := d.Info().FunctionAt(pc)
		if err != nil {
			continue
		}
		if fn.Name != fnBefore.Name {
			t.Fatalf("step over descended into %q from %q", fn.Name, fnBefore.Name)
		}
	}
}
