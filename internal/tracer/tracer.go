// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracer wraps the kernel's process-trace facility behind a
// small typed surface. All ptrace(2) requests for a single tracee flow
// through one Tracer, and every request runs on the same locked OS
// thread, since ptrace requires the tracer and tracee relationship to
// be per-thread.
package tracer

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Registers is the tracee's general-purpose register bank, laid out
// the way the kernel exports it via PTRACE_GETREGS/PTRACE_SETREGS on
// linux/amd64.
type Registers = unix.PtraceRegs

// StopCause classifies why wait returned.
type StopCause int

const (
	// StopBreakpoint is a trap raised by hitting an installed
	// breakpoint (SI_KERNEL or TRAP_BRKPT).
	StopBreakpoint StopCause = iota
	// StopSingleStep is a trap raised by completing a single
	// architectural step (TRAP_TRACE).
	StopSingleStep
	// StopUnknownTrap is a SIGTRAP whose si_code matched neither of
	// the above.
	StopUnknownTrap
	// StopSignal is any other signal delivery (e.g. SIGSEGV).
	StopSignal
	// StopExited means the tracee has exited; Wait never blocks again
	// after this is returned.
	StopExited
)

// WaitResult reports the state the tracee stopped (or exited) in.
type WaitResult struct {
	Cause    StopCause
	Signal   unix.Signal
	Code     int32 // si_code, valid when the tracee is stopped (not when it exited or was killed)
	ExitCode int   // valid when Cause == StopExited
}

const (
	siKernel   = 0x80 // SI_KERNEL
	trapBrkpt  = 1     // TRAP_BRKPT
	trapTrace  = 2     // TRAP_TRACE
	ptraceSigi = 0x4202 // PTRACE_GETSIGINFO

	// addrNoRandomize is the ADDR_NO_RANDOMIZE personality(2) flag.
	addrNoRandomize = 0x0040000
	// getPersonality is the conventional argument for reading the
	// calling process's current persona without changing it: the
	// kernel treats 0xffffffff as "query only" since it can never be a
	// real persona value (the low byte alone selects the personality).
	getPersonality = 0xffffffff
)

// rawSiginfo mirrors the leading fields common to every Linux
// siginfo_t layout: si_signo, si_errno, si_code. That prefix is all
// the supervisor needs to classify a trap.
type rawSiginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_     [128 - 12]byte // rest of siginfo_t, unused
}

// Tracer owns the ptrace relationship with a single tracee process.
// All methods are safe to call only while that tracee is stopped,
// per spec; Tracer itself does not enforce that, callers (the
// breakpoint manager and stepping engine) do.
type Tracer struct {
	pid int
	fc  chan func() error
	ec  chan error
}

// New starts a child process with PTRACE_TRACEME already requested
// (via SysProcAttr.Ptrace, which os/exec arranges between fork and
// exec) and returns a Tracer attached to it, stopped at its first
// instruction. ASLR is disabled for the child: personality(2) has no
// os/exec hook to run between fork and exec, but a persona set on the
// calling thread is inherited across fork/exec, so New sets
// ADDR_NO_RANDOMIZE on the Tracer's locked OS thread immediately
// before StartProcess forks from it, then restores the previous
// persona once the child is launched — the same raw-syscall technique
// getSiginfo uses for a ptrace request x/sys/unix has no wrapper for.
func New(path string, args []string) (*Tracer, error) {
	t := &Tracer{
		fc: make(chan func() error),
		ec: make(chan error),
	}
	go t.run()

	var proc *os.Process
	if err := t.do(func() error {
		prev, _, errno := unix.Syscall(unix.SYS_PERSONALITY, getPersonality, 0, 0)
		if errno != 0 {
			return errno
		}
		if _, _, errno := unix.Syscall(unix.SYS_PERSONALITY, prev|addrNoRandomize, 0, 0); errno != 0 {
			return errno
		}
		defer unix.Syscall(unix.SYS_PERSONALITY, prev, 0, 0)

		var err error
		proc, err = os.StartProcess(path, append([]string{path}, args...), &os.ProcAttr{
			Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
			Sys: &unix.SysProcAttr{
				Ptrace:    true,
				Pdeathsig: unix.SIGKILL,
			},
		})
		return err
	}); err != nil {
		return nil, err
	}
	t.pid = proc.Pid
	// Collect the stop the kernel reports when the traced child execs,
	// so the tracee is stopped at its first instruction on return.
	if _, err := t.Wait(); err != nil {
		return nil, err
	}
	return t, nil
}

// run pins the goroutine that owns all ptrace calls to one OS thread,
// so the kernel always sees requests for this tracee from the same
// thread it was attached from.
func (t *Tracer) run() {
	runtime.LockOSThread()
	for f := range t.fc {
		t.ec <- f()
	}
}

func (t *Tracer) do(f func() error) error {
	t.fc <- f
	return <-t.ec
}

// Pid returns the tracee's process ID.
func (t *Tracer) Pid() int { return t.pid }

// GetRegs fetches the tracee's full register bank.
func (t *Tracer) GetRegs() (Registers, error) {
	var regs Registers
	err := t.do(func() error { return unix.PtraceGetRegs(t.pid, &regs) })
	return regs, err
}

// SetRegs stores the full register bank back into the tracee.
func (t *Tracer) SetRegs(regs Registers) error {
	return t.do(func() error { return unix.PtraceSetRegs(t.pid, &regs) })
}

// PeekText reads len(out) bytes from the tracee's address space at addr.
func (t *Tracer) PeekText(addr uintptr, out []byte) error {
	return t.do(func() error {
		n, err := unix.PtracePeekText(t.pid, addr, out)
		if err != nil {
			return err
		}
		if n != len(out) {
			return fmt.Errorf("PeekText: read %d bytes, want %d", n, len(out))
		}
		return nil
	})
}

// PokeText writes data into the tracee's address space at addr.
func (t *Tracer) PokeText(addr uintptr, data []byte) error {
	return t.do(func() error {
		n, err := unix.PtracePokeText(t.pid, addr, data)
		if err != nil {
			return err
		}
		if n != len(data) {
			return fmt.Errorf("PokeText: wrote %d bytes, want %d", n, len(data))
		}
		return nil
	})
}

// Cont resumes the tracee, optionally delivering signal.
func (t *Tracer) Cont(signal int) error {
	return t.do(func() error { return unix.PtraceCont(t.pid, signal) })
}

// SingleStep resumes the tracee for exactly one instruction.
func (t *Tracer) SingleStep() error {
	return t.do(func() error { return unix.PtraceSingleStep(t.pid) })
}

// SetOptions configures ptrace options (e.g. PTRACE_O_EXITKILL).
func (t *Tracer) SetOptions(options int) error {
	return t.do(func() error { return unix.PtraceSetOptions(t.pid, options) })
}

func (t *Tracer) getSiginfo() (rawSiginfo, error) {
	var info rawSiginfo
	err := t.do(func() error {
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, ptraceSigi, uintptr(t.pid), 0, uintptr(unsafe.Pointer(&info)), 0, 0)
		if errno != 0 {
			return errno
		}
		return nil
	})
	return info, err
}

// Wait blocks until the tracee changes state and classifies the stop.
func (t *Tracer) Wait() (WaitResult, error) {
	var status unix.WaitStatus
	var err error
	err = t.do(func() error {
		_, err := unix.Wait4(t.pid, &status, 0, nil)
		return err
	})
	if err != nil {
		return WaitResult{}, fmt.Errorf("wait: %w", err)
	}

	if status.Exited() {
		return WaitResult{Cause: StopExited, ExitCode: status.ExitStatus()}, nil
	}
	if !status.Stopped() {
		return WaitResult{Cause: StopSignal, Signal: status.Signal()}, nil
	}

	sig := status.StopSignal()
	info, err := t.getSiginfo()
	if err != nil {
		return WaitResult{}, fmt.Errorf("getSiginfo: %w", err)
	}
	if sig != unix.SIGTRAP {
		return WaitResult{Cause: StopSignal, Signal: sig, Code: info.Code}, nil
	}

	switch info.Code {
	case siKernel, trapBrkpt:
		return WaitResult{Cause: StopBreakpoint, Signal: sig, Code: info.Code}, nil
	case trapTrace:
		return WaitResult{Cause: StopSingleStep, Signal: sig, Code: info.Code}, nil
	default:
		return WaitResult{Cause: StopUnknownTrap, Signal: sig, Code: info.Code}, nil
	}
}
