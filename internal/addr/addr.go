// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addr gives runtime and debug-info addresses distinct Go
// types so that arithmetic between the two coordinate spaces is a
// compile-time error unless it goes through a Translator.
package addr

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Runtime is an address as ptrace and the register file see it: the
// address the kernel actually maps.
type Runtime uint64

// Debug is an address as the debug-info tree records it: the address
// baked into DWARF/symbol tables at link time.
type Debug uint64

func (a Runtime) String() string { return fmt.Sprintf("%#x", uint64(a)) }
func (a Debug) String() string   { return fmt.Sprintf("%#x", uint64(a)) }

// Translator converts between the two coordinate spaces using a load
// address recorded once per session. For a non-PIE executable the
// load address is zero and the two spaces coincide.
type Translator struct {
	load uint64
	set  bool
}

// Initialize records the load address for pid, reading the start of
// the first mapping in /proc/<pid>/maps. dynamic must be true iff the
// executable is a PIE/shared-object binary; for a non-dynamic
// executable the load address is fixed at zero. Initialize must be
// called exactly once, after the tracee's first stop (so the kernel
// has established its mappings) and before any debug-info-keyed
// operation.
func (t *Translator) Initialize(pid int, dynamic bool) error {
	if t.set {
		return fmt.Errorf("addr: load address already initialized")
	}
	if !dynamic {
		t.load = 0
		t.set = true
		return nil
	}
	load, err := firstMapStart(pid)
	if err != nil {
		return fmt.Errorf("addr: reading /proc/%d/maps: %w", pid, err)
	}
	t.load = load
	t.set = true
	return nil
}

func firstMapStart(pid int) (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("empty maps file")
	}
	line := scanner.Text()
	dash := strings.IndexByte(line, '-')
	if dash < 0 {
		return 0, fmt.Errorf("malformed maps line %q", line)
	}
	return strconv.ParseUint(line[:dash], 16, 64)
}

// ToDebug converts a runtime address to debug-info space.
func (t *Translator) ToDebug(a Runtime) Debug {
	return Debug(uint64(a) - t.load)
}

// ToRuntime converts a debug-info address to runtime space.
func (t *Translator) ToRuntime(a Debug) Runtime {
	return Runtime(uint64(a) + t.load)
}

// Load returns the recorded load address, or 0 before Initialize runs
// or for a non-PIE executable.
func (t *Translator) Load() uint64 { return t.load }
