// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arch

import "nativedbg/internal/tracer"

// field indexes into the kernel register-bank structure positionally,
// following the same order as the static table in arch.go.
func field(regs *tracer.Registers, r Register) uint64 {
	return *fieldPtr(regs, r)
}

func fieldPtr(regs *tracer.Registers, r Register) *uint64 {
	switch r {
	case R15:
		return &regs.R15
	case R14:
		return &regs.R14
	case R13:
		return &regs.R13
	case R12:
		return &regs.R12
	case Rbp:
		return &regs.Rbp
	case Rbx:
		return &regs.Rbx
	case R11:
		return &regs.R11
	case R10:
		return &regs.R10
	case R9:
		return &regs.R9
	case R8:
		return &regs.R8
	case Rax:
		return &regs.Rax
	case Rcx:
		return &regs.Rcx
	case Rdx:
		return &regs.Rdx
	case Rsi:
		return &regs.Rsi
	case Rdi:
		return &regs.Rdi
	case OrigRax:
		return &regs.Orig_rax
	case Rip:
		return &regs.Rip
	case Cs:
		return &regs.Cs
	case Eflags:
		return &regs.Eflags
	case Rsp:
		return &regs.Rsp
	case Ss:
		return &regs.Ss
	case FsBase:
		return &regs.Fs_base
	case GsBase:
		return &regs.Gs_base
	case Ds:
		return &regs.Ds
	case Es:
		return &regs.Es
	case Fs:
		return &regs.Fs
	case Gs:
		return &regs.Gs
	}
	panic("arch: unknown register")
}
