// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfinfo

import (
	"encoding/binary"
	"fmt"

	"nativedbg/internal/addr"
)

// DWARF location-expression opcodes this evaluator understands. The
// full expression language covers far more than a source debugger's
// variable printer needs; everything outside this set is reported as
// LocationUnhandled rather than guessed at.
const (
	opAddr    = 0x03
	opFbreg   = 0x91
	opReg0    = 0x50
	opReg31   = 0x6f
	opBreg0   = 0x70
	opBreg31  = 0x8f
	opCallFrm = 0x9c // DW_OP_call_frame_cfa
)

// LocationKind distinguishes the two result shapes Evaluate can
// produce; anything else is LocationUnhandled.
type LocationKind int

const (
	LocationUnhandled LocationKind = iota
	LocationAddress
	LocationRegister
)

// Location is the result of evaluating a variable's location
// expression against a live execution context.
type Location struct {
	Kind     LocationKind
	Address  addr.Runtime
	Register uint32
}

// EvalContext supplies the live state a location expression is
// evaluated against: the current frame base (this debugger's
// convention is the callee's saved rbp, per the frame-pointer chain
// the backtrace walker already assumes), access to a register by its
// DWARF number, and the debug-info-to-runtime translation a
// DW_OP_addr operand needs before it can be dereferenced in the
// tracee's actual address space.
type EvalContext interface {
	FrameBase() (addr.Runtime, error)
	RegisterByDwarf(num uint32) (uint64, error)
	ToRuntime(addr.Debug) addr.Runtime
}

// Evaluate interprets a DWARF simple location expression. It supports
// the four forms a typical local variable or parameter actually
// uses: a fixed address (DW_OP_addr), a frame-base-relative offset
// (DW_OP_fbreg), a pure register location (DW_OP_regN), and a
// register-relative offset (DW_OP_bregN). Anything else yields
// LocationUnhandled, never a guess.
func Evaluate(expr []byte, ctx EvalContext) (Location, error) {
	if len(expr) == 0 {
		return Location{Kind: LocationUnhandled}, nil
	}
	op := expr[0]
	rest := expr[1:]
	switch {
	case op == opAddr:
		if len(rest) < 8 {
			return Location{}, fmt.Errorf("dwarfinfo: DW_OP_addr: short operand")
		}
		linked := addr.Debug(binary.LittleEndian.Uint64(rest))
		return Location{Kind: LocationAddress, Address: ctx.ToRuntime(linked)}, nil

	case op == opFbreg:
		offset, _, err := sleb128(rest)
		if err != nil {
			return Location{}, fmt.Errorf("dwarfinfo: DW_OP_fbreg: %w", err)
		}
		base, err := ctx.FrameBase()
		if err != nil {
			return Location{}, err
		}
		return Location{Kind: LocationAddress, Address: addr.Runtime(int64(base) + offset)}, nil

	case op >= opReg0 && op <= opReg31:
		return Location{Kind: LocationRegister, Register: uint32(op - opReg0)}, nil

	case op >= opBreg0 && op <= opBreg31:
		offset, _, err := sleb128(rest)
		if err != nil {
			return Location{}, fmt.Errorf("dwarfinfo: DW_OP_breg: %w", err)
		}
		regVal, err := ctx.RegisterByDwarf(uint32(op - opBreg0))
		if err != nil {
			return Location{}, err
		}
		return Location{Kind: LocationAddress, Address: addr.Runtime(int64(regVal) + offset)}, nil

	default:
		return Location{Kind: LocationUnhandled}, nil
	}
}

// sleb128 decodes a DWARF signed LEB128 value, returning the decoded
// value and the number of bytes consumed.
func sleb128(b []byte) (int64, int, error) {
	var result int64
	var shift uint
	var i int
	for {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated sleb128")
		}
		next := b[i]
		result |= int64(next&0x7f) << shift
		shift += 7
		i++
		if next&0x80 == 0 {
			if shift < 64 && next&0x40 != 0 {
				result |= -1 << shift
			}
			break
		}
	}
	return result, i, nil
}
