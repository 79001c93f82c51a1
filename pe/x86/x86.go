// Package x86 implements a small closed-catalogue encoder/decoder for a
// subset of 32-bit x86 instructions: the ones a managed-thunk disassembler
// actually needs (mov, add, sub, cmp, push, pop, call, jmp, jcc, ret, nop,
// lea). It favors direct byte-level emission over a generic bit-packer, the
// way xyproto/c67's x86_64_codegen.go builds ModR/M/SIB bytes by hand.
package x86

import (
	"github.com/pkg/errors"

	"github.com/wanglei-coder/dnpe/pe/errs"
)

// ErrUnknownOpcode's text is the message of the errs.InvalidEncoding error
// Decode returns when the leading byte(s) match no instruction it knows;
// Decode returns that *errs.Error, not this value.
var ErrUnknownOpcode = errors.New("x86: unknown opcode")

// ErrUnrepresentable's text is the message of the errs.InvalidEncoding
// error Encode returns when an instruction's operands can't be expressed by
// any ModR/M/SIB combination this encoder emits; Encode returns that
// *errs.Error, not this value.
var ErrUnrepresentable = errors.New("x86: instruction not representable")

// unknownOpcodeAt reports an undecodable opcode at offset bytes into the
// buffer passed to Decode, carrying that offset through the shared
// pe/errs.Kind/Offset system the way pe/metadata's heap decoders do.
func unknownOpcodeAt(offset int) error {
	return errs.InvalidEncodingAt(uint64(offset), ErrUnknownOpcode.Error())
}

// unrepresentableAt reports an instruction Encode could not express, at the
// byte offset into the output already emitted when the failure was found.
func unrepresentableAt(offset int) error {
	return errs.InvalidEncodingAt(uint64(offset), ErrUnrepresentable.Error())
}

// Register is one of the eight 32-bit general-purpose registers, numbered
// the way ModR/M's reg/rm fields encode them.
type Register uint8

const (
	Eax Register = iota
	Ecx
	Edx
	Ebx
	Esp
	Ebp
	Esi
	Edi
)

func (r Register) String() string {
	names := [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	if int(r) < len(names) {
		return names[r]
	}
	return "?"
}

// OperandType distinguishes a register-direct operand from a memory
// reference of a given pointer size.
type OperandType uint8

const (
	Normal OperandType = iota
	BytePointer
	WordPointer
	DwordPointer
	QwordPointer
)

// Operand is either a register (Type == Normal) or a memory reference
// base[+index*scale][+disp], sized by Type. Immediate operands carry their
// value in Value with IsImmediate set and Type left at Normal.
type Operand struct {
	Type        OperandType
	Register    Register // register (Normal) or base register (memory)
	HasIndex    bool
	Index       Register
	Scale       uint8 // 1, 2, 4, or 8; meaningful only when HasIndex
	Correction  int32 // displacement for memory operands
	NoBase      bool  // pure [disp32] or [index*scale+disp32], no base register
	IsImmediate bool
	Value       uint32
}

// RegOperand builds a register-direct operand.
func RegOperand(r Register) Operand { return Operand{Type: Normal, Register: r} }

// ImmOperand builds an immediate operand.
func ImmOperand(v uint32) Operand { return Operand{IsImmediate: true, Value: v} }

// MemOperand builds a base[+disp] memory operand of the given pointer size.
func MemOperand(size OperandType, base Register, disp int32) Operand {
	return Operand{Type: size, Register: base, Correction: disp}
}

// MemOperandSIB builds a base+index*scale[+disp] memory operand.
func MemOperandSIB(size OperandType, base Register, index Register, scale uint8, disp int32) Operand {
	return Operand{Type: size, Register: base, HasIndex: true, Index: index, Scale: scale, Correction: disp}
}

// CondCode is one of the 16 x86 jcc condition codes (the low nibble of the
// 0F 8x / 7x opcode).
type CondCode uint8

const (
	CondO CondCode = iota
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)

var condMnemonics = [16]string{
	"jo", "jno", "jb", "jae", "je", "jne", "jbe", "ja",
	"js", "jns", "jp", "jnp", "jl", "jge", "jle", "jg",
}

func (c CondCode) String() string {
	if int(c) < len(condMnemonics) {
		return condMnemonics[c]
	}
	return "j?"
}

// Instruction is a fully decoded/encodable instruction: an opcode plus up
// to three operands (most mnemonics here use one or two).
type Instruction struct {
	Mnemonic string
	Cond     CondCode // meaningful only when Mnemonic == "jcc"
	Operand1 *Operand
	Operand2 *Operand
	Operand3 *Operand
	// Length is filled in by Decode: the number of bytes consumed.
	Length int
}
