package x86

import "encoding/binary"

// Disassembler decodes instructions from the closed catalogue this package
// implements. A zero value is ready to use.
type Disassembler struct{}

// Decode reads a single instruction from the start of code and reports how
// many bytes it consumed.
func (Disassembler) Decode(code []byte) (*Instruction, error) {
	if len(code) == 0 {
		return nil, unknownOpcodeAt(0)
	}

	b0 := code[0]
	switch {
	case b0 == 0x0F:
		if len(code) < 2 {
			return nil, unknownOpcodeAt(1)
		}
		b1 := code[1]
		if b1 < 0x80 || b1 > 0x8F {
			return nil, unknownOpcodeAt(1)
		}
		if len(code) < 6 {
			return nil, unknownOpcodeAt(2)
		}
		rel := binary.LittleEndian.Uint32(code[2:6])
		imm := ImmOperand(rel)
		return &Instruction{Mnemonic: "jcc", Cond: CondCode(b1 - 0x80), Operand1: &imm, Length: 6}, nil

	case b0 == 0x01, b0 == 0x29, b0 == 0x39, b0 == 0x89:
		return decodeAluRMR(code, mnemonicFor(b0))

	case b0 == 0x03, b0 == 0x2B, b0 == 0x3B, b0 == 0x8B:
		return decodeAluRRM(code, mnemonicFor(b0))

	case b0 == 0x81, b0 == 0x83:
		return decodeAluImm(code, b0 == 0x83)

	case b0 == 0xC7:
		return decodeMovImmRM(code)

	case b0 >= 0xB8 && b0 <= 0xBF:
		if len(code) < 5 {
			return nil, unknownOpcodeAt(1)
		}
		reg := RegOperand(Register(b0 - 0xB8))
		imm := ImmOperand(binary.LittleEndian.Uint32(code[1:5]))
		return &Instruction{Mnemonic: "mov", Operand1: &reg, Operand2: &imm, Length: 5}, nil

	case b0 == 0x8D:
		return decodeLea(code)

	case b0 >= 0x50 && b0 <= 0x57:
		reg := RegOperand(Register(b0 - 0x50))
		return &Instruction{Mnemonic: "push", Operand1: &reg, Length: 1}, nil

	case b0 >= 0x58 && b0 <= 0x5F:
		reg := RegOperand(Register(b0 - 0x58))
		return &Instruction{Mnemonic: "pop", Operand1: &reg, Length: 1}, nil

	case b0 == 0xFF:
		return decodeFF(code)

	case b0 == 0x8F:
		return decodePopRM(code)

	case b0 == 0x68:
		if len(code) < 5 {
			return nil, unknownOpcodeAt(1)
		}
		imm := ImmOperand(binary.LittleEndian.Uint32(code[1:5]))
		return &Instruction{Mnemonic: "push", Operand1: &imm, Length: 5}, nil

	case b0 == 0x6A:
		if len(code) < 2 {
			return nil, unknownOpcodeAt(1)
		}
		imm := ImmOperand(uint32(int32(int8(code[1]))))
		return &Instruction{Mnemonic: "push", Operand1: &imm, Length: 2}, nil

	case b0 == 0xE8:
		if len(code) < 5 {
			return nil, unknownOpcodeAt(1)
		}
		imm := ImmOperand(binary.LittleEndian.Uint32(code[1:5]))
		return &Instruction{Mnemonic: "call", Operand1: &imm, Length: 5}, nil

	case b0 == 0xE9:
		if len(code) < 5 {
			return nil, unknownOpcodeAt(1)
		}
		imm := ImmOperand(binary.LittleEndian.Uint32(code[1:5]))
		return &Instruction{Mnemonic: "jmp", Operand1: &imm, Length: 5}, nil

	case b0 == 0xC3:
		return &Instruction{Mnemonic: "ret", Length: 1}, nil

	case b0 == 0x90:
		return &Instruction{Mnemonic: "nop", Length: 1}, nil
	}
	return nil, unknownOpcodeAt(0)
}

func mnemonicFor(b0 byte) string {
	switch b0 {
	case 0x01, 0x03:
		return "add"
	case 0x29, 0x2B:
		return "sub"
	case 0x39, 0x3B:
		return "cmp"
	case 0x89, 0x8B:
		return "mov"
	}
	return ""
}

// decodeAluRMR handles the "op r/m32, r32" forms (0x01/0x29/0x39/0x89):
// rm is the destination, reg the source register.
func decodeAluRMR(code []byte, mnemonic string) (*Instruction, error) {
	rm, reg, n, err := decodeModRM(code, 1, DwordPointer)
	if err != nil {
		return nil, err
	}
	regOp := RegOperand(Register(reg))
	return &Instruction{Mnemonic: mnemonic, Operand1: &rm, Operand2: &regOp, Length: 1 + n}, nil
}

// decodeAluRRM handles the "op r32, r/m32" forms: reg is the destination.
func decodeAluRRM(code []byte, mnemonic string) (*Instruction, error) {
	rm, reg, n, err := decodeModRM(code, 1, DwordPointer)
	if err != nil {
		return nil, err
	}
	regOp := RegOperand(Register(reg))
	return &Instruction{Mnemonic: mnemonic, Operand1: &regOp, Operand2: &rm, Length: 1 + n}, nil
}

func decodeLea(code []byte) (*Instruction, error) {
	rm, reg, n, err := decodeModRM(code, 1, DwordPointer)
	if err != nil {
		return nil, err
	}
	regOp := RegOperand(Register(reg))
	return &Instruction{Mnemonic: "lea", Operand1: &regOp, Operand2: &rm, Length: 1 + n}, nil
}

// decodeAluImm handles 0x81/0x83 (add/sub/cmp r/m32, imm32/imm8); the
// ModR/M reg field selects which of the three this closed set recognizes.
func decodeAluImm(code []byte, isImm8 bool) (*Instruction, error) {
	rm, reg, n, err := decodeModRM(code, 1, DwordPointer)
	if err != nil {
		return nil, err
	}
	var mnemonic string
	switch reg {
	case 0:
		mnemonic = "add"
	case 5:
		mnemonic = "sub"
	case 7:
		mnemonic = "cmp"
	default:
		return nil, unknownOpcodeAt(1)
	}
	pos := 1 + n
	var value uint32
	var immLen int
	if isImm8 {
		if pos >= len(code) {
			return nil, unknownOpcodeAt(pos)
		}
		value = uint32(int32(int8(code[pos])))
		immLen = 1
	} else {
		if pos+4 > len(code) {
			return nil, unknownOpcodeAt(pos)
		}
		value = binary.LittleEndian.Uint32(code[pos : pos+4])
		immLen = 4
	}
	imm := ImmOperand(value)
	return &Instruction{Mnemonic: mnemonic, Operand1: &rm, Operand2: &imm, Length: pos + immLen}, nil
}

func decodeMovImmRM(code []byte) (*Instruction, error) {
	rm, reg, n, err := decodeModRM(code, 1, DwordPointer)
	if err != nil {
		return nil, err
	}
	if reg != 0 {
		return nil, unknownOpcodeAt(1)
	}
	pos := 1 + n
	if pos+4 > len(code) {
		return nil, unknownOpcodeAt(pos)
	}
	imm := ImmOperand(binary.LittleEndian.Uint32(code[pos : pos+4]))
	return &Instruction{Mnemonic: "mov", Operand1: &rm, Operand2: &imm, Length: pos + 4}, nil
}

func decodeFF(code []byte) (*Instruction, error) {
	rm, reg, n, err := decodeModRM(code, 1, DwordPointer)
	if err != nil {
		return nil, err
	}
	length := 1 + n
	switch reg {
	case 6:
		return &Instruction{Mnemonic: "push", Operand1: &rm, Length: length}, nil
	case 2:
		return &Instruction{Mnemonic: "call", Operand1: &rm, Length: length}, nil
	}
	return nil, unknownOpcodeAt(1)
}

func decodePopRM(code []byte) (*Instruction, error) {
	rm, reg, n, err := decodeModRM(code, 1, DwordPointer)
	if err != nil {
		return nil, err
	}
	if reg != 0 {
		return nil, unknownOpcodeAt(1)
	}
	return &Instruction{Mnemonic: "pop", Operand1: &rm, Length: 1 + n}, nil
}

// decodeModRM reads a ModR/M byte (and SIB/displacement as needed) starting
// at pos, returning the rm-side operand, the raw reg field, and the number
// of bytes consumed. It is the exact inverse of encodeMemory. Every failure
// reports the byte offset (within code) where the truncation or invalid
// field was found.
func decodeModRM(code []byte, pos int, size OperandType) (rm Operand, reg uint8, consumed int, err error) {
	if pos >= len(code) {
		return Operand{}, 0, 0, unknownOpcodeAt(pos)
	}
	b := code[pos]
	consumed = 1
	mod := b >> 6
	reg = (b >> 3) & 7
	rmField := b & 7

	if mod == 0b11 {
		rm = Operand{Type: Normal, Register: Register(rmField)}
		return rm, reg, consumed, nil
	}

	op := Operand{Type: size}
	if rmField == 0b100 {
		if pos+consumed >= len(code) {
			return Operand{}, 0, 0, unknownOpcodeAt(pos + consumed)
		}
		sib := code[pos+consumed]
		consumed++
		scaleBits := sib >> 6
		indexField := (sib >> 3) & 7
		baseField := sib & 7
		if indexField != 0b100 {
			op.HasIndex = true
			op.Index = Register(indexField)
			op.Scale = []uint8{1, 2, 4, 8}[scaleBits]
		}
		if baseField == 0b101 && mod == 0b00 {
			op.NoBase = true
			if pos+consumed+4 > len(code) {
				return Operand{}, 0, 0, unknownOpcodeAt(pos + consumed)
			}
			op.Correction = int32(binary.LittleEndian.Uint32(code[pos+consumed:]))
			consumed += 4
			return op, reg, consumed, nil
		}
		op.Register = Register(baseField)
	} else {
		if rmField == 0b101 && mod == 0b00 {
			op.NoBase = true
			if pos+consumed+4 > len(code) {
				return Operand{}, 0, 0, unknownOpcodeAt(pos + consumed)
			}
			op.Correction = int32(binary.LittleEndian.Uint32(code[pos+consumed:]))
			consumed += 4
			return op, reg, consumed, nil
		}
		op.Register = Register(rmField)
	}

	switch mod {
	case 0b01:
		if pos+consumed >= len(code) {
			return Operand{}, 0, 0, unknownOpcodeAt(pos + consumed)
		}
		op.Correction = int32(int8(code[pos+consumed]))
		consumed++
	case 0b10:
		if pos+consumed+4 > len(code) {
			return Operand{}, 0, 0, unknownOpcodeAt(pos + consumed)
		}
		op.Correction = int32(binary.LittleEndian.Uint32(code[pos+consumed:]))
		consumed += 4
	}
	return op, reg, consumed, nil
}
