package x86

// Assembler encodes canonical Instruction values into their byte form. It
// carries no state; a zero value is ready to use.
type Assembler struct{}

// Encode emits inst's bytes, choosing the shortest representable form for
// its operands (register-in-opcode over ModR/M, imm8 over imm32 when the
// value fits) the way a hand assembler would.
func (Assembler) Encode(inst *Instruction) ([]byte, error) {
	var out []byte
	w := func(b ...byte) { out = append(out, b...) }
	writeU32 := func(v uint32) { w(byte(v), byte(v>>8), byte(v>>16), byte(v>>24)) }

	switch inst.Mnemonic {
	case "mov":
		if inst.Operand2 == nil || inst.Operand1 == nil {
			return nil, unrepresentableAt(len(out))
		}
		if inst.Operand2.IsImmediate {
			if inst.Operand1.Type == Normal {
				w(opMovImm32R.opcode[0] + uint8(inst.Operand1.Register))
				writeU32(inst.Operand2.Value)
			} else {
				w(opMovImm32RM.opcode...)
				if err := encodeMemory(&out, opMovImm32RM.extOp, *inst.Operand1); err != nil {
					return nil, err
				}
				writeU32(inst.Operand2.Value)
			}
			return out, nil
		}
		return encodeRegOrMemPair(opMovRM32R32, opMovR32RM32, inst.Operand1, inst.Operand2)

	case "add", "sub", "cmp":
		if inst.Operand1 == nil || inst.Operand2 == nil {
			return nil, unrepresentableAt(len(out))
		}
		if inst.Operand2.IsImmediate {
			rec32, rec8, ext := aluImmRecords(inst.Mnemonic)
			if fitsInt8(int32(inst.Operand2.Value)) {
				w(rec8.opcode...)
				if err := encodeMemory(&out, ext, *inst.Operand1); err != nil {
					return nil, err
				}
				w(byte(inst.Operand2.Value))
			} else {
				w(rec32.opcode...)
				if err := encodeMemory(&out, ext, *inst.Operand1); err != nil {
					return nil, err
				}
				writeU32(inst.Operand2.Value)
			}
			return out, nil
		}
		rmR, rRM := aluRecords(inst.Mnemonic)
		return encodeRegOrMemPair(rmR, rRM, inst.Operand1, inst.Operand2)

	case "lea":
		if inst.Operand1 == nil || inst.Operand2 == nil || inst.Operand1.Type != Normal {
			return nil, unrepresentableAt(len(out))
		}
		w(opLeaR32M.opcode...)
		if err := encodeMemory(&out, uint8(inst.Operand1.Register), *inst.Operand2); err != nil {
			return nil, err
		}
		return out, nil

	case "push":
		if inst.Operand1 == nil {
			return nil, unrepresentableAt(len(out))
		}
		switch {
		case inst.Operand1.IsImmediate:
			if fitsInt8(int32(inst.Operand1.Value)) {
				w(opPushImm8.opcode...)
				w(byte(inst.Operand1.Value))
			} else {
				w(opPushImm.opcode...)
				writeU32(inst.Operand1.Value)
			}
		case inst.Operand1.Type == Normal:
			w(opPushR32.opcode[0] + uint8(inst.Operand1.Register))
		default:
			w(opPushRM32.opcode...)
			if err := encodeMemory(&out, opPushRM32.extOp, *inst.Operand1); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "pop":
		if inst.Operand1 == nil {
			return nil, unrepresentableAt(len(out))
		}
		if inst.Operand1.Type == Normal {
			w(opPopR32.opcode[0] + uint8(inst.Operand1.Register))
		} else {
			w(opPopRM32.opcode...)
			if err := encodeMemory(&out, opPopRM32.extOp, *inst.Operand1); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "call":
		if inst.Operand1 == nil {
			return nil, unrepresentableAt(len(out))
		}
		if inst.Operand1.IsImmediate {
			w(opCallRel.opcode...)
			writeU32(inst.Operand1.Value)
		} else {
			w(opCallRM.opcode...)
			if err := encodeMemory(&out, opCallRM.extOp, *inst.Operand1); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "jmp":
		if inst.Operand1 == nil || !inst.Operand1.IsImmediate {
			return nil, unrepresentableAt(len(out))
		}
		w(opJmpRel.opcode...)
		writeU32(inst.Operand1.Value)
		return out, nil

	case "jcc":
		if inst.Operand1 == nil || !inst.Operand1.IsImmediate {
			return nil, unrepresentableAt(len(out))
		}
		w(0x0F, 0x80+byte(inst.Cond))
		writeU32(inst.Operand1.Value)
		return out, nil

	case "ret":
		w(opRet.opcode...)
		return out, nil

	case "nop":
		w(opNop.opcode...)
		return out, nil
	}
	return nil, unrepresentableAt(len(out))
}

func aluRecords(mnemonic string) (rmR, rRM opRecord) {
	switch mnemonic {
	case "add":
		return opAddRM32R32, opAddR32RM32
	case "sub":
		return opSubRM32R32, opSubR32RM32
	case "cmp":
		return opCmpRM32R32, opCmpR32RM32
	}
	return
}

func aluImmRecords(mnemonic string) (imm32, imm8 opRecord, ext uint8) {
	switch mnemonic {
	case "add":
		return opAddImm32, opAddImm8, 0
	case "sub":
		return opSubImm32, opSubImm8, 5
	case "cmp":
		return opCmpImm32, opCmpImm8, 7
	}
	return
}

// encodeRegOrMemPair picks direction the way a real encoder must: at most
// one operand may be memory, so that operand always becomes rm.
func encodeRegOrMemPair(rmR, rRM opRecord, op1, op2 *Operand) ([]byte, error) {
	var out []byte
	if op1.Type != Normal && op2.Type != Normal {
		return nil, unrepresentableAt(0)
	}
	if op1.Type != Normal {
		// op1 is memory: dest=rm=op1, src=reg=op2 (op2 must be a register)
		out = append(out, rmR.opcode...)
		if err := encodeMemory(&out, uint8(op2.Register), *op1); err != nil {
			return nil, err
		}
		return out, nil
	}
	if op2.Type != Normal {
		// op2 is memory: dest=reg=op1, src=rm=op2
		out = append(out, rRM.opcode...)
		if err := encodeMemory(&out, uint8(op1.Register), *op2); err != nil {
			return nil, err
		}
		return out, nil
	}
	// both registers: canonical direction is rm=op1, reg=op2
	out = append(out, rmR.opcode...)
	if err := encodeMemory(&out, uint8(op2.Register), *op1); err != nil {
		return nil, err
	}
	return out, nil
}

func fitsInt8(v int32) bool { return v >= -128 && v <= 127 }

// encodeMemory appends ModR/M (and SIB/displacement as needed) for op with
// the given reg field value, following the ModR/M selection rules: ESP
// bases force a SIB byte, EBP bases with no displacement force a spurious
// disp8=0 (mod=00,rm=101 means disp32-only), and 8-/32-bit displacements
// pick mod=01/10 respectively.
func encodeMemory(out *[]byte, reg uint8, op Operand) error {
	if op.Type == Normal {
		*out = append(*out, (0b11<<6)|(reg<<3)|uint8(op.Register))
		return nil
	}

	baseVal := uint8(op.Register)
	useSIB := op.HasIndex || op.NoBase || baseVal&7 == uint8(Esp)

	var rmField uint8
	if useSIB {
		rmField = 0b100
	} else {
		rmField = baseVal & 7
	}

	var mod uint8
	switch {
	case op.NoBase:
		mod = 0b00
	case op.Correction == 0 && baseVal&7 != uint8(Ebp):
		mod = 0b00
	case op.Correction == 0 && baseVal&7 == uint8(Ebp):
		mod = 0b01
	case fitsInt8(op.Correction):
		mod = 0b01
	default:
		mod = 0b10
	}

	*out = append(*out, (mod<<6)|(reg<<3)|rmField)

	if useSIB {
		var scaleBits uint8
		var indexField uint8 = 0b100
		if op.HasIndex {
			indexField = uint8(op.Index) & 7
			switch op.Scale {
			case 1:
				scaleBits = 0
			case 2:
				scaleBits = 1
			case 4:
				scaleBits = 2
			case 8:
				scaleBits = 3
			default:
				return unrepresentableAt(len(*out))
			}
		}
		var sibBase uint8
		if op.NoBase {
			sibBase = 0b101
		} else {
			sibBase = baseVal & 7
		}
		*out = append(*out, (scaleBits<<6)|(indexField<<3)|sibBase)
	}

	switch mod {
	case 0b00:
		if op.NoBase {
			appendU32(out, uint32(op.Correction))
		}
	case 0b01:
		*out = append(*out, byte(op.Correction))
	case 0b10:
		appendU32(out, uint32(op.Correction))
	}
	return nil
}

func appendU32(out *[]byte, v uint32) {
	*out = append(*out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
