package x86

import "fmt"

// Formatter renders an Instruction in FASM's Intel-order dialect: memory
// operands as "dword [reg+disp]", immediates as hex.
type Formatter struct{}

func (Formatter) Format(inst *Instruction) string {
	mnemonic := inst.Mnemonic
	if mnemonic == "jcc" {
		mnemonic = inst.Cond.String()
	}
	switch {
	case inst.Operand1 == nil:
		return mnemonic
	case inst.Operand2 == nil:
		return mnemonic + " " + formatOperand(*inst.Operand1)
	default:
		return mnemonic + " " + formatOperand(*inst.Operand1) + ", " + formatOperand(*inst.Operand2)
	}
}

func formatOperand(op Operand) string {
	if op.IsImmediate {
		return fmt.Sprintf("0x%X", op.Value)
	}
	if op.Type == Normal {
		return op.Register.String()
	}

	prefix := ""
	switch op.Type {
	case BytePointer:
		prefix = "byte "
	case WordPointer:
		prefix = "word "
	case DwordPointer:
		prefix = "dword "
	case QwordPointer:
		prefix = "qword "
	}

	inner := ""
	if !op.NoBase {
		inner = op.Register.String()
	}
	if op.HasIndex {
		if inner != "" {
			inner += "+"
		}
		inner += fmt.Sprintf("%s*%d", op.Index, op.Scale)
	}
	if op.Correction != 0 || inner == "" {
		if op.Correction < 0 {
			inner += fmt.Sprintf("-0x%X", -op.Correction)
		} else {
			inner += fmt.Sprintf("+0x%X", op.Correction)
		}
	}
	return fmt.Sprintf("%s[%s]", prefix, inner)
}
