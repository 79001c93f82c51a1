package x86

import (
	"bytes"
	"testing"
)

func TestEncodeAddSIBIndex(t *testing.T) {
	op1 := MemOperandSIB(DwordPointer, Eax, Ebp, 1, 0x1337)
	op2 := RegOperand(Ecx)
	inst := &Instruction{Mnemonic: "add", Operand1: &op1, Operand2: &op2}

	got, err := (Assembler{}).Encode(inst)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x01, 0x8C, 0x28, 0x37, 0x13, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % X, want % X", got, want)
	}

	dec, err := (Disassembler{}).Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Length != len(want) {
		t.Errorf("Length = %d, want %d", dec.Length, len(want))
	}
	if dec.Mnemonic != "add" || dec.Operand2.Register != Ecx {
		t.Errorf("decoded = %+v", dec)
	}
	if !dec.Operand1.HasIndex || dec.Operand1.Index != Ebp || dec.Operand1.Scale != 1 || dec.Operand1.Correction != 0x1337 {
		t.Errorf("decoded operand1 = %+v", dec.Operand1)
	}
}

func TestEncodeAddESPBase(t *testing.T) {
	op1 := MemOperand(DwordPointer, Esp, 0)
	op2 := RegOperand(Eax)
	inst := &Instruction{Mnemonic: "add", Operand1: &op1, Operand2: &op2}

	got, err := (Assembler{}).Encode(inst)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x01, 0x04, 0x24}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % X, want % X", got, want)
	}

	dec, err := (Disassembler{}).Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Operand1.Register != Esp || dec.Operand1.HasIndex {
		t.Errorf("decoded operand1 = %+v", dec.Operand1)
	}
}

func TestRoundTripCanonicalSet(t *testing.T) {
	imm := ImmOperand(0x11223344)
	immSmall := ImmOperand(5)
	regEax := RegOperand(Eax)
	regEcx := RegOperand(Ecx)
	memEbpDisp := MemOperand(DwordPointer, Ebp, 8)

	cases := []*Instruction{
		{Mnemonic: "mov", Operand1: &regEax, Operand2: &imm},
		{Mnemonic: "mov", Operand1: &regEax, Operand2: &regEcx},
		{Mnemonic: "sub", Operand1: &memEbpDisp, Operand2: &regEcx},
		{Mnemonic: "cmp", Operand1: &regEax, Operand2: &immSmall},
		{Mnemonic: "push", Operand1: &regEcx},
		{Mnemonic: "pop", Operand1: &regEax},
		{Mnemonic: "call", Operand1: &imm},
		{Mnemonic: "jmp", Operand1: &imm},
		{Mnemonic: "jcc", Cond: CondE, Operand1: &imm},
		{Mnemonic: "ret"},
		{Mnemonic: "nop"},
		{Mnemonic: "lea", Operand1: &regEax, Operand2: &memEbpDisp},
	}

	for _, inst := range cases {
		t.Run(inst.Mnemonic, func(t *testing.T) {
			encoded, err := (Assembler{}).Encode(inst)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			dec, err := (Disassembler{}).Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if dec.Length != len(encoded) {
				t.Errorf("Length = %d, want %d", dec.Length, len(encoded))
			}
			reencoded, err := (Assembler{}).Encode(dec)
			if err != nil {
				t.Fatalf("re-Encode: %v", err)
			}
			if !bytes.Equal(reencoded, encoded) {
				t.Errorf("round trip mismatch: % X != % X", reencoded, encoded)
			}
		})
	}
}

func TestFormatter(t *testing.T) {
	op1 := MemOperandSIB(DwordPointer, Eax, Ebp, 1, 0x1337)
	op2 := RegOperand(Ecx)
	inst := &Instruction{Mnemonic: "add", Operand1: &op1, Operand2: &op2}
	got := (Formatter{}).Format(inst)
	want := "add dword [eax+ebp*1+0x1337], ecx"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}
