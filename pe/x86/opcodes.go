package x86

// encodingKind records which of the small set of instruction shapes an
// opcode record uses; the assembler dispatches on the mnemonic and the
// disassembler on the opcode byte, so neither reads it.
type encodingKind uint8

const (
	kindRM32R32   encodingKind = iota // op r/m32, r32  (reg written to rm)
	kindR32RM32                       // op r32, r/m32  (rm read into reg)
	kindRM32Imm                       // op r/m32, imm32/imm8, reg field is an opcode extension
	kindRegImm                        // op r32, imm32 (register encoded in opcode byte, no ModR/M)
	kindPushPop                       // push/pop r32 (register encoded in opcode byte)
	kindPushPopRM                     // push/pop r/m32, reg field is an opcode extension
	kindPushImm                       // push imm32/imm8
	kindCallJmpRel                    // call/jmp rel32
	kindCallRM                        // call r/m32, reg field is an opcode extension
	kindJcc                           // 0F 8x rel32
	kindNoOperand                     // ret, nop
)

// opRecord is one row of the closed opcode table: the byte sequence a
// mnemonic/form pair encodes to, plus enough shape information for the
// disassembler to invert it.
type opRecord struct {
	mnemonic string
	kind     encodingKind
	opcode   []byte // literal opcode bytes (kindJcc's second byte is the base of a 16-entry run)
	extOp    uint8  // reg-field opcode extension, for kinds that use one
	immSize  int    // 0, 1, or 4
	reg8     uint8  // base register-in-opcode value for kindRegImm/kindPushPop (0, added to register)
}

var (
	opAddRM32R32 = opRecord{mnemonic: "add", kind: kindRM32R32, opcode: []byte{0x01}}
	opAddR32RM32 = opRecord{mnemonic: "add", kind: kindR32RM32, opcode: []byte{0x03}}
	opAddImm32   = opRecord{mnemonic: "add", kind: kindRM32Imm, opcode: []byte{0x81}, extOp: 0, immSize: 4}
	opAddImm8    = opRecord{mnemonic: "add", kind: kindRM32Imm, opcode: []byte{0x83}, extOp: 0, immSize: 1}

	opSubRM32R32 = opRecord{mnemonic: "sub", kind: kindRM32R32, opcode: []byte{0x29}}
	opSubR32RM32 = opRecord{mnemonic: "sub", kind: kindR32RM32, opcode: []byte{0x2B}}
	opSubImm32   = opRecord{mnemonic: "sub", kind: kindRM32Imm, opcode: []byte{0x81}, extOp: 5, immSize: 4}
	opSubImm8    = opRecord{mnemonic: "sub", kind: kindRM32Imm, opcode: []byte{0x83}, extOp: 5, immSize: 1}

	opCmpRM32R32 = opRecord{mnemonic: "cmp", kind: kindRM32R32, opcode: []byte{0x39}}
	opCmpR32RM32 = opRecord{mnemonic: "cmp", kind: kindR32RM32, opcode: []byte{0x3B}}
	opCmpImm32   = opRecord{mnemonic: "cmp", kind: kindRM32Imm, opcode: []byte{0x81}, extOp: 7, immSize: 4}
	opCmpImm8    = opRecord{mnemonic: "cmp", kind: kindRM32Imm, opcode: []byte{0x83}, extOp: 7, immSize: 1}

	opMovRM32R32 = opRecord{mnemonic: "mov", kind: kindRM32R32, opcode: []byte{0x89}}
	opMovR32RM32 = opRecord{mnemonic: "mov", kind: kindR32RM32, opcode: []byte{0x8B}}
	opMovImm32RM = opRecord{mnemonic: "mov", kind: kindRM32Imm, opcode: []byte{0xC7}, extOp: 0, immSize: 4}
	opMovImm32R  = opRecord{mnemonic: "mov", kind: kindRegImm, opcode: []byte{0xB8}, immSize: 4}

	opLeaR32M = opRecord{mnemonic: "lea", kind: kindR32RM32, opcode: []byte{0x8D}}

	opPushR32  = opRecord{mnemonic: "push", kind: kindPushPop, opcode: []byte{0x50}}
	opPushRM32 = opRecord{mnemonic: "push", kind: kindPushPopRM, opcode: []byte{0xFF}, extOp: 6}
	opPushImm  = opRecord{mnemonic: "push", kind: kindPushImm, opcode: []byte{0x68}, immSize: 4}
	opPushImm8 = opRecord{mnemonic: "push", kind: kindPushImm, opcode: []byte{0x6A}, immSize: 1}

	opPopR32  = opRecord{mnemonic: "pop", kind: kindPushPop, opcode: []byte{0x58}}
	opPopRM32 = opRecord{mnemonic: "pop", kind: kindPushPopRM, opcode: []byte{0x8F}, extOp: 0}

	opCallRel = opRecord{mnemonic: "call", kind: kindCallJmpRel, opcode: []byte{0xE8}, immSize: 4}
	opCallRM  = opRecord{mnemonic: "call", kind: kindCallRM, opcode: []byte{0xFF}, extOp: 2}

	opJmpRel = opRecord{mnemonic: "jmp", kind: kindCallJmpRel, opcode: []byte{0xE9}, immSize: 4}

	opJcc = opRecord{mnemonic: "jcc", kind: kindJcc, opcode: []byte{0x0F, 0x80}, immSize: 4}

	opRet = opRecord{mnemonic: "ret", kind: kindNoOperand, opcode: []byte{0xC3}}
	opNop = opRecord{mnemonic: "nop", kind: kindNoOperand, opcode: []byte{0x90}}
)

// opcodeTable lists every record of the closed catalogue in one place. It
// is documentation only: Encode switches on the mnemonic and Decode on the
// leading opcode byte, and neither iterates this table.
var opcodeTable = []opRecord{
	opJcc,
	opAddRM32R32, opAddR32RM32, opAddImm32, opAddImm8,
	opSubRM32R32, opSubR32RM32, opSubImm32, opSubImm8,
	opCmpRM32R32, opCmpR32RM32, opCmpImm32, opCmpImm8,
	opMovRM32R32, opMovR32RM32, opMovImm32RM, opMovImm32R,
	opLeaR32M,
	opPushR32, opPushRM32, opPushImm, opPushImm8,
	opPopR32, opPopRM32,
	opCallRel, opCallRM,
	opJmpRel,
	opRet, opNop,
}
