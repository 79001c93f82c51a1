package metadata

import (
	"bytes"

	"github.com/wanglei-coder/dnpe/pe/bio"
	"github.com/wanglei-coder/dnpe/pe/errs"
)

// Calling-convention bits of a method signature's leading byte.
const (
	sigDefault    = 0x00
	sigVarArg     = 0x05
	sigGeneric    = 0x10
	sigHasThis    = 0x20
	sigExplicitThis = 0x40
)

// CustomMod is a CMOD_REQD/CMOD_OPT modifier attached to a type signature.
type CustomMod struct {
	Required bool
	Type     CodedIndex
}

// TypeSig is one node of a decoded signature type tree. Exactly one of
// its fields is meaningful per Kind; this mirrors the "closed variant"
// shape the format actually has without needing a Go type-switch
// interface for every node.
type TypeSig struct {
	Kind ElementType

	Primitive *PrimitiveType // left nil by the decoders; primitive element types are identified by Kind alone
	TypeToken CodedIndex     // Kind == ValueType or Class

	Pointee *TypeSig // Kind == Ptr, ByRef, SZArray, Array, Pinned
	Mods    []CustomMod

	// Kind == Array
	Rank     uint32
	Sizes    []uint32
	LoBounds []int32

	// Kind == GenericInst
	GenericType *TypeSig
	Args        []TypeSig
	IsValueType bool

	// Kind == Var / MVar
	GenericParamIndex uint32

	// Kind == FnPtr
	Method *MethodSig
}

// MethodSig is a decoded method (or property) signature.
type MethodSig struct {
	HasThis           bool
	ExplicitThis      bool
	Generic           bool
	GenericParamCount uint32
	ParamCount        uint32
	RetType           TypeSig
	Params            []TypeSig
	SentinelIndex     int // index into Params where a VARARG sentinel sits, -1 if none
}

// FieldSig is a decoded field signature (leading byte 0x06).
type FieldSig struct {
	Mods []CustomMod
	Type TypeSig
}

// PropertySig is a decoded property signature.
type PropertySig struct {
	HasThis bool
	Params  []TypeSig
	Type    TypeSig
}

// LocalVarSig is a decoded StandAloneSig local-variable list.
type LocalVarSig struct {
	Locals []TypeSig
}

// MethodSpecSig is a decoded generic-method instantiation blob.
type MethodSpecSig struct {
	Args []TypeSig
}

func newSigReader(blob []byte) *bio.Reader {
	return bio.NewReader(bytes.NewReader(blob), int64(len(blob)))
}

// DecodeFieldSig decodes a FIELD signature blob (leading byte 0x06).
func DecodeFieldSig(blob []byte) (*FieldSig, error) {
	r := newSigReader(blob)
	b, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if b != 0x06 {
		return nil, errs.MalformedAt(0, "field signature missing leading 0x06")
	}
	mods, err := decodeCustomMods(r)
	if err != nil {
		return nil, err
	}
	t, err := decodeType(r)
	if err != nil {
		return nil, err
	}
	if err := requireFullyConsumed(r); err != nil {
		return nil, err
	}
	return &FieldSig{Mods: mods, Type: t}, nil
}

// DecodeMethodSig decodes a MethodDef/MemberRef method signature blob.
func DecodeMethodSig(blob []byte) (*MethodSig, error) {
	r := newSigReader(blob)
	return decodeMethodSigBody(r)
}

func decodeMethodSigBody(r *bio.Reader) (*MethodSig, error) {
	convByte, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	sig := &MethodSig{SentinelIndex: -1}
	sig.HasThis = convByte&sigHasThis != 0
	sig.ExplicitThis = convByte&sigExplicitThis != 0
	sig.Generic = convByte&sigGeneric != 0

	if sig.Generic {
		gpc, err := r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		sig.GenericParamCount = gpc
	}
	paramCount, err := r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	sig.ParamCount = paramCount

	retType, err := decodeType(r)
	if err != nil {
		return nil, err
	}
	sig.RetType = retType

	for i := uint32(0); i < paramCount; i++ {
		// a VARARG sentinel (0x41) may appear once, marking the boundary
		// between fixed and optional trailing arguments.
		peek, err := peekByte(r)
		if err == nil && ElementType(peek) == ElementTypeSentinel {
			if _, err := r.ReadU8(); err != nil {
				return nil, err
			}
			sig.SentinelIndex = len(sig.Params)
		}
		t, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, t)
	}
	if err := requireFullyConsumed(r); err != nil {
		return nil, err
	}
	return sig, nil
}

// DecodePropertySig decodes a PROPERTY signature blob (leading byte 0x08,
// optionally OR'd with HASTHIS).
func DecodePropertySig(blob []byte) (*PropertySig, error) {
	r := newSigReader(blob)
	b, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if b&0x0F != 0x08 {
		return nil, errs.MalformedAt(0, "property signature missing leading 0x08")
	}
	sig := &PropertySig{HasThis: b&sigHasThis != 0}
	paramCount, err := r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	t, err := decodeType(r)
	if err != nil {
		return nil, err
	}
	sig.Type = t
	for i := uint32(0); i < paramCount; i++ {
		p, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, p)
	}
	if err := requireFullyConsumed(r); err != nil {
		return nil, err
	}
	return sig, nil
}

// DecodeLocalVarSig decodes a StandAloneSig blob (leading byte 0x07).
func DecodeLocalVarSig(blob []byte) (*LocalVarSig, error) {
	r := newSigReader(blob)
	b, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if b != 0x07 {
		return nil, errs.MalformedAt(0, "local var signature missing leading 0x07")
	}
	count, err := r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	sig := &LocalVarSig{}
	for i := uint32(0); i < count; i++ {
		t, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		sig.Locals = append(sig.Locals, t)
	}
	if err := requireFullyConsumed(r); err != nil {
		return nil, err
	}
	return sig, nil
}

// DecodeTypeSpecSig decodes a TypeSpec blob: a single type, no leading tag.
func DecodeTypeSpecSig(blob []byte) (*TypeSig, error) {
	r := newSigReader(blob)
	t, err := decodeType(r)
	if err != nil {
		return nil, err
	}
	if err := requireFullyConsumed(r); err != nil {
		return nil, err
	}
	return &t, nil
}

// DecodeMethodSpecSig decodes a MethodSpec blob (leading byte 0x0A,
// GENERICINST convention for generic-method instantiations).
func DecodeMethodSpecSig(blob []byte) (*MethodSpecSig, error) {
	r := newSigReader(blob)
	b, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if b != 0x0A {
		return nil, errs.MalformedAt(0, "method spec signature missing leading 0x0A")
	}
	count, err := r.ReadCompressedU32()
	if err != nil {
		return nil, err
	}
	sig := &MethodSpecSig{}
	for i := uint32(0); i < count; i++ {
		t, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		sig.Args = append(sig.Args, t)
	}
	if err := requireFullyConsumed(r); err != nil {
		return nil, err
	}
	return sig, nil
}

func decodeCustomMods(r *bio.Reader) ([]CustomMod, error) {
	var mods []CustomMod
	for {
		peek, err := peekByte(r)
		if err != nil {
			return mods, nil // ran out of bytes; caller's requireFullyConsumed will catch real errors
		}
		et := ElementType(peek)
		if et != ElementTypeCModReqD && et != ElementTypeCModOpt {
			return mods, nil
		}
		if _, err := r.ReadU8(); err != nil {
			return nil, err
		}
		raw, err := r.ReadCompressedU32()
		if err != nil {
			return nil, err
		}
		idx, err := decodeTypeDefOrRefEncoded(raw)
		if err != nil {
			return nil, err
		}
		mods = append(mods, CustomMod{Required: et == ElementTypeCModReqD, Type: idx})
	}
}

// decodeType is the recursive-descent core: it reads one element-type byte
// and dispatches, recursing into nested types as the grammar demands.
func decodeType(r *bio.Reader) (TypeSig, error) {
	mods, err := decodeCustomMods(r)
	if err != nil {
		return TypeSig{}, err
	}
	b, err := r.ReadU8()
	if err != nil {
		return TypeSig{}, err
	}
	et := ElementType(b)

	switch et {
	case ElementTypeVoid, ElementTypeBoolean, ElementTypeChar,
		ElementTypeI1, ElementTypeU1, ElementTypeI2, ElementTypeU2,
		ElementTypeI4, ElementTypeU4, ElementTypeI8, ElementTypeU8,
		ElementTypeR4, ElementTypeR8, ElementTypeString,
		ElementTypeObject, ElementTypeI, ElementTypeU, ElementTypeTypedByRef:
		return TypeSig{Kind: et, Mods: mods}, nil

	case ElementTypeValueType, ElementTypeClass:
		raw, err := r.ReadCompressedU32()
		if err != nil {
			return TypeSig{}, err
		}
		idx, err := decodeTypeDefOrRefEncoded(raw)
		if err != nil {
			return TypeSig{}, err
		}
		return TypeSig{Kind: et, TypeToken: idx, Mods: mods}, nil

	case ElementTypePtr:
		peek, err := peekByte(r)
		if err == nil && ElementType(peek) == ElementTypeVoid {
			r.ReadU8()
			return TypeSig{Kind: ElementTypePtr, Mods: mods}, nil
		}
		inner, err := decodeType(r)
		if err != nil {
			return TypeSig{}, err
		}
		return TypeSig{Kind: ElementTypePtr, Pointee: &inner, Mods: mods}, nil

	case ElementTypeByRef, ElementTypeSZArray, ElementTypePinned:
		inner, err := decodeType(r)
		if err != nil {
			return TypeSig{}, err
		}
		return TypeSig{Kind: et, Pointee: &inner, Mods: mods}, nil

	case ElementTypeArray:
		elem, err := decodeType(r)
		if err != nil {
			return TypeSig{}, err
		}
		rank, err := r.ReadCompressedU32()
		if err != nil {
			return TypeSig{}, err
		}
		sig := TypeSig{Kind: ElementTypeArray, Pointee: &elem, Rank: rank, Mods: mods}
		numSizes, err := r.ReadCompressedU32()
		if err != nil {
			return TypeSig{}, err
		}
		for i := uint32(0); i < numSizes; i++ {
			s, err := r.ReadCompressedU32()
			if err != nil {
				return TypeSig{}, err
			}
			sig.Sizes = append(sig.Sizes, s)
		}
		numLoBounds, err := r.ReadCompressedU32()
		if err != nil {
			return TypeSig{}, err
		}
		for i := uint32(0); i < numLoBounds; i++ {
			before := r.Position()
			lb, err := r.ReadCompressedU32()
			if err != nil {
				return TypeSig{}, err
			}
			sig.LoBounds = append(sig.LoBounds, decodeSignedCompressed(lb, int(r.Position()-before)))
		}
		return sig, nil

	case ElementTypeGenericInst:
		isValueType := false
		kindByte, err := r.ReadU8()
		if err != nil {
			return TypeSig{}, err
		}
		switch ElementType(kindByte) {
		case ElementTypeValueType:
			isValueType = true
		case ElementTypeClass:
			isValueType = false
		default:
			return TypeSig{}, errs.MalformedAt(uint64(r.Position()), "GENERICINST missing CLASS/VALUETYPE")
		}
		raw, err := r.ReadCompressedU32()
		if err != nil {
			return TypeSig{}, err
		}
		idx, err := decodeTypeDefOrRefEncoded(raw)
		if err != nil {
			return TypeSig{}, err
		}
		generic := TypeSig{Kind: ElementType(kindByte), TypeToken: idx}
		argCount, err := r.ReadCompressedU32()
		if err != nil {
			return TypeSig{}, err
		}
		sig := TypeSig{Kind: ElementTypeGenericInst, GenericType: &generic, IsValueType: isValueType, Mods: mods}
		for i := uint32(0); i < argCount; i++ {
			a, err := decodeType(r)
			if err != nil {
				return TypeSig{}, err
			}
			sig.Args = append(sig.Args, a)
		}
		return sig, nil

	case ElementTypeVar, ElementTypeMVar:
		idx, err := r.ReadCompressedU32()
		if err != nil {
			return TypeSig{}, err
		}
		return TypeSig{Kind: et, GenericParamIndex: idx, Mods: mods}, nil

	case ElementTypeFnPtr:
		m, err := decodeMethodSigBody(r)
		if err != nil {
			return TypeSig{}, err
		}
		return TypeSig{Kind: ElementTypeFnPtr, Method: m, Mods: mods}, nil
	}

	return TypeSig{}, errs.MalformedAt(uint64(r.Position()-1), "unrecognized signature element type")
}

// decodeTypeDefOrRefEncoded decodes the signature-specific 2-bit-tag
// encoding of a TypeDefOrRef coded index (ECMA-335 §II.23.2.8), distinct
// from the fixed 2/4-byte table-column encoding decoded elsewhere.
func decodeTypeDefOrRefEncoded(raw uint32) (CodedIndex, error) {
	tag := raw & 0x3
	rowID := raw >> 2
	tables := []TableID{TypeDef, TypeRef, TypeSpec}
	if int(tag) >= len(tables) {
		return CodedIndex{}, errs.MalformedAt(uint64(raw), "invalid TypeDefOrRef signature tag")
	}
	return CodedIndex{Table: tables[tag], RowID: rowID}, nil
}

// decodeSignedCompressed applies ECMA-335 §II.23.2's sign-extension rule
// to a compressed unsigned integer of n encoded bytes that represents a
// signed value: the value was rotated left by one within 7, 14 or 29 bits
// (n = 1, 2 or 4), so the low bit is the sign and the remaining bits are
// sign-extended from that width.
func decodeSignedCompressed(u uint32, n int) int32 {
	bits := uint(29)
	switch n {
	case 1:
		bits = 7
	case 2:
		bits = 14
	}
	v := u >> 1
	if u&1 != 0 {
		v |= ^uint32(0) << (bits - 1)
	}
	return int32(v)
}

func peekByte(r *bio.Reader) (byte, error) {
	pos := r.Position()
	b, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	if err := r.Seek(pos); err != nil {
		return 0, err
	}
	return b, nil
}

func requireFullyConsumed(r *bio.Reader) error {
	if r.Position() != r.Size() {
		return errs.MalformedAt(uint64(r.Position()), "signature has trailing unconsumed bytes")
	}
	return nil
}
