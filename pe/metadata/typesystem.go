package metadata

import "sync"

// ElementType is an ECMA-335 §II.23.1.16 signature element-type byte.
type ElementType uint8

const (
	ElementTypeEnd         ElementType = 0x00
	ElementTypeVoid        ElementType = 0x01
	ElementTypeBoolean     ElementType = 0x02
	ElementTypeChar        ElementType = 0x03
	ElementTypeI1          ElementType = 0x04
	ElementTypeU1          ElementType = 0x05
	ElementTypeI2          ElementType = 0x06
	ElementTypeU2          ElementType = 0x07
	ElementTypeI4          ElementType = 0x08
	ElementTypeU4          ElementType = 0x09
	ElementTypeI8          ElementType = 0x0A
	ElementTypeU8          ElementType = 0x0B
	ElementTypeR4          ElementType = 0x0C
	ElementTypeR8          ElementType = 0x0D
	ElementTypeString      ElementType = 0x0E
	ElementTypePtr         ElementType = 0x0F
	ElementTypeByRef       ElementType = 0x10
	ElementTypeValueType   ElementType = 0x11
	ElementTypeClass       ElementType = 0x12
	ElementTypeVar         ElementType = 0x13
	ElementTypeArray       ElementType = 0x14
	ElementTypeGenericInst ElementType = 0x15
	ElementTypeTypedByRef  ElementType = 0x16
	ElementTypeI           ElementType = 0x18
	ElementTypeU           ElementType = 0x19
	ElementTypeFnPtr       ElementType = 0x1B
	ElementTypeObject      ElementType = 0x1C
	ElementTypeSZArray     ElementType = 0x1D
	ElementTypeMVar        ElementType = 0x1E
	ElementTypeCModReqD    ElementType = 0x1F
	ElementTypeCModOpt     ElementType = 0x20
	ElementTypeSentinel    ElementType = 0x41
	ElementTypePinned      ElementType = 0x45
)

// PrimitiveType is an interned reference to one of the built-in element
// types; every occurrence of the same primitive in a TypeSystem compares
// equal.
type PrimitiveType struct {
	Element ElementType
	Name    string
}

// TypeSystem is a lazily-initialized, per-NetDirectory singleton exposing
// the interned element-type primitives. Its zero-cost fast path is
// sync.Once, matching the "one-shot initializer, not double-checked
// locking" guidance for lazy singletons in a host language with a
// standard-library equivalent.
type TypeSystem struct {
	once sync.Once

	Void, Boolean, Char                     *PrimitiveType
	I1, I2, I4, I8                          *PrimitiveType
	U1, U2, U4, U8                          *PrimitiveType
	R4, R8                                  *PrimitiveType
	String, Object, TypedByRef              *PrimitiveType
	IntPtr, UIntPtr                         *PrimitiveType

	byElement map[ElementType]*PrimitiveType
}

func (ts *TypeSystem) init() {
	ts.once.Do(func() {
		mk := func(et ElementType, name string) *PrimitiveType { return &PrimitiveType{Element: et, Name: name} }
		ts.Void = mk(ElementTypeVoid, "System.Void")
		ts.Boolean = mk(ElementTypeBoolean, "System.Boolean")
		ts.Char = mk(ElementTypeChar, "System.Char")
		ts.I1 = mk(ElementTypeI1, "System.SByte")
		ts.I2 = mk(ElementTypeI2, "System.Int16")
		ts.I4 = mk(ElementTypeI4, "System.Int32")
		ts.I8 = mk(ElementTypeI8, "System.Int64")
		ts.U1 = mk(ElementTypeU1, "System.Byte")
		ts.U2 = mk(ElementTypeU2, "System.UInt16")
		ts.U4 = mk(ElementTypeU4, "System.UInt32")
		ts.U8 = mk(ElementTypeU8, "System.UInt64")
		ts.R4 = mk(ElementTypeR4, "System.Single")
		ts.R8 = mk(ElementTypeR8, "System.Double")
		ts.String = mk(ElementTypeString, "System.String")
		ts.Object = mk(ElementTypeObject, "System.Object")
		ts.TypedByRef = mk(ElementTypeTypedByRef, "System.TypedReference")
		ts.IntPtr = mk(ElementTypeI, "System.IntPtr")
		ts.UIntPtr = mk(ElementTypeU, "System.UIntPtr")

		ts.byElement = map[ElementType]*PrimitiveType{
			ElementTypeVoid: ts.Void, ElementTypeBoolean: ts.Boolean, ElementTypeChar: ts.Char,
			ElementTypeI1: ts.I1, ElementTypeI2: ts.I2, ElementTypeI4: ts.I4, ElementTypeI8: ts.I8,
			ElementTypeU1: ts.U1, ElementTypeU2: ts.U2, ElementTypeU4: ts.U4, ElementTypeU8: ts.U8,
			ElementTypeR4: ts.R4, ElementTypeR8: ts.R8, ElementTypeString: ts.String,
			ElementTypeObject: ts.Object, ElementTypeTypedByRef: ts.TypedByRef,
			ElementTypeI: ts.IntPtr, ElementTypeU: ts.UIntPtr,
		}
	})
}

// Primitive returns the interned PrimitiveType for et, or nil if et does
// not name a primitive (e.g. it's CLASS/VALUETYPE/ARRAY, which carry
// their own type reference rather than being interned).
func (ts *TypeSystem) Primitive(et ElementType) *PrimitiveType {
	ts.init()
	return ts.byElement[et]
}

// netDirectoryTypeSystems interns one TypeSystem per NetDirectory, the way
// a real implementation would key a per-assembly type system off its
// owning module without making TypeSystem a global.
var (
	typeSystemsMu sync.Mutex
	typeSystems   = map[*NetDirectory]*TypeSystem{}
)

// TypeSystemFor returns nd's TypeSystem, creating it on first use.
func TypeSystemFor(nd *NetDirectory) *TypeSystem {
	typeSystemsMu.Lock()
	defer typeSystemsMu.Unlock()
	ts, ok := typeSystems[nd]
	if !ok {
		ts = &TypeSystem{}
		typeSystems[nd] = ts
	}
	ts.init()
	return ts
}
