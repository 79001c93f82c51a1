package metadata

// TableID is one of the 45 numeric table identifiers ECMA-335 §II.22
// reserves (0x00..0x2C); a handful of those slots are unused by any
// defined table but still occupy a valid_mask bit position.
type TableID uint8

const (
	Module                 TableID = 0x00
	TypeRef                TableID = 0x01
	TypeDef                TableID = 0x02
	tableIDUnused03        TableID = 0x03
	Field                  TableID = 0x04
	tableIDUnused05        TableID = 0x05
	MethodDef              TableID = 0x06
	tableIDUnused07        TableID = 0x07
	Param                  TableID = 0x08
	InterfaceImpl          TableID = 0x09
	MemberRef              TableID = 0x0A
	Constant               TableID = 0x0B
	CustomAttribute        TableID = 0x0C
	FieldMarshal           TableID = 0x0D
	DeclSecurity           TableID = 0x0E
	ClassLayout            TableID = 0x0F
	FieldLayout            TableID = 0x10
	StandAloneSig          TableID = 0x11
	EventMap               TableID = 0x12
	tableIDUnused13        TableID = 0x13
	Event                  TableID = 0x14
	PropertyMap            TableID = 0x15
	tableIDUnused16        TableID = 0x16
	Property               TableID = 0x17
	MethodSemantics        TableID = 0x18
	MethodImpl             TableID = 0x19
	ModuleRef              TableID = 0x1A
	TypeSpec               TableID = 0x1B
	ImplMap                TableID = 0x1C
	FieldRVA               TableID = 0x1D
	tableIDUnused1E        TableID = 0x1E
	tableIDUnused1F        TableID = 0x1F
	Assembly               TableID = 0x20
	AssemblyProcessor      TableID = 0x21
	AssemblyOS             TableID = 0x22
	AssemblyRef            TableID = 0x23
	AssemblyRefProcessor   TableID = 0x24
	AssemblyRefOS          TableID = 0x25
	File                   TableID = 0x26
	ExportedType           TableID = 0x27
	ManifestResource       TableID = 0x28
	NestedClass            TableID = 0x29
	GenericParam           TableID = 0x2A
	MethodSpec             TableID = 0x2B
	GenericParamConstraint TableID = 0x2C
)

// NumTableIDs is the size of the numeric table-identifier space.
const NumTableIDs = 0x2D

var tableIDNames = map[TableID]string{
	Module: "Module", TypeRef: "TypeRef", TypeDef: "TypeDef", Field: "Field",
	MethodDef: "MethodDef", Param: "Param", InterfaceImpl: "InterfaceImpl",
	MemberRef: "MemberRef", Constant: "Constant", CustomAttribute: "CustomAttribute",
	FieldMarshal: "FieldMarshal", DeclSecurity: "DeclSecurity", ClassLayout: "ClassLayout",
	FieldLayout: "FieldLayout", StandAloneSig: "StandAloneSig", EventMap: "EventMap",
	Event: "Event", PropertyMap: "PropertyMap", Property: "Property",
	MethodSemantics: "MethodSemantics", MethodImpl: "MethodImpl", ModuleRef: "ModuleRef",
	TypeSpec: "TypeSpec", ImplMap: "ImplMap", FieldRVA: "FieldRVA",
	Assembly: "Assembly", AssemblyProcessor: "AssemblyProcessor", AssemblyOS: "AssemblyOS",
	AssemblyRef: "AssemblyRef", AssemblyRefProcessor: "AssemblyRefProcessor", AssemblyRefOS: "AssemblyRefOS",
	File: "File", ExportedType: "ExportedType", ManifestResource: "ManifestResource",
	NestedClass: "NestedClass", GenericParam: "GenericParam", MethodSpec: "MethodSpec",
	GenericParamConstraint: "GenericParamConstraint",
}

func (t TableID) String() string {
	if name, ok := tableIDNames[t]; ok {
		return name
	}
	return "Unused"
}

func (t TableID) defined() bool {
	_, ok := tableIDNames[t]
	return ok
}
