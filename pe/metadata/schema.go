package metadata

// columnKind distinguishes how a table column's on-disk width is chosen
// and how its raw value should be interpreted.
type columnKind uint8

const (
	colFixed2 columnKind = iota // small fixed-width scalar (flags, counters), 2 bytes
	colFixed4                   // large fixed-width scalar (RVA, size), 4 bytes
	colString                   // #Strings heap index
	colGUID                     // #GUID heap index
	colBlob                     // #Blob heap index
	colSimple                   // simple index into a single named table
	colCoded                    // coded index selecting among several tables
)

// ColumnSpec describes one column of a table row.
type ColumnSpec struct {
	Name   string
	Kind   columnKind
	Target TableID        // for colSimple
	Coded  CodedIndexKind // for colCoded
}

func fixed2(name string) ColumnSpec { return ColumnSpec{Name: name, Kind: colFixed2} }
func fixed4(name string) ColumnSpec { return ColumnSpec{Name: name, Kind: colFixed4} }
func str(name string) ColumnSpec    { return ColumnSpec{Name: name, Kind: colString} }
func guid(name string) ColumnSpec   { return ColumnSpec{Name: name, Kind: colGUID} }
func blob(name string) ColumnSpec   { return ColumnSpec{Name: name, Kind: colBlob} }
func simple(name string, t TableID) ColumnSpec {
	return ColumnSpec{Name: name, Kind: colSimple, Target: t}
}
func coded(name string, k CodedIndexKind) ColumnSpec {
	return ColumnSpec{Name: name, Kind: colCoded, Coded: k}
}

// tableSchemas is the ECMA-335 §II.22 column layout for every defined
// table; unused table-id slots (see tableid.go) have no entry.
var tableSchemas = map[TableID][]ColumnSpec{
	Module: {fixed2("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},

	TypeRef: {coded("ResolutionScope", ResolutionScope), str("TypeName"), str("TypeNamespace")},

	TypeDef: {
		fixed4("Flags"), str("TypeName"), str("TypeNamespace"),
		coded("Extends", TypeDefOrRef), simple("FieldList", Field), simple("MethodList", MethodDef),
	},

	Field: {fixed2("Flags"), str("Name"), blob("Signature")},

	MethodDef: {
		fixed4("RVA"), fixed2("ImplFlags"), fixed2("Flags"), str("Name"),
		blob("Signature"), simple("ParamList", Param),
	},

	Param: {fixed2("Flags"), fixed2("Sequence"), str("Name")},

	InterfaceImpl: {simple("Class", TypeDef), coded("Interface", TypeDefOrRef)},

	MemberRef: {coded("Class", MemberRefParent), str("Name"), blob("Signature")},

	Constant: {fixed2("Type"), coded("Parent", HasConstant), blob("Value")},

	CustomAttribute: {
		coded("Parent", HasCustomAttribute), coded("Type", CustomAttributeType), blob("Value"),
	},

	FieldMarshal: {coded("Parent", HasFieldMarshal), blob("NativeType")},

	DeclSecurity: {fixed2("Action"), coded("Parent", HasDeclSecurity), blob("PermissionSet")},

	ClassLayout: {fixed2("PackingSize"), fixed4("ClassSize"), simple("Parent", TypeDef)},

	FieldLayout: {fixed4("Offset"), simple("Field", Field)},

	StandAloneSig: {blob("Signature")},

	EventMap: {simple("Parent", TypeDef), simple("EventList", Event)},

	Event: {fixed2("EventFlags"), str("Name"), coded("EventType", TypeDefOrRef)},

	PropertyMap: {simple("Parent", TypeDef), simple("PropertyList", Property)},

	Property: {fixed2("Flags"), str("Name"), blob("Type")},

	MethodSemantics: {
		fixed2("Semantics"), simple("Method", MethodDef), coded("Association", HasSemantics),
	},

	MethodImpl: {
		simple("Class", TypeDef), coded("MethodBody", MethodDefOrRef), coded("MethodDeclaration", MethodDefOrRef),
	},

	ModuleRef: {str("Name")},

	TypeSpec: {blob("Signature")},

	ImplMap: {
		fixed2("MappingFlags"), coded("MemberForwarded", MemberForwarded),
		str("ImportName"), simple("ImportScope", ModuleRef),
	},

	FieldRVA: {fixed4("RVA"), simple("Field", Field)},

	Assembly: {
		fixed4("HashAlgId"), fixed2("MajorVersion"), fixed2("MinorVersion"),
		fixed2("BuildNumber"), fixed2("RevisionNumber"), fixed4("Flags"),
		blob("PublicKey"), str("Name"), str("Culture"),
	},

	AssemblyProcessor: {fixed4("Processor")},

	AssemblyOS: {fixed4("OSPlatformID"), fixed4("OSMajorVersion"), fixed4("OSMinorVersion")},

	AssemblyRef: {
		fixed2("MajorVersion"), fixed2("MinorVersion"), fixed2("BuildNumber"), fixed2("RevisionNumber"),
		fixed4("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"), blob("HashValue"),
	},

	AssemblyRefProcessor: {fixed4("Processor"), simple("AssemblyRef", AssemblyRef)},

	AssemblyRefOS: {
		fixed4("OSPlatformID"), fixed4("OSMajorVersion"), fixed4("OSMinorVersion"), simple("AssemblyRef", AssemblyRef),
	},

	File: {fixed4("Flags"), str("Name"), blob("HashValue")},

	ExportedType: {
		fixed4("Flags"), fixed4("TypeDefId"), str("TypeName"), str("TypeNamespace"),
		coded("Implementation", Implementation),
	},

	ManifestResource: {
		fixed4("Offset"), fixed4("Flags"), str("Name"), coded("Implementation", Implementation),
	},

	NestedClass: {simple("NestedClass", TypeDef), simple("EnclosingClass", TypeDef)},

	GenericParam: {
		fixed2("Number"), fixed2("Flags"), coded("Owner", TypeOrMethodDef), str("Name"),
	},

	MethodSpec: {coded("Method", MethodDefOrRef), blob("Instantiation")},

	GenericParamConstraint: {simple("Owner", GenericParam), coded("Constraint", TypeDefOrRef)},
}
