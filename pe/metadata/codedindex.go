package metadata

import "github.com/wanglei-coder/dnpe/pe/errs"

// CodedIndexKind names one of the coded-index column encodings ECMA-335
// §II.24.2.6 defines: a fixed number of tag bits selecting the target
// table from a fixed ordered list, the remaining bits the target row id.
type CodedIndexKind uint8

const (
	TypeDefOrRef CodedIndexKind = iota
	HasConstant
	HasCustomAttribute
	HasFieldMarshal
	HasDeclSecurity
	MemberRefParent
	HasSemantics
	MethodDefOrRef
	MemberForwarded
	Implementation
	CustomAttributeType
	ResolutionScope
	TypeOrMethodDef
)

// codedIndexSchema describes one kind: its tag width in bits and the
// ordered list of target tables the tag selects between. A noTable entry
// in Tables marks an unused tag value (e.g. CustomAttributeType's tags 0,
// 1 and 4).
type codedIndexSchema struct {
	TagBits int
	Tables  []TableID // indexed by tag value; len <= 2^TagBits, tags past the end are invalid
}

const noTable TableID = 0xFF

var codedIndexSchemas = map[CodedIndexKind]codedIndexSchema{
	TypeDefOrRef: {TagBits: 2, Tables: []TableID{TypeDef, TypeRef, TypeSpec, noTable}},
	HasConstant:  {TagBits: 2, Tables: []TableID{Field, Param, Property, noTable}},
	HasCustomAttribute: {TagBits: 5, Tables: []TableID{
		MethodDef, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef,
		Module, DeclSecurity, Property, Event, StandAloneSig, ModuleRef,
		TypeSpec, Assembly, AssemblyRef, File, ExportedType, ManifestResource,
		GenericParam, GenericParamConstraint, MethodSpec,
	}},
	HasFieldMarshal: {TagBits: 1, Tables: []TableID{Field, Param}},
	HasDeclSecurity: {TagBits: 2, Tables: []TableID{TypeDef, MethodDef, Assembly, noTable}},
	MemberRefParent: {TagBits: 3, Tables: []TableID{TypeDef, TypeRef, ModuleRef, MethodDef, TypeSpec, noTable, noTable, noTable}},
	HasSemantics:    {TagBits: 1, Tables: []TableID{Event, Property}},
	MethodDefOrRef:  {TagBits: 1, Tables: []TableID{MethodDef, MemberRef}},
	MemberForwarded: {TagBits: 1, Tables: []TableID{Field, MethodDef}},
	Implementation:  {TagBits: 2, Tables: []TableID{File, AssemblyRef, ExportedType, noTable}},
	CustomAttributeType: {TagBits: 3, Tables: []TableID{
		noTable, noTable, MethodDef, MemberRef, noTable, noTable, noTable, noTable,
	}},
	ResolutionScope:  {TagBits: 2, Tables: []TableID{Module, ModuleRef, AssemblyRef, TypeRef}},
	TypeOrMethodDef:  {TagBits: 1, Tables: []TableID{TypeDef, MethodDef}},
}

// CodedIndex is a decoded (target table, row id) pair; RowID 0 is NULL.
type CodedIndex struct {
	Table TableID
	RowID uint32
}

// decode splits a raw coded-index value into its tag and row id per kind.
func (k CodedIndexKind) decode(raw uint32) (CodedIndex, error) {
	schema := codedIndexSchemas[k]
	mask := uint32(1)<<uint(schema.TagBits) - 1
	tag := raw & mask
	rowID := raw >> uint(schema.TagBits)
	if int(tag) >= len(schema.Tables) || schema.Tables[tag] == noTable {
		return CodedIndex{}, errs.MalformedAt(uint64(raw), "coded index tag has no target table")
	}
	return CodedIndex{Table: schema.Tables[tag], RowID: rowID}, nil
}

// maxTargetRowCount returns the largest row count among the tables k can
// target, using rowCounts (indexed by TableID) for the width decision in
// §4.4's "coded index widening" rule.
func (k CodedIndexKind) maxTargetRowCount(rowCounts [NumTableIDs]uint32) uint32 {
	schema := codedIndexSchemas[k]
	var max uint32
	for _, t := range schema.Tables {
		if t == noTable {
			continue
		}
		if rowCounts[t] > max {
			max = rowCounts[t]
		}
	}
	return max
}

// width returns 2 or 4, following the rule: 4 bytes iff
// max(row_counts[target]) << tag_bits doesn't fit in 16 bits.
func (k CodedIndexKind) width(rowCounts [NumTableIDs]uint32) int {
	schema := codedIndexSchemas[k]
	maxRow := k.maxTargetRowCount(rowCounts)
	if maxRow<<uint(schema.TagBits) >= 1<<16 {
		return 4
	}
	return 2
}
