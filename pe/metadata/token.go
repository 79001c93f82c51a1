package metadata

// Token is a 32-bit CLI metadata token: the high byte is a TableID, the
// low 24 bits a 1-based row id. Token(0) is NULL.
type Token uint32

func NewToken(table TableID, rowID uint32) Token {
	return Token(uint32(table)<<24 | rowID&0x00FFFFFF)
}

func (t Token) Table() TableID { return TableID(t >> 24) }
func (t Token) RowID() uint32  { return uint32(t) & 0x00FFFFFF }
func (t Token) IsNull() bool   { return t.RowID() == 0 }

// TokenResolver resolves metadata tokens and coded indices against a
// MetadataRoot's tables heap. It holds a non-owning back reference; its
// lifetime must not outlive the NetDirectory/MetadataRoot it was built
// from.
type TokenResolver struct {
	root *MetadataRoot
}

func NewTokenResolver(root *MetadataRoot) *TokenResolver { return &TokenResolver{root: root} }

// Resolve looks up t's row, returning (row, true) or (zero, false) for
// NULL or an out-of-range row id.
func (tr *TokenResolver) Resolve(t Token) (TableRow, bool) {
	if tr.root == nil || tr.root.Tables == nil || t.IsNull() {
		return TableRow{}, false
	}
	return tr.root.Tables.Row(t.Table(), t.RowID())
}

// ResolveCoded looks up the row a decoded CodedIndex points at.
func (tr *TokenResolver) ResolveCoded(c CodedIndex) (TableRow, bool) {
	if tr.root == nil || tr.root.Tables == nil || c.RowID == 0 {
		return TableRow{}, false
	}
	return tr.root.Tables.Row(c.Table, c.RowID)
}

// The following are named per-kind conveniences over ResolveCoded's
// generic decode step, one per ECMA-335 coded-index kind this engine
// supports; each fixes the CodedIndexKind so callers don't have to name it
// at every call site.

func (tr *TokenResolver) ResolveTypeDefOrRef(raw uint32) (TableRow, bool) {
	return tr.resolveKind(TypeDefOrRef, raw)
}
func (tr *TokenResolver) ResolveHasConstant(raw uint32) (TableRow, bool) {
	return tr.resolveKind(HasConstant, raw)
}
func (tr *TokenResolver) ResolveHasCustomAttribute(raw uint32) (TableRow, bool) {
	return tr.resolveKind(HasCustomAttribute, raw)
}
func (tr *TokenResolver) ResolveHasFieldMarshal(raw uint32) (TableRow, bool) {
	return tr.resolveKind(HasFieldMarshal, raw)
}
func (tr *TokenResolver) ResolveHasDeclSecurity(raw uint32) (TableRow, bool) {
	return tr.resolveKind(HasDeclSecurity, raw)
}
func (tr *TokenResolver) ResolveMemberRefParent(raw uint32) (TableRow, bool) {
	return tr.resolveKind(MemberRefParent, raw)
}
func (tr *TokenResolver) ResolveHasSemantics(raw uint32) (TableRow, bool) {
	return tr.resolveKind(HasSemantics, raw)
}
func (tr *TokenResolver) ResolveMethodDefOrRef(raw uint32) (TableRow, bool) {
	return tr.resolveKind(MethodDefOrRef, raw)
}
func (tr *TokenResolver) ResolveMemberForwarded(raw uint32) (TableRow, bool) {
	return tr.resolveKind(MemberForwarded, raw)
}
func (tr *TokenResolver) ResolveImplementation(raw uint32) (TableRow, bool) {
	return tr.resolveKind(Implementation, raw)
}
func (tr *TokenResolver) ResolveCustomAttributeType(raw uint32) (TableRow, bool) {
	return tr.resolveKind(CustomAttributeType, raw)
}
func (tr *TokenResolver) ResolveResolutionScope(raw uint32) (TableRow, bool) {
	return tr.resolveKind(ResolutionScope, raw)
}
func (tr *TokenResolver) ResolveTypeOrMethodDef(raw uint32) (TableRow, bool) {
	return tr.resolveKind(TypeOrMethodDef, raw)
}

func (tr *TokenResolver) resolveKind(k CodedIndexKind, raw uint32) (TableRow, bool) {
	ci, err := k.decode(raw)
	if err != nil {
		return TableRow{}, false
	}
	return tr.ResolveCoded(ci)
}
