package corba

import (
	"fmt"
	"sync"
)

// TCKind identifies the kind of a CORBA TypeCode, CORBA 3.4 spec 3.8.3.
// Values follow the standard tk_* numbering so they serialize correctly on
// the wire.
type TCKind uint32

const (
	TC_NULL TCKind = iota
	TC_VOID
	TC_SHORT
	TC_LONG
	TC_USHORT
	TC_ULONG
	TC_FLOAT
	TC_DOUBLE
	TC_BOOLEAN
	TC_CHAR
	TC_OCTET
	TC_ANY
	TC_TYPECODE
	TC_PRINCIPAL
	TC_OBJREF
	TC_STRUCT
	TC_UNION
	TC_ENUM
	TC_STRING
	TC_SEQUENCE
	TC_ARRAY
	TC_ALIAS
	TC_EXCEPT
	TC_LONGLONG
	TC_ULONGLONG
	TC_LONGDOUBLE
	TC_WCHAR
	TC_WSTRING
	TC_FIXED
	TC_VALUE
	TC_VALUE_BOX
	TC_NATIVE
	TC_ABSTRACT_INTERFACE
	TC_LOCAL_INTERFACE
)

func (k TCKind) String() string {
	switch k {
	case TC_NULL:
		return "null"
	case TC_VOID:
		return "void"
	case TC_SHORT:
		return "short"
	case TC_LONG:
		return "long"
	case TC_USHORT:
		return "unsigned short"
	case TC_ULONG:
		return "unsigned long"
	case TC_FLOAT:
		return "float"
	case TC_DOUBLE:
		return "double"
	case TC_BOOLEAN:
		return "boolean"
	case TC_CHAR:
		return "char"
	case TC_OCTET:
		return "octet"
	case TC_ANY:
		return "any"
	case TC_TYPECODE:
		return "TypeCode"
	case TC_PRINCIPAL:
		return "Principal"
	case TC_OBJREF:
		return "object reference"
	case TC_STRUCT:
		return "struct"
	case TC_UNION:
		return "union"
	case TC_ENUM:
		return "enum"
	case TC_STRING:
		return "string"
	case TC_SEQUENCE:
		return "sequence"
	case TC_ARRAY:
		return "array"
	case TC_ALIAS:
		return "alias"
	case TC_EXCEPT:
		return "except"
	case TC_LONGLONG:
		return "long long"
	case TC_ULONGLONG:
		return "unsigned long long"
	case TC_LONGDOUBLE:
		return "long double"
	case TC_WCHAR:
		return "wchar"
	case TC_WSTRING:
		return "wstring"
	case TC_FIXED:
		return "fixed"
	case TC_VALUE:
		return "value"
	case TC_VALUE_BOX:
		return "value box"
	case TC_NATIVE:
		return "native"
	case TC_ABSTRACT_INTERFACE:
		return "abstract interface"
	case TC_LOCAL_INTERFACE:
		return "local interface"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

// Member describes one member of a struct, exception or union TypeCode.
type Member struct {
	Name  string
	Type  TypeCode
	Label Value // union members only; zero Value for struct/exception members
}

// VALUE member visibility, CORBA 3.4 spec 15.3.5.6.
const (
	PrivateMember = 0
	PublicMember  = 1
)

// ValueModifier controls inheritance/mutability semantics of a valuetype.
const (
	VMNone       = 0
	VMCustom     = 1
	VMAbstract   = 2
	VMTruncatable = 3
)

// TypeCode describes the shape of a CORBA value, mirroring the CORBA::TypeCode
// pseudo-object interface (CORBA 3.4 spec 3.8.3) closely enough to drive the
// value codec without a full Interface Repository behind it.
type TypeCode interface {
	Kind() TCKind
	Id() string
	Name() string

	// Member accessors, meaningful for struct/union/enum/except; return an
	// error for kinds that don't have members.
	MemberCount() int
	MemberName(index int) (string, error)
	MemberType(index int) (TypeCode, error)
	MemberLabel(index int) (Value, error)

	// ContentType returns the element type for sequence/array/alias/value_box.
	ContentType() (TypeCode, error)

	// DiscriminatorType and DefaultIndex are meaningful for unions only.
	DiscriminatorType() (TypeCode, error)
	DefaultIndex() int

	// Length returns the bound for string/wstring/sequence/array, 0 if
	// unbounded.
	Length() int

	// Equal reports structural equality per CORBA 3.4 spec 3.8.3's
	// equivalence rules (compares by repository id where the kind carries
	// one, recursively otherwise).
	Equal(other TypeCode) bool

	String() string
}

type tcBase struct {
	kind TCKind
	id   string
	name string
}

func (b *tcBase) Kind() TCKind { return b.kind }
func (b *tcBase) Id() string   { return b.id }
func (b *tcBase) Name() string { return b.name }
func (b *tcBase) MemberCount() int                  { return 0 }
func (b *tcBase) MemberName(int) (string, error)    { return "", fmt.Errorf("corba: %s has no members", b.kind) }
func (b *tcBase) MemberType(int) (TypeCode, error)  { return nil, fmt.Errorf("corba: %s has no members", b.kind) }
func (b *tcBase) MemberLabel(int) (Value, error)    { return Value{}, fmt.Errorf("corba: %s has no members", b.kind) }
func (b *tcBase) ContentType() (TypeCode, error)    { return nil, fmt.Errorf("corba: %s has no content type", b.kind) }
func (b *tcBase) DiscriminatorType() (TypeCode, error) {
	return nil, fmt.Errorf("corba: %s is not a union", b.kind)
}
func (b *tcBase) DefaultIndex() int { return -1 }
func (b *tcBase) Length() int       { return 0 }
func (b *tcBase) String() string    { return b.name }

// basicTypeCode covers every TCKind with no parameters: the primitive types,
// any, TypeCode itself and Principal.
type basicTypeCode struct{ tcBase }

func newBasic(kind TCKind) *basicTypeCode {
	return &basicTypeCode{tcBase{kind: kind, id: "", name: kind.String()}}
}
func (b *basicTypeCode) Equal(other TypeCode) bool { return other != nil && other.Kind() == b.kind }

var basicTypeCodes = func() map[TCKind]*basicTypeCode {
	m := make(map[TCKind]*basicTypeCode)
	for _, k := range []TCKind{
		TC_NULL, TC_VOID, TC_SHORT, TC_LONG, TC_USHORT, TC_ULONG, TC_FLOAT,
		TC_DOUBLE, TC_BOOLEAN, TC_CHAR, TC_OCTET, TC_ANY, TC_TYPECODE,
		TC_PRINCIPAL, TC_LONGLONG, TC_ULONGLONG, TC_LONGDOUBLE, TC_WCHAR,
	} {
		m[k] = newBasic(k)
	}
	return m
}()

// BasicTypeCode returns the shared TypeCode instance for a parameterless
// TCKind. It panics if kind takes parameters; callers that accept arbitrary
// TCKind values from untrusted input must check the kind before calling it.
func BasicTypeCode(kind TCKind) TypeCode {
	tc, ok := basicTypeCodes[kind]
	if !ok {
		panic(fmt.Sprintf("corba: %s is not a basic TypeCode kind", kind))
	}
	return tc
}

// stringTypeCode covers TC_STRING and TC_WSTRING, each with a single bound
// parameter (0 meaning unbounded).
type stringTypeCode struct {
	tcBase
	bound int
}

// NewStringTC returns a string TypeCode with the given bound (0 = unbounded).
func NewStringTC(bound int) TypeCode {
	return &stringTypeCode{tcBase{kind: TC_STRING, name: "string"}, bound}
}

// NewWStringTC returns a wstring TypeCode with the given bound (0 = unbounded).
func NewWStringTC(bound int) TypeCode {
	return &stringTypeCode{tcBase{kind: TC_WSTRING, name: "wstring"}, bound}
}

func (s *stringTypeCode) Length() int { return s.bound }
func (s *stringTypeCode) Equal(other TypeCode) bool {
	return other != nil && other.Kind() == s.kind && other.Length() == s.bound
}

// fixedTypeCode covers TC_FIXED, parameterized by digits and scale.
type fixedTypeCode struct {
	tcBase
	Digits uint16
	Scale  int16
}

// NewFixedTC returns a fixed-point TypeCode with the given digit count and scale.
func NewFixedTC(digits uint16, scale int16) TypeCode {
	return &fixedTypeCode{tcBase{kind: TC_FIXED, name: "fixed"}, digits, scale}
}
func (f *fixedTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*fixedTypeCode)
	return ok && o.Digits == f.Digits && o.Scale == f.Scale
}

// enumTypeCode covers TC_ENUM: an ordered list of member names.
type enumTypeCode struct {
	tcBase
	members []string
}

// NewEnumTC returns an enum TypeCode with the given repository id, name and
// ordered member list.
func NewEnumTC(id, name string, members []string) TypeCode {
	return &enumTypeCode{tcBase{kind: TC_ENUM, id: id, name: name}, members}
}
func (e *enumTypeCode) MemberCount() int { return len(e.members) }
func (e *enumTypeCode) MemberName(i int) (string, error) {
	if i < 0 || i >= len(e.members) {
		return "", fmt.Errorf("corba: enum member index %d out of range", i)
	}
	return e.members[i], nil
}
func (e *enumTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*enumTypeCode)
	return ok && o.id == e.id
}

// structTypeCode covers TC_STRUCT and, when built by NewExceptionTC with
// kind TC_EXCEPT, exceptions: an ordered list of named, typed members.
type structTypeCode struct {
	tcBase
	members []Member
}

// NewStructTC returns a struct TypeCode with the given repository id, name
// and ordered members.
func NewStructTC(id, name string, members []Member) TypeCode {
	return &structTypeCode{tcBase{kind: TC_STRUCT, id: id, name: name}, members}
}

// NewExceptionTC returns an exception TypeCode; identical in shape to a
// struct TypeCode but tagged TC_EXCEPT, CORBA 3.4 spec 3.8.3.
func NewExceptionTC(id, name string, members []Member) TypeCode {
	return &structTypeCode{tcBase{kind: TC_EXCEPT, id: id, name: name}, members}
}
func (s *structTypeCode) MemberCount() int { return len(s.members) }
func (s *structTypeCode) MemberName(i int) (string, error) {
	if i < 0 || i >= len(s.members) {
		return "", fmt.Errorf("corba: struct member index %d out of range", i)
	}
	return s.members[i].Name, nil
}
func (s *structTypeCode) MemberType(i int) (TypeCode, error) {
	if i < 0 || i >= len(s.members) {
		return nil, fmt.Errorf("corba: struct member index %d out of range", i)
	}
	return s.members[i].Type, nil
}
func (s *structTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*structTypeCode)
	return ok && o.kind == s.kind && o.id == s.id
}

// unionTypeCode covers TC_UNION: a discriminator type plus a set of labeled
// member arms and an optional default arm.
type unionTypeCode struct {
	tcBase
	discriminator TypeCode
	members       []Member
	defaultIndex  int
}

// NewUnionTC returns a union TypeCode. defaultIndex is -1 if there is no
// default arm, otherwise the index into members whose Label is ignored.
func NewUnionTC(id, name string, discriminator TypeCode, members []Member, defaultIndex int) TypeCode {
	return &unionTypeCode{tcBase{kind: TC_UNION, id: id, name: name}, discriminator, members, defaultIndex}
}
func (u *unionTypeCode) MemberCount() int { return len(u.members) }
func (u *unionTypeCode) MemberName(i int) (string, error) {
	if i < 0 || i >= len(u.members) {
		return "", fmt.Errorf("corba: union member index %d out of range", i)
	}
	return u.members[i].Name, nil
}
func (u *unionTypeCode) MemberType(i int) (TypeCode, error) {
	if i < 0 || i >= len(u.members) {
		return nil, fmt.Errorf("corba: union member index %d out of range", i)
	}
	return u.members[i].Type, nil
}
func (u *unionTypeCode) MemberLabel(i int) (Value, error) {
	if i < 0 || i >= len(u.members) {
		return Value{}, fmt.Errorf("corba: union member index %d out of range", i)
	}
	return u.members[i].Label, nil
}
func (u *unionTypeCode) DiscriminatorType() (TypeCode, error) { return u.discriminator, nil }
func (u *unionTypeCode) DefaultIndex() int                    { return u.defaultIndex }
func (u *unionTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*unionTypeCode)
	return ok && o.id == u.id
}

// memberIndexForLabel returns the index of the union arm selected by the
// given discriminator value, falling back to the default arm, per CORBA 3.4
// spec 15.3.5.5.
func (u *unionTypeCode) memberIndexForLabel(disc Value) (int, bool) {
	for i, m := range u.members {
		if i == u.defaultIndex {
			continue
		}
		if valuesEqual(m.Label, disc) {
			return i, true
		}
	}
	if u.defaultIndex >= 0 {
		return u.defaultIndex, true
	}
	return -1, false
}

// sequenceTypeCode covers TC_SEQUENCE: a single element type plus a bound
// (0 meaning unbounded).
type sequenceTypeCode struct {
	tcBase
	elem  TypeCode
	bound int
}

// NewSequenceTC returns a sequence TypeCode of elem with the given bound.
func NewSequenceTC(elem TypeCode, bound int) TypeCode {
	return &sequenceTypeCode{tcBase{kind: TC_SEQUENCE, name: "sequence"}, elem, bound}
}
func (s *sequenceTypeCode) ContentType() (TypeCode, error) { return s.elem, nil }
func (s *sequenceTypeCode) Length() int                    { return s.bound }
func (s *sequenceTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*sequenceTypeCode)
	return ok && o.bound == s.bound && o.elem.Equal(s.elem)
}

// arrayTypeCode covers TC_ARRAY: a single element type and a fixed,
// non-zero length.
type arrayTypeCode struct {
	tcBase
	elem   TypeCode
	length int
}

// NewArrayTC returns an array TypeCode of elem with the given fixed length.
func NewArrayTC(elem TypeCode, length int) TypeCode {
	return &arrayTypeCode{tcBase{kind: TC_ARRAY, name: "array"}, elem, length}
}
func (a *arrayTypeCode) ContentType() (TypeCode, error) { return a.elem, nil }
func (a *arrayTypeCode) Length() int                    { return a.length }
func (a *arrayTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*arrayTypeCode)
	return ok && o.length == a.length && o.elem.Equal(a.elem)
}

// aliasTypeCode covers TC_ALIAS: a typedef over another TypeCode, carrying
// its own repository id but delegating all wire behavior to ContentType.
type aliasTypeCode struct {
	tcBase
	elem TypeCode
}

// NewAliasTC returns an alias (typedef) TypeCode over elem.
func NewAliasTC(id, name string, elem TypeCode) TypeCode {
	return &aliasTypeCode{tcBase{kind: TC_ALIAS, id: id, name: name}, elem}
}
func (a *aliasTypeCode) ContentType() (TypeCode, error) { return a.elem, nil }
func (a *aliasTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*aliasTypeCode)
	return ok && o.id == a.id
}

// Resolve strips away any chain of alias TypeCodes, returning the first
// non-alias TypeCode underneath.
func Resolve(tc TypeCode) TypeCode {
	for tc.Kind() == TC_ALIAS {
		next, err := tc.ContentType()
		if err != nil {
			return tc
		}
		tc = next
	}
	return tc
}

// objrefTypeCode covers TC_OBJREF, TC_ABSTRACT_INTERFACE and
// TC_LOCAL_INTERFACE: an interface reference identified by repository id.
type objrefTypeCode struct{ tcBase }

// NewInterfaceTC returns an object reference TypeCode for the given kind
// (TC_OBJREF, TC_ABSTRACT_INTERFACE or TC_LOCAL_INTERFACE).
func NewInterfaceTC(kind TCKind, id, name string) TypeCode {
	return &objrefTypeCode{tcBase{kind: kind, id: id, name: name}}
}
func (o *objrefTypeCode) Equal(other TypeCode) bool {
	other2, ok := other.(*objrefTypeCode)
	return ok && other2.kind == o.kind && other2.id == o.id
}

// valueTypeCode covers TC_VALUE: a valuetype with members, a modifier and an
// optional base valuetype it truncates to.
type valueTypeCode struct {
	tcBase
	modifier int16
	base     TypeCode // nil if no base valuetype
	members  []Member
}

// NewValueTC returns a valuetype TypeCode.
func NewValueTC(id, name string, modifier int16, base TypeCode, members []Member) TypeCode {
	return &valueTypeCode{tcBase{kind: TC_VALUE, id: id, name: name}, modifier, base, members}
}
func (v *valueTypeCode) MemberCount() int { return len(v.members) }
func (v *valueTypeCode) MemberName(i int) (string, error) {
	if i < 0 || i >= len(v.members) {
		return "", fmt.Errorf("corba: value member index %d out of range", i)
	}
	return v.members[i].Name, nil
}
func (v *valueTypeCode) MemberType(i int) (TypeCode, error) {
	if i < 0 || i >= len(v.members) {
		return nil, fmt.Errorf("corba: value member index %d out of range", i)
	}
	return v.members[i].Type, nil
}
func (v *valueTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*valueTypeCode)
	return ok && o.id == v.id
}

// valueBoxTypeCode covers TC_VALUE_BOX: a valuetype that boxes a single
// value of some other type, e.g. the well-known StringValue/WStringValue.
type valueBoxTypeCode struct {
	tcBase
	elem TypeCode
}

// NewValueBoxTC returns a value_box TypeCode boxing elem.
func NewValueBoxTC(id, name string, elem TypeCode) TypeCode {
	return &valueBoxTypeCode{tcBase{kind: TC_VALUE_BOX, id: id, name: name}, elem}
}
func (v *valueBoxTypeCode) ContentType() (TypeCode, error) { return v.elem, nil }
func (v *valueBoxTypeCode) Equal(other TypeCode) bool {
	o, ok := other.(*valueBoxTypeCode)
	return ok && o.id == v.id
}

// Well-known boxed-string valuetype repository ids, CORBA 3.4 spec 15.3.9.2.
const (
	StringValueID  = "IDL:omg.org/CORBA/StringValue:1.0"
	WStringValueID = "IDL:omg.org/CORBA/WStringValue:1.0"
)

// StringValueTC and WStringValueTC are the two standard boxed-string
// valuetypes shared across Any encodings.
var (
	StringValueTC  = NewValueBoxTC(StringValueID, "StringValue", NewStringTC(0))
	WStringValueTC = NewValueBoxTC(WStringValueID, "WStringValue", NewWStringTC(0))
)

// typeCodeRegistry maps repository ids to TypeCodes. DecodeTypeCode and the
// exception TypeCode constructors register into it, and exception
// unmarshaling looks TypeCodes up in it; TypeCode indirection is not
// resolved through it.
type typeCodeRegistry struct {
	mu   sync.RWMutex
	byID map[string]TypeCode
}

var globalTypeCodeRegistry = &typeCodeRegistry{byID: make(map[string]TypeCode)}

// RegisterTypeCode makes tc resolvable by its repository id through
// LookupTypeCode. Safe to call with TypeCodes that have no id; such calls are
// no-ops.
func RegisterTypeCode(tc TypeCode) {
	if tc.Id() == "" {
		return
	}
	globalTypeCodeRegistry.mu.Lock()
	defer globalTypeCodeRegistry.mu.Unlock()
	globalTypeCodeRegistry.byID[tc.Id()] = tc
}

// LookupTypeCode returns a previously registered TypeCode by repository id.
func LookupTypeCode(id string) (TypeCode, bool) {
	globalTypeCodeRegistry.mu.RLock()
	defer globalTypeCodeRegistry.mu.RUnlock()
	tc, ok := globalTypeCodeRegistry.byID[id]
	return tc, ok
}
