package corba

import "fmt"

// Value is a tagged, TypeCode-driven CORBA value. Unlike reflection-based
// marshaling, every Value carries an explicit Kind so the codec never has to
// guess a wire representation from a Go type: Kind and Data are always
// consistent with each other, per the table below.
//
//	Kind                                    Data
//	TC_BOOLEAN                              bool
//	TC_OCTET, TC_CHAR                       byte
//	TC_WCHAR                                uint16
//	TC_SHORT                                int16
//	TC_USHORT                               uint16
//	TC_LONG                                 int32
//	TC_ULONG                                uint32
//	TC_LONGLONG                             int64
//	TC_ULONGLONG                            uint64
//	TC_FLOAT                                float32
//	TC_DOUBLE                               float64
//	TC_STRING, TC_WSTRING                   string
//	TC_ENUM                                 uint32 (member index)
//	TC_FIXED                                FixedValue
//	TC_STRUCT, TC_EXCEPT                    StructValue
//	TC_UNION                                UnionValue
//	TC_SEQUENCE, TC_ARRAY                   []Value
//	TC_ANY                                  AnyValue
//	TC_OBJREF, TC_ABSTRACT_INTERFACE,
//	  TC_LOCAL_INTERFACE                    *IOR (nil for a nil object reference)
//	TC_VALUE                                ValueInstance
//	TC_VALUE_BOX                            *Value (the boxed value)
type Value struct {
	Kind TCKind
	Data interface{}
}

// StructValue holds the ordered member values of a struct or exception.
type StructValue struct {
	Members []Value
}

// UnionValue holds the discriminator and the single active arm of a union.
type UnionValue struct {
	Discriminator Value
	ActiveIndex   int
	Active        Value
}

// AnyValue holds a self-describing value: its TypeCode plus the value
// itself.
type AnyValue struct {
	TC    TypeCode
	Value Value
}

// FixedValue holds a fixed-point decimal as an unscaled integer plus scale,
// e.g. unscaled=12345 scale=2 represents 123.45.
type FixedValue struct {
	Unscaled int64
	Scale    int16
}

// ValueInstance holds the member values of a CORBA valuetype instance.
type ValueInstance struct {
	TC      TypeCode
	Members []Value
}

func BoolValue(b bool) Value       { return Value{TC_BOOLEAN, b} }
func OctetValue(o byte) Value      { return Value{TC_OCTET, o} }
func CharValue(c byte) Value       { return Value{TC_CHAR, c} }
func WCharValue(c uint16) Value    { return Value{TC_WCHAR, c} }
func ShortValue(v int16) Value     { return Value{TC_SHORT, v} }
func UShortValue(v uint16) Value   { return Value{TC_USHORT, v} }
func LongValue(v int32) Value      { return Value{TC_LONG, v} }
func ULongValue(v uint32) Value    { return Value{TC_ULONG, v} }
func LongLongValue(v int64) Value  { return Value{TC_LONGLONG, v} }
func ULongLongValue(v uint64) Value { return Value{TC_ULONGLONG, v} }
func FloatValue(v float32) Value   { return Value{TC_FLOAT, v} }
func DoubleValue(v float64) Value  { return Value{TC_DOUBLE, v} }
func StringValue(s string) Value   { return Value{TC_STRING, s} }
func WStringValue(s string) Value  { return Value{TC_WSTRING, s} }
func EnumValue(memberIndex uint32) Value { return Value{TC_ENUM, memberIndex} }
func FixedVal(unscaled int64, scale int16) Value {
	return Value{TC_FIXED, FixedValue{unscaled, scale}}
}
func StructVal(members []Value) Value { return Value{TC_STRUCT, StructValue{members}} }
func ExceptVal(members []Value) Value { return Value{TC_EXCEPT, StructValue{members}} }
func SequenceVal(elems []Value) Value { return Value{TC_SEQUENCE, elems} }
func ArrayVal(elems []Value) Value    { return Value{TC_ARRAY, elems} }
func AnyVal(tc TypeCode, v Value) Value {
	return Value{TC_ANY, AnyValue{TC: tc, Value: v}}
}
func ObjectVal(kind TCKind, ior *IOR) Value { return Value{kind, ior} }
func ValueInstanceVal(tc TypeCode, members []Value) Value {
	return Value{TC_VALUE, ValueInstance{TC: tc, Members: members}}
}
func NullValue() Value { return Value{TC_NULL, nil} }

// Bool, Octet, ... extract the underlying Go value, panicking if Kind
// doesn't match. Callers driven by a TypeCode (the common case) know the
// Kind in advance; these are for code that already validated it.
func (v Value) Bool() bool               { return v.Data.(bool) }
func (v Value) Octet() byte              { return v.Data.(byte) }
func (v Value) Short() int16             { return v.Data.(int16) }
func (v Value) UShort() uint16           { return v.Data.(uint16) }
func (v Value) Long() int32              { return v.Data.(int32) }
func (v Value) ULong() uint32            { return v.Data.(uint32) }
func (v Value) LongLong() int64          { return v.Data.(int64) }
func (v Value) ULongLong() uint64        { return v.Data.(uint64) }
func (v Value) Float() float32           { return v.Data.(float32) }
func (v Value) Double() float64          { return v.Data.(float64) }
func (v Value) Str() string              { return v.Data.(string) }
func (v Value) EnumIndex() uint32        { return v.Data.(uint32) }
func (v Value) Struct() StructValue      { return v.Data.(StructValue) }
func (v Value) Union() UnionValue        { return v.Data.(UnionValue) }
func (v Value) Sequence() []Value        { return v.Data.([]Value) }
func (v Value) Any() AnyValue            { return v.Data.(AnyValue) }
func (v Value) ObjRef() *IOR {
	if v.Data == nil {
		return nil
	}
	return v.Data.(*IOR)
}
func (v Value) ValueInst() ValueInstance { return v.Data.(ValueInstance) }
func (v Value) Boxed() Value             { return *(v.Data.(*Value)) }

func (v Value) String() string {
	switch v.Kind {
	case TC_NULL:
		return "null"
	case TC_STRING, TC_WSTRING:
		return fmt.Sprintf("%q", v.Data)
	default:
		return fmt.Sprintf("%v", v.Data)
	}
}

// valuesEqual compares two scalar Values for union discriminator matching.
// CORBA restricts union discriminators to integer, char, boolean and enum
// types, all of which are comparable Go values, so a direct comparison of
// Data suffices.
func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	return a.Data == b.Data
}
