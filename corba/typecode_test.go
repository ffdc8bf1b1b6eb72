package corba

import (
	"encoding/binary"
	"testing"

	"github.com/corbaworks/goiiop/giop"
)

func roundTripTypeCode(t *testing.T, tc TypeCode) TypeCode {
	t.Helper()
	e := giop.NewEncoder(binary.BigEndian)
	if err := EncodeTypeCode(e, tc); err != nil {
		t.Fatalf("EncodeTypeCode: %v", err)
	}
	d := giop.NewDecoder(e.Bytes(), binary.BigEndian)
	got, err := DecodeTypeCode(d)
	if err != nil {
		t.Fatalf("DecodeTypeCode: %v", err)
	}
	return got
}

func TestBasicTypeCodeRoundTrip(t *testing.T) {
	for _, kind := range []TCKind{TC_LONG, TC_DOUBLE, TC_BOOLEAN, TC_OCTET, TC_ANY} {
		tc := BasicTypeCode(kind)
		got := roundTripTypeCode(t, tc)
		if got.Kind() != kind {
			t.Fatalf("kind %s round-tripped as %s", kind, got.Kind())
		}
		if !tc.Equal(got) {
			t.Fatalf("expected %s to equal its round trip", kind)
		}
	}
}

func TestStringTypeCodeRoundTrip(t *testing.T) {
	tc := NewStringTC(64)
	got := roundTripTypeCode(t, tc)
	if got.Length() != 64 || got.Kind() != TC_STRING {
		t.Fatalf("unexpected round trip: kind=%s length=%d", got.Kind(), got.Length())
	}
}

func TestFixedTypeCodeRoundTrip(t *testing.T) {
	tc := NewFixedTC(7, 3)
	got := roundTripTypeCode(t, tc)
	ftc, ok := got.(*fixedTypeCode)
	if !ok {
		t.Fatalf("expected *fixedTypeCode, got %T", got)
	}
	if ftc.Digits != 7 || ftc.Scale != 3 {
		t.Fatalf("unexpected fixed params: digits=%d scale=%d", ftc.Digits, ftc.Scale)
	}
}

func TestSequenceAndArrayTypeCodeRoundTrip(t *testing.T) {
	seq := NewSequenceTC(BasicTypeCode(TC_SHORT), 10)
	gotSeq := roundTripTypeCode(t, seq)
	if gotSeq.Kind() != TC_SEQUENCE || gotSeq.Length() != 10 {
		t.Fatalf("unexpected sequence round trip: %+v", gotSeq)
	}
	elem, err := gotSeq.ContentType()
	if err != nil || elem.Kind() != TC_SHORT {
		t.Fatalf("unexpected sequence element type: %v, %v", elem, err)
	}

	arr := NewArrayTC(BasicTypeCode(TC_OCTET), 4)
	gotArr := roundTripTypeCode(t, arr)
	if gotArr.Kind() != TC_ARRAY || gotArr.Length() != 4 {
		t.Fatalf("unexpected array round trip: %+v", gotArr)
	}
}

func TestStructTypeCodeRoundTrip(t *testing.T) {
	tc := NewStructTC("IDL:demo/Point:1.0", "Point", []Member{
		{Name: "x", Type: BasicTypeCode(TC_LONG)},
		{Name: "y", Type: BasicTypeCode(TC_LONG)},
	})
	got := roundTripTypeCode(t, tc)
	if got.Kind() != TC_STRUCT || got.Id() != tc.Id() || got.Name() != "Point" {
		t.Fatalf("unexpected struct round trip: %+v", got)
	}
	if got.MemberCount() != 2 {
		t.Fatalf("expected 2 members, got %d", got.MemberCount())
	}
	name, err := got.MemberName(0)
	if err != nil || name != "x" {
		t.Fatalf("unexpected member 0 name: %q, %v", name, err)
	}
	mt, err := got.MemberType(1)
	if err != nil || mt.Kind() != TC_LONG {
		t.Fatalf("unexpected member 1 type: %v, %v", mt, err)
	}
	if !tc.Equal(got) {
		t.Fatal("expected struct TypeCode to equal its round trip by repository id")
	}
}

func TestEnumTypeCodeRoundTrip(t *testing.T) {
	tc := NewEnumTC("IDL:demo/Color:1.0", "Color", []string{"RED", "GREEN", "BLUE"})
	got := roundTripTypeCode(t, tc)
	if got.MemberCount() != 3 {
		t.Fatalf("expected 3 enum members, got %d", got.MemberCount())
	}
	name, err := got.MemberName(2)
	if err != nil || name != "BLUE" {
		t.Fatalf("unexpected enum member 2: %q, %v", name, err)
	}
}

func TestUnionTypeCodeRoundTrip(t *testing.T) {
	disc := BasicTypeCode(TC_LONG)
	tc := NewUnionTC("IDL:demo/Choice:1.0", "Choice", disc, []Member{
		{Name: "a", Type: BasicTypeCode(TC_LONG), Label: LongValue(1)},
		{Name: "b", Type: NewStringTC(0), Label: LongValue(2)},
		{Name: "fallback", Type: BasicTypeCode(TC_LONG), Label: Value{}},
	}, 2)

	got := roundTripTypeCode(t, tc)
	if got.MemberCount() != 3 {
		t.Fatalf("expected 3 union members, got %d", got.MemberCount())
	}
	if got.DefaultIndex() != 2 {
		t.Fatalf("expected default index 2, got %d", got.DefaultIndex())
	}
	label, err := got.MemberLabel(0)
	if err != nil || label.Long() != 1 {
		t.Fatalf("unexpected member 0 label: %v, %v", label, err)
	}
	discGot, err := got.DiscriminatorType()
	if err != nil || discGot.Kind() != TC_LONG {
		t.Fatalf("unexpected discriminator type: %v, %v", discGot, err)
	}
}

func TestAliasTypeCodeRoundTrip(t *testing.T) {
	tc := NewAliasTC("IDL:demo/MyLong:1.0", "MyLong", BasicTypeCode(TC_LONG))
	got := roundTripTypeCode(t, tc)
	if got.Kind() != TC_ALIAS {
		t.Fatalf("expected TC_ALIAS, got %s", got.Kind())
	}
	resolved := Resolve(got)
	if resolved.Kind() != TC_LONG {
		t.Fatalf("expected Resolve to strip the alias down to TC_LONG, got %s", resolved.Kind())
	}
}

func TestInterfaceTypeCodeRoundTrip(t *testing.T) {
	tc := NewInterfaceTC(TC_OBJREF, "IDL:demo/Thing:1.0", "Thing")
	got := roundTripTypeCode(t, tc)
	if got.Kind() != TC_OBJREF || got.Id() != tc.Id() || got.Name() != "Thing" {
		t.Fatalf("unexpected interface round trip: %+v", got)
	}
}

func TestValueTypeCodeRoundTrip(t *testing.T) {
	tc := NewValueTC("IDL:demo/Node:1.0", "Node", VMTruncatable, nil, []Member{
		{Name: "data", Type: BasicTypeCode(TC_LONG)},
		{Name: "next", Type: NewStringTC(0)},
	})
	got := roundTripTypeCode(t, tc)
	if got.Kind() != TC_VALUE || got.MemberCount() != 2 {
		t.Fatalf("unexpected value round trip: %+v", got)
	}
	vt, ok := got.(*valueTypeCode)
	if !ok {
		t.Fatalf("expected *valueTypeCode, got %T", got)
	}
	if vt.modifier != VMTruncatable {
		t.Fatalf("expected modifier %d, got %d", VMTruncatable, vt.modifier)
	}
	if vt.base != nil {
		t.Fatalf("expected no base valuetype, got %+v", vt.base)
	}
}

func TestValueBoxTypeCodeRoundTrip(t *testing.T) {
	tc := NewValueBoxTC("IDL:demo/Boxed:1.0", "Boxed", NewStringTC(0))
	got := roundTripTypeCode(t, tc)
	if got.Kind() != TC_VALUE_BOX {
		t.Fatalf("expected TC_VALUE_BOX, got %s", got.Kind())
	}
	elem, err := got.ContentType()
	if err != nil || elem.Kind() != TC_STRING {
		t.Fatalf("unexpected boxed content type: %v, %v", elem, err)
	}
}

func TestTypeCodeRegistryLookup(t *testing.T) {
	tc := NewStructTC("IDL:demo/Registered:1.0", "Registered", []Member{
		{Name: "v", Type: BasicTypeCode(TC_LONG)},
	})
	RegisterTypeCode(tc)
	got, ok := LookupTypeCode("IDL:demo/Registered:1.0")
	if !ok {
		t.Fatal("expected registered TypeCode to be found")
	}
	if got.Name() != "Registered" {
		t.Fatalf("unexpected looked-up TypeCode: %+v", got)
	}
}
