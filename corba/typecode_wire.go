package corba

import (
	"fmt"

	"github.com/corbaworks/goiiop/giop"
)

// EncodeTypeCode writes tc's CDR representation, CORBA 3.4 spec 15.3.5.1.
// Parameterless kinds encode as a bare ulong TCKind. Simple parameterized
// kinds (string, wstring, fixed) encode their parameters inline. Complex
// kinds (struct, union, enum, sequence, array, alias, except, value,
// value_box, the interface kinds) encode their parameters inside a nested
// encapsulation, so a reader that doesn't recognize a repository id can
// still skip over the whole TypeCode.
func EncodeTypeCode(e *giop.Encoder, tc TypeCode) error {
	if tc == nil {
		e.WriteULong(uint32(TC_NULL))
		return nil
	}
	kind := tc.Kind()
	e.WriteULong(uint32(kind))
	switch kind {
	case TC_NULL, TC_VOID, TC_SHORT, TC_LONG, TC_USHORT, TC_ULONG, TC_FLOAT,
		TC_DOUBLE, TC_BOOLEAN, TC_CHAR, TC_OCTET, TC_ANY, TC_TYPECODE,
		TC_PRINCIPAL, TC_LONGLONG, TC_ULONGLONG, TC_LONGDOUBLE, TC_WCHAR:
		return nil

	case TC_STRING, TC_WSTRING:
		e.WriteULong(uint32(tc.Length()))
		return nil

	case TC_FIXED:
		ftc := tc.(*fixedTypeCode)
		e.WriteUShort(ftc.Digits)
		e.WriteShort(ftc.Scale)
		return nil

	case TC_SEQUENCE, TC_ARRAY:
		elem, err := tc.ContentType()
		if err != nil {
			return err
		}
		inner := giop.NewEncapsulationEncoder(e.ByteOrder())
		if err := EncodeTypeCode(inner, elem); err != nil {
			return err
		}
		inner.WriteULong(uint32(tc.Length()))
		e.WriteEncapsulation(inner)
		return nil

	case TC_ALIAS:
		return encodeComplexTC(e, tc.Id(), tc.Name(), func(inner *giop.Encoder) error {
			elem, err := tc.ContentType()
			if err != nil {
				return err
			}
			return EncodeTypeCode(inner, elem)
		})

	case TC_STRUCT, TC_EXCEPT:
		return encodeComplexTC(e, tc.Id(), tc.Name(), func(inner *giop.Encoder) error {
			inner.WriteULong(uint32(tc.MemberCount()))
			for i := 0; i < tc.MemberCount(); i++ {
				name, _ := tc.MemberName(i)
				mt, err := tc.MemberType(i)
				if err != nil {
					return err
				}
				inner.WriteString(name)
				if err := EncodeTypeCode(inner, mt); err != nil {
					return err
				}
			}
			return nil
		})

	case TC_ENUM:
		return encodeComplexTC(e, tc.Id(), tc.Name(), func(inner *giop.Encoder) error {
			inner.WriteULong(uint32(tc.MemberCount()))
			for i := 0; i < tc.MemberCount(); i++ {
				name, _ := tc.MemberName(i)
				inner.WriteString(name)
			}
			return nil
		})

	case TC_UNION:
		return encodeComplexTC(e, tc.Id(), tc.Name(), func(inner *giop.Encoder) error {
			disc, err := tc.DiscriminatorType()
			if err != nil {
				return err
			}
			if err := EncodeTypeCode(inner, disc); err != nil {
				return err
			}
			inner.WriteLong(int32(tc.DefaultIndex()))
			inner.WriteULong(uint32(tc.MemberCount()))
			for i := 0; i < tc.MemberCount(); i++ {
				label, err := tc.MemberLabel(i)
				if err != nil {
					return err
				}
				if i == tc.DefaultIndex() {
					inner.WriteOctet(0)
				} else if err := EncodeValue(inner, label, disc); err != nil {
					return err
				}
				name, _ := tc.MemberName(i)
				mt, err := tc.MemberType(i)
				if err != nil {
					return err
				}
				inner.WriteString(name)
				if err := EncodeTypeCode(inner, mt); err != nil {
					return err
				}
			}
			return nil
		})

	case TC_OBJREF, TC_ABSTRACT_INTERFACE, TC_LOCAL_INTERFACE:
		return encodeComplexTC(e, tc.Id(), tc.Name(), func(*giop.Encoder) error { return nil })

	case TC_VALUE_BOX:
		return encodeComplexTC(e, tc.Id(), tc.Name(), func(inner *giop.Encoder) error {
			elem, err := tc.ContentType()
			if err != nil {
				return err
			}
			return EncodeTypeCode(inner, elem)
		})

	case TC_VALUE:
		vt := tc.(*valueTypeCode)
		return encodeComplexTC(e, tc.Id(), tc.Name(), func(inner *giop.Encoder) error {
			inner.WriteShort(vt.modifier)
			if vt.base != nil {
				if err := EncodeTypeCode(inner, vt.base); err != nil {
					return err
				}
			} else {
				inner.WriteULong(uint32(TC_NULL))
			}
			inner.WriteULong(uint32(len(vt.members)))
			for i, m := range vt.members {
				inner.WriteString(m.Name)
				if err := EncodeTypeCode(inner, m.Type); err != nil {
					return err
				}
				inner.WriteShort(int16(PublicMember))
				_ = i
			}
			return nil
		})

	default:
		return fmt.Errorf("corba: cannot encode TypeCode of kind %s", kind)
	}
}

func encodeComplexTC(e *giop.Encoder, id, name string, writeParams func(*giop.Encoder) error) error {
	inner := giop.NewEncapsulationEncoder(e.ByteOrder())
	inner.WriteString(id)
	inner.WriteString(name)
	if err := writeParams(inner); err != nil {
		return err
	}
	e.WriteEncapsulation(inner)
	return nil
}

// DecodeTypeCode reads a CDR TypeCode, the inverse of EncodeTypeCode.
func DecodeTypeCode(d *giop.Decoder) (TypeCode, error) {
	kindVal, err := d.ReadULong()
	if err != nil {
		return nil, err
	}
	kind := TCKind(kindVal)
	switch kind {
	case TC_NULL, TC_VOID, TC_SHORT, TC_LONG, TC_USHORT, TC_ULONG, TC_FLOAT,
		TC_DOUBLE, TC_BOOLEAN, TC_CHAR, TC_OCTET, TC_ANY, TC_TYPECODE,
		TC_PRINCIPAL, TC_LONGLONG, TC_ULONGLONG, TC_LONGDOUBLE, TC_WCHAR:
		return BasicTypeCode(kind), nil

	case TC_STRING:
		bound, err := d.ReadULong()
		if err != nil {
			return nil, err
		}
		return NewStringTC(int(bound)), nil

	case TC_WSTRING:
		bound, err := d.ReadULong()
		if err != nil {
			return nil, err
		}
		return NewWStringTC(int(bound)), nil

	case TC_FIXED:
		digits, err := d.ReadUShort()
		if err != nil {
			return nil, err
		}
		scale, err := d.ReadShort()
		if err != nil {
			return nil, err
		}
		return NewFixedTC(digits, scale), nil

	case TC_SEQUENCE, TC_ARRAY:
		sub, err := d.ReadEncapsulation()
		if err != nil {
			return nil, err
		}
		elem, err := DecodeTypeCode(sub)
		if err != nil {
			return nil, err
		}
		bound, err := sub.ReadULong()
		if err != nil {
			return nil, err
		}
		if kind == TC_SEQUENCE {
			return NewSequenceTC(elem, int(bound)), nil
		}
		return NewArrayTC(elem, int(bound)), nil

	case TC_ALIAS:
		id, name, sub, err := readComplexTCHeader(d)
		if err != nil {
			return nil, err
		}
		elem, err := DecodeTypeCode(sub)
		if err != nil {
			return nil, err
		}
		tc := NewAliasTC(id, name, elem)
		RegisterTypeCode(tc)
		return tc, nil

	case TC_STRUCT, TC_EXCEPT:
		id, name, sub, err := readComplexTCHeader(d)
		if err != nil {
			return nil, err
		}
		count, err := sub.ReadULong()
		if err != nil {
			return nil, err
		}
		members := make([]Member, count)
		for i := range members {
			mname, err := sub.ReadString()
			if err != nil {
				return nil, err
			}
			mt, err := DecodeTypeCode(sub)
			if err != nil {
				return nil, err
			}
			members[i] = Member{Name: mname, Type: mt}
		}
		var tc TypeCode
		if kind == TC_STRUCT {
			tc = NewStructTC(id, name, members)
		} else {
			tc = NewExceptionTC(id, name, members)
		}
		RegisterTypeCode(tc)
		return tc, nil

	case TC_ENUM:
		id, name, sub, err := readComplexTCHeader(d)
		if err != nil {
			return nil, err
		}
		count, err := sub.ReadULong()
		if err != nil {
			return nil, err
		}
		names := make([]string, count)
		for i := range names {
			names[i], err = sub.ReadString()
			if err != nil {
				return nil, err
			}
		}
		tc := NewEnumTC(id, name, names)
		RegisterTypeCode(tc)
		return tc, nil

	case TC_UNION:
		id, name, sub, err := readComplexTCHeader(d)
		if err != nil {
			return nil, err
		}
		disc, err := DecodeTypeCode(sub)
		if err != nil {
			return nil, err
		}
		defIdx, err := sub.ReadLong()
		if err != nil {
			return nil, err
		}
		count, err := sub.ReadULong()
		if err != nil {
			return nil, err
		}
		members := make([]Member, count)
		for i := range members {
			var label Value
			if int32(i) == defIdx {
				if _, err := sub.ReadOctet(); err != nil {
					return nil, err
				}
			} else {
				label, err = DecodeValue(sub, disc)
				if err != nil {
					return nil, err
				}
			}
			mname, err := sub.ReadString()
			if err != nil {
				return nil, err
			}
			mt, err := DecodeTypeCode(sub)
			if err != nil {
				return nil, err
			}
			members[i] = Member{Name: mname, Type: mt, Label: label}
		}
		tc := NewUnionTC(id, name, disc, members, int(defIdx))
		RegisterTypeCode(tc)
		return tc, nil

	case TC_OBJREF, TC_ABSTRACT_INTERFACE, TC_LOCAL_INTERFACE:
		id, name, _, err := readComplexTCHeader(d)
		if err != nil {
			return nil, err
		}
		tc := NewInterfaceTC(kind, id, name)
		RegisterTypeCode(tc)
		return tc, nil

	case TC_VALUE_BOX:
		id, name, sub, err := readComplexTCHeader(d)
		if err != nil {
			return nil, err
		}
		elem, err := DecodeTypeCode(sub)
		if err != nil {
			return nil, err
		}
		tc := NewValueBoxTC(id, name, elem)
		RegisterTypeCode(tc)
		return tc, nil

	case TC_VALUE:
		id, name, sub, err := readComplexTCHeader(d)
		if err != nil {
			return nil, err
		}
		modifier, err := sub.ReadShort()
		if err != nil {
			return nil, err
		}
		base, err := DecodeTypeCode(sub)
		if err != nil {
			return nil, err
		}
		if base.Kind() == TC_NULL {
			base = nil
		}
		count, err := sub.ReadULong()
		if err != nil {
			return nil, err
		}
		members := make([]Member, count)
		for i := range members {
			mname, err := sub.ReadString()
			if err != nil {
				return nil, err
			}
			mt, err := DecodeTypeCode(sub)
			if err != nil {
				return nil, err
			}
			if _, err := sub.ReadShort(); err != nil { // member visibility
				return nil, err
			}
			members[i] = Member{Name: mname, Type: mt}
		}
		tc := NewValueTC(id, name, modifier, base, members)
		RegisterTypeCode(tc)
		return tc, nil

	default:
		return nil, fmt.Errorf("corba: cannot decode TypeCode of kind %d", kindVal)
	}
}

func readComplexTCHeader(d *giop.Decoder) (id, name string, sub *giop.Decoder, err error) {
	sub, err = d.ReadEncapsulation()
	if err != nil {
		return "", "", nil, err
	}
	id, err = sub.ReadString()
	if err != nil {
		return "", "", nil, err
	}
	name, err = sub.ReadString()
	if err != nil {
		return "", "", nil, err
	}
	return id, name, sub, nil
}
