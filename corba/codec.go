package corba

import (
	"fmt"

	"github.com/corbaworks/goiiop/giop"
)

// EncodeValue writes v onto e according to tc, a TypeCode-driven value
// codec: every encode/decode decision is made from tc, never from Go
// reflection over v.
func EncodeValue(e *giop.Encoder, v Value, tc TypeCode) error {
	tc = Resolve(tc)
	switch tc.Kind() {
	case TC_NULL, TC_VOID:
		return nil

	case TC_BOOLEAN:
		e.WriteBool(v.Bool())
	case TC_OCTET:
		e.WriteOctet(v.Octet())
	case TC_CHAR:
		e.WriteChar(v.Octet())
	case TC_WCHAR:
		e.WriteWChar(v.Data.(uint16))
	case TC_SHORT:
		e.WriteShort(v.Short())
	case TC_USHORT:
		e.WriteUShort(v.UShort())
	case TC_LONG:
		e.WriteLong(v.Long())
	case TC_ULONG:
		e.WriteULong(v.ULong())
	case TC_LONGLONG:
		e.WriteLongLong(v.LongLong())
	case TC_ULONGLONG:
		e.WriteULongLong(v.ULongLong())
	case TC_FLOAT:
		e.WriteFloat(v.Float())
	case TC_DOUBLE:
		e.WriteDouble(v.Double())

	case TC_STRING:
		s := v.Str()
		if bound := tc.Length(); bound > 0 && len(s) > bound {
			return fmt.Errorf("corba: string of length %d exceeds bound %d", len(s), bound)
		}
		e.WriteString(s)
	case TC_WSTRING:
		s := v.Str()
		if bound := tc.Length(); bound > 0 && len([]rune(s)) > bound {
			return fmt.Errorf("corba: wstring of length %d exceeds bound %d", len([]rune(s)), bound)
		}
		e.WriteWString(s)

	case TC_ENUM:
		e.WriteEnum(v.EnumIndex())

	case TC_FIXED:
		return encodeFixed(e, v.Data.(FixedValue), tc.(*fixedTypeCode))

	case TC_STRUCT, TC_EXCEPT:
		sv := v.Struct()
		if len(sv.Members) != tc.MemberCount() {
			return fmt.Errorf("corba: %s has %d members, value has %d", tc.Name(), tc.MemberCount(), len(sv.Members))
		}
		for i, m := range sv.Members {
			mt, err := tc.MemberType(i)
			if err != nil {
				return err
			}
			if err := EncodeValue(e, m, mt); err != nil {
				return fmt.Errorf("corba: encoding member %q of %s: %w", memberNameOrIndex(tc, i), tc.Name(), err)
			}
		}

	case TC_UNION:
		uv := v.Union()
		disc, err := tc.DiscriminatorType()
		if err != nil {
			return err
		}
		if err := EncodeValue(e, uv.Discriminator, disc); err != nil {
			return err
		}
		memberType, err := tc.MemberType(uv.ActiveIndex)
		if err != nil {
			return err
		}
		if err := EncodeValue(e, uv.Active, memberType); err != nil {
			return fmt.Errorf("corba: encoding active union arm %q: %w", memberNameOrIndex(tc, uv.ActiveIndex), err)
		}

	case TC_SEQUENCE:
		elems := v.Sequence()
		if bound := tc.Length(); bound > 0 && len(elems) > bound {
			return fmt.Errorf("corba: sequence of length %d exceeds bound %d", len(elems), bound)
		}
		e.WriteULong(uint32(len(elems)))
		elemTC, err := tc.ContentType()
		if err != nil {
			return err
		}
		for i, el := range elems {
			if err := EncodeValue(e, el, elemTC); err != nil {
				return fmt.Errorf("corba: encoding sequence element %d: %w", i, err)
			}
		}

	case TC_ARRAY:
		elems := v.Sequence()
		if len(elems) != tc.Length() {
			return fmt.Errorf("corba: array length %d does not match TypeCode length %d", len(elems), tc.Length())
		}
		elemTC, err := tc.ContentType()
		if err != nil {
			return err
		}
		for i, el := range elems {
			if err := EncodeValue(e, el, elemTC); err != nil {
				return fmt.Errorf("corba: encoding array element %d: %w", i, err)
			}
		}

	case TC_ANY:
		av := v.Any()
		if err := EncodeTypeCode(e, av.TC); err != nil {
			return err
		}
		return EncodeValue(e, av.Value, av.TC)

	case TC_OBJREF, TC_ABSTRACT_INTERFACE, TC_LOCAL_INTERFACE:
		return EncodeIOR(e, v.ObjRef())

	case TC_VALUE:
		vi := v.ValueInst()
		return encodeValueInstance(e, vi)

	case TC_VALUE_BOX:
		inner := v.Boxed()
		elemTC, err := tc.ContentType()
		if err != nil {
			return err
		}
		return EncodeValue(e, inner, elemTC)

	default:
		return fmt.Errorf("corba: cannot encode value of kind %s", tc.Kind())
	}
	return nil
}

// DecodeValue reads a value from d according to tc, the inverse of
// EncodeValue.
func DecodeValue(d *giop.Decoder, tc TypeCode) (Value, error) {
	tc = Resolve(tc)
	switch tc.Kind() {
	case TC_NULL, TC_VOID:
		return NullValue(), nil

	case TC_BOOLEAN:
		b, err := d.ReadBool()
		return BoolValue(b), err
	case TC_OCTET:
		o, err := d.ReadOctet()
		return OctetValue(o), err
	case TC_CHAR:
		c, err := d.ReadChar()
		return CharValue(c), err
	case TC_WCHAR:
		c, err := d.ReadWChar()
		return WCharValue(c), err
	case TC_SHORT:
		v, err := d.ReadShort()
		return ShortValue(v), err
	case TC_USHORT:
		v, err := d.ReadUShort()
		return UShortValue(v), err
	case TC_LONG:
		v, err := d.ReadLong()
		return LongValue(v), err
	case TC_ULONG:
		v, err := d.ReadULong()
		return ULongValue(v), err
	case TC_LONGLONG:
		v, err := d.ReadLongLong()
		return LongLongValue(v), err
	case TC_ULONGLONG:
		v, err := d.ReadULongLong()
		return ULongLongValue(v), err
	case TC_FLOAT:
		v, err := d.ReadFloat()
		return FloatValue(v), err
	case TC_DOUBLE:
		v, err := d.ReadDouble()
		return DoubleValue(v), err

	case TC_STRING:
		s, err := d.ReadString()
		if err == nil {
			if bound := tc.Length(); bound > 0 && len(s) > bound {
				return Value{}, fmt.Errorf("corba: decoded string of length %d exceeds bound %d", len(s), bound)
			}
		}
		return StringValue(s), err
	case TC_WSTRING:
		s, err := d.ReadWString()
		return WStringValue(s), err

	case TC_ENUM:
		idx, err := d.ReadEnum()
		if err == nil && int(idx) >= tc.MemberCount() {
			return Value{}, fmt.Errorf("corba: enum index %d out of range for %s", idx, tc.Name())
		}
		return EnumValue(idx), err

	case TC_FIXED:
		fv, err := decodeFixed(d, tc.(*fixedTypeCode))
		return Value{TC_FIXED, fv}, err

	case TC_STRUCT, TC_EXCEPT:
		members := make([]Value, tc.MemberCount())
		for i := range members {
			mt, err := tc.MemberType(i)
			if err != nil {
				return Value{}, err
			}
			mv, err := DecodeValue(d, mt)
			if err != nil {
				return Value{}, fmt.Errorf("corba: decoding member %q of %s: %w", memberNameOrIndex(tc, i), tc.Name(), err)
			}
			members[i] = mv
		}
		if tc.Kind() == TC_STRUCT {
			return StructVal(members), nil
		}
		return ExceptVal(members), nil

	case TC_UNION:
		disc, err := tc.DiscriminatorType()
		if err != nil {
			return Value{}, err
		}
		discVal, err := DecodeValue(d, disc)
		if err != nil {
			return Value{}, err
		}
		ut := tc.(*unionTypeCode)
		idx, ok := ut.memberIndexForLabel(discVal)
		if !ok {
			return Value{}, fmt.Errorf("corba: no union arm matches discriminator %v in %s", discVal, tc.Name())
		}
		memberType, err := tc.MemberType(idx)
		if err != nil {
			return Value{}, err
		}
		active, err := DecodeValue(d, memberType)
		if err != nil {
			return Value{}, fmt.Errorf("corba: decoding active union arm %q: %w", memberNameOrIndex(tc, idx), err)
		}
		return Value{TC_UNION, UnionValue{Discriminator: discVal, ActiveIndex: idx, Active: active}}, nil

	case TC_SEQUENCE:
		count, err := d.ReadULong()
		if err != nil {
			return Value{}, err
		}
		if bound := tc.Length(); bound > 0 && count > uint32(bound) {
			return Value{}, fmt.Errorf("corba: sequence of length %d exceeds bound %d", count, bound)
		}
		elemTC, err := tc.ContentType()
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, count)
		for i := range elems {
			elems[i], err = DecodeValue(d, elemTC)
			if err != nil {
				return Value{}, fmt.Errorf("corba: decoding sequence element %d: %w", i, err)
			}
		}
		return SequenceVal(elems), nil

	case TC_ARRAY:
		elemTC, err := tc.ContentType()
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, tc.Length())
		for i := range elems {
			elems[i], err = DecodeValue(d, elemTC)
			if err != nil {
				return Value{}, fmt.Errorf("corba: decoding array element %d: %w", i, err)
			}
		}
		return ArrayVal(elems), nil

	case TC_ANY:
		innerTC, err := DecodeTypeCode(d)
		if err != nil {
			return Value{}, err
		}
		innerVal, err := DecodeValue(d, innerTC)
		if err != nil {
			return Value{}, err
		}
		return AnyVal(innerTC, innerVal), nil

	case TC_OBJREF, TC_ABSTRACT_INTERFACE, TC_LOCAL_INTERFACE:
		ior, err := DecodeIOR(d)
		return ObjectVal(tc.Kind(), ior), err

	case TC_VALUE:
		return decodeValueInstance(d, tc)

	case TC_VALUE_BOX:
		elemTC, err := tc.ContentType()
		if err != nil {
			return Value{}, err
		}
		inner, err := DecodeValue(d, elemTC)
		if err != nil {
			return Value{}, err
		}
		return Value{TC_VALUE_BOX, &inner}, nil

	default:
		return Value{}, fmt.Errorf("corba: cannot decode value of kind %s", tc.Kind())
	}
}

func memberNameOrIndex(tc TypeCode, i int) string {
	if name, err := tc.MemberName(i); err == nil {
		return name
	}
	return fmt.Sprintf("#%d", i)
}

// Value tags for valuetype instances, CORBA 3.4 spec 15.3.4.6.
const (
	valueTagNull          = 0x00000000
	valueTagIndirection   = 0xffffffff
	valueTagNoTypeInfoMin = 0x7fffff00
	valueTagNoTypeInfoMax = 0x7fffff0f
)

// valueBaseOf returns tc's concrete base valuetype, or nil if tc has none
// or isn't a valuetype TypeCode at all.
func valueBaseOf(tc TypeCode) TypeCode {
	v, ok := tc.(*valueTypeCode)
	if !ok || v.base == nil {
		return nil
	}
	return v.base
}

// valueMemberCount returns the number of member values a valuetype instance
// of tc carries on the wire, including every concrete base type's members,
// CORBA 3.4 spec 15.3.4.2.
func valueMemberCount(tc TypeCode) int {
	n := tc.MemberCount()
	if base := valueBaseOf(tc); base != nil {
		n += valueMemberCount(base)
	}
	return n
}

// valueMemberTypeAt maps i, an index into the base-first flattened member
// order ("the concrete base type's members are written first, recursively,
// then the derived type's own members", spec 15.3.4.2), to the TypeCode
// declaring it.
func valueMemberTypeAt(tc TypeCode, i int) (TypeCode, error) {
	if base := valueBaseOf(tc); base != nil {
		baseCount := valueMemberCount(base)
		if i < baseCount {
			return valueMemberTypeAt(base, i)
		}
		i -= baseCount
	}
	return tc.MemberType(i)
}

func valueMemberNameAt(tc TypeCode, i int) string {
	if base := valueBaseOf(tc); base != nil {
		baseCount := valueMemberCount(base)
		if i < baseCount {
			return valueMemberNameAt(base, i)
		}
		i -= baseCount
	}
	return memberNameOrIndex(tc, i)
}

// encodeValueInstance writes a valuetype instance with tag 0x7fffff02 (no
// codebase, single repository id, no chunking), sufficient for the non-truncatable, non-custom valuetypes this
// runtime exchanges. A single tag/repository-id pair identifies the
// instance's most-derived type; its state data is then written base-first
// down the inheritance chain.
func encodeValueInstance(e *giop.Encoder, vi ValueInstance) error {
	e.WriteULong(valueTagNoTypeInfoMin | 0x02) // single repository id present
	e.WriteString(vi.TC.Id())
	for i, m := range vi.Members {
		mt, err := valueMemberTypeAt(vi.TC, i)
		if err != nil {
			return err
		}
		if err := EncodeValue(e, m, mt); err != nil {
			return fmt.Errorf("corba: encoding value member %q: %w", valueMemberNameAt(vi.TC, i), err)
		}
	}
	return nil
}

func decodeValueInstance(d *giop.Decoder, tc TypeCode) (Value, error) {
	tag, err := d.ReadULong()
	if err != nil {
		return Value{}, err
	}
	if tag == valueTagNull {
		return Value{TC_VALUE, ValueInstance{TC: tc}}, nil
	}
	if tag == valueTagIndirection {
		return Value{}, NO_IMPLEMENT(1, CompletionStatusNo)
	}
	// Chunked encodings are rejected: the chunking bit 0x08 (15.3.4.6), and
	// tag 0x7fffff01, which this decoder also treats as chunked.
	if tag&0x00000008 != 0 || tag == valueTagNoTypeInfoMin|0x01 {
		return Value{}, NO_IMPLEMENT(2, CompletionStatusNo)
	}
	if tag < valueTagNoTypeInfoMin || tag > valueTagNoTypeInfoMax {
		return Value{}, fmt.Errorf("corba: unsupported valuetype tag 0x%08x", tag)
	}
	if tag&0x02 != 0 {
		if _, err := d.ReadString(); err != nil { // repository id, already known via tc
			return Value{}, err
		}
	}
	members := make([]Value, valueMemberCount(tc))
	for i := range members {
		mt, err := valueMemberTypeAt(tc, i)
		if err != nil {
			return Value{}, err
		}
		members[i], err = DecodeValue(d, mt)
		if err != nil {
			return Value{}, fmt.Errorf("corba: decoding value member %q: %w", valueMemberNameAt(tc, i), err)
		}
	}
	return Value{TC_VALUE, ValueInstance{TC: tc, Members: members}}, nil
}

// encodeFixed packs a fixed-point value as BCD digits followed by a sign
// nibble, CORBA 3.4 spec 15.3.5.3. digits beyond tc's declared digit count
// are rejected.
func encodeFixed(e *giop.Encoder, fv FixedValue, tc *fixedTypeCode) error {
	digits := fixedDigits(fv.Unscaled)
	if digits > int(tc.Digits) {
		return fmt.Errorf("corba: fixed value has %d digits, exceeds declared %d", digits, tc.Digits)
	}
	n := fv.Unscaled
	sign := byte(0xc) // positive
	if n < 0 {
		sign = 0xd
		n = -n
	}
	nibbles := make([]byte, 0, int(tc.Digits)+1)
	for i := 0; i < int(tc.Digits); i++ {
		nibbles = append(nibbles, byte(n%10))
		n /= 10
	}
	nibbles = append(nibbles, sign)
	out := make([]byte, (len(nibbles)+1)/2)
	for i, nb := range nibbles {
		byteIdx := i / 2
		if i%2 == 0 {
			out[byteIdx] |= nb << 4
		} else {
			out[byteIdx] |= nb
		}
	}
	e.WriteOctetArray(out)
	return nil
}

func decodeFixed(d *giop.Decoder, tc *fixedTypeCode) (FixedValue, error) {
	byteLen := (int(tc.Digits) + 2) / 2
	raw, err := d.ReadOctetArray(byteLen)
	if err != nil {
		return FixedValue{}, err
	}
	var n int64
	sign := int64(1)
	for i := 0; i < int(tc.Digits); i++ {
		byteIdx := i / 2
		var nibble byte
		if i%2 == 0 {
			nibble = raw[byteIdx] >> 4
		} else {
			nibble = raw[byteIdx] & 0x0f
		}
		n += int64(nibble) * pow10(i)
	}
	signNibbleIdx := int(tc.Digits)
	var signNibble byte
	if signNibbleIdx%2 == 0 {
		signNibble = raw[signNibbleIdx/2] >> 4
	} else {
		signNibble = raw[signNibbleIdx/2] & 0x0f
	}
	if signNibble == 0xd {
		sign = -1
	}
	return FixedValue{Unscaled: sign * n, Scale: tc.Scale}, nil
}

func fixedDigits(n int64) int {
	if n < 0 {
		n = -n
	}
	if n == 0 {
		return 1
	}
	count := 0
	for n > 0 {
		count++
		n /= 10
	}
	return count
}

func pow10(n int) int64 {
	r := int64(1)
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}
