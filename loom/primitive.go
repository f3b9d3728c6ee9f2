package loom

import (
	"fmt"
	"reflect"
	"time"
)

// Decimal128 is a 128-bit decimal in its raw layout: two little-endian
// 64-bit words, written low word first. loom does not interpret the bits
// (no base-10 math); it only guarantees round-trip-stable storage.
type Decimal128 struct {
	Lo uint64
	Hi uint64
}

func (b *ByteBuffer) WriteDecimal128(d Decimal128) {
	b.grow(16)
	for i := 0; i < 8; i++ {
		b.data[b.writerIndex+i] = byte(d.Lo >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		b.data[b.writerIndex+8+i] = byte(d.Hi >> (8 * i))
	}
	b.writerIndex += 16
}

func (b *ByteBuffer) ReadDecimal128() (Decimal128, error) {
	raw, err := b.ReadN(16)
	if err != nil {
		return Decimal128{}, err
	}
	var d Decimal128
	for i := 0; i < 8; i++ {
		d.Lo |= uint64(raw[i]) << (8 * i)
	}
	for i := 0; i < 8; i++ {
		d.Hi |= uint64(raw[8+i]) << (8 * i)
	}
	return d, nil
}

// TimeKind is the one-byte tag that accompanies a date/time tick count.
type TimeKind uint8

const (
	TimeUnspecified TimeKind = 0
	TimeUTC         TimeKind = 1
	TimeLocal       TimeKind = 2
)

func (b *ByteBuffer) WriteTime(t time.Time) {
	kind := TimeUnspecified
	switch t.Location() {
	case time.UTC:
		kind = TimeUTC
	case time.Local:
		kind = TimeLocal
	}
	b.WriteVarInt64(t.UnixNano())
	b.WriteByte_(byte(kind))
}

func (b *ByteBuffer) ReadTime() (time.Time, error) {
	ticks, err := b.ReadVarInt64()
	if err != nil {
		return time.Time{}, err
	}
	kindByte, err := b.ReadByte_()
	if err != nil {
		return time.Time{}, err
	}
	t := time.Unix(0, ticks)
	switch TimeKind(kindByte) {
	case TimeUTC:
		return t.UTC(), nil
	case TimeLocal:
		return t.Local(), nil
	default:
		return t, nil
	}
}

// primitiveTagForKind maps a reflect.Kind to the fixed TypeID reserved
// for it. int and uint always map to the 64-bit tags so platform word
// size never leaks into the stream.
func primitiveTagForKind(k reflect.Kind) (TypeID, bool) {
	switch k {
	case reflect.Bool:
		return TypeBool, true
	case reflect.Int8:
		return TypeInt8, true
	case reflect.Int16:
		return TypeInt16, true
	case reflect.Int32:
		return TypeInt32, true
	case reflect.Int64, reflect.Int:
		return TypeInt64, true
	case reflect.Uint8:
		return TypeUint8, true
	case reflect.Uint16:
		return TypeUint16, true
	case reflect.Uint32:
		return TypeUint32, true
	case reflect.Uint64, reflect.Uint:
		return TypeUint64, true
	case reflect.Float32:
		return TypeFloat32, true
	case reflect.Float64:
		return TypeFloat64, true
	case reflect.String:
		return TypeString, true
	default:
		return TypeNull, false
	}
}

var timeType = reflect.TypeOf(time.Time{})
var decimalType = reflect.TypeOf(Decimal128{})
var byteSliceType = reflect.TypeOf([]byte(nil))

// goTypeForPrimitiveTag is primitiveTagForKind's inverse, used when a
// dynamic (interface-typed) field's content must be reconstructed with no
// local static type to guide it. The reader fabricates the narrowest Go
// type the tag implies.
func goTypeForPrimitiveTag(tag TypeID) reflect.Type {
	switch tag {
	case TypeBool:
		return reflect.TypeOf(false)
	case TypeInt8:
		return reflect.TypeOf(int8(0))
	case TypeInt16:
		return reflect.TypeOf(int16(0))
	case TypeInt32:
		return reflect.TypeOf(int32(0))
	case TypeInt64:
		return reflect.TypeOf(int64(0))
	case TypeUint8:
		return reflect.TypeOf(uint8(0))
	case TypeUint16:
		return reflect.TypeOf(uint16(0))
	case TypeUint32:
		return reflect.TypeOf(uint32(0))
	case TypeUint64:
		return reflect.TypeOf(uint64(0))
	case TypeFloat32:
		return reflect.TypeOf(float32(0))
	case TypeFloat64:
		return reflect.TypeOf(float64(0))
	case TypeString:
		return reflect.TypeOf("")
	case TypeBytes:
		return byteSliceType
	case TypeTime:
		return timeType
	case TypeDecimal:
		return decimalType
	default:
		return nil
	}
}

// writePrimitiveValue writes a primitive-kind reflect.Value's raw payload.
// No ref flag or type-id is emitted; callers in writer.go own those.
func writePrimitiveValue(buf *ByteBuffer, tag TypeID, v reflect.Value) error {
	switch tag {
	case TypeBool:
		buf.WriteBool(v.Bool())
	case TypeInt8:
		buf.WriteInt8(int8(v.Int()))
	case TypeInt16:
		buf.WriteVarInt64(v.Int())
	case TypeInt32:
		buf.WriteVarInt64(v.Int())
	case TypeInt64:
		buf.WriteVarInt64(v.Int())
	case TypeUint8:
		buf.WriteByte_(byte(v.Uint()))
	case TypeUint16, TypeUint32, TypeUint64:
		buf.WriteVarUint64(v.Uint())
	case TypeFloat32:
		buf.WriteFloat32(float32(v.Float()))
	case TypeFloat64:
		buf.WriteFloat64(v.Float())
	case TypeString:
		buf.WriteString(v.String())
	case TypeBytes:
		buf.WriteBytes(v.Bytes())
	case TypeTime:
		buf.WriteTime(v.Interface().(time.Time))
	case TypeDecimal:
		buf.WriteDecimal128(v.Interface().(Decimal128))
	default:
		return fmt.Errorf("loom: %w: not a primitive tag %v", ErrStreamCorrupted, tag)
	}
	return nil
}

// readPrimitiveValue reads a primitive payload into an addressable,
// settable reflect.Value of the given tag.
func readPrimitiveValue(buf *ByteBuffer, tag TypeID, dst reflect.Value) error {
	switch tag {
	case TypeBool:
		v, err := buf.ReadBool()
		if err != nil {
			return err
		}
		dst.SetBool(v)
	case TypeInt8:
		v, err := buf.ReadInt8()
		if err != nil {
			return err
		}
		dst.SetInt(int64(v))
	case TypeInt16, TypeInt32, TypeInt64:
		v, err := buf.ReadVarInt64()
		if err != nil {
			return err
		}
		dst.SetInt(v)
	case TypeUint8:
		v, err := buf.ReadByte_()
		if err != nil {
			return err
		}
		dst.SetUint(uint64(v))
	case TypeUint16, TypeUint32, TypeUint64:
		v, err := buf.ReadVarUint64()
		if err != nil {
			return err
		}
		dst.SetUint(v)
	case TypeFloat32:
		v, err := buf.ReadFloat32()
		if err != nil {
			return err
		}
		dst.SetFloat(float64(v))
	case TypeFloat64:
		v, err := buf.ReadFloat64()
		if err != nil {
			return err
		}
		dst.SetFloat(v)
	case TypeString:
		v, err := buf.ReadString()
		if err != nil {
			return err
		}
		dst.SetString(v)
	case TypeBytes:
		v, err := buf.ReadBytes()
		if err != nil {
			return err
		}
		dst.SetBytes(v)
	case TypeTime:
		v, err := buf.ReadTime()
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(v))
	case TypeDecimal:
		v, err := buf.ReadDecimal128()
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(v))
	default:
		return fmt.Errorf("loom: %w: not a primitive tag %v", ErrStreamCorrupted, tag)
	}
	return nil
}

// skipPrimitiveValue decodes and discards a primitive payload, used by
// the reconciled field map's skip instruction.
func skipPrimitiveValue(buf *ByteBuffer, tag TypeID) error {
	switch tag {
	case TypeBool:
		_, err := buf.ReadBool()
		return err
	case TypeInt8:
		_, err := buf.ReadInt8()
		return err
	case TypeInt16, TypeInt32, TypeInt64:
		_, err := buf.ReadVarInt64()
		return err
	case TypeUint8:
		_, err := buf.ReadByte_()
		return err
	case TypeUint16, TypeUint32, TypeUint64:
		_, err := buf.ReadVarUint64()
		return err
	case TypeFloat32:
		_, err := buf.ReadFloat32()
		return err
	case TypeFloat64:
		_, err := buf.ReadFloat64()
		return err
	case TypeString:
		_, err := buf.ReadString()
		return err
	case TypeBytes:
		_, err := buf.ReadBytes()
		return err
	case TypeTime:
		_, err := buf.ReadTime()
		return err
	case TypeDecimal:
		_, err := buf.ReadDecimal128()
		return err
	default:
		return fmt.Errorf("loom: %w: not a primitive tag %v", ErrStreamCorrupted, tag)
	}
}
