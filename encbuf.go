package nrbf

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// encbuf accumulates one encoded stream in memory.
type encbuf struct {
	b []byte
}

func (e *encbuf) writeByte(c byte) {
	e.b = append(e.b, c)
}

func (e *encbuf) writeTag(t RecordType) {
	e.b = append(e.b, byte(t))
}

func (e *encbuf) writeInt16(v int16) {
	e.b = binary.LittleEndian.AppendUint16(e.b, uint16(v))
}

func (e *encbuf) writeInt32(v int32) {
	e.b = binary.LittleEndian.AppendUint32(e.b, uint32(v))
}

func (e *encbuf) writeID(id ObjectID) {
	e.writeInt32(int32(id))
}

func (e *encbuf) writeUint64(v uint64) {
	e.b = binary.LittleEndian.AppendUint64(e.b, v)
}

func (e *encbuf) writeFloat32(v float32) {
	e.b = binary.LittleEndian.AppendUint32(e.b, math.Float32bits(v))
}

func (e *encbuf) writeFloat64(v float64) {
	e.writeUint64(math.Float64bits(v))
}

// writeString writes a LengthPrefixedString: a 7-bit varint byte length
// followed by UTF-8.
func (e *encbuf) writeString(s string) {
	n := uint32(len(s))
	for n >= 0x80 {
		e.b = append(e.b, byte(n)|0x80)
		n >>= 7
	}
	e.b = append(e.b, byte(n))
	e.b = append(e.b, s...)
}

func (e *encbuf) writeChar(c Char) error {
	r := rune(c)
	if !utf8.ValidRune(r) {
		return detail(ErrInvalidPrimitiveValue, "char %#x", r)
	}
	e.b = utf8.AppendRune(e.b, r)
	return nil
}

// writePrimitive writes the raw wire form of x as primitive p. x must hold
// the Go type Widen(p), or time.Duration/time.Time for TimeSpan/DateTime.
func (e *encbuf) writePrimitive(p PrimitiveType, x any) error {
	x = normalizePrimitive(x)
	ok := true
	switch p {
	case PrimitiveBoolean:
		var v bool
		if v, ok = x.(bool); ok {
			if v {
				e.writeByte(1)
			} else {
				e.writeByte(0)
			}
		}
	case PrimitiveByte:
		var v uint8
		if v, ok = x.(uint8); ok {
			e.writeByte(v)
		}
	case PrimitiveSByte:
		var v int8
		if v, ok = x.(int8); ok {
			e.writeByte(byte(v))
		}
	case PrimitiveInt16:
		var v int16
		if v, ok = x.(int16); ok {
			e.writeInt16(v)
		}
	case PrimitiveUInt16:
		var v uint16
		if v, ok = x.(uint16); ok {
			e.writeInt16(int16(v))
		}
	case PrimitiveInt32:
		var v int32
		if v, ok = x.(int32); ok {
			e.writeInt32(v)
		}
	case PrimitiveUInt32:
		var v uint32
		if v, ok = x.(uint32); ok {
			e.writeInt32(int32(v))
		}
	case PrimitiveInt64:
		var v int64
		if v, ok = x.(int64); ok {
			e.writeUint64(uint64(v))
		}
	case PrimitiveUInt64:
		var v uint64
		if v, ok = x.(uint64); ok {
			e.writeUint64(v)
		}
	case PrimitiveSingle:
		var v float32
		if v, ok = x.(float32); ok {
			e.writeFloat32(v)
		}
	case PrimitiveDouble:
		var v float64
		if v, ok = x.(float64); ok {
			e.writeFloat64(v)
		}
	case PrimitiveTimeSpan:
		var v TimeSpan
		if v, ok = x.(TimeSpan); ok {
			e.writeUint64(uint64(v))
		}
	case PrimitiveDateTime:
		var v DateTime
		if v, ok = x.(DateTime); ok {
			e.writeUint64(v.wire())
		}
	case PrimitiveChar:
		var v Char
		if v, ok = x.(Char); ok {
			return e.writeChar(v)
		}
	case PrimitiveDecimal:
		var v Decimal
		if v, ok = x.(Decimal); ok {
			if !validDecimal(string(v)) {
				return detail(ErrInvalidPrimitiveValue, "decimal %q", string(v))
			}
			e.writeString(string(v))
		}
	case PrimitiveString:
		var v string
		if v, ok = x.(string); ok {
			e.writeString(v)
		}
	default:
		return detail(ErrInvalidPrimitiveTag, "%d", byte(p))
	}
	if !ok {
		return detail(ErrUnsupportedValue, "%T for %s", x, p)
	}
	return nil
}
