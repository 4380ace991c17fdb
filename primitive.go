package nrbf

import (
	"fmt"
	"reflect"
	"time"
)

// PrimitiveType is the one-byte wire tag of a scalar kind.
type PrimitiveType byte

const (
	PrimitiveBoolean  PrimitiveType = 1
	PrimitiveByte     PrimitiveType = 2
	PrimitiveChar     PrimitiveType = 3
	PrimitiveDecimal  PrimitiveType = 5 // 4 is unused on the wire
	PrimitiveDouble   PrimitiveType = 6
	PrimitiveInt16    PrimitiveType = 7
	PrimitiveInt32    PrimitiveType = 8
	PrimitiveInt64    PrimitiveType = 9
	PrimitiveSByte    PrimitiveType = 10
	PrimitiveSingle   PrimitiveType = 11
	PrimitiveTimeSpan PrimitiveType = 12
	PrimitiveDateTime PrimitiveType = 13
	PrimitiveUInt16   PrimitiveType = 14
	PrimitiveUInt32   PrimitiveType = 15
	PrimitiveUInt64   PrimitiveType = 16
	PrimitiveNull     PrimitiveType = 17
	PrimitiveString   PrimitiveType = 18
)

var primitiveNames = [...]string{
	PrimitiveBoolean:  "Boolean",
	PrimitiveByte:     "Byte",
	PrimitiveChar:     "Char",
	PrimitiveDecimal:  "Decimal",
	PrimitiveDouble:   "Double",
	PrimitiveInt16:    "Int16",
	PrimitiveInt32:    "Int32",
	PrimitiveInt64:    "Int64",
	PrimitiveSByte:    "SByte",
	PrimitiveSingle:   "Single",
	PrimitiveTimeSpan: "TimeSpan",
	PrimitiveDateTime: "DateTime",
	PrimitiveUInt16:   "UInt16",
	PrimitiveUInt32:   "UInt32",
	PrimitiveUInt64:   "UInt64",
	PrimitiveNull:     "Null",
	PrimitiveString:   "String",
}

func (p PrimitiveType) String() string {
	if int(p) < len(primitiveNames) && primitiveNames[p] != "" {
		return primitiveNames[p]
	}
	return fmt.Sprintf("PrimitiveType(%d)", byte(p))
}

// Valid reports whether p is a tag of the closed primitive set.
func (p PrimitiveType) Valid() bool {
	return int(p) < len(primitiveNames) && primitiveNames[p] != ""
}

// fixedSize returns the wire width of fixed-size primitives, 0 otherwise.
func (p PrimitiveType) fixedSize() int {
	switch p {
	case PrimitiveBoolean, PrimitiveByte, PrimitiveSByte:
		return 1
	case PrimitiveInt16, PrimitiveUInt16:
		return 2
	case PrimitiveInt32, PrimitiveUInt32, PrimitiveSingle:
		return 4
	case PrimitiveInt64, PrimitiveUInt64, PrimitiveDouble, PrimitiveTimeSpan, PrimitiveDateTime:
		return 8
	}
	return 0
}

// Char is a single UTF-16-era character, carried on the wire as UTF-8.
type Char rune

// Decimal is a decimal number kept in its invariant textual form.
type Decimal string

// TimeSpan counts 100ns ticks.
type TimeSpan int64

// Duration converts t to a time.Duration, saturating on overflow.
func (t TimeSpan) Duration() time.Duration {
	const max = int64(^uint64(0)>>1) / 100
	switch {
	case int64(t) > max:
		return time.Duration(1<<63 - 1)
	case int64(t) < -max:
		return time.Duration(-1 << 63)
	}
	return time.Duration(int64(t) * 100)
}

// TimeSpanOf converts d to ticks.
func TimeSpanOf(d time.Duration) TimeSpan {
	return TimeSpan(int64(d) / 100)
}

// DateTimeKind is stored in the top two bits of a DateTime.
type DateTimeKind uint8

const (
	DateTimeUnspecified DateTimeKind = 0
	DateTimeUTC         DateTimeKind = 1
	DateTimeLocal       DateTimeKind = 2
)

// DateTime is a tick count since 0001-01-01 plus a kind.
type DateTime struct {
	Ticks int64
	Kind  DateTimeKind
}

const (
	ticksPerSecond = 10_000_000
	ticksMask      = 0x3FFFFFFFFFFFFFFF
	// ticks between 0001-01-01 and 1970-01-01
	unixEpochTicks = 621355968000000000
)

// DateTimeOf converts t to a UTC DateTime.
func DateTimeOf(t time.Time) DateTime {
	t = t.UTC()
	ticks := t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100 + unixEpochTicks
	return DateTime{Ticks: ticks, Kind: DateTimeUTC}
}

// Time converts d to a time.Time in UTC.
func (d DateTime) Time() time.Time {
	rel := d.Ticks - unixEpochTicks
	sec := rel / ticksPerSecond
	rem := rel % ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}

func (d DateTime) wire() uint64 {
	return uint64(d.Ticks)&ticksMask | uint64(d.Kind&3)<<62
}

func dateTimeFromWire(v uint64) DateTime {
	return DateTime{Ticks: int64(v & ticksMask), Kind: DateTimeKind(v >> 62)}
}

var (
	typeChar     = reflect.TypeOf(Char(0))
	typeDecimal  = reflect.TypeOf(Decimal(""))
	typeTimeSpan = reflect.TypeOf(TimeSpan(0))
	typeDuration = reflect.TypeOf(time.Duration(0))
	typeDateTime = reflect.TypeOf(DateTime{})
	typeTime     = reflect.TypeOf(time.Time{})
)

// Classify returns the primitive tag for v, or false if v has no scalar
// wire form. Named integer types other than the package's own wrappers
// classify to false: enums are always written as full records.
func Classify(v any) (PrimitiveType, bool) {
	switch v.(type) {
	case bool:
		return PrimitiveBoolean, true
	case uint8:
		return PrimitiveByte, true
	case int8:
		return PrimitiveSByte, true
	case int16:
		return PrimitiveInt16, true
	case uint16:
		return PrimitiveUInt16, true
	case int32:
		return PrimitiveInt32, true
	case uint32:
		return PrimitiveUInt32, true
	case int64:
		return PrimitiveInt64, true
	case uint64:
		return PrimitiveUInt64, true
	case float32:
		return PrimitiveSingle, true
	case float64:
		return PrimitiveDouble, true
	case string:
		return PrimitiveString, true
	case Char:
		return PrimitiveChar, true
	case Decimal:
		return PrimitiveDecimal, true
	case TimeSpan, time.Duration:
		return PrimitiveTimeSpan, true
	case DateTime, time.Time:
		return PrimitiveDateTime, true
	}
	return 0, false
}

// ClassifyType is Classify over a type. It only inspects the type and never
// constructs values of it.
func ClassifyType(t reflect.Type) (PrimitiveType, bool) {
	if t == nil {
		return 0, false
	}
	switch t {
	case typeChar:
		return PrimitiveChar, true
	case typeDecimal:
		return PrimitiveDecimal, true
	case typeTimeSpan, typeDuration:
		return PrimitiveTimeSpan, true
	case typeDateTime, typeTime:
		return PrimitiveDateTime, true
	}
	if t.PkgPath() != "" {
		return 0, false
	}
	switch t.Kind() {
	case reflect.Bool:
		return PrimitiveBoolean, true
	case reflect.Uint8:
		return PrimitiveByte, true
	case reflect.Int8:
		return PrimitiveSByte, true
	case reflect.Int16:
		return PrimitiveInt16, true
	case reflect.Uint16:
		return PrimitiveUInt16, true
	case reflect.Int32:
		return PrimitiveInt32, true
	case reflect.Uint32:
		return PrimitiveUInt32, true
	case reflect.Int64:
		return PrimitiveInt64, true
	case reflect.Uint64:
		return PrimitiveUInt64, true
	case reflect.Float32:
		return PrimitiveSingle, true
	case reflect.Float64:
		return PrimitiveDouble, true
	case reflect.String:
		return PrimitiveString, true
	}
	return 0, false
}

var widened = map[PrimitiveType]reflect.Type{
	PrimitiveBoolean:  reflect.TypeOf(false),
	PrimitiveByte:     reflect.TypeOf(uint8(0)),
	PrimitiveChar:     typeChar,
	PrimitiveDecimal:  typeDecimal,
	PrimitiveDouble:   reflect.TypeOf(float64(0)),
	PrimitiveInt16:    reflect.TypeOf(int16(0)),
	PrimitiveInt32:    reflect.TypeOf(int32(0)),
	PrimitiveInt64:    reflect.TypeOf(int64(0)),
	PrimitiveSByte:    reflect.TypeOf(int8(0)),
	PrimitiveSingle:   reflect.TypeOf(float32(0)),
	PrimitiveTimeSpan: typeTimeSpan,
	PrimitiveDateTime: typeDateTime,
	PrimitiveUInt16:   reflect.TypeOf(uint16(0)),
	PrimitiveUInt32:   reflect.TypeOf(uint32(0)),
	PrimitiveUInt64:   reflect.TypeOf(uint64(0)),
	PrimitiveString:   reflect.TypeOf(""),
}

// Widen returns the Go type the decoder produces for p.
func Widen(p PrimitiveType) (reflect.Type, bool) {
	t, ok := widened[p]
	return t, ok
}

// normalizePrimitive converts accepted encode-side inputs to the decoder's
// representation so that round trips compare equal.
func normalizePrimitive(v any) any {
	switch x := v.(type) {
	case time.Duration:
		return TimeSpanOf(x)
	case time.Time:
		return DateTimeOf(x)
	}
	return v
}
