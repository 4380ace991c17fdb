package nrbf

import (
	"fmt"
	"io"
	"math/big"
	"reflect"
	"strings"
)

const (
	MscorlibAssembly      = "mscorlib, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089"
	SystemDrawingAssembly = "System.Drawing, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b03f5f7f11d50a3a"

	hashtableType    = "System.Collections.Hashtable"
	arrayListType    = "System.Collections.ArrayList"
	genericListType  = "System.Collections.Generic.List`1"
	notSupportedType = "System.NotSupportedException"
	nativeIntType    = "System.IntPtr"
	nativeUIntType   = "System.UIntPtr"

	hashtableLoadFactor = float32(0.72)
	notSupportedHResult = int32(-2146233067)

	maxDecimalScale = 28
)

var (
	listMembers         = []string{"_items", "_size", "_version"}
	decimalMembers      = []string{"flags", "hi", "lo", "mid"}
	dateTimeMembers     = []string{"ticks", "dateData"}
	primitiveMembers    = []string{"m_value"}
	timeSpanMembers     = []string{"_ticks"}
	nativeMembers       = []string{"value"}
	pointMembers        = []string{"x", "y"}
	sizeMembers         = []string{"width", "height"}
	rectangleMembers    = []string{"x", "y", "width", "height"}
	colorMembers        = []string{"name", "value", "knownColor", "state"}
	hashtableMembers    = []string{"LoadFactor", "Version", "Comparer", "HashCodeProvider", "HashSize", "Keys", "Values"}
	notSupportedMembers = []string{
		"ClassName", "Message", "Data", "InnerException", "HelpURL", "StackTraceString",
		"RemoteStackTraceString", "RemoteStackIndex", "ExceptionMethod", "HResult", "Source", "WatsonBuckets",
	}
)

// Drawing value types, laid out the way System.Drawing serializes them.
type (
	Point      struct{ X, Y int32 }
	Size       struct{ Width, Height int32 }
	Rectangle  struct{ X, Y, Width, Height int32 }
	PointF     struct{ X, Y float32 }
	SizeF      struct{ Width, Height float32 }
	RectangleF struct{ X, Y, Width, Height float32 }
)

// Color mirrors the serialized fields of System.Drawing.Color. Name is nil
// for colors that are not named.
type Color struct {
	Name       *string
	Value      int64
	KnownColor int16
	State      int16
}

// Hashtable is a System.Collections.Hashtable of primitive or string keys
// and values. Keys[i] maps to Values[i]; keys must not be nil.
type Hashtable struct {
	Keys   []any
	Values []any
}

// systemTypeName returns the framework name of a primitive, e.g.
// "System.Int32".
func systemTypeName(p PrimitiveType) string {
	return "System." + p.String()
}

func listTypeName(element string) string {
	return fmt.Sprintf("%s[[%s, %s]]", genericListType, element, MscorlibAssembly)
}

func systemClass(name string, members []string, types ...MemberType) *ClassLayout {
	return &ClassLayout{Name: name, MemberNames: members, MemberTypes: types}
}

func drawingClass(name string, members []string, p PrimitiveType) *ClassLayout {
	types := make([]MemberType, len(members))
	for i := range types {
		types[i] = PrimitiveMember(p)
	}
	return &ClassLayout{Name: name, Library: SystemDrawingAssembly, MemberNames: members, MemberTypes: types}
}

func prims(vs ...any) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = MustPrimitive(v)
	}
	return out
}

// WriteString writes s as a single string record.
func WriteString(w io.Writer, s string) error {
	return Encode(w, &StringRecord{Value: s})
}

// WritePrimitive writes a primitive boxed the way the framework boxes it:
// a class with one m_value member. Strings are written as string records;
// Decimal, DateTime and TimeSpan use their own layouts.
func WritePrimitive(w io.Writer, v any) error {
	r, err := primitiveRecord(v)
	if err != nil {
		return err
	}
	return Encode(w, r)
}

func primitiveRecord(v any) (Record, error) {
	p, ok := Classify(v)
	if !ok {
		return nil, detail(ErrUnsupportedValue, "%T is not a primitive", v)
	}
	v = normalizePrimitive(v)
	switch p {
	case PrimitiveString:
		return &StringRecord{Value: v.(string)}, nil
	case PrimitiveDecimal:
		return decimalRecord(v.(Decimal))
	case PrimitiveDateTime:
		return dateTimeRecord(v.(DateTime)), nil
	case PrimitiveTimeSpan:
		return timeSpanRecord(v.(TimeSpan)), nil
	}
	return &ClassRecord{
		Layout:  systemClass(systemTypeName(p), primitiveMembers, PrimitiveMember(p)),
		Members: prims(v),
	}, nil
}

// WriteDecimal writes d as System.Decimal.
func WriteDecimal(w io.Writer, d Decimal) error {
	r, err := decimalRecord(d)
	if err != nil {
		return err
	}
	return Encode(w, r)
}

func decimalRecord(d Decimal) (*ClassRecord, error) {
	flags, hi, lo, mid, err := DecimalBits(d)
	if err != nil {
		return nil, err
	}
	i32 := PrimitiveMember(PrimitiveInt32)
	return &ClassRecord{
		Layout:  systemClass(systemTypeName(PrimitiveDecimal), decimalMembers, i32, i32, i32, i32),
		Members: prims(flags, hi, lo, mid),
	}, nil
}

// DecimalBits splits d into the four 32-bit parts of System.Decimal:
// sign and scale in flags, then the high, low and middle words of the
// 96-bit mantissa.
func DecimalBits(d Decimal) (flags, hi, lo, mid int32, err error) {
	s := string(d)
	if !validDecimal(s) {
		return 0, 0, 0, 0, detail(ErrInvalidPrimitiveValue, "decimal %q", s)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) > maxDecimalScale {
		return 0, 0, 0, 0, detail(ErrInvalidPrimitiveValue, "decimal scale %d", len(frac))
	}
	m, ok := new(big.Int).SetString(intPart+frac, 10)
	if !ok || m.BitLen() > 96 {
		return 0, 0, 0, 0, detail(ErrInvalidPrimitiveValue, "decimal %q out of range", string(d))
	}
	mask := new(big.Int).SetUint64(0xFFFFFFFF)
	word := func(shift uint) int32 {
		return int32(uint32(new(big.Int).And(new(big.Int).Rsh(m, shift), mask).Uint64()))
	}
	flags = int32(len(frac)) << 16
	if neg {
		flags |= -1 << 31
	}
	return flags, word(64), word(0), word(32), nil
}

// DecimalFromBits is the inverse of DecimalBits.
func DecimalFromBits(flags, hi, lo, mid int32) (Decimal, error) {
	scale := int(flags>>16) & 0xFF
	if scale > maxDecimalScale || flags&0x7F00FFFF != 0 {
		return "", detail(ErrInvalidPrimitiveValue, "decimal flags %#x", uint32(flags))
	}
	m := new(big.Int).SetUint64(uint64(uint32(hi)))
	m.Lsh(m, 32).Or(m, new(big.Int).SetUint64(uint64(uint32(mid))))
	m.Lsh(m, 32).Or(m, new(big.Int).SetUint64(uint64(uint32(lo))))

	digits := m.String()
	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if flags < 0 {
		digits = "-" + digits
	}
	return Decimal(digits), nil
}

// WriteDateTime writes t as System.DateTime.
func WriteDateTime(w io.Writer, t DateTime) error {
	return Encode(w, dateTimeRecord(t))
}

func dateTimeRecord(t DateTime) *ClassRecord {
	return &ClassRecord{
		Layout: systemClass(systemTypeName(PrimitiveDateTime), dateTimeMembers,
			PrimitiveMember(PrimitiveInt64), PrimitiveMember(PrimitiveUInt64)),
		Members: prims(t.Ticks, t.wire()),
	}
}

// WriteTimeSpan writes t as System.TimeSpan.
func WriteTimeSpan(w io.Writer, t TimeSpan) error {
	return Encode(w, timeSpanRecord(t))
}

func timeSpanRecord(t TimeSpan) *ClassRecord {
	return &ClassRecord{
		Layout:  systemClass(systemTypeName(PrimitiveTimeSpan), timeSpanMembers, PrimitiveMember(PrimitiveInt64)),
		Members: prims(int64(t)),
	}
}

// WriteNativeInt writes v as a boxed System.IntPtr.
func WriteNativeInt(w io.Writer, v int) error {
	return Encode(w, nativeIntRecord(v))
}

// WriteNativeUInt writes v as a boxed System.UIntPtr.
func WriteNativeUInt(w io.Writer, v uint) error {
	return Encode(w, nativeUIntRecord(v))
}

func nativeIntRecord(v int) *ClassRecord {
	return &ClassRecord{
		Layout:  systemClass(nativeIntType, nativeMembers, PrimitiveMember(PrimitiveInt64)),
		Members: prims(int64(v)),
	}
}

func nativeUIntRecord(v uint) *ClassRecord {
	return &ClassRecord{
		Layout:  systemClass(nativeUIntType, nativeMembers, PrimitiveMember(PrimitiveUInt64)),
		Members: prims(uint64(v)),
	}
}

// WriteStringList writes list as List<string>.
func WriteStringList(w io.Writer, list []string) error {
	return Encode(w, stringListRecord(list))
}

func stringListRecord(list []string) *ClassRecord {
	items := &StringArray{Elements: make([]Value, len(list))}
	for i, s := range list {
		items.Elements[i] = StringValue(s)
	}
	return listRecord(listTypeName(systemTypeName(PrimitiveString)), MemberType{Binary: BinaryStringArray}, items, len(list))
}

func listRecord(name string, itemsType MemberType, items Record, size int) *ClassRecord {
	i32 := PrimitiveMember(PrimitiveInt32)
	return &ClassRecord{
		Layout: systemClass(name, listMembers, itemsType, i32, i32),
		// _version is not meaningful to readers
		Members: []Value{RecordValue(items), MustPrimitive(int32(size)), MustPrimitive(int32(0))},
	}
}

// WritePrimitiveList writes list as List<T>. T must classify as a
// primitive; []string is written as List<string>.
func WritePrimitiveList[T any](w io.Writer, list []T) error {
	r, err := primitiveListRecord(list)
	if err != nil {
		return err
	}
	return Encode(w, r)
}

func primitiveListRecord(list any) (*ClassRecord, error) {
	if s, ok := list.([]string); ok {
		return stringListRecord(s), nil
	}
	items, err := primitiveArrayOf(list)
	if err != nil {
		return nil, err
	}
	return listRecord(
		listTypeName(systemTypeName(items.Element)),
		MemberType{Binary: BinaryPrimitiveArray, Primitive: items.Element},
		items,
		items.Len(),
	), nil
}

// primitiveArrayOf converts a slice of primitives into an array record,
// widening time.Duration and time.Time elements.
func primitiveArrayOf(slice any) (*PrimitiveArray, error) {
	rv := reflect.ValueOf(slice)
	if rv.Kind() != reflect.Slice {
		return nil, detail(ErrUnsupportedValue, "%T is not a slice", slice)
	}
	p, ok := ClassifyType(rv.Type().Elem())
	if !ok || p == PrimitiveString {
		return nil, detail(ErrUnsupportedValue, "%T has no primitive element type", slice)
	}
	want, _ := Widen(p)
	if rv.Type().Elem() == want {
		return &PrimitiveArray{Element: p, Values: slice}, nil
	}
	out := reflect.MakeSlice(reflect.SliceOf(want), rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out.Index(i).Set(reflect.ValueOf(normalizePrimitive(rv.Index(i).Interface())))
	}
	return &PrimitiveArray{Element: p, Values: out.Interface()}, nil
}

// objectValue converts a Go value to an object slot: primitives become
// typed primitives, strings string records and nil a null.
func objectValue(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case string:
		return StringValue(v), nil
	}
	return NewPrimitive(x)
}

func objectArrayOf(xs []any) (*ObjectArray, error) {
	a := &ObjectArray{Elements: make([]Value, len(xs))}
	for i, x := range xs {
		v, err := objectValue(x)
		if err != nil {
			return nil, err
		}
		a.Elements[i] = v
	}
	return a, nil
}

// WriteObjectList writes list as System.Collections.ArrayList. Elements
// must be primitives, strings or nil.
func WriteObjectList(w io.Writer, list []any) error {
	r, err := objectListRecord(list)
	if err != nil {
		return err
	}
	return Encode(w, r)
}

func objectListRecord(list []any) (*ClassRecord, error) {
	items, err := objectArrayOf(list)
	if err != nil {
		return nil, err
	}
	r := listRecord(arrayListType, MemberType{Binary: BinaryObjectArray}, items, len(list))
	return r, nil
}

// WriteArray writes a single-dimension array of primitives or strings.
func WriteArray(w io.Writer, slice any) error {
	r, err := arrayRecord(slice)
	if err != nil {
		return err
	}
	return Encode(w, r)
}

func arrayRecord(slice any) (Record, error) {
	if ss, ok := slice.([]string); ok {
		a := &StringArray{Elements: make([]Value, len(ss))}
		for i, s := range ss {
			a.Elements[i] = StringValue(s)
		}
		return a, nil
	}
	return primitiveArrayOf(slice)
}

// WriteHashtable writes h as System.Collections.Hashtable with no custom
// comparer. Equal strings across keys and values are written once.
func WriteHashtable(w io.Writer, h Hashtable) error {
	r, err := hashtableRecord(h)
	if err != nil {
		return err
	}
	return Encode(w, r)
}

func hashtableRecord(h Hashtable) (*ClassRecord, error) {
	if len(h.Keys) != len(h.Values) {
		return nil, detail(ErrUnsupportedValue, "%d keys for %d values", len(h.Keys), len(h.Values))
	}
	for i, k := range h.Keys {
		if k == nil {
			return nil, detail(ErrUnsupportedValue, "nil hashtable key at %d", i)
		}
	}
	keys, err := objectArrayOf(h.Keys)
	if err != nil {
		return nil, err
	}
	vals, err := objectArrayOf(h.Values)
	if err != nil {
		return nil, err
	}
	i32 := PrimitiveMember(PrimitiveInt32)
	layout := systemClass(hashtableType, hashtableMembers,
		PrimitiveMember(PrimitiveSingle),
		i32,
		MemberType{Binary: BinarySystemClass, ClassName: "System.Collections.IComparer"},
		MemberType{Binary: BinarySystemClass, ClassName: "System.Collections.IHashCodeProvider"},
		i32,
		MemberType{Binary: BinaryObjectArray},
		MemberType{Binary: BinaryObjectArray},
	)
	return &ClassRecord{
		Layout: layout,
		Members: []Value{
			MustPrimitive(hashtableLoadFactor),
			MustPrimitive(int32(len(h.Keys))),
			Null(),
			Null(),
			MustPrimitive(hashtableSize(len(h.Keys))),
			RecordValue(keys),
			RecordValue(vals),
		},
	}, nil
}

// hashtableSize returns the bucket count a Hashtable of n entries
// reports: the smallest prime holding n at the default load factor.
func hashtableSize(n int) int32 {
	min := int(float32(n)/hashtableLoadFactor) + 1
	if min < 3 {
		min = 3
	}
	for c := min; ; c++ {
		if big.NewInt(int64(c)).ProbablyPrime(0) {
			return int32(c)
		}
	}
}

// WriteNotSupportedException writes a System.NotSupportedException that
// carries only its message.
func WriteNotSupportedException(w io.Writer, message string) error {
	str := MemberType{Binary: BinaryString}
	i32 := PrimitiveMember(PrimitiveInt32)
	layout := systemClass(notSupportedType, notSupportedMembers,
		str, str,
		MemberType{Binary: BinarySystemClass, ClassName: "System.Collections.IDictionary"},
		MemberType{Binary: BinarySystemClass, ClassName: "System.Exception"},
		str, str, str, i32, str, i32, str,
		MemberType{Binary: BinaryPrimitiveArray, Primitive: PrimitiveByte},
	)
	return Encode(w, &ClassRecord{
		Layout: layout,
		Members: []Value{
			StringValue(notSupportedType), StringValue(message),
			Null(), Null(), Null(), Null(), Null(),
			MustPrimitive(int32(0)),
			Null(),
			MustPrimitive(notSupportedHResult),
			Null(), Null(),
		},
	})
}

func drawingRecord(v any) (*ClassRecord, bool) {
	var (
		layout *ClassLayout
		vals   []Value
	)
	switch x := v.(type) {
	case Point:
		layout, vals = drawingClass("System.Drawing.Point", pointMembers, PrimitiveInt32), prims(x.X, x.Y)
	case Size:
		layout, vals = drawingClass("System.Drawing.Size", sizeMembers, PrimitiveInt32), prims(x.Width, x.Height)
	case Rectangle:
		layout, vals = drawingClass("System.Drawing.Rectangle", rectangleMembers, PrimitiveInt32),
			prims(x.X, x.Y, x.Width, x.Height)
	case PointF:
		layout, vals = drawingClass("System.Drawing.PointF", pointMembers, PrimitiveSingle), prims(x.X, x.Y)
	case SizeF:
		layout, vals = drawingClass("System.Drawing.SizeF", sizeMembers, PrimitiveSingle), prims(x.Width, x.Height)
	case RectangleF:
		layout, vals = drawingClass("System.Drawing.RectangleF", rectangleMembers, PrimitiveSingle),
			prims(x.X, x.Y, x.Width, x.Height)
	case Color:
		layout = &ClassLayout{
			Name:        "System.Drawing.Color",
			Library:     SystemDrawingAssembly,
			MemberNames: colorMembers,
			MemberTypes: []MemberType{
				{Binary: BinaryString},
				PrimitiveMember(PrimitiveInt64),
				PrimitiveMember(PrimitiveInt16),
				PrimitiveMember(PrimitiveInt16),
			},
		}
		name := Null()
		if x.Name != nil {
			name = StringValue(*x.Name)
		}
		vals = append([]Value{name}, prims(x.Value, x.KnownColor, x.State)...)
	default:
		return nil, false
	}
	return &ClassRecord{Layout: layout, Members: vals}, true
}

// WritePoint writes System.Drawing.Point.
func WritePoint(w io.Writer, p Point) error { return writeDrawing(w, p) }

// WriteSize writes System.Drawing.Size.
func WriteSize(w io.Writer, s Size) error { return writeDrawing(w, s) }

// WriteRectangle writes System.Drawing.Rectangle.
func WriteRectangle(w io.Writer, r Rectangle) error { return writeDrawing(w, r) }

func WritePointF(w io.Writer, p PointF) error         { return writeDrawing(w, p) }
func WriteSizeF(w io.Writer, s SizeF) error           { return writeDrawing(w, s) }
func WriteRectangleF(w io.Writer, r RectangleF) error { return writeDrawing(w, r) }
func WriteColor(w io.Writer, c Color) error           { return writeDrawing(w, c) }

func writeDrawing(w io.Writer, v any) error {
	r, _ := drawingRecord(v)
	return Encode(w, r)
}

// valueRecord maps a supported Go value to the record graph the writers
// above produce for it.
func valueRecord(v any) (Record, error) {
	if r, ok := drawingRecord(v); ok {
		return r, nil
	}
	switch x := v.(type) {
	case nil:
		return nil, detail(ErrUnsupportedValue, "nil value")
	case Hashtable:
		return hashtableRecord(x)
	case *Hashtable:
		return hashtableRecord(*x)
	case []any:
		return objectListRecord(x)
	case int:
		return nativeIntRecord(x), nil
	case uint:
		return nativeUIntRecord(x), nil
	case uintptr:
		return nativeUIntRecord(uint(x)), nil
	}
	if _, ok := Classify(v); ok {
		return primitiveRecord(v)
	}
	if reflect.TypeOf(v).Kind() == reflect.Slice {
		return arrayRecord(v)
	}
	return nil, detail(ErrUnsupportedValue, "%T", v)
}

// EncodeValue writes v using the matching writer: primitives and strings,
// Decimal, DateTime and TimeSpan, int and uint (or uintptr) as IntPtr and
// UIntPtr, drawing types, Hashtable, []any as an ArrayList, and slices of
// primitives or strings as arrays.
func EncodeValue(w io.Writer, v any) error {
	r, err := valueRecord(v)
	if err != nil {
		return wrapError("encode", err)
	}
	return Encode(w, r)
}

// TryWriteValue is EncodeValue reporting only success. Nothing is written
// to w when it returns false.
func TryWriteValue(w io.Writer, v any) bool {
	return EncodeValue(w, v) == nil
}
