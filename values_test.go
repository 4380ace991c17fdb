package nrbf

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func roundTripValue(t *testing.T, write func(*bytes.Buffer) error) *Graph {
	t.Helper()
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	g, err := decodeBytes(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return g
}

func TestWritePrimitiveReadValue(t *testing.T) {
	when := time.Date(2001, 9, 9, 1, 46, 40, 500, time.UTC)
	tests := []struct {
		in   any
		want any
	}{
		{true, true},
		{uint8(200), uint8(200)},
		{int8(-3), int8(-3)},
		{int16(-300), int16(-300)},
		{uint16(60000), uint16(60000)},
		{int32(math.MinInt32), int32(math.MinInt32)},
		{uint32(math.MaxUint32), uint32(math.MaxUint32)},
		{int64(-1), int64(-1)},
		{uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{float32(1.25), float32(1.25)},
		{math.Pi, math.Pi},
		{Char('€'), Char('€')},
		{"plain", "plain"},
		{Decimal("1.5"), Decimal("1.5")},
		{Decimal("-12.750"), Decimal("-12.750")},
		{Decimal("0.05"), Decimal("0.05")},
		{Decimal("79228162514264337593543950335"), Decimal("79228162514264337593543950335")},
		{90 * time.Second, TimeSpan(900_000_000)},
		{when, DateTimeOf(when)},
		{DateTime{Ticks: 42, Kind: DateTimeLocal}, DateTime{Ticks: 42, Kind: DateTimeLocal}},
	}
	for _, tt := range tests {
		g := roundTripValue(t, func(b *bytes.Buffer) error { return WritePrimitive(b, tt.in) })
		got, err := ReadValue(g.Root())
		if err != nil {
			t.Errorf("%T %v: ReadValue: %v", tt.in, tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%T %v: got %#v, want %#v", tt.in, tt.in, got, tt.want)
		}
	}
}

func TestWritePrimitiveLayout(t *testing.T) {
	g := roundTripValue(t, func(b *bytes.Buffer) error { return WritePrimitive(b, int32(7)) })
	c, err := RootAs[*ClassRecord](g)
	if err != nil {
		t.Fatal(err)
	}
	if c.Layout.Name != "System.Int32" || !c.Layout.system() || c.RecordType() != RecordSystemClassWithMembersAndTypes {
		t.Errorf("layout = %+v", c.Layout)
	}
	if v, err := MemberAs[int32](c, "m_value"); err != nil || v != 7 {
		t.Errorf("m_value = %d, %v", v, err)
	}
}

func TestWriteNativeInt(t *testing.T) {
	g := roundTripValue(t, func(b *bytes.Buffer) error { return WriteNativeInt(b, -42) })
	c, err := RootAs[*ClassRecord](g)
	if err != nil {
		t.Fatal(err)
	}
	if c.Layout.Name != "System.IntPtr" || c.Layout.MemberTypes[0] != PrimitiveMember(PrimitiveInt64) {
		t.Errorf("layout = %+v", c.Layout)
	}
	if v, err := MemberAs[int64](c, "value"); err != nil || v != -42 {
		t.Errorf("value = %d, %v", v, err)
	}
	if got, err := ReadValue(c); err != nil || got != -42 {
		t.Errorf("ReadValue = %#v, %v", got, err)
	}

	g = roundTripValue(t, func(b *bytes.Buffer) error { return WriteNativeUInt(b, 1<<31) })
	c, err = RootAs[*ClassRecord](g)
	if err != nil {
		t.Fatal(err)
	}
	if c.Layout.Name != "System.UIntPtr" || c.Layout.MemberTypes[0] != PrimitiveMember(PrimitiveUInt64) {
		t.Errorf("layout = %+v", c.Layout)
	}
	if got, err := ReadValue(c); err != nil || got != uint(1<<31) {
		t.Errorf("ReadValue = %#v, %v", got, err)
	}
}

func TestDecimalBits(t *testing.T) {
	tests := []struct {
		in                  Decimal
		flags, hi, lo, mid int32
	}{
		{"0", 0, 0, 0, 0},
		{"1.5", 0x10000, 0, 15, 0},
		{"-1", -1 << 31, 0, 1, 0},
		{"4294967296", 0, 0, 0, 1},
		{"18446744073709551616", 0, 1, 0, 0},
		{"79228162514264337593543950335", 0, -1, -1, -1},
		{"0.0000000000000000000000000001", 28 << 16, 0, 1, 0},
	}
	for _, tt := range tests {
		flags, hi, lo, mid, err := DecimalBits(tt.in)
		if err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		if flags != tt.flags || hi != tt.hi || lo != tt.lo || mid != tt.mid {
			t.Errorf("%s: got %#x %#x %#x %#x", tt.in, flags, hi, lo, mid)
		}
		back, err := DecimalFromBits(flags, hi, lo, mid)
		if err != nil || back != tt.in {
			t.Errorf("%s: DecimalFromBits = %q, %v", tt.in, back, err)
		}
	}

	for _, bad := range []Decimal{"", "1e5", "79228162514264337593543950336", "0.00000000000000000000000000001", "--1"} {
		if _, _, _, _, err := DecimalBits(bad); !errors.Is(err, ErrInvalidPrimitiveValue) {
			t.Errorf("%q: err = %v", bad, err)
		}
	}
	if _, err := DecimalFromBits(29<<16, 0, 1, 0); !errors.Is(err, ErrInvalidPrimitiveValue) {
		t.Errorf("scale 29 accepted")
	}
}

func TestWriteLists(t *testing.T) {
	tests := []struct {
		name  string
		write func(*bytes.Buffer) error
		class string
		want  any
	}{
		{"strings", func(b *bytes.Buffer) error { return WriteStringList(b, []string{"x", "y", "x"}) },
			listTypeName("System.String"), []string{"x", "y", "x"}},
		{"empty strings", func(b *bytes.Buffer) error { return WriteStringList(b, []string{}) },
			listTypeName("System.String"), []string{}},
		{"int32", func(b *bytes.Buffer) error { return WritePrimitiveList(b, []int32{3, 1, 2}) },
			listTypeName("System.Int32"), []int32{3, 1, 2}},
		{"durations", func(b *bytes.Buffer) error { return WritePrimitiveList(b, []time.Duration{time.Millisecond}) },
			listTypeName("System.TimeSpan"), []TimeSpan{10_000}},
		{"objects", func(b *bytes.Buffer) error { return WriteObjectList(b, []any{"a", int32(1), nil, 2.5}) },
			arrayListType, []any{"a", int32(1), nil, 2.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := roundTripValue(t, tt.write)
			c := g.Root().(*ClassRecord)
			if c.Layout.Name != tt.class {
				t.Errorf("class = %q, want %q", c.Layout.Name, tt.class)
			}
			if _, err := ParseTypeName(c.Layout.Name, TypeNameStrict); err != nil {
				t.Errorf("class name does not parse: %v", err)
			}
			got, err := ReadValue(c)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestWriteArray(t *testing.T) {
	g := roundTripValue(t, func(b *bytes.Buffer) error { return WriteArray(b, []float64{1, 2.5}) })
	if got, _ := ReadValue(g.Root()); !reflect.DeepEqual(got, []float64{1, 2.5}) {
		t.Errorf("float64 array = %#v", got)
	}
	g = roundTripValue(t, func(b *bytes.Buffer) error { return WriteArray(b, []string{"a", "a"}) })
	if got, _ := ReadValue(g.Root()); !reflect.DeepEqual(got, []string{"a", "a"}) {
		t.Errorf("string array = %#v", got)
	}
	if err := WriteArray(&bytes.Buffer{}, []struct{}{}); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("struct slice: err = %v", err)
	}
}

func TestWriteHashtable(t *testing.T) {
	h := Hashtable{Keys: []any{"a", "b", int32(3)}, Values: []any{"b", nil, "a"}}
	g := roundTripValue(t, func(b *bytes.Buffer) error { return WriteHashtable(b, h) })
	c := g.Root().(*ClassRecord)
	if c.Layout.Name != hashtableType {
		t.Fatalf("class = %q", c.Layout.Name)
	}
	if n, _ := MemberAs[int32](c, "HashSize"); n != 5 {
		t.Errorf("HashSize = %d, want 5", n)
	}
	if n, _ := MemberAs[int32](c, "Version"); n != 3 {
		t.Errorf("Version = %d, want 3", n)
	}
	if lf, _ := MemberAs[float32](c, "LoadFactor"); lf != hashtableLoadFactor {
		t.Errorf("LoadFactor = %v", lf)
	}
	strs := 0
	for _, r := range g.Records() {
		if _, ok := r.(*StringRecord); ok {
			strs++
		}
	}
	if strs != 2 {
		t.Errorf("%d string records, want 2", strs)
	}
	keys, _ := MemberAs[*ObjectArray](c, "Keys")
	vals, _ := MemberAs[*ObjectArray](c, "Values")
	if keys == nil || vals == nil || keys.Elements[0].Record != vals.Elements[2].Record {
		t.Error("equal key and value strings are not shared")
	}
	if _, err := ReadValue(c); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("ReadValue(Hashtable) err = %v", err)
	}
}

func TestHashtableSize(t *testing.T) {
	for n, want := range map[int]int32{0: 3, 2: 3, 3: 5, 10: 17, 100: 139} {
		if got := hashtableSize(n); got != want {
			t.Errorf("hashtableSize(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestWriteDrawing(t *testing.T) {
	g := roundTripValue(t, func(b *bytes.Buffer) error { return WritePoint(b, Point{X: -1, Y: 2}) })
	p := g.Root().(*ClassRecord)
	if p.Layout.Name != "System.Drawing.Point" || p.Layout.Library != SystemDrawingAssembly {
		t.Errorf("layout = %+v", p.Layout)
	}
	if x, _ := MemberAs[int32](p, "x"); x != -1 {
		t.Errorf("x = %d", x)
	}

	g = roundTripValue(t, func(b *bytes.Buffer) error {
		return WriteRectangleF(b, RectangleF{X: 0.5, Y: 1, Width: 2, Height: 3})
	})
	if h, _ := MemberAs[float32](g.Root().(*ClassRecord), "height"); h != 3 {
		t.Errorf("height = %v", h)
	}

	name := "Red"
	g = roundTripValue(t, func(b *bytes.Buffer) error {
		return WriteColor(b, Color{Name: &name, Value: 0xFFFF0000, KnownColor: 141, State: 1})
	})
	c := g.Root().(*ClassRecord)
	if s, err := MemberAs[string](c, "name"); err != nil || s != "Red" {
		t.Errorf("name = %q, %v", s, err)
	}
	if v, _ := MemberAs[int64](c, "value"); v != 0xFFFF0000 {
		t.Errorf("value = %#x", v)
	}

	g = roundTripValue(t, func(b *bytes.Buffer) error { return WriteColor(b, Color{KnownColor: 35}) })
	if v, _ := g.Root().(*ClassRecord).Member("name"); !v.IsNull() {
		t.Errorf("unnamed color name = %v", v)
	}
}

func TestWriteNotSupportedException(t *testing.T) {
	g := roundTripValue(t, func(b *bytes.Buffer) error {
		return WriteNotSupportedException(b, "cannot serialize Widget")
	})
	c := g.Root().(*ClassRecord)
	if c.Layout.Name != notSupportedType || len(c.Members) != len(notSupportedMembers) {
		t.Fatalf("layout = %+v", c.Layout)
	}
	if msg, err := MemberAs[string](c, "Message"); err != nil || msg != "cannot serialize Widget" {
		t.Errorf("Message = %q, %v", msg, err)
	}
	if hr, _ := MemberAs[int32](c, "HResult"); hr != notSupportedHResult {
		t.Errorf("HResult = %d", hr)
	}
}

func TestEncodeValueDispatch(t *testing.T) {
	tests := []struct {
		in   any
		root RecordType
	}{
		{"s", RecordBinaryObjectString},
		{int32(1), RecordSystemClassWithMembersAndTypes},
		{[]string{"a"}, RecordArraySingleString},
		{[]uint16{1}, RecordArraySinglePrimitive},
		{[]any{1.0}, RecordSystemClassWithMembersAndTypes},
		{&Hashtable{}, RecordSystemClassWithMembersAndTypes},
		{Size{Width: 1}, RecordClassWithMembersAndTypes},
		{7, RecordSystemClassWithMembersAndTypes},
		{uintptr(7), RecordSystemClassWithMembersAndTypes},
	}
	for _, tt := range tests {
		g := roundTripValue(t, func(b *bytes.Buffer) error { return EncodeValue(b, tt.in) })
		if got := g.Root().RecordType(); got != tt.root {
			t.Errorf("%T: root %s, want %s", tt.in, got, tt.root)
		}
	}
}

func TestTryWriteValue(t *testing.T) {
	var buf bytes.Buffer
	if !TryWriteValue(&buf, int64(5)) || buf.Len() == 0 {
		t.Fatal("TryWriteValue failed for a primitive")
	}
	for _, v := range []any{nil, struct{}{}, map[string]int{}, Hashtable{Keys: []any{nil}, Values: []any{1}}, []any{struct{}{}}} {
		buf.Reset()
		if TryWriteValue(&buf, v) {
			t.Errorf("TryWriteValue(%#v) succeeded", v)
		}
		if buf.Len() != 0 {
			t.Errorf("TryWriteValue(%#v) wrote %d bytes", v, buf.Len())
		}
	}
}

func TestReadValueUnsupported(t *testing.T) {
	custom := &ClassRecord{Layout: &ClassLayout{Name: "Demo.Thing", Library: "Demo"}}
	if _, err := ReadValue(custom); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("custom class: err = %v", err)
	}
	nulls := &StringArray{Elements: []Value{StringValue("a"), Null()}}
	if _, err := ReadValue(nulls); !errors.Is(err, ErrUnexpectedNullInArray) {
		t.Errorf("null in string array: err = %v", err)
	}
}

func TestReadValueSharedRecords(t *testing.T) {
	var next Record = &StringRecord{Value: "leaf"}
	for i := 0; i < 200; i++ {
		next = &ObjectArray{Elements: []Value{RecordValue(next), RecordValue(next)}}
	}
	g, err := decodeBytes(mustEncode(t, next), nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadValue(g.Root())
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}

	levels := 0
	for {
		pair, ok := got.([]any)
		if !ok {
			break
		}
		if len(pair) != 2 {
			t.Fatalf("level %d has %d items", levels, len(pair))
		}
		if l, ok := pair[0].([]any); ok {
			if r := pair[1].([]any); &l[0] != &r[0] {
				t.Fatalf("level %d: shared array converted twice", levels)
			}
		}
		got = pair[0]
		levels++
	}
	if levels != 200 || got != "leaf" {
		t.Errorf("walked %d levels to %v", levels, got)
	}
}

func TestReadValueCycle(t *testing.T) {
	arr := &ObjectArray{}
	arr.Elements = []Value{StringValue("a"), RecordValue(arr)}
	if _, err := ReadValue(arr); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("err = %v, want ErrUnsupportedValue", err)
	}
}
