package nrbf

import (
	"bytes"
	"errors"
	"testing"
)

var headerBytes = []byte{
	0x00,
	0x01, 0x00, 0x00, 0x00,
	0xFF, 0xFF, 0xFF, 0xFF,
	0x01, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestEncodeStringBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, "hello"); err != nil {
		t.Fatal(err)
	}
	want := concat(headerBytes,
		[]byte{0x06, 0x01, 0x00, 0x00, 0x00, 0x05, 'h', 'e', 'l', 'l', 'o'},
		[]byte{0x0B},
	)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("got  % x\nwant % x", buf.Bytes(), want)
	}
}

func TestEncodeNullRuns(t *testing.T) {
	nulls := func(n int) *ObjectArray {
		return &ObjectArray{Elements: make([]Value, n)}
	}
	arrayHeader := func(n byte, hi byte) []byte {
		return []byte{0x10, 0x01, 0x00, 0x00, 0x00, n, hi, 0x00, 0x00}
	}
	tests := []struct {
		name string
		root *ObjectArray
		body []byte
	}{
		{"single", nulls(1), concat(arrayHeader(1, 0), []byte{0x0A})},
		{"short run", nulls(2), concat(arrayHeader(2, 0), []byte{0x0D, 0x02})},
		{"full short run", nulls(255), concat(arrayHeader(255, 0), []byte{0x0D, 0xFF})},
		{"wide run", nulls(300), concat(arrayHeader(0x2C, 0x01), []byte{0x0E, 0x2C, 0x01, 0x00, 0x00})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeBytes(tt.root)
			if err != nil {
				t.Fatal(err)
			}
			want := concat(headerBytes, tt.body, []byte{0x0B})
			if !bytes.Equal(got, want) {
				t.Errorf("got  % x\nwant % x", got, want)
			}
		})
	}
}

func TestEncodeMixedNulls(t *testing.T) {
	root := &ObjectArray{Elements: []Value{
		Null(), Null(), MustPrimitive(int32(1)), Null(), StringValue("x"), Null(), Null(), Null(),
	}}
	data, err := encodeBytes(root)
	if err != nil {
		t.Fatal(err)
	}
	g, err := decodeBytes(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := graphEqual(root, g.Root()); err != nil {
		t.Fatal(err)
	}
	var runs, singles int
	for _, r := range g.Records() {
		switch r.(type) {
		case *NullRun:
			runs++
		case *ObjectNull:
			singles++
		}
	}
	if runs != 2 || singles != 1 {
		t.Errorf("got %d runs and %d single nulls, want 2 and 1", runs, singles)
	}
}

func TestEncodeStringDedup(t *testing.T) {
	root := &StringArray{Elements: []Value{StringValue("a"), StringValue("b"), StringValue("a"), StringValue("a")}}
	data, err := encodeBytes(root)
	if err != nil {
		t.Fatal(err)
	}
	g, err := decodeBytes(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	var strs, refs int
	for _, r := range g.Records() {
		switch r.(type) {
		case *StringRecord:
			strs++
		case *MemberReference:
			refs++
		}
	}
	if strs != 2 || refs != 2 {
		t.Errorf("got %d strings and %d references, want 2 and 2", strs, refs)
	}
	arr := g.Root().(*StringArray)
	if arr.Elements[0].Record != arr.Elements[3].Record {
		t.Error("equal strings decode to different records")
	}
}

func TestEncodeSharedLayout(t *testing.T) {
	layout := &ClassLayout{
		Name:        "Demo.Point",
		Library:     "Demo, Version=1.0.0.0",
		MemberNames: []string{"x"},
		MemberTypes: []MemberType{PrimitiveMember(PrimitiveInt32)},
	}
	root := &ObjectArray{Elements: []Value{
		RecordValue(&ClassRecord{Layout: layout, Members: prims(int32(1))}),
		RecordValue(&ClassRecord{Layout: layout, Members: prims(int32(2))}),
		RecordValue(&ClassRecord{Layout: layout, Members: prims(int32(3))}),
	}}
	data, err := encodeBytes(root)
	if err != nil {
		t.Fatal(err)
	}
	g, err := decodeBytes(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	var full, withID, libs int
	for _, r := range g.Records() {
		switch x := r.(type) {
		case *ClassRecord:
			if x.MetadataID != NoID {
				withID++
			} else {
				full++
			}
		case *BinaryLibrary:
			libs++
		}
	}
	if full != 1 || withID != 2 || libs != 1 {
		t.Errorf("full=%d withID=%d libs=%d, want 1, 2, 1", full, withID, libs)
	}
	if err := graphEqual(root, g.Root()); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeRootInLibrary(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePoint(&buf, Point{X: 3, Y: 4}); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if !bytes.Equal(data[:len(headerBytes)], headerBytes) {
		t.Fatalf("header % x", data[:len(headerBytes)])
	}
	// the library precedes the root but the root keeps id 1
	if RecordType(data[len(headerBytes)]) != RecordBinaryLibrary {
		t.Errorf("first record tag %d", data[len(headerBytes)])
	}
	g, err := decodeBytes(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := g.Root().(*ClassRecord)
	if c.ID != 1 || c.Layout.Library != SystemDrawingAssembly {
		t.Errorf("root id %d library %q", c.ID, c.Layout.Library)
	}
}

func TestEncodeCycle(t *testing.T) {
	layout := &ClassLayout{Name: "Demo.Node", MemberNames: []string{"name", "next"}}
	a := &ClassRecord{Layout: layout}
	b := &ClassRecord{Layout: layout}
	a.Members = []Value{StringValue("a"), RecordValue(b)}
	b.Members = []Value{StringValue("b"), RecordValue(a)}

	data, err := encodeBytes(a)
	if err != nil {
		t.Fatal(err)
	}
	g, err := decodeBytes(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := graphEqual(a, g.Root()); err != nil {
		t.Fatal(err)
	}
	ga := g.Root().(*ClassRecord)
	gb := ga.Members[1].Record.(*ClassRecord)
	if gb.Members[1].Record != Record(ga) {
		t.Error("cycle not preserved")
	}
}

func TestEncodeSharedRecord(t *testing.T) {
	shared := &PrimitiveArray{Element: PrimitiveDouble, Values: []float64{1.5, 2.5}}
	root := &ObjectArray{Elements: []Value{RecordValue(shared), RecordValue(shared)}}
	data, err := encodeBytes(root)
	if err != nil {
		t.Fatal(err)
	}
	g, err := decodeBytes(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	arr := g.Root().(*ObjectArray)
	if arr.Elements[0].Record != arr.Elements[1].Record {
		t.Error("shared array decoded twice")
	}
}

func TestEncodeErrorsLeaveWriterEmpty(t *testing.T) {
	deep := &ObjectArray{Elements: []Value{Null()}}
	cur := deep
	for i := 0; i < defaultMaxDepth+5; i++ {
		next := &ObjectArray{Elements: []Value{Null()}}
		cur.Elements[0] = RecordValue(next)
		cur = next
	}

	tests := []struct {
		name string
		root Record
		want error
	}{
		{"member count", &ClassRecord{
			Layout:  &ClassLayout{Name: "Demo.A", MemberNames: []string{"a", "b"}},
			Members: []Value{Null()},
		}, ErrUnsupportedValue},
		{"typed member mismatch", &ClassRecord{
			Layout:  &ClassLayout{Name: "Demo.A", MemberNames: []string{"a"}, MemberTypes: []MemberType{PrimitiveMember(PrimitiveInt32)}},
			Members: prims(int64(1)),
		}, ErrUnsupportedValue},
		{"bad type name", &ClassRecord{Layout: &ClassLayout{Name: "Demo[["}}, ErrInvalidTypeName},
		{"primitive array values", &PrimitiveArray{Element: PrimitiveInt32, Values: []int64{1}}, ErrUnsupportedValue},
		{"string array element", &StringArray{Elements: []Value{RecordValue(&ObjectArray{})}}, ErrUnsupportedValue},
		{"typed primitive in string slot", &StringArray{Elements: []Value{MustPrimitive(int32(1))}}, ErrUnsupportedValue},
		{"bad decimal", &ObjectArray{Elements: []Value{{Kind: ValuePrimitive, Primitive: PrimitiveDecimal, Data: Decimal("1e3")}}}, ErrInvalidPrimitiveValue},
		{"rank mismatch", &BinaryArray{Shape: ArraySingle, Lengths: []int32{1, 1}, Element: PrimitiveMember(PrimitiveInt32)}, ErrInvalidLength},
		{"element count", &BinaryArray{Shape: ArrayRectangular, Lengths: []int32{2, 2}, Element: PrimitiveMember(PrimitiveInt32), Elements: prims(int32(1))}, ErrInvalidLength},
		{"dimension product wraps", &BinaryArray{Shape: ArrayRectangular, Lengths: []int32{1 << 16, 1 << 16, 1 << 16, 1 << 16}, Element: PrimitiveMember(PrimitiveInt32)}, ErrInvalidLength},
		{"negative dimension", &BinaryArray{Shape: ArrayRectangular, Lengths: []int32{2, -1}, Element: PrimitiveMember(PrimitiveInt32)}, ErrInvalidLength},
		{"too deep", deep, ErrDepthExceedsLimit},
		{"message end root", &MessageEnd{}, ErrUnsupportedValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Encode(&buf, tt.root)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var eerr *Error
			if !errors.As(err, &eerr) || eerr.Op != "encode" {
				t.Errorf("err %T is not an encode *Error", err)
			}
			if buf.Len() != 0 {
				t.Errorf("%d bytes written on failure", buf.Len())
			}
		})
	}
}

func TestEncodeRectangularArray(t *testing.T) {
	root := &BinaryArray{
		Shape:    ArrayRectangular,
		Lengths:  []int32{2, 3},
		Element:  MemberType{Binary: BinaryString},
		Elements: []Value{StringValue("a"), Null(), Null(), StringValue("b"), StringValue("a"), Null()},
	}
	data, err := encodeBytes(root)
	if err != nil {
		t.Fatal(err)
	}
	g, err := decodeBytes(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := graphEqual(root, g.Root()); err != nil {
		t.Fatal(err)
	}
}

func BenchmarkEncodeObjectArray(b *testing.B) {
	root := &ObjectArray{Elements: make([]Value, 1000)}
	for i := range root.Elements {
		if i%3 == 0 {
			root.Elements[i] = StringValue("item")
		} else {
			root.Elements[i] = MustPrimitive(int32(i))
		}
	}
	var buf bytes.Buffer
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := Encode(&buf, root); err != nil {
			b.Fatal(err)
		}
	}
}
