package nrbf

import (
	"bytes"
	"fmt"
	"reflect"
)

// payload builds a stream by hand: header with the given root id, the
// records written by body, then MessageEnd.
func payload(root ObjectID, body func(b *encbuf)) []byte {
	var b encbuf
	b.writeTag(RecordSerializedStreamHeader)
	b.writeID(root)
	b.writeID(-1)
	b.writeInt32(1)
	b.writeInt32(0)
	body(&b)
	b.writeTag(RecordMessageEnd)
	return b.b
}

// classHeader writes a SystemClassWithMembers header.
func classHeader(b *encbuf, id ObjectID, name string, members ...string) {
	b.writeTag(RecordSystemClassWithMembers)
	b.writeID(id)
	b.writeString(name)
	b.writeInt32(int32(len(members)))
	for _, m := range members {
		b.writeString(m)
	}
}

func stringRecord(b *encbuf, id ObjectID, s string) {
	b.writeTag(RecordBinaryObjectString)
	b.writeID(id)
	b.writeString(s)
}

func reference(b *encbuf, id ObjectID) {
	b.writeTag(RecordMemberReference)
	b.writeID(id)
}

func decodeBytes(data []byte, opts *Options) (*Graph, error) {
	return DecodeGraph(bytes.NewReader(data), opts)
}

func encodeBytes(root Record) ([]byte, error) {
	var buf bytes.Buffer
	err := Encode(&buf, root)
	return buf.Bytes(), err
}

// graphEqual compares two record graphs structurally, ignoring object ids
// and the origin of class layouts. Shared records must be shared in both.
func graphEqual(a, b Record) error {
	return (&graphCmp{pairs: make(map[Record]Record)}).record(a, b, "root")
}

type graphCmp struct {
	pairs map[Record]Record
}

func (c *graphCmp) record(a, b Record, path string) error {
	if a == nil || b == nil {
		if a != b {
			return fmt.Errorf("%s: %v vs %v", path, a, b)
		}
		return nil
	}
	if seen, ok := c.pairs[a]; ok {
		if seen != b {
			return fmt.Errorf("%s: sharing differs", path)
		}
		return nil
	}
	c.pairs[a] = b
	if a.RecordType() != b.RecordType() {
		return fmt.Errorf("%s: %s vs %s", path, a.RecordType(), b.RecordType())
	}
	switch x := a.(type) {
	case *StringRecord:
		if y := b.(*StringRecord); x.Value != y.Value {
			return fmt.Errorf("%s: %q vs %q", path, x.Value, y.Value)
		}
	case *ClassRecord:
		y := b.(*ClassRecord)
		if x.Layout.Name != y.Layout.Name || x.Layout.Library != y.Layout.Library ||
			!reflect.DeepEqual(x.Layout.MemberNames, y.Layout.MemberNames) ||
			!reflect.DeepEqual(x.Layout.MemberTypes, y.Layout.MemberTypes) {
			return fmt.Errorf("%s: layouts differ: %+v vs %+v", path, x.Layout, y.Layout)
		}
		return c.values(x.Members, y.Members, path+"."+x.Layout.Name)
	case *PrimitiveArray:
		y := b.(*PrimitiveArray)
		if x.Element != y.Element || x.Len() != y.Len() {
			return fmt.Errorf("%s: %s[%d] vs %s[%d]", path, x.Element, x.Len(), y.Element, y.Len())
		}
		if x.Len() > 0 && !reflect.DeepEqual(x.Values, y.Values) {
			return fmt.Errorf("%s: %v vs %v", path, x.Values, y.Values)
		}
	case *ObjectArray:
		return c.values(x.Elements, b.(*ObjectArray).Elements, path)
	case *StringArray:
		return c.values(x.Elements, b.(*StringArray).Elements, path)
	case *BinaryArray:
		y := b.(*BinaryArray)
		if x.Shape != y.Shape || !reflect.DeepEqual(x.Lengths, y.Lengths) ||
			!reflect.DeepEqual(x.LowerBounds, y.LowerBounds) || x.Element != y.Element {
			return fmt.Errorf("%s: array shapes differ", path)
		}
		return c.values(x.Elements, y.Elements, path)
	}
	return nil
}

func (c *graphCmp) values(a, b []Value, path string) error {
	if len(a) != len(b) {
		return fmt.Errorf("%s: %d vs %d slots", path, len(a), len(b))
	}
	for i := range a {
		p := fmt.Sprintf("%s[%d]", path, i)
		x, y := a[i], b[i]
		if x.IsNull() || y.IsNull() {
			if x.IsNull() != y.IsNull() {
				return fmt.Errorf("%s: %v vs %v", p, x, y)
			}
			continue
		}
		if x.Kind != y.Kind {
			return fmt.Errorf("%s: %s vs %s", p, x.Kind, y.Kind)
		}
		if x.Kind == ValuePrimitive {
			if x.Primitive != y.Primitive || !reflect.DeepEqual(x.Data, y.Data) {
				return fmt.Errorf("%s: %v vs %v", p, x, y)
			}
			continue
		}
		if err := c.record(x.Record, y.Record, p); err != nil {
			return err
		}
	}
	return nil
}
