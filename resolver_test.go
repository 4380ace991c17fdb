package nrbf

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestMapResolver(t *testing.T) {
	r := MapResolver{
		"System.Drawing.Point": reflect.TypeOf(Point{}),
		"System.Drawing.Size":  reflect.TypeOf(Size{}),
	}

	var buf bytes.Buffer
	if err := WritePoint(&buf, Point{X: 1, Y: 2}); err != nil {
		t.Fatal(err)
	}
	g, err := decodeBytes(buf.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	typ, err := g.BindRoot(r)
	if err != nil {
		t.Fatalf("BindRoot: %v", err)
	}
	if typ != reflect.TypeOf(Point{}) {
		t.Errorf("bound %v", typ)
	}

	name, _ := ParseTypeName("System.Drawing.Color, System.Drawing", TypeNameStrict)
	if _, ok := r.TryBindToType(name); ok {
		t.Error("TryBindToType bound an unknown name")
	}
	if _, err := r.BindToType(name); !errors.Is(err, ErrUnresolvedType) {
		t.Errorf("BindToType err = %v", err)
	}
}

func TestBindRootNonClass(t *testing.T) {
	g, err := decodeBytes(payload(1, func(b *encbuf) { stringRecord(b, 1, "x") }), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.BindRoot(MapResolver{}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("err = %v, want ErrTypeMismatch", err)
	}
}

// Test that a decode builds no host values even when the root names a
// known type
func TestDecodeNeverBinds(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSize(&buf, Size{Width: 3, Height: 4}); err != nil {
		t.Fatal(err)
	}
	root, err := Decode(&buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := root.(*ClassRecord)
	if !ok {
		t.Fatalf("root is %T", root)
	}
	for _, v := range c.Members {
		if v.Kind != ValuePrimitive {
			t.Errorf("member %v is not a primitive", v)
		}
	}
}
