package nrbf

import (
	"reflect"
	"strings"
)

// ReadValue converts the record shapes written by WritePrimitive,
// WriteString, WriteArray, WriteNativeInt and the list writers back into Go
// values: string, a Widen(p) primitive, Decimal, DateTime, TimeSpan, int for
// IntPtr, uint for UIntPtr, a typed primitive slice, []string or []any.
// Anything else, including records that would need a host type to be
// meaningful, is ErrUnsupportedValue.
//
// Each record is converted once: a record reached through several
// references yields the same Go value each time, and a cycle is
// ErrUnsupportedValue.
func ReadValue(r Record) (any, error) {
	rd := &valueReader{
		done:   make(map[Record]any),
		active: make(map[Record]bool),
	}
	return rd.value(r)
}

type valueReader struct {
	done   map[Record]any
	active map[Record]bool
	depth  int
}

func (rd *valueReader) value(r Record) (any, error) {
	if v, ok := rd.done[r]; ok {
		return v, nil
	}
	if rd.active[r] {
		return nil, detail(ErrUnsupportedValue, "cycle through %s %d", r.RecordType(), r.ObjectID())
	}
	if rd.depth >= defaultMaxDepth {
		return nil, limitError(ErrDepthExceedsLimit, defaultMaxDepth, int64(rd.depth+1))
	}
	rd.active[r] = true
	rd.depth++
	v, err := rd.convert(r)
	rd.depth--
	delete(rd.active, r)
	if err != nil {
		return nil, err
	}
	rd.done[r] = v
	return v, nil
}

func (rd *valueReader) convert(r Record) (any, error) {
	switch x := r.(type) {
	case *StringRecord:
		return x.Value, nil
	case *PrimitiveArray:
		return x.Values, nil
	case *StringArray:
		return x.Strings()
	case *ObjectArray:
		return rd.slots(x.Elements)
	case *ClassRecord:
		return rd.class(x)
	}
	return nil, detail(ErrUnsupportedValue, "%s", r.RecordType())
}

func (rd *valueReader) slots(vs []Value) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		switch v.Kind {
		case ValuePrimitive:
			out[i] = v.Data
		case ValueRecord:
			x, err := rd.value(v.Record)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
	}
	return out, nil
}

func (rd *valueReader) class(c *ClassRecord) (any, error) {
	name := c.Layout.Name
	if !c.Layout.system() {
		return nil, detail(ErrUnsupportedValue, "class %s", name)
	}
	switch {
	case name == systemTypeName(PrimitiveDecimal):
		flags, err1 := MemberAs[int32](c, "flags")
		hi, err2 := MemberAs[int32](c, "hi")
		lo, err3 := MemberAs[int32](c, "lo")
		mid, err4 := MemberAs[int32](c, "mid")
		if err := firstError(err1, err2, err3, err4); err != nil {
			return nil, err
		}
		return DecimalFromBits(flags, hi, lo, mid)
	case name == systemTypeName(PrimitiveDateTime):
		data, err := MemberAs[uint64](c, "dateData")
		if err != nil {
			return nil, err
		}
		return dateTimeFromWire(data), nil
	case name == systemTypeName(PrimitiveTimeSpan):
		ticks, err := MemberAs[int64](c, "_ticks")
		if err != nil {
			return nil, err
		}
		return TimeSpan(ticks), nil
	case name == nativeIntType:
		v, err := MemberAs[int64](c, "value")
		if err != nil {
			return nil, err
		}
		if int64(int(v)) != v {
			return nil, detail(ErrInvalidPrimitiveValue, "IntPtr %d overflows int", v)
		}
		return int(v), nil
	case name == nativeUIntType:
		v, err := MemberAs[uint64](c, "value")
		if err != nil {
			return nil, err
		}
		if uint64(uint(v)) != v {
			return nil, detail(ErrInvalidPrimitiveValue, "UIntPtr %d overflows uint", v)
		}
		return uint(v), nil
	case name == arrayListType || strings.HasPrefix(name, genericListType+"["):
		return rd.list(c)
	}
	if v, ok := c.Member("m_value"); ok && len(c.Members) == 1 && v.Kind == ValuePrimitive &&
		name == systemTypeName(v.Primitive) {
		return v.Data, nil
	}
	return nil, detail(ErrUnsupportedValue, "class %s", name)
}

// list returns the first _size items of a list's backing array.
func (rd *valueReader) list(c *ClassRecord) (any, error) {
	size, err := MemberAs[int32](c, "_size")
	if err != nil {
		return nil, err
	}
	items, ok := c.Member("_items")
	if !ok || items.Kind != ValueRecord {
		return nil, detail(ErrUnsupportedValue, "list without items")
	}
	all, err := rd.value(items.Record)
	if err != nil {
		return nil, err
	}
	n := int(size)
	switch s := all.(type) {
	case []string:
		if n < 0 || n > len(s) {
			return nil, detail(ErrInvalidLength, "list size %d of %d", n, len(s))
		}
		return s[:n], nil
	case []any:
		if n < 0 || n > len(s) {
			return nil, detail(ErrInvalidLength, "list size %d of %d", n, len(s))
		}
		return s[:n], nil
	}
	a, _ := items.Record.(*PrimitiveArray)
	if a == nil || n < 0 || n > a.Len() {
		return nil, detail(ErrInvalidLength, "list size %d", n)
	}
	return sliceHead(a.Values, n), nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func sliceHead(slice any, n int) any {
	if slice == nil {
		return nil
	}
	return reflect.ValueOf(slice).Slice(0, n).Interface()
}
