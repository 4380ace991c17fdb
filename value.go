package nrbf

import "fmt"

// ValueKind selects which fields of a Value are meaningful.
type ValueKind uint8

const (
	ValueNull      ValueKind = iota // absent slot
	ValuePrimitive                  // Primitive + Data
	ValueRecord                     // Record (+ Ref when decoded)
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValuePrimitive:
		return "primitive"
	case ValueRecord:
		return "record"
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// Value is one class member or array element slot.
//
// A slot pointing at another record holds it in Record whether the wire
// carried it inline or as a MemberReference; Ref keeps the wire id of the
// target on decode. Data holds a value of type Widen(Primitive).
type Value struct {
	Kind      ValueKind
	Primitive PrimitiveType
	Data      any
	Record    Record
	Ref       ObjectID
}

// Null returns a null slot.
func Null() Value {
	return Value{}
}

// NewPrimitive wraps a Go scalar. time.Duration and time.Time are
// converted to TimeSpan and DateTime.
func NewPrimitive(v any) (Value, error) {
	p, ok := Classify(v)
	if !ok || p == PrimitiveString {
		return Value{}, detail(ErrUnsupportedValue, "%T is not a primitive", v)
	}
	return Value{Kind: ValuePrimitive, Primitive: p, Data: normalizePrimitive(v)}, nil
}

// MustPrimitive is NewPrimitive for values known to be primitive.
func MustPrimitive(v any) Value {
	val, err := NewPrimitive(v)
	if err != nil {
		panic(err)
	}
	return val
}

// RecordValue points a slot at r.
func RecordValue(r Record) Value {
	if r == nil {
		return Null()
	}
	return Value{Kind: ValueRecord, Record: r}
}

// StringValue points a slot at a new string record.
func StringValue(s string) Value {
	return RecordValue(&StringRecord{Value: s})
}

// IsNull reports whether the slot is null.
func (v Value) IsNull() bool {
	return v.Kind == ValueNull
}

// AsString returns the string carried by a string record slot.
func (v Value) AsString() (string, bool) {
	if v.Kind == ValueRecord {
		if s, ok := v.Record.(*StringRecord); ok {
			return s.Value, true
		}
	}
	return "", false
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValuePrimitive:
		return fmt.Sprintf("%v(%v)", v.Primitive, v.Data)
	case ValueRecord:
		if s, ok := v.Record.(*StringRecord); ok {
			return fmt.Sprintf("%q", s.Value)
		}
		return fmt.Sprintf("%s#%d", v.Record.RecordType(), v.Record.ObjectID())
	}
	return v.Kind.String()
}
