package nrbf

import (
	"fmt"
	"reflect"
)

// ObjectID names a referenceable record within one stream.
type ObjectID int32

// NoID marks records that can never be the target of a reference.
const NoID ObjectID = 0

// RecordType is the one-byte tag that starts every record on the wire.
type RecordType byte

const (
	RecordSerializedStreamHeader         RecordType = 0
	RecordClassWithID                    RecordType = 1
	RecordSystemClassWithMembers         RecordType = 2
	RecordClassWithMembers               RecordType = 3
	RecordSystemClassWithMembersAndTypes RecordType = 4
	RecordClassWithMembersAndTypes       RecordType = 5
	RecordBinaryObjectString             RecordType = 6
	RecordBinaryArray                    RecordType = 7
	RecordMemberPrimitiveTyped           RecordType = 8
	RecordMemberReference                RecordType = 9
	RecordObjectNull                     RecordType = 10
	RecordMessageEnd                     RecordType = 11
	RecordBinaryLibrary                  RecordType = 12
	RecordObjectNullMultiple256          RecordType = 13
	RecordObjectNullMultiple             RecordType = 14
	RecordArraySinglePrimitive           RecordType = 15
	RecordArraySingleObject              RecordType = 16
	RecordArraySingleString              RecordType = 17
	RecordMethodCall                     RecordType = 21
	RecordMethodReturn                   RecordType = 22
)

var recordNames = map[RecordType]string{
	RecordSerializedStreamHeader:         "SerializedStreamHeader",
	RecordClassWithID:                    "ClassWithId",
	RecordSystemClassWithMembers:         "SystemClassWithMembers",
	RecordClassWithMembers:               "ClassWithMembers",
	RecordSystemClassWithMembersAndTypes: "SystemClassWithMembersAndTypes",
	RecordClassWithMembersAndTypes:       "ClassWithMembersAndTypes",
	RecordBinaryObjectString:             "BinaryObjectString",
	RecordBinaryArray:                    "BinaryArray",
	RecordMemberPrimitiveTyped:           "MemberPrimitiveTyped",
	RecordMemberReference:                "MemberReference",
	RecordObjectNull:                     "ObjectNull",
	RecordMessageEnd:                     "MessageEnd",
	RecordBinaryLibrary:                  "BinaryLibrary",
	RecordObjectNullMultiple256:          "ObjectNullMultiple256",
	RecordObjectNullMultiple:             "ObjectNullMultiple",
	RecordArraySinglePrimitive:           "ArraySinglePrimitive",
	RecordArraySingleObject:              "ArraySingleObject",
	RecordArraySingleString:              "ArraySingleString",
	RecordMethodCall:                     "MethodCall",
	RecordMethodReturn:                   "MethodReturn",
}

func (t RecordType) String() string {
	if s, ok := recordNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RecordType(%d)", byte(t))
}

// BinaryType describes how a class member or array element is carried.
type BinaryType byte

const (
	BinaryPrimitive      BinaryType = 0
	BinaryString         BinaryType = 1
	BinaryObject         BinaryType = 2
	BinarySystemClass    BinaryType = 3
	BinaryClass          BinaryType = 4
	BinaryObjectArray    BinaryType = 5
	BinaryStringArray    BinaryType = 6
	BinaryPrimitiveArray BinaryType = 7
)

func (b BinaryType) String() string {
	switch b {
	case BinaryPrimitive:
		return "Primitive"
	case BinaryString:
		return "String"
	case BinaryObject:
		return "Object"
	case BinarySystemClass:
		return "SystemClass"
	case BinaryClass:
		return "Class"
	case BinaryObjectArray:
		return "ObjectArray"
	case BinaryStringArray:
		return "StringArray"
	case BinaryPrimitiveArray:
		return "PrimitiveArray"
	}
	return fmt.Sprintf("BinaryType(%d)", byte(b))
}

// BinaryArrayType is the shape of a BinaryArray record.
type BinaryArrayType byte

const (
	ArraySingle            BinaryArrayType = 0
	ArrayJagged            BinaryArrayType = 1
	ArrayRectangular       BinaryArrayType = 2
	ArraySingleOffset      BinaryArrayType = 3
	ArrayJaggedOffset      BinaryArrayType = 4
	ArrayRectangularOffset BinaryArrayType = 5
)

func (a BinaryArrayType) hasOffsets() bool {
	return a == ArraySingleOffset || a == ArrayJaggedOffset || a == ArrayRectangularOffset
}

func (a BinaryArrayType) jagged() bool {
	return a == ArrayJagged || a == ArrayJaggedOffset
}

// MemberType is the declared type of one class member or array element.
// Primitive is set for BinaryPrimitive and BinaryPrimitiveArray, ClassName
// for BinarySystemClass and BinaryClass, Library for BinaryClass.
type MemberType struct {
	Binary    BinaryType
	Primitive PrimitiveType
	ClassName string
	Library   string
}

// PrimitiveMember declares an inline primitive member.
func PrimitiveMember(p PrimitiveType) MemberType {
	return MemberType{Binary: BinaryPrimitive, Primitive: p}
}

// ClassLayout is the metadata shared by every instance of a class.
// Library is empty for system classes; MemberTypes is nil for the untyped
// record variants.
type ClassLayout struct {
	Name        string
	Library     string
	MemberNames []string
	MemberTypes []MemberType
}

func (l *ClassLayout) system() bool { return l.Library == "" }
func (l *ClassLayout) typed() bool  { return l.MemberTypes != nil }

// Record is one decoded or to-be-encoded wire record. The set of
// implementations is closed.
type Record interface {
	RecordType() RecordType
	ObjectID() ObjectID
	record()
}

// SerializationHeader starts every stream.
type SerializationHeader struct {
	RootID       ObjectID
	HeaderID     ObjectID
	MajorVersion int32
	MinorVersion int32
}

// BinaryLibrary names the assembly that defines later classes.
type BinaryLibrary struct {
	ID   ObjectID
	Name string
}

// ClassRecord is an instance of a class. MetadataID is set on decode when
// the record arrived as ClassWithId reusing an earlier layout.
type ClassRecord struct {
	ID         ObjectID
	Layout     *ClassLayout
	Members    []Value
	MetadataID ObjectID
}

// StringRecord is a BinaryObjectString.
type StringRecord struct {
	ID    ObjectID
	Value string
}

// PrimitiveArray is an ArraySinglePrimitive. Values holds a typed slice
// whose element type is Widen(Element), e.g. []int32 for PrimitiveInt32.
type PrimitiveArray struct {
	ID      ObjectID
	Element PrimitiveType
	Values  any
}

// ObjectArray is an ArraySingleObject.
type ObjectArray struct {
	ID       ObjectID
	Elements []Value
}

// StringArray is an ArraySingleString.
type StringArray struct {
	ID       ObjectID
	Elements []Value
}

// BinaryArray is the general array form: any rank, jagged, or with lower
// bounds. Elements are flattened in row-major order.
type BinaryArray struct {
	ID          ObjectID
	Shape       BinaryArrayType
	Lengths     []int32
	LowerBounds []int32
	Element     MemberType
	Elements    []Value
}

// MemberReference points at another record by id.
type MemberReference struct {
	IDRef ObjectID
}

// ObjectNull is a single null slot.
type ObjectNull struct{}

// NullRun stands for Count consecutive null slots. Wide selects the 4-byte
// count form.
type NullRun struct {
	Count int32
	Wide  bool
}

// MemberPrimitiveTyped is a primitive carried with its own type tag.
type MemberPrimitiveTyped struct {
	Primitive PrimitiveType
	Value     any
}

// MessageEnd terminates the stream.
type MessageEnd struct{}

func (*SerializationHeader) RecordType() RecordType { return RecordSerializedStreamHeader }
func (*BinaryLibrary) RecordType() RecordType       { return RecordBinaryLibrary }
func (*StringRecord) RecordType() RecordType        { return RecordBinaryObjectString }
func (*PrimitiveArray) RecordType() RecordType      { return RecordArraySinglePrimitive }
func (*ObjectArray) RecordType() RecordType         { return RecordArraySingleObject }
func (*StringArray) RecordType() RecordType         { return RecordArraySingleString }
func (*BinaryArray) RecordType() RecordType         { return RecordBinaryArray }
func (*MemberReference) RecordType() RecordType     { return RecordMemberReference }
func (*ObjectNull) RecordType() RecordType          { return RecordObjectNull }
func (*MemberPrimitiveTyped) RecordType() RecordType {
	return RecordMemberPrimitiveTyped
}
func (*MessageEnd) RecordType() RecordType { return RecordMessageEnd }

func (n *NullRun) RecordType() RecordType {
	if n.Wide {
		return RecordObjectNullMultiple
	}
	return RecordObjectNullMultiple256
}

// RecordType reports the layout-derived class record kind. A record decoded
// from ClassWithId reports the kind of the layout it reused.
func (c *ClassRecord) RecordType() RecordType {
	switch {
	case c.Layout.system() && c.Layout.typed():
		return RecordSystemClassWithMembersAndTypes
	case c.Layout.system():
		return RecordSystemClassWithMembers
	case c.Layout.typed():
		return RecordClassWithMembersAndTypes
	default:
		return RecordClassWithMembers
	}
}

func (*SerializationHeader) ObjectID() ObjectID  { return NoID }
func (l *BinaryLibrary) ObjectID() ObjectID      { return l.ID }
func (c *ClassRecord) ObjectID() ObjectID        { return c.ID }
func (s *StringRecord) ObjectID() ObjectID       { return s.ID }
func (a *PrimitiveArray) ObjectID() ObjectID     { return a.ID }
func (a *ObjectArray) ObjectID() ObjectID        { return a.ID }
func (a *StringArray) ObjectID() ObjectID        { return a.ID }
func (a *BinaryArray) ObjectID() ObjectID        { return a.ID }
func (*MemberReference) ObjectID() ObjectID      { return NoID }
func (*ObjectNull) ObjectID() ObjectID           { return NoID }
func (*NullRun) ObjectID() ObjectID              { return NoID }
func (*MemberPrimitiveTyped) ObjectID() ObjectID { return NoID }
func (*MessageEnd) ObjectID() ObjectID           { return NoID }

func (*SerializationHeader) record()  {}
func (*BinaryLibrary) record()        {}
func (*ClassRecord) record()          {}
func (*StringRecord) record()         {}
func (*PrimitiveArray) record()       {}
func (*ObjectArray) record()          {}
func (*StringArray) record()          {}
func (*BinaryArray) record()          {}
func (*MemberReference) record()      {}
func (*ObjectNull) record()           {}
func (*NullRun) record()              {}
func (*MemberPrimitiveTyped) record() {}
func (*MessageEnd) record()           {}

// TypeName parses the class name leniently.
func (c *ClassRecord) TypeName() (TypeName, error) {
	return ParseTypeName(c.Layout.Name, TypeNameLenient)
}

// Member returns the value of the named member.
func (c *ClassRecord) Member(name string) (Value, bool) {
	for i, n := range c.Layout.MemberNames {
		if n == name && i < len(c.Members) {
			return c.Members[i], true
		}
	}
	return Value{}, false
}

// Len returns the number of elements.
func (a *PrimitiveArray) Len() int {
	if a.Values == nil {
		return 0
	}
	return reflect.ValueOf(a.Values).Len()
}

// Strings returns the elements as strings and fails with
// ErrUnexpectedNullInArray if any element is null.
func (a *StringArray) Strings() ([]string, error) {
	out := make([]string, len(a.Elements))
	for i, v := range a.Elements {
		s, ok := v.AsString()
		if !ok {
			if v.IsNull() {
				return nil, detail(ErrUnexpectedNullInArray, "element %d", i)
			}
			return nil, detail(ErrTypeMismatch, "element %d is %s", i, v.Kind)
		}
		out[i] = s
	}
	return out, nil
}

// NullableStrings returns the elements with nil for null slots.
func (a *StringArray) NullableStrings() []*string {
	out := make([]*string, len(a.Elements))
	for i, v := range a.Elements {
		if s, ok := v.AsString(); ok {
			out[i] = &s
		}
	}
	return out
}

// values exposes the slot slice of container records.
func values(r Record) []Value {
	switch x := r.(type) {
	case *ClassRecord:
		return x.Members
	case *ObjectArray:
		return x.Elements
	case *StringArray:
		return x.Elements
	case *BinaryArray:
		return x.Elements
	}
	return nil
}
