package nrbf

import (
	"io"
	"math"
	"reflect"

	"github.com/unkn0wn-root/nrbf/internal/bufpool"
	"github.com/unkn0wn-root/nrbf/internal/mathutil"
	"github.com/unkn0wn-root/nrbf/rle"
)

const (
	rootID   ObjectID = 1
	headerID ObjectID = -1
)

var encodePool = bufpool.New(4<<10, 64<<10, 1<<20)

type encoder struct {
	buf     encbuf
	root    Record
	nextID  ObjectID
	seen    map[Record]ObjectID
	layouts map[*ClassLayout]ObjectID
	libs    map[string]ObjectID
	strs    *stringTable
	depth   int
}

func newEncoder(buf []byte) *encoder {
	return &encoder{
		buf:     encbuf{b: buf},
		nextID:  rootID + 1,
		seen:    make(map[Record]ObjectID),
		layouts: make(map[*ClassLayout]ObjectID),
		libs:    make(map[string]ObjectID),
		strs:    newStringTable(),
	}
}

// Encode writes root and everything reachable from it as one stream.
// Records are written where they are first reached and referenced by id
// afterwards. Nothing is written to w unless the whole graph encodes.
func Encode(w io.Writer, root Record) error {
	staged := encodePool.Get(4 << 10)
	e := newEncoder(staged)
	defer func() { encodePool.Put(e.buf.b) }()

	if err := e.encode(root); err != nil {
		return wrapError("encode", err)
	}
	if _, err := w.Write(e.buf.b); err != nil {
		return wrapError("encode", err)
	}
	return nil
}

func (e *encoder) encode(root Record) error {
	if !referenceable(root) {
		return detail(ErrUnsupportedValue, "root %T", root)
	}
	e.root = root
	e.writeHeader()
	if err := e.writeRecord(root); err != nil {
		return err
	}
	e.buf.writeTag(RecordMessageEnd)
	return nil
}

func (e *encoder) writeHeader() {
	e.buf.writeTag(RecordSerializedStreamHeader)
	e.buf.writeID(rootID)
	e.buf.writeID(headerID)
	e.buf.writeInt32(1)
	e.buf.writeInt32(0)
}

// referenceable reports whether r can carry an object id on the wire.
func referenceable(r Record) bool {
	switch r.(type) {
	case *ClassRecord, *StringRecord, *PrimitiveArray, *ObjectArray, *StringArray, *BinaryArray:
		return true
	}
	return false
}

// assign gives r the next object id. The root always gets rootID, even
// when libraries it needs are written ahead of it.
func (e *encoder) assign(r Record) ObjectID {
	id := rootID
	if r != e.root {
		id = e.nextID
		e.nextID++
	}
	e.seen[r] = id
	return id
}

func (e *encoder) enter() error {
	e.depth++
	if e.depth > defaultMaxDepth {
		return limitError(ErrDepthExceedsLimit, defaultMaxDepth, int64(e.depth))
	}
	return nil
}

func (e *encoder) leave() { e.depth-- }

// writeRecord writes a referenceable record inline, or a member reference
// if it was written before.
func (e *encoder) writeRecord(r Record) error {
	if id, ok := e.seen[r]; ok {
		e.writeReference(id)
		return nil
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	switch x := r.(type) {
	case *StringRecord:
		e.writeStringValue(x.Value, x)
		return nil
	case *ClassRecord:
		return e.writeClass(x)
	case *PrimitiveArray:
		return e.writePrimitiveArray(x)
	case *ObjectArray:
		e.buf.writeTag(RecordArraySingleObject)
		e.buf.writeID(e.assign(x))
		e.buf.writeInt32(int32(len(x.Elements)))
		return e.writeSlots(x.Elements, slotObject)
	case *StringArray:
		e.buf.writeTag(RecordArraySingleString)
		e.buf.writeID(e.assign(x))
		e.buf.writeInt32(int32(len(x.Elements)))
		return e.writeSlots(x.Elements, slotString)
	case *BinaryArray:
		return e.writeBinaryArray(x)
	}
	return detail(ErrUnsupportedValue, "%T cannot be written inline", r)
}

func (e *encoder) writeReference(id ObjectID) {
	ref := e.strs.ref(id)
	e.buf.writeTag(RecordMemberReference)
	e.buf.writeID(ref.IDRef)
}

// writeStringValue writes s, or a reference to an equal string already
// written. src, when non-nil, is the record the string came from.
func (e *encoder) writeStringValue(s string, src *StringRecord) {
	if id, ok := e.strs.lookup(s); ok {
		if src != nil {
			e.seen[src] = id
		}
		e.writeReference(id)
		return
	}
	var id ObjectID
	if src != nil {
		id = e.assign(src)
	} else {
		id = e.nextID
		e.nextID++
	}
	e.strs.add(s, id)
	e.buf.writeTag(RecordBinaryObjectString)
	e.buf.writeID(id)
	e.buf.writeString(s)
}

// library returns the id of the named library, writing the library record
// first if this is its first use.
func (e *encoder) library(name string) ObjectID {
	if id, ok := e.libs[name]; ok {
		return id
	}
	id := e.nextID
	e.nextID++
	e.libs[name] = id
	e.buf.writeTag(RecordBinaryLibrary)
	e.buf.writeID(id)
	e.buf.writeString(name)
	return id
}

func (e *encoder) writeClass(c *ClassRecord) error {
	l := c.Layout
	if l == nil {
		return detail(ErrUnsupportedValue, "class record without layout")
	}
	if len(c.Members) != len(l.MemberNames) {
		return detail(ErrUnsupportedValue, "%s has %d members for %d names", l.Name, len(c.Members), len(l.MemberNames))
	}
	if l.typed() && len(l.MemberTypes) != len(l.MemberNames) {
		return detail(ErrUnsupportedValue, "%s has %d member types for %d names", l.Name, len(l.MemberTypes), len(l.MemberNames))
	}

	if meta, ok := e.layouts[l]; ok {
		e.buf.writeTag(RecordClassWithID)
		e.buf.writeID(e.assign(c))
		e.buf.writeID(meta)
	} else {
		if err := e.writeLayout(c); err != nil {
			return err
		}
	}

	for i, v := range c.Members {
		if !l.typed() {
			if err := e.writeSlot(v, slotObject); err != nil {
				return err
			}
			continue
		}
		t := l.MemberTypes[i]
		if t.Binary == BinaryPrimitive {
			if v.Kind != ValuePrimitive || v.Primitive != t.Primitive {
				return detail(ErrUnsupportedValue, "member %s of %s needs %s, got %v", l.MemberNames[i], l.Name, t.Primitive, v)
			}
			if err := e.buf.writePrimitive(t.Primitive, v.Data); err != nil {
				return err
			}
			continue
		}
		if err := e.writeSlot(v, slotKindOf(t)); err != nil {
			return err
		}
	}
	return nil
}

// writeLayout writes the header of a class record carrying its own layout.
func (e *encoder) writeLayout(c *ClassRecord) error {
	l := c.Layout
	if _, err := ParseTypeName(l.Name, TypeNameStrict); err != nil {
		return err
	}
	// libraries go out before the record that names them
	var libID ObjectID
	if !l.system() {
		libID = e.library(l.Library)
	}
	for _, t := range l.MemberTypes {
		if err := validMemberType(t); err != nil {
			return err
		}
		if t.Binary == BinaryClass {
			e.library(t.Library)
		}
	}

	e.buf.writeTag(c.RecordType())
	id := e.assign(c)
	e.layouts[l] = id
	e.buf.writeID(id)
	e.buf.writeString(l.Name)
	e.buf.writeInt32(int32(len(l.MemberNames)))
	for _, n := range l.MemberNames {
		e.buf.writeString(n)
	}
	if l.typed() {
		for _, t := range l.MemberTypes {
			e.buf.writeByte(byte(t.Binary))
		}
		for _, t := range l.MemberTypes {
			e.writeAdditionalInfo(t)
		}
	}
	if !l.system() {
		e.buf.writeID(libID)
	}
	return nil
}

// arraySlots checks the shape of a and returns its slot count.
func arraySlots(a *BinaryArray) (int, error) {
	rank := len(a.Lengths)
	switch {
	case a.Shape > ArrayRectangularOffset:
		return 0, detail(ErrInvalidArrayElementTag, "array shape %d", a.Shape)
	case rank == 0:
		return 0, detail(ErrInvalidLength, "array without dimensions")
	case rank != 1 && a.Shape != ArrayRectangular && a.Shape != ArrayRectangularOffset:
		return 0, detail(ErrInvalidLength, "rank %d for shape %d", rank, a.Shape)
	case a.Shape.hasOffsets() && len(a.LowerBounds) != rank:
		return 0, detail(ErrInvalidLength, "%d lower bounds for rank %d", len(a.LowerBounds), rank)
	}
	total := int64(1)
	for _, n := range a.Lengths {
		var ok bool
		if total, ok = mathutil.MulCheck(total, int64(n), math.MaxInt32); !ok {
			return 0, detail(ErrInvalidLength, "dimension length %d", n)
		}
	}
	return int(total), nil
}

func validMemberType(t MemberType) error {
	switch t.Binary {
	case BinaryPrimitive, BinaryPrimitiveArray:
		if !t.Primitive.Valid() || t.Primitive == PrimitiveNull || t.Primitive == PrimitiveString {
			return detail(ErrInvalidPrimitiveTag, "%s", t.Primitive)
		}
	case BinarySystemClass:
		if _, err := ParseTypeName(t.ClassName, TypeNameStrict); err != nil {
			return err
		}
	case BinaryClass:
		if _, err := ParseTypeName(t.ClassName, TypeNameStrict); err != nil {
			return err
		}
		if t.Library == "" {
			return detail(ErrUnsupportedValue, "class member type %s without library", t.ClassName)
		}
	case BinaryString, BinaryObject, BinaryObjectArray, BinaryStringArray:
	default:
		return detail(ErrInvalidMemberTypeTag, "%d", byte(t.Binary))
	}
	return nil
}

// writeAdditionalInfo assumes any library it names is already written.
func (e *encoder) writeAdditionalInfo(t MemberType) {
	switch t.Binary {
	case BinaryPrimitive, BinaryPrimitiveArray:
		e.buf.writeByte(byte(t.Primitive))
	case BinarySystemClass:
		e.buf.writeString(t.ClassName)
	case BinaryClass:
		e.buf.writeString(t.ClassName)
		e.buf.writeID(e.libs[t.Library])
	}
}

func (e *encoder) writePrimitiveArray(a *PrimitiveArray) error {
	if err := checkPrimitiveArray(a); err != nil {
		return err
	}
	e.buf.writeTag(RecordArraySinglePrimitive)
	e.buf.writeID(e.assign(a))
	e.buf.writeInt32(int32(a.Len()))
	e.buf.writeByte(byte(a.Element))
	return writePrimitiveValues(&e.buf, a)
}

func checkPrimitiveArray(a *PrimitiveArray) error {
	p := a.Element
	if !p.Valid() || p == PrimitiveNull || p == PrimitiveString {
		return detail(ErrInvalidArrayElementTag, "%s", p)
	}
	if a.Values == nil {
		return nil
	}
	want, _ := Widen(p)
	if t := reflect.TypeOf(a.Values); t.Kind() != reflect.Slice || t.Elem() != want {
		return detail(ErrUnsupportedValue, "%T for %s array", a.Values, p)
	}
	return nil
}

// writePrimitiveValues writes the raw elements of a checked array.
func writePrimitiveValues(buf *encbuf, a *PrimitiveArray) error {
	if b, ok := a.Values.([]byte); ok {
		buf.b = append(buf.b, b...)
		return nil
	}
	if a.Values == nil {
		return nil
	}
	rv := reflect.ValueOf(a.Values)
	for i := 0; i < rv.Len(); i++ {
		if err := buf.writePrimitive(a.Element, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) writeBinaryArray(a *BinaryArray) error {
	rank := len(a.Lengths)
	total, err := arraySlots(a)
	if err != nil {
		return err
	}
	if total != len(a.Elements) {
		return detail(ErrInvalidLength, "%d elements for %d slots", len(a.Elements), total)
	}
	if err := validMemberType(a.Element); err != nil {
		return err
	}
	if a.Element.Binary == BinaryClass {
		e.library(a.Element.Library)
	}

	e.buf.writeTag(RecordBinaryArray)
	e.buf.writeID(e.assign(a))
	e.buf.writeByte(byte(a.Shape))
	e.buf.writeInt32(int32(rank))
	for _, n := range a.Lengths {
		e.buf.writeInt32(n)
	}
	if a.Shape.hasOffsets() {
		for _, b := range a.LowerBounds {
			e.buf.writeInt32(b)
		}
	}
	e.buf.writeByte(byte(a.Element.Binary))
	e.writeAdditionalInfo(a.Element)

	if a.Element.Binary == BinaryPrimitive {
		for _, v := range a.Elements {
			if v.Kind != ValuePrimitive || v.Primitive != a.Element.Primitive {
				return detail(ErrUnsupportedValue, "%v in %s array", v, a.Element.Primitive)
			}
			if err := e.buf.writePrimitive(v.Primitive, v.Data); err != nil {
				return err
			}
		}
		return nil
	}
	return e.writeSlots(a.Elements, slotKindOf(a.Element))
}

// writeSlots writes array elements, folding consecutive nulls into null
// runs.
func (e *encoder) writeSlots(vs []Value, kind slotKind) error {
	mask := make([]byte, len(vs))
	for i, v := range vs {
		if isNullSlot(v) {
			mask[i] = 1
		}
	}
	i := 0
	for _, run := range rle.Runs(mask) {
		if run.Value == 1 {
			e.writeNulls(run.Count)
			i += run.Count
			continue
		}
		for end := i + run.Count; i < end; i++ {
			if err := e.writeSlot(vs[i], kind); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNullSlot(v Value) bool {
	if v.Kind == ValueNull {
		return true
	}
	if v.Kind == ValueRecord {
		_, ok := v.Record.(*ObjectNull)
		return ok || v.Record == nil
	}
	return false
}

func (e *encoder) writeNulls(n int) {
	switch {
	case n == 1:
		e.buf.writeTag(RecordObjectNull)
	case n <= rle.MaxRun:
		e.buf.writeTag(RecordObjectNullMultiple256)
		e.buf.writeByte(byte(n))
	default:
		e.buf.writeTag(RecordObjectNullMultiple)
		e.buf.writeInt32(int32(n))
	}
}

// writeSlot writes one non-inline-primitive slot.
func (e *encoder) writeSlot(v Value, kind slotKind) error {
	switch v.Kind {
	case ValueNull:
		e.buf.writeTag(RecordObjectNull)
		return nil

	case ValuePrimitive:
		if v.Primitive == PrimitiveString {
			s, ok := v.Data.(string)
			if !ok {
				return detail(ErrUnsupportedValue, "%T for String", v.Data)
			}
			e.writeStringValue(s, nil)
			return nil
		}
		return e.writeTypedPrimitive(v.Primitive, v.Data, kind)

	case ValueRecord:
		switch r := v.Record.(type) {
		case nil, *ObjectNull:
			e.buf.writeTag(RecordObjectNull)
			return nil
		case *MemberPrimitiveTyped:
			return e.writeTypedPrimitive(r.Primitive, r.Value, kind)
		case *StringRecord:
			return e.writeRecord(r)
		}
		if kind == slotString {
			return detail(ErrUnsupportedValue, "%s in a string slot", v.Record.RecordType())
		}
		return e.writeRecord(v.Record)
	}
	return detail(ErrUnsupportedValue, "value kind %s", v.Kind)
}

func (e *encoder) writeTypedPrimitive(p PrimitiveType, x any, kind slotKind) error {
	if kind != slotObject {
		return detail(ErrUnsupportedValue, "%s primitive outside an object slot", p)
	}
	if !p.Valid() || p == PrimitiveNull || p == PrimitiveString {
		return detail(ErrInvalidPrimitiveTag, "%s", p)
	}
	e.buf.writeTag(RecordMemberPrimitiveTyped)
	e.buf.writeByte(byte(p))
	return e.buf.writePrimitive(p, x)
}
