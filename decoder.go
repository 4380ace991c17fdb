package nrbf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"unicode/utf8"

	"github.com/unkn0wn-root/nrbf/internal/mathutil"
)

const (
	// preallocation ceilings for lengths read from the stream
	maxPreallocSlots = 1 << 12
	maxPreallocBytes = 1 << 16

	// LengthPrefixedString lengths use at most five 7-bit groups.
	maxVarintBytes = 5

	// notNull is returned by readSlot when the slot holds a value rather
	// than a null marker or null run.
	notNull = -1

	// Null run budget when Options.MaxNullSlots is zero: a fixed allowance
	// plus a share per byte read, so expansion stays linear in the input.
	nullSlotsBase    = 1 << 16
	nullSlotsPerByte = 64
)

// slotKind restricts which records may fill a slot.
type slotKind uint8

const (
	slotObject slotKind = iota // anything, including MemberPrimitiveTyped
	slotString                 // string record, reference or null
	slotRecord                 // any referenceable record, reference or null
)

func slotKindOf(t MemberType) slotKind {
	switch t.Binary {
	case BinaryObject:
		return slotObject
	case BinaryString:
		return slotString
	}
	return slotRecord
}

type pendingRef struct {
	owner Record
	index int
	id    ObjectID
}

type decoder struct {
	buf     *decbuf
	opts    Options
	ids     *idMap
	log     *slog.Logger
	depth   int
	nulls   int64 // slots expanded from null runs so far
	pending []pendingRef
}

// Decode reads one stream and returns its root record. A nil opts uses
// DefaultOptions. Decode never constructs host types: the result is made
// only of this package's record types and primitive values.
func Decode(r io.Reader, opts *Options) (Record, error) {
	g, err := DecodeGraph(r, opts)
	if err != nil {
		return nil, err
	}
	return g.Root(), nil
}

// DecodeGraph reads one stream and returns the root together with every
// record read, indexed by object id.
func DecodeGraph(r io.Reader, opts *Options) (*Graph, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
		o.AllowedRootTypes = append([]RecordType(nil), opts.AllowedRootTypes...)
	}
	if err := o.Validate(); err != nil {
		return nil, wrapError("decode", err)
	}
	d := &decoder{
		buf:  newDecbuf(r),
		opts: o,
		ids:  newIDMap(0),
		log:  o.logger(),
	}
	g, err := d.decode()
	if err != nil {
		return nil, d.fail(err)
	}
	return g, nil
}

// fail is the single point where decode errors get their final shape.
func (d *decoder) fail(err error) error {
	err = endOfStream(err)
	d.log.Debug("decode failed", "offset", d.buf.Offset(), "err", err)
	return newError("decode", d.buf.Offset(), err)
}

// endOfStream maps a short read to ErrUnexpectedEndOfStream.
func endOfStream(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrUnexpectedEndOfStream, io.ErrUnexpectedEOF)
	}
	return err
}

func (d *decoder) decode() (*Graph, error) {
	tag, err := d.readTag()
	if err != nil {
		return nil, err
	}
	if tag != RecordSerializedStreamHeader {
		return nil, detail(ErrUnexpectedRecord, "stream starts with %s", tag)
	}
	header, err := d.readHeader()
	if err != nil {
		return nil, err
	}
	d.ids.tryAdd(header)
	d.log.Debug("stream header", "root", header.RootID, "major", header.MajorVersion, "minor", header.MinorVersion)

	for {
		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		if tag == RecordMessageEnd {
			d.ids.tryAdd(&MessageEnd{})
			break
		}
		if err := d.readTopLevel(tag); err != nil {
			return nil, err
		}
	}

	if err := d.resolvePending(); err != nil {
		return nil, err
	}

	root, ok := d.ids.get(header.RootID)
	if !ok {
		return nil, detail(ErrDanglingReference, "root id %d", header.RootID)
	}
	if !d.opts.rootAllowed(root.RecordType()) {
		return nil, detail(ErrDisallowedRoot, "%s", root.RecordType())
	}
	d.log.Debug("decoded", "root", root.RecordType(), "records", len(d.ids.records))
	return &Graph{header: header, root: root, ids: d.ids}, nil
}

func (d *decoder) readTopLevel(tag RecordType) error {
	switch tag {
	case RecordBinaryLibrary:
		_, err := d.readLibrary()
		return err
	case RecordClassWithID, RecordSystemClassWithMembers, RecordClassWithMembers,
		RecordSystemClassWithMembersAndTypes, RecordClassWithMembersAndTypes,
		RecordBinaryObjectString, RecordBinaryArray, RecordArraySinglePrimitive,
		RecordArraySingleObject, RecordArraySingleString:
		_, err := d.readReferenceable(tag)
		return err
	}
	return d.unexpected(tag)
}

func (d *decoder) unexpected(tag RecordType) error {
	switch {
	case tag == RecordMethodCall || tag == RecordMethodReturn:
		return detail(ErrUnsupportedRecord, "%s", tag)
	case tag > RecordArraySingleString:
		return detail(ErrInvalidRecordTag, "%d", byte(tag))
	}
	return detail(ErrUnexpectedRecord, "%s", tag)
}

func (d *decoder) readTag() (RecordType, error) {
	b, err := d.buf.ReadByte()
	return RecordType(b), err
}

func (d *decoder) readHeader() (*SerializationHeader, error) {
	var v [4]int32
	for i := range v {
		n, err := d.buf.ReadInt32()
		if err != nil {
			return nil, err
		}
		v[i] = n
	}
	return &SerializationHeader{
		RootID:       ObjectID(v[0]),
		HeaderID:     ObjectID(v[1]),
		MajorVersion: v[2],
		MinorVersion: v[3],
	}, nil
}

func (d *decoder) readID() (ObjectID, error) {
	n, err := d.buf.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, detail(ErrInvalidIdentifier, "zero id")
	}
	return ObjectID(n), nil
}

// register indexes r through the insert-or-fail primitive.
func (d *decoder) register(r Record) error {
	if !d.ids.tryAdd(r) {
		return detail(ErrDuplicateIdentifier, "%d (%s)", r.ObjectID(), r.RecordType())
	}
	d.log.Debug("record", "type", r.RecordType(), "id", r.ObjectID())
	return nil
}

func (d *decoder) enter() error {
	d.depth++
	if d.opts.MaxDepth > 0 && d.depth > d.opts.MaxDepth {
		return limitError(ErrDepthExceedsLimit, d.opts.MaxDepth, int64(d.depth))
	}
	return nil
}

func (d *decoder) leave() { d.depth-- }

// readReferenceable reads a record that carries its own object id.
func (d *decoder) readReferenceable(tag RecordType) (Record, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	switch tag {
	case RecordBinaryObjectString:
		return d.readStringRecord()
	case RecordClassWithID, RecordSystemClassWithMembers, RecordClassWithMembers,
		RecordSystemClassWithMembersAndTypes, RecordClassWithMembersAndTypes:
		return d.readClass(tag)
	case RecordArraySinglePrimitive:
		return d.readPrimitiveArray()
	case RecordArraySingleObject, RecordArraySingleString:
		return d.readSingleArray(tag)
	case RecordBinaryArray:
		return d.readBinaryArray()
	}
	return nil, d.unexpected(tag)
}

func (d *decoder) readLibrary() (*BinaryLibrary, error) {
	id, err := d.readID()
	if err != nil {
		return nil, err
	}
	name, err := d.readString()
	if err != nil {
		return nil, err
	}
	lib := &BinaryLibrary{ID: id, Name: name}
	return lib, d.register(lib)
}

func (d *decoder) readStringRecord() (*StringRecord, error) {
	id, err := d.readID()
	if err != nil {
		return nil, err
	}
	s, err := d.readString()
	if err != nil {
		return nil, err
	}
	rec := &StringRecord{ID: id, Value: s}
	return rec, d.register(rec)
}

func (d *decoder) readClass(tag RecordType) (*ClassRecord, error) {
	var c *ClassRecord
	if tag == RecordClassWithID {
		id, err := d.readID()
		if err != nil {
			return nil, err
		}
		meta, err := d.buf.ReadInt32()
		if err != nil {
			return nil, err
		}
		target, ok := d.ids.get(ObjectID(meta))
		if !ok {
			return nil, detail(ErrDanglingReference, "class metadata id %d", meta)
		}
		mc, ok := target.(*ClassRecord)
		if !ok {
			return nil, detail(ErrUnexpectedRecord, "class metadata id %d is %s", meta, target.RecordType())
		}
		c = &ClassRecord{ID: id, Layout: mc.Layout, MetadataID: ObjectID(meta)}
	} else {
		id, layout, err := d.readClassLayout(tag)
		if err != nil {
			return nil, err
		}
		c = &ClassRecord{ID: id, Layout: layout}
	}

	// register before the members so that members can refer back to c
	if err := d.register(c); err != nil {
		return nil, err
	}

	types := c.Layout.MemberTypes
	n := len(c.Layout.MemberNames)
	members := make([]Value, 0, mathutil.InitialCap(n, maxPreallocSlots))
	for len(members) < n {
		i := len(members)
		if types != nil && types[i].Binary == BinaryPrimitive {
			v, err := d.readPrimitiveValue(types[i].Primitive)
			if err != nil {
				return nil, err
			}
			members = append(members, v)
			continue
		}
		kind := slotObject
		if types != nil {
			kind = slotKindOf(types[i])
		}
		var err error
		if members, err = d.readSlotInto(c, members, n, kind); err != nil {
			return nil, err
		}
	}
	c.Members = members
	return c, nil
}

func (d *decoder) readClassLayout(tag RecordType) (ObjectID, *ClassLayout, error) {
	id, err := d.readID()
	if err != nil {
		return 0, nil, err
	}
	name, err := d.readString()
	if err != nil {
		return 0, nil, err
	}
	if _, err := ParseTypeName(name, d.opts.TypeNameParsing); err != nil {
		return 0, nil, err
	}
	count, err := d.buf.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	if count < 0 {
		return 0, nil, detail(ErrInvalidLength, "member count %d", count)
	}
	if d.opts.MaxMemberCount > 0 && int(count) > d.opts.MaxMemberCount {
		return 0, nil, limitError(ErrMemberCountExceedsLimit, d.opts.MaxMemberCount, int64(count))
	}
	var names []string
	if count > 0 {
		names = make([]string, 0, mathutil.InitialCap(int(count), maxPreallocSlots))
	}
	for i := int32(0); i < count; i++ {
		s, err := d.readString()
		if err != nil {
			return 0, nil, err
		}
		names = append(names, s)
	}

	layout := &ClassLayout{Name: name, MemberNames: names}
	if tag == RecordSystemClassWithMembersAndTypes || tag == RecordClassWithMembersAndTypes {
		if layout.MemberTypes, err = d.readMemberTypes(int(count)); err != nil {
			return 0, nil, err
		}
	}
	if tag == RecordClassWithMembers || tag == RecordClassWithMembersAndTypes {
		if layout.Library, err = d.readLibraryRef(); err != nil {
			return 0, nil, err
		}
	}
	return id, layout, nil
}

// readLibraryRef resolves a library id to the library name.
func (d *decoder) readLibraryRef() (string, error) {
	id, err := d.buf.ReadInt32()
	if err != nil {
		return "", err
	}
	r, ok := d.ids.get(ObjectID(id))
	if !ok {
		return "", detail(ErrDanglingReference, "library id %d", id)
	}
	lib, ok := r.(*BinaryLibrary)
	if !ok {
		return "", detail(ErrUnexpectedRecord, "library id %d is %s", id, r.RecordType())
	}
	return lib.Name, nil
}

func (d *decoder) readMemberTypes(n int) ([]MemberType, error) {
	// binary type tags come first, then the additional infos in order
	types := make([]MemberType, 0, mathutil.InitialCap(n, maxPreallocSlots))
	for i := 0; i < n; i++ {
		b, err := d.buf.ReadByte()
		if err != nil {
			return nil, err
		}
		if BinaryType(b) > BinaryPrimitiveArray {
			return nil, detail(ErrInvalidMemberTypeTag, "%d", b)
		}
		types = append(types, MemberType{Binary: BinaryType(b)})
	}
	for i := range types {
		if err := d.readAdditionalInfo(&types[i], ErrInvalidPrimitiveTag); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func (d *decoder) readAdditionalInfo(t *MemberType, badPrimitive error) error {
	switch t.Binary {
	case BinaryPrimitive, BinaryPrimitiveArray:
		b, err := d.buf.ReadByte()
		if err != nil {
			return err
		}
		p := PrimitiveType(b)
		if !p.Valid() || p == PrimitiveNull || p == PrimitiveString {
			return detail(badPrimitive, "%d", b)
		}
		t.Primitive = p
	case BinarySystemClass:
		name, err := d.readString()
		if err != nil {
			return err
		}
		if _, err := ParseTypeName(name, d.opts.TypeNameParsing); err != nil {
			return err
		}
		t.ClassName = name
	case BinaryClass:
		name, err := d.readString()
		if err != nil {
			return err
		}
		if _, err := ParseTypeName(name, d.opts.TypeNameParsing); err != nil {
			return err
		}
		t.ClassName = name
		if t.Library, err = d.readLibraryRef(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) readArrayLength() (int, error) {
	n, err := d.buf.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, detail(ErrInvalidLength, "array length %d", n)
	}
	if d.opts.MaxArrayLength > 0 && int(n) > d.opts.MaxArrayLength {
		return 0, limitError(ErrArrayLengthExceedsLimit, d.opts.MaxArrayLength, int64(n))
	}
	return int(n), nil
}

func (d *decoder) readPrimitiveArray() (*PrimitiveArray, error) {
	id, err := d.readID()
	if err != nil {
		return nil, err
	}
	n, err := d.readArrayLength()
	if err != nil {
		return nil, err
	}
	b, err := d.buf.ReadByte()
	if err != nil {
		return nil, err
	}
	p := PrimitiveType(b)
	if !p.Valid() || p == PrimitiveNull || p == PrimitiveString {
		return nil, detail(ErrInvalidArrayElementTag, "%d", b)
	}
	a := &PrimitiveArray{ID: id, Element: p}
	if err := d.register(a); err != nil {
		return nil, err
	}
	if a.Values, err = d.readPrimitiveSlice(p, n); err != nil {
		return nil, err
	}
	return a, nil
}

func (d *decoder) readSingleArray(tag RecordType) (Record, error) {
	id, err := d.readID()
	if err != nil {
		return nil, err
	}
	n, err := d.readArrayLength()
	if err != nil {
		return nil, err
	}
	var (
		rec  Record
		kind slotKind
	)
	if tag == RecordArraySingleString {
		rec, kind = &StringArray{ID: id}, slotString
	} else {
		rec, kind = &ObjectArray{ID: id}, slotObject
	}
	if err := d.register(rec); err != nil {
		return nil, err
	}
	elems := make([]Value, 0, mathutil.InitialCap(n, maxPreallocSlots))
	for len(elems) < n {
		if elems, err = d.readSlotInto(rec, elems, n, kind); err != nil {
			return nil, err
		}
	}
	switch a := rec.(type) {
	case *StringArray:
		a.Elements = elems
	case *ObjectArray:
		a.Elements = elems
	}
	return rec, nil
}

func (d *decoder) readBinaryArray() (*BinaryArray, error) {
	id, err := d.readID()
	if err != nil {
		return nil, err
	}
	shape, err := d.buf.ReadByte()
	if err != nil {
		return nil, err
	}
	a := &BinaryArray{ID: id, Shape: BinaryArrayType(shape)}
	if a.Shape > ArrayRectangularOffset {
		return nil, detail(ErrInvalidArrayElementTag, "array shape %d", shape)
	}
	if d.opts.DisallowOffsetArrays && a.Shape.hasOffsets() {
		return nil, detail(ErrDisallowedArray, "non-zero lower bounds")
	}
	if d.opts.DisallowJaggedArrays && a.Shape.jagged() {
		return nil, detail(ErrDisallowedArray, "jagged array")
	}

	rank, err := d.buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	if rank <= 0 || (a.Shape != ArrayRectangular && a.Shape != ArrayRectangularOffset && rank != 1) {
		return nil, detail(ErrInvalidLength, "rank %d for %d", rank, a.Shape)
	}
	if d.opts.MaxArrayRank > 0 && int(rank) > d.opts.MaxArrayRank {
		return nil, limitError(ErrArrayRankExceedsLimit, d.opts.MaxArrayRank, int64(rank))
	}
	if rank > 32 {
		return nil, detail(ErrInvalidLength, "rank %d", rank)
	}

	total := int64(1)
	a.Lengths = make([]int32, rank)
	for i := range a.Lengths {
		if a.Lengths[i], err = d.buf.ReadInt32(); err != nil {
			return nil, err
		}
		var ok bool
		if total, ok = mathutil.MulCheck(total, int64(a.Lengths[i]), math.MaxInt32); !ok {
			return nil, detail(ErrInvalidLength, "dimension %d length %d", i, a.Lengths[i])
		}
	}
	if d.opts.MaxArrayLength > 0 && total > int64(d.opts.MaxArrayLength) {
		return nil, limitError(ErrArrayLengthExceedsLimit, d.opts.MaxArrayLength, total)
	}
	if a.Shape.hasOffsets() {
		a.LowerBounds = make([]int32, rank)
		for i := range a.LowerBounds {
			if a.LowerBounds[i], err = d.buf.ReadInt32(); err != nil {
				return nil, err
			}
		}
	}

	et, err := d.buf.ReadByte()
	if err != nil {
		return nil, err
	}
	if BinaryType(et) > BinaryPrimitiveArray {
		return nil, detail(ErrInvalidArrayElementTag, "%d", et)
	}
	a.Element = MemberType{Binary: BinaryType(et)}
	if err := d.readAdditionalInfo(&a.Element, ErrInvalidArrayElementTag); err != nil {
		return nil, err
	}
	if err := d.register(a); err != nil {
		return nil, err
	}

	n := int(total)
	elems := make([]Value, 0, mathutil.InitialCap(n, maxPreallocSlots))
	for len(elems) < n {
		if a.Element.Binary == BinaryPrimitive {
			v, err := d.readPrimitiveValue(a.Element.Primitive)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
			continue
		}
		if elems, err = d.readSlotInto(a, elems, n, slotKindOf(a.Element)); err != nil {
			return nil, err
		}
	}
	a.Elements = elems
	return a, nil
}

// readSlotInto reads one slot record of owner and appends the value, or
// the nulls of a null run, to slots. n is the declared slot count.
func (d *decoder) readSlotInto(owner Record, slots []Value, n int, kind slotKind) ([]Value, error) {
	v, nulls, err := d.readSlot(kind)
	if err != nil {
		return nil, err
	}
	if nulls == notNull {
		if v.Kind == ValueRecord && v.Record == nil {
			d.pending = append(d.pending, pendingRef{owner: owner, index: len(slots), id: v.Ref})
		}
		return append(slots, v), nil
	}
	if nulls > n-len(slots) {
		return nil, detail(ErrUnexpectedNullRecordCount, "%d nulls for %d remaining slots", nulls, n-len(slots))
	}
	for i := 0; i < nulls; i++ {
		slots = append(slots, Null())
	}
	return slots, nil
}

// readSlot reads the record filling one slot. It returns the number of
// null slots covered, or notNull when v holds a value.
func (d *decoder) readSlot(kind slotKind) (v Value, nulls int, err error) {
	for {
		tag, err := d.readTag()
		if err != nil {
			return Value{}, 0, err
		}
		switch tag {
		case RecordBinaryLibrary:
			// libraries may precede any record; the slot follows
			if _, err := d.readLibrary(); err != nil {
				return Value{}, 0, err
			}
			continue

		case RecordObjectNull:
			d.ids.tryAdd(objectNull)
			return Value{}, 1, nil

		case RecordObjectNullMultiple256:
			b, err := d.buf.ReadByte()
			if err != nil {
				return Value{}, 0, err
			}
			return d.nullRun(int32(b), false)

		case RecordObjectNullMultiple:
			c, err := d.buf.ReadInt32()
			if err != nil {
				return Value{}, 0, err
			}
			return d.nullRun(c, true)

		case RecordMemberReference:
			id, err := d.buf.ReadInt32()
			if err != nil {
				return Value{}, 0, err
			}
			d.ids.tryAdd(&MemberReference{IDRef: ObjectID(id)})
			v, err := d.resolve(ObjectID(id), kind)
			return v, notNull, err

		case RecordMemberPrimitiveTyped:
			if kind != slotObject {
				return Value{}, 0, detail(ErrUnexpectedRecord, "%s in a typed slot", tag)
			}
			b, err := d.buf.ReadByte()
			if err != nil {
				return Value{}, 0, err
			}
			p := PrimitiveType(b)
			if !p.Valid() || p == PrimitiveNull || p == PrimitiveString {
				return Value{}, 0, detail(ErrInvalidPrimitiveTag, "%d", b)
			}
			v, err := d.readPrimitiveValue(p)
			if err != nil {
				return Value{}, 0, err
			}
			d.ids.tryAdd(&MemberPrimitiveTyped{Primitive: p, Value: v.Data})
			return v, notNull, nil

		case RecordBinaryObjectString, RecordClassWithID, RecordSystemClassWithMembers,
			RecordClassWithMembers, RecordSystemClassWithMembersAndTypes,
			RecordClassWithMembersAndTypes, RecordBinaryArray, RecordArraySinglePrimitive,
			RecordArraySingleObject, RecordArraySingleString:
			if kind == slotString && tag != RecordBinaryObjectString {
				return Value{}, 0, detail(ErrUnexpectedRecord, "%s in a string slot", tag)
			}
			r, err := d.readReferenceable(tag)
			if err != nil {
				return Value{}, 0, err
			}
			return Value{Kind: ValueRecord, Record: r, Ref: r.ObjectID()}, notNull, nil
		}
		return Value{}, 0, d.unexpected(tag)
	}
}

var objectNull = &ObjectNull{}

func (d *decoder) nullRun(count int32, wide bool) (Value, int, error) {
	if count < 0 {
		return Value{}, 0, detail(ErrUnexpectedNullRecordCount, "negative count %d", count)
	}
	if count == 0 {
		if d.opts.StrictNullRuns {
			return Value{}, 0, detail(ErrUnexpectedNullRecordCount, "zero-length null run")
		}
		d.log.Warn("zero-length null run", "offset", d.buf.Offset())
	}
	d.nulls += int64(count)
	if budget := d.nullBudget(); d.nulls > budget {
		return Value{}, 0, limitError(ErrNullSlotsExceedLimit, int(budget), d.nulls)
	}
	d.ids.tryAdd(&NullRun{Count: count, Wide: wide})
	return Value{}, int(count), nil
}

// nullBudget is the number of null slots runs may expand to at this point
// of the stream.
func (d *decoder) nullBudget() int64 {
	if d.opts.MaxNullSlots > 0 {
		return int64(d.opts.MaxNullSlots)
	}
	return nullSlotsBase + nullSlotsPerByte*d.buf.Offset()
}

// resolve looks up a member reference. Unknown ids are an error unless
// forward references are allowed, in which case the slot is patched once
// the stream ends.
func (d *decoder) resolve(id ObjectID, kind slotKind) (Value, error) {
	r, ok := d.ids.get(id)
	if !ok {
		if d.opts.AllowForwardReferences && id != NoID {
			return Value{Kind: ValueRecord, Ref: id}, nil
		}
		return Value{}, detail(ErrDanglingReference, "id %d", id)
	}
	if err := checkTarget(r, kind); err != nil {
		return Value{}, err
	}
	return Value{Kind: ValueRecord, Record: r, Ref: id}, nil
}

func checkTarget(r Record, kind slotKind) error {
	switch r.(type) {
	case *BinaryLibrary:
		return detail(ErrUnexpectedRecord, "reference to library %d", r.ObjectID())
	case *StringRecord:
	default:
		if kind == slotString {
			return detail(ErrUnexpectedRecord, "string slot references %s", r.RecordType())
		}
	}
	return nil
}

func (d *decoder) resolvePending() error {
	for _, p := range d.pending {
		r, ok := d.ids.get(p.id)
		if !ok {
			return detail(ErrDanglingReference, "id %d", p.id)
		}
		slots := values(p.owner)
		kind := slotObject
		if _, ok := p.owner.(*StringArray); ok {
			kind = slotString
		}
		if c, ok := p.owner.(*ClassRecord); ok && c.Layout.typed() {
			kind = slotKindOf(c.Layout.MemberTypes[p.index])
		}
		if a, ok := p.owner.(*BinaryArray); ok {
			kind = slotKindOf(a.Element)
		}
		if err := checkTarget(r, kind); err != nil {
			return err
		}
		slots[p.index].Record = r
	}
	d.pending = nil
	return nil
}

// readString reads a LengthPrefixedString.
func (d *decoder) readString() (string, error) {
	var n uint32
	for i := 0; ; i++ {
		b, err := d.buf.ReadByte()
		if err != nil {
			return "", err
		}
		if i == maxVarintBytes-1 && b > 0x07 {
			return "", detail(ErrInvalidLength, "string length overflows int32")
		}
		n |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	if d.opts.MaxStringLength > 0 && int64(n) > int64(d.opts.MaxStringLength) {
		return "", limitError(ErrStringLengthExceedsLimit, d.opts.MaxStringLength, int64(n))
	}
	p, err := d.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// readBytes reads n bytes without trusting n for the initial allocation.
func (d *decoder) readBytes(n int) ([]byte, error) {
	out := make([]byte, 0, mathutil.InitialCap(n, maxPreallocBytes))
	for len(out) < n {
		chunk := n - len(out)
		if chunk > decbufSize {
			chunk = decbufSize
		}
		p, err := d.buf.ReadBuf(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, p...)
	}
	return out, nil
}

func (d *decoder) readPrimitiveValue(p PrimitiveType) (Value, error) {
	x, err := d.readPrimitive(p)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: ValuePrimitive, Primitive: p, Data: x}, nil
}

// readPrimitive reads one raw primitive of type p.
func (d *decoder) readPrimitive(p PrimitiveType) (any, error) {
	switch p {
	case PrimitiveBoolean:
		b, err := d.buf.ReadByte()
		return b != 0, err
	case PrimitiveByte:
		return d.buf.ReadByte()
	case PrimitiveSByte:
		b, err := d.buf.ReadByte()
		return int8(b), err
	case PrimitiveInt16:
		return d.buf.ReadInt16()
	case PrimitiveUInt16:
		v, err := d.buf.ReadInt16()
		return uint16(v), err
	case PrimitiveInt32:
		return d.buf.ReadInt32()
	case PrimitiveUInt32:
		v, err := d.buf.ReadInt32()
		return uint32(v), err
	case PrimitiveInt64:
		v, err := d.buf.ReadUint64()
		return int64(v), err
	case PrimitiveUInt64:
		return d.buf.ReadUint64()
	case PrimitiveSingle:
		return d.buf.ReadFloat32()
	case PrimitiveDouble:
		return d.buf.ReadFloat64()
	case PrimitiveTimeSpan:
		v, err := d.buf.ReadUint64()
		return TimeSpan(int64(v)), err
	case PrimitiveDateTime:
		v, err := d.buf.ReadUint64()
		return dateTimeFromWire(v), err
	case PrimitiveChar:
		return d.readChar()
	case PrimitiveDecimal:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		if !validDecimal(s) {
			return nil, detail(ErrInvalidPrimitiveValue, "decimal %q", s)
		}
		return Decimal(s), nil
	case PrimitiveString:
		return d.readString()
	}
	return nil, detail(ErrInvalidPrimitiveTag, "%d", byte(p))
}

func (d *decoder) readChar() (Char, error) {
	b0, err := d.buf.ReadByte()
	if err != nil {
		return 0, err
	}
	var size int
	switch {
	case b0 < 0x80:
		return Char(b0), nil
	case b0&0xE0 == 0xC0:
		size = 2
	case b0&0xF0 == 0xE0:
		size = 3
	case b0&0xF8 == 0xF0:
		size = 4
	default:
		return 0, detail(ErrInvalidPrimitiveValue, "char lead byte %#x", b0)
	}
	var enc [4]byte
	enc[0] = b0
	rest, err := d.buf.ReadBuf(size - 1)
	if err != nil {
		return 0, err
	}
	copy(enc[1:], rest)
	r, n := utf8.DecodeRune(enc[:size])
	if r == utf8.RuneError || n != size {
		return 0, detail(ErrInvalidPrimitiveValue, "char encoding % x", enc[:size])
	}
	return Char(r), nil
}

// validDecimal accepts the invariant decimal form: [-]digits[.digits].
func validDecimal(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	digits, dot := 0, false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot && digits > 0 && i < len(s)-1:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

// readPrimitiveSlice reads n raw primitives into a typed slice.
func (d *decoder) readPrimitiveSlice(p PrimitiveType, n int) (any, error) {
	b := d.buf
	switch p {
	case PrimitiveByte:
		return d.readBytes(n)
	case PrimitiveBoolean:
		return readN(n, func() (bool, error) { c, err := b.ReadByte(); return c != 0, err })
	case PrimitiveSByte:
		return readN(n, func() (int8, error) { c, err := b.ReadByte(); return int8(c), err })
	case PrimitiveInt16:
		return readN(n, b.ReadInt16)
	case PrimitiveUInt16:
		return readN(n, func() (uint16, error) { v, err := b.ReadInt16(); return uint16(v), err })
	case PrimitiveInt32:
		return readN(n, b.ReadInt32)
	case PrimitiveUInt32:
		return readN(n, func() (uint32, error) { v, err := b.ReadInt32(); return uint32(v), err })
	case PrimitiveInt64:
		return readN(n, func() (int64, error) { v, err := b.ReadUint64(); return int64(v), err })
	case PrimitiveUInt64:
		return readN(n, b.ReadUint64)
	case PrimitiveSingle:
		return readN(n, b.ReadFloat32)
	case PrimitiveDouble:
		return readN(n, b.ReadFloat64)
	case PrimitiveTimeSpan:
		return readN(n, func() (TimeSpan, error) { v, err := b.ReadUint64(); return TimeSpan(int64(v)), err })
	case PrimitiveDateTime:
		return readN(n, func() (DateTime, error) { v, err := b.ReadUint64(); return dateTimeFromWire(v), err })
	case PrimitiveChar:
		return readN(n, d.readChar)
	case PrimitiveDecimal:
		return readN(n, func() (Decimal, error) {
			x, err := d.readPrimitive(PrimitiveDecimal)
			if err != nil {
				return "", err
			}
			return x.(Decimal), nil
		})
	}
	return nil, detail(ErrInvalidArrayElementTag, "%d", byte(p))
}

func readN[T any](n int, read func() (T, error)) ([]T, error) {
	out := make([]T, 0, mathutil.InitialCap(n, maxPreallocSlots))
	for len(out) < n {
		v, err := read()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
