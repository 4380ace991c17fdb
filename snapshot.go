package nrbf

import (
	"bytes"

	cbor "github.com/fxamacker/cbor/v2"
)

// SnapshotVersion is the current Snapshot layout.
const SnapshotVersion = 1

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	em, _ := cbor.CanonicalEncOptions().EncMode()
	dm, _ := (cbor.DecOptions{}).DecMode()
	cborEnc, cborDec = em, dm
}

// Snapshot is a wire-friendly export of a decoded graph. Records are linked
// by object id, primitives are kept in their NRBF byte form so no type
// information is lost in transit.
type Snapshot struct {
	Version      int              `cbor:"v"`
	RootID       ObjectID         `cbor:"root"`
	MajorVersion int32            `cbor:"maj"`
	MinorVersion int32            `cbor:"min"`
	Records      []SnapshotRecord `cbor:"recs"`
}

// SnapshotRecord is one id-bearing record. Which fields are set depends on
// Type.
type SnapshotRecord struct {
	Type RecordType `cbor:"t"`
	ID   ObjectID   `cbor:"id"`

	// library name, class name or string value
	Name string `cbor:"n,omitempty"`

	// class layout, or LayoutOf naming an earlier class sharing it
	LayoutOf ObjectID             `cbor:"lo,omitempty"`
	Library  string               `cbor:"lib,omitempty"`
	Members  []string             `cbor:"mn,omitempty"`
	Types    []SnapshotMemberType `cbor:"mt,omitempty"`

	// arrays
	Shape       BinaryArrayType     `cbor:"sh,omitempty"`
	Lengths     []int32             `cbor:"len,omitempty"`
	LowerBounds []int32             `cbor:"lb,omitempty"`
	Element     *SnapshotMemberType `cbor:"el,omitempty"`
	Count       int                 `cbor:"c,omitempty"`
	Raw         []byte              `cbor:"raw,omitempty"`

	Slots []SnapshotValue `cbor:"s,omitempty"`
}

type SnapshotMemberType struct {
	Binary    BinaryType    `cbor:"b"`
	Primitive PrimitiveType `cbor:"p,omitempty"`
	ClassName string        `cbor:"cn,omitempty"`
	Library   string        `cbor:"lib,omitempty"`
}

// SnapshotValue is one slot: null, a primitive in wire form, or a record
// id.
type SnapshotValue struct {
	Kind      ValueKind     `cbor:"k"`
	Primitive PrimitiveType `cbor:"p,omitempty"`
	Raw       []byte        `cbor:"raw,omitempty"`
	Ref       ObjectID      `cbor:"r,omitempty"`
}

func snapshotMemberType(t MemberType) SnapshotMemberType {
	return SnapshotMemberType{Binary: t.Binary, Primitive: t.Primitive, ClassName: t.ClassName, Library: t.Library}
}

func (t SnapshotMemberType) memberType() MemberType {
	return MemberType{Binary: t.Binary, Primitive: t.Primitive, ClassName: t.ClassName, Library: t.Library}
}

// Export flattens g into a Snapshot.
func Export(g *Graph) (*Snapshot, error) {
	h := g.Header()
	s := &Snapshot{
		Version:      SnapshotVersion,
		RootID:       h.RootID,
		MajorVersion: h.MajorVersion,
		MinorVersion: h.MinorVersion,
	}
	layouts := make(map[*ClassLayout]ObjectID)
	for _, r := range g.ids.records {
		if r.ObjectID() == NoID {
			continue
		}
		sr, err := exportRecord(r, layouts)
		if err != nil {
			return nil, wrapError("export", err)
		}
		s.Records = append(s.Records, sr)
	}
	return s, nil
}

func exportRecord(r Record, layouts map[*ClassLayout]ObjectID) (SnapshotRecord, error) {
	sr := SnapshotRecord{Type: r.RecordType(), ID: r.ObjectID()}
	var err error
	switch x := r.(type) {
	case *BinaryLibrary:
		sr.Name = x.Name
	case *StringRecord:
		sr.Name = x.Value
	case *ClassRecord:
		if id, ok := layouts[x.Layout]; ok {
			sr.LayoutOf = id
		} else {
			layouts[x.Layout] = x.ID
			sr.Name = x.Layout.Name
			sr.Library = x.Layout.Library
			sr.Members = x.Layout.MemberNames
			if x.Layout.typed() {
				sr.Types = make([]SnapshotMemberType, len(x.Layout.MemberTypes))
				for i, t := range x.Layout.MemberTypes {
					sr.Types[i] = snapshotMemberType(t)
				}
			}
		}
		sr.Slots, err = exportSlots(x.Members)
	case *PrimitiveArray:
		el := SnapshotMemberType{Binary: BinaryPrimitive, Primitive: x.Element}
		sr.Element = &el
		sr.Count = x.Len()
		var buf encbuf
		if err = checkPrimitiveArray(x); err == nil {
			err = writePrimitiveValues(&buf, x)
			sr.Raw = buf.b
		}
	case *ObjectArray:
		sr.Slots, err = exportSlots(x.Elements)
	case *StringArray:
		sr.Slots, err = exportSlots(x.Elements)
	case *BinaryArray:
		el := snapshotMemberType(x.Element)
		sr.Shape = x.Shape
		sr.Lengths = x.Lengths
		sr.LowerBounds = x.LowerBounds
		sr.Element = &el
		sr.Slots, err = exportSlots(x.Elements)
	default:
		err = detail(ErrUnsupportedValue, "%s", r.RecordType())
	}
	return sr, err
}

func exportSlots(vs []Value) ([]SnapshotValue, error) {
	out := make([]SnapshotValue, len(vs))
	for i, v := range vs {
		switch v.Kind {
		case ValuePrimitive:
			var buf encbuf
			if err := buf.writePrimitive(v.Primitive, v.Data); err != nil {
				return nil, err
			}
			out[i] = SnapshotValue{Kind: ValuePrimitive, Primitive: v.Primitive, Raw: buf.b}
		case ValueRecord:
			id := v.Ref
			if v.Record != nil {
				id = v.Record.ObjectID()
			}
			out[i] = SnapshotValue{Kind: ValueRecord, Ref: id}
		}
	}
	return out, nil
}

// Import rebuilds a Graph from s. Ids are re-validated: duplicates and
// references to ids not in the snapshot fail the import.
func Import(s *Snapshot) (*Graph, error) {
	g, err := importSnapshot(s)
	if err != nil {
		return nil, wrapError("import", endOfStream(err))
	}
	return g, nil
}

func importSnapshot(s *Snapshot) (*Graph, error) {
	if s.Version != SnapshotVersion {
		return nil, detail(ErrUnsupportedValue, "snapshot version %d", s.Version)
	}
	header := &SerializationHeader{
		RootID:       s.RootID,
		HeaderID:     headerID,
		MajorVersion: s.MajorVersion,
		MinorVersion: s.MinorVersion,
	}
	ids := newIDMap(len(s.Records))
	ids.tryAdd(header)

	// first pass creates every record so that slots can point anywhere
	recs := make([]Record, len(s.Records))
	for i, sr := range s.Records {
		r, err := importRecord(sr, ids)
		if err != nil {
			return nil, err
		}
		if sr.ID == NoID {
			return nil, detail(ErrInvalidIdentifier, "zero id")
		}
		if !ids.tryAdd(r) {
			return nil, detail(ErrDuplicateIdentifier, "%d", sr.ID)
		}
		recs[i] = r
	}
	for i, sr := range s.Records {
		slots, err := importSlots(sr.Slots, ids)
		if err != nil {
			return nil, err
		}
		switch x := recs[i].(type) {
		case *ClassRecord:
			if len(slots) != len(x.Layout.MemberNames) {
				return nil, detail(ErrInvalidLength, "%d members for %d names", len(slots), len(x.Layout.MemberNames))
			}
			if x.Layout.typed() && len(x.Layout.MemberTypes) != len(x.Layout.MemberNames) {
				return nil, detail(ErrInvalidLength, "%d member types for %d names", len(x.Layout.MemberTypes), len(x.Layout.MemberNames))
			}
			for j, v := range slots {
				t := MemberType{Binary: BinaryObject}
				if x.Layout.typed() {
					t = x.Layout.MemberTypes[j]
				}
				if err := checkImportedSlot(v, t); err != nil {
					return nil, err
				}
			}
			x.Members = slots
		case *ObjectArray:
			if err := checkImportedSlots(slots, MemberType{Binary: BinaryObject}); err != nil {
				return nil, err
			}
			x.Elements = slots
		case *StringArray:
			if err := checkImportedSlots(slots, MemberType{Binary: BinaryString}); err != nil {
				return nil, err
			}
			x.Elements = slots
		case *BinaryArray:
			n, err := arraySlots(x)
			if err != nil {
				return nil, err
			}
			if n != len(slots) {
				return nil, detail(ErrInvalidLength, "%d elements for %d slots", len(slots), n)
			}
			if err := checkImportedSlots(slots, x.Element); err != nil {
				return nil, err
			}
			x.Elements = slots
		}
	}
	ids.tryAdd(&MessageEnd{})

	root, ok := ids.get(s.RootID)
	if !ok {
		return nil, detail(ErrDanglingReference, "root id %d", s.RootID)
	}
	return &Graph{header: header, root: root, ids: ids}, nil
}

func importRecord(sr SnapshotRecord, ids *idMap) (Record, error) {
	switch sr.Type {
	case RecordBinaryLibrary:
		return &BinaryLibrary{ID: sr.ID, Name: sr.Name}, nil
	case RecordBinaryObjectString:
		return &StringRecord{ID: sr.ID, Value: sr.Name}, nil
	case RecordClassWithID, RecordSystemClassWithMembers, RecordClassWithMembers,
		RecordSystemClassWithMembersAndTypes, RecordClassWithMembersAndTypes:
		c := &ClassRecord{ID: sr.ID}
		if sr.LayoutOf != NoID {
			r, ok := ids.get(sr.LayoutOf)
			owner, isClass := r.(*ClassRecord)
			if !ok || !isClass {
				return nil, detail(ErrDanglingReference, "layout of %d", sr.LayoutOf)
			}
			c.Layout = owner.Layout
			c.MetadataID = sr.LayoutOf
			return c, nil
		}
		c.Layout = &ClassLayout{Name: sr.Name, Library: sr.Library, MemberNames: sr.Members}
		if sr.Types != nil || sr.Type == RecordClassWithMembersAndTypes || sr.Type == RecordSystemClassWithMembersAndTypes {
			c.Layout.MemberTypes = make([]MemberType, len(sr.Types))
			for i, t := range sr.Types {
				c.Layout.MemberTypes[i] = t.memberType()
			}
		}
		return c, nil
	case RecordArraySinglePrimitive:
		if sr.Element == nil {
			return nil, detail(ErrInvalidArrayElementTag, "missing element type")
		}
		p := sr.Element.Primitive
		d := rawDecoder(sr.Raw)
		values, err := d.readPrimitiveSlice(p, sr.Count)
		if err != nil {
			return nil, err
		}
		return &PrimitiveArray{ID: sr.ID, Element: p, Values: values}, nil
	case RecordArraySingleObject:
		return &ObjectArray{ID: sr.ID}, nil
	case RecordArraySingleString:
		return &StringArray{ID: sr.ID}, nil
	case RecordBinaryArray:
		if sr.Element == nil {
			return nil, detail(ErrInvalidArrayElementTag, "missing element type")
		}
		return &BinaryArray{
			ID:          sr.ID,
			Shape:       sr.Shape,
			Lengths:     sr.Lengths,
			LowerBounds: sr.LowerBounds,
			Element:     sr.Element.memberType(),
		}, nil
	}
	return nil, detail(ErrUnexpectedRecord, "%s", sr.Type)
}

func checkImportedSlots(vs []Value, t MemberType) error {
	for _, v := range vs {
		if err := checkImportedSlot(v, t); err != nil {
			return err
		}
	}
	return nil
}

// checkImportedSlot holds an imported value to the rules a decoded slot of
// type t follows.
func checkImportedSlot(v Value, t MemberType) error {
	if t.Binary == BinaryPrimitive {
		if v.Kind != ValuePrimitive || v.Primitive != t.Primitive {
			return detail(ErrInvalidPrimitiveValue, "%v in a %s slot", v, t.Primitive)
		}
		return nil
	}
	switch v.Kind {
	case ValuePrimitive:
		if t.Binary != BinaryObject {
			return detail(ErrUnexpectedRecord, "primitive %v in a %s slot", v, t.Binary)
		}
	case ValueRecord:
		return checkTarget(v.Record, slotKindOf(t))
	}
	return nil
}

func importSlots(svs []SnapshotValue, ids *idMap) ([]Value, error) {
	if svs == nil {
		return nil, nil
	}
	out := make([]Value, len(svs))
	for i, sv := range svs {
		switch sv.Kind {
		case ValueNull:
		case ValuePrimitive:
			x, err := rawDecoder(sv.Raw).readPrimitive(sv.Primitive)
			if err != nil {
				return nil, err
			}
			out[i] = Value{Kind: ValuePrimitive, Primitive: sv.Primitive, Data: x}
		case ValueRecord:
			r, ok := ids.get(sv.Ref)
			if !ok {
				return nil, detail(ErrDanglingReference, "id %d", sv.Ref)
			}
			out[i] = Value{Kind: ValueRecord, Record: r, Ref: sv.Ref}
		default:
			return nil, detail(ErrUnsupportedValue, "value kind %d", sv.Kind)
		}
	}
	return out, nil
}

// rawDecoder reads primitives out of a snapshot byte field.
func rawDecoder(raw []byte) *decoder {
	return &decoder{
		buf:  newDecbuf(bytes.NewReader(raw)),
		opts: DefaultOptions(),
		log:  discardLogger,
	}
}

// Marshal encodes s as canonical CBOR.
func (s *Snapshot) Marshal() ([]byte, error) {
	return cborEnc.Marshal(s)
}

// UnmarshalSnapshot decodes a Snapshot written by Marshal.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cborDec.Unmarshal(data, &s); err != nil {
		return nil, wrapError("import", err)
	}
	return &s, nil
}
