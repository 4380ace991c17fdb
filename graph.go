package nrbf

import "fmt"

// Graph is the result of one decode: the root record plus every record read,
// in stream order, indexed by object id. A Graph is read-only and may be
// shared between goroutines.
type Graph struct {
	header *SerializationHeader
	root   Record
	ids    *idMap
}

// Root returns the record named by the header's root id.
func (g *Graph) Root() Record {
	return g.root
}

// Header returns the stream header.
func (g *Graph) Header() SerializationHeader {
	return *g.header
}

// Records returns every record in arrival order, including the header, null
// markers, member references and the end marker.
func (g *Graph) Records() []Record {
	out := make([]Record, len(g.ids.records))
	copy(out, g.ids.records)
	return out
}

// Lookup returns the record with the given object id.
func (g *Graph) Lookup(id ObjectID) (Record, bool) {
	return g.ids.get(id)
}

// Len returns the number of records carrying an object id.
func (g *Graph) Len() int {
	return g.ids.len()
}

// RootAs returns the root as T or a *TypeMismatchError.
func RootAs[T Record](g *Graph) (T, error) {
	r, ok := g.root.(T)
	if !ok {
		var zero T
		return zero, &TypeMismatchError{
			Expected: fmt.Sprintf("%T", zero),
			Actual:   g.root.RecordType(),
		}
	}
	return r, nil
}

// MemberAs returns the named member of c as T. Primitive members match on
// their Go value, record members on the record, and string records also
// match T = string.
func MemberAs[T any](c *ClassRecord, name string) (T, error) {
	var zero T
	v, ok := c.Member(name)
	if !ok {
		return zero, fmt.Errorf("%w: no member %q in %s", ErrTypeMismatch, name, c.Layout.Name)
	}
	var x any
	switch v.Kind {
	case ValuePrimitive:
		x = v.Data
	case ValueRecord:
		x = v.Record
		if s, ok := v.AsString(); ok {
			if t, ok := any(s).(T); ok {
				return t, nil
			}
		}
	case ValueNull:
		return zero, fmt.Errorf("%w: member %q is null", ErrTypeMismatch, name)
	}
	t, ok := x.(T)
	if !ok {
		return zero, fmt.Errorf("%w: member %q is %v, not %T", ErrTypeMismatch, name, v, zero)
	}
	return t, nil
}
