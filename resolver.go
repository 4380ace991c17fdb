package nrbf

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnresolvedType is returned by BindToType for names a resolver does not
// know.
var ErrUnresolvedType = errors.New("unresolved type")

// TypeResolver maps serialized type names to host types. Decoding never
// consults a resolver; binding is a separate step a caller opts into.
type TypeResolver interface {
	BindToType(name TypeName) (reflect.Type, error)
	TryBindToType(name TypeName) (reflect.Type, bool)
}

// MapResolver is an allow-list resolver keyed by full type name. Assembly
// qualification is ignored.
type MapResolver map[string]reflect.Type

func (m MapResolver) TryBindToType(name TypeName) (reflect.Type, bool) {
	t, ok := m[name.FullName]
	return t, ok
}

func (m MapResolver) BindToType(name TypeName) (reflect.Type, error) {
	if t, ok := m.TryBindToType(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvedType, name.FullName)
}

// BindRoot resolves the type of a class root through r.
func (g *Graph) BindRoot(r TypeResolver) (reflect.Type, error) {
	c, ok := g.root.(*ClassRecord)
	if !ok {
		return nil, &TypeMismatchError{Expected: "*nrbf.ClassRecord", Actual: g.root.RecordType()}
	}
	name, err := c.TypeName()
	if err != nil {
		return nil, err
	}
	return r.BindToType(name)
}
