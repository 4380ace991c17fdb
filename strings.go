package nrbf

// stringTable remembers the object id of every string written in one
// encode, so repeated values are emitted as member references.
type stringTable struct {
	ids  map[string]ObjectID
	refs map[ObjectID]*MemberReference
}

func newStringTable() *stringTable {
	return &stringTable{
		ids:  make(map[string]ObjectID),
		refs: make(map[ObjectID]*MemberReference),
	}
}

// lookup returns the id of an already written string.
func (t *stringTable) lookup(s string) (ObjectID, bool) {
	id, ok := t.ids[s]
	return id, ok
}

// add records s under id. The first id wins.
func (t *stringTable) add(s string, id ObjectID) {
	if _, ok := t.ids[s]; !ok {
		t.ids[s] = id
	}
}

// ref returns the shared reference record for id.
func (t *stringTable) ref(id ObjectID) *MemberReference {
	r, ok := t.refs[id]
	if !ok {
		r = &MemberReference{IDRef: id}
		t.refs[id] = r
	}
	return r
}
