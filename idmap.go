package nrbf

import "github.com/unkn0wn-root/nrbf/internal/mathutil"

const (
	minIDSlots = 16
	// grow when used/slots would exceed 3/4
	idLoadNum = 3
	idLoadDen = 4
)

// idSlot is one open-addressing cell. pos is the arena index plus one so
// the zero value marks an empty cell.
type idSlot struct {
	id  ObjectID
	pos int32
}

// idMap owns the records of one decode or encode operation: an arena in
// arrival order plus a keyed-hash index from object id to arena position.
// It is not safe for concurrent use and is never shared between calls.
type idMap struct {
	records []Record
	slots   []idSlot
	mask    uint64
	used    int
	hasher  idHasher
	probes  int64 // insert probe steps, exposed to tests
}

func newIDMap(hint int) *idMap {
	n := mathutil.NextPowerOf2(hint * idLoadDen / idLoadNum)
	if n < minIDSlots {
		n = minIDSlots
	}
	return &idMap{
		slots:  make([]idSlot, n),
		mask:   uint64(n - 1),
		hasher: newIDHasher(),
	}
}

// tryAdd appends r to the arena and, unless its id is NoID, indexes it.
// It is a single insert-or-fail step: if the id is already present the map
// is left untouched and tryAdd returns false.
func (m *idMap) tryAdd(r Record) bool {
	id := r.ObjectID()
	if id == NoID {
		m.records = append(m.records, r)
		return true
	}
	if (m.used+1)*idLoadDen > len(m.slots)*idLoadNum {
		m.grow()
	}
	i := m.hasher.hash(id) & m.mask
	for {
		m.probes++
		s := &m.slots[i]
		if s.pos == 0 {
			m.records = append(m.records, r)
			s.id = id
			s.pos = int32(len(m.records))
			m.used++
			return true
		}
		if s.id == id {
			return false
		}
		i = (i + 1) & m.mask
	}
}

// get resolves id to its record.
func (m *idMap) get(id ObjectID) (Record, bool) {
	if id == NoID {
		return nil, false
	}
	i := m.hasher.hash(id) & m.mask
	for {
		s := m.slots[i]
		if s.pos == 0 {
			return nil, false
		}
		if s.id == id {
			return m.records[s.pos-1], true
		}
		i = (i + 1) & m.mask
	}
}

// len returns the number of indexed (non-NoID) records.
func (m *idMap) len() int {
	return m.used
}

func (m *idMap) grow() {
	old := m.slots
	m.slots = make([]idSlot, len(old)*2)
	m.mask = uint64(len(m.slots) - 1)
	for _, s := range old {
		if s.pos == 0 {
			continue
		}
		i := m.hasher.hash(s.id) & m.mask
		for m.slots[i].pos != 0 {
			i = (i + 1) & m.mask
		}
		m.slots[i] = s
	}
}
