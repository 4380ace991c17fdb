package nrbf

import (
	"testing"
)

// Test that the id hash is stable for one hasher
func TestIDHasherConsistency(t *testing.T) {
	h := newIDHasher()
	for _, id := range []ObjectID{1, 2, 42, 1 << 20, -1, -1 << 31} {
		if h.hash(id) != h.hash(id) {
			t.Errorf("hash not consistent for id %d", id)
		}
	}
}

// Test that two hashers get independent seeds
func TestIDHasherSeeded(t *testing.T) {
	a, b := newIDHasher(), newIDHasher()
	if a.seed == b.seed {
		t.Fatal("two hashers share a seed")
	}
	same := 0
	for id := ObjectID(1); id <= 100; id++ {
		if a.hash(id) == b.hash(id) {
			same++
		}
	}
	if same > 0 {
		t.Errorf("%d of 100 ids hash equally under different seeds", same)
	}
}

func TestIDMapAddGet(t *testing.T) {
	m := newIDMap(0)
	recs := make([]*StringRecord, 100)
	for i := range recs {
		recs[i] = &StringRecord{ID: ObjectID(i + 1), Value: "s"}
		if !m.tryAdd(recs[i]) {
			t.Fatalf("tryAdd(%d) failed", i+1)
		}
	}
	if m.len() != 100 {
		t.Errorf("len = %d, want 100", m.len())
	}
	for _, r := range recs {
		got, ok := m.get(r.ID)
		if !ok || got != Record(r) {
			t.Errorf("get(%d) = %v, %v", r.ID, got, ok)
		}
	}
	if _, ok := m.get(1000); ok {
		t.Error("get of a missing id succeeded")
	}
	if _, ok := m.get(NoID); ok {
		t.Error("get(NoID) succeeded")
	}
}

func TestIDMapDuplicate(t *testing.T) {
	m := newIDMap(0)
	first := &StringRecord{ID: 7, Value: "first"}
	if !m.tryAdd(first) {
		t.Fatal("first insert failed")
	}
	if m.tryAdd(&StringRecord{ID: 7, Value: "second"}) {
		t.Fatal("duplicate insert succeeded")
	}
	got, _ := m.get(7)
	if got != Record(first) {
		t.Errorf("duplicate insert replaced the original: %v", got)
	}
	if len(m.records) != 1 {
		t.Errorf("arena has %d records, want 1", len(m.records))
	}
}

func TestIDMapNoIDRecords(t *testing.T) {
	m := newIDMap(0)
	for i := 0; i < 3; i++ {
		if !m.tryAdd(&ObjectNull{}) {
			t.Fatal("NoID record rejected")
		}
	}
	if m.len() != 0 {
		t.Errorf("indexed %d NoID records", m.len())
	}
	if len(m.records) != 3 {
		t.Errorf("arena has %d records, want 3", len(m.records))
	}
}

// Ids that share their low bits would all land in one bucket under an
// unkeyed hash; the keyed hash keeps probe sequences short.
func TestIDMapAdversarialIDs(t *testing.T) {
	const n = 50000
	m := newIDMap(0)
	for i := 0; i < n; i++ {
		id := ObjectID(int32(i+1) << 15)
		if id == NoID {
			continue
		}
		if !m.tryAdd(&StringRecord{ID: id}) {
			t.Fatalf("tryAdd(%d) failed", id)
		}
	}
	avg := float64(m.probes) / float64(m.len())
	if avg > 10 {
		t.Errorf("average probe length %.2f over %d inserts", avg, m.len())
	}
	for i := 0; i < n; i += 997 {
		id := ObjectID(int32(i+1) << 15)
		if id == NoID {
			continue
		}
		if _, ok := m.get(id); !ok {
			t.Errorf("lost id %d", id)
		}
	}
}

func BenchmarkIDMapAdd(b *testing.B) {
	recs := make([]Record, 1024)
	for i := range recs {
		recs[i] = &StringRecord{ID: ObjectID(i + 1)}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := newIDMap(len(recs))
		for _, r := range recs {
			m.tryAdd(r)
		}
	}
}

func BenchmarkIDHash(b *testing.B) {
	h := newIDHasher()
	var sink uint64
	for i := 0; i < b.N; i++ {
		sink ^= h.hash(ObjectID(i))
	}
	_ = sink
}
