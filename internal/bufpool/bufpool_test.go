package bufpool

import "testing"

func TestGetCapacity(t *testing.T) {
	p := New(64, 1024)
	tests := []struct {
		n       int
		wantCap int
	}{
		{0, 64},
		{64, 64},
		{65, 1024},
		{4000, 4000},
	}
	for _, tt := range tests {
		b := p.Get(tt.n)
		if len(b) != 0 {
			t.Errorf("Get(%d) len = %d, want 0", tt.n, len(b))
		}
		if cap(b) != tt.wantCap {
			t.Errorf("Get(%d) cap = %d, want %d", tt.n, cap(b), tt.wantCap)
		}
	}
}

func TestPutReuse(t *testing.T) {
	p := New(128)
	b := p.Get(10)
	b = append(b, "payload"...)
	p.Put(b)

	c := p.Get(10)
	if len(c) != 0 || cap(c) != 128 {
		t.Fatalf("reused buffer len=%d cap=%d", len(c), cap(c))
	}
}

func TestPutDropsForeignSizes(t *testing.T) {
	p := New(128)
	// must not panic and must not be handed out again
	p.Put(make([]byte, 0, 300))
	if c := p.Get(1); cap(c) != 128 {
		t.Fatalf("cap = %d, want 128", cap(c))
	}
}
