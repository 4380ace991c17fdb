package bufpool

import "sync"

// Pool hands out byte slices from a small set of fixed-capacity buckets.
type Pool struct {
	sizes       []int
	pools       []sync.Pool
	indexBySize map[int]int
}

// New creates one bucket per size. sizes must be ascending.
func New(sizes ...int) *Pool {
	bp := &Pool{
		sizes:       sizes,
		pools:       make([]sync.Pool, len(sizes)),
		indexBySize: make(map[int]int, len(sizes)),
	}
	for i, sz := range sizes {
		size := sz
		bp.pools[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
		bp.indexBySize[sz] = i
	}
	return bp
}

// class returns the index of the first bucket that can hold n bytes.
func (bp *Pool) class(n int) int {
	for i, sz := range bp.sizes {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Get returns an empty slice with capacity for at least n bytes.
func (bp *Pool) Get(n int) []byte {
	if i := bp.class(n); i >= 0 {
		b := bp.pools[i].Get().(*[]byte)
		return (*b)[:0]
	}
	// larger than any bucket: allocate exact
	return make([]byte, 0, n)
}

// Put returns b to the bucket matching its capacity. Slices that grew past
// their bucket are dropped so the pool never retains oversized buffers.
func (bp *Pool) Put(b []byte) {
	if i, ok := bp.indexBySize[cap(b)]; ok {
		b = b[:0]
		bp.pools[i].Put(&b)
	}
}
