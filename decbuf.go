package nrbf

import (
	"encoding/binary"
	"io"
	"math"
)

const (
	decbufSize = 4096

	// consecutive (0, nil) reads tolerated before giving up
	maxEmptyReads = 100
)

// decbuf is a forward-only read cursor over an io.Reader. It reads ahead in
// fixed chunks and never seeks. The approach is similar to bufio.Reader but
// the API is shaped for the fixed-width fields of the wire format.
type decbuf struct {
	buf    []byte
	nr     int
	nw     int
	off    int64 // bytes consumed so far
	reader io.Reader
}

func newDecbuf(r io.Reader) *decbuf {
	return &decbuf{
		buf:    make([]byte, decbufSize),
		reader: r,
	}
}

// fillAtLeast ensures min unread bytes are buffered. Short streams return
// io.ErrUnexpectedEOF (io.EOF if nothing at all could be read).
//
// REQUIRES: min <= len(buf)
func (b *decbuf) fillAtLeast(min int) error {
	if b.nw-b.nr >= min {
		return nil
	}
	if len(b.buf)-b.nr < min {
		copy(b.buf, b.buf[b.nr:b.nw])
		b.nw -= b.nr
		b.nr = 0
	}
	// Read may return fewer bytes than requested.
	empty := 0
	for b.nw-b.nr < min {
		n, err := b.reader.Read(b.buf[b.nw:])
		b.nw += n
		if n > 0 {
			empty = 0
			continue
		}
		if err != nil {
			if err == io.EOF && b.nw-b.nr > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if empty++; empty >= maxEmptyReads {
			return io.ErrNoProgress
		}
	}
	return nil
}

// ReadBuf returns the next n bytes. The slice aliases the internal buffer
// and is only valid until the next call.
//
// REQUIRES: n <= decbufSize
func (b *decbuf) ReadBuf(n int) ([]byte, error) {
	if err := b.fillAtLeast(n); err != nil {
		return nil, err
	}
	buf := b.buf[b.nr : b.nr+n]
	b.nr += n
	b.off += int64(n)
	return buf, nil
}

// ReadByte returns the next byte.
func (b *decbuf) ReadByte() (byte, error) {
	if err := b.fillAtLeast(1); err != nil {
		return 0, err
	}
	c := b.buf[b.nr]
	b.nr++
	b.off++
	return c, nil
}

func (b *decbuf) ReadInt16() (int16, error) {
	p, err := b.ReadBuf(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(p)), nil
}

func (b *decbuf) ReadInt32() (int32, error) {
	p, err := b.ReadBuf(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(p)), nil
}

func (b *decbuf) ReadUint64() (uint64, error) {
	p, err := b.ReadBuf(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (b *decbuf) ReadFloat32() (float32, error) {
	p, err := b.ReadBuf(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(p)), nil
}

func (b *decbuf) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// Offset returns the number of bytes consumed.
func (b *decbuf) Offset() int64 {
	return b.off
}
