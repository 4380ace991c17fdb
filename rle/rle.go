// Package rle implements a byte-oriented run-length codec.
//
// The encoded form is a sequence of (count, value) byte pairs with count in
// 1..255. Runs longer than 255 bytes are split into several pairs carrying
// the same value. An empty input encodes to an empty output.
package rle

import "errors"

// MaxRun is the longest run a single pair can describe.
const MaxRun = 255

// ErrMalformed is returned by Decode when the encoded input ends with an
// incomplete pair.
var ErrMalformed = errors.New("rle: malformed input")

// Run is one decoded (count, value) pair.
type Run struct {
	Count int
	Value byte
}

// EncodedLength returns the number of bytes TryEncode needs for data.
func EncodedLength(data []byte) int {
	n := 0
	for i := 0; i < len(data); {
		j := runEnd(data, i)
		n += 2 * ((j - i + MaxRun - 1) / MaxRun)
		i = j
	}
	return n
}

// DecodedLength sums the count byte of every complete pair in encoded.
// A trailing incomplete pair is ignored; TryDecode reports it.
func DecodedLength(encoded []byte) int {
	n := 0
	for i := 0; i+1 < len(encoded); i += 2 {
		n += int(encoded[i])
	}
	return n
}

// TryEncode writes the encoded form of data into dst. It returns false if
// dst is too small; in that case n is the number of bytes written before
// the first pair that did not fit. TryEncode never writes past len(dst).
func TryEncode(data, dst []byte) (n int, ok bool) {
	for i := 0; i < len(data); {
		j := runEnd(data, i)
		for left := j - i; left > 0; {
			c := left
			if c > MaxRun {
				c = MaxRun
			}
			if n+2 > len(dst) {
				return n, false
			}
			dst[n] = byte(c)
			dst[n+1] = data[i]
			n += 2
			left -= c
		}
		i = j
	}
	return n, true
}

// TryDecode expands encoded into dst. It returns false if encoded has an
// odd length or if dst cannot hold the decoded bytes; n is the number of
// bytes written up to that point.
func TryDecode(encoded, dst []byte) (n int, ok bool) {
	if len(encoded)%2 != 0 {
		return 0, false
	}
	for i := 0; i < len(encoded); i += 2 {
		c := int(encoded[i])
		if n+c > len(dst) {
			return n, false
		}
		v := encoded[i+1]
		for k := 0; k < c; k++ {
			dst[n+k] = v
		}
		n += c
	}
	return n, true
}

// Encode returns the encoded form of data in a new slice.
func Encode(data []byte) []byte {
	out := make([]byte, EncodedLength(data))
	n, _ := TryEncode(data, out)
	return out[:n]
}

// Decode returns the decoded form of encoded in a new slice.
func Decode(encoded []byte) ([]byte, error) {
	if len(encoded)%2 != 0 {
		return nil, ErrMalformed
	}
	out := make([]byte, DecodedLength(encoded))
	n, ok := TryDecode(encoded, out)
	if !ok {
		return nil, ErrMalformed
	}
	return out[:n], nil
}

// Runs returns the maximal runs of data without the 255 cap. Callers that
// need a wire form for long runs use TryEncode instead.
func Runs(data []byte) []Run {
	var runs []Run
	for i := 0; i < len(data); {
		j := runEnd(data, i)
		runs = append(runs, Run{Count: j - i, Value: data[i]})
		i = j
	}
	return runs
}

// runEnd returns the index one past the run of identical bytes starting at i.
func runEnd(data []byte, i int) int {
	j := i + 1
	for j < len(data) && data[j] == data[i] {
		j++
	}
	return j
}
