// Package embedding holds the face embedding vector type and its persisted
// binary form.
package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

// Embedding is one face vector as produced by the extractor.
type Embedding []float32

const (
	formatVersion = 1
	headerSize    = 1 + 4
	checksumSize  = 4
)

var (
	ErrCorrupt           = errors.New("corrupt embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Clone returns a copy that does not share memory with e.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Encode serialises e as: version | dim (uint32) | dim float32 values | crc32.
// All integers and floats are little endian.
func Encode(e Embedding) []byte {
	buf := make([]byte, 0, headerSize+4*len(e)+checksumSize)
	buf = append(buf, formatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e)))
	for _, v := range e {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// Decode parses a payload produced by Encode. Every malformed input yields
// an error wrapping ErrCorrupt.
func Decode(data []byte) (Embedding, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("%w: payload too short (%d bytes)", ErrCorrupt, len(data))
	}
	if data[0] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[0])
	}

	dim := uint64(binary.LittleEndian.Uint32(data[1:headerSize]))
	want := uint64(headerSize) + 4*dim + checksumSize
	if uint64(len(data)) != want {
		return nil, fmt.Errorf("%w: dim %d needs %d bytes, got %d", ErrCorrupt, dim, want, len(data))
	}

	body := data[:len(data)-checksumSize]
	sum := binary.LittleEndian.Uint32(data[len(data)-checksumSize:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	out := make(Embedding, dim)
	for i := range out {
		off := headerSize + 4*i
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return out, nil
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Normalize scales v to unit L2 length in place. Zero vectors are left as is.
func Normalize(v Embedding) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
