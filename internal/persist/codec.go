package persist

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/openrails-go/fleet/internal/track"
)

// maxString bounds decoded string lengths so a corrupt length prefix cannot
// allocate unbounded memory.
const maxString = 1 << 16

// encoder writes little-endian values and keeps the first error.
type encoder struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) int32(v int32) {
	binary.LittleEndian.PutUint32(e.buf[:4], uint32(v))
	e.write(e.buf[:4])
}

func (e *encoder) int(v int) { e.int32(int32(v)) }

func (e *encoder) float64(v float64) {
	binary.LittleEndian.PutUint64(e.buf[:8], math.Float64bits(v))
	e.write(e.buf[:8])
}

func (e *encoder) bool(v bool) {
	e.buf[0] = 0
	if v {
		e.buf[0] = 1
	}
	e.write(e.buf[:1])
}

func (e *encoder) string(s string) {
	e.int32(int32(len(s)))
	e.write([]byte(s))
}

func (e *encoder) uuid(u uuid.UUID) {
	e.write(u[:])
}

func (e *encoder) traveller(t track.Traveller) {
	e.int(t.Node)
	e.float64(t.Offset)
	e.int32(int32(t.Direction))
}

// decoder mirrors encoder.
type decoder struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	b := d.buf[:n]
	if n > len(d.buf) {
		b = make([]byte, n)
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
	}
	return b
}

func (d *decoder) int32() int32 {
	return int32(binary.LittleEndian.Uint32(d.read(4)))
}

func (d *decoder) int() int { return int(d.int32()) }

func (d *decoder) float64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(d.read(8)))
}

func (d *decoder) bool() bool {
	return d.read(1)[0] != 0
}

func (d *decoder) string() string {
	n := d.int32()
	if d.err != nil {
		return ""
	}
	if n < 0 || n > maxString {
		d.err = fmt.Errorf("string length %d: %w", n, ErrCorrupt)
		return ""
	}
	return string(d.read(int(n)))
}

func (d *decoder) uuid() uuid.UUID {
	var u uuid.UUID
	copy(u[:], d.read(len(u)))
	return u
}

func (d *decoder) traveller() track.Traveller {
	return track.Traveller{
		Node:      d.int(),
		Offset:    d.float64(),
		Direction: track.Direction(d.int32()),
	}
}
