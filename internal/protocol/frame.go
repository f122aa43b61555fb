package protocol

import (
	"encoding/binary"
	"math"
)

// cursor walks a decode buffer field by field, the way the teacher's
// ReadFrame walks a fixed 5-byte header before handing off to the payload —
// here the header shape varies per command, so the cursor tracks a plain
// byte offset instead of a single fixed-size read.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

// remaining reports whether n more bytes can be read without truncation.
func (c *cursor) remaining(n int) bool {
	return c.off+n <= len(c.buf)
}

func (c *cursor) readFloat64() (float64, bool) {
	if !c.remaining(8) {
		return 0, false
	}
	bits := binary.BigEndian.Uint64(c.buf[c.off : c.off+8])
	c.off += 8
	return math.Float64frombits(bits), true
}

func (c *cursor) readInt32() (int32, bool) {
	if !c.remaining(4) {
		return 0, false
	}
	v := int32(binary.BigEndian.Uint32(c.buf[c.off : c.off+4]))
	c.off += 4
	return v, true
}

// readLength reads a 4-byte big-endian length field and nothing more; it
// accepts any value, including negative ones. The caller distinguishes
// startOfList/endOfList sentinels from a genuine length by inspecting the
// returned value before reading the field body with readBytes/readString
// (which only succeed for length >= 0).
func (c *cursor) readLength() (int32, bool) {
	return c.readInt32()
}

func (c *cursor) readBytes(n int32) ([]byte, bool) {
	if n < 0 || !c.remaining(int(n)) {
		return nil, false
	}
	b := c.buf[c.off : c.off+int(n)]
	c.off += int(n)
	return b, true
}

func (c *cursor) readString(n int32) (string, bool) {
	b, ok := c.readBytes(n)
	if !ok {
		return "", false
	}
	return string(b), true
}

// encBuf accumulates an outbound frame. It mirrors the teacher's WriteFrame
// helper (header then payload) but fields vary in count, so it is just a
// growable byte slice with typed append methods.
type encBuf struct {
	buf []byte
}

func (e *encBuf) writeFloat64(v float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *encBuf) writeInt32(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *encBuf) writeLengthPrefixed(b []byte) {
	e.writeInt32(int32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encBuf) writeString(s string) {
	e.writeLengthPrefixed([]byte(s))
}

func (e *encBuf) writeRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encBuf) bytes() []byte {
	return e.buf
}
