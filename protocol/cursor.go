package protocol

import "bytes"

// Cursor is a read position over a byte slice it does not own. Moving the
// cursor never copies or modifies the underlying bytes.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Reset points the cursor at the start of buf.
func (c *Cursor) Reset(buf []byte) {
	c.buf = buf
	c.pos = 0
}

// Position is the number of bytes consumed so far.
func (c *Cursor) Position() int {
	return c.pos
}

// Remaining is the number of bytes after the current position.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Rewind moves the cursor back to the start of its slice.
func (c *Cursor) Rewind() {
	c.pos = 0
}

// Bytes returns the unread bytes without advancing.
func (c *Cursor) Bytes() []byte {
	return c.buf[c.pos:]
}

func (c *Cursor) peekByte() (byte, bool) {
	if c.pos >= len(c.buf) {
		return 0, false
	}

	return c.buf[c.pos], true
}

func (c *Cursor) readByte() (byte, bool) {
	b, ok := c.peekByte()
	if ok {
		c.pos++
	}

	return b, ok
}

// line returns the bytes up to the next delimiter and moves past the
// delimiter. It reports false, without moving, when no delimiter is buffered.
func (c *Cursor) line() ([]byte, bool) {
	i := bytes.Index(c.buf[c.pos:], Delimiter)
	if i < 0 {
		return nil, false
	}

	line := c.buf[c.pos : c.pos+i]
	c.pos += i + len(Delimiter)

	return line, true
}

// skip advances n bytes, reporting false, without moving, if fewer remain.
func (c *Cursor) skip(n int) bool {
	if n < 0 || n > c.Remaining() {
		return false
	}

	c.pos += n
	return true
}

// span returns the next n bytes and moves past them.
func (c *Cursor) span(n int) ([]byte, bool) {
	start := c.pos
	if !c.skip(n) {
		return nil, false
	}

	return c.buf[start:c.pos], true
}
