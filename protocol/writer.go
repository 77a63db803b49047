package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalidFrame is returned when asked to write a frame that has no valid
// encoding, such as a Simple containing a line break or a nil element.
var ErrInvalidFrame = errors.New("protocol: invalid frame")

// Writer is the buffered sink frames are encoded into. *bufio.Writer and
// *bytes.Buffer both satisfy it.
type Writer interface {
	io.Writer
	io.ByteWriter
	io.StringWriter

	// AvailableBuffer returns an empty slice with spare capacity that the
	// next Write may be called with, avoiding a copy.
	AvailableBuffer() []byte
}

// Validate reports whether f, and every frame nested in it, can be encoded.
func Validate(f Frame) error {
	switch v := f.(type) {
	case nil:
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)

	case Simple:
		return validateLine(string(v))

	case Error:
		return validateLine(string(v))

	case Array:
		for i, elem := range v {
			if err := Validate(elem); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	}

	return nil
}

func validateLine(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", ErrInvalidFrame, s)
	}

	return nil
}

// WriteFrame encodes f into w. It does not flush; the caller decides when
// the frame is handed to the stream. f should already have passed Validate.
func WriteFrame(w Writer, f Frame) error {
	switch v := f.(type) {
	case Simple:
		return writeLine(w, PrefixSimple, string(v))

	case Error:
		return writeLine(w, PrefixError, string(v))

	case Integer:
		if err := w.WriteByte(PrefixInteger); err != nil {
			return err
		}

		return writeDecimal(w, int64(v))

	case Null:
		_, err := w.Write(NullFrame)
		return err

	case Bulk:
		if err := w.WriteByte(PrefixBulk); err != nil {
			return err
		}

		if err := writeDecimal(w, int64(len(v))); err != nil {
			return err
		}

		if _, err := w.Write(v); err != nil {
			return err
		}

		_, err := w.Write(Delimiter)
		return err

	case Array:
		if err := w.WriteByte(PrefixArray); err != nil {
			return err
		}

		if err := writeDecimal(w, int64(len(v))); err != nil {
			return err
		}

		for _, elem := range v {
			if err := WriteFrame(w, elem); err != nil {
				return err
			}
		}

		return nil

	default:
		return fmt.Errorf("%w: unsupported frame %T", ErrInvalidFrame, f)
	}
}

// Encode validates f and returns its wire encoding.
func Encode(f Frame) ([]byte, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeLine(w Writer, prefix byte, s string) error {
	if err := w.WriteByte(prefix); err != nil {
		return err
	}

	if _, err := w.WriteString(s); err != nil {
		return err
	}

	_, err := w.Write(Delimiter)
	return err
}

// writeDecimal writes n in ASCII followed by the delimiter, formatting
// straight into the writer's spare capacity when there is room for it.
func writeDecimal(w Writer, n int64) error {
	if avail := w.AvailableBuffer(); cap(avail) >= maxDecimalLen+len(Delimiter) {
		b := strconv.AppendInt(avail, n, 10)
		b = append(b, Delimiter...)

		_, err := w.Write(b)
		return err
	}

	// Handing scratch to Write would move it to the heap, WriteByte does not
	var scratch [maxDecimalLen]byte
	for _, c := range strconv.AppendInt(scratch[:0], n, 10) {
		if err := w.WriteByte(c); err != nil {
			return err
		}
	}

	_, err := w.Write(Delimiter)
	return err
}
