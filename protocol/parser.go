package protocol

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformed is wrapped by every error describing bytes that violate the
	// encoding. The stream can no longer be trusted once it is returned.
	ErrMalformed = errors.New("protocol: malformed frame")

	// ErrFrameTooLarge is returned when a declared length or count exceeds
	// the configured Limits.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds size limit", ErrMalformed)

	// ErrTooDeep is returned when arrays nest past Limits.MaxDepth.
	ErrTooDeep = fmt.Errorf("%w: arrays nested too deeply", ErrMalformed)

	// ErrTruncated is returned by Parse when the bytes end before the frame
	// does. It means Parse was called on a span Check never confirmed.
	ErrTruncated = fmt.Errorf("%w: frame truncated", ErrMalformed)
)

// maxDecimalLen is the length of the longest valid decimal field,
// "-9223372036854775808".
const maxDecimalLen = 20

// Status is the outcome of Check.
type Status uint8

const (
	// Complete means a whole frame is buffered at the cursor.
	Complete Status = iota

	// Incomplete means the bytes so far are a valid prefix of a frame and
	// more must be read before the frame can be found.
	Incomplete

	// Malformed means the bytes can never become a valid frame.
	Malformed
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Limits bounds how much memory a peer can make the reader commit to. A zero
// field means unbounded.
type Limits struct {
	// MaxBulkLength is the largest bulk payload accepted, in bytes.
	MaxBulkLength int64

	// MaxArrayLength is the largest element count accepted for one array.
	MaxArrayLength int64

	// MaxDepth is the deepest array nesting accepted. A top level array has
	// a depth of one.
	MaxDepth int
}

// Check reports whether a complete frame starts at the cursor. It does not
// allocate or copy. On Complete the cursor is left just past the frame,
// otherwise it is left where it started.
//
// The error is non-nil only when the status is Malformed.
func Check(cur *Cursor) (Status, error) {
	return CheckLimits(cur, Limits{})
}

// CheckLimits is Check with length, count and depth bounds applied.
func CheckLimits(cur *Cursor, limits Limits) (Status, error) {
	start := cur.pos

	status, err := check(cur, limits, 0)
	if status != Complete {
		cur.pos = start
	}

	return status, err
}

func check(cur *Cursor, limits Limits, depth int) (Status, error) {
	prefix, ok := cur.readByte()
	if !ok {
		return Incomplete, nil
	}

	switch prefix {
	case PrefixSimple, PrefixError:
		if _, ok := cur.line(); !ok {
			return Incomplete, nil
		}

		return Complete, nil

	case PrefixInteger:
		line, status, err := decimalLine(cur)
		if status != Complete {
			return status, err
		}

		if _, err := parseDecimal(line); err != nil {
			return Malformed, err
		}

		return Complete, nil

	case PrefixBulk:
		n, status, err := readLength(cur, limits.MaxBulkLength)
		if status != Complete || n < 0 {
			return status, err
		}

		if n > int64(cur.Remaining()) {
			return Incomplete, nil
		}

		cur.skip(int(n))
		return expectDelimiter(cur)

	case PrefixArray:
		depth++
		if limits.MaxDepth > 0 && depth > limits.MaxDepth {
			return Malformed, fmt.Errorf("%w: limit is %d", ErrTooDeep, limits.MaxDepth)
		}

		n, status, err := readLength(cur, limits.MaxArrayLength)
		if status != Complete {
			return status, err
		}

		for i := int64(0); i < n; i++ {
			if status, err := check(cur, limits, depth); status != Complete {
				return status, err
			}
		}

		return Complete, nil

	default:
		return Malformed, fmt.Errorf("%w: unknown type prefix %q", ErrMalformed, prefix)
	}
}

// Parse materializes the frame at the cursor, copying its payload out of the
// cursor's slice. It should follow a Complete Check over the same bytes; it
// still validates everything it reads and returns ErrTruncated rather than
// reading past the end. On error the cursor is left where it started.
func Parse(cur *Cursor) (Frame, error) {
	start := cur.pos

	frame, err := parse(cur)
	if err != nil {
		cur.pos = start
		return nil, err
	}

	return frame, nil
}

func parse(cur *Cursor) (Frame, error) {
	prefix, ok := cur.readByte()
	if !ok {
		return nil, ErrTruncated
	}

	switch prefix {
	case PrefixSimple:
		line, ok := cur.line()
		if !ok {
			return nil, ErrTruncated
		}

		return Simple(line), nil

	case PrefixError:
		line, ok := cur.line()
		if !ok {
			return nil, ErrTruncated
		}

		return Error(line), nil

	case PrefixInteger:
		line, ok := cur.line()
		if !ok {
			return nil, ErrTruncated
		}

		n, err := parseDecimal(line)
		if err != nil {
			return nil, err
		}

		return Integer(n), nil

	case PrefixBulk:
		n, err := parseLength(cur)
		if err != nil {
			return nil, err
		}

		if n < 0 {
			return Null{}, nil
		}

		if n > int64(cur.Remaining()) {
			return nil, ErrTruncated
		}

		payload, _ := cur.span(int(n))
		if status, err := expectDelimiter(cur); status != Complete {
			if err == nil {
				err = ErrTruncated
			}

			return nil, err
		}

		b := make([]byte, len(payload))
		copy(b, payload)

		return Bulk(b), nil

	case PrefixArray:
		n, err := parseLength(cur)
		if err != nil {
			return nil, err
		}

		if n < 0 {
			return Null{}, nil
		}

		// The smallest frame, an empty simple string, is three bytes long.
		if n > int64(cur.Remaining()/3) {
			return nil, ErrTruncated
		}

		frames := make(Array, 0, n)
		for i := int64(0); i < n; i++ {
			frame, err := parse(cur)
			if err != nil {
				return nil, err
			}

			frames = append(frames, frame)
		}

		return frames, nil

	default:
		return nil, fmt.Errorf("%w: unknown type prefix %q", ErrMalformed, prefix)
	}
}

func parseLength(cur *Cursor) (int64, error) {
	n, status, err := readLength(cur, 0)
	switch status {
	case Complete:
		return n, nil
	case Incomplete:
		return 0, ErrTruncated
	default:
		return 0, err
	}
}

// readLength reads a bulk length or array count. A length of -1 is returned
// as is and stands for Null.
func readLength(cur *Cursor, max int64) (int64, Status, error) {
	line, status, err := decimalLine(cur)
	if status != Complete {
		return 0, status, err
	}

	n, err := parseDecimal(line)
	if err != nil {
		return 0, Malformed, err
	}

	if n < -1 {
		return 0, Malformed, fmt.Errorf("%w: negative length %d", ErrMalformed, n)
	}

	if max > 0 && n > max {
		return 0, Malformed, fmt.Errorf("%w: length %d is over the limit of %d", ErrFrameTooLarge, n, max)
	}

	return n, Complete, nil
}

// decimalLine reads a line holding a decimal field. A field that has grown
// past the longest valid decimal without a delimiter is malformed rather than
// incomplete, so a peer cannot make the reader buffer an endless header.
func decimalLine(cur *Cursor) ([]byte, Status, error) {
	if line, ok := cur.line(); ok {
		return line, Complete, nil
	}

	if cur.Remaining() > maxDecimalLen+1 {
		return nil, Malformed, fmt.Errorf("%w: decimal field is not terminated", ErrMalformed)
	}

	return nil, Incomplete, nil
}

func expectDelimiter(cur *Cursor) (Status, error) {
	end, ok := cur.span(len(Delimiter))
	if !ok {
		return Incomplete, nil
	}

	if end[0] != Delimiter[0] || end[1] != Delimiter[1] {
		return Malformed, fmt.Errorf("%w: payload is not followed by a delimiter", ErrMalformed)
	}

	return Complete, nil
}

// parseDecimal parses an ASCII decimal with an optional leading minus sign.
// Leading zeros, "-0" and values outside the int64 range are rejected.
func parseDecimal(b []byte) (int64, error) {
	digits := b
	negative := len(digits) > 0 && digits[0] == '-'
	if negative {
		digits = digits[1:]
	}

	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: empty decimal %q", ErrMalformed, b)
	}

	if digits[0] == '0' && (len(digits) > 1 || negative) {
		return 0, fmt.Errorf("%w: decimal %q has a leading zero", ErrMalformed, b)
	}

	limit := uint64(math.MaxInt64)
	if negative {
		limit++
	}

	var n uint64
	for _, d := range digits {
		if d < '0' || d > '9' {
			return 0, fmt.Errorf("%w: invalid decimal %q", ErrMalformed, b)
		}

		v := uint64(d - '0')
		if n > (limit-v)/10 {
			return 0, fmt.Errorf("%w: decimal %q overflows 64 bits", ErrMalformed, b)
		}

		n = n*10 + v
	}

	if negative {
		return -int64(n), nil
	}

	return int64(n), nil
}
