package protocol

import "strconv"

// Kind identifies which variant a Frame is.
type Kind uint8

const (
	KindSimple Kind = iota + 1
	KindError
	KindInteger
	KindNull
	KindBulk
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindNull:
		return "null"
	case KindBulk:
		return "bulk"
	case KindArray:
		return "array"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Wire prefixes. The first byte of every frame is one of these.
const (
	PrefixSimple  byte = '+'
	PrefixError   byte = '-'
	PrefixInteger byte = ':'
	PrefixBulk    byte = '$'
	PrefixArray   byte = '*'
)

var (
	// Delimiter terminates every line, length field and bulk payload.
	Delimiter = []byte("\r\n")

	// NullFrame is the literal encoding of Null.
	NullFrame = []byte("$-1\r\n")
)

// Frame is a single protocol message. The set of implementations is closed:
// Simple, Error, Integer, Null, Bulk and Array.
type Frame interface {
	Kind() Kind

	frame()
}

// Simple is a short status line such as OK. It must not contain CR or LF.
type Simple string

// Error is a failure reply. Like Simple it is a single line of text.
type Error string

// Integer is a signed 64 bit number.
type Integer int64

// Null is the absent value, written as a bulk with a length of -1.
type Null struct{}

// Bulk is a binary safe payload of any length. A nil Bulk is the same frame
// as an empty one and is read back as Bulk{}.
type Bulk []byte

// Array is an ordered list of frames, which may themselves be arrays. A nil
// Array is the same frame as an empty one and is read back as Array{}.
type Array []Frame

func (Simple) Kind() Kind  { return KindSimple }
func (Error) Kind() Kind   { return KindError }
func (Integer) Kind() Kind { return KindInteger }
func (Null) Kind() Kind    { return KindNull }
func (Bulk) Kind() Kind    { return KindBulk }
func (Array) Kind() Kind   { return KindArray }

func (Simple) frame()  {}
func (Error) frame()   {}
func (Integer) frame() {}
func (Null) frame()    {}
func (Bulk) frame()    {}
func (Array) frame()   {}

// Error lets an Error frame be returned as a Go error.
func (e Error) Error() string {
	return string(e)
}

func (b Bulk) String() string {
	return string(b)
}

var _ Frame = Simple("")
var _ Frame = Error("")
var _ Frame = Integer(0)
var _ Frame = Null{}
var _ Frame = Bulk(nil)
var _ Frame = Array(nil)
var _ error = Error("")
