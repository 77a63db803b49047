// Package jsonframe converts frames to and from JSON, for people typing frames
// on the command line and for reading them in logs.
//
// The mapping is
//
//   JSON string          Bulk
//   JSON integer         Integer
//   true / false         Integer 1 / 0 (decode only)
//   null                 Null
//   JSON array           Array
//   {"simple": "OK"}     Simple
//   {"error": "ERR x"}   Error
//   {"base64": "AAE="}   Bulk holding bytes that are not valid UTF-8
package jsonframe

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/beacon/protocol"
)

// ErrInvalid is wrapped by every error describing JSON that has no frame
// equivalent.
var ErrInvalid = errors.New("jsonframe: invalid frame JSON")

const (
	keySimple = "simple"
	keyError  = "error"
	keyBase64 = "base64"
)

// Marshal renders f as JSON.
func Marshal(f protocol.Frame) ([]byte, error) {
	doc, err := wrap(f)
	if err != nil {
		return nil, err
	}

	return []byte(gjson.GetBytes(doc, "v").Raw), nil
}

// wrap renders f as the value of "v" in an object, since sjson sets paths
// rather than whole documents.
func wrap(f protocol.Frame) ([]byte, error) {
	doc := []byte(`{}`)

	switch v := f.(type) {
	case protocol.Simple:
		return sjson.SetBytes(doc, "v."+keySimple, string(v))

	case protocol.Error:
		return sjson.SetBytes(doc, "v."+keyError, string(v))

	case protocol.Integer:
		return sjson.SetBytes(doc, "v", int64(v))

	case protocol.Null:
		return sjson.SetRawBytes(doc, "v", []byte("null"))

	case protocol.Bulk:
		if utf8.Valid(v) {
			return sjson.SetBytes(doc, "v", string(v))
		}

		return sjson.SetBytes(doc, "v."+keyBase64, base64.StdEncoding.EncodeToString(v))

	case protocol.Array:
		doc = []byte(`{"v":[]}`)

		for i, elem := range v {
			raw, err := Marshal(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}

			if doc, err = sjson.SetRawBytes(doc, "v.-1", raw); err != nil {
				return nil, err
			}
		}

		return doc, nil

	default:
		return nil, fmt.Errorf("%w: unsupported frame %T", ErrInvalid, f)
	}
}

// Unmarshal reads a frame from JSON.
func Unmarshal(data []byte) (protocol.Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %q is not valid JSON", ErrInvalid, data)
	}

	return fromResult(gjson.ParseBytes(data))
}

func fromResult(r gjson.Result) (protocol.Frame, error) {
	switch {
	case r.IsArray():
		elems := r.Array()
		frames := make(protocol.Array, 0, len(elems))

		for i, elem := range elems {
			frame, err := fromResult(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}

			frames = append(frames, frame)
		}

		return frames, nil

	case r.IsObject():
		return fromObject(r)
	}

	switch r.Type {
	case gjson.Null:
		return protocol.Null{}, nil

	case gjson.String:
		return protocol.Bulk(r.String()), nil

	case gjson.Number:
		n, err := strconv.ParseInt(r.Raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a 64 bit integer", ErrInvalid, r.Raw)
		}

		return protocol.Integer(n), nil

	case gjson.True:
		return protocol.Integer(1), nil

	case gjson.False:
		return protocol.Integer(0), nil

	default:
		return nil, fmt.Errorf("%w: unexpected %s", ErrInvalid, r.Raw)
	}
}

func fromObject(r gjson.Result) (protocol.Frame, error) {
	fields := r.Map()
	if len(fields) != 1 {
		return nil, fmt.Errorf("%w: objects must have exactly one key, got %s", ErrInvalid, r.Raw)
	}

	for key, value := range fields {
		if value.Type != gjson.String {
			return nil, fmt.Errorf("%w: %q must be a string", ErrInvalid, key)
		}

		switch key {
		case keySimple:
			return protocol.Simple(value.String()), nil

		case keyError:
			return protocol.Error(value.String()), nil

		case keyBase64:
			b, err := base64.StdEncoding.DecodeString(value.String())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
			}

			return protocol.Bulk(b), nil
		}

		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
	}

	return nil, nil
}
