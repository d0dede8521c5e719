package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Codec encodes and decodes JSON for a Processor. It is the processor's
// serialization configuration: the processor never interprets options
// itself, it only calls Marshal and Unmarshal.
//
// Marshal output may carry a trailing newline; it is stripped before the
// fragment is embedded.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is a Codec built on encoding/json.
type JSONCodec struct {
	// EscapeHTML escapes <, > and & inside strings, as json.Marshal does.
	EscapeHTML bool
	// UseNumber decodes numbers in untyped values as json.Number.
	UseNumber bool
	// DisallowUnknownFields rejects request members other than
	// jsonrpc, method, params and id.
	DisallowUnknownFields bool
}

// DefaultCodec matches json.Marshal/json.Unmarshal except that HTML
// characters are not escaped.
var DefaultCodec Codec = JSONCodec{}

var errTrailingData = errors.New("invalid character after top-level value")

// Marshal encodes v without a trailing newline.
func (c JSONCodec) Marshal(v any) ([]byte, error) {
	if c.EscapeHTML {
		return json.Marshal(v)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes exactly one JSON value from data into v. Anything but
// whitespace after the value is an error.
func (c JSONCodec) Unmarshal(data []byte, v any) error {
	if !c.UseNumber && !c.DisallowUnknownFields {
		return json.Unmarshal(data, v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if c.UseNumber {
		dec.UseNumber()
	}
	if c.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}
