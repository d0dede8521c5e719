package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Version is the protocol tag written by MethodSet responses.
const Version = "2.0"

var nullValue = json.RawMessage("null")

// Request is one JSON-RPC call unit.
//
// ID holds the raw id lexeme: nil when the member was absent, "null" when it
// was an explicit null.
type Request struct {
	JSONRPC string
	Method  string
	Params  json.RawMessage
	ID      json.RawMessage
}

// IsNotification reports whether the request carries no usable id.
func (r *Request) IsNotification() bool {
	return isNullID(r.ID)
}

// wireRequest is the decoding target for the codec. Method is a pointer so
// that a missing member can be told apart from an empty string.
type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

func (w *wireRequest) request() *Request {
	req := &Request{
		JSONRPC: w.JSONRPC,
		Params:  w.Params,
		ID:      w.ID,
	}
	if w.Method != nil {
		req.Method = *w.Method
	}
	return req
}

// Response is one JSON-RPC result unit.
//
// Exactly one of Result and Error is serialized; a Response with neither is
// written with an explicit null result.
type Response struct {
	JSONRPC string
	Result  any
	Error   *Error
	ID      json.RawMessage
}

// MarshalJSON writes the members in the order jsonrpc, error|result, id.
// The id member is omitted when absent or null.
func (r Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeResponse(&buf, &r, DefaultCodec, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps a present-but-null result distinguishable from an
// absent one by storing it as json.RawMessage.
func (r *Response) UnmarshalJSON(b []byte) error {
	var w struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Response{JSONRPC: w.JSONRPC, Error: w.Error, ID: w.ID}
	if w.Result != nil {
		r.Result = w.Result
	}
	return nil
}

// writeResponse encodes resp into buf. When nullID is set the id member is
// always written, as null if the request had none.
func writeResponse(buf *bytes.Buffer, resp *Response, codec Codec, nullID bool) error {
	var (
		name     string
		fragment []byte
		err      error
	)
	if resp.Error != nil {
		name = "error"
		fragment, err = codec.Marshal(resp.Error)
	} else {
		name = "result"
		if resp.Result == nil {
			fragment = nullValue
		} else {
			fragment, err = codec.Marshal(resp.Result)
		}
	}
	if err != nil {
		return err
	}

	var version []byte
	if resp.JSONRPC != "" {
		if version, err = codec.Marshal(resp.JSONRPC); err != nil {
			return err
		}
	}

	buf.WriteByte('{')
	if version != nil {
		buf.WriteString(`"jsonrpc":`)
		buf.Write(bytes.TrimRight(version, "\n"))
		buf.WriteByte(',')
	}
	buf.WriteByte('"')
	buf.WriteString(name)
	buf.WriteString(`":`)
	buf.Write(bytes.TrimRight(fragment, "\n"))
	switch {
	case !isNullID(resp.ID):
		buf.WriteString(`,"id":`)
		buf.Write(resp.ID)
	case nullID:
		buf.WriteString(`,"id":null`)
	}
	buf.WriteByte('}')
	return nil
}

func isNullID(id json.RawMessage) bool {
	return len(id) == 0 || bytes.Equal(id, nullValue)
}

// validID reports whether id is absent, null, a string, or an integer that
// fits in 64 bits.
func validID(id json.RawMessage) bool {
	id = bytes.TrimSpace(id)
	if len(id) == 0 {
		return true
	}
	switch c := id[0]; {
	case c == 'n':
		return bytes.Equal(id, nullValue)
	case c == '"':
		return true
	case c == '-' || (c >= '0' && c <= '9'):
		_, err := strconv.ParseInt(string(id), 10, 64)
		return err == nil
	}
	return false
}
