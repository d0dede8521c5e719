package jsonrpc

import "errors"

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeEmptyBatch is reported when an array payload contains no calls.
	CodeEmptyBatch = 3200
)

const (
	msgParseError     = "Parse error"
	msgInvalidRequest = "Invalid Request"
	msgInternalError  = "Internal error"

	detailNullSlot   = "Invalid JSON was received by the server. An error occurred on the server while parsing the JSON text."
	detailNoMethod   = "Missing property 'method'"
	detailBadID      = "Id property must be either null or string or integer."
	detailEmptyBatch = "Batch of calls was empty."
)

// ErrUnknownSession is returned by Process when no dispatcher is registered
// for the requested session.
var ErrUnknownSession = errors.New("jsonrpc: unknown session")

// Error is a JSON-RPC error object. It implements error so that methods can
// return it directly and have the code preserved on the wire.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "jsonrpc: <nil>"
	}
	return e.Message
}

// NewError returns an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// NewParseError returns a -32700 error for payloads that are not valid JSON.
func NewParseError(message string) *Error {
	return NewError(CodeParseError, message)
}

// NewInvalidRequestError returns a -32600 error for malformed request objects.
func NewInvalidRequestError(message string) *Error {
	return NewError(CodeInvalidRequest, message)
}

// NewMethodNotFoundError returns a -32601 error.
func NewMethodNotFoundError(message string) *Error {
	return NewError(CodeMethodNotFound, message)
}

// NewInvalidParamsError returns a -32602 error for params that do not fit
// the method signature.
func NewInvalidParamsError(message string) *Error {
	return NewError(CodeInvalidParams, message)
}

// NewInternalError returns a -32603 error.
func NewInternalError(message string) *Error {
	return NewError(CodeInternalError, message)
}

// mapError converts any error to a JSON-RPC error.
// *Error values keep their code; other errors become InternalError.
func mapError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr != nil {
		return rpcErr
	}
	return NewInternalError(err.Error())
}
