package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Mode is the shape of an inbound payload.
type Mode int

const (
	// ModeSingle is a payload holding one request object.
	ModeSingle Mode = iota
	// ModeArray is a payload holding an array of request objects.
	ModeArray
)

// String returns "single" or "array".
func (m Mode) String() string {
	if m == ModeArray {
		return "array"
	}
	return "single"
}

// Observer receives processing events, typically for metrics.
// ObserveResponse is called once per reply actually written; code is 0 for
// a successful response.
type Observer interface {
	ObserveBatch(session string, mode Mode, size int)
	ObserveResponse(session string, code int)
	ObserveDuration(session string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(string, Mode, int)        {}
func (nopObserver) ObserveResponse(string, int)           {}
func (nopObserver) ObserveDuration(string, time.Duration) {}

// Processor turns raw JSON-RPC payloads into response payloads.
//
// A Processor is immutable after construction and safe for concurrent use.
// Batch items are handled sequentially, in order.
type Processor struct {
	registry       *Registry
	codec          Codec
	defaultSession string
	logger         zerolog.Logger
	observer       Observer
}

// Option configures a Processor.
type Option func(*Processor)

// WithCodec sets the codec used for all decoding and encoding.
func WithCodec(c Codec) Option {
	return func(p *Processor) {
		if c != nil {
			p.codec = c
		}
	}
}

// WithDefaultSession sets the session used when Process is called with an
// empty session id.
func WithDefaultSession(id string) Option {
	return func(p *Processor) {
		p.defaultSession = id
	}
}

// WithLogger sets the processor's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithObserver registers an Observer for processing events.
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		if o != nil {
			p.observer = o
		}
	}
}

// NewProcessor creates a Processor that resolves dispatchers in registry.
func NewProcessor(registry *Registry, opts ...Option) *Processor {
	if registry == nil {
		panic("jsonrpc: nil registry")
	}
	p := &Processor{
		registry:       registry,
		codec:          DefaultCodec,
		defaultSession: DefaultSessionID,
		logger:         zerolog.Nop(),
		observer:       nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultSession returns the session used for an empty session id.
func (p *Processor) DefaultSession() string {
	return p.defaultSession
}

// Process handles one payload for sessionID ("" selects the default session)
// and returns the response payload. An empty result means there is nothing
// to send back.
//
// Malformed input never yields an error; it is reported inside the payload.
// The error is non-nil only when the session is unknown.
func (p *Processor) Process(ctx context.Context, sessionID string, raw []byte) ([]byte, error) {
	if sessionID == "" {
		sessionID = p.defaultSession
	}
	d, ok := p.registry.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, sessionID)
	}

	start := time.Now()
	out := p.process(ctx, sessionID, d, raw)
	p.observer.ObserveDuration(sessionID, time.Since(start))
	return out, nil
}

// Result is the outcome of an asynchronous Process call.
type Result struct {
	Body []byte
	Err  error
}

// ProcessAsync runs Process on its own goroutine. The whole payload is the
// unit of work: ctx is checked once before processing starts and is not
// consulted mid-batch.
func (p *Processor) ProcessAsync(ctx context.Context, sessionID string, raw []byte) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		if err := ctx.Err(); err != nil {
			ch <- Result{Err: err}
			return
		}
		body, err := p.Process(ctx, sessionID, raw)
		ch <- Result{Body: body, Err: err}
	}()
	return ch
}

func (p *Processor) process(ctx context.Context, session string, d Dispatcher, raw []byte) []byte {
	mode := ModeSingle
	text, err := normalizeText(raw)
	var batch []*wireRequest
	if err == nil {
		mode = detectMode(text)
		batch, err = p.decode(text, mode)
	}
	if err != nil {
		p.logger.Debug().Err(err).Str("session", session).Msg("jsonrpc: parse error")
		return p.fault(ctx, session, d, raw, NewParseError(msgParseError).WithData(err.Error()))
	}

	p.observer.ObserveBatch(session, mode, len(batch))
	if len(batch) == 0 {
		return p.fault(ctx, session, d, raw, NewError(CodeEmptyBatch, msgInvalidRequest).WithData(detailEmptyBatch))
	}

	var out bytes.Buffer
	for _, item := range batch {
		resp := p.handle(ctx, d, raw, item)
		if resp == nil {
			continue
		}
		if resp.Result == nil && resp.Error == nil {
			resp.Result = nullValue
		}

		if len(batch) == 1 && (!isNullID(resp.ID) || resp.Error != nil) {
			var buf bytes.Buffer
			p.write(&buf, session, resp, true)
			return buf.Bytes()
		}
		if isNullID(resp.ID) && resp.Error == nil {
			continue
		}

		var elem bytes.Buffer
		p.write(&elem, session, resp, false)
		if out.Len() == 0 {
			out.WriteByte('[')
		} else {
			out.WriteByte(',')
		}
		out.Write(elem.Bytes())
	}
	if out.Len() > 0 {
		out.WriteByte(']')
	}
	return out.Bytes()
}

// handle validates one batch item and dispatches it. A nil return means the
// slot produces no response.
func (p *Processor) handle(ctx context.Context, d Dispatcher, raw []byte, item *wireRequest) *Response {
	var fault *Error
	switch {
	case item == nil:
		fault = NewParseError(msgParseError).WithData(detailNullSlot)
	case item.Method == nil:
		fault = NewInvalidRequestError(msgInvalidRequest).WithData(detailNoMethod)
	case !validID(item.ID):
		fault = NewInvalidRequestError(msgInvalidRequest).WithData(detailBadID)
	}
	if fault != nil {
		return &Response{JSONRPC: Version, Error: parseFailure(ctx, d, raw, fault)}
	}

	req := item.request()
	data := d.Handle(ctx, req)
	if data == nil {
		return nil
	}
	return &Response{
		JSONRPC: data.JSONRPC,
		Result:  data.Result,
		Error:   data.Error,
		ID:      req.ID,
	}
}

// write encodes resp into buf. A result that cannot be encoded is replaced
// by an internal error so the rest of the payload stays well formed.
func (p *Processor) write(buf *bytes.Buffer, session string, resp *Response, nullID bool) {
	mark := buf.Len()
	err := writeResponse(buf, resp, p.codec, nullID)
	if err != nil {
		p.logger.Warn().Err(err).Str("session", session).Msg("jsonrpc: response encoding failed")
		buf.Truncate(mark)
		resp = &Response{
			JSONRPC: resp.JSONRPC,
			Error:   NewInternalError(msgInternalError).WithData(err.Error()),
			ID:      resp.ID,
		}
		if err := writeResponse(buf, resp, DefaultCodec, nullID); err != nil {
			// Error objects holding string data always encode.
			panic(err)
		}
	}
	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
	}
	p.observer.ObserveResponse(session, code)
}

// fault renders a top-level error that replaces the whole payload.
func (p *Processor) fault(ctx context.Context, session string, d Dispatcher, raw []byte, fault *Error) []byte {
	var buf bytes.Buffer
	p.write(&buf, session, &Response{JSONRPC: Version, Error: parseFailure(ctx, d, raw, fault)}, true)
	return buf.Bytes()
}

func parseFailure(ctx context.Context, d Dispatcher, raw []byte, fault *Error) *Error {
	if e := d.HandleParseFailure(ctx, raw, fault); e != nil {
		return e
	}
	return fault
}

func (p *Processor) decode(text []byte, mode Mode) ([]*wireRequest, error) {
	if mode == ModeArray {
		var batch []*wireRequest
		if err := p.codec.Unmarshal(text, &batch); err != nil {
			return nil, err
		}
		if batch == nil {
			// A bare null decodes without error into a nil slice.
			return nil, errNotArray
		}
		return batch, nil
	}
	var req *wireRequest
	if err := p.codec.Unmarshal(text, &req); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errNotObject
	}
	return []*wireRequest{req}, nil
}

var (
	errNotArray  = errors.New("json: expected an array of request objects")
	errNotObject = errors.New("json: expected a request object")
)

// detectMode looks for the first '{' or '['. Nothing else in the text is
// interpreted; without either the payload is treated as a single object.
func detectMode(text []byte) Mode {
	for _, c := range text {
		switch c {
		case '{':
			return ModeSingle
		case '[':
			return ModeArray
		}
	}
	return ModeSingle
}

// normalizeText transcodes payloads that start with a UTF-8 or UTF-16 byte
// order mark to plain UTF-8.
func normalizeText(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return raw, nil
	}
	bom := (raw[0] == 0xFE && raw[1] == 0xFF) ||
		(raw[0] == 0xFF && raw[1] == 0xFE) ||
		bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if !bom {
		return raw, nil
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	return out, err
}
