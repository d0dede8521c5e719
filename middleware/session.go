package middleware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/mnehpets/onerpc/endpoint"
)

// ErrNoValue is returned by Session.Get when the key is not set.
var ErrNoValue = errors.New("middleware: no session value")

const (
	// DefaultCookieName is the cookie that carries RPC session state.
	DefaultCookieName = "ORS"
	// DefaultSessionPeriod is the lifetime of a new session.
	DefaultSessionPeriod = 24 * time.Hour
	// DefaultExtendThreshold is the remaining lifetime below which a session
	// is renewed for another period.
	DefaultExtendThreshold = DefaultSessionPeriod / 4
	// MaxSessionLifetime caps the total lifetime of a continually renewed
	// session.
	MaxSessionLifetime = 90 * 24 * time.Hour

	sessionIDBytes = 16
)

// sessionData is the sealed cookie payload.
type sessionData struct {
	ID      string                     `cbor:"1,keyasint"`
	Expires time.Time                  `cbor:"2,keyasint"`
	Period  int64                      `cbor:"3,keyasint"` // seconds from issue to Expires
	Values  map[string]cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

func newSessionData(period time.Duration) (*sessionData, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	// Truncation moves issue time backwards so the session is valid now.
	now := time.Now().Truncate(time.Second)
	return &sessionData{
		ID:      base64.RawURLEncoding.EncodeToString(b),
		Expires: now.Add(period),
		Period:  int64(period / time.Second),
		Values:  map[string]cbor.RawMessage{},
	}, nil
}

// valid reports whether sd is usable at now and renews it if it is within
// threshold of expiring. renewed is true when Expires moved.
func (sd *sessionData) valid(now time.Time, threshold, period time.Duration) (ok, renewed bool) {
	if sd.Period <= 0 || sd.Period > int64(MaxSessionLifetime/time.Second) {
		return false, false
	}
	if sd.Expires.IsZero() || !now.Before(sd.Expires) {
		return false, false
	}
	if threshold <= 0 || period < threshold || sd.Expires.Sub(now) >= threshold {
		return true, false
	}

	issued := sd.Expires.Add(-time.Duration(sd.Period) * time.Second)
	next := now.Add(period).Truncate(time.Second)
	if limit := issued.Add(MaxSessionLifetime); next.After(limit) {
		next = limit
	}
	if !next.After(sd.Expires) {
		return true, false
	}
	sd.Period += int64(next.Sub(sd.Expires) / time.Second)
	sd.Expires = next
	return true, true
}

// Session is per-client state carried in a sealed cookie. It is created
// lazily by the first Set and is safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	data   *sessionData
	period time.Duration
	dirty  bool
}

// ID returns the session id, or "" when no session has been established.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ""
	}
	return s.data.ID
}

// Expires returns the session expiry, or the zero time.
func (s *Session) Expires() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return time.Time{}
	}
	return s.data.Expires
}

// Get decodes the value stored under key into dest.
func (s *Session) Get(key string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrNoValue
	}
	raw, ok := s.data.Values[key]
	if !ok {
		return ErrNoValue
	}
	return cbor.Unmarshal(raw, dest)
}

// Len returns the number of stored values.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0
	}
	return len(s.data.Values)
}

// Set stores value under key, starting a new session if needed.
func (s *Session) Set(key string, value any) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		if s.data, err = newSessionData(s.period); err != nil {
			return err
		}
	}
	if s.data.Values == nil {
		s.data.Values = map[string]cbor.RawMessage{}
	}
	s.data.Values[key] = raw
	s.dirty = true
	return nil
}

// Delete removes key. It is a no-op when the key is not set.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	if _, ok := s.data.Values[key]; ok {
		delete(s.data.Values, key)
		s.dirty = true
	}
}

// Clear ends the session; the cookie is removed from the client.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		s.data = nil
		s.dirty = true
	}
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the Session installed by SessionProcessor.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok && sess != nil
}

// SessionProcessor is an endpoint.Processor that loads the session cookie,
// exposes it through the request context and writes it back when it changed.
type SessionProcessor struct {
	cookie    *SecureCookie
	period    time.Duration
	threshold time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// SessionOption configures a SessionProcessor.
type SessionOption func(*SessionProcessor)

// WithSessionPeriod sets the lifetime of new and renewed sessions.
func WithSessionPeriod(d time.Duration) SessionOption {
	return func(p *SessionProcessor) {
		if d > 0 {
			p.period = d
		}
	}
}

// WithExtendThreshold sets the remaining lifetime below which sessions are
// renewed. Zero disables renewal.
func WithExtendThreshold(d time.Duration) SessionOption {
	return func(p *SessionProcessor) {
		p.threshold = d
	}
}

// WithSessionLogger sets the logger used to report rejected cookies.
func WithSessionLogger(l zerolog.Logger) SessionOption {
	return func(p *SessionProcessor) {
		p.logger = l
	}
}

// NewSessionProcessor creates a SessionProcessor that stores sessions in
// cookie.
func NewSessionProcessor(cookie *SecureCookie, opts ...SessionOption) *SessionProcessor {
	if cookie == nil {
		panic("middleware: nil SecureCookie")
	}
	p := &SessionProcessor{
		cookie:    cookie,
		period:    DefaultSessionPeriod,
		threshold: DefaultExtendThreshold,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	sess := &Session{period: p.period}

	if c, err := r.Cookie(p.cookie.Name()); err == nil {
		var sd sessionData
		if err := p.cookie.Open(c, &sd); err != nil {
			p.logger.Debug().Err(err).Msg("middleware: session cookie rejected")
			sess.dirty = true
		} else if ok, renewed := sd.valid(p.now(), p.threshold, p.period); !ok {
			sess.dirty = true
		} else {
			sess.data = &sd
			sess.dirty = renewed
		}
	}

	endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
		p.persist(w, sess)
	})
	return next(w, r.WithContext(WithSession(r.Context(), sess)))
}

func (p *SessionProcessor) persist(w http.ResponseWriter, sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.dirty {
		return
	}
	if sess.data == nil {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	remaining := sess.data.Expires.Sub(p.now())
	if remaining < time.Second {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	c, err := p.cookie.Seal(sess.data, remaining)
	if err != nil {
		p.logger.Error().Err(err).Msg("middleware: session cookie not written")
		return
	}
	http.SetCookie(w, c)
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
