package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("middleware: malformed cookie")
	ErrCookieInvalid = errors.New("middleware: cookie failed authentication")
	ErrCookieConfig  = errors.New("middleware: invalid cookie configuration")
)

// maxCookieLen bounds how much attacker-controlled input is decoded.
const maxCookieLen = 4096

// KeySize is the length of a cookie sealing key.
const KeySize = chacha20poly1305.KeySize

// SecureCookie seals values into cookies with XChaCha20-Poly1305.
//
// A sealed value has the form keyID "." base64url(nonce || ciphertext). The
// cookie name, domain, path and secure flag are bound as additional data, so
// a value cannot be replayed under different attributes. Every key in the
// key map opens cookies; only the current key seals them, which allows keys
// to be rotated.
type SecureCookie struct {
	name     string
	domain   string
	path     string
	secure   bool
	sameSite http.SameSite

	keyID string
	aeads map[string]cipher.AEAD
}

// CookieOption configures a SecureCookie.
type CookieOption func(*SecureCookie)

// WithCookiePath sets the cookie path. The default is "/".
func WithCookiePath(path string) CookieOption {
	return func(sc *SecureCookie) {
		sc.path = path
	}
}

// WithCookieDomain sets the cookie domain.
func WithCookieDomain(domain string) CookieOption {
	return func(sc *SecureCookie) {
		sc.domain = domain
	}
}

// WithInsecureCookie drops the Secure attribute, for plain-HTTP development.
func WithInsecureCookie() CookieOption {
	return func(sc *SecureCookie) {
		sc.secure = false
	}
}

// WithSameSite sets the SameSite attribute. The default is Lax.
func WithSameSite(mode http.SameSite) CookieOption {
	return func(sc *SecureCookie) {
		sc.sameSite = mode
	}
}

// NewSecureCookie creates a SecureCookie named name that seals with
// keys[keyID]. All keys must be KeySize bytes.
func NewSecureCookie(name, keyID string, keys map[string][]byte, opts ...CookieOption) (*SecureCookie, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	sc := &SecureCookie{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		keyID:    keyID,
		aeads:    make(map[string]cipher.AEAD, len(keys)),
	}
	for id, key := range keys {
		if id == "" || strings.Contains(id, ".") {
			return nil, fmt.Errorf("%w: invalid key id %q", ErrCookieConfig, id)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCookieConfig, id, err)
		}
		sc.aeads[id] = aead
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.path == "" {
		sc.path = "/"
	}
	return sc, nil
}

// Name returns the cookie name.
func (sc *SecureCookie) Name() string {
	return sc.name
}

func (sc *SecureCookie) aad() []byte {
	secure := "0"
	if sc.secure {
		secure = "1"
	}
	return []byte(sc.name + "|" + sc.domain + "|" + sc.path + "|" + secure)
}

// Seal encodes v with CBOR, encrypts it and returns a cookie that lives for
// maxAge.
func (sc *SecureCookie) Seal(v any, maxAge time.Duration) (*http.Cookie, error) {
	secs := int(maxAge / time.Second)
	if secs <= 0 {
		return nil, fmt.Errorf("%w: non-positive max age", ErrCookieConfig)
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	aead := sc.aeads[sc.keyID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, sc.aad())
	value := sc.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed)
	if len(value) > maxCookieLen {
		return nil, fmt.Errorf("%w: sealed value is %d bytes", ErrCookieFormat, len(value))
	}
	return sc.cookie(value, secs, time.Now().Add(maxAge)), nil
}

// Open authenticates and decrypts c and decodes the payload into v.
func (sc *SecureCookie) Open(c *http.Cookie, v any) error {
	if c == nil || c.Value == "" || len(c.Value) > maxCookieLen {
		return ErrCookieFormat
	}
	keyID, encoded, ok := strings.Cut(c.Value, ".")
	if !ok || keyID == "" || encoded == "" {
		return ErrCookieFormat
	}
	aead, ok := sc.aeads[keyID]
	if !ok {
		return ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ErrCookieFormat
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, sc.aad())
	if err != nil {
		return ErrCookieInvalid
	}
	return cbor.Unmarshal(plain, v)
}

// Clear returns a cookie that deletes this cookie on the client.
func (sc *SecureCookie) Clear() *http.Cookie {
	return sc.cookie("", -1, time.Unix(0, 0))
}

func (sc *SecureCookie) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     sc.name,
		Value:    value,
		Domain:   sc.domain,
		Path:     sc.path,
		MaxAge:   maxAge,
		Expires:  expires,
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}
}
