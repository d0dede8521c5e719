package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnehpets/onerpc/endpoint"
)

const (
	testIssuer   = "https://issuer.example"
	testAudience = "onerpc"
)

type tokenFixture struct {
	signer   jose.Signer
	verifier *oidc.IDTokenVerifier
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return &tokenFixture{
		signer:   signer,
		verifier: oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience}),
	}
}

func (f *tokenFixture) token(t *testing.T, issuer, audience string, expiry time.Time, extra map[string]any) string {
	t.Helper()
	claims := jwt.Claims{
		Subject:   "user-1",
		Issuer:    issuer,
		Audience:  jwt.Audience{audience},
		Expiry:    jwt.NewNumericDate(expiry),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	b := jwt.Signed(f.signer).Claims(claims)
	if extra != nil {
		b = b.Claims(extra)
	}
	raw, err := b.Serialize()
	require.NoError(t, err)
	return raw
}

func serveWith(p *BearerProcessor, authz string) *httptest.ResponseRecorder {
	h := endpoint.Handler(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok {
			return &endpoint.StringRenderer{Body: "anonymous"}, nil
		}
		email, _ := c.VerifiedEmail()
		return &endpoint.StringRenderer{Body: c.StableID() + " " + email}, nil
	}, p)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerProcessor_ValidToken(t *testing.T) {
	f := newTokenFixture(t)
	raw := f.token(t, testIssuer, testAudience, time.Now().Add(time.Hour), map[string]any{
		"email":          "u@example.com",
		"email_verified": true,
	})

	rec := serveWith(NewBearerProcessor(f.verifier), "Bearer "+raw)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testIssuer+"|user-1 u@example.com", rec.Body.String())

	rec = serveWith(NewBearerProcessor(f.verifier), "bearer "+raw)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerProcessor_Rejections(t *testing.T) {
	f := newTokenFixture(t)
	other := newTokenFixture(t)
	p := NewBearerProcessor(f.verifier)

	tests := map[string]string{
		"missing":        "",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
		"garbage":        "Bearer not-a-jwt",
		"expired":        "Bearer " + f.token(t, testIssuer, testAudience, time.Now().Add(-time.Minute), nil),
		"wrong issuer":   "Bearer " + f.token(t, "https://other.example", testAudience, time.Now().Add(time.Hour), nil),
		"wrong audience": "Bearer " + f.token(t, testIssuer, "someone-else", time.Now().Add(time.Hour), nil),
		"wrong key":      "Bearer " + other.token(t, testIssuer, testAudience, time.Now().Add(time.Hour), nil),
	}
	for name, authz := range tests {
		t.Run(name, func(t *testing.T) {
			rec := serveWith(p, authz)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestBearerProcessor_Optional(t *testing.T) {
	f := newTokenFixture(t)
	p := NewBearerProcessor(f.verifier, WithOptional())

	rec := serveWith(p, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	rec = serveWith(p, "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
}

func TestClaims(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)

	c := &Claims{Subject: "s", Issuer: "i", Email: "e@x", EmailVerified: false}
	_, ok = c.VerifiedEmail()
	assert.False(t, ok)
	assert.Equal(t, "i|s", c.StableID())

	got, ok := ClaimsFromContext(WithClaims(context.Background(), c))
	assert.True(t, ok)
	assert.Same(t, c, got)

	var nilClaims *Claims
	assert.Empty(t, nilClaims.StableID())
}

func TestNewBearerProcessor_NilVerifierPanics(t *testing.T) {
	assert.Panics(t, func() { NewBearerProcessor(nil) })
}
