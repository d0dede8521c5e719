// Package auth authenticates RPC callers with OIDC bearer tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"

	"github.com/mnehpets/onerpc/endpoint"
)

// Claims are the verified token claims exposed to RPC methods.
type Claims struct {
	Subject       string    `json:"sub"`
	Issuer        string    `json:"iss"`
	Audience      []string  `json:"-"`
	Expiry        time.Time `json:"-"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified,omitempty"`
	Scope         string    `json:"scope,omitempty"`
}

// VerifiedEmail returns the email claim when email_verified is true.
func (c *Claims) VerifiedEmail() (string, bool) {
	if c == nil || !c.EmailVerified || c.Email == "" {
		return "", false
	}
	return c.Email, true
}

// StableID returns "issuer|subject", which identifies a caller across token
// refreshes.
func (c *Claims) StableID() string {
	if c == nil {
		return ""
	}
	return c.Issuer + "|" + c.Subject
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by BearerProcessor.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// NewVerifier builds a token verifier for issuer and audience. Keys are
// fetched from jwksURL, or found through OIDC discovery when it is empty.
func NewVerifier(ctx context.Context, issuer, audience, jwksURL string) (*oidc.IDTokenVerifier, error) {
	cfg := &oidc.Config{ClientID: audience}
	if jwksURL != "" {
		return oidc.NewVerifier(issuer, oidc.NewRemoteKeySet(ctx, jwksURL), cfg), nil
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: discovery for %q: %w", issuer, err)
	}
	return provider.Verifier(cfg), nil
}

// BearerProcessor is an endpoint.Processor that verifies the
// "Authorization: Bearer" token of each request.
//
// A missing token is rejected with 401 unless Optional is set. A token that
// is present but invalid is always rejected.
type BearerProcessor struct {
	verifier *oidc.IDTokenVerifier
	Optional bool
	logger   zerolog.Logger
}

// BearerOption configures a BearerProcessor.
type BearerOption func(*BearerProcessor)

// WithOptional lets requests without a token through unauthenticated.
func WithOptional() BearerOption {
	return func(p *BearerProcessor) {
		p.Optional = true
	}
}

// WithLogger sets the logger used for rejected tokens.
func WithLogger(l zerolog.Logger) BearerOption {
	return func(p *BearerProcessor) {
		p.logger = l
	}
}

// NewBearerProcessor creates a BearerProcessor using verifier.
func NewBearerProcessor(verifier *oidc.IDTokenVerifier, opts ...BearerOption) *BearerProcessor {
	if verifier == nil {
		panic("auth: nil verifier")
	}
	p := &BearerProcessor{verifier: verifier, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *BearerProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	raw, found := bearerToken(r)
	if !found {
		if p.Optional {
			return next(w, r)
		}
		w.Header().Set("WWW-Authenticate", `Bearer`)
		return endpoint.Error(http.StatusUnauthorized, "", nil)
	}

	token, err := p.verifier.Verify(r.Context(), raw)
	if err != nil {
		p.logger.Info().Err(err).Str("remote", r.RemoteAddr).Msg("auth: token rejected")
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		return endpoint.Error(http.StatusUnauthorized, "", err)
	}

	claims := &Claims{}
	if err := token.Claims(claims); err != nil {
		return endpoint.Error(http.StatusUnauthorized, "", err)
	}
	claims.Subject = token.Subject
	claims.Issuer = token.Issuer
	claims.Audience = token.Audience
	claims.Expiry = token.Expiry
	return next(w, r.WithContext(WithClaims(r.Context(), claims)))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

var _ endpoint.Processor = (*BearerProcessor)(nil)
