package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mnehpets/onerpc/auth"
	"github.com/mnehpets/onerpc/jsonrpc"
	"github.com/mnehpets/onerpc/middleware"
)

// CodeNoSession is returned by the rpc.session.* methods when the transport
// carries no cookie session.
const CodeNoSession = -32001

var errNoSession = jsonrpc.NewError(CodeNoSession, "sessions are not enabled")

// rpcService holds the built-in "rpc." methods.
type rpcService struct {
	methods *jsonrpc.MethodSet
	started time.Time
}

type pingResult struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

type identity struct {
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"sub,omitempty"`
	Issuer        string `json:"iss,omitempty"`
	Email         string `json:"email,omitempty"`
}

type sessionKeyArgs struct {
	Key string `json:"key"`
}

type sessionSetArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type sessionInfo struct {
	ID      string    `json:"id"`
	Expires time.Time `json:"expires"`
	Values  int       `json:"values"`
}

// registerBuiltins adds the rpc.* methods to methods.
func registerBuiltins(methods *jsonrpc.MethodSet) {
	s := &rpcService{methods: methods, started: time.Now()}
	methods.RegisterFunc("rpc.ping", s.ping)
	methods.RegisterFunc("rpc.echo", s.echo)
	methods.RegisterFunc("rpc.methods", s.list)
	methods.RegisterFunc("rpc.whoami", s.whoami)
	methods.RegisterFunc("rpc.session.info", s.sessionInfo)
	methods.RegisterFunc("rpc.session.get", s.sessionGet)
	methods.RegisterFunc("rpc.session.set", s.sessionSet)
	methods.RegisterFunc("rpc.session.delete", s.sessionDelete)
	methods.RegisterFunc("rpc.session.clear", s.sessionClear)
}

func (s *rpcService) ping() pingResult {
	return pingResult{Status: "ok", Uptime: time.Since(s.started).Seconds()}
}

func (s *rpcService) echo(v json.RawMessage) json.RawMessage {
	return v
}

func (s *rpcService) list() []string {
	return s.methods.Names()
}

func (s *rpcService) whoami(ctx context.Context) identity {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return identity{}
	}
	email, _ := claims.VerifiedEmail()
	return identity{
		Authenticated: true,
		Subject:       claims.Subject,
		Issuer:        claims.Issuer,
		Email:         email,
	}
}

func (s *rpcService) sessionInfo(ctx context.Context) (*sessionInfo, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return nil, errNoSession
	}
	if sess.ID() == "" {
		return nil, nil
	}
	return &sessionInfo{ID: sess.ID(), Expires: sess.Expires(), Values: sess.Len()}, nil
}

// sessionGet returns the stored JSON value, or null when key is unset.
func (s *rpcService) sessionGet(ctx context.Context, args sessionKeyArgs) (json.RawMessage, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return nil, errNoSession
	}
	var raw []byte
	if err := sess.Get(args.Key, &raw); err != nil {
		if errors.Is(err, middleware.ErrNoValue) {
			return nil, nil
		}
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (s *rpcService) sessionSet(ctx context.Context, args sessionSetArgs) (bool, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return false, errNoSession
	}
	if args.Key == "" {
		return false, jsonrpc.NewInvalidParamsError("key must not be empty")
	}
	if err := sess.Set(args.Key, []byte(args.Value)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *rpcService) sessionDelete(ctx context.Context, args sessionKeyArgs) (bool, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return false, errNoSession
	}
	sess.Delete(args.Key)
	return true, nil
}

func (s *rpcService) sessionClear(ctx context.Context) (bool, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return false, errNoSession
	}
	sess.Clear()
	return true, nil
}
