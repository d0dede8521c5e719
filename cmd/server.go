package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mnehpets/onerpc/auth"
	"github.com/mnehpets/onerpc/config"
	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/jsonrpc"
	"github.com/mnehpets/onerpc/metrics"
	"github.com/mnehpets/onerpc/middleware"
)

// newProcessor builds the processor with the built-in methods bound to the
// configured default session.
func newProcessor(cfg *config.Config, logger zerolog.Logger, opts ...jsonrpc.Option) *jsonrpc.Processor {
	methods := jsonrpc.NewMethodSet(jsonrpc.WithMethodLogger(logger))
	registerBuiltins(methods)

	registry := jsonrpc.NewRegistry()
	registry.Register(cfg.DefaultSession, methods)

	opts = append([]jsonrpc.Option{
		jsonrpc.WithDefaultSession(cfg.DefaultSession),
		jsonrpc.WithLogger(logger),
	}, opts...)
	return jsonrpc.NewProcessor(registry, opts...)
}

// newHandler assembles the HTTP routes: the RPC endpoint (also reachable as
// RPC_PATH/{session}), /healthz and, when enabled, the metrics endpoint.
func newHandler(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg *prometheus.Registry) (http.Handler, error) {
	var (
		processors []endpoint.Processor
		rpcOpts    []jsonrpc.Option
		m          *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		m = metrics.New(reg)
		processors = append(processors, m.Processor())
		rpcOpts = append(rpcOpts, jsonrpc.WithObserver(m))
	}

	var cors *middleware.CORSConfig
	if len(cfg.CORSOrigins) > 0 {
		cors = &middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins, MaxAge: 600}
	}
	processors = append(processors,
		middleware.NewAPIHeadersProcessor(cors),
		middleware.BodyLimitProcessor(cfg.MaxBodyBytes),
	)

	if cfg.Session.Enabled() {
		key, err := cfg.Session.DecodedKey()
		if err != nil {
			return nil, err
		}
		var cookieOpts []middleware.CookieOption
		if !cfg.Session.Secure {
			cookieOpts = append(cookieOpts, middleware.WithInsecureCookie())
		}
		cookie, err := middleware.NewSecureCookie(middleware.DefaultCookieName, cfg.Session.KeyID,
			map[string][]byte{cfg.Session.KeyID: key}, cookieOpts...)
		if err != nil {
			return nil, fmt.Errorf("session cookie: %w", err)
		}
		processors = append(processors, middleware.NewSessionProcessor(cookie, middleware.WithSessionLogger(logger)))
	}

	if cfg.Auth.Enabled() {
		verifier, err := auth.NewVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.JWKSURL)
		if err != nil {
			return nil, err
		}
		opts := []auth.BearerOption{auth.WithLogger(logger)}
		if cfg.Auth.Optional {
			opts = append(opts, auth.WithOptional())
		}
		processors = append(processors, auth.NewBearerProcessor(verifier, opts...))
	}

	p := newProcessor(cfg, logger, rpcOpts...)
	rpc := jsonrpc.NewEndpoint(p, jsonrpc.WithEndpointLogger(logger)).Handler(processors...)

	mux := http.NewServeMux()
	mux.Handle(cfg.RPCPath, rpc)
	mux.Handle(cfg.RPCPath+"/{session}", rpc)
	mux.Handle("GET /healthz", endpoint.HandleFunc(func(http.ResponseWriter, *http.Request, struct{}) (endpoint.Renderer, error) {
		return &endpoint.StringRenderer{Body: "ok\n"}, nil
	}))
	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}
	return mux, nil
}

type server struct {
	cfg    *config.Config
	logger zerolog.Logger
	http   *http.Server
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	h, err := newHandler(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}
	return &server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// run serves on ln until ctx is done, then shuts down gracefully.
func (s *server) run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Str("rpc_path", s.cfg.RPCPath).Msg("onerpc: listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("onerpc: shutting down")
	shutdownCtx := context.Background()
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
