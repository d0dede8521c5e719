package main

import (
	"context"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/mnehpets/onerpc/jsonrpc"
	"github.com/mnehpets/onerpc/middleware"
)

type MathMethods struct{}

func (m *MathMethods) Add(ctx context.Context, a, b int) (int, error) {
	return a + b, nil
}

func (m *MathMethods) Sub(ctx context.Context, args struct {
	A int `json:"a"`
	B int `json:"b"`
}) (int, error) {
	return args.A - args.B, nil
}

func (m *MathMethods) Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, jsonrpc.NewInvalidParamsError("division by zero")
	}
	return a / b, nil
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	methods := jsonrpc.NewMethodSet(jsonrpc.WithMethodLogger(logger))
	methods.Register("math", &MathMethods{})

	// A second session with its own method set, selected by
	// POST /rpc/admin or the X-JSONRPC-Session header.
	admin := jsonrpc.NewMethodSet()
	admin.RegisterFunc("methods", methods.Names)

	registry := jsonrpc.NewRegistry()
	registry.Register(jsonrpc.DefaultSessionID, methods)
	registry.Register("admin", admin)

	p := jsonrpc.NewProcessor(registry, jsonrpc.WithLogger(logger))
	h := jsonrpc.NewEndpoint(p, jsonrpc.WithEndpointLogger(logger)).Handler(
		middleware.NewAPIHeadersProcessor(nil),
		middleware.BodyLimitProcessor(1<<20),
	)

	http.Handle("/rpc", h)
	http.Handle("/rpc/{session}", h)

	// curl -d '[{"jsonrpc":"2.0","method":"math.Add","params":[1,2],"id":1}]' localhost:8080/rpc
	logger.Info().Str("addr", ":8080").Msg("Starting server")
	if err := http.ListenAndServe(":8080", nil); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
