package jsonrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("a")
	assert.False(t, ok)

	first := DispatcherFunc(func(context.Context, *Request) *Response { return &Response{Result: 1} })
	second := DispatcherFunc(func(context.Context, *Request) *Response { return &Response{Result: 2} })
	r.Register("a", first)
	r.Register("a", second)

	d, ok := r.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, 2, d.Handle(context.Background(), &Request{}).Result)
	assert.Equal(t, []string{"a"}, r.Sessions())

	assert.Panics(t, func() { r.Register("b", nil) })
}
