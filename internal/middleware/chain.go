package middleware

import (
	"net/http"
)

// Middleware wraps an http.Handler and returns a new http.Handler
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware applied outermost first.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Then wraps h so the first middleware in the chain runs first.
func (c *Chain) Then(h http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// ThenFunc is Then for a plain handler function.
func (c *Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

// Append returns a new chain with middlewares added after the existing ones.
// The receiver is not modified.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	merged := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	merged = append(merged, c.middlewares...)
	merged = append(merged, middlewares...)
	return &Chain{middlewares: merged}
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.middlewares)
}
