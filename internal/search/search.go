// Package search defines the contract between request handling and the
// time-series search backend.
//
// Handlers never see connection details. They receive a Client that is
// already scoped to the caller, acquired from a Factory once per request.
package search

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means no client could be acquired for the request.
	ErrUnavailable = errors.New("search backend unavailable")

	// ErrUnauthorized means no client may be handed to the caller's identity.
	ErrUnauthorized = errors.New("search backend refused caller identity")
)

// Identity is the caller on whose behalf backend queries run.
//
// It is extracted from the request by the identity middleware
// and is opaque to everything except the Factory.
type Identity struct {
	// User is the authenticated user name forwarded by the proxy, or ""
	// for an anonymous caller.
	User string
}

// Anonymous reports whether the caller carries no user.
func (i Identity) Anonymous() bool {
	return i.User == ""
}

// Principal is the name backend queries are attributed to.
func (i Identity) Principal() string {
	if !i.Anonymous() {
		return i.User
	}
	return "anonymous"
}

// Client runs read-only queries against the backend.
//
// Select scans every row of the result into dest, which must be a pointer
// to a slice of structs.
type Client interface {
	Select(ctx context.Context, dest any, query string, args ...any) error
}

// Factory hands out clients scoped to an identity.
type Factory interface {
	ClientFor(ctx context.Context, identity Identity) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, identity Identity) (Client, error)

func (f FactoryFunc) ClientFor(ctx context.Context, identity Identity) (Client, error) {
	return f(ctx, identity)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity stored in ctx, or the zero Identity.
func IdentityFrom(ctx context.Context) Identity {
	identity, _ := ctx.Value(identityKey{}).(Identity)
	return identity
}

type operationKey struct{}

// WithOperation names the aggregation a query belongs to, for metrics and logs.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

// OperationFrom returns the operation stored in ctx, or "query".
func OperationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return "query"
}
