// Package middleware stores global middleware.
//
// These intercept requests to handle cross-cutting concerns such as
// caller identity, request logging, tracing, metrics, CORS, rate limiting
// and panic recovery.
package middleware
