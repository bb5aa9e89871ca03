// Package handler is the HTTP layer of the API.
//
// Transaction-group endpoints are declared as route descriptors: the route
// package decodes their parameters and builds the request setup, and the
// handlers here only forward to the service layer. System endpoints such as
// the health check are plain echo handlers.
package handler
