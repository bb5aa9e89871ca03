package middleware

import (
	"strings"

	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/labstack/echo/v4"
)

// ForwardedUserHeader names the authenticated user set by the proxy in
// front of the API.
const ForwardedUserHeader = "X-Forwarded-User"

// IdentityMiddleware attaches the caller's identity to the request context.
//
// The API does not authenticate callers itself; the proxy in front of it
// does. Queries are attributed to the forwarded user (ClickHouse quota key
// and log_comment), and the search factory may refuse anonymous callers.
type IdentityMiddleware struct{}

func NewIdentityMiddleware() *IdentityMiddleware {
	return &IdentityMiddleware{}
}

// Identify reads the user from X-Forwarded-User, falling back to the basic
// auth user name.
func (m *IdentityMiddleware) Identify() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			identity := search.Identity{
				User: strings.TrimSpace(req.Header.Get(ForwardedUserHeader)),
			}
			if identity.Anonymous() {
				if user, _, ok := req.BasicAuth(); ok {
					identity.User = user
				}
			}

			if identity.User != "" {
				c.Set(UserIDKey, identity.User)
			}
			c.SetRequest(req.WithContext(search.WithIdentity(req.Context(), identity)))

			return next(c)
		}
	}
}
