package route

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/deppfellow/apm-transactions/internal/schema"
	"github.com/labstack/echo/v4"
)

// ConfigError reports a route that cannot be registered. It is a startup
// failure, never a request failure.
type ConfigError struct {
	Method string
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("route %s %s: %s", e.Method, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Mounter is satisfied by *echo.Echo and *echo.Group.
type Mounter interface {
	Add(method, path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) *echo.Route
}

// Registry holds the routes of the API, keyed by method and path.
//
// It is filled at startup and read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Route)}
}

var placeholder = regexp.MustCompile(`\{([^{}/]+)\}`)

// Register adds routes. It fails on the first route that duplicates a
// registered method and path, declares conflicting schema fields, or whose
// path template disagrees with its path schema.
func (r *Registry) Register(routes ...Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rt := range routes {
		if err := r.register(rt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) register(rt Route) error {
	method, path := rt.RouteMethod(), rt.RoutePath()
	fail := func(reason string, err error) error {
		return &ConfigError{Method: method, Path: path, Reason: reason, Err: err}
	}

	if !strings.HasPrefix(path, "/") {
		return fail("path must start with /", nil)
	}

	key := method + " " + path
	if _, exists := r.routes[key]; exists {
		return fail("already registered", nil)
	}

	if err := schema.Check(rt.PathSchema()); err != nil {
		return fail("invalid path schema", err)
	}
	if err := schema.Check(rt.QuerySchema()); err != nil {
		return fail("invalid query schema", err)
	}
	if err := checkTemplate(path, rt.PathSchema()); err != nil {
		return fail("path template does not match path schema", err)
	}

	r.routes[key] = rt
	return nil
}

// checkTemplate requires every placeholder to be a required path field and
// every path field to have a placeholder.
func checkTemplate(path string, s schema.Schema) error {
	declared := make(map[string]schema.Field)
	for _, f := range s.Fields() {
		declared[f.Name] = f
	}

	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(path, -1) {
		name := m[1]
		f, ok := declared[name]
		if !ok {
			return fmt.Errorf("placeholder {%s} is not declared", name)
		}
		if f.Optional {
			return fmt.Errorf("placeholder {%s} is declared optional", name)
		}
		seen[name] = true
	}

	for name := range declared {
		if !seen[name] {
			return fmt.Errorf("field %s has no placeholder", name)
		}
	}
	return nil
}

// Routes returns the registered routes ordered by path then method.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoutePath() != out[j].RoutePath() {
			return out[i].RoutePath() < out[j].RoutePath()
		}
		return out[i].RouteMethod() < out[j].RouteMethod()
	})
	return out
}

// Mount installs every route on m. obs may be nil.
func (r *Registry) Mount(m Mounter, setups SetupBuilder, obs Observer) {
	if obs == nil {
		obs = nopObserver{}
	}

	for _, rt := range r.Routes() {
		m.Add(rt.RouteMethod(), EchoPath(rt.RoutePath()), serve(rt, setups, obs))
	}
}

// EchoPath converts a {name} template into echo's :name syntax.
func EchoPath(path string) string {
	return placeholder.ReplaceAllString(path, ":$1")
}
