package router

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/handler"
	"github.com/deppfellow/apm-transactions/internal/repository"
	"github.com/deppfellow/apm-transactions/internal/server"
	"github.com/deppfellow/apm-transactions/internal/service"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRouter builds the router without a backend. Requests that reach
// the search factory would panic, so tests only exercise paths that fail
// before setup.
func newTestRouter(t *testing.T) *echo.Echo {
	t.Helper()

	cfg := config.DefaultConfig()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	s := &server.Server{Config: &cfg, Logger: &logger}

	services := service.NewServices(repository.NewRepositories(&cfg))
	r, err := NewRouter(s, handler.NewHandlers(s, services))
	require.NoError(t, err)
	return r
}

func get(r *echo.Echo, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestRouter(t), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	rec := get(newTestRouter(t), "/api/apm/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestParameterErrorsAreWrittenByGlobalHandler(t *testing.T) {
	rec := get(newTestRouter(t), "/api/apm/services/opbeans-node/transaction_groups/distribution?transactionType=request")

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errs.HTTPError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errs.CodeParameterDecode, body.Code)

	var fields []string
	for _, f := range body.Errors {
		fields = append(fields, f.Field)
	}
	assert.Subset(t, fields, []string{"transactionName", "start", "end"})
}

func TestRoutesAreMounted(t *testing.T) {
	var paths []string
	for _, r := range newTestRouter(t).Routes() {
		paths = append(paths, r.Method+" "+r.Path)
	}

	assert.Contains(t, paths, "GET /api/apm/services/:serviceName/transaction_groups")
	assert.Contains(t, paths, "GET /api/apm/services/:serviceName/transaction_groups/avg_duration_by_country")
	assert.Contains(t, paths, "GET /status")
}
