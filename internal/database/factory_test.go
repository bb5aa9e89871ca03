package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Select(ctx context.Context, dest any, query string, args ...any) error {
	return m.Called(ctx, dest, query).Error(0)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Search.Breaker.MinRequests = 2
	cfg.Search.Breaker.FailureRatio = 0.5
	cfg.Search.Breaker.Timeout = time.Hour
	return &cfg
}

func newTestFactory(conn Selecter) *Factory {
	logger := zerolog.Nop()
	return NewFactory(conn, testConfig(), &logger)
}

func TestClientSelectsThroughConnection(t *testing.T) {
	conn := &mockConn{}
	var dest []struct{ N uint64 }
	conn.On("Select", mock.Anything, &dest, "SELECT 1").Return(nil).Once()

	f := newTestFactory(conn)
	client, err := f.ClientFor(context.Background(), search.Identity{User: "elastic"})
	require.NoError(t, err)

	require.NoError(t, client.Select(search.WithOperation(context.Background(), "charts"), &dest, "SELECT 1"))
	conn.AssertExpectations(t)
}

func TestBreakerOpensAndFactoryFailsFast(t *testing.T) {
	conn := &mockConn{}
	conn.On("Select", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	f := newTestFactory(conn)
	client, err := f.ClientFor(context.Background(), search.Identity{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.Error(t, client.Select(context.Background(), nil, "SELECT 1"))
	}
	assert.Equal(t, gobreaker.StateOpen, f.State())

	err = client.Select(context.Background(), nil, "SELECT 1")
	assert.ErrorIs(t, err, search.ErrUnavailable)

	_, err = f.ClientFor(context.Background(), search.Identity{})
	assert.ErrorIs(t, err, search.ErrUnavailable)
	conn.AssertNumberOfCalls(t, "Select", 2)
}

func TestCancellationDoesNotTripBreaker(t *testing.T) {
	conn := &mockConn{}
	conn.On("Select", mock.Anything, mock.Anything, mock.Anything).Return(context.Canceled)

	f := newTestFactory(conn)
	client, err := f.ClientFor(context.Background(), search.Identity{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, client.Select(context.Background(), nil, "SELECT 1"), context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, f.State())
}

func TestClientForRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFactory(&mockConn{}).ClientFor(ctx, search.Identity{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientForAnonymousCallers(t *testing.T) {
	logger := zerolog.Nop()

	cfg := testConfig()
	_, err := NewFactory(&mockConn{}, cfg, &logger).ClientFor(context.Background(), search.Identity{})
	assert.NoError(t, err)

	cfg.Search.AllowAnonymous = false
	f := NewFactory(&mockConn{}, cfg, &logger)

	_, err = f.ClientFor(context.Background(), search.Identity{})
	assert.ErrorIs(t, err, search.ErrUnauthorized)

	_, err = f.ClientFor(context.Background(), search.Identity{User: "elastic"})
	assert.NoError(t, err)
}
