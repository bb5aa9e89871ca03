package handler

import (
	"github.com/deppfellow/apm-transactions/internal/route"
	"github.com/deppfellow/apm-transactions/internal/server"
	"github.com/deppfellow/apm-transactions/internal/service"
)

// Handlers groups all HTTP handlers so the router gets a single object.
type Handlers struct {
	Health            *HealthHandler
	TransactionGroups *TransactionGroupsHandler
}

// NewHandlers constructs the handler container.
func NewHandlers(s *server.Server, services *service.Services) *Handlers {
	return &Handlers{
		Health:            NewHealthHandler(s.Config.Primary.Env, s.DB, s.Search, s.LoggerService.GetApplication()),
		TransactionGroups: NewTransactionGroupsHandler(services.Transactions),
	}
}

// Routes returns every route descriptor served by the API.
func (h *Handlers) Routes() []route.Route {
	return h.TransactionGroups.Routes()
}
