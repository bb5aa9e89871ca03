// Package service contains the aggregation logic.
//
// It sits between the handler and repository layers. It receives decoded
// arguments and a request setup from the handler, runs the queries it
// needs through the repository and shapes the results returned to clients.
package service

import (
	"github.com/deppfellow/apm-transactions/internal/repository"
)

type Services struct {
	Transactions *TransactionService
}

func NewServices(repos *repository.Repositories) *Services {
	return &Services{
		Transactions: NewTransactionService(repos.Transactions),
	}
}
