// Package agent describes the delivery-agent directory.
package agent

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an agent id is unknown or inactive.
var ErrNotFound = errors.New("delivery agent not found")

// Agent is a delivery agent that can be assigned to orders.
type Agent struct {
	ID    string
	Name  string
	Phone string
}

// Repository lists assignable agents.
type Repository interface {
	List(ctx context.Context) ([]Agent, error)
	GetByID(ctx context.Context, id string) (*Agent, error)
}
