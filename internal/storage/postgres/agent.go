package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/feast/internal/domain/agent"
)

const (
	listAgentsSQL = `SELECT id, name, phone FROM delivery_agents WHERE active = TRUE ORDER BY name, id`
	getAgentSQL   = `SELECT id, name, phone FROM delivery_agents WHERE id = $1 AND active = TRUE`
)

var _ agent.Repository = (*AgentRepository)(nil)

// AgentRepository implements agent.Repository backed by PostgreSQL.
type AgentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository returns an AgentRepository that uses the given pool.
func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

// List returns active agents ordered by name.
func (r *AgentRepository) List(ctx context.Context) ([]agent.Agent, error) {
	rows, err := r.pool.Query(ctx, listAgentsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	agents, err := pgx.CollectRows(rows, pgx.RowToStructByPos[agent.Agent])
	if err != nil {
		return nil, fmt.Errorf("scanning agents: %w", err)
	}
	return agents, nil
}

// GetByID returns an active agent.
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*agent.Agent, error) {
	var a agent.Agent
	if err := r.pool.QueryRow(ctx, getAgentSQL, id).Scan(&a.ID, &a.Name, &a.Phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agent.ErrNotFound
		}
		return nil, fmt.Errorf("getting agent %q: %w", id, err)
	}
	return &a, nil
}
