package infrastructure

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"paymesh/internal/domain"
)

// PostgresGatewayStore persists gateway descriptors as JSONB documents.
type PostgresGatewayStore struct {
	pool *pgxpool.Pool
}

func NewPostgresGatewayStore(pool *pgxpool.Pool) *PostgresGatewayStore {
	return &PostgresGatewayStore{pool: pool}
}

func (s *PostgresGatewayStore) SaveGateway(ctx context.Context, g domain.Gateway) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode gateway %s: %w", g.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		insert into gateways (id, descriptor, updated_at)
		values ($1, $2, now())
		on conflict (id) do update set descriptor = excluded.descriptor, updated_at = now()`,
		g.ID, doc,
	)
	return err
}

func (s *PostgresGatewayStore) LoadGateways(ctx context.Context) ([]domain.Gateway, error) {
	rows, err := s.pool.Query(ctx, `select descriptor from gateways order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gateways []domain.Gateway
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var g domain.Gateway
		if err := json.Unmarshal(doc, &g); err != nil {
			return nil, fmt.Errorf("decode gateway: %w", err)
		}
		gateways = append(gateways, g)
	}
	return gateways, rows.Err()
}
