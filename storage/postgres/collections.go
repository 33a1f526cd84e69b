package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

const collectionQuery = `select c.id, c.address, c.owner_address, c.name, c.network_id,
	n.id, n.name, n.chain_id, n.rpc_url
	from collections c
	join networks n on n.id = c.network_id`

func scanCollection(row pgx.Row) (*types.Collection, error) {
	var c types.Collection
	err := row.Scan(
		&c.ID, &c.Address, &c.OwnerAddress, &c.Name, &c.NetworkID,
		&c.Network.ID, &c.Network.Name, &c.Network.ChainID, &c.Network.RPCURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &c, nil
}

func (p *PostgresBackend) GetCollectionByAddress(ctx context.Context, address string) (*types.Collection, error) {
	return scanCollection(p.pool.QueryRow(ctx, collectionQuery+` where lower(c.address) = lower($1)`, address))
}

func (p *PostgresBackend) GetCollectionByID(ctx context.Context, id string) (*types.Collection, error) {
	return scanCollection(p.pool.QueryRow(ctx, collectionQuery+` where c.id = $1`, id))
}
