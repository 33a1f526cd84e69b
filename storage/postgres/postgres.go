package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var _ storage.DatabaseStorage = (*PostgresBackend)(nil)

type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

func NewPostgresBackend(dsn string, logger logrus.FieldLogger) (*PostgresBackend, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	backend := &PostgresBackend{
		pool:   pool,
		logger: logger.WithField("storage", "postgres"),
	}
	if err := backend.Migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	return backend, nil
}

func (p *PostgresBackend) Migrate() error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer func() {
		if err := db.Close(); err != nil {
			p.logger.WithError(err).Error("failed to close migration connection")
		}
	}()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose.SetDialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose.Up: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresBackend) Pool() *pgxpool.Pool {
	return p.pool
}
