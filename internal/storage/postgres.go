package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is an interface that both pgxpool.Pool and pgx.Tx implement
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Pool owns the PostgreSQL connection pool
type Pool struct {
	pool *pgxpool.Pool
}

// OpenPool connects and pings the database
func OpenPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Close closes the database connection pool
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pool
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}

// PostgresStore keeps secure items in the secure_items table
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a store over db (a pool or a transaction)
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, service, key string) ([]byte, error) {
	if err := validateItemKey(service, key); err != nil {
		return nil, err
	}

	query := `
		SELECT value
		FROM secure_items
		WHERE service = $1 AND item_key = $2
	`

	var value []byte
	err := s.db.QueryRow(ctx, query, service, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get secure item: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, service, key string, value []byte) error {
	if err := validateItemKey(service, key); err != nil {
		return err
	}

	query := `
		INSERT INTO secure_items (service, item_key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (service, item_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := s.db.Exec(ctx, query, service, key, value); err != nil {
		return fmt.Errorf("failed to set secure item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, service, key string) error {
	if err := validateItemKey(service, key); err != nil {
		return err
	}

	query := `DELETE FROM secure_items WHERE service = $1 AND item_key = $2`
	if _, err := s.db.Exec(ctx, query, service, key); err != nil {
		return fmt.Errorf("failed to delete secure item: %w", err)
	}
	return nil
}

var _ SecureStore = (*PostgresStore)(nil)
