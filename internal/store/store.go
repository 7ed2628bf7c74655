package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres error codes mapped to ErrConflict
const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqSerializationFailure = "40001"
)

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx
type dbtx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// queries implements Repository on top of a connection or a transaction
type queries struct {
	db dbtx
}

// Store is the Postgres-backed TxStore
type Store struct {
	*queries
	db *sqlx.DB
}

var _ TxStore = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an existing connection pool
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{queries: &queries{db: db}, db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a read-committed transaction
func (s *Store) WithTx(ctx context.Context, fn func(Repository) error) error {
	return s.withTx(ctx, nil, "write", fn)
}

// WithReadTx runs fn inside a read-only repeatable-read transaction
func (s *Store) WithReadTx(ctx context.Context, fn func(Repository) error) error {
	return s.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, "read", fn)
}

func (s *Store) withTx(ctx context.Context, opts *sql.TxOptions, operation string, fn func(Repository) error) error {
	start := time.Now()
	defer func() {
		util.TransactionLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// wrapErr maps driver errors onto the package sentinels
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqForeignKeyViolation, pqSerializationFailure:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	return err
}
