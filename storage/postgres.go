package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// pingOperation is the liveness operation issued by the health probe.
// It maps to a pool ping rather than a statement.
const pingOperation = "ping"

// PostgresHandle executes opaque operations against one region's
// Postgres endpoint. Operation names resolve through a statement table
// provided at construction; parameters bind by name. One handle per
// region; only the primary region's handle should be used for writes.
type PostgresHandle struct {
	pool       *pgxpool.Pool
	statements map[string]string
}

// NewPostgresHandle connects to dsn and returns a handle resolving
// operation names through statements.
func NewPostgresHandle(ctx context.Context, dsn string, statements map[string]string) (*PostgresHandle, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresHandle{
		pool:       pool,
		statements: statements,
	}, nil
}

// ExecuteRead runs a read operation and returns its rows as a slice of
// column-name maps, the JSON-serializable shape the cache stores.
func (ph *PostgresHandle) ExecuteRead(ctx context.Context, op types.Operation) (any, error) {
	if op.Name == pingOperation {
		return nil, ph.pool.Ping(ctx)
	}

	sql, err := ph.resolve(op.Name)
	if err != nil {
		return nil, err
	}

	rows, err := ph.pool.Query(ctx, sql, pgx.NamedArgs(op.Params))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", op.Name, err)
	}
	defer rows.Close()

	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", op.Name, err)
	}
	return result, nil
}

// ExecuteWrite runs a write operation.
func (ph *PostgresHandle) ExecuteWrite(ctx context.Context, op types.Operation) (types.WriteResult, error) {
	sql, err := ph.resolve(op.Name)
	if err != nil {
		return types.WriteResult{}, err
	}

	tag, err := ph.pool.Exec(ctx, sql, pgx.NamedArgs(op.Params))
	if err != nil {
		return types.WriteResult{}, fmt.Errorf("write %s: %w", op.Name, err)
	}
	return types.WriteResult{RowsAffected: tag.RowsAffected()}, nil
}

// Close releases the connection pool.
func (ph *PostgresHandle) Close() {
	ph.pool.Close()
}

func (ph *PostgresHandle) resolve(name string) (string, error) {
	sql, ok := ph.statements[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return sql, nil
}

// ErrUnknownOperation is returned when an operation name has no
// statement mapping.
var ErrUnknownOperation = errors.New("unknown operation")
