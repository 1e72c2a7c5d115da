package node

import (
	"context"
	"fmt"

	"github.com/Trendyol/go-pq-replica/internal/retry"
	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the pool surface the store needs; *pgxpool.Pool satisfies it, and so
// do pgxmock pools in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the catalog over the local node database's <schema>.node table.
type Store struct {
	db     DB
	schema string
}

func NewStore(db DB, schema string) *Store {
	return &Store{db: db, schema: schema}
}

// Connect opens the catalog pool. This is the local node's own database, not
// a replication peer, so connecting is retried a few times before giving up.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	retryConfig := retry.OnErrorConfig[*pgxpool.Pool](5, func(err error) bool { return err != nil })
	pool, err := retryConfig.Do(func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "node catalog connection")
	}

	return pool, nil
}

func (s *Store) GetNode(ctx context.Context, id int) (*Node, error) {
	sql := fmt.Sprintf(
		"SELECT node_id, node_name, node_dsn, node_role, node_status FROM %s.node WHERE node_id = $1",
		pq.QuoteIdentifier(s.schema))

	var (
		n          Node
		role, stat string
	)
	err := s.db.QueryRow(ctx, sql, id).Scan(&n.ID, &n.Name, &n.DSN, &role, &stat)
	if err != nil {
		return nil, errors.Wrapf(err, "get node %d", id)
	}

	if n.Role, err = ParseRole(role); err != nil {
		return nil, errors.Wrapf(err, "node %d", id)
	}
	if n.Status, err = ParseStatus(stat); err != nil {
		return nil, errors.Wrapf(err, "node %d", id)
	}

	return &n, nil
}

func (s *Store) SetNodeStatus(ctx context.Context, id int, status Status) error {
	sql := fmt.Sprintf("UPDATE %s.node SET node_status = $1 WHERE node_id = $2", pq.QuoteIdentifier(s.schema))

	tag, err := s.db.Exec(ctx, sql, status.String(), id)
	if err != nil {
		return errors.Wrapf(err, "set node %d status to %s", id, status)
	}
	if tag.RowsAffected() != 1 {
		return errors.Newf("node %d not found in catalog", id)
	}

	return nil
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin catalog transaction")
	}
	return tx, nil
}
