// Package origin manages the local replication-origin progress cursor: the
// durable record of how far the incoming change stream from one upstream has
// been applied. The cursor is created under the slot name and advanced to the
// slot's start LSN so streaming apply resumes exactly past the copied data.
package origin

import (
	"context"

	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx is the slice of pgx.Tx used here; the caller owns begin/commit so that
// origin creation and advancement stay atomic with the rest of the attempt's
// bookkeeping.
type Tx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Ensure looks up the replication origin by name, creating it when absent.
// Idempotent by name.
func Ensure(ctx context.Context, tx Tx, name string) (uint64, error) {
	var id *uint64

	err := tx.QueryRow(ctx, "SELECT pg_replication_origin_oid($1)", name).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "replication origin lookup")
	}
	if id != nil {
		return *id, nil
	}

	var created uint64
	err = tx.QueryRow(ctx, "SELECT pg_replication_origin_create($1)", name).Scan(&created)
	if err != nil {
		return 0, errors.Wrap(err, "replication origin create")
	}

	return created, nil
}

// Advance sets the origin's progress cursor to lsn, recorded as already
// flushed so no change below lsn is ever replayed.
func Advance(ctx context.Context, tx Tx, name string, lsn pq.LSN) error {
	_, err := tx.Exec(ctx, "SELECT pg_replication_origin_advance($1, $2::pg_lsn)", name, lsn.String())
	if err != nil {
		return errors.Wrapf(err, "replication origin advance to %s", lsn.String())
	}

	return nil
}
