// Package copydata streams replicated table contents from the origin node to
// the target node under one shared snapshot, so the copied rows line up
// exactly with the LSN at which streaming replication will resume.
package copydata

import (
	"context"
	"fmt"
	"io"

	"github.com/Trendyol/go-pq-replica/internal/metric"
	"github.com/Trendyol/go-pq-replica/logger"
	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/go-playground/errors/v5"
)

// The session settings pin the text output format and disable timeouts, so a
// large table cannot be killed mid-copy by a server-side timeout.
const originTxTemplate = `BEGIN TRANSACTION ISOLATION LEVEL REPEATABLE READ, READ ONLY;
SET TRANSACTION SNAPSHOT %s;
SET DATESTYLE = ISO;
SET INTERVALSTYLE = POSTGRES;
SET extra_float_digits TO 3;
SET statement_timeout = 0;
SET lock_timeout = 0;`

const targetTxSetup = `BEGIN TRANSACTION ISOLATION LEVEL READ COMMITTED;
SET DATESTYLE = ISO;
SET INTERVALSTYLE = POSTGRES;
SET extra_float_digits TO 3;
SET statement_timeout = 0;
SET lock_timeout = 0;`

// Params carries everything one copy run needs. The origin transaction is
// bound to SnapshotID; the target transaction is plain read committed since
// nothing reads the target yet.
type Params struct {
	OriginDSN       string
	TargetDSN       string
	ApplicationName string
	ReplicationSets []string
	CatalogSchema   string
	SnapshotID      string
	Metric          metric.Metric
}

// CopyError reports a row-stream failure and names the failing table.
type CopyError struct {
	Table string
	Err   error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy of table %s failed: %s", e.Table, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// dial is swapped out by tests.
var dial = pq.Connect

// CopyNodeData copies every table belonging to the replication sets from
// origin to target. Both transactions are finished on every exit path; a
// failed rollback of the read-only origin transaction only warns, a failed
// commit on the target is fatal since the copied data would not be durable.
func CopyNodeData(ctx context.Context, p Params) error {
	origin, err := dial(ctx, p.OriginDSN, p.ApplicationName, false)
	if err != nil {
		return errors.Wrap(err, "connect to origin node")
	}

	if err = beginOriginTx(ctx, origin, p.SnapshotID); err != nil {
		finishOrigin(ctx, origin)
		return err
	}

	tables, err := replicatedTables(ctx, origin, p.CatalogSchema, p.ReplicationSets)
	if err != nil {
		finishOrigin(ctx, origin)
		return err
	}
	logger.Info("copying replicated tables", "count", len(tables), "snapshot", p.SnapshotID)

	target, err := dial(ctx, p.TargetDSN, p.ApplicationName, false)
	if err != nil {
		finishOrigin(ctx, origin)
		return errors.Wrap(err, "connect to target node")
	}

	if err = beginTargetTx(ctx, target); err != nil {
		finishOrigin(ctx, origin)
		abortTarget(ctx, target)
		return err
	}

	for _, table := range tables {
		if err = copyTable(ctx, origin, target, table, p.Metric); err != nil {
			finishOrigin(ctx, origin)
			abortTarget(ctx, target)
			return err
		}
		if err = ctx.Err(); err != nil {
			finishOrigin(ctx, origin)
			abortTarget(ctx, target)
			return errors.Wrap(err, "table copy interrupted")
		}
	}

	finishOrigin(ctx, origin)

	if _, err = target.Exec(ctx, "COMMIT"); err != nil {
		_ = target.Close(ctx)
		return errors.Wrap(err, "commit on target node")
	}

	return target.Close(ctx)
}

func beginOriginTx(ctx context.Context, sess pq.Session, snapshotID string) error {
	sql := fmt.Sprintf(originTxTemplate, pq.QuoteLiteral(snapshotID))
	if _, err := sess.Exec(ctx, sql); err != nil {
		return errors.Wrap(err, "begin on origin node")
	}
	return nil
}

func beginTargetTx(ctx context.Context, sess pq.Session) error {
	if _, err := sess.Exec(ctx, targetTxSetup); err != nil {
		return errors.Wrap(err, "begin on target node")
	}
	return nil
}

// copyTable joins a COPY TO producer and a COPY FROM consumer through a pipe.
// The exporter runs in its own goroutine and is always joined before return;
// cancellation is observed on every chunk boundary.
func copyTable(ctx context.Context, origin, target pq.Session, table TableRef, m metric.Metric) error {
	qualified := table.Qualified()

	pr, pw := io.Pipe()
	exportDone := make(chan error, 1)
	go func() {
		// the error is published before the pipe closes, so the consumer can
		// tell an export failure apart from its own
		_, err := origin.CopyTo(ctx, pw, "COPY "+qualified+" TO STDOUT")
		exportDone <- err
		pw.CloseWithError(err)
	}()

	cr := &chunkReader{ctx: ctx, r: pr}
	_, importErr := target.CopyFrom(ctx, cr, "COPY "+qualified+" FROM STDIN")

	var failure error
	if importErr != nil {
		select {
		case exportErr := <-exportDone:
			if exportErr != nil {
				// exporter failed first; the import error is just its echo
				failure = errors.Wrap(exportErr, "reading from origin table")
			} else {
				failure = errors.Wrap(importErr, "writing to target table")
			}
		default:
			// target side rejected the stream; unblock and join the exporter,
			// whose failure was induced by closing the pipe under it
			pr.CloseWithError(importErr)
			<-exportDone
			failure = errors.Wrap(importErr, "writing to target table")
		}
	} else if exportErr := <-exportDone; exportErr != nil {
		failure = errors.Wrap(exportErr, "reading from origin table")
	}

	if m != nil {
		m.AddCopiedBytes(cr.copied)
	}

	if failure != nil {
		return &CopyError{Table: qualified, Err: failure}
	}

	if m != nil {
		m.TableCopied()
	}
	logger.Debug("table copied", "table", qualified)

	return nil
}

func finishOrigin(ctx context.Context, sess pq.Session) {
	// the origin transaction was read only, losing the rollback loses nothing
	if _, err := sess.Exec(ctx, "ROLLBACK"); err != nil {
		logger.Warn("rollback on origin node failed", "error", err)
	}
	if err := sess.Close(ctx); err != nil {
		logger.Warn("close origin session failed", "error", err)
	}
}

func abortTarget(ctx context.Context, sess pq.Session) {
	_, _ = sess.Exec(ctx, "ROLLBACK")
	_ = sess.Close(ctx)
}

// chunkReader counts bytes and checks for cancellation every refill, so an
// operator abort interrupts even a very large table promptly.
type chunkReader struct {
	ctx    context.Context
	r      io.Reader
	copied int64
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	c.copied += int64(n)
	return n, err
}
