package pq

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5/pgconn"
	libpq "github.com/lib/pq"
)

// Session is a single connection to a Postgres-protocol server. Peer
// connections are never retried here: a failed connect or statement is
// surfaced to the caller, which aborts the whole sync attempt.
type Session interface {
	Exec(ctx context.Context, sql string) ([]*pgconn.Result, error)
	CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error)
	CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error)
	Close(ctx context.Context) error
}

type session struct {
	conn *pgconn.PgConn
	dsn  string
}

// Connect opens a session to dsn with fallback_application_name set to
// applicationName. When replication is true the connection is opened in
// logical replication mode (replication=database), which is required for
// CREATE_REPLICATION_SLOT.
func Connect(ctx context.Context, dsn, applicationName string, replication bool) (Session, error) {
	full, err := AugmentDSN(dsn, applicationName, replication)
	if err != nil {
		return nil, errors.Wrap(err, "postgres dsn")
	}

	conn, err := pgconn.Connect(ctx, full)
	if err != nil {
		return nil, errors.Wrap(err, "postgres connection")
	}

	return &session{conn: conn, dsn: full}, nil
}

func (s *session) Exec(ctx context.Context, sql string) ([]*pgconn.Result, error) {
	resultReader := s.conn.Exec(ctx, sql)
	results, err := resultReader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "query %q", sql)
	}

	if err = resultReader.Close(); err != nil {
		return nil, errors.Wrapf(err, "query %q result reader close", sql)
	}

	return results, nil
}

func (s *session) CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error) {
	tag, err := s.conn.CopyTo(ctx, w, sql)
	if err != nil {
		return 0, errors.Wrapf(err, "copy out %q", sql)
	}
	return tag.RowsAffected(), nil
}

func (s *session) CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error) {
	tag, err := s.conn.CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, errors.Wrapf(err, "copy in %q", sql)
	}
	return tag.RowsAffected(), nil
}

func (s *session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// AugmentDSN appends the application name and, when replication is true, the
// replication protocol flag to a connection string. Both URL and keyword/value
// DSN forms are handled.
func AugmentDSN(dsn, applicationName string, replication bool) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", errors.Wrap(err, "url dsn parse")
		}
		q := u.Query()
		q.Set("fallback_application_name", applicationName)
		if replication {
			q.Set("replication", "database")
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	var b strings.Builder
	b.WriteString(dsn)
	b.WriteString(" fallback_application_name='")
	b.WriteString(strings.ReplaceAll(applicationName, "'", `\'`))
	b.WriteString("'")
	if replication {
		b.WriteString(" replication=database")
	}
	return b.String(), nil
}

// QuoteIdentifier escapes a SQL identifier for safe embedding in statement text.
func QuoteIdentifier(name string) string {
	return libpq.QuoteIdentifier(name)
}

// QuoteLiteral escapes a SQL string literal for safe embedding in statement text.
func QuoteLiteral(literal string) string {
	return libpq.QuoteLiteral(literal)
}
