package copydata

import (
	"context"
	"fmt"
	"strings"

	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/go-playground/errors/v5"
)

// TableRef is a qualified table identifier produced by the selection query.
type TableRef struct {
	Schema string
	Name   string
}

// Qualified returns the escaped schema-qualified name for statement text.
func (t TableRef) Qualified() string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

// replicatedTables resolves the replication-set names to member tables via
// the catalog view <schema>.tables. Order is whatever the catalog returns;
// each table copy is independent of the others.
func replicatedTables(ctx context.Context, sess pq.Session, schema string, sets []string) ([]TableRef, error) {
	sql := fmt.Sprintf("SELECT nspname, relname FROM %s.tables WHERE set_name = ANY(%s)",
		pq.QuoteIdentifier(schema), pq.QuoteLiteral(setArrayLiteral(sets)))

	results, err := sess.Exec(ctx, sql)
	if err != nil {
		return nil, errors.Wrap(err, "replicated table list")
	}

	if len(results) != 1 {
		return nil, errors.Newf("replicated table list: expected 1 result set, got %d", len(results))
	}

	tables := make([]TableRef, 0, len(results[0].Rows))
	for _, row := range results[0].Rows {
		if len(row) < 2 {
			return nil, errors.New("replicated table row must carry schema and name")
		}
		tables = append(tables, TableRef{Schema: string(row[0]), Name: string(row[1])})
	}

	return tables, nil
}

func setArrayLiteral(sets []string) string {
	quoted := make([]string, len(sets))
	for i, s := range sets {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
