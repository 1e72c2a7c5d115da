// Package node models the cluster's node catalog as consumed by the initial
// sync: immutable node snapshots read at phase start, with status the only
// field ever written back, and only through the catalog itself.
package node

import (
	"context"
	"fmt"

	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"
)

type Role string

const (
	RoleOrigin     Role = "origin"
	RoleSubscriber Role = "subscriber"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOrigin, RoleSubscriber:
		return Role(s), nil
	default:
		return "", errors.Newf("unknown node role %q", s)
	}
}

// Node is a value snapshot of one catalog record. Mutating a field here has
// no effect on the catalog.
type Node struct {
	ID     int
	Name   string
	DSN    string
	Role   Role
	Status Status
}

// Catalog is the node catalog as seen by the bootstrap. Begin exposes the
// local database transaction boundary the slot/origin bookkeeping runs in.
type Catalog interface {
	GetNode(ctx context.Context, id int) (*Node, error)
	SetNodeStatus(ctx context.Context, id int, status Status) error
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PushRemoteStatus writes a node's status into the origin's own catalog over
// a live session, so the origin's view of the subscriber reaches ready too.
func PushRemoteStatus(ctx context.Context, sess pq.Session, schema, nodeName string, status Status) error {
	sql := fmt.Sprintf("UPDATE %s.node SET node_status = %s WHERE node_name = %s",
		pq.QuoteIdentifier(schema), pq.QuoteLiteral(status.String()), pq.QuoteLiteral(nodeName))

	results, err := sess.Exec(ctx, sql)
	if err != nil {
		return errors.Wrap(err, "push remote node status")
	}

	if len(results) != 1 || results[0].CommandTag.RowsAffected() != 1 {
		return errors.Newf("node %q not known on remote node", nodeName)
	}

	return nil
}
