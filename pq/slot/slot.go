package slot

import (
	"context"
	"fmt"
	"strings"

	"github.com/Trendyol/go-pq-replica/logger"
	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DefaultPlugin is the logical decoding plugin named in slot creation.
const DefaultPlugin = "pglogical_output"

// Postgres truncates names longer than NAMEDATALEN-1.
const maxSlotNameLen = 63

var typeMap = pgtype.NewMap()

// Snapshot is the transactionally consistent cut point established by slot
// creation: every connection importing SnapshotID reads the database exactly
// as of StartLSN. It is valid for one sync attempt only and cannot be
// re-exported after the creating command finishes.
type Snapshot struct {
	SnapshotID string
	StartLSN   pq.LSN
}

// Create issues CREATE_REPLICATION_SLOT on a replication-mode session and
// decodes the reply row into a Snapshot.
//
// A slot with the same name left behind by an earlier failed attempt makes
// the command fail; that failure is surfaced as-is with remediation advice
// rather than reusing the slot, because an existing slot's exported snapshot
// is gone and reusing it could never observe a consistent cut.
func Create(ctx context.Context, sess pq.Session, slotName, plugin string) (*Snapshot, error) {
	sql := fmt.Sprintf("CREATE_REPLICATION_SLOT %s LOGICAL %s", pq.QuoteIdentifier(slotName), plugin)

	results, err := sess.Exec(ctx, sql)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, errors.Wrapf(err,
				"replication slot %q already exists, drop it on the origin before retrying setup", slotName)
		}
		return nil, errors.Wrap(err, "replication slot create")
	}

	snap, err := decodeCreateResult(results)
	if err != nil {
		return nil, errors.Wrap(err, "replication slot create reply")
	}

	logger.Info("replication slot created", "name", slotName, "startLSN", snap.StartLSN.String(), "snapshot", snap.SnapshotID)

	return snap, nil
}

// Name computes the deterministic slot name for a subscriber attaching to an
// origin: one slot per (database, origin, target) triple.
func Name(database, originName, targetName string) string {
	name := fmt.Sprintf("pgr_%s_%s_%s", database, originName, targetName)
	if len(name) > maxSlotNameLen {
		name = name[:maxSlotNameLen]
	}
	return name
}

func decodeCreateResult(results []*pgconn.Result) (*Snapshot, error) {
	if len(results) != 1 {
		return nil, errors.Newf("expected 1 result set, got %d", len(results))
	}

	result := results[0]
	if len(result.Rows) != 1 {
		return nil, errors.Newf("expected 1 result row, got %d", len(result.Rows))
	}

	var snap Snapshot
	row := result.Rows[0]
	for i, fd := range result.FieldDescriptions {
		if i >= len(row) || row[i] == nil {
			continue
		}

		v, err := decodeTextColumnData(row[i], fd.DataTypeOID)
		if err != nil {
			return nil, err
		}

		switch fd.Name {
		case "consistent_point":
			snap.StartLSN, err = pq.ParseLSN(v.(string))
			if err != nil {
				return nil, errors.Wrap(err, "consistent_point")
			}
		case "snapshot_name":
			snap.SnapshotID = v.(string)
		}
	}

	if snap.SnapshotID == "" {
		return nil, errors.New("reply row carries no snapshot_name")
	}
	if snap.StartLSN == 0 {
		return nil, errors.New("reply row carries no consistent_point")
	}

	return &snap, nil
}

func decodeTextColumnData(data []byte, dataType uint32) (interface{}, error) {
	if dt, ok := typeMap.TypeForOID(dataType); ok {
		return dt.Codec.DecodeValue(typeMap, dataType, pgtype.TextFormatCode, data)
	}
	return string(data), nil
}
