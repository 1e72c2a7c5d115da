package replica

import (
	"context"

	"github.com/Trendyol/go-pq-replica/config"
	"github.com/Trendyol/go-pq-replica/internal/metric"
	"github.com/Trendyol/go-pq-replica/node"
	"github.com/Trendyol/go-pq-replica/pgtools"
	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/Trendyol/go-pq-replica/pq/copydata"
	"github.com/Trendyol/go-pq-replica/pq/origin"
	"github.com/Trendyol/go-pq-replica/pq/slot"
	"github.com/go-playground/errors/v5"
)

const (
	initApplicationName     = "go_pq_replica_init"
	snapshotApplicationName = "go_pq_replica_snapshot"
)

// slotOrigin creates the slot over a replication-mode session and records the
// origin cursor in one local transaction. The replication session is held
// open for the rest of the attempt: the exported snapshot is only importable
// while the creating session stays idle.
type slotOrigin struct {
	cfg     *config.Config
	catalog node.Catalog

	sess pq.Session
}

func (so *slotOrigin) EnsureSlotSnapshot(ctx context.Context, originDSN, slotName string) (*slot.Snapshot, error) {
	sess, err := pq.Connect(ctx, originDSN, snapshotApplicationName, true)
	if err != nil {
		return nil, errors.Wrap(err, "connect to origin node in replication mode")
	}
	so.sess = sess

	return slot.Create(ctx, sess, slotName, so.cfg.Slot.Plugin)
}

func (so *slotOrigin) EnsureOrigin(ctx context.Context, slotName string, lsn pq.LSN) error {
	tx, err := so.catalog.Begin(ctx)
	if err != nil {
		return err
	}

	if _, err = origin.Ensure(ctx, tx, slotName); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err = origin.Advance(ctx, tx, slotName, lsn); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit origin bookkeeping")
	}

	return nil
}

func (so *slotOrigin) Close(ctx context.Context) {
	if so.sess != nil {
		_ = so.sess.Close(ctx)
		so.sess = nil
	}
}

// structureSync wraps the external dump/restore tools. The server major is
// probed once per attempt and gates both tools.
type structureSync struct {
	cfg   *config.Config
	tools pgtools.Toolchain

	serverMajor uint32
}

func (ss *structureSync) Dump(ctx context.Context, originDSN, snapshotID string) error {
	major, err := ss.probeServerMajor(ctx, originDSN)
	if err != nil {
		return err
	}

	return pgtools.DumpStructure(ctx, ss.tools, major, originDSN, snapshotID, ss.artifactPath())
}

func (ss *structureSync) Restore(ctx context.Context, targetDSN, section string) error {
	major, err := ss.probeServerMajor(ctx, targetDSN)
	if err != nil {
		return err
	}

	return pgtools.RestoreStructure(ctx, ss.tools, major, targetDSN, section, ss.artifactPath())
}

func (ss *structureSync) probeServerMajor(ctx context.Context, dsn string) (uint32, error) {
	if ss.serverMajor != 0 {
		return ss.serverMajor, nil
	}

	sess, err := pq.Connect(ctx, dsn, initApplicationName, false)
	if err != nil {
		return 0, errors.Wrap(err, "connect for server version probe")
	}
	defer func() { _ = sess.Close(ctx) }()

	major, err := pgtools.ServerMajor(ctx, sess)
	if err != nil {
		return 0, err
	}
	ss.serverMajor = major

	return major, nil
}

func (ss *structureSync) artifactPath() string {
	if ss.cfg.Tools.ArtifactPath != "" {
		return ss.cfg.Tools.ArtifactPath
	}
	return pgtools.DefaultArtifactPath()
}

type nodeDataCopier struct {
	cfg    *config.Config
	metric metric.Metric
}

func (c *nodeDataCopier) CopyNodeData(ctx context.Context, nc *NodeConnection, snapshotID string) error {
	return copydata.CopyNodeData(ctx, copydata.Params{
		OriginDSN:       nc.Origin.DSN,
		TargetDSN:       nc.Target.DSN,
		ApplicationName: initApplicationName,
		ReplicationSets: nc.ReplicationSets,
		CatalogSchema:   c.cfg.Extension.Schema,
		SnapshotID:      snapshotID,
		Metric:          c.metric,
	})
}

type remoteStatus struct {
	cfg *config.Config
}

func (r *remoteStatus) PushReady(ctx context.Context, originDSN, nodeName string) error {
	sess, err := pq.Connect(ctx, originDSN, initApplicationName, false)
	if err != nil {
		return errors.Wrap(err, "connect to origin node")
	}
	defer func() { _ = sess.Close(ctx) }()

	return node.PushRemoteStatus(ctx, sess, r.cfg.Extension.Schema, nodeName, node.StatusReady)
}
