// Package replica drives the initial synchronization of a fresh subscriber
// node: slot and origin bookkeeping, structural dump/restore, snapshot-bound
// data copy, and the persisted phase ladder that makes the whole sequence
// crash-recoverable.
package replica

import (
	goerrors "errors"

	"context"

	"github.com/Trendyol/go-pq-replica/config"
	"github.com/Trendyol/go-pq-replica/internal/metric"
	"github.com/Trendyol/go-pq-replica/logger"
	"github.com/Trendyol/go-pq-replica/node"
	"github.com/Trendyol/go-pq-replica/pgtools"
	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/Trendyol/go-pq-replica/pq/slot"
	"github.com/go-playground/errors/v5"
)

// ErrOnlySubscriberTarget rejects any target role this sync does not support.
var ErrOnlySubscriberTarget = goerrors.New("only subscriber node can be replication target")

// NodeConnection is the ephemeral bootstrap context: which origin feeds which
// target, filtered to the named replication sets.
type NodeConnection struct {
	Origin          *node.Node
	Target          *node.Node
	ReplicationSets []string
}

type slotOriginManager interface {
	EnsureSlotSnapshot(ctx context.Context, originDSN, slotName string) (*slot.Snapshot, error)
	EnsureOrigin(ctx context.Context, slotName string, lsn pq.LSN) error
	Close(ctx context.Context)
}

type structureSyncer interface {
	Dump(ctx context.Context, originDSN, snapshotID string) error
	Restore(ctx context.Context, targetDSN, section string) error
}

type dataCopier interface {
	CopyNodeData(ctx context.Context, nc *NodeConnection, snapshotID string) error
}

type statusPusher interface {
	PushReady(ctx context.Context, originDSN, nodeName string) error
}

// Bootstrap is the phase state machine. Each transition is persisted to the
// node catalog before the next phase starts, so a restarted process re-enters
// exactly where the previous one left off.
type Bootstrap struct {
	cfg     *config.Config
	catalog node.Catalog
	metric  metric.Metric

	slots  slotOriginManager
	schema structureSyncer
	copier dataCopier
	pusher statusPusher
}

func NewBootstrap(cfg *config.Config, catalog node.Catalog, tools pgtools.Toolchain, m metric.Metric) *Bootstrap {
	return &Bootstrap{
		cfg:     cfg,
		catalog: catalog,
		metric:  m,
		slots:   &slotOrigin{cfg: cfg, catalog: catalog},
		schema:  &structureSync{cfg: cfg, tools: tools},
		copier:  &nodeDataCopier{cfg: cfg, metric: m},
		pusher:  &remoteStatus{cfg: cfg},
	}
}

// Run takes the target node from its persisted status to ready. The snapshot
// created in the init phase lives only in memory: a node found on disk at
// sync_schema crashed mid dump/restore and is rejected as unrecoverable.
func (b *Bootstrap) Run(ctx context.Context, nc *NodeConnection) error {
	status := nc.Target.Status
	if status == node.StatusReady {
		logger.Info("node already initialized", "node", nc.Target.Name)
		return nil
	}
	if !status.RecoverableEntry() {
		return errors.Wrapf(node.ErrUnrecoverableStatus, "node %s found in status %s", nc.Target.Name, status)
	}

	b.metric.SetPhase(float64(status))
	defer b.slots.Close(ctx)

	var snap *slot.Snapshot
	for status != node.StatusReady {
		next, nextSnap, err := b.step(ctx, nc, status, snap)
		if err != nil {
			return err
		}
		status, snap = next, nextSnap
	}

	return nil
}

// step runs the side effects of one phase and returns the next persisted
// status. The snapshot flows from init into sync_schema within one attempt.
func (b *Bootstrap) step(ctx context.Context, nc *NodeConnection, status node.Status, snap *slot.Snapshot) (node.Status, *slot.Snapshot, error) {
	switch status {
	case node.StatusInit:
		created, err := b.phaseInit(ctx, nc)
		return node.StatusSyncSchema, created, err
	case node.StatusSyncSchema:
		return node.StatusSlots, snap, b.phaseSyncSchema(ctx, nc, snap)
	case node.StatusSlots:
		return node.StatusCatchup, snap, b.phaseSlots(ctx, nc)
	case node.StatusCatchup:
		return node.StatusConnectBack, snap, b.phaseCatchup(ctx, nc)
	case node.StatusConnectBack:
		return node.StatusReady, snap, b.phaseConnectBack(ctx, nc)
	default:
		return 0, nil, errors.Wrapf(node.ErrUnrecoverableStatus, "node %s reached status %s", nc.Target.Name, status)
	}
}

func (b *Bootstrap) phaseInit(ctx context.Context, nc *NodeConnection) (*slot.Snapshot, error) {
	logger.Info("initializing node", "node", nc.Target.Name, "origin", nc.Origin.Name)

	slotName := slot.Name(b.cfg.Database, nc.Origin.Name, nc.Target.Name)

	snap, err := b.slots.EnsureSlotSnapshot(ctx, nc.Origin.DSN, slotName)
	if err != nil {
		return nil, err
	}

	if err = b.slots.EnsureOrigin(ctx, slotName, snap.StartLSN); err != nil {
		return nil, err
	}
	b.metric.SetStartLSN(float64(snap.StartLSN))

	return snap, b.setStatus(ctx, nc.Target.ID, node.StatusSyncSchema)
}

func (b *Bootstrap) phaseSyncSchema(ctx context.Context, nc *NodeConnection, snap *slot.Snapshot) error {
	if snap == nil {
		return errors.New("sync_schema phase entered without a live snapshot")
	}

	logger.Info("synchronizing schemas", "node", nc.Target.Name)

	if err := b.schema.Dump(ctx, nc.Origin.DSN, snap.SnapshotID); err != nil {
		return err
	}

	if err := b.schema.Restore(ctx, nc.Target.DSN, pgtools.SectionPreData); err != nil {
		return err
	}

	if err := b.copier.CopyNodeData(ctx, nc, snap.SnapshotID); err != nil {
		return err
	}

	if err := b.schema.Restore(ctx, nc.Target.DSN, pgtools.SectionPostData); err != nil {
		return err
	}

	return b.setStatus(ctx, nc.Target.ID, node.StatusSlots)
}

func (b *Bootstrap) phaseSlots(ctx context.Context, nc *NodeConnection) error {
	if err := b.makeOtherSlots(ctx, nc); err != nil {
		return err
	}

	return b.setStatus(ctx, nc.Target.ID, node.StatusCatchup)
}

func (b *Bootstrap) phaseCatchup(ctx context.Context, nc *NodeConnection) error {
	if err := requireSubscriber(nc.Target); err != nil {
		return err
	}

	return b.setStatus(ctx, nc.Target.ID, node.StatusConnectBack)
}

func (b *Bootstrap) phaseConnectBack(ctx context.Context, nc *NodeConnection) error {
	if err := requireSubscriber(nc.Target); err != nil {
		return err
	}

	if err := b.setStatus(ctx, nc.Target.ID, node.StatusReady); err != nil {
		return err
	}

	if err := b.pusher.PushReady(ctx, nc.Origin.DSN, nc.Target.Name); err != nil {
		return err
	}

	logger.Info("finished initial sync, ready to enter normal replication", "node", nc.Target.Name)

	return nil
}

// makeOtherSlots would create slots on other publishing nodes. Multi-origin
// topologies are not supported; there is nothing to create.
func (b *Bootstrap) makeOtherSlots(_ context.Context, _ *NodeConnection) error {
	return nil
}

func (b *Bootstrap) setStatus(ctx context.Context, id int, status node.Status) error {
	if err := b.catalog.SetNodeStatus(ctx, id, status); err != nil {
		return err
	}
	b.metric.SetPhase(float64(status))
	return nil
}

func requireSubscriber(n *node.Node) error {
	if n.Role != node.RoleSubscriber {
		return errors.Wrapf(ErrOnlySubscriberTarget, "node %s has role %s", n.Name, n.Role)
	}
	return nil
}
