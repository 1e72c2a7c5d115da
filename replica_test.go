package replica

import (
	"context"
	"testing"

	"github.com/Trendyol/go-pq-replica/config"
	"github.com/Trendyol/go-pq-replica/logger"
	"github.com/Trendyol/go-pq-replica/node"
	"github.com/Trendyol/go-pq-replica/pgtools"
	"github.com/Trendyol/go-pq-replica/pq"
	"github.com/Trendyol/go-pq-replica/pq/slot"
	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger(logger.NewSlog(0))
}

type fakeCatalog struct {
	statuses []node.Status
	failOn   node.Status
}

func (c *fakeCatalog) GetNode(context.Context, int) (*node.Node, error) {
	panic("not expected")
}

func (c *fakeCatalog) SetNodeStatus(_ context.Context, _ int, status node.Status) error {
	if c.failOn != 0 && status == c.failOn {
		return errors.New("catalog write failed")
	}
	c.statuses = append(c.statuses, status)
	return nil
}

func (c *fakeCatalog) Begin(context.Context) (pgx.Tx, error) {
	panic("not expected")
}

type fakeSlots struct {
	calls    *[]string
	snap     *slot.Snapshot
	slotErr  error
	slotName string
	closed   bool
}

func (f *fakeSlots) EnsureSlotSnapshot(_ context.Context, _, slotName string) (*slot.Snapshot, error) {
	*f.calls = append(*f.calls, "slot")
	f.slotName = slotName
	return f.snap, f.slotErr
}

func (f *fakeSlots) EnsureOrigin(context.Context, string, pq.LSN) error {
	*f.calls = append(*f.calls, "origin")
	return nil
}

func (f *fakeSlots) Close(context.Context) {
	f.closed = true
}

type fakeSchema struct {
	calls   *[]string
	dumpErr error
}

func (f *fakeSchema) Dump(_ context.Context, _, snapshotID string) error {
	*f.calls = append(*f.calls, "dump "+snapshotID)
	return f.dumpErr
}

func (f *fakeSchema) Restore(_ context.Context, _, section string) error {
	*f.calls = append(*f.calls, "restore "+section)
	return nil
}

type fakeCopier struct {
	calls *[]string
	err   error
}

func (f *fakeCopier) CopyNodeData(_ context.Context, _ *NodeConnection, snapshotID string) error {
	*f.calls = append(*f.calls, "copy "+snapshotID)
	return f.err
}

type fakePusher struct {
	calls *[]string
	err   error
}

func (f *fakePusher) PushReady(_ context.Context, _, nodeName string) error {
	*f.calls = append(*f.calls, "push "+nodeName)
	return f.err
}

type noopMetric struct{}

func (noopMetric) SetPhase(float64)                             {}
func (noopMetric) TableCopied()                                 {}
func (noopMetric) AddCopiedBytes(int64)                         {}
func (noopMetric) SetStartLSN(float64)                          {}
func (noopMetric) PrometheusCollectors() []prometheus.Collector { return nil }

type harness struct {
	bootstrap *Bootstrap
	catalog   *fakeCatalog
	slots     *fakeSlots
	schema    *fakeSchema
	copier    *fakeCopier
	pusher    *fakePusher
	calls     []string
}

func newHarness() *harness {
	h := &harness{catalog: &fakeCatalog{}}
	h.slots = &fakeSlots{
		calls: &h.calls,
		snap:  &slot.Snapshot{SnapshotID: "00000003-00000002-1", StartLSN: pq.LSN(0x16B3748)},
	}
	h.schema = &fakeSchema{calls: &h.calls}
	h.copier = &fakeCopier{calls: &h.calls}
	h.pusher = &fakePusher{calls: &h.calls}

	cfg := &config.Config{Database: "appdb"}
	cfg.SetDefault()

	h.bootstrap = &Bootstrap{
		cfg:     cfg,
		catalog: h.catalog,
		metric:  noopMetric{},
		slots:   h.slots,
		schema:  h.schema,
		copier:  h.copier,
		pusher:  h.pusher,
	}
	return h
}

func connection(status node.Status) *NodeConnection {
	return &NodeConnection{
		Origin:          &node.Node{ID: 1, Name: "origin", DSN: "host=origin", Role: node.RoleOrigin, Status: node.StatusReady},
		Target:          &node.Node{ID: 2, Name: "sub", DSN: "host=target", Role: node.RoleSubscriber, Status: status},
		ReplicationSets: []string{"default"},
	}
}

func TestBootstrapRun(t *testing.T) {
	t.Run("should walk a fresh node through every phase in order", func(t *testing.T) {
		h := newHarness()

		err := h.bootstrap.Run(context.Background(), connection(node.StatusInit))

		require.NoError(t, err)
		assert.Equal(t, []string{
			"slot",
			"origin",
			"dump 00000003-00000002-1",
			"restore " + pgtools.SectionPreData,
			"copy 00000003-00000002-1",
			"restore " + pgtools.SectionPostData,
			"push sub",
		}, h.calls)
		assert.Equal(t, []node.Status{
			node.StatusSyncSchema,
			node.StatusSlots,
			node.StatusCatchup,
			node.StatusConnectBack,
			node.StatusReady,
		}, h.catalog.statuses)
		assert.Equal(t, "pgr_appdb_origin_sub", h.slots.slotName)
		assert.True(t, h.slots.closed)
	})

	t.Run("should resume from slots without repeating the copy", func(t *testing.T) {
		h := newHarness()

		err := h.bootstrap.Run(context.Background(), connection(node.StatusSlots))

		require.NoError(t, err)
		assert.Equal(t, []string{"push sub"}, h.calls)
		assert.Equal(t, []node.Status{
			node.StatusCatchup,
			node.StatusConnectBack,
			node.StatusReady,
		}, h.catalog.statuses)
	})

	t.Run("should resume from connect_back", func(t *testing.T) {
		h := newHarness()

		err := h.bootstrap.Run(context.Background(), connection(node.StatusConnectBack))

		require.NoError(t, err)
		assert.Equal(t, []string{"push sub"}, h.calls)
		assert.Equal(t, []node.Status{node.StatusReady}, h.catalog.statuses)
	})

	t.Run("should do nothing for a ready node", func(t *testing.T) {
		h := newHarness()

		err := h.bootstrap.Run(context.Background(), connection(node.StatusReady))

		require.NoError(t, err)
		assert.Empty(t, h.calls)
		assert.Empty(t, h.catalog.statuses)
		assert.False(t, h.slots.closed)
	})

	t.Run("should reject a node found mid schema sync", func(t *testing.T) {
		h := newHarness()

		err := h.bootstrap.Run(context.Background(), connection(node.StatusSyncSchema))

		require.Error(t, err)
		assert.ErrorIs(t, err, node.ErrUnrecoverableStatus)
		assert.Empty(t, h.calls)
	})

	t.Run("should reject a non subscriber target", func(t *testing.T) {
		h := newHarness()
		nc := connection(node.StatusCatchup)
		nc.Target.Role = node.RoleOrigin

		err := h.bootstrap.Run(context.Background(), nc)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOnlySubscriberTarget)
		assert.Empty(t, h.catalog.statuses)
	})

	t.Run("should stop when the dump fails and leave the node resumable", func(t *testing.T) {
		h := newHarness()
		h.schema.dumpErr = errors.New("pg_dump exited with 1")

		err := h.bootstrap.Run(context.Background(), connection(node.StatusInit))

		require.Error(t, err)
		assert.Equal(t, []node.Status{node.StatusSyncSchema}, h.catalog.statuses)
		assert.True(t, h.slots.closed)
	})

	t.Run("should stop when the slot cannot be created", func(t *testing.T) {
		h := newHarness()
		h.slots.snap = nil
		h.slots.slotErr = errors.New("slot already exists")

		err := h.bootstrap.Run(context.Background(), connection(node.StatusInit))

		require.Error(t, err)
		assert.Empty(t, h.catalog.statuses)
		assert.True(t, h.slots.closed)
	})

	t.Run("should surface a failed status write", func(t *testing.T) {
		h := newHarness()
		h.catalog.failOn = node.StatusSlots

		err := h.bootstrap.Run(context.Background(), connection(node.StatusInit))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog write failed")
		assert.Equal(t, []node.Status{node.StatusSyncSchema}, h.catalog.statuses)
	})
}
