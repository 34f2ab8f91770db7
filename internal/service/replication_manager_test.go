package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/store"
	"github.com/stratafs/strata/internal/transport"
)

// replicationHarness is a single-process cluster: one writer with a
// full replication manager and any number of receiver nodes, all
// joined by an in-memory bus.
type replicationHarness struct {
	bus       *transport.InMem
	writer    *syncFixture
	rm        *ReplicationManager
	registry  *PeerRegistry
	records   store.RecordStore
	receivers map[string]*syncFixture
}

func defaultReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		QuorumSize:      3,
		TargetFactor:    4,
		MaxFactor:       5,
		DeliveryTimeout: time.Second,
	}
}

func newReplicationHarness(t *testing.T, cfg ReplicationConfig, writerID string) *replicationHarness {
	t.Helper()

	bus := transport.NewInMem()
	writer := newSyncFixture(t, writerID, nil)
	bus.Register(writerID, writer.sync)

	registry := NewPeerRegistry(3, 0, zap.NewNop(), nil)
	records := store.NewMemoryRecordStore(0)
	t.Cleanup(func() { records.Close() })

	rm := NewReplicationManager(cfg, writer.jm, writer.sync, registry, bus, records, zap.NewNop(), nil)
	return &replicationHarness{
		bus:       bus,
		writer:    writer,
		rm:        rm,
		registry:  registry,
		records:   records,
		receivers: make(map[string]*syncFixture),
	}
}

// addPeer spins up a receiver node and registers it with the writer
func (h *replicationHarness) addPeer(t *testing.T, nodeID string, role model.PeerRole) *syncFixture {
	t.Helper()
	f := newSyncFixture(t, nodeID, nil)
	h.bus.Register(nodeID, f.sync)
	require.NoError(t, h.rm.RegisterPeer(nodeID, role))
	h.receivers[nodeID] = f
	return f
}

func TestReplicationManager_TargetAchievedWithHealthyPeers(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")
	for i := 2; i <= 4; i++ {
		h.addPeer(t, fmt.Sprintf("meta-%d", i), model.RoleWorker)
	}

	entry, record, err := h.rm.Write(context.Background(), model.OpCreate, "/projects/plan.md", model.EntryPayload{Size: 64}, 0)
	require.NoError(t, err)
	require.NotNil(t, record)

	// Local copy plus three acks against an effective target of four
	assert.Equal(t, 4, record.SuccessCount)
	assert.Equal(t, model.ReplicationComplete, record.Status)
	assert.Equal(t, model.LevelTargetAchieved, record.SuccessLevel)
	assert.True(t, record.Success)
	assert.Len(t, record.TargetNodes, 3)
	assert.Equal(t, model.EntryReplicated, entry.Status)

	// Every receiver holds the path
	for id, peer := range h.receivers {
		meta, err := peer.jm.GetPath("/projects/plan.md")
		require.NoError(t, err, id)
		assert.Equal(t, int64(64), meta.Size, id)
		assert.Equal(t, "meta-1", meta.Origin, id)
	}
}

func TestReplicationManager_NoPeersFailsQuorum(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")

	entry, record, err := h.rm.Write(context.Background(), model.OpCreate, "/lonely", model.EntryPayload{}, 0)
	require.NoError(t, err)

	// The quorum floor never shrinks to fit the cluster
	assert.Equal(t, 1, record.SuccessCount)
	assert.Equal(t, model.ReplicationFailed, record.Status)
	assert.Equal(t, model.LevelNoReplication, record.SuccessLevel)
	assert.False(t, record.Success)
	assert.Empty(t, record.TargetNodes)

	// The write is still locally durable and queryable
	assert.True(t, record.HasAnyCopy)
	meta, err := h.writer.jm.GetPath("/lonely")
	require.NoError(t, err)
	assert.Equal(t, "meta-1", meta.Origin)
	assert.Equal(t, model.EntryCommitted, entry.Status)
}

func TestReplicationManager_MaxFactorCapsFanOut(t *testing.T) {
	cfg := defaultReplicationConfig()
	cfg.TargetFactor = 7
	h := newReplicationHarness(t, cfg, "meta-1")

	h.addPeer(t, "master-1", model.RoleMaster)
	for i := 1; i <= 6; i++ {
		h.addPeer(t, fmt.Sprintf("worker-%d", i), model.RoleWorker)
	}

	_, record, err := h.rm.Write(context.Background(), model.OpCreate, "/capped", model.EntryPayload{}, 0)
	require.NoError(t, err)

	// Never more than max copies: the local one plus four deliveries
	assert.LessOrEqual(t, len(record.TargetNodes), 4)
	assert.LessOrEqual(t, record.SuccessCount, 5)
	assert.Equal(t, 5, record.SuccessCount)

	// The master is preferred over the earlier-registered workers
	require.NotEmpty(t, record.TargetNodes)
	assert.Equal(t, "master-1", record.TargetNodes[0])
}

func TestReplicationManager_QuorumWithoutTarget(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")
	for i := 2; i <= 7; i++ {
		h.addPeer(t, fmt.Sprintf("meta-%d", i), model.RoleWorker)
	}

	// Fan-out picks the three earliest-registered workers; down one of
	// them so exactly two deliveries ack
	h.bus.SetDown("meta-2", true)

	_, record, err := h.rm.Write(context.Background(), model.OpCreate, "/partial", model.EntryPayload{}, 0)
	require.NoError(t, err)

	// Two acks plus the local copy is quorum but short of the target
	assert.Equal(t, 3, record.SuccessCount)
	assert.Equal(t, model.ReplicationPartial, record.Status)
	assert.Equal(t, model.LevelQuorumAchieved, record.SuccessLevel)
	assert.True(t, record.Success)

	require.Contains(t, record.Outcomes, "meta-2")
	assert.False(t, record.Outcomes["meta-2"].Success)
	assert.NotEmpty(t, record.Outcomes["meta-2"].Error)
}

func TestReplicationManager_RequestedLevelOverridesTarget(t *testing.T) {
	cfg := defaultReplicationConfig()
	cfg.TargetFactor = 2
	h := newReplicationHarness(t, cfg, "meta-1")
	for i := 2; i <= 4; i++ {
		h.addPeer(t, fmt.Sprintf("meta-%d", i), model.RoleWorker)
	}

	_, record, err := h.rm.Write(context.Background(), model.OpCreate, "/important", model.EntryPayload{}, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, record.RequestedLevel)
	assert.Equal(t, 4, record.TargetFactor)
	assert.Equal(t, 4, record.SuccessCount)
	assert.Equal(t, model.LevelTargetAchieved, record.SuccessLevel)
}

func TestReplicationManager_SlowPeerCostsOnlyItsTimeout(t *testing.T) {
	cfg := defaultReplicationConfig()
	cfg.DeliveryTimeout = 50 * time.Millisecond
	h := newReplicationHarness(t, cfg, "meta-1")
	h.addPeer(t, "meta-2", model.RoleWorker)
	h.addPeer(t, "meta-3", model.RoleWorker)

	// A third peer that never answers
	block := make(chan struct{})
	defer close(block)
	h.bus.Register("meta-4", transport.HandlerFunc(func(ctx context.Context, env transport.Envelope) (transport.Ack, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return transport.Ack{}, ctx.Err()
	}))
	require.NoError(t, h.rm.RegisterPeer("meta-4", model.RoleWorker))

	started := time.Now()
	_, record, err := h.rm.Write(context.Background(), model.OpCreate, "/f", model.EntryPayload{}, 0)
	require.NoError(t, err)

	// The healthy peers ack; the stuck one times out in isolation
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, 3, record.SuccessCount)
	require.Contains(t, record.Outcomes, "meta-4")
	assert.False(t, record.Outcomes["meta-4"].Success)
	assert.True(t, record.Outcomes["meta-2"].Success)
	assert.True(t, record.Outcomes["meta-3"].Success)
}

func TestReplicationManager_FailuresFeedLiveness(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")
	h.addPeer(t, "meta-2", model.RoleWorker)
	h.addPeer(t, "meta-3", model.RoleWorker)

	h.bus.SetDown("meta-2", true)
	ctx := context.Background()

	// Three straight failed deliveries hit the liveness threshold
	for i := 0; i < 3; i++ {
		_, _, err := h.rm.Write(ctx, model.OpUpdate, "/f", model.EntryPayload{}, 0)
		require.NoError(t, err)
	}

	peer, ok := h.registry.Get("meta-2")
	require.True(t, ok)
	assert.Equal(t, model.PeerUnreachable, peer.State)

	// The next plan routes around the unreachable peer
	_, record, err := h.rm.Write(ctx, model.OpUpdate, "/f", model.EntryPayload{}, 0)
	require.NoError(t, err)
	assert.NotContains(t, record.TargetNodes, "meta-2")
	assert.Contains(t, record.TargetNodes, "meta-3")
}

func TestReplicationManager_AcksFeedPeerClocks(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")
	h.addPeer(t, "meta-2", model.RoleWorker)

	_, _, err := h.rm.Write(context.Background(), model.OpCreate, "/f", model.EntryPayload{}, 0)
	require.NoError(t, err)

	// The ack carried the receiver's merged clock, so the writer knows
	// the peer has caught up
	peerClock, ok := h.writer.sync.PeerClock("meta-2")
	require.True(t, ok)
	assert.GreaterOrEqual(t, peerClock.TimestampFor("meta-1"), int64(1))

	peer, ok := h.registry.Get("meta-2")
	require.True(t, ok)
	assert.Equal(t, model.PeerReachable, peer.State)
}

func TestReplicationManager_RecordQueryableByEntryID(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")
	h.addPeer(t, "meta-2", model.RoleWorker)

	ctx := context.Background()
	entry, record, err := h.rm.Write(ctx, model.OpCreate, "/f", model.EntryPayload{}, 0)
	require.NoError(t, err)

	loaded, err := h.rm.GetReplicationStatus(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, record.EntryID, loaded.EntryID)
	assert.Equal(t, record.SuccessCount, loaded.SuccessCount)
	assert.Equal(t, record.Status, loaded.Status)
	assert.Equal(t, record.TargetNodes, loaded.TargetNodes)

	_, err = h.rm.GetReplicationStatus(ctx, "no-such-entry")
	assert.True(t, errors.HasCode(err, errors.ErrCodeRecordNotFound))

	_, err = h.rm.GetReplicationStatus(ctx, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
}

func TestReplicationManager_RegisterPeerRejectsSelf(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")

	err := h.rm.RegisterPeer("meta-1", model.RoleMaster)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
	assert.Equal(t, 0, h.registry.Count())
}

func TestReplicationManager_ReplicateEntryValidation(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")
	ctx := context.Background()

	_, err := h.rm.ReplicateEntry(ctx, nil, 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))

	entry, err := h.writer.jm.Append(ctx, model.OpCreate, "/f", model.EntryPayload{})
	require.NoError(t, err)
	_, err = h.rm.ReplicateEntry(ctx, entry, -1)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
}

func TestReplicationManager_DurabilityFailureAbortsWrite(t *testing.T) {
	h := newReplicationHarness(t, defaultReplicationConfig(), "meta-1")
	h.addPeer(t, "meta-2", model.RoleWorker)

	// An invalid operation never reaches the journal or the peers
	_, record, err := h.rm.Write(context.Background(), model.OpRename, "/f", model.EntryPayload{}, 0)
	assert.Error(t, err)
	assert.Nil(t, record)

	records, err := h.records.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = h.receivers["meta-2"].jm.GetPath("/f")
	assert.Error(t, err)
}

// MockRecordStore is a mock implementation of store.RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Put(ctx context.Context, record *model.ReplicationRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRecordStore) Get(ctx context.Context, entryID string) (*model.ReplicationRecord, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReplicationRecord), args.Error(1)
}

func (m *MockRecordStore) List(ctx context.Context, limit int) ([]*model.ReplicationRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReplicationRecord), args.Error(1)
}

func (m *MockRecordStore) Delete(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *MockRecordStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRecordStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestReplicationManager_RecordStoreFailureDoesNotFailWrite(t *testing.T) {
	bus := transport.NewInMem()
	writer := newSyncFixture(t, "meta-1", nil)
	bus.Register("meta-1", writer.sync)

	records := new(MockRecordStore)
	records.On("Put", mock.Anything, mock.AnythingOfType("*model.ReplicationRecord")).Return(fmt.Errorf("disk full"))

	registry := NewPeerRegistry(3, 0, zap.NewNop(), nil)
	rm := NewReplicationManager(defaultReplicationConfig(), writer.jm, writer.sync, registry, bus, records, zap.NewNop(), nil)

	for i := 2; i <= 4; i++ {
		nodeID := fmt.Sprintf("meta-%d", i)
		f := newSyncFixture(t, nodeID, nil)
		bus.Register(nodeID, f.sync)
		require.NoError(t, rm.RegisterPeer(nodeID, model.RoleWorker))
	}

	entry, record, err := rm.Write(context.Background(), model.OpCreate, "/audit.log", model.EntryPayload{Size: 8}, 0)
	require.NoError(t, err)
	require.NotNil(t, record)

	// The mutation and its replication stand; only the bookkeeping
	// write was lost, which the caller sees through the returned record
	assert.True(t, record.Success)
	assert.Equal(t, 4, record.SuccessCount)
	assert.Equal(t, model.EntryReplicated, entry.Status)
	records.AssertCalled(t, "Put", mock.Anything, mock.AnythingOfType("*model.ReplicationRecord"))
}
