package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratafs/strata/internal/model"
)

func echoHandler(peerID string) Handler {
	return HandlerFunc(func(ctx context.Context, env Envelope) (Ack, error) {
		return Ack{PeerID: peerID, Applied: true, Clock: env.Clock}, nil
	})
}

func TestInMem_SendRoutesToHandler(t *testing.T) {
	bus := NewInMem()
	bus.Register("node-b", echoHandler("node-b"))

	env := Envelope{
		Origin: "node-a",
		Kind:   KindEntry,
		Entry:  &model.JournalEntry{EntryID: "e1", Path: "/a"},
	}

	ack, err := bus.Send(context.Background(), "node-b", env)
	require.NoError(t, err)
	assert.Equal(t, "node-b", ack.PeerID)
	assert.True(t, ack.Applied)
}

func TestInMem_SendUnknownPeerFails(t *testing.T) {
	bus := NewInMem()

	_, err := bus.Send(context.Background(), "nowhere", Envelope{Origin: "node-a"})
	assert.Error(t, err)
}

func TestInMem_SendToDownPeerFails(t *testing.T) {
	bus := NewInMem()
	bus.Register("node-b", echoHandler("node-b"))

	bus.SetDown("node-b", true)
	_, err := bus.Send(context.Background(), "node-b", Envelope{Origin: "node-a"})
	assert.Error(t, err)

	bus.SetDown("node-b", false)
	_, err = bus.Send(context.Background(), "node-b", Envelope{Origin: "node-a"})
	assert.NoError(t, err)
}

func TestInMem_SendHonorsContextTimeout(t *testing.T) {
	bus := NewInMem()

	release := make(chan struct{})
	defer close(release)
	bus.Register("slow", HandlerFunc(func(ctx context.Context, env Envelope) (Ack, error) {
		<-release
		return Ack{PeerID: "slow"}, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := bus.Send(ctx, "slow", Envelope{Origin: "node-a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "a slow receiver must not block past the deadline")
}

func TestInMem_BroadcastSkipsOrigin(t *testing.T) {
	bus := NewInMem()

	var mu sync.Mutex
	seen := make(map[string]int)
	handler := func(id string) Handler {
		return HandlerFunc(func(ctx context.Context, env Envelope) (Ack, error) {
			mu.Lock()
			seen[id]++
			mu.Unlock()
			return Ack{PeerID: id}, nil
		})
	}

	bus.Register("node-a", handler("node-a"))
	bus.Register("node-b", handler("node-b"))
	bus.Register("node-c", handler("node-c"))

	err := bus.Broadcast(context.Background(), Envelope{Origin: "node-a", Kind: KindClockAnnounce})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, seen["node-a"])
	assert.Equal(t, 1, seen["node-b"])
	assert.Equal(t, 1, seen["node-c"])
}

func TestInMem_BroadcastReportsFirstFailure(t *testing.T) {
	bus := NewInMem()
	bus.Register("node-b", echoHandler("node-b"))
	bus.Register("node-c", echoHandler("node-c"))
	bus.SetDown("node-c", true)

	err := bus.Broadcast(context.Background(), Envelope{Origin: "node-a", Kind: KindClockAnnounce})
	assert.Error(t, err)
}

func TestInMem_DeregisterRemovesRoute(t *testing.T) {
	bus := NewInMem()
	bus.Register("node-b", echoHandler("node-b"))
	bus.Deregister("node-b")

	_, err := bus.Send(context.Background(), "node-b", Envelope{Origin: "node-a"})
	assert.Error(t, err)
}
