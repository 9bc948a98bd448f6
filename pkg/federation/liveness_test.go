package federation

import (
	"context"
	"sync"
	"testing"
	"time"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/storage"
	"spacecomms/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	peers := NewRegistry()
	peers.Add(PeerInfo{ID: "A", Address: "http://a"})
	peers.Add(PeerInfo{ID: "B", Address: "http://b"})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	peers.now = func() time.Time { return base }
	peers.UpdateHeartbeat("A")
	peers.now = func() time.Time { return base.Add(50 * time.Second) }
	peers.UpdateHeartbeat("B")

	store := storage.NewMemory(time.Minute)
	require.NoError(t, store.MarkMessageSeen(ctx, "old", base))
	require.NoError(t, store.MarkMessageSeen(ctx, "new", base.Add(90*time.Second)))

	metrics := NewMetrics(prometheus.NewRegistry())
	s := NewSweeper(peers, store, metrics, zaptest.NewLogger(t), time.Second, 30*time.Second, time.Minute)

	s.Sweep(ctx, base.Add(70*time.Second))

	a, _ := peers.Get("A")
	b, _ := peers.Get("B")
	assert.Equal(t, PeerDisconnected, a.Status)
	assert.Equal(t, PeerConnected, b.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PeersExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PeersConnected))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PeersTotal))

	s.Sweep(ctx, base.Add(3*time.Minute))
	seen, err := store.HasSeenMessage(ctx, "old")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.SeenExpired), 1.0)
}

func TestSweeper_StateGauges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	_, err := f.proc.HandleEnvelope(ctx, cdmEnvelope(t, "A", "CDM-G1"), "A")
	require.NoError(t, err)

	metrics := NewMetrics(prometheus.NewRegistry())
	s := NewSweeper(f.peers, f.store, metrics, nil, time.Second, 0, 0)
	s.Sweep(ctx, time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CdmsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ObjectsTracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SeenSetSize))
}

type directCall struct {
	peer types.NodeID
	env  *protocol.Envelope
}

type fakeDirectSender struct {
	mu    sync.Mutex
	calls []directCall
	fail  map[types.NodeID]bool
}

func (f *fakeDirectSender) SendDirect(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, directCall{peer: peer.ID, env: env})
	if f.fail[peer.ID] {
		return types.Errorf(types.KindIO, "unreachable")
	}
	return nil
}

func (f *fakeDirectSender) byPeer() map[types.NodeID]*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.NodeID]*protocol.Envelope)
	for _, c := range f.calls {
		out[c.peer] = c.env
	}
	return out
}

func TestHeartbeater_Greet(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.peers.Update("B", func(p *PeerInfo) { p.AuthToken = "tok-b" })
	sender := &fakeDirectSender{fail: map[types.NodeID]bool{"A": true}}
	h := NewHeartbeater(f.proc, f.peers, f.store, sender, zaptest.NewLogger(t), time.Second, 0)

	h.Greet(context.Background(), f.peers.List()...)

	sent := sender.byPeer()
	require.Len(t, sent, 2, "a failed send does not stop the others")
	for id, env := range sent {
		assert.Equal(t, protocol.Hello, env.MessageType)
		assert.Equal(t, uint32(0), env.TTL)
		assert.Equal(t, types.NodeID("local"), env.SourceNodeID)

		var hello protocol.HelloPayload
		require.NoError(t, env.DecodePayload(&hello))
		assert.Equal(t, "Local Node", hello.NodeName)
		if id == "B" {
			assert.Equal(t, "tok-b", hello.AuthToken)
		} else {
			assert.Empty(t, hello.AuthToken)
		}
	}
}

func TestHeartbeater_Beat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	_, err := f.proc.HandleEnvelope(ctx, cdmEnvelope(t, "A", "CDM-HB"), "A")
	require.NoError(t, err)

	sender := &fakeDirectSender{}
	h := NewHeartbeater(f.proc, f.peers, f.store, sender, nil, time.Second, time.Second)
	h.Beat(ctx)
	h.Beat(ctx)

	require.Len(t, sender.calls, 2)
	var first, second protocol.HeartbeatPayload
	require.NoError(t, sender.calls[0].env.DecodePayload(&first))
	require.NoError(t, sender.calls[1].env.DecodePayload(&second))

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	require.NotNil(t, first.CdmsActive)
	assert.Equal(t, uint64(1), *first.CdmsActive)
	require.NotNil(t, first.ObjectsTracked)
	assert.Equal(t, uint64(0), *first.ObjectsTracked)
}
