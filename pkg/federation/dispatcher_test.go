package federation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// scriptedTransport fails each peer a fixed number of times before
// succeeding, or always with a fixed error.
type scriptedTransport struct {
	mu        sync.Mutex
	failures  map[types.NodeID]int
	permanent map[types.NodeID]error
	calls     map[types.NodeID]int
	delivered chan types.NodeID
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		failures:  map[types.NodeID]int{},
		permanent: map[types.NodeID]error{},
		calls:     map[types.NodeID]int{},
		delivered: make(chan types.NodeID, 64),
	}
}

func (s *scriptedTransport) Send(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error {
	s.mu.Lock()
	s.calls[peer.ID]++
	if err, ok := s.permanent[peer.ID]; ok {
		s.mu.Unlock()
		return err
	}
	if s.failures[peer.ID] > 0 {
		s.failures[peer.ID]--
		s.mu.Unlock()
		return status.Error(codes.Unavailable, "peer down")
	}
	s.mu.Unlock()
	s.delivered <- peer.ID
	return nil
}

func (s *scriptedTransport) callCount(id types.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func testDispatcher(t *testing.T, tr Transport, peers *Registry, queue int) (*Dispatcher, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(DispatcherConfig{
		Workers:        2,
		QueueSize:      queue,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, tr, peers, metrics, zaptest.NewLogger(t))
	return d, metrics
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	peers := NewRegistry()
	peer := peers.Add(PeerInfo{ID: "A", Address: "http://a"})
	tr := newScriptedTransport()
	tr.failures["A"] = 2

	d, metrics := testDispatcher(t, tr, peers, 8)
	runDispatcher(t, d)

	env, _ := protocol.NewEnvelope("local", protocol.CdmWithdraw, nil)
	require.True(t, d.Enqueue(env, peer))

	select {
	case id := <-tr.delivered:
		assert.Equal(t, types.NodeID("A"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope never delivered")
	}

	waitFor(t, func() bool {
		p, _ := peers.Get("A")
		return p.MessagesSent == 1
	})
	assert.Equal(t, 3, tr.callCount("A"))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetryAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardsSucceeded))
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	peers := NewRegistry()
	peer := peers.Add(PeerInfo{ID: "A", Address: "http://a"})
	tr := newScriptedTransport()
	tr.failures["A"] = 100

	d, metrics := testDispatcher(t, tr, peers, 8)
	runDispatcher(t, d)

	env, _ := protocol.NewEnvelope("local", protocol.CdmWithdraw, nil)
	d.Enqueue(env, peer)

	waitFor(t, func() bool { return testutil.ToFloat64(metrics.ForwardsFailed) == 1 })
	assert.Equal(t, 3, tr.callCount("A"))
	p, _ := peers.Get("A")
	assert.Equal(t, uint64(0), p.MessagesSent)
}

func TestDispatcher_PermanentErrorStopsRetry(t *testing.T) {
	peers := NewRegistry()
	a := peers.Add(PeerInfo{ID: "A", Address: "http://a"})
	b := peers.Add(PeerInfo{ID: "B", Address: "http://b"})
	tr := newScriptedTransport()
	tr.permanent["A"] = &StatusError{Code: http.StatusBadRequest, Body: "validation_failed"}

	d, metrics := testDispatcher(t, tr, peers, 8)
	runDispatcher(t, d)

	env, _ := protocol.NewEnvelope("local", protocol.CdmWithdraw, nil)
	d.Enqueue(env, a)
	d.Enqueue(env, b)

	select {
	case id := <-tr.delivered:
		assert.Equal(t, types.NodeID("B"), id, "one peer failing does not block another")
	case <-time.After(2 * time.Second):
		t.Fatal("B never delivered")
	}
	waitFor(t, func() bool { return testutil.ToFloat64(metrics.ForwardsFailed) == 1 })
	assert.Equal(t, 1, tr.callCount("A"))
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	peers := NewRegistry()
	peer := peers.Add(PeerInfo{ID: "A", Address: "http://a"})
	d, metrics := testDispatcher(t, newScriptedTransport(), peers, 2)

	env, _ := protocol.NewEnvelope("local", protocol.CdmWithdraw, nil)
	assert.True(t, d.Enqueue(env, peer))
	assert.True(t, d.Enqueue(env, peer))
	assert.False(t, d.Enqueue(env, peer))
	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardsDropped))
}

func TestDispatcher_SendDirect(t *testing.T) {
	peers := NewRegistry()
	peer := peers.Add(PeerInfo{ID: "A", Address: "http://a"})
	tr := newScriptedTransport()
	tr.failures["A"] = 1
	d, _ := testDispatcher(t, tr, peers, 2)

	env, _ := protocol.NewEnvelope("local", protocol.Heartbeat, protocol.HeartbeatPayload{Sequence: 1})
	assert.Error(t, d.SendDirect(context.Background(), peer, env), "no retry for direct sends")
	assert.NoError(t, d.SendDirect(context.Background(), peer, env))

	p, _ := peers.Get("A")
	assert.Equal(t, uint64(1), p.MessagesSent)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{errors.New("connection refused"), true},
		{types.Wrap(types.KindIO, errors.New("reset"), "deliver"), true},
		{types.Errorf(types.KindPeer, "bad address"), false},
		{&StatusError{Code: 400}, false},
		{&StatusError{Code: 404}, false},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 503}, true},
		{status.Error(codes.Unavailable, "x"), true},
		{status.Error(codes.DeadlineExceeded, "x"), true},
		{status.Error(codes.InvalidArgument, "x"), false},
		{status.Error(codes.PermissionDenied, "x"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
