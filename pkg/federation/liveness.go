package federation

import (
	"context"
	"sync/atomic"
	"time"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweeper periodically disconnects silent peers, evicts expired message
// ids and refreshes the state gauges. It touches only in-memory state and
// storage; it never performs network I/O.
type Sweeper struct {
	peers          *Registry
	store          storage.Storage
	metrics        *Metrics
	logger         *zap.Logger
	interval       time.Duration
	sessionTimeout time.Duration
	dedupWindow    time.Duration
}

func NewSweeper(peers *Registry, store storage.Storage, metrics *Metrics, logger *zap.Logger, interval, sessionTimeout, dedupWindow time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics()
	}
	return &Sweeper{
		peers:          peers,
		store:          store,
		metrics:        metrics,
		logger:         logger,
		interval:       interval,
		sessionTimeout: sessionTimeout,
		dedupWindow:    dedupWindow,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx, time.Now())
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep performs one pass as of now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	if s.sessionTimeout > 0 {
		for _, id := range s.peers.ExpireStale(s.sessionTimeout, now) {
			s.metrics.PeersExpired.Inc()
			s.logger.Info("Peer session timed out", zap.String("peer_id", id.String()))
		}
	}

	if s.dedupWindow > 0 {
		n, err := s.store.ExpireSeenMessages(ctx, now.Add(-s.dedupWindow))
		if err != nil {
			s.logger.Warn("Failed to expire seen messages", zap.Error(err))
		} else if n > 0 {
			s.metrics.SeenExpired.Add(float64(n))
			s.logger.Debug("Expired seen messages", zap.Int("count", n))
		}
	}

	s.collect(ctx)
}

func (s *Sweeper) collect(ctx context.Context) {
	s.metrics.PeersConnected.Set(float64(s.peers.ConnectedCount()))
	s.metrics.PeersTotal.Set(float64(s.peers.TotalCount()))

	if n, err := s.store.CdmCount(ctx); err == nil {
		s.metrics.CdmsActive.Set(float64(n))
	}
	if n, err := s.store.ObjectCount(ctx); err == nil {
		s.metrics.ObjectsTracked.Set(float64(n))
	}
	if n, err := s.store.SeenCount(ctx); err == nil {
		s.metrics.SeenSetSize.Set(float64(n))
	}
}

// DirectSender delivers a session envelope once.
type DirectSender interface {
	SendDirect(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error
}

// Heartbeater greets every peer with HELLO on start and then sends a
// HEARTBEAT each interval.
type Heartbeater struct {
	processor *Processor
	peers     *Registry
	store     storage.Storage
	sender    DirectSender
	logger    *zap.Logger
	interval  time.Duration
	timeout   time.Duration
	sequence  atomic.Uint64
}

func NewHeartbeater(processor *Processor, peers *Registry, store storage.Storage, sender DirectSender, logger *zap.Logger, interval, timeout time.Duration) *Heartbeater {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Heartbeater{
		processor: processor,
		peers:     peers,
		store:     store,
		sender:    sender,
		logger:    logger,
		interval:  interval,
		timeout:   timeout,
	}
}

func (h *Heartbeater) Run(ctx context.Context) error {
	h.Greet(ctx, h.peers.List()...)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Beat(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Greet sends HELLO to the given peers.
func (h *Heartbeater) Greet(ctx context.Context, peers ...PeerInfo) {
	hello := h.processor.Hello()
	for _, peer := range peers {
		if peer.AuthToken != "" {
			p := hello
			p.AuthToken = peer.AuthToken
			h.sendTo(ctx, []PeerInfo{peer}, protocol.Hello, p)
			continue
		}
		h.sendTo(ctx, []PeerInfo{peer}, protocol.Hello, hello)
	}
}

// Beat sends one HEARTBEAT to every peer.
func (h *Heartbeater) Beat(ctx context.Context) {
	hb := protocol.HeartbeatPayload{Sequence: h.sequence.Add(1)}
	if n, err := h.store.ObjectCount(ctx); err == nil {
		v := uint64(n)
		hb.ObjectsTracked = &v
	}
	if n, err := h.store.CdmCount(ctx); err == nil {
		v := uint64(n)
		hb.CdmsActive = &v
	}
	h.sendTo(ctx, h.peers.List(), protocol.Heartbeat, hb)
}

func (h *Heartbeater) sendTo(ctx context.Context, peers []PeerInfo, mt protocol.MessageType, payload interface{}) {
	if len(peers) == 0 {
		return
	}
	env, err := h.processor.SessionEnvelope(mt, payload)
	if err != nil {
		h.logger.Error("Failed to build session envelope", zap.Error(err))
		return
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			if err := h.sender.SendDirect(sctx, peer, env); err != nil {
				h.logger.Debug("Session message not delivered",
					zap.String("peer_id", peer.ID.String()),
					zap.String("message_type", mt.String()),
					zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()
}
