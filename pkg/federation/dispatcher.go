package federation

import (
	"context"
	"time"

	"spacecomms/pkg/protocol"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DispatcherConfig sizes the worker pool and the retry policy.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *DispatcherConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
}

type job struct {
	env  *protocol.Envelope
	peer PeerInfo
}

// Dispatcher sends envelopes to peers from a bounded queue. Each
// (envelope, peer) pair is an independent job; one peer failing never
// delays or fails delivery to another.
type Dispatcher struct {
	cfg       DispatcherConfig
	transport Transport
	peers     *Registry
	metrics   *Metrics
	logger    *zap.Logger
	queue     chan job
}

func NewDispatcher(cfg DispatcherConfig, transport Transport, peers *Registry, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics()
	}
	return &Dispatcher{
		cfg:       cfg,
		transport: transport,
		peers:     peers,
		metrics:   metrics,
		logger:    logger,
		queue:     make(chan job, cfg.QueueSize),
	}
}

// Enqueue schedules env for peer without blocking. A full queue drops the
// job and returns false.
func (d *Dispatcher) Enqueue(env *protocol.Envelope, peer PeerInfo) bool {
	select {
	case d.queue <- job{env: env, peer: peer}:
		return true
	default:
		d.metrics.ForwardsDropped.Inc()
		d.logger.Warn("Dispatch queue full, dropping envelope",
			zap.String("message_id", env.MessageID.String()),
			zap.String("peer_id", peer.ID.String()),
			zap.Int("queue_size", d.cfg.QueueSize))
		return false
	}
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run processes the queue with the configured number of workers until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.worker(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	start := time.Now()
	d.metrics.ForwardsAttempted.Inc()

	attempt := 0
	op := func() error {
		attempt++
		err := d.transport.Send(ctx, j.peer, j.env)
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.metrics.RetryAttempts.Inc()
		d.logger.Debug("Delivery failed, retrying",
			zap.String("message_id", j.env.MessageID.String()),
			zap.String("peer_id", j.peer.ID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, d.newBackOff(ctx), notify)
	d.metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		d.metrics.ForwardsFailed.Inc()
		d.logger.Warn("Failed to deliver envelope",
			zap.String("message_id", j.env.MessageID.String()),
			zap.String("message_type", j.env.MessageType.String()),
			zap.String("peer_id", j.peer.ID.String()),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return
	}

	d.metrics.ForwardsSucceeded.Inc()
	d.peers.RecordSent(j.peer.ID)
}

// SendDirect delivers env once, without queueing or retry. Used for
// session messages that are superseded by the next tick anyway.
func (d *Dispatcher) SendDirect(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error {
	if err := d.transport.Send(ctx, peer, env); err != nil {
		return err
	}
	d.peers.RecordSent(peer.ID)
	return nil
}
