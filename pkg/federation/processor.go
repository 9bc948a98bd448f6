package federation

import (
	"context"
	"time"

	"spacecomms/pkg/cdm"
	"spacecomms/pkg/protocol"
	"spacecomms/pkg/storage"
	"spacecomms/pkg/types"

	"go.uber.org/zap"
)

// Forwarder queues an envelope for delivery to one peer.
type Forwarder interface {
	Enqueue(env *protocol.Envelope, peer PeerInfo) bool
}

// ProcessorConfig carries the node-level protocol settings.
type ProcessorConfig struct {
	LocalID     types.NodeID
	NodeName    string
	MaxHopCount uint32
	DefaultTTL  uint32
	// DedupWindow bounds how long message ids are remembered. Envelopes
	// older than the window are rejected as stale, so an id that has been
	// evicted can never be accepted again.
	DedupWindow time.Duration
}

// Result reports what happened to one envelope.
type Result struct {
	Decision    Decision
	ForwardedTo []types.NodeID
}

// Processor runs the inbound pipeline: sanity check, staleness and dedup
// gates, routing decision, payload application, seen marking and forward
// fan-out.
type Processor struct {
	cfg       ProcessorConfig
	router    *Router
	peers     *Registry
	store     storage.Storage
	forwarder Forwarder
	metrics   *Metrics
	logger    *zap.Logger
	hello     protocol.HelloPayload
	now       func() time.Time
}

func NewProcessor(cfg ProcessorConfig, peers *Registry, store storage.Storage, forwarder Forwarder, metrics *Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics()
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = protocol.DefaultTTL
	}
	return &Processor{
		cfg:       cfg,
		router:    NewRouter(cfg.LocalID, cfg.MaxHopCount),
		peers:     peers,
		store:     store,
		forwarder: forwarder,
		metrics:   metrics,
		logger:    logger.With(zap.String("node_id", cfg.LocalID.String())),
		hello:     protocol.DefaultHello(cfg.NodeName),
		now:       time.Now,
	}
}

// Hello returns the HELLO payload this node advertises.
func (p *Processor) Hello() protocol.HelloPayload {
	return p.hello
}

// HandleEnvelope processes an envelope received from fromPeer, the
// neighbour that relayed it (empty when unknown). Rejections are reported
// in the Result, not as errors; an error means the envelope or its payload
// was invalid, and the message is left unmarked so a corrected copy can
// still be accepted.
func (p *Processor) HandleEnvelope(ctx context.Context, env *protocol.Envelope, fromPeer types.NodeID) (Result, error) {
	if err := env.Validate(); err != nil {
		p.metrics.ProcessingErrors.WithLabelValues(string(types.KindOf(err))).Inc()
		return Result{}, err
	}
	p.metrics.EnvelopesReceived.WithLabelValues(env.MessageType.String()).Inc()

	log := p.logger.With(
		zap.String("message_id", env.MessageID.String()),
		zap.String("message_type", env.MessageType.String()),
		zap.String("source_node_id", env.SourceNodeID.String()),
		zap.String("peer_id", fromPeer.String()))

	if p.cfg.DedupWindow > 0 && p.now().Sub(env.Timestamp) > p.cfg.DedupWindow {
		return p.reject(log, ReasonStaleMessage), nil
	}

	claimed, err := p.store.ClaimMessage(ctx, env.MessageID, env.Timestamp)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		p.metrics.Duplicates.Inc()
		return p.reject(log, ReasonDuplicate), nil
	}

	relay := fromPeer
	if relay == "" && env.HopCount == 0 {
		relay = env.SourceNodeID
	}
	if relay != "" {
		p.peers.RecordReceived(relay)
	}

	decision := p.router.Decide(env.MessageType, env.SourceNodeID, env.HopCount, env.TTL, p.peers.IDs())
	p.metrics.RoutingDecisions.WithLabelValues(decision.Outcome.String()).Inc()
	if decision.Outcome == Reject {
		p.release(ctx, env.MessageID, log)
		log.Debug("Rejected envelope", zap.String("reason", decision.Reason))
		return Result{Decision: decision}, nil
	}

	if err := p.apply(ctx, env, log); err != nil {
		p.release(ctx, env.MessageID, log)
		p.metrics.ProcessingErrors.WithLabelValues(string(types.KindOf(err))).Inc()
		log.Warn("Failed to apply payload", zap.Error(err))
		return Result{Decision: decision}, err
	}

	res := Result{Decision: decision}
	if decision.Outcome == AcceptAndForward {
		res.ForwardedTo = p.forward(env, decision.Targets, relay)
	}

	log.Debug("Processed envelope",
		zap.Stringer("decision", decision),
		zap.Int("forwarded", len(res.ForwardedTo)))
	return res, nil
}

// release gives up the claim on id when the message was not applied, so a
// later copy is processed afresh.
func (p *Processor) release(ctx context.Context, id types.MessageID, log *zap.Logger) {
	if err := p.store.ForgetMessage(ctx, id); err != nil {
		log.Error("Failed to release message claim", zap.Error(err))
	}
}

func (p *Processor) reject(log *zap.Logger, reason string) Result {
	d := Decision{Outcome: Reject, Reason: reason}
	p.metrics.RoutingDecisions.WithLabelValues(d.Outcome.String()).Inc()
	log.Debug("Rejected envelope", zap.String("reason", reason))
	return Result{Decision: d}
}

// forward sends the hop-incremented copy to every candidate except the
// relaying peer, subject to each target's policy. A relay whose
// forward_cdm policy is off stops CDMs here.
func (p *Processor) forward(env *protocol.Envelope, targets []types.NodeID, relay types.NodeID) []types.NodeID {
	fwd, ok := env.Forwarded()
	if !ok {
		return nil
	}

	if relay != "" && env.MessageType.IsCDM() {
		if rp, ok := p.peers.Get(relay); ok && !rp.Policies.ForwardCDM {
			return nil
		}
	}

	var sent []types.NodeID
	for _, id := range targets {
		if id == relay {
			continue
		}
		peer, ok := p.peers.Get(id)
		if !ok || !peer.Policies.Allows(env.MessageType) {
			continue
		}
		if p.forwarder.Enqueue(fwd, peer) {
			sent = append(sent, id)
		}
	}
	return sent
}

// Originate wraps a locally produced payload, marks it seen so echoes are
// dropped, and queues it for every connected peer whose policy allows it.
func (p *Processor) Originate(ctx context.Context, mt protocol.MessageType, payload interface{}) (*protocol.Envelope, []types.NodeID, error) {
	env, err := protocol.NewEnvelope(p.cfg.LocalID, mt, payload)
	if err != nil {
		return nil, nil, err
	}
	env.TTL = p.cfg.DefaultTTL

	if err := p.store.MarkMessageSeen(ctx, env.MessageID, env.Timestamp); err != nil {
		p.logger.Error("Failed to mark originated message seen",
			zap.String("message_id", env.MessageID.String()), zap.Error(err))
	}

	sent := []types.NodeID{}
	for _, peer := range p.peers.List() {
		if peer.Status != PeerConnected || !peer.Policies.Allows(mt) {
			continue
		}
		if p.forwarder.Enqueue(env, peer) {
			sent = append(sent, peer.ID)
		}
	}

	p.logger.Info("Originated message",
		zap.String("message_id", env.MessageID.String()),
		zap.String("message_type", mt.String()),
		zap.Int("peers", len(sent)))
	return env, sent, nil
}

// SessionEnvelope builds a point-to-point HELLO or HEARTBEAT. Its ttl is
// zero so receivers never forward it.
func (p *Processor) SessionEnvelope(mt protocol.MessageType, payload interface{}) (*protocol.Envelope, error) {
	env, err := protocol.NewEnvelope(p.cfg.LocalID, mt, payload)
	if err != nil {
		return nil, err
	}
	env.TTL = 0
	return env, nil
}

func (p *Processor) apply(ctx context.Context, env *protocol.Envelope, log *zap.Logger) error {
	switch env.MessageType {
	case protocol.Hello:
		return p.applyHello(env, log)

	case protocol.Heartbeat:
		var hb protocol.HeartbeatPayload
		if err := env.DecodePayload(&hb); err != nil {
			return err
		}
		if !p.peers.UpdateHeartbeat(env.SourceNodeID) {
			log.Debug("Heartbeat from unknown peer")
		}
		return nil

	case protocol.Error:
		var ep protocol.ErrorPayload
		if err := env.DecodePayload(&ep); err != nil {
			return err
		}
		log.Warn("Peer reported error",
			zap.String("error_code", string(ep.ErrorCode)),
			zap.String("error_message", ep.ErrorMessage),
			zap.String("related_message_id", ep.RelatedMessageID.String()))
		return nil

	case protocol.CdmAnnounce:
		rec, err := cdm.Parse(env.Payload)
		if err != nil {
			return err
		}
		if err := p.store.StoreCDM(ctx, rec); err != nil {
			return err
		}
		log.Info("Stored CDM", zap.String("cdm_id", rec.CdmID.String()))
		return nil

	case protocol.CdmWithdraw:
		var w protocol.CdmWithdrawPayload
		if err := env.DecodePayload(&w); err != nil {
			return err
		}
		if w.CdmID == "" {
			return types.Validation("cdm_id is required")
		}
		err := p.store.WithdrawCDM(ctx, w.CdmID)
		if types.IsNotFound(err) {
			log.Info("Withdraw for unknown CDM", zap.String("cdm_id", w.CdmID.String()))
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("Withdrew CDM", zap.String("cdm_id", w.CdmID.String()), zap.String("reason", string(w.Reason)))
		return nil

	case protocol.ObjectStateAnnounce:
		var a protocol.ObjectStateAnnouncePayload
		if err := env.DecodePayload(&a); err != nil {
			return err
		}
		rec := a.Record(env.SourceNodeID, p.now().UTC())
		if err := cdm.ValidateObjectRecord(rec); err != nil {
			return err
		}
		return p.store.StoreObject(ctx, rec)

	case protocol.ObjectStateWithdraw:
		var w protocol.ObjectStateWithdrawPayload
		if err := env.DecodePayload(&w); err != nil {
			return err
		}
		if w.ObjectID == "" {
			return types.Validation("object_id is required")
		}
		err := p.store.WithdrawObject(ctx, w.ObjectID)
		if types.IsNotFound(err) {
			log.Info("Withdraw for unknown object", zap.String("object_id", string(w.ObjectID)))
			return nil
		}
		return err

	case protocol.ManeuverIntent:
		var m protocol.ManeuverIntentPayload
		if err := env.DecodePayload(&m); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return err
		}
		log.Info("Maneuver intent",
			zap.String("maneuver_id", m.ManeuverID),
			zap.String("object_id", string(m.ObjectID)),
			zap.String("maneuver_type", string(m.ManeuverType)),
			zap.Time("planned_start", m.PlannedStart))
		return nil

	case protocol.ManeuverStatus:
		var m protocol.ManeuverStatusPayload
		if err := env.DecodePayload(&m); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return err
		}
		log.Info("Maneuver status",
			zap.String("maneuver_id", m.ManeuverID),
			zap.String("status", string(m.Status)))
		return nil
	}
	return types.Errorf(types.KindProtocol, "unhandled message type %s", env.MessageType)
}

func (p *Processor) applyHello(env *protocol.Envelope, log *zap.Logger) error {
	var remote protocol.HelloPayload
	if err := env.DecodePayload(&remote); err != nil {
		return err
	}

	n := protocol.NegotiateHello(&p.hello, &remote)
	if !n.Compatible {
		return &protocol.RejectionError{
			Payload: protocol.ErrorPayload{
				ErrorCode:        protocol.ErrUnsupportedVersion,
				ErrorMessage:     n.Reason,
				RelatedMessageID: env.MessageID,
			},
			Err: types.Errorf(types.KindProtocol, "version negotiation with %s failed: %s", env.SourceNodeID, n.Reason),
		}
	}

	if !p.peers.UpdateHeartbeat(env.SourceNodeID) {
		log.Info("HELLO from unconfigured node", zap.String("node_name", remote.NodeName))
		return nil
	}
	log.Info("Peer session established",
		zap.String("node_name", remote.NodeName),
		zap.String("negotiated_version", n.Version))
	return nil
}
