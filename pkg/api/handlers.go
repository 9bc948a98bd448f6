package api

import (
	"errors"
	"net/http"
	"time"

	"spacecomms/pkg/cdm"
	"spacecomms/pkg/federation"
	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PeerStats struct {
	Connected int `json:"connected"`
	Total     int `json:"total"`
}

type HealthResponse struct {
	Status         string    `json:"status"`
	NodeID         string    `json:"node_id"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	Peers          PeerStats `json:"peers"`
	ObjectsTracked int       `json:"objects_tracked"`
	CdmsActive     int       `json:"cdms_active"`
	Version        string    `json:"version"`
}

type CdmIngestResponse struct {
	CdmID        types.CdmID    `json:"cdm_id"`
	Status       string         `json:"status"`
	PropagatedTo []types.NodeID `json:"propagated_to"`
}

type CdmSummary struct {
	CdmID                types.CdmID    `json:"cdm_id"`
	TCA                  time.Time      `json:"tca"`
	MissDistanceM        float64        `json:"miss_distance_m"`
	CollisionProbability float64        `json:"collision_probability"`
	Object1ID            types.ObjectID `json:"object1_id"`
	Object2ID            types.ObjectID `json:"object2_id"`
}

type CdmListResponse struct {
	Cdms  []CdmSummary `json:"cdms"`
	Total int          `json:"total"`
}

type WithdrawCdmRequest struct {
	Reason       protocol.CdmWithdrawReason `json:"reason"`
	SupersededBy types.CdmID                `json:"superseded_by,omitempty"`
}

type WithdrawResponse struct {
	CdmID        types.CdmID    `json:"cdm_id,omitempty"`
	ObjectID     types.ObjectID `json:"object_id,omitempty"`
	Status       string         `json:"status"`
	Reason       string         `json:"reason"`
	PropagatedTo []types.NodeID `json:"propagated_to"`
}

type ObjectSummary struct {
	ObjectID    types.ObjectID `json:"object_id"`
	ObjectName  string         `json:"object_name"`
	ObjectType  cdm.ObjectType `json:"object_type"`
	SourceNode  types.NodeID   `json:"source_node,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

type ObjectListResponse struct {
	Objects []ObjectSummary `json:"objects"`
	Total   int             `json:"total"`
}

type ObjectAnnounceResponse struct {
	ObjectID     types.ObjectID `json:"object_id"`
	Status       string         `json:"status"`
	PropagatedTo []types.NodeID `json:"propagated_to"`
}

type WithdrawObjectRequest struct {
	Reason protocol.ObjectWithdrawReason `json:"reason"`
}

type PeerListResponse struct {
	Peers []federation.PeerInfo `json:"peers"`
	Total int                   `json:"total"`
}

type AddPeerRequest struct {
	PeerID    types.NodeID         `json:"peer_id"`
	Address   string               `json:"address"`
	AuthToken string               `json:"auth_token,omitempty"`
	Policies  *federation.Policies `json:"policies,omitempty"`
}

type PeerResponse struct {
	PeerID types.NodeID `json:"peer_id"`
	Status string       `json:"status"`
}

type ManeuverRequest struct {
	ObjectID                   types.ObjectID        `json:"object_id"`
	RelatedCdmID               types.CdmID           `json:"related_cdm_id,omitempty"`
	PlannedStart               time.Time             `json:"planned_start"`
	PlannedDurationS           float64               `json:"planned_duration_s"`
	ManeuverType               protocol.ManeuverType `json:"maneuver_type"`
	DeltaV                     *protocol.DeltaV      `json:"delta_v,omitempty"`
	PredictedPostManeuverState *cdm.StateVector      `json:"predicted_post_maneuver_state,omitempty"`
}

type ManeuverResponse struct {
	ManeuverID   string         `json:"maneuver_id"`
	Status       string         `json:"status"`
	PropagatedTo []types.NodeID `json:"propagated_to"`
}

type EnvelopeResponse struct {
	MessageID   types.MessageID `json:"message_id"`
	Decision    string          `json:"decision"`
	Reason      string          `json:"reason,omitempty"`
	ForwardedTo []types.NodeID  `json:"forwarded_to"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{
		Status:        "healthy",
		NodeID:        s.opts.NodeID.String(),
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		Peers: PeerStats{
			Connected: s.peers.ConnectedCount(),
			Total:     s.peers.TotalCount(),
		},
		Version: s.opts.Version,
	}
	if n, err := s.store.ObjectCount(ctx); err == nil {
		resp.ObjectsTracked = n
	}
	if n, err := s.store.CdmCount(ctx); err == nil {
		resp.CdmsActive = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.CdmCount(r.Context()); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "message": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) ingestCDM(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := cdm.Parse(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.store.StoreCDM(ctx, rec); err != nil {
		s.writeError(w, r, err)
		return
	}

	_, sent, err := s.gossip.Originate(ctx, protocol.CdmAnnounce, rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("CDM received",
		zap.String("cdm_id", rec.CdmID.String()),
		zap.Time("tca", rec.TCA),
		zap.Float64("miss_distance_m", rec.MissDistanceM),
		zap.Float64("collision_probability", rec.CollisionProbability),
		zap.Int("propagated_to", len(sent)))

	writeJSON(w, http.StatusCreated, CdmIngestResponse{
		CdmID:        rec.CdmID,
		Status:       "accepted",
		PropagatedTo: sent,
	})
}

func (s *Server) listCDMs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListCDMs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]CdmSummary, 0, len(recs))
	for _, c := range recs {
		out = append(out, CdmSummary{
			CdmID:                c.CdmID,
			TCA:                  c.TCA,
			MissDistanceM:        c.MissDistanceM,
			CollisionProbability: c.CollisionProbability,
			Object1ID:            c.Object1.ObjectID,
			Object2ID:            c.Object2.ObjectID,
		})
	}
	writeJSON(w, http.StatusOK, CdmListResponse{Cdms: out, Total: len(out)})
}

func (s *Server) getCDM(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetCDM(r.Context(), types.CdmID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) withdrawCDM(w http.ResponseWriter, r *http.Request) {
	id := types.CdmID(chi.URLParam(r, "id"))
	req := WithdrawCdmRequest{Reason: protocol.CdmSuperseded}
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.store.WithdrawCDM(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}

	_, sent, err := s.gossip.Originate(ctx, protocol.CdmWithdraw, protocol.CdmWithdrawPayload{
		CdmID:         id,
		Reason:        req.Reason,
		SupersededBy:  req.SupersededBy,
		EffectiveTime: s.now().UTC(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("CDM withdrawn", zap.String("cdm_id", id.String()), zap.String("reason", string(req.Reason)))
	writeJSON(w, http.StatusOK, WithdrawResponse{
		CdmID:        id,
		Status:       "withdrawn",
		Reason:       string(req.Reason),
		PropagatedTo: sent,
	})
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	objs, err := s.store.ListObjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ObjectSummary, 0, len(objs))
	for _, o := range objs {
		out = append(out, ObjectSummary{
			ObjectID:    o.ObjectID,
			ObjectName:  o.ObjectName,
			ObjectType:  o.ObjectType,
			SourceNode:  o.SourceNode,
			LastUpdated: o.LastUpdated,
		})
	}
	writeJSON(w, http.StatusOK, ObjectListResponse{Objects: out, Total: len(out)})
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	obj, err := s.store.GetObject(r.Context(), types.ObjectID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (s *Server) announceObject(w http.ResponseWriter, r *http.Request) {
	var p protocol.ObjectStateAnnouncePayload
	if err := decodeJSON(r, &p, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec := p.Record(s.opts.NodeID, s.now().UTC())
	if err := cdm.ValidateObjectRecord(rec); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.store.StoreObject(ctx, rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	_, sent, err := s.gossip.Originate(ctx, protocol.ObjectStateAnnounce, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Object state announced", zap.String("object_id", string(p.ObjectID)), zap.Int("propagated_to", len(sent)))
	writeJSON(w, http.StatusCreated, ObjectAnnounceResponse{
		ObjectID:     p.ObjectID,
		Status:       "accepted",
		PropagatedTo: sent,
	})
}

func (s *Server) withdrawObject(w http.ResponseWriter, r *http.Request) {
	id := types.ObjectID(chi.URLParam(r, "id"))
	req := WithdrawObjectRequest{Reason: protocol.ObjectSuperseded}
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.store.WithdrawObject(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	_, sent, err := s.gossip.Originate(ctx, protocol.ObjectStateWithdraw, protocol.ObjectStateWithdrawPayload{
		ObjectID:      id,
		Reason:        req.Reason,
		EffectiveTime: s.now().UTC(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, WithdrawResponse{
		ObjectID:     id,
		Status:       "withdrawn",
		Reason:       string(req.Reason),
		PropagatedTo: sent,
	})
}

func (s *Server) listPeers(w http.ResponseWriter, r *http.Request) {
	peers := s.peers.List()
	writeJSON(w, http.StatusOK, PeerListResponse{Peers: peers, Total: len(peers)})
}

func (s *Server) addPeer(w http.ResponseWriter, r *http.Request) {
	var req AddPeerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.PeerID == "" {
		s.writeError(w, r, types.Validation("peer_id is required"))
		return
	}
	if req.PeerID == s.opts.NodeID {
		s.writeError(w, r, types.Validation("peer_id %q is this node", req.PeerID))
		return
	}
	if _, err := federation.ParseAddress(req.Address); err != nil {
		s.writeError(w, r, types.Wrap(types.KindValidation, err, "invalid address"))
		return
	}

	policies := federation.DefaultPolicies()
	if req.Policies != nil {
		policies = *req.Policies
	}

	peer := s.peers.Add(federation.PeerInfo{
		ID:        req.PeerID,
		Address:   req.Address,
		AuthToken: req.AuthToken,
		Policies:  policies,
	})
	if peer.Status != federation.PeerConnected {
		s.peers.SetStatus(peer.ID, federation.PeerConnecting)
		peer.Status = federation.PeerConnecting
	}

	s.logger.Info("Peer added", zap.String("peer_id", peer.ID.String()), zap.String("address", peer.Address))
	if s.opts.OnPeerAdded != nil {
		s.opts.OnPeerAdded(peer)
	}

	writeJSON(w, http.StatusCreated, PeerResponse{PeerID: peer.ID, Status: string(peer.Status)})
}

func (s *Server) removePeer(w http.ResponseWriter, r *http.Request) {
	id := types.NodeID(chi.URLParam(r, "id"))
	if !s.peers.Remove(id) {
		s.writeError(w, r, types.NotFound("peer not found: %s", id))
		return
	}
	s.logger.Info("Peer removed", zap.String("peer_id", id.String()))
	writeJSON(w, http.StatusOK, PeerResponse{PeerID: id, Status: "removed"})
}

func (s *Server) announceManeuver(w http.ResponseWriter, r *http.Request) {
	var req ManeuverRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ManeuverType == "" {
		s.writeError(w, r, types.Validation("maneuver_type is required"))
		return
	}

	intent := protocol.ManeuverIntentPayload{
		ManeuverID:                 types.NewDatedID("MNVR", s.now()),
		ObjectID:                   req.ObjectID,
		RelatedCdmID:               req.RelatedCdmID,
		PlannedStart:               req.PlannedStart,
		PlannedDurationS:           req.PlannedDurationS,
		ManeuverType:               req.ManeuverType,
		DeltaV:                     req.DeltaV,
		PredictedPostManeuverState: req.PredictedPostManeuverState,
	}
	if err := intent.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	_, sent, err := s.gossip.Originate(r.Context(), protocol.ManeuverIntent, intent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Maneuver intent announced",
		zap.String("maneuver_id", intent.ManeuverID),
		zap.String("object_id", string(intent.ObjectID)),
		zap.Time("planned_start", intent.PlannedStart),
		zap.String("maneuver_type", string(intent.ManeuverType)))

	writeJSON(w, http.StatusCreated, ManeuverResponse{
		ManeuverID:   intent.ManeuverID,
		Status:       "announced",
		PropagatedTo: sent,
	})
}

// receiveEnvelope is peer ingress. Failures are answered with an ERROR
// payload so the sending node can log the rejection.
func (s *Server) receiveEnvelope(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := protocol.DecodeEnvelope(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorPayload{
			ErrorCode:    protocol.ErrInvalidMessage,
			ErrorMessage: err.Error(),
		})
		return
	}

	from := types.NodeID(r.Header.Get(federation.PeerHeader))
	res, err := s.gossip.HandleEnvelope(r.Context(), env, from)
	if err != nil {
		var rej *protocol.RejectionError
		switch {
		case errors.As(err, &rej):
			writeJSON(w, http.StatusBadRequest, rej.Payload)
		case types.IsClientError(err):
			writeJSON(w, http.StatusBadRequest, protocol.ErrorPayload{
				ErrorCode:        protocol.ErrInvalidMessage,
				ErrorMessage:     err.Error(),
				RelatedMessageID: env.MessageID,
			})
		default:
			s.logger.Error("Envelope processing failed",
				zap.String("message_id", env.MessageID.String()),
				zap.String("peer_id", from.String()),
				zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, protocol.ErrorPayload{
				ErrorCode:        protocol.ErrInternal,
				ErrorMessage:     "internal error",
				RelatedMessageID: env.MessageID,
			})
		}
		return
	}

	forwarded := res.ForwardedTo
	if forwarded == nil {
		forwarded = []types.NodeID{}
	}
	writeJSON(w, http.StatusOK, EnvelopeResponse{
		MessageID:   env.MessageID,
		Decision:    res.Decision.Outcome.String(),
		Reason:      res.Decision.Reason,
		ForwardedTo: forwarded,
	})
}
