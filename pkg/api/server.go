// Package api is the node's HTTP boundary: operator endpoints for CDMs,
// objects, peers and maneuvers, peer ingress for envelopes, health and
// metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"spacecomms/pkg/federation"
	"spacecomms/pkg/protocol"
	"spacecomms/pkg/storage"
	"spacecomms/pkg/types"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Gossip is the part of the federation processor the API drives.
type Gossip interface {
	HandleEnvelope(ctx context.Context, env *protocol.Envelope, fromPeer types.NodeID) (federation.Result, error)
	Originate(ctx context.Context, mt protocol.MessageType, payload interface{}) (*protocol.Envelope, []types.NodeID, error)
}

// Token is a bearer token accepted when auth is enabled.
type Token struct {
	ID          string
	Secret      string
	Permissions []string
}

type Options struct {
	NodeID       types.NodeID
	Version      string
	MaxBodyBytes int64
	AuthEnabled  bool
	Tokens       []Token
	// OnPeerAdded runs after POST /peers registers a peer.
	OnPeerAdded func(federation.PeerInfo)
}

type Server struct {
	opts     Options
	store    storage.Storage
	peers    *federation.Registry
	gossip   Gossip
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *zap.Logger
	started  time.Time
	now      func() time.Time
}

// NewServer wires the handlers. HTTP metrics are registered on registry,
// which is also what /metrics serves.
func NewServer(opts Options, store storage.Storage, peers *federation.Registry, gossip Gossip, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Server{
		opts:     opts,
		store:    store,
		peers:    peers,
		gossip:   gossip,
		registry: registry,
		metrics:  NewMetrics(registry),
		logger:   logger,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.metrics.Middleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(AccessLog(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(MaxBodySize(s.opts.MaxBodyBytes))

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/health", s.health)
	r.Get("/health/live", s.live)
	r.Get("/health/ready", s.ready)

	auth := newAuthenticator(s.opts.AuthEnabled, s.opts.Tokens)

	r.Group(func(r chi.Router) {
		r.Use(auth.require(permRead))

		r.Get("/cdms", s.listCDMs)
		r.Get("/cdms/{id}", s.getCDM)
		r.Get("/objects", s.listObjects)
		r.Get("/objects/{id}", s.getObject)
		r.Get("/peers", s.listPeers)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.require(permWrite))

		r.Post("/cdm", s.ingestCDM)
		r.Delete("/cdms/{id}", s.withdrawCDM)
		r.Post("/objects", s.announceObject)
		r.Delete("/objects/{id}", s.withdrawObject)
		r.Post("/peers", s.addPeer)
		r.Delete("/peers/{id}", s.removePeer)
		r.Post("/maneuvers", s.announceManeuver)
		r.Post("/envelopes", s.receiveEnvelope)
	})

	return r
}
