// Package node assembles a running SpaceComms node from its configuration:
// storage, peer registry, gossip processor, delivery workers, liveness
// loops and the HTTP and gRPC listeners.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"spacecomms/pkg/api"
	"spacecomms/pkg/config"
	"spacecomms/pkg/federation"
	"spacecomms/pkg/storage"
	"spacecomms/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

// Options carry the process-level settings that are not part of the
// config file.
type Options struct {
	// ConfigPath enables hot reload of the peer list when set.
	ConfigPath string
	// Level, when set, follows logging.level across reloads.
	Level *zap.AtomicLevel
}

type Node struct {
	cfg    *config.Config
	opts   Options
	logger *zap.Logger

	registry    *prometheus.Registry
	store       storage.Storage
	peers       *federation.Registry
	transport   *federation.MultiTransport
	dispatcher  *federation.Dispatcher
	processor   *federation.Processor
	sweeper     *federation.Sweeper
	heartbeater *federation.Heartbeater
	api         *api.Server

	httpServer *http.Server
	grpcServer *grpc.Server

	// configPeers holds the ids that came from the config file, so a
	// reload only removes peers it added.
	configPeers map[types.NodeID]bool
}

// New builds every component. Nothing is started until Run or Serve.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	maxBody, err := cfg.MaxBodyBytes()
	if err != nil {
		return nil, err
	}

	localID := types.NodeID(cfg.Node.ID)
	logger = logger.With(zap.String("node_id", cfg.Node.ID))

	store, err := storage.New(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := federation.NewMetrics(registry)

	n := &Node{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		registry:    registry,
		store:       store,
		peers:       federation.NewRegistry(),
		configPeers: make(map[types.NodeID]bool),
	}
	for _, pc := range cfg.Peers {
		n.peers.Add(pc.PeerInfo())
		n.configPeers[types.NodeID(pc.ID)] = true
	}

	timeout := cfg.Dispatch.RequestTimeout()
	n.transport = &federation.MultiTransport{
		HTTP: federation.NewHTTPTransport(localID, nil, timeout),
		GRPC: federation.NewGRPCTransport(localID, timeout, logger),
	}
	n.dispatcher = federation.NewDispatcher(cfg.Dispatch.Dispatcher(), n.transport, n.peers, metrics, logger)

	name := cfg.Node.Name
	if name == "" {
		name = cfg.Node.ID
	}
	n.processor = federation.NewProcessor(federation.ProcessorConfig{
		LocalID:     localID,
		NodeName:    name,
		MaxHopCount: cfg.Protocol.MaxHopCount,
		DefaultTTL:  cfg.Protocol.DefaultTTL,
		DedupWindow: cfg.Protocol.DedupWindow(),
	}, n.peers, store, n.dispatcher, metrics, logger)

	n.sweeper = federation.NewSweeper(n.peers, store, metrics, logger,
		cfg.Protocol.SweepInterval(), cfg.Protocol.SessionTimeout(), cfg.Protocol.DedupWindow())
	n.heartbeater = federation.NewHeartbeater(n.processor, n.peers, store, n.dispatcher, logger,
		cfg.Protocol.HeartbeatInterval(), timeout)

	tokens := make([]api.Token, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, api.Token{ID: t.ID, Secret: t.Secret, Permissions: t.Permissions})
	}
	n.api = api.NewServer(api.Options{
		NodeID:       localID,
		Version:      Version,
		MaxBodyBytes: maxBody,
		AuthEnabled:  cfg.API.Auth.Enabled,
		Tokens:       tokens,
		OnPeerAdded:  n.greet,
	}, store, n.peers, n.processor, registry, logger)

	n.httpServer = &http.Server{
		Handler:           n.api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.GRPCListenAddr() != "" {
		n.grpcServer = grpc.NewServer()
		federation.RegisterGossipServer(n.grpcServer, federation.NewGRPCServer(n.processor, logger))
	}

	return n, nil
}

func (n *Node) Peers() *federation.Registry { return n.peers }

func (n *Node) Store() storage.Storage { return n.store }

// Handler is the HTTP API, for embedding in tests.
func (n *Node) Handler() http.Handler { return n.httpServer.Handler }

// Run binds the configured listeners and serves until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", n.cfg.ListenAddr())
	if err != nil {
		return types.Wrap(types.KindIO, err, "listen on %s", n.cfg.ListenAddr())
	}

	var grpcLn net.Listener
	if n.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", n.cfg.GRPCListenAddr())
		if err != nil {
			httpLn.Close()
			return types.Wrap(types.KindIO, err, "listen on %s", n.cfg.GRPCListenAddr())
		}
	}
	return n.Serve(ctx, httpLn, grpcLn)
}

// Serve runs the node on already bound listeners. grpcLn may be nil.
// Serve returns after every component has stopped; the first component
// error cancels the rest.
func (n *Node) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	n.logger.Info("Node starting",
		zap.String("http_address", httpLn.Addr().String()),
		zap.Int("peers", n.peers.TotalCount()),
		zap.String("storage", n.cfg.Storage.Type),
		zap.String("version", Version))

	g.Go(func() error { return n.dispatcher.Run(ctx) })
	g.Go(func() error { return n.sweeper.Run(ctx) })
	g.Go(func() error { return n.heartbeater.Run(ctx) })

	g.Go(func() error {
		if err := n.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return types.Wrap(types.KindIO, err, "http server")
		}
		return nil
	})

	if n.grpcServer != nil && grpcLn != nil {
		n.logger.Info("Gossip gRPC listener enabled", zap.String("grpc_address", grpcLn.Addr().String()))
		g.Go(func() error {
			if err := n.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return types.Wrap(types.KindIO, err, "grpc server")
			}
			return nil
		})
	}

	if n.opts.ConfigPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, n.opts.ConfigPath, n.logger, n.Reload)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		n.logger.Info("Node shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if n.grpcServer != nil {
			n.grpcServer.GracefulStop()
		}
		if err := n.httpServer.Shutdown(sctx); err != nil {
			n.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	if cerr := n.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close releases the transport connections and the store.
func (n *Node) Close() error {
	n.transport.Close()
	return n.store.Close()
}

// Reload applies a changed config. Only the peer list and the log level
// are hot-reloadable; every other change needs a restart.
func (n *Node) Reload(cfg *config.Config) {
	if n.opts.Level != nil {
		if err := n.opts.Level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			n.logger.Warn("Ignoring invalid log level", zap.String("level", cfg.Logging.Level))
		}
	}
	if cfg.Node.ID != n.cfg.Node.ID {
		n.logger.Warn("node.id changed in config; restart to apply",
			zap.String("new_node_id", cfg.Node.ID))
	}

	want := make(map[types.NodeID]bool, len(cfg.Peers))
	var added []federation.PeerInfo
	for _, pc := range cfg.Peers {
		info := pc.PeerInfo()
		want[info.ID] = true

		updated := n.peers.Update(info.ID, func(p *federation.PeerInfo) {
			p.Address = info.Address
			p.AuthToken = info.AuthToken
			p.Policies = info.Policies
		})
		if !updated {
			added = append(added, n.peers.Add(info))
		}
		n.configPeers[info.ID] = true
	}

	for id := range n.configPeers {
		if want[id] {
			continue
		}
		delete(n.configPeers, id)
		if n.peers.Remove(id) {
			n.logger.Info("Peer removed by config reload", zap.String("peer_id", id.String()))
		}
	}

	for _, p := range added {
		n.logger.Info("Peer added by config reload", zap.String("peer_id", p.ID.String()), zap.String("address", p.Address))
		n.greet(p)
	}
}

// greet sends HELLO to a newly added peer without blocking the caller.
func (n *Node) greet(peer federation.PeerInfo) {
	go n.heartbeater.Greet(context.Background(), peer)
}
