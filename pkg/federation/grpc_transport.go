package federation

import (
	"context"
	"sync"
	"time"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	gossipServiceName = "spacecomms.v1.Gossip"
	deliverMethod     = "/" + gossipServiceName + "/Deliver"
	peerMetadataKey   = "x-spacecomms-peer"
)

// GossipServer receives envelopes over gRPC. The request carries the
// envelope JSON; the response carries the routing decision.
type GossipServer interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
}

var gossipServiceDesc = grpc.ServiceDesc{
	ServiceName: gossipServiceName,
	HandlerType: (*GossipServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spacecomms/v1/gossip.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GossipServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GossipServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterGossipServer attaches srv to a gRPC server.
func RegisterGossipServer(s grpc.ServiceRegistrar, srv GossipServer) {
	s.RegisterService(&gossipServiceDesc, srv)
}

// EnvelopeHandler is implemented by Processor.
type EnvelopeHandler interface {
	HandleEnvelope(ctx context.Context, env *protocol.Envelope, fromPeer types.NodeID) (Result, error)
}

// GRPCServer adapts an EnvelopeHandler to the Gossip service.
type GRPCServer struct {
	handler EnvelopeHandler
	logger  *zap.Logger
}

func NewGRPCServer(handler EnvelopeHandler, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{handler: handler, logger: logger}
}

func (s *GRPCServer) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	env, err := protocol.DecodeEnvelope(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	var from types.NodeID
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(peerMetadataKey); len(vals) > 0 {
			from = types.NodeID(vals[0])
		}
	}

	res, err := s.handler.HandleEnvelope(ctx, env, from)
	if err != nil {
		s.logger.Debug("gRPC delivery failed",
			zap.String("message_id", env.MessageID.String()),
			zap.String("peer_id", from.String()),
			zap.Error(err))
		return nil, toStatus(err)
	}
	return wrapperspb.String(res.Decision.String()), nil
}

func toStatus(err error) error {
	switch types.KindOf(err) {
	case types.KindParse, types.KindValidation, types.KindProtocol:
		return status.Error(codes.InvalidArgument, err.Error())
	case types.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// GRPCTransport delivers envelopes to grpc:// peers over pooled client
// connections, one per address.
type GRPCTransport struct {
	mu       sync.Mutex
	conns    map[string]*grpc.ClientConn
	localID  types.NodeID
	timeout  time.Duration
	dialOpts []grpc.DialOption
	logger   *zap.Logger
}

// NewGRPCTransport creates the transport. Extra dial options are appended
// after the default insecure credentials.
func NewGRPCTransport(localID types.NodeID, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) *GRPCTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return &GRPCTransport{
		conns:    make(map[string]*grpc.ClientConn),
		localID:  localID,
		timeout:  timeout,
		dialOpts: dialOpts,
		logger:   logger,
	}
}

func (t *GRPCTransport) Send(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}

	conn, err := t.connection(peer.Address)
	if err != nil {
		return err
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, peerMetadataKey, string(t.localID))
	if peer.AuthToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+peer.AuthToken)
	}

	out := new(wrapperspb.StringValue)
	return conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(body), out)
}

func (t *GRPCTransport) connection(address string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[address]; ok {
		return conn, nil
	}

	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient("passthrough:///"+addr.Host, t.dialOpts...)
	if err != nil {
		return nil, types.Wrap(types.KindPeer, err, "dial %s", address)
	}
	t.conns[address] = conn
	t.logger.Debug("Opened gRPC connection to peer", zap.String("address", address))
	return conn, nil
}

// Close closes every pooled connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for addr, conn := range t.conns {
		conn.Close()
		delete(t.conns, addr)
	}
	return nil
}
