package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PeerHeader carries the sending node's id on HTTP deliveries; the same
// key is used as gRPC metadata.
const PeerHeader = "X-SpaceComms-Peer"

// Transport delivers one envelope to one peer.
type Transport interface {
	Send(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error
}

// MultiTransport picks HTTP or gRPC from the scheme of the peer address.
type MultiTransport struct {
	HTTP *HTTPTransport
	GRPC *GRPCTransport
}

func (m *MultiTransport) Send(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error {
	addr, err := ParseAddress(peer.Address)
	if err != nil {
		return err
	}

	switch {
	case addr.IsGRPC() && m.GRPC != nil:
		return m.GRPC.Send(ctx, peer, env)
	case !addr.IsGRPC() && m.HTTP != nil:
		return m.HTTP.Send(ctx, peer, env)
	}
	return types.Errorf(types.KindPeer, "no transport for %s address %q", addr.Scheme, peer.Address)
}

// Close releases pooled connections.
func (m *MultiTransport) Close() error {
	if m.GRPC != nil {
		return m.GRPC.Close()
	}
	return nil
}

// StatusError is a non-2xx answer from an HTTP peer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer responded %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// isRetryableError decides whether a failed delivery is worth another
// attempt.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if types.IsKind(err, types.KindPeer) || types.IsClientError(err) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooManyRequests:
			return true
		case se.Code >= 400 && se.Code < 500:
			return false
		}
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		// transport-level failures (refused, reset, timeout)
		return true
	}
	switch st.Code() {
	case codes.Unavailable,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.Unknown:
		return true
	default:
		return false
	}
}
