package federation

import (
	"fmt"
	"net/url"
	"strings"

	"spacecomms/pkg/types"
)

// PeerAddress is a parsed peer endpoint.
// Examples:
//   - http://beta.example:8080 (JSON over HTTP)
//   - https://gamma.example (JSON over HTTPS)
//   - grpc://delta.example:9091 (Gossip gRPC service)
type PeerAddress struct {
	Scheme string // http, https or grpc
	Host   string // host[:port]
	Path   string // optional base path, HTTP only
}

// ParseAddress parses a peer address string into its components.
func ParseAddress(addr string) (PeerAddress, error) {
	if addr == "" {
		return PeerAddress{}, types.Errorf(types.KindPeer, "peer address cannot be empty")
	}

	u, err := url.Parse(addr)
	if err != nil {
		return PeerAddress{}, types.Wrap(types.KindPeer, err, "invalid peer address %q", addr)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "grpc":
	case "":
		return PeerAddress{}, types.Errorf(types.KindPeer, "peer address %q must be scheme://host:port", addr)
	default:
		return PeerAddress{}, types.Errorf(types.KindPeer, "peer address %q: unsupported scheme %q (expected http, https or grpc)", addr, u.Scheme)
	}
	if u.Host == "" {
		return PeerAddress{}, types.Errorf(types.KindPeer, "peer address %q has no host", addr)
	}

	pa := PeerAddress{Scheme: scheme, Host: u.Host}
	if scheme != "grpc" {
		pa.Path = strings.TrimRight(u.Path, "/")
	}
	return pa, nil
}

// String returns the canonical form of the address.
func (a PeerAddress) String() string {
	return fmt.Sprintf("%s://%s%s", a.Scheme, a.Host, a.Path)
}

// IsGRPC reports whether the peer speaks the gRPC transport.
func (a PeerAddress) IsGRPC() bool {
	return a.Scheme == "grpc"
}

// EnvelopeURL is where HTTP peers accept envelopes.
func (a PeerAddress) EnvelopeURL() string {
	return a.String() + "/envelopes"
}
