package federation

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"
)

// HTTPTransport posts envelopes as JSON to {address}/envelopes.
type HTTPTransport struct {
	client  *http.Client
	localID types.NodeID
}

// NewHTTPTransport builds a transport with the given per-request timeout.
// A nil client gets a fresh http.Client.
func NewHTTPTransport(localID types.NodeID, client *http.Client, timeout time.Duration) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPTransport{client: client, localID: localID}
}

func (t *HTTPTransport) Send(ctx context.Context, peer PeerInfo, env *protocol.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}

	addr, err := ParseAddress(peer.Address)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr.EnvelopeURL(), bytes.NewReader(body))
	if err != nil {
		return types.Wrap(types.KindPeer, err, "build request for %s", peer.ID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(PeerHeader, string(t.localID))
	if peer.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+peer.AuthToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return types.Wrap(types.KindIO, err, "deliver to %s", peer.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
